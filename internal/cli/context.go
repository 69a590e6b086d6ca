package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context [input]",
		Short: "Assemble the prompt context for an input",
		Long:  "Retrieve memories for the input and pack them with the conversation into the mode's token ceiling.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runContext,
	}

	cmd.Flags().Bool("block", false, "Print only the rendered context block")

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) {
	blockOnly, _ := cmd.Flags().GetBool("block")
	input := strings.Join(args, " ")

	a := mustOpenApp(cmd.Context())
	defer a.Close()

	p := a.engine.Prepare(cmd.Context(), input, a.mode)
	if blockOnly {
		fmt.Fprintln(cmd.OutOrStdout(), p.Result.Block)
		return
	}

	printJSON(cmd, map[string]any{
		"seq":         p.Seq,
		"mode":        p.Mode,
		"ceiling":     p.Result.Ceiling,
		"used":        p.Result.Used,
		"memory_used": p.Result.MemoryUsed,
		"skipped":     p.Skipped,
		"memories":    scoredViews(p.Memories),
		"included":    p.Result.Included,
		"dropped":     p.Result.Dropped,
		"block":       p.Result.Block,
	})
}
