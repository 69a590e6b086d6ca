package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recall [query]",
		Short: "Find memories similar to a query",
		Long:  "Embed the query, search the memory index and re-rank hits by recency, pins, interactions and mode.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runRecall,
	}

	RootCmd.AddCommand(cmd)
}

func runRecall(cmd *cobra.Command, args []string) {
	query := strings.Join(args, " ")

	a := mustOpenApp(cmd.Context())
	defer a.Close()

	results := a.engine.Recall(cmd.Context(), query, a.mode)
	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "[]")
		return
	}
	printJSON(cmd, scoredViews(results))
}
