package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Show a memory or conversation turn",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	a := mustOpenApp(cmd.Context())
	defer a.Close()

	rec, err := a.engine.Get(args[0])
	if err != nil {
		exitErr("get", err)
	}
	printJSON(cmd, recordView(rec))
}
