package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear the conversation",
		Long:  "Start a new session: the conversation is cleared, stored memories are kept.",
		Run:   runReset,
	}

	RootCmd.AddCommand(cmd)
}

func runReset(cmd *cobra.Command, args []string) {
	a := mustOpenApp(cmd.Context())
	defer a.Close()

	turns := len(a.engine.Conversation())
	if err := a.engine.Reset(cmd.Context()); err != nil {
		exitErr("reset", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"cleared_turns":%d}`+"\n", turns)
}
