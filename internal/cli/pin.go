package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	pin := &cobra.Command{
		Use:   "pin [id]",
		Short: "Pin a memory so it is always in context",
		Args:  cobra.ExactArgs(1),
		Run:   func(cmd *cobra.Command, args []string) { runPin(cmd, args[0], true) },
	}
	unpin := &cobra.Command{
		Use:   "unpin [id]",
		Short: "Remove a pin",
		Args:  cobra.ExactArgs(1),
		Run:   func(cmd *cobra.Command, args []string) { runPin(cmd, args[0], false) },
	}

	RootCmd.AddCommand(pin, unpin)
}

func runPin(cmd *cobra.Command, id string, pinned bool) {
	a := mustOpenApp(cmd.Context())
	defer a.Close()

	var err error
	if pinned {
		err = a.engine.Pin(cmd.Context(), id)
	} else {
		err = a.engine.Unpin(cmd.Context(), id)
	}
	if err != nil {
		exitErr("pin", err)
	}
	a.engine.Flush()

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"id":%q,"pinned":%t}`+"\n", id, pinned)
}
