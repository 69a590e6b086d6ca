package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/vecmem/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "remember [text]",
		Short: "Commit a conversation turn",
		Long:  "Commit a turn to the conversation and the memory index. Text can be a positional arg or piped via stdin.",
		Run:   runRemember,
	}

	cmd.Flags().StringP("role", "r", "user", "Role: user or assistant")
	cmd.Flags().Bool("pin", false, "Pin the turn so it is always in context")

	RootCmd.AddCommand(cmd)
}

func runRemember(cmd *cobra.Command, args []string) {
	role, _ := cmd.Flags().GetString("role")
	pin, _ := cmd.Flags().GetBool("pin")

	text, err := readText(args)
	if err != nil {
		exitErr("remember", err)
	}
	if strings.TrimSpace(text) == "" {
		exitErr("remember", fmt.Errorf("text is required (positional arg or stdin)"))
	}

	a := mustOpenApp(cmd.Context())
	defer a.Close()

	rec, err := a.engine.Commit(cmd.Context(), model.Role(role), strings.TrimSpace(text))
	if err != nil {
		exitErr("remember", err)
	}
	if pin {
		if err := a.engine.Pin(cmd.Context(), rec.ID); err != nil {
			exitErr("pin", err)
		}
		rec.Pinned = true
	}

	printJSON(cmd, recordView(rec))
}
