package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/vecmem/internal/health"
)

func init() {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe the embedding backend, memory index and transport",
		Run:   runHealth,
	}

	cmd.Flags().Duration("watch", 0, "Re-check at this interval until interrupted")

	RootCmd.AddCommand(cmd)
}

func runHealth(cmd *cobra.Command, args []string) {
	watch, _ := cmd.Flags().GetDuration("watch")

	a := mustOpenApp(cmd.Context())
	defer a.Close()

	a.health.Run(cmd.Context(), watch, func(st health.Status) {
		printJSON(cmd, st)
	})
}
