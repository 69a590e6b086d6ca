package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/vecmem/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories",
		Long:  "List stored memories newest first, or the current conversation oldest first with --conversation.",
		Run:   runList,
	}

	cmd.Flags().IntP("limit", "l", 20, "Max results (0 for all)")
	cmd.Flags().Bool("conversation", false, "List the current conversation instead")
	cmd.Flags().Bool("pinned", false, "Only pinned items")
	cmd.Flags().Bool("ids-only", false, "Only output ids")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	conversation, _ := cmd.Flags().GetBool("conversation")
	pinnedOnly, _ := cmd.Flags().GetBool("pinned")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	a := mustOpenApp(cmd.Context())
	defer a.Close()

	var recs []model.Record
	if conversation {
		recs = a.engine.Conversation()
	} else {
		recs = a.engine.Memories()
	}

	views := make([]view, 0, len(recs))
	for _, r := range recs {
		if pinnedOnly && !r.Pinned {
			continue
		}
		views = append(views, recordView(r))
		if limit > 0 && len(views) == limit {
			break
		}
	}

	if idsOnly {
		for _, v := range views {
			fmt.Fprintln(cmd.OutOrStdout(), v.ID)
		}
		return
	}
	printJSON(cmd, views)
}
