package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/vecmem/internal/embedding"
	"github.com/rcliao/vecmem/internal/snapshot"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory and cache statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

type statsOutput struct {
	*snapshot.Stats
	Mode           string               `json:"mode"`
	Ceiling        int                  `json:"ceiling"`
	StoreKind      string               `json:"store_kind"`
	Dimensions     int                  `json:"dimensions"`
	EmbeddingCache embedding.CacheStats `json:"embedding_cache"`
	MemoryEnabled  bool                 `json:"memory_enabled"`
	// Unembedded counts memories indexed under a placeholder vector.
	Unembedded int `json:"unembedded"`
}

func runStats(cmd *cobra.Command, args []string) {
	a := mustOpenApp(cmd.Context())
	defer a.Close()

	st, err := a.snap.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}

	printJSON(cmd, statsOutput{
		Stats:          st,
		Mode:           string(a.mode),
		Ceiling:        a.mode.Ceiling(),
		StoreKind:      a.cfg.Store.Kind,
		Dimensions:     a.gateway.Dims(),
		EmbeddingCache: a.gateway.Stats(),
		MemoryEnabled:  a.cfg.Memory.Enabled,
		Unembedded:     a.engine.Unembedded(),
	})
}
