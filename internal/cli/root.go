// Package cli implements the vecmem CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/vecmem/internal/config"
	"github.com/rcliao/vecmem/internal/model"
)

var (
	configPath   string
	snapshotPath string
	modeFlag     string
	verbose      bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "vecmem",
	Short: "Vector memory for chat sessions",
	Long:  "Commit conversation turns to a vector index, recall them by similarity and pack them into a token-bounded prompt context.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: ~/.vecmem/config.yaml)")
	RootCmd.PersistentFlags().StringVar(&snapshotPath, "snapshot", "", "Snapshot database path (overrides snapshot.path)")
	RootCmd.PersistentFlags().StringVarP(&modeFlag, "mode", "m", "", "Conversation mode: lean, omega or investigate")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.LoadFromPath(path)
	if err != nil {
		return nil, err
	}
	if snapshotPath != "" {
		cfg.Snapshot.Path = snapshotPath
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func currentMode(cfg *config.Config) model.Mode {
	if modeFlag != "" {
		return model.ParseMode(modeFlag)
	}
	return model.ParseMode(cfg.Mode)
}

// readText joins args, or reads stdin when it is piped and args are empty.
func readText(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	stat, err := os.Stdin.Stat()
	if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
		return "", nil
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(b), nil
}

func printJSON(cmd *cobra.Command, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
}

// view is a record without its vector.
type view struct {
	ID           string     `json:"id"`
	Role         model.Role `json:"role,omitempty"`
	Text         string     `json:"text"`
	Timestamp    string     `json:"timestamp"`
	Pinned       bool       `json:"pinned"`
	Interactions int        `json:"interactions"`
	Score        float64    `json:"score,omitempty"`
	Similarity   float64    `json:"similarity,omitempty"`
}

func recordView(r model.Record) view {
	return view{
		ID:           r.ID,
		Role:         r.Role,
		Text:         r.Text,
		Timestamp:    r.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Pinned:       r.Pinned,
		Interactions: r.Payload().InteractionCount(),
	}
}

func scoredViews(in []model.Scored) []view {
	out := make([]view, 0, len(in))
	for _, s := range in {
		v := recordView(s.Record)
		v.Score = s.Score
		v.Similarity = s.Similarity
		out = append(out, v)
	}
	return out
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
