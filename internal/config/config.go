// Package config loads vecmem settings from ~/.vecmem/config.yaml with
// VECMEM_* environment overrides.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/vecmem/internal/embedding"
	"github.com/rcliao/vecmem/internal/logging"
	"github.com/rcliao/vecmem/internal/model"
	"github.com/rcliao/vecmem/internal/retrieval"
	"github.com/rcliao/vecmem/internal/store"
	"github.com/rcliao/vecmem/internal/transport"
)

// EnvPrefix prefixes environment overrides, e.g. VECMEM_STORE_KIND.
const EnvPrefix = "VECMEM"

// Config is the full vecmem configuration.
type Config struct {
	Embedding EmbeddingConfig  `mapstructure:"embedding" yaml:"embedding"`
	Store     store.Config     `mapstructure:"store" yaml:"store"`
	Retrieval retrieval.Config `mapstructure:"retrieval" yaml:"retrieval"`
	Budget    BudgetConfig     `mapstructure:"budget" yaml:"budget"`
	Health    HealthConfig     `mapstructure:"health" yaml:"health"`
	Transport transport.Config `mapstructure:"transport" yaml:"transport"`
	Snapshot  SnapshotConfig   `mapstructure:"snapshot" yaml:"snapshot"`
	Memory    MemoryConfig     `mapstructure:"memory" yaml:"memory"`
	Mode      string           `mapstructure:"mode" yaml:"mode"`
	Logging   logging.Config   `mapstructure:"logging" yaml:"logging"`
}

// EmbeddingConfig configures the gateway and its backends. A backend with
// kind "none" is skipped.
type EmbeddingConfig struct {
	Primary    embedding.BackendConfig `mapstructure:"primary" yaml:"primary"`
	Secondary  embedding.BackendConfig `mapstructure:"secondary" yaml:"secondary"`
	Dimensions int                     `mapstructure:"dimensions" yaml:"dimensions"`
	CacheSize  int                     `mapstructure:"cache_size" yaml:"cache_size"`
	Timeout    time.Duration           `mapstructure:"timeout" yaml:"timeout"`
}

// Backends returns the enabled backend configs in fallback order.
func (c EmbeddingConfig) Backends() []embedding.BackendConfig {
	var out []embedding.BackendConfig
	for _, b := range []embedding.BackendConfig{c.Primary, c.Secondary} {
		if b.Kind == "none" {
			continue
		}
		out = append(out, b)
	}
	return out
}

type BudgetConfig struct {
	MemoryShare float64 `mapstructure:"memory_share" yaml:"memory_share"`
	// TokenMemo is how many token counts are memoized; 0 disables it.
	TokenMemo int64 `mapstructure:"token_memo" yaml:"token_memo"`
}

type HealthConfig struct {
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

type SnapshotConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type MemoryConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Dir returns the vecmem data directory (~/.vecmem).
func Dir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".vecmem")
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Default returns the built-in configuration.
func Default() *Config {
	dir := Dir()
	return &Config{
		Embedding: EmbeddingConfig{
			Primary:    embedding.BackendConfig{Kind: "service", URL: "http://localhost:8001/embed"},
			Secondary:  embedding.BackendConfig{Kind: "service", URL: "http://localhost:8001/embed_fallback"},
			Dimensions: embedding.DefaultDimensions,
			CacheSize:  1024,
			Timeout:    10 * time.Second,
		},
		Store: store.Config{
			Kind:       "memory",
			URL:        "http://localhost:6333",
			Collection: "chat_memory",
			Timeout:    15 * time.Second,
		},
		Retrieval: retrieval.DefaultConfig(),
		Budget:    BudgetConfig{MemoryShare: 0.75, TokenMemo: 4096},
		Health:    HealthConfig{Timeout: 3 * time.Second, Interval: 30 * time.Second},
		Transport: transport.Config{
			Kind:      "websocket",
			URL:       "ws://localhost:8000/ws",
			MaxTokens: 1024,
			Timeout:   30 * time.Second,
		},
		Snapshot: SnapshotConfig{Path: filepath.Join(dir, "snapshot.db")},
		Memory:   MemoryConfig{Enabled: true},
		Mode:     string(model.ModeOmega),
		Logging:  logging.Config{Level: "info", Format: "console"},
	}
}

// Load reads the default config file, creating it if missing.
func Load() (*Config, error) {
	return LoadFromPath(DefaultPath())
}

// LoadFromPath reads configuration from path and merges environment
// overrides. A missing file is created with defaults. Keys absent from the
// file keep their default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("marshal defaults: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, defaults, 0o644); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Snapshot.Path = expandPath(cfg.Snapshot.Path)
	cfg.Logging.File = expandPath(cfg.Logging.File)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values the components cannot repair on their own.
func (c *Config) Validate() error {
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive")
	}
	switch c.Store.Kind {
	case "memory", "qdrant":
	default:
		return fmt.Errorf("invalid store.kind %q, must be memory or qdrant", c.Store.Kind)
	}
	switch c.Transport.Kind {
	case "websocket", "anthropic":
	default:
		return fmt.Errorf("invalid transport.kind %q, must be websocket or anthropic", c.Transport.Kind)
	}
	if c.Budget.MemoryShare <= 0 || c.Budget.MemoryShare > 1 {
		return fmt.Errorf("budget.memory_share must be in (0, 1]")
	}
	if c.Retrieval.DecayFactor <= 0 || c.Retrieval.DecayFactor > 1 {
		return fmt.Errorf("retrieval.decay_factor must be in (0, 1]")
	}
	switch strings.ToLower(c.Mode) {
	case string(model.ModeLean), string(model.ModeOmega), string(model.ModeInvestigate):
	default:
		return fmt.Errorf("invalid mode %q, must be lean, omega or investigate", c.Mode)
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
