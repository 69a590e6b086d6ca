package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/vecmem/internal/retrieval"
)

func TestLoadCreatesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.FileExists(t, path)

	assert.Equal(t, 384, cfg.Embedding.Dimensions)
	assert.Equal(t, "http://localhost:8001/embed", cfg.Embedding.Primary.URL)
	assert.Equal(t, 10*time.Second, cfg.Embedding.Timeout)
	assert.Equal(t, "memory", cfg.Store.Kind)
	assert.Equal(t, "chat_memory", cfg.Store.Collection)
	assert.Equal(t, retrieval.DefaultConfig(), cfg.Retrieval)
	assert.InDelta(t, 0.75, cfg.Budget.MemoryShare, 1e-9)
	assert.Equal(t, 30*time.Second, cfg.Health.Interval)
	assert.Equal(t, "websocket", cfg.Transport.Kind)
	assert.True(t, cfg.Memory.Enabled)
	assert.Equal(t, "omega", cfg.Mode)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "timeout: 10s")
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  kind: qdrant\nretrieval:\n  top_k: 8\n"), 0o644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "qdrant", cfg.Store.Kind)
	assert.Equal(t, "http://localhost:6333", cfg.Store.URL)
	assert.Equal(t, 8, cfg.Retrieval.TopK)
	assert.InDelta(t, 0.2, cfg.Retrieval.ScoreThreshold, 1e-9)
	assert.InDelta(t, 0.1, cfg.Retrieval.MinScore, 1e-9)
	assert.Equal(t, 384, cfg.Embedding.Dimensions)
}

func TestEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("VECMEM_STORE_KIND", "qdrant")
	t.Setenv("VECMEM_HEALTH_INTERVAL", "5s")
	t.Setenv("VECMEM_MEMORY_ENABLED", "false")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "qdrant", cfg.Store.Kind)
	assert.Equal(t, 5*time.Second, cfg.Health.Interval)
	assert.False(t, cfg.Memory.Enabled)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"dimensions", func(c *Config) { c.Embedding.Dimensions = 0 }},
		{"store kind", func(c *Config) { c.Store.Kind = "redis" }},
		{"transport kind", func(c *Config) { c.Transport.Kind = "carrier-pigeon" }},
		{"memory share", func(c *Config) { c.Budget.MemoryShare = 1.5 }},
		{"decay", func(c *Config) { c.Retrieval.DecayFactor = 0 }},
		{"mode", func(c *Config) { c.Mode = "turbo" }},
	}
	require.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestInvalidFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  kind: redis\n"), 0o644))
	_, err := LoadFromPath(path)
	assert.Error(t, err)
}

func TestBackendsSkipsNone(t *testing.T) {
	cfg := Default()
	cfg.Embedding.Secondary.Kind = "none"
	b := cfg.Embedding.Backends()
	require.Len(t, b, 1)
	assert.Equal(t, "service", b[0].Kind)
}
