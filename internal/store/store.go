// Package store provides the vector memory index: a Qdrant REST client and an
// in-process chromem-go index behind one interface.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/vecmem/internal/model"
)

var (
	// ErrDimensionMismatch is returned when a vector does not match the store's size.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrNotFound is returned when a record id is unknown to the store.
	ErrNotFound = errors.New("record not found")
)

// Store defines the vector index interface.
type Store interface {
	// Upsert writes a record with its vector and payload.
	Upsert(ctx context.Context, rec model.Record) error

	// Query returns up to limit hits whose raw similarity is strictly above
	// threshold, most similar first.
	Query(ctx context.Context, vec []float32, limit int, threshold float64) ([]model.Hit, error)

	// SetPinned updates only the pinned flag of a record.
	SetPinned(ctx context.Context, id string, pinned bool) error

	// AddInteraction bumps a record's interaction counter by delta.
	AddInteraction(ctx context.Context, id string, delta int) error

	// Ping reports whether the index is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Config selects and configures a store.
type Config struct {
	Kind       string        `mapstructure:"kind" yaml:"kind"` // memory | qdrant
	URL        string        `mapstructure:"url" yaml:"url"`
	Collection string        `mapstructure:"collection" yaml:"collection"`
	APIKey     string        `mapstructure:"api_key" yaml:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Open creates the configured store for vectors of size dims. A Qdrant
// collection is created if missing.
func Open(ctx context.Context, cfg Config, dims int, log zerolog.Logger) (Store, error) {
	switch cfg.Kind {
	case "", "memory":
		return NewChromemStore(dims)
	case "qdrant":
		qs := NewQdrantStore(cfg.URL, cfg.Collection, cfg.APIKey, dims, cfg.Timeout)
		if err := qs.EnsureCollection(ctx); err != nil {
			return nil, fmt.Errorf("ensure collection: %w", err)
		}
		log.Debug().Str("url", cfg.URL).Str("collection", cfg.Collection).Msg("qdrant store ready")
		return qs, nil
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
	}
}

func checkDims(v []float32, dims int) error {
	if len(v) != dims {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), dims)
	}
	return nil
}

// Durable is implemented by indexes that keep records across processes.
type Durable interface {
	// Missing returns the ids the index does not hold.
	Missing(ctx context.Context, ids []string) ([]string, error)
}
