package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/rcliao/vecmem/internal/fallback"
)

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	Dimensions int
	CacheSize  int
	// Timeout bounds each backend attempt.
	Timeout time.Duration
	Logger  zerolog.Logger
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hit_rate"`
}

// Gateway converts text to vectors. It never fails: when every backend is
// down it hands back a deterministic placeholder so retrieval degrades
// instead of breaking the chat flow.
type Gateway struct {
	backends []Backend
	dims     int
	timeout  time.Duration
	cache    *lru.Cache[string, Vector]
	log      zerolog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewGateway creates a gateway that tries backends in order.
func NewGateway(cfg GatewayConfig, backends ...Backend) (*Gateway, error) {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cache, err := lru.New[string, Vector](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Gateway{
		backends: backends,
		dims:     cfg.Dimensions,
		timeout:  cfg.Timeout,
		cache:    cache,
		log:      cfg.Logger,
	}, nil
}

// Dims returns the vector size every result has.
func (g *Gateway) Dims() int { return g.dims }

// Embed returns the vector for text.
func (g *Gateway) Embed(ctx context.Context, text string) Vector {
	v, _ := g.EmbedChecked(ctx, text)
	return v
}

// EmbedChecked is Embed that also reports whether a backend produced the
// vector. It returns false with the placeholder when every backend failed.
func (g *Gateway) EmbedChecked(ctx context.Context, text string) (Vector, bool) {
	if strings.TrimSpace(text) == "" {
		return Placeholder(text, g.dims), false
	}
	if v, ok := g.cache.Get(text); ok {
		g.hits.Add(1)
		return slices.Clone(v), true
	}
	g.misses.Add(1)

	v, name, err := g.chain(text).Do(ctx)
	if err != nil {
		g.log.Warn().Err(err).Msg("embedding unavailable, using placeholder")
		return Placeholder(text, g.dims), false
	}
	g.log.Debug().Str("backend", name).Int("chars", len(text)).Msg("embedded")
	g.cache.Add(text, v)
	return slices.Clone(v), true
}

// IsPlaceholder reports whether v is the placeholder for text.
func (g *Gateway) IsPlaceholder(text string, v []float32) bool {
	return slices.Equal(v, Placeholder(text, g.dims))
}

func (g *Gateway) chain(text string) *fallback.Chain[Vector] {
	steps := make([]fallback.Step[Vector], 0, len(g.backends))
	for _, b := range g.backends {
		steps = append(steps, fallback.Step[Vector]{Name: b.Name(), Call: g.attempt(b, text)})
	}
	return fallback.New(g.log, steps...)
}

func (g *Gateway) attempt(b Backend, text string) func(context.Context) (Vector, error) {
	return func(ctx context.Context) (Vector, error) {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		v, err := b.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		if err := checkDims(v, g.dims); err != nil {
			return nil, err
		}
		return v, nil
	}
}

// Ping embeds a probe string through the backend chain, bypassing the
// cache. It succeeds when any backend answers.
func (g *Gateway) Ping(ctx context.Context) error {
	if len(g.backends) == 0 {
		return fmt.Errorf("no embedding backend configured")
	}
	_, name, err := g.chain("ping").Do(ctx)
	if err != nil {
		return err
	}
	g.log.Debug().Str("backend", name).Msg("embedding ping")
	return nil
}

// Stats returns cache statistics.
func (g *Gateway) Stats() CacheStats {
	s := CacheStats{Hits: g.hits.Load(), Misses: g.misses.Load(), Size: g.cache.Len()}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// Placeholder returns small deterministic values in [-0.01, 0.01] seeded by
// text. No component is ever zero, so cosine similarity stays defined.
func Placeholder(text string, dims int) Vector {
	h := fnv.New64a()
	h.Write([]byte(text))
	r := rand.New(rand.NewSource(int64(h.Sum64())))
	v := make(Vector, dims)
	for i := range v {
		x := float32(r.Float64()*0.02 - 0.01)
		if x == 0 {
			x = 0.0001
		}
		v[i] = x
	}
	return v
}
