// Package retrieval queries the vector index and re-ranks hits by recency,
// pin state, usage and conversational mode.
package retrieval

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/vecmem/internal/model"
)

const (
	pinBoost         = 1.1
	interactionBonus = 0.05
)

// Config holds the ranking parameters.
type Config struct {
	TopK           int     `mapstructure:"top_k" yaml:"top_k"`
	ScoreThreshold float64 `mapstructure:"score_threshold" yaml:"score_threshold"`
	DecayFactor    float64 `mapstructure:"decay_factor" yaml:"decay_factor"`
	MinScore       float64 `mapstructure:"min_score" yaml:"min_score"`
}

// DefaultConfig returns the standard ranking parameters.
func DefaultConfig() Config {
	return Config{TopK: 5, ScoreThreshold: 0.2, DecayFactor: 0.95, MinScore: 0.1}
}

// Embedder turns text into a vector. It never fails.
type Embedder interface {
	Embed(ctx context.Context, text string) []float32
}

// Querier is the read side of the vector index.
type Querier interface {
	Query(ctx context.Context, vec []float32, limit int, threshold float64) ([]model.Hit, error)
}

// Retriever runs similarity search and re-ranking.
type Retriever struct {
	cfg   Config
	embed Embedder
	index Querier
	log   zerolog.Logger

	// Now is the clock used for decay.
	Now func() time.Time
}

// New creates a Retriever. Zero fields in cfg take their defaults.
func New(cfg Config, embed Embedder, index Querier, log zerolog.Logger) *Retriever {
	def := DefaultConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.ScoreThreshold <= 0 {
		cfg.ScoreThreshold = def.ScoreThreshold
	}
	if cfg.DecayFactor <= 0 || cfg.DecayFactor > 1 {
		cfg.DecayFactor = def.DecayFactor
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = def.MinScore
	}
	return &Retriever{cfg: cfg, embed: embed, index: index, log: log, Now: time.Now}
}

// Retrieve returns the ranked memories relevant to query. Failures yield an
// empty list; they never reach the conversation.
func (r *Retriever) Retrieve(ctx context.Context, query string, mode model.Mode) []model.Scored {
	vec := r.embed.Embed(ctx, query)
	hits, err := r.index.Query(ctx, vec, r.cfg.TopK, r.cfg.ScoreThreshold)
	if err != nil {
		r.log.Warn().Err(err).Msg("memory query failed")
		return nil
	}
	ranked := Rank(hits, mode, r.Now(), r.cfg)
	r.log.Debug().Int("hits", len(hits)).Int("kept", len(ranked)).Str("mode", string(mode)).Msg("retrieved")
	return ranked
}

// Score computes the composite score for a hit:
//
//	similarity * decay^(age/60s) * pin * (interactions*0.05+1) * modeWeight
func Score(h model.Hit, mode model.Mode, now time.Time, decayFactor float64) float64 {
	age := now.Sub(h.Payload.Time()).Seconds()
	if age < 0 {
		age = 0
	}
	decay := math.Pow(decayFactor, age/60)
	pin := 1.0
	if h.Payload.Pinned {
		pin = pinBoost
	}
	interaction := float64(h.Payload.InteractionCount())*interactionBonus + 1
	return h.Score * decay * pin * interaction * mode.Weight()
}

// Rank scores hits, drops those without a timestamp or at or below the
// minimum score, and sorts the rest. Ties go to the newer record, then to the
// smaller id.
func Rank(hits []model.Hit, mode model.Mode, now time.Time, cfg Config) []model.Scored {
	out := make([]model.Scored, 0, len(hits))
	for _, h := range hits {
		if h.Payload.Timestamp <= 0 {
			continue
		}
		s := Score(h, mode, now, cfg.DecayFactor)
		if s <= cfg.MinScore {
			continue
		}
		out = append(out, model.Scored{Record: h.Record(), Similarity: h.Score, Score: s})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Record.Timestamp.Equal(b.Record.Timestamp) {
			return a.Record.Timestamp.After(b.Record.Timestamp)
		}
		return a.Record.ID < b.Record.ID
	})
	return out
}
