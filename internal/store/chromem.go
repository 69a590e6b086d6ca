package store

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/rcliao/vecmem/internal/model"
)

// ChromemStore is an in-process index on chromem-go. chromem has no get by
// id, so a mirror of the records is kept next to the collection and is the
// source of payloads.
type ChromemStore struct {
	col  *chromem.Collection
	dims int

	mu      sync.RWMutex
	records map[string]model.Record
}

// NewChromemStore creates an empty in-process index.
func NewChromemStore(dims int) (*ChromemStore, error) {
	db := chromem.NewDB()
	col, err := db.CreateCollection("chat_memory", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &ChromemStore{col: col, dims: dims, records: make(map[string]model.Record)}, nil
}

func (s *ChromemStore) Upsert(ctx context.Context, rec model.Record) error {
	if err := checkDims(rec.Vector, s.dims); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(ctx, rec)
}

func (s *ChromemStore) putLocked(ctx context.Context, rec model.Record) error {
	content := rec.Text
	if content == "" {
		content = " "
	}
	doc := chromem.Document{
		ID:        rec.ID,
		Content:   content,
		Embedding: slices.Clone(rec.Vector),
		Metadata: map[string]string{
			"role":         string(rec.Role),
			"timestamp":    strconv.FormatInt(rec.Timestamp.UnixMilli(), 10),
			"pinned":       strconv.FormatBool(rec.Pinned),
			"interactions": strconv.Itoa(rec.Interactions),
		},
	}
	if err := s.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *ChromemStore) Query(ctx context.Context, vec []float32, limit int, threshold float64) ([]model.Hit, error) {
	if err := checkDims(vec, s.dims); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	// chromem requires 0 < nResults <= collection size.
	n := min(limit, s.col.Count())
	if n <= 0 {
		return nil, nil
	}
	results, err := s.col.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	hits := make([]model.Hit, 0, len(results))
	for _, r := range results {
		score := float64(r.Similarity)
		if score <= threshold {
			continue
		}
		rec, ok := s.records[r.ID]
		if !ok {
			continue
		}
		hits = append(hits, model.Hit{ID: r.ID, Score: score, Payload: rec.Payload()})
	}
	return hits, nil
}

func (s *ChromemStore) SetPinned(ctx context.Context, id string, pinned bool) error {
	return s.update(ctx, id, func(r *model.Record) { r.Pinned = pinned })
}

func (s *ChromemStore) AddInteraction(ctx context.Context, id string, delta int) error {
	return s.update(ctx, id, func(r *model.Record) {
		r.Interactions = r.Payload().InteractionCount() + delta
	})
}

func (s *ChromemStore) update(ctx context.Context, id string, fn func(*model.Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	fn(&rec)
	// Re-adding under the same id replaces the document.
	return s.putLocked(ctx, rec)
}

// Count returns the number of indexed records.
func (s *ChromemStore) Count() int {
	return s.col.Count()
}

func (s *ChromemStore) Ping(context.Context) error { return nil }

func (s *ChromemStore) Close() error { return nil }
