package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/rcliao/vecmem/internal/model"
)

// Export is the portable form of a snapshot.
type Export struct {
	ExportedAt   time.Time      `json:"exported_at"`
	Memories     []model.Record `json:"memories"`
	Conversation []model.Record `json:"conversation"`
}

// ExportAll returns everything in the snapshot.
func (s *Store) ExportAll(ctx context.Context) Export {
	mem := s.LoadMemories(ctx)
	conv := s.LoadConversation(ctx)
	if mem == nil {
		mem = []model.Record{}
	}
	if conv == nil {
		conv = []model.Record{}
	}
	return Export{ExportedAt: time.Now().UTC(), Memories: mem, Conversation: conv}
}

// Import merges exported memories into the snapshot. Records whose id is
// already present are skipped. It returns the records that were added.
func (s *Store) Import(ctx context.Context, e Export) ([]model.Record, error) {
	existing := s.LoadMemories(ctx)
	seen := make(map[string]bool, len(existing))
	for _, r := range existing {
		seen[r.ID] = true
	}

	var added []model.Record
	for _, r := range e.Memories {
		if r.ID == "" || seen[r.ID] {
			continue
		}
		if r.Timestamp.IsZero() {
			return nil, fmt.Errorf("import record %s: missing timestamp", r.ID)
		}
		seen[r.ID] = true
		added = append(added, r)
	}
	if len(added) == 0 {
		return nil, nil
	}
	if err := s.SaveMemories(ctx, append(existing, added...)); err != nil {
		return nil, err
	}
	return added, nil
}
