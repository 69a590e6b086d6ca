package snapshot

import (
	"context"
	"database/sql"
	"os"
)

// Stats holds snapshot statistics.
type Stats struct {
	DBPath            string `json:"db_path"`
	DBSizeBytes       int64  `json:"db_size_bytes"`
	Memories          int    `json:"memories"`
	PinnedMemories    int    `json:"pinned_memories"`
	Interactions      int    `json:"interactions"`
	ConversationTurns int    `json:"conversation_turns"`
	UpdatedAt         string `json:"updated_at,omitempty"`
}

// Stats returns snapshot statistics.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.path}

	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	for _, r := range s.LoadMemories(ctx) {
		st.Memories++
		if r.Pinned {
			st.PinnedMemories++
		}
		st.Interactions += r.Payload().InteractionCount()
	}
	st.ConversationTurns = len(s.LoadConversation(ctx))

	var updated sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(updated_at) FROM kv`).Scan(&updated); err != nil {
		return st, err
	}
	st.UpdatedAt = updated.String
	return st, nil
}
