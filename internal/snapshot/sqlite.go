// Package snapshot persists the session's memory index and conversation to a
// local SQLite file so they survive restarts. It is best effort: unreadable
// data loads as empty.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/rcliao/vecmem/internal/model"
)

// Storage keys.
const (
	KeyMemories     = "vector_memory"
	KeyConversation = "conversation"
)

// Store is a key/value snapshot on SQLite. Each key holds a JSON array of records.
type Store struct {
	db   *sql.DB
	path string
	log  zerolog.Logger
}

// Open opens or creates the snapshot database at path.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, log: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`)
	return err
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) load(ctx context.Context, key string) []model.Record {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("snapshot unreadable, starting empty")
		return nil
	}
	var recs []model.Record
	if err := json.Unmarshal([]byte(raw), &recs); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("snapshot corrupt, starting empty")
		return nil
	}
	return recs
}

func (s *Store) save(ctx context.Context, key string, recs []model.Record) error {
	if recs == nil {
		recs = []model.Record{}
	}
	b, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, string(b), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// LoadMemories returns the saved memory index, oldest first.
func (s *Store) LoadMemories(ctx context.Context) []model.Record {
	recs := s.load(ctx, KeyMemories)
	sortByTime(recs)
	return recs
}

// SaveMemories replaces the saved memory index.
func (s *Store) SaveMemories(ctx context.Context, recs []model.Record) error {
	return s.save(ctx, KeyMemories, recs)
}

// LoadConversation returns the saved conversation, oldest first.
func (s *Store) LoadConversation(ctx context.Context) []model.Record {
	recs := s.load(ctx, KeyConversation)
	sortByTime(recs)
	return recs
}

// SaveConversation replaces the saved conversation.
func (s *Store) SaveConversation(ctx context.Context, recs []model.Record) error {
	return s.save(ctx, KeyConversation, recs)
}

// ResetConversation clears the conversation and keeps the memories.
func (s *Store) ResetConversation(ctx context.Context) error {
	return s.save(ctx, KeyConversation, nil)
}

func sortByTime(recs []model.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].Timestamp.Equal(recs[j].Timestamp) {
			return recs[i].Timestamp.Before(recs[j].Timestamp)
		}
		return recs[i].ID < recs[j].ID
	})
}
