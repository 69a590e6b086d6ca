// Package engine runs a memory-augmented chat session: it commits turns to
// the vector index, retrieves and ranks memories for new input and packs
// everything into a bounded prompt context.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/vecmem/internal/budget"
	"github.com/rcliao/vecmem/internal/health"
	"github.com/rcliao/vecmem/internal/model"
	"github.com/rcliao/vecmem/internal/retrieval"
	"github.com/rcliao/vecmem/internal/snapshot"
	"github.com/rcliao/vecmem/internal/store"
	"github.com/rcliao/vecmem/internal/transport"
)

// asyncTimeout bounds background index writes.
const asyncTimeout = 30 * time.Second

var (
	ErrEmptyText   = errors.New("empty text")
	ErrInvalidRole = errors.New("invalid role")
)

// StatusSource exposes the last health check.
type StatusSource interface {
	Last() health.Status
}

// CheckedEmbedder is an Embedder that tells real vectors from the
// placeholder it hands back when every backend is down.
type CheckedEmbedder interface {
	EmbedChecked(ctx context.Context, text string) ([]float32, bool)
	IsPlaceholder(text string, v []float32) bool
}

// Deps are the collaborators of an Engine. Snapshot and Health may be nil.
type Deps struct {
	Embedder  retrieval.Embedder
	Index     store.Store
	Retriever *retrieval.Retriever
	Assembler *budget.Assembler
	Snapshot  *snapshot.Store
	Health    StatusSource
	Logger    zerolog.Logger
}

// Options tune an Engine.
type Options struct {
	// MemoryEnabled controls whether turns are indexed and memories injected.
	MemoryEnabled bool
}

// Engine is one chat session. It is safe for concurrent use.
type Engine struct {
	embed     retrieval.Embedder
	index     store.Store
	retriever *retrieval.Retriever
	assembler *budget.Assembler
	snap      *snapshot.Store
	health    StatusSource
	log       zerolog.Logger
	enabled   bool

	// Now is the session clock.
	Now func() time.Time

	mu           sync.Mutex
	memories     map[string]model.Record
	conversation []model.Record
	// memories indexed under a placeholder vector
	unembedded map[string]struct{}

	seq         atomic.Uint64
	pending     sync.WaitGroup
	reembedding atomic.Bool
}

// New creates an engine.
func New(d Deps, opts Options) *Engine {
	return &Engine{
		embed:     d.Embedder,
		index:     d.Index,
		retriever: d.Retriever,
		assembler: d.Assembler,
		snap:      d.Snapshot,
		health:    d.Health,
		log:       d.Logger,
		enabled:   opts.MemoryEnabled,
		Now:       time.Now,
		memories:  make(map[string]model.Record),

		unembedded: make(map[string]struct{}),
	}
}

// Restore loads the snapshot and re-indexes its memories. A durable index
// only receives the memories it is missing. Unreadable snapshots load as
// empty. It returns the number of memories restored.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	if e.snap == nil {
		return 0, nil
	}
	mem := e.snap.LoadMemories(ctx)
	conv := e.snap.LoadConversation(ctx)
	missing := e.missingFromIndex(ctx, mem)
	checked, _ := e.embed.(CheckedEmbedder)

	n := 0
	for _, r := range mem {
		if missing == nil || missing[r.ID] {
			if err := e.index.Upsert(ctx, r); err != nil {
				e.log.Warn().Err(err).Str("id", r.ID).Msg("skip unrestorable memory")
				continue
			}
		}
		e.mu.Lock()
		e.memories[r.ID] = r
		if checked != nil && checked.IsPlaceholder(r.Text, r.Vector) {
			e.unembedded[r.ID] = struct{}{}
		}
		e.mu.Unlock()
		n++
	}
	e.mu.Lock()
	e.conversation = conv
	e.mu.Unlock()
	e.log.Debug().Int("memories", n).Int("turns", len(conv)).Msg("snapshot restored")
	return n, nil
}

// missingFromIndex returns the ids of mem absent from a durable index, or
// nil when every memory must be upserted.
func (e *Engine) missingFromIndex(ctx context.Context, mem []model.Record) map[string]bool {
	durable, ok := e.index.(store.Durable)
	if !ok || len(mem) == 0 {
		return nil
	}
	ids := make([]string, len(mem))
	for i, r := range mem {
		ids[i] = r.ID
	}
	absent, err := durable.Missing(ctx, ids)
	if err != nil {
		e.log.Warn().Err(err).Msg("index lookup failed, re-indexing all memories")
		return nil
	}
	out := make(map[string]bool, len(absent))
	for _, id := range absent {
		out[id] = true
	}
	return out
}

// Commit records a conversation turn. When memory is enabled the turn is
// embedded and written to the index in the background.
func (e *Engine) Commit(ctx context.Context, role model.Role, text string) (model.Record, error) {
	if !model.ValidRoles[role] {
		return model.Record{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if strings.TrimSpace(text) == "" {
		return model.Record{}, ErrEmptyText
	}
	now := e.Now()
	rec := model.Record{ID: model.NewID(now), Role: role, Text: text, Timestamp: now, Interactions: 1}

	embedded := true
	if e.enabled {
		rec.Vector, embedded = e.embedChecked(ctx, text)
	}

	e.mu.Lock()
	e.conversation = append(e.conversation, rec)
	if e.enabled {
		e.memories[rec.ID] = rec
		if !embedded {
			e.unembedded[rec.ID] = struct{}{}
		}
	}
	e.mu.Unlock()

	if e.enabled {
		e.async("upsert", func(ctx context.Context) error { return e.index.Upsert(ctx, rec) })
	}
	e.persist(ctx)
	return rec, nil
}

func (e *Engine) embedChecked(ctx context.Context, text string) ([]float32, bool) {
	if checked, ok := e.embed.(CheckedEmbedder); ok {
		return checked.EmbedChecked(ctx, text)
	}
	return e.embed.Embed(ctx, text), true
}

// Reembed retries the embedding of memories indexed under a placeholder
// vector and re-indexes the ones that now embed. It stops at the first
// failure and returns how many were repaired.
func (e *Engine) Reembed(ctx context.Context) int {
	checked, ok := e.embed.(CheckedEmbedder)
	if !ok {
		return 0
	}
	e.mu.Lock()
	todo := make([]model.Record, 0, len(e.unembedded))
	for id := range e.unembedded {
		if r, ok := e.memories[id]; ok {
			todo = append(todo, r)
		} else {
			delete(e.unembedded, id)
		}
	}
	e.mu.Unlock()

	n := 0
	for _, r := range todo {
		vec, ok := checked.EmbedChecked(ctx, r.Text)
		if !ok {
			break
		}
		e.mu.Lock()
		cur, found := e.memories[r.ID]
		if found {
			cur.Vector = vec
			e.memories[r.ID] = cur
			for i := range e.conversation {
				if e.conversation[i].ID == r.ID {
					e.conversation[i].Vector = vec
				}
			}
		}
		delete(e.unembedded, r.ID)
		e.mu.Unlock()
		if !found {
			continue
		}
		e.async("reembed", func(ctx context.Context) error { return e.index.Upsert(ctx, cur) })
		n++
	}
	if n > 0 {
		e.log.Debug().Int("memories", n).Msg("placeholder vectors replaced")
		e.persist(ctx)
	}
	return n
}

// Unembedded returns how many memories still carry a placeholder vector.
func (e *Engine) Unembedded() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.unembedded)
}

// repairInBackground runs Reembed once at a time without blocking.
func (e *Engine) repairInBackground() {
	if e.Unembedded() == 0 || !e.reembedding.CompareAndSwap(false, true) {
		return
	}
	e.async("reembed", func(ctx context.Context) error {
		defer e.reembedding.Store(false)
		e.Reembed(ctx)
		return nil
	})
}

// Prepared is the outcome of one assembly pass.
type Prepared struct {
	Seq      uint64         `json:"seq"`
	Mode     model.Mode     `json:"mode"`
	Result   budget.Result  `json:"result"`
	Memories []model.Scored `json:"memories"`
	// Stale is set when a newer Prepare started before retrieval finished;
	// the retrieved memories were discarded.
	Stale bool `json:"stale,omitempty"`
	// Skipped is set when retrieval did not run: memory disabled or the
	// index or embedding backend reported down.
	Skipped bool `json:"skipped,omitempty"`
}

// Prepare retrieves memories relevant to input and assembles the context for
// mode. Retrieval failures degrade to conversation-only context.
func (e *Engine) Prepare(ctx context.Context, input string, mode model.Mode) Prepared {
	seq := e.seq.Add(1)
	p := Prepared{Seq: seq, Mode: mode}

	if e.retrievalAvailable() {
		e.repairInBackground()
		p.Memories = e.retriever.Retrieve(ctx, input, mode)
		if !e.IsCurrent(seq) {
			e.log.Debug().Uint64("seq", seq).Msg("retrieval superseded, discarding")
			p.Memories = nil
			p.Stale = true
		}
	} else {
		p.Skipped = true
	}

	e.mu.Lock()
	turns := make([]model.Record, len(e.conversation))
	copy(turns, e.conversation)
	e.mu.Unlock()

	p.Result = e.assembler.Assemble(turns, p.Memories, mode.Ceiling())

	if !p.Stale {
		e.countInteractions(ctx, p.Result.Included)
	}
	return p
}

// Recall returns the ranked memories for query without assembling a context
// or counting interactions.
func (e *Engine) Recall(ctx context.Context, query string, mode model.Mode) []model.Scored {
	if !e.retrievalAvailable() {
		return nil
	}
	return e.retriever.Retrieve(ctx, query, mode)
}

// Get returns the memory or conversation turn with id.
func (e *Engine) Get(id string) (model.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.memories[id]; ok {
		return r, nil
	}
	for _, r := range e.conversation {
		if r.ID == id {
			return r, nil
		}
	}
	return model.Record{}, fmt.Errorf("%w: %s", store.ErrNotFound, id)
}

func (e *Engine) retrievalAvailable() bool {
	if !e.enabled {
		return false
	}
	if e.health == nil {
		return true
	}
	st := e.health.Last()
	if !st.StoreOK() || !st.EmbeddingOK() {
		e.log.Debug().Bool("store", st.StoreOK()).Bool("embedding", st.EmbeddingOK()).Msg("skipping retrieval")
		return false
	}
	return true
}

// IsCurrent reports whether seq belongs to the latest Prepare.
func (e *Engine) IsCurrent(seq uint64) bool {
	return e.seq.Load() == seq
}

func (e *Engine) countInteractions(ctx context.Context, included []budget.Item) {
	var ids []string
	e.mu.Lock()
	for _, it := range included {
		if it.Source != budget.SourceMemory {
			continue
		}
		r, ok := e.memories[it.ID]
		if !ok {
			continue
		}
		r.Interactions = r.Payload().InteractionCount() + 1
		e.memories[it.ID] = r
		ids = append(ids, it.ID)
	}
	e.mu.Unlock()

	if len(ids) == 0 {
		return
	}
	for _, id := range ids {
		e.async("add interaction", func(ctx context.Context) error { return e.index.AddInteraction(ctx, id, 1) })
	}
	e.persist(ctx)
}

// Pin marks a memory or turn as always included.
func (e *Engine) Pin(ctx context.Context, id string) error { return e.setPinned(ctx, id, true) }

// Unpin clears the pin.
func (e *Engine) Unpin(ctx context.Context, id string) error { return e.setPinned(ctx, id, false) }

func (e *Engine) setPinned(ctx context.Context, id string, pinned bool) error {
	e.mu.Lock()
	found := false
	inIndex := false
	if r, ok := e.memories[id]; ok {
		r.Pinned = pinned
		e.memories[id] = r
		found, inIndex = true, true
	}
	for i := range e.conversation {
		if e.conversation[i].ID == id {
			e.conversation[i].Pinned = pinned
			found = true
		}
	}
	e.mu.Unlock()

	if !found {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	if inIndex {
		e.async("set pinned", func(ctx context.Context) error { return e.index.SetPinned(ctx, id, pinned) })
	}
	e.persist(ctx)
	return nil
}

// Reset clears the conversation. Stored memories are kept.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	e.conversation = nil
	e.mu.Unlock()
	if e.snap == nil {
		return nil
	}
	return e.snap.ResetConversation(ctx)
}

// Import merges exported memories into the snapshot and the index. It
// returns how many were added.
func (e *Engine) Import(ctx context.Context, exp snapshot.Export) (int, error) {
	if e.snap == nil {
		return 0, fmt.Errorf("no snapshot configured")
	}
	added, err := e.snap.Import(ctx, exp)
	if err != nil {
		return 0, fmt.Errorf("import snapshot: %w", err)
	}
	checked, _ := e.embed.(CheckedEmbedder)
	n := 0
	for _, r := range added {
		if err := e.index.Upsert(ctx, r); err != nil {
			e.log.Warn().Err(err).Str("id", r.ID).Msg("imported memory not indexed")
			continue
		}
		e.mu.Lock()
		e.memories[r.ID] = r
		if checked != nil && checked.IsPlaceholder(r.Text, r.Vector) {
			e.unembedded[r.ID] = struct{}{}
		}
		e.mu.Unlock()
		n++
	}
	return n, nil
}

// Memories returns the indexed memories, newest first.
func (e *Engine) Memories() []model.Record {
	e.mu.Lock()
	out := make([]model.Record, 0, len(e.memories))
	for _, r := range e.memories {
		out = append(out, r)
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Conversation returns the current conversation, oldest first.
func (e *Engine) Conversation() []model.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Record, len(e.conversation))
	copy(out, e.conversation)
	return out
}

// Exchange runs one chat round: commit the user input, prepare the context,
// ask the responder and commit its reply.
func (e *Engine) Exchange(ctx context.Context, r transport.Responder, input string, mode model.Mode) (string, Prepared, error) {
	if _, err := e.Commit(ctx, model.RoleUser, input); err != nil {
		return "", Prepared{}, err
	}
	p := e.Prepare(ctx, input, mode)

	req := transport.Request{Context: p.Result.Block, Input: input}
	for _, it := range p.Result.Included {
		if it.Source != budget.SourceTurn {
			continue
		}
		req.Messages = append(req.Messages, transport.Message{
			ID: it.ID, Role: string(it.Role), Text: it.Text,
			Timestamp: it.Timestamp.UnixMilli(), Pinned: it.Pinned,
		})
	}
	sort.SliceStable(req.Messages, func(i, j int) bool { return req.Messages[i].Timestamp < req.Messages[j].Timestamp })

	reply, err := r.Respond(ctx, req)
	if err != nil {
		return "", p, fmt.Errorf("respond: %w", err)
	}
	if strings.TrimSpace(reply) != "" {
		if _, err := e.Commit(ctx, model.RoleAssistant, reply); err != nil {
			return reply, p, err
		}
	}
	return reply, p, nil
}

// Flush waits for background index writes.
func (e *Engine) Flush() { e.pending.Wait() }

// Close flushes pending writes.
func (e *Engine) Close() error {
	e.Flush()
	return nil
}

// async runs an index write without blocking the conversation. Failures are
// logged and not retried.
func (e *Engine) async(op string, fn func(ctx context.Context) error) {
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), asyncTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			e.log.Warn().Err(err).Str("op", op).Msg("index write failed")
		}
	}()
}

// persist writes the session to the snapshot. Failures are logged.
func (e *Engine) persist(ctx context.Context) {
	if e.snap == nil {
		return
	}
	e.mu.Lock()
	mem := make([]model.Record, 0, len(e.memories))
	for _, r := range e.memories {
		mem = append(mem, r)
	}
	conv := make([]model.Record, len(e.conversation))
	copy(conv, e.conversation)
	e.mu.Unlock()

	if err := e.snap.SaveMemories(ctx, mem); err != nil {
		e.log.Warn().Err(err).Msg("snapshot memories failed")
	}
	if err := e.snap.SaveConversation(ctx, conv); err != nil {
		e.log.Warn().Err(err).Msg("snapshot conversation failed")
	}
}
