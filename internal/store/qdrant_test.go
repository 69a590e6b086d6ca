package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQdrant is a minimal in-memory stand-in for the Qdrant REST endpoints
// the store uses. Search returns preset scores.
type fakeQdrant struct {
	mu       sync.Mutex
	size     int // 0 means the collection does not exist
	points   map[string]qdrantPoint
	scores   map[string]float64
	lastBody map[string]any
	apiKey   string
}

func newFakeQdrant(t *testing.T, f *fakeQdrant) *httptest.Server {
	t.Helper()
	if f.points == nil {
		f.points = map[string]qdrantPoint{}
	}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeQdrant) point(id string) qdrantPoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.points[id]
}

func (f *fakeQdrant) body() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastBody
}

func (f *fakeQdrant) collectionSize() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"status": "ok", "time": 0.001, "result": result})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{"status": map[string]string{"error": msg}})
}

func (f *fakeQdrant) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.apiKey != "" && r.Header.Get("api-key") != f.apiKey {
		writeError(w, http.StatusForbidden, "bad key")
		return
	}

	var body map[string]any
	if r.Body != nil && r.ContentLength != 0 {
		json.NewDecoder(r.Body).Decode(&body)
	}
	f.lastBody = body
	path := r.URL.Path

	switch {
	case r.Method == http.MethodGet && path == "/collections":
		writeResult(w, map[string]any{"collections": []any{}})
	case r.Method == http.MethodGet && path == "/collections/chat_memory":
		if f.size == 0 {
			writeError(w, http.StatusNotFound, "Collection `chat_memory` doesn't exist!")
			return
		}
		writeResult(w, map[string]any{"config": map[string]any{"params": map[string]any{
			"vectors": map[string]any{"size": f.size, "distance": "Cosine"},
		}}})
	case r.Method == http.MethodPut && path == "/collections/chat_memory":
		vectors := body["vectors"].(map[string]any)
		f.size = int(vectors["size"].(float64))
		writeResult(w, true)
	case r.Method == http.MethodPut && path == "/collections/chat_memory/points":
		raw, _ := json.Marshal(body["points"])
		var pts []qdrantPoint
		json.Unmarshal(raw, &pts)
		for _, p := range pts {
			f.points[p.ID] = p
		}
		writeResult(w, map[string]any{"status": "completed"})
	case r.Method == http.MethodPost && path == "/collections/chat_memory/points":
		var out []map[string]any
		for _, id := range body["ids"].([]any) {
			if _, ok := f.points[id.(string)]; ok {
				out = append(out, map[string]any{"id": id})
			}
		}
		writeResult(w, out)
	case r.Method == http.MethodPost && path == "/collections/chat_memory/points/search":
		threshold := body["score_threshold"].(float64)
		var out []map[string]any
		for id, p := range f.points {
			if s := f.scores[id]; s >= threshold {
				out = append(out, map[string]any{"id": id, "score": s, "payload": p.Payload})
			}
		}
		writeResult(w, out)
	case r.Method == http.MethodPost && path == "/collections/chat_memory/points/payload":
		ids := body["points"].([]any)
		id := ids[0].(string)
		p, ok := f.points[id]
		if !ok {
			writeError(w, http.StatusNotFound, "No point with id "+id+" found")
			return
		}
		payload := body["payload"].(map[string]any)
		if v, ok := payload["pinned"]; ok {
			p.Payload.Pinned = v.(bool)
		}
		if v, ok := payload["interactions"]; ok {
			p.Payload.Interactions = int(v.(float64))
		}
		f.points[id] = p
		writeResult(w, map[string]any{"status": "completed"})
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/collections/chat_memory/points/"):
		id := strings.TrimPrefix(path, "/collections/chat_memory/points/")
		p, ok := f.points[id]
		if !ok {
			writeError(w, http.StatusNotFound, "No point with id "+id+" found")
			return
		}
		writeResult(w, p)
	default:
		writeError(w, http.StatusNotFound, "unexpected "+r.Method+" "+path)
	}
}

const (
	idA = "0190a0b1-0000-7000-8000-000000000001"
	idB = "0190a0b1-0000-7000-8000-000000000002"
)

func TestQdrantEnsureCollection(t *testing.T) {
	ctx := context.Background()

	t.Run("creates missing collection", func(t *testing.T) {
		f := &fakeQdrant{}
		srv := newFakeQdrant(t, f)
		qs := NewQdrantStore(srv.URL, "chat_memory", "", 3, time.Second)
		require.NoError(t, qs.EnsureCollection(ctx))
		assert.Equal(t, 3, f.collectionSize())
		assert.Equal(t, "Cosine", f.body()["vectors"].(map[string]any)["distance"])
	})

	t.Run("accepts matching size", func(t *testing.T) {
		srv := newFakeQdrant(t, &fakeQdrant{size: 3})
		qs := NewQdrantStore(srv.URL, "", "", 3, time.Second)
		assert.NoError(t, qs.EnsureCollection(ctx))
	})

	t.Run("rejects other size", func(t *testing.T) {
		srv := newFakeQdrant(t, &fakeQdrant{size: 1536})
		qs := NewQdrantStore(srv.URL, "chat_memory", "", 384, time.Second)
		assert.ErrorIs(t, qs.EnsureCollection(ctx), ErrDimensionMismatch)
	})
}

func TestQdrantUpsertQuery(t *testing.T) {
	ctx := context.Background()
	f := &fakeQdrant{size: 3, scores: map[string]float64{idA: 0.9, idB: 0.2}}
	srv := newFakeQdrant(t, f)
	qs := NewQdrantStore(srv.URL, "chat_memory", "", 3, time.Second)

	ra := rec(idA, 1, 0, 0)
	ra.Pinned = true
	require.NoError(t, qs.Upsert(ctx, ra))
	require.NoError(t, qs.Upsert(ctx, rec(idB, 0, 1, 0)))

	hits, err := qs.Query(ctx, []float32{1, 0, 0}, 5, 0.2)
	require.NoError(t, err)
	require.Len(t, hits, 1, "score equal to threshold is excluded")
	assert.Equal(t, idA, hits[0].ID)
	assert.Equal(t, 0.9, hits[0].Score)
	assert.True(t, hits[0].Payload.Pinned)
	assert.Equal(t, "text "+idA, hits[0].Payload.Content)

	assert.Equal(t, true, f.body()["with_payload"])
	assert.EqualValues(t, 5, f.body()["limit"])

	assert.ErrorIs(t, qs.Upsert(ctx, rec(idA, 1, 0)), ErrDimensionMismatch)
}

func TestQdrantPayloadUpdates(t *testing.T) {
	ctx := context.Background()
	f := &fakeQdrant{size: 3}
	srv := newFakeQdrant(t, f)
	qs := NewQdrantStore(srv.URL, "chat_memory", "", 3, time.Second)
	require.NoError(t, qs.Upsert(ctx, rec(idA, 1, 0, 0)))

	require.NoError(t, qs.SetPinned(ctx, idA, true))
	assert.True(t, f.point(idA).Payload.Pinned)
	assert.Equal(t, []float32{1, 0, 0}, f.point(idA).Vector, "vector untouched")

	require.NoError(t, qs.AddInteraction(ctx, idA, 1))
	assert.Equal(t, 2, f.point(idA).Payload.Interactions)

	assert.ErrorIs(t, qs.SetPinned(ctx, idB, true), ErrNotFound)
	assert.ErrorIs(t, qs.AddInteraction(ctx, idB, 1), ErrNotFound)
}

func TestQdrantPing(t *testing.T) {
	ctx := context.Background()
	srv := newFakeQdrant(t, &fakeQdrant{apiKey: "secret"})

	assert.NoError(t, NewQdrantStore(srv.URL, "", "secret", 3, time.Second).Ping(ctx))
	assert.Error(t, NewQdrantStore(srv.URL, "", "wrong", 3, time.Second).Ping(ctx))

	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()
	assert.Error(t, NewQdrantStore(down.URL, "", "", 3, time.Second).Ping(ctx))
}

func TestPointID(t *testing.T) {
	assert.Equal(t, idA, pointID(json.RawMessage(`"`+idA+`"`)))
	assert.Equal(t, "42", pointID(json.RawMessage(`42`)))
}

var _ Store = (*QdrantStore)(nil)
var _ Store = (*ChromemStore)(nil)

func TestQdrantMissing(t *testing.T) {
	ctx := context.Background()
	f := &fakeQdrant{size: 3}
	srv := newFakeQdrant(t, f)
	qs := NewQdrantStore(srv.URL, "", "", 3, time.Second)

	require.NoError(t, qs.Upsert(ctx, rec(idA, 1, 0, 0)))

	missing, err := qs.Missing(ctx, []string{idA, idB})
	require.NoError(t, err)
	assert.Equal(t, []string{idB}, missing)
	assert.Equal(t, false, f.body()["with_vector"])

	missing, err = qs.Missing(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, missing)

	var _ Durable = qs
}
