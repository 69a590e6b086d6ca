package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rcliao/vecmem/internal/model"
)

// QdrantStore talks to a Qdrant collection over its REST API.
type QdrantStore struct {
	baseURL    string
	apiKey     string
	collection string
	dims       int
	client     *http.Client

	// serializes read-modify-write payload updates
	mu sync.Mutex
}

// qdrantStatus supports both `status: "ok"` and `status: {"error":"..."}`.
type qdrantStatus struct {
	State string
	Error string
}

func (s *qdrantStatus) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		s.State = strings.ToLower(v)
		return nil
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj.Error != "" {
		s.State = "error"
		s.Error = obj.Error
	}
	return nil
}

type qdrantEnvelope[T any] struct {
	Status qdrantStatus `json:"status"`
	Time   float64      `json:"time"`
	Result T            `json:"result"`
}

type qdrantPoint struct {
	ID      string        `json:"id"`
	Vector  []float32     `json:"vector,omitempty"`
	Payload model.Payload `json:"payload"`
}

type qdrantScoredPoint struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload model.Payload   `json:"payload"`
}

type qdrantCollectionInfo struct {
	Config struct {
		Params struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
		} `json:"params"`
	} `json:"config"`
}

// NewQdrantStore creates a client for collection at baseURL.
func NewQdrantStore(baseURL, collection, apiKey string, dims int, timeout time.Duration) *QdrantStore {
	if baseURL == "" {
		baseURL = "http://localhost:6333"
	}
	if collection == "" {
		collection = "chat_memory"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &QdrantStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		collection: collection,
		dims:       dims,
		client:     &http.Client{Timeout: timeout},
	}
}

// httpError is a non-2xx response.
type httpError struct {
	Code int
	Msg  string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("qdrant error: http %d: %s", e.Code, e.Msg)
}

func (qs *QdrantStore) collectionPath(parts ...string) string {
	p := "/collections/" + url.PathEscape(qs.collection)
	for _, s := range parts {
		p += "/" + s
	}
	return p
}

// do sends a JSON request and decodes the envelope's result into out.
func (qs *QdrantStore) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, qs.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if qs.apiKey != "" {
		req.Header.Set("api-key", qs.apiKey)
	}

	resp, err := qs.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var env qdrantEnvelope[json.RawMessage]
		_ = json.Unmarshal(respBody, &env)
		msg := env.Status.Error
		if msg == "" {
			msg = strings.TrimSpace(string(respBody))
		}
		return &httpError{Code: resp.StatusCode, Msg: msg}
	}
	if out == nil {
		return nil
	}
	env := qdrantEnvelope[json.RawMessage]{}
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Status.Error != "" {
		return errors.New(env.Status.Error)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func isStatus(err error, code int) bool {
	var he *httpError
	return errors.As(err, &he) && he.Code == code
}

// EnsureCollection creates the collection with cosine distance if it does not
// exist, and fails with ErrDimensionMismatch if it exists with another size.
func (qs *QdrantStore) EnsureCollection(ctx context.Context) error {
	var info qdrantCollectionInfo
	err := qs.do(ctx, http.MethodGet, qs.collectionPath(), nil, &info)
	switch {
	case err == nil:
		if size := info.Config.Params.Vectors.Size; size != qs.dims {
			return fmt.Errorf("%w: collection %s has size %d, want %d", ErrDimensionMismatch, qs.collection, size, qs.dims)
		}
		return nil
	case isStatus(err, http.StatusNotFound):
	default:
		return fmt.Errorf("get collection: %w", err)
	}

	req := map[string]any{
		"vectors": map[string]any{"size": qs.dims, "distance": "Cosine"},
	}
	if err := qs.do(ctx, http.MethodPut, qs.collectionPath(), req, nil); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return nil
		}
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

func (qs *QdrantStore) Upsert(ctx context.Context, rec model.Record) error {
	if err := checkDims(rec.Vector, qs.dims); err != nil {
		return err
	}
	body := map[string]any{
		"points": []qdrantPoint{{ID: rec.ID, Vector: rec.Vector, Payload: rec.Payload()}},
	}
	if err := qs.do(ctx, http.MethodPut, qs.collectionPath("points")+"?wait=true", body, nil); err != nil {
		return fmt.Errorf("upsert point: %w", err)
	}
	return nil
}

func (qs *QdrantStore) Query(ctx context.Context, vec []float32, limit int, threshold float64) ([]model.Hit, error) {
	if err := checkDims(vec, qs.dims); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	body := map[string]any{
		"vector":          vec,
		"limit":           limit,
		"score_threshold": threshold,
		"with_payload":    true,
	}
	var points []qdrantScoredPoint
	if err := qs.do(ctx, http.MethodPost, qs.collectionPath("points", "search"), body, &points); err != nil {
		return nil, fmt.Errorf("search points: %w", err)
	}

	hits := make([]model.Hit, 0, len(points))
	for _, p := range points {
		// score_threshold is inclusive on the server side
		if p.Score <= threshold {
			continue
		}
		hits = append(hits, model.Hit{ID: pointID(p.ID), Score: p.Score, Payload: p.Payload})
	}
	return hits, nil
}

// pointID renders a Qdrant id, which is either a UUID string or an integer.
func pointID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func (qs *QdrantStore) SetPinned(ctx context.Context, id string, pinned bool) error {
	return qs.setPayload(ctx, id, map[string]any{"pinned": pinned})
}

func (qs *QdrantStore) AddInteraction(ctx context.Context, id string, delta int) error {
	qs.mu.Lock()
	defer qs.mu.Unlock()

	p, err := qs.get(ctx, id)
	if err != nil {
		return err
	}
	return qs.setPayload(ctx, id, map[string]any{"interactions": p.Payload.InteractionCount() + delta})
}

func (qs *QdrantStore) get(ctx context.Context, id string) (*qdrantPoint, error) {
	var p qdrantPoint
	err := qs.do(ctx, http.MethodGet, qs.collectionPath("points", url.PathEscape(id)), nil, &p)
	if isStatus(err, http.StatusNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get point: %w", err)
	}
	return &p, nil
}

func (qs *QdrantStore) setPayload(ctx context.Context, id string, payload map[string]any) error {
	body := map[string]any{"payload": payload, "points": []string{id}}
	err := qs.do(ctx, http.MethodPost, qs.collectionPath("points", "payload")+"?wait=true", body, nil)
	if isStatus(err, http.StatusNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("set payload: %w", err)
	}
	return nil
}

// Missing retrieves ids without payloads or vectors and returns the ones the
// collection lacks.
func (qs *QdrantStore) Missing(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	body := map[string]any{"ids": ids, "with_payload": false, "with_vector": false}
	var found []struct {
		ID json.RawMessage `json:"id"`
	}
	if err := qs.do(ctx, http.MethodPost, qs.collectionPath("points"), body, &found); err != nil {
		return nil, fmt.Errorf("retrieve points: %w", err)
	}
	have := make(map[string]bool, len(found))
	for _, p := range found {
		have[strings.ToLower(pointID(p.ID))] = true
	}
	var missing []string
	for _, id := range ids {
		if !have[strings.ToLower(id)] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// Ping lists collections.
func (qs *QdrantStore) Ping(ctx context.Context) error {
	var out json.RawMessage
	if err := qs.do(ctx, http.MethodGet, "/collections", nil, &out); err != nil {
		return fmt.Errorf("ping qdrant: %w", err)
	}
	return nil
}

func (qs *QdrantStore) Close() error {
	qs.client.CloseIdleConnections()
	return nil
}
