// Package model defines the core memory data types.
package model

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ValidRoles are the allowed turn roles.
var ValidRoles = map[Role]bool{
	RoleUser:      true,
	RoleAssistant: true,
}

// Record is the unit of long-term memory: one committed conversation turn.
// ID, Vector and Timestamp are set once at creation and never change.
type Record struct {
	ID           string    `json:"id"`
	Role         Role      `json:"role,omitempty"`
	Text         string    `json:"text"`
	Vector       []float32 `json:"vector,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Pinned       bool      `json:"pinned"`
	Interactions int       `json:"interactions"`
}

// Payload is the part of a record stored next to its vector in the index.
// Timestamp is unix milliseconds.
type Payload struct {
	Content      string `json:"content"`
	Role         Role   `json:"role,omitempty"`
	Timestamp    int64  `json:"timestamp"`
	Pinned       bool   `json:"pinned"`
	Interactions int    `json:"interactions,omitempty"`
}

// Payload returns the index payload for r.
func (r Record) Payload() Payload {
	return Payload{
		Content:      r.Text,
		Role:         r.Role,
		Timestamp:    r.Timestamp.UnixMilli(),
		Pinned:       r.Pinned,
		Interactions: r.Interactions,
	}
}

// InteractionCount returns the interaction counter, defaulting to 1 when absent.
func (p Payload) InteractionCount() int {
	if p.Interactions <= 0 {
		return 1
	}
	return p.Interactions
}

// Time converts the payload timestamp. The zero time is returned for a missing timestamp.
func (p Payload) Time() time.Time {
	if p.Timestamp <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(p.Timestamp)
}

// Hit is a raw nearest-neighbor match returned by a vector store.
type Hit struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Payload Payload `json:"payload"`
}

// Record converts the hit back into a record (without vector).
func (h Hit) Record() Record {
	return Record{
		ID:           h.ID,
		Role:         h.Payload.Role,
		Text:         h.Payload.Content,
		Timestamp:    h.Payload.Time(),
		Pinned:       h.Payload.Pinned,
		Interactions: h.Payload.InteractionCount(),
	}
}

// Scored is a re-ranked retrieval result. Score is computed per query and never persisted.
type Scored struct {
	Record     Record  `json:"record"`
	Similarity float64 `json:"similarity"`
	Score      float64 `json:"score"`
}

// Mode is the conversational tier that scales the token ceiling and memory weighting.
type Mode string

const (
	ModeLean        Mode = "lean"
	ModeOmega       Mode = "omega"
	ModeInvestigate Mode = "investigate"
)

// ParseMode maps a mode name to a Mode. Unknown names fall back to omega.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lean":
		return ModeLean
	case "investigate":
		return ModeInvestigate
	default:
		return ModeOmega
	}
}

// Ceiling returns the token ceiling for injected context in this mode.
func (m Mode) Ceiling() int {
	switch m {
	case ModeLean:
		return 2048
	case ModeInvestigate:
		return 12288
	default:
		return 8192
	}
}

// Weight is the retrieval multiplier. Lean suppresses memory influence.
func (m Mode) Weight() float64 {
	if m == ModeLean {
		return 0.8
	}
	return 1.2
}

var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a time-ordered ULID rendered in UUID text form, which vector
// stores such as Qdrant accept as a point id.
func NewID(t time.Time) string {
	idMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(t), idEntropy)
	idMu.Unlock()
	return uuid.UUID(id).String()
}
