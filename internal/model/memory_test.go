package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		ceiling int
		weight  float64
	}{
		{"lean", ModeLean, 2048, 0.8},
		{"Lean", ModeLean, 2048, 0.8},
		{"omega", ModeOmega, 8192, 1.2},
		{"investigate", ModeInvestigate, 12288, 1.2},
		{"", ModeOmega, 8192, 1.2},
		{"standard", ModeOmega, 8192, 1.2},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			m := ParseMode(tt.in)
			assert.Equal(t, tt.want, m)
			assert.Equal(t, tt.ceiling, m.Ceiling())
			assert.InDelta(t, tt.weight, m.Weight(), 1e-9)
		})
	}
}

func TestPayloadDefaults(t *testing.T) {
	p := Payload{Content: "x"}
	assert.Equal(t, 1, p.InteractionCount())
	assert.True(t, p.Time().IsZero())

	p.Interactions = 4
	assert.Equal(t, 4, p.InteractionCount())
}

func TestRecordPayloadRoundTrip(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_123)
	r := Record{ID: "a", Role: RoleUser, Text: "hello", Timestamp: now, Pinned: true, Interactions: 3}

	h := Hit{ID: r.ID, Score: 0.5, Payload: r.Payload()}
	got := h.Record()

	assert.Equal(t, r.Text, got.Text)
	assert.Equal(t, r.Role, got.Role)
	assert.True(t, got.Timestamp.Equal(now))
	assert.True(t, got.Pinned)
	assert.Equal(t, 3, got.Interactions)
}

func TestNewID(t *testing.T) {
	now := time.Now()
	seen := map[string]bool{}
	prev := ""
	for i := 0; i < 100; i++ {
		id := NewID(now)
		_, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
		if prev != "" {
			assert.Greater(t, id, prev, "ids must sort by creation")
		}
		prev = id
	}
}
