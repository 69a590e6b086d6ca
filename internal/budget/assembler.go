package budget

import (
	"sort"
	"strings"
	"time"

	"github.com/rcliao/vecmem/internal/model"
)

// DefaultMemoryShare is the fraction of the ceiling retrieved memories may use.
const DefaultMemoryShare = 0.75

// Source tells where a context item came from.
type Source string

const (
	SourceTurn   Source = "turn"
	SourceMemory Source = "memory"
)

// Item is one candidate for the context block.
type Item struct {
	ID        string     `json:"id"`
	Source    Source     `json:"source"`
	Role      model.Role `json:"role,omitempty"`
	Text      string     `json:"text"`
	Timestamp time.Time  `json:"timestamp"`
	Pinned    bool       `json:"pinned,omitempty"`
	Score     float64    `json:"score,omitempty"`
	Tokens    int        `json:"tokens"`
}

// Result is an assembled context.
type Result struct {
	Block      string `json:"block"`
	Ceiling    int    `json:"ceiling"`
	Used       int    `json:"used"`
	MemoryUsed int    `json:"memory_used"`
	// Included is in inclusion order: pinned first, then newest first.
	Included []Item `json:"included"`
	Dropped  []Item `json:"dropped,omitempty"`
}

// Assembler selects what fits in the token ceiling.
type Assembler struct {
	counter     *Counter
	memoryShare float64
}

// NewAssembler creates an assembler. A share outside (0, 1] uses DefaultMemoryShare.
func NewAssembler(counter *Counter, memoryShare float64) *Assembler {
	if memoryShare <= 0 || memoryShare > 1 {
		memoryShare = DefaultMemoryShare
	}
	return &Assembler{counter: counter, memoryShare: memoryShare}
}

// Counter returns the token counter used for budgeting.
func (a *Assembler) Counter() *Counter { return a.counter }

// Assemble packs turns and memories under ceiling.
//
// Pinned items are always included and charged first, even past the
// ceiling. The rest is walked newest first and stops at the first item that
// would overflow. Retrieved memories are additionally held under
// ceiling*memoryShare; the first memory that would cross it closes the door
// to further memories while turns keep filling. A memory that duplicates a
// conversation turn is dropped.
func (a *Assembler) Assemble(turns []model.Record, memories []model.Scored, ceiling int) Result {
	items := make([]Item, 0, len(turns)+len(memories))
	seen := make(map[string]bool, len(turns))
	for _, t := range turns {
		seen[t.ID] = true
		items = append(items, Item{
			ID: t.ID, Source: SourceTurn, Role: t.Role, Text: t.Text,
			Timestamp: t.Timestamp, Pinned: t.Pinned, Tokens: a.counter.Count(t.Text),
		})
	}
	res := Result{Ceiling: ceiling}
	for _, m := range memories {
		it := Item{
			ID: m.Record.ID, Source: SourceMemory, Role: m.Record.Role, Text: m.Record.Text,
			Timestamp: m.Record.Timestamp, Pinned: m.Record.Pinned, Score: m.Score,
			Tokens: a.counter.Count(m.Record.Text),
		}
		if seen[it.ID] {
			res.Dropped = append(res.Dropped, it)
			continue
		}
		seen[it.ID] = true
		items = append(items, it)
	}

	var pinned, rest []Item
	for _, it := range items {
		if it.Pinned {
			pinned = append(pinned, it)
		} else {
			rest = append(rest, it)
		}
	}
	sortNewestFirst(pinned)
	sortNewestFirst(rest)

	b := New(ceiling)
	memCap := int(float64(ceiling) * a.memoryShare)
	for _, it := range pinned {
		_ = b.Force(it.Tokens)
		if it.Source == SourceMemory {
			res.MemoryUsed += it.Tokens
		}
		res.Included = append(res.Included, it)
	}

	memClosed := false
	for i, it := range rest {
		if it.Source == SourceMemory {
			if memClosed || res.MemoryUsed+it.Tokens > memCap {
				memClosed = true
				res.Dropped = append(res.Dropped, it)
				continue
			}
		}
		if err := b.Consume(it.Tokens); err != nil {
			res.Dropped = append(res.Dropped, rest[i:]...)
			break
		}
		if it.Source == SourceMemory {
			res.MemoryUsed += it.Tokens
		}
		res.Included = append(res.Included, it)
	}

	res.Used = b.Used
	res.Block = Render(res.Included)
	return res
}

func sortNewestFirst(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].Timestamp.Equal(items[j].Timestamp) {
			return items[i].Timestamp.After(items[j].Timestamp)
		}
		return items[i].ID < items[j].ID
	})
}

// Render writes items oldest first, one per line. Memories are labelled
// "memory", turns by their role.
func Render(items []Item) string {
	ordered := make([]Item, len(items))
	copy(ordered, items)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Timestamp.Before(ordered[j].Timestamp)
		}
		return ordered[i].ID < ordered[j].ID
	})

	var sb strings.Builder
	for i, it := range ordered {
		if i > 0 {
			sb.WriteByte('\n')
		}
		label := string(it.Role)
		if it.Source == SourceMemory {
			label = "memory"
		} else if label == "" {
			label = "turn"
		}
		sb.WriteString(label)
		if it.Pinned {
			sb.WriteString(" (pinned)")
		}
		sb.WriteString(": ")
		sb.WriteString(strings.ReplaceAll(it.Text, "\n", " "))
	}
	return sb.String()
}
