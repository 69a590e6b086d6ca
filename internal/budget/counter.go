// Package budget estimates token costs and packs conversation turns and
// retrieved memories into a bounded prompt context.
package budget

import (
	"strings"
	"unicode/utf8"

	"github.com/dgraph-io/ristretto"
)

// Counter estimates token counts with a character heuristic. It is not a
// tokenizer: the count is an approximation, but it is deterministic and the
// same function is used for budgeting and display.
//
//	floor(runes/4 + newlines*0.5 + punctuation*0.3), minimum 1 for non-empty text
type Counter struct {
	memo *ristretto.Cache
}

// NewCounter creates a counter that memoizes up to roughly maxEntries texts.
// maxEntries <= 0 disables memoization.
func NewCounter(maxEntries int64) (*Counter, error) {
	if maxEntries <= 0 {
		return &Counter{}, nil
	}
	memo, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Counter{memo: memo}, nil
}

// Count returns the estimated token count of text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c.memo != nil {
		if v, ok := c.memo.Get(text); ok {
			return v.(int)
		}
	}
	n := Estimate(text)
	if c.memo != nil {
		c.memo.Set(text, n, 1)
	}
	return n
}

// Close releases the memo.
func (c *Counter) Close() {
	if c.memo != nil {
		c.memo.Close()
	}
}

// Estimate is the uncached heuristic behind Count.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	tokens := float64(utf8.RuneCountInString(text)) / 4
	tokens += float64(strings.Count(text, "\n")) * 0.5

	special := 0
	for _, r := range text {
		switch r {
		case '{', '}', '[', ']', '(', ')', '<', '>', ':', ';', ',', '.', '!', '?', '"', '\'', '`':
			special++
		}
	}
	tokens += float64(special) * 0.3

	if tokens < 1 {
		return 1
	}
	return int(tokens)
}
