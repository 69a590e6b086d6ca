package budget

import (
	"errors"
	"fmt"
)

var (
	// ErrBudgetExceeded is returned when a consumption would pass the ceiling.
	ErrBudgetExceeded = errors.New("token budget exceeded")
	// ErrNegativeTokens is returned for a negative consumption.
	ErrNegativeTokens = errors.New("negative token count")
)

// TokenBudget tracks token use against a ceiling for one assembly pass.
type TokenBudget struct {
	Ceiling int `json:"ceiling"`
	Used    int `json:"used"`
}

// New returns an empty budget.
func New(ceiling int) *TokenBudget {
	return &TokenBudget{Ceiling: ceiling}
}

// Consume adds n tokens. On error the budget is left unchanged.
func (b *TokenBudget) Consume(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeTokens, n)
	}
	if b.Used+n > b.Ceiling {
		return fmt.Errorf("%w: %d + %d > %d", ErrBudgetExceeded, b.Used, n, b.Ceiling)
	}
	b.Used += n
	return nil
}

// Force adds n tokens without checking the ceiling. Pinned items use it.
func (b *TokenBudget) Force(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeTokens, n)
	}
	b.Used += n
	return nil
}

// Remaining returns the tokens left, never negative.
func (b *TokenBudget) Remaining() int {
	return max(b.Ceiling-b.Used, 0)
}
