// Package fallback runs a call against an ordered list of backends and
// returns the first success.
package fallback

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrExhausted is returned when every step of a chain failed.
var ErrExhausted = errors.New("all backends failed")

// Step is one named attempt in a chain.
type Step[T any] struct {
	Name string
	Call func(ctx context.Context) (T, error)
}

// Chain tries each step in order. Step errors are logged at warn and
// collected; they only surface joined under ErrExhausted.
type Chain[T any] struct {
	steps []Step[T]
	log   zerolog.Logger
}

// New creates a chain over steps.
func New[T any](log zerolog.Logger, steps ...Step[T]) *Chain[T] {
	return &Chain[T]{steps: steps, log: log}
}

// Len returns the number of steps.
func (c *Chain[T]) Len() int { return len(c.steps) }

// Do runs the chain. It returns the first successful value and the name of
// the step that produced it.
func (c *Chain[T]) Do(ctx context.Context) (T, string, error) {
	var zero T
	errs := make([]error, 0, len(c.steps))
	for _, s := range c.steps {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		v, err := s.Call(ctx)
		if err == nil {
			return v, s.Name, nil
		}
		c.log.Warn().Err(err).Str("backend", s.Name).Msg("fallback step failed")
		errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
	}
	if len(errs) == 0 {
		return zero, "", fmt.Errorf("%w: no steps", ErrExhausted)
	}
	return zero, "", fmt.Errorf("%w: %w", ErrExhausted, errors.Join(errs...))
}
