package fallback

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func step(name string, v int, err error, calls *[]string) Step[int] {
	return Step[int]{Name: name, Call: func(context.Context) (int, error) {
		*calls = append(*calls, name)
		return v, err
	}}
}

func TestChainDo(t *testing.T) {
	boom := errors.New("boom")

	t.Run("primary wins", func(t *testing.T) {
		var calls []string
		c := New(zerolog.Nop(), step("a", 1, nil, &calls), step("b", 2, nil, &calls))
		v, name, err := c.Do(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, v)
		assert.Equal(t, "a", name)
		assert.Equal(t, []string{"a"}, calls)
	})

	t.Run("falls through to secondary", func(t *testing.T) {
		var calls []string
		c := New(zerolog.Nop(), step("a", 0, boom, &calls), step("b", 2, nil, &calls))
		v, name, err := c.Do(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, v)
		assert.Equal(t, "b", name)
		assert.Equal(t, []string{"a", "b"}, calls)
	})

	t.Run("exhausted", func(t *testing.T) {
		var calls []string
		c := New(zerolog.Nop(), step("a", 0, boom, &calls), step("b", 0, boom, &calls))
		_, _, err := c.Do(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrExhausted)
		assert.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "b: boom")
	})

	t.Run("empty chain", func(t *testing.T) {
		_, _, err := New[int](zerolog.Nop()).Do(context.Background())
		assert.ErrorIs(t, err, ErrExhausted)
	})

	t.Run("cancelled context stops early", func(t *testing.T) {
		var calls []string
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		c := New(zerolog.Nop(), step("a", 1, nil, &calls))
		_, _, err := c.Do(ctx)
		assert.ErrorIs(t, err, ErrExhausted)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, calls)
	})
}
