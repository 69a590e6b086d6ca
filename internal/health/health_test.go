package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok() Pinger { return PingFunc(func(context.Context) error { return nil }) }

func fail(msg string) Pinger {
	return PingFunc(func(context.Context) error { return errors.New(msg) })
}

// hang ignores its context, like a client stuck on a dead socket.
func hang(d time.Duration) Pinger {
	return PingFunc(func(context.Context) error { time.Sleep(d); return nil })
}

func TestCheck(t *testing.T) {
	s := New(ok(), fail("connection refused"), nil, time.Second, zerolog.Nop())
	st := s.Check(context.Background())

	assert.Equal(t, StateOK, st.Embedding.State)
	assert.Equal(t, StateDown, st.Store.State)
	assert.Equal(t, "connection refused", st.Store.Error)
	assert.Equal(t, StateUnknown, st.Transport.State)
	assert.False(t, st.CheckedAt.IsZero())

	assert.True(t, st.EmbeddingOK())
	assert.False(t, st.StoreOK())
	assert.True(t, st.TransportOK(), "unknown counts as usable")

	assert.Equal(t, st, s.Last())
}

func TestCheckTimeoutDoesNotStallOthers(t *testing.T) {
	s := New(hang(2*time.Second), ok(), ok(), 50*time.Millisecond, zerolog.Nop())

	start := time.Now()
	st := s.Check(context.Background())

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateDown, st.Embedding.State)
	assert.Contains(t, st.Embedding.Error, "deadline exceeded")
	assert.Equal(t, StateOK, st.Store.State)
	assert.Equal(t, StateOK, st.Transport.State)
}

func TestCheckRunsConcurrently(t *testing.T) {
	slow := hang(100 * time.Millisecond)
	s := New(slow, slow, slow, time.Second, zerolog.Nop())

	start := time.Now()
	s.Check(context.Background())
	assert.Less(t, time.Since(start), 250*time.Millisecond)
}

func TestLastBeforeFirstCheck(t *testing.T) {
	st := New(ok(), ok(), ok(), 0, zerolog.Nop()).Last()
	assert.Equal(t, StateUnknown, st.Embedding.State)
	assert.True(t, st.StoreOK())
	assert.True(t, st.CheckedAt.IsZero())
}

func TestRun(t *testing.T) {
	var calls atomic.Int32
	counting := PingFunc(func(context.Context) error { calls.Add(1); return nil })
	s := New(counting, nil, nil, time.Second, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	seen := make(chan Status, 16)
	done := make(chan struct{})
	go func() {
		s.Run(ctx, 20*time.Millisecond, func(st Status) { seen <- st })
		close(done)
	}()

	for i := 0; i < 3; i++ {
		select {
		case st := <-seen:
			assert.Equal(t, StateOK, st.Embedding.State)
		case <-time.After(time.Second):
			t.Fatal("no health check")
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
	require.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestRunOnce(t *testing.T) {
	var calls atomic.Int32
	s := New(PingFunc(func(context.Context) error { calls.Add(1); return nil }), nil, nil, 0, zerolog.Nop())
	s.Run(context.Background(), 0, nil)
	assert.Equal(t, int32(1), calls.Load())
}
