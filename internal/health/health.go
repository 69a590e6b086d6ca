// Package health probes the embedding backend, the vector index and the
// realtime transport and keeps the last result.
package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds each probe.
const DefaultTimeout = 3 * time.Second

// Pinger is anything that can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// State is the tri-state result of one probe.
type State string

const (
	StateUnknown State = "unknown"
	StateOK      State = "ok"
	StateDown    State = "down"
)

// Probe is the outcome of one probe.
type Probe struct {
	State   State         `json:"state"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency"`
}

// Status is one aggregate health check.
type Status struct {
	Embedding Probe     `json:"embedding"`
	Store     Probe     `json:"store"`
	Transport Probe     `json:"transport"`
	CheckedAt time.Time `json:"checked_at"`
}

// EmbeddingOK reports whether embedding is usable. Unknown counts as usable.
func (s Status) EmbeddingOK() bool { return s.Embedding.State != StateDown }

// StoreOK reports whether the index is usable. Unknown counts as usable.
func (s Status) StoreOK() bool { return s.Store.State != StateDown }

// TransportOK reports whether the transport is usable. Unknown counts as usable.
func (s Status) TransportOK() bool { return s.Transport.State != StateDown }

// Supervisor runs the probes. Any of the targets may be nil, in which case
// that probe reports unknown.
type Supervisor struct {
	embedding Pinger
	store     Pinger
	transport Pinger
	timeout   time.Duration
	log       zerolog.Logger

	last atomic.Pointer[Status]
}

// New creates a supervisor. timeout <= 0 uses DefaultTimeout.
func New(embedding, store, transport Pinger, timeout time.Duration, log zerolog.Logger) *Supervisor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Supervisor{embedding: embedding, store: store, transport: transport, timeout: timeout, log: log}
}

// Check runs all probes concurrently and waits for every one to settle.
// It never retries.
func (s *Supervisor) Check(ctx context.Context) Status {
	var st Status
	var g errgroup.Group
	g.Go(func() error { st.Embedding = s.probe(ctx, "embedding", s.embedding); return nil })
	g.Go(func() error { st.Store = s.probe(ctx, "store", s.store); return nil })
	g.Go(func() error { st.Transport = s.probe(ctx, "transport", s.transport); return nil })
	_ = g.Wait()
	st.CheckedAt = time.Now()

	s.last.Store(&st)
	return st
}

func (s *Supervisor) probe(ctx context.Context, name string, p Pinger) Probe {
	if p == nil {
		return Probe{State: StateUnknown}
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	errc := make(chan error, 1)
	go func() { errc <- p.Ping(ctx) }()

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
		err = ctx.Err()
	}
	res := Probe{State: StateOK, Latency: time.Since(start)}
	if err != nil {
		res.State = StateDown
		res.Error = err.Error()
		s.log.Debug().Err(err).Str("probe", name).Msg("probe failed")
	}
	return res
}

// Last returns the most recent status. Before the first check every probe
// is unknown.
func (s *Supervisor) Last() Status {
	if st := s.last.Load(); st != nil {
		return *st
	}
	return Status{
		Embedding: Probe{State: StateUnknown},
		Store:     Probe{State: StateUnknown},
		Transport: Probe{State: StateUnknown},
	}
}

// Run checks once immediately and then every interval until ctx is done.
// onCheck, if non-nil, receives every status.
func (s *Supervisor) Run(ctx context.Context, interval time.Duration, onCheck func(Status)) {
	check := func() {
		prev := s.Last()
		st := s.Check(ctx)
		if ctx.Err() != nil {
			return
		}
		s.logTransitions(prev, st)
		if onCheck != nil {
			onCheck(st)
		}
	}

	check()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

func (s *Supervisor) logTransitions(prev, cur Status) {
	for _, p := range []struct {
		name          string
		before, after Probe
	}{
		{"embedding", prev.Embedding, cur.Embedding},
		{"store", prev.Store, cur.Store},
		{"transport", prev.Transport, cur.Transport},
	} {
		if p.before.State == p.after.State {
			continue
		}
		lvl := zerolog.InfoLevel
		if p.after.State == StateDown {
			lvl = zerolog.WarnLevel
		}
		s.log.WithLevel(lvl).Str("error", p.after.Error).Str("probe", p.name).Str("from", string(p.before.State)).Str("to", string(p.after.State)).Msg("health changed")
	}
}
