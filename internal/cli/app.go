package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/rcliao/vecmem/internal/budget"
	"github.com/rcliao/vecmem/internal/config"
	"github.com/rcliao/vecmem/internal/embedding"
	"github.com/rcliao/vecmem/internal/engine"
	"github.com/rcliao/vecmem/internal/health"
	"github.com/rcliao/vecmem/internal/logging"
	"github.com/rcliao/vecmem/internal/model"
	"github.com/rcliao/vecmem/internal/retrieval"
	"github.com/rcliao/vecmem/internal/snapshot"
	"github.com/rcliao/vecmem/internal/store"
	"github.com/rcliao/vecmem/internal/transport"
)

// app holds the wired components for one command invocation.
type app struct {
	cfg       *config.Config
	mode      model.Mode
	log       zerolog.Logger
	gateway   *embedding.Gateway
	index     store.Store
	snap      *snapshot.Store
	counter   *budget.Counter
	responder transport.Responder
	health    *health.Supervisor
	engine    *engine.Engine

	closers []func() error
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	a := &app{cfg: cfg, mode: currentMode(cfg)}

	log, closeLog, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return nil, err
	}
	a.log = log
	a.closers = append(a.closers, closeLog)

	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg
	dims := cfg.Embedding.Dimensions

	var backends []embedding.Backend
	for _, bc := range cfg.Embedding.Backends() {
		b, err := embedding.NewBackend(bc, dims, cfg.Embedding.Timeout)
		if err != nil {
			return fmt.Errorf("embedding backend: %w", err)
		}
		backends = append(backends, b)
	}
	gw, err := embedding.NewGateway(embedding.GatewayConfig{
		Dimensions: dims,
		CacheSize:  cfg.Embedding.CacheSize,
		Timeout:    cfg.Embedding.Timeout,
		Logger:     a.log.With().Str("component", "embedding").Logger(),
	}, backends...)
	if err != nil {
		return err
	}
	a.gateway = gw

	index, err := store.Open(ctx, cfg.Store, dims, a.log)
	if err != nil {
		if cfg.Store.Kind != "qdrant" {
			return fmt.Errorf("open store: %w", err)
		}
		a.log.Warn().Err(err).Msg("qdrant unavailable, using in-process index")
		local, lerr := store.NewChromemStore(dims)
		if lerr != nil {
			return errors.Join(err, lerr)
		}
		index = local
	}
	a.index = index
	a.closers = append(a.closers, index.Close)

	snap, err := snapshot.Open(cfg.Snapshot.Path, a.log.With().Str("component", "snapshot").Logger())
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	a.snap = snap
	a.closers = append(a.closers, snap.Close)

	counter, err := budget.NewCounter(cfg.Budget.TokenMemo)
	if err != nil {
		return fmt.Errorf("token counter: %w", err)
	}
	a.counter = counter
	a.closers = append(a.closers, func() error { counter.Close(); return nil })

	responder, err := transport.New(cfg.Transport, a.log.With().Str("component", "transport").Logger())
	if err != nil {
		return err
	}
	a.responder = responder
	a.closers = append(a.closers, responder.Close)

	a.health = health.New(gw, index, responder, cfg.Health.Timeout, a.log.With().Str("component", "health").Logger())

	a.engine = engine.New(engine.Deps{
		Embedder:  gw,
		Index:     index,
		Retriever: retrieval.New(cfg.Retrieval, gw, index, a.log.With().Str("component", "retrieval").Logger()),
		Assembler: budget.NewAssembler(counter, cfg.Budget.MemoryShare),
		Snapshot:  snap,
		Health:    a.health,
		Logger:    a.log.With().Str("component", "engine").Logger(),
	}, engine.Options{MemoryEnabled: cfg.Memory.Enabled})
	a.closers = append(a.closers, a.engine.Close)

	if _, err := a.engine.Restore(ctx); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	return nil
}

// Close releases components in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Debug().Err(err).Msg("close")
		}
	}
	a.closers = nil
}

func mustOpenApp(ctx context.Context) *app {
	a, err := openApp(ctx)
	if err != nil {
		exitErr("open", err)
	}
	return a
}
