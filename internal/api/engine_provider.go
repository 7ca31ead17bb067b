package api

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/samcharles93/kspan/internal/inference"
)

type EngineProvider interface {
	WithEngine(ctx context.Context, fn func(engine inference.Engine, defaults inference.Defaults) error) error
}

type EngineProviderConfig struct {
	Engine   inference.Engine
	Defaults inference.Defaults
	// MaxConcurrent bounds in-flight decodes; zero or less serializes them.
	MaxConcurrent int
}

// SharedEngineProvider hands one engine to a bounded number of concurrent
// callers.
type SharedEngineProvider struct {
	cfg    EngineProviderConfig
	sem    *semaphore.Weighted
	mu     sync.Mutex
	closed bool
}

var errProviderClosed = errors.New("engine provider is closed")

func NewSharedEngineProvider(cfg EngineProviderConfig) *SharedEngineProvider {
	n := cfg.MaxConcurrent
	if n <= 0 {
		n = 1
	}
	return &SharedEngineProvider{
		cfg: cfg,
		sem: semaphore.NewWeighted(int64(n)),
	}
}

func (p *SharedEngineProvider) WithEngine(ctx context.Context, fn func(engine inference.Engine, defaults inference.Defaults) error) error {
	if p.cfg.Engine == nil {
		return errors.New("no engine configured")
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return errProviderClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(p.cfg.Engine, p.cfg.Defaults)
}

// Close waits for in-flight decodes and closes the engine.
func (p *SharedEngineProvider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	n := p.cfg.MaxConcurrent
	if n <= 0 {
		n = 1
	}
	if err := p.sem.Acquire(context.Background(), int64(n)); err != nil {
		return err
	}
	defer p.sem.Release(int64(n))
	if p.cfg.Engine == nil {
		return nil
	}
	return p.cfg.Engine.Close()
}
