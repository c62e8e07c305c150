package unmark

import (
	"context"
	"log/slog"
)

// Storer is the part of a store the Pipeline itself uses. engine.Build
// asserts the richer per-subsystem interfaces on the same value.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type shutdownEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Pipeline carries the durable profile's configuration, logger and store.
// engine.Build attaches the worker pool and extensions to it.
type Pipeline struct {
	config Config
	logger *slog.Logger
	store  Storer

	pool    runner
	hooks   shutdownEmitter
	running bool
}

// New applies opts over DefaultConfig. The first option error aborts.
func New(opts ...Option) (*Pipeline, error) {
	p := &Pipeline{config: DefaultConfig(), logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Pipeline) Logger() *slog.Logger { return p.logger }
func (p *Pipeline) Store() Storer        { return p.store }
func (p *Pipeline) Config() Config       { return p.config }

// SetPool and SetExtensions are called by engine.Build.
func (p *Pipeline) SetPool(r runner)                { p.pool = r }
func (p *Pipeline) SetExtensions(e shutdownEmitter) { p.hooks = e }

// Start runs the worker pool. It fails with ErrNoStore until engine.Build
// has wired one.
func (p *Pipeline) Start(ctx context.Context) error {
	if p.pool == nil {
		return ErrNoStore
	}
	if err := p.pool.Start(ctx); err != nil {
		return err
	}
	p.running = true
	return nil
}

// Stop drains the pool within ctx, tells extensions to shut down and
// closes the store.
func (p *Pipeline) Stop(ctx context.Context) error {
	if p.running {
		p.running = false
		if err := p.pool.Stop(ctx); err != nil {
			p.logger.Error("pool stop error", slog.String("error", err.Error()))
		}
	}
	if p.hooks != nil {
		p.hooks.EmitShutdown(ctx)
	}
	if p.store == nil {
		return nil
	}
	return p.store.Close()
}
