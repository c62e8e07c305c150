package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/unmark"
	"github.com/xraph/unmark/backoff"
	"github.com/xraph/unmark/dlq"
	"github.com/xraph/unmark/ext"
	"github.com/xraph/unmark/id"
	"github.com/xraph/unmark/job"
	mw "github.com/xraph/unmark/middleware"
	"github.com/xraph/unmark/observability"
	"github.com/xraph/unmark/poll"
	"github.com/xraph/unmark/queue"
	"github.com/xraph/unmark/removal"
	"github.com/xraph/unmark/settlement"
	"github.com/xraph/unmark/task"
	"github.com/xraph/unmark/worker"
)

const (
	middlewareScope    = "github.com/xraph/unmark/middleware"
	observabilityScope = "github.com/xraph/unmark/observability"
)

// Engine runs watermark removal jobs for a Pipeline on the durable queue.
type Engine struct {
	p      *unmark.Pipeline
	logger *slog.Logger

	hooks *ext.Registry
	jobs  *job.Registry
	queue job.Store
	dead  *dlq.Service
	pool  *worker.Pool

	retry  backoff.Strategy
	extra  []mw.Middleware
	limits []queue.Limits

	vendor    removal.Vendor
	pollOpts  []poll.Option
	processor *removal.Processor

	tp trace.TracerProvider
	mp metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension subscribes e to lifecycle events.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.hooks.Register(e) }
}

// WithMiddleware adds m after the built-in chain, so it wraps the
// removal handler directly.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.extra = append(eng.extra, m) }
}

// WithBackoff replaces the retry delay between queue attempts. The
// default doubles Config.RetryDelay up to one minute.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.retry = b }
}

// WithVendor enables watermark removal. Without a vendor the engine has
// no job registered and every dequeued job fails as unknown.
func WithVendor(v removal.Vendor) Option {
	return func(eng *Engine) { eng.vendor = v }
}

// WithPollOptions tunes the vendor status poller.
func WithPollOptions(opts ...poll.Option) Option {
	return func(eng *Engine) { eng.pollOpts = append(eng.pollOpts, opts...) }
}

// WithQueueLimits caps in-flight jobs and start rate per queue. Other
// queues are bounded by pool concurrency alone.
func WithQueueLimits(limits ...queue.Limits) Option {
	return func(eng *Engine) { eng.limits = append(eng.limits, limits...) }
}

// WithTracerProvider traces attempts on tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tp = tp }
}

// WithMeterProvider records attempt and lifecycle metrics on mp instead
// of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.mp = mp }
}

// Build attaches a worker pool to p. The store must be a job.Store and a
// dlq.Store; with a vendor it must also be a task.Store and a
// settlement.Store.
func Build(p *unmark.Pipeline, opts ...Option) (*Engine, error) {
	st := p.Store()
	if st == nil {
		return nil, unmark.ErrNoStore
	}
	js, ok := st.(job.Store)
	if !ok {
		return nil, fmt.Errorf("unmark: %T is not a job.Store", st)
	}
	ds, ok := st.(dlq.Store)
	if !ok {
		return nil, fmt.Errorf("unmark: %T is not a dlq.Store", st)
	}

	eng := &Engine{
		p:      p,
		logger: p.Logger(),
		hooks:  ext.NewRegistry(p.Logger()),
		jobs:   job.NewRegistry(),
		queue:  js,
		dead:   dlq.NewService(ds, js),
		tp:     otel.GetTracerProvider(),
		mp:     otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(eng)
	}

	cfg := p.Config()
	if eng.retry == nil {
		eng.retry = backoff.Exponential(cfg.RetryDelay, time.Minute)
	}
	eng.hooks.Register(observability.NewMetricsExtensionWithMeter(eng.mp.Meter(observabilityScope)))

	if eng.vendor != nil {
		if err := eng.registerRemoval(st, cfg); err != nil {
			return nil, err
		}
	}

	executor := worker.NewExecutor(eng.jobs, eng.hooks, eng.queue, eng.dead, eng.retry, eng.logger, eng.chain()...)
	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(cfg.Concurrency),
		worker.WithPoolQueues(cfg.Queues),
		worker.WithPollInterval(cfg.PollInterval),
		worker.WithHeartbeatInterval(cfg.HeartbeatInterval),
		worker.WithStaleJobThreshold(cfg.StaleJobThreshold),
	}
	if len(eng.limits) > 0 {
		poolOpts = append(poolOpts, worker.WithGate(queue.NewGate(eng.limits...)))
	}
	eng.pool = worker.NewPool(eng.queue, executor, eng.hooks, eng.logger, poolOpts...)

	p.SetPool(eng.pool)
	p.SetExtensions(eng.hooks)
	return eng, nil
}

// chain is the attempt middleware, outermost first.
func (eng *Engine) chain() []mw.Middleware {
	chain := []mw.Middleware{
		mw.Recover(eng.logger),
		mw.TracingWithTracer(eng.tp.Tracer(middlewareScope)),
		mw.MetricsWithMeter(eng.mp.Meter(middlewareScope)),
		mw.Logging(eng.logger),
		mw.Timeout(eng.logger),
	}
	return append(chain, eng.extra...)
}

func (eng *Engine) registerRemoval(st unmark.Storer, cfg unmark.Config) error {
	ts, ok := st.(task.Store)
	if !ok {
		return fmt.Errorf("unmark: %T is not a task.Store", st)
	}
	ss, ok := st.(settlement.Store)
	if !ok {
		return fmt.Errorf("unmark: %T is not a settlement.Store", st)
	}

	settler := settlement.NewManager(ss,
		settlement.WithAmount(cfg.RefundAmount),
		settlement.WithEmitter(eng.hooks),
		settlement.WithLogger(eng.logger),
	)
	poller := poll.Durable(cfg.RemotePollBase, cfg.RemotePollCap, cfg.RemotePollJitter, cfg.RemotePollAttempts,
		append([]poll.Option{poll.WithLogger(eng.logger)}, eng.pollOpts...)...)

	eng.processor = removal.NewProcessor(ts, eng.vendor, poller, settler,
		removal.WithEmitter(eng.hooks),
		removal.WithLogger(eng.logger),
	)
	Register(eng, eng.processor.Definition(job.WithMaxAttempts(cfg.MaxAttempts)))
	return nil
}

// Register adds a typed job definition.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.jobs, def)
}

// EnqueueRaw queues name with an encoded payload. The definition's
// defaults apply first, then opts.
func (eng *Engine) EnqueueRaw(ctx context.Context, name string, payload []byte, opts ...job.Option) (*job.Job, error) {
	o := eng.jobs.Defaults(name)
	for _, opt := range opts {
		opt(&o)
	}

	runAt := o.RunAt
	if runAt.IsZero() {
		runAt = time.Now().UTC()
	}
	j := &job.Job{
		Entity:      unmark.NewEntity(),
		ID:          id.NewJobID(),
		Name:        name,
		Queue:       o.Queue,
		Key:         o.Key,
		Payload:     payload,
		State:       job.StatePending,
		Priority:    o.Priority,
		MaxAttempts: o.MaxAttempts,
		Timeout:     o.Timeout,
		RunAt:       runAt,
	}
	if err := eng.queue.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}
	eng.hooks.EmitJobEnqueued(ctx, j)
	return j, nil
}

// Submit validates sub and queues its removal job with the pipeline's
// attempt budget.
func (eng *Engine) Submit(ctx context.Context, sub removal.Submission) (*job.Job, error) {
	return removal.Submit(ctx, eng, sub)
}

// Start runs the worker pool until Stop.
func (eng *Engine) Start(ctx context.Context) error {
	if eng.processor == nil {
		eng.logger.Warn("engine started without a vendor; watermark jobs will fail as unregistered")
	}
	return eng.p.Start(ctx)
}

// Stop drains in-flight attempts and stops the pool.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.p.Stop(ctx)
}
