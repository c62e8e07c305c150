package inline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/unmark/job"
	"github.com/xraph/unmark/removal"
	"github.com/xraph/unmark/task"
)

// ErrCycleInProgress is returned by RunCycle when another cycle holds
// the dispatch flag.
var ErrCycleInProgress = errors.New("inline: dispatch cycle already running")

// Processor runs one attempt of a task. *removal.Processor satisfies it.
type Processor interface {
	Process(ctx context.Context, pl removal.Payload, a job.Attempt) error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithConcurrency caps tasks in PROCESSING. Default 2.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithMaxAttempts sets the attempt budget per task. Default 3.
func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithInterval sets how often Start triggers a dispatch cycle. Default 5s.
func WithInterval(iv time.Duration) Option {
	return func(d *Dispatcher) { d.interval = iv }
}

// WithReclaimSchedule sets the cron spec for the standalone stuck sweep.
// Default "@every 30s".
func WithReclaimSchedule(spec string) Option {
	return func(d *Dispatcher) { d.reclaimSpec = spec }
}

// WithLogger sets the dispatcher's logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// Dispatcher drives the inline profile.
type Dispatcher struct {
	tasks     task.Store
	proc      Processor
	reclaimer *Reclaimer
	logger    *slog.Logger

	concurrency int
	maxAttempts int
	interval    time.Duration
	reclaimSpec string

	running atomic.Bool

	mu       sync.Mutex
	inflight map[string]struct{}

	cron   *cronlib.Cron
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(tasks task.Store, proc Processor, reclaimer *Reclaimer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		tasks:       tasks,
		proc:        proc,
		reclaimer:   reclaimer,
		logger:      slog.Default(),
		concurrency: 2,
		maxAttempts: 3,
		interval:    5 * time.Second,
		reclaimSpec: "@every 30s",
		inflight:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// RunCycle sweeps stuck tasks, then dispatches PENDING tasks until the
// concurrency cap is reached. It returns the number dispatched. Attempts
// run in the background; Stop waits for them.
func (d *Dispatcher) RunCycle(ctx context.Context) (int, error) {
	if !d.running.CompareAndSwap(false, true) {
		return 0, ErrCycleInProgress
	}
	defer d.running.Store(false)

	if _, err := d.reclaimer.Sweep(ctx); err != nil {
		d.logger.Error("stuck sweep failed", slog.String("error", err.Error()))
	}

	processing, err := d.tasks.CountTasks(ctx, task.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("count processing tasks: %w", err)
	}

	d.mu.Lock()
	busy := max(int(processing), len(d.inflight))
	d.mu.Unlock()

	slots := d.concurrency - busy
	if slots <= 0 {
		return 0, nil
	}

	// Over-fetch so tasks already handed to a goroutine can be skipped.
	pending, err := d.tasks.ListTasks(ctx, task.StatusPending, task.ListOpts{Limit: slots + d.concurrency})
	if err != nil {
		return 0, fmt.Errorf("list pending tasks: %w", err)
	}

	dispatched := 0
	for _, t := range pending {
		if dispatched == slots {
			break
		}
		if !d.track(t.ID) {
			continue
		}
		dispatched++
		d.wg.Add(1)
		go d.runTask(t)
	}

	if dispatched > 0 {
		d.logger.Debug("dispatch cycle",
			slog.Int("dispatched", dispatched),
			slog.Int64("processing", processing),
		)
	}
	return dispatched, nil
}

func (d *Dispatcher) runTask(t *task.Task) {
	defer d.wg.Done()
	defer d.untrack(t.ID)

	pl := removal.Payload{TaskID: t.ID, OriginalURL: t.OriginalURL, UserID: t.UserID}
	a := job.Attempt{Number: t.AttemptsMade + 1, Max: d.maxAttempts}

	if err := d.proc.Process(d.ctx, pl, a); err != nil {
		d.logger.Debug("inline attempt ended with error",
			slog.String("task_id", t.ID),
			slog.Int("attempt", a.Number),
			slog.String("error", err.Error()),
		)
	}
}

func (d *Dispatcher) track(taskID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.inflight[taskID]; ok {
		return false
	}
	d.inflight[taskID] = struct{}{}
	return true
}

func (d *Dispatcher) untrack(taskID string) {
	d.mu.Lock()
	delete(d.inflight, taskID)
	d.mu.Unlock()
}

// Start schedules dispatch cycles and the standalone stuck sweep.
func (d *Dispatcher) Start(_ context.Context) error {
	cl := cronLogger{d.logger}
	d.cron = cronlib.New(
		cronlib.WithLogger(cl),
		cronlib.WithChain(cronlib.Recover(cl)),
	)

	if _, err := d.cron.AddFunc(fmt.Sprintf("@every %s", d.interval), d.tick); err != nil {
		return fmt.Errorf("schedule dispatch cycle: %w", err)
	}
	if _, err := d.cron.AddFunc(d.reclaimSpec, d.sweep); err != nil {
		return fmt.Errorf("schedule stuck sweep %q: %w", d.reclaimSpec, err)
	}

	d.cron.Start()
	d.logger.Info("inline dispatcher started",
		slog.Int("concurrency", d.concurrency),
		slog.Duration("interval", d.interval),
		slog.String("reclaim_schedule", d.reclaimSpec),
	)
	return nil
}

// Stop halts scheduling, cancels in-flight attempts and waits for them
// or for ctx to expire.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if d.cron != nil {
		<-d.cron.Stop().Done()
	}
	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("inline dispatcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) tick() {
	if _, err := d.RunCycle(d.ctx); err != nil && !errors.Is(err, ErrCycleInProgress) {
		d.logger.Error("dispatch cycle failed", slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) sweep() {
	if _, err := d.reclaimer.Sweep(d.ctx); err != nil {
		d.logger.Error("scheduled stuck sweep failed", slog.String("error", err.Error()))
	}
}

// cronLogger adapts slog to the cron library's logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
