package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/unmark/ext"
	"github.com/xraph/unmark/id"
	"github.com/xraph/unmark/job"
)

// Gate decides whether a dequeued job may start now. queue.Gate
// implements it.
type Gate interface {
	Admit(queue string) bool
	Done(queue string)
}

// Pool leases jobs from the store and runs them on a fixed set of
// goroutines, one attempt per goroutine. The goroutine count is therefore
// the cap on vendor tasks this process has in flight.
type Pool struct {
	jobs     job.Store
	exec     *Executor
	hooks    *ext.Registry
	gate     Gate
	workerID id.WorkerID
	logger   *slog.Logger

	concurrency int
	queues      []string
	idleWait    time.Duration
	heartbeat   time.Duration
	staleAfter  time.Duration

	mu    sync.Mutex
	group *errgroup.Group
	halt  context.CancelFunc // ends the dequeue and housekeeping loops
	abort context.CancelFunc // cancels attempts in flight

	held sync.Map // job id string -> *job.Job
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// The plain With options set the field they name.
func WithPoolConcurrency(n int) PoolOption        { return func(p *Pool) { p.concurrency = n } }
func WithPoolQueues(queues []string) PoolOption   { return func(p *Pool) { p.queues = queues } }
func WithPollInterval(d time.Duration) PoolOption { return func(p *Pool) { p.idleWait = d } }
func WithGate(g Gate) PoolOption                  { return func(p *Pool) { p.gate = g } }

// WithHeartbeatInterval sets how often held jobs are heartbeated. Zero
// turns heartbeats off.
func WithHeartbeatInterval(d time.Duration) PoolOption { return func(p *Pool) { p.heartbeat = d } }

// WithStaleJobThreshold sets how long a running job may go without a
// heartbeat before it is put back on its queue. Zero turns reaping off.
func WithStaleJobThreshold(d time.Duration) PoolOption { return func(p *Pool) { p.staleAfter = d } }

// NewPool returns an idle pool; Start sets it running.
func NewPool(jobs job.Store, exec *Executor, hooks *ext.Registry, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		jobs:        jobs,
		exec:        exec,
		hooks:       hooks,
		workerID:    id.NewWorkerID(),
		concurrency: 5,
		queues:      []string{"default"},
		idleWait:    time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logger.With(slog.String("worker_id", p.workerID.String()))
	return p
}

// Start launches the workers plus the heartbeat and reaper loops when
// those are configured. It is a no-op on a running pool.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.group != nil {
		return nil
	}

	loops, halt := context.WithCancel(context.Background())
	attempts, abort := context.WithCancel(context.Background())
	p.group, p.halt, p.abort = new(errgroup.Group), halt, abort

	p.logger.Info("worker pool starting", slog.Int("concurrency", p.concurrency), slog.Any("queues", p.queues))
	for range p.concurrency {
		p.loop(func() { p.work(loops, attempts) })
	}
	if p.heartbeat > 0 {
		p.loop(func() { p.tick(loops, p.heartbeat, p.beat) })
	}
	if p.staleAfter > 0 {
		p.loop(func() { p.tick(loops, p.staleAfter, p.reap) })
	}
	return nil
}

// Stop lets attempts in flight finish. If ctx ends first they are
// cancelled, and the executor still records their outcome before Stop
// returns.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	group, halt, abort := p.group, p.halt, p.abort
	p.group = nil
	p.mu.Unlock()
	if group == nil {
		return nil
	}
	defer abort()

	p.logger.Info("worker pool stopping")
	halt()
	drained := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling running tasks")
		p.held.Range(func(_, v any) bool {
			j := v.(*job.Job)
			p.logger.Warn("cancelling running task", attrs(j)...)
			return true
		})
		abort()
		<-drained
	}
	return nil
}

func (p *Pool) loop(fn func()) {
	p.group.Go(func() error {
		fn()
		return nil
	})
}

// work leases one job at a time until loops ends. Dequeues run detached
// from loops so that a lease the store has granted is never dropped by a
// cancelled read; the reaper would have to recover it.
func (p *Pool) work(loops, attempts context.Context) {
	dequeue := context.WithoutCancel(loops)
	for loops.Err() == nil {
		leased, err := p.jobs.DequeueJobs(dequeue, p.queues, 1)
		switch {
		case err != nil:
			p.logger.Error("dequeue failed", slog.String("error", err.Error()))
		case len(leased) == 0:
		case p.admit(dequeue, leased[0]):
			p.run(attempts, leased[0])
			continue
		}
		p.idle(loops)
	}
}

// admit asks the gate for a slot. A refused job is handed back with its
// attempt uncounted so throttling never spends the retry budget.
func (p *Pool) admit(ctx context.Context, j *job.Job) bool {
	if p.gate == nil || p.gate.Admit(j.Queue) {
		return true
	}

	j.State = job.StatePending
	j.Attempts--
	j.WorkerID = id.Nil
	j.StartedAt = nil
	j.RunAt = time.Now().UTC().Add(p.idleWait)
	if err := p.jobs.UpdateJob(ctx, j); err != nil {
		p.logger.Error("throttled job not requeued", attrs(j, slog.String("error", err.Error()))...)
	}
	return false
}

func (p *Pool) run(attempts context.Context, j *job.Job) {
	if p.gate != nil {
		defer p.gate.Done(j.Queue)
	}
	key, snapshot := j.ID.String(), *j
	p.held.Store(key, &snapshot)
	defer p.held.Delete(key)

	p.hooks.EmitJobStarted(attempts, j)
	if err := p.exec.Execute(attempts, j); err != nil {
		p.logger.Debug("attempt failed", attrs(j, slog.String("error", err.Error()))...)
	}
}

func (p *Pool) tick(loops context.Context, every time.Duration, fn func(context.Context)) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-loops.Done():
			return
		case <-t.C:
			fn(loops)
		}
	}
}

// beat renews the lease on every held job.
func (p *Pool) beat(ctx context.Context) {
	p.held.Range(func(_, v any) bool {
		j := v.(*job.Job)
		if err := p.jobs.HeartbeatJob(ctx, j.ID, p.workerID); err != nil {
			p.logger.Warn("heartbeat failed", attrs(j, slog.String("error", err.Error()))...)
		}
		return true
	})
}

// reap returns jobs whose heartbeat lapsed to their queue. The lost
// attempt stays counted. A job lost on its final attempt runs once more as
// final, so its failure still reaches settlement.
func (p *Pool) reap(ctx context.Context) {
	stale, err := p.jobs.ReapStaleJobs(ctx, p.staleAfter)
	if err != nil {
		p.logger.Error("reap stale jobs failed", slog.String("error", err.Error()))
		return
	}

	for _, j := range stale {
		j.State = job.StatePending
		j.RunAt = time.Now().UTC()
		j.WorkerID = id.Nil
		j.HeartbeatAt = nil
		j.StartedAt = nil
		if err := p.jobs.UpdateJob(ctx, j); err != nil {
			p.logger.Error("stale job not reset", attrs(j, slog.String("error", err.Error()))...)
			continue
		}
		p.logger.Info("reaped stale job", attrs(j)...)
	}
}

func (p *Pool) idle(loops context.Context) {
	t := time.NewTimer(p.idleWait)
	defer t.Stop()
	select {
	case <-t.C:
	case <-loops.Done():
	}
}
