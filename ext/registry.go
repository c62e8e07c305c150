package ext

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/unmark/job"
)

// subscriber is one extension's implementation of hook interface H.
type subscriber[H any] struct {
	ext  string
	hook H
}

// subscribe appends e to subs when e implements H.
func subscribe[H any](subs []subscriber[H], e Extension) []subscriber[H] {
	if h, ok := e.(H); ok {
		subs = append(subs, subscriber[H]{ext: e.Name(), hook: h})
	}
	return subs
}

// notify calls each subscriber in registration order. A hook error or
// panic is logged and the remaining subscribers still run.
func notify[H any](r *Registry, event string, subs []subscriber[H], call func(H) error) {
	for _, s := range subs {
		if err := safeCall(s.hook, call); err != nil {
			r.logger.Warn("extension hook failed",
				slog.String("event", event),
				slog.String("extension", s.ext),
				slog.String("error", err.Error()),
			)
		}
	}
}

func safeCall[H any](h H, call func(H) error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()
	return call(h)
}

// Registry fans lifecycle events out to the extensions that implement
// each hook. Register everything before the first event is emitted.
type Registry struct {
	logger *slog.Logger

	enqueued      []subscriber[JobEnqueued]
	started       []subscriber[JobStarted]
	completed     []subscriber[JobCompleted]
	failed        []subscriber[JobFailed]
	retrying      []subscriber[JobRetrying]
	deadLettered  []subscriber[JobDLQ]
	claimed       []subscriber[TaskClaimed]
	taskCompleted []subscriber[TaskCompleted]
	attemptFailed []subscriber[TaskAttemptFailed]
	refunded      []subscriber[TaskRefunded]
	reclaimed     []subscriber[TaskReclaimed]
	shutdown      []subscriber[Shutdown]
}

// NewRegistry returns an empty registry that logs hook failures to logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register subscribes e to every hook it implements.
func (r *Registry) Register(e Extension) {
	r.enqueued = subscribe(r.enqueued, e)
	r.started = subscribe(r.started, e)
	r.completed = subscribe(r.completed, e)
	r.failed = subscribe(r.failed, e)
	r.retrying = subscribe(r.retrying, e)
	r.deadLettered = subscribe(r.deadLettered, e)
	r.claimed = subscribe(r.claimed, e)
	r.taskCompleted = subscribe(r.taskCompleted, e)
	r.attemptFailed = subscribe(r.attemptFailed, e)
	r.refunded = subscribe(r.refunded, e)
	r.reclaimed = subscribe(r.reclaimed, e)
	r.shutdown = subscribe(r.shutdown, e)
}

func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	notify(r, "job.enqueued", r.enqueued, func(h JobEnqueued) error { return h.OnJobEnqueued(ctx, j) })
}

func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	notify(r, "job.started", r.started, func(h JobStarted) error { return h.OnJobStarted(ctx, j) })
}

func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	notify(r, "job.completed", r.completed, func(h JobCompleted) error { return h.OnJobCompleted(ctx, j, elapsed) })
}

func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	notify(r, "job.failed", r.failed, func(h JobFailed) error { return h.OnJobFailed(ctx, j, jobErr) })
}

func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) {
	notify(r, "job.retrying", r.retrying, func(h JobRetrying) error { return h.OnJobRetrying(ctx, j, attempt, nextRunAt) })
}

func (r *Registry) EmitJobDLQ(ctx context.Context, j *job.Job, jobErr error) {
	notify(r, "job.dlq", r.deadLettered, func(h JobDLQ) error { return h.OnJobDLQ(ctx, j, jobErr) })
}

func (r *Registry) EmitTaskClaimed(ctx context.Context, taskID string, a job.Attempt) {
	notify(r, "task.claimed", r.claimed, func(h TaskClaimed) error { return h.OnTaskClaimed(ctx, taskID, a) })
}

func (r *Registry) EmitTaskCompleted(ctx context.Context, taskID, resultURL string, elapsed time.Duration) {
	notify(r, "task.completed", r.taskCompleted, func(h TaskCompleted) error {
		return h.OnTaskCompleted(ctx, taskID, resultURL, elapsed)
	})
}

func (r *Registry) EmitTaskAttemptFailed(ctx context.Context, taskID string, a job.Attempt, taskErr error) {
	notify(r, "task.attempt_failed", r.attemptFailed, func(h TaskAttemptFailed) error {
		return h.OnTaskAttemptFailed(ctx, taskID, a, taskErr)
	})
}

func (r *Registry) EmitTaskRefunded(ctx context.Context, taskID string, amount int64) {
	notify(r, "task.refunded", r.refunded, func(h TaskRefunded) error { return h.OnTaskRefunded(ctx, taskID, amount) })
}

func (r *Registry) EmitTaskReclaimed(ctx context.Context, taskID string) {
	notify(r, "task.reclaimed", r.reclaimed, func(h TaskReclaimed) error { return h.OnTaskReclaimed(ctx, taskID) })
}

// EmitShutdown runs once per process, after the workers have stopped.
func (r *Registry) EmitShutdown(ctx context.Context) {
	notify(r, "shutdown", r.shutdown, func(h Shutdown) error { return h.OnShutdown(ctx) })
}
