// Package worker runs queue jobs for the durable profile. An Executor
// runs one attempt and settles it against the job's attempt budget; a
// Pool dequeues jobs, heartbeats their leases and resets stale ones.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/unmark/backoff"
	"github.com/xraph/unmark/dlq"
	"github.com/xraph/unmark/ext"
	"github.com/xraph/unmark/job"
	"github.com/xraph/unmark/middleware"
)

// Executor runs one attempt of a job and records how it ended.
type Executor struct {
	handlers *job.Registry
	hooks    *ext.Registry
	jobs     job.Store
	dead     *dlq.Service
	retry    backoff.Strategy
	chain    middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor returns an Executor. dead may be nil, in which case
// exhausted jobs are only marked failed.
func NewExecutor(
	handlers *job.Registry,
	hooks *ext.Registry,
	jobs job.Store,
	dead *dlq.Service,
	retry backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		handlers: handlers,
		hooks:    hooks,
		jobs:     jobs,
		dead:     dead,
		retry:    retry,
		chain:    middleware.Chain(mws...),
		logger:   logger,
	}
}

// Execute runs the attempt the store counted when it leased j, then
// completes it, schedules the next attempt, or dead-letters it. The
// returned error is the handler's, wrapped with the attempt when a retry
// follows.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	began := time.Now()
	var err error
	if h, ok := e.handlers.Get(j.Name); ok {
		a := j.Current()
		err = e.chain(ctx, j, func(ctx context.Context) error { return h(ctx, j.Payload, a) })
	} else {
		err = fmt.Errorf("no handler registered for job %q", j.Name)
	}

	// Settle even when shutdown cancelled the attempt.
	ctx = context.WithoutCancel(ctx)
	now := time.Now().UTC()
	j.UpdatedAt = now

	switch {
	case err == nil:
		return e.complete(ctx, j, now, time.Since(began))
	case j.Current().IsFinal():
		return e.bury(ctx, j, err)
	default:
		return e.reschedule(ctx, j, err, now)
	}
}

func (e *Executor) complete(ctx context.Context, j *job.Job, now time.Time, took time.Duration) error {
	j.State = job.StateCompleted
	j.CompletedAt = &now
	j.LastError = ""
	if err := e.save(ctx, j, "complete"); err != nil {
		return err
	}
	e.hooks.EmitJobCompleted(ctx, j, took)
	return nil
}

func (e *Executor) reschedule(ctx context.Context, j *job.Job, cause error, now time.Time) error {
	wait := e.retry.Delay(j.Attempts)
	j.State = job.StateRetrying
	j.LastError = cause.Error()
	j.RunAt = now.Add(wait)
	if err := e.save(ctx, j, "reschedule"); err != nil {
		return err
	}
	e.hooks.EmitJobRetrying(ctx, j, j.Attempts, j.RunAt)
	e.logger.InfoContext(ctx, "attempt failed, retrying", attrs(j, slog.Duration("delay", wait))...)
	return fmt.Errorf("job %s attempt %d/%d: %w", j.Name, j.Attempts, j.MaxAttempts, cause)
}

// bury fails j for good and copies it to the dead letter queue. A DLQ
// write error is logged; the job is already failed.
func (e *Executor) bury(ctx context.Context, j *job.Job, cause error) error {
	j.State = job.StateFailed
	j.LastError = cause.Error()
	if err := e.save(ctx, j, "fail"); err != nil {
		return err
	}
	if e.dead != nil {
		if err := e.dead.Push(ctx, j, cause); err != nil {
			e.logger.ErrorContext(ctx, "dead letter push failed", attrs(j, slog.String("error", err.Error()))...)
		}
	}
	e.hooks.EmitJobFailed(ctx, j, cause)
	e.hooks.EmitJobDLQ(ctx, j, cause)
	e.logger.WarnContext(ctx, "attempts exhausted, job dead-lettered", attrs(j, slog.String("error", cause.Error()))...)
	return cause
}

func (e *Executor) save(ctx context.Context, j *job.Job, step string) error {
	if err := e.jobs.UpdateJob(ctx, j); err != nil {
		e.logger.ErrorContext(ctx, "job update failed",
			attrs(j, slog.String("step", step), slog.String("error", err.Error()))...)
		return fmt.Errorf("%s job %s: %w", step, j.ID, err)
	}
	return nil
}

func attrs(j *job.Job, extra ...any) []any {
	return append([]any{
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.String("task_id", j.Key),
		slog.Int("attempt", j.Attempts),
		slog.Int("max_attempts", j.MaxAttempts),
	}, extra...)
}
