package middleware

import (
	"context"

	"github.com/xraph/unmark/job"
)

// Handler runs one attempt of a job.
type Handler func(ctx context.Context) error

// Middleware wraps an attempt. It must call next unless it decides the
// attempt should not run, in which case its error becomes the outcome.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain folds mws into one Middleware; mws[0] is entered first and left
// last. An empty chain calls next directly.
func Chain(mws ...Middleware) Middleware {
	switch len(mws) {
	case 0:
		return func(ctx context.Context, _ *job.Job, next Handler) error { return next(ctx) }
	case 1:
		return mws[0]
	}
	outer, inner := mws[0], Chain(mws[1:]...)
	return func(ctx context.Context, j *job.Job, next Handler) error {
		return outer(ctx, j, func(ctx context.Context) error {
			return inner(ctx, j, next)
		})
	}
}

// attempt describes j's current try for logs, spans and metrics.
func attempt(j *job.Job) (number, limit int, final bool) {
	a := j.Current()
	return a.Number, a.Max, a.IsFinal()
}
