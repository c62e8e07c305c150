package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/unmark/job"
)

// Logging logs each attempt's start at debug and its outcome. A failure
// on the final attempt logs at error, earlier failures at warn.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		n, limit, final := attempt(j)
		log := logger.With(
			slog.String("task_id", j.Key),
			slog.String("job_id", j.ID.String()),
			slog.Int("attempt", n),
			slog.Int("max_attempts", limit),
		)
		log.DebugContext(ctx, "removal attempt started")

		start := time.Now()
		err := next(ctx)
		took := slog.Duration("elapsed", time.Since(start))

		switch {
		case err == nil:
			log.InfoContext(ctx, "removal attempt succeeded", took)
		case final:
			log.ErrorContext(ctx, "final removal attempt failed", took, slog.String("error", err.Error()))
		default:
			log.WarnContext(ctx, "removal attempt failed", took, slog.String("error", err.Error()))
		}
		return err
	}
}
