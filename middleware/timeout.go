package middleware

import (
	"context"
	"log/slog"

	"github.com/xraph/unmark/job"
)

// Timeout returns middleware that enforces a per-attempt deadline.
// If the job has a non-zero Timeout the handler runs under
// context.WithTimeout. The deadline must outlast the whole poll schedule
// plus vendor request timeouts, otherwise attempts are cut short.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.Timeout > 0 {
			logger.Debug("job timeout set",
				slog.String("job_id", j.ID.String()),
				slog.Duration("timeout", j.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, j.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
