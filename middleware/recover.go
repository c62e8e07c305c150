package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/unmark/job"
)

// PanicError is the attempt error Recover returns in place of a panic.
type PanicError struct {
	TaskID string
	Value  any
	Stack  []byte
}

func (e *PanicError) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("attempt panicked: %v", e.Value)
	}
	return fmt.Sprintf("attempt for task %s panicked: %v", e.TaskID, e.Value)
}

// Recover turns a handler panic into a *PanicError so the executor
// retries or dead-letters the job like any other failure.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (err error) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			pe := &PanicError{TaskID: j.Key, Value: v, Stack: debug.Stack()}
			n, limit, _ := attempt(j)
			logger.ErrorContext(ctx, "removal attempt panicked",
				slog.String("task_id", j.Key),
				slog.String("job_id", j.ID.String()),
				slog.Int("attempt", n),
				slog.Int("max_attempts", limit),
				slog.Any("panic", v),
				slog.String("stack", string(pe.Stack)),
			)
			err = pe
		}()
		return next(ctx)
	}
}
