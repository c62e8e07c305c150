package ext

import (
	"context"
	"time"

	"github.com/xraph/unmark/job"
)

// Extension names a lifecycle observer. Names appear in hook failure logs.
type Extension interface {
	Name() string
}

// Queue job hooks.
type (
	JobEnqueued interface {
		OnJobEnqueued(ctx context.Context, j *job.Job) error
	}
	JobStarted interface {
		OnJobStarted(ctx context.Context, j *job.Job) error
	}
	JobCompleted interface {
		OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
	}
	// JobFailed fires once, when the last attempt fails.
	JobFailed interface {
		OnJobFailed(ctx context.Context, j *job.Job, err error) error
	}
	// JobRetrying fires after a failed attempt that has a successor.
	JobRetrying interface {
		OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
	}
	JobDLQ interface {
		OnJobDLQ(ctx context.Context, j *job.Job, err error) error
	}
)

// Removal task hooks.
type (
	// TaskClaimed fires when an attempt wins the task claim.
	TaskClaimed interface {
		OnTaskClaimed(ctx context.Context, taskID string, a job.Attempt) error
	}
	TaskCompleted interface {
		OnTaskCompleted(ctx context.Context, taskID, resultURL string, elapsed time.Duration) error
	}
	// TaskAttemptFailed fires for every failed attempt; a.IsFinal tells
	// the last one apart.
	TaskAttemptFailed interface {
		OnTaskAttemptFailed(ctx context.Context, taskID string, a job.Attempt, err error) error
	}
	// TaskRefunded fires only when this process settled the refund.
	TaskRefunded interface {
		OnTaskRefunded(ctx context.Context, taskID string, amount int64) error
	}
	// TaskReclaimed fires when the stuck sweep puts a task back to PENDING.
	TaskReclaimed interface {
		OnTaskReclaimed(ctx context.Context, taskID string) error
	}
)

// Shutdown fires once while the process stops.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
