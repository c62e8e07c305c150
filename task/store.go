package task

import (
	"context"
	"time"
)

// ListOpts controls pagination for task list queries.
type ListOpts struct {
	// Limit is the maximum number of tasks to return. Zero means no limit.
	Limit int
}

// Store defines the persistence contract for watermark tasks.
type Store interface {
	// CreateTask persists a new task in PENDING state.
	CreateTask(ctx context.Context, t *Task) error

	// GetTask retrieves a task by ID.
	GetTask(ctx context.Context, taskID string) (*Task, error)

	// ClaimTask takes ownership of the task for c. It matches a PENDING
	// task, or a PROCESSING task that [Task.Claimable] allows c to take,
	// sets status=PROCESSING, records c and increments AttemptsMade. It
	// returns the number of rows affected: 1 means the caller owns this
	// attempt, 0 means the task was finalized, is held by this or a later
	// attempt of the same owner, or does not exist.
	ClaimTask(ctx context.Context, taskID string, c Claim) (int64, error)

	// TouchTask refreshes UpdatedAt on a PROCESSING task so the stuck
	// sweep sees the attempt is alive. It is a no-op in any other state.
	TouchTask(ctx context.Context, taskID string) error

	// SetRemoteTaskID records the vendor job handle only if none is set
	// yet. It returns false when a handle already exists.
	SetRemoteTaskID(ctx context.Context, taskID, remoteTaskID string) (bool, error)

	// CompleteTask moves a PROCESSING, unrefunded task to COMPLETED with
	// the given result URL. It returns false if the guard did not match.
	CompleteTask(ctx context.Context, taskID, resultURL string) (bool, error)

	// RecordAttemptError stores the last error message on a PROCESSING
	// task without changing its status.
	RecordAttemptError(ctx context.Context, taskID, msg string) error

	// ReclaimStuck resets PROCESSING tasks whose UpdatedAt is older than
	// olderThan back to PENDING with msg as ErrorMsg, and returns the IDs
	// it reset.
	ReclaimStuck(ctx context.Context, olderThan time.Duration, msg string) ([]string, error)

	// CountTasks returns the number of tasks in the given status.
	CountTasks(ctx context.Context, status Status) (int64, error)

	// ListTasks returns tasks in the given status, oldest first.
	ListTasks(ctx context.Context, status Status, opts ListOpts) ([]*Task, error)
}
