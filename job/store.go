package job

import (
	"context"
	"time"

	"github.com/xraph/unmark/id"
)

// ListOpts pages a listing. Zero Limit returns everything after Offset;
// an empty Queue spans all queues.
type ListOpts struct {
	Limit  int
	Offset int
	Queue  string
}

// CountOpts narrows a count. Empty fields match anything.
type CountOpts struct {
	Queue string
	State State
}

// Store is where queued jobs live between enqueue and settlement.
type Store interface {
	// EnqueueJob adds a new job. A second live job for the same Key is
	// refused with unmark.ErrJobAlreadyExists.
	EnqueueJob(ctx context.Context, j *Job) error

	// DequeueJobs leases at most limit due jobs from queues, highest
	// priority then earliest RunAt first. Leased jobs come back running
	// with Attempts already counting this run. A nil queues slice reads
	// every queue the backend can enumerate.
	DequeueJobs(ctx context.Context, queues []string, limit int) ([]*Job, error)

	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)
	UpdateJob(ctx context.Context, j *Job) error
	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// HeartbeatJob marks workerID as still holding a running job.
	HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// ReapStaleJobs lists running jobs not heard from within threshold.
	// Their worker is presumed gone.
	ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*Job, error)

	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}
