package job

import (
	"time"

	"github.com/xraph/unmark"
	"github.com/xraph/unmark/id"
)

// State is where a job is in its lifecycle. See the package doc for the
// transitions.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateRetrying  State = "retrying"  // failed, another attempt is scheduled
	StateCompleted State = "completed"
	StateFailed    State = "failed"    // attempt budget spent
)

// Live reports whether the job still holds its Key.
func (s State) Live() bool {
	switch s {
	case StatePending, StateRunning, StateRetrying:
		return true
	}
	return false
}

// Job is one queued unit of work. Payload is the JSON encoding of the
// handler's typed argument.
type Job struct {
	unmark.Entity

	ID          id.JobID      `json:"id"`
	Name        string        `json:"name"`
	Queue       string        `json:"queue"`
	Key         string        `json:"key,omitempty"`
	Payload     []byte        `json:"payload"`
	State       State         `json:"state"`
	Priority    int           `json:"priority"`
	MaxAttempts int           `json:"max_attempts"`
	Attempts    int           `json:"attempts"`
	LastError   string        `json:"last_error,omitempty"`
	WorkerID    id.WorkerID   `json:"worker_id,omitempty"`
	RunAt       time.Time     `json:"run_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time    `json:"heartbeat_at,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// Attempt identifies which run of a job a handler is executing.
type Attempt struct {
	// Number is the 1-indexed attempt currently running.
	Number int
	// Max is the total attempt budget.
	Max int
	// JobID is the queue job being executed. It is Nil for attempts not
	// driven by the queue.
	JobID id.JobID
}

// IsFinal reports whether no further attempt will follow a failure of
// this one.
func (a Attempt) IsFinal() bool {
	return a.Number >= a.Max
}

// Current returns the attempt a worker is executing for j.
func (j *Job) Current() Attempt {
	return Attempt{Number: j.Attempts, Max: j.MaxAttempts, JobID: j.ID}
}
