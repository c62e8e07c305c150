package dlq

import (
	"time"

	"github.com/xraph/unmark/id"
)

// Entry is a removal job that spent its attempt budget. TaskID is the
// job's dedupe key; for watermark jobs that is the task the job drove.
type Entry struct {
	ID          id.DLQID   `json:"id"`
	JobID       id.JobID   `json:"job_id"`
	JobName     string     `json:"job_name"`
	Queue       string     `json:"queue"`
	TaskID      string     `json:"task_id,omitempty"`
	Payload     []byte     `json:"payload"`
	Error       string     `json:"error"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	FailedAt    time.Time  `json:"failed_at"`
	ReplayedAt  *time.Time `json:"replayed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Replayed reports whether the entry was already re-enqueued.
func (e *Entry) Replayed() bool { return e.ReplayedAt != nil }
