package task

import (
	"time"

	"github.com/xraph/unmark"
)

// Status is the lifecycle state of a watermark task.
type Status string

const (
	// StatusPending means the task is queued and not yet claimed.
	StatusPending Status = "PENDING"
	// StatusProcessing means exactly one worker attempt owns the task.
	StatusProcessing Status = "PROCESSING"
	// StatusCompleted means the vendor returned a result URL.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed means retries were exhausted and the refund settled.
	StatusFailed Status = "FAILED"
)

// StuckMessage is recorded on tasks the stuck sweep returns to PENDING.
const StuckMessage = "任务超时，正在重试..."

// Task is one user-submitted image to be de-watermarked.
type Task struct {
	unmark.Entity

	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	OriginalURL  string     `json:"original_url"`
	RemoteTaskID string     `json:"remote_task_id,omitempty"`
	Status       Status     `json:"status"`
	ResultURL    string     `json:"result_url,omitempty"`
	ErrorMsg     string     `json:"error_msg,omitempty"`
	AttemptsMade int        `json:"attempts_made"`
	ClaimedBy    string     `json:"claimed_by,omitempty"`
	ClaimAttempt int        `json:"claim_attempt"`
	RefundedAt   *time.Time `json:"refunded_at,omitempty"`
}

// Claim identifies one attempt taking ownership of a task. Owner is the
// queue job driving the task; the inline profile claims with an empty
// Owner. Attempt is the attempt number within that owner.
type Claim struct {
	Owner   string
	Attempt int
}

// Claimable reports whether c may take ownership of the task.
//
// A PROCESSING task can be taken by a later attempt of the same owner, or
// by a different owner. Only one queue job per task is live at a time, so
// a different owner means the previous job is dead (dead-lettered or
// replayed) and its claim is abandoned.
func (t *Task) Claimable(c Claim) bool {
	switch t.Status {
	case StatusPending:
		return true
	case StatusProcessing:
		return t.ClaimedBy != c.Owner || t.ClaimAttempt < c.Attempt
	}
	return false
}

