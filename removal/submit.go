package removal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/xraph/unmark"
	"github.com/xraph/unmark/job"
)

// Enqueuer places a raw job on the queue. *engine.Engine satisfies it.
type Enqueuer interface {
	EnqueueRaw(ctx context.Context, name string, payload []byte, opts ...job.Option) (*job.Job, error)
}

// Submission is an inbound request to process a task whose row already
// exists and whose charge was already taken.
type Submission struct {
	TaskID      string `json:"taskId"`
	OriginalURL string `json:"originalUrl"`
	UserID      string `json:"userId"`
}

// Validate checks that ids are present and the URL is absolute http(s).
func (s Submission) Validate() error {
	if s.TaskID == "" {
		return fmt.Errorf("%w: taskId is required", unmark.ErrInvalidInput)
	}
	if s.UserID == "" {
		return fmt.Errorf("%w: userId is required", unmark.ErrInvalidInput)
	}
	u, err := url.Parse(s.OriginalURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: originalUrl %q is not an http(s) URL", unmark.ErrInvalidInput, s.OriginalURL)
	}
	return nil
}

// Payload converts s to the job payload.
func (s Submission) Payload() Payload {
	return Payload(s)
}

// Submit validates s and enqueues its job keyed by the task id. A task
// that already has a live job returns unmark.ErrJobAlreadyExists.
func Submit(ctx context.Context, q Enqueuer, s Submission, opts ...job.Option) (*job.Job, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(s.Payload())
	if err != nil {
		return nil, fmt.Errorf("marshal payload for task %s: %w", s.TaskID, err)
	}
	opts = append([]job.Option{job.WithQueue(Queue), job.WithKey(s.TaskID)}, opts...)
	return q.EnqueueRaw(ctx, JobName, data, opts...)
}
