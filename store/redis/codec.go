package redis

import (
	"fmt"
	"time"

	"github.com/xraph/unmark"
	"github.com/xraph/unmark/dlq"
	"github.com/xraph/unmark/id"
	"github.com/xraph/unmark/job"
)

// Hash layouts. Times are RFC 3339 with nanoseconds and an empty string
// stands for an unset optional time. HGETALL results decode through the
// redis struct tags.

type jobRecord struct {
	ID          string  `redis:"id"`
	Name        string  `redis:"name"`
	Queue       string  `redis:"queue"`
	Key         string  `redis:"key"`
	Payload     string  `redis:"payload"`
	State       string  `redis:"state"`
	Priority    int     `redis:"priority"`
	MaxAttempts int     `redis:"max_attempts"`
	Attempts    int     `redis:"attempts"`
	LastError   string  `redis:"last_error"`
	WorkerID    string  `redis:"worker_id"`
	RunAt       string  `redis:"run_at"`
	Score       float64 `redis:"score"`
	Timeout     int64   `redis:"timeout"`
	StartedAt   string  `redis:"started_at"`
	CompletedAt string  `redis:"completed_at"`
	HeartbeatAt string  `redis:"heartbeat_at"`
	CreatedAt   string  `redis:"created_at"`
	UpdatedAt   string  `redis:"updated_at"`
}

type dlqRecord struct {
	ID          string `redis:"id"`
	JobID       string `redis:"job_id"`
	JobName     string `redis:"job_name"`
	Queue       string `redis:"queue"`
	TaskID      string `redis:"task_id"`
	Payload     string `redis:"payload"`
	Error       string `redis:"error"`
	Attempts    int    `redis:"attempts"`
	MaxAttempts int    `redis:"max_attempts"`
	FailedAt    string `redis:"failed_at"`
	ReplayedAt  string `redis:"replayed_at"`
	CreatedAt   string `redis:"created_at"`
}

// score orders the ready set: higher priority first, then earlier run_at.
// The lowest score is popped first.
func score(priority int, runAt time.Time) float64 {
	return float64(-priority)*1e13 + float64(runAt.UnixMilli())
}

func newJobRecord(j *job.Job) jobRecord {
	return jobRecord{
		ID:          j.ID.String(),
		Name:        j.Name,
		Queue:       j.Queue,
		Key:         j.Key,
		Payload:     string(j.Payload),
		State:       string(j.State),
		Priority:    j.Priority,
		MaxAttempts: j.MaxAttempts,
		Attempts:    j.Attempts,
		LastError:   j.LastError,
		WorkerID:    j.WorkerID.String(),
		RunAt:       stamp(j.RunAt),
		Score:       score(j.Priority, j.RunAt),
		Timeout:     int64(j.Timeout),
		StartedAt:   stampPtr(j.StartedAt),
		CompletedAt: stampPtr(j.CompletedAt),
		HeartbeatAt: stampPtr(j.HeartbeatAt),
		CreatedAt:   stamp(j.CreatedAt),
		UpdatedAt:   stamp(j.UpdatedAt),
	}
}

// pairs lists the record as HSET field/value arguments for the scripts.
func (r jobRecord) pairs() []any {
	return []any{
		"id", r.ID,
		"name", r.Name,
		"queue", r.Queue,
		"key", r.Key,
		"payload", r.Payload,
		"state", r.State,
		"priority", r.Priority,
		"max_attempts", r.MaxAttempts,
		"attempts", r.Attempts,
		"last_error", r.LastError,
		"worker_id", r.WorkerID,
		"run_at", r.RunAt,
		"score", r.Score,
		"timeout", r.Timeout,
		"started_at", r.StartedAt,
		"completed_at", r.CompletedAt,
		"heartbeat_at", r.HeartbeatAt,
		"created_at", r.CreatedAt,
		"updated_at", r.UpdatedAt,
	}
}

func (r jobRecord) job() (*job.Job, error) {
	jobID, err := id.ParseJobID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("job id: %w", err)
	}
	j := &job.Job{
		Entity:      unmark.Entity{CreatedAt: unstamp(r.CreatedAt), UpdatedAt: unstamp(r.UpdatedAt)},
		ID:          jobID,
		Name:        r.Name,
		Queue:       r.Queue,
		Key:         r.Key,
		Payload:     []byte(r.Payload),
		State:       job.State(r.State),
		Priority:    r.Priority,
		MaxAttempts: r.MaxAttempts,
		Attempts:    r.Attempts,
		LastError:   r.LastError,
		RunAt:       unstamp(r.RunAt),
		Timeout:     time.Duration(r.Timeout),
		StartedAt:   unstampPtr(r.StartedAt),
		CompletedAt: unstampPtr(r.CompletedAt),
		HeartbeatAt: unstampPtr(r.HeartbeatAt),
	}
	if r.WorkerID != "" {
		if j.WorkerID, err = id.ParseWorkerID(r.WorkerID); err != nil {
			return nil, fmt.Errorf("worker id: %w", err)
		}
	}
	return j, nil
}

func newDLQRecord(e *dlq.Entry) dlqRecord {
	return dlqRecord{
		ID:          e.ID.String(),
		JobID:       e.JobID.String(),
		JobName:     e.JobName,
		Queue:       e.Queue,
		TaskID:      e.TaskID,
		Payload:     string(e.Payload),
		Error:       e.Error,
		Attempts:    e.Attempts,
		MaxAttempts: e.MaxAttempts,
		FailedAt:    stamp(e.FailedAt),
		ReplayedAt:  stampPtr(e.ReplayedAt),
		CreatedAt:   stamp(e.CreatedAt),
	}
}

// pairs leaves replayed_at out while it is unset so that ReplayDLQ can
// claim it with HSETNX.
func (r dlqRecord) pairs() []any {
	p := []any{
		"id", r.ID,
		"job_id", r.JobID,
		"job_name", r.JobName,
		"queue", r.Queue,
		"task_id", r.TaskID,
		"payload", r.Payload,
		"error", r.Error,
		"attempts", r.Attempts,
		"max_attempts", r.MaxAttempts,
		"failed_at", r.FailedAt,
		"created_at", r.CreatedAt,
	}
	if r.ReplayedAt != "" {
		p = append(p, "replayed_at", r.ReplayedAt)
	}
	return p
}

func (r dlqRecord) entry() (*dlq.Entry, error) {
	entryID, err := id.ParseDLQID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("dlq id: %w", err)
	}
	jobID, err := id.ParseJobID(r.JobID)
	if err != nil {
		return nil, fmt.Errorf("job id: %w", err)
	}
	return &dlq.Entry{
		ID:          entryID,
		JobID:       jobID,
		JobName:     r.JobName,
		Queue:       r.Queue,
		TaskID:      r.TaskID,
		Payload:     []byte(r.Payload),
		Error:       r.Error,
		Attempts:    r.Attempts,
		MaxAttempts: r.MaxAttempts,
		FailedAt:    unstamp(r.FailedAt),
		ReplayedAt:  unstampPtr(r.ReplayedAt),
		CreatedAt:   unstamp(r.CreatedAt),
	}, nil
}

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func stampPtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return stamp(*t)
}

// unstamp reads a stored time. Values are only ever written by stamp, so
// a parse failure yields the zero time.
func unstamp(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // written by stamp
	return t
}

func unstampPtr(v string) *time.Time {
	if v == "" {
		return nil
	}
	t := unstamp(v)
	return &t
}
