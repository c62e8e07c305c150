package dlq

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/unmark"
	"github.com/xraph/unmark/id"
	"github.com/xraph/unmark/job"
)

// Service dead-letters exhausted jobs and replays them on request.
type Service struct {
	store    Store
	jobStore job.Store
}

// NewService creates a DLQ service. Replayed jobs are enqueued on jobStore.
func NewService(store Store, jobStore job.Store) *Service {
	return &Service{store: store, jobStore: jobStore}
}

// Push records j, which failed its final attempt with jobErr.
func (s *Service) Push(ctx context.Context, j *job.Job, jobErr error) error {
	now := time.Now().UTC()
	return s.store.PushDLQ(ctx, &Entry{
		ID:          id.NewDLQID(),
		JobID:       j.ID,
		JobName:     j.Name,
		Queue:       j.Queue,
		TaskID:      j.Key,
		Payload:     j.Payload,
		Error:       jobErr.Error(),
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		FailedAt:    now,
		CreatedAt:   now,
	})
}

// List returns entries matching opts, oldest first.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return s.store.ListDLQ(ctx, opts)
}

// Count returns the number of entries, replayed or not.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.CountDLQ(ctx)
}

// Purge deletes entries that failed more than olderThan ago.
func (s *Service) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	return s.store.PurgeDLQ(ctx, time.Now().UTC().Add(-olderThan))
}

// Replay re-enqueues the entry's payload as a new job with a full attempt
// budget and the same task key. The new job id lets it take over a task
// the dead job left PROCESSING.
//
// An entry can be replayed once. While another job for the same task is
// live, EnqueueJob fails with unmark.ErrJobAlreadyExists and the entry
// stays open.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Replayed() {
		return nil, unmark.ErrDLQReplayed
	}

	j := &job.Job{
		Entity:      unmark.NewEntity(),
		ID:          id.NewJobID(),
		Name:        entry.JobName,
		Queue:       entry.Queue,
		Key:         entry.TaskID,
		Payload:     entry.Payload,
		State:       job.StatePending,
		MaxAttempts: entry.MaxAttempts,
		RunAt:       time.Now().UTC(),
	}
	if err := s.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, fmt.Errorf("replay %s: %w", entryID, err)
	}
	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		return j, fmt.Errorf("replay %s: job %s enqueued, entry not marked: %w", entryID, j.ID, err)
	}
	return j, nil
}

// ReplayTask replays the newest open entry for taskID. It returns
// unmark.ErrDLQNotFound if the task has no open entry.
func (s *Service) ReplayTask(ctx context.Context, taskID string) (*job.Job, error) {
	entries, err := s.store.ListDLQ(ctx, ListOpts{TaskID: taskID, Open: true})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("task %s: %w", taskID, unmark.ErrDLQNotFound)
	}
	return s.Replay(ctx, entries[len(entries)-1].ID)
}
