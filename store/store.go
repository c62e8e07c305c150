package store

import (
	"context"
	"errors"

	"github.com/xraph/unmark/dlq"
	"github.com/xraph/unmark/job"
	"github.com/xraph/unmark/settlement"
	"github.com/xraph/unmark/task"
)

// Lifecycle is the schema and connection surface every backend exposes.
type Lifecycle interface {
	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

// Store is the aggregate persistence interface.
// A single backend (memory, postgres) can implement all of it, or
// Split pairs a task backend with a separate queue backend.
type Store interface {
	task.Store
	settlement.Store
	job.Store
	dlq.Store
	Lifecycle
}

// TaskSide is a backend that owns task rows, balances and the ledger.
type TaskSide interface {
	task.Store
	settlement.Store
	Lifecycle
}

// QueueSide is a backend that owns queue jobs and the dead letter queue.
type QueueSide interface {
	job.Store
	dlq.Store
	Lifecycle
}

// Split returns a Store that routes task and settlement calls to tasks
// and job and DLQ calls to queue.
func Split(tasks TaskSide, queue QueueSide) Store {
	return &split{TaskSide: tasks, QueueSide: queue}
}

type split struct {
	TaskSide
	QueueSide
}

func (s *split) Migrate(ctx context.Context) error {
	if err := s.TaskSide.Migrate(ctx); err != nil {
		return err
	}
	return s.QueueSide.Migrate(ctx)
}

func (s *split) Ping(ctx context.Context) error {
	return errors.Join(s.TaskSide.Ping(ctx), s.QueueSide.Ping(ctx))
}

func (s *split) Close() error {
	return errors.Join(s.QueueSide.Close(), s.TaskSide.Close())
}
