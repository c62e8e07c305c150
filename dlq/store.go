package dlq

import (
	"context"
	"time"

	"github.com/xraph/unmark/id"
)

// ListOpts filters DLQ list queries. Entries come back oldest first.
type ListOpts struct {
	// TaskID restricts the list to one task. Empty means every task.
	TaskID string
	// Open excludes entries that were already replayed.
	Open bool
	// Limit caps the number of entries. Zero means no limit.
	Limit int
}

// Match reports whether e passes the filters, ignoring Limit.
func (o ListOpts) Match(e *Entry) bool {
	if o.TaskID != "" && e.TaskID != o.TaskID {
		return false
	}
	return !o.Open || !e.Replayed()
}

// Store persists dead-lettered removal jobs.
type Store interface {
	PushDLQ(ctx context.Context, entry *Entry) error
	GetDLQ(ctx context.Context, entryID id.DLQID) (*Entry, error)
	ListDLQ(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// ReplayDLQ stamps ReplayedAt on an open entry. It returns
	// unmark.ErrDLQReplayed if the entry was already stamped.
	ReplayDLQ(ctx context.Context, entryID id.DLQID) error

	// PurgeDLQ deletes entries that failed before the cutoff and returns
	// how many it removed.
	PurgeDLQ(ctx context.Context, before time.Time) (int64, error)

	CountDLQ(ctx context.Context) (int64, error)
}
