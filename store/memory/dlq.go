package memory

import (
	"context"
	"sort"
	"time"

	"github.com/xraph/unmark"
	"github.com/xraph/unmark/dlq"
	"github.com/xraph/unmark/id"
)

// PushDLQ records a dead-lettered job.
func (m *Store) PushDLQ(_ context.Context, entry *dlq.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.dlqs[entry.ID.String()] = &cp
	return nil
}

// GetDLQ loads one entry.
func (m *Store) GetDLQ(_ context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.dlqs[entryID.String()]
	if !ok {
		return nil, unmark.ErrDLQNotFound
	}
	return copyEntry(e), nil
}

// ListDLQ returns entries matching opts, oldest failure first.
func (m *Store) ListDLQ(_ context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*dlq.Entry
	for _, e := range m.dlqs {
		if opts.Match(e) {
			out = append(out, copyEntry(e))
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].FailedAt.Equal(out[k].FailedAt) {
			return out[i].ID.String() < out[k].ID.String()
		}
		return out[i].FailedAt.Before(out[k].FailedAt)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// ReplayDLQ stamps ReplayedAt on an open entry.
func (m *Store) ReplayDLQ(_ context.Context, entryID id.DLQID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.dlqs[entryID.String()]
	switch {
	case !ok:
		return unmark.ErrDLQNotFound
	case e.Replayed():
		return unmark.ErrDLQReplayed
	}
	now := m.now()
	e.ReplayedAt = &now
	return nil
}

// PurgeDLQ deletes entries that failed before the cutoff.
func (m *Store) PurgeDLQ(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k, e := range m.dlqs {
		if e.FailedAt.Before(before) {
			delete(m.dlqs, k)
			n++
		}
	}
	return n, nil
}

// CountDLQ returns the number of entries.
func (m *Store) CountDLQ(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.dlqs)), nil
}

func copyEntry(e *dlq.Entry) *dlq.Entry {
	cp := *e
	if e.ReplayedAt != nil {
		at := *e.ReplayedAt
		cp.ReplayedAt = &at
	}
	return &cp
}
