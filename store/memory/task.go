package memory

import (
	"context"
	"sort"
	"time"

	"github.com/xraph/unmark"
	"github.com/xraph/unmark/task"
)

// CreateTask persists a new task. An empty status defaults to PENDING.
func (m *Store) CreateTask(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tasks[t.ID]; exists {
		return unmark.ErrTaskAlreadyExists
	}
	cp := *t
	if cp.Status == "" {
		cp.Status = task.StatusPending
	}
	now := m.now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = now
	}
	m.tasks[t.ID] = &cp
	return nil
}

// GetTask retrieves a task by ID.
func (m *Store) GetTask(_ context.Context, taskID string) (*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return nil, unmark.ErrTaskNotFound
	}
	return copyTask(t), nil
}

// ClaimTask moves a claimable task to PROCESSING for c.
func (m *Store) ClaimTask(_ context.Context, taskID string, c task.Claim) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok || !t.Claimable(c) {
		return 0, nil
	}
	t.Status = task.StatusProcessing
	t.ClaimedBy = c.Owner
	t.ClaimAttempt = c.Attempt
	t.AttemptsMade++
	t.UpdatedAt = m.now()
	return 1, nil
}

// TouchTask refreshes UpdatedAt on a PROCESSING task.
func (m *Store) TouchTask(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.tasks[taskID]; ok && t.Status == task.StatusProcessing {
		t.UpdatedAt = m.now()
	}
	return nil
}

// SetRemoteTaskID records the vendor handle if none is set.
func (m *Store) SetRemoteTaskID(_ context.Context, taskID, remoteTaskID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok || t.RemoteTaskID != "" {
		return false, nil
	}
	t.RemoteTaskID = remoteTaskID
	t.UpdatedAt = m.now()
	return true, nil
}

// CompleteTask finalizes a PROCESSING, unrefunded task as COMPLETED.
func (m *Store) CompleteTask(_ context.Context, taskID, resultURL string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok || t.Status != task.StatusProcessing || t.RefundedAt != nil {
		return false, nil
	}
	t.Status = task.StatusCompleted
	t.ResultURL = resultURL
	t.ErrorMsg = ""
	t.UpdatedAt = m.now()
	return true, nil
}

// RecordAttemptError stores msg on a PROCESSING task.
func (m *Store) RecordAttemptError(_ context.Context, taskID, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok || t.Status != task.StatusProcessing {
		return nil
	}
	t.ErrorMsg = msg
	t.UpdatedAt = m.now()
	return nil
}

// ReclaimStuck resets stale PROCESSING tasks to PENDING.
func (m *Store) ReclaimStuck(_ context.Context, olderThan time.Duration, msg string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-olderThan)
	var ids []string
	for _, t := range m.tasks {
		if t.Status != task.StatusProcessing || !t.UpdatedAt.Before(cutoff) {
			continue
		}
		t.Status = task.StatusPending
		t.ErrorMsg = msg
		t.UpdatedAt = now
		ids = append(ids, t.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

// CountTasks returns the number of tasks in status.
func (m *Store) CountTasks(_ context.Context, status task.Status) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, t := range m.tasks {
		if t.Status == status {
			n++
		}
	}
	return n, nil
}

// ListTasks returns tasks in status, oldest first.
func (m *Store) ListTasks(_ context.Context, status task.Status, opts task.ListOpts) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*task.Task, 0)
	for _, t := range m.tasks {
		if t.Status == status {
			result = append(result, copyTask(t))
		}
	}
	sort.Slice(result, func(i, k int) bool {
		if result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].ID < result[k].ID
		}
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

func copyTask(t *task.Task) *task.Task {
	cp := *t
	if t.RefundedAt != nil {
		at := *t.RefundedAt
		cp.RefundedAt = &at
	}
	return &cp
}
