package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/xraph/unmark"
	"github.com/xraph/unmark/id"
	"github.com/xraph/unmark/job"
)

// EnqueueJob stores a new job. Only one live job may hold a task key;
// a second one is rejected with ErrJobAlreadyExists.
func (m *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobID := j.ID.String()
	if _, dup := m.jobs[jobID]; dup || m.keyHeld(j.Key) {
		return unmark.ErrJobAlreadyExists
	}
	if j.Key != "" {
		m.jobKeys[j.Key] = jobID
	}
	cp := *j
	m.jobs[jobID] = &cp
	return nil
}

// keyHeld reports whether a live job holds taskKey. Callers hold m.mu.
func (m *Store) keyHeld(taskKey string) bool {
	if taskKey == "" {
		return false
	}
	holder := m.jobs[m.jobKeys[taskKey]]
	return holder != nil && holder.State.Live()
}

// DequeueJobs leases up to limit due jobs from queues, highest priority
// first and then oldest RunAt, and counts the attempt on each.
func (m *Store) DequeueJobs(_ context.Context, queues []string, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var due []*job.Job
	for _, j := range m.jobs {
		if runnable(j, now) && (len(queues) == 0 || slices.Contains(queues, j.Queue)) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool {
		if due[a].Priority != due[b].Priority {
			return due[a].Priority > due[b].Priority
		}
		return due[a].RunAt.Before(due[b].RunAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	leased := make([]*job.Job, 0, len(due))
	for _, j := range due {
		started, beat := now, now
		j.State = job.StateRunning
		j.Attempts++
		j.StartedAt, j.HeartbeatAt = &started, &beat
		j.UpdatedAt = now
		cp := *j
		leased = append(leased, &cp)
	}
	return leased, nil
}

func runnable(j *job.Job, now time.Time) bool {
	if j.State != job.StatePending && j.State != job.StateRetrying {
		return false
	}
	return j.RunAt.IsZero() || !j.RunAt.After(now)
}

// GetJob loads one job.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, unmark.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// UpdateJob replaces a stored job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobID := j.ID.String()
	if _, ok := m.jobs[jobID]; !ok {
		return unmark.ErrJobNotFound
	}
	cp := *j
	cp.UpdatedAt = m.now()
	m.jobs[jobID] = &cp
	return nil
}

// ListJobsByState returns jobs in state, oldest first.
func (m *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*job.Job
	for _, j := range m.jobs {
		if j.State == state && (opts.Queue == "" || j.Queue == opts.Queue) {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })

	if opts.Offset >= len(out) {
		return nil, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// HeartbeatJob extends the lease on a job and records which pool holds it.
func (m *Store) HeartbeatJob(_ context.Context, jobID id.JobID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return unmark.ErrJobNotFound
	}
	beat := m.now()
	j.HeartbeatAt = &beat
	j.WorkerID = workerID
	return nil
}

// ReapStaleJobs returns running jobs not heartbeated within threshold.
// A job that never heartbeated is aged from StartedAt.
func (m *Store) ReapStaleJobs(_ context.Context, threshold time.Duration) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := m.now().Add(-threshold)
	var stale []*job.Job
	for _, j := range m.jobs {
		if j.State != job.StateRunning {
			continue
		}
		seen := j.HeartbeatAt
		if seen == nil {
			seen = j.StartedAt
		}
		if seen != nil && seen.Before(cutoff) {
			cp := *j
			stale = append(stale, &cp)
		}
	}
	return stale, nil
}

// CountJobs counts jobs matching opts.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, j := range m.jobs {
		if (opts.Queue == "" || j.Queue == opts.Queue) && (opts.State == "" || j.State == opts.State) {
			n++
		}
	}
	return n, nil
}
