package redis

import (
	"context"
	"fmt"
	"slices"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/unmark"
	"github.com/xraph/unmark/id"
	"github.com/xraph/unmark/job"
)

// EnqueueJob writes the job hash and puts it on its queue's delayed set.
// The enqueue script refuses a taken ID and a Key held by a live job.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	rec := newJobRecord(j)
	keyed := "0"
	if j.Key != "" {
		keyed = "1"
	}

	n, err := enqueueScript.Run(ctx, s.client,
		[]string{jobKey(rec.ID), jobIDsKey, delayedKey(j.Queue), liveKey(j.Key)},
		append([]any{rec.ID, j.RunAt.UnixMilli(), keyed}, rec.pairs()...)...,
	).Int()
	switch {
	case err != nil:
		return fmt.Errorf("unmark/redis: enqueue job: %w", err)
	case n == 0:
		return unmark.ErrJobAlreadyExists
	}
	return nil
}

// DequeueJobs leases up to limit due jobs, draining each queue in order.
// Redis has no index of queue names, so an empty queues list leases
// nothing.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	now := time.Now().UTC()

	var leased []string
	for _, q := range queues {
		want := limit - len(leased)
		if want <= 0 {
			break
		}
		ids, err := dequeueScript.Run(ctx, s.client,
			[]string{delayedKey(q), readyKey(q)},
			now.UnixMilli(), want, stamp(now),
		).StringSlice()
		if err != nil {
			return nil, fmt.Errorf("unmark/redis: dequeue %s: %w", q, err)
		}
		leased = append(leased, ids...)
	}
	return s.load(ctx, leased)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var rec jobRecord
	cmd := s.client.HGetAll(ctx, jobKey(jobID.String()))
	if err := cmd.Err(); err != nil {
		return nil, fmt.Errorf("unmark/redis: get job: %w", err)
	}
	if len(cmd.Val()) == 0 {
		return nil, unmark.ErrJobNotFound
	}
	if err := cmd.Scan(&rec); err != nil {
		return nil, fmt.Errorf("unmark/redis: decode job: %w", err)
	}
	return rec.job()
}

// UpdateJob rewrites the job hash. A pending or retrying job is
// rescheduled on the delayed set for RunAt; any other state leaves both
// sets.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	rec := newJobRecord(j)
	rec.UpdatedAt = stamp(time.Now())
	reschedule := "0"
	if j.State == job.StatePending || j.State == job.StateRetrying {
		reschedule = "1"
	}

	n, err := updateScript.Run(ctx, s.client,
		[]string{jobKey(rec.ID), readyKey(j.Queue), delayedKey(j.Queue)},
		append([]any{rec.ID, j.RunAt.UnixMilli(), reschedule}, rec.pairs()...)...,
	).Int()
	switch {
	case err != nil:
		return fmt.Errorf("unmark/redis: update job: %w", err)
	case n == 0:
		return unmark.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns jobs in state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	jobs, err := s.scan(ctx, func(j *job.Job) bool {
		return j.State == state && (opts.Queue == "" || j.Queue == opts.Queue)
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(jobs, func(a, b *job.Job) int { return a.CreatedAt.Compare(b.CreatedAt) })

	jobs = jobs[min(opts.Offset, len(jobs)):]
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// HeartbeatJob records that workerID still holds the job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	n, err := heartbeatScript.Run(ctx, s.client,
		[]string{jobKey(jobID.String())},
		stamp(time.Now()), workerID.String(),
	).Int()
	switch {
	case err != nil:
		return fmt.Errorf("unmark/redis: heartbeat job: %w", err)
	case n == 0:
		return unmark.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns running jobs last seen before now minus
// threshold. A job that never heartbeated is judged by its start.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().Add(-threshold)
	return s.scan(ctx, func(j *job.Job) bool {
		if j.State != job.StateRunning {
			return false
		}
		seen := j.HeartbeatAt
		if seen == nil {
			seen = j.StartedAt
		}
		return seen != nil && seen.Before(cutoff)
	})
}

// CountJobs returns the number of jobs matching opts.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	jobs, err := s.scan(ctx, func(j *job.Job) bool {
		return (opts.State == "" || j.State == opts.State) && (opts.Queue == "" || j.Queue == opts.Queue)
	})
	return int64(len(jobs)), err
}

// scan loads every tracked job and keeps those match accepts.
func (s *Store) scan(ctx context.Context, match func(*job.Job) bool) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("unmark/redis: job ids: %w", err)
	}
	all, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(j *job.Job) bool { return !match(j) }), nil
}

// load fetches job hashes in one pipeline. Hashes that are gone or do
// not decode are skipped.
func (s *Store) load(ctx context.Context, ids []string) ([]*job.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	if _, err := s.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for i, jobID := range ids {
			cmds[i] = p.HGetAll(ctx, jobKey(jobID))
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("unmark/redis: load jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for i, cmd := range cmds {
		if len(cmd.Val()) == 0 {
			continue
		}
		var rec jobRecord
		err := cmd.Scan(&rec)
		var j *job.Job
		if err == nil {
			j, err = rec.job()
		}
		if err != nil {
			s.logger.Warn("unmark/redis: skipping unreadable job", "job_id", ids[i], "error", err)
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
