package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/unmark"
	"github.com/xraph/unmark/id"
	"github.com/xraph/unmark/job"
)

// Column order shared by every job query and scanJob.
const jobColumns = `id, name, queue, key, payload, state, priority,
	max_attempts, attempts, last_error, worker_id, run_at, started_at,
	completed_at, heartbeat_at, created_at, updated_at, timeout`

func jobArgs(j *job.Job) []any {
	return []any{
		j.ID, j.Name, j.Queue, j.Key, j.Payload, string(j.State), j.Priority,
		j.MaxAttempts, j.Attempts, j.LastError, j.WorkerID, j.RunAt, j.StartedAt,
		j.CompletedAt, j.HeartbeatAt, j.CreatedAt, j.UpdatedAt, j.Timeout.Nanoseconds(),
	}
}

// EnqueueJob inserts j. The partial unique index on live keys turns a
// second live job for the same task into ErrJobAlreadyExists.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO unmark_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		jobArgs(j)...)
	switch {
	case isDuplicateKey(err):
		return unmark.ErrJobAlreadyExists
	case err != nil:
		return fmt.Errorf("unmark/postgres: enqueue job %s: %w", j.ID, err)
	}
	return nil
}

// DequeueJobs leases up to limit due jobs. SKIP LOCKED lets several pools
// dequeue from the same table without handing out a job twice.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		WITH due AS (
			SELECT id FROM unmark_jobs
			WHERE state IN ('pending', 'retrying')
			  AND (COALESCE(cardinality($1::text[]), 0) = 0 OR queue = ANY($1))
			  AND run_at <= NOW()
			ORDER BY priority DESC, run_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		), leased AS (
			UPDATE unmark_jobs j
			SET state = 'running', attempts = j.attempts + 1,
			    started_at = NOW(), heartbeat_at = NOW(), updated_at = NOW()
			FROM due WHERE j.id = due.id
			RETURNING j.*
		)
		SELECT `+jobColumns+` FROM leased ORDER BY priority DESC, run_at`,
		queues, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("unmark/postgres: dequeue jobs: %w", err)
	}
	return collectJobs(rows, "dequeue jobs")
}

func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM unmark_jobs WHERE id = $1`, jobID))
	if isNoRows(err) {
		return nil, unmark.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("unmark/postgres: get job %s: %w", jobID, err)
	}
	return j, nil
}

// UpdateJob overwrites every mutable column of j and stamps updated_at.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	args := jobArgs(j)
	tag, err := s.pool.Exec(ctx, `
		UPDATE unmark_jobs SET
			name = $2, queue = $3, key = $4, payload = $5, state = $6, priority = $7,
			max_attempts = $8, attempts = $9, last_error = $10, worker_id = $11,
			run_at = $12, started_at = $13, completed_at = $14, heartbeat_at = $15,
			timeout = $16, updated_at = NOW()
		WHERE id = $1`,
		append(args[:15:15], args[17])...)
	if err != nil {
		return fmt.Errorf("unmark/postgres: update job %s: %w", j.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return unmark.ErrJobNotFound
	}
	return nil
}

// ListJobsByState pages through jobs in state, oldest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	var f filter
	f.and("state = " + f.bind(string(state)))
	if opts.Queue != "" {
		f.and("queue = " + f.bind(opts.Queue))
	}
	q := f.query(`SELECT `+jobColumns+` FROM unmark_jobs`, "created_at, id", opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, q, f.args...)
	if err != nil {
		return nil, fmt.Errorf("unmark/postgres: list %s jobs: %w", state, err)
	}
	return collectJobs(rows, "list jobs")
}

// HeartbeatJob renews the lease on a job and records the pool holding it.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE unmark_jobs SET heartbeat_at = NOW(), worker_id = $2, updated_at = NOW() WHERE id = $1`,
		jobID, workerID)
	if err != nil {
		return fmt.Errorf("unmark/postgres: heartbeat job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return unmark.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs finds running jobs with no heartbeat inside threshold. A
// job that never heartbeated is aged from its start.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM unmark_jobs
		WHERE state = 'running'
		  AND COALESCE(heartbeat_at, started_at) < NOW() - make_interval(secs => $1)`,
		threshold.Seconds())
	if err != nil {
		return nil, fmt.Errorf("unmark/postgres: reap stale jobs: %w", err)
	}
	return collectJobs(rows, "reap stale jobs")
}

func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	var f filter
	if opts.Queue != "" {
		f.and("queue = " + f.bind(opts.Queue))
	}
	if opts.State != "" {
		f.and("state = " + f.bind(string(opts.State)))
	}

	var n int64
	if err := s.pool.QueryRow(ctx, f.query(`SELECT COUNT(*) FROM unmark_jobs`, "", 0, 0), f.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("unmark/postgres: count jobs: %w", err)
	}
	return n, nil
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j       job.Job
		state   string
		timeout int64
	)
	if err := row.Scan(
		&j.ID, &j.Name, &j.Queue, &j.Key, &j.Payload, &state, &j.Priority,
		&j.MaxAttempts, &j.Attempts, &j.LastError, &j.WorkerID, &j.RunAt, &j.StartedAt,
		&j.CompletedAt, &j.HeartbeatAt, &j.CreatedAt, &j.UpdatedAt, &timeout,
	); err != nil {
		return nil, err
	}
	j.State = job.State(state)
	j.Timeout = time.Duration(timeout)
	return &j, nil
}

func collectJobs(rows pgx.Rows, op string) ([]*job.Job, error) {
	jobs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*job.Job, error) {
		return scanJob(row)
	})
	if err != nil {
		return nil, fmt.Errorf("unmark/postgres: %s: %w", op, err)
	}
	return jobs, nil
}
