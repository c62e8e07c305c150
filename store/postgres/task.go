package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/unmark"
	"github.com/xraph/unmark/task"
)

const taskColumns = `
	id, user_id, original_url, remote_task_id, status, result_url,
	error_msg, attempts_made, claimed_by, claim_attempt, refunded_at,
	created_at, updated_at`

// CreateTask inserts a task, defaulting to PENDING.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	status := t.Status
	if status == "" {
		status = task.StatusPending
	}
	now := time.Now().UTC()
	created, updated := t.CreatedAt, t.UpdatedAt
	if created.IsZero() {
		created = now
	}
	if updated.IsZero() {
		updated = now
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO unmark_tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.ID, t.UserID, t.OriginalURL, t.RemoteTaskID, string(status), t.ResultURL,
		t.ErrorMsg, t.AttemptsMade, t.ClaimedBy, t.ClaimAttempt, t.RefundedAt,
		created, updated,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return unmark.ErrTaskAlreadyExists
		}
		return fmt.Errorf("unmark/postgres: create task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM unmark_tasks WHERE id = $1`, taskID)

	t, err := scanTask(row)
	if err != nil {
		if isNoRows(err) {
			return nil, unmark.ErrTaskNotFound
		}
		return nil, fmt.Errorf("unmark/postgres: get task: %w", err)
	}
	return t, nil
}

// ClaimTask is the fenced claim: a PENDING row, or a PROCESSING row held
// by another owner or by an earlier attempt of this owner, moves to
// PROCESSING for c.
func (s *Store) ClaimTask(ctx context.Context, taskID string, c task.Claim) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE unmark_tasks
		SET status = 'PROCESSING',
		    claimed_by = $2,
		    claim_attempt = $3,
		    attempts_made = attempts_made + 1,
		    updated_at = NOW()
		WHERE id = $1
		  AND (status = 'PENDING'
		       OR (status = 'PROCESSING' AND (claimed_by <> $2 OR claim_attempt < $3)))`,
		taskID, c.Owner, c.Attempt,
	)
	if err != nil {
		return 0, fmt.Errorf("unmark/postgres: claim task: %w", err)
	}
	return tag.RowsAffected(), nil
}

// TouchTask refreshes updated_at on a PROCESSING task.
func (s *Store) TouchTask(ctx context.Context, taskID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE unmark_tasks SET updated_at = NOW() WHERE id = $1 AND status = 'PROCESSING'`,
		taskID,
	)
	if err != nil {
		return fmt.Errorf("unmark/postgres: touch task: %w", err)
	}
	return nil
}

// SetRemoteTaskID records the vendor handle once.
func (s *Store) SetRemoteTaskID(ctx context.Context, taskID, remoteTaskID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE unmark_tasks
		SET remote_task_id = $2, updated_at = NOW()
		WHERE id = $1 AND remote_task_id = ''`,
		taskID, remoteTaskID,
	)
	if err != nil {
		return false, fmt.Errorf("unmark/postgres: set remote task id: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteTask finalizes a PROCESSING, unrefunded task as COMPLETED.
func (s *Store) CompleteTask(ctx context.Context, taskID, resultURL string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE unmark_tasks
		SET status = 'COMPLETED', result_url = $2, error_msg = '', updated_at = NOW()
		WHERE id = $1 AND status = 'PROCESSING' AND refunded_at IS NULL`,
		taskID, resultURL,
	)
	if err != nil {
		return false, fmt.Errorf("unmark/postgres: complete task: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordAttemptError stores msg on a PROCESSING task.
func (s *Store) RecordAttemptError(ctx context.Context, taskID, msg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE unmark_tasks
		SET error_msg = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'PROCESSING'`,
		taskID, msg,
	)
	if err != nil {
		return fmt.Errorf("unmark/postgres: record attempt error: %w", err)
	}
	return nil
}

// ReclaimStuck resets stale PROCESSING tasks to PENDING.
func (s *Store) ReclaimStuck(ctx context.Context, olderThan time.Duration, msg string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE unmark_tasks
		SET status = 'PENDING', error_msg = $2, updated_at = NOW()
		WHERE status = 'PROCESSING'
		  AND updated_at < NOW() - make_interval(secs => $1)
		RETURNING id`,
		olderThan.Seconds(), msg,
	)
	if err != nil {
		return nil, fmt.Errorf("unmark/postgres: reclaim stuck: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("unmark/postgres: reclaim stuck: %w", err)
	}
	return ids, nil
}

// CountTasks returns the number of tasks in status.
func (s *Store) CountTasks(ctx context.Context, status task.Status) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM unmark_tasks WHERE status = $1`, string(status),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("unmark/postgres: count tasks: %w", err)
	}
	return count, nil
}

// ListTasks returns tasks in status, oldest first.
func (s *Store) ListTasks(ctx context.Context, status task.Status, opts task.ListOpts) ([]*task.Task, error) {
	var f filter
	f.and("status = " + f.bind(string(status)))
	q := f.query(`SELECT `+taskColumns+` FROM unmark_tasks`, "created_at, id", opts.Limit, 0)

	rows, err := s.pool.Query(ctx, q, f.args...)
	if err != nil {
		return nil, fmt.Errorf("unmark/postgres: list tasks: %w", err)
	}
	tasks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*task.Task, error) {
		return scanTask(row)
	})
	if err != nil {
		return nil, fmt.Errorf("unmark/postgres: list tasks: %w", err)
	}
	return tasks, nil
}

func scanTask(row pgx.Row) (*task.Task, error) {
	var (
		t      task.Task
		status string
	)
	err := row.Scan(
		&t.ID, &t.UserID, &t.OriginalURL, &t.RemoteTaskID, &status, &t.ResultURL,
		&t.ErrorMsg, &t.AttemptsMade, &t.ClaimedBy, &t.ClaimAttempt, &t.RefundedAt,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = task.Status(status)
	return &t, nil
}
