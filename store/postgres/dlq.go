package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/unmark"
	"github.com/xraph/unmark/dlq"
	"github.com/xraph/unmark/id"
)

const dlqColumns = `
	id, job_id, job_name, queue, task_id, payload, error,
	attempts, max_attempts, failed_at, replayed_at, created_at`

// PushDLQ records a dead-lettered job.
func (s *Store) PushDLQ(ctx context.Context, e *dlq.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO unmark_dlq (`+dlqColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.JobID, e.JobName, e.Queue, e.TaskID, e.Payload, e.Error,
		e.Attempts, e.MaxAttempts, e.FailedAt, e.ReplayedAt, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("unmark/postgres: push dlq: %w", err)
	}
	return nil
}

// GetDLQ loads one entry.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	e, err := scanDLQ(s.pool.QueryRow(ctx,
		`SELECT `+dlqColumns+` FROM unmark_dlq WHERE id = $1`, entryID))
	switch {
	case isNoRows(err):
		return nil, unmark.ErrDLQNotFound
	case err != nil:
		return nil, fmt.Errorf("unmark/postgres: get dlq: %w", err)
	}
	return e, nil
}

// ListDLQ returns entries matching opts, oldest failure first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var f filter
	if opts.TaskID != "" {
		f.and("task_id = " + f.bind(opts.TaskID))
	}
	if opts.Open {
		f.and("replayed_at IS NULL")
	}
	q := f.query(`SELECT `+dlqColumns+` FROM unmark_dlq`, "failed_at, id", opts.Limit, 0)

	rows, err := s.pool.Query(ctx, q, f.args...)
	if err != nil {
		return nil, fmt.Errorf("unmark/postgres: list dlq: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*dlq.Entry, error) {
		return scanDLQ(row)
	})
	if err != nil {
		return nil, fmt.Errorf("unmark/postgres: list dlq: %w", err)
	}
	return entries, nil
}

// ReplayDLQ stamps replayed_at on an open entry.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE unmark_dlq SET replayed_at = NOW()
		WHERE id = $1 AND replayed_at IS NULL`,
		entryID,
	)
	if err != nil {
		return fmt.Errorf("unmark/postgres: replay dlq: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetDLQ(ctx, entryID); err != nil {
		return err
	}
	return unmark.ErrDLQReplayed
}

// PurgeDLQ deletes entries that failed before the cutoff.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM unmark_dlq WHERE failed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("unmark/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the number of entries.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM unmark_dlq`).Scan(&n); err != nil {
		return 0, fmt.Errorf("unmark/postgres: count dlq: %w", err)
	}
	return n, nil
}

func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
	var e dlq.Entry
	err := row.Scan(
		&e.ID, &e.JobID, &e.JobName, &e.Queue, &e.TaskID, &e.Payload, &e.Error,
		&e.Attempts, &e.MaxAttempts, &e.FailedAt, &e.ReplayedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
