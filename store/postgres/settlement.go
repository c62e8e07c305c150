package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/unmark"
	"github.com/xraph/unmark/ledger"
	"github.com/xraph/unmark/settlement"
)

// SettleRefund finalizes the task, credits the owner and appends the
// ledger entry in one transaction. A guard miss rolls back with no
// writes.
func (s *Store) SettleRefund(ctx context.Context, r *settlement.Refund) (bool, error) {
	var settled bool
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var userID string
		err := tx.QueryRow(ctx, `
			UPDATE unmark_tasks
			SET status = 'FAILED', error_msg = $2, refunded_at = $3, updated_at = $3
			WHERE id = $1 AND refunded_at IS NULL AND status <> 'COMPLETED'
			RETURNING user_id`,
			r.TaskID, r.Reason, r.At,
		).Scan(&userID)
		if isNoRows(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("finalize task: %w", err)
		}

		if _, err = tx.Exec(ctx, `
			INSERT INTO unmark_accounts (user_id, balance, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id)
			DO UPDATE SET balance = unmark_accounts.balance + EXCLUDED.balance,
			              updated_at = EXCLUDED.updated_at`,
			userID, r.Amount, r.At,
		); err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}

		if r.Entry != nil {
			r.Entry.UserID = userID
			e := r.Entry
			if _, err = tx.Exec(ctx, `
				INSERT INTO unmark_ledger (id, user_id, kind, amount, task_id, description, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				e.ID, e.UserID, string(e.Kind), e.Amount, e.TaskID, e.Description, e.CreatedAt,
			); err != nil {
				return fmt.Errorf("append ledger: %w", err)
			}
		}

		settled = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("unmark/postgres: settle refund: %w", err)
	}
	return settled, nil
}

// GetBalance returns the user's balance.
func (s *Store) GetBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx,
		`SELECT balance FROM unmark_accounts WHERE user_id = $1`, userID,
	).Scan(&balance)
	if err != nil {
		if isNoRows(err) {
			return 0, unmark.ErrAccountNotFound
		}
		return 0, fmt.Errorf("unmark/postgres: get balance: %w", err)
	}
	return balance, nil
}

// ListLedger returns the user's ledger entries, oldest first.
func (s *Store) ListLedger(ctx context.Context, userID string) ([]*ledger.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, kind, amount, task_id, description, created_at
		FROM unmark_ledger
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("unmark/postgres: list ledger: %w", err)
	}
	defer rows.Close()

	var entries []*ledger.Entry
	for rows.Next() {
		var (
			e    ledger.Entry
			kind string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &kind, &e.Amount, &e.TaskID, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("unmark/postgres: scan ledger row: %w", err)
		}
		e.Kind = ledger.Kind(kind)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("unmark/postgres: iterate ledger rows: %w", err)
	}
	return entries, nil
}

// SeedBalance sets a user's balance. The account service owns balances
// in production.
func (s *Store) SeedBalance(ctx context.Context, userID string, amount int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO unmark_accounts (user_id, balance) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET balance = EXCLUDED.balance, updated_at = NOW()`,
		userID, amount,
	)
	if err != nil {
		return fmt.Errorf("unmark/postgres: seed balance: %w", err)
	}
	return nil
}
