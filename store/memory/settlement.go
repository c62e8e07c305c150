package memory

import (
	"context"

	"github.com/xraph/unmark"
	"github.com/xraph/unmark/ledger"
	"github.com/xraph/unmark/settlement"
	"github.com/xraph/unmark/task"
)

// SettleRefund applies the refund guard, balance credit and ledger
// append under one lock, mirroring the SQL transaction.
func (m *Store) SettleRefund(_ context.Context, r *settlement.Refund) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[r.TaskID]
	if !ok || t.RefundedAt != nil || t.Status == task.StatusCompleted {
		return false, nil
	}

	at := r.At
	t.Status = task.StatusFailed
	t.ErrorMsg = r.Reason
	t.RefundedAt = &at
	t.UpdatedAt = at

	m.balances[t.UserID] += r.Amount

	if r.Entry != nil {
		r.Entry.UserID = t.UserID
		e := *r.Entry
		m.ledger = append(m.ledger, &e)
	}
	return true, nil
}

// GetBalance returns the user's balance.
func (m *Store) GetBalance(_ context.Context, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.balances[userID]
	if !ok {
		return 0, unmark.ErrAccountNotFound
	}
	return b, nil
}

// ListLedger returns the user's ledger entries, oldest first.
func (m *Store) ListLedger(_ context.Context, userID string) ([]*ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ledger.Entry
	for _, e := range m.ledger {
		if e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// SeedBalance sets a user's balance. The account service owns balances
// in production; tests use this to start from a known amount.
func (m *Store) SeedBalance(userID string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = amount
}
