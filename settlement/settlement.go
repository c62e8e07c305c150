// Package settlement refunds permanently abandoned tasks exactly once.
//
// The refund is guarded by the task's refunded_at column: the conditional
// update either claims the settlement and credits the user inside the
// same transaction, or matches nothing and the whole call is a no-op.
// Re-delivering the same final failure any number of times therefore
// credits the user once.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/unmark/id"
	"github.com/xraph/unmark/ledger"
)

// DefaultAmount is the flat refund per task.
const DefaultAmount int64 = 50

// Emitter receives settlement lifecycle events.
// ext.Registry satisfies this interface.
type Emitter interface {
	EmitTaskRefunded(ctx context.Context, taskID string, amount int64)
}

// Option configures a Manager.
type Option func(*Manager)

// WithAmount overrides the flat refund amount.
func WithAmount(amount int64) Option {
	return func(m *Manager) { m.amount = amount }
}

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithEmitter sets the lifecycle event sink.
func WithEmitter(e Emitter) Option {
	return func(m *Manager) { m.emitter = e }
}

// Manager performs idempotent refunds.
type Manager struct {
	store   Store
	amount  int64
	emitter Emitter
	logger  *slog.Logger
	now     func() time.Time
}

// NewManager creates a settlement Manager.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		amount: DefaultAmount,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Amount returns the flat refund amount.
func (m *Manager) Amount() int64 { return m.amount }

// Settle marks the task FAILED with reason, credits the refund and
// appends a REFUND ledger entry. It returns false when the task had
// already been settled or completed.
func (m *Manager) Settle(ctx context.Context, taskID, reason string) (bool, error) {
	now := m.now()
	r := &Refund{
		TaskID: taskID,
		Amount: m.amount,
		Reason: reason,
		At:     now,
		Entry: &ledger.Entry{
			ID:          id.NewLedgerID(),
			Kind:        ledger.KindRefund,
			Amount:      m.amount,
			TaskID:      taskID,
			Description: fmt.Sprintf("去水印任务失败，退还 %d 积分", m.amount),
			CreatedAt:   now,
		},
	}

	ok, err := m.store.SettleRefund(ctx, r)
	if err != nil {
		return false, fmt.Errorf("settle task %s: %w", taskID, err)
	}
	if !ok {
		m.logger.Info("refund already settled",
			slog.String("task_id", taskID),
		)
		return false, nil
	}

	m.logger.Info("task refunded",
		slog.String("task_id", taskID),
		slog.String("user_id", r.Entry.UserID),
		slog.Int64("amount", m.amount),
		slog.String("reason", reason),
	)
	if m.emitter != nil {
		m.emitter.EmitTaskRefunded(ctx, taskID, m.amount)
	}
	return true, nil
}
