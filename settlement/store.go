package settlement

import (
	"context"
	"time"

	"github.com/xraph/unmark/ledger"
)

// Refund describes one settlement. The store resolves the owning user
// from the task row.
type Refund struct {
	TaskID string
	Amount int64
	Reason string
	At     time.Time
	Entry  *ledger.Entry
}

// Store defines the persistence contract for refund settlement.
type Store interface {
	// SettleRefund runs in a single transaction:
	//   1. UPDATE task SET status=FAILED, error_msg=Reason, refunded_at=At
	//      WHERE id=TaskID AND refunded_at IS NULL AND status <> COMPLETED
	//   2. credit Amount to the task owner's balance
	//   3. append Entry (UserID filled in from the task row)
	// It returns false with a nil error when the guard in step 1 matched
	// no row, in which case nothing is written.
	SettleRefund(ctx context.Context, r *Refund) (bool, error)

	// GetBalance returns the user's spendable credit balance.
	GetBalance(ctx context.Context, userID string) (int64, error)

	// ListLedger returns the user's ledger entries, oldest first.
	ListLedger(ctx context.Context, userID string) ([]*ledger.Entry, error)
}
