// Package ledger defines the credit ledger entry written alongside
// balance changes. Only the refund entry is produced by this module;
// general accounting lives with the account service.
package ledger

import (
	"time"

	"github.com/xraph/unmark/id"
)

// Kind classifies a ledger entry.
type Kind string

// KindRefund is the entry appended when an abandoned task is refunded.
const KindRefund Kind = "REFUND"

// Entry is an append-only audit record of a balance change.
type Entry struct {
	ID          id.LedgerID `json:"id"`
	UserID      string      `json:"user_id"`
	Kind        Kind        `json:"kind"`
	Amount      int64       `json:"amount"`
	TaskID      string      `json:"task_id,omitempty"`
	Description string      `json:"description"`
	CreatedAt   time.Time   `json:"created_at"`
}
