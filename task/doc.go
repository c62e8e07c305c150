// Package task defines the watermark task entity, its status machine and
// the store contract through which every status transition happens.
//
// # Lifecycle
//
//	PENDING    --claim-->               PROCESSING
//	PROCESSING --vendor success-->      COMPLETED (terminal)
//	PROCESSING --attempts exhausted-->  FAILED    (terminal, refund settled)
//	PROCESSING --stuck timeout-->       PENDING   (inline profile only)
//
// Status and RefundedAt are only ever written through conditional
// updates: [Store.ClaimTask], [Store.CompleteTask], [Store.ReclaimStuck]
// and the settlement store's SettleRefund. Each reports whether it
// actually changed a row, and a zero-row result is a normal outcome
// meaning another actor already moved the task on.
package task
