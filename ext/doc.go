// Package ext defines the extension system for Unmark.
//
// Extensions are notified of lifecycle events and can react to them,
// for example by recording metrics or writing audit logs. Each lifecycle
// hook is a separate interface so extensions opt in only to the events
// they care about.
//
//	type Auditor struct{}
//
//	func (a *Auditor) Name() string { return "auditor" }
//
//	func (a *Auditor) OnTaskRefunded(ctx context.Context, taskID string, amount int64) error {
//	    return audit.Write(ctx, "refund", taskID, amount)
//	}
//
// # Job Lifecycle Hooks
//
// Emitted by the durable profile's queue and executor:
//
//   - [JobEnqueued] job was accepted into the queue
//   - [JobStarted] worker began an attempt
//   - [JobCompleted] attempt finished successfully
//   - [JobRetrying] attempt failed and the queue will retry
//   - [JobFailed] final attempt failed
//   - [JobDLQ] job was moved to the dead letter queue
//
// # Task Lifecycle Hooks
//
// Emitted by both profiles while driving a watermark task:
//
//   - [TaskClaimed] a worker became the sole owner of an attempt
//   - [TaskCompleted] the vendor returned a result
//   - [TaskAttemptFailed] one attempt failed
//   - [TaskRefunded] the task was settled as FAILED and refunded
//   - [TaskReclaimed] a stuck task was reset to PENDING
//
// [Shutdown] fires once when the process is shutting down.
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
