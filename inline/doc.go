// Package inline is the non-durable deployment profile. There is no job
// queue: a Dispatcher periodically reclaims stuck tasks, counts the
// tasks already PROCESSING, and tops up to its concurrency cap from the
// PENDING backlog. A task that fails a non-final attempt stays
// PROCESSING until the stuck sweep hands it back.
//
// Dispatch cycles are guarded by a compare-and-swap flag, so an overlapping
// trigger returns ErrCycleInProgress instead of dispatching twice.
package inline
