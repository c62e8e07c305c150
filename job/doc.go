// Package job defines the queue job entity, its state machine, typed
// definitions, and the store interface used by the durable profile.
//
// A [Job] carries one unit of work through the queue:
//
//	pending → running → completed
//	pending → running → retrying → running → ...
//	pending → running → failed → dlq
//
// MaxAttempts is the total attempt budget, counting the first run. The
// store increments Attempts when it hands the job to a worker, and the
// executor passes an [Attempt] to the handler so the handler can tell a
// final attempt from one the queue will retry.
//
// Key is an optional dedupe key. While a job with a given key is live
// (pending, running or retrying) a second EnqueueJob with the same key
// fails with unmark.ErrJobAlreadyExists. Watermark removal jobs use the
// task id as their key.
package job
