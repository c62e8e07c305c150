// Package unmark provides a durable watermark-removal job pipeline for Go.
// It submits images to a slow external vision API, polls for completion
// with backoff, and settles refunds exactly once when a task is abandoned.
//
// Unmark is designed as a library. Configure a task store and a queue
// store, hand it a vendor client, and start the worker pool.
//
// # Quick Start
//
//	p, err := unmark.New(
//	    unmark.WithStore(pgStore),
//	    unmark.WithConcurrency(5),
//	)
//	eng, err := engine.Build(p, vendorClient)
//	err = eng.Start(ctx)
//
// # Architecture
//
// Each subsystem (task, settlement, job, dlq) defines its own store
// interface. A single backend may implement all of them, or the queue
// may live in Redis while tasks and the credit ledger live in Postgres.
//
// Two deployment profiles share the same claim and settlement rules:
// the durable profile (engine + worker) backed by a persisted queue, and
// the inline profile (package inline) that dispatches straight from the
// task table and sweeps stuck tasks.
package unmark
