// Package middleware wraps each removal attempt the worker executes.
//
// The worker composes its middleware with [Chain] once at start-up; the
// first entry sees the attempt first:
//
//	mw := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// Provided middleware:
//
//   - [Logging] logs the start and outcome of each attempt with its task id.
//   - [Recover] turns a panic into a [*PanicError].
//   - [Timeout] bounds an attempt by the job's Timeout.
//   - [Tracing] opens a span named [SpanName].
//   - [Metrics] records duration and outcome ([OutcomeOK], [OutcomeRetry],
//     [OutcomeDead]) plus attempts in progress.
package middleware
