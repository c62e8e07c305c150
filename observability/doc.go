// Package observability exports pipeline lifecycle metrics through
// OpenTelemetry:
//
//	reg.Register(observability.NewMetricsExtension())
//
// Job hooks add to the unmark.jobs counter and task hooks to unmark.tasks,
// each tagged with an event attribute. Refunds also add their amount to
// unmark.credits.refunded, so refunded credits can be compared against
// what was charged.
package observability
