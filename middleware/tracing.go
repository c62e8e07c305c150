package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/unmark/job"
)

// SpanName names the span opened around each attempt.
const SpanName = "unmark.removal.attempt"

// Tracing traces on the global TracerProvider.
func Tracing() Middleware { return TracingWithTracer(otel.Tracer(scope)) }

// TracingWithTracer wraps each attempt in an internal span tagged with the
// job, its task and the attempt counters. When the final attempt fails
// the span also gets a dead_letter event.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		n, limit, final := attempt(j)
		ctx, span := tracer.Start(ctx, SpanName, trace.WithSpanKind(trace.SpanKindInternal))
		defer span.End()
		span.SetAttributes(
			attribute.String("unmark.job.id", j.ID.String()),
			attribute.String("unmark.job.name", j.Name),
			attribute.String("unmark.queue", j.Queue),
			attribute.String("unmark.task.id", j.Key),
			attribute.Int("unmark.attempt", n),
			attribute.Int("unmark.max_attempts", limit),
			attribute.Bool("unmark.attempt.final", final),
		)

		err := next(ctx)
		switch {
		case err == nil:
			span.SetStatus(codes.Ok, "")
		case final:
			span.AddEvent("dead_letter")
			fallthrough
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
}
