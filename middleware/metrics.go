package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/unmark/job"
)

const scope = "github.com/xraph/unmark/middleware"

// Attempt outcomes recorded on the outcome attribute.
const (
	OutcomeOK    = "ok"
	OutcomeRetry = "retry"
	OutcomeDead  = "dead"
)

// Metrics records attempts on the global MeterProvider. With no provider
// installed the instruments are no-ops.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(scope))
}

// MetricsWithMeter records three instruments on meter:
//
//	unmark.attempt.duration  histogram, seconds
//	unmark.attempt.count     counter
//	unmark.attempt.active    up-down counter of attempts in progress
//
// duration and count carry job_name, queue and outcome (ok, retry or
// dead). An error on the final attempt is dead; any earlier one is retry.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Instrument errors still yield usable no-op instruments.
	duration, _ := meter.Float64Histogram("unmark.attempt.duration",
		metric.WithDescription("Removal attempt wall time"),
		metric.WithUnit("s"),
	)
	count, _ := meter.Int64Counter("unmark.attempt.count",
		metric.WithDescription("Removal attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	active, _ := meter.Int64UpDownCounter("unmark.attempt.active",
		metric.WithDescription("Removal attempts in progress"),
		metric.WithUnit("{attempt}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		queue := metric.WithAttributes(attribute.String("queue", j.Queue))
		active.Add(ctx, 1, queue)
		defer active.Add(context.WithoutCancel(ctx), -1, queue)

		start := time.Now()
		err := next(ctx)
		took := time.Since(start)

		_, _, final := attempt(j)
		set := metric.WithAttributes(
			attribute.String("job_name", j.Name),
			attribute.String("queue", j.Queue),
			attribute.String("outcome", outcome(err, final)),
		)
		duration.Record(ctx, took.Seconds(), set)
		count.Add(ctx, 1, set)
		return err
	}
}

func outcome(err error, final bool) string {
	switch {
	case err == nil:
		return OutcomeOK
	case final:
		return OutcomeDead
	default:
		return OutcomeRetry
	}
}
