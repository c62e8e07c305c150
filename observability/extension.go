package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/unmark/ext"
	"github.com/xraph/unmark/job"
)

const meterName = "github.com/xraph/unmark/observability"

// Instrument names. Job and task events share one counter each, split by
// the event attribute.
const (
	JobEvents       = "unmark.jobs"
	TaskEvents      = "unmark.tasks"
	TaskDuration    = "unmark.task.duration"
	CreditsRefunded = "unmark.credits.refunded"
)

var (
	_ ext.Extension         = (*MetricsExtension)(nil)
	_ ext.JobEnqueued       = (*MetricsExtension)(nil)
	_ ext.JobCompleted      = (*MetricsExtension)(nil)
	_ ext.JobFailed         = (*MetricsExtension)(nil)
	_ ext.JobRetrying       = (*MetricsExtension)(nil)
	_ ext.JobDLQ            = (*MetricsExtension)(nil)
	_ ext.TaskClaimed       = (*MetricsExtension)(nil)
	_ ext.TaskCompleted     = (*MetricsExtension)(nil)
	_ ext.TaskAttemptFailed = (*MetricsExtension)(nil)
	_ ext.TaskRefunded      = (*MetricsExtension)(nil)
	_ ext.TaskReclaimed     = (*MetricsExtension)(nil)
)

// MetricsExtension turns lifecycle hooks into OTel measurements.
type MetricsExtension struct {
	jobs     metric.Int64Counter
	tasks    metric.Int64Counter
	duration metric.Float64Histogram
	credits  metric.Int64Counter
}

// NewMetricsExtension records on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter records on meter. An instrument the meter
// refuses is replaced by a noop, so hooks never fail.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	m.jobs, _ = meter.Int64Counter(JobEvents,
		metric.WithDescription("Queue job lifecycle events by queue and event"))
	m.tasks, _ = meter.Int64Counter(TaskEvents,
		metric.WithDescription("Removal task lifecycle events by event"))
	m.duration, _ = meter.Float64Histogram(TaskDuration,
		metric.WithDescription("Claim to COMPLETED time of the winning attempt"),
		metric.WithUnit("s"))
	m.credits, _ = meter.Int64Counter(CreditsRefunded,
		metric.WithDescription("Credits returned to users by refunds"))
	return m
}

func (m *MetricsExtension) Name() string { return "observability-metrics" }

func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	return m.job(ctx, j, "enqueued")
}

func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	return m.job(ctx, j, "completed")
}

func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	return m.job(ctx, j, "failed")
}

func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	return m.job(ctx, j, "retried")
}

func (m *MetricsExtension) OnJobDLQ(ctx context.Context, j *job.Job, _ error) error {
	return m.job(ctx, j, "dlq")
}

func (m *MetricsExtension) OnTaskClaimed(ctx context.Context, _ string, _ job.Attempt) error {
	return m.task(ctx, "claimed")
}

func (m *MetricsExtension) OnTaskCompleted(ctx context.Context, _, _ string, elapsed time.Duration) error {
	m.duration.Record(ctx, elapsed.Seconds())
	return m.task(ctx, "completed")
}

func (m *MetricsExtension) OnTaskAttemptFailed(ctx context.Context, _ string, a job.Attempt, _ error) error {
	return m.task(ctx, "attempt_failed", attribute.Bool("final", a.IsFinal()))
}

// OnTaskRefunded counts the settlement and, separately, the credits it
// returned.
func (m *MetricsExtension) OnTaskRefunded(ctx context.Context, _ string, amount int64) error {
	m.credits.Add(ctx, amount)
	return m.task(ctx, "refunded")
}

func (m *MetricsExtension) OnTaskReclaimed(ctx context.Context, _ string) error {
	return m.task(ctx, "reclaimed")
}

func (m *MetricsExtension) job(ctx context.Context, j *job.Job, event string) error {
	m.jobs.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event), attribute.String("queue", j.Queue)))
	return nil
}

func (m *MetricsExtension) task(ctx context.Context, event string, extra ...attribute.KeyValue) error {
	m.tasks.Add(ctx, 1, metric.WithAttributes(append(extra, attribute.String("event", event))...))
	return nil
}
