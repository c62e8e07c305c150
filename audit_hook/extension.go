package audithook

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/unmark/ext"
	"github.com/xraph/unmark/job"
)

var (
	_ ext.Extension         = (*Extension)(nil)
	_ ext.JobEnqueued       = (*Extension)(nil)
	_ ext.JobStarted        = (*Extension)(nil)
	_ ext.JobCompleted      = (*Extension)(nil)
	_ ext.JobFailed         = (*Extension)(nil)
	_ ext.JobRetrying       = (*Extension)(nil)
	_ ext.JobDLQ            = (*Extension)(nil)
	_ ext.TaskClaimed       = (*Extension)(nil)
	_ ext.TaskCompleted     = (*Extension)(nil)
	_ ext.TaskAttemptFailed = (*Extension)(nil)
	_ ext.TaskRefunded      = (*Extension)(nil)
	_ ext.TaskReclaimed     = (*Extension)(nil)
)

// Event is one line of the audit trail.
type Event struct {
	At        time.Time      `json:"at"`
	Action    string         `json:"action"`
	Subject   Subject        `json:"subject"`
	SubjectID string         `json:"subject_id"`
	Severity  Severity       `json:"severity"`
	Failed    bool           `json:"failed"`
	Reason    string         `json:"reason,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

func (ev *Event) set(key string, value any) *Event {
	ev.Fields[key] = value
	return ev
}

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, ev *Event) error
}

// RecorderFunc adapts a function to a Recorder.
type RecorderFunc func(ctx context.Context, ev *Event) error

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, ev *Event) error { return f(ctx, ev) }

// LogRecorder writes each event as one "audit" log line at a level that
// follows its severity.
func LogRecorder(l *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, ev *Event) error {
		level := slog.LevelInfo
		if ev.Severity == SeverityWarning {
			level = slog.LevelWarn
		} else if ev.Severity == SeverityCritical {
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("action", ev.Action),
			slog.String(string(ev.Subject)+"_id", ev.SubjectID),
			slog.Bool("failed", ev.Failed),
		}
		if ev.Reason != "" {
			attrs = append(attrs, slog.String("reason", ev.Reason))
		}
		fields := make([]any, 0, len(ev.Fields))
		for k, v := range ev.Fields {
			fields = append(fields, slog.Any(k, v))
		}
		if len(fields) > 0 {
			attrs = append(attrs, slog.Group("fields", fields...))
		}
		l.LogAttrs(ctx, level, "audit", attrs...)
		return nil
	})
}

// Extension records job and task lifecycle events to a [Recorder].
// Hooks never fail: a recorder error is logged and dropped.
type Extension struct {
	recorder Recorder
	only     map[string]struct{}
	logger   *slog.Logger
	now      func() time.Time
}

// New returns an Extension that records every action to r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

func (e *Extension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	return e.emit(ctx, jobEvent(ActionJobEnqueued, j, nil).set("key", j.Key))
}

func (e *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	ev := jobEvent(ActionJobStarted, j, nil).set("attempt", j.Attempts)
	return e.emit(ctx, ev.set("worker_id", j.WorkerID.String()))
}

func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return e.emit(ctx, jobEvent(ActionJobCompleted, j, nil).set("elapsed_ms", elapsed.Milliseconds()))
}

func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, err error) error {
	ev := jobEvent(ActionJobFailed, j, err).set("attempts", j.Attempts)
	return e.emit(ctx, ev.set("max_attempts", j.MaxAttempts))
}

func (e *Extension) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	ev := jobEvent(ActionJobRetrying, j, nil).set("attempt", attempt)
	ev.Failed = true
	return e.emit(ctx, ev.set("next_run_at", nextRunAt.Format(time.RFC3339)))
}

func (e *Extension) OnJobDLQ(ctx context.Context, j *job.Job, err error) error {
	return e.emit(ctx, jobEvent(ActionJobDLQ, j, err).set("attempts", j.Attempts))
}

func (e *Extension) OnTaskClaimed(ctx context.Context, taskID string, a job.Attempt) error {
	return e.emit(ctx, taskEvent(ActionTaskClaimed, taskID, nil).set("attempt", a.Number).set("max_attempts", a.Max))
}

func (e *Extension) OnTaskCompleted(ctx context.Context, taskID, resultURL string, elapsed time.Duration) error {
	ev := taskEvent(ActionTaskCompleted, taskID, nil).set("result_url", resultURL)
	return e.emit(ctx, ev.set("elapsed_ms", elapsed.Milliseconds()))
}

// OnTaskAttemptFailed records the failure as critical when no attempt
// follows it.
func (e *Extension) OnTaskAttemptFailed(ctx context.Context, taskID string, a job.Attempt, err error) error {
	ev := taskEvent(ActionTaskAttemptFailed, taskID, err).set("attempt", a.Number).set("max_attempts", a.Max)
	if a.IsFinal() {
		ev.Severity = SeverityCritical
	}
	return e.emit(ctx, ev.set("final", a.IsFinal()))
}

// OnTaskRefunded counts as a failure: the user paid and got nothing.
func (e *Extension) OnTaskRefunded(ctx context.Context, taskID string, amount int64) error {
	ev := taskEvent(ActionTaskRefunded, taskID, nil).set("amount", amount)
	ev.Failed = true
	return e.emit(ctx, ev)
}

func (e *Extension) OnTaskReclaimed(ctx context.Context, taskID string) error {
	return e.emit(ctx, taskEvent(ActionTaskReclaimed, taskID, nil))
}

func jobEvent(action string, j *job.Job, err error) *Event {
	ev := newEvent(action, SubjectJob, j.ID.String(), err)
	return ev.set("job_name", j.Name).set("queue", j.Queue)
}

func taskEvent(action, taskID string, err error) *Event {
	return newEvent(action, SubjectTask, taskID, err)
}

func newEvent(action string, subject Subject, subjectID string, err error) *Event {
	ev := &Event{
		Action:    action,
		Subject:   subject,
		SubjectID: subjectID,
		Severity:  SeverityInfo,
		Fields:    map[string]any{},
	}
	if s, ok := severities[action]; ok {
		ev.Severity = s
	}
	if err != nil {
		ev.Failed = true
		ev.Reason = err.Error()
	}
	return ev
}

func (e *Extension) emit(ctx context.Context, ev *Event) error {
	if e.only != nil {
		if _, ok := e.only[ev.Action]; !ok {
			return nil
		}
	}
	ev.At = e.now()
	if err := e.recorder.Record(ctx, ev); err != nil {
		e.logger.WarnContext(ctx, "audit event dropped",
			"action", ev.Action, "subject_id", ev.SubjectID, "error", err)
	}
	return nil
}
