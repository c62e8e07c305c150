package removal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/unmark/job"
	"github.com/xraph/unmark/poll"
	"github.com/xraph/unmark/remote"
	"github.com/xraph/unmark/task"
)

const (
	// JobName is the queue job that drives one task.
	JobName = "watermark.remove"
	// Queue is the queue watermark jobs are placed on.
	Queue = "watermark"
)

// TimeoutMessage is recorded when the poll cap runs out before the
// vendor finished.
const TimeoutMessage = "去水印处理超时"

// Vendor is the slice of the vendor client the processor needs.
// *remote.Client satisfies it.
type Vendor interface {
	CreateJob(ctx context.Context, originalURL string) (string, error)
	PollJob(ctx context.Context, remoteID string) (*remote.JobStatus, error)
}

// Settler refunds an abandoned task. *settlement.Manager satisfies it.
type Settler interface {
	Settle(ctx context.Context, taskID, reason string) (bool, error)
}

// Emitter receives task lifecycle events. *ext.Registry satisfies it.
type Emitter interface {
	EmitTaskClaimed(ctx context.Context, taskID string, a job.Attempt)
	EmitTaskCompleted(ctx context.Context, taskID, resultURL string, elapsed time.Duration)
	EmitTaskAttemptFailed(ctx context.Context, taskID string, a job.Attempt, err error)
}

// Payload is the queue job payload.
type Payload struct {
	TaskID      string `json:"task_id"`
	OriginalURL string `json:"original_url"`
	UserID      string `json:"user_id"`
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the processor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// WithEmitter sets the lifecycle event sink.
func WithEmitter(e Emitter) Option {
	return func(p *Processor) { p.emitter = e }
}

// Processor runs the per-attempt task sequence.
type Processor struct {
	tasks   task.Store
	vendor  Vendor
	poller  *poll.Poller
	settler Settler
	emitter Emitter
	logger  *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(tasks task.Store, vendor Vendor, poller *poll.Poller, settler Settler, opts ...Option) *Processor {
	p := &Processor{
		tasks:   tasks,
		vendor:  vendor,
		poller:  poller,
		settler: settler,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Definition returns the queue job definition bound to this processor.
// The task id is used as the dedupe key by Submit, not here.
func (p *Processor) Definition(opts ...job.Option) *job.Definition[Payload] {
	opts = append([]job.Option{job.WithQueue(Queue)}, opts...)
	return job.NewDefinition(JobName, p.Process, opts...)
}

// Process runs one attempt for the task in pl.
//
// A task that cannot be claimed is finalized, or held by this job's own
// current or later attempt; the attempt ends as a successful no-op. Any
// returned error tells the queue the attempt failed.
func (p *Processor) Process(ctx context.Context, pl Payload, a job.Attempt) error {
	claimed, err := p.tasks.ClaimTask(ctx, pl.TaskID, task.Claim{Owner: a.JobID.String(), Attempt: a.Number})
	if err != nil {
		return fmt.Errorf("claim task %s: %w", pl.TaskID, err)
	}
	if claimed == 0 {
		p.logger.Info("task not claimable, skipping",
			slog.String("task_id", pl.TaskID),
			slog.Int("attempt", a.Number),
		)
		return nil
	}
	if p.emitter != nil {
		p.emitter.EmitTaskClaimed(ctx, pl.TaskID, a)
	}

	start := time.Now()
	resultURL, err := p.run(ctx, pl)
	if err != nil {
		return p.fail(ctx, pl.TaskID, a, err)
	}

	ok, err := p.tasks.CompleteTask(context.WithoutCancel(ctx), pl.TaskID, resultURL)
	if err != nil {
		return p.fail(ctx, pl.TaskID, a, fmt.Errorf("complete task: %w", err))
	}
	if !ok {
		p.logger.Warn("task finalized elsewhere before completion",
			slog.String("task_id", pl.TaskID),
		)
		return nil
	}

	p.logger.Info("task completed",
		slog.String("task_id", pl.TaskID),
		slog.String("result_url", resultURL),
		slog.Int("attempt", a.Number),
	)
	if p.emitter != nil {
		p.emitter.EmitTaskCompleted(ctx, pl.TaskID, resultURL, time.Since(start))
	}
	return nil
}

// run creates or resumes the vendor job and waits for its result.
func (p *Processor) run(ctx context.Context, pl Payload) (string, error) {
	t, err := p.tasks.GetTask(ctx, pl.TaskID)
	if err != nil {
		return "", fmt.Errorf("load task: %w", err)
	}

	remoteID := t.RemoteTaskID
	if remoteID != "" {
		p.logger.Info("resuming remote job",
			slog.String("task_id", pl.TaskID),
			slog.String("remote_task_id", remoteID),
		)
	} else {
		remoteID, err = p.createRemote(ctx, t, pl)
		if err != nil {
			return "", err
		}
	}

	st, err := p.poller.Wait(ctx, remoteID, p.fetcher(pl.TaskID))
	if err != nil {
		return "", err
	}
	if st.FileURL == "" {
		return "", &remote.PermanentError{Op: "poll", State: st.State, Reason: "未返回结果地址"}
	}
	return st.FileURL, nil
}

// fetcher polls the vendor and first touches the task, so a long poll
// loop keeps the task fresh for the stuck sweep.
func (p *Processor) fetcher(taskID string) poll.FetchFunc {
	return func(ctx context.Context, remoteID string) (*remote.JobStatus, error) {
		if err := p.tasks.TouchTask(ctx, taskID); err != nil {
			p.logger.Warn("failed to touch task",
				slog.String("task_id", taskID),
				slog.String("error", err.Error()),
			)
		}
		return p.vendor.PollJob(ctx, remoteID)
	}
}

// createRemote starts the vendor job and records its id before any
// polling, so a crash after this point resumes instead of re-creating.
func (p *Processor) createRemote(ctx context.Context, t *task.Task, pl Payload) (string, error) {
	url := t.OriginalURL
	if url == "" {
		url = pl.OriginalURL
	}

	remoteID, err := p.vendor.CreateJob(ctx, url)
	if err != nil {
		return "", err
	}

	set, err := p.tasks.SetRemoteTaskID(ctx, pl.TaskID, remoteID)
	if err != nil {
		return "", fmt.Errorf("record remote task id: %w", err)
	}
	if !set {
		// A concurrent attempt recorded its own job first; follow that one.
		cur, err := p.tasks.GetTask(ctx, pl.TaskID)
		if err != nil {
			return "", fmt.Errorf("reload task: %w", err)
		}
		if cur.RemoteTaskID != "" {
			remoteID = cur.RemoteTaskID
		}
	}

	p.logger.Info("remote job created",
		slog.String("task_id", pl.TaskID),
		slog.String("remote_task_id", remoteID),
	)
	return remoteID, nil
}

// fail records a failed attempt. On the final attempt the refund is
// settled, which also moves the task to FAILED. A settle error leaves the
// task PROCESSING; the job is dead-lettered and a replay, running under a
// new job id, can claim the task again and settle it.
func (p *Processor) fail(ctx context.Context, taskID string, a job.Attempt, cause error) error {
	// The attempt context may already be cancelled by a timeout; the
	// outcome still has to be written.
	ctx = context.WithoutCancel(ctx)
	reason := Reason(cause)

	p.logger.Warn("task attempt failed",
		slog.String("task_id", taskID),
		slog.Int("attempt", a.Number),
		slog.Int("max_attempts", a.Max),
		slog.Bool("final", a.IsFinal()),
		slog.String("error", cause.Error()),
	)
	if p.emitter != nil {
		p.emitter.EmitTaskAttemptFailed(ctx, taskID, a, cause)
	}

	if !a.IsFinal() {
		if err := p.tasks.RecordAttemptError(ctx, taskID, reason); err != nil {
			p.logger.Error("failed to record attempt error",
				slog.String("task_id", taskID),
				slog.String("error", err.Error()),
			)
		}
		return cause
	}

	if _, err := p.settler.Settle(ctx, taskID, reason); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// Reason renders err as the message stored on the task.
func Reason(err error) string {
	var pe *remote.PermanentError
	switch {
	case errors.As(err, &pe):
		return pe.Error()
	case errors.Is(err, poll.ErrNotReady):
		return TimeoutMessage
	default:
		return err.Error()
	}
}
