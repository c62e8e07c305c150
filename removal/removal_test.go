package removal_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/unmark/id"
	"github.com/xraph/unmark/job"
	"github.com/xraph/unmark/poll"
	"github.com/xraph/unmark/remote"
	"github.com/xraph/unmark/removal"
	"github.com/xraph/unmark/settlement"
	"github.com/xraph/unmark/store/memory"
	"github.com/xraph/unmark/task"
)

// fakeVendor scripts create and poll responses.
type fakeVendor struct {
	mu        sync.Mutex
	creates   atomic.Int32
	polls     atomic.Int32
	createErr []error
	statuses  []*remote.JobStatus
	pollErr   error
	gate      chan struct{}
}

func (v *fakeVendor) CreateJob(ctx context.Context, _ string) (string, error) {
	n := int(v.creates.Add(1))
	v.mu.Lock()
	defer v.mu.Unlock()
	if n <= len(v.createErr) && v.createErr[n-1] != nil {
		return "", v.createErr[n-1]
	}
	return "remote_1", nil
}

func (v *fakeVendor) PollJob(ctx context.Context, _ string) (*remote.JobStatus, error) {
	if v.gate != nil {
		<-v.gate
	}
	n := int(v.polls.Add(1))
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pollErr != nil {
		return nil, v.pollErr
	}
	if len(v.statuses) == 0 {
		return &remote.JobStatus{State: 0}, nil
	}
	i := min(n, len(v.statuses)) - 1
	st := v.statuses[i]
	if st.Failed() {
		return st, &remote.PermanentError{Op: "poll", State: st.State, Reason: remote.StateReason(st.State)}
	}
	return st, nil
}

func done(url string) *remote.JobStatus {
	return &remote.JobStatus{State: remote.StateDone, Progress: 100, FileURL: url}
}

type fixture struct {
	store  *memory.Store
	vendor *fakeVendor
	proc   *removal.Processor
}

func newFixture(t *testing.T, v *fakeVendor) *fixture {
	t.Helper()
	s := memory.New()
	s.SeedBalance("user_1", 0)
	err := s.CreateTask(context.Background(), &task.Task{
		ID:          "task_1",
		UserID:      "user_1",
		OriginalURL: "https://cdn.example.com/in.png",
		Status:      task.StatusPending,
	})
	if err != nil {
		t.Fatal(err)
	}

	noSleep := poll.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() })
	poller := poll.Durable(2*time.Second, 16*time.Second, 0.2, 15, noSleep)
	proc := removal.NewProcessor(s, v, poller, settlement.NewManager(s))
	return &fixture{store: s, vendor: v, proc: proc}
}

func (f *fixture) task(t *testing.T) *task.Task {
	t.Helper()
	got, err := f.store.GetTask(context.Background(), "task_1")
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	b, err := f.store.GetBalance(context.Background(), "user_1")
	if err != nil {
		t.Fatal(err)
	}
	return b
}

var payload = removal.Payload{TaskID: "task_1", OriginalURL: "https://cdn.example.com/in.png", UserID: "user_1"}

func TestProcessCompletes(t *testing.T) {
	v := &fakeVendor{statuses: []*remote.JobStatus{done("https://x/result.png")}}
	f := newFixture(t, v)

	if err := f.proc.Process(context.Background(), payload, job.Attempt{Number: 1, Max: 3}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got := f.task(t)
	if got.Status != task.StatusCompleted {
		t.Fatalf("status = %q, want COMPLETED", got.Status)
	}
	if got.ResultURL != "https://x/result.png" {
		t.Fatalf("result url = %q", got.ResultURL)
	}
	if got.RefundedAt != nil {
		t.Fatal("completed task must not be refunded")
	}
	if f.balance(t) != 0 {
		t.Fatalf("balance = %d, want 0", f.balance(t))
	}
}

func TestProcessPermanentFailureOnFinalAttemptRefunds(t *testing.T) {
	v := &fakeVendor{statuses: []*remote.JobStatus{{State: remote.StateTooLarge}}}
	f := newFixture(t, v)

	err := f.proc.Process(context.Background(), payload, job.Attempt{Number: 1, Max: 1})
	if !remote.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}

	got := f.task(t)
	if got.Status != task.StatusFailed {
		t.Fatalf("status = %q, want FAILED", got.Status)
	}
	if !strings.Contains(got.ErrorMsg, "文件超出大小限制") {
		t.Fatalf("error msg = %q", got.ErrorMsg)
	}
	if got.RefundedAt == nil || got.ResultURL != "" {
		t.Fatalf("refunded_at = %v result_url = %q", got.RefundedAt, got.ResultURL)
	}
	if f.balance(t) != settlement.DefaultAmount {
		t.Fatalf("balance = %d, want %d", f.balance(t), settlement.DefaultAmount)
	}

	entries, _ := f.store.ListLedger(context.Background(), "user_1")
	if len(entries) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(entries))
	}
}

func TestProcessNonFinalFailureKeepsProcessing(t *testing.T) {
	v := &fakeVendor{statuses: []*remote.JobStatus{{State: remote.StateInvalidFile}}}
	f := newFixture(t, v)

	err := f.proc.Process(context.Background(), payload, job.Attempt{Number: 1, Max: 3})
	if err == nil {
		t.Fatal("expected error for the queue to retry")
	}

	got := f.task(t)
	if got.Status != task.StatusProcessing {
		t.Fatalf("status = %q, want PROCESSING", got.Status)
	}
	if !strings.Contains(got.ErrorMsg, "文件无效或已损坏") {
		t.Fatalf("error msg = %q", got.ErrorMsg)
	}
	if got.RefundedAt != nil || f.balance(t) != 0 {
		t.Fatal("non-final failure must not refund")
	}
}

func TestProcessResumesRemoteJobAcrossAttempts(t *testing.T) {
	timeout := &remote.TransientError{Op: "poll", Err: context.DeadlineExceeded}
	v := &fakeVendor{pollErr: timeout}
	f := newFixture(t, v)
	ctx := context.Background()

	// Attempt 1: the job is created but every poll times out.
	err := f.proc.Process(ctx, payload, job.Attempt{Number: 1, Max: 3})
	if !errors.Is(err, poll.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if got := f.task(t); got.RemoteTaskID != "remote_1" || got.ErrorMsg != removal.TimeoutMessage {
		t.Fatalf("after attempt 1: remote = %q msg = %q", got.RemoteTaskID, got.ErrorMsg)
	}

	// Attempt 2: the vendor recovers; the stored remote job is reused.
	v.mu.Lock()
	v.pollErr = nil
	v.statuses = []*remote.JobStatus{done("https://x/result.png")}
	v.mu.Unlock()

	if err := f.proc.Process(ctx, payload, job.Attempt{Number: 2, Max: 3}); err != nil {
		t.Fatalf("attempt 2: %v", err)
	}
	if n := v.creates.Load(); n != 1 {
		t.Fatalf("create called %d times, want 1", n)
	}
	if got := f.task(t); got.Status != task.StatusCompleted {
		t.Fatalf("status = %q, want COMPLETED", got.Status)
	}
}

func TestProcessCreateFailureThenRetry(t *testing.T) {
	v := &fakeVendor{
		createErr: []error{&remote.TransientError{Op: "create", Err: context.DeadlineExceeded}},
		statuses:  []*remote.JobStatus{done("https://x/result.png")},
	}
	f := newFixture(t, v)
	ctx := context.Background()

	if err := f.proc.Process(ctx, payload, job.Attempt{Number: 1, Max: 3}); !remote.IsTransient(err) {
		t.Fatalf("attempt 1: expected transient error, got %v", err)
	}
	if got := f.task(t); got.RemoteTaskID != "" {
		t.Fatalf("remote id set after failed create: %q", got.RemoteTaskID)
	}

	if err := f.proc.Process(ctx, payload, job.Attempt{Number: 2, Max: 3}); err != nil {
		t.Fatalf("attempt 2: %v", err)
	}
	if got := f.task(t); got.RemoteTaskID != "remote_1" || got.Status != task.StatusCompleted {
		t.Fatalf("got remote = %q status = %q", got.RemoteTaskID, got.Status)
	}
}

func TestProcessSkipsCreateWhenRemoteIDStored(t *testing.T) {
	v := &fakeVendor{statuses: []*remote.JobStatus{done("https://x/result.png")}}
	f := newFixture(t, v)
	ctx := context.Background()

	if ok, _ := f.store.SetRemoteTaskID(ctx, "task_1", "remote_prev"); !ok {
		t.Fatal("seed remote id")
	}
	if err := f.proc.Process(ctx, payload, job.Attempt{Number: 1, Max: 3}); err != nil {
		t.Fatal(err)
	}
	if n := v.creates.Load(); n != 0 {
		t.Fatalf("create called %d times, want 0", n)
	}
}

func TestProcessConcurrentDeliveryOneOwner(t *testing.T) {
	gate := make(chan struct{})
	v := &fakeVendor{statuses: []*remote.JobStatus{done("https://x/result.png")}, gate: gate}
	f := newFixture(t, v)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = f.proc.Process(ctx, payload, job.Attempt{Number: 1, Max: 3})
		}()
	}

	// Let exactly one worker reach the poll loop, then release it.
	deadline := time.After(2 * time.Second)
	for v.creates.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("no worker reached the vendor")
		case <-time.After(time.Millisecond):
		}
	}
	close(gate)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	if n := v.creates.Load(); n != 1 {
		t.Fatalf("create called %d times, want 1", n)
	}
	if n := v.polls.Load(); n != 1 {
		t.Fatalf("poll called %d times, want 1", n)
	}
	if got := f.task(t); got.Status != task.StatusCompleted {
		t.Fatalf("status = %q", got.Status)
	}
}

func TestProcessFinalizedTaskIsNoop(t *testing.T) {
	v := &fakeVendor{statuses: []*remote.JobStatus{{State: remote.StateFailed}}}
	f := newFixture(t, v)
	ctx := context.Background()

	if err := f.proc.Process(ctx, payload, job.Attempt{Number: 1, Max: 1}); err == nil {
		t.Fatal("expected failure")
	}

	// Re-delivery of the same final failure does nothing.
	if err := f.proc.Process(ctx, payload, job.Attempt{Number: 2, Max: 2}); err != nil {
		t.Fatalf("re-delivery: %v", err)
	}
	if f.balance(t) != settlement.DefaultAmount {
		t.Fatalf("balance = %d, want one refund", f.balance(t))
	}
	if n := v.creates.Load(); n != 1 {
		t.Fatalf("create called %d times, want 1", n)
	}
}

func TestProcessReplayedJobTakesOverStrandedTask(t *testing.T) {
	v := &fakeVendor{statuses: []*remote.JobStatus{done("https://x/result.png")}}
	f := newFixture(t, v)
	ctx := context.Background()

	// A dead-lettered job held the task on its final attempt.
	dead := id.NewJobID()
	if n, _ := f.store.ClaimTask(ctx, "task_1", task.Claim{Owner: dead.String(), Attempt: 3}); n != 1 {
		t.Fatal("seed claim failed")
	}

	// A late re-delivery of the dead job's earlier attempt is ignored.
	if err := f.proc.Process(ctx, payload, job.Attempt{Number: 2, Max: 3, JobID: dead}); err != nil {
		t.Fatalf("stale delivery: %v", err)
	}
	if v.creates.Load() != 0 {
		t.Fatal("stale delivery reached the vendor")
	}

	replay := id.NewJobID()
	if err := f.proc.Process(ctx, payload, job.Attempt{Number: 1, Max: 3, JobID: replay}); err != nil {
		t.Fatalf("replayed attempt: %v", err)
	}
	got := f.task(t)
	if got.Status != task.StatusCompleted || got.ClaimedBy != replay.String() {
		t.Fatalf("task = %q claimed by %q, want COMPLETED by the replay", got.Status, got.ClaimedBy)
	}
}

// touchCounter counts task refreshes made while polling.
type touchCounter struct {
	*memory.Store
	touches atomic.Int32
}

func (s *touchCounter) TouchTask(ctx context.Context, taskID string) error {
	s.touches.Add(1)
	return s.Store.TouchTask(ctx, taskID)
}

func TestProcessTouchesTaskOnEveryPoll(t *testing.T) {
	running := &remote.JobStatus{State: 0, Progress: 40}
	v := &fakeVendor{statuses: []*remote.JobStatus{running, running, done("https://x/result.png")}}
	f := newFixture(t, v)
	ts := &touchCounter{Store: f.store}

	noSleep := poll.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() })
	proc := removal.NewProcessor(ts, v, poll.Simple(time.Second, 10, noSleep), settlement.NewManager(f.store))

	if err := proc.Process(context.Background(), payload, job.Attempt{Number: 1, Max: 3}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if polls, touches := v.polls.Load(), ts.touches.Load(); polls != 3 || touches != polls {
		t.Fatalf("polls = %d touches = %d, want one touch per poll", polls, touches)
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"permanent", &remote.PermanentError{State: -5, Reason: remote.StateReason(-5)}, "去水印失败: 文件超出大小限制（50MB）"},
		{"not ready", poll.ErrNotReady, removal.TimeoutMessage},
		{"other", errors.New("boom"), "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := removal.Reason(tt.err); got != tt.want {
				t.Fatalf("Reason = %q, want %q", got, tt.want)
			}
		})
	}
}
