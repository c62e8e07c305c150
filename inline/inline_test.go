package inline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/unmark/inline"
	"github.com/xraph/unmark/job"
	"github.com/xraph/unmark/removal"
	"github.com/xraph/unmark/store/memory"
	"github.com/xraph/unmark/task"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// claimingProcessor claims the task and then blocks until released.
type claimingProcessor struct {
	store   *memory.Store
	release chan struct{}

	mu       sync.Mutex
	attempts []job.Attempt
	ids      []string
}

func (p *claimingProcessor) Process(ctx context.Context, pl removal.Payload, a job.Attempt) error {
	if _, err := p.store.ClaimTask(ctx, pl.TaskID, task.Claim{Attempt: a.Number}); err != nil {
		return err
	}
	p.mu.Lock()
	p.attempts = append(p.attempts, a)
	p.ids = append(p.ids, pl.TaskID)
	p.mu.Unlock()

	select {
	case <-p.release:
	case <-ctx.Done():
	}
	return nil
}

func (p *claimingProcessor) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}

func seed(t *testing.T, s *memory.Store, taskID string, status task.Status) {
	t.Helper()
	err := s.CreateTask(context.Background(), &task.Task{
		ID:          taskID,
		UserID:      "user_1",
		OriginalURL: "https://cdn.example.com/" + taskID + ".png",
		Status:      status,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func stop(t *testing.T, d *inline.Dispatcher, p *claimingProcessor) {
	t.Helper()
	close(p.release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestRunCycleTopsUpToConcurrency(t *testing.T) {
	s := memory.New()
	seed(t, s, "busy", task.StatusProcessing)
	for _, id := range []string{"a", "b", "c", "d"} {
		seed(t, s, id, task.StatusPending)
	}

	p := &claimingProcessor{store: s, release: make(chan struct{})}
	d := inline.NewDispatcher(s, p, inline.NewReclaimer(s, 0, nil, nil), inline.WithConcurrency(2))
	defer stop(t, d, p)

	ctx := context.Background()
	n, err := d.RunCycle(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("dispatched %d, want 1 (one slot held by busy)", n)
	}
	waitFor(t, func() bool { return p.calls() == 1 })

	// The cap is reached; a second cycle adds nothing.
	n, err = d.RunCycle(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("second cycle dispatched %d, want 0", n)
	}
	if got, _ := s.CountTasks(ctx, task.StatusProcessing); got != 2 {
		t.Fatalf("processing = %d, want 2", got)
	}
}

func TestRunCycleAttemptNumber(t *testing.T) {
	s := memory.New()
	err := s.CreateTask(context.Background(), &task.Task{
		ID: "retry", UserID: "user_1", OriginalURL: "https://cdn.example.com/r.png",
		Status: task.StatusPending, AttemptsMade: 2,
	})
	if err != nil {
		t.Fatal(err)
	}

	p := &claimingProcessor{store: s, release: make(chan struct{})}
	d := inline.NewDispatcher(s, p, inline.NewReclaimer(s, 0, nil, nil), inline.WithMaxAttempts(3))
	defer stop(t, d, p)

	if _, err := d.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return p.calls() == 1 })

	p.mu.Lock()
	a := p.attempts[0]
	p.mu.Unlock()
	if a.Number != 3 || a.Max != 3 || !a.IsFinal() {
		t.Fatalf("attempt = %+v, want final 3/3", a)
	}
}

// blockingStore holds CountTasks until released so two cycles overlap.
type blockingStore struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) CountTasks(ctx context.Context, status task.Status) (int64, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.Store.CountTasks(ctx, status)
}

func TestRunCycleRejectsOverlap(t *testing.T) {
	mem := memory.New()
	seed(t, mem, "a", task.StatusPending)
	bs := &blockingStore{Store: mem, entered: make(chan struct{}, 1), release: make(chan struct{})}

	p := &claimingProcessor{store: mem, release: make(chan struct{})}
	d := inline.NewDispatcher(bs, p, inline.NewReclaimer(mem, 0, nil, nil))
	defer stop(t, d, p)

	ctx := context.Background()
	first := make(chan error, 1)
	go func() {
		_, err := d.RunCycle(ctx)
		first <- err
	}()
	<-bs.entered

	if _, err := d.RunCycle(ctx); !errors.Is(err, inline.ErrCycleInProgress) {
		t.Fatalf("expected ErrCycleInProgress, got %v", err)
	}

	close(bs.release)
	if err := <-first; err != nil {
		t.Fatalf("first cycle: %v", err)
	}
}

type reclaimRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *reclaimRecorder) EmitTaskReclaimed(_ context.Context, taskID string) {
	r.mu.Lock()
	r.ids = append(r.ids, taskID)
	r.mu.Unlock()
}

func TestSweepResetsStuckTask(t *testing.T) {
	c := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	s := memory.New(memory.WithClock(c.Now))
	ctx := context.Background()

	seed(t, s, "stuck", task.StatusPending)
	if n, _ := s.ClaimTask(ctx, "stuck", task.Claim{Attempt: 1}); n != 1 {
		t.Fatal("claim stuck")
	}
	c.Advance(5 * time.Minute)
	seed(t, s, "recent", task.StatusPending)
	if n, _ := s.ClaimTask(ctx, "recent", task.Claim{Attempt: 1}); n != 1 {
		t.Fatal("claim recent")
	}
	c.Advance(time.Minute)

	rec := &reclaimRecorder{}
	r := inline.NewReclaimer(s, inline.DefaultStuckAfter, rec, nil)
	n, err := r.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || len(rec.ids) != 1 || rec.ids[0] != "stuck" {
		t.Fatalf("swept %d %v, want [stuck]", n, rec.ids)
	}

	got, _ := s.GetTask(ctx, "stuck")
	if got.Status != task.StatusPending || got.ErrorMsg != "任务超时，正在重试..." {
		t.Fatalf("stuck = %q %q", got.Status, got.ErrorMsg)
	}
	recent, _ := s.GetTask(ctx, "recent")
	if recent.Status != task.StatusProcessing {
		t.Fatalf("recent = %q, want PROCESSING", recent.Status)
	}

	// The reset task is claimable by the next attempt.
	if n, _ := s.ClaimTask(ctx, "stuck", task.Claim{Attempt: got.AttemptsMade + 1}); n != 1 {
		t.Fatal("reclaimed task should be claimable")
	}
}

func TestRunCycleSweepsBeforeDispatch(t *testing.T) {
	c := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	s := memory.New(memory.WithClock(c.Now))
	ctx := context.Background()

	seed(t, s, "stuck", task.StatusPending)
	if n, _ := s.ClaimTask(ctx, "stuck", task.Claim{Attempt: 1}); n != 1 {
		t.Fatal("claim")
	}
	c.Advance(6 * time.Minute)

	p := &claimingProcessor{store: s, release: make(chan struct{})}
	d := inline.NewDispatcher(s, p, inline.NewReclaimer(s, inline.DefaultStuckAfter, nil, nil), inline.WithConcurrency(1))
	defer stop(t, d, p)

	n, err := d.RunCycle(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("dispatched %d, want the reclaimed task", n)
	}
	waitFor(t, func() bool { return p.calls() == 1 })

	p.mu.Lock()
	a, id := p.attempts[0], p.ids[0]
	p.mu.Unlock()
	if id != "stuck" || a.Number != 2 {
		t.Fatalf("dispatched %s attempt %d, want stuck attempt 2", id, a.Number)
	}
}

func TestStartDispatchesOnSchedule(t *testing.T) {
	s := memory.New()
	seed(t, s, "a", task.StatusPending)

	p := &claimingProcessor{store: s, release: make(chan struct{})}
	d := inline.NewDispatcher(s, p, inline.NewReclaimer(s, 0, nil, nil),
		inline.WithInterval(time.Second),
		inline.WithReclaimSchedule("@every 1m"),
	)
	if err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer stop(t, d, p)

	deadline := time.Now().Add(3 * time.Second)
	for p.calls() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("scheduled cycle never dispatched")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := memory.New()
	d := inline.NewDispatcher(s, &claimingProcessor{store: s}, inline.NewReclaimer(s, 0, nil, nil),
		inline.WithReclaimSchedule("not a schedule"),
	)
	if err := d.Start(context.Background()); err == nil {
		t.Fatal("expected schedule error")
	}
}
