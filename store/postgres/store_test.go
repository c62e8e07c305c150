//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/unmark"
	"github.com/xraph/unmark/dlq"
	"github.com/xraph/unmark/id"
	"github.com/xraph/unmark/job"
	"github.com/xraph/unmark/ledger"
	"github.com/xraph/unmark/settlement"
	"github.com/xraph/unmark/store/postgres"
	"github.com/xraph/unmark/task"
)

// baseDSN points at the container shared by every test in the package.
// Each test gets its own database inside it.
var baseDSN string

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := pgmodule.Run(ctx, "postgres:16-alpine",
		pgmodule.WithDatabase("unmark"),
		pgmodule.WithUsername("unmark"),
		pgmodule.WithPassword("unmark"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(time.Minute)),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, "postgres container:", err)
		os.Exit(1)
	}
	code := 1
	if baseDSN, err = container.ConnectionString(ctx, "sslmode=disable"); err == nil {
		code = m.Run()
	} else {
		fmt.Fprintln(os.Stderr, "connection string:", err)
	}
	if err := container.Terminate(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "terminate postgres container:", err)
	}
	os.Exit(code)
}

var databases atomic.Int64

// setupTestStore creates an empty database, migrates it twice to show
// Migrate is idempotent, and returns a Store on it.
func setupTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	ctx := context.Background()

	name := fmt.Sprintf("unmark_%d", databases.Add(1))
	admin, err := pgx.Connect(ctx, baseDSN)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	_, err = admin.Exec(ctx, "CREATE DATABASE "+name)
	_ = admin.Close(ctx)
	if err != nil {
		t.Fatalf("create database %s: %v", name, err)
	}

	s, err := postgres.New(ctx, strings.Replace(baseDSN, "/unmark?", "/"+name+"?", 1))
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	t.Cleanup(func() { _ = s.Close() })
	for range 2 {
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("migrate: %v", err)
		}
	}
	return s
}

func createTask(t *testing.T, s *postgres.Store, taskID string) {
	t.Helper()
	err := s.CreateTask(context.Background(), &task.Task{
		ID:          taskID,
		UserID:      "u1",
		OriginalURL: "https://img.example.com/a.png",
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
}

func TestTaskLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	createTask(t, s, "t1")
	if err := s.CreateTask(ctx, &task.Task{ID: "t1", UserID: "u1"}); !errors.Is(err, unmark.ErrTaskAlreadyExists) {
		t.Fatalf("duplicate CreateTask: got %v", err)
	}
	if _, err := s.GetTask(ctx, "nope"); !errors.Is(err, unmark.ErrTaskNotFound) {
		t.Fatalf("GetTask missing: got %v", err)
	}

	first := task.Claim{Owner: "job_a", Attempt: 3}
	n, err := s.ClaimTask(ctx, "t1", first)
	if err != nil || n != 1 {
		t.Fatalf("first claim: n=%d err=%v", n, err)
	}
	if n, _ = s.ClaimTask(ctx, "t1", first); n != 0 {
		t.Fatalf("same-attempt reclaim: n=%d, want 0", n)
	}
	if n, _ = s.ClaimTask(ctx, "t1", task.Claim{Owner: "job_b", Attempt: 1}); n != 1 {
		t.Fatalf("takeover by replayed job: n=%d, want 1", n)
	}
	if n, _ = s.ClaimTask(ctx, "t1", task.Claim{Owner: "job_a", Attempt: 3}); n != 1 {
		t.Fatalf("owner change claim: n=%d, want 1", n)
	}

	ok, err := s.SetRemoteTaskID(ctx, "t1", "r-1")
	if err != nil || !ok {
		t.Fatalf("SetRemoteTaskID: ok=%v err=%v", ok, err)
	}
	if ok, _ = s.SetRemoteTaskID(ctx, "t1", "r-2"); ok {
		t.Fatal("second SetRemoteTaskID should not overwrite")
	}

	if err := s.RecordAttemptError(ctx, "t1", "boom"); err != nil {
		t.Fatalf("RecordAttemptError: %v", err)
	}

	ok, err = s.CompleteTask(ctx, "t1", "https://cdn.example.com/a.png")
	if err != nil || !ok {
		t.Fatalf("CompleteTask: ok=%v err=%v", ok, err)
	}

	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != task.StatusCompleted || got.AttemptsMade != 3 || got.RemoteTaskID != "r-1" || got.ErrorMsg != "" {
		t.Fatalf("unexpected task: %+v", got)
	}
	if n, _ = s.ClaimTask(ctx, "t1", task.Claim{Owner: "job_c", Attempt: 1}); n != 0 {
		t.Fatal("completed task must not be claimable")
	}
}

func TestClaimTaskConcurrent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	createTask(t, s, "t1")

	var owners atomic.Int64
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.ClaimTask(ctx, "t1", task.Claim{Attempt: 1})
			if err != nil {
				t.Errorf("ClaimTask: %v", err)
				return
			}
			owners.Add(n)
		}()
	}
	wg.Wait()

	if got := owners.Load(); got != 1 {
		t.Fatalf("owners = %d, want 1", got)
	}
}

func TestSettleRefundOnce(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	createTask(t, s, "t1")
	if err := s.SeedBalance(ctx, "u1", 100); err != nil {
		t.Fatalf("SeedBalance: %v", err)
	}
	if _, err := s.ClaimTask(ctx, "t1", task.Claim{Attempt: 1}); err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}

	var settled atomic.Int64
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			now := time.Now().UTC()
			ok, err := s.SettleRefund(ctx, &settlement.Refund{
				TaskID: "t1",
				Amount: 50,
				Reason: "vendor failed",
				At:     now,
				Entry: &ledger.Entry{
					ID:          id.NewLedgerID(),
					Kind:        ledger.KindRefund,
					Amount:      50,
					TaskID:      "t1",
					Description: "refund",
					CreatedAt:   now,
				},
			})
			if err != nil {
				t.Errorf("SettleRefund: %v", err)
				return
			}
			if ok {
				settled.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := settled.Load(); got != 1 {
		t.Fatalf("settled = %d, want 1", got)
	}
	bal, err := s.GetBalance(ctx, "u1")
	if err != nil || bal != 150 {
		t.Fatalf("balance = %d err=%v, want 150", bal, err)
	}
	entries, err := s.ListLedger(ctx, "u1")
	if err != nil || len(entries) != 1 {
		t.Fatalf("ledger = %d entries err=%v, want 1", len(entries), err)
	}
	if entries[0].UserID != "u1" || entries[0].Kind != ledger.KindRefund {
		t.Fatalf("unexpected ledger entry: %+v", entries[0])
	}

	got, _ := s.GetTask(ctx, "t1")
	if got.Status != task.StatusFailed || got.RefundedAt == nil || got.ErrorMsg != "vendor failed" {
		t.Fatalf("unexpected task after refund: %+v", got)
	}
	if ok, _ := s.CompleteTask(ctx, "t1", "https://late.example.com"); ok {
		t.Fatal("refunded task must not complete")
	}
}

func TestSettleRefundSkipsCompleted(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	createTask(t, s, "t1")
	_, _ = s.ClaimTask(ctx, "t1", task.Claim{Attempt: 1})
	_, _ = s.CompleteTask(ctx, "t1", "https://cdn.example.com/a.png")

	ok, err := s.SettleRefund(ctx, &settlement.Refund{TaskID: "t1", Amount: 50, At: time.Now().UTC()})
	if err != nil || ok {
		t.Fatalf("SettleRefund on completed: ok=%v err=%v", ok, err)
	}
	if _, err := s.GetBalance(ctx, "u1"); !errors.Is(err, unmark.ErrAccountNotFound) {
		t.Fatalf("GetBalance: got %v, want ErrAccountNotFound", err)
	}
}

func TestReclaimStuckAndList(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	createTask(t, s, "t1")
	createTask(t, s, "t2")
	_, _ = s.ClaimTask(ctx, "t1", task.Claim{Attempt: 1})

	if n, _ := s.CountTasks(ctx, task.StatusProcessing); n != 1 {
		t.Fatalf("processing count = %d, want 1", n)
	}
	pending, err := s.ListTasks(ctx, task.StatusPending, task.ListOpts{Limit: 10})
	if err != nil || len(pending) != 1 || pending[0].ID != "t2" {
		t.Fatalf("ListTasks pending: %v err=%v", pending, err)
	}

	ids, err := s.ReclaimStuck(ctx, time.Hour, task.StuckMessage)
	if err != nil || len(ids) != 0 {
		t.Fatalf("fresh task reclaimed: %v err=%v", ids, err)
	}

	time.Sleep(1100 * time.Millisecond)
	ids, err = s.ReclaimStuck(ctx, time.Second, task.StuckMessage)
	if err != nil || len(ids) != 1 || ids[0] != "t1" {
		t.Fatalf("ReclaimStuck: %v err=%v", ids, err)
	}
	got, _ := s.GetTask(ctx, "t1")
	if got.Status != task.StatusPending || got.ErrorMsg != task.StuckMessage {
		t.Fatalf("unexpected reclaimed task: %+v", got)
	}
}

func newJob(key string) *job.Job {
	now := time.Now().UTC()
	return &job.Job{
		Entity:      unmark.Entity{CreatedAt: now, UpdatedAt: now},
		ID:          id.NewJobID(),
		Name:        "watermark.remove",
		Queue:       "watermark",
		Key:         key,
		Payload:     []byte(`{"task_id":"t1"}`),
		State:       job.StatePending,
		MaxAttempts: 3,
		RunAt:       now.Add(-time.Second),
	}
}

func TestJobQueue(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := newJob("t1")
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := s.EnqueueJob(ctx, newJob("t1")); !errors.Is(err, unmark.ErrJobAlreadyExists) {
		t.Fatalf("live key duplicate: got %v", err)
	}

	got, err := s.DequeueJobs(ctx, []string{"watermark"}, 5)
	if err != nil || len(got) != 1 {
		t.Fatalf("DequeueJobs: %d jobs err=%v", len(got), err)
	}
	d := got[0]
	if d.ID != j.ID || d.State != job.StateRunning || d.Attempts != 1 || d.StartedAt == nil {
		t.Fatalf("unexpected dequeued job: %+v", d)
	}
	if again, _ := s.DequeueJobs(ctx, []string{"watermark"}, 5); len(again) != 0 {
		t.Fatalf("running job dequeued twice")
	}

	if err := s.HeartbeatJob(ctx, d.ID, id.NewWorkerID()); err != nil {
		t.Fatalf("HeartbeatJob: %v", err)
	}
	if stale, _ := s.ReapStaleJobs(ctx, time.Hour); len(stale) != 0 {
		t.Fatalf("fresh job reaped: %d", len(stale))
	}

	now := time.Now().UTC()
	d.State = job.StateCompleted
	d.CompletedAt = &now
	if err := s.UpdateJob(ctx, d); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	if err := s.EnqueueJob(ctx, newJob("t1")); err != nil {
		t.Fatalf("key should be free once the job finished: %v", err)
	}

	if n, _ := s.CountJobs(ctx, job.CountOpts{Queue: "watermark", State: job.StatePending}); n != 1 {
		t.Fatalf("pending count = %d, want 1", n)
	}
	done, err := s.ListJobsByState(ctx, job.StateCompleted, job.ListOpts{Queue: "watermark"})
	if err != nil || len(done) != 1 {
		t.Fatalf("ListJobsByState: %d err=%v", len(done), err)
	}
	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, unmark.ErrJobNotFound) {
		t.Fatalf("GetJob missing: got %v", err)
	}
}

func TestDLQ(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	e := &dlq.Entry{
		ID:          id.NewDLQID(),
		JobID:       id.NewJobID(),
		JobName:     "watermark.remove",
		Queue:       "watermark",
		TaskID:      "t1",
		Payload:     []byte(`{}`),
		Error:       "vendor failed",
		Attempts:    3,
		MaxAttempts: 3,
		FailedAt:    now.Add(-time.Hour),
		CreatedAt:   now,
	}
	if err := s.PushDLQ(ctx, e); err != nil {
		t.Fatalf("PushDLQ: %v", err)
	}

	list, err := s.ListDLQ(ctx, dlq.ListOpts{TaskID: "t1", Open: true})
	if err != nil || len(list) != 1 || list[0].TaskID != "t1" {
		t.Fatalf("ListDLQ: %v err=%v", list, err)
	}
	if err := s.ReplayDLQ(ctx, e.ID); err != nil {
		t.Fatalf("ReplayDLQ: %v", err)
	}
	if err := s.ReplayDLQ(ctx, e.ID); !errors.Is(err, unmark.ErrDLQReplayed) {
		t.Fatalf("second ReplayDLQ = %v, want ErrDLQReplayed", err)
	}
	if err := s.ReplayDLQ(ctx, id.NewDLQID()); !errors.Is(err, unmark.ErrDLQNotFound) {
		t.Fatalf("ReplayDLQ missing = %v, want ErrDLQNotFound", err)
	}
	if open, _ := s.ListDLQ(ctx, dlq.ListOpts{Open: true}); len(open) != 0 {
		t.Fatalf("open entries after replay = %d, want 0", len(open))
	}
	got, err := s.GetDLQ(ctx, e.ID)
	if err != nil || got.ReplayedAt == nil {
		t.Fatalf("GetDLQ: %+v err=%v", got, err)
	}
	purged, err := s.PurgeDLQ(ctx, now)
	if err != nil || purged != 1 {
		t.Fatalf("PurgeDLQ: %d err=%v", purged, err)
	}
	if n, _ := s.CountDLQ(ctx); n != 0 {
		t.Fatalf("CountDLQ = %d, want 0", n)
	}
}
