package dlq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/unmark"
	"github.com/xraph/unmark/dlq"
	"github.com/xraph/unmark/id"
	"github.com/xraph/unmark/job"
	"github.com/xraph/unmark/store/memory"
)

const vendorFailure = "去水印失败: 处理失败"

type deadLetters struct {
	store *memory.Store
	svc   *dlq.Service
}

func newDeadLetters() deadLetters {
	s := memory.New()
	return deadLetters{store: s, svc: dlq.NewService(s, s)}
}

// bury dead-letters a watermark job for taskID that spent all three
// attempts, and returns that job.
func (d deadLetters) bury(t *testing.T, taskID, payload string) *job.Job {
	t.Helper()
	j := &job.Job{
		Entity:      unmark.NewEntity(),
		ID:          id.NewJobID(),
		Name:        "watermark.remove",
		Queue:       "watermark",
		Key:         taskID,
		Payload:     []byte(payload),
		State:       job.StateFailed,
		MaxAttempts: 3,
		Attempts:    3,
		LastError:   vendorFailure,
		RunAt:       time.Now().UTC(),
	}
	if err := d.svc.Push(context.Background(), j, errors.New(vendorFailure)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	return j
}

func (d deadLetters) only(t *testing.T, taskID string) *dlq.Entry {
	t.Helper()
	entries, err := d.svc.List(context.Background(), dlq.ListOpts{TaskID: taskID})
	if err != nil || len(entries) != 1 {
		t.Fatalf("List(%s) = %d entries, %v; want 1", taskID, len(entries), err)
	}
	return entries[0]
}

func TestPushCopiesTheFailedJob(t *testing.T) {
	d := newDeadLetters()
	j := d.bury(t, "task_1", `{"taskId":"task_1"}`)

	e := d.only(t, "task_1")
	switch {
	case e.JobID != j.ID:
		t.Errorf("JobID = %v, want %v", e.JobID, j.ID)
	case e.JobName != "watermark.remove" || e.Queue != "watermark":
		t.Errorf("routing = %s on %s", e.JobName, e.Queue)
	case string(e.Payload) != `{"taskId":"task_1"}`:
		t.Errorf("Payload = %s", e.Payload)
	case e.Error != vendorFailure:
		t.Errorf("Error = %q", e.Error)
	case e.Attempts != 3 || e.MaxAttempts != 3:
		t.Errorf("attempts = %d/%d, want 3/3", e.Attempts, e.MaxAttempts)
	case e.FailedAt.IsZero() || e.Replayed():
		t.Errorf("FailedAt = %v, replayed = %t", e.FailedAt, e.Replayed())
	}
}

func TestReplayEnqueuesAFreshJob(t *testing.T) {
	d := newDeadLetters()
	ctx := context.Background()
	dead := d.bury(t, "task_2", `{"taskId":"task_2"}`)
	e := d.only(t, "task_2")

	j, err := d.svc.Replay(ctx, e.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if j.ID == dead.ID || j.Key != "task_2" || j.Attempts != 0 || j.MaxAttempts != 3 {
		t.Errorf("replayed job = %+v", j)
	}

	stored, err := d.store.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.State != job.StatePending || string(stored.Payload) != `{"taskId":"task_2"}` {
		t.Errorf("stored job = %s %s", stored.State, stored.Payload)
	}
	if e, _ = d.store.GetDLQ(ctx, e.ID); !e.Replayed() {
		t.Error("entry left open after replay")
	}
}

func TestReplayIsOneShot(t *testing.T) {
	d := newDeadLetters()
	ctx := context.Background()
	d.bury(t, "task_3", `{"taskId":"task_3"}`)
	e := d.only(t, "task_3")

	if _, err := d.svc.Replay(ctx, e.ID); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if _, err := d.svc.Replay(ctx, e.ID); !errors.Is(err, unmark.ErrDLQReplayed) {
		t.Fatalf("second Replay = %v, want ErrDLQReplayed", err)
	}
	if n, _ := d.store.CountJobs(ctx, job.CountOpts{}); n != 1 {
		t.Fatalf("jobs = %d, want 1", n)
	}
}

func TestReplayWhileTaskHasLiveJobKeepsEntryOpen(t *testing.T) {
	d := newDeadLetters()
	ctx := context.Background()
	d.bury(t, "task_4", `{"taskId":"task_4"}`)
	e := d.only(t, "task_4")

	if _, err := d.svc.Replay(ctx, e.ID); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	d.bury(t, "task_4", `{"taskId":"task_4","again":true}`)
	open, _ := d.svc.List(ctx, dlq.ListOpts{TaskID: "task_4", Open: true})
	if len(open) != 1 {
		t.Fatalf("open entries = %d, want 1", len(open))
	}

	if _, err := d.svc.Replay(ctx, open[0].ID); !errors.Is(err, unmark.ErrJobAlreadyExists) {
		t.Fatalf("Replay over a live job = %v, want ErrJobAlreadyExists", err)
	}
	if e, _ := d.store.GetDLQ(ctx, open[0].ID); e.Replayed() {
		t.Error("entry marked replayed although no job was enqueued")
	}
}

func TestReplayUnknownEntry(t *testing.T) {
	d := newDeadLetters()
	if _, err := d.svc.Replay(context.Background(), id.NewDLQID()); !errors.Is(err, unmark.ErrDLQNotFound) {
		t.Fatalf("Replay = %v, want ErrDLQNotFound", err)
	}
}

func TestReplayTaskTakesNewestOpenEntry(t *testing.T) {
	d := newDeadLetters()
	ctx := context.Background()
	first := d.bury(t, "task_5", `{"taskId":"task_5","n":1}`)
	time.Sleep(time.Millisecond)
	d.bury(t, "task_5", `{"taskId":"task_5","n":2}`)

	j, err := d.svc.ReplayTask(ctx, "task_5")
	if err != nil {
		t.Fatalf("ReplayTask: %v", err)
	}
	if string(j.Payload) != `{"taskId":"task_5","n":2}` {
		t.Fatalf("replayed %s, want the newest entry", j.Payload)
	}
	open, _ := d.svc.List(ctx, dlq.ListOpts{TaskID: "task_5", Open: true})
	if len(open) != 1 || open[0].JobID != first.ID {
		t.Fatalf("open entries = %+v, want only the first", open)
	}

	if _, err := d.svc.ReplayTask(ctx, "task_none"); !errors.Is(err, unmark.ErrDLQNotFound) {
		t.Fatalf("ReplayTask(task_none) = %v, want ErrDLQNotFound", err)
	}
}

func TestPurgeKeepsRecentEntries(t *testing.T) {
	d := newDeadLetters()
	ctx := context.Background()
	twoDaysAgo := time.Now().UTC().Add(-48 * time.Hour)
	if err := d.store.PushDLQ(ctx, &dlq.Entry{
		ID: id.NewDLQID(), JobID: id.NewJobID(), TaskID: "task_old",
		FailedAt: twoDaysAgo, CreatedAt: twoDaysAgo,
	}); err != nil {
		t.Fatalf("PushDLQ: %v", err)
	}
	d.bury(t, "task_new", `{}`)

	n, err := d.svc.Purge(ctx, 24*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("Purge = %d, %v; want 1", n, err)
	}
	if c, _ := d.svc.Count(ctx); c != 1 {
		t.Fatalf("Count = %d, want 1", c)
	}
	d.only(t, "task_new")
}
