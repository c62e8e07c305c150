package settlement_test

import (
	"context"
	"sync"
	"testing"

	"github.com/xraph/unmark/ledger"
	"github.com/xraph/unmark/settlement"
	"github.com/xraph/unmark/store/memory"
	"github.com/xraph/unmark/task"
)

type recordingEmitter struct {
	mu      sync.Mutex
	refunds map[string]int64
}

func (r *recordingEmitter) EmitTaskRefunded(_ context.Context, taskID string, amount int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refunds == nil {
		r.refunds = make(map[string]int64)
	}
	r.refunds[taskID] += amount
}

func setup(t *testing.T, status task.Status) *memory.Store {
	t.Helper()
	s := memory.New()
	s.SeedBalance("user_1", 10)
	err := s.CreateTask(context.Background(), &task.Task{
		ID:     "task_1",
		UserID: "user_1",
		Status: status,
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSettleCreditsOnce(t *testing.T) {
	s := setup(t, task.StatusProcessing)
	em := &recordingEmitter{}
	m := settlement.NewManager(s, settlement.WithEmitter(em))
	ctx := context.Background()

	ok, err := m.Settle(ctx, "task_1", "去水印失败: 处理失败")
	if err != nil || !ok {
		t.Fatalf("first settle = %v, %v", ok, err)
	}
	ok, err = m.Settle(ctx, "task_1", "去水印失败: 处理失败")
	if err != nil || ok {
		t.Fatalf("second settle = %v, %v; want false", ok, err)
	}

	bal, _ := s.GetBalance(ctx, "user_1")
	if bal != 10+settlement.DefaultAmount {
		t.Fatalf("balance = %d, want %d", bal, 10+settlement.DefaultAmount)
	}

	entries, _ := s.ListLedger(ctx, "user_1")
	if len(entries) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Kind != ledger.KindRefund || e.Amount != settlement.DefaultAmount || e.TaskID != "task_1" {
		t.Fatalf("entry = %+v", e)
	}
	if e.Description != "去水印任务失败，退还 50 积分" {
		t.Fatalf("description = %q", e.Description)
	}

	got, _ := s.GetTask(ctx, "task_1")
	if got.Status != task.StatusFailed || got.ErrorMsg != "去水印失败: 处理失败" {
		t.Fatalf("task = %q %q", got.Status, got.ErrorMsg)
	}

	if em.refunds["task_1"] != settlement.DefaultAmount {
		t.Fatalf("emitted %d, want one refund event", em.refunds["task_1"])
	}
}

func TestSettleConcurrent(t *testing.T) {
	s := setup(t, task.StatusProcessing)
	m := settlement.NewManager(s)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Settle(ctx, "task_1", "boom"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	bal, _ := s.GetBalance(ctx, "user_1")
	if bal != 10+settlement.DefaultAmount {
		t.Fatalf("balance = %d, want exactly one refund", bal)
	}
	entries, _ := s.ListLedger(ctx, "user_1")
	if len(entries) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(entries))
	}
}

func TestSettleSkipsCompletedTask(t *testing.T) {
	s := setup(t, task.StatusCompleted)
	m := settlement.NewManager(s)

	ok, err := m.Settle(context.Background(), "task_1", "late failure")
	if err != nil || ok {
		t.Fatalf("settle = %v, %v; want false", ok, err)
	}
	bal, _ := s.GetBalance(context.Background(), "user_1")
	if bal != 10 {
		t.Fatalf("balance = %d, want 10", bal)
	}
}

func TestSettleCustomAmount(t *testing.T) {
	s := setup(t, task.StatusProcessing)
	m := settlement.NewManager(s, settlement.WithAmount(80))
	if m.Amount() != 80 {
		t.Fatalf("amount = %d", m.Amount())
	}
	if ok, _ := m.Settle(context.Background(), "task_1", "boom"); !ok {
		t.Fatal("settle should apply")
	}
	bal, _ := s.GetBalance(context.Background(), "user_1")
	if bal != 90 {
		t.Fatalf("balance = %d, want 90", bal)
	}
}
