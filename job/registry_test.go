package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/xraph/unmark/job"
)

type removalPayload struct {
	TaskID      string `json:"taskId"`
	OriginalURL string `json:"originalUrl"`
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := job.NewRegistry()

	var (
		got    removalPayload
		gotAtt job.Attempt
	)
	def := job.NewDefinition("watermark.remove", func(_ context.Context, p removalPayload, a job.Attempt) error {
		got = p
		gotAtt = a
		return nil
	})

	job.RegisterDefinition(r, def)

	h, ok := r.Get("watermark.remove")
	if !ok {
		t.Fatal("expected handler to be registered")
	}

	payload, _ := json.Marshal(removalPayload{TaskID: "t-1", OriginalURL: "https://img.test/a.png"})
	if err := h(context.Background(), payload, job.Attempt{Number: 2, Max: 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TaskID != "t-1" {
		t.Errorf("TaskID = %q, want %q", got.TaskID, "t-1")
	}
	if got.OriginalURL != "https://img.test/a.png" {
		t.Errorf("OriginalURL = %q", got.OriginalURL)
	}
	if gotAtt.Number != 2 || gotAtt.Max != 3 {
		t.Errorf("attempt = %+v, want {2 3}", gotAtt)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := job.NewRegistry()
	if _, ok := r.Get("nonexistent"); ok {
		t.Fatal("expected no handler for unregistered job")
	}
}

func TestRegistry_Defaults(t *testing.T) {
	r := job.NewRegistry()
	noop := func(_ context.Context, _ struct{}, _ job.Attempt) error { return nil }

	job.RegisterDefinition(r, job.NewDefinition("watermark.remove", noop,
		job.WithQueue("watermark"),
		job.WithMaxAttempts(5),
		job.WithTimeout(90*time.Second),
	))

	got := r.Defaults("watermark.remove")
	if got.Queue != "watermark" || got.MaxAttempts != 5 || got.Timeout != 90*time.Second {
		t.Fatalf("defaults = %+v, want watermark/5/90s", got)
	}
	if unknown := r.Defaults("other"); unknown != job.DefaultOptions() {
		t.Fatalf("unknown defaults = %+v, want DefaultOptions", unknown)
	}

	// A later definition replaces the earlier one.
	job.RegisterDefinition(r, job.NewDefinition("watermark.remove", noop, job.WithMaxAttempts(2)))
	if got := r.Defaults("watermark.remove"); got.MaxAttempts != 2 || got.Queue != "default" {
		t.Fatalf("replaced defaults = %+v", got)
	}
}

func TestRegistry_InvalidJSON(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition("typed-job", func(_ context.Context, _ removalPayload, _ job.Attempt) error {
		t.Fatal("handler should not be called with invalid JSON")
		return nil
	}))

	h, _ := r.Get("typed-job")
	if err := h(context.Background(), []byte(`{invalid json`), job.Attempt{Number: 1, Max: 3}); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestRegistry_HandlerError(t *testing.T) {
	r := job.NewRegistry()
	want := errors.New("handler failed")
	job.RegisterDefinition(r, job.NewDefinition("failing", func(_ context.Context, _ struct{}, _ job.Attempt) error {
		return want
	}))

	h, _ := r.Get("failing")
	if err := h(context.Background(), nil, job.Attempt{Number: 1, Max: 1}); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestAttempt_IsFinal(t *testing.T) {
	tests := []struct {
		a    job.Attempt
		want bool
	}{
		{job.Attempt{Number: 1, Max: 3}, false},
		{job.Attempt{Number: 2, Max: 3}, false},
		{job.Attempt{Number: 3, Max: 3}, true},
		{job.Attempt{Number: 4, Max: 3}, true},
		{job.Attempt{Number: 1, Max: 1}, true},
	}
	for _, tt := range tests {
		if got := tt.a.IsFinal(); got != tt.want {
			t.Errorf("%+v.IsFinal() = %v, want %v", tt.a, got, tt.want)
		}
	}
}

func TestDefinition_Defaults(t *testing.T) {
	def := job.NewDefinition("d", func(_ context.Context, _ struct{}, _ job.Attempt) error { return nil },
		job.WithQueue("watermark"),
		job.WithKey("t-1"),
	)
	if def.Opts.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", def.Opts.MaxAttempts)
	}
	if def.Opts.Queue != "watermark" {
		t.Errorf("Queue = %q", def.Opts.Queue)
	}
	if def.Opts.Key != "t-1" {
		t.Errorf("Key = %q", def.Opts.Key)
	}
}
