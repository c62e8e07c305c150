// Package poll drives the vendor status loop for one task: wait, fetch,
// repeat until the remote job finishes, fails, or the attempt cap runs out.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/unmark/backoff"
	"github.com/xraph/unmark/remote"
)

// ErrNotReady is returned when the attempt cap is exhausted before the
// remote job reached a terminal state.
var ErrNotReady = errors.New("poll: result not ready")

// FetchFunc fetches the current remote job status.
type FetchFunc func(ctx context.Context, remoteID string) (*remote.JobStatus, error)

// Option configures a Poller.
type Option func(*Poller)

// WithLogger sets the poller's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

// WithSleep replaces the wait between polls. Tests use it to run the
// loop without real delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Poller) { p.sleep = fn }
}

// Poller waits for a remote job to reach a terminal state.
type Poller struct {
	strategy backoff.Strategy
	attempts int
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates a Poller that polls at most attempts times using strategy.
func New(strategy backoff.Strategy, attempts int, opts ...Option) *Poller {
	p := &Poller{
		strategy: strategy,
		attempts: attempts,
		logger:   slog.Default(),
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Durable returns the queue-backed poll schedule: exponential from base
// capped at maxDelay, +/- jitter, at most attempts polls.
func Durable(base, maxDelay time.Duration, jitter float64, attempts int, opts ...Option) *Poller {
	return New(backoff.RemotePolling(base, maxDelay, jitter), attempts, opts...)
}

// Simple returns the fixed-interval schedule used by the inline profile.
func Simple(interval time.Duration, attempts int, opts ...Option) *Poller {
	return New(backoff.Constant(interval), attempts, opts...)
}

// Attempts returns the poll cap.
func (p *Poller) Attempts() int { return p.attempts }

// Wait polls remoteID until it completes and returns the final status.
//
// Transient fetch errors consume one attempt and the loop continues. A
// permanent error ends the loop immediately. When every attempt is spent
// the returned error wraps ErrNotReady.
func (p *Poller) Wait(ctx context.Context, remoteID string, fetch FetchFunc) (*remote.JobStatus, error) {
	var lastErr error
	for n := 1; n <= p.attempts; n++ {
		if err := p.sleep(ctx, p.strategy.Delay(n)); err != nil {
			return nil, err
		}

		st, err := fetch(ctx, remoteID)
		if err == nil && st == nil {
			err = &remote.TransientError{Op: "poll", Err: errors.New("empty status")}
		}
		switch {
		case err == nil && st.Done():
			return st, nil
		case err == nil:
			p.logger.Debug("remote job in progress",
				slog.String("remote_task_id", remoteID),
				slog.Int("poll", n),
				slog.Int("state", st.State),
				slog.Int("progress", st.Progress),
			)
			continue
		case remote.IsPermanent(err):
			return st, err
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			lastErr = err
			p.logger.Warn("remote poll failed, continuing",
				slog.String("remote_task_id", remoteID),
				slog.Int("poll", n),
				slog.String("error", err.Error()),
			)
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w after %d polls (last error: %v)", ErrNotReady, p.attempts, lastErr)
	}
	return nil, fmt.Errorf("%w after %d polls", ErrNotReady, p.attempts)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
