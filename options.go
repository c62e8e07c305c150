package unmark

import (
	"fmt"
	"log/slog"
	"time"
)

// Option configures a Pipeline. Options reject out-of-range values with
// ErrInvalidInput.
type Option func(*Pipeline) error

func configure(fn func(*Config)) Option {
	return func(p *Pipeline) error {
		fn(&p.config)
		return nil
	}
}

func invalid(format string, args ...any) Option {
	return func(*Pipeline) error {
		return fmt.Errorf("%w: "+format, append([]any{ErrInvalidInput}, args...)...)
	}
}

// WithConcurrency caps tasks in flight; n must be positive.
func WithConcurrency(n int) Option {
	if n <= 0 {
		return invalid("concurrency %d", n)
	}
	return configure(func(c *Config) { c.Concurrency = n })
}

// WithMaxAttempts sets each job's attempt budget; n must be positive.
func WithMaxAttempts(n int) Option {
	if n <= 0 {
		return invalid("max attempts %d", n)
	}
	return configure(func(c *Config) { c.MaxAttempts = n })
}

// WithRetryDelay sets the first redelivery delay. Later ones double it.
func WithRetryDelay(d time.Duration) Option {
	return configure(func(c *Config) { c.RetryDelay = d })
}

// WithRemotePolling sets the vendor status schedule: base doubling up to
// ceiling, at most attempts polls per worker run.
func WithRemotePolling(base, ceiling time.Duration, attempts int) Option {
	if attempts <= 0 {
		return invalid("poll attempts %d", attempts)
	}
	return configure(func(c *Config) {
		c.RemotePollBase, c.RemotePollCap, c.RemotePollAttempts = base, ceiling, attempts
	})
}

// WithRemotePollJitter spreads each poll delay by up to f either way. f
// must be in [0, 1).
func WithRemotePollJitter(f float64) Option {
	if f < 0 || f >= 1 {
		return invalid("poll jitter %v", f)
	}
	return configure(func(c *Config) { c.RemotePollJitter = f })
}

// WithRefundAmount sets the flat credit refund for a failed task.
func WithRefundAmount(amount int64) Option {
	return configure(func(c *Config) { c.RefundAmount = amount })
}

// WithHeartbeat sets how often running jobs heartbeat and how long one
// may go silent before it is handed back to the queue.
func WithHeartbeat(interval, staleAfter time.Duration) Option {
	return configure(func(c *Config) { c.HeartbeatInterval, c.StaleJobThreshold = interval, staleAfter })
}

// WithPollInterval sets how long an idle worker waits between dequeues.
func WithPollInterval(d time.Duration) Option {
	return configure(func(c *Config) { c.PollInterval = d })
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) error {
		p.logger = l
		return nil
	}
}

// WithStore sets the backend. engine.Build requires one.
func WithStore(s Storer) Option {
	return func(p *Pipeline) error {
		p.store = s
		return nil
	}
}
