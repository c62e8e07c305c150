package unmark

import "time"

// Config holds configuration for the durable pipeline.
type Config struct {
	// Concurrency is the maximum number of tasks in flight at once.
	Concurrency int

	// Queues is the list of queues this pipeline will poll.
	Queues []string

	// PollInterval is how often idle workers poll the queue for new jobs.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often running jobs send heartbeats.
	HeartbeatInterval time.Duration

	// StaleJobThreshold is how long before a running job without a
	// heartbeat is handed back to the queue.
	StaleJobThreshold time.Duration

	// MaxAttempts is the queue-level attempt budget per job. Settlement
	// fires only on the last of these attempts.
	MaxAttempts int

	// RetryDelay is the initial delay before the queue re-delivers a
	// failed job. Subsequent retries double it.
	RetryDelay time.Duration

	// RemotePollBase and RemotePollCap bound the delay between vendor
	// status polls: min(base * 2^n, cap).
	RemotePollBase time.Duration
	RemotePollCap  time.Duration

	// RemotePollJitter is the +/- fraction applied to each poll delay.
	RemotePollJitter float64

	// RemotePollAttempts caps status polls per worker invocation.
	RemotePollAttempts int

	// RefundAmount is the flat credit amount returned for an abandoned task.
	RefundAmount int64
}

// DefaultConfig returns a Config with the durable-profile defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        5,
		Queues:             []string{"watermark"},
		PollInterval:       1 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		HeartbeatInterval:  10 * time.Second,
		StaleJobThreshold:  60 * time.Second,
		MaxAttempts:        3,
		RetryDelay:         5 * time.Second,
		RemotePollBase:     2 * time.Second,
		RemotePollCap:      16 * time.Second,
		RemotePollJitter:   0.2,
		RemotePollAttempts: 15,
		RefundAmount:       50,
	}
}
