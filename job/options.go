package job

import "time"

// Options are the enqueue-time settings a Definition carries and callers
// may override per job.
type Options struct {
	MaxAttempts int           // total runs, the first included
	Queue       string
	Priority    int           // higher dequeues first
	Timeout     time.Duration // per attempt
	RunAt       time.Time     // zero runs at once
	Key         string        // live-job dedupe key; empty disables
}

// DefaultOptions is what a Definition starts from.
func DefaultOptions() Options {
	return Options{MaxAttempts: 3, Queue: "default", Timeout: 10 * time.Minute}
}

// Option adjusts Options.
type Option func(*Options)

// The With helpers set the field they name.
func WithMaxAttempts(n int) Option       { return func(o *Options) { o.MaxAttempts = n } }
func WithQueue(q string) Option          { return func(o *Options) { o.Queue = q } }
func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithKey(key string) Option          { return func(o *Options) { o.Key = key } }
