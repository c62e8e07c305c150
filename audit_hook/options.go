package audithook

import (
	"log/slog"
	"time"
)

// Option configures an Extension.
type Option func(*Extension)

// WithActions limits the trail to the listed actions. Names outside
// [AllActions] match nothing.
func WithActions(actions ...string) Option {
	return func(e *Extension) {
		e.only = make(map[string]struct{}, len(actions))
		for _, a := range actions {
			e.only[a] = struct{}{}
		}
	}
}

// WithLogger sets where recorder failures are reported.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) { e.logger = l }
}

// WithClock replaces the time source used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(e *Extension) { e.now = now }
}
