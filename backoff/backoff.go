// Package backoff computes waits between attempts: queue redelivery,
// vendor status polling and intake session rejoins. Every Strategy here
// is stateless and safe to share between goroutines.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy gives the wait before a 1-indexed attempt.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Func adapts a plain function to Strategy.
type Func func(attempt int) time.Duration

// Delay calls f.
func (f Func) Delay(attempt int) time.Duration { return f(attempt) }

// Constant waits d before every attempt.
func Constant(d time.Duration) Strategy {
	return Func(func(int) time.Duration { return d })
}

// Exponential waits initial before the first attempt and doubles each
// time after, never past ceiling. A zero ceiling leaves it uncapped.
func Exponential(initial, ceiling time.Duration) Strategy {
	return Func(func(attempt int) time.Duration {
		return doubled(initial, ceiling, attempt)
	})
}

// FullJitter draws each wait uniformly from [0, s.Delay(attempt)].
func FullJitter(s Strategy) Strategy {
	return Func(func(attempt int) time.Duration {
		return time.Duration(rand.Float64() * float64(s.Delay(attempt))) //nolint:gosec // timing jitter
	})
}

// Spread scatters s by up to fraction either way: with 0.2 a 10s wait
// becomes anything in [8s, 12s]. A non-positive fraction returns s.
func Spread(s Strategy, fraction float64) Strategy {
	if fraction <= 0 {
		return s
	}
	return Func(func(attempt int) time.Duration {
		d := s.Delay(attempt)
		scale := 1 + fraction*(2*rand.Float64()-1) //nolint:gosec // timing jitter
		return time.Duration(float64(d) * scale)
	})
}

// RemotePolling is the vendor status schedule: base doubling up to
// ceiling, spread by fraction.
func RemotePolling(base, ceiling time.Duration, fraction float64) Strategy {
	return Spread(Exponential(base, ceiling), fraction)
}

func doubled(initial, ceiling time.Duration, attempt int) time.Duration {
	d := float64(initial) * math.Exp2(float64(max(attempt, 1)-1))
	switch {
	case ceiling > 0 && d > float64(ceiling):
		return ceiling
	case d >= math.MaxInt64:
		return math.MaxInt64
	}
	return time.Duration(d)
}
