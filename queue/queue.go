package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limits caps how fast and how many removal jobs from one queue start
// talking to the vendor.
type Limits struct {
	// Queue is the job.Queue the limits apply to.
	Queue string

	// MaxInFlight caps jobs from Queue running at once in this process.
	// Zero leaves only the pool-wide concurrency.
	MaxInFlight int

	// StartsPerSecond is the sustained rate of job starts. Zero disables
	// the rate limit.
	StartsPerSecond float64

	// Burst is the token bucket size. It is at least 1 when
	// StartsPerSecond is set.
	Burst int
}

type lane struct {
	limits   Limits
	starts   *rate.Limiter
	inFlight int
}

// Gate admits jobs per queue. Queues without Limits are always admitted.
// It is safe for concurrent use.
type Gate struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

// NewGate builds a Gate. A later Limits for the same queue replaces an
// earlier one.
func NewGate(limits ...Limits) *Gate {
	g := &Gate{lanes: make(map[string]*lane, len(limits))}
	for _, l := range limits {
		ln := &lane{limits: l}
		if l.StartsPerSecond > 0 {
			ln.starts = rate.NewLimiter(rate.Limit(l.StartsPerSecond), max(l.Burst, 1))
		}
		g.lanes[l.Queue] = ln
	}
	return g
}

// Admit reports whether a job from queue may start now. An admitted job
// must be handed back with Done. A job refused for concurrency does not
// spend a rate token.
func (g *Gate) Admit(queue string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	ln := g.lanes[queue]
	switch {
	case ln == nil:
		return true
	case ln.limits.MaxInFlight > 0 && ln.inFlight >= ln.limits.MaxInFlight:
		return false
	case ln.starts != nil && !ln.starts.Allow():
		return false
	}
	ln.inFlight++
	return true
}

// Done releases a slot taken by Admit.
func (g *Gate) Done(queue string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if ln := g.lanes[queue]; ln != nil && ln.inFlight > 0 {
		ln.inFlight--
	}
}

func (g *Gate) running(queue string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	if ln := g.lanes[queue]; ln != nil {
		return ln.inFlight
	}
	return 0
}
