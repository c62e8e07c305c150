// Package queue throttles how removal jobs leave a queue, on top of the
// worker pool's global concurrency.
//
// The vendor bills and rate-limits create calls, so a burst of
// submissions must not become a burst of concurrent remote jobs. A
// [Limits] caps jobs in flight for one queue and meters starts with a
// token bucket (golang.org/x/time/rate):
//
//	gate := queue.NewGate(queue.Limits{
//	    Queue:           "watermark",
//	    MaxInFlight:     3,
//	    StartsPerSecond: 2,
//	    Burst:           4,
//	})
//
//	if gate.Admit(j.Queue) {
//	    defer gate.Done(j.Queue)
//	    // run the attempt
//	}
//
// unmarkd builds its Gate from the worker.max_in_flight,
// worker.starts_per_second and worker.start_burst settings.
package queue
