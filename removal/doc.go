// Package removal is the watermark worker. For one queue attempt it
// claims the task, creates the vendor job or resumes the one already
// recorded, polls it to a terminal state and finalizes the task.
//
// Failures on attempts that still have budget left are recorded on the
// task and returned to the queue, which schedules the retry. Only the
// final attempt settles the refund and marks the task FAILED.
//
//	p := removal.NewProcessor(store, client, poll.Durable(2*time.Second, 16*time.Second, 0.2, 15), settler)
//	engine.Register(eng, p.Definition())
package removal
