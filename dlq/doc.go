// Package dlq holds removal jobs that spent their whole attempt budget.
//
// The executor pushes a job here after its final failed attempt. Normally
// the handler has already settled the task by then. When settlement
// itself failed, the task is still PROCESSING and unrefunded; replaying
// the entry runs the task again under a new job, which may claim it and
// finish or settle it. Replaying an entry whose task is already terminal
// is harmless: the claim matches no row and the job completes as a no-op.
package dlq
