package audithook

// Actions, one per lifecycle hook.
const (
	ActionJobEnqueued       = "job.enqueued"
	ActionJobStarted        = "job.started"
	ActionJobCompleted      = "job.completed"
	ActionJobFailed         = "job.failed"
	ActionJobRetrying       = "job.retrying"
	ActionJobDLQ            = "job.dlq"
	ActionTaskClaimed       = "task.claimed"
	ActionTaskCompleted     = "task.completed"
	ActionTaskAttemptFailed = "task.attempt_failed"
	ActionTaskRefunded      = "task.refunded"
	ActionTaskReclaimed     = "task.reclaimed"
)

// Subject names what an event is about.
type Subject string

const (
	SubjectJob  Subject = "job"
	SubjectTask Subject = "task"
)

// Severity grades an event for whoever reads the trail.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// severities holds the grade of each action. Actions not listed are info.
// A failed final attempt is raised to critical by the hook itself.
var severities = map[string]Severity{
	ActionJobFailed:         SeverityCritical,
	ActionJobDLQ:            SeverityCritical,
	ActionJobRetrying:       SeverityWarning,
	ActionTaskAttemptFailed: SeverityWarning,
	ActionTaskRefunded:      SeverityWarning,
	ActionTaskReclaimed:     SeverityWarning,
}

// AllActions lists every action the extension emits.
func AllActions() []string {
	return []string{
		ActionJobEnqueued, ActionJobStarted, ActionJobCompleted,
		ActionJobFailed, ActionJobRetrying, ActionJobDLQ,
		ActionTaskClaimed, ActionTaskCompleted, ActionTaskAttemptFailed,
		ActionTaskRefunded, ActionTaskReclaimed,
	}
}
