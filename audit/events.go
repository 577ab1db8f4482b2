package audit

// Action names for every audit event this package emits.
const (
	ActionJobCreated       = "job.created"
	ActionJobAccepted      = "job.accepted"
	ActionJobDeclined      = "job.declined"
	ActionJobCancelled     = "job.cancelled"
	ActionJobStarted       = "job.started"
	ActionJobBlocked       = "job.blocked"
	ActionJobResumed       = "job.resumed"
	ActionJobCompleted     = "job.completed"
	ActionProgressAppended = "job.progress_appended"
)

// Resource and category constants.
const (
	ResourceJob = "job"
	CategoryJob = "dispatch.job"
)

// Severity constants.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
)

// AllActions lists every action, for use with WithActions.
func AllActions() []string {
	return []string{
		ActionJobCreated,
		ActionJobAccepted,
		ActionJobDeclined,
		ActionJobCancelled,
		ActionJobStarted,
		ActionJobBlocked,
		ActionJobResumed,
		ActionJobCompleted,
		ActionProgressAppended,
	}
}
