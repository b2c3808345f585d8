package types

// Lifecycle notification names. Clients subscribe to these over the websocket
// stream, so the strings are part of the public contract.
const (
	EventJobQueued        = "job-queued"
	EventJobStarted       = "job-started"
	EventJobProgress      = "job-progress"
	EventJobCompleted     = "job-completed"
	EventJobFailed        = "job-failed"
	EventJobCancelled     = "job-cancelled"
	EventJobsCancelled    = "jobs-cancelled"
	EventAllJobsCompleted = "all-jobs-completed"
	EventLimitChanged     = "limit-changed"
)

// IsTerminal reports whether name ends a job's lifecycle
func IsTerminal(name string) bool {
	switch name {
	case EventJobCompleted, EventJobFailed, EventJobCancelled:
		return true
	}
	return false
}
