package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionExecutionCreated  = "execution.created"
	ActionExecutionStarted  = "execution.started"
	ActionExecutionFinished = "execution.finished"
	ActionExecutionFailed   = "execution.failed"
	ActionExecutionRetrying = "execution.retrying"
	ActionExecutionTimedOut = "execution.timed_out"
	ActionScheduleFired     = "schedule.fired"
	ActionRestartRequested  = "engine.restart_requested"
	ActionShutdown          = "engine.shutdown"
)

// Audit event categories group related actions.
const (
	CategoryExecution = "workhorse.execution"
	CategorySchedule  = "workhorse.schedule"
	CategoryEngine    = "workhorse.engine"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceExecution = "execution"
	ResourceJob       = "job"
	ResourceEngine    = "engine"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionExecutionCreated,
		ActionExecutionStarted,
		ActionExecutionFinished,
		ActionExecutionFailed,
		ActionExecutionRetrying,
		ActionExecutionTimedOut,
		ActionScheduleFired,
		ActionRestartRequested,
		ActionShutdown,
	}
}
