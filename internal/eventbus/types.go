package eventbus

// Event types published by planner components.
const (
	TaskStarted  = "task.started"
	TaskFinished = "task.finished"
	TaskFailed   = "task.failed"
	TaskSkipped  = "task.skipped"
	TaskDropped  = "task.dropped"

	PlanFired      = "plan.fired"
	PlanStartFired = "plan.start_fired"
	PlanExhausted  = "plan.exhausted"
	PlanMissed     = "plan.enqueue_failed"

	ConfigReloaded = "config.reloaded"
)
