// Package ext defines the extension system of the engine.
//
// Extensions are notified of lifecycle events and can react to them,
// for example by recording metrics or streaming events to subscribers.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type Alerting struct{}
//
//	func (a *Alerting) Name() string { return "alerting" }
//
//	func (a *Alerting) OnExecutionFailed(ctx context.Context, e *execution.Execution, err error) error {
//	    log.Printf("job %s execution %s failed: %s", e.JobID, e.ID, e.FailMessage)
//	    return nil
//	}
//
// # Execution Hooks
//
//   - [ExecutionCreated]: an execution was persisted as QUEUED
//   - [ExecutionStarted]: a worker claimed the execution
//   - [ExecutionFinished]: the work function succeeded
//   - [ExecutionFailed]: the execution failed with no retries remaining
//   - [ExecutionRetrying]: the execution failed and a clone was queued
//   - [ExecutionTimedOut]: the sweeper cured a zombie execution
//
// # Engine Hooks
//
//   - [ScheduleFired]: a job's schedule fired
//   - [RestartRequested]: the engine is about to restart
//   - [Shutdown]: the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors are logged and
// never returned.
package ext
