// Package ext defines the extension system of the engine.
// Extensions are notified of execution and engine lifecycle events and
// can react to them with metrics, streaming, alerting, and so on.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Execution lifecycle hooks
// ──────────────────────────────────────────────────

// ExecutionCreated is called after an execution is persisted as QUEUED.
type ExecutionCreated interface {
	OnExecutionCreated(ctx context.Context, e *execution.Execution) error
}

// ExecutionStarted is called after a worker claimed an execution.
type ExecutionStarted interface {
	OnExecutionStarted(ctx context.Context, e *execution.Execution) error
}

// ExecutionFinished is called after an execution ended FINISHED.
type ExecutionFinished interface {
	OnExecutionFinished(ctx context.Context, e *execution.Execution, elapsed time.Duration) error
}

// ExecutionFailed is called when an execution fails terminally: its
// retries are exhausted or it expired before starting. The execution
// carries the job id, fail message and stacktrace.
type ExecutionFailed interface {
	OnExecutionFailed(ctx context.Context, e *execution.Execution, err error) error
}

// ExecutionRetrying is called when a failed execution was replaced by a
// queued clone.
type ExecutionRetrying interface {
	OnExecutionRetrying(ctx context.Context, failed, clone *execution.Execution) error
}

// ExecutionTimedOut is called when the sweeper cured an execution that
// stayed RUNNING too long. cure is the status it was moved to.
type ExecutionTimedOut interface {
	OnExecutionTimedOut(ctx context.Context, e *execution.Execution, cure execution.Status) error
}

// ──────────────────────────────────────────────────
// Engine lifecycle hooks
// ──────────────────────────────────────────────────

// ScheduleFired is called each time a job's schedule fires.
type ScheduleFired interface {
	OnScheduleFired(ctx context.Context, j *job.Job, firedAt time.Time) error
}

// RestartRequested is called when the engine begins a restart.
type RestartRequested interface {
	OnRestartRequested(ctx context.Context, reason string) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
