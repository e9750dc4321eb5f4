package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

// entry pairs a hook implementation with the extension name captured at
// registration time, so emit methods never type-assert back to Extension.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
// Register is not safe to call concurrently with Emit; register
// everything before the engine starts.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	executionCreated  []entry[ExecutionCreated]
	executionStarted  []entry[ExecutionStarted]
	executionFinished []entry[ExecutionFinished]
	executionFailed   []entry[ExecutionFailed]
	executionRetrying []entry[ExecutionRetrying]
	executionTimedOut []entry[ExecutionTimedOut]
	scheduleFired     []entry[ScheduleFired]
	restartRequested  []entry[RestartRequested]
	shutdown          []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(ExecutionCreated); ok {
		r.executionCreated = append(r.executionCreated, entry[ExecutionCreated]{name, h})
	}
	if h, ok := e.(ExecutionStarted); ok {
		r.executionStarted = append(r.executionStarted, entry[ExecutionStarted]{name, h})
	}
	if h, ok := e.(ExecutionFinished); ok {
		r.executionFinished = append(r.executionFinished, entry[ExecutionFinished]{name, h})
	}
	if h, ok := e.(ExecutionFailed); ok {
		r.executionFailed = append(r.executionFailed, entry[ExecutionFailed]{name, h})
	}
	if h, ok := e.(ExecutionRetrying); ok {
		r.executionRetrying = append(r.executionRetrying, entry[ExecutionRetrying]{name, h})
	}
	if h, ok := e.(ExecutionTimedOut); ok {
		r.executionTimedOut = append(r.executionTimedOut, entry[ExecutionTimedOut]{name, h})
	}
	if h, ok := e.(ScheduleFired); ok {
		r.scheduleFired = append(r.scheduleFired, entry[ScheduleFired]{name, h})
	}
	if h, ok := e.(RestartRequested); ok {
		r.restartRequested = append(r.restartRequested, entry[RestartRequested]{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, entry[Shutdown]{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Execution event emitters
// ──────────────────────────────────────────────────

// EmitExecutionCreated notifies all extensions that implement ExecutionCreated.
func (r *Registry) EmitExecutionCreated(ctx context.Context, e *execution.Execution) {
	for _, x := range r.executionCreated {
		if err := x.hook.OnExecutionCreated(ctx, e); err != nil {
			r.logHookError("OnExecutionCreated", x.name, err)
		}
	}
}

// EmitExecutionStarted notifies all extensions that implement ExecutionStarted.
func (r *Registry) EmitExecutionStarted(ctx context.Context, e *execution.Execution) {
	for _, x := range r.executionStarted {
		if err := x.hook.OnExecutionStarted(ctx, e); err != nil {
			r.logHookError("OnExecutionStarted", x.name, err)
		}
	}
}

// EmitExecutionFinished notifies all extensions that implement ExecutionFinished.
func (r *Registry) EmitExecutionFinished(ctx context.Context, e *execution.Execution, elapsed time.Duration) {
	for _, x := range r.executionFinished {
		if err := x.hook.OnExecutionFinished(ctx, e, elapsed); err != nil {
			r.logHookError("OnExecutionFinished", x.name, err)
		}
	}
}

// EmitExecutionFailed notifies all extensions that implement ExecutionFailed.
func (r *Registry) EmitExecutionFailed(ctx context.Context, e *execution.Execution, execErr error) {
	for _, x := range r.executionFailed {
		if err := x.hook.OnExecutionFailed(ctx, e, execErr); err != nil {
			r.logHookError("OnExecutionFailed", x.name, err)
		}
	}
}

// EmitExecutionRetrying notifies all extensions that implement ExecutionRetrying.
func (r *Registry) EmitExecutionRetrying(ctx context.Context, failed, clone *execution.Execution) {
	for _, x := range r.executionRetrying {
		if err := x.hook.OnExecutionRetrying(ctx, failed, clone); err != nil {
			r.logHookError("OnExecutionRetrying", x.name, err)
		}
	}
}

// EmitExecutionTimedOut notifies all extensions that implement ExecutionTimedOut.
func (r *Registry) EmitExecutionTimedOut(ctx context.Context, e *execution.Execution, cure execution.Status) {
	for _, x := range r.executionTimedOut {
		if err := x.hook.OnExecutionTimedOut(ctx, e, cure); err != nil {
			r.logHookError("OnExecutionTimedOut", x.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Engine event emitters
// ──────────────────────────────────────────────────

// EmitScheduleFired notifies all extensions that implement ScheduleFired.
func (r *Registry) EmitScheduleFired(ctx context.Context, j *job.Job, firedAt time.Time) {
	for _, x := range r.scheduleFired {
		if err := x.hook.OnScheduleFired(ctx, j, firedAt); err != nil {
			r.logHookError("OnScheduleFired", x.name, err)
		}
	}
}

// EmitRestartRequested notifies all extensions that implement RestartRequested.
func (r *Registry) EmitRestartRequested(ctx context.Context, reason string) {
	for _, x := range r.restartRequested {
		if err := x.hook.OnRestartRequested(ctx, reason); err != nil {
			r.logHookError("OnRestartRequested", x.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, x := range r.shutdown {
		if err := x.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", x.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors are never propagated into the dispatch pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
