package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/ext"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension         = (*Extension)(nil)
	_ ext.ExecutionCreated  = (*Extension)(nil)
	_ ext.ExecutionStarted  = (*Extension)(nil)
	_ ext.ExecutionFinished = (*Extension)(nil)
	_ ext.ExecutionFailed   = (*Extension)(nil)
	_ ext.ExecutionRetrying = (*Extension)(nil)
	_ ext.ExecutionTimedOut = (*Extension)(nil)
	_ ext.ScheduleFired     = (*Extension)(nil)
	_ ext.RestartRequested  = (*Extension)(nil)
	_ ext.Shutdown          = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit record.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// LogRecorder writes audit events to logger. Critical events are logged
// at error level, warnings at warn level, everything else at info.
func LogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("action", evt.Action),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		for k, v := range evt.Metadata {
			attrs = append(attrs, slog.Any(k, v))
		}
		logger.LogAttrs(ctx, level, "audit", attrs...)
		return nil
	})
}

// Severity levels.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges engine lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Execution lifecycle hooks ───────────────────────

// OnExecutionCreated implements ext.ExecutionCreated.
func (e *Extension) OnExecutionCreated(ctx context.Context, ex *execution.Execution) error {
	return e.record(ctx, ActionExecutionCreated, SeverityInfo, OutcomeSuccess,
		ResourceExecution, ex.ID.String(), CategoryExecution, nil,
		groupMeta(ex,
			"job_id", ex.JobID.String(),
			"priority", ex.Priority,
		)...,
	)
}

// OnExecutionStarted implements ext.ExecutionStarted.
func (e *Extension) OnExecutionStarted(ctx context.Context, ex *execution.Execution) error {
	return e.record(ctx, ActionExecutionStarted, SeverityInfo, OutcomeSuccess,
		ResourceExecution, ex.ID.String(), CategoryExecution, nil,
		"job_id", ex.JobID.String(),
		"fail_retry", ex.FailRetry,
	)
}

// OnExecutionFinished implements ext.ExecutionFinished.
func (e *Extension) OnExecutionFinished(ctx context.Context, ex *execution.Execution, elapsed time.Duration) error {
	return e.record(ctx, ActionExecutionFinished, SeverityInfo, OutcomeSuccess,
		ResourceExecution, ex.ID.String(), CategoryExecution, nil,
		"job_id", ex.JobID.String(),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnExecutionFailed implements ext.ExecutionFailed.
func (e *Extension) OnExecutionFailed(ctx context.Context, ex *execution.Execution, execErr error) error {
	return e.record(ctx, ActionExecutionFailed, SeverityCritical, OutcomeFailure,
		ResourceExecution, ex.ID.String(), CategoryExecution, execErr,
		"job_id", ex.JobID.String(),
		"fail_status", string(ex.FailStatus),
		"fail_retry", ex.FailRetry,
	)
}

// OnExecutionRetrying implements ext.ExecutionRetrying.
func (e *Extension) OnExecutionRetrying(ctx context.Context, failed, clone *execution.Execution) error {
	meta := []any{
		"job_id", failed.JobID.String(),
		"retry_execution_id", clone.ID.String(),
		"attempt", clone.FailRetry,
	}
	if clone.PlannedFor != nil {
		meta = append(meta, "planned_for", clone.PlannedFor.Format(time.RFC3339))
	}
	return e.record(ctx, ActionExecutionRetrying, SeverityWarning, OutcomeFailure,
		ResourceExecution, failed.ID.String(), CategoryExecution, nil, meta...)
}

// OnExecutionTimedOut implements ext.ExecutionTimedOut.
func (e *Extension) OnExecutionTimedOut(ctx context.Context, ex *execution.Execution, cure execution.Status) error {
	return e.record(ctx, ActionExecutionTimedOut, SeverityWarning, OutcomeFailure,
		ResourceExecution, ex.ID.String(), CategoryExecution, nil,
		"job_id", ex.JobID.String(),
		"cure", string(cure),
	)
}

// ── Schedule and engine hooks ───────────────────────

// OnScheduleFired implements ext.ScheduleFired.
func (e *Extension) OnScheduleFired(ctx context.Context, j *job.Job, firedAt time.Time) error {
	return e.record(ctx, ActionScheduleFired, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategorySchedule, nil,
		"job_name", j.Name,
		"schedule", j.Schedule,
		"fired_at", firedAt.Format(time.RFC3339),
	)
}

// OnRestartRequested implements ext.RestartRequested.
func (e *Extension) OnRestartRequested(ctx context.Context, reason string) error {
	return e.record(ctx, ActionRestartRequested, SeverityWarning, OutcomeSuccess,
		ResourceEngine, "", CategoryEngine, nil,
		"reason", reason,
	)
}

// OnShutdown implements ext.Shutdown.
func (e *Extension) OnShutdown(ctx context.Context) error {
	return e.record(ctx, ActionShutdown, SeverityInfo, OutcomeSuccess,
		ResourceEngine, "", CategoryEngine, nil)
}

// ── Internal helpers ────────────────────────────────

func groupMeta(ex *execution.Execution, kv ...any) []any {
	if !ex.BatchID.IsNil() {
		kv = append(kv, "batch_id", ex.BatchID.String())
	}
	if ex.InChain() {
		kv = append(kv, "chain_id", ex.ChainID.String())
	}
	return kv
}

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
