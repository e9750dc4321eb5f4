package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/ext"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension         = (*MetricsExtension)(nil)
	_ ext.ExecutionCreated  = (*MetricsExtension)(nil)
	_ ext.ExecutionStarted  = (*MetricsExtension)(nil)
	_ ext.ExecutionFinished = (*MetricsExtension)(nil)
	_ ext.ExecutionFailed   = (*MetricsExtension)(nil)
	_ ext.ExecutionRetrying = (*MetricsExtension)(nil)
	_ ext.ExecutionTimedOut = (*MetricsExtension)(nil)
	_ ext.ScheduleFired     = (*MetricsExtension)(nil)
	_ ext.RestartRequested  = (*MetricsExtension)(nil)
)

const meterName = "github.com/coodoo-workhorse/workhorse-sub001/observability"

// MetricsExtension records system-wide lifecycle counters with OTel
// Int64Counters. Counters carry a job_id attribute where one is known.
type MetricsExtension struct {
	ExecutionCreated  metric.Int64Counter
	ExecutionStarted  metric.Int64Counter
	ExecutionFinished metric.Int64Counter
	ExecutionFailed   metric.Int64Counter
	ExecutionRetried  metric.Int64Counter
	ExecutionTimedOut metric.Int64Counter
	ScheduleFired     metric.Int64Counter
	Restarts          metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on meter.
// Instrument creation errors fall back to the noop instruments the API
// returns alongside them.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	return &MetricsExtension{
		ExecutionCreated:  counter("workhorse.execution.created", "Executions persisted as QUEUED"),
		ExecutionStarted:  counter("workhorse.execution.started", "Executions claimed by a worker"),
		ExecutionFinished: counter("workhorse.execution.finished", "Executions that ended FINISHED"),
		ExecutionFailed:   counter("workhorse.execution.failed", "Executions that failed terminally"),
		ExecutionRetried:  counter("workhorse.execution.retried", "Failed executions replaced by a retry clone"),
		ExecutionTimedOut: counter("workhorse.execution.timed_out", "Zombie executions cured by the sweeper"),
		ScheduleFired:     counter("workhorse.schedule.fired", "Schedule fires"),
		Restarts:          counter("workhorse.engine.restarts", "Engine restarts"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttr(e *execution.Execution) metric.AddOption {
	return metric.WithAttributes(attribute.String("job_id", e.JobID.String()))
}

// OnExecutionCreated implements ext.ExecutionCreated.
func (m *MetricsExtension) OnExecutionCreated(ctx context.Context, e *execution.Execution) error {
	m.ExecutionCreated.Add(ctx, 1, jobAttr(e))
	return nil
}

// OnExecutionStarted implements ext.ExecutionStarted.
func (m *MetricsExtension) OnExecutionStarted(ctx context.Context, e *execution.Execution) error {
	m.ExecutionStarted.Add(ctx, 1, jobAttr(e))
	return nil
}

// OnExecutionFinished implements ext.ExecutionFinished.
func (m *MetricsExtension) OnExecutionFinished(ctx context.Context, e *execution.Execution, _ time.Duration) error {
	m.ExecutionFinished.Add(ctx, 1, jobAttr(e))
	return nil
}

// OnExecutionFailed implements ext.ExecutionFailed.
func (m *MetricsExtension) OnExecutionFailed(ctx context.Context, e *execution.Execution, _ error) error {
	m.ExecutionFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job_id", e.JobID.String()),
		attribute.String("fail_status", string(e.FailStatus)),
	))
	return nil
}

// OnExecutionRetrying implements ext.ExecutionRetrying.
func (m *MetricsExtension) OnExecutionRetrying(ctx context.Context, failed, _ *execution.Execution) error {
	m.ExecutionRetried.Add(ctx, 1, jobAttr(failed))
	return nil
}

// OnExecutionTimedOut implements ext.ExecutionTimedOut.
func (m *MetricsExtension) OnExecutionTimedOut(ctx context.Context, e *execution.Execution, cure execution.Status) error {
	m.ExecutionTimedOut.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job_id", e.JobID.String()),
		attribute.String("cure", string(cure)),
	))
	return nil
}

// OnScheduleFired implements ext.ScheduleFired.
func (m *MetricsExtension) OnScheduleFired(ctx context.Context, j *job.Job, _ time.Time) error {
	m.ScheduleFired.Add(ctx, 1, metric.WithAttributes(attribute.String("job_id", j.ID.String())))
	return nil
}

// OnRestartRequested implements ext.RestartRequested.
func (m *MetricsExtension) OnRestartRequested(ctx context.Context, _ string) error {
	m.Restarts.Add(ctx, 1)
	return nil
}
