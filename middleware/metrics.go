package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

// meterName is the instrumentation scope name for workhorse metrics.
const meterName = "github.com/coodoo-workhorse/workhorse-sub001"

// Metrics returns middleware that records per-job execution metrics using
// the global OTel MeterProvider.
//
// Instruments:
//   - workhorse.execution.duration (Float64Histogram): run time in seconds
//   - workhorse.execution.runs (Int64Counter): work function invocations
//
// Both carry the attributes job_name and status ("ok" or "error").
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"workhorse.execution.duration",
		metric.WithDescription("Duration of work function runs in seconds"),
		metric.WithUnit("s"),
	)
	runs, _ := meter.Int64Counter(
		"workhorse.execution.runs",
		metric.WithDescription("Total number of work function runs"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, j *job.Job, _ *execution.Execution, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("job_name", j.Name),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		runs.Add(ctx, 1, attrs)
		return err
	}
}
