package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

// tracerName is the instrumentation scope name for workhorse tracing.
const tracerName = "github.com/coodoo-workhorse/workhorse-sub001"

// Tracing returns middleware that wraps each execution in an OpenTelemetry
// span using the global TracerProvider. Without a configured provider the
// noop tracer makes it a pass-through.
//
// Span attributes: workhorse.job.id, workhorse.job.name,
// workhorse.execution.id, workhorse.fail_retry, workhorse.priority, and
// workhorse.batch.id / workhorse.chain.id when set.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, e *execution.Execution, next Handler) error {
		attrs := []attribute.KeyValue{
			attribute.String("workhorse.job.id", j.ID.String()),
			attribute.String("workhorse.job.name", j.Name),
			attribute.String("workhorse.execution.id", e.ID.String()),
			attribute.Int("workhorse.fail_retry", e.FailRetry),
			attribute.Bool("workhorse.priority", e.Priority),
		}
		if !e.BatchID.IsNil() {
			attrs = append(attrs, attribute.String("workhorse.batch.id", e.BatchID.String()))
		}
		if e.InChain() {
			attrs = append(attrs, attribute.String("workhorse.chain.id", e.ChainID.String()))
		}

		ctx, span := tracer.Start(ctx, "workhorse.execution.run",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
