// Package observability provides an OpenTelemetry metrics extension. The
// MetricsExtension implements lifecycle hooks to record system-wide
// counters for created, started, finished, failed, retried and timed-out
// executions, schedule fires and engine restarts.
//
// For per-run tracing and duration histograms, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
