// Package middleware provides composable middleware around work functions.
//
// A [Middleware] wraps the call of a job's work function for one
// execution. Middleware are composed with [Chain]; the first middleware in
// the slice is the outermost wrapper.
//
//	// logging → recover → work function
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Recover]: converts panics into a [*PanicError] carrying the stack
//   - [Logging]: logs execution start, duration and outcome
//   - [Timeout]: gives the work function a context deadline
//   - [Tracing]: wraps each run in an OpenTelemetry span
//   - [Metrics]: records run duration and outcome counters
//
// The engine always installs Recover innermost so a panicking work
// function fails its execution with the captured stacktrace.
//
// # Writing Custom Middleware
//
//	func Audit() middleware.Middleware {
//	    return func(ctx context.Context, j *job.Job, e *execution.Execution, next middleware.Handler) error {
//	        err := next(ctx)
//	        // record e.ID and err
//	        return err
//	    }
//	}
package middleware
