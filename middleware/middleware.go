// Package middleware provides composable middleware around execution of a
// job's work function. Middleware wraps the call synchronously and can
// observe or alter it (recover from panics, log, trace, record metrics).
package middleware

import (
	"context"

	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

// Handler is the terminal function that runs the work function.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic.
// It receives the job, the execution being run, and the next handler.
// Middleware MUST call next to continue the chain unless short-circuiting.
type Middleware func(ctx context.Context, j *job.Job, e *execution.Execution, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// The first middleware in the list is the outermost wrapper.
//
// Example: Chain(logging, recover) executes as:
//
//	logging → recover → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, e *execution.Execution, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, j, e, prev)
			}
		}
		return h(ctx)
	}
}
