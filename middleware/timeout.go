package middleware

import (
	"context"
	"time"

	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

// Timeout returns middleware that puts a deadline on the context handed
// to the work function. Work functions that honor ctx return early; the
// engine never interrupts one that does not. A non-positive d disables it.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *job.Job, _ *execution.Execution, next Handler) error {
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}

// TimeoutFunc is Timeout with the deadline looked up per job on every
// call, so a changed deadline applies to the next execution.
func TimeoutFunc(lookup func(*job.Job) time.Duration) Middleware {
	return func(ctx context.Context, j *job.Job, e *execution.Execution, next Handler) error {
		return Timeout(lookup(j))(ctx, j, e, next)
	}
}
