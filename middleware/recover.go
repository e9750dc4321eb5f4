package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

// PanicError is returned by Recover when the work function panicked.
// Stack holds the goroutine stack captured at the panic.
type PanicError struct {
	Value any
	Stack string
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

// Recover returns middleware that recovers from panics in the handler
// chain and converts them to a *PanicError.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, e *execution.Execution, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("work function panicked",
					slog.String("job_name", j.Name),
					slog.String("job_id", j.ID.String()),
					slog.String("execution_id", e.ID.String()),
					slog.Any("panic", r),
				)
				retErr = &PanicError{Value: r, Stack: stack}
			}
		}()
		return next(ctx)
	}
}
