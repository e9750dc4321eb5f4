package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

// Logging returns middleware that logs execution start and outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, e *execution.Execution, next Handler) error {
		attrs := []any{
			slog.String("job_name", j.Name),
			slog.String("job_id", j.ID.String()),
			slog.String("execution_id", e.ID.String()),
		}
		logger.Debug("execution started", append(attrs, slog.Int("fail_retry", e.FailRetry))...)

		start := time.Now()
		err := next(ctx)
		attrs = append(attrs, slog.Duration("elapsed", time.Since(start)))

		if err != nil {
			logger.Warn("execution failed", append(attrs, slog.String("error", err.Error()))...)
		} else {
			logger.Info("execution finished", attrs...)
		}
		return err
	}
}
