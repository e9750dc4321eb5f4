package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

func (eng *Engine) cleanupLoop(rt *runtime) {
	defer rt.wg.Done()

	ticker := time.NewTicker(rt.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rt.stopCleanup:
			return
		case <-ticker.C:
			if _, err := eng.cleanup(context.Background(), rt, time.Now()); err != nil {
				eng.logger.Error("cleanup error", slog.String("error", err.Error()))
			}
		}
	}
}

// Cleanup deletes terminal executions older than their job's retention
// window and returns how many were removed.
func (eng *Engine) Cleanup(ctx context.Context) (int64, error) {
	eng.lifeMu.RLock()
	defer eng.lifeMu.RUnlock()
	rt, err := eng.current()
	if err != nil {
		return 0, err
	}
	return eng.cleanup(ctx, rt, time.Now())
}

func (eng *Engine) cleanup(ctx context.Context, rt *runtime, now time.Time) (int64, error) {
	jobs, err := rt.store.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		return 0, err
	}

	var total int64
	for _, j := range jobs {
		if j.MinutesUntilCleanup <= 0 {
			continue
		}
		n, err := rt.store.DeleteExecutionsBefore(ctx, j.ID, now.Add(-j.Retention()))
		if err != nil {
			eng.logger.Error("cleanup failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if n > 0 {
			eng.logger.Info("executions cleaned up",
				slog.String("job_id", j.ID.String()),
				slog.String("job_name", j.Name),
				slog.Int64("deleted", n),
			)
		}
		total += n
	}
	return total, nil
}
