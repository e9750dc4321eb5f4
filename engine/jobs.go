package engine

import (
	"context"
	"fmt"
	"log/slog"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/cron"
	"github.com/coodoo-workhorse/workhorse-sub001/id"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

// GetJob returns the job with the given ID.
func (eng *Engine) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	eng.lifeMu.RLock()
	defer eng.lifeMu.RUnlock()
	rt, err := eng.current()
	if err != nil {
		return nil, err
	}
	return rt.store.GetJob(ctx, jobID)
}

// GetJobByName returns the job with the given name.
func (eng *Engine) GetJobByName(ctx context.Context, name string) (*job.Job, error) {
	eng.lifeMu.RLock()
	defer eng.lifeMu.RUnlock()
	rt, err := eng.current()
	if err != nil {
		return nil, err
	}
	return rt.store.GetJobByName(ctx, name)
}

// ListJobs returns the jobs matching opts.
func (eng *Engine) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	eng.lifeMu.RLock()
	defer eng.lifeMu.RUnlock()
	rt, err := eng.current()
	if err != nil {
		return nil, err
	}
	return rt.store.ListJobs(ctx, opts)
}

// ActivateJob marks a job ACTIVE and starts its dispatcher and schedule.
// A job without a registered worker becomes NO_WORKER instead and
// ErrWorkerNotFound is returned.
func (eng *Engine) ActivateJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	eng.lifeMu.RLock()
	defer eng.lifeMu.RUnlock()
	rt, err := eng.current()
	if err != nil {
		return nil, err
	}

	j, err := rt.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if _, ok := eng.registry.Get(j.WorkerName()); !ok {
		j.Status = job.StatusNoWorker
		j.Touch()
		if err := rt.store.UpdateJob(ctx, j); err != nil {
			return nil, err
		}
		return j, fmt.Errorf("%w: %q", workhorse.ErrWorkerNotFound, j.WorkerName())
	}

	j.Status = job.StatusActive
	j.Touch()
	if err := rt.store.UpdateJob(ctx, j); err != nil {
		return nil, err
	}
	if err := eng.startJob(ctx, rt, j); err != nil {
		return j, err
	}

	eng.logger.Info("job activated", slog.String("job_id", j.ID.String()), slog.String("job_name", j.Name))
	return j, nil
}

// DeactivateJob marks a job INACTIVE and stops its schedule and
// dispatcher. Its queued executions stay in the store.
func (eng *Engine) DeactivateJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	eng.lifeMu.RLock()
	defer eng.lifeMu.RUnlock()
	rt, err := eng.current()
	if err != nil {
		return nil, err
	}

	j, err := rt.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	j.Status = job.StatusInactive
	j.Touch()
	if err := rt.store.UpdateJob(ctx, j); err != nil {
		return nil, err
	}
	if err := eng.stopJob(ctx, rt, j.ID); err != nil {
		eng.logger.Warn("job drain incomplete",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	eng.logger.Info("job deactivated", slog.String("job_id", j.ID.String()), slog.String("job_name", j.Name))
	return j, nil
}

// UpdateJob persists changed job settings. An active job is stopped,
// drained and restarted so thread count, rate limit and schedule changes
// take effect.
func (eng *Engine) UpdateJob(ctx context.Context, j *job.Job) (*job.Job, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}
	if j.Schedule != "" {
		if _, err := cron.ParseSchedule(j.Schedule); err != nil {
			return nil, err
		}
	}

	eng.lifeMu.RLock()
	defer eng.lifeMu.RUnlock()
	rt, err := eng.current()
	if err != nil {
		return nil, err
	}

	stored, err := rt.store.GetJob(ctx, j.ID)
	if err != nil {
		return nil, err
	}
	j.CreatedAt = stored.CreatedAt
	j.Touch()
	if err := rt.store.UpdateJob(ctx, j); err != nil {
		return nil, err
	}

	if err := eng.stopJob(ctx, rt, j.ID); err != nil {
		eng.logger.Warn("job drain incomplete",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	if j.IsActive() {
		if err := eng.startJob(ctx, rt, j); err != nil {
			return j, err
		}
	}

	eng.logger.Info("job updated", slog.String("job_id", j.ID.String()), slog.String("job_name", j.Name))
	return j, nil
}
