package engine

import (
	"context"
	"time"

	"github.com/coodoo-workhorse/workhorse-sub001/buffer"
	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/id"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

// JobStats describes the dispatch state of one job.
type JobStats struct {
	JobID      id.JobID                   `json:"job_id"`
	Name       string                     `json:"name"`
	Status     job.Status                 `json:"status"`
	Threads    int                        `json:"threads"`
	Active     int                        `json:"active"`
	Dispatched int64                      `json:"dispatched"`
	NextFire   *time.Time                 `json:"next_fire,omitempty"`
	Buffer     *buffer.Snapshot           `json:"buffer,omitempty"`
	Counts     map[execution.Status]int64 `json:"counts"`
}

// Stats summarizes the engine.
type Stats struct {
	Push bool        `json:"push"`
	Jobs []*JobStats `json:"jobs"`
}

var countedStatuses = []execution.Status{
	execution.StatusQueued,
	execution.StatusRunning,
	execution.StatusFinished,
	execution.StatusFailed,
	execution.StatusAborted,
}

// Stats returns per-job buffer snapshots and execution counts.
func (eng *Engine) Stats(ctx context.Context) (*Stats, error) {
	eng.lifeMu.RLock()
	defer eng.lifeMu.RUnlock()
	rt, err := eng.current()
	if err != nil {
		return nil, err
	}

	jobs, err := rt.store.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		return nil, err
	}

	stats := &Stats{Push: rt.buffer.PushCapable(), Jobs: make([]*JobStats, 0, len(jobs))}
	for _, j := range jobs {
		js := &JobStats{
			JobID:      j.ID,
			Name:       j.Name,
			Status:     j.Status,
			Threads:    j.Threads,
			Dispatched: rt.limiter.Dispatched(j.ID),
			Counts:     make(map[execution.Status]int64, len(countedStatuses)),
		}
		if snap, ok := rt.buffer.Snapshot(j.ID); ok {
			js.Buffer = &snap
		}
		rt.mu.Lock()
		if p := rt.pools[j.ID]; p != nil {
			js.Active = p.Active()
		}
		rt.mu.Unlock()
		if next, ok := rt.scheduler.NextFire(j.ID); ok {
			js.NextFire = &next
		}
		for _, st := range countedStatuses {
			n, err := rt.store.CountExecutions(ctx, execution.CountOpts{JobID: j.ID, Status: st})
			if err != nil {
				return nil, err
			}
			js.Counts[st] = n
		}
		stats.Jobs = append(stats.Jobs, js)
	}
	return stats, nil
}
