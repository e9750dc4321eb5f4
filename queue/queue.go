package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/coodoo-workhorse/workhorse-sub001/id"
)

// jobState tracks runtime state for a single job.
type jobState struct {
	perMinute  int
	limiter    *rate.Limiter
	dispatched atomic.Int64
}

// Manager controls per-job dispatch rates. It is safe for concurrent use.
type Manager struct {
	mu   sync.Mutex
	jobs map[id.JobID]*jobState
}

// NewManager creates an empty Manager. Unknown jobs have no limit.
func NewManager() *Manager {
	return &Manager{jobs: make(map[id.JobID]*jobState)}
}

// Limit returns the limiter rate for perMinute dispatches per minute.
func Limit(perMinute int) rate.Limit {
	if perMinute <= 0 {
		return rate.Inf
	}
	return rate.Every(time.Minute / time.Duration(perMinute))
}

// Configure sets the rate of jobID. Zero or negative removes the limit.
// The dispatched counter survives reconfiguration.
func (m *Manager) Configure(jobID id.JobID, perMinute int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	js := m.jobs[jobID]
	if js == nil {
		js = &jobState{}
		m.jobs[jobID] = js
	}
	js.perMinute = perMinute
	js.limiter = nil
	if perMinute > 0 {
		js.limiter = rate.NewLimiter(Limit(perMinute), 1)
	}
}

// Remove forgets jobID, including its counter.
func (m *Manager) Remove(jobID id.JobID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
}

// Wait blocks until jobID may dispatch another execution or ctx ends.
func (m *Manager) Wait(ctx context.Context, jobID id.JobID) error {
	m.mu.Lock()
	js := m.jobs[jobID]
	var lim *rate.Limiter
	if js != nil {
		lim = js.limiter
	}
	m.mu.Unlock()

	if lim == nil {
		return ctx.Err()
	}
	return lim.Wait(ctx)
}

// MarkDispatched increments the dispatched counter of jobID.
func (m *Manager) MarkDispatched(jobID id.JobID) {
	m.mu.Lock()
	js := m.jobs[jobID]
	if js == nil {
		js = &jobState{}
		m.jobs[jobID] = js
	}
	m.mu.Unlock()

	js.dispatched.Add(1)
}

// Dispatched returns how many executions of jobID were dispatched since
// it was first configured.
func (m *Manager) Dispatched(jobID id.JobID) int64 {
	m.mu.Lock()
	js := m.jobs[jobID]
	m.mu.Unlock()

	if js == nil {
		return 0
	}
	return js.dispatched.Load()
}

// PerMinute returns the configured rate of jobID, zero when unlimited.
func (m *Manager) PerMinute(jobID id.JobID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if js := m.jobs[jobID]; js != nil {
		return js.perMinute
	}
	return 0
}
