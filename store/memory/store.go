// Package memory provides a fully in-memory store. It is safe for
// concurrent access and intended for unit testing, development, and as the
// fallback when the configured backend cannot be opened.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/id"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store          = (*Store)(nil)
	_ execution.Store    = (*Store)(nil)
	_ execution.Notifier = (*Store)(nil)
)

// subscriberBuffer is the capacity of each SubscribeQueued channel.
// Notifications beyond it are dropped; the buffer's poll covers them.
const subscriberBuffer = 64

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	jobs       map[string]*job.Job
	executions map[string]*execution.Execution

	subMu       sync.Mutex
	subscribers map[chan id.JobID]struct{}
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:        make(map[string]*job.Job),
		executions:  make(map[string]*execution.Execution),
		subscribers: make(map[chan id.JobID]struct{}),
	}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob persists a new job. Names are unique.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return workhorse.ErrJobAlreadyExists
	}
	for _, other := range m.jobs {
		if other.Name == j.Name {
			return workhorse.ErrJobAlreadyExists
		}
	}
	cp := *j
	m.jobs[key] = &cp
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, workhorse.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// GetJobByName retrieves a job by its unique name.
func (m *Store) GetJobByName(_ context.Context, name string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, j := range m.jobs {
		if j.Name == name {
			cp := *j
			return &cp, nil
		}
	}
	return nil, workhorse.ErrJobNotFound
}

// UpdateJob persists changes to an existing job.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, ok := m.jobs[key]; !ok {
		return workhorse.ErrJobNotFound
	}
	for k, other := range m.jobs {
		if k != key && other.Name == j.Name {
			return workhorse.ErrJobAlreadyExists
		}
	}
	cp := *j
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = &cp
	return nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return workhorse.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// ListJobs returns jobs ordered by name.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].Name < result[k].Name })
	return result, nil
}

// ──────────────────────────────────────────────────
// Execution Store
// ──────────────────────────────────────────────────

// CreateExecution persists a new execution and notifies subscribers when
// it is QUEUED.
func (m *Store) CreateExecution(_ context.Context, e *execution.Execution) error {
	m.mu.Lock()
	key := e.ID.String()
	if _, exists := m.executions[key]; exists {
		m.mu.Unlock()
		return workhorse.ErrExecutionAlreadyExists
	}
	m.executions[key] = e.Clone()
	m.mu.Unlock()

	if e.Status == execution.StatusQueued {
		m.notify(e.JobID)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (m *Store) GetExecution(_ context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.executions[execID.String()]
	if !ok {
		return nil, workhorse.ErrExecutionNotFound
	}
	return e.Clone(), nil
}

// UpdateExecution persists changes unconditionally.
func (m *Store) UpdateExecution(_ context.Context, e *execution.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := e.ID.String()
	if _, ok := m.executions[key]; !ok {
		return workhorse.ErrExecutionNotFound
	}
	m.executions[key] = e.Clone()
	return nil
}

// UpdateExecutionIf persists changes only while the stored status equals
// expected.
func (m *Store) UpdateExecutionIf(_ context.Context, e *execution.Execution, expected execution.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := e.ID.String()
	cur, ok := m.executions[key]
	if !ok {
		return workhorse.ErrExecutionNotFound
	}
	if cur.Status != expected {
		return workhorse.ErrExecutionConflict
	}
	m.executions[key] = e.Clone()
	return nil
}

// DeleteExecution removes an execution by ID.
func (m *Store) DeleteExecution(_ context.Context, execID id.ExecutionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := execID.String()
	if _, ok := m.executions[key]; !ok {
		return workhorse.ErrExecutionNotFound
	}
	delete(m.executions, key)
	return nil
}

// PollExecutions returns due QUEUED executions of the job whose chain
// predecessor, if any, has FINISHED. Priority first, then oldest first.
func (m *Store) PollExecutions(_ context.Context, jobID id.JobID, now time.Time, limit int) ([]*execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	candidates := make([]*execution.Execution, 0)
	for _, e := range m.executions {
		if e.JobID != jobID || !e.Eligible(now) {
			continue
		}
		if !e.ChainPreviousID.IsNil() {
			prev, ok := m.executions[e.ChainPreviousID.String()]
			if ok && prev.Status != execution.StatusFinished {
				continue
			}
		}
		candidates = append(candidates, e)
	}

	sort.Slice(candidates, func(i, k int) bool {
		a, b := candidates[i], candidates[k]
		if a.Priority != b.Priority {
			return a.Priority
		}
		return olderFirst(a, b)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return cloneAll(candidates), nil
}

// ListExecutions returns executions matching opts, oldest first.
func (m *Store) ListExecutions(_ context.Context, opts execution.ListOpts) ([]*execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*execution.Execution, 0)
	for _, e := range m.executions {
		if !matches(e, opts) {
			continue
		}
		result = append(result, e)
	}
	sort.Slice(result, func(i, k int) bool { return olderFirst(result[i], result[k]) })

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return cloneAll(result), nil
}

// CountExecutions returns the number of executions matching opts.
func (m *Store) CountExecutions(_ context.Context, opts execution.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, e := range m.executions {
		if !opts.JobID.IsNil() && e.JobID != opts.JobID {
			continue
		}
		if opts.Status != "" && e.Status != opts.Status {
			continue
		}
		count++
	}
	return count, nil
}

// ListTimedOutExecutions returns RUNNING executions started before cutoff.
func (m *Store) ListTimedOutExecutions(_ context.Context, cutoff time.Time) ([]*execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*execution.Execution
	for _, e := range m.executions {
		if e.Status != execution.StatusRunning || e.StartedAt == nil {
			continue
		}
		if e.StartedAt.Before(cutoff) {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, k int) bool { return olderFirst(result[i], result[k]) })
	return cloneAll(result), nil
}

// FindQueuedByParametersHash returns the oldest QUEUED execution of the job
// carrying hash.
func (m *Store) FindQueuedByParametersHash(_ context.Context, jobID id.JobID, hash string) (*execution.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *execution.Execution
	for _, e := range m.executions {
		if e.JobID != jobID || e.Status != execution.StatusQueued || e.ParametersHash != hash {
			continue
		}
		if found == nil || olderFirst(e, found) {
			found = e
		}
	}
	if found == nil {
		return nil, workhorse.ErrExecutionNotFound
	}
	return found.Clone(), nil
}

// DeleteExecutionsBefore deletes terminal executions of the job that ended
// before the given time.
func (m *Store) DeleteExecutionsBefore(_ context.Context, jobID id.JobID, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, e := range m.executions {
		if e.JobID != jobID || !e.Status.IsTerminal() {
			continue
		}
		ended := e.UpdatedAt
		if e.EndedAt != nil {
			ended = *e.EndedAt
		}
		if ended.Before(before) {
			delete(m.executions, key)
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Notifier
// ──────────────────────────────────────────────────

// SubscribeQueued returns a channel that receives the job ID of every
// QUEUED execution created after the call. It is closed when ctx ends.
func (m *Store) SubscribeQueued(ctx context.Context) (<-chan id.JobID, error) {
	ch := make(chan id.JobID, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	go func() {
		<-ctx.Done()
		m.subMu.Lock()
		delete(m.subscribers, ch)
		close(ch)
		m.subMu.Unlock()
	}()
	return ch, nil
}

func (m *Store) notify(jobID id.JobID) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for ch := range m.subscribers {
		select {
		case ch <- jobID:
		default:
		}
	}
}

func matches(e *execution.Execution, opts execution.ListOpts) bool {
	switch {
	case !opts.JobID.IsNil() && e.JobID != opts.JobID:
		return false
	case opts.Status != "" && e.Status != opts.Status:
		return false
	case !opts.BatchID.IsNil() && e.BatchID != opts.BatchID:
		return false
	case !opts.ChainID.IsNil() && e.ChainID != opts.ChainID:
		return false
	}
	return true
}

// olderFirst orders by creation time, then by ID. IDs are time sortable.
func olderFirst(a, b *execution.Execution) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

func cloneAll(in []*execution.Execution) []*execution.Execution {
	out := make([]*execution.Execution, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}
