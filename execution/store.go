package execution

import (
	"context"
	"time"

	"github.com/coodoo-workhorse/workhorse-sub001/id"
)

// ListOpts controls filtering and pagination for execution list queries.
// Results are ordered by creation time ascending.
type ListOpts struct {
	JobID   id.JobID
	Status  Status
	BatchID id.BatchID
	ChainID id.ChainID

	// Limit is the maximum number of executions to return. Zero means no limit.
	Limit int
	// Offset is the number of executions to skip.
	Offset int
}

// CountOpts controls filtering for execution count queries.
type CountOpts struct {
	JobID  id.JobID
	Status Status
}

// Store defines the persistence contract for executions.
type Store interface {
	// CreateExecution persists a new execution.
	CreateExecution(ctx context.Context, e *Execution) error

	// GetExecution retrieves an execution by ID.
	GetExecution(ctx context.Context, execID id.ExecutionID) (*Execution, error)

	// UpdateExecution persists changes unconditionally.
	UpdateExecution(ctx context.Context, e *Execution) error

	// UpdateExecutionIf persists changes only while the stored status
	// still equals expected. Returns ErrExecutionConflict otherwise.
	UpdateExecutionIf(ctx context.Context, e *Execution, expected Status) error

	// DeleteExecution removes an execution by ID.
	DeleteExecution(ctx context.Context, execID id.ExecutionID) error

	// PollExecutions returns up to limit QUEUED executions of the job that
	// are due at now and have no unfinished chain predecessor, priority
	// first, then oldest first.
	PollExecutions(ctx context.Context, jobID id.JobID, now time.Time, limit int) ([]*Execution, error)

	// ListExecutions returns executions matching opts, oldest first.
	ListExecutions(ctx context.Context, opts ListOpts) ([]*Execution, error)

	// CountExecutions returns the number of executions matching opts.
	CountExecutions(ctx context.Context, opts CountOpts) (int64, error)

	// ListTimedOutExecutions returns RUNNING executions started before cutoff.
	ListTimedOutExecutions(ctx context.Context, cutoff time.Time) ([]*Execution, error)

	// FindQueuedByParametersHash returns the oldest QUEUED execution of the
	// job with the given parameters hash, or ErrExecutionNotFound.
	FindQueuedByParametersHash(ctx context.Context, jobID id.JobID, hash string) (*Execution, error)

	// DeleteExecutionsBefore deletes terminal executions of the job that
	// ended before the given time and returns how many were removed.
	DeleteExecutionsBefore(ctx context.Context, jobID id.JobID, before time.Time) (int64, error)
}

// Notifier is implemented by stores that can announce new QUEUED
// executions. The channel carries the owning job's ID and is closed when
// ctx ends.
type Notifier interface {
	SubscribeQueued(ctx context.Context) (<-chan id.JobID, error)
}
