package job

import (
	"context"

	"github.com/coodoo-workhorse/workhorse-sub001/id"
)

// ListOpts controls filtering for job list queries.
type ListOpts struct {
	// Status filters by job status. Empty means all statuses.
	Status Status
}

// Store defines the persistence contract for jobs.
type Store interface {
	// CreateJob persists a new job. Returns ErrJobAlreadyExists when the
	// name is taken.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// GetJobByName retrieves a job by its unique name.
	GetJobByName(ctx context.Context, name string) (*Job, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *Job) error

	// DeleteJob removes a job by ID. Administrative use only.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// ListJobs returns jobs ordered by name.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)
}
