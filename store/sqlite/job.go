package sqlite

import (
	"context"
	"fmt"
	"time"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/id"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.NewInsert().Model(toJobModel(j)).Exec(ctx)
	if err != nil {
		if isConstraint(err) {
			return workhorse.ErrJobAlreadyExists
		}
		return fmt.Errorf("workhorse/sqlite: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJob(ctx, "get job", "j.id = ?", jobID.String())
}

// GetJobByName retrieves a job by its unique name.
func (s *Store) GetJobByName(ctx context.Context, name string) (*job.Job, error) {
	return s.getJob(ctx, "get job by name", "j.name = ?", name)
}

func (s *Store) getJob(ctx context.Context, op, where string, arg any) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).Where(where, arg).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, workhorse.ErrJobNotFound
		}
		return nil, fmt.Errorf("workhorse/sqlite: %s: %w", op, err)
	}
	return fromJobModel(m)
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	m.UpdatedAt = time.Now().UTC().UnixNano()

	res, err := s.db.NewUpdate().Model(m).ExcludeColumn("created_at").WherePK().Exec(ctx)
	if err != nil {
		if isConstraint(err) {
			return workhorse.ErrJobAlreadyExists
		}
		return fmt.Errorf("workhorse/sqlite: update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("workhorse/sqlite: update job: %w", err)
	}
	if n == 0 {
		return workhorse.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.NewDelete().Model((*jobModel)(nil)).Where("id = ?", jobID.String()).Exec(ctx)
	if err != nil {
		return fmt.Errorf("workhorse/sqlite: delete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("workhorse/sqlite: delete job: %w", err)
	}
	if n == 0 {
		return workhorse.ErrJobNotFound
	}
	return nil
}

// ListJobs returns jobs ordered by name.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models).Order("j.name ASC")
	if opts.Status != "" {
		q = q.Where("j.status = ?", string(opts.Status))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("workhorse/sqlite: list jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
