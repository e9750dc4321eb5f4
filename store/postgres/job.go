package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/id"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

const jobColumns = `
	id, name, description, worker, status, threads, max_per_minute,
	fail_retries, retry_delay, schedule, unique_queued, minutes_until_cleanup,
	created_at, updated_at`

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workhorse_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		j.ID.String(), j.Name, j.Description, j.Worker, string(j.Status),
		j.Threads, j.MaxPerMinute, j.FailRetries, j.RetryDelay.Nanoseconds(),
		j.Schedule, j.UniqueQueued, j.MinutesUntilCleanup,
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return workhorse.ErrJobAlreadyExists
		}
		return fmt.Errorf("workhorse/postgres: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM workhorse_jobs WHERE id = $1`,
		jobID.String(),
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, workhorse.ErrJobNotFound
		}
		return nil, fmt.Errorf("workhorse/postgres: get job: %w", err)
	}
	return j, nil
}

// GetJobByName retrieves a job by its unique name.
func (s *Store) GetJobByName(ctx context.Context, name string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM workhorse_jobs WHERE name = $1`,
		name,
	)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, workhorse.ErrJobNotFound
		}
		return nil, fmt.Errorf("workhorse/postgres: get job by name: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE workhorse_jobs SET
			name = $2, description = $3, worker = $4, status = $5,
			threads = $6, max_per_minute = $7, fail_retries = $8,
			retry_delay = $9, schedule = $10, unique_queued = $11,
			minutes_until_cleanup = $12, updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(), j.Name, j.Description, j.Worker, string(j.Status),
		j.Threads, j.MaxPerMinute, j.FailRetries, j.RetryDelay.Nanoseconds(),
		j.Schedule, j.UniqueQueued, j.MinutesUntilCleanup,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return workhorse.ErrJobAlreadyExists
		}
		return fmt.Errorf("workhorse/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return workhorse.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM workhorse_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("workhorse/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return workhorse.ErrJobNotFound
	}
	return nil
}

// ListJobs returns jobs ordered by name.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM workhorse_jobs`
	var args []any
	if opts.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY name ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("workhorse/postgres: list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*job.Job, 0)
	for rows.Next() {
		j, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("workhorse/postgres: scan job row: %w", scanErr)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workhorse/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j          job.Job
		idStr      string
		statusStr  string
		retryDelay int64
	)
	err := row.Scan(
		&idStr, &j.Name, &j.Description, &j.Worker, &statusStr,
		&j.Threads, &j.MaxPerMinute, &j.FailRetries, &retryDelay,
		&j.Schedule, &j.UniqueQueued, &j.MinutesUntilCleanup,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, err := id.ParseJobID(idStr)
	if err != nil {
		return nil, fmt.Errorf("workhorse/postgres: parse job id %q: %w", idStr, err)
	}
	j.ID = parsedID
	j.Status = job.Status(statusStr)
	j.RetryDelay = time.Duration(retryDelay)
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	return &j, nil
}
