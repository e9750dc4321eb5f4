package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/id"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

// CreateJob stores the job as a Hash and claims its name.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := s.jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("workhorse/redis: create job check exists: %w", err)
	}
	if exists > 0 {
		return workhorse.ErrJobAlreadyExists
	}

	claimed, err := s.client.HSetNX(ctx, s.jobNamesKey(), j.Name, jID).Result()
	if err != nil {
		return fmt.Errorf("workhorse/redis: create job claim name: %w", err)
	}
	if !claimed {
		return workhorse.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, s.jobIDsKey(), jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("workhorse/redis: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, s.jobKey(jobID.String()))
}

// GetJobByName retrieves a job by its unique name.
func (s *Store) GetJobByName(ctx context.Context, name string) (*job.Job, error) {
	jID, err := s.client.HGet(ctx, s.jobNamesKey(), name).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, workhorse.ErrJobNotFound
		}
		return nil, fmt.Errorf("workhorse/redis: get job by name: %w", err)
	}
	return s.getJobByKey(ctx, s.jobKey(jID))
}

// UpdateJob replaces the stored job, moving the name claim when the name
// changed.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := s.jobKey(jID)

	oldName, err := s.client.HGet(ctx, key, "name").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return workhorse.ErrJobNotFound
		}
		return fmt.Errorf("workhorse/redis: update job: %w", err)
	}

	if oldName != j.Name {
		claimed, claimErr := s.client.HSetNX(ctx, s.jobNamesKey(), j.Name, jID).Result()
		if claimErr != nil {
			return fmt.Errorf("workhorse/redis: update job claim name: %w", claimErr)
		}
		if !claimed {
			return workhorse.ErrJobAlreadyExists
		}
	}

	updated := *j
	updated.UpdatedAt = time.Now().UTC()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(&updated))
	if oldName != j.Name {
		pipe.HDel(ctx, s.jobNamesKey(), oldName)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("workhorse/redis: update job: %w", err)
	}
	return nil
}

// DeleteJob removes a job and releases its name.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := s.jobKey(jID)

	name, err := s.client.HGet(ctx, key, "name").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return workhorse.ErrJobNotFound
		}
		return fmt.Errorf("workhorse/redis: delete job: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, s.jobIDsKey(), jID)
	pipe.HDel(ctx, s.jobNamesKey(), name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("workhorse/redis: delete job: %w", err)
	}
	return nil
}

// ListJobs returns jobs ordered by name.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, s.jobIDsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("workhorse/redis: list jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, s.jobKey(jID))
		if getErr != nil {
			if errors.Is(getErr, workhorse.ErrJobNotFound) {
				continue
			}
			return nil, getErr
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		jobs = append(jobs, j)
	}

	sort.Slice(jobs, func(a, b int) bool { return jobs[a].Name < jobs[b].Name })
	return jobs, nil
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("workhorse/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, workhorse.ErrJobNotFound
	}
	return mapToJob(vals)
}

func jobToMap(j *job.Job) map[string]interface{} {
	return map[string]interface{}{
		"id":                    j.ID.String(),
		"name":                  j.Name,
		"description":           j.Description,
		"worker":                j.Worker,
		"status":                string(j.Status),
		"threads":               strconv.Itoa(j.Threads),
		"max_per_minute":        strconv.Itoa(j.MaxPerMinute),
		"fail_retries":          strconv.Itoa(j.FailRetries),
		"retry_delay":           strconv.FormatInt(int64(j.RetryDelay), 10),
		"schedule":              j.Schedule,
		"unique_queued":         boolToStr(j.UniqueQueued),
		"minutes_until_cleanup": strconv.Itoa(j.MinutesUntilCleanup),
		"created_at":            j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":            j.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("workhorse/redis: parse job id: %w", err)
	}

	threads, _ := strconv.Atoi(m["threads"])                      //nolint:errcheck // best-effort parse from trusted Redis data
	maxPerMinute, _ := strconv.Atoi(m["max_per_minute"])          //nolint:errcheck // best-effort parse from trusted Redis data
	failRetries, _ := strconv.Atoi(m["fail_retries"])             //nolint:errcheck // best-effort parse from trusted Redis data
	retryDelay, _ := strconv.ParseInt(m["retry_delay"], 10, 64)   //nolint:errcheck // best-effort parse from trusted Redis data
	cleanup, _ := strconv.Atoi(m["minutes_until_cleanup"])        //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	return &job.Job{
		Entity: workhorse.Entity{
			CreatedAt: createdAt.UTC(),
			UpdatedAt: updatedAt.UTC(),
		},
		ID:                  jID,
		Name:                m["name"],
		Description:         m["description"],
		Worker:              m["worker"],
		Status:              job.Status(m["status"]),
		Threads:             threads,
		MaxPerMinute:        maxPerMinute,
		FailRetries:         failRetries,
		RetryDelay:          time.Duration(retryDelay),
		Schedule:            m["schedule"],
		UniqueQueued:        m["unique_queued"] == "1",
		MinutesUntilCleanup: cleanup,
	}, nil
}

func boolToStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
