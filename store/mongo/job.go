package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/id"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

// CreateJob persists a new job. Name uniqueness relies on the index
// created by Migrate.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	if _, err := s.jobs().InsertOne(ctx, toJobModel(j)); err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return workhorse.ErrJobAlreadyExists
		}
		return fmt.Errorf("workhorse/mongo: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.findJob(ctx, "get job", bson.M{"_id": jobID.String()})
}

// GetJobByName retrieves a job by its unique name.
func (s *Store) GetJobByName(ctx context.Context, name string) (*job.Job, error) {
	return s.findJob(ctx, "get job by name", bson.M{"name": name})
}

func (s *Store) findJob(ctx context.Context, op string, filter bson.M) (*job.Job, error) {
	var m jobModel
	if err := s.jobs().FindOne(ctx, filter).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, workhorse.ErrJobNotFound
		}
		return nil, fmt.Errorf("workhorse/mongo: %s: %w", op, err)
	}
	return fromJobModel(&m)
}

// UpdateJob replaces an existing job. The stored creation time is kept.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	m.UpdatedAt = time.Now().UTC().UnixNano()

	update := bson.M{"$set": bson.M{
		"name":                  m.Name,
		"description":           m.Description,
		"worker":                m.Worker,
		"status":                m.Status,
		"threads":               m.Threads,
		"max_per_minute":        m.MaxPerMinute,
		"fail_retries":          m.FailRetries,
		"retry_delay":           m.RetryDelay,
		"schedule":              m.Schedule,
		"unique_queued":         m.UniqueQueued,
		"minutes_until_cleanup": m.MinutesUntilCleanup,
		"updated_at":            m.UpdatedAt,
	}}

	res, err := s.jobs().UpdateOne(ctx, bson.M{"_id": m.ID}, update)
	if err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return workhorse.ErrJobAlreadyExists
		}
		return fmt.Errorf("workhorse/mongo: update job: %w", err)
	}
	if res.MatchedCount == 0 {
		return workhorse.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.jobs().DeleteOne(ctx, bson.M{"_id": jobID.String()})
	if err != nil {
		return fmt.Errorf("workhorse/mongo: delete job: %w", err)
	}
	if res.DeletedCount == 0 {
		return workhorse.ErrJobNotFound
	}
	return nil
}

// ListJobs returns jobs ordered by name.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	cursor, err := s.jobs().Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("workhorse/mongo: list jobs: %w", err)
	}
	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("workhorse/mongo: list jobs decode: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
