package job

import (
	"fmt"
	"time"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/id"
)

// Status represents the lifecycle status of a job.
type Status string

const (
	// StatusActive means the job's dispatcher and schedule are running.
	StatusActive Status = "ACTIVE"
	// StatusInactive means the job was deactivated; its executions stay queued.
	StatusInactive Status = "INACTIVE"
	// StatusNoWorker means no work function is registered for the job.
	StatusNoWorker Status = "NO_WORKER"
	// StatusError means the job could not be started (for example an
	// invalid schedule).
	StatusError Status = "ERROR"
)

// ParseStatus converts s to a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusActive, StatusInactive, StatusNoWorker, StatusError:
		return st, nil
	default:
		return "", fmt.Errorf("job: unknown status %q", s)
	}
}

// Job is the definition of a unit-of-work type.
type Job struct {
	workhorse.Entity

	ID          id.JobID `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`

	// Worker is the registry key of the work function. Empty means Name.
	Worker string `json:"worker,omitempty"`
	Status Status `json:"status"`

	Threads      int           `json:"threads"`
	MaxPerMinute int           `json:"max_per_minute"`
	FailRetries  int           `json:"fail_retries"`
	RetryDelay   time.Duration `json:"retry_delay"`
	Schedule     string        `json:"schedule,omitempty"`
	UniqueQueued bool          `json:"unique_queued"`

	// MinutesUntilCleanup is the retention window of finished executions.
	// Zero keeps them forever.
	MinutesUntilCleanup int `json:"minutes_until_cleanup"`
}

// New creates a job from a name and options.
func New(name string, opts Options) *Job {
	j := &Job{
		Entity: workhorse.NewEntity(),
		ID:     id.NewJobID(),
		Name:   name,
	}
	opts.apply(j)
	return j
}

// WorkerName returns the registry key used to resolve the work function.
func (j *Job) WorkerName() string {
	if j.Worker != "" {
		return j.Worker
	}
	return j.Name
}

// Retention returns the cleanup window as a duration.
func (j *Job) Retention() time.Duration {
	return time.Duration(j.MinutesUntilCleanup) * time.Minute
}

// IsActive reports whether the job should be dispatched.
func (j *Job) IsActive() bool { return j.Status == StatusActive }

// Validate checks the numeric dispatch settings. Schedules are validated
// by the cron package.
func (j *Job) Validate() error {
	switch {
	case j.Name == "":
		return fmt.Errorf("%w: job name is required", workhorse.ErrInvalidConfig)
	case j.Threads < 1:
		return fmt.Errorf("%w: job %q needs at least one thread", workhorse.ErrInvalidConfig, j.Name)
	case j.MaxPerMinute < 0:
		return fmt.Errorf("%w: job %q max per minute must not be negative", workhorse.ErrInvalidConfig, j.Name)
	case j.FailRetries < 0:
		return fmt.Errorf("%w: job %q fail retries must not be negative", workhorse.ErrInvalidConfig, j.Name)
	case j.RetryDelay < 0:
		return fmt.Errorf("%w: job %q retry delay must not be negative", workhorse.ErrInvalidConfig, j.Name)
	case j.MinutesUntilCleanup < 0:
		return fmt.Errorf("%w: job %q retention must not be negative", workhorse.ErrInvalidConfig, j.Name)
	}
	return nil
}
