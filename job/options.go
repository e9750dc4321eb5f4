package job

import "time"

// Options configures per-job dispatch behavior.
type Options struct {
	// Description is a human-readable summary of the job.
	Description string

	// Threads is the number of concurrent workers for the job.
	Threads int

	// MaxPerMinute caps dispatches per minute. Zero means unlimited.
	MaxPerMinute int

	// FailRetries is how many retry clones a failing execution may spawn.
	FailRetries int

	// RetryDelay delays each retry clone.
	RetryDelay time.Duration

	// Schedule is a cron expression with optional seconds field.
	Schedule string

	// UniqueQueued deduplicates queued executions by parameters.
	UniqueQueued bool

	// MinutesUntilCleanup is the execution retention window.
	MinutesUntilCleanup int

	// Inactive registers the job without starting it.
	Inactive bool
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Threads:             1,
		RetryDelay:          4 * time.Second,
		MinutesUntilCleanup: 30 * 24 * 60,
	}
}

func (o Options) apply(j *Job) {
	j.Description = o.Description
	j.Threads = o.Threads
	j.MaxPerMinute = o.MaxPerMinute
	j.FailRetries = o.FailRetries
	j.RetryDelay = o.RetryDelay
	j.Schedule = o.Schedule
	j.UniqueQueued = o.UniqueQueued
	j.MinutesUntilCleanup = o.MinutesUntilCleanup
	j.Status = StatusActive
	if o.Inactive {
		j.Status = StatusInactive
	}
}

// Option is a functional option for configuring a job definition.
type Option func(*Options)

// WithDescription sets the job description.
func WithDescription(d string) Option {
	return func(o *Options) { o.Description = d }
}

// WithThreads sets the number of concurrent workers.
func WithThreads(n int) Option {
	return func(o *Options) { o.Threads = n }
}

// WithMaxPerMinute caps the dispatch rate.
func WithMaxPerMinute(n int) Option {
	return func(o *Options) { o.MaxPerMinute = n }
}

// WithFailRetries sets the number of retry clones.
func WithFailRetries(n int) Option {
	return func(o *Options) { o.FailRetries = n }
}

// WithRetryDelay sets the delay before each retry clone becomes eligible.
func WithRetryDelay(d time.Duration) Option {
	return func(o *Options) { o.RetryDelay = d }
}

// WithSchedule sets the cron schedule.
func WithSchedule(expr string) Option {
	return func(o *Options) { o.Schedule = expr }
}

// WithUniqueQueued enables unique-in-queue deduplication.
func WithUniqueQueued() Option {
	return func(o *Options) { o.UniqueQueued = true }
}

// WithRetention sets how many minutes finished executions are kept.
func WithRetention(minutes int) Option {
	return func(o *Options) { o.MinutesUntilCleanup = minutes }
}

// WithInactive registers the job in INACTIVE status.
func WithInactive() Option {
	return func(o *Options) { o.Inactive = true }
}
