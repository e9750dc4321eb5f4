package workhorse

import (
	"fmt"
	"time"
)

// Config holds the engine-wide settings shared by the buffer, the
// dispatchers and the sweeper. A Config is a value: components receive a
// copy at construction and a restart swaps it as a whole.
type Config struct {
	// BufferMin is the low-water mark. A job's buffer is refilled only
	// when it holds fewer ids than this.
	BufferMin int `yaml:"buffer_min" json:"buffer_min"`

	// BufferMax is the high-water mark a refill fills up to.
	BufferMax int `yaml:"buffer_max" json:"buffer_max"`

	// BufferPollInterval is how often each job's buffer polls the store.
	BufferPollInterval time.Duration `yaml:"buffer_poll_interval" json:"buffer_poll_interval"`

	// BufferPushPollInterval replaces BufferPollInterval when the store
	// notifies on insert.
	BufferPushPollInterval time.Duration `yaml:"buffer_push_poll_interval" json:"buffer_push_poll_interval"`

	// ExecutionTimeout is how long an execution may stay RUNNING before
	// the sweeper treats it as a zombie. Zero disables the sweeper.
	ExecutionTimeout time.Duration `yaml:"execution_timeout" json:"execution_timeout"`

	// ExecutionTimeoutStatus is the cure applied to zombies: QUEUED,
	// RUNNING, FINISHED, FAILED or ABORTED.
	ExecutionTimeoutStatus string `yaml:"execution_timeout_status" json:"execution_timeout_status"`

	// ZombieCheckInterval is how often the sweeper scans the store.
	ZombieCheckInterval time.Duration `yaml:"zombie_check_interval" json:"zombie_check_interval"`

	// CleanupInterval is how often terminal executions past their job's
	// retention window are deleted.
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`

	// ShutdownTimeout bounds how long Stop waits for in-flight work.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferMin:              1,
		BufferMax:              1000,
		BufferPollInterval:     1 * time.Second,
		BufferPushPollInterval: 2 * time.Minute,
		ExecutionTimeout:       0,
		ExecutionTimeoutStatus: "ABORTED",
		ZombieCheckInterval:    30 * time.Second,
		CleanupInterval:        1 * time.Hour,
		ShutdownTimeout:        30 * time.Second,
	}
}

// Validate reports the first inconsistent setting. The returned error
// wraps ErrInvalidConfig.
func (c Config) Validate() error {
	switch {
	case c.BufferMax < 1:
		return fmt.Errorf("%w: buffer max must be at least 1, got %d", ErrInvalidConfig, c.BufferMax)
	case c.BufferMin < 0:
		return fmt.Errorf("%w: buffer min must not be negative, got %d", ErrInvalidConfig, c.BufferMin)
	case c.BufferMin > c.BufferMax:
		return fmt.Errorf("%w: buffer min %d exceeds buffer max %d", ErrInvalidConfig, c.BufferMin, c.BufferMax)
	case c.BufferPollInterval <= 0:
		return fmt.Errorf("%w: buffer poll interval must be positive", ErrInvalidConfig)
	case c.BufferPushPollInterval <= 0:
		return fmt.Errorf("%w: buffer push poll interval must be positive", ErrInvalidConfig)
	case c.ExecutionTimeout < 0:
		return fmt.Errorf("%w: execution timeout must not be negative", ErrInvalidConfig)
	case c.ZombieCheckInterval <= 0:
		return fmt.Errorf("%w: zombie check interval must be positive", ErrInvalidConfig)
	case c.CleanupInterval <= 0:
		return fmt.Errorf("%w: cleanup interval must be positive", ErrInvalidConfig)
	case c.ShutdownTimeout < 0:
		return fmt.Errorf("%w: shutdown timeout must not be negative", ErrInvalidConfig)
	}
	return nil
}
