package workhorse

import "errors"

var (
	// Store errors.
	ErrNoStore            = errors.New("workhorse: no store configured")
	ErrStoreClosed        = errors.New("workhorse: store closed")
	ErrMigrationFailed    = errors.New("workhorse: migration failed")
	ErrUnknownPersistence = errors.New("workhorse: unknown persistence type")

	// Not found errors.
	ErrJobNotFound       = errors.New("workhorse: job not found")
	ErrExecutionNotFound = errors.New("workhorse: execution not found")
	ErrWorkerNotFound    = errors.New("workhorse: worker not found")
	ErrChainNotFound     = errors.New("workhorse: chain not found")

	// Conflict errors.
	ErrJobAlreadyExists       = errors.New("workhorse: job already exists")
	ErrExecutionAlreadyExists = errors.New("workhorse: execution already exists")
	ErrExecutionConflict      = errors.New("workhorse: execution modified concurrently")

	// State errors.
	ErrInvalidState = errors.New("workhorse: invalid state transition")
	ErrJobInactive  = errors.New("workhorse: job is not active")

	// ErrRetryNotQueued means the original execution was failed but its
	// retry could not be stored, so the failure is terminal.
	ErrRetryNotQueued = errors.New("workhorse: retry could not be queued")

	// Configuration errors.
	ErrInvalidConfig   = errors.New("workhorse: invalid configuration")
	ErrInvalidSchedule = errors.New("workhorse: invalid schedule")

	// Engine errors.
	ErrEngineNotRunning = errors.New("workhorse: engine not running")
	ErrEmptyGroup       = errors.New("workhorse: batch or chain needs at least one execution")
)
