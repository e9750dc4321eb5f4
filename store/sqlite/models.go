package sqlite

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/id"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	bun.BaseModel `bun:"table:workhorse_jobs,alias:j"`

	ID                  string `bun:"id,pk"`
	Name                string `bun:"name,notnull"`
	Description         string `bun:"description,notnull"`
	Worker              string `bun:"worker,notnull"`
	Status              string `bun:"status,notnull"`
	Threads             int    `bun:"threads,notnull"`
	MaxPerMinute        int    `bun:"max_per_minute,notnull"`
	FailRetries         int    `bun:"fail_retries,notnull"`
	RetryDelay          int64  `bun:"retry_delay,notnull"`
	Schedule            string `bun:"schedule,notnull"`
	UniqueQueued        bool   `bun:"unique_queued,notnull"`
	MinutesUntilCleanup int    `bun:"minutes_until_cleanup,notnull"`
	CreatedAt           int64  `bun:"created_at,notnull"`
	UpdatedAt           int64  `bun:"updated_at,notnull"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:                  j.ID.String(),
		Name:                j.Name,
		Description:         j.Description,
		Worker:              j.Worker,
		Status:              string(j.Status),
		Threads:             j.Threads,
		MaxPerMinute:        j.MaxPerMinute,
		FailRetries:         j.FailRetries,
		RetryDelay:          j.RetryDelay.Nanoseconds(),
		Schedule:            j.Schedule,
		UniqueQueued:        j.UniqueQueued,
		MinutesUntilCleanup: j.MinutesUntilCleanup,
		CreatedAt:           j.CreatedAt.UnixNano(),
		UpdatedAt:           j.UpdatedAt.UnixNano(),
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("workhorse/sqlite: parse job id %q: %w", m.ID, err)
	}

	return &job.Job{
		Entity: workhorse.Entity{
			CreatedAt: fromNanos(m.CreatedAt),
			UpdatedAt: fromNanos(m.UpdatedAt),
		},
		ID:                  parsedID,
		Name:                m.Name,
		Description:         m.Description,
		Worker:              m.Worker,
		Status:              job.Status(m.Status),
		Threads:             m.Threads,
		MaxPerMinute:        m.MaxPerMinute,
		FailRetries:         m.FailRetries,
		RetryDelay:          time.Duration(m.RetryDelay),
		Schedule:            m.Schedule,
		UniqueQueued:        m.UniqueQueued,
		MinutesUntilCleanup: m.MinutesUntilCleanup,
	}, nil
}

// ── Execution model ───────────────────────────────────────────────

type executionModel struct {
	bun.BaseModel `bun:"table:workhorse_executions,alias:e"`

	ID                   string `bun:"id,pk"`
	JobID                string `bun:"job_id,notnull"`
	Status               string `bun:"status,notnull"`
	FailStatus           string `bun:"fail_status,notnull"`
	StartedAt            *int64 `bun:"started_at"`
	EndedAt              *int64 `bun:"ended_at"`
	Duration             int64  `bun:"duration,notnull"`
	Priority             bool   `bun:"priority,notnull"`
	PlannedFor           *int64 `bun:"planned_for"`
	ExpiresAt            *int64 `bun:"expires_at"`
	Parameters           []byte `bun:"parameters,type:blob"`
	ParametersHash       string `bun:"parameters_hash,notnull"`
	BatchID              string `bun:"batch_id,nullzero"`
	ChainID              string `bun:"chain_id,nullzero"`
	ChainPreviousID      string `bun:"chain_previous_id,nullzero"`
	FailRetry            int    `bun:"fail_retry,notnull"`
	FailRetryExecutionID string `bun:"fail_retry_execution_id,nullzero"`
	FailMessage          string `bun:"fail_message,notnull"`
	FailStacktrace       string `bun:"fail_stacktrace,notnull"`
	Summary              string `bun:"summary,notnull"`
	CreatedAt            int64  `bun:"created_at,notnull"`
	UpdatedAt            int64  `bun:"updated_at,notnull"`
}

func toExecutionModel(e *execution.Execution) *executionModel {
	return &executionModel{
		ID:                   e.ID.String(),
		JobID:                e.JobID.String(),
		Status:               string(e.Status),
		FailStatus:           string(e.FailStatus),
		StartedAt:            toNanosPtr(e.StartedAt),
		EndedAt:              toNanosPtr(e.EndedAt),
		Duration:             e.Duration.Nanoseconds(),
		Priority:             e.Priority,
		PlannedFor:           toNanosPtr(e.PlannedFor),
		ExpiresAt:            toNanosPtr(e.ExpiresAt),
		Parameters:           e.Parameters,
		ParametersHash:       e.ParametersHash,
		BatchID:              e.BatchID.String(),
		ChainID:              e.ChainID.String(),
		ChainPreviousID:      e.ChainPreviousID.String(),
		FailRetry:            e.FailRetry,
		FailRetryExecutionID: e.FailRetryExecutionID.String(),
		FailMessage:          e.FailMessage,
		FailStacktrace:       e.FailStacktrace,
		Summary:              e.Summary,
		CreatedAt:            e.CreatedAt.UnixNano(),
		UpdatedAt:            e.UpdatedAt.UnixNano(),
	}
}

func fromExecutionModel(m *executionModel) (*execution.Execution, error) {
	execID, err := id.ParseExecutionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("workhorse/sqlite: parse execution id %q: %w", m.ID, err)
	}
	jobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("workhorse/sqlite: parse job id %q: %w", m.JobID, err)
	}

	e := &execution.Execution{
		Entity: workhorse.Entity{
			CreatedAt: fromNanos(m.CreatedAt),
			UpdatedAt: fromNanos(m.UpdatedAt),
		},
		ID:             execID,
		JobID:          jobID,
		Status:         execution.Status(m.Status),
		FailStatus:     execution.FailStatus(m.FailStatus),
		StartedAt:      fromNanosPtr(m.StartedAt),
		EndedAt:        fromNanosPtr(m.EndedAt),
		Duration:       time.Duration(m.Duration),
		Priority:       m.Priority,
		PlannedFor:     fromNanosPtr(m.PlannedFor),
		ExpiresAt:      fromNanosPtr(m.ExpiresAt),
		ParametersHash: m.ParametersHash,
		FailRetry:      m.FailRetry,
		FailMessage:    m.FailMessage,
		FailStacktrace: m.FailStacktrace,
		Summary:        m.Summary,
	}
	if len(m.Parameters) > 0 {
		e.Parameters = m.Parameters
	}

	if e.BatchID, err = id.ParseOptional(m.BatchID, id.PrefixBatch); err != nil {
		return nil, fmt.Errorf("workhorse/sqlite: parse batch id: %w", err)
	}
	if e.ChainID, err = id.ParseOptional(m.ChainID, id.PrefixChain); err != nil {
		return nil, fmt.Errorf("workhorse/sqlite: parse chain id: %w", err)
	}
	if e.ChainPreviousID, err = id.ParseOptional(m.ChainPreviousID, id.PrefixExecution); err != nil {
		return nil, fmt.Errorf("workhorse/sqlite: parse chain previous id: %w", err)
	}
	if e.FailRetryExecutionID, err = id.ParseOptional(m.FailRetryExecutionID, id.PrefixExecution); err != nil {
		return nil, fmt.Errorf("workhorse/sqlite: parse retry execution id: %w", err)
	}
	return e, nil
}

// ── Time helpers ──────────────────────────────────────────────────

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func toNanosPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	n := t.UnixNano()
	return &n
}

func fromNanosPtr(n *int64) *time.Time {
	if n == nil {
		return nil
	}
	t := fromNanos(*n)
	return &t
}
