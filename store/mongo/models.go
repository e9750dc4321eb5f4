package mongo

import (
	"fmt"
	"time"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/id"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	ID                  string `bson:"_id"`
	Name                string `bson:"name"`
	Description         string `bson:"description"`
	Worker              string `bson:"worker"`
	Status              string `bson:"status"`
	Threads             int    `bson:"threads"`
	MaxPerMinute        int    `bson:"max_per_minute"`
	FailRetries         int    `bson:"fail_retries"`
	RetryDelay          int64  `bson:"retry_delay"`
	Schedule            string `bson:"schedule"`
	UniqueQueued        bool   `bson:"unique_queued"`
	MinutesUntilCleanup int    `bson:"minutes_until_cleanup"`
	CreatedAt           int64  `bson:"created_at"`
	UpdatedAt           int64  `bson:"updated_at"`
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
	jobID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("workhorse/mongo: parse job id %q: %w", m.ID, err)
	}
	return &job.Job{
		Entity: workhorse.Entity{
			CreatedAt: fromNanos(m.CreatedAt),
			UpdatedAt: fromNanos(m.UpdatedAt),
		},
		ID:                  jobID,
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
	ID                   string `bson:"_id"`
	JobID                string `bson:"job_id"`
	Status               string `bson:"status"`
	FailStatus           string `bson:"fail_status"`
	StartedAt            *int64 `bson:"started_at,omitempty"`
	EndedAt              *int64 `bson:"ended_at,omitempty"`
	Duration             int64  `bson:"duration"`
	Priority             bool   `bson:"priority"`
	PlannedFor           *int64 `bson:"planned_for,omitempty"`
	ExpiresAt            *int64 `bson:"expires_at,omitempty"`
	Parameters           []byte `bson:"parameters,omitempty"`
	ParametersHash       string `bson:"parameters_hash"`
	BatchID              string `bson:"batch_id,omitempty"`
	ChainID              string `bson:"chain_id,omitempty"`
	ChainPreviousID      string `bson:"chain_previous_id,omitempty"`
	FailRetry            int    `bson:"fail_retry"`
	FailRetryExecutionID string `bson:"fail_retry_execution_id,omitempty"`
	FailMessage          string `bson:"fail_message"`
	FailStacktrace       string `bson:"fail_stacktrace"`
	Summary              string `bson:"summary"`
	CreatedAt            int64  `bson:"created_at"`
	UpdatedAt            int64  `bson:"updated_at"`
}

func toExecutionModel(e *execution.Execution) *executionModel {
	m := &executionModel{
		ID:             e.ID.String(),
		JobID:          e.JobID.String(),
		Status:         string(e.Status),
		FailStatus:     string(e.FailStatus),
		StartedAt:      toNanosPtr(e.StartedAt),
		EndedAt:        toNanosPtr(e.EndedAt),
		Duration:       e.Duration.Nanoseconds(),
		Priority:       e.Priority,
		PlannedFor:     toNanosPtr(e.PlannedFor),
		ExpiresAt:      toNanosPtr(e.ExpiresAt),
		Parameters:     e.Parameters,
		ParametersHash: e.ParametersHash,
		FailRetry:      e.FailRetry,
		FailMessage:    e.FailMessage,
		FailStacktrace: e.FailStacktrace,
		Summary:        e.Summary,
		CreatedAt:      e.CreatedAt.UnixNano(),
		UpdatedAt:      e.UpdatedAt.UnixNano(),
	}
	if !e.BatchID.IsNil() {
		m.BatchID = e.BatchID.String()
	}
	if !e.ChainID.IsNil() {
		m.ChainID = e.ChainID.String()
	}
	if !e.ChainPreviousID.IsNil() {
		m.ChainPreviousID = e.ChainPreviousID.String()
	}
	if !e.FailRetryExecutionID.IsNil() {
		m.FailRetryExecutionID = e.FailRetryExecutionID.String()
	}
	return m
}

func fromExecutionModel(m *executionModel) (*execution.Execution, error) {
	execID, err := id.ParseExecutionID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("workhorse/mongo: parse execution id %q: %w", m.ID, err)
	}
	jobID, err := id.ParseJobID(m.JobID)
	if err != nil {
		return nil, fmt.Errorf("workhorse/mongo: parse job id %q: %w", m.JobID, err)
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
		return nil, fmt.Errorf("workhorse/mongo: parse batch id: %w", err)
	}
	if e.ChainID, err = id.ParseOptional(m.ChainID, id.PrefixChain); err != nil {
		return nil, fmt.Errorf("workhorse/mongo: parse chain id: %w", err)
	}
	if e.ChainPreviousID, err = id.ParseOptional(m.ChainPreviousID, id.PrefixExecution); err != nil {
		return nil, fmt.Errorf("workhorse/mongo: parse chain previous id: %w", err)
	}
	if e.FailRetryExecutionID, err = id.ParseOptional(m.FailRetryExecutionID, id.PrefixExecution); err != nil {
		return nil, fmt.Errorf("workhorse/mongo: parse retry execution id: %w", err)
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
