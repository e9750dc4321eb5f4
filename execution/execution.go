// Package execution defines the Execution entity, its state machine, the
// store contract executions are persisted through, and the batch, chain
// and retry operations built on top of that contract.
package execution

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/id"
)

// Status is the lifecycle status of an execution.
type Status string

const (
	StatusQueued   Status = "QUEUED"
	StatusRunning  Status = "RUNNING"
	StatusFinished Status = "FINISHED"
	StatusFailed   Status = "FAILED"
	StatusAborted  Status = "ABORTED"
)

// ParseStatus converts s to a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusQueued, StatusRunning, StatusFinished, StatusFailed, StatusAborted:
		return st, nil
	default:
		return "", fmt.Errorf("execution: unknown status %q", s)
	}
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusAborted
}

// FailStatus records why an execution ended FAILED or ABORTED.
type FailStatus string

const (
	FailNone      FailStatus = "NONE"
	FailTimeout   FailStatus = "TIMEOUT"
	FailException FailStatus = "EXCEPTION"
	FailManual    FailStatus = "MANUAL"
	FailExpired   FailStatus = "EXPIRED"
)

// Execution is one unit of work belonging to a job.
type Execution struct {
	workhorse.Entity

	ID         id.ExecutionID `json:"id"`
	JobID      id.JobID       `json:"job_id"`
	Status     Status         `json:"status"`
	FailStatus FailStatus     `json:"fail_status"`

	StartedAt *time.Time    `json:"started_at,omitempty"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`

	Priority   bool       `json:"priority"`
	PlannedFor *time.Time `json:"planned_for,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`

	Parameters     json.RawMessage `json:"parameters,omitempty"`
	ParametersHash string          `json:"parameters_hash,omitempty"`

	BatchID         id.BatchID     `json:"batch_id,omitempty"`
	ChainID         id.ChainID     `json:"chain_id,omitempty"`
	ChainPreviousID id.ExecutionID `json:"chain_previous_id,omitempty"`

	FailRetry            int            `json:"fail_retry"`
	FailRetryExecutionID id.ExecutionID `json:"fail_retry_execution_id,omitempty"`
	FailMessage          string         `json:"fail_message,omitempty"`
	FailStacktrace       string         `json:"fail_stacktrace,omitempty"`

	Summary string `json:"summary,omitempty"`
}

// Option configures a new execution.
type Option func(*Execution)

// WithPriority puts the execution in the job's priority queue.
func WithPriority() Option {
	return func(e *Execution) { e.Priority = true }
}

// WithPlannedFor keeps the execution from being dispatched before t.
func WithPlannedFor(t time.Time) Option {
	return func(e *Execution) {
		utc := t.UTC()
		e.PlannedFor = &utc
	}
}

// WithExpiresAt fails the execution with EXPIRED if it has not started by t.
func WithExpiresAt(t time.Time) Option {
	return func(e *Execution) {
		utc := t.UTC()
		e.ExpiresAt = &utc
	}
}

// WithBatch makes the execution a member of batch b.
func WithBatch(b id.BatchID) Option {
	return func(e *Execution) { e.BatchID = b }
}

// WithChain makes the execution a member of chain c after previous.
// A Nil previous marks the chain head.
func WithChain(c id.ChainID, previous id.ExecutionID) Option {
	return func(e *Execution) {
		e.ChainID = c
		e.ChainPreviousID = previous
	}
}

// New creates a QUEUED execution for jobID.
func New(jobID id.JobID, params []byte, opts ...Option) *Execution {
	e := &Execution{
		Entity:         workhorse.NewEntity(),
		ID:             id.NewExecutionID(),
		JobID:          jobID,
		Status:         StatusQueued,
		FailStatus:     FailNone,
		Parameters:     params,
		ParametersHash: HashParameters(params),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HashParameters returns the hex SHA-256 of params. Valid JSON is
// compacted first so insignificant whitespace does not change the hash.
func HashParameters(params []byte) string {
	if len(params) == 0 {
		return ""
	}
	data := params
	var buf bytes.Buffer
	if err := json.Compact(&buf, params); err == nil {
		data = buf.Bytes()
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Eligible reports whether the execution may be dispatched at now,
// ignoring chain predecessors.
func (e *Execution) Eligible(now time.Time) bool {
	return e.Status == StatusQueued && (e.PlannedFor == nil || !e.PlannedFor.After(now))
}

// Expired reports whether the execution missed its deadline at now.
func (e *Execution) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}

// InChain reports whether the execution belongs to a chain.
func (e *Execution) InChain() bool { return !e.ChainID.IsNil() }

// Clone returns a copy whose pointer fields do not alias e.
func (e *Execution) Clone() *Execution {
	c := *e
	c.StartedAt = copyTime(e.StartedAt)
	c.EndedAt = copyTime(e.EndedAt)
	c.PlannedFor = copyTime(e.PlannedFor)
	c.ExpiresAt = copyTime(e.ExpiresAt)
	if e.Parameters != nil {
		c.Parameters = append(json.RawMessage(nil), e.Parameters...)
	}
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
