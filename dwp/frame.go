// Package dwp implements the workhorse wire protocol, a frame-based
// management protocol served over WebSocket (GET {base}) and one-shot
// HTTP RPC (POST {base}/rpc).
package dwp

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/coodoo-workhorse/workhorse-sub001/engine"
	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/stream"
)

// FrameType identifies the frame category.
type FrameType string

const (
	FrameRequest  FrameType = "request"
	FrameResponse FrameType = "response"
	FrameEvent    FrameType = "event"
	FrameErr      FrameType = "error"
	FramePing     FrameType = "ping"
	FramePong     FrameType = "pong"
)

// Frame is the message envelope. Every message exchanged over the
// protocol is a Frame.
type Frame struct {
	// ID uniquely identifies this frame.
	ID string `json:"id" msgpack:"id"`

	// Type categorizes the frame.
	Type FrameType `json:"type" msgpack:"type"`

	// Method names the operation for request frames (e.g., "execution.create").
	Method string `json:"method,omitempty" msgpack:"method,omitempty"`

	// CorrelID links a response to its originating request.
	CorrelID string `json:"correl_id,omitempty" msgpack:"correl_id,omitempty"`

	// Token carries auth credentials (typically only on the auth frame).
	Token string `json:"token,omitempty" msgpack:"token,omitempty"`

	// Data carries the method-specific payload.
	Data json.RawMessage `json:"data,omitempty" msgpack:"data,omitempty"`

	// Error carries error details for error frames.
	Error *ErrorDetail `json:"error,omitempty" msgpack:"error,omitempty"`

	// Channel identifies the subscription channel for event/subscribe frames.
	Channel string `json:"channel,omitempty" msgpack:"channel,omitempty"`

	// Credits replenishes flow-control credits (backpressure).
	Credits int `json:"credits,omitempty" msgpack:"credits,omitempty"`

	// Timestamp records when this frame was created.
	Timestamp time.Time `json:"ts" msgpack:"ts"`
}

// ErrorDetail describes an error in an error frame.
type ErrorDetail struct {
	Code    int    `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
}

// ── Well-known methods ──────────────────────────────

const (
	MethodAuth = "auth"

	MethodJobList       = "job.list"
	MethodJobGet        = "job.get"
	MethodJobActivate   = "job.activate"
	MethodJobDeactivate = "job.deactivate"
	MethodJobUpdate     = "job.update"

	MethodExecutionCreate = "execution.create"
	MethodExecutionGet    = "execution.get"
	MethodExecutionList   = "execution.list"
	MethodExecutionUpdate = "execution.update"
	MethodExecutionDelete = "execution.delete"
	MethodExecutionAbort  = "execution.abort"

	MethodBatchCreate = "batch.create"
	MethodBatchGet    = "batch.get"
	MethodChainCreate = "chain.create"
	MethodChainGet    = "chain.get"
	MethodChainAppend = "chain.append"

	MethodScheduleNext    = "schedule.next"
	MethodScheduleBetween = "schedule.between"

	MethodStats       = "stats"
	MethodSubscribe   = "subscribe"
	MethodUnsubscribe = "unsubscribe"
)

// ── Well-known error codes ──────────────────────────

const (
	ErrCodeBadRequest     = 400
	ErrCodeUnauthorized   = 401
	ErrCodeForbidden      = 403
	ErrCodeNotFound       = 404
	ErrCodeMethodNotFound = 405
	ErrCodeConflict       = 409
	ErrCodeInternal       = 500
	ErrCodeUnavailable    = 503
)

// ── Request/Response payloads ───────────────────────

// AuthRequest is sent by clients to authenticate.
type AuthRequest struct {
	Token  string `json:"token"`
	Format string `json:"format,omitempty"` // "json" (default) or "msgpack"
}

// AuthResponse is returned after successful authentication.
type AuthResponse struct {
	Format    string `json:"format"`
	SessionID string `json:"session_id"`
}

// JobRef names a job by ID or, when the ID is empty, by name.
type JobRef struct {
	JobID string `json:"job_id,omitempty"`
	Name  string `json:"name,omitempty"`
}

// JobListRequest filters job.list.
type JobListRequest struct {
	Status string `json:"status,omitempty"`
}

// JobUpdateRequest changes job settings. Nil fields are left unchanged.
type JobUpdateRequest struct {
	JobRef
	Description         *string `json:"description,omitempty"`
	Threads             *int    `json:"threads,omitempty"`
	MaxPerMinute        *int    `json:"max_per_minute,omitempty"`
	FailRetries         *int    `json:"fail_retries,omitempty"`
	RetryDelayMs        *int64  `json:"retry_delay_ms,omitempty"`
	Schedule            *string `json:"schedule,omitempty"`
	UniqueQueued        *bool   `json:"unique_queued,omitempty"`
	MinutesUntilCleanup *int    `json:"minutes_until_cleanup,omitempty"`
}

// ExecutionOptions are the optional settings of a new execution.
type ExecutionOptions struct {
	Priority   bool       `json:"priority,omitempty"`
	PlannedFor *time.Time `json:"planned_for,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// ExecutionCreateRequest queues one execution.
type ExecutionCreateRequest struct {
	JobRef
	ExecutionOptions
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// ExecutionRef names an execution.
type ExecutionRef struct {
	ExecutionID string `json:"execution_id"`
}

// ExecutionListRequest filters execution.list.
type ExecutionListRequest struct {
	JobID   string `json:"job_id,omitempty"`
	Status  string `json:"status,omitempty"`
	BatchID string `json:"batch_id,omitempty"`
	ChainID string `json:"chain_id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

// ExecutionUpdateRequest changes an execution. Nil fields are left
// unchanged.
type ExecutionUpdateRequest struct {
	ExecutionRef
	Status     *string         `json:"status,omitempty"`
	Priority   *bool           `json:"priority,omitempty"`
	PlannedFor *time.Time      `json:"planned_for,omitempty"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// GroupCreateRequest creates a batch or a chain with one execution per
// parameters entry.
type GroupCreateRequest struct {
	JobRef
	ExecutionOptions
	Parameters []json.RawMessage `json:"parameters"`
}

// GroupCreateResponse lists the members of a new batch or chain.
type GroupCreateResponse struct {
	GroupID      string   `json:"group_id"`
	ExecutionIDs []string `json:"execution_ids"`
}

// BatchRef names a batch.
type BatchRef struct {
	BatchID string `json:"batch_id"`
}

// ChainRef names a chain.
type ChainRef struct {
	ChainID string `json:"chain_id"`
}

// ChainAppendRequest appends one execution to a chain.
type ChainAppendRequest struct {
	ChainRef
	ExecutionOptions
	Parameters json.RawMessage `json:"parameters,omitempty"`
}

// GroupResponse returns the members of a batch or chain.
type GroupResponse struct {
	GroupID    string                 `json:"group_id"`
	Finished   bool                   `json:"finished"`
	Executions []*execution.Execution `json:"executions"`
}

// ScheduleNextRequest asks for the next Count fire times after From.
type ScheduleNextRequest struct {
	Expr  string     `json:"expr"`
	Count int        `json:"count"`
	From  *time.Time `json:"from,omitempty"`
}

// ScheduleBetweenRequest asks for the fire times in (Start, End].
type ScheduleBetweenRequest struct {
	Expr  string    `json:"expr"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ScheduleResponse carries fire times.
type ScheduleResponse struct {
	Times []time.Time `json:"times"`
}

// StatsResponse summarizes the engine, the broker and the server.
type StatsResponse struct {
	Engine      *engine.Stats      `json:"engine"`
	Broker      stream.BrokerStats `json:"broker"`
	Connections int                `json:"connections"`
}

// SubscribeRequest subscribes to a topic channel.
type SubscribeRequest struct {
	Channel string `json:"channel"`
	Credits int    `json:"credits,omitempty"` // Initial credits (0 = use default)
}

// UnsubscribeRequest removes a subscription.
type UnsubscribeRequest struct {
	Channel string `json:"channel"`
}

// NewRequestFrame creates a new request frame.
func NewRequestFrame(method string, data any) (*Frame, error) {
	f := &Frame{
		ID:        GenerateFrameID(),
		Type:      FrameRequest,
		Method:    method,
		Timestamp: time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		f.Data = raw
	}
	return f, nil
}

// NewResponseFrame creates a response to a request.
func NewResponseFrame(correlID string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        GenerateFrameID(),
		Type:      FrameResponse,
		CorrelID:  correlID,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewErrorFrame creates an error response to a request.
func NewErrorFrame(correlID string, code int, message string) *Frame {
	return &Frame{
		ID:       GenerateFrameID(),
		Type:     FrameErr,
		CorrelID: correlID,
		Error: &ErrorDetail{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now().UTC(),
	}
}

// NewEventFrame creates an event frame for a subscription channel.
func NewEventFrame(channel string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        GenerateFrameID(),
		Type:      FrameEvent,
		Channel:   channel,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

var frameSeq atomic.Uint64

// GenerateFrameID returns a new frame ID, unique within the process.
func GenerateFrameID() string {
	return fmt.Sprintf("%s-%d", time.Now().UTC().Format("20060102150405.000000"), frameSeq.Add(1))
}
