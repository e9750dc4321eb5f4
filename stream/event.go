// Package stream provides a real-time event broker for engine lifecycle
// events. It bridges the ext hooks to connected clients via topic-based
// pub/sub with credit-based flow control.
package stream

import (
	"encoding/json"
	"strings"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventExecutionCreated  EventType = "execution.created"
	EventExecutionStarted  EventType = "execution.started"
	EventExecutionFinished EventType = "execution.finished"
	EventExecutionFailed   EventType = "execution.failed"
	EventExecutionRetrying EventType = "execution.retrying"
	EventExecutionTimedOut EventType = "execution.timed_out"

	EventScheduleFired    EventType = "schedule.fired"
	EventRestartRequested EventType = "engine.restart_requested"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	Type      EventType       `json:"type" msgpack:"type"`
	Timestamp time.Time       `json:"ts" msgpack:"ts"`
	Topic     string          `json:"topic" msgpack:"topic"`
	Data      json.RawMessage `json:"data" msgpack:"data"`
}

// ExecutionEventData is the payload of execution events.
type ExecutionEventData struct {
	ExecutionID    string `json:"execution_id"`
	JobID          string `json:"job_id"`
	Status         string `json:"status"`
	FailStatus     string `json:"fail_status,omitempty"`
	BatchID        string `json:"batch_id,omitempty"`
	ChainID        string `json:"chain_id,omitempty"`
	FailRetry      int    `json:"fail_retry,omitempty"`
	ElapsedMs      int64  `json:"elapsed_ms,omitempty"`
	Summary        string `json:"summary,omitempty"`
	FailMessage    string `json:"fail_message,omitempty"`
	FailStacktrace string `json:"fail_stacktrace,omitempty"`
	RetryID        string `json:"retry_id,omitempty"`
	PlannedFor     string `json:"planned_for,omitempty"`
}

// ScheduleEventData is the payload of schedule.fired.
type ScheduleEventData struct {
	JobID    string `json:"job_id"`
	JobName  string `json:"job_name"`
	Schedule string `json:"schedule"`
	FiredAt  string `json:"fired_at"`
}

// EngineEventData is the payload of engine events.
type EngineEventData struct {
	Reason string `json:"reason,omitempty"`
}

// Matches reports whether the broker delivers e on topic. Clients that
// multiplex several subscriptions over one connection use it to route
// incoming events.
func (e *Event) Matches(topic string) bool {
	switch topic {
	case TopicFirehose:
		return true
	case TopicExecutions:
		return strings.HasPrefix(string(e.Type), "execution.")
	}

	entityType, entityID := ParseTopicEntity(topic)
	switch entityType {
	case "execution":
		return e.Topic == topic
	case "job":
		var ref struct {
			JobID string `json:"job_id"`
		}
		return json.Unmarshal(e.Data, &ref) == nil && ref.JobID == entityID
	}
	return false
}
