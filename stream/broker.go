package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/ext"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension         = (*Broker)(nil)
	_ ext.ExecutionCreated  = (*Broker)(nil)
	_ ext.ExecutionStarted  = (*Broker)(nil)
	_ ext.ExecutionFinished = (*Broker)(nil)
	_ ext.ExecutionFailed   = (*Broker)(nil)
	_ ext.ExecutionRetrying = (*Broker)(nil)
	_ ext.ExecutionTimedOut = (*Broker)(nil)
	_ ext.ScheduleFired     = (*Broker)(nil)
	_ ext.RestartRequested  = (*Broker)(nil)
	_ ext.Shutdown          = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker is the real-time stream broker. It implements the ext hooks to
// receive lifecycle events and fans them out to subscribers by topic.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[string]*Subscriber

	totalPublished atomic.Int64
	totalDropped   atomic.Int64

	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		topics:         NewTopicRegistry(),
		logger:         logger,
		subscribers:    make(map[string]*Subscriber),
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a subscriber on the given topics, replacing any
// subscriber with the same ID.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)

	b.mu.Lock()
	old := b.subscribers[subscriberID]
	b.subscribers[subscriberID] = sub
	b.mu.Unlock()

	if old != nil {
		b.topics.UnsubscribeAll(subscriberID)
		old.Close()
	}
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to additional topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) bool {
	sub, ok := b.GetSubscriber(subscriberID)
	if !ok {
		return false
	}
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return true
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.Unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)

	b.mu.Lock()
	sub := b.subscribers[subscriberID]
	delete(b.subscribers, subscriberID)
	b.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
}

// GetSubscriber returns a subscriber by ID.
func (b *Broker) GetSubscriber(subscriberID string) (*Subscriber, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subscribers[subscriberID]
	return sub, ok
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
	TotalDropped    int64 `json:"total_dropped"`
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	b.mu.Lock()
	count := len(b.subscribers)
	b.mu.Unlock()

	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
		TotalDropped:    b.totalDropped.Load(),
	}
}

// publish broadcasts evt to the firehose, the aggregate topic of its
// type, its job topic and, for execution events, its execution topic.
func (b *Broker) publish(evt *Event, jobID, executionID string) {
	topics := []string{TopicFirehose}
	if strings.HasPrefix(string(evt.Type), "execution.") {
		topics = append(topics, TopicExecutions)
	}
	if jobID != "" {
		topics = append(topics, JobTopic(jobID))
	}
	if executionID != "" {
		topics = append(topics, ExecutionTopic(executionID))
	}

	delivered := b.topics.Broadcast(topics, evt)
	b.totalPublished.Add(int64(delivered))
	if delivered == 0 {
		b.totalDropped.Add(1)
	}
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stream: marshal event data: " + err.Error())
	}
	return data
}

func executionData(e *execution.Execution) ExecutionEventData {
	return ExecutionEventData{
		ExecutionID: e.ID.String(),
		JobID:       e.JobID.String(),
		Status:      string(e.Status),
		FailStatus:  string(e.FailStatus),
		BatchID:     e.BatchID.String(),
		ChainID:     e.ChainID.String(),
		FailRetry:   e.FailRetry,
	}
}

func (b *Broker) publishExecution(t EventType, e *execution.Execution, data ExecutionEventData) {
	b.publish(&Event{
		Type:      t,
		Timestamp: time.Now().UTC(),
		Topic:     ExecutionTopic(e.ID.String()),
		Data:      mustMarshal(data),
	}, e.JobID.String(), e.ID.String())
}

// ── Execution lifecycle hooks ───────────────────────

// OnExecutionCreated implements ext.ExecutionCreated.
func (b *Broker) OnExecutionCreated(_ context.Context, e *execution.Execution) error {
	b.publishExecution(EventExecutionCreated, e, executionData(e))
	return nil
}

// OnExecutionStarted implements ext.ExecutionStarted.
func (b *Broker) OnExecutionStarted(_ context.Context, e *execution.Execution) error {
	b.publishExecution(EventExecutionStarted, e, executionData(e))
	return nil
}

// OnExecutionFinished implements ext.ExecutionFinished.
func (b *Broker) OnExecutionFinished(_ context.Context, e *execution.Execution, elapsed time.Duration) error {
	data := executionData(e)
	data.ElapsedMs = elapsed.Milliseconds()
	data.Summary = e.Summary
	b.publishExecution(EventExecutionFinished, e, data)
	return nil
}

// OnExecutionFailed implements ext.ExecutionFailed.
func (b *Broker) OnExecutionFailed(_ context.Context, e *execution.Execution, _ error) error {
	data := executionData(e)
	data.FailMessage = e.FailMessage
	data.FailStacktrace = e.FailStacktrace
	b.publishExecution(EventExecutionFailed, e, data)
	return nil
}

// OnExecutionRetrying implements ext.ExecutionRetrying.
func (b *Broker) OnExecutionRetrying(_ context.Context, failed, clone *execution.Execution) error {
	data := executionData(failed)
	data.FailMessage = failed.FailMessage
	data.RetryID = clone.ID.String()
	if clone.PlannedFor != nil {
		data.PlannedFor = clone.PlannedFor.Format(time.RFC3339)
	}
	b.publishExecution(EventExecutionRetrying, failed, data)
	return nil
}

// OnExecutionTimedOut implements ext.ExecutionTimedOut.
func (b *Broker) OnExecutionTimedOut(_ context.Context, e *execution.Execution, cure execution.Status) error {
	data := executionData(e)
	data.Status = string(cure)
	b.publishExecution(EventExecutionTimedOut, e, data)
	return nil
}

// ── Engine lifecycle hooks ──────────────────────────

// OnScheduleFired implements ext.ScheduleFired.
func (b *Broker) OnScheduleFired(_ context.Context, j *job.Job, firedAt time.Time) error {
	b.publish(&Event{
		Type:      EventScheduleFired,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(j.ID.String()),
		Data: mustMarshal(ScheduleEventData{
			JobID:    j.ID.String(),
			JobName:  j.Name,
			Schedule: j.Schedule,
			FiredAt:  firedAt.UTC().Format(time.RFC3339),
		}),
	}, j.ID.String(), "")
	return nil
}

// OnRestartRequested implements ext.RestartRequested.
func (b *Broker) OnRestartRequested(_ context.Context, reason string) error {
	b.publish(&Event{
		Type:      EventRestartRequested,
		Timestamp: time.Now().UTC(),
		Topic:     TopicFirehose,
		Data:      mustMarshal(EngineEventData{Reason: reason}),
	}, "", "")
	return nil
}

// OnShutdown implements ext.Shutdown. It closes every subscriber.
func (b *Broker) OnShutdown(_ context.Context) error {
	b.mu.Lock()
	subs := b.subscribers
	b.subscribers = make(map[string]*Subscriber)
	b.mu.Unlock()

	for sid, sub := range subs {
		b.topics.UnsubscribeAll(sid)
		sub.Close()
	}
	b.logger.Info("stream broker shut down")
	return nil
}
