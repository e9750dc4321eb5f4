package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coodoo-workhorse/workhorse-sub001/id"
)

const subscriberBuffer = 64

// notifyQueued publishes the job ID of a new QUEUED execution.
func (s *Store) notifyQueued(ctx context.Context, jobID id.JobID) {
	if err := s.client.Publish(ctx, s.queuedChannel(), jobID.String()).Err(); err != nil {
		// The execution is persisted; subscribers fall back to polling.
		s.logger.Warn("failed to publish queued execution",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// SubscribeQueued subscribes to the queued channel. The subscription is
// confirmed before returning, so executions created afterwards are seen.
// The returned channel is closed when ctx ends.
func (s *Store) SubscribeQueued(ctx context.Context) (<-chan id.JobID, error) {
	pubsub := s.client.Subscribe(ctx, s.queuedChannel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("workhorse/redis: subscribe queued: %w", err)
	}

	ch := make(chan id.JobID, subscriberBuffer)
	go func() {
		defer close(ch)
		defer func() { _ = pubsub.Close() }()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				jobID, err := id.ParseJobID(msg.Payload)
				if err != nil {
					continue
				}
				select {
				case ch <- jobID:
				default:
				}
			}
		}
	}()
	return ch, nil
}
