package postgres

import (
	"context"
	"log/slog"

	"github.com/coodoo-workhorse/workhorse-sub001/id"
)

// queuedChannel carries the job ID of every new QUEUED execution.
const queuedChannel = "workhorse_queued"

const subscriberBuffer = 64

// notifyQueued announces a new QUEUED execution of jobID.
func (s *Store) notifyQueued(ctx context.Context, jobID id.JobID) {
	if _, err := s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, queuedChannel, jobID.String()); err != nil {
		// The execution is persisted; subscribers fall back to polling.
		s.logger.Warn("failed to notify queued subscribers",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// SubscribeQueued listens on the queued channel with a dedicated
// connection taken out of the pool. The returned channel is closed when
// ctx ends or the connection fails.
func (s *Store) SubscribeQueued(ctx context.Context) (<-chan id.JobID, error) {
	pc, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	conn := pc.Hijack()
	if _, err := conn.Exec(ctx, "LISTEN "+queuedChannel); err != nil {
		_ = conn.Close(context.Background())
		return nil, err
	}

	ch := make(chan id.JobID, subscriberBuffer)
	go func() {
		defer close(ch)
		defer func() { _ = conn.Close(context.Background()) }()

		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("queued subscription ended", slog.String("error", err.Error()))
				}
				return
			}
			jobID, err := id.ParseJobID(n.Payload)
			if err != nil {
				continue
			}
			select {
			case ch <- jobID:
			default:
			}
		}
	}()
	return ch, nil
}
