package buffer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/id"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

// ErrClosed is returned by Pull when the job's queue was canceled or was
// never initialized.
var ErrClosed = errors.New("workhorse/buffer: job queue closed")

// Snapshot is a point-in-time copy of one job's queues.
type Snapshot struct {
	JobID    id.JobID         `json:"job_id"`
	Threads  int              `json:"threads"`
	Priority []id.ExecutionID `json:"priority"`
	Normal   []id.ExecutionID `json:"normal"`
	Running  []id.ExecutionID `json:"running"`
}

// Size returns the number of ids waiting to be pulled.
func (s Snapshot) Size() int { return len(s.Priority) + len(s.Normal) }

// Option configures a Buffer.
type Option func(*Buffer)

// WithLogger sets the buffer logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Buffer) { b.logger = l }
}

// WithClock overrides the time source used to decide eligibility.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) { b.now = now }
}

// Buffer holds the per-job queues.
type Buffer struct {
	store  execution.Store
	cfg    workhorse.Config
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	queues map[id.JobID]*jobQueue
	push   bool
	stopFn context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Buffer over s. cfg supplies the water marks and poll
// intervals.
func New(s execution.Store, cfg workhorse.Config, opts ...Option) *Buffer {
	b := &Buffer{
		store:  s,
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
		queues: make(map[id.JobID]*jobQueue),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start subscribes to insert notifications when the store supports them.
// Without a subscription the buffer relies on polling alone. The
// subscription outlives ctx and ends with Stop.
func (b *Buffer) Start(ctx context.Context) error {
	n, ok := b.store.(execution.Notifier)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ch, err := n.SubscribeQueued(ctx)
	if err != nil {
		cancel()
		b.logger.Warn("buffer: queued subscription failed, polling only",
			slog.String("error", err.Error()),
		)
		return nil
	}

	b.mu.Lock()
	b.push = true
	b.stopFn = cancel
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for jobID := range ch {
			b.mu.Lock()
			q := b.queues[jobID]
			b.mu.Unlock()
			if q != nil {
				q.trigger()
			}
		}
	}()
	return nil
}

// Stop cancels every job queue and the notification subscription.
func (b *Buffer) Stop() {
	b.mu.Lock()
	ids := make([]id.JobID, 0, len(b.queues))
	for jobID := range b.queues {
		ids = append(ids, jobID)
	}
	stop := b.stopFn
	b.stopFn = nil
	b.push = false
	b.mu.Unlock()

	for _, jobID := range ids {
		b.Cancel(jobID)
	}
	if stop != nil {
		stop()
	}
	b.wg.Wait()
}

// PushCapable reports whether the buffer receives insert notifications.
func (b *Buffer) PushCapable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.push
}

// Initialize creates the queue of j, performs the first fill and starts
// its refill loop. Calling it again for a live queue only updates the
// recorded thread count.
func (b *Buffer) Initialize(ctx context.Context, j *job.Job) {
	b.mu.Lock()
	if q, ok := b.queues[j.ID]; ok {
		b.mu.Unlock()
		q.mu.Lock()
		q.threads = j.Threads
		q.mu.Unlock()
		return
	}
	q := newJobQueue(j.ID, j.Threads)
	b.queues[j.ID] = q
	interval := b.cfg.BufferPollInterval
	if b.push {
		interval = b.cfg.BufferPushPollInterval
	}
	b.mu.Unlock()

	if err := b.refill(ctx, q); err != nil {
		b.logRefillError(j.ID, err)
	}

	go b.refillLoop(q, interval)
}

// Cancel stops the refill loop of jobID and drops its in-memory ids.
// The store is not touched. Pullers blocked on the queue get ErrClosed.
func (b *Buffer) Cancel(jobID id.JobID) {
	b.mu.Lock()
	q, ok := b.queues[jobID]
	delete(b.queues, jobID)
	b.mu.Unlock()
	if !ok {
		return
	}

	q.close()
	<-q.loopDone
}

// Refill polls the store for jobID now if the queue is below the
// low-water mark.
func (b *Buffer) Refill(ctx context.Context, jobID id.JobID) error {
	q := b.queue(jobID)
	if q == nil {
		return ErrClosed
	}
	return b.refill(ctx, q)
}

// Pull blocks until an id of jobID is available, then hands it out.
// Priority ids are handed out first. The id stays tracked as in flight
// until Done is called.
func (b *Buffer) Pull(ctx context.Context, jobID id.JobID) (id.ExecutionID, error) {
	q := b.queue(jobID)
	if q == nil {
		return id.Nil, ErrClosed
	}

	for {
		execID, ok, err := q.pop()
		if err != nil {
			return id.Nil, err
		}
		if ok {
			return execID, nil
		}

		select {
		case <-ctx.Done():
			return id.Nil, ctx.Err()
		case <-q.closed:
			return id.Nil, ErrClosed
		case <-q.ready:
		}
	}
}

// Publish adds e to its job's queue when it is eligible now, not already
// tracked, and the queue has room. It reports whether e was added.
func (b *Buffer) Publish(e *execution.Execution) bool {
	if !e.Eligible(b.now()) {
		return false
	}
	q := b.queue(e.JobID)
	if q == nil {
		return false
	}
	return q.add(e.ID, e.Priority, b.cfg.BufferMax)
}

// Remove drops execID from the queues of jobID, for example after the
// execution was updated or deleted through the management surface.
func (b *Buffer) Remove(jobID id.JobID, execID id.ExecutionID) {
	if q := b.queue(jobID); q != nil {
		q.remove(execID)
	}
}

// MarkRunning records that the worker claimed execID.
func (b *Buffer) MarkRunning(jobID id.JobID, execID id.ExecutionID) {
	if q := b.queue(jobID); q != nil {
		q.markRunning(execID)
	}
}

// Done forgets execID once its worker is finished with it.
func (b *Buffer) Done(jobID id.JobID, execID id.ExecutionID) {
	if q := b.queue(jobID); q != nil {
		q.done(execID)
	}
}

// Snapshot returns a copy of the queue of jobID.
func (b *Buffer) Snapshot(jobID id.JobID) (Snapshot, bool) {
	q := b.queue(jobID)
	if q == nil {
		return Snapshot{}, false
	}
	return q.snapshot(), true
}

// Snapshots returns a copy of every job queue.
func (b *Buffer) Snapshots() []Snapshot {
	b.mu.Lock()
	qs := make([]*jobQueue, 0, len(b.queues))
	for _, q := range b.queues {
		qs = append(qs, q)
	}
	b.mu.Unlock()

	out := make([]Snapshot, 0, len(qs))
	for _, q := range qs {
		out = append(out, q.snapshot())
	}
	return out
}

func (b *Buffer) queue(jobID id.JobID) *jobQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queues[jobID]
}

func (b *Buffer) refillLoop(q *jobQueue, interval time.Duration) {
	defer close(q.loopDone)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-q.closed
		cancel()
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-q.closed:
			return
		case <-ticker.C:
		case <-q.wake:
		}
		if err := b.refill(ctx, q); err != nil && ctx.Err() == nil {
			b.logRefillError(q.jobID, err)
		}
	}
}

// refill tops the queue up to BufferMax when it holds fewer than
// BufferMin ids. One refill runs per queue at a time.
func (b *Buffer) refill(ctx context.Context, q *jobQueue) error {
	q.refillMu.Lock()
	defer q.refillMu.Unlock()

	low := max(b.cfg.BufferMin, 1)
	q.mu.Lock()
	size := q.size()
	tracked := len(q.known)
	q.mu.Unlock()
	if size >= low {
		return nil
	}

	// Tracked ids may still be QUEUED in the store and come back first.
	limit := b.cfg.BufferMax + tracked
	polled, err := b.store.PollExecutions(ctx, q.jobID, b.now(), limit)
	if err != nil {
		return err
	}

	added := 0
	for _, e := range polled {
		if q.add(e.ID, e.Priority, b.cfg.BufferMax) {
			added++
		}
	}
	if added > 0 {
		b.logger.Debug("buffer refilled",
			slog.String("job_id", q.jobID.String()),
			slog.Int("added", added),
		)
	}
	return nil
}

func (b *Buffer) logRefillError(jobID id.JobID, err error) {
	b.logger.Error("buffer refill failed",
		slog.String("job_id", jobID.String()),
		slog.String("error", err.Error()),
	)
}
