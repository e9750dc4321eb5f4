package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coodoo-workhorse/workhorse-sub001/job"
	"github.com/coodoo-workhorse/workhorse-sub001/queue"
)

// Pool manages the worker goroutines of one job. It runs exactly
// Threads workers, each pulling execution ids from the Source and running
// them through the Executor.
type Pool struct {
	job      *job.Job
	source   Source
	executor *Executor
	limiter  *queue.Manager
	logger   *slog.Logger

	errorBackoff time.Duration

	stopCh  chan struct{}
	pullCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	active  atomic.Int64
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithQueueManager enables the job's max-per-minute limit.
func WithQueueManager(m *queue.Manager) PoolOption {
	return func(p *Pool) { p.limiter = m }
}

// WithErrorBackoff sets how long a worker pauses after a failed pull.
func WithErrorBackoff(d time.Duration) PoolOption {
	return func(p *Pool) { p.errorBackoff = d }
}

// NewPool creates a worker pool for j.
func NewPool(j *job.Job, source Source, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		job:          j,
		source:       source,
		executor:     executor,
		logger:       logger,
		errorBackoff: time.Second,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Job returns the job the pool dispatches.
func (p *Pool) Job() *job.Job { return p.job }

// Active returns the number of executions currently being run.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.pullCtx, p.cancel = context.WithCancel(context.Background())
	if p.limiter != nil {
		p.limiter.Configure(p.job.ID, p.job.MaxPerMinute)
	}

	p.logger.Info("worker pool starting",
		slog.String("job_id", p.job.ID.String()),
		slog.String("job_name", p.job.Name),
		slog.Int("threads", p.job.Threads),
	)

	for range p.job.Threads {
		p.wg.Add(1)
		go p.dispatchLoop()
	}
	return nil
}

// Stop signals all workers to stop and waits for in-flight executions to
// finish. Running work functions are never interrupted; if ctx ends first
// Stop returns ctx's error and the remaining workers finish on their own.
// A stopped pool cannot be started again.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("job_id", p.job.ID.String()))

	close(p.stopCh)
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully", slog.String("job_id", p.job.ID.String()))
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool drain timed out",
			slog.String("job_id", p.job.ID.String()),
			slog.Int("active", p.Active()),
		)
		return ctx.Err()
	}
}

// dispatchLoop is run by each worker goroutine. The stop signal is only
// consulted between executions.
func (p *Pool) dispatchLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		if p.limiter != nil {
			if err := p.limiter.Wait(p.pullCtx, p.job.ID); err != nil {
				if p.stopped() {
					return
				}
				p.sleep()
				continue
			}
		}

		execID, err := p.source.Pull(p.pullCtx, p.job.ID)
		if err != nil {
			if p.stopped() || errors.Is(err, context.Canceled) {
				return
			}
			p.logger.Error("pull error",
				slog.String("job_id", p.job.ID.String()),
				slog.String("error", err.Error()),
			)
			p.sleep()
			continue
		}

		if p.limiter != nil {
			p.limiter.MarkDispatched(p.job.ID)
		}

		p.active.Add(1)
		if execErr := p.executor.Execute(context.Background(), p.job, execID); execErr != nil {
			p.logger.Debug("execution failed",
				slog.String("execution_id", execID.String()),
				slog.String("job_name", p.job.Name),
				slog.String("error", execErr.Error()),
			)
		}
		p.active.Add(-1)
	}
}

func (p *Pool) stopped() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.errorBackoff):
	case <-p.stopCh:
	}
}
