// Package zombie finds executions that stayed RUNNING longer than the
// configured execution timeout and cures them.
//
// The cure is chosen by workhorse.Config.ExecutionTimeoutStatus:
//
//   - QUEUED: the zombie is failed with TIMEOUT and a queued clone takes
//     its place, keeping its batch and chain position.
//   - RUNNING: the zombie is only logged.
//   - FINISHED, FAILED, ABORTED: the zombie is moved to that status.
//     FAILED and ABORTED carry fail status TIMEOUT and abort the rest of
//     the zombie's chain.
//
// The sweeper works on the store alone and never touches the buffer.
package zombie

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/execution"
)

// Emitter emits timeout events.
// ext.Registry satisfies this interface via EmitExecutionTimedOut.
type Emitter interface {
	EmitExecutionTimedOut(ctx context.Context, e *execution.Execution, cure execution.Status)
}

// ParseCure validates an ExecutionTimeoutStatus value.
func ParseCure(s string) (execution.Status, error) {
	st, err := execution.ParseStatus(s)
	if err != nil {
		return "", fmt.Errorf("%w: execution timeout status: %w", workhorse.ErrInvalidConfig, err)
	}
	return st, nil
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithClock overrides the sweeper's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// Sweeper periodically cures zombie executions.
type Sweeper struct {
	store    execution.Store
	emitter  Emitter
	logger   *slog.Logger
	now      func() time.Time
	timeout  time.Duration
	interval time.Duration
	cure     execution.Status

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// New creates a Sweeper from cfg's timeout settings.
func New(s execution.Store, cfg workhorse.Config, emitter Emitter, logger *slog.Logger, opts ...Option) (*Sweeper, error) {
	cure, err := ParseCure(cfg.ExecutionTimeoutStatus)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	sw := &Sweeper{
		store:    s,
		emitter:  emitter,
		logger:   logger,
		now:      time.Now,
		timeout:  cfg.ExecutionTimeout,
		interval: cfg.ZombieCheckInterval,
		cure:     cure,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(sw)
	}
	return sw, nil
}

// Enabled reports whether a timeout is configured.
func (s *Sweeper) Enabled() bool { return s.timeout > 0 }

// Start launches the sweep loop. It does nothing when no timeout is
// configured.
func (s *Sweeper) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || !s.Enabled() {
		return nil
	}
	s.running = true

	s.wg.Add(1)
	go s.loop()

	s.logger.Info("zombie sweeper started",
		slog.Duration("timeout", s.timeout),
		slog.Duration("interval", s.interval),
		slog.String("cure", string(s.cure)),
	)
	return nil
}

// Stop signals the sweep loop to stop and waits for it.
func (s *Sweeper) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	return nil
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.Sweep(context.Background()); err != nil {
				s.logger.Error("zombie sweep error", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep runs one pass and returns how many zombies were found.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if !s.Enabled() {
		return 0, nil
	}

	now := s.now()
	zombies, err := s.store.ListTimedOutExecutions(ctx, now.Add(-s.timeout))
	if err != nil {
		return 0, err
	}

	for _, e := range zombies {
		if err := s.cureOne(ctx, e, now); err != nil {
			if errors.Is(err, workhorse.ErrExecutionConflict) {
				continue
			}
			s.logger.Error("zombie cure failed",
				slog.String("execution_id", e.ID.String()),
				slog.String("job_id", e.JobID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return len(zombies), nil
}

func (s *Sweeper) cureOne(ctx context.Context, e *execution.Execution, now time.Time) error {
	log := s.logger.With(
		slog.String("execution_id", e.ID.String()),
		slog.String("job_id", e.JobID.String()),
		slog.String("cure", string(s.cure)),
	)

	cured := s.cure
	switch s.cure {
	case execution.StatusRunning:
		log.Warn("zombie execution left running")

	case execution.StatusQueued:
		e.FailMessage = s.timeoutMessage()
		clone, err := execution.Retry(ctx, s.store, e, execution.FailTimeout, nil, now)
		switch {
		case errors.Is(err, workhorse.ErrRetryNotQueued):
			log.Error("zombie could not be requeued, execution failed", slog.String("error", err.Error()))
			cured = execution.StatusFailed
			s.abortChain(ctx, e, now, log)
		case err != nil && clone == nil:
			return err
		case err != nil:
			log.Error("zombie requeued with errors", slog.String("error", err.Error()))
			log.Warn("zombie execution requeued", slog.String("retry_execution_id", clone.ID.String()))
		default:
			log.Warn("zombie execution requeued", slog.String("retry_execution_id", clone.ID.String()))
		}

	default:
		fail := execution.FailNone
		if s.cure != execution.StatusFinished {
			fail = execution.FailTimeout
		}
		if err := e.Transition(s.cure, fail, now); err != nil {
			return err
		}
		if fail == execution.FailTimeout {
			e.FailMessage = s.timeoutMessage()
		}
		if err := s.store.UpdateExecutionIf(ctx, e, execution.StatusRunning); err != nil {
			return err
		}
		log.Warn("zombie execution cured")

		if s.cure != execution.StatusFinished {
			s.abortChain(ctx, e, now, log)
		}
	}

	if s.emitter != nil {
		s.emitter.EmitExecutionTimedOut(ctx, e, cured)
	}
	return nil
}

// abortChain fails the queued rest of e's chain.
func (s *Sweeper) abortChain(ctx context.Context, e *execution.Execution, now time.Time, log *slog.Logger) {
	if !e.InChain() {
		return
	}
	reason := fmt.Sprintf("chain aborted: member %s timed out", e.ID)
	if _, err := execution.AbortChain(ctx, s.store, e.ChainID, reason, now); err != nil {
		log.Error("failed to abort chain", slog.String("error", err.Error()))
	}
}

func (s *Sweeper) timeoutMessage() string {
	return fmt.Sprintf("timed out after %s", s.timeout)
}
