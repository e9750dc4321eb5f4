// Package worker dispatches buffered executions. A Pool runs a job's
// worker goroutines; each pulls an execution id from the buffer and hands
// it to the Executor, which claims the execution, invokes the registered
// work function through middleware, and records the outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/backoff"
	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/ext"
	"github.com/coodoo-workhorse/workhorse-sub001/id"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
	"github.com/coodoo-workhorse/workhorse-sub001/middleware"
)

// Source is the buffer side a worker talks to.
type Source interface {
	// Pull blocks until an execution id of jobID is available.
	Pull(ctx context.Context, jobID id.JobID) (id.ExecutionID, error)
	// MarkRunning records a claimed execution.
	MarkRunning(jobID id.JobID, execID id.ExecutionID)
	// Done releases an execution id after its worker is finished.
	Done(jobID id.JobID, execID id.ExecutionID)
	// Publish offers an execution that just became eligible.
	Publish(e *execution.Execution) bool
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithBackoff replaces the per-job constant retry delay.
func WithBackoff(s backoff.Strategy) ExecutorOption {
	return func(x *Executor) { x.backoff = s }
}

// WithMiddleware adds middleware around every work function call. The
// first middleware is the outermost.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(x *Executor) { x.mws = append(x.mws, mws...) }
}

// WithClock overrides the executor's time source.
func WithClock(now func() time.Time) ExecutorOption {
	return func(x *Executor) { x.now = now }
}

// Executor runs a single execution and handles retry, chain progression
// and lifecycle events.
type Executor struct {
	store      execution.Store
	source     Source
	registry   *job.Registry
	extensions *ext.Registry
	backoff    backoff.Strategy
	mws        []middleware.Middleware
	mw         middleware.Middleware
	logger     *slog.Logger
	now        func() time.Time
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	s execution.Store,
	source Source,
	registry *job.Registry,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...ExecutorOption,
) *Executor {
	x := &Executor{
		store:      s,
		source:     source,
		registry:   registry,
		extensions: extensions,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(x)
	}
	// Recover sits innermost so panics become failures before any other
	// middleware sees the result.
	x.mw = middleware.Chain(append(x.mws, middleware.Recover(logger))...)
	return x
}

// Execute runs execID for j. Executions that are no longer QUEUED are
// skipped. The returned error is the work function's error, if any; the
// outcome is already persisted when Execute returns.
func (x *Executor) Execute(ctx context.Context, j *job.Job, execID id.ExecutionID) error {
	defer x.source.Done(j.ID, execID)

	e, err := x.store.GetExecution(ctx, execID)
	if err != nil {
		if errors.Is(err, workhorse.ErrExecutionNotFound) {
			return nil
		}
		return fmt.Errorf("load execution %s: %w", execID, err)
	}
	if e.Status != execution.StatusQueued {
		return nil
	}

	if e.Expired(x.now()) {
		return x.expire(ctx, j, e)
	}

	if err := e.Transition(execution.StatusRunning, execution.FailNone, x.now()); err != nil {
		return err
	}
	if err := x.store.UpdateExecutionIf(ctx, e, execution.StatusQueued); err != nil {
		if errors.Is(err, workhorse.ErrExecutionConflict) {
			// Claimed elsewhere or changed through management.
			return nil
		}
		return fmt.Errorf("claim execution %s: %w", e.ID, err)
	}
	x.source.MarkRunning(j.ID, e.ID)
	x.extensions.EmitExecutionStarted(ctx, e)

	work, ok := x.registry.Get(j.WorkerName())
	if !ok {
		return x.handleFailure(ctx, j, e, fmt.Errorf("no worker registered for job %q", j.Name))
	}

	var summary string
	terminal := func(ctx context.Context) error {
		s, err := work(ctx, e.Parameters)
		summary = s
		return err
	}

	start := time.Now()
	runErr := x.mw(ctx, j, e, terminal)
	elapsed := time.Since(start)

	if runErr != nil {
		return x.handleFailure(ctx, j, e, runErr)
	}
	return x.handleSuccess(ctx, j, e, summary, elapsed)
}

// expire fails an execution that missed its deadline without running it.
func (x *Executor) expire(ctx context.Context, j *job.Job, e *execution.Execution) error {
	if err := e.Transition(execution.StatusFailed, execution.FailExpired, x.now()); err != nil {
		return err
	}
	e.FailMessage = "expired before it could start"
	if err := x.store.UpdateExecutionIf(ctx, e, execution.StatusQueued); err != nil {
		if errors.Is(err, workhorse.ErrExecutionConflict) {
			return nil
		}
		return fmt.Errorf("expire execution %s: %w", e.ID, err)
	}

	x.logger.Info("execution expired",
		slog.String("execution_id", e.ID.String()),
		slog.String("job_id", j.ID.String()),
	)
	x.extensions.EmitExecutionFailed(ctx, e, errors.New(e.FailMessage))
	x.abortChain(ctx, e)
	return nil
}

// handleSuccess marks the execution FINISHED and publishes its chain
// successor.
func (x *Executor) handleSuccess(ctx context.Context, j *job.Job, e *execution.Execution, summary string, elapsed time.Duration) error {
	if err := e.Transition(execution.StatusFinished, execution.FailNone, x.now()); err != nil {
		return err
	}
	e.Summary = summary
	if err := x.store.UpdateExecutionIf(ctx, e, execution.StatusRunning); err != nil {
		if errors.Is(err, workhorse.ErrExecutionConflict) {
			x.discarded(j, e)
			return nil
		}
		x.logger.Error("failed to update execution after success",
			slog.String("execution_id", e.ID.String()),
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	x.extensions.EmitExecutionFinished(ctx, e, elapsed)

	if e.InChain() {
		next, err := execution.NextInChain(ctx, x.store, e)
		if err != nil {
			x.logger.Error("failed to load chain successor",
				slog.String("execution_id", e.ID.String()),
				slog.String("chain_id", e.ChainID.String()),
				slog.String("error", err.Error()),
			)
			return nil
		}
		if next != nil {
			x.source.Publish(next)
		}
	}
	return nil
}

// handleFailure retries the execution while retries remain, otherwise it
// fails terminally and aborts the rest of its chain.
func (x *Executor) handleFailure(ctx context.Context, j *job.Job, e *execution.Execution, runErr error) error {
	e.FailMessage = runErr.Error()
	var pe *middleware.PanicError
	if errors.As(runErr, &pe) {
		e.FailStacktrace = pe.Stack
	}

	if e.FailRetry < j.FailRetries {
		return x.scheduleRetry(ctx, j, e, runErr)
	}

	if err := e.Transition(execution.StatusFailed, execution.FailException, x.now()); err != nil {
		return err
	}
	if err := x.store.UpdateExecutionIf(ctx, e, execution.StatusRunning); err != nil {
		if errors.Is(err, workhorse.ErrExecutionConflict) {
			x.discarded(j, e)
			return runErr
		}
		x.logger.Error("failed to update execution as failed",
			slog.String("execution_id", e.ID.String()),
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	x.extensions.EmitExecutionFailed(ctx, e, runErr)
	x.logger.Warn("execution failed after exhausting retries",
		slog.String("execution_id", e.ID.String()),
		slog.String("job_id", j.ID.String()),
		slog.Int("fail_retry", e.FailRetry),
		slog.String("error", runErr.Error()),
	)
	x.abortChain(ctx, e)
	return runErr
}

// scheduleRetry replaces e with a queued clone planned after the backoff
// delay.
func (x *Executor) scheduleRetry(ctx context.Context, j *job.Job, e *execution.Execution, runErr error) error {
	strategy := x.backoff
	if strategy == nil {
		strategy = backoff.Constant(j.RetryDelay)
	}
	now := x.now()
	attempt := e.FailRetry + 1
	plannedFor := backoff.PlannedFor(strategy, attempt, now)

	clone, err := execution.Retry(ctx, x.store, e, execution.FailException, plannedFor, now)
	if errors.Is(err, workhorse.ErrExecutionConflict) {
		x.discarded(j, e)
		return runErr
	}
	if errors.Is(err, workhorse.ErrRetryNotQueued) {
		x.logger.Error("failed to queue retry, execution failed",
			slog.String("execution_id", e.ID.String()),
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		x.extensions.EmitExecutionFailed(ctx, e, runErr)
		x.abortChain(ctx, e)
		return runErr
	}
	if err != nil {
		x.logger.Error("failed to retry execution",
			slog.String("execution_id", e.ID.String()),
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		if clone == nil {
			return err
		}
	}

	x.extensions.EmitExecutionRetrying(ctx, e, clone)
	x.source.Publish(clone)

	x.logger.Info("execution scheduled for retry",
		slog.String("execution_id", e.ID.String()),
		slog.String("retry_execution_id", clone.ID.String()),
		slog.String("job_id", j.ID.String()),
		slog.Int("attempt", attempt),
		slog.Int("fail_retries", j.FailRetries),
	)
	return fmt.Errorf("execution %s retry %d/%d: %w", e.ID, attempt, j.FailRetries, runErr)
}

func (x *Executor) abortChain(ctx context.Context, e *execution.Execution) {
	if !e.InChain() {
		return
	}
	reason := fmt.Sprintf("chain aborted: member %s ended %s", e.ID, e.Status)
	n, err := execution.AbortChain(ctx, x.store, e.ChainID, reason, x.now())
	if err != nil {
		x.logger.Error("failed to abort chain",
			slog.String("chain_id", e.ChainID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if n > 0 {
		x.logger.Info("chain aborted",
			slog.String("chain_id", e.ChainID.String()),
			slog.String("execution_id", e.ID.String()),
			slog.Int("aborted", n),
		)
	}
}

// discarded logs an outcome dropped because the execution was changed
// while it ran, for example by a manual abort or the zombie sweeper.
func (x *Executor) discarded(j *job.Job, e *execution.Execution) {
	x.logger.Info("execution changed while running, outcome discarded",
		slog.String("execution_id", e.ID.String()),
		slog.String("job_id", j.ID.String()),
	)
}
