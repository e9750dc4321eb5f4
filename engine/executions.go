package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/id"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

// Create creates an execution of jobID with typed parameters encoded as
// JSON.
func Create[T any](ctx context.Context, eng *Engine, jobID id.JobID, params T, opts ...execution.Option) (*execution.Execution, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters for job %s: %w", jobID, err)
	}
	return eng.CreateExecution(ctx, jobID, data, opts...)
}

// CreateExecution queues a new execution of jobID. When the job is
// unique-in-queue and a QUEUED execution with the same parameters already
// exists, that execution is returned and nothing is created.
func (eng *Engine) CreateExecution(ctx context.Context, jobID id.JobID, params []byte, opts ...execution.Option) (*execution.Execution, error) {
	eng.lifeMu.RLock()
	defer eng.lifeMu.RUnlock()
	rt, err := eng.current()
	if err != nil {
		return nil, err
	}

	j, err := rt.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return eng.createExecution(ctx, rt, j, params, opts...)
}

func (eng *Engine) createExecution(ctx context.Context, rt *runtime, j *job.Job, params []byte, opts ...execution.Option) (*execution.Execution, error) {
	e := execution.New(j.ID, params, opts...)

	if j.UniqueQueued && !e.InChain() && e.BatchID.IsNil() {
		existing, err := rt.store.FindQueuedByParametersHash(ctx, j.ID, e.ParametersHash)
		switch {
		case err == nil:
			eng.logger.Debug("execution already queued",
				slog.String("execution_id", existing.ID.String()),
				slog.String("job_id", j.ID.String()),
			)
			return existing, nil
		case !errors.Is(err, workhorse.ErrExecutionNotFound):
			return nil, err
		}
	}

	if err := rt.store.CreateExecution(ctx, e); err != nil {
		return nil, err
	}
	eng.created(ctx, rt, e)
	return e, nil
}

// created emits the creation hook and offers the execution to the buffer.
func (eng *Engine) created(ctx context.Context, rt *runtime, e *execution.Execution) {
	eng.extensions.EmitExecutionCreated(ctx, e)
	if e.ChainPreviousID.IsNil() {
		rt.buffer.Publish(e)
	}
}

// CreateBatch queues one execution per parameter set, all sharing a new
// batch id.
func (eng *Engine) CreateBatch(ctx context.Context, jobID id.JobID, params [][]byte, opts ...execution.Option) (id.BatchID, []*execution.Execution, error) {
	if len(params) == 0 {
		return id.Nil, nil, workhorse.ErrEmptyGroup
	}

	eng.lifeMu.RLock()
	defer eng.lifeMu.RUnlock()
	rt, err := eng.current()
	if err != nil {
		return id.Nil, nil, err
	}
	if _, err := rt.store.GetJob(ctx, jobID); err != nil {
		return id.Nil, nil, err
	}

	batchID := id.NewBatchID()
	members := make([]*execution.Execution, 0, len(params))
	for _, p := range params {
		e := execution.New(jobID, p, append(opts, execution.WithBatch(batchID))...)
		if err := rt.store.CreateExecution(ctx, e); err != nil {
			return batchID, members, err
		}
		eng.created(ctx, rt, e)
		members = append(members, e)
	}
	return batchID, members, nil
}

// CreateChain queues one execution per parameter set, linked in order.
// Only the head is dispatchable until it finishes.
func (eng *Engine) CreateChain(ctx context.Context, jobID id.JobID, params [][]byte, opts ...execution.Option) (id.ChainID, []*execution.Execution, error) {
	if len(params) == 0 {
		return id.Nil, nil, workhorse.ErrEmptyGroup
	}

	eng.lifeMu.RLock()
	defer eng.lifeMu.RUnlock()
	rt, err := eng.current()
	if err != nil {
		return id.Nil, nil, err
	}
	if _, err := rt.store.GetJob(ctx, jobID); err != nil {
		return id.Nil, nil, err
	}

	chainID := id.NewChainID()
	members := make([]*execution.Execution, 0, len(params))
	previous := id.Nil
	for _, p := range params {
		e := execution.New(jobID, p, append(opts, execution.WithChain(chainID, previous))...)
		if err := rt.store.CreateExecution(ctx, e); err != nil {
			return chainID, members, err
		}
		eng.created(ctx, rt, e)
		members = append(members, e)
		previous = e.ID
	}
	return chainID, members, nil
}

// AppendToChain queues a new execution at the end of an existing chain.
func (eng *Engine) AppendToChain(ctx context.Context, chainID id.ChainID, params []byte, opts ...execution.Option) (*execution.Execution, error) {
	eng.lifeMu.RLock()
	defer eng.lifeMu.RUnlock()
	rt, err := eng.current()
	if err != nil {
		return nil, err
	}

	members, err := execution.Chain(ctx, rt.store, chainID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: %s", workhorse.ErrChainNotFound, chainID)
	}

	e := execution.New(members[0].JobID, params, opts...)
	if err := execution.AppendToChain(ctx, rt.store, chainID, e); err != nil {
		return nil, err
	}
	eng.extensions.EmitExecutionCreated(ctx, e)
	// The old tail may already be finished.
	if prev, err := rt.store.GetExecution(ctx, e.ChainPreviousID); err == nil && prev.Status == execution.StatusFinished {
		rt.buffer.Publish(e)
	}
	return e, nil
}

// GetExecution returns the execution with the given ID.
func (eng *Engine) GetExecution(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	eng.lifeMu.RLock()
	defer eng.lifeMu.RUnlock()
	rt, err := eng.current()
	if err != nil {
		return nil, err
	}
	return rt.store.GetExecution(ctx, execID)
}

// ListExecutions returns the executions matching opts.
func (eng *Engine) ListExecutions(ctx context.Context, opts execution.ListOpts) ([]*execution.Execution, error) {
	eng.lifeMu.RLock()
	defer eng.lifeMu.RUnlock()
	rt, err := eng.current()
	if err != nil {
		return nil, err
	}
	return rt.store.ListExecutions(ctx, opts)
}

// GetBatch returns the members of a batch.
func (eng *Engine) GetBatch(ctx context.Context, batchID id.BatchID) ([]*execution.Execution, error) {
	eng.lifeMu.RLock()
	defer eng.lifeMu.RUnlock()
	rt, err := eng.current()
	if err != nil {
		return nil, err
	}
	return execution.Batch(ctx, rt.store, batchID)
}

// IsBatchFinished reports whether no member of the batch is QUEUED or
// RUNNING.
func (eng *Engine) IsBatchFinished(ctx context.Context, batchID id.BatchID) (bool, error) {
	eng.lifeMu.RLock()
	defer eng.lifeMu.RUnlock()
	rt, err := eng.current()
	if err != nil {
		return false, err
	}
	return execution.IsBatchFinished(ctx, rt.store, batchID)
}

// GetChain returns the members of a chain in creation order.
func (eng *Engine) GetChain(ctx context.Context, chainID id.ChainID) ([]*execution.Execution, error) {
	eng.lifeMu.RLock()
	defer eng.lifeMu.RUnlock()
	rt, err := eng.current()
	if err != nil {
		return nil, err
	}
	return execution.Chain(ctx, rt.store, chainID)
}

// UpdateExecution persists management changes to an execution. Only the
// priority, planned-for, expires-at and parameters of e are taken over;
// identity, group membership and the parameters hash stay as stored. A
// status change goes through the state machine, and the update only
// applies while the stored status is still the one it was read with. A
// manual FAILED or ABORTED fails the rest of the chain. The buffer drops
// its stale copy and picks up the updated execution again.
func (eng *Engine) UpdateExecution(ctx context.Context, e *execution.Execution) (*execution.Execution, error) {
	eng.lifeMu.RLock()
	defer eng.lifeMu.RUnlock()
	rt, err := eng.current()
	if err != nil {
		return nil, err
	}

	stored, err := rt.store.GetExecution(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	from := stored.Status
	now := time.Now()
	if e.Status != from {
		fail := e.FailStatus
		if fail == "" || fail == execution.FailNone {
			fail = execution.FailManual
		}
		if err := stored.Transition(e.Status, fail, now); err != nil {
			return nil, err
		}
		if stored.Status == execution.StatusFailed || stored.Status == execution.StatusAborted {
			stored.FailMessage = "set " + strings.ToLower(string(stored.Status)) + " manually"
		}
	}

	stored.Priority = e.Priority
	stored.PlannedFor = e.PlannedFor
	stored.ExpiresAt = e.ExpiresAt
	stored.Parameters = e.Parameters
	stored.Touch()
	if err := rt.store.UpdateExecutionIf(ctx, stored, from); err != nil {
		return nil, err
	}

	rt.buffer.Remove(stored.JobID, stored.ID)
	switch stored.Status {
	case execution.StatusQueued:
		if stored.ChainPreviousID.IsNil() {
			rt.buffer.Publish(stored)
		}
	case execution.StatusFailed, execution.StatusAborted:
		if stored.InChain() {
			reason := fmt.Sprintf("chain aborted: member %s %s", stored.ID, strings.ToLower(string(stored.Status)))
			if _, err := execution.AbortChain(ctx, rt.store, stored.ChainID, reason, now); err != nil {
				eng.logger.Error("failed to abort chain",
					slog.String("chain_id", stored.ChainID.String()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return stored, nil
}

// DeleteExecution removes an execution from the store and the buffer.
func (eng *Engine) DeleteExecution(ctx context.Context, execID id.ExecutionID) error {
	eng.lifeMu.RLock()
	defer eng.lifeMu.RUnlock()
	rt, err := eng.current()
	if err != nil {
		return err
	}

	e, err := rt.store.GetExecution(ctx, execID)
	if err != nil {
		return err
	}
	if err := rt.store.DeleteExecution(ctx, execID); err != nil {
		return err
	}
	rt.buffer.Remove(e.JobID, execID)
	return nil
}

// AbortExecution moves a QUEUED or RUNNING execution to ABORTED with fail
// status MANUAL. A running work function is not interrupted; its result is
// discarded. The rest of the execution's chain is failed.
func (eng *Engine) AbortExecution(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	eng.lifeMu.RLock()
	defer eng.lifeMu.RUnlock()
	rt, err := eng.current()
	if err != nil {
		return nil, err
	}

	e, err := rt.store.GetExecution(ctx, execID)
	if err != nil {
		return nil, err
	}
	from := e.Status
	now := time.Now()
	if err := e.Transition(execution.StatusAborted, execution.FailManual, now); err != nil {
		return nil, err
	}
	e.FailMessage = "aborted manually"
	if err := rt.store.UpdateExecutionIf(ctx, e, from); err != nil {
		return nil, err
	}
	rt.buffer.Remove(e.JobID, e.ID)

	if e.InChain() {
		reason := fmt.Sprintf("chain aborted: member %s aborted", e.ID)
		if _, err := execution.AbortChain(ctx, rt.store, e.ChainID, reason, now); err != nil {
			eng.logger.Error("failed to abort chain",
				slog.String("chain_id", e.ChainID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	eng.logger.Info("execution aborted",
		slog.String("execution_id", e.ID.String()),
		slog.String("job_id", e.JobID.String()),
	)
	return e, nil
}
