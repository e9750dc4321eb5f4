package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/id"
)

// NewRetry builds the QUEUED clone that replaces e. The clone keeps the
// job, parameters, priority, deadline, batch and chain position of e and
// links back to it through FailRetryExecutionID.
func NewRetry(e *Execution, plannedFor *time.Time) *Execution {
	clone := &Execution{
		Entity:               workhorse.NewEntity(),
		ID:                   id.NewExecutionID(),
		JobID:                e.JobID,
		Status:               StatusQueued,
		FailStatus:           FailNone,
		Priority:             e.Priority,
		PlannedFor:           copyTime(plannedFor),
		ExpiresAt:            copyTime(e.ExpiresAt),
		Parameters:           e.Parameters,
		ParametersHash:       e.ParametersHash,
		BatchID:              e.BatchID,
		ChainID:              e.ChainID,
		ChainPreviousID:      e.ChainPreviousID,
		FailRetry:            e.FailRetry + 1,
		FailRetryExecutionID: e.ID,
	}
	return clone
}

// Retry fails e with the given fail status and queues a clone in its place.
// The original is updated first with a status check, so only one caller
// can retry a given execution. When the clone cannot be stored the error
// wraps workhorse.ErrRetryNotQueued and e stays FAILED. A chain successor
// of e is relinked to the clone so the chain keeps waiting for the retried
// member.
func Retry(ctx context.Context, s Store, e *Execution, fail FailStatus, plannedFor *time.Time, now time.Time) (*Execution, error) {
	from := e.Status
	if err := e.Transition(StatusFailed, fail, now); err != nil {
		return nil, err
	}
	if err := s.UpdateExecutionIf(ctx, e, from); err != nil {
		return nil, err
	}

	clone := NewRetry(e, plannedFor)
	if err := s.CreateExecution(ctx, clone); err != nil {
		return nil, fmt.Errorf("%w: create retry of %s: %w", workhorse.ErrRetryNotQueued, e.ID, err)
	}

	if e.InChain() {
		next, err := NextInChain(ctx, s, e)
		if err != nil {
			return clone, fmt.Errorf("find successor of %s: %w", e.ID, err)
		}
		if next != nil {
			next.ChainPreviousID = clone.ID
			next.Touch()
			if err := s.UpdateExecution(ctx, next); err != nil {
				return clone, fmt.Errorf("relink successor %s: %w", next.ID, err)
			}
		}
	}
	return clone, nil
}

func isConflict(err error) bool {
	return errors.Is(err, workhorse.ErrExecutionConflict)
}
