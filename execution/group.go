package execution

import (
	"context"
	"fmt"
	"time"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/id"
)

// Batch returns the members of batch b in creation order.
func Batch(ctx context.Context, s Store, b id.BatchID) ([]*Execution, error) {
	return s.ListExecutions(ctx, ListOpts{BatchID: b})
}

// IsBatchFinished reports whether no member of batch b is QUEUED or
// RUNNING. Member outcomes do not matter.
func IsBatchFinished(ctx context.Context, s Store, b id.BatchID) (bool, error) {
	members, err := Batch(ctx, s, b)
	if err != nil {
		return false, err
	}
	for _, m := range members {
		if m.Status == StatusQueued || m.Status == StatusRunning {
			return false, nil
		}
	}
	return true, nil
}

// Chain returns the members of chain c in creation order.
func Chain(ctx context.Context, s Store, c id.ChainID) ([]*Execution, error) {
	return s.ListExecutions(ctx, ListOpts{ChainID: c})
}

// NextInChain returns the member linked after e, or nil when e is the
// tail or not chained.
func NextInChain(ctx context.Context, s Store, e *Execution) (*Execution, error) {
	if !e.InChain() {
		return nil, nil //nolint:nilnil // no successor is not an error
	}
	members, err := Chain(ctx, s, e.ChainID)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		if m.ChainPreviousID == e.ID {
			return m, nil
		}
	}
	return nil, nil //nolint:nilnil // tail of the chain
}

// chainTail finds the member nothing links to, skipping members that
// were superseded by a retry clone.
func chainTail(members []*Execution) *Execution {
	linked := make(map[id.ExecutionID]bool, len(members))
	superseded := make(map[id.ExecutionID]bool)
	for _, m := range members {
		if !m.ChainPreviousID.IsNil() {
			linked[m.ChainPreviousID] = true
		}
		if !m.FailRetryExecutionID.IsNil() {
			superseded[m.FailRetryExecutionID] = true
		}
	}

	var tail *Execution
	for _, m := range members {
		if linked[m.ID] || superseded[m.ID] {
			continue
		}
		tail = m
	}
	return tail
}

// AppendToChain links e after the current tail of chain c and persists it.
// Appending behind a tail that ended FAILED or ABORTED is rejected because
// the new member could never become eligible.
func AppendToChain(ctx context.Context, s Store, c id.ChainID, e *Execution) error {
	members, err := Chain(ctx, s, c)
	if err != nil {
		return err
	}
	tail := chainTail(members)
	if tail == nil {
		return fmt.Errorf("%w: %s", workhorse.ErrChainNotFound, c)
	}
	if tail.Status == StatusFailed || tail.Status == StatusAborted {
		return fmt.Errorf("%w: chain %s ended %s", workhorse.ErrInvalidState, c, tail.Status)
	}
	if tail.JobID != e.JobID {
		return fmt.Errorf("%w: chain %s belongs to another job", workhorse.ErrInvalidState, c)
	}

	e.ChainID = c
	e.ChainPreviousID = tail.ID
	return s.CreateExecution(ctx, e)
}

// AbortChain moves every QUEUED member of chain c to FAILED with reason
// as fail message. Members changed concurrently are skipped. It returns
// the number of members failed.
func AbortChain(ctx context.Context, s Store, c id.ChainID, reason string, now time.Time) (int, error) {
	members, err := Chain(ctx, s, c)
	if err != nil {
		return 0, err
	}

	aborted := 0
	for _, m := range members {
		if m.Status != StatusQueued {
			continue
		}
		if err := m.Transition(StatusFailed, FailNone, now); err != nil {
			return aborted, err
		}
		m.FailMessage = reason
		if err := s.UpdateExecutionIf(ctx, m, StatusQueued); err != nil {
			if isConflict(err) {
				continue
			}
			return aborted, err
		}
		aborted++
	}
	return aborted, nil
}
