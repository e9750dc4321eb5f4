package execution_test

import (
	"context"
	"errors"
	"testing"
	"time"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/id"
	"github.com/coodoo-workhorse/workhorse-sub001/store/memory"
)

func mustCreate(t *testing.T, s *memory.Store, e *execution.Execution) {
	t.Helper()
	if err := s.CreateExecution(context.Background(), e); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
}

func finish(t *testing.T, s *memory.Store, e *execution.Execution, to execution.Status) {
	t.Helper()
	now := time.Now()
	if err := e.Transition(execution.StatusRunning, "", now); err != nil {
		t.Fatal(err)
	}
	if err := e.Transition(to, execution.FailException, now); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateExecution(context.Background(), e); err != nil {
		t.Fatal(err)
	}
}

func TestIsBatchFinished(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	jobID := id.NewJobID()
	batch := id.NewBatchID()

	a := execution.New(jobID, nil, execution.WithBatch(batch))
	b := execution.New(jobID, nil, execution.WithBatch(batch))
	mustCreate(t, s, a)
	mustCreate(t, s, b)

	done, err := execution.IsBatchFinished(ctx, s, batch)
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Fatal("batch with queued members reported finished")
	}

	finish(t, s, a, execution.StatusFinished)
	finish(t, s, b, execution.StatusFailed)

	done, err = execution.IsBatchFinished(ctx, s, batch)
	if err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Fatal("batch with only terminal members must be finished regardless of outcome")
	}

	members, err := execution.Batch(ctx, s, batch)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 batch members, got %d", len(members))
	}
}

func TestAppendToChainAndNext(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	jobID := id.NewJobID()
	chain := id.NewChainID()

	head := execution.New(jobID, nil, execution.WithChain(chain, id.Nil))
	mustCreate(t, s, head)

	second := execution.New(jobID, nil)
	if err := execution.AppendToChain(ctx, s, chain, second); err != nil {
		t.Fatalf("AppendToChain: %v", err)
	}
	if second.ChainPreviousID != head.ID {
		t.Fatalf("second not linked to head")
	}

	third := execution.New(jobID, nil)
	if err := execution.AppendToChain(ctx, s, chain, third); err != nil {
		t.Fatalf("AppendToChain: %v", err)
	}
	if third.ChainPreviousID != second.ID {
		t.Fatalf("third not linked to second")
	}

	next, err := execution.NextInChain(ctx, s, head)
	if err != nil {
		t.Fatal(err)
	}
	if next == nil || next.ID != second.ID {
		t.Fatal("NextInChain(head) must return second")
	}
	last, err := execution.NextInChain(ctx, s, third)
	if err != nil {
		t.Fatal(err)
	}
	if last != nil {
		t.Fatal("tail must have no successor")
	}

	if err := execution.AppendToChain(ctx, s, id.NewChainID(), execution.New(jobID, nil)); !errors.Is(err, workhorse.ErrChainNotFound) {
		t.Fatalf("expected ErrChainNotFound, got %v", err)
	}
	if err := execution.AppendToChain(ctx, s, chain, execution.New(id.NewJobID(), nil)); !errors.Is(err, workhorse.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for foreign job, got %v", err)
	}
}

func TestAppendToFailedChainRejected(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	jobID := id.NewJobID()
	chain := id.NewChainID()

	head := execution.New(jobID, nil, execution.WithChain(chain, id.Nil))
	mustCreate(t, s, head)
	finish(t, s, head, execution.StatusFailed)

	err := execution.AppendToChain(ctx, s, chain, execution.New(jobID, nil))
	if !errors.Is(err, workhorse.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestAbortChain(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	jobID := id.NewJobID()
	chain := id.NewChainID()

	head := execution.New(jobID, nil, execution.WithChain(chain, id.Nil))
	mid := execution.New(jobID, nil, execution.WithChain(chain, head.ID))
	tail := execution.New(jobID, nil, execution.WithChain(chain, mid.ID))
	for _, e := range []*execution.Execution{head, mid, tail} {
		mustCreate(t, s, e)
	}
	finish(t, s, head, execution.StatusFailed)

	n, err := execution.AbortChain(ctx, s, chain, "predecessor failed", time.Now())
	if err != nil {
		t.Fatalf("AbortChain: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 members failed, got %d", n)
	}

	for _, e := range []*execution.Execution{mid, tail} {
		got, err := s.GetExecution(ctx, e.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != execution.StatusFailed || got.FailMessage != "predecessor failed" {
			t.Fatalf("member %s: status=%s message=%q", e.ID, got.Status, got.FailMessage)
		}
	}
}

func TestRetryLinksCloneAndChain(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	jobID := id.NewJobID()
	chain := id.NewChainID()
	batch := id.NewBatchID()

	head := execution.New(jobID, []byte(`{"n":1}`), execution.WithChain(chain, id.Nil), execution.WithBatch(batch))
	next := execution.New(jobID, nil, execution.WithChain(chain, head.ID))
	mustCreate(t, s, head)
	mustCreate(t, s, next)

	now := time.Now()
	if err := head.Transition(execution.StatusRunning, "", now); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateExecution(ctx, head); err != nil {
		t.Fatal(err)
	}

	planned := now.Add(time.Second)
	clone, err := execution.Retry(ctx, s, head, execution.FailException, &planned, now)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}

	if clone.ID == head.ID {
		t.Fatal("clone must have a new id")
	}
	if clone.FailRetry != 1 || clone.FailRetryExecutionID != head.ID {
		t.Fatalf("clone linkage wrong: retry=%d from=%s", clone.FailRetry, clone.FailRetryExecutionID)
	}
	if clone.Status != execution.StatusQueued || clone.BatchID != batch || clone.ChainID != chain {
		t.Fatal("clone must be QUEUED in the same batch and chain")
	}
	if clone.ParametersHash != head.ParametersHash {
		t.Fatal("clone must keep the parameters hash")
	}

	orig, err := s.GetExecution(ctx, head.ID)
	if err != nil {
		t.Fatal(err)
	}
	if orig.Status != execution.StatusFailed || orig.FailStatus != execution.FailException {
		t.Fatalf("original: status=%s fail=%s", orig.Status, orig.FailStatus)
	}

	relinked, err := s.GetExecution(ctx, next.ID)
	if err != nil {
		t.Fatal(err)
	}
	if relinked.ChainPreviousID != clone.ID {
		t.Fatal("chain successor must wait for the clone")
	}

	if _, err := execution.Retry(ctx, s, orig, execution.FailException, nil, now); !errors.Is(err, workhorse.ErrInvalidState) {
		t.Fatalf("retrying a terminal execution must fail, got %v", err)
	}
}

// rejectInserts is a memory store that refuses new executions.
type rejectInserts struct{ *memory.Store }

func (rejectInserts) CreateExecution(context.Context, *execution.Execution) error {
	return errors.New("disk full")
}

func TestRetryCloneNotStored(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	now := time.Now()

	orig := execution.New(id.NewJobID(), []byte(`{}`))
	if err := orig.Transition(execution.StatusRunning, "", now); err != nil {
		t.Fatal(err)
	}
	mustCreate(t, s, orig)

	clone, err := execution.Retry(ctx, rejectInserts{s}, orig, execution.FailException, nil, now)
	if !errors.Is(err, workhorse.ErrRetryNotQueued) || clone != nil {
		t.Fatalf("Retry = %v, %v; want ErrRetryNotQueued and no clone", clone, err)
	}

	got, err := s.GetExecution(ctx, orig.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != execution.StatusFailed || got.FailStatus != execution.FailException {
		t.Errorf("original = %s/%s, want FAILED/EXCEPTION", got.Status, got.FailStatus)
	}
}
