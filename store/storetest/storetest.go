// Package storetest is a conformance suite for execution and job store
// backends. Every backend test calls Run with a constructor for a fresh,
// migrated, empty store.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/id"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

// Store is the contract under test.
type Store interface {
	job.Store
	execution.Store
}

// Factory returns a fresh, empty store. Cleanup is registered on t.
type Factory func(t *testing.T) Store

// base is a fixed clock origin; fixtures are spaced by whole seconds so
// backends with microsecond or millisecond timestamps order them the same.
var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Run executes the full conformance suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("Jobs", func(t *testing.T) { testJobs(t, newStore(t)) })
	t.Run("ExecutionCRUD", func(t *testing.T) { testExecutionCRUD(t, newStore(t)) })
	t.Run("CompareAndSet", func(t *testing.T) { testCompareAndSet(t, newStore(t)) })
	t.Run("PollOrder", func(t *testing.T) { testPollOrder(t, newStore(t)) })
	t.Run("PollSkipsPendingChainMembers", func(t *testing.T) { testPollChain(t, newStore(t)) })
	t.Run("ListAndCount", func(t *testing.T) { testListAndCount(t, newStore(t)) })
	t.Run("TimedOut", func(t *testing.T) { testTimedOut(t, newStore(t)) })
	t.Run("QueuedByHash", func(t *testing.T) { testQueuedByHash(t, newStore(t)) })
	t.Run("DeleteBefore", func(t *testing.T) { testDeleteBefore(t, newStore(t)) })
	t.Run("Notifier", func(t *testing.T) { testNotifier(t, newStore(t)) })
}

func newJob(t *testing.T, s Store, name string) *job.Job {
	t.Helper()
	j := job.New(name, job.DefaultOptions())
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob(%q): %v", name, err)
	}
	return j
}

// newExecution builds a QUEUED execution created offset seconds after base.
func newExecution(jobID id.JobID, offset int, opts ...execution.Option) *execution.Execution {
	e := execution.New(jobID, []byte(`{"n":1}`), opts...)
	e.CreatedAt = base.Add(time.Duration(offset) * time.Second)
	e.UpdatedAt = e.CreatedAt
	return e
}

func mustCreate(t *testing.T, s Store, e *execution.Execution) {
	t.Helper()
	if err := s.CreateExecution(context.Background(), e); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
}

func ids(list []*execution.Execution) []string {
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.ID.String()
	}
	return out
}

func sameOrder(t *testing.T, what string, got []*execution.Execution, want ...*execution.Execution) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: got %d executions %v, want %d", what, len(got), ids(got), len(want))
	}
	for i := range want {
		if got[i].ID.String() != want[i].ID.String() {
			t.Fatalf("%s: position %d is %s, want %s", what, i, got[i].ID, want[i].ID)
		}
	}
}

// ──────────────────────────────────────────────────
// Jobs
// ──────────────────────────────────────────────────

func testJobs(t *testing.T, s Store) {
	ctx := context.Background()

	beta := newJob(t, s, "beta")
	alpha := newJob(t, s, "alpha")

	if err := s.CreateJob(ctx, job.New("alpha", job.DefaultOptions())); !errors.Is(err, workhorse.ErrJobAlreadyExists) {
		t.Fatalf("duplicate name: err = %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJobByName(ctx, "beta")
	if err != nil {
		t.Fatalf("GetJobByName: %v", err)
	}
	if got.ID.String() != beta.ID.String() || got.Threads != beta.Threads || got.RetryDelay != beta.RetryDelay {
		t.Errorf("GetJobByName returned %+v, want %+v", got, beta)
	}

	alpha.Status = job.StatusInactive
	alpha.Threads = 4
	alpha.Schedule = "0 */5 * * * *"
	alpha.UniqueQueued = true
	if err := s.UpdateJob(ctx, alpha); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	got, err = s.GetJob(ctx, alpha.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusInactive || got.Threads != 4 || got.Schedule != "0 */5 * * * *" || !got.UniqueQueued {
		t.Errorf("updated job = %+v", got)
	}

	all, err := s.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) != 2 || all[0].Name != "alpha" || all[1].Name != "beta" {
		t.Errorf("ListJobs not ordered by name: %v", all)
	}
	inactive, err := s.ListJobs(ctx, job.ListOpts{Status: job.StatusInactive})
	if err != nil {
		t.Fatalf("ListJobs(status): %v", err)
	}
	if len(inactive) != 1 || inactive[0].Name != "alpha" {
		t.Errorf("ListJobs(INACTIVE) = %v", inactive)
	}

	if err := s.DeleteJob(ctx, beta.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := s.GetJob(ctx, beta.ID); !errors.Is(err, workhorse.ErrJobNotFound) {
		t.Errorf("GetJob after delete: err = %v, want ErrJobNotFound", err)
	}
	if err := s.UpdateJob(ctx, beta); !errors.Is(err, workhorse.ErrJobNotFound) {
		t.Errorf("UpdateJob of missing job: err = %v, want ErrJobNotFound", err)
	}
}

// ──────────────────────────────────────────────────
// Executions
// ──────────────────────────────────────────────────

func testExecutionCRUD(t *testing.T, s Store) {
	ctx := context.Background()
	j := newJob(t, s, "crud")

	chainID := id.NewChainID()
	head := newExecution(j.ID, 0, execution.WithChain(chainID, id.Nil), execution.WithPriority())
	mustCreate(t, s, head)
	if err := s.CreateExecution(ctx, head); !errors.Is(err, workhorse.ErrExecutionAlreadyExists) {
		t.Fatalf("duplicate id: err = %v, want ErrExecutionAlreadyExists", err)
	}

	got, err := s.GetExecution(ctx, head.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Status != execution.StatusQueued || got.FailStatus != execution.FailNone || !got.Priority {
		t.Errorf("stored execution = %+v", got)
	}
	if got.ChainID.String() != chainID.String() || !got.ChainPreviousID.IsNil() || !got.BatchID.IsNil() {
		t.Errorf("reference ids not round-tripped: chain=%q prev=%q batch=%q", got.ChainID, got.ChainPreviousID, got.BatchID)
	}
	if string(got.Parameters) != `{"n":1}` || got.ParametersHash != head.ParametersHash {
		t.Errorf("parameters = %s (%s)", got.Parameters, got.ParametersHash)
	}

	now := base.Add(time.Minute)
	if err := got.Transition(execution.StatusRunning, execution.FailNone, now); err != nil {
		t.Fatal(err)
	}
	got.Summary = "half way"
	if err := s.UpdateExecution(ctx, got); err != nil {
		t.Fatalf("UpdateExecution: %v", err)
	}
	again, err := s.GetExecution(ctx, head.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != execution.StatusRunning || again.StartedAt == nil || !again.StartedAt.Equal(now) || again.Summary != "half way" {
		t.Errorf("updated execution = %+v", again)
	}

	if err := s.DeleteExecution(ctx, head.ID); err != nil {
		t.Fatalf("DeleteExecution: %v", err)
	}
	if _, err := s.GetExecution(ctx, head.ID); !errors.Is(err, workhorse.ErrExecutionNotFound) {
		t.Errorf("GetExecution after delete: err = %v, want ErrExecutionNotFound", err)
	}
	if err := s.DeleteExecution(ctx, head.ID); !errors.Is(err, workhorse.ErrExecutionNotFound) {
		t.Errorf("second delete: err = %v, want ErrExecutionNotFound", err)
	}
}

func testCompareAndSet(t *testing.T, s Store) {
	ctx := context.Background()
	j := newJob(t, s, "cas")
	e := newExecution(j.ID, 0)
	mustCreate(t, s, e)

	claimed := e.Clone()
	if err := claimed.Transition(execution.StatusRunning, execution.FailNone, base); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateExecutionIf(ctx, claimed, execution.StatusQueued); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	second := e.Clone()
	if err := second.Transition(execution.StatusRunning, execution.FailNone, base); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateExecutionIf(ctx, second, execution.StatusQueued); !errors.Is(err, workhorse.ErrExecutionConflict) {
		t.Fatalf("second claim: err = %v, want ErrExecutionConflict", err)
	}

	missing := newExecution(j.ID, 1)
	if err := s.UpdateExecutionIf(ctx, missing, execution.StatusQueued); !errors.Is(err, workhorse.ErrExecutionNotFound) {
		t.Fatalf("missing: err = %v, want ErrExecutionNotFound", err)
	}
}

func testPollOrder(t *testing.T, s Store) {
	ctx := context.Background()
	j := newJob(t, s, "poll")
	other := newJob(t, s, "other")

	a := newExecution(j.ID, 0)
	b := newExecution(j.ID, 1, execution.WithPriority())
	c := newExecution(j.ID, 2)
	future := newExecution(j.ID, 3, execution.WithPlannedFor(base.Add(time.Hour)))
	due := newExecution(j.ID, 4, execution.WithPlannedFor(base.Add(-time.Hour)))
	foreign := newExecution(other.ID, 5)
	for _, e := range []*execution.Execution{c, future, a, due, b, foreign} {
		mustCreate(t, s, e)
	}

	running := newExecution(j.ID, 6)
	_ = running.Transition(execution.StatusRunning, execution.FailNone, base)
	mustCreate(t, s, running)

	got, err := s.PollExecutions(ctx, j.ID, base, 0)
	if err != nil {
		t.Fatalf("PollExecutions: %v", err)
	}
	sameOrder(t, "poll", got, b, a, c, due)

	limited, err := s.PollExecutions(ctx, j.ID, base, 2)
	if err != nil {
		t.Fatalf("PollExecutions(limit): %v", err)
	}
	sameOrder(t, "poll limit", limited, b, a)

	later, err := s.PollExecutions(ctx, j.ID, base.Add(2*time.Hour), 0)
	if err != nil {
		t.Fatal(err)
	}
	sameOrder(t, "poll later", later, b, a, c, future, due)
}

func testPollChain(t *testing.T, s Store) {
	ctx := context.Background()
	j := newJob(t, s, "chain")
	chainID := id.NewChainID()

	first := newExecution(j.ID, 0, execution.WithChain(chainID, id.Nil))
	second := newExecution(j.ID, 1, execution.WithChain(chainID, first.ID))
	mustCreate(t, s, first)
	mustCreate(t, s, second)

	got, err := s.PollExecutions(ctx, j.ID, base, 0)
	if err != nil {
		t.Fatal(err)
	}
	sameOrder(t, "before head finished", got, first)

	_ = first.Transition(execution.StatusRunning, execution.FailNone, base)
	_ = first.Transition(execution.StatusFinished, execution.FailNone, base.Add(time.Second))
	if err := s.UpdateExecution(ctx, first); err != nil {
		t.Fatal(err)
	}

	got, err = s.PollExecutions(ctx, j.ID, base, 0)
	if err != nil {
		t.Fatal(err)
	}
	sameOrder(t, "after head finished", got, second)

	chain, err := execution.Chain(ctx, s, chainID)
	if err != nil {
		t.Fatal(err)
	}
	sameOrder(t, "chain members", chain, first, second)
}

func testListAndCount(t *testing.T, s Store) {
	ctx := context.Background()
	j := newJob(t, s, "list")
	batchID := id.NewBatchID()

	m1 := newExecution(j.ID, 0, execution.WithBatch(batchID))
	m2 := newExecution(j.ID, 1, execution.WithBatch(batchID))
	loose := newExecution(j.ID, 2)
	for _, e := range []*execution.Execution{m2, loose, m1} {
		mustCreate(t, s, e)
	}
	_ = m1.Transition(execution.StatusFailed, execution.FailException, base)
	if err := s.UpdateExecution(ctx, m1); err != nil {
		t.Fatal(err)
	}

	all, err := s.ListExecutions(ctx, execution.ListOpts{JobID: j.ID})
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	sameOrder(t, "by job", all, m1, m2, loose)

	batch, err := s.ListExecutions(ctx, execution.ListOpts{BatchID: batchID})
	if err != nil {
		t.Fatal(err)
	}
	sameOrder(t, "by batch", batch, m1, m2)

	page, err := s.ListExecutions(ctx, execution.ListOpts{JobID: j.ID, Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	sameOrder(t, "page", page, m2)

	queued, err := s.CountExecutions(ctx, execution.CountOpts{JobID: j.ID, Status: execution.StatusQueued})
	if err != nil {
		t.Fatalf("CountExecutions: %v", err)
	}
	if queued != 2 {
		t.Errorf("queued count = %d, want 2", queued)
	}

	finished, err := execution.IsBatchFinished(ctx, s, batchID)
	if err != nil {
		t.Fatal(err)
	}
	if finished {
		t.Error("batch with a QUEUED member reported finished")
	}
}

func testTimedOut(t *testing.T, s Store) {
	ctx := context.Background()
	j := newJob(t, s, "timeouts")

	stale := newExecution(j.ID, 0)
	_ = stale.Transition(execution.StatusRunning, execution.FailNone, base.Add(-10*time.Minute))
	fresh := newExecution(j.ID, 1)
	_ = fresh.Transition(execution.StatusRunning, execution.FailNone, base)
	queued := newExecution(j.ID, 2)
	for _, e := range []*execution.Execution{stale, fresh, queued} {
		mustCreate(t, s, e)
	}

	got, err := s.ListTimedOutExecutions(ctx, base.Add(-time.Minute))
	if err != nil {
		t.Fatalf("ListTimedOutExecutions: %v", err)
	}
	sameOrder(t, "timed out", got, stale)
}

func testQueuedByHash(t *testing.T, s Store) {
	ctx := context.Background()
	j := newJob(t, s, "hash")

	older := newExecution(j.ID, 0)
	newer := newExecution(j.ID, 1)
	mustCreate(t, s, newer)
	mustCreate(t, s, older)

	got, err := s.FindQueuedByParametersHash(ctx, j.ID, older.ParametersHash)
	if err != nil {
		t.Fatalf("FindQueuedByParametersHash: %v", err)
	}
	if got.ID.String() != older.ID.String() {
		t.Errorf("found %s, want the oldest %s", got.ID, older.ID)
	}

	if _, err := s.FindQueuedByParametersHash(ctx, j.ID, "nope"); !errors.Is(err, workhorse.ErrExecutionNotFound) {
		t.Errorf("unknown hash: err = %v, want ErrExecutionNotFound", err)
	}
}

func testDeleteBefore(t *testing.T, s Store) {
	ctx := context.Background()
	j := newJob(t, s, "retention")

	old := newExecution(j.ID, 0)
	_ = old.Transition(execution.StatusRunning, execution.FailNone, base)
	_ = old.Transition(execution.StatusFinished, execution.FailNone, base.Add(time.Second))
	recent := newExecution(j.ID, 1)
	_ = recent.Transition(execution.StatusRunning, execution.FailNone, base)
	_ = recent.Transition(execution.StatusFailed, execution.FailException, base.Add(2*time.Hour))
	queued := newExecution(j.ID, 2)
	for _, e := range []*execution.Execution{old, recent, queued} {
		mustCreate(t, s, e)
	}

	n, err := s.DeleteExecutionsBefore(ctx, j.ID, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("DeleteExecutionsBefore: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted = %d, want 1", n)
	}
	left, err := s.ListExecutions(ctx, execution.ListOpts{JobID: j.ID})
	if err != nil {
		t.Fatal(err)
	}
	sameOrder(t, "remaining", left, recent, queued)
}

func testNotifier(t *testing.T, s Store) {
	n, ok := s.(execution.Notifier)
	if !ok {
		t.Skip("store is not push capable")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := n.SubscribeQueued(ctx)
	if err != nil {
		t.Fatalf("SubscribeQueued: %v", err)
	}
	// Give subscriptions that register asynchronously a moment.
	time.Sleep(100 * time.Millisecond)

	j := newJob(t, s, "push")
	mustCreate(t, s, newExecution(j.ID, 0))

	select {
	case got := <-ch:
		if got.String() != j.ID.String() {
			t.Errorf("notified job %s, want %s", got, j.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no queued notification received")
	}
}
