package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/backoff"
	"github.com/coodoo-workhorse/workhorse-sub001/buffer"
	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/ext"
	"github.com/coodoo-workhorse/workhorse-sub001/id"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
	"github.com/coodoo-workhorse/workhorse-sub001/queue"
	"github.com/coodoo-workhorse/workhorse-sub001/store/memory"
	"github.com/coodoo-workhorse/workhorse-sub001/worker"
)

// recorder captures lifecycle events.
type recorder struct {
	mu       sync.Mutex
	started  []id.ExecutionID
	finished []id.ExecutionID
	failed   []*execution.Execution
	retried  int
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) OnExecutionStarted(_ context.Context, e *execution.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, e.ID)
	return nil
}

func (r *recorder) OnExecutionFinished(_ context.Context, e *execution.Execution, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, e.ID)
	return nil
}

func (r *recorder) OnExecutionFailed(_ context.Context, e *execution.Execution, _ error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, e.Clone())
	return nil
}

func (r *recorder) OnExecutionRetrying(_ context.Context, _, _ *execution.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retried++
	return nil
}

func (r *recorder) startedIDs() []id.ExecutionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]id.ExecutionID{}, r.started...)
}

// brokenInserts is a memory store whose CreateExecution fails once
// armed.
type brokenInserts struct {
	*memory.Store
	fail atomic.Bool
}

func (b *brokenInserts) CreateExecution(ctx context.Context, e *execution.Execution) error {
	if b.fail.Load() {
		return errors.New("disk full")
	}
	return b.Store.CreateExecution(ctx, e)
}

type harness struct {
	store    *memory.Store
	buffer   *buffer.Buffer
	registry *job.Registry
	rec      *recorder
	executor *worker.Executor
}

func newHarness(t *testing.T, opts ...worker.ExecutorOption) *harness {
	t.Helper()
	s := memory.New()
	return newHarnessOn(t, s, s, opts...)
}

// newHarnessOn builds a harness whose executor persists through es while
// the buffer and the helpers use s directly.
func newHarnessOn(t *testing.T, s *memory.Store, es execution.Store, opts ...worker.ExecutorOption) *harness {
	t.Helper()
	logger := slog.Default()
	cfg := workhorse.DefaultConfig()
	cfg.BufferPollInterval = 10 * time.Millisecond

	buf := buffer.New(s, cfg)
	t.Cleanup(buf.Stop)

	rec := &recorder{}
	extensions := ext.NewRegistry(logger)
	extensions.Register(rec)

	reg := job.NewRegistry()
	return &harness{
		store:    s,
		buffer:   buf,
		registry: reg,
		rec:      rec,
		executor: worker.NewExecutor(es, buf, reg, extensions, logger, opts...),
	}
}

func (h *harness) createJob(t *testing.T, name string, opts job.Options) *job.Job {
	t.Helper()
	j := job.New(name, opts)
	if err := h.store.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return j
}

func (h *harness) enqueue(t *testing.T, j *job.Job, opts ...execution.Option) *execution.Execution {
	t.Helper()
	e := execution.New(j.ID, []byte(`{"n":1}`), opts...)
	if err := h.store.CreateExecution(context.Background(), e); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	return e
}

func (h *harness) startPool(t *testing.T, j *job.Job, opts ...worker.PoolOption) *worker.Pool {
	t.Helper()
	h.buffer.Initialize(context.Background(), j)
	p := worker.NewPool(j, h.buffer, h.executor, slog.Default(), opts...)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	})
	return p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) status(t *testing.T, execID id.ExecutionID) execution.Status {
	t.Helper()
	e, err := h.store.GetExecution(context.Background(), execID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	return e.Status
}

func TestPool_StartStopIdempotent(t *testing.T) {
	h := newHarness(t)
	j := h.createJob(t, "noop", job.DefaultOptions())
	h.buffer.Initialize(context.Background(), j)
	p := worker.NewPool(j, h.buffer, h.executor, slog.Default())

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
}

func TestExecutor_FinishesWithSummary(t *testing.T) {
	h := newHarness(t)
	h.registry.Register("greet", func(_ context.Context, params []byte) (string, error) {
		return "hello " + string(params), nil
	}, job.DefaultOptions())
	j := h.createJob(t, "greet", job.DefaultOptions())
	e := h.enqueue(t, j)

	h.startPool(t, j)
	waitFor(t, "execution finished", func() bool {
		return h.status(t, e.ID) == execution.StatusFinished
	})

	got, _ := h.store.GetExecution(context.Background(), e.ID)
	if got.Summary != `hello {"n":1}` {
		t.Errorf("summary = %q", got.Summary)
	}
	if got.StartedAt == nil || got.EndedAt == nil {
		t.Error("expected start and end times")
	}
	if got.FailStatus != execution.FailNone {
		t.Errorf("fail status = %s, want NONE", got.FailStatus)
	}
}

func TestDispatchOrder_PriorityFirst(t *testing.T) {
	h := newHarness(t)
	h.registry.Register("ordered", func(context.Context, []byte) (string, error) {
		return "", nil
	}, job.DefaultOptions())
	j := h.createJob(t, "ordered", job.DefaultOptions())

	a := h.enqueue(t, j)
	b := h.enqueue(t, j, execution.WithPriority())
	c := h.enqueue(t, j)

	h.startPool(t, j)
	waitFor(t, "three executions", func() bool { return len(h.rec.startedIDs()) == 3 })

	got := h.rec.startedIDs()
	want := []id.ExecutionID{b.ID, a.ID, c.ID}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatch order = %v, want B, A, C (%v)", got, want)
		}
	}
}

func TestRetry_TwoClonesThenFinished(t *testing.T) {
	h := newHarness(t, worker.WithBackoff(backoff.Constant(0)))

	var mu sync.Mutex
	calls := 0
	h.registry.Register("flaky", func(context.Context, []byte) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= 2 {
			return "", errors.New("boom")
		}
		return "ok", nil
	}, job.DefaultOptions())

	opts := job.DefaultOptions()
	opts.FailRetries = 2
	opts.RetryDelay = time.Second
	j := h.createJob(t, "flaky", opts)
	original := h.enqueue(t, j)

	h.startPool(t, j)
	waitFor(t, "a finished execution", func() bool {
		n, _ := h.store.CountExecutions(context.Background(), execution.CountOpts{JobID: j.ID, Status: execution.StatusFinished})
		return n == 1
	})

	all, err := h.store.ListExecutions(context.Background(), execution.ListOpts{JobID: j.ID})
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("executions = %d, want original plus 2 clones", len(all))
	}

	byID := make(map[id.ExecutionID]*execution.Execution, len(all))
	for _, e := range all {
		byID[e.ID] = e
	}
	clones := 0
	var last *execution.Execution
	for _, e := range all {
		if e.FailRetryExecutionID.IsNil() {
			if e.ID != original.ID {
				t.Fatalf("unexpected root execution %s", e.ID)
			}
			continue
		}
		clones++
		src := byID[e.FailRetryExecutionID]
		if src == nil {
			t.Fatalf("clone %s links to unknown %s", e.ID, e.FailRetryExecutionID)
		}
		if src.Status != execution.StatusFailed || src.FailStatus != execution.FailException {
			t.Errorf("source %s = %s/%s, want FAILED/EXCEPTION", src.ID, src.Status, src.FailStatus)
		}
		if e.FailRetry != src.FailRetry+1 {
			t.Errorf("clone fail retry = %d, want %d", e.FailRetry, src.FailRetry+1)
		}
		if e.FailRetry == 2 {
			last = e
		}
	}
	if clones != 2 {
		t.Fatalf("clones = %d, want 2", clones)
	}
	if last == nil || last.Status != execution.StatusFinished {
		t.Fatalf("final clone should be FINISHED, got %+v", last)
	}

	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	if h.rec.retried != 2 {
		t.Errorf("retrying events = %d, want 2", h.rec.retried)
	}
	if len(h.rec.failed) != 0 {
		t.Errorf("terminal failure events = %d, want 0", len(h.rec.failed))
	}
}

func TestRetryNotStoredFailsTerminally(t *testing.T) {
	s := &brokenInserts{Store: memory.New()}
	h := newHarnessOn(t, s.Store, s, worker.WithBackoff(backoff.Constant(0)))
	h.registry.Register("step", func(_ context.Context, params []byte) (string, error) {
		if string(params) == `"head"` {
			return "", errors.New("step failed")
		}
		return "", nil
	}, job.DefaultOptions())

	opts := job.DefaultOptions()
	opts.FailRetries = 1
	j := h.createJob(t, "step", opts)

	ctx := context.Background()
	chain := id.NewChainID()
	head := execution.New(j.ID, []byte(`"head"`), execution.WithChain(chain, id.Nil))
	if err := h.store.CreateExecution(ctx, head); err != nil {
		t.Fatal(err)
	}
	time.Sleep(2 * time.Millisecond)
	tail := execution.New(j.ID, []byte(`"tail"`))
	if err := execution.AppendToChain(ctx, h.store, chain, tail); err != nil {
		t.Fatalf("AppendToChain: %v", err)
	}
	s.fail.Store(true)

	h.startPool(t, j)
	waitFor(t, "tail failed", func() bool {
		return h.status(t, tail.ID) == execution.StatusFailed
	})

	got, _ := h.store.GetExecution(ctx, head.ID)
	if got.Status != execution.StatusFailed || got.FailStatus != execution.FailException {
		t.Errorf("head = %s/%s, want FAILED/EXCEPTION", got.Status, got.FailStatus)
	}
	members, err := execution.Chain(ctx, h.store, chain)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Errorf("chain members = %d, want 2", len(members))
	}

	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	if len(h.rec.failed) != 1 || h.rec.failed[0].ID != head.ID {
		t.Errorf("failure events = %d, want one for the head", len(h.rec.failed))
	}
	if h.rec.retried != 0 {
		t.Errorf("retrying events = %d, want 0", h.rec.retried)
	}
}

func TestPool_StopDrainsInFlight(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	release := make(chan struct{})
	var workErr atomic.Value
	h.registry.Register("slow", func(ctx context.Context, _ []byte) (string, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			workErr.Store(err)
		}
		return "done", nil
	}, job.DefaultOptions())

	j := h.createJob(t, "slow", job.DefaultOptions())
	e := h.enqueue(t, j)
	p := h.startPool(t, j)

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("work function never started")
	}

	stopped := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		stopped <- p.Stop(ctx)
	}()

	select {
	case err := <-stopped:
		t.Fatalf("Stop returned %v while a work function was running", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	if err := <-stopped; err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := workErr.Load(); err != nil {
		t.Errorf("work context was cancelled: %v", err)
	}
	got, err := h.store.GetExecution(context.Background(), e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != execution.StatusFinished || got.Summary != "done" {
		t.Errorf("execution = %s %q, want FINISHED \"done\"", got.Status, got.Summary)
	}
}

func TestExhaustedRetriesFailWithStacktrace(t *testing.T) {
	h := newHarness(t)
	h.registry.Register("panics", func(context.Context, []byte) (string, error) {
		panic("kaboom")
	}, job.DefaultOptions())
	j := h.createJob(t, "panics", job.DefaultOptions())
	e := h.enqueue(t, j)

	h.startPool(t, j)
	waitFor(t, "execution failed", func() bool {
		return h.status(t, e.ID) == execution.StatusFailed
	})

	got, _ := h.store.GetExecution(context.Background(), e.ID)
	if got.FailStatus != execution.FailException {
		t.Errorf("fail status = %s, want EXCEPTION", got.FailStatus)
	}
	if got.FailMessage != "panic: kaboom" {
		t.Errorf("fail message = %q", got.FailMessage)
	}
	if got.FailStacktrace == "" {
		t.Error("expected a stacktrace")
	}

	waitFor(t, "failure event", func() bool {
		h.rec.mu.Lock()
		defer h.rec.mu.Unlock()
		return len(h.rec.failed) == 1
	})
	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	if h.rec.failed[0].JobID != j.ID {
		t.Errorf("failure event job id = %s, want %s", h.rec.failed[0].JobID, j.ID)
	}
}

func TestExpiredExecutionNeverRuns(t *testing.T) {
	h := newHarness(t)
	ran := make(chan struct{}, 1)
	h.registry.Register("late", func(context.Context, []byte) (string, error) {
		ran <- struct{}{}
		return "", nil
	}, job.DefaultOptions())
	j := h.createJob(t, "late", job.DefaultOptions())
	e := h.enqueue(t, j, execution.WithExpiresAt(time.Now().Add(-time.Minute)))

	h.startPool(t, j)
	waitFor(t, "execution expired", func() bool {
		return h.status(t, e.ID) == execution.StatusFailed
	})

	got, _ := h.store.GetExecution(context.Background(), e.ID)
	if got.FailStatus != execution.FailExpired {
		t.Errorf("fail status = %s, want EXPIRED", got.FailStatus)
	}
	select {
	case <-ran:
		t.Fatal("expired execution was run")
	default:
	}
}

func TestChainRunsInOrderAndAbortsOnFailure(t *testing.T) {
	h := newHarness(t)
	var mu sync.Mutex
	var order []string
	h.registry.Register("step", func(_ context.Context, params []byte) (string, error) {
		mu.Lock()
		order = append(order, string(params))
		mu.Unlock()
		if string(params) == `"fail"` {
			return "", errors.New("step failed")
		}
		return "", nil
	}, job.DefaultOptions())

	opts := job.DefaultOptions()
	opts.Threads = 3
	j := h.createJob(t, "step", opts)

	ctx := context.Background()
	chain := id.NewChainID()
	head := execution.New(j.ID, []byte(`"one"`), execution.WithChain(chain, id.Nil))
	if err := h.store.CreateExecution(ctx, head); err != nil {
		t.Fatal(err)
	}
	members := []*execution.Execution{head}
	for _, p := range []string{`"two"`, `"fail"`, `"never"`} {
		time.Sleep(2 * time.Millisecond)
		e := execution.New(j.ID, []byte(p))
		if err := execution.AppendToChain(ctx, h.store, chain, e); err != nil {
			t.Fatalf("AppendToChain: %v", err)
		}
		members = append(members, e)
	}

	h.startPool(t, j)
	waitFor(t, "chain settled", func() bool {
		return h.status(t, members[3].ID) == execution.StatusFailed
	})

	mu.Lock()
	got := append([]string{}, order...)
	mu.Unlock()
	want := []string{`"one"`, `"two"`, `"fail"`}
	if len(got) != len(want) {
		t.Fatalf("ran %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ran %v, want %v", got, want)
		}
	}

	last, _ := h.store.GetExecution(ctx, members[3].ID)
	if last.FailStatus != execution.FailNone || last.FailMessage == "" {
		t.Errorf("aborted member = %s/%q, want NONE with a message", last.FailStatus, last.FailMessage)
	}
}

func TestRateLimitedPoolStillDispatches(t *testing.T) {
	h := newHarness(t)
	h.registry.Register("limited", func(context.Context, []byte) (string, error) {
		return "", nil
	}, job.DefaultOptions())
	opts := job.DefaultOptions()
	opts.MaxPerMinute = 6000
	j := h.createJob(t, "limited", opts)
	h.enqueue(t, j)
	h.enqueue(t, j)

	qm := queue.NewManager()
	h.startPool(t, j, worker.WithQueueManager(qm))
	waitFor(t, "two dispatches", func() bool { return qm.Dispatched(j.ID) == 2 })

	if qm.PerMinute(j.ID) != 6000 {
		t.Errorf("per minute = %d, want 6000", qm.PerMinute(j.ID))
	}
}
