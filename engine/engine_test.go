package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/engine"
	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/id"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
	"github.com/coodoo-workhorse/workhorse-sub001/store"
	"github.com/coodoo-workhorse/workhorse-sub001/store/memory"
)

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

type reportParams struct {
	Account string `json:"account"`
}

// hooks records engine-level lifecycle events.
type hooks struct {
	mu       sync.Mutex
	restarts []string
	fired    int
	shutdown bool
}

func (h *hooks) Name() string { return "test-hooks" }

func (h *hooks) OnRestartRequested(_ context.Context, reason string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.restarts = append(h.restarts, reason)
	return nil
}

func (h *hooks) OnScheduleFired(context.Context, *job.Job, time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fired++
	return nil
}

func (h *hooks) OnShutdown(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shutdown = true
	return nil
}

func testConfig() workhorse.Config {
	cfg := workhorse.DefaultConfig()
	cfg.BufferPollInterval = 20 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func newEngine(t *testing.T, opts ...engine.Option) *engine.Engine {
	t.Helper()
	eng, err := engine.New(append([]engine.Option{engine.WithConfig(testConfig())}, opts...)...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return eng
}

func start(t *testing.T, eng *engine.Engine) {
	t.Helper()
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})
}

func jobByName(t *testing.T, eng *engine.Engine, name string) *job.Job {
	t.Helper()
	j, err := eng.GetJobByName(context.Background(), name)
	if err != nil {
		t.Fatalf("GetJobByName(%q): %v", name, err)
	}
	return j
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(8 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func statusOf(t *testing.T, eng *engine.Engine, execID id.ExecutionID) execution.Status {
	t.Helper()
	e, err := eng.GetExecution(context.Background(), execID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	return e.Status
}

func params(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// ──────────────────────────────────────────────────
// End-to-end
// ──────────────────────────────────────────────────

func TestEngine_EndToEnd_RegisterCreateProcess(t *testing.T) {
	eng := newEngine(t)

	var mu sync.Mutex
	var got reportParams
	engine.Register(eng, job.NewDefinition("send-report", func(_ context.Context, p reportParams) (string, error) {
		mu.Lock()
		got = p
		mu.Unlock()
		return "sent to " + p.Account, nil
	}))
	start(t, eng)

	j := jobByName(t, eng, "send-report")
	if j.Status != job.StatusActive {
		t.Fatalf("job status = %s, want ACTIVE", j.Status)
	}

	e, err := engine.Create(context.Background(), eng, j.ID, reportParams{Account: "acme"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if e.Status != execution.StatusQueued {
		t.Errorf("created status = %s, want QUEUED", e.Status)
	}

	waitFor(t, "execution finished", func() bool { return statusOf(t, eng, e.ID) == execution.StatusFinished })

	done, _ := eng.GetExecution(context.Background(), e.ID)
	if done.Summary != "sent to acme" {
		t.Errorf("summary = %q", done.Summary)
	}
	mu.Lock()
	defer mu.Unlock()
	if got.Account != "acme" {
		t.Errorf("decoded account = %q, want acme", got.Account)
	}
}

func TestEngine_NotRunning(t *testing.T) {
	eng := newEngine(t)
	if _, err := eng.CreateExecution(context.Background(), id.NewJobID(), nil); !errors.Is(err, workhorse.ErrEngineNotRunning) {
		t.Fatalf("err = %v, want ErrEngineNotRunning", err)
	}
	if err := eng.Stop(context.Background()); err != nil {
		t.Fatalf("Stop on a stopped engine: %v", err)
	}
}

func TestEngine_InvalidConfigRejected(t *testing.T) {
	cfg := testConfig()
	cfg.ExecutionTimeoutStatus = "SOMETIMES"
	if _, err := engine.New(engine.WithConfig(cfg)); !errors.Is(err, workhorse.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

// ──────────────────────────────────────────────────
// Unique in queue
// ──────────────────────────────────────────────────

func TestEngine_UniqueInQueue(t *testing.T) {
	eng := newEngine(t)
	engine.Register(eng, job.NewDefinition("dedupe", func(context.Context, reportParams) (string, error) {
		return "", nil
	}, job.WithUniqueQueued(), job.WithInactive()))
	start(t, eng)

	ctx := context.Background()
	j := jobByName(t, eng, "dedupe")

	first, err := eng.CreateExecution(ctx, j.ID, []byte(`{"account": "a"}`))
	if err != nil {
		t.Fatal(err)
	}
	second, err := eng.CreateExecution(ctx, j.ID, []byte(`{"account":"a"}`))
	if err != nil {
		t.Fatal(err)
	}
	if second.ID.String() != first.ID.String() {
		t.Fatalf("expected the queued execution %s to be returned, got %s", first.ID, second.ID)
	}

	if _, err := eng.CreateExecution(ctx, j.ID, []byte(`{"account":"b"}`)); err != nil {
		t.Fatal(err)
	}
	all, _ := eng.ListExecutions(ctx, execution.ListOpts{JobID: j.ID})
	if len(all) != 2 {
		t.Fatalf("executions = %d, want 2", len(all))
	}
}

// ──────────────────────────────────────────────────
// Batches and chains
// ──────────────────────────────────────────────────

func TestEngine_BatchFinishes(t *testing.T) {
	eng := newEngine(t)
	engine.Register(eng, job.NewDefinition("batch-work", func(_ context.Context, p reportParams) (string, error) {
		if p.Account == "bad" {
			return "", errors.New("bad account")
		}
		return "", nil
	}, job.WithThreads(2)))
	start(t, eng)

	ctx := context.Background()
	j := jobByName(t, eng, "batch-work")
	batchID, members, err := eng.CreateBatch(ctx, j.ID, [][]byte{
		params(t, reportParams{"a"}), params(t, reportParams{"bad"}), params(t, reportParams{"c"}),
	})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if len(members) != 3 {
		t.Fatalf("members = %d, want 3", len(members))
	}

	waitFor(t, "batch finished", func() bool {
		ok, err := eng.IsBatchFinished(ctx, batchID)
		return err == nil && ok
	})

	got, _ := eng.GetBatch(ctx, batchID)
	failed := 0
	for _, e := range got {
		if e.BatchID.String() != batchID.String() {
			t.Errorf("member %s has batch %s", e.ID, e.BatchID)
		}
		if e.Status == execution.StatusFailed {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("failed members = %d, want 1", failed)
	}

	if _, _, err := eng.CreateBatch(ctx, j.ID, nil); !errors.Is(err, workhorse.ErrEmptyGroup) {
		t.Errorf("empty batch err = %v, want ErrEmptyGroup", err)
	}
}

func TestEngine_ChainRunsSerially(t *testing.T) {
	eng := newEngine(t)

	var mu sync.Mutex
	var order []string
	running := 0
	overlap := false
	engine.Register(eng, job.NewDefinition("chain-work", func(_ context.Context, p reportParams) (string, error) {
		mu.Lock()
		running++
		if running > 1 {
			overlap = true
		}
		order = append(order, p.Account)
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		running--
		mu.Unlock()
		return "", nil
	}, job.WithThreads(4)))
	start(t, eng)

	ctx := context.Background()
	j := jobByName(t, eng, "chain-work")
	chainID, members, err := eng.CreateChain(ctx, j.ID, [][]byte{
		params(t, reportParams{"1"}), params(t, reportParams{"2"}),
	})
	if err != nil {
		t.Fatalf("CreateChain: %v", err)
	}
	tail, err := eng.AppendToChain(ctx, chainID, params(t, reportParams{"3"}))
	if err != nil {
		t.Fatalf("AppendToChain: %v", err)
	}
	if tail.ChainPreviousID.String() != members[1].ID.String() {
		t.Fatalf("appended member links to %s, want %s", tail.ChainPreviousID, members[1].ID)
	}

	waitFor(t, "chain finished", func() bool { return statusOf(t, eng, tail.ID) == execution.StatusFinished })

	mu.Lock()
	defer mu.Unlock()
	if overlap {
		t.Error("chain members ran concurrently")
	}
	if len(order) != 3 || order[0] != "1" || order[1] != "2" || order[2] != "3" {
		t.Errorf("order = %v, want [1 2 3]", order)
	}

	chain, _ := eng.GetChain(ctx, chainID)
	if len(chain) != 3 {
		t.Errorf("chain members = %d, want 3", len(chain))
	}
}

// ──────────────────────────────────────────────────
// Job management
// ──────────────────────────────────────────────────

func TestEngine_DeactivateKeepsQueuedThenActivateRuns(t *testing.T) {
	eng := newEngine(t)
	engine.Register(eng, job.NewDefinition("toggle", func(context.Context, reportParams) (string, error) {
		return "", nil
	}))
	start(t, eng)

	ctx := context.Background()
	j := jobByName(t, eng, "toggle")

	if _, err := eng.DeactivateJob(ctx, j.ID); err != nil {
		t.Fatalf("DeactivateJob: %v", err)
	}
	e, err := eng.CreateExecution(ctx, j.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if st := statusOf(t, eng, e.ID); st != execution.StatusQueued {
		t.Fatalf("status while inactive = %s, want QUEUED", st)
	}

	if _, err := eng.ActivateJob(ctx, j.ID); err != nil {
		t.Fatalf("ActivateJob: %v", err)
	}
	waitFor(t, "execution finished after activation", func() bool {
		return statusOf(t, eng, e.ID) == execution.StatusFinished
	})
}

func TestEngine_DeactivateDrainsInFlight(t *testing.T) {
	eng := newEngine(t)
	started := make(chan struct{})
	release := make(chan struct{})
	var workErr error
	engine.Register(eng, job.NewDefinition("drain", func(ctx context.Context, _ reportParams) (string, error) {
		close(started)
		<-release
		workErr = ctx.Err()
		return "done", nil
	}))
	start(t, eng)

	ctx := context.Background()
	j := jobByName(t, eng, "drain")
	e, err := eng.CreateExecution(ctx, j.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("work function never started")
	}

	deactivated := make(chan error, 1)
	go func() {
		_, err := eng.DeactivateJob(ctx, j.ID)
		deactivated <- err
	}()
	select {
	case err := <-deactivated:
		t.Fatalf("DeactivateJob returned %v while the work function was running", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	if err := <-deactivated; err != nil {
		t.Fatalf("DeactivateJob: %v", err)
	}
	if workErr != nil {
		t.Errorf("work context was cancelled: %v", workErr)
	}
	got, err := eng.GetExecution(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != execution.StatusFinished || got.Summary != "done" {
		t.Errorf("execution = %s %q, want FINISHED \"done\"", got.Status, got.Summary)
	}
}

func TestEngine_UpdateJobRestartsDispatch(t *testing.T) {
	eng := newEngine(t)
	engine.Register(eng, job.NewDefinition("resize", func(context.Context, reportParams) (string, error) {
		return "", nil
	}))
	start(t, eng)

	ctx := context.Background()
	j := jobByName(t, eng, "resize")
	j.Threads = 3
	if _, err := eng.UpdateJob(ctx, j); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	stats, err := eng.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats.Jobs) != 1 || stats.Jobs[0].Buffer == nil || stats.Jobs[0].Buffer.Threads != 3 {
		t.Fatalf("expected a buffer snapshot with 3 threads, got %+v", stats.Jobs)
	}

	j.Schedule = "not a schedule"
	if _, err := eng.UpdateJob(ctx, j); !errors.Is(err, workhorse.ErrInvalidSchedule) {
		t.Errorf("err = %v, want ErrInvalidSchedule", err)
	}
}

func TestEngine_SyncMarksJobsWithoutWorker(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	orphan := job.New("orphan", job.DefaultOptions())
	if err := s.CreateJob(ctx, orphan); err != nil {
		t.Fatal(err)
	}

	eng := newEngine(t, engine.WithStore(s))
	start(t, eng)

	j, err := eng.GetJob(ctx, orphan.ID)
	if err != nil {
		t.Fatal(err)
	}
	if j.Status != job.StatusNoWorker {
		t.Fatalf("status = %s, want NO_WORKER", j.Status)
	}
	if _, err := eng.ActivateJob(ctx, orphan.ID); !errors.Is(err, workhorse.ErrWorkerNotFound) {
		t.Errorf("ActivateJob err = %v, want ErrWorkerNotFound", err)
	}
}

func TestEngine_InvalidScheduleMarksJobErrored(t *testing.T) {
	eng := newEngine(t)
	engine.Register(eng, job.NewDefinition("broken", func(context.Context, reportParams) (string, error) {
		return "", nil
	}, job.WithSchedule("99 * * * * *")))
	start(t, eng)

	if j := jobByName(t, eng, "broken"); j.Status != job.StatusError {
		t.Errorf("status = %s, want ERROR", j.Status)
	}
}

// ──────────────────────────────────────────────────
// Executions
// ──────────────────────────────────────────────────

func TestEngine_AbortAndDeleteExecution(t *testing.T) {
	eng := newEngine(t)
	engine.Register(eng, job.NewDefinition("parked", func(context.Context, reportParams) (string, error) {
		return "", nil
	}, job.WithInactive()))
	start(t, eng)

	ctx := context.Background()
	j := jobByName(t, eng, "parked")
	e, err := eng.CreateExecution(ctx, j.ID, nil)
	if err != nil {
		t.Fatal(err)
	}

	aborted, err := eng.AbortExecution(ctx, e.ID)
	if err != nil {
		t.Fatalf("AbortExecution: %v", err)
	}
	if aborted.Status != execution.StatusAborted || aborted.FailStatus != execution.FailManual {
		t.Errorf("aborted = %s/%s, want ABORTED/MANUAL", aborted.Status, aborted.FailStatus)
	}
	if _, err := eng.AbortExecution(ctx, e.ID); !errors.Is(err, workhorse.ErrInvalidState) {
		t.Errorf("second abort err = %v, want ErrInvalidState", err)
	}

	if err := eng.DeleteExecution(ctx, e.ID); err != nil {
		t.Fatalf("DeleteExecution: %v", err)
	}
	if _, err := eng.GetExecution(ctx, e.ID); !errors.Is(err, workhorse.ErrExecutionNotFound) {
		t.Errorf("err = %v, want ErrExecutionNotFound", err)
	}
}

func TestEngine_UpdateExecutionPriority(t *testing.T) {
	eng := newEngine(t)
	engine.Register(eng, job.NewDefinition("later", func(context.Context, reportParams) (string, error) {
		return "", nil
	}, job.WithInactive()))
	start(t, eng)

	ctx := context.Background()
	j := jobByName(t, eng, "later")
	e, err := eng.CreateExecution(ctx, j.ID, []byte(`{"account":"x"}`))
	if err != nil {
		t.Fatal(err)
	}

	e.Priority = true
	updated, err := eng.UpdateExecution(ctx, e)
	if err != nil {
		t.Fatalf("UpdateExecution: %v", err)
	}
	if !updated.Priority {
		t.Error("priority not persisted")
	}

	e.Status = execution.StatusFinished
	if _, err := eng.UpdateExecution(ctx, e); !errors.Is(err, workhorse.ErrInvalidState) {
		t.Errorf("QUEUED -> FINISHED err = %v, want ErrInvalidState", err)
	}
}

func TestEngine_UpdateExecutionKeepsIdentity(t *testing.T) {
	s := memory.New()
	eng := newEngine(t, engine.WithStore(s))
	engine.Register(eng, job.NewDefinition("later", func(context.Context, reportParams) (string, error) {
		return "", nil
	}, job.WithInactive()))
	start(t, eng)

	ctx := context.Background()
	j := jobByName(t, eng, "later")
	e, err := eng.CreateExecution(ctx, j.ID, []byte(`{"account":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	hash := e.ParametersHash

	e.Status = execution.StatusRunning
	e.BatchID = id.NewBatchID()
	e.ChainID = id.NewChainID()
	e.ParametersHash = "forged"
	e.Parameters = []byte(`{"account":"y"}`)
	updated, err := eng.UpdateExecution(ctx, e)
	if err != nil {
		t.Fatalf("UpdateExecution: %v", err)
	}
	if updated.Status != execution.StatusRunning || updated.StartedAt == nil {
		t.Fatalf("updated = %s started %v, want RUNNING with a start time", updated.Status, updated.StartedAt)
	}

	got, err := eng.GetExecution(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.BatchID.IsNil() || !got.ChainID.IsNil() {
		t.Errorf("group membership changed: batch %s chain %s", got.BatchID, got.ChainID)
	}
	if got.ParametersHash != hash {
		t.Errorf("hash = %q, want %q", got.ParametersHash, hash)
	}
	if string(got.Parameters) != `{"account":"y"}` {
		t.Errorf("parameters = %s", got.Parameters)
	}

	stuck, err := s.ListTimedOutExecutions(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(stuck) != 1 || stuck[0].ID.String() != e.ID.String() {
		t.Errorf("timed out candidates = %d, want the updated execution", len(stuck))
	}
}

func TestEngine_UpdateExecutionFailCascadesChain(t *testing.T) {
	eng := newEngine(t)
	engine.Register(eng, job.NewDefinition("later", func(context.Context, reportParams) (string, error) {
		return "", nil
	}, job.WithInactive()))
	start(t, eng)

	ctx := context.Background()
	j := jobByName(t, eng, "later")
	_, members, err := eng.CreateChain(ctx, j.ID, [][]byte{
		params(t, reportParams{"1"}), params(t, reportParams{"2"}),
	})
	if err != nil {
		t.Fatalf("CreateChain: %v", err)
	}

	head := members[0]
	head.Status = execution.StatusFailed
	failed, err := eng.UpdateExecution(ctx, head)
	if err != nil {
		t.Fatalf("UpdateExecution: %v", err)
	}
	if failed.EndedAt == nil || failed.FailStatus != execution.FailManual {
		t.Errorf("failed = ended %v fail %s, want an end time and MANUAL", failed.EndedAt, failed.FailStatus)
	}
	if st := statusOf(t, eng, members[1].ID); st != execution.StatusFailed {
		t.Errorf("successor = %s, want FAILED", st)
	}
}

func TestEngine_CleanupRemovesOldExecutions(t *testing.T) {
	eng := newEngine(t)
	engine.Register(eng, job.NewDefinition("retained", func(context.Context, reportParams) (string, error) {
		return "", nil
	}, job.WithRetention(60), job.WithInactive()))
	start(t, eng)

	ctx := context.Background()
	j := jobByName(t, eng, "retained")
	s := eng.Store()

	old := execution.New(j.ID, nil)
	longAgo := time.Now().Add(-2 * time.Hour)
	_ = old.Transition(execution.StatusRunning, execution.FailNone, longAgo)
	_ = old.Transition(execution.StatusFinished, execution.FailNone, longAgo)
	if err := s.CreateExecution(ctx, old); err != nil {
		t.Fatal(err)
	}
	recent, err := eng.CreateExecution(ctx, j.ID, nil)
	if err != nil {
		t.Fatal(err)
	}

	n, err := eng.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted = %d, want 1", n)
	}
	if _, err := eng.GetExecution(ctx, recent.ID); err != nil {
		t.Errorf("recent execution removed: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Schedules
// ──────────────────────────────────────────────────

func TestEngine_ScheduleCreatesExecutions(t *testing.T) {
	h := &hooks{}
	eng := newEngine(t, engine.WithExtension(h))
	engine.Register(eng, job.NewDefinition("ticker", func(context.Context, reportParams) (string, error) {
		return "", nil
	}, job.WithSchedule("@every 1s")))
	start(t, eng)

	ctx := context.Background()
	j := jobByName(t, eng, "ticker")
	waitFor(t, "scheduled executions", func() bool {
		stats, err := eng.Stats(ctx)
		if err != nil || len(stats.Jobs) != 1 {
			return false
		}
		return stats.Jobs[0].Counts[execution.StatusFinished] >= 2
	})

	h.mu.Lock()
	fired := h.fired
	h.mu.Unlock()
	if fired < 2 {
		t.Errorf("schedule fired hooks = %d, want at least 2", fired)
	}
	if all, _ := eng.ListExecutions(ctx, execution.ListOpts{JobID: j.ID}); len(all) < 2 {
		t.Errorf("executions = %d, want at least 2", len(all))
	}
}

func TestEngine_ScheduleQueries(t *testing.T) {
	eng := newEngine(t)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	next, err := eng.NextScheduledTimes("0 */5 * * * *", 3, from)
	if err != nil {
		t.Fatalf("NextScheduledTimes: %v", err)
	}
	if len(next) != 3 || !next[2].Equal(from.Add(15*time.Minute)) {
		t.Errorf("next = %v", next)
	}

	between, err := eng.ScheduledTimesBetween("0 0 * * * *", from, from.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("ScheduledTimesBetween: %v", err)
	}
	if len(between) != 3 {
		t.Errorf("between = %d times, want 3", len(between))
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestEngine_RestartValidatesFirst(t *testing.T) {
	h := &hooks{}
	eng := newEngine(t, engine.WithExtension(h))
	engine.Register(eng, job.NewDefinition("steady", func(context.Context, reportParams) (string, error) {
		return "", nil
	}))
	start(t, eng)
	ctx := context.Background()

	bad := testConfig()
	bad.BufferMax = 0
	if err := eng.Restart(ctx, bad); !errors.Is(err, workhorse.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
	if !eng.Running() || eng.Config().BufferMax != testConfig().BufferMax {
		t.Fatal("invalid restart must leave the engine running with its old configuration")
	}

	if err := eng.Reconfigure(ctx, testConfig(), store.Config{Type: "cassandra"}); !errors.Is(err, workhorse.ErrUnknownPersistence) {
		t.Fatalf("err = %v, want ErrUnknownPersistence", err)
	}

	good := testConfig()
	good.BufferMax = 50
	if err := eng.Restart(ctx, good); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if eng.Config().BufferMax != 50 {
		t.Errorf("buffer max = %d, want 50", eng.Config().BufferMax)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.restarts) != 1 {
		t.Errorf("restart hooks = %d, want 1", len(h.restarts))
	}
}

func TestEngine_StartFallsBackToMemory(t *testing.T) {
	reg := store.NewRegistry()
	reg.Register(store.TypePostgres, func(context.Context, store.Config) (store.Store, error) {
		return nil, errors.New("connection refused")
	})
	eng := newEngine(t,
		engine.WithRegistry(reg),
		engine.WithStoreConfig(store.Config{Type: store.TypePostgres, DSN: "postgres://nowhere"}),
	)
	start(t, eng)

	if _, ok := eng.Store().(*memory.Store); !ok {
		t.Fatalf("store = %T, want the memory fallback", eng.Store())
	}
}

func TestEngine_StopEmitsShutdown(t *testing.T) {
	h := &hooks{}
	eng := newEngine(t, engine.WithExtension(h))
	if err := eng.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := eng.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if eng.Running() {
		t.Error("engine still running after Stop")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.shutdown {
		t.Error("shutdown hook not called")
	}
}
