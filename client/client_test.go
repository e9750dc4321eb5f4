package client_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/client"
	"github.com/coodoo-workhorse/workhorse-sub001/dwp"
	"github.com/coodoo-workhorse/workhorse-sub001/engine"
	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
	"github.com/coodoo-workhorse/workhorse-sub001/stream"
)

// ── Test Helpers ──────────────────────────────────────

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupServer starts an engine with an "echo" job and a "parked" job that
// is inactive, and serves the protocol on an httptest server. It returns
// the WebSocket URL.
func setupServer(t *testing.T) (string, *engine.Engine) {
	t.Helper()

	cfg := workhorse.DefaultConfig()
	cfg.BufferPollInterval = 20 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second

	logger := testLogger()
	broker := stream.NewBroker(logger)
	eng, err := engine.New(
		engine.WithConfig(cfg),
		engine.WithLogger(logger),
		engine.WithExtension(broker),
	)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	echo := func(_ context.Context, params []byte) (string, error) { return string(params), nil }
	eng.RegisterFunc("echo", echo, job.DefaultOptions())
	parked := job.DefaultOptions()
	parked.Inactive = true
	eng.RegisterFunc("parked", echo, parked)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	srv := dwp.NewServer(broker, dwp.NewHandler(eng, broker, logger),
		dwp.WithAuth(dwp.NewAPIKeyAuthenticator(dwp.APIKeyEntry{
			Token:    "test-token",
			Identity: dwp.Identity{Subject: "test-user", Scopes: []string{dwp.ScopeAll}},
		})),
		dwp.WithLogger(logger),
	)
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		srv.Shutdown()
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = eng.Stop(ctx)
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/dwp", eng
}

func setupClient(t *testing.T, opts ...client.Option) (*client.Client, *engine.Engine) {
	t.Helper()
	url, eng := setupServer(t)

	opts = append([]client.Option{
		client.WithToken("test-token"),
		client.WithLogger(testLogger()),
	}, opts...)
	c, err := client.DialContext(context.Background(), url, opts...)
	if err != nil {
		t.Fatalf("DialContext: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, eng
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// waitStatus polls until the execution reaches want.
func waitStatus(t *testing.T, c *client.Client, execID string, want execution.Status) *execution.Execution {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		e, err := c.GetExecution(context.Background(), execID)
		if err != nil {
			t.Fatalf("GetExecution: %v", err)
		}
		if e.Status == want {
			return e
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("execution %s did not reach %s", execID, want)
	return nil
}

// ── Connection Tests ──────────────────────────────────

func TestClient_DialAndClose(t *testing.T) {
	c, _ := setupClient(t)

	if c.SessionID() == "" {
		t.Error("expected non-empty session ID after dial")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := c.ListJobs(context.Background(), ""); err != client.ErrClosed {
		t.Errorf("after Close err = %v, want ErrClosed", err)
	}
}

func TestClient_DialAuthFailure(t *testing.T) {
	url, _ := setupServer(t)

	_, err := client.DialContext(context.Background(), url,
		client.WithToken("wrong-token"),
		client.WithLogger(testLogger()),
	)
	if err == nil {
		t.Fatal("expected error for invalid token")
	}
	if !strings.Contains(err.Error(), "auth") {
		t.Errorf("error = %q, want to contain 'auth'", err.Error())
	}
}

func TestClient_Ping(t *testing.T) {
	c, _ := setupClient(t)
	if err := c.Ping(testContext(t)); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

// ── Job Tests ─────────────────────────────────────────

func TestClient_Jobs(t *testing.T) {
	c, _ := setupClient(t)
	ctx := testContext(t)

	jobs, err := c.ListJobs(ctx, "")
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 2 || jobs[0].Name != "echo" || jobs[1].Name != "parked" {
		t.Fatalf("ListJobs = %v, want [echo parked]", jobs)
	}

	inactive, err := c.ListJobs(ctx, job.StatusInactive)
	if err != nil {
		t.Fatalf("ListJobs(INACTIVE): %v", err)
	}
	if len(inactive) != 1 || inactive[0].Name != "parked" {
		t.Errorf("ListJobs(INACTIVE) = %v, want [parked]", inactive)
	}

	// Lookup by ID and by name reach the same job.
	byID, err := c.GetJob(ctx, jobs[0].ID.String())
	if err != nil {
		t.Fatalf("GetJob(id): %v", err)
	}
	byName, err := c.GetJob(ctx, "echo")
	if err != nil {
		t.Fatalf("GetJob(name): %v", err)
	}
	if byID.ID != byName.ID {
		t.Errorf("GetJob by id = %s, by name = %s", byID.ID, byName.ID)
	}

	if _, err := c.GetJob(ctx, "missing"); !client.IsNotFound(err) {
		t.Errorf("GetJob(missing) err = %v, want not found", err)
	}
}

func TestClient_JobActivationAndUpdate(t *testing.T) {
	c, _ := setupClient(t)
	ctx := testContext(t)

	j, err := c.ActivateJob(ctx, "parked")
	if err != nil {
		t.Fatalf("ActivateJob: %v", err)
	}
	if j.Status != job.StatusActive {
		t.Errorf("status = %s, want ACTIVE", j.Status)
	}

	j, err = c.DeactivateJob(ctx, "parked")
	if err != nil {
		t.Fatalf("DeactivateJob: %v", err)
	}
	if j.Status != job.StatusInactive {
		t.Errorf("status = %s, want INACTIVE", j.Status)
	}

	threads := 3
	desc := "echoes its parameters"
	j, err = c.UpdateJob(ctx, "echo", dwp.JobUpdateRequest{Threads: &threads, Description: &desc})
	if err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	if j.Threads != 3 || j.Description != desc {
		t.Errorf("updated job = threads %d desc %q", j.Threads, j.Description)
	}

	bad := "not a cron"
	if _, err := c.UpdateJob(ctx, "echo", dwp.JobUpdateRequest{Schedule: &bad}); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

// ── Execution Tests ───────────────────────────────────

func TestClient_ExecutionRuns(t *testing.T) {
	c, _ := setupClient(t)
	ctx := testContext(t)

	e, err := c.CreateExecution(ctx, "echo", map[string]string{"to": "user@example.com"})
	if err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	if e.ID.IsNil() {
		t.Fatal("expected execution ID")
	}

	done := waitStatus(t, c, e.ID.String(), execution.StatusFinished)
	if done.Summary != `{"to":"user@example.com"}` {
		t.Errorf("summary = %q", done.Summary)
	}
}

func TestClient_ExecutionManagement(t *testing.T) {
	c, _ := setupClient(t)
	ctx := testContext(t)

	planned := time.Now().Add(time.Hour).UTC()
	e, err := c.CreateExecution(ctx, "parked", json.RawMessage(`{"n":1}`),
		client.WithPriority(), client.WithPlannedFor(planned))
	if err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	if !e.Priority || e.PlannedFor == nil {
		t.Errorf("options not applied: priority %v planned %v", e.Priority, e.PlannedFor)
	}

	priority := false
	updated, err := c.UpdateExecution(ctx, dwp.ExecutionUpdateRequest{
		ExecutionRef: dwp.ExecutionRef{ExecutionID: e.ID.String()},
		Priority:     &priority,
	})
	if err != nil {
		t.Fatalf("UpdateExecution: %v", err)
	}
	if updated.Priority {
		t.Error("priority should be cleared")
	}

	list, err := c.ListExecutions(ctx, dwp.ExecutionListRequest{JobID: e.JobID.String()})
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(list) != 1 || list[0].ID != e.ID {
		t.Errorf("ListExecutions = %v", list)
	}

	aborted, err := c.AbortExecution(ctx, e.ID.String())
	if err != nil {
		t.Fatalf("AbortExecution: %v", err)
	}
	if aborted.Status != execution.StatusAborted || aborted.FailStatus != execution.FailManual {
		t.Errorf("aborted = %s/%s", aborted.Status, aborted.FailStatus)
	}

	// A terminal execution cannot move back to QUEUED.
	queued := string(execution.StatusQueued)
	_, err = c.UpdateExecution(ctx, dwp.ExecutionUpdateRequest{
		ExecutionRef: dwp.ExecutionRef{ExecutionID: e.ID.String()},
		Status:       &queued,
	})
	var cerr *client.Error
	if !asError(err, &cerr) || cerr.Code != dwp.ErrCodeBadRequest {
		t.Errorf("reopen err = %v, want bad request", err)
	}

	if err := c.DeleteExecution(ctx, e.ID.String()); err != nil {
		t.Fatalf("DeleteExecution: %v", err)
	}
	if _, err := c.GetExecution(ctx, e.ID.String()); !client.IsNotFound(err) {
		t.Errorf("GetExecution after delete err = %v, want not found", err)
	}
}

func asError(err error, target **client.Error) bool {
	e, ok := err.(*client.Error)
	if ok {
		*target = e
	}
	return ok
}

func TestClient_Batch(t *testing.T) {
	c, _ := setupClient(t)
	ctx := testContext(t)

	created, err := c.CreateBatch(ctx, "echo", []any{1, 2, 3})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if created.GroupID == "" || len(created.ExecutionIDs) != 3 {
		t.Fatalf("CreateBatch = %+v", created)
	}

	for _, execID := range created.ExecutionIDs {
		waitStatus(t, c, execID, execution.StatusFinished)
	}

	batch, err := c.GetBatch(ctx, created.GroupID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if !batch.Finished || len(batch.Executions) != 3 {
		t.Errorf("batch finished %v with %d members", batch.Finished, len(batch.Executions))
	}

	if _, err := c.CreateBatch(ctx, "echo", nil); err == nil {
		t.Error("expected error for empty batch")
	}
}

func TestClient_Chain(t *testing.T) {
	c, _ := setupClient(t)
	ctx := testContext(t)

	created, err := c.CreateChain(ctx, "parked", []any{"a", "b"})
	if err != nil {
		t.Fatalf("CreateChain: %v", err)
	}

	appended, err := c.AppendToChain(ctx, created.GroupID, "c")
	if err != nil {
		t.Fatalf("AppendToChain: %v", err)
	}
	if appended.ChainPreviousID.String() != created.ExecutionIDs[1] {
		t.Errorf("appended previous = %s, want %s", appended.ChainPreviousID, created.ExecutionIDs[1])
	}

	chain, err := c.GetChain(ctx, created.GroupID)
	if err != nil {
		t.Fatalf("GetChain: %v", err)
	}
	if chain.Finished || len(chain.Executions) != 3 {
		t.Errorf("chain finished %v with %d members", chain.Finished, len(chain.Executions))
	}
	if chain.Executions[2].ID != appended.ID {
		t.Errorf("last member = %s, want %s", chain.Executions[2].ID, appended.ID)
	}

	if _, err := c.AppendToChain(ctx, "chain_01h455vb4pex5vsknk084sn02q", "d"); !client.IsNotFound(err) {
		t.Errorf("AppendToChain(unknown) err = %v, want not found", err)
	}
}

// ── Schedule Tests ────────────────────────────────────

func TestClient_Schedule(t *testing.T) {
	c, _ := setupClient(t)
	ctx := testContext(t)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	next, err := c.NextScheduledTimes(ctx, "0 */15 * * * *", 3, from)
	if err != nil {
		t.Fatalf("NextScheduledTimes: %v", err)
	}
	want := []time.Time{from.Add(15 * time.Minute), from.Add(30 * time.Minute), from.Add(45 * time.Minute)}
	if len(next) != len(want) {
		t.Fatalf("got %d times, want %d", len(next), len(want))
	}
	for i := range want {
		if !next[i].Equal(want[i]) {
			t.Errorf("next[%d] = %s, want %s", i, next[i], want[i])
		}
	}

	between, err := c.ScheduledTimesBetween(ctx, "0 0 * * * *", from, from.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("ScheduledTimesBetween: %v", err)
	}
	if len(between) != 3 {
		t.Errorf("between = %v, want 3 times", between)
	}

	if _, err := c.NextScheduledTimes(ctx, "nonsense", 1, from); err == nil {
		t.Error("expected error for invalid expression")
	}
}

func TestClient_Stats(t *testing.T) {
	c, _ := setupClient(t)

	stats, err := c.Stats(testContext(t))
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Engine == nil || len(stats.Engine.Jobs) != 2 {
		t.Fatalf("engine stats = %+v", stats.Engine)
	}
	if stats.Connections != 1 {
		t.Errorf("connections = %d, want 1", stats.Connections)
	}
}

// ── Subscription Tests ────────────────────────────────

func TestClient_WatchExecution(t *testing.T) {
	c, eng := setupClient(t)
	ctx := testContext(t)

	jobs, err := c.ListJobs(ctx, job.StatusActive)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("ListJobs: %v %v", jobs, err)
	}

	events, err := c.WatchJob(ctx, jobs[0].ID.String())
	if err != nil {
		t.Fatalf("WatchJob: %v", err)
	}

	// Create through the engine so the subscription is in place first.
	e, err := eng.CreateExecution(ctx, jobs[0].ID, []byte(`"hi"`))
	if err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	seen := map[stream.EventType]bool{}
	for !seen[stream.EventExecutionFinished] {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("event channel closed")
			}
			if ev.Topic != stream.ExecutionTopic(e.ID.String()) {
				t.Errorf("event topic = %s", ev.Topic)
			}
			seen[ev.Type] = true
		case <-ctx.Done():
			t.Fatalf("timed out, saw %v", seen)
		}
	}
	if !seen[stream.EventExecutionCreated] || !seen[stream.EventExecutionStarted] {
		t.Errorf("missing lifecycle events, saw %v", seen)
	}

	if err := c.Unsubscribe(ctx, stream.JobTopic(jobs[0].ID.String())); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	for range events {
		// Drain until the channel is closed.
	}
}

func TestClient_SubscribeRejectsBadTopic(t *testing.T) {
	c, _ := setupClient(t)
	if _, err := c.Subscribe(testContext(t), "bogus"); err == nil {
		t.Error("expected error for invalid topic")
	}
}

func TestClient_MsgpackFormat(t *testing.T) {
	c, _ := setupClient(t, client.WithFormat(dwp.CodecNameMsgpack))
	ctx := testContext(t)

	e, err := c.CreateExecution(ctx, "echo", []int{1, 2})
	if err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	done := waitStatus(t, c, e.ID.String(), execution.StatusFinished)
	if done.Summary != "[1,2]" {
		t.Errorf("summary = %q, want [1,2]", done.Summary)
	}
}
