package zombie_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/id"
	"github.com/coodoo-workhorse/workhorse-sub001/store/memory"
	"github.com/coodoo-workhorse/workhorse-sub001/zombie"
)

type timedOut struct {
	mu    sync.Mutex
	cures []execution.Status
}

func (t *timedOut) EmitExecutionTimedOut(_ context.Context, _ *execution.Execution, cure execution.Status) {
	t.mu.Lock()
	t.cures = append(t.cures, cure)
	t.mu.Unlock()
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

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func sweeperConfig(cure string) workhorse.Config {
	cfg := workhorse.DefaultConfig()
	cfg.ExecutionTimeout = 120 * time.Second
	cfg.ExecutionTimeoutStatus = cure
	return cfg
}

// running stores an execution that has been RUNNING since startedAgo.
func running(t *testing.T, s *memory.Store, startedAgo time.Duration, opts ...execution.Option) *execution.Execution {
	t.Helper()
	e := execution.New(id.NewJobID(), []byte(`{}`), opts...)
	if err := e.Transition(execution.StatusRunning, execution.FailNone, now.Add(-startedAgo)); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateExecution(context.Background(), e); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	return e
}

func newSweeper(t *testing.T, s *memory.Store, cure string, em zombie.Emitter) *zombie.Sweeper {
	t.Helper()
	sw, err := zombie.New(s, sweeperConfig(cure), em, nil, zombie.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sw
}

func TestSweep_QueuedCureClonesZombie(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	em := &timedOut{}
	stuck := running(t, s, 200*time.Second)
	fresh := running(t, s, 10*time.Second)

	n, err := newSweeper(t, s, "QUEUED", em).Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("found %d zombies, want 1", n)
	}

	orig, _ := s.GetExecution(ctx, stuck.ID)
	if orig.Status != execution.StatusFailed || orig.FailStatus != execution.FailTimeout {
		t.Errorf("original = %s/%s, want FAILED/TIMEOUT", orig.Status, orig.FailStatus)
	}

	queued, err := s.ListExecutions(ctx, execution.ListOpts{JobID: stuck.JobID, Status: execution.StatusQueued})
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(queued) != 1 {
		t.Fatalf("queued clones = %d, want 1", len(queued))
	}
	if queued[0].FailRetryExecutionID != stuck.ID {
		t.Errorf("clone links to %s, want %s", queued[0].FailRetryExecutionID, stuck.ID)
	}

	if got, _ := s.GetExecution(ctx, fresh.ID); got.Status != execution.StatusRunning {
		t.Errorf("fresh execution = %s, want RUNNING", got.Status)
	}

	// The original is terminal and is not found again.
	if n, _ := newSweeper(t, s, "QUEUED", em).Sweep(ctx); n != 0 {
		t.Errorf("second sweep found %d zombies, want 0", n)
	}

	em.mu.Lock()
	defer em.mu.Unlock()
	if len(em.cures) != 1 || em.cures[0] != execution.StatusQueued {
		t.Errorf("events = %v, want [QUEUED]", em.cures)
	}
}

func TestSweep_RunningCureOnlyLogs(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	e := running(t, s, time.Hour)

	if _, err := newSweeper(t, s, "RUNNING", nil).Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if got, _ := s.GetExecution(ctx, e.ID); got.Status != execution.StatusRunning {
		t.Errorf("status = %s, want RUNNING", got.Status)
	}
}

func TestSweep_TerminalCures(t *testing.T) {
	tests := []struct {
		cure     string
		status   execution.Status
		failWant execution.FailStatus
	}{
		{"FINISHED", execution.StatusFinished, execution.FailNone},
		{"FAILED", execution.StatusFailed, execution.FailTimeout},
		{"ABORTED", execution.StatusAborted, execution.FailTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.cure, func(t *testing.T) {
			ctx := context.Background()
			s := memory.New()
			e := running(t, s, time.Hour)

			if _, err := newSweeper(t, s, tt.cure, nil).Sweep(ctx); err != nil {
				t.Fatalf("Sweep: %v", err)
			}
			got, _ := s.GetExecution(ctx, e.ID)
			if got.Status != tt.status || got.FailStatus != tt.failWant {
				t.Errorf("got %s/%s, want %s/%s", got.Status, got.FailStatus, tt.status, tt.failWant)
			}
			if got.EndedAt == nil {
				t.Error("expected EndedAt to be stamped")
			}
		})
	}
}

func TestSweep_AbortedZombieAbortsChain(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	chain := id.NewChainID()
	head := running(t, s, time.Hour, execution.WithChain(chain, id.Nil))

	next := execution.New(head.JobID, nil, execution.WithChain(chain, head.ID))
	if err := s.CreateExecution(ctx, next); err != nil {
		t.Fatal(err)
	}

	if _, err := newSweeper(t, s, "ABORTED", nil).Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if got, _ := s.GetExecution(ctx, next.ID); got.Status != execution.StatusFailed {
		t.Errorf("successor = %s, want FAILED", got.Status)
	}
}

func TestSweep_QueuedCureFailsWhenRetryCannotBeStored(t *testing.T) {
	ctx := context.Background()
	s := &brokenInserts{Store: memory.New()}
	chain := id.NewChainID()
	head := running(t, s.Store, time.Hour, execution.WithChain(chain, id.Nil))
	next := execution.New(head.JobID, nil, execution.WithChain(chain, head.ID))
	if err := s.Store.CreateExecution(ctx, next); err != nil {
		t.Fatal(err)
	}
	s.fail.Store(true)

	em := &timedOut{}
	sw, err := zombie.New(s, sweeperConfig("QUEUED"), em, nil, zombie.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := sw.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	orig, _ := s.GetExecution(ctx, head.ID)
	if orig.Status != execution.StatusFailed || orig.FailStatus != execution.FailTimeout {
		t.Errorf("original = %s/%s, want FAILED/TIMEOUT", orig.Status, orig.FailStatus)
	}
	if got, _ := s.GetExecution(ctx, next.ID); got.Status != execution.StatusFailed {
		t.Errorf("successor = %s, want FAILED", got.Status)
	}

	em.mu.Lock()
	defer em.mu.Unlock()
	if len(em.cures) != 1 || em.cures[0] != execution.StatusFailed {
		t.Errorf("events = %v, want [FAILED]", em.cures)
	}
}

func TestSweep_DisabledWithoutTimeout(t *testing.T) {
	s := memory.New()
	running(t, s, time.Hour)

	cfg := workhorse.DefaultConfig()
	sw, err := zombie.New(s, cfg, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if sw.Enabled() {
		t.Fatal("sweeper enabled without a timeout")
	}
	if n, _ := sw.Sweep(context.Background()); n != 0 {
		t.Errorf("found %d zombies with sweeping disabled", n)
	}
	if err := sw.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := sw.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestNew_RejectsUnknownCure(t *testing.T) {
	_, err := zombie.New(memory.New(), sweeperConfig("LOST"), nil, nil)
	if !errors.Is(err, workhorse.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}
