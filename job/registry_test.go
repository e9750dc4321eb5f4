package job_test

import (
	"context"
	"errors"
	"testing"
	"time"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

type reportParams struct {
	Region string `json:"region"`
	Limit  int    `json:"limit"`
}

func TestRegisterDefinition_DecodesParameters(t *testing.T) {
	r := job.NewRegistry()

	var got reportParams
	def := job.NewDefinition("report", func(_ context.Context, p reportParams) (string, error) {
		got = p
		return "done " + p.Region, nil
	})
	job.RegisterDefinition(r, def)

	work, ok := r.Get("report")
	if !ok {
		t.Fatal("expected work function to be registered")
	}

	summary, err := work(context.Background(), []byte(`{"region":"eu","limit":5}`))
	if err != nil {
		t.Fatalf("work: %v", err)
	}
	if summary != "done eu" {
		t.Errorf("summary = %q, want %q", summary, "done eu")
	}
	if got.Region != "eu" || got.Limit != 5 {
		t.Errorf("decoded %+v", got)
	}
}

func TestRegisterDefinition_EmptyParameters(t *testing.T) {
	r := job.NewRegistry()
	called := false
	job.RegisterDefinition(r, job.NewDefinition("noop", func(_ context.Context, p reportParams) (string, error) {
		called = true
		if p.Region != "" {
			t.Errorf("expected zero value, got %+v", p)
		}
		return "", nil
	}))

	work, _ := r.Get("noop")
	if _, err := work(context.Background(), nil); err != nil {
		t.Fatalf("work: %v", err)
	}
	if !called {
		t.Fatal("work function not called")
	}
}

func TestRegisterDefinition_BadParameters(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition("strict", func(_ context.Context, _ reportParams) (string, error) {
		t.Fatal("work must not run with undecodable parameters")
		return "", nil
	}))

	work, _ := r.Get("strict")
	if _, err := work(context.Background(), []byte(`{"limit":"many"}`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestRegistry_OptionsAndNames(t *testing.T) {
	r := job.NewRegistry()
	job.RegisterDefinition(r, job.NewDefinition("b", func(context.Context, struct{}) (string, error) { return "", nil },
		job.WithThreads(4),
		job.WithFailRetries(2),
		job.WithRetryDelay(time.Second),
		job.WithSchedule("0 */5 * * * *"),
	))
	job.RegisterDefinition(r, job.NewDefinition("a", func(context.Context, struct{}) (string, error) { return "", nil }))

	names := r.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("Names() = %v", names)
	}

	opts, ok := r.Options("b")
	if !ok {
		t.Fatal("expected options for b")
	}
	if opts.Threads != 4 || opts.FailRetries != 2 || opts.RetryDelay != time.Second || opts.Schedule != "0 */5 * * * *" {
		t.Errorf("unexpected options %+v", opts)
	}

	if _, ok := r.Get("missing"); ok {
		t.Error("expected missing worker to be absent")
	}
}

func TestNew_AppliesOptions(t *testing.T) {
	opts := job.DefaultOptions()
	job.WithInactive()(&opts)
	job.WithMaxPerMinute(30)(&opts)
	job.WithUniqueQueued()(&opts)

	j := job.New("cleanup", opts)
	if j.ID.IsNil() {
		t.Fatal("expected job id")
	}
	if j.Status != job.StatusInactive {
		t.Errorf("status = %s, want INACTIVE", j.Status)
	}
	if j.MaxPerMinute != 30 || !j.UniqueQueued || j.Threads != 1 {
		t.Errorf("unexpected job %+v", j)
	}
	if j.WorkerName() != "cleanup" {
		t.Errorf("WorkerName() = %q", j.WorkerName())
	}
	if err := j.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_Rejects(t *testing.T) {
	j := job.New("x", job.DefaultOptions())
	j.Threads = 0
	if err := j.Validate(); !errors.Is(err, workhorse.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestParseStatus(t *testing.T) {
	if st, err := job.ParseStatus("NO_WORKER"); err != nil || st != job.StatusNoWorker {
		t.Fatalf("ParseStatus(NO_WORKER) = %q, %v", st, err)
	}
	if _, err := job.ParseStatus("paused"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}
