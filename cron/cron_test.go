package cron_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/cron"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

// stubEmitter records EmitScheduleFired calls.
type stubEmitter struct {
	mu    sync.Mutex
	fired []string
}

func (e *stubEmitter) EmitScheduleFired(_ context.Context, j *job.Job, _ time.Time) {
	e.mu.Lock()
	e.fired = append(e.fired, j.Name)
	e.mu.Unlock()
}

func (e *stubEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.fired)
}

// fireSpy counts fire callbacks.
type fireSpy struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fireSpy) Fn() cron.FireFunc {
	return func(context.Context, *job.Job, time.Time) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls++
		return f.err
	}
}

func (f *fireSpy) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func scheduledJob(expr string) *job.Job {
	opts := job.DefaultOptions()
	opts.Schedule = expr
	return job.New("tick", opts)
}

func TestNextTimes_EveryFiveMinutesWithSeconds(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := cron.NextTimes("0 */5 * * * *", 3, from)
	if err != nil {
		t.Fatalf("NextTimes: %v", err)
	}
	want := []time.Time{
		time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 10, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 0, 15, 0, 0, time.UTC),
	}
	if len(got) != len(want) {
		t.Fatalf("got %d times, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("time %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestParseSchedule_AcceptsFiveFieldsAndDescriptors(t *testing.T) {
	for _, expr := range []string{"*/5 * * * *", "0 0 * * * *", "@hourly", "@every 30s"} {
		if _, err := cron.ParseSchedule(expr); err != nil {
			t.Errorf("ParseSchedule(%q): %v", expr, err)
		}
	}
}

func TestParseSchedule_Invalid(t *testing.T) {
	_, err := cron.ParseSchedule("not a cron")
	if !errors.Is(err, workhorse.ErrInvalidSchedule) {
		t.Fatalf("err = %v, want ErrInvalidSchedule", err)
	}
}

func TestNextTimeAfter(t *testing.T) {
	from := time.Date(2024, 3, 10, 8, 59, 30, 0, time.UTC)
	got, err := cron.NextTimeAfter("0 0 9 * * *", from)
	if err != nil {
		t.Fatalf("NextTimeAfter: %v", err)
	}
	if want := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestTimesBetween(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC)

	got, err := cron.TimesBetween("0 */15 * * * *", start, end)
	if err != nil {
		t.Fatalf("TimesBetween: %v", err)
	}
	// Start is exclusive, end inclusive.
	if len(got) != 4 {
		t.Fatalf("got %d times, want 4: %v", len(got), got)
	}
	if !got[3].Equal(end) {
		t.Errorf("last = %s, want %s", got[3], end)
	}

	if _, err := cron.TimesBetween("@every 1s", end, start); !errors.Is(err, workhorse.ErrInvalidSchedule) {
		t.Errorf("reversed range err = %v, want ErrInvalidSchedule", err)
	}
}

func TestTimesBetween_Capped(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := cron.TimesBetween("* * * * * *", start, start.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("TimesBetween: %v", err)
	}
	if len(got) != cron.MaxTimes {
		t.Errorf("got %d times, want cap %d", len(got), cron.MaxTimes)
	}
}

func TestScheduler_FiresAndEmits(t *testing.T) {
	spy := &fireSpy{}
	emitter := &stubEmitter{}
	s := cron.NewScheduler(spy.Fn(), emitter, nil)

	j := scheduledJob("@every 50ms")
	if err := s.Start(j); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.StopAll()

	deadline := time.Now().Add(2 * time.Second)
	for spy.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if spy.count() < 2 {
		t.Fatalf("fired %d times, want at least 2", spy.count())
	}
	if emitter.count() < 2 {
		t.Errorf("emitted %d times, want at least 2", emitter.count())
	}
}

func TestScheduler_FireErrorStillEmits(t *testing.T) {
	spy := &fireSpy{err: errors.New("store down")}
	emitter := &stubEmitter{}
	s := cron.NewScheduler(spy.Fn(), emitter, nil)

	if err := s.Start(scheduledJob("@every 20ms")); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.StopAll()

	deadline := time.Now().Add(2 * time.Second)
	for emitter.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if emitter.count() < 1 {
		t.Fatal("expected the hook to fire despite the callback error")
	}
}

func TestScheduler_StartStopIdempotent(t *testing.T) {
	spy := &fireSpy{}
	s := cron.NewScheduler(spy.Fn(), nil, nil)
	j := scheduledJob("0 0 0 1 1 *")

	if err := s.Start(j); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(j); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if got := s.Scheduled(); len(got) != 1 {
		t.Fatalf("scheduled = %d, want 1", len(got))
	}

	s.Stop(j.ID)
	s.Stop(j.ID)
	if got := s.Scheduled(); len(got) != 0 {
		t.Fatalf("scheduled = %d after Stop, want 0", len(got))
	}
	if _, ok := s.NextFire(j.ID); ok {
		t.Error("NextFire reported a stopped job")
	}
}

func TestScheduler_RejectsInvalidAndIgnoresEmpty(t *testing.T) {
	s := cron.NewScheduler((&fireSpy{}).Fn(), nil, nil)

	if err := s.Start(scheduledJob("61 * * * * *")); !errors.Is(err, workhorse.ErrInvalidSchedule) {
		t.Fatalf("err = %v, want ErrInvalidSchedule", err)
	}
	if err := s.Start(job.New("manual", job.DefaultOptions())); err != nil {
		t.Fatalf("Start without schedule: %v", err)
	}
	if len(s.Scheduled()) != 0 {
		t.Error("jobs without a valid schedule must not be scheduled")
	}
}
