package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/coodoo-workhorse/workhorse-sub001/id"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
)

// FireFunc is called each time a job's schedule fires. The engine
// provides the implementation, which keeps this package free of store
// and buffer imports.
type FireFunc func(ctx context.Context, j *job.Job, firedAt time.Time) error

// Emitter emits schedule lifecycle events.
// ext.Registry satisfies this interface via EmitScheduleFired.
type Emitter interface {
	EmitScheduleFired(ctx context.Context, j *job.Job, firedAt time.Time)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock overrides the time source used to compute the next fire.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// entry is a running schedule.
type entry struct {
	job      *job.Job
	schedule cronlib.Schedule
	stop     chan struct{}
	done     chan struct{}

	mu   sync.Mutex
	next time.Time
}

func (e *entry) setNext(t time.Time) {
	e.mu.Lock()
	e.next = t
	e.mu.Unlock()
}

func (e *entry) getNext() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.next
}

// Scheduler runs one timer per scheduled job.
type Scheduler struct {
	fire    FireFunc
	emitter Emitter
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries map[id.JobID]*entry
}

// NewScheduler creates a Scheduler.
func NewScheduler(fire FireFunc, emitter Emitter, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		fire:    fire,
		emitter: emitter,
		logger:  logger,
		now:     time.Now,
		entries: make(map[id.JobID]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins firing j's schedule. It is a no-op when j is already
// scheduled or has no schedule. An invalid expression returns an error
// wrapping workhorse.ErrInvalidSchedule.
func (s *Scheduler) Start(j *job.Job) error {
	if j.Schedule == "" {
		return nil
	}
	sched, err := ParseSchedule(j.Schedule)
	if err != nil {
		return fmt.Errorf("job %q: %w", j.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[j.ID]; ok {
		return nil
	}

	jc := *j
	e := &entry{
		job:      &jc,
		schedule: sched,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.entries[j.ID] = e
	go s.run(e)

	s.logger.Info("schedule started",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.String("schedule", j.Schedule),
	)
	return nil
}

// Stop cancels the schedule of jobID and waits for its timer goroutine.
// Stopping an unscheduled job is a no-op.
func (s *Scheduler) Stop(jobID id.JobID) {
	s.mu.Lock()
	e, ok := s.entries[jobID]
	delete(s.entries, jobID)
	s.mu.Unlock()
	if !ok {
		return
	}

	close(e.stop)
	<-e.done
	s.logger.Info("schedule stopped", slog.String("job_id", jobID.String()))
}

// StopAll cancels every schedule.
func (s *Scheduler) StopAll() {
	for _, jobID := range s.Scheduled() {
		s.Stop(jobID)
	}
}

// Scheduled returns the ids of scheduled jobs, sorted.
func (s *Scheduler) Scheduled() []id.JobID {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]id.JobID, 0, len(s.entries))
	for jobID := range s.entries {
		ids = append(ids, jobID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

// NextFire returns the pending fire time of jobID.
func (s *Scheduler) NextFire(jobID id.JobID) (time.Time, bool) {
	s.mu.Lock()
	e, ok := s.entries[jobID]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	next := e.getNext()
	return next, !next.IsZero()
}

func (s *Scheduler) run(e *entry) {
	defer close(e.done)

	var last time.Time
	for {
		now := s.now()
		from := now
		// Never fire the same instant twice if the wall clock lags the timer.
		if from.Before(last) {
			from = last
		}
		next := e.schedule.Next(from)
		if next.IsZero() {
			return
		}
		e.setNext(next)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-e.stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		last = next
		s.fireEntry(e, next)
	}
}

func (s *Scheduler) fireEntry(e *entry, firedAt time.Time) {
	ctx := context.Background()

	if err := s.fire(ctx, e.job, firedAt); err != nil {
		s.logger.Error("schedule fire error",
			slog.String("job_id", e.job.ID.String()),
			slog.String("job_name", e.job.Name),
			slog.String("error", err.Error()),
		)
	}

	if s.emitter != nil {
		s.emitter.EmitScheduleFired(ctx, e.job, firedAt)
	}

	s.logger.Debug("schedule fired",
		slog.String("job_id", e.job.ID.String()),
		slog.String("job_name", e.job.Name),
		slog.Time("fired_at", firedAt),
	)
}
