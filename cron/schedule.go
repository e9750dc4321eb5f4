package cron

import (
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
)

// MaxTimes caps the number of fire times a single query returns.
const MaxTimes = 10000

// cronParser supports an optional seconds field, the five standard fields
// and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.SecondOptional | cronlib.Minute | cronlib.Hour | cronlib.Dom |
		cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression. Errors wrap
// workhorse.ErrInvalidSchedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", workhorse.ErrInvalidSchedule, expr, err)
	}
	return sched, nil
}

// NextTimeAfter returns the first fire time strictly after from.
func NextTimeAfter(expr string, from time.Time) (time.Time, error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return time.Time{}, err
	}
	next := sched.Next(from)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q never fires", workhorse.ErrInvalidSchedule, expr)
	}
	return next, nil
}

// NextTimes returns the next n fire times after from, at most MaxTimes.
func NextTimes(expr string, n int, from time.Time) ([]time.Time, error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	n = min(n, MaxTimes)

	times := make([]time.Time, 0, max(n, 0))
	t := from
	for len(times) < n {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		times = append(times, t)
	}
	return times, nil
}

// TimesBetween returns the fire times in (start, end], at most MaxTimes.
func TimesBetween(expr string, start, end time.Time) ([]time.Time, error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s is before start %s", workhorse.ErrInvalidSchedule,
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	var times []time.Time
	t := start
	for len(times) < MaxTimes {
		t = sched.Next(t)
		if t.IsZero() || t.After(end) {
			break
		}
		times = append(times, t)
	}
	return times, nil
}
