package engine

import (
	"time"

	"github.com/coodoo-workhorse/workhorse-sub001/cron"
)

// NextScheduledTimes returns the next n fire times of expr after from.
func (eng *Engine) NextScheduledTimes(expr string, n int, from time.Time) ([]time.Time, error) {
	return cron.NextTimes(expr, n, from)
}

// ScheduledTimesBetween returns the fire times of expr in (start, end].
func (eng *Engine) ScheduledTimesBetween(expr string, start, end time.Time) ([]time.Time, error) {
	return cron.TimesBetween(expr, start, end)
}
