// Package cron drives schedule-based creation of executions.
//
// Schedules are cron expressions parsed with robfig/cron. Six-field
// expressions carry a leading seconds field ("0 */5 * * * *"); standard
// five-field expressions and descriptors such as "@hourly" or
// "@every 30s" are accepted as well.
//
// # Scheduler
//
// The [Scheduler] runs one timer goroutine per scheduled job. Each time a
// timer fires the scheduler calls its [FireFunc], which creates the
// execution and applies the job's unique-in-queue setting, then emits the
// ScheduleFired hook. Start and Stop are idempotent per job; changing a
// schedule is a Stop followed by a Start.
//
// # Queries
//
// [NextTimeAfter], [NextTimes] and [TimesBetween] evaluate an expression
// without any side effects and back the management surface.
package cron
