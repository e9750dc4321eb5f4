// Package queue enforces the per-job dispatch rate.
//
// A job with MaxPerMinute > 0 gets a token-bucket limiter
// (golang.org/x/time/rate) releasing one token every minute/MaxPerMinute
// with a burst of one. Workers call [Manager.Wait] before pulling the next
// execution, so the pool as a whole never exceeds the job's rate no matter
// how many threads it runs.
//
//	m := queue.NewManager()
//	m.Configure(j.ID, j.MaxPerMinute)
//	if err := m.Wait(ctx, j.ID); err != nil {
//	    return // stopping
//	}
//	m.MarkDispatched(j.ID)
//
// Jobs without a limit pass Wait immediately. The dispatched counter is
// maintained with atomic operations and read by Stats.
package queue
