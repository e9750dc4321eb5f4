// Package job defines job definitions: the named unit-of-work types that
// executions belong to. A Job carries the dispatch settings (threads,
// rate limit, retries, schedule, retention) and a Registry resolves the
// job's worker name to the Go function that performs the work.
package job
