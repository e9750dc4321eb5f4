// Package buffer stages QUEUED execution ids in memory between the store
// and the per-job worker pools.
//
// Each job owns a priority queue, a normal queue and a running set. A
// refill loop polls the store only when the job holds fewer ids than the
// configured low-water mark, and fills up to the high-water mark. Stores
// that announce new executions (execution.Notifier) trigger an immediate
// refill and let the loop fall back to the longer push poll interval.
//
// The buffer is never the source of truth. Workers re-read every pulled
// execution from the store and claim it with a status-checked update, so
// a stale id costs one store read.
package buffer
