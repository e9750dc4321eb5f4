package redis

// Redis key naming conventions for workhorse data. Every key carries the
// store prefix, "workhorse:" unless configured otherwise.

const defaultPrefix = "workhorse:"

// ── Job keys ──

// jobKey returns the Hash key for a job entity: {prefix}job:{id}
func (s *Store) jobKey(id string) string { return s.prefix + "job:" + id }

// jobIDsKey is the Set tracking all job IDs for enumeration.
func (s *Store) jobIDsKey() string { return s.prefix + "job_ids" }

// jobNamesKey maps job names to IDs for uniqueness and lookup by name.
func (s *Store) jobNamesKey() string { return s.prefix + "job_names" }

// ── Execution keys ──

// execKey returns the Hash key for an execution: {prefix}exec:{id}
func (s *Store) execKey(id string) string { return s.prefix + "exec:" + id }

// jobExecsKey is the Sorted Set of all executions of a job, scored by
// creation time.
func (s *Store) jobExecsKey(jobID string) string { return s.prefix + "job_execs:" + jobID }

// queuedKey is the Sorted Set of QUEUED executions of a job, scored by
// creation time.
func (s *Store) queuedKey(jobID string) string { return s.prefix + "queued:" + jobID }

// batchKey is the Sorted Set of a batch's members.
func (s *Store) batchKey(batchID string) string { return s.prefix + "batch:" + batchID }

// chainKey is the Sorted Set of a chain's members.
func (s *Store) chainKey(chainID string) string { return s.prefix + "chain:" + chainID }

// runningKey is the Sorted Set of RUNNING executions scored by start time.
func (s *Store) runningKey() string { return s.prefix + "running" }

// queuedChannel is the Pub/Sub channel announcing new QUEUED executions.
func (s *Store) queuedChannel() string { return s.prefix + "queued" }
