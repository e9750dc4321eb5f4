package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/id"
)

// allExecsKey is the Sorted Set of every execution, scored by creation time.
func (s *Store) allExecsKey() string { return s.prefix + "exec_ids" }

// CreateExecution stores the execution as a Hash and indexes it.
func (s *Store) CreateExecution(ctx context.Context, e *execution.Execution) error {
	key := s.execKey(e.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("workhorse/redis: create execution check exists: %w", err)
	}
	if exists > 0 {
		return workhorse.ErrExecutionAlreadyExists
	}

	pipe := s.client.TxPipeline()
	s.writeExecution(ctx, pipe, e)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("workhorse/redis: create execution: %w", err)
	}

	if e.Status == execution.StatusQueued {
		s.notifyQueued(ctx, e.JobID)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *Store) GetExecution(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	vals, err := s.client.HGetAll(ctx, s.execKey(execID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("workhorse/redis: get execution: %w", err)
	}
	if len(vals) == 0 {
		return nil, workhorse.ErrExecutionNotFound
	}
	return mapToExecution(vals)
}

// UpdateExecution replaces the stored execution unconditionally.
func (s *Store) UpdateExecution(ctx context.Context, e *execution.Execution) error {
	exists, err := s.client.Exists(ctx, s.execKey(e.ID.String())).Result()
	if err != nil {
		return fmt.Errorf("workhorse/redis: update execution: %w", err)
	}
	if exists == 0 {
		return workhorse.ErrExecutionNotFound
	}

	pipe := s.client.TxPipeline()
	s.writeExecution(ctx, pipe, e)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("workhorse/redis: update execution: %w", err)
	}
	return nil
}

// UpdateExecutionIf replaces the stored execution only while its status
// equals expected. The status is read under WATCH so a concurrent writer
// aborts the transaction.
func (s *Store) UpdateExecutionIf(ctx context.Context, e *execution.Execution, expected execution.Status) error {
	key := s.execKey(e.ID.String())

	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		status, err := tx.HGet(ctx, key, "status").Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return workhorse.ErrExecutionNotFound
			}
			return err
		}
		if execution.Status(status) != expected {
			return workhorse.ErrExecutionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			s.writeExecution(ctx, pipe, e)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, workhorse.ErrExecutionNotFound), errors.Is(err, workhorse.ErrExecutionConflict):
		return err
	case errors.Is(err, goredis.TxFailedErr):
		return workhorse.ErrExecutionConflict
	default:
		return fmt.Errorf("workhorse/redis: update execution if: %w", err)
	}
}

// DeleteExecution removes an execution and its index entries.
func (s *Store) DeleteExecution(ctx context.Context, execID id.ExecutionID) error {
	e, err := s.GetExecution(ctx, execID)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	s.removeExecution(ctx, pipe, e)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("workhorse/redis: delete execution: %w", err)
	}
	return nil
}

// PollExecutions returns due QUEUED executions of the job whose chain
// predecessor, if any, has FINISHED. Priority first, then oldest first.
func (s *Store) PollExecutions(ctx context.Context, jobID id.JobID, now time.Time, limit int) ([]*execution.Execution, error) {
	members, err := s.client.ZRange(ctx, s.queuedKey(jobID.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("workhorse/redis: poll executions: %w", err)
	}
	queued, err := s.loadExecutions(ctx, members)
	if err != nil {
		return nil, err
	}
	sortByCreated(queued)

	var due []*execution.Execution
	for _, e := range queued {
		if e.Status != execution.StatusQueued {
			continue
		}
		if e.PlannedFor != nil && e.PlannedFor.After(now) {
			continue
		}
		if !e.ChainPreviousID.IsNil() {
			blocked, blockErr := s.predecessorPending(ctx, e.ChainPreviousID)
			if blockErr != nil {
				return nil, blockErr
			}
			if blocked {
				continue
			}
		}
		due = append(due, e)
	}

	sort.SliceStable(due, func(a, b int) bool { return due[a].Priority && !due[b].Priority })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// predecessorPending reports whether the chain predecessor exists and has
// not FINISHED.
func (s *Store) predecessorPending(ctx context.Context, prevID id.ExecutionID) (bool, error) {
	status, err := s.client.HGet(ctx, s.execKey(prevID.String()), "status").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("workhorse/redis: poll chain predecessor: %w", err)
	}
	return execution.Status(status) != execution.StatusFinished, nil
}

// ListExecutions returns executions matching opts, oldest first.
func (s *Store) ListExecutions(ctx context.Context, opts execution.ListOpts) ([]*execution.Execution, error) {
	var indexKey string
	switch {
	case !opts.BatchID.IsNil():
		indexKey = s.batchKey(opts.BatchID.String())
	case !opts.ChainID.IsNil():
		indexKey = s.chainKey(opts.ChainID.String())
	case !opts.JobID.IsNil() && opts.Status == execution.StatusQueued:
		indexKey = s.queuedKey(opts.JobID.String())
	case !opts.JobID.IsNil():
		indexKey = s.jobExecsKey(opts.JobID.String())
	default:
		indexKey = s.allExecsKey()
	}

	members, err := s.client.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("workhorse/redis: list executions: %w", err)
	}
	loaded, err := s.loadExecutions(ctx, members)
	if err != nil {
		return nil, err
	}
	sortByCreated(loaded)

	result := make([]*execution.Execution, 0, len(loaded))
	for _, e := range loaded {
		if !opts.JobID.IsNil() && e.JobID.String() != opts.JobID.String() {
			continue
		}
		if opts.Status != "" && e.Status != opts.Status {
			continue
		}
		if !opts.BatchID.IsNil() && e.BatchID.String() != opts.BatchID.String() {
			continue
		}
		if !opts.ChainID.IsNil() && e.ChainID.String() != opts.ChainID.String() {
			continue
		}
		result = append(result, e)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return []*execution.Execution{}, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// CountExecutions returns the number of executions matching opts.
func (s *Store) CountExecutions(ctx context.Context, opts execution.CountOpts) (int64, error) {
	if !opts.JobID.IsNil() && opts.Status == execution.StatusQueued {
		n, err := s.client.ZCard(ctx, s.queuedKey(opts.JobID.String())).Result()
		if err != nil {
			return 0, fmt.Errorf("workhorse/redis: count executions: %w", err)
		}
		return n, nil
	}

	list, err := s.ListExecutions(ctx, execution.ListOpts{JobID: opts.JobID, Status: opts.Status})
	if err != nil {
		return 0, err
	}
	return int64(len(list)), nil
}

// ListTimedOutExecutions returns RUNNING executions started before cutoff.
func (s *Store) ListTimedOutExecutions(ctx context.Context, cutoff time.Time) ([]*execution.Execution, error) {
	members, err := s.client.ZRangeByScore(ctx, s.runningKey(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.UnixMicro(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("workhorse/redis: list timed out executions: %w", err)
	}
	loaded, err := s.loadExecutions(ctx, members)
	if err != nil {
		return nil, err
	}

	result := make([]*execution.Execution, 0, len(loaded))
	for _, e := range loaded {
		if e.Status == execution.StatusRunning && e.StartedAt != nil && e.StartedAt.Before(cutoff) {
			result = append(result, e)
		}
	}
	sortByCreated(result)
	return result, nil
}

// FindQueuedByParametersHash returns the oldest QUEUED execution of the job
// carrying hash.
func (s *Store) FindQueuedByParametersHash(ctx context.Context, jobID id.JobID, hash string) (*execution.Execution, error) {
	list, err := s.ListExecutions(ctx, execution.ListOpts{JobID: jobID, Status: execution.StatusQueued})
	if err != nil {
		return nil, err
	}
	for _, e := range list {
		if e.ParametersHash == hash {
			return e, nil
		}
	}
	return nil, workhorse.ErrExecutionNotFound
}

// DeleteExecutionsBefore deletes terminal executions of the job that ended
// before the given time.
func (s *Store) DeleteExecutionsBefore(ctx context.Context, jobID id.JobID, before time.Time) (int64, error) {
	list, err := s.ListExecutions(ctx, execution.ListOpts{JobID: jobID})
	if err != nil {
		return 0, err
	}

	pipe := s.client.TxPipeline()
	var count int64
	for _, e := range list {
		if !e.Status.IsTerminal() {
			continue
		}
		ended := e.UpdatedAt
		if e.EndedAt != nil {
			ended = *e.EndedAt
		}
		if !ended.Before(before) {
			continue
		}
		s.removeExecution(ctx, pipe, e)
		count++
	}
	if count == 0 {
		return 0, nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("workhorse/redis: delete executions before: %w", err)
	}
	return count, nil
}

// writeExecution queues the commands that store e and bring every index in
// line with its status.
func (s *Store) writeExecution(ctx context.Context, pipe goredis.Pipeliner, e *execution.Execution) {
	eID := e.ID.String()
	jID := e.JobID.String()
	key := s.execKey(eID)
	created := goredis.Z{Score: float64(e.CreatedAt.UnixMicro()), Member: eID}

	// Absent fields decode as unset, so the hash is rewritten whole.
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, execToMap(e))
	pipe.ZAdd(ctx, s.allExecsKey(), created)
	pipe.ZAdd(ctx, s.jobExecsKey(jID), created)
	if !e.BatchID.IsNil() {
		pipe.ZAdd(ctx, s.batchKey(e.BatchID.String()), created)
	}
	if !e.ChainID.IsNil() {
		pipe.ZAdd(ctx, s.chainKey(e.ChainID.String()), created)
	}

	switch e.Status {
	case execution.StatusQueued:
		pipe.ZAdd(ctx, s.queuedKey(jID), created)
		pipe.ZRem(ctx, s.runningKey(), eID)
	case execution.StatusRunning:
		pipe.ZRem(ctx, s.queuedKey(jID), eID)
		started := e.CreatedAt
		if e.StartedAt != nil {
			started = *e.StartedAt
		}
		pipe.ZAdd(ctx, s.runningKey(), goredis.Z{Score: float64(started.UnixMicro()), Member: eID})
	default:
		pipe.ZRem(ctx, s.queuedKey(jID), eID)
		pipe.ZRem(ctx, s.runningKey(), eID)
	}
}

func (s *Store) removeExecution(ctx context.Context, pipe goredis.Pipeliner, e *execution.Execution) {
	eID := e.ID.String()
	jID := e.JobID.String()

	pipe.Del(ctx, s.execKey(eID))
	pipe.ZRem(ctx, s.allExecsKey(), eID)
	pipe.ZRem(ctx, s.jobExecsKey(jID), eID)
	pipe.ZRem(ctx, s.queuedKey(jID), eID)
	pipe.ZRem(ctx, s.runningKey(), eID)
	if !e.BatchID.IsNil() {
		pipe.ZRem(ctx, s.batchKey(e.BatchID.String()), eID)
	}
	if !e.ChainID.IsNil() {
		pipe.ZRem(ctx, s.chainKey(e.ChainID.String()), eID)
	}
}

// loadExecutions fetches the hashes of ids in one round trip. IDs whose
// hash has disappeared are skipped.
func (s *Store) loadExecutions(ctx context.Context, ids []string) ([]*execution.Execution, error) {
	if len(ids) == 0 {
		return []*execution.Execution{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, eID := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.execKey(eID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("workhorse/redis: load executions: %w", err)
	}

	result := make([]*execution.Execution, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue
		}
		e, err := mapToExecution(vals)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, nil
}

func sortByCreated(list []*execution.Execution) {
	sort.SliceStable(list, func(a, b int) bool {
		if !list[a].CreatedAt.Equal(list[b].CreatedAt) {
			return list[a].CreatedAt.Before(list[b].CreatedAt)
		}
		return list[a].ID.String() < list[b].ID.String()
	})
}

func execToMap(e *execution.Execution) map[string]interface{} {
	m := map[string]interface{}{
		"id":              e.ID.String(),
		"job_id":          e.JobID.String(),
		"status":          string(e.Status),
		"fail_status":     string(e.FailStatus),
		"duration":        strconv.FormatInt(int64(e.Duration), 10),
		"priority":        boolToStr(e.Priority),
		"parameters_hash": e.ParametersHash,
		"fail_retry":      strconv.Itoa(e.FailRetry),
		"fail_message":    e.FailMessage,
		"fail_stacktrace": e.FailStacktrace,
		"summary":         e.Summary,
		"created_at":      e.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":      e.UpdatedAt.Format(time.RFC3339Nano),
	}
	if len(e.Parameters) > 0 {
		m["parameters"] = string(e.Parameters)
	}
	setTime(m, "started_at", e.StartedAt)
	setTime(m, "ended_at", e.EndedAt)
	setTime(m, "planned_for", e.PlannedFor)
	setTime(m, "expires_at", e.ExpiresAt)
	if !e.BatchID.IsNil() {
		m["batch_id"] = e.BatchID.String()
	}
	if !e.ChainID.IsNil() {
		m["chain_id"] = e.ChainID.String()
	}
	if !e.ChainPreviousID.IsNil() {
		m["chain_previous_id"] = e.ChainPreviousID.String()
	}
	if !e.FailRetryExecutionID.IsNil() {
		m["fail_retry_execution_id"] = e.FailRetryExecutionID.String()
	}
	return m
}

func mapToExecution(m map[string]string) (*execution.Execution, error) {
	execID, err := id.ParseExecutionID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("workhorse/redis: parse execution id: %w", err)
	}
	jobID, err := id.ParseJobID(m["job_id"])
	if err != nil {
		return nil, fmt.Errorf("workhorse/redis: parse job id: %w", err)
	}

	duration, _ := strconv.ParseInt(m["duration"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
	failRetry, _ := strconv.Atoi(m["fail_retry"])          //nolint:errcheck // best-effort parse from trusted Redis data

	e := &execution.Execution{
		Entity: workhorse.Entity{
			CreatedAt: parseTime(m["created_at"]),
			UpdatedAt: parseTime(m["updated_at"]),
		},
		ID:             execID,
		JobID:          jobID,
		Status:         execution.Status(m["status"]),
		FailStatus:     execution.FailStatus(m["fail_status"]),
		StartedAt:      parseTimePtr(m["started_at"]),
		EndedAt:        parseTimePtr(m["ended_at"]),
		Duration:       time.Duration(duration),
		Priority:       m["priority"] == "1",
		PlannedFor:     parseTimePtr(m["planned_for"]),
		ExpiresAt:      parseTimePtr(m["expires_at"]),
		ParametersHash: m["parameters_hash"],
		FailRetry:      failRetry,
		FailMessage:    m["fail_message"],
		FailStacktrace: m["fail_stacktrace"],
		Summary:        m["summary"],
	}
	if p := m["parameters"]; p != "" {
		e.Parameters = []byte(p)
	}

	if e.BatchID, err = id.ParseOptional(m["batch_id"], id.PrefixBatch); err != nil {
		return nil, fmt.Errorf("workhorse/redis: parse batch id: %w", err)
	}
	if e.ChainID, err = id.ParseOptional(m["chain_id"], id.PrefixChain); err != nil {
		return nil, fmt.Errorf("workhorse/redis: parse chain id: %w", err)
	}
	if e.ChainPreviousID, err = id.ParseOptional(m["chain_previous_id"], id.PrefixExecution); err != nil {
		return nil, fmt.Errorf("workhorse/redis: parse chain previous id: %w", err)
	}
	if e.FailRetryExecutionID, err = id.ParseOptional(m["fail_retry_execution_id"], id.PrefixExecution); err != nil {
		return nil, fmt.Errorf("workhorse/redis: parse retry execution id: %w", err)
	}
	return e, nil
}

func setTime(m map[string]interface{}, field string, t *time.Time) {
	if t != nil {
		m[field] = t.Format(time.RFC3339Nano)
	}
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s) //nolint:errcheck // best-effort parse from trusted Redis data
	return t.UTC()
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := parseTime(s)
	return &t
}
