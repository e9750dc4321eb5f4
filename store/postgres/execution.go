package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/id"
)

const executionColumns = `
	id, job_id, status, fail_status, started_at, ended_at, duration,
	priority, planned_for, expires_at, parameters, parameters_hash,
	batch_id, chain_id, chain_previous_id, fail_retry, fail_retry_execution_id,
	fail_message, fail_stacktrace, summary, created_at, updated_at`

const terminalStatuses = `('FINISHED', 'FAILED', 'ABORTED')`

// CreateExecution persists a new execution. QUEUED executions are
// announced on the queued channel.
func (s *Store) CreateExecution(ctx context.Context, e *execution.Execution) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workhorse_executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22)`,
		e.ID.String(), e.JobID.String(), string(e.Status), string(e.FailStatus),
		e.StartedAt, e.EndedAt, e.Duration.Nanoseconds(),
		e.Priority, e.PlannedFor, e.ExpiresAt, []byte(e.Parameters), e.ParametersHash,
		nullableID(e.BatchID), nullableID(e.ChainID), nullableID(e.ChainPreviousID),
		e.FailRetry, nullableID(e.FailRetryExecutionID),
		e.FailMessage, e.FailStacktrace, e.Summary, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return workhorse.ErrExecutionAlreadyExists
		}
		return fmt.Errorf("workhorse/postgres: create execution: %w", err)
	}

	if e.Status == execution.StatusQueued {
		s.notifyQueued(ctx, e.JobID)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *Store) GetExecution(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM workhorse_executions WHERE id = $1`,
		execID.String(),
	)
	e, err := scanExecution(row)
	if err != nil {
		if isNoRows(err) {
			return nil, workhorse.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("workhorse/postgres: get execution: %w", err)
	}
	return e, nil
}

const updateExecution = `
	UPDATE workhorse_executions SET
		job_id = $2, status = $3, fail_status = $4, started_at = $5,
		ended_at = $6, duration = $7, priority = $8, planned_for = $9,
		expires_at = $10, parameters = $11, parameters_hash = $12,
		batch_id = $13, chain_id = $14, chain_previous_id = $15,
		fail_retry = $16, fail_retry_execution_id = $17, fail_message = $18,
		fail_stacktrace = $19, summary = $20, updated_at = $21
	WHERE id = $1`

func updateArgs(e *execution.Execution) []any {
	return []any{
		e.ID.String(), e.JobID.String(), string(e.Status), string(e.FailStatus),
		e.StartedAt, e.EndedAt, e.Duration.Nanoseconds(), e.Priority,
		e.PlannedFor, e.ExpiresAt, []byte(e.Parameters), e.ParametersHash,
		nullableID(e.BatchID), nullableID(e.ChainID), nullableID(e.ChainPreviousID),
		e.FailRetry, nullableID(e.FailRetryExecutionID), e.FailMessage,
		e.FailStacktrace, e.Summary, e.UpdatedAt,
	}
}

// UpdateExecution persists changes unconditionally.
func (s *Store) UpdateExecution(ctx context.Context, e *execution.Execution) error {
	tag, err := s.pool.Exec(ctx, updateExecution, updateArgs(e)...)
	if err != nil {
		return fmt.Errorf("workhorse/postgres: update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return workhorse.ErrExecutionNotFound
	}
	return nil
}

// UpdateExecutionIf persists changes only while the stored status equals
// expected. The row condition makes the check and the write one atomic
// statement.
func (s *Store) UpdateExecutionIf(ctx context.Context, e *execution.Execution, expected execution.Status) error {
	args := append(updateArgs(e), string(expected))
	tag, err := s.pool.Exec(ctx, updateExecution+` AND status = $22`, args...)
	if err != nil {
		return fmt.Errorf("workhorse/postgres: update execution if: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM workhorse_executions WHERE id = $1)`,
		e.ID.String(),
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("workhorse/postgres: update execution if: %w", err)
	}
	if !exists {
		return workhorse.ErrExecutionNotFound
	}
	return workhorse.ErrExecutionConflict
}

// DeleteExecution removes an execution by ID.
func (s *Store) DeleteExecution(ctx context.Context, execID id.ExecutionID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM workhorse_executions WHERE id = $1`, execID.String())
	if err != nil {
		return fmt.Errorf("workhorse/postgres: delete execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return workhorse.ErrExecutionNotFound
	}
	return nil
}

// PollExecutions returns due QUEUED executions of the job whose chain
// predecessor, if any, has FINISHED. Priority first, then oldest first.
func (s *Store) PollExecutions(ctx context.Context, jobID id.JobID, now time.Time, limit int) ([]*execution.Execution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM workhorse_executions e
		WHERE e.job_id = $1
		  AND e.status = 'QUEUED'
		  AND (e.planned_for IS NULL OR e.planned_for <= $2)
		  AND NOT EXISTS (
			SELECT 1 FROM workhorse_executions p
			WHERE p.id = e.chain_previous_id AND p.status <> 'FINISHED'
		  )
		ORDER BY e.priority DESC, e.created_at ASC, e.id ASC`
	args := []any{jobID.String(), now}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	return s.queryExecutions(ctx, "poll executions", query, args...)
}

// ListExecutions returns executions matching opts, oldest first.
func (s *Store) ListExecutions(ctx context.Context, opts execution.ListOpts) ([]*execution.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM workhorse_executions WHERE 1=1`
	var args []any
	argIdx := 1

	if !opts.JobID.IsNil() {
		query += fmt.Sprintf(" AND job_id = $%d", argIdx)
		args = append(args, opts.JobID.String())
		argIdx++
	}
	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
		argIdx++
	}
	if !opts.BatchID.IsNil() {
		query += fmt.Sprintf(" AND batch_id = $%d", argIdx)
		args = append(args, opts.BatchID.String())
		argIdx++
	}
	if !opts.ChainID.IsNil() {
		query += fmt.Sprintf(" AND chain_id = $%d", argIdx)
		args = append(args, opts.ChainID.String())
		argIdx++
	}

	query += " ORDER BY created_at ASC, id ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return s.queryExecutions(ctx, "list executions", query, args...)
}

// CountExecutions returns the number of executions matching opts.
func (s *Store) CountExecutions(ctx context.Context, opts execution.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM workhorse_executions WHERE 1=1`
	var args []any
	argIdx := 1

	if !opts.JobID.IsNil() {
		query += fmt.Sprintf(" AND job_id = $%d", argIdx)
		args = append(args, opts.JobID.String())
		argIdx++
	}
	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("workhorse/postgres: count executions: %w", err)
	}
	return count, nil
}

// ListTimedOutExecutions returns RUNNING executions started before cutoff.
func (s *Store) ListTimedOutExecutions(ctx context.Context, cutoff time.Time) ([]*execution.Execution, error) {
	return s.queryExecutions(ctx, "list timed out executions", `
		SELECT `+executionColumns+`
		FROM workhorse_executions
		WHERE status = 'RUNNING' AND started_at < $1
		ORDER BY created_at ASC, id ASC`,
		cutoff,
	)
}

// FindQueuedByParametersHash returns the oldest QUEUED execution of the job
// carrying hash.
func (s *Store) FindQueuedByParametersHash(ctx context.Context, jobID id.JobID, hash string) (*execution.Execution, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+executionColumns+`
		FROM workhorse_executions
		WHERE job_id = $1 AND status = 'QUEUED' AND parameters_hash = $2
		ORDER BY created_at ASC, id ASC
		LIMIT 1`,
		jobID.String(), hash,
	)
	e, err := scanExecution(row)
	if err != nil {
		if isNoRows(err) {
			return nil, workhorse.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("workhorse/postgres: find queued by hash: %w", err)
	}
	return e, nil
}

// DeleteExecutionsBefore deletes terminal executions of the job that ended
// before the given time.
func (s *Store) DeleteExecutionsBefore(ctx context.Context, jobID id.JobID, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM workhorse_executions
		WHERE job_id = $1
		  AND status IN `+terminalStatuses+`
		  AND COALESCE(ended_at, updated_at) < $2`,
		jobID.String(), before,
	)
	if err != nil {
		return 0, fmt.Errorf("workhorse/postgres: delete executions before: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) queryExecutions(ctx context.Context, op, query string, args ...any) ([]*execution.Execution, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("workhorse/postgres: %s: %w", op, err)
	}
	defer rows.Close()

	result := make([]*execution.Execution, 0)
	for rows.Next() {
		e, scanErr := scanExecution(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("workhorse/postgres: scan execution row: %w", scanErr)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("workhorse/postgres: iterate execution rows: %w", err)
	}
	return result, nil
}

// scanExecution scans a single execution row.
func scanExecution(row pgx.Row) (*execution.Execution, error) {
	var (
		e                           execution.Execution
		idStr, jobStr               string
		statusStr, failStr          string
		duration                    int64
		params                      []byte
		batch, chain, prev, retryID *string
	)
	err := row.Scan(
		&idStr, &jobStr, &statusStr, &failStr, &e.StartedAt, &e.EndedAt, &duration,
		&e.Priority, &e.PlannedFor, &e.ExpiresAt, &params, &e.ParametersHash,
		&batch, &chain, &prev, &e.FailRetry, &retryID,
		&e.FailMessage, &e.FailStacktrace, &e.Summary, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if e.ID, err = id.ParseExecutionID(idStr); err != nil {
		return nil, fmt.Errorf("workhorse/postgres: parse execution id %q: %w", idStr, err)
	}
	if e.JobID, err = id.ParseJobID(jobStr); err != nil {
		return nil, fmt.Errorf("workhorse/postgres: parse job id %q: %w", jobStr, err)
	}
	if e.BatchID, err = optionalID(batch, id.PrefixBatch); err != nil {
		return nil, fmt.Errorf("workhorse/postgres: parse batch id: %w", err)
	}
	if e.ChainID, err = optionalID(chain, id.PrefixChain); err != nil {
		return nil, fmt.Errorf("workhorse/postgres: parse chain id: %w", err)
	}
	if e.ChainPreviousID, err = optionalID(prev, id.PrefixExecution); err != nil {
		return nil, fmt.Errorf("workhorse/postgres: parse chain previous id: %w", err)
	}
	if e.FailRetryExecutionID, err = optionalID(retryID, id.PrefixExecution); err != nil {
		return nil, fmt.Errorf("workhorse/postgres: parse retry execution id: %w", err)
	}

	e.Status = execution.Status(statusStr)
	e.FailStatus = execution.FailStatus(failStr)
	e.Duration = time.Duration(duration)
	if len(params) > 0 {
		e.Parameters = params
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}
