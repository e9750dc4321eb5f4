package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/id"
)

var terminalStatuses = []string{
	string(execution.StatusFinished),
	string(execution.StatusFailed),
	string(execution.StatusAborted),
}

// CreateExecution persists a new execution.
func (s *Store) CreateExecution(ctx context.Context, e *execution.Execution) error {
	_, err := s.db.NewInsert().Model(toExecutionModel(e)).Exec(ctx)
	if err != nil {
		if isConstraint(err) {
			return workhorse.ErrExecutionAlreadyExists
		}
		return fmt.Errorf("workhorse/sqlite: create execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *Store) GetExecution(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	m := new(executionModel)
	err := s.db.NewSelect().Model(m).Where("e.id = ?", execID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, workhorse.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("workhorse/sqlite: get execution: %w", err)
	}
	return fromExecutionModel(m)
}

// UpdateExecution persists changes unconditionally.
func (s *Store) UpdateExecution(ctx context.Context, e *execution.Execution) error {
	q := s.db.NewUpdate().Model(toExecutionModel(e)).ExcludeColumn("created_at").WherePK()
	n, err := affected(q.Exec(ctx))
	if err != nil {
		return fmt.Errorf("workhorse/sqlite: update execution: %w", err)
	}
	if n == 0 {
		return workhorse.ErrExecutionNotFound
	}
	return nil
}

// UpdateExecutionIf persists changes only while the stored status equals
// expected.
func (s *Store) UpdateExecutionIf(ctx context.Context, e *execution.Execution, expected execution.Status) error {
	q := s.db.NewUpdate().Model(toExecutionModel(e)).ExcludeColumn("created_at").
		WherePK().
		Where("status = ?", string(expected))
	n, err := affected(q.Exec(ctx))
	if err != nil {
		return fmt.Errorf("workhorse/sqlite: update execution if: %w", err)
	}
	if n == 1 {
		return nil
	}

	exists, err := s.db.NewSelect().Model((*executionModel)(nil)).Where("e.id = ?", e.ID.String()).Exists(ctx)
	if err != nil {
		return fmt.Errorf("workhorse/sqlite: update execution if: %w", err)
	}
	if !exists {
		return workhorse.ErrExecutionNotFound
	}
	return workhorse.ErrExecutionConflict
}

// DeleteExecution removes an execution by ID.
func (s *Store) DeleteExecution(ctx context.Context, execID id.ExecutionID) error {
	q := s.db.NewDelete().Model((*executionModel)(nil)).Where("id = ?", execID.String())
	n, err := affected(q.Exec(ctx))
	if err != nil {
		return fmt.Errorf("workhorse/sqlite: delete execution: %w", err)
	}
	if n == 0 {
		return workhorse.ErrExecutionNotFound
	}
	return nil
}

// PollExecutions returns due QUEUED executions of the job whose chain
// predecessor, if any, has FINISHED. Priority first, then oldest first.
func (s *Store) PollExecutions(ctx context.Context, jobID id.JobID, now time.Time, limit int) ([]*execution.Execution, error) {
	var models []executionModel
	q := s.db.NewSelect().Model(&models).
		Where("e.job_id = ?", jobID.String()).
		Where("e.status = ?", string(execution.StatusQueued)).
		Where("(e.planned_for IS NULL OR e.planned_for <= ?)", now.UnixNano()).
		Where(`NOT EXISTS (
			SELECT 1 FROM workhorse_executions AS p
			WHERE p.id = e.chain_previous_id AND p.status <> ?)`, string(execution.StatusFinished)).
		OrderExpr("e.priority DESC, e.created_at ASC, e.id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("workhorse/sqlite: poll executions: %w", err)
	}
	return fromExecutionModels(models)
}

// ListExecutions returns executions matching opts, oldest first.
func (s *Store) ListExecutions(ctx context.Context, opts execution.ListOpts) ([]*execution.Execution, error) {
	var models []executionModel
	q := s.db.NewSelect().Model(&models).OrderExpr("e.created_at ASC, e.id ASC")
	if !opts.JobID.IsNil() {
		q = q.Where("e.job_id = ?", opts.JobID.String())
	}
	if opts.Status != "" {
		q = q.Where("e.status = ?", string(opts.Status))
	}
	if !opts.BatchID.IsNil() {
		q = q.Where("e.batch_id = ?", opts.BatchID.String())
	}
	if !opts.ChainID.IsNil() {
		q = q.Where("e.chain_id = ?", opts.ChainID.String())
	}
	switch {
	case opts.Limit > 0:
		q = q.Limit(opts.Limit)
	case opts.Offset > 0:
		// SQLite requires a LIMIT before OFFSET.
		q = q.Limit(-1)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("workhorse/sqlite: list executions: %w", err)
	}
	return fromExecutionModels(models)
}

// CountExecutions returns the number of executions matching opts.
func (s *Store) CountExecutions(ctx context.Context, opts execution.CountOpts) (int64, error) {
	q := s.db.NewSelect().Model((*executionModel)(nil))
	if !opts.JobID.IsNil() {
		q = q.Where("e.job_id = ?", opts.JobID.String())
	}
	if opts.Status != "" {
		q = q.Where("e.status = ?", string(opts.Status))
	}
	n, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("workhorse/sqlite: count executions: %w", err)
	}
	return int64(n), nil
}

// ListTimedOutExecutions returns RUNNING executions started before cutoff.
func (s *Store) ListTimedOutExecutions(ctx context.Context, cutoff time.Time) ([]*execution.Execution, error) {
	var models []executionModel
	err := s.db.NewSelect().Model(&models).
		Where("e.status = ?", string(execution.StatusRunning)).
		Where("e.started_at < ?", cutoff.UnixNano()).
		OrderExpr("e.created_at ASC, e.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("workhorse/sqlite: list timed out executions: %w", err)
	}
	return fromExecutionModels(models)
}

// FindQueuedByParametersHash returns the oldest QUEUED execution of the job
// carrying hash.
func (s *Store) FindQueuedByParametersHash(ctx context.Context, jobID id.JobID, hash string) (*execution.Execution, error) {
	m := new(executionModel)
	err := s.db.NewSelect().Model(m).
		Where("e.job_id = ?", jobID.String()).
		Where("e.status = ?", string(execution.StatusQueued)).
		Where("e.parameters_hash = ?", hash).
		OrderExpr("e.created_at ASC, e.id ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, workhorse.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("workhorse/sqlite: find queued by hash: %w", err)
	}
	return fromExecutionModel(m)
}

// DeleteExecutionsBefore deletes terminal executions of the job that ended
// before the given time.
func (s *Store) DeleteExecutionsBefore(ctx context.Context, jobID id.JobID, before time.Time) (int64, error) {
	q := s.db.NewDelete().Model((*executionModel)(nil)).
		Where("job_id = ?", jobID.String()).
		Where("status IN (?)", bun.In(terminalStatuses)).
		Where("COALESCE(ended_at, updated_at) < ?", before.UnixNano())
	n, err := affected(q.Exec(ctx))
	if err != nil {
		return 0, fmt.Errorf("workhorse/sqlite: delete executions before: %w", err)
	}
	return n, nil
}

func fromExecutionModels(models []executionModel) ([]*execution.Execution, error) {
	result := make([]*execution.Execution, 0, len(models))
	for i := range models {
		e, err := fromExecutionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, nil
}

func affected(res interface{ RowsAffected() (int64, error) }, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
