package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/id"
)

var terminalStatuses = []string{
	string(execution.StatusFinished),
	string(execution.StatusFailed),
	string(execution.StatusAborted),
}

var oldestFirst = bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}

// CreateExecution persists a new execution.
func (s *Store) CreateExecution(ctx context.Context, e *execution.Execution) error {
	if _, err := s.executions().InsertOne(ctx, toExecutionModel(e)); err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return workhorse.ErrExecutionAlreadyExists
		}
		return fmt.Errorf("workhorse/mongo: create execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID.
func (s *Store) GetExecution(ctx context.Context, execID id.ExecutionID) (*execution.Execution, error) {
	var m executionModel
	if err := s.executions().FindOne(ctx, bson.M{"_id": execID.String()}).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, workhorse.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("workhorse/mongo: get execution: %w", err)
	}
	return fromExecutionModel(&m)
}

// UpdateExecution replaces the stored execution unconditionally.
func (s *Store) UpdateExecution(ctx context.Context, e *execution.Execution) error {
	res, err := s.executions().ReplaceOne(ctx, bson.M{"_id": e.ID.String()}, toExecutionModel(e))
	if err != nil {
		return fmt.Errorf("workhorse/mongo: update execution: %w", err)
	}
	if res.MatchedCount == 0 {
		return workhorse.ErrExecutionNotFound
	}
	return nil
}

// UpdateExecutionIf replaces the stored execution only while its status
// equals expected.
func (s *Store) UpdateExecutionIf(ctx context.Context, e *execution.Execution, expected execution.Status) error {
	filter := bson.M{"_id": e.ID.String(), "status": string(expected)}
	res, err := s.executions().ReplaceOne(ctx, filter, toExecutionModel(e))
	if err != nil {
		return fmt.Errorf("workhorse/mongo: update execution if: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	n, err := s.executions().CountDocuments(ctx, bson.M{"_id": e.ID.String()})
	if err != nil {
		return fmt.Errorf("workhorse/mongo: update execution if: %w", err)
	}
	if n == 0 {
		return workhorse.ErrExecutionNotFound
	}
	return workhorse.ErrExecutionConflict
}

// DeleteExecution removes an execution by ID.
func (s *Store) DeleteExecution(ctx context.Context, execID id.ExecutionID) error {
	res, err := s.executions().DeleteOne(ctx, bson.M{"_id": execID.String()})
	if err != nil {
		return fmt.Errorf("workhorse/mongo: delete execution: %w", err)
	}
	if res.DeletedCount == 0 {
		return workhorse.ErrExecutionNotFound
	}
	return nil
}

// PollExecutions returns due QUEUED executions of the job whose chain
// predecessor, if any, has FINISHED. Priority first, then oldest first.
func (s *Store) PollExecutions(ctx context.Context, jobID id.JobID, now time.Time, limit int) ([]*execution.Execution, error) {
	filter := bson.M{
		"job_id": jobID.String(),
		"status": string(execution.StatusQueued),
		"$or": bson.A{
			bson.M{"planned_for": bson.M{"$exists": false}},
			bson.M{"planned_for": bson.M{"$lte": now.UnixNano()}},
		},
	}
	sort := bson.D{
		{Key: "priority", Value: -1},
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	}
	queued, err := s.findExecutions(ctx, "poll executions", filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, err
	}

	blocked, err := s.pendingPredecessors(ctx, queued)
	if err != nil {
		return nil, err
	}

	due := make([]*execution.Execution, 0, len(queued))
	for _, e := range queued {
		if !e.ChainPreviousID.IsNil() && blocked[e.ChainPreviousID.String()] {
			continue
		}
		due = append(due, e)
		if limit > 0 && len(due) == limit {
			break
		}
	}
	return due, nil
}

// pendingPredecessors returns the chain predecessors of list that exist and
// have not FINISHED.
func (s *Store) pendingPredecessors(ctx context.Context, list []*execution.Execution) (map[string]bool, error) {
	var prev []string
	for _, e := range list {
		if !e.ChainPreviousID.IsNil() {
			prev = append(prev, e.ChainPreviousID.String())
		}
	}
	if len(prev) == 0 {
		return nil, nil
	}

	filter := bson.M{
		"_id":    bson.M{"$in": prev},
		"status": bson.M{"$ne": string(execution.StatusFinished)},
	}
	cursor, err := s.executions().Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("workhorse/mongo: poll chain predecessors: %w", err)
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("workhorse/mongo: poll chain predecessors decode: %w", err)
	}

	pending := make(map[string]bool, len(docs))
	for _, d := range docs {
		pending[d.ID] = true
	}
	return pending, nil
}

// ListExecutions returns executions matching opts, oldest first.
func (s *Store) ListExecutions(ctx context.Context, opts execution.ListOpts) ([]*execution.Execution, error) {
	filter := bson.M{}
	if !opts.JobID.IsNil() {
		filter["job_id"] = opts.JobID.String()
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if !opts.BatchID.IsNil() {
		filter["batch_id"] = opts.BatchID.String()
	}
	if !opts.ChainID.IsNil() {
		filter["chain_id"] = opts.ChainID.String()
	}

	findOpts := options.Find().SetSort(oldestFirst)
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}
	return s.findExecutions(ctx, "list executions", filter, findOpts)
}

// CountExecutions returns the number of executions matching opts.
func (s *Store) CountExecutions(ctx context.Context, opts execution.CountOpts) (int64, error) {
	filter := bson.M{}
	if !opts.JobID.IsNil() {
		filter["job_id"] = opts.JobID.String()
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	n, err := s.executions().CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("workhorse/mongo: count executions: %w", err)
	}
	return n, nil
}

// ListTimedOutExecutions returns RUNNING executions started before cutoff.
func (s *Store) ListTimedOutExecutions(ctx context.Context, cutoff time.Time) ([]*execution.Execution, error) {
	filter := bson.M{
		"status":     string(execution.StatusRunning),
		"started_at": bson.M{"$lt": cutoff.UnixNano()},
	}
	return s.findExecutions(ctx, "list timed out executions", filter, options.Find().SetSort(oldestFirst))
}

// FindQueuedByParametersHash returns the oldest QUEUED execution of the job
// carrying hash.
func (s *Store) FindQueuedByParametersHash(ctx context.Context, jobID id.JobID, hash string) (*execution.Execution, error) {
	filter := bson.M{
		"job_id":          jobID.String(),
		"status":          string(execution.StatusQueued),
		"parameters_hash": hash,
	}
	var m executionModel
	err := s.executions().FindOne(ctx, filter, options.FindOne().SetSort(oldestFirst)).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, workhorse.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("workhorse/mongo: find queued by hash: %w", err)
	}
	return fromExecutionModel(&m)
}

// DeleteExecutionsBefore deletes terminal executions of the job that ended
// before the given time. Executions without an end time fall back to their
// last update.
func (s *Store) DeleteExecutionsBefore(ctx context.Context, jobID id.JobID, before time.Time) (int64, error) {
	filter := bson.M{
		"job_id": jobID.String(),
		"status": bson.M{"$in": terminalStatuses},
		"$expr": bson.M{"$lt": bson.A{
			bson.M{"$ifNull": bson.A{"$ended_at", "$updated_at"}},
			before.UnixNano(),
		}},
	}
	res, err := s.executions().DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("workhorse/mongo: delete executions before: %w", err)
	}
	return res.DeletedCount, nil
}

func (s *Store) findExecutions(ctx context.Context, op string, filter bson.M, opts *options.FindOptionsBuilder) ([]*execution.Execution, error) {
	cursor, err := s.executions().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("workhorse/mongo: %s: %w", op, err)
	}
	var models []executionModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("workhorse/mongo: %s decode: %w", op, err)
	}

	result := make([]*execution.Execution, 0, len(models))
	for i := range models {
		e, convErr := fromExecutionModel(&models[i])
		if convErr != nil {
			return nil, convErr
		}
		result = append(result, e)
	}
	return result, nil
}
