package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
	"github.com/coodoo-workhorse/workhorse-sub001/store"
)

// Collection name constants.
const (
	colJobs       = "workhorse_jobs"
	colExecutions = "workhorse_executions"
)

const defaultDatabase = "workhorse"

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ job.Store       = (*Store)(nil)
	_ execution.Store = (*Store)(nil)
	_ store.Store     = (*Store)(nil)
)

// Store is a MongoDB implementation of store.Store.
type Store struct {
	db     *mongod.Database
	client *mongod.Client // set when the store owns the connection
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new MongoDB store. The caller owns the client lifecycle;
// the Store will not disconnect it on Close.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Factory connects to the mongodb:// URI in cfg.DSN and uses cfg.Database,
// "workhorse" when empty. Register it with store.Registry under
// store.TypeMongo.
func Factory(ctx context.Context, cfg store.Config) (store.Store, error) {
	client, err := mongod.Connect(options.Client().ApplyURI(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("workhorse/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("workhorse/mongo: ping: %w", err)
	}

	name := cfg.Database
	if name == "" {
		name = defaultDatabase
	}
	s := New(client.Database(name))
	s.client = client
	return s, nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *mongod.Database {
	return s.db
}

// Migrate creates indexes for both collections. Creating an existing index
// is a no-op.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("workhorse/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close disconnects the client when the store opened it.
func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(context.Background())
}

func (s *Store) jobs() *mongod.Collection       { return s.db.Collection(colJobs) }
func (s *Store) executions() *mongod.Collection { return s.db.Collection(colExecutions) }

// ── helpers ──────────────────────────────────────────────────────

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for both collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colJobs: {
			{
				Keys:    bson.D{{Key: "name", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		colExecutions: {
			// Poll index: job + status + priority + age.
			{Keys: bson.D{
				{Key: "job_id", Value: 1},
				{Key: "status", Value: 1},
				{Key: "priority", Value: -1},
				{Key: "created_at", Value: 1},
			}},
			{Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "started_at", Value: 1},
			}},
			{Keys: bson.D{{Key: "batch_id", Value: 1}}},
			{Keys: bson.D{{Key: "chain_id", Value: 1}}},
			{Keys: bson.D{
				{Key: "job_id", Value: 1},
				{Key: "parameters_hash", Value: 1},
			}},
		},
	}
}
