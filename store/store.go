package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	workhorse "github.com/coodoo-workhorse/workhorse-sub001"
	"github.com/coodoo-workhorse/workhorse-sub001/execution"
	"github.com/coodoo-workhorse/workhorse-sub001/job"
	"github.com/coodoo-workhorse/workhorse-sub001/store/memory"
)

// Store is the aggregate persistence interface.
// A single backend (postgres, sqlite, redis, mongo, memory) implements
// both subsystem stores.
type Store interface {
	job.Store
	execution.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

// Persistence types understood by the default registry.
const (
	TypeMemory   = "memory"
	TypePostgres = "postgres"
	TypeSQLite   = "sqlite"
	TypeRedis    = "redis"
	TypeMongo    = "mongo"
)

// Config selects and parameterizes a backend.
type Config struct {
	// Type is the persistence type, for example "postgres".
	Type string `yaml:"type" json:"type"`

	// DSN is the connection string understood by the backend.
	DSN string `yaml:"dsn" json:"dsn"`

	// Database names the database for backends that need one (mongo).
	Database string `yaml:"database" json:"database,omitempty"`

	// Prefix namespaces keys for key-value backends (redis).
	Prefix string `yaml:"prefix" json:"prefix,omitempty"`

	// Migrate runs the backend's migrations right after opening it.
	Migrate bool `yaml:"migrate" json:"migrate"`
}

// Factory opens a backend from cfg.
type Factory func(ctx context.Context, cfg Config) (Store, error)

// Registry maps persistence types to factories. The zero value is not
// usable; call NewRegistry.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry that knows the memory backend.
// Other backends register themselves from the binary that links them.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(TypeMemory, func(context.Context, Config) (Store, error) {
		return memory.New(), nil
	})
	return r
}

// Register adds or replaces the factory for typ.
func (r *Registry) Register(typ string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typ] = f
}

// Types returns the registered persistence types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Open creates the backend named by cfg.Type and optionally migrates it.
// An empty type opens the memory backend.
func (r *Registry) Open(ctx context.Context, cfg Config) (Store, error) {
	typ := cfg.Type
	if typ == "" {
		typ = TypeMemory
	}

	r.mu.RLock()
	f, ok := r.factories[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", workhorse.ErrUnknownPersistence, typ)
	}

	s, err := f(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", typ, err)
	}
	if cfg.Migrate {
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("%w: %s: %w", workhorse.ErrMigrationFailed, typ, err)
		}
	}
	return s, nil
}

// IsPushCapable reports whether s announces new QUEUED executions.
func IsPushCapable(s Store) bool {
	_, ok := s.(execution.Notifier)
	return ok
}

var _ Store = (*memory.Store)(nil)
