// Package store defines the aggregate persistence interface.
//
// The job and execution packages each define their own store interface.
// The composite [Store] composes them, so a single backend satisfies both
// contracts. Every execution write that races with another writer goes
// through UpdateExecutionIf, which succeeds only while the stored status
// still matches.
//
// # Available Backends
//
//   - store/memory: in-memory store for development and testing
//   - store/postgres: PostgreSQL backend using pgx/v5, push-capable via LISTEN/NOTIFY
//   - store/sqlite: SQLite backend using bun over modernc.org/sqlite
//   - store/redis: Redis backend, push-capable via PUBLISH/SUBSCRIBE
//   - store/mongo: MongoDB backend
//
// # Usage
//
//	reg := store.NewRegistry()
//	reg.Register(store.TypePostgres, postgres.Factory)
//
//	s, err := reg.Open(ctx, store.Config{Type: "postgres", DSN: dsn, Migrate: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
// Backends that implement [execution.Notifier] are push-capable: the
// buffer subscribes to them and relaxes its poll interval.
package store
