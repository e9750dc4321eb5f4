//go:build integration

package postgres_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/coodoo-workhorse/workhorse-sub001/store"
	"github.com/coodoo-workhorse/workhorse-sub001/store/postgres"
	"github.com/coodoo-workhorse/workhorse-sub001/store/storetest"
)

// setupTestStore creates a Postgres container and returns a migrated Store.
func setupTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("workhorse_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	s, err := postgres.New(ctx, connStr, postgres.WithLogger(slog.Default()))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestConformance(t *testing.T) {
	s := setupTestStore(t)
	storetest.Run(t, func(t *testing.T) storetest.Store {
		t.Helper()
		if _, err := s.Pool().Exec(context.Background(), `TRUNCATE workhorse_jobs, workhorse_executions`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return s
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestFactoryThroughRegistry(t *testing.T) {
	s := setupTestStore(t)
	connStr := s.Pool().Config().ConnString()

	reg := store.NewRegistry()
	reg.Register(store.TypePostgres, postgres.Factory)

	opened, err := reg.Open(context.Background(), store.Config{Type: store.TypePostgres, DSN: connStr, Migrate: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer opened.Close()

	if !store.IsPushCapable(opened) {
		t.Error("postgres store should be push capable")
	}
}
