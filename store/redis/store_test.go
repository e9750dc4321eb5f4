//go:build integration

package redis_test

import (
	"context"
	"fmt"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/coodoo-workhorse/workhorse-sub001/store"
	"github.com/coodoo-workhorse/workhorse-sub001/store/redis"
	"github.com/coodoo-workhorse/workhorse-sub001/store/storetest"
)

// setupRedis starts a Redis container and returns its redis:// URL.
func setupRedis(t *testing.T) string {
	t.Helper()

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}
	return url
}

func TestConformance(t *testing.T) {
	url := setupRedis(t)
	opts, err := goredis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	// Each case gets its own key prefix instead of a flushed database.
	n := 0
	storetest.Run(t, func(t *testing.T) storetest.Store {
		t.Helper()
		n++
		return redis.New(client, redis.WithPrefix(fmt.Sprintf("test%d:", n)))
	})
}

func TestFactoryThroughRegistry(t *testing.T) {
	url := setupRedis(t)

	reg := store.NewRegistry()
	reg.Register(store.TypeRedis, redis.Factory)

	opened, err := reg.Open(context.Background(), store.Config{Type: store.TypeRedis, DSN: url, Prefix: "factory:", Migrate: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer opened.Close()

	if err := opened.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if !store.IsPushCapable(opened) {
		t.Error("redis store should be push capable")
	}
}
