// Package redis implements store.Store on Redis. Jobs and executions are
// stored as Hashes; Sorted Sets scored by creation time index executions
// per job, per batch, per chain and per status, so lists come back oldest
// first with ties broken by ID.
//
// New QUEUED executions are announced on a Pub/Sub channel, which makes
// the store push capable.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
