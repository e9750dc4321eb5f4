// Package mongo implements store.Store on MongoDB with the official v2
// driver. Jobs and executions live in the workhorse_jobs and
// workhorse_executions collections. Timestamps are stored as Unix
// nanoseconds so ordering matches the other backends exactly.
//
// The store is not push capable; the engine polls it.
//
//	client, _ := mongod.Connect(options.Client().ApplyURI(uri))
//	s := mongo.New(client.Database("workhorse"))
//	if err := s.Migrate(ctx); err != nil { ... }
package mongo
