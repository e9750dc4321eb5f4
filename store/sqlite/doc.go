// Package sqlite implements store.Store using the bun ORM with the SQLite
// dialect over the pure-Go modernc.org/sqlite driver. Suitable for
// embedded deployments, CLI tools and single-node engines.
//
// A store built with New does not own the *bun.DB; one built with Open
// closes it on Close:
//
//	s, err := sqlite.Open(ctx, "file:workhorse.db")
//	if err != nil { ... }
//	defer s.Close()
//	err = s.Migrate(ctx)
//
// Timestamps are stored as INTEGER Unix nanoseconds so range predicates
// compare numerically. SQLite cannot announce inserts, so the buffer polls.
package sqlite
