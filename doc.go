// Package workhorse provides an embeddable job-execution engine for Go.
// Executions of named jobs are persisted in a store, staged in a bounded
// per-job buffer, and dispatched to per-job worker pools under thread and
// rate limits. Failed executions are retried as clones, stuck executions
// are cured by a timeout sweeper, and cron schedules create new executions
// on time.
//
// Workhorse is a library first. Import the engine package, register job
// definitions as ordinary Go functions, and start it against one of the
// store backends.
//
// # Quick Start
//
//	eng, err := engine.New(
//	    engine.WithStoreConfig(store.Config{Type: "postgres", DSN: dsn}),
//	    engine.WithRegistry(registry),
//	)
//	engine.Register(eng, job.NewDefinition("send-report", sendReport,
//	    job.WithThreads(2),
//	    job.WithSchedule("0 */5 * * * *"),
//	))
//	err = eng.Start(ctx)
//
// # Architecture
//
// Each subsystem (job, execution) defines its own store interface and a
// single backend implements all of them. Backends are selected through an
// explicit registry keyed by persistence type.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package workhorse
