// Package engine wires the execution subsystems together and exposes the
// management operations of a running engine.
//
// The engine package sits above every subsystem package: the root
// workhorse package defines Entity and Config (imported by job and
// execution) and therefore cannot import them back.
//
// # Building an Engine
//
//	eng, err := engine.New(
//	    engine.WithConfig(cfg),
//	    engine.WithStoreConfig(store.Config{Type: store.TypePostgres, DSN: dsn, Migrate: true}),
//	    engine.WithRegistry(stores),
//	    engine.WithExtension(broker),
//	)
//
// # Registering Work
//
//	engine.Register(eng, job.NewDefinition("send-report", SendReport,
//	    job.WithThreads(4),
//	    job.WithSchedule("0 0 6 * * *"),
//	))
//
// # Lifecycle
//
// Start opens the store, syncs registered jobs into it, then starts the
// buffer, one worker pool per active job, the schedules, the zombie
// sweeper and the retention cleanup, in that order. Stop reverses it and
// waits for in-flight executions up to the shutdown timeout. Restart
// validates a new configuration first, so an invalid one leaves the
// running engine untouched, then stops and rebuilds everything.
//
// # Options
//
//   - [WithConfig]: engine-wide buffer, timeout and cleanup settings
//   - [WithStoreConfig]: persistence type and connection settings
//   - [WithRegistry]: persistence registry with additional backends
//   - [WithStore]: use an already opened store
//   - [WithLogger]: structured logger
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add middleware to the execution chain
//   - [WithBackoff]: replace the constant per-job retry delay
//   - [WithTracerProvider], [WithMeterProvider]: OpenTelemetry providers
package engine
