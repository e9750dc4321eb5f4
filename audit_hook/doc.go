// Package audithook is an engine extension that turns lifecycle events
// into audit records.
//
// Every execution, schedule and engine hook emits a structured [AuditEvent]
// through the [Recorder] interface. Severity follows the outcome: info for
// normal operation, warning for retries and timeouts, critical for terminal
// failures. [LogRecorder] writes records to a slog logger; anything else
// plugs in through [RecorderFunc].
//
//	eng, _ := engine.New(
//	    engine.WithExtension(audithook.New(audithook.LogRecorder(logger))),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionExecutionFailed,
//	        audithook.ActionExecutionTimedOut,
//	    ),
//	)
package audithook
