// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: compare-and-set status updates, LISTEN/NOTIFY push on new
// QUEUED executions, embedded SQL migrations.
package postgres
