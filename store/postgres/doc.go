// Package postgres implements the Unmark stores on PostgreSQL using
// pgx/v5 with raw SQL.
//
// Task claims and refunds are single guarded statements, so the row
// itself arbitrates between concurrent workers. Queue dequeue uses
// SELECT ... FOR UPDATE SKIP LOCKED, and a partial unique index keeps at
// most one live job per task key. Schema changes ship as embedded SQL
// files applied by Migrate.
package postgres
