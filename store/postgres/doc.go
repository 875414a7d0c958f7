// Package postgres implements the failure store on PostgreSQL using pgx/v5
// with raw SQL and embedded migrations.
//
// Queues stay in Redis; Postgres keeps failed jobs where they can be
// queried, joined and retained as long as needed.
package postgres
