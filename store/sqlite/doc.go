// Package sqlite implements the failure store on SQLite using sqlx and
// mattn/go-sqlite3. Suited to single-host deployments and local
// development where running Postgres is not worth it.
package sqlite
