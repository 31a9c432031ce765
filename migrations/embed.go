// Package migrations carries the database schema inside the binary.
package migrations

import "embed"

// Postgres holds the numbered postgres migrations applied by db.Migrator.
//
//go:embed *.sql
var Postgres embed.FS

// SQLiteSchema is applied whole when the service runs on SQLite.
//
//go:embed sqlite/schema.sql
var SQLiteSchema string
