// Package migrations embeds the SQL migration files applied at startup.
// Files run in lexical order; the storage layer records applied versions in
// schema_migrations, and every statement is written to be idempotent so a
// re-run against an existing database is a no-op.
package migrations

import "embed"

// FS is the embedded migrations filesystem.
//
//go:embed *.sql
var FS embed.FS
