// Package migrations bundles the SQL schema of the timestamp stores.
package migrations

import "embed"

// FS holds sqlite/*.sql and postgres/*.sql in golang-migrate naming.
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS

const (
	// SQLiteDir is the directory of sqlite migrations inside FS.
	SQLiteDir = "sqlite"
	// PostgresDir is the directory of postgres migrations inside FS.
	PostgresDir = "postgres"
)
