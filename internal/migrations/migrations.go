// Package migrations embeds the schema migrations for chainwatch's
// two SQLite-backed stores: the block tracker cursors and the
// confirmation buffer.
package migrations

import (
	_ "embed"

	"github.com/goran-ethernal/chainwatch/internal/db"
)

//go:embed 001_block_tracker.sql
var mig001 string

//go:embed 002_buffered_events.sql
var mig002 string

// RunMigrations applies the chainwatch schema to the database at dbPath.
func RunMigrations(dbPath string) error {
	return db.RunMigrations(dbPath, All())
}

// All returns every migration in order, for callers that already hold
// a *sql.DB (e.g. db.RunMigrationsDB).
func All() []db.Migration {
	return []db.Migration{
		{
			ID:  "001_block_tracker.sql",
			SQL: mig001,
		},
		{
			ID:  "002_buffered_events.sql",
			SQL: mig002,
		},
	}
}
