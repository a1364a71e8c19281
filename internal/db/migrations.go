package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/goran-ethernal/chainwatch/internal/logger"
	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
)

const (
	// UpDownSeparator splits a migration's combined SQL text into its
	// down and up halves; everything before it is Down, everything
	// after is Up.
	UpDownSeparator = "-- +migrate Up"
	downMarker      = "-- +migrate Down"
	dbPrefixToken   = "/*dbprefix*/"
	// NoLimitMigrations tells RunMigrationsDBExtended to apply every
	// pending migration rather than stopping after a fixed count.
	NoLimitMigrations = 0
	migrationHalves   = 2
)

// Migration is one embedded SQL file: an ID for ordering, the combined
// up/down SQL text, and a table-name prefix substituted in for
// dbPrefixToken so the same migration source can target more than one
// schema namespace.
type Migration struct {
	ID     string
	SQL    string
	Prefix string
}

// RunMigrations opens dbPath and applies every pending migration to it.
func RunMigrations(dbPath string, migrations []Migration) error {
	db, err := NewSQLiteDB(dbPath)
	if err != nil {
		return fmt.Errorf("error creating DB %w", err)
	}
	return RunMigrationsDB(logger.GetDefaultLogger(), db, migrations)
}

// RunMigrationsDB applies every pending migration to an already-open db.
func RunMigrationsDB(log *logger.Logger, db *sql.DB, migrations []Migration) error {
	return RunMigrationsDBExtended(log, db, migrations, migrate.Up, NoLimitMigrations)
}

// RunMigrationsDBExtended runs migrations in the given direction, up to
// maxMigrations of them (0 for no limit). Running a bounded number in
// the Down direction is how a rollback command undoes only its most
// recent steps instead of wiping the schema.
func RunMigrationsDBExtended(
	log *logger.Logger,
	db *sql.DB,
	migrations []Migration,
	dir migrate.MigrationDirection,
	maxMigrations int,
) error {
	source, ids, err := buildMigrationSource(migrations)
	if err != nil {
		return err
	}

	if maxMigrations != NoLimitMigrations {
		migrate.SetIgnoreUnknown(true)
	}

	log.Debugf("running migrations: (max %d/%d) migrations: %s", maxMigrations, len(source.Migrations), ids)

	applied, err := migrate.ExecMax(db, "sqlite3", source, dir, maxMigrations)
	if err != nil {
		return fmt.Errorf("error executing migration (max %d/%d) migrations: %s . Err: %w",
			maxMigrations, len(source.Migrations), ids, err)
	}

	log.Infof("successfully ran %d migrations from migrations: %s", applied, ids)
	return nil
}

// buildMigrationSource parses each Migration's combined SQL text into
// the Up/Down pair sql-migrate expects, and returns a comma-joined list
// of the resulting IDs for logging.
func buildMigrationSource(migrations []Migration) (*migrate.MemoryMigrationSource, string, error) {
	source := &migrate.MemoryMigrationSource{Migrations: []*migrate.Migration{}}

	var ids strings.Builder
	for _, m := range migrations {
		upSQL, downSQL, err := splitMigrationSQL(m)
		if err != nil {
			return nil, "", err
		}

		source.Migrations = append(source.Migrations, &migrate.Migration{
			Id:   m.Prefix + m.ID,
			Up:   []string{upSQL},
			Down: []string{downSQL},
		})
		ids.WriteString(m.Prefix + m.ID + ", ")
	}

	return source, ids.String(), nil
}

// splitMigrationSQL substitutes m.Prefix into the table-name token and
// separates the combined text at UpDownSeparator.
func splitMigrationSQL(m Migration) (upSQL, downSQL string, err error) {
	prefixed := strings.ReplaceAll(m.SQL, dbPrefixToken, m.Prefix)

	parts := strings.Split(prefixed, UpDownSeparator)
	if len(parts) < migrationHalves {
		return "", "", fmt.Errorf("migration %s missing '-- +migrate Up' separator", m.ID)
	}

	downSQL = parts[0]
	if idx := strings.Index(downSQL, downMarker); idx != -1 {
		downSQL = downSQL[idx+len(downMarker):]
	}
	downSQL = strings.TrimSpace(downSQL)
	upSQL = strings.TrimSpace(parts[1])

	return upSQL, downSQL, nil
}
