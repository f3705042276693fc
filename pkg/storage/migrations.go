package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// Migration represents a database migration. Statements are kept per dialect
// because the SQLite schema is used for development and tests.
type Migration struct {
	Version     int
	Description string
	Postgres    string
	SQLite      string
}

// statement returns the migration body for the given driver
func (m Migration) statement(driver string) string {
	if driver == DriverSQLite {
		return m.SQLite
	}
	return m.Postgres
}

// RunMigrations applies every pending migration in version order. Applied
// versions are tracked in og_migrations.
func RunMigrations(ctx context.Context, db *sql.DB, driver string, migrations []Migration, log logrus.FieldLogger) error {
	if log == nil {
		log = logrus.New()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS og_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM og_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	pending := make([]Migration, 0, len(migrations))
	seen := make(map[int]string)
	for _, migration := range migrations {
		if other, dup := seen[migration.Version]; dup {
			return fmt.Errorf("duplicate migration version %d (%s, %s)", migration.Version, other, migration.Description)
		}
		seen[migration.Version] = migration.Description
		if !appliedVersions[migration.Version] {
			pending = append(pending, migration)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })

	for _, migration := range pending {
		log.WithField("version", migration.Version).Infof("Running migration: %s", migration.Description)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.statement(driver)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO og_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
