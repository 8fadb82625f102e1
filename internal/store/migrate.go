package store

import (
	"context"
	"database/sql"
	"fmt"
)

type migration struct {
	version string
	sql     string
}

// migrations run in order inside a transaction each; applied versions are
// recorded in schema_migrations and skipped on later starts.
var migrations = []migration{
	{
		version: "0001_documents",
		sql: `
			CREATE TABLE documents (
				kind             TEXT NOT NULL CHECK (kind IN ('notes', 'templates')),
				id               TEXT NOT NULL,
				title            TEXT NOT NULL DEFAULT '',
				fallback_content TEXT NOT NULL DEFAULT '',
				yjs_update       BYTEA,
				created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (kind, id)
			)
		`,
	},
	{
		version: "0002_documents_title_idx",
		sql:     `CREATE INDEX documents_title_idx ON documents (kind, LOWER(title))`,
	},
}

func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return err
	}

	for _, m := range migrations {
		if migrated, err := isMigrated(ctx, db, m.version); err != nil {
			return err
		} else if migrated {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration tx %s: %w", m.version, err)
		}

		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", m.version, err)
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.version, err)
		}
	}

	return nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}
