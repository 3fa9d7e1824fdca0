package indexstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const SchemaVersion = 2

// Migrate creates (or upgrades) the indexer model schema in-place.
//
// The schema holds:
// - one row per indexer, versioned for conditional updates
// - one row per held indexer lock, with a lease expiry
func Migrate(ctx context.Context, db *sql.DB) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return fmt.Errorf("db is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS indexers (
			name TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			lifecycle_state TEXT NOT NULL,
			batch_indexing_state TEXT NOT NULL,
			incremental_indexing_state TEXT NOT NULL,
			subscription_id TEXT,
			configuration BLOB,
			connection_type TEXT,
			-- JSON-encoded columns; empty when unset.
			connection_params TEXT,
			batch_index_args TEXT,
			active_batch_build TEXT,
			last_batch_build TEXT,
			updated_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_indexers_batch_state ON indexers(batch_indexing_state);`,

		`CREATE TABLE IF NOT EXISTS indexer_locks (
			name TEXT PRIMARY KEY,
			token TEXT NOT NULL,
			internal INTEGER NOT NULL DEFAULT 0,
			acquired_at TEXT NOT NULL,
			expires_at TEXT NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	// v2: record whether a lock was taken by the reconciler.
	if current < 2 {
		alters := []string{
			`ALTER TABLE indexer_locks ADD COLUMN internal INTEGER NOT NULL DEFAULT 0;`,
		}
		for _, stmt := range alters {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				msg := err.Error()
				// SQLite/libsql report duplicate columns as an error; treat as idempotent.
				if strings.Contains(msg, "duplicate column name") || strings.Contains(msg, "already exists") {
					continue
				}
				return fmt.Errorf("exec migration statement: %w", err)
			}
		}
	}

	if current != SchemaVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version=? WHERE id=1`, SchemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// ReadSchemaVersion returns the schema version recorded in the database.
func ReadSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	return v, nil
}
