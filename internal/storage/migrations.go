package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order; the schema version is the number
// applied so far, kept in PRAGMA user_version.
var migrations = []string{
	// 1: world model, one row per organization
	`CREATE TABLE IF NOT EXISTS world_models (
		org_id     INTEGER PRIMARY KEY,
		data       TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	// 2: semantic memory, one fact per (org, type, normalized value)
	`CREATE TABLE IF NOT EXISTS semantic_entities (
		org_id      INTEGER NOT NULL,
		entity_type TEXT NOT NULL,
		value_key   TEXT NOT NULL,
		data        TEXT NOT NULL,
		run_id      TEXT NOT NULL DEFAULT '',
		updated_at  TEXT NOT NULL,
		PRIMARY KEY (org_id, entity_type, value_key)
	)`,
	// 3: episodic memory, append-only
	`CREATE TABLE IF NOT EXISTS episodes (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		org_id     INTEGER NOT NULL,
		run_id     TEXT NOT NULL DEFAULT '',
		event_type TEXT NOT NULL,
		data       TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_episodes_org ON episodes(org_id, id)`,
	// 5: pipeline runs
	`CREATE TABLE IF NOT EXISTS runs (
		id                 TEXT PRIMARY KEY,
		org_id             INTEGER NOT NULL,
		status             TEXT NOT NULL,
		error_code         TEXT NOT NULL DEFAULT '',
		error_message      TEXT NOT NULL DEFAULT '',
		entity_count       INTEGER NOT NULL DEFAULT 0,
		relationship_count INTEGER NOT NULL DEFAULT 0,
		created_at         TEXT NOT NULL,
		started_at         TEXT NOT NULL DEFAULT '',
		finished_at        TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_org ON runs(org_id, created_at)`,
	// 7: per-run event log
	`CREATE TABLE IF NOT EXISTS run_events (
		run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq        INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		data       TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
}

// SchemaVersion is the version a fully migrated database reports.
var SchemaVersion = len(migrations)

func (db *DB) migrate(ctx context.Context) error {
	current, err := db.Version(ctx)
	if err != nil {
		return err
	}
	if current > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than supported %d", current, len(migrations))
	}

	return db.InTx(ctx, func(tx *sql.Tx) error {
		for i := current; i < len(migrations); i++ {
			if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
				return fmt.Errorf("migration %d: %w", i+1, err)
			}
		}
		// PRAGMA does not take bind parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", len(migrations))); err != nil {
			return fmt.Errorf("setting schema version: %w", err)
		}
		return nil
	})
}

// Version returns the applied schema version.
func (db *DB) Version(ctx context.Context) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}
