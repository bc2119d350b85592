package store

import (
	"database/sql"
	"fmt"
)

// Schema version tracking (PRAGMA user_version):
// 1 - pending_operations with timestamp/status indexes
// 2 - offline_orders with status/created_at indexes
// 3 - sync_runs drain history
const currentSchemaVersion = 3

var migrations = []string{
	// v1
	`CREATE TABLE IF NOT EXISTS pending_operations (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		type        TEXT    NOT NULL DEFAULT '',
		method      TEXT    NOT NULL,
		path        TEXT    NOT NULL,
		payload     TEXT,
		timestamp   INTEGER NOT NULL,
		status      TEXT    NOT NULL DEFAULT 'PENDING',
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error  TEXT    NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_pending_operations_timestamp ON pending_operations(timestamp);
	CREATE INDEX IF NOT EXISTS idx_pending_operations_status ON pending_operations(status);`,

	// v2
	`CREATE TABLE IF NOT EXISTS offline_orders (
		temp_id     TEXT    PRIMARY KEY,
		payload     TEXT    NOT NULL,
		status      TEXT    NOT NULL DEFAULT 'PENDING_SYNC',
		is_edit     INTEGER NOT NULL DEFAULT 0,
		original_id TEXT    NOT NULL DEFAULT '',
		sync_error  TEXT    NOT NULL DEFAULT '',
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_offline_orders_status ON offline_orders(status);
	CREATE INDEX IF NOT EXISTS idx_offline_orders_created_at ON offline_orders(created_at);`,

	// v3
	`CREATE TABLE IF NOT EXISTS sync_runs (
		id           TEXT    PRIMARY KEY,
		started_at   INTEGER NOT NULL,
		completed_at INTEGER NOT NULL,
		succeeded    INTEGER NOT NULL DEFAULT 0,
		failed       INTEGER NOT NULL DEFAULT 0,
		outcome      TEXT    NOT NULL,
		error        TEXT    NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at);`,
}

// migrate brings the schema up to currentSchemaVersion. Each step runs in its
// own transaction together with the user_version bump, so a crash mid-way
// leaves the database at the last completed version.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema v%d is newer than supported v%d", version, currentSchemaVersion)
	}

	for v := version; v < currentSchemaVersion; v++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migrate to v%d: begin: %w", v+1, err)
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate to v%d: set user_version: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migrate to v%d: commit: %w", v+1, err)
		}
	}
	return nil
}
