package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const SchemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    root TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    elapsed_ms INTEGER NOT NULL,
    scanned INTEGER NOT NULL,
    grouped INTEGER NOT NULL,
    invalid INTEGER NOT NULL,
    errored INTEGER NOT NULL,
    duplicate_positions INTEGER NOT NULL,
    near_positions INTEGER NOT NULL,
    stopped INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS match_groups (
    id INTEGER PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    position_key TEXT NOT NULL,
    kind TEXT NOT NULL,
    cluster INTEGER
);

CREATE TABLE IF NOT EXISTS group_files (
    group_id INTEGER NOT NULL REFERENCES match_groups(id) ON DELETE CASCADE,
    ord INTEGER NOT NULL,
    path TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS invalid_records (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    path TEXT NOT NULL,
    raw TEXT,
    reason TEXT
);

CREATE INDEX IF NOT EXISTS idx_groups_run ON match_groups(run_id);
CREATE INDEX IF NOT EXISTS idx_group_files_group ON group_files(group_id);
`

// Open opens (or creates) the history database at path and applies the schema.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(SchemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}
