package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type Migration struct {
	Version int
	UpSQL   string
	DownSQL string
}

var migrations = []Migration{
	{
		Version: 1,
		UpSQL: `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS drafts (
	group_id TEXT PRIMARY KEY,
	text TEXT NOT NULL DEFAULT '',
	to_json TEXT NOT NULL DEFAULT '[]',
	reply_to TEXT,
	quote_text TEXT,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS draft_files (
	group_id TEXT NOT NULL,
	position INTEGER NOT NULL,
	name TEXT NOT NULL,
	path TEXT NOT NULL,
	size_bytes INTEGER NOT NULL CHECK(size_bytes >= 0),
	modified_at TEXT NOT NULL,
	PRIMARY KEY(group_id, position),
	UNIQUE(group_id, name, size_bytes, modified_at),
	FOREIGN KEY(group_id) REFERENCES drafts(group_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS prefs (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS drafts_updated_at ON drafts(updated_at DESC);
`,
		DownSQL: `
DROP INDEX IF EXISTS drafts_updated_at;
DROP TABLE IF EXISTS draft_files;
DROP TABLE IF EXISTS drafts;
DROP TABLE IF EXISTS prefs;
`,
	},
	{
		Version: 2,
		UpSQL: `
ALTER TABLE drafts ADD COLUMN priority TEXT NOT NULL DEFAULT 'normal' CHECK(priority IN ('normal','attention'));
ALTER TABLE drafts ADD COLUMN reply_by TEXT;
`,
		DownSQL: `
ALTER TABLE drafts DROP COLUMN reply_by;
ALTER TABLE drafts DROP COLUMN priority;
`,
	},
}

// ApplyMigrations brings the schema up to the newest version. Applied
// versions are skipped.
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	for _, m := range migrations {
		var one int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = ?`, m.Version).Scan(&one)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		record := `INSERT INTO schema_migrations(version, applied_at) VALUES (?, datetime('now'))`
		if err := inTx(ctx, db, m.UpSQL, record, m.Version); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// RollbackAll drops every migration, newest first.
func RollbackAll(ctx context.Context, db *sql.DB) error {
	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		if err := inTx(ctx, db, m.DownSQL, `DELETE FROM schema_migrations WHERE version = ?`, m.Version); err != nil {
			return fmt.Errorf("rollback migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func inTx(ctx context.Context, db *sql.DB, script, record string, version int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, record, version); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}
