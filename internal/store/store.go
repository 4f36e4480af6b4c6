// Package store provides persistent catalog state backed by an embedded
// SQLite database (spec §4.D, §6). It owns connection lifecycle,
// reconnect, and a typed, parameterized query surface grouped by entity.
//
// Migration design follows the teacher's approach: SQL statements live in
// the ordered [migrations] slice; each applies exactly once, tracked by a
// schema_migrations table. Append new statements — never edit or reorder
// existing ones.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

var migrations = []string{
	// v1 — asset files (content-addressed on disk; id is the generated unique name)
	`CREATE TABLE IF NOT EXISTS sound_files (
		id              TEXT PRIMARY KEY,
		display_name    TEXT NOT NULL,
		size_bytes      INTEGER NOT NULL,
		duration_ms     INTEGER NOT NULL DEFAULT 0,
		introduced_by   TEXT NOT NULL,
		reference_count INTEGER NOT NULL DEFAULT 0,
		is_public       INTEGER NOT NULL DEFAULT 0,
		file_path       TEXT NOT NULL,
		created_at      INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v2 — player bindings
	`CREATE TABLE IF NOT EXISTS user_sounds (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		identity   TEXT NOT NULL,
		file_id    TEXT NOT NULL REFERENCES sound_files(id),
		alias      TEXT NOT NULL,
		visibility TEXT NOT NULL DEFAULT 'private',
		created_at INTEGER NOT NULL DEFAULT (unixepoch()),
		UNIQUE(identity, alias),
		UNIQUE(identity, file_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_sounds_identity ON user_sounds(identity)`,
	// v3 — playlists and ordered items
	`CREATE TABLE IF NOT EXISTS sound_playlists (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		identity    TEXT NOT NULL,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		is_public   INTEGER NOT NULL DEFAULT 0,
		cursor      INTEGER NOT NULL DEFAULT 0,
		created_at  INTEGER NOT NULL DEFAULT (unixepoch()),
		UNIQUE(identity, name)
	)`,
	`CREATE TABLE IF NOT EXISTS sound_playlist_items (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		playlist_id INTEGER NOT NULL REFERENCES sound_playlists(id),
		binding_id  INTEGER NOT NULL REFERENCES user_sounds(id),
		order_number INTEGER NOT NULL,
		UNIQUE(playlist_id, order_number),
		UNIQUE(playlist_id, binding_id)
	)`,
	// v4 — share requests
	`CREATE TABLE IF NOT EXISTS sound_shares (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		source_identity  TEXT NOT NULL,
		target_identity  TEXT NOT NULL,
		file_id          TEXT NOT NULL REFERENCES sound_files(id),
		suggested_alias  TEXT NOT NULL,
		status           TEXT NOT NULL DEFAULT 'pending',
		created_at       INTEGER NOT NULL DEFAULT (unixepoch()),
		responded_at     INTEGER,
		UNIQUE(file_id, source_identity, target_identity)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_shares_target ON sound_shares(target_identity, status)`,
	// v5 — verification codes
	`CREATE TABLE IF NOT EXISTS verification_codes (
		identity     TEXT PRIMARY KEY,
		code         TEXT NOT NULL,
		display_name TEXT NOT NULL,
		created_at   INTEGER NOT NULL DEFAULT (unixepoch()),
		expires_at   INTEGER NOT NULL,
		used         INTEGER NOT NULL DEFAULT 0
	)`,
	// v6 — menus and menu items (with JSON playlist snapshot)
	`CREATE TABLE IF NOT EXISTS user_sound_menus (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		owner_identity  TEXT NOT NULL DEFAULT '',
		is_server_menu  INTEGER NOT NULL DEFAULT 0,
		name            TEXT NOT NULL,
		parent_id       INTEGER REFERENCES user_sound_menus(id),
		created_at      INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	`CREATE TABLE IF NOT EXISTS user_sound_menu_items (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		menu_id             INTEGER NOT NULL REFERENCES user_sound_menus(id),
		position             INTEGER NOT NULL,
		item_kind           TEXT NOT NULL,
		display_name        TEXT NOT NULL DEFAULT '',
		target_binding_id   INTEGER REFERENCES user_sounds(id),
		target_menu_id      INTEGER REFERENCES user_sound_menus(id),
		target_playlist_id  INTEGER REFERENCES sound_playlists(id),
		playlist_snapshot   TEXT,
		UNIQUE(menu_id, position)
	)`,
	// v7 — quick commands
	`CREATE TABLE IF NOT EXISTS quick_command_aliases (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		identity          TEXT NOT NULL,
		short_alias       TEXT NOT NULL,
		target_binding_id INTEGER REFERENCES user_sounds(id),
		target_file_id    TEXT REFERENCES sound_files(id),
		chat_replacement  TEXT NOT NULL DEFAULT '',
		UNIQUE(identity, short_alias)
	)`,
	`CREATE TABLE IF NOT EXISTS player_settings (
		identity     TEXT PRIMARY KEY,
		quick_prefix TEXT NOT NULL DEFAULT '@'
	)`,
	// v8 — WAL mode for concurrent readers
	`PRAGMA journal_mode=WAL`,
	// v9 — audit log of privileged catalog mutations
	`CREATE TABLE IF NOT EXISTS audit_log (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		actor_identity  TEXT NOT NULL,
		action          TEXT NOT NULL,
		target          TEXT NOT NULL,
		details_json    TEXT NOT NULL DEFAULT '{}',
		created_at      INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_log_created ON audit_log(created_at)`,
}

// Store wraps a SQLite database and exposes the catalog operations named in
// spec §4.D / §6.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at path and applies any
// pending migrations. Use ":memory:" for ephemeral in-process storage.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		slog.Warn("store: enable WAL mode failed (non-fatal)", "err", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		slog.Warn("store: set busy_timeout failed (non-fatal)", "err", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		slog.Warn("store: enable foreign_keys failed (non-fatal)", "err", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error { return s.db.Close() }

// Ping reconnects if necessary and reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_migrations(version) VALUES(?)`, v); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		slog.Info("store: applied migration", "version", v)
	}
	return nil
}

// Optimize runs PRAGMA optimize for the SQLite query planner.
func (s *Store) Optimize() error {
	_, err := s.db.Exec(`PRAGMA optimize`)
	return err
}

// Backup copies the database to destPath via VACUUM INTO.
func (s *Store) Backup(destPath string) error {
	_, err := s.db.Exec(`VACUUM INTO ?`, destPath)
	return err
}

// withTx runs fn inside a transaction, rolling back on error and on panic.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
