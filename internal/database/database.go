// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// DB wraps the pool database connection.
type DB struct {
	*sql.DB
	path string
}

// New opens (creating if necessary) the pool database at path and applies
// pending migrations.
func New(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer; serialize writes through one
	// connection instead of surfacing SQLITE_BUSY to callers.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB, path: path}
	if err := db.migrate(context.Background()); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// migrations are applied in order; schema_version tracks the last applied
// index via PRAGMA user_version.
var migrations = []string{
	`
	CREATE TABLE collages (
		id              INTEGER PRIMARY KEY,
		name            TEXT NOT NULL,
		last_fetched_at TIMESTAMP NOT NULL
	);

	CREATE TABLE artists (
		id              INTEGER PRIMARY KEY,
		name            TEXT NOT NULL,
		last_fetched_at TIMESTAMP NOT NULL
	);

	CREATE TABLE torrent_groups (
		id           INTEGER PRIMARY KEY,
		title        TEXT NOT NULL,
		artist_names TEXT NOT NULL,
		year         INTEGER NOT NULL DEFAULT 0,
		release_type INTEGER NOT NULL DEFAULT 0,
		artist_id    INTEGER NOT NULL REFERENCES artists(id),
		collage_id   INTEGER REFERENCES collages(id)
	);

	CREATE INDEX idx_torrent_groups_artist ON torrent_groups(artist_id);

	CREATE TABLE torrent_candidates (
		id            INTEGER PRIMARY KEY,
		group_id      INTEGER NOT NULL REFERENCES torrent_groups(id),
		media         TEXT NOT NULL,
		format        TEXT NOT NULL,
		encoding      TEXT NOT NULL,
		file_count    INTEGER NOT NULL DEFAULT 0,
		size_bytes    INTEGER NOT NULL DEFAULT 0,
		seeders       INTEGER NOT NULL DEFAULT 0,
		weight        INTEGER NOT NULL DEFAULT 0,
		state         TEXT NOT NULL DEFAULT 'NotQueued',
		attempt_count INTEGER NOT NULL DEFAULT 0,
		fail_reason   TEXT NOT NULL DEFAULT '',
		client_id     TEXT NOT NULL DEFAULT '',
		first_seen_at TIMESTAMP NOT NULL,
		updated_at    TIMESTAMP NOT NULL
	);

	CREATE INDEX idx_torrent_candidates_state ON torrent_candidates(state);
	`,
}

func (db *DB) migrate(ctx context.Context) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	if version > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than this build supports (%d)", version, len(migrations))
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}

		// PRAGMA does not accept bound parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to bump schema version: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return err
		}

		log.Debug().Int("version", i+1).Msg("Applied pool database migration")
	}

	return nil
}

// Path returns the on-disk location of the pool database.
func (db *DB) Path() string {
	return db.path
}
