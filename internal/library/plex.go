// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package library builds the media-library snapshot: the set of release
// fingerprints already held, read fresh from the Plex metadata database on
// every download run. Nothing here is cached between runs - the library
// mutates independently of this tool and stale holdings would risk
// duplicate downloads.
package library

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/autobrr/redman/internal/domain"
	"github.com/autobrr/redman/internal/fingerprint"
)

// Plex metadata_items type codes for music rows.
const (
	metadataTypeArtist = 8
	metadataTypeAlbum  = 9
)

// PlexReader snapshots holdings from a Plex metadata database.
type PlexReader struct {
	dbPath string
	keyer  fingerprint.Keyer
}

func NewPlexReader(dbPath string, keyer fingerprint.Keyer) *PlexReader {
	if keyer == nil {
		keyer = fingerprint.Key
	}
	return &PlexReader{dbPath: dbPath, keyer: keyer}
}

// Snapshot returns one fingerprint per album currently in the library.
// Albums hang off their artist row via parent_id in Plex's schema.
func (r *PlexReader) Snapshot(ctx context.Context) (fingerprint.Set, error) {
	if _, err := os.Stat(r.dbPath); err != nil {
		return nil, &domain.SnapshotError{Source: "library", Err: err}
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", r.dbPath))
	if err != nil {
		return nil, &domain.SnapshotError{Source: "library", Err: err}
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT album.title, artist.title
		FROM metadata_items album
		JOIN metadata_items artist ON album.parent_id = artist.id
		WHERE album.metadata_type = ? AND artist.metadata_type = ?`,
		metadataTypeAlbum, metadataTypeArtist)
	if err != nil {
		return nil, &domain.SnapshotError{Source: "library", Err: err}
	}
	defer rows.Close()

	set := fingerprint.NewSet()
	for rows.Next() {
		var album, artist string
		if err := rows.Scan(&album, &artist); err != nil {
			return nil, &domain.SnapshotError{Source: "library", Err: err}
		}
		set.Add(r.keyer(artist, album))
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.SnapshotError{Source: "library", Err: err}
	}

	log.Debug().Int("holdings", set.Len()).Str("db", r.dbPath).Msg("Built library snapshot")

	return set, nil
}
