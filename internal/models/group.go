// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/autobrr/redman/internal/database"
)

// TorrentGroup is a release-level grouping under an artist, optionally
// surfaced via a collage. ArtistID references the primary credited artist;
// ArtistNames carries the full display credit used for fingerprinting.
type TorrentGroup struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	ArtistNames string `json:"artistNames"`
	Year        int    `json:"year"`
	ReleaseType int    `json:"releaseType"`
	ArtistID    int64  `json:"artistId"`
	CollageID   *int64 `json:"collageId,omitempty"`
}

type GroupStore struct {
	db database.Querier
}

func NewGroupStore(db database.Querier) *GroupStore {
	return &GroupStore{db: db}
}

// Upsert creates or refreshes a torrent group keyed by its tracker id. The
// referenced artist row must already exist; the store rejects orphaning
// rather than silently accepting it.
func (s *GroupStore) Upsert(ctx context.Context, q database.TxQuerier, g *TorrentGroup) error {
	var collageID sql.NullInt64
	if g.CollageID != nil {
		collageID = sql.NullInt64{Int64: *g.CollageID, Valid: true}
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO torrent_groups (id, title, artist_names, year, release_type, artist_id, collage_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			artist_names = excluded.artist_names,
			year = excluded.year,
			release_type = excluded.release_type,
			artist_id = excluded.artist_id,
			collage_id = COALESCE(excluded.collage_id, torrent_groups.collage_id)`,
		g.ID, g.Title, g.ArtistNames, g.Year, g.ReleaseType, g.ArtistID, collageID)
	if err != nil {
		return fmt.Errorf("failed to upsert group %d: %w", g.ID, err)
	}
	return nil
}
