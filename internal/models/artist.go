// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"fmt"
	"time"

	"github.com/autobrr/redman/internal/database"
)

// Artist is a tracker-sourced entity with the same lifecycle as Collage,
// keyed by the tracker's artist id.
type Artist struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	LastFetchedAt time.Time `json:"lastFetchedAt"`
}

type ArtistStore struct {
	db database.Querier
}

func NewArtistStore(db database.Querier) *ArtistStore {
	return &ArtistStore{db: db}
}

// Upsert creates or refreshes an artist keyed by its tracker id.
func (s *ArtistStore) Upsert(ctx context.Context, q database.TxQuerier, id int64, name string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO artists (id, name, last_fetched_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, last_fetched_at = excluded.last_fetched_at`,
		id, name, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert artist %d: %w", id, err)
	}
	return nil
}
