// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"fmt"
	"time"

	"github.com/autobrr/redman/internal/database"
)

// Collage is a curated grouping sourced from the tracker. Rows are created
// on first fetch and only their fetch timestamp moves afterwards; collages
// are never deleted automatically.
type Collage struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	LastFetchedAt time.Time `json:"lastFetchedAt"`
}

type CollageStore struct {
	db database.Querier
}

func NewCollageStore(db database.Querier) *CollageStore {
	return &CollageStore{db: db}
}

// Upsert creates or refreshes a collage keyed by its tracker id.
func (s *CollageStore) Upsert(ctx context.Context, q database.TxQuerier, id int64, name string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO collages (id, name, last_fetched_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, last_fetched_at = excluded.last_fetched_at`,
		id, name, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert collage %d: %w", id, err)
	}
	return nil
}
