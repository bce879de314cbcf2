// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"fmt"

	"github.com/autobrr/redman/internal/database"
)

// FormatCount is one entry of the pool's format distribution.
type FormatCount struct {
	Format string `json:"format"`
	Count  int64  `json:"count"`
}

// PoolStats aggregates pool contents for the stats command.
type PoolStats struct {
	TotalCandidates int64                   `json:"totalCandidates"`
	UniqueArtists   int64                   `json:"uniqueArtists"`
	UniqueAlbums    int64                   `json:"uniqueAlbums"`
	ByState         map[DownloadState]int64 `json:"byState"`
	FormatCounts    []FormatCount           `json:"formatCounts"`
}

type StatsStore struct {
	db database.Querier
}

func NewStatsStore(db database.Querier) *StatsStore {
	return &StatsStore{db: db}
}

func (s *StatsStore) Get(ctx context.Context) (*PoolStats, error) {
	stats := &PoolStats{ByState: make(map[DownloadState]int64)}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT g.artist_names),
		       COUNT(DISTINCT g.title)
		FROM torrent_candidates c
		JOIN torrent_groups g ON g.id = c.group_id`,
	).Scan(&stats.TotalCandidates, &stats.UniqueArtists, &stats.UniqueAlbums)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate pool totals: %w", err)
	}

	stateRows, err := s.db.QueryContext(ctx, `
		SELECT state, COUNT(*) FROM torrent_candidates GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate states: %w", err)
	}
	defer stateRows.Close()

	for stateRows.Next() {
		var state DownloadState
		var count int64
		if err := stateRows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats.ByState[state] = count
	}
	if err := stateRows.Err(); err != nil {
		return nil, err
	}

	formatRows, err := s.db.QueryContext(ctx, `
		SELECT format, COUNT(*) AS count
		FROM torrent_candidates
		GROUP BY format
		ORDER BY count DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate formats: %w", err)
	}
	defer formatRows.Close()

	for formatRows.Next() {
		var fc FormatCount
		if err := formatRows.Scan(&fc.Format, &fc.Count); err != nil {
			return nil, err
		}
		stats.FormatCounts = append(stats.FormatCounts, fc)
	}

	return stats, formatRows.Err()
}
