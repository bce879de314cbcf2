// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsGet(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	candidates := NewCandidateStore(db)

	seedGroup(t, db, 100, "Artist A", "Album One")
	seedGroup(t, db, 101, "Artist B", "Album Two")

	seed := func(id, groupID int64, format string, state DownloadState) {
		t.Helper()
		_, err := candidates.Upsert(ctx, db, &TorrentCandidate{
			ID: id, GroupID: groupID, Media: "CD", Format: format, Encoding: "V0 (VBR)",
		})
		require.NoError(t, err)
		if state != StateNotQueued {
			require.NoError(t, candidates.Transition(ctx, id, StateNotQueued, state))
		}
	}

	seed(1, 100, "MP3", StateAdded)
	seed(2, 100, "MP3", StateNotQueued)
	seed(3, 101, "FLAC", StateFailed)

	stats, err := NewStatsStore(db).Get(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.TotalCandidates)
	assert.Equal(t, int64(2), stats.UniqueArtists)
	assert.Equal(t, int64(2), stats.UniqueAlbums)

	assert.Equal(t, int64(1), stats.ByState[StateAdded])
	assert.Equal(t, int64(1), stats.ByState[StateNotQueued])
	assert.Equal(t, int64(1), stats.ByState[StateFailed])

	require.Len(t, stats.FormatCounts, 2)
	assert.Equal(t, FormatCount{Format: "MP3", Count: 2}, stats.FormatCounts[0])
	assert.Equal(t, FormatCount{Format: "FLAC", Count: 1}, stats.FormatCounts[1])
}

func TestStatsEmptyPool(t *testing.T) {
	db := setupTestDB(t)

	stats, err := NewStatsStore(db).Get(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(0), stats.TotalCandidates)
	assert.Empty(t, stats.ByState)
	assert.Empty(t, stats.FormatCounts)
}
