// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/redman/internal/database"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "pool.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

// seedGroup satisfies the foreign keys candidates hang off of.
func seedGroup(t *testing.T, db *database.DB, groupID int64, artist, title string) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, NewArtistStore(db).Upsert(ctx, db, groupID, artist))
	require.NoError(t, NewGroupStore(db).Upsert(ctx, db, &TorrentGroup{
		ID:          groupID,
		Title:       title,
		ArtistNames: artist,
		Year:        2020,
		ReleaseType: 1,
		ArtistID:    groupID,
	}))
}

func TestCandidateUpsert(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewCandidateStore(db)
	seedGroup(t, db, 100, "Artist", "Album")

	c := &TorrentCandidate{
		ID:        1,
		GroupID:   100,
		Media:     "CD",
		Format:    "FLAC",
		Encoding:  "V0 (VBR)",
		FileCount: 12,
		SizeBytes: 300_000_000,
		Seeders:   40,
		Weight:    10,
	}

	isNew, err := store.Upsert(ctx, db, c)
	require.NoError(t, err)
	assert.True(t, isNew)

	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StateNotQueued, got.State)
	assert.Equal(t, "Artist", got.ArtistNames)
	assert.Equal(t, "Album", got.Title)
	assert.Equal(t, 40, got.Seeders)

	// Re-fetch refreshes health fields but never resets state.
	require.NoError(t, store.Transition(ctx, 1, StateNotQueued, StateAdded))

	c.Seeders = 55
	c.Weight = 20
	isNew, err = store.Upsert(ctx, db, c)
	require.NoError(t, err)
	assert.False(t, isNew)

	got, err = store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StateAdded, got.State)
	assert.Equal(t, 55, got.Seeders)
	assert.Equal(t, 20, got.Weight)
}

func TestCandidateGetNotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := NewCandidateStore(db).Get(context.Background(), 999)
	assert.ErrorIs(t, err, ErrCandidateNotFound)
}

func TestCandidateTransitionCompareAndSet(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewCandidateStore(db)
	seedGroup(t, db, 100, "Artist", "Album")

	_, err := store.Upsert(ctx, db, &TorrentCandidate{ID: 1, GroupID: 100, Media: "CD", Format: "FLAC", Encoding: "V0 (VBR)"})
	require.NoError(t, err)

	require.NoError(t, store.Transition(ctx, 1, StateNotQueued, StateQueued))

	// A second writer still expecting NotQueued loses the race.
	err = store.Transition(ctx, 1, StateNotQueued, StateSkippedInLibrary)
	assert.ErrorIs(t, err, ErrStaleTransition)

	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, got.State)
}

func TestCandidateMarkAdded(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewCandidateStore(db)
	seedGroup(t, db, 100, "Artist", "Album")

	_, err := store.Upsert(ctx, db, &TorrentCandidate{ID: 1, GroupID: 100, Media: "CD", Format: "FLAC", Encoding: "V0 (VBR)"})
	require.NoError(t, err)

	// Added requires Queued; straight from NotQueued is a stale write.
	err = store.MarkAdded(ctx, 1, "deadbeef")
	assert.ErrorIs(t, err, ErrStaleTransition)

	require.NoError(t, store.Transition(ctx, 1, StateNotQueued, StateQueued))
	require.NoError(t, store.MarkAdded(ctx, 1, "deadbeef"))

	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StateAdded, got.State)
	assert.Equal(t, "deadbeef", got.ClientID)
}

func TestCandidateMarkFailed(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewCandidateStore(db)
	seedGroup(t, db, 100, "Artist", "Album")

	_, err := store.Upsert(ctx, db, &TorrentCandidate{ID: 1, GroupID: 100, Media: "CD", Format: "FLAC", Encoding: "V0 (VBR)"})
	require.NoError(t, err)

	require.NoError(t, store.Transition(ctx, 1, StateNotQueued, StateQueued))
	require.NoError(t, store.MarkFailed(ctx, 1, "connection reset", false, 3))

	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Equal(t, "connection reset", got.FailReason)

	// A permanent failure jumps to the ceiling regardless of prior attempts.
	require.NoError(t, store.Transition(ctx, 1, StateFailed, StateQueued))
	require.NoError(t, store.MarkFailed(ctx, 1, "invalid torrent data", true, 3))

	got, err = store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, got.AttemptCount)
}

func TestListActionable(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewCandidateStore(db)
	seedGroup(t, db, 100, "Artist", "Album")

	seed := func(id int64, weight int, state DownloadState, attempts int) {
		t.Helper()
		_, err := store.Upsert(ctx, db, &TorrentCandidate{ID: id, GroupID: 100, Media: "CD", Format: "FLAC", Encoding: "V0 (VBR)", Weight: weight})
		require.NoError(t, err)
		if state != StateNotQueued {
			require.NoError(t, store.Transition(ctx, id, StateNotQueued, state))
		}
		if attempts > 0 {
			_, err := db.ExecContext(ctx, "UPDATE torrent_candidates SET attempt_count = ? WHERE id = ?", attempts, id)
			require.NoError(t, err)
		}
	}

	seed(1, 10, StateNotQueued, 0)
	seed(2, 20, StateNotQueued, 0)          // higher weight, listed first
	seed(3, 10, StateQueued, 0)             // interrupted run leftover
	seed(4, 10, StateFailed, 1)             // below ceiling, retryable
	seed(5, 10, StateFailed, 3)             // at ceiling, excluded
	seed(6, 10, StateAdded, 0)              // terminal, excluded
	seed(7, 10, StateSkippedInLibrary, 0)   // excluded

	got, err := store.ListActionable(ctx, 3, ActionableFilter{})
	require.NoError(t, err)

	ids := make([]int64, 0, len(got))
	for _, c := range got {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []int64{2, 1, 3, 4}, ids)
}

func TestListActionableFiltered(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	store := NewCandidateStore(db)

	require.NoError(t, NewCollageStore(db).Upsert(ctx, db, 500, "Essential Albums"))
	seedGroup(t, db, 100, "Artist A", "Album One")
	seedGroup(t, db, 101, "Artist B", "Album Two")

	collageID := int64(500)
	require.NoError(t, NewGroupStore(db).Upsert(ctx, db, &TorrentGroup{
		ID: 100, Title: "Album One", ArtistNames: "Artist A", Year: 2020,
		ReleaseType: 1, ArtistID: 100, CollageID: &collageID,
	}))

	for id, groupID := range map[int64]int64{1: 100, 2: 101} {
		_, err := store.Upsert(ctx, db, &TorrentCandidate{ID: id, GroupID: groupID, Media: "CD", Format: "MP3", Encoding: "V0 (VBR)"})
		require.NoError(t, err)
	}

	byCollage, err := store.ListActionable(ctx, 3, ActionableFilter{CollageID: 500})
	require.NoError(t, err)
	require.Len(t, byCollage, 1)
	assert.Equal(t, int64(1), byCollage[0].ID)

	byArtist, err := store.ListActionable(ctx, 3, ActionableFilter{ArtistID: 101})
	require.NoError(t, err)
	require.Len(t, byArtist, 1)
	assert.Equal(t, int64(2), byArtist[0].ID)
}
