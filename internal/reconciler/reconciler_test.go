// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reconciler

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/redman/internal/fingerprint"
	"github.com/autobrr/redman/internal/models"
)

func candidate(id int64, artist, title string) *models.TorrentCandidate {
	return &models.TorrentCandidate{
		ID:          id,
		ArtistNames: artist,
		Title:       title,
		State:       models.StateNotQueued,
	}
}

func TestClassifyPriority(t *testing.T) {
	inLibrary := candidate(1, "Artist A", "Album One")
	inClient := candidate(2, "Artist B", "Album Two")
	fresh := candidate(3, "Artist C", "Album Three")

	lib := fingerprint.NewSet(fingerprint.Key("Artist A", "Album One"))
	client := fingerprint.NewSet(fingerprint.Key("Artist B", "Album Two"))

	plan := Classify([]*models.TorrentCandidate{inLibrary, inClient, fresh}, lib, client, nil)

	require.Len(t, plan.Transitions, 3)
	assert.Equal(t, models.StateSkippedInLibrary, plan.Transitions[0].To)
	assert.Equal(t, models.StateSkippedInClient, plan.Transitions[1].To)
	assert.Equal(t, models.StateQueued, plan.Transitions[2].To)

	require.Len(t, plan.Queue, 1)
	assert.Equal(t, int64(3), plan.Queue[0].ID)
	assert.Equal(t, 1, plan.SkippedInLibrary)
	assert.Equal(t, 1, plan.SkippedInClient)
	assert.Equal(t, 0, plan.SkippedDuplicate)
}

// Library holdings win even when the client also has the content.
func TestClassifyLibraryBeatsClient(t *testing.T) {
	c := candidate(1, "Artist", "Album")
	both := fingerprint.NewSet(fingerprint.Key("Artist", "Album"))

	plan := Classify([]*models.TorrentCandidate{c}, both, both, nil)

	require.Len(t, plan.Transitions, 1)
	assert.Equal(t, models.StateSkippedInLibrary, plan.Transitions[0].To)
	assert.Empty(t, plan.Queue)
}

func TestClassifyDuplicateSuppression(t *testing.T) {
	// Two editions of the same release under different casing. The first in
	// plan order queues; the second is a within-run duplicate.
	first := candidate(10, "Artist", "Album")
	second := candidate(11, "ARTIST", "album")

	plan := Classify([]*models.TorrentCandidate{first, second}, fingerprint.NewSet(), fingerprint.NewSet(), nil)

	require.Len(t, plan.Queue, 1)
	assert.Equal(t, int64(10), plan.Queue[0].ID)
	assert.Equal(t, models.StateQueued, plan.Transitions[0].To)
	assert.Equal(t, models.StateSkippedDuplicate, plan.Transitions[1].To)
	assert.Equal(t, 1, plan.SkippedDuplicate)
}

func TestClassifyEmptyInputs(t *testing.T) {
	plan := Classify(nil, fingerprint.NewSet(), fingerprint.NewSet(), nil)
	assert.Empty(t, plan.Queue)
	assert.Empty(t, plan.Transitions)
}

type fakeTransitionStore struct {
	calls []models.DownloadState
	stale map[int64]bool
	err   error
}

func (f *fakeTransitionStore) Transition(_ context.Context, id int64, _, to models.DownloadState) error {
	if f.err != nil {
		return f.err
	}
	if f.stale[id] {
		return models.ErrStaleTransition
	}
	f.calls = append(f.calls, to)
	return nil
}

func TestApplyCommitsTransitions(t *testing.T) {
	c1 := candidate(1, "A", "One")
	c2 := candidate(2, "B", "Two")
	lib := fingerprint.NewSet(fingerprint.Key("B", "Two"))

	plan := Classify([]*models.TorrentCandidate{c1, c2}, lib, fingerprint.NewSet(), nil)

	store := &fakeTransitionStore{}
	applied, err := Apply(context.Background(), store, plan, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, []models.DownloadState{models.StateQueued, models.StateSkippedInLibrary}, store.calls)
	assert.Equal(t, models.StateQueued, c1.State)
	assert.Equal(t, models.StateSkippedInLibrary, c2.State)
	require.Len(t, applied.Queue, 1)
}

// A candidate already in its target state needs no write. This keeps
// crash-recovered Queued rows from burning a transition.
func TestApplySkipsNoopTransitions(t *testing.T) {
	c := candidate(1, "A", "One")
	c.State = models.StateQueued

	plan := Classify([]*models.TorrentCandidate{c}, fingerprint.NewSet(), fingerprint.NewSet(), nil)

	store := &fakeTransitionStore{}
	applied, err := Apply(context.Background(), store, plan, zerolog.Nop())
	require.NoError(t, err)

	assert.Empty(t, store.calls)
	require.Len(t, applied.Queue, 1)
	assert.Equal(t, int64(1), applied.Queue[0].ID)
}

func TestApplyDropsStaleFromQueue(t *testing.T) {
	c1 := candidate(1, "A", "One")
	c2 := candidate(2, "B", "Two")

	plan := Classify([]*models.TorrentCandidate{c1, c2}, fingerprint.NewSet(), fingerprint.NewSet(), nil)
	require.Len(t, plan.Queue, 2)

	store := &fakeTransitionStore{stale: map[int64]bool{1: true}}
	applied, err := Apply(context.Background(), store, plan, zerolog.Nop())
	require.NoError(t, err)

	require.Len(t, applied.Queue, 1)
	assert.Equal(t, int64(2), applied.Queue[0].ID)
}

func TestApplyPropagatesStorageErrors(t *testing.T) {
	c := candidate(1, "A", "One")
	plan := Classify([]*models.TorrentCandidate{c}, fingerprint.NewSet(), fingerprint.NewSet(), nil)

	store := &fakeTransitionStore{err: assert.AnError}
	_, err := Apply(context.Background(), store, plan, zerolog.Nop())
	assert.ErrorIs(t, err, assert.AnError)
}
