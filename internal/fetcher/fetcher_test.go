// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package fetcher

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/redman/internal/database"
	"github.com/autobrr/redman/internal/domain"
	"github.com/autobrr/redman/internal/models"
	"github.com/autobrr/redman/internal/tracker"
)

type fakePages struct {
	pages map[string][]*tracker.Page
	errs  map[string]error
}

func (f *fakePages) GetPage(_ context.Context, target tracker.Target, page int) (*tracker.Page, error) {
	if err := f.errs[target.String()]; err != nil {
		return nil, err
	}
	pages := f.pages[target.String()]
	if page > len(pages) {
		return &tracker.Page{Target: target}, nil
	}
	return pages[page-1], nil
}

func albumGroup(groupID, torrentID int64, artist, title string, seeders int) tracker.Group {
	return tracker.Group{
		ID:          groupID,
		Name:        title,
		Year:        2020,
		ReleaseType: 1,
		Artists:     []tracker.Artist{{ID: groupID, Name: artist}},
		Torrents: []tracker.Torrent{
			{ID: torrentID, Media: "CD", Format: "MP3", Encoding: "V0 (VBR)", FileCount: 10, Size: 90_000_000, Seeders: seeders},
		},
	}
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "pool.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestFetchAllStoresPaginatedTarget(t *testing.T) {
	db := newTestDB(t)
	collage := tracker.Target{Type: tracker.TargetCollage, ID: 42}

	pages := &fakePages{pages: map[string][]*tracker.Page{
		collage.String(): {
			{
				Target:  collage,
				Name:    "Essential Albums",
				HasMore: true,
				Groups:  []tracker.Group{albumGroup(100, 1000, "Artist A", "Album One", 30)},
			},
			{
				Target: collage,
				Name:   "Essential Albums",
				Groups: []tracker.Group{albumGroup(101, 1001, "Artist B", "Album Two", 20)},
			},
		},
	}}

	svc := New(pages, db)
	results := svc.FetchAll(context.Background(), []tracker.Target{collage}, 10)

	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, "Essential Albums", results[0].Name)
	assert.Equal(t, 2, results[0].Pages)
	assert.Equal(t, 2, results[0].New)
	assert.Equal(t, 0, results[0].Updated)

	store := models.NewCandidateStore(db)
	got, err := store.Get(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, "Artist A", got.ArtistNames)
	assert.Equal(t, models.StateNotQueued, got.State)
	assert.Equal(t, 10, got.Weight)
}

func TestFetchAllIdempotent(t *testing.T) {
	db := newTestDB(t)
	collage := tracker.Target{Type: tracker.TargetCollage, ID: 42}

	group := albumGroup(100, 1000, "Artist A", "Album One", 30)
	pages := &fakePages{pages: map[string][]*tracker.Page{
		collage.String(): {{Target: collage, Name: "Essential Albums", Groups: []tracker.Group{group}}},
	}}

	svc := New(pages, db)

	results := svc.FetchAll(context.Background(), []tracker.Target{collage}, 10)
	require.NoError(t, results[0].Err)
	assert.Equal(t, 1, results[0].New)

	// Second pass refreshes health fields without creating rows or
	// touching download state.
	store := models.NewCandidateStore(db)
	require.NoError(t, store.Transition(context.Background(), 1000, models.StateNotQueued, models.StateAdded))
	group.Torrents[0].Seeders = 55
	pages.pages[collage.String()][0].Groups = []tracker.Group{group}

	results = svc.FetchAll(context.Background(), []tracker.Target{collage}, 10)
	require.NoError(t, results[0].Err)
	assert.Equal(t, 0, results[0].New)
	assert.Equal(t, 1, results[0].Updated)

	got, err := store.Get(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, 55, got.Seeders)
	assert.Equal(t, models.StateAdded, got.State)
}

func TestFetchAllIsolatesTargetFailures(t *testing.T) {
	db := newTestDB(t)
	good := tracker.Target{Type: tracker.TargetCollage, ID: 42}
	bad := tracker.Target{Type: tracker.TargetArtist, ID: 7}

	pages := &fakePages{
		pages: map[string][]*tracker.Page{
			good.String(): {{Target: good, Name: "Essential Albums", Groups: []tracker.Group{albumGroup(100, 1000, "Artist A", "Album One", 30)}}},
		},
		errs: map[string]error{
			bad.String(): errors.New("tracker returned status 500"),
		},
	}

	svc := New(pages, db)
	results := svc.FetchAll(context.Background(), []tracker.Target{good, bad}, 10)

	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	assert.Equal(t, 1, results[0].New)

	var fetchErr *domain.FetchError
	require.ErrorAs(t, results[1].Err, &fetchErr)
	assert.Equal(t, bad.String(), fetchErr.Target)
}

func TestPreferredTorrent(t *testing.T) {
	album := func(torrents ...tracker.Torrent) *tracker.Group {
		return &tracker.Group{ReleaseType: 1, Torrents: torrents}
	}

	t.Run("best_edition_wins", func(t *testing.T) {
		g := album(
			tracker.Torrent{ID: 1, Media: "WEB", Format: "MP3", Encoding: "320"},
			tracker.Torrent{ID: 2, Media: "CD", Format: "MP3", Encoding: "V0 (VBR)"},
			tracker.Torrent{ID: 3, Media: "WEB", Format: "MP3", Encoding: "V0 (VBR)"},
		)
		pick := preferredTorrent(g)
		require.NotNil(t, pick)
		assert.Equal(t, int64(2), pick.ID)
	})

	t.Run("web_v0_beats_cd_320", func(t *testing.T) {
		g := album(
			tracker.Torrent{ID: 1, Media: "CD", Format: "MP3", Encoding: "320"},
			tracker.Torrent{ID: 2, Media: "WEB", Format: "MP3", Encoding: "V0 (VBR)"},
		)
		pick := preferredTorrent(g)
		require.NotNil(t, pick)
		assert.Equal(t, int64(2), pick.ID)
	})

	t.Run("flac_only_group_skipped", func(t *testing.T) {
		g := album(tracker.Torrent{ID: 1, Media: "CD", Format: "FLAC", Encoding: "Lossless"})
		assert.Nil(t, preferredTorrent(g))
	})

	t.Run("non_album_skipped", func(t *testing.T) {
		g := album(tracker.Torrent{ID: 1, Media: "CD", Format: "MP3", Encoding: "V0 (VBR)"})
		g.ReleaseType = 7 // anthology
		assert.Nil(t, preferredTorrent(g))
	})
}
