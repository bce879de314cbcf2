// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package fetcher ingests paginated tracker metadata into the pool store.
// Targets run concurrently; pages within a target are sequential because
// the tracker's paging is stateful. Each page commits in its own
// transaction, so a failed target keeps the pages it already processed and
// re-invoking fetch resumes idempotently.
package fetcher

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/redman/internal/database"
	"github.com/autobrr/redman/internal/domain"
	"github.com/autobrr/redman/internal/models"
	"github.com/autobrr/redman/internal/tracker"
)

// PageFetcher is the capability the pipeline needs from the tracker client.
type PageFetcher interface {
	GetPage(ctx context.Context, target tracker.Target, page int) (*tracker.Page, error)
}

// TargetResult reports one target's outcome in the run summary.
type TargetResult struct {
	Target  tracker.Target
	Name    string
	Pages   int
	New     int
	Updated int
	Err     error
}

// Service drives fetches for one pool database.
type Service struct {
	pages      PageFetcher
	db         database.Querier
	collages   *models.CollageStore
	artists    *models.ArtistStore
	groups     *models.GroupStore
	candidates *models.CandidateStore
	maxTargets int
}

func New(pages PageFetcher, db database.Querier) *Service {
	return &Service{
		pages:      pages,
		db:         db,
		collages:   models.NewCollageStore(db),
		artists:    models.NewArtistStore(db),
		groups:     models.NewGroupStore(db),
		candidates: models.NewCandidateStore(db),
		maxTargets: 4,
	}
}

// FetchAll ingests every target, running up to maxTargets concurrently.
// A failing target is reported in its result and never aborts the others.
func (s *Service) FetchAll(ctx context.Context, targets []tracker.Target, weight int) []TargetResult {
	results := make([]TargetResult, len(targets))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxTargets)

	for i, target := range targets {
		g.Go(func() error {
			results[i] = s.fetchTarget(ctx, target, weight)
			return nil
		})
	}

	// Workers never return errors; per-target failures live in results.
	_ = g.Wait()

	return results
}

func (s *Service) fetchTarget(ctx context.Context, target tracker.Target, weight int) TargetResult {
	result := TargetResult{Target: target}
	start := time.Now()

	for page := 1; ; page++ {
		p, err := s.pages.GetPage(ctx, target, page)
		if err != nil {
			result.Err = &domain.FetchError{Target: target.String(), Err: err}
			break
		}
		if result.Name == "" {
			result.Name = p.Name
		}
		if len(p.Groups) == 0 {
			break
		}

		created, updated, err := s.storePage(ctx, p, weight)
		if err != nil {
			result.Err = &domain.StorageError{Op: "store page", Err: err}
			break
		}

		result.Pages++
		result.New += created
		result.Updated += updated

		if !p.HasMore {
			break
		}
	}

	log.Info().
		Str("target", target.String()).
		Str("name", result.Name).
		Int("pages", result.Pages).
		Int("new", result.New).
		Int("updated", result.Updated).
		Dur("elapsed", time.Since(start)).
		Err(result.Err).
		Msg("Fetched target")

	return result
}

// storePage commits one page of entries atomically: collage/artist rows
// first, then groups, then candidates, so references never dangle.
func (s *Service) storePage(ctx context.Context, p *tracker.Page, weight int) (created, updated int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	var collageID *int64
	switch p.Target.Type {
	case tracker.TargetCollage:
		if err := s.collages.Upsert(ctx, tx, p.Target.ID, p.Name); err != nil {
			return 0, 0, err
		}
		id := p.Target.ID
		collageID = &id
	case tracker.TargetArtist:
		if err := s.artists.Upsert(ctx, tx, p.Target.ID, p.Name); err != nil {
			return 0, 0, err
		}
	}

	for _, group := range p.Groups {
		pick := preferredTorrent(&group)
		if pick == nil {
			continue
		}

		if len(group.Artists) == 0 {
			log.Warn().Int64("group", group.ID).Msg("Skipping group without artist credit")
			continue
		}
		for _, artist := range group.Artists {
			if err := s.artists.Upsert(ctx, tx, artist.ID, artist.Name); err != nil {
				return 0, 0, err
			}
		}

		if err := s.groups.Upsert(ctx, tx, &models.TorrentGroup{
			ID:          group.ID,
			Title:       group.Name,
			ArtistNames: group.ArtistNames(),
			Year:        group.Year,
			ReleaseType: group.ReleaseType,
			ArtistID:    group.Artists[0].ID,
			CollageID:   collageID,
		}); err != nil {
			return 0, 0, err
		}

		isNew, err := s.candidates.Upsert(ctx, tx, &models.TorrentCandidate{
			ID:        pick.ID,
			GroupID:   group.ID,
			Media:     pick.Media,
			Format:    pick.Format,
			Encoding:  pick.Encoding,
			FileCount: pick.FileCount,
			SizeBytes: pick.Size,
			Seeders:   pick.Seeders,
			Weight:    weight,
		})
		if err != nil {
			return 0, 0, err
		}
		if isNew {
			created++
		} else {
			updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return created, updated, nil
}

// preferredTorrent applies the format policy: albums only, CD/WEB MP3 in
// V0 or 320, best edition wins by preference order CD/V0 > WEB/V0 >
// CD/320 > WEB/320. Returns nil when the group has no eligible edition.
func preferredTorrent(g *tracker.Group) *tracker.Torrent {
	const releaseTypeAlbum = 1
	if g.ReleaseType != releaseTypeAlbum {
		return nil
	}

	rank := func(t *tracker.Torrent) int {
		if t.Format != "MP3" || (t.Media != "CD" && t.Media != "WEB") {
			return -1
		}
		switch {
		case t.Media == "CD" && t.Encoding == "V0 (VBR)":
			return 0
		case t.Media == "WEB" && t.Encoding == "V0 (VBR)":
			return 1
		case t.Media == "CD" && t.Encoding == "320":
			return 2
		case t.Media == "WEB" && t.Encoding == "320":
			return 3
		default:
			return -1
		}
	}

	var best *tracker.Torrent
	bestRank := -1
	for i := range g.Torrents {
		t := &g.Torrents[i]
		r := rank(t)
		if r < 0 {
			continue
		}
		if best == nil || r < bestRank {
			best = t
			bestRank = r
		}
	}
	return best
}
