// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package reconciler computes the download plan. Classify is a pure
// function over the actionable candidates and the two fresh snapshots;
// Apply commits the classification to the pool, one compare-and-set write
// per candidate, before any dispatch begins. A crash between the two
// phases therefore never loses classification work.
package reconciler

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/autobrr/redman/internal/fingerprint"
	"github.com/autobrr/redman/internal/models"
)

// Transition is one candidate's classified state change.
type Transition struct {
	Candidate *models.TorrentCandidate
	From      models.DownloadState
	To        models.DownloadState
}

// Plan is the ordered download queue plus the state batch that produced it.
type Plan struct {
	Queue       []*models.TorrentCandidate
	Transitions []Transition

	SkippedInLibrary int
	SkippedInClient  int
	SkippedDuplicate int
}

// Classify walks the candidates in plan order and assigns each its state:
// library holdings win over client contents, which win over queueing.
// Candidates sharing a fingerprint within one run queue only the first
// encountered; the rest become SkippedDuplicate so the same content is
// never requested twice.
func Classify(candidates []*models.TorrentCandidate, lib, client fingerprint.Set, keyer fingerprint.Keyer) *Plan {
	if keyer == nil {
		keyer = fingerprint.Key
	}

	plan := &Plan{}
	planned := fingerprint.NewSet()

	for _, c := range candidates {
		key := c.Fingerprint(keyer)

		var to models.DownloadState
		switch {
		case lib.Contains(key):
			to = models.StateSkippedInLibrary
			plan.SkippedInLibrary++
		case client.Contains(key):
			to = models.StateSkippedInClient
			plan.SkippedInClient++
		case planned.Contains(key):
			to = models.StateSkippedDuplicate
			plan.SkippedDuplicate++
		default:
			to = models.StateQueued
			planned.Add(key)
			plan.Queue = append(plan.Queue, c)
		}

		plan.Transitions = append(plan.Transitions, Transition{Candidate: c, From: c.State, To: to})
	}

	return plan
}

// TransitionStore is the slice of the pool store Apply needs.
type TransitionStore interface {
	Transition(ctx context.Context, id int64, from, to models.DownloadState) error
}

// Apply commits the plan's transitions. A candidate whose state moved
// underneath us (an overlapping run got there first) is dropped from the
// queue rather than dispatched twice.
func Apply(ctx context.Context, store TransitionStore, plan *Plan, logger zerolog.Logger) (*Plan, error) {
	stale := make(map[int64]bool)

	for _, t := range plan.Transitions {
		if t.From == t.To {
			continue
		}
		err := store.Transition(ctx, t.Candidate.ID, t.From, t.To)
		if errors.Is(err, models.ErrStaleTransition) {
			logger.Warn().
				Int64("torrent", t.Candidate.ID).
				Str("from", string(t.From)).
				Str("to", string(t.To)).
				Msg("Candidate state changed concurrently, dropping from plan")
			stale[t.Candidate.ID] = true
			continue
		}
		if err != nil {
			return nil, err
		}
		t.Candidate.State = t.To
	}

	if len(stale) == 0 {
		return plan, nil
	}

	queue := plan.Queue[:0]
	for _, c := range plan.Queue {
		if !stale[c.ID] {
			queue = append(queue, c)
		}
	}
	plan.Queue = queue
	return plan, nil
}
