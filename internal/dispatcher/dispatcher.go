// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package dispatcher drives the download plan against the client: fetch the
// .torrent blob, submit it, and record the outcome per candidate. Workers
// run concurrently under a small bound; every state write is a
// compare-and-set so overlapping runs never race on the same row. The
// dispatcher trusts the reconciler's plan and never re-reads the client
// snapshot mid-run - the client's own duplicate rejection is the last line
// of defense.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/redman/internal/domain"
	"github.com/autobrr/redman/internal/models"
	"github.com/autobrr/redman/internal/qbit"
	"github.com/autobrr/redman/internal/tracker"
)

const DefaultWorkers = 3

// TorrentSource downloads .torrent blobs from the tracker.
type TorrentSource interface {
	DownloadTorrent(ctx context.Context, torrentID int64) ([]byte, error)
}

// TorrentAdder submits a torrent to the download client.
type TorrentAdder interface {
	Add(ctx context.Context, name string, blob []byte) (string, error)
}

// Store is the slice of the pool store the dispatcher writes through.
type Store interface {
	MarkAdded(ctx context.Context, id int64, clientID string) error
	MarkFailed(ctx context.Context, id int64, reason string, permanent bool, retryCeiling int) error
}

// Failure describes one candidate that could not be added this run.
type Failure struct {
	TorrentID int64
	Name      string
	Reason    string
	Permanent bool
}

// Summary is the dispatch portion of the run report.
type Summary struct {
	Attempted int
	Added     int
	Failed    int
	Failures  []Failure
}

type Dispatcher struct {
	source       TorrentSource
	adder        TorrentAdder
	store        Store
	workers      int
	retryCeiling int
	log          zerolog.Logger
}

type Config struct {
	Workers      int
	RetryCeiling int
}

func New(source TorrentSource, adder TorrentAdder, store Store, cfg Config, logger zerolog.Logger) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	ceiling := cfg.RetryCeiling
	if ceiling <= 0 {
		ceiling = 3
	}
	return &Dispatcher{
		source:       source,
		adder:        adder,
		store:        store,
		workers:      workers,
		retryCeiling: ceiling,
		log:          logger,
	}
}

// Run dispatches the queue in plan order with bounded concurrency. Limit
// caps how many candidates are attempted (zero means all); the remainder
// stays Queued for the next run. Per-candidate failures are recorded, not
// propagated; only storage failures abort the run.
func (d *Dispatcher) Run(ctx context.Context, queue []*models.TorrentCandidate, limit int) (*Summary, error) {
	if limit > 0 && limit < len(queue) {
		queue = queue[:limit]
	}

	runLog := d.log.With().Str("run_id", uuid.NewString()).Logger()
	runLog.Info().Int("queued", len(queue)).Int("workers", d.workers).Msg("Dispatching download plan")

	summary := &Summary{Attempted: len(queue)}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)

	for _, candidate := range queue {
		g.Go(func() error {
			outcome, err := d.dispatch(ctx, runLog, candidate)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			if outcome == nil {
				summary.Added++
			} else {
				summary.Failed++
				summary.Failures = append(summary.Failures, *outcome)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return summary, err
	}
	return summary, nil
}

// dispatch handles one candidate: Queued --submit--> {Added | Failed}.
// Returns a Failure for recorded per-candidate errors and a non-nil error
// only for fatal storage problems. A context cancellation leaves the
// candidate Queued so the next run resumes it.
func (d *Dispatcher) dispatch(ctx context.Context, runLog zerolog.Logger, c *models.TorrentCandidate) (*Failure, error) {
	name := displayName(c)

	blob, err := d.source.DownloadTorrent(ctx, c.ID)
	if err != nil {
		return d.recordFailure(ctx, runLog, c, name, fmt.Errorf("download: %w", err))
	}

	clientID, err := d.adder.Add(ctx, name, blob)
	if err != nil {
		return d.recordFailure(ctx, runLog, c, name, fmt.Errorf("add: %w", err))
	}

	if err := d.store.MarkAdded(ctx, c.ID, clientID); err != nil {
		if errors.Is(err, models.ErrStaleTransition) {
			runLog.Warn().Int64("torrent", c.ID).Msg("Candidate left Queued state concurrently after add")
			return nil, nil
		}
		return nil, &domain.StorageError{Op: "mark added", Err: err}
	}

	runLog.Info().Int64("torrent", c.ID).Str("name", name).Str("client_id", clientID).Msg("Torrent added")
	return nil, nil
}

func (d *Dispatcher) recordFailure(ctx context.Context, runLog zerolog.Logger, c *models.TorrentCandidate, name string, cause error) (*Failure, error) {
	// An interrupted run leaves the candidate Queued; it is not a failure.
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return nil, cause
	}

	permanent := isPermanent(cause)
	dispatchErr := &domain.DispatchError{TorrentID: c.ID, Permanent: permanent, Err: cause}

	// Writes must outlive a canceled run context so the failure is never lost.
	writeCtx := context.WithoutCancel(ctx)
	if err := d.store.MarkFailed(writeCtx, c.ID, cause.Error(), permanent, d.retryCeiling); err != nil {
		if errors.Is(err, models.ErrStaleTransition) {
			runLog.Warn().Int64("torrent", c.ID).Msg("Candidate left Queued state concurrently after failure")
			return nil, nil
		}
		return nil, &domain.StorageError{Op: "mark failed", Err: err}
	}

	runLog.Error().Err(dispatchErr).Str("name", name).Msg("Dispatch failed")

	return &Failure{
		TorrentID: c.ID,
		Name:      name,
		Reason:    cause.Error(),
		Permanent: permanent,
	}, nil
}

// isPermanent classifies dispatch errors. Invalid torrent data and hard
// HTTP rejections cannot succeed on retry; timeouts, connection errors,
// rate limits and busy clients can.
func isPermanent(err error) bool {
	if errors.Is(err, qbit.ErrInvalidTorrent) {
		return true
	}
	return !tracker.IsTransient(err)
}

func displayName(c *models.TorrentCandidate) string {
	if c.Year > 0 {
		return fmt.Sprintf("%s - %s (%d) [%s %s]", c.ArtistNames, c.Title, c.Year, c.Media, c.Encoding)
	}
	return fmt.Sprintf("%s - %s [%s %s]", c.ArtistNames, c.Title, c.Media, c.Encoding)
}
