// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/autobrr/redman/internal/database"
	"github.com/autobrr/redman/internal/fingerprint"
)

var (
	ErrCandidateNotFound = errors.New("candidate not found")

	// ErrStaleTransition means the candidate's state changed underneath a
	// compare-and-set update, e.g. two download runs overlapping.
	ErrStaleTransition = errors.New("candidate state changed concurrently")
)

// DownloadState tracks where a candidate is in its lifecycle. Transitions
// are monotonic per run except Failed -> Queued (retry) and
// Failed -> Skipped* (became redundant since the last attempt). Added is
// terminal.
type DownloadState string

const (
	StateNotQueued        DownloadState = "NotQueued"
	StateSkippedInLibrary DownloadState = "SkippedInLibrary"
	StateSkippedInClient  DownloadState = "SkippedInClient"
	StateSkippedDuplicate DownloadState = "SkippedDuplicate"
	StateQueued           DownloadState = "Queued"
	StateAdded            DownloadState = "Added"
	StateFailed           DownloadState = "Failed"
)

// TorrentCandidate is the unit of download decision-making. ID is the
// tracker's torrent id and the row's identity; re-fetches update health
// fields only, never state.
type TorrentCandidate struct {
	ID           int64         `json:"id"`
	GroupID      int64         `json:"groupId"`
	Title        string        `json:"title"`
	ArtistNames  string        `json:"artistNames"`
	Year         int           `json:"year"`
	Media        string        `json:"media"`
	Format       string        `json:"format"`
	Encoding     string        `json:"encoding"`
	FileCount    int           `json:"fileCount"`
	SizeBytes    int64         `json:"sizeBytes"`
	Seeders      int           `json:"seeders"`
	Weight       int           `json:"weight"`
	State        DownloadState `json:"state"`
	AttemptCount int           `json:"attemptCount"`
	FailReason   string        `json:"failReason,omitempty"`
	ClientID     string        `json:"clientId,omitempty"`
	FirstSeenAt  time.Time     `json:"firstSeenAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// Fingerprint returns the candidate's normalized identity under keyer.
func (c *TorrentCandidate) Fingerprint(keyer fingerprint.Keyer) string {
	return keyer(c.ArtistNames, c.Title)
}

// CandidateStore persists torrent candidates and their download state.
type CandidateStore struct {
	db database.Querier
}

func NewCandidateStore(db database.Querier) *CandidateStore {
	return &CandidateStore{db: db}
}

// Upsert creates the candidate or refreshes its mutable health fields.
// Identity, state, attempt count and timestamps of existing rows are never
// touched by the fetch path. Returns true when a new row was created.
func (s *CandidateStore) Upsert(ctx context.Context, q database.TxQuerier, c *TorrentCandidate) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM torrent_candidates WHERE id = ?)", c.ID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check candidate %d: %w", c.ID, err)
	}

	now := time.Now().UTC()
	if exists {
		_, err = q.ExecContext(ctx, `
			UPDATE torrent_candidates
			SET seeders = ?, size_bytes = ?, file_count = ?, weight = ?, updated_at = ?
			WHERE id = ?`,
			c.Seeders, c.SizeBytes, c.FileCount, c.Weight, now, c.ID)
		if err != nil {
			return false, fmt.Errorf("failed to refresh candidate %d: %w", c.ID, err)
		}
		return false, nil
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO torrent_candidates (
			id, group_id, media, format, encoding, file_count, size_bytes,
			seeders, weight, state, first_seen_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.GroupID, c.Media, c.Format, c.Encoding, c.FileCount,
		c.SizeBytes, c.Seeders, c.Weight, StateNotQueued, now, now)
	if err != nil {
		return false, fmt.Errorf("failed to insert candidate %d: %w", c.ID, err)
	}

	return true, nil
}

const candidateColumns = `
	c.id, c.group_id, g.title, g.artist_names, g.year,
	c.media, c.format, c.encoding, c.file_count, c.size_bytes,
	c.seeders, c.weight, c.state, c.attempt_count, c.fail_reason,
	c.client_id, c.first_seen_at, c.updated_at`

func scanCandidate(row interface{ Scan(...any) error }) (*TorrentCandidate, error) {
	var c TorrentCandidate
	err := row.Scan(
		&c.ID, &c.GroupID, &c.Title, &c.ArtistNames, &c.Year,
		&c.Media, &c.Format, &c.Encoding, &c.FileCount, &c.SizeBytes,
		&c.Seeders, &c.Weight, &c.State, &c.AttemptCount, &c.FailReason,
		&c.ClientID, &c.FirstSeenAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Get returns a single candidate by tracker torrent id.
func (s *CandidateStore) Get(ctx context.Context, id int64) (*TorrentCandidate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT`+candidateColumns+`
		FROM torrent_candidates c
		JOIN torrent_groups g ON g.id = c.group_id
		WHERE c.id = ?`, id)

	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCandidateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get candidate %d: %w", id, err)
	}
	return c, nil
}

// ActionableFilter optionally narrows the actionable listing to one
// collage or artist. Zero values mean no filter.
type ActionableFilter struct {
	CollageID int64
	ArtistID  int64
}

// ListActionable returns candidates eligible for (re)classification this
// run: NotQueued rows plus Failed rows whose attempt count is below the
// retry ceiling, and Queued rows left over from an interrupted run.
// Ordered by weight (desc) then first-seen (oldest first) so the oldest of
// two fingerprint-duplicates wins deterministically.
func (s *CandidateStore) ListActionable(ctx context.Context, retryCeiling int, filter ActionableFilter) ([]*TorrentCandidate, error) {
	query := `
		SELECT` + candidateColumns + `
		FROM torrent_candidates c
		JOIN torrent_groups g ON g.id = c.group_id
		WHERE (c.state = ?
		   OR c.state = ?
		   OR (c.state = ? AND c.attempt_count < ?))`
	args := []any{StateNotQueued, StateQueued, StateFailed, retryCeiling}

	if filter.CollageID != 0 {
		query += " AND g.collage_id = ?"
		args = append(args, filter.CollageID)
	}
	if filter.ArtistID != 0 {
		query += " AND g.artist_id = ?"
		args = append(args, filter.ArtistID)
	}

	query += " ORDER BY c.weight DESC, c.first_seen_at ASC, c.id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list actionable candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*TorrentCandidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		candidates = append(candidates, c)
	}

	return candidates, rows.Err()
}

// Transition moves a candidate from one state to another with a
// compare-and-set on the current state, so overlapping runs cannot clobber
// each other's writes. Returns ErrStaleTransition when the row is no
// longer in the expected state.
func (s *CandidateStore) Transition(ctx context.Context, id int64, from, to DownloadState) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE torrent_candidates
		SET state = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		to, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("failed to transition candidate %d: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStaleTransition
	}
	return nil
}

// MarkAdded records a successful dispatch. Added is terminal; the client id
// (infohash) is kept for audit.
func (s *CandidateStore) MarkAdded(ctx context.Context, id int64, clientID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE torrent_candidates
		SET state = ?, client_id = ?, fail_reason = '', updated_at = ?
		WHERE id = ? AND state = ?`,
		StateAdded, clientID, time.Now().UTC(), id, StateQueued)
	if err != nil {
		return fmt.Errorf("failed to mark candidate %d added: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStaleTransition
	}
	return nil
}

// MarkFailed records a dispatch failure. Transient failures bump the
// attempt count and stay eligible for retry on a later run; permanent ones
// jump straight to the ceiling so they are never retried.
func (s *CandidateStore) MarkFailed(ctx context.Context, id int64, reason string, permanent bool, retryCeiling int) error {
	var res sql.Result
	var err error
	if permanent {
		res, err = s.db.ExecContext(ctx, `
			UPDATE torrent_candidates
			SET state = ?, attempt_count = ?, fail_reason = ?, updated_at = ?
			WHERE id = ? AND state = ?`,
			StateFailed, retryCeiling, reason, time.Now().UTC(), id, StateQueued)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE torrent_candidates
			SET state = ?, attempt_count = attempt_count + 1, fail_reason = ?, updated_at = ?
			WHERE id = ? AND state = ?`,
			StateFailed, reason, time.Now().UTC(), id, StateQueued)
	}
	if err != nil {
		return fmt.Errorf("failed to mark candidate %d failed: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStaleTransition
	}
	return nil
}
