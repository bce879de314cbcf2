// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package qbit adapts a qBittorrent instance to the two capabilities the
// pipeline needs: a fingerprint snapshot of every torrent the client knows
// about, and idempotent torrent submission.
package qbit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/moistari/rls"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/redman/internal/domain"
	"github.com/autobrr/redman/internal/fingerprint"
)

// ErrInvalidTorrent marks a .torrent blob that failed metainfo validation.
// Dispatch treats it as permanent - retrying the same bytes cannot succeed.
var ErrInvalidTorrent = errors.New("invalid torrent data")

// Client wraps the qBittorrent Web API client.
type Client struct {
	*qbt.Client
	category string
	keyer    fingerprint.Keyer
}

type Config struct {
	Host          string
	Username      string
	Password      string
	Category      string
	TLSSkipVerify bool
	Timeout       time.Duration
	Keyer         fingerprint.Keyer
}

// NewClient connects and authenticates against the instance. Connection or
// auth failure here is a SnapshotError: without the client's true state the
// download run must not proceed.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	keyer := cfg.Keyer
	if keyer == nil {
		keyer = fingerprint.Key
	}

	qbtClient := qbt.NewClient(qbt.Config{
		Host:          cfg.Host,
		Username:      cfg.Username,
		Password:      cfg.Password,
		Timeout:       int(timeout.Seconds()),
		TLSSkipVerify: cfg.TLSSkipVerify,
	})

	loginCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := qbtClient.LoginCtx(loginCtx); err != nil {
		return nil, &domain.SnapshotError{Source: "client", Err: fmt.Errorf("failed to connect to qBittorrent: %w", err)}
	}

	return &Client{Client: qbtClient, category: cfg.Category, keyer: keyer}, nil
}

// Snapshot fingerprints every torrent in the client - active, paused and
// completed alike. A torrent present in any state means the content must
// not be added again.
func (c *Client) Snapshot(ctx context.Context) (fingerprint.Set, error) {
	torrents, err := c.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Filter: qbt.TorrentFilterAll})
	if err != nil {
		return nil, &domain.SnapshotError{Source: "client", Err: err}
	}

	set := fingerprint.NewSet()
	for _, t := range torrents {
		artist, title, ok := splitReleaseName(t.Name)
		if !ok {
			continue
		}
		set.Add(c.keyer(artist, title))
	}

	log.Debug().Int("torrents", len(torrents)).Int("fingerprints", set.Len()).Msg("Built client snapshot")

	return set, nil
}

// Add validates the blob, submits it, and returns the infohash as the
// client-assigned identifier.
func (c *Client) Add(ctx context.Context, name string, blob []byte) (string, error) {
	mi, err := metainfo.Load(bytes.NewReader(blob))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidTorrent, err)
	}
	hash := mi.HashInfoBytes().HexString()

	opts := map[string]string{"tags": "redman"}
	if c.category != "" {
		opts["category"] = c.category
	}

	if err := c.AddTorrentFromMemoryCtx(ctx, blob, opts); err != nil {
		return "", err
	}

	log.Debug().Str("name", name).Str("hash", hash).Msg("Added torrent to client")

	return hash, nil
}

// splitReleaseName derives an artist/title pair from a torrent name.
// Music torrent folders are conventionally "Artist - Album [...]"; rls
// handles the messier variants and we fall back to a plain split.
func splitReleaseName(name string) (artist, title string, ok bool) {
	r := rls.ParseString(name)
	if r.Artist != "" && r.Title != "" {
		return r.Artist, r.Title, true
	}

	parts := strings.SplitN(name, " - ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	title = parts[1]
	if i := strings.IndexAny(title, "(["); i > 0 {
		title = title[:i]
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(title), true
}
