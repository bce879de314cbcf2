// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package tracker implements the Gazelle ajax API client used by the fetch
// pipeline and the dispatcher.
package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/redman/internal/buildinfo"
)

const maxTorrentBlobBytes int64 = 16 << 20 // safety limit for .torrent payloads

// StatusError represents a non-2xx tracker response. The status code drives
// retry classification: 429 and 5xx are transient, other 4xx are fatal for
// the target.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tracker returned status %d for %s", e.Code, e.URL)
}

func (e *StatusError) Transient() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Client talks to a Gazelle-style tracker.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retries    uint
	retryDelay time.Duration
}

type Option func(*Client)

// WithRetries overrides the per-request retry budget.
func WithRetries(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.retries = uint(n)
		}
	}
}

// WithRetryDelay overrides the initial backoff delay (tests use a tiny one).
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retries:    3,
		retryDelay: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetPage fetches one page of a target and normalizes it. Collages page
// through the tracker's pages counter; artist discographies arrive whole,
// so their single page reports HasMore=false.
func (c *Client) GetPage(ctx context.Context, target Target, page int) (*Page, error) {
	switch target.Type {
	case TargetCollage:
		return c.getCollagePage(ctx, target, page)
	case TargetArtist:
		return c.getArtist(ctx, target)
	default:
		return nil, fmt.Errorf("unknown target type %q", target.Type)
	}
}

func (c *Client) getCollagePage(ctx context.Context, target Target, page int) (*Page, error) {
	params := url.Values{}
	params.Set("action", "collage")
	params.Set("id", strconv.FormatInt(target.ID, 10))
	params.Set("page", strconv.Itoa(page))

	body, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}

	var resp collageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode collage response: %w", err)
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("tracker returned error status %q: %s", resp.Status, resp.Error)
	}

	out := &Page{
		Target:  target,
		Name:    resp.Response.Name,
		HasMore: resp.Response.Pages > page && len(resp.Response.TorrentGroups) > 0,
	}
	for _, g := range resp.Response.TorrentGroups {
		out.Groups = append(out.Groups, g.toGroup())
	}

	return out, nil
}

func (c *Client) getArtist(ctx context.Context, target Target) (*Page, error) {
	params := url.Values{}
	params.Set("action", "artist")
	params.Set("id", strconv.FormatInt(target.ID, 10))
	params.Set("artistreleases", "1")

	body, err := c.get(ctx, params)
	if err != nil {
		return nil, err
	}

	var resp artistResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode artist response: %w", err)
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("tracker returned error status %q: %s", resp.Status, resp.Error)
	}

	out := &Page{Target: target, Name: resp.Response.Name}
	for _, g := range resp.Response.TorrentGroups {
		out.Groups = append(out.Groups, g.toGroup(resp.Response.ID, resp.Response.Name))
	}

	return out, nil
}

// DownloadTorrent fetches the .torrent blob for a candidate.
func (c *Client) DownloadTorrent(ctx context.Context, torrentID int64) ([]byte, error) {
	params := url.Values{}
	params.Set("action", "download")
	params.Set("id", strconv.FormatInt(torrentID, 10))
	return c.get(ctx, params)
}

// get performs an authenticated ajax request with bounded exponential
// backoff on transient failures. Non-transient HTTP errors abort
// immediately.
func (c *Client) get(ctx context.Context, params url.Values) ([]byte, error) {
	reqURL := fmt.Sprintf("%s/ajax.php?%s", c.baseURL, params.Encode())

	var body []byte
	err := retry.Do(
		func() error {
			var err error
			body, err = c.doGet(ctx, reqURL)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(c.retries),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Err(err).Uint("attempt", n+1).Str("url", reqURL).Msg("Retrying tracker request")
		}),
	)
	return body, err
}

func (c *Client) doGet(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, retry.Unrecoverable(err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors are transient; let the backoff handle them.
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{Code: resp.StatusCode, URL: reqURL}
		if statusErr.Transient() {
			return nil, statusErr
		}
		return nil, retry.Unrecoverable(statusErr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTorrentBlobBytes))
	if err != nil {
		return nil, err
	}
	return body, nil
}

// IsTransient reports whether err should count against the retry ceiling
// rather than fail permanently.
func IsTransient(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}
	// Anything that is not an HTTP status rejection (timeouts, connection
	// resets, DNS hiccups) is worth another attempt later.
	return true
}
