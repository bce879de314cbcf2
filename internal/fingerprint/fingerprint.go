// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package fingerprint computes the normalized key that identifies "the same
// release" across the tracker pool, the media library, and the download
// client. Both snapshot builders and the reconciler must use the same Keyer;
// candidates and holdings that normalize to the same key are the same
// content.
package fingerprint

import "strings"

// Keyer maps an artist/title pair onto a comparable fingerprint. It is
// pluggable so tests (and future stronger matchers, e.g. content hashes)
// can substitute their own rule.
type Keyer func(artist, title string) string

// Key is the default metadata fingerprint: normalized artist and title
// joined with "/". Format is deliberately not part of identity - the pool
// keeps one preferred format per release, and owning a release in any
// format means it must not be fetched again.
func Key(artist, title string) string {
	return normalize(artist) + "/" + normalize(title)
}

// normalize lowercases and strips the punctuation that commonly differs
// between metadata sources ("Bob's Burgers" vs "Bobs Burgers",
// "Spider-Man" vs "Spider Man"), then collapses whitespace.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	s = strings.ReplaceAll(s, "'", "")
	s = strings.ReplaceAll(s, "’", "") // right single quote
	s = strings.ReplaceAll(s, "‘", "") // left single quote
	s = strings.ReplaceAll(s, "`", "")
	s = strings.ReplaceAll(s, ":", "")
	s = strings.ReplaceAll(s, "-", " ")

	return strings.Join(strings.Fields(s), " ")
}

// Set is a snapshot of fingerprints from one external system.
type Set map[string]struct{}

func NewSet(keys ...string) Set {
	s := make(Set, len(keys))
	for _, k := range keys {
		s.Add(k)
	}
	return s
}

func (s Set) Add(key string) {
	s[key] = struct{}{}
}

func (s Set) Contains(key string) bool {
	_, ok := s[key]
	return ok
}

func (s Set) Len() int { return len(s) }
