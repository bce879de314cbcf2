// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitReleaseName(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantArtist string
		wantTitle  string
		wantOK     bool
	}{
		{
			name:       "plain_dash_separated",
			input:      "Artist Name - Album Title",
			wantArtist: "Artist Name",
			wantTitle:  "Album Title",
			wantOK:     true,
		},
		{
			name:       "trailing_format_bracket",
			input:      "Artist Name - Album Title [2003] [MP3 V0]",
			wantArtist: "Artist Name",
			wantTitle:  "Album Title",
			wantOK:     true,
		},
		{
			name:       "trailing_year_paren",
			input:      "Artist Name - Album Title (1997) (CD FLAC)",
			wantArtist: "Artist Name",
			wantTitle:  "Album Title",
			wantOK:     true,
		},
		{
			name:   "no_separator",
			input:  "ubuntu-24.04-desktop-amd64.iso",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			artist, title, ok := splitReleaseName(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantArtist, artist)
			assert.Equal(t, tt.wantTitle, title)
		})
	}
}
