// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tracker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TargetType selects which tracker endpoint a fetch target uses.
type TargetType string

const (
	TargetCollage TargetType = "collage"
	TargetArtist  TargetType = "artist"
)

func ParseTargetType(s string) (TargetType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "collage":
		return TargetCollage, nil
	case "artist":
		return TargetArtist, nil
	default:
		return "", fmt.Errorf("unknown target type %q (expected collage or artist)", s)
	}
}

// Target identifies one collage or artist to ingest.
type Target struct {
	Type TargetType
	ID   int64
}

func (t Target) String() string {
	return fmt.Sprintf("%s/%d", t.Type, t.ID)
}

// Artist is a normalized tracker artist credit.
type Artist struct {
	ID   int64
	Name string
}

// Torrent is one normalized release edition inside a group.
type Torrent struct {
	ID        int64
	Media     string
	Format    string
	Encoding  string
	FileCount int
	Size      int64
	Seeders   int
}

// Group is a normalized torrent group from either endpoint.
type Group struct {
	ID          int64
	Name        string
	Year        int
	ReleaseType int
	Artists     []Artist
	Torrents    []Torrent
}

// ArtistNames joins the group's credits for display and fingerprinting.
func (g *Group) ArtistNames() string {
	names := make([]string, 0, len(g.Artists))
	for _, a := range g.Artists {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}

// Page is one page of normalized entries for a target.
type Page struct {
	Target  Target
	Name    string
	Groups  []Group
	HasMore bool
}

// flexInt tolerates the tracker's habit of returning numbers as strings on
// some endpoints (collage group year) and as numbers on others.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid numeric string %q: %w", s, err)
		}
		*f = flexInt(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

// Wire formats. The collage and artist endpoints disagree on field names
// and types, so each gets its own envelope that converts to Group.

type apiTorrent struct {
	TorrentID int64  `json:"torrentid"`
	ID        int64  `json:"id"`
	Media     string `json:"media"`
	Format    string `json:"format"`
	Encoding  string `json:"encoding"`
	FileCount int    `json:"fileCount"`
	Size      int64  `json:"size"`
	Seeders   int    `json:"seeders"`
}

func (t apiTorrent) torrentID() int64 {
	if t.TorrentID != 0 {
		return t.TorrentID
	}
	return t.ID
}

func (t apiTorrent) toTorrent() Torrent {
	return Torrent{
		ID:        t.torrentID(),
		Media:     t.Media,
		Format:    t.Format,
		Encoding:  t.Encoding,
		FileCount: t.FileCount,
		Size:      t.Size,
		Seeders:   t.Seeders,
	}
}

type apiArtist struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type collageResponse struct {
	Status   string `json:"status"`
	Error    string `json:"error"`
	Response struct {
		ID            int64          `json:"id"`
		Name          string         `json:"name"`
		CategoryName  string         `json:"collageCategoryName"`
		Pages         int            `json:"pages"`
		TorrentGroups []collageGroup `json:"torrentgroups"`
	} `json:"response"`
}

type collageGroup struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Year        flexInt `json:"year"`
	ReleaseType flexInt `json:"releaseType"`
	MusicInfo   struct {
		Artists []apiArtist `json:"artists"`
	} `json:"musicInfo"`
	Torrents []apiTorrent `json:"torrents"`
}

func (g collageGroup) toGroup() Group {
	out := Group{
		ID:          g.ID,
		Name:        g.Name,
		Year:        int(g.Year),
		ReleaseType: int(g.ReleaseType),
	}
	for _, a := range g.MusicInfo.Artists {
		out.Artists = append(out.Artists, Artist(a))
	}
	for _, t := range g.Torrents {
		out.Torrents = append(out.Torrents, t.toTorrent())
	}
	return out
}

type artistResponse struct {
	Status   string `json:"status"`
	Error    string `json:"error"`
	Response struct {
		ID            int64         `json:"id"`
		Name          string        `json:"name"`
		TorrentGroups []artistGroup `json:"torrentgroup"`
	} `json:"response"`
}

type artistGroup struct {
	GroupID     int64        `json:"groupId"`
	GroupName   string       `json:"groupName"`
	GroupYear   int          `json:"groupYear"`
	ReleaseType int          `json:"releaseType"`
	Torrents    []apiTorrent `json:"torrent"`
}

func (g artistGroup) toGroup(artistID int64, artistName string) Group {
	out := Group{
		ID:          g.GroupID,
		Name:        g.GroupName,
		Year:        g.GroupYear,
		ReleaseType: g.ReleaseType,
		Artists:     []Artist{{ID: artistID, Name: artistName}},
	}
	for _, t := range g.Torrents {
		out.Torrents = append(out.Torrents, t.toTorrent())
	}
	return out
}
