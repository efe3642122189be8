// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"time"
)

// Phase identifies which admission rules a crawl applies.
// Phase 1 wants fresh subtitle releases; Phase 2 wants well-reviewed
// entries whose cracked variant may have appeared later.
type Phase int

const (
	Phase1 Phase = 1
	Phase2 Phase = 2
)

func (p Phase) IsValid() bool {
	return p == Phase1 || p == Phase2
}

// TorrentType is the classification bucket a magnet lands in. At most one
// magnet per bucket survives classification for a given catalog entry.
type TorrentType string

const (
	TorrentHackedSubtitle   TorrentType = "hacked_subtitle"
	TorrentHackedNoSubtitle TorrentType = "hacked_no_subtitle"
	TorrentSubtitle         TorrentType = "subtitle"
	TorrentNoSubtitle       TorrentType = "no_subtitle"
)

// TorrentTypes lists every bucket in canonical column order. History and
// report files, preference rules and notification summaries all iterate in
// this order.
var TorrentTypes = []TorrentType{
	TorrentHackedSubtitle,
	TorrentHackedNoSubtitle,
	TorrentSubtitle,
	TorrentNoSubtitle,
}

func (t TorrentType) IsValid() bool {
	switch t {
	case TorrentHackedSubtitle, TorrentHackedNoSubtitle, TorrentSubtitle, TorrentNoSubtitle:
		return true
	}
	return false
}

// Label is the human form used when renaming client-side torrents.
func (t TorrentType) Label() string {
	switch t {
	case TorrentHackedSubtitle:
		return "Hacked Subtitle"
	case TorrentHackedNoSubtitle:
		return "Hacked"
	case TorrentSubtitle:
		return "Subtitle"
	case TorrentNoSubtitle:
		return "Standard"
	}
	return string(t)
}

// Supersedes reports whether acquiring t makes owning other redundant.
// The cracked variant supersedes its plain counterpart within the same
// subtitle class; nothing else is comparable.
func (t TorrentType) Supersedes(other TorrentType) bool {
	switch {
	case t == TorrentHackedSubtitle && other == TorrentSubtitle:
		return true
	case t == TorrentHackedNoSubtitle && other == TorrentNoSubtitle:
		return true
	}
	return false
}

// Magnet is a single link scraped from a detail page, before
// classification.
type Magnet struct {
	Name     string
	Href     string
	SizeText string
	Size     int64
	Tags     []string
	Uploaded time.Time
}

// Selected is the winning magnet for one bucket.
type Selected struct {
	Href     string
	SizeText string
}

// IndexEntry is one row of a catalog index page.
type IndexEntry struct {
	Href       string
	VideoCode  string
	Title      string
	Rating     float64
	HasRating  bool
	Comments   int
	Tags       []string
	ReleasedAt string
	Page       int
}

// MovieDetail is the parsed detail page for one catalog entry.
type MovieDetail struct {
	Href      string
	VideoCode string
	Actor     string
	Magnets   []Magnet
}

// BanRecord is one ban ledger row. ExpiresAt uses an exclusive boundary:
// a record whose expiry equals the current instant is no longer banned.
type BanRecord struct {
	ProxyName   string
	ProxyHost   string
	BannedAt    time.Time
	ExpiresAt   time.Time
	Reason      string
	Description string
}

func (b BanRecord) ActiveAt(now time.Time) bool {
	return now.Before(b.ExpiresAt)
}
