// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package magnet classifies scraped magnet links into torrent type buckets
// and picks the preferred magnet per bucket. The site's naming markers are
// tabled here and nowhere else.
package magnet

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/magnetarr/magnetarr/internal/domain"
)

// Marker tables, matched case-insensitively against the magnet name.
// Order within each table is priority order: when one entry offers several
// crack variants, the earlier marker wins the bucket.
var (
	// Cracked release that also carries burnt-in subtitles.
	crackSubtitleMarkers = []string{"-uc", "-cu", "-c.无码破解", "-u-c", "-c-u"}

	// Cracked release without subtitles.
	crackOnlyMarkers = []string{"-u", ".无码破解"}

	// Subtitle hints checked on tags and the name itself.
	subtitleMarkers = []string{"字幕", "subtitle"}
)

var sizeRe = regexp.MustCompile(`(?i)([\d.]+)\s*(GB|MB|KB)`)

// ParseSize converts a displayed size like "5.71GB" to bytes using binary
// multipliers. Unparseable text yields 0.
func ParseSize(text string) int64 {
	m := sizeRe.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	switch strings.ToUpper(m[2]) {
	case "GB":
		return int64(value * (1 << 30))
	case "MB":
		return int64(value * (1 << 20))
	default:
		return int64(value * (1 << 10))
	}
}

// BucketOf assigns a magnet to exactly one torrent type. Every magnet lands
// somewhere; no_subtitle is the catch-all.
func BucketOf(m domain.Magnet) domain.TorrentType {
	name := strings.ToLower(m.Name)

	if markerRank(name, crackSubtitleMarkers) >= 0 {
		return domain.TorrentHackedSubtitle
	}
	if markerRank(name, crackOnlyMarkers) >= 0 {
		return domain.TorrentHackedNoSubtitle
	}
	if hasSubtitleMarker(name, m.Tags) {
		return domain.TorrentSubtitle
	}
	return domain.TorrentNoSubtitle
}

// Classify buckets every magnet and selects one winner per bucket. Buckets
// nothing landed in are absent from the result.
//
// Preference within a bucket: crack marker priority first (hacked buckets
// only), then the 4K hint (no_subtitle only), then larger parsed size, then
// newer upload timestamp, then input order.
func Classify(magnets []domain.Magnet) map[domain.TorrentType]domain.Selected {
	best := make(map[domain.TorrentType]candidate, len(domain.TorrentTypes))

	for _, m := range magnets {
		c := newCandidate(m)
		if cur, ok := best[c.bucket]; ok && !c.preferredOver(cur) {
			continue
		}
		best[c.bucket] = c
	}

	out := make(map[domain.TorrentType]domain.Selected, len(best))
	for t, c := range best {
		out[t] = domain.Selected{Href: c.m.Href, SizeText: c.m.SizeText}
	}
	return out
}

type candidate struct {
	m      domain.Magnet
	bucket domain.TorrentType
	rank   int
	fourK  bool
	size   int64
}

func newCandidate(m domain.Magnet) candidate {
	name := strings.ToLower(m.Name)

	c := candidate{m: m, bucket: BucketOf(m), size: m.Size}
	if c.size == 0 {
		c.size = ParseSize(m.SizeText)
	}

	switch c.bucket {
	case domain.TorrentHackedSubtitle:
		c.rank = markerRank(name, crackSubtitleMarkers)
	case domain.TorrentHackedNoSubtitle:
		c.rank = markerRank(name, crackOnlyMarkers)
	case domain.TorrentNoSubtitle:
		c.fourK = has4K(name, m.Tags)
	}
	return c
}

// preferredOver reports whether c strictly beats o. Equal candidates keep
// the incumbent, which preserves input order.
func (c candidate) preferredOver(o candidate) bool {
	if c.rank != o.rank {
		return c.rank < o.rank
	}
	if c.fourK != o.fourK {
		return c.fourK
	}
	if c.size != o.size {
		return c.size > o.size
	}
	if !c.m.Uploaded.Equal(o.m.Uploaded) {
		return c.m.Uploaded.After(o.m.Uploaded)
	}
	return false
}

// markerRank returns the priority index of the first matching marker,
// or -1 when none match.
func markerRank(loweredName string, markers []string) int {
	for i, marker := range markers {
		if strings.Contains(loweredName, marker) {
			return i
		}
	}
	return -1
}

func hasSubtitleMarker(loweredName string, tags []string) bool {
	for _, marker := range subtitleMarkers {
		if strings.Contains(loweredName, marker) {
			return true
		}
		for _, tag := range tags {
			if strings.Contains(strings.ToLower(tag), marker) {
				return true
			}
		}
	}
	return false
}

func has4K(loweredName string, tags []string) bool {
	if strings.Contains(loweredName, "4k") {
		return true
	}
	for _, tag := range tags {
		if strings.Contains(strings.ToLower(tag), "4k") {
			return true
		}
	}
	return false
}
