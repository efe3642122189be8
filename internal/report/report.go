// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package report owns the run-scoped CSV the scraper produces and the
// uploader consumes: row schema, the [DOWNLOADED] cell marker, dated file
// layout and latest-report lookup.
package report

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/magnetarr/magnetarr/internal/domain"
	"github.com/magnetarr/magnetarr/pkg/fsutil"
)

// DownloadedPrefix marks a magnet cell the uploader already consumed.
// The trailing space is part of the marker.
const DownloadedPrefix = "[DOWNLOADED] "

// Header is the report column order. Magnet and size cells follow the
// canonical torrent type order.
var Header = []string{
	"href", "video_code", "page", "actor", "rate", "comment_number",
	"hacked_subtitle", "hacked_no_subtitle", "subtitle", "no_subtitle",
	"size_hacked_subtitle", "size_hacked_no_subtitle", "size_subtitle", "size_no_subtitle",
}

// Row is one report line. Rate and CommentNumber stay strings so a
// read-rewrite cycle reproduces the file byte for byte.
type Row struct {
	Href          string
	VideoCode     string
	Page          int
	Actor         string
	Rate          string
	CommentNumber string
	Magnets       map[domain.TorrentType]string
	Sizes         map[domain.TorrentType]string
}

func (r *Row) Magnet(t domain.TorrentType) string {
	return r.Magnets[t]
}

func (r *Row) SetMagnet(t domain.TorrentType, cell, sizeText string) {
	if r.Magnets == nil {
		r.Magnets = make(map[domain.TorrentType]string, len(domain.TorrentTypes))
	}
	r.Magnets[t] = cell
	if sizeText != "" {
		if r.Sizes == nil {
			r.Sizes = make(map[domain.TorrentType]string, len(domain.TorrentTypes))
		}
		r.Sizes[t] = sizeText
	}
}

// MarkDownloaded prefixes the type's magnet cell. Marking twice is a no-op.
func (r *Row) MarkDownloaded(t domain.TorrentType) {
	cell := r.Magnets[t]
	if cell == "" || Marked(cell) {
		return
	}
	r.Magnets[t] = DownloadedPrefix + cell
}

// HasNewMagnet reports whether any magnet cell still awaits the uploader.
func (r *Row) HasNewMagnet() bool {
	for _, t := range domain.TorrentTypes {
		if cell := r.Magnets[t]; cell != "" && !Marked(cell) {
			return true
		}
	}
	return false
}

// Marked reports whether a magnet cell carries the downloaded marker.
func Marked(cell string) bool {
	return strings.HasPrefix(cell, DownloadedPrefix)
}

// Mark returns the cell with the downloaded marker applied, idempotently.
func Mark(cell string) string {
	if cell == "" || Marked(cell) {
		return cell
	}
	return DownloadedPrefix + cell
}

func modeDir(mode domain.RunMode) string {
	if mode == domain.RunModeAdHoc {
		return "AdHoc"
	}
	return "DailyReport"
}

func filePrefix(mode domain.RunMode) string {
	if mode == domain.RunModeAdHoc {
		return "adhoc_"
	}
	return "daily_"
}

func fileName(mode domain.RunMode, t time.Time) string {
	if mode == domain.RunModeAdHoc {
		return fmt.Sprintf("adhoc_%s.csv", t.Format("20060102_150405"))
	}
	return fmt.Sprintf("daily_%s.csv", t.Format("20060102"))
}

// PathFor returns the dated report path for a run starting at t:
// root/DailyReport/YYYY/MM/daily_YYYYMMDD.csv for daily runs,
// root/AdHoc/YYYY/MM/adhoc_YYYYMMDD_HHMMSS.csv for ad-hoc runs.
func PathFor(root string, mode domain.RunMode, t time.Time) string {
	base := filepath.Join(root, modeDir(mode))
	return filepath.Join(fsutil.DatedDir(base, t), fileName(mode, t))
}

// FindLatest locates the most recent report for a mode: the current month
// directory first, then every dated directory, then the flat layout older
// versions wrote.
func FindLatest(root string, mode domain.RunMode, now time.Time) (string, error) {
	base := filepath.Join(root, modeDir(mode))
	prefix := filePrefix(mode)

	if p := newestIn(fsutil.DatedDir(base, now), prefix); p != "" {
		return p, nil
	}
	if p := newestGlob(filepath.Join(base, "*", "*", prefix+"*.csv")); p != "" {
		return p, nil
	}
	if p := newestIn(base, prefix); p != "" {
		return p, nil
	}

	return "", fmt.Errorf("no %s report found under %s", mode, base)
}

func newestIn(dir, prefix string) string {
	return newestGlob(filepath.Join(dir, prefix+"*.csv"))
}

// newestGlob relies on the date-stamped names sorting chronologically.
func newestGlob(pattern string) string {
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	return matches[len(matches)-1]
}
