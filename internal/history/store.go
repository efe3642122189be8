// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package history is the durable cross-run table of catalog entries and
// their per-type download timestamps. It decides which torrent types a
// crawl still needs for an entry and records what the uploader consumed.
package history

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/magnetarr/magnetarr/internal/domain"
	"github.com/magnetarr/magnetarr/pkg/fsutil"

	"github.com/rs/zerolog/log"
)

const (
	stampFormat = "2006-01-02 15:04:05"
	dateFormat  = "2006-01-02"
)

var header = []string{
	"href", "phase", "video_code", "create_date", "update_date",
	"hacked_subtitle", "hacked_no_subtitle", "subtitle", "no_subtitle",
}

// Record is one history row. A zero time in Types means the type was never
// obtained for this entry.
type Record struct {
	Href       string
	Phase      domain.Phase
	VideoCode  string
	CreateDate time.Time
	UpdateDate time.Time
	Types      map[domain.TorrentType]time.Time
}

// Has reports whether the given type was already obtained.
func (r Record) Has(t domain.TorrentType) bool {
	return !r.Types[t].IsZero()
}

func (r Record) clone() Record {
	types := make(map[domain.TorrentType]time.Time, len(r.Types))
	for t, ts := range r.Types {
		types[t] = ts
	}
	r.Types = types
	return r
}

// Store holds the history table in memory and rewrites the backing CSV on
// every commit. One store instance per process; the on-disk rewrite is
// atomic and guarded by a sidecar lock for cross-process safety.
type Store struct {
	path string

	mu     sync.Mutex
	order  []string
	byHref map[string]*Record
}

func NewStore(path string) *Store {
	return &Store{
		path:   path,
		byHref: make(map[string]*Record),
	}
}

// Load reads the backing file, migrating the legacy single-type layout when
// it is detected. Duplicate hrefs keep the row with the newest update_date.
// A missing file is an empty store.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = nil
	s.byHref = make(map[string]*Record)

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return domain.Classify(domain.KindIO, fmt.Errorf("open history: %w", err))
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return domain.Classify(domain.KindIO, fmt.Errorf("read history: %w", err))
	}
	if len(rows) == 0 {
		return nil
	}

	legacy := false
	start := 0
	if len(rows[0]) > 0 && rows[0][0] == header[0] {
		legacy = isLegacyHeader(rows[0])
		start = 1
	}

	migrated := 0
	for i := start; i < len(rows); i++ {
		var (
			rec  *Record
			perr error
		)
		if legacy {
			rec, perr = parseLegacyRow(rows[i])
			migrated++
		} else {
			rec, perr = parseRow(rows[i])
		}
		if perr != nil {
			log.Warn().Err(perr).Int("line", i+1).Str("path", s.path).Msg("skipping malformed history row")
			continue
		}
		s.insertLocked(rec)
	}

	if legacy && migrated > 0 {
		log.Info().Int("rows", migrated).Str("path", s.path).Msg("migrated legacy history layout")
		return s.saveLocked()
	}

	return nil
}

// Save commits the in-memory table without modifying it. Re-saving a file
// written by this store reproduces it byte for byte.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// insertLocked adds rec, resolving duplicate hrefs in favor of the newest
// update_date. The first occurrence keeps its position on a tie.
func (s *Store) insertLocked(rec *Record) {
	cur, ok := s.byHref[rec.Href]
	if !ok {
		s.byHref[rec.Href] = rec
		s.order = append(s.order, rec.Href)
		return
	}
	if rec.UpdateDate.After(cur.UpdateDate) {
		s.byHref[rec.Href] = rec
	}
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Lookup returns a copy of the record for href, if any.
func (s *Store) Lookup(href string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byHref[href]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// IsDownloaded reports whether href already has a timestamp for the type.
func (s *Store) IsDownloaded(href string, t domain.TorrentType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byHref[href]
	return ok && !rec.Types[t].IsZero()
}

// ShouldProcess returns the torrent types a crawl should still pursue for
// href under the given phase, in canonical order.
//
// Phase 1 chases the subtitled variants; having the unsubtitled counterpart
// never satisfies them. Phase 2 only takes the upgrade path: the cracked
// no-subtitle variant for entries whose plain variant is already recorded.
func (s *Store) ShouldProcess(href string, phase domain.Phase, ignoreHistory bool) []domain.TorrentType {
	if ignoreHistory {
		return append([]domain.TorrentType(nil), domain.TorrentTypes...)
	}

	s.mu.Lock()
	rec, known := s.byHref[href]
	s.mu.Unlock()

	switch phase {
	case domain.Phase1:
		wanted := []domain.TorrentType{domain.TorrentHackedSubtitle, domain.TorrentSubtitle}
		if !known {
			return wanted
		}
		var missing []domain.TorrentType
		for _, t := range wanted {
			if rec.Types[t].IsZero() {
				missing = append(missing, t)
			}
		}
		return missing

	case domain.Phase2:
		if !known {
			return []domain.TorrentType{domain.TorrentHackedNoSubtitle}
		}
		if !rec.Types[domain.TorrentNoSubtitle].IsZero() && rec.Types[domain.TorrentHackedNoSubtitle].IsZero() {
			return []domain.TorrentType{domain.TorrentHackedNoSubtitle}
		}
		return nil
	}

	return nil
}

// Merge records the given types against href at ts and commits. The record
// is created on first sight; existing type timestamps are never overwritten;
// create_date never changes; update_date always advances to ts.
func (s *Store) Merge(href, videoCode string, phase domain.Phase, types []domain.TorrentType, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byHref[href]
	if !ok {
		rec = &Record{
			Href:       href,
			Phase:      phase,
			VideoCode:  videoCode,
			CreateDate: ts,
			Types:      make(map[domain.TorrentType]time.Time, len(domain.TorrentTypes)),
		}
		s.byHref[href] = rec
		s.order = append(s.order, href)
	}
	if rec.VideoCode == "" {
		rec.VideoCode = videoCode
	}

	for _, t := range types {
		if rec.Types[t].IsZero() {
			rec.Types[t] = ts
		}
	}
	rec.UpdateDate = ts

	s.promoteLocked(href)
	return s.saveLocked()
}

// MarkDownloaded is the uploader's commit after a successful add.
func (s *Store) MarkDownloaded(href, videoCode string, phase domain.Phase, t domain.TorrentType, ts time.Time) error {
	return s.Merge(href, videoCode, phase, []domain.TorrentType{t}, ts)
}

// promoteLocked moves href to the front so the freshest record leads the
// rewritten file.
func (s *Store) promoteLocked(href string) {
	for i, h := range s.order {
		if h == href {
			copy(s.order[1:i+1], s.order[:i])
			s.order[0] = href
			return
		}
	}
}

// saveLocked rewrites the whole file. Rename swaps the inode, so the
// cross-process lock lives on a sidecar file.
func (s *Store) saveLocked() error {
	lock, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return domain.Classify(domain.KindIO, fmt.Errorf("open history lock: %w", err))
	}
	defer lock.Close()

	if err := fsutil.LockExclusive(lock); err != nil {
		return domain.Classify(domain.KindIO, fmt.Errorf("lock history: %w", err))
	}
	defer fsutil.Unlock(lock)

	err = fsutil.AtomicWriteFile(s.path, 0o644, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(header); err != nil {
			return err
		}
		for _, href := range s.order {
			if err := cw.Write(s.byHref[href].row()); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return domain.Classify(domain.KindIO, fmt.Errorf("write history: %w", err))
	}

	return nil
}

func (r *Record) row() []string {
	row := []string{
		r.Href,
		strconv.Itoa(int(r.Phase)),
		r.VideoCode,
		r.CreateDate.Format(stampFormat),
		r.UpdateDate.Format(stampFormat),
	}
	for _, t := range domain.TorrentTypes {
		row = append(row, formatCell(r.Types[t]))
	}
	return row
}

func formatCell(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.Format(dateFormat)
}

func isLegacyHeader(row []string) bool {
	return len(row) == 5 && row[2] == "video_title" && row[4] == "torrent_type"
}

func parseRow(row []string) (*Record, error) {
	if len(row) < 5 {
		return nil, fmt.Errorf("expected at least 5 fields, got %d", len(row))
	}

	phase, err := strconv.Atoi(row[1])
	if err != nil {
		return nil, fmt.Errorf("parse phase %q: %w", row[1], err)
	}

	createDate, err := parseStamp(row[3])
	if err != nil {
		return nil, fmt.Errorf("parse create_date %q: %w", row[3], err)
	}
	updateDate, err := parseStamp(row[4])
	if err != nil || updateDate.IsZero() {
		updateDate = createDate
	}

	rec := &Record{
		Href:       row[0],
		Phase:      domain.Phase(phase),
		VideoCode:  row[2],
		CreateDate: createDate,
		UpdateDate: updateDate,
		Types:      make(map[domain.TorrentType]time.Time, len(domain.TorrentTypes)),
	}

	for i, t := range domain.TorrentTypes {
		idx := 5 + i
		if idx >= len(row) {
			break
		}
		ts, err := parseCell(row[idx])
		if err != nil {
			return nil, fmt.Errorf("parse %s cell %q: %w", t, row[idx], err)
		}
		if !ts.IsZero() {
			rec.Types[t] = ts
		}
	}

	return rec, nil
}

// parseLegacyRow upgrades the pre-split layout
// href,phase,video_title,parsed_date,torrent_type: parsed_date becomes the
// first-seen date and the single listed type keeps it as its timestamp.
func parseLegacyRow(row []string) (*Record, error) {
	if len(row) < 5 {
		return nil, fmt.Errorf("expected 5 legacy fields, got %d", len(row))
	}

	phase, err := strconv.Atoi(row[1])
	if err != nil {
		return nil, fmt.Errorf("parse phase %q: %w", row[1], err)
	}
	parsedDate, err := parseStamp(row[3])
	if err != nil {
		return nil, fmt.Errorf("parse parsed_date %q: %w", row[3], err)
	}

	rec := &Record{
		Href:       row[0],
		Phase:      domain.Phase(phase),
		VideoCode:  row[2],
		CreateDate: parsedDate,
		UpdateDate: parsedDate,
		Types:      make(map[domain.TorrentType]time.Time, 1),
	}

	if t := domain.TorrentType(row[4]); t.IsValid() {
		rec.Types[t] = parsedDate
	}

	return rec, nil
}

func parseStamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if ts, err := time.ParseInLocation(stampFormat, s, time.Local); err == nil {
		return ts, nil
	}
	return time.ParseInLocation(dateFormat, s, time.Local)
}

// parseCell reads a per-type cell. Files written by earlier versions carried
// the magnet after the date as "[2006-01-02]magnet:..."; only the date matters.
func parseCell(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return time.Time{}, fmt.Errorf("unterminated date prefix in %q", s)
		}
		s = s[1:end]
	}
	return parseStamp(s)
}
