// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/magnetarr/magnetarr/internal/domain"
	"github.com/magnetarr/magnetarr/pkg/fsutil"

	"github.com/rs/zerolog/log"
)

// Writer appends report rows in discovery order as the crawl proceeds.
// The file is created lazily on the first append, so an empty or aborted
// run leaves no artifact behind.
type Writer struct {
	path string

	mu   sync.Mutex
	f    *os.File
	w    *csv.Writer
	rows int
}

func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

func (w *Writer) Path() string {
	return w.path
}

// Rows returns the number of rows appended so far.
func (w *Writer) Rows() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// Append writes one row and flushes it, so operators tailing the file see
// progress mid-run.
func (w *Writer) Append(row Row) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureOpenLocked(); err != nil {
		return err
	}

	if err := w.w.Write(rowFields(row)); err != nil {
		return domain.Classify(domain.KindIO, fmt.Errorf("write report row: %w", err))
	}
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		return domain.Classify(domain.KindIO, fmt.Errorf("flush report: %w", err))
	}

	w.rows++
	return nil
}

func (w *Writer) ensureOpenLocked() error {
	if w.f != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return domain.Classify(domain.KindIO, fmt.Errorf("create report directory: %w", err))
	}

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return domain.Classify(domain.KindIO, fmt.Errorf("open report: %w", err))
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return domain.Classify(domain.KindIO, fmt.Errorf("stat report: %w", err))
	}

	w.f = f
	w.w = csv.NewWriter(f)

	if info.Size() == 0 {
		if err := w.w.Write(Header); err != nil {
			return domain.Classify(domain.KindIO, fmt.Errorf("write report header: %w", err))
		}
	}

	return nil
}

// Close syncs and closes the file. Closing a writer that never appended is
// a no-op.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return nil
	}

	w.w.Flush()
	err := w.w.Error()
	if serr := w.f.Sync(); err == nil {
		err = serr
	}
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	w.f = nil
	w.w = nil

	if err != nil {
		return domain.Classify(domain.KindIO, fmt.Errorf("close report: %w", err))
	}
	return nil
}

// ReadFile parses a report. Malformed rows are skipped with a warning;
// the uploader should never abort over one bad line.
func ReadFile(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, domain.Classify(domain.KindIO, fmt.Errorf("open report: %w", err))
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, domain.Classify(domain.KindIO, fmt.Errorf("read report: %w", err))
	}

	var rows []Row
	for i, rec := range records {
		if i == 0 && len(rec) > 0 && rec[0] == Header[0] {
			continue
		}
		row, perr := parseFields(rec)
		if perr != nil {
			log.Warn().Err(perr).Int("line", i+1).Str("path", path).Msg("skipping malformed report row")
			continue
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// WriteFile atomically replaces a report with the given rows. Used by the
// uploader so a crash mid-rewrite never truncates the report.
func WriteFile(path string, rows []Row) error {
	err := fsutil.AtomicWriteFile(path, 0o644, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(Header); err != nil {
			return err
		}
		for _, row := range rows {
			if err := cw.Write(rowFields(row)); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return domain.Classify(domain.KindIO, fmt.Errorf("rewrite report: %w", err))
	}
	return nil
}

func rowFields(row Row) []string {
	fields := []string{
		row.Href,
		row.VideoCode,
		strconv.Itoa(row.Page),
		row.Actor,
		row.Rate,
		row.CommentNumber,
	}
	for _, t := range domain.TorrentTypes {
		fields = append(fields, row.Magnets[t])
	}
	for _, t := range domain.TorrentTypes {
		fields = append(fields, row.Sizes[t])
	}
	return fields
}

func parseFields(rec []string) (Row, error) {
	if len(rec) < len(Header) {
		return Row{}, fmt.Errorf("expected %d fields, got %d", len(Header), len(rec))
	}

	page, err := strconv.Atoi(rec[2])
	if err != nil {
		return Row{}, fmt.Errorf("parse page %q: %w", rec[2], err)
	}

	row := Row{
		Href:          rec[0],
		VideoCode:     rec[1],
		Page:          page,
		Actor:         rec[3],
		Rate:          rec[4],
		CommentNumber: rec[5],
	}
	for i, t := range domain.TorrentTypes {
		if cell := rec[6+i]; cell != "" {
			row.SetMagnet(t, cell, "")
		}
		if size := rec[10+i]; size != "" {
			if row.Sizes == nil {
				row.Sizes = make(map[domain.TorrentType]string, len(domain.TorrentTypes))
			}
			row.Sizes[t] = size
		}
	}

	return row, nil
}
