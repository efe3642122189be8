// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package proxy

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/magnetarr/magnetarr/internal/domain"
	"github.com/magnetarr/magnetarr/pkg/fsutil"

	"github.com/rs/zerolog/log"
)

const banTimeFormat = "2006-01-02 15:04:05"

var ledgerHeader = []string{"proxy_name", "proxy_host", "banned_at", "expires_at", "reason", "description"}

// Ledger is the append-only ban history CSV. Expired rows stay on disk for
// auditing; Active filters them out at read time.
type Ledger struct {
	path string
	mu   sync.Mutex
}

func NewLedger(path string) *Ledger {
	return &Ledger{path: path}
}

// Load returns every row of the ledger, including expired bans. A missing
// file is an empty ledger, not an error.
func (l *Ledger) Load() ([]domain.BanRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, domain.Classify(domain.KindIO, fmt.Errorf("open ban ledger: %w", err))
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return nil, domain.Classify(domain.KindIO, fmt.Errorf("read ban ledger: %w", err))
	}

	var records []domain.BanRecord
	for i, row := range rows {
		if i == 0 && len(row) > 0 && row[0] == ledgerHeader[0] {
			continue
		}
		rec, err := parseBanRow(row)
		if err != nil {
			log.Warn().Err(err).Int("line", i+1).Str("path", l.path).Msg("skipping malformed ban ledger row")
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

// Active returns the rows still banning their proxy at the given instant.
// The expiry boundary is exclusive: a row expiring exactly now is inactive.
func (l *Ledger) Active(now time.Time) ([]domain.BanRecord, error) {
	all, err := l.Load()
	if err != nil {
		return nil, err
	}

	active := all[:0:0]
	for _, rec := range all {
		if rec.ActiveAt(now) {
			active = append(active, rec)
		}
	}
	return active, nil
}

// Append adds one row under an exclusive lock and fsyncs before returning,
// so a crash mid-run never truncates earlier rows.
func (l *Ledger) Append(rec domain.BanRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return domain.Classify(domain.KindIO, fmt.Errorf("create ledger directory: %w", err))
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return domain.Classify(domain.KindIO, fmt.Errorf("open ban ledger: %w", err))
	}
	defer f.Close()

	if err := fsutil.LockExclusive(f); err != nil {
		return domain.Classify(domain.KindIO, fmt.Errorf("lock ban ledger: %w", err))
	}
	defer fsutil.Unlock(f)

	info, err := f.Stat()
	if err != nil {
		return domain.Classify(domain.KindIO, fmt.Errorf("stat ban ledger: %w", err))
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(ledgerHeader); err != nil {
			return domain.Classify(domain.KindIO, fmt.Errorf("write ledger header: %w", err))
		}
	}

	row := []string{
		rec.ProxyName,
		rec.ProxyHost,
		rec.BannedAt.Format(banTimeFormat),
		rec.ExpiresAt.Format(banTimeFormat),
		rec.Reason,
		rec.Description,
	}
	if err := w.Write(row); err != nil {
		return domain.Classify(domain.KindIO, fmt.Errorf("write ledger row: %w", err))
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return domain.Classify(domain.KindIO, fmt.Errorf("flush ledger: %w", err))
	}

	if err := f.Sync(); err != nil {
		return domain.Classify(domain.KindIO, fmt.Errorf("sync ledger: %w", err))
	}

	return nil
}

func parseBanRow(row []string) (domain.BanRecord, error) {
	if len(row) < 4 {
		return domain.BanRecord{}, fmt.Errorf("expected at least 4 fields, got %d", len(row))
	}

	bannedAt, err := time.ParseInLocation(banTimeFormat, row[2], time.Local)
	if err != nil {
		return domain.BanRecord{}, fmt.Errorf("parse banned_at %q: %w", row[2], err)
	}
	expiresAt, err := time.ParseInLocation(banTimeFormat, row[3], time.Local)
	if err != nil {
		return domain.BanRecord{}, fmt.Errorf("parse expires_at %q: %w", row[3], err)
	}

	rec := domain.BanRecord{
		ProxyName: row[0],
		ProxyHost: row[1],
		BannedAt:  bannedAt,
		ExpiresAt: expiresAt,
	}
	if len(row) > 4 {
		rec.Reason = row[4]
	}
	if len(row) > 5 {
		rec.Description = row[5]
	}

	return rec, nil
}
