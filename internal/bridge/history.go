// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package bridge

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/magnetarr/magnetarr/internal/domain"
	"github.com/magnetarr/magnetarr/pkg/fsutil"
)

const transferTimeFormat = "2006-01-02 15:04:05"

// TransferStatus records how far one torrent made it through the sweep.
type TransferStatus string

const (
	// TransferSuccess: submitted to deep storage and removed from the
	// torrent client.
	TransferSuccess TransferStatus = "success"
	// TransferFailed: the submit failed, the torrent stays in the client
	// for the next sweep.
	TransferFailed TransferStatus = "failed"
	// TransferFailedButDeleted: submitted, but removing it from the client
	// failed. The legacy status name is kept for file compatibility.
	TransferFailedButDeleted TransferStatus = "failed_but_deleted"
)

var transferHeader = []string{
	"torrent_hash", "torrent_name", "category", "magnet_uri",
	"added_to_qb_date", "deleted_from_qb_date", "uploaded_to_pikpak_date",
	"transfer_status", "error_message",
}

// TransferRecord is one bridge history row.
type TransferRecord struct {
	Hash       string
	Name       string
	Category   string
	MagnetURI  string
	AddedAt    time.Time
	DeletedAt  time.Time
	UploadedAt time.Time
	Status     TransferStatus
	Error      string
}

// TransferLog is the append-only bridge history CSV.
type TransferLog struct {
	path string
	mu   sync.Mutex
}

func NewTransferLog(path string) *TransferLog {
	return &TransferLog{path: path}
}

func (t *TransferLog) Path() string {
	return t.path
}

// Append adds one row under an exclusive lock, creating the file with its
// header on first use.
func (t *TransferLog) Append(rec TransferRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return domain.Classify(domain.KindIO, fmt.Errorf("create bridge history directory: %w", err))
	}

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return domain.Classify(domain.KindIO, fmt.Errorf("open bridge history: %w", err))
	}
	defer f.Close()

	if err := fsutil.LockExclusive(f); err != nil {
		return domain.Classify(domain.KindIO, fmt.Errorf("lock bridge history: %w", err))
	}
	defer fsutil.Unlock(f)

	info, err := f.Stat()
	if err != nil {
		return domain.Classify(domain.KindIO, fmt.Errorf("stat bridge history: %w", err))
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(transferHeader); err != nil {
			return domain.Classify(domain.KindIO, fmt.Errorf("write bridge history header: %w", err))
		}
	}

	if err := w.Write(rec.row()); err != nil {
		return domain.Classify(domain.KindIO, fmt.Errorf("write bridge history row: %w", err))
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return domain.Classify(domain.KindIO, fmt.Errorf("flush bridge history: %w", err))
	}
	return nil
}

func (rec TransferRecord) row() []string {
	return []string{
		rec.Hash,
		rec.Name,
		rec.Category,
		rec.MagnetURI,
		formatTransferTime(rec.AddedAt),
		formatTransferTime(rec.DeletedAt),
		formatTransferTime(rec.UploadedAt),
		string(rec.Status),
		rec.Error,
	}
}

func formatTransferTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.Format(transferTimeFormat)
}
