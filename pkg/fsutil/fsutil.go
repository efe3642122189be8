// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package fsutil provides filesystem utilities for the CSV state files:
// atomic replace-on-write, advisory locking and dated directory layout.
package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// AtomicWriteFile writes via a temp file in the target directory, fsyncs and
// renames over path. Readers never observe a half-written file.
func AtomicWriteFile(path string, perm os.FileMode, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		if tmpName != "" {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if err := write(tmp); err != nil {
		return err
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	tmpName = ""

	return nil
}

// EnsureDatedDir creates and returns base/YYYY/MM for the given time.
func EnsureDatedDir(base string, t time.Time) (string, error) {
	dir := DatedDir(base, t)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create dated directory %s: %w", dir, err)
	}
	return dir, nil
}

// DatedDir returns base/YYYY/MM without creating it.
func DatedDir(base string, t time.Time) string {
	return filepath.Join(base, fmt.Sprintf("%04d", t.Year()), fmt.Sprintf("%02d", int(t.Month())))
}
