// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build !unix

package fsutil

import "os"

// Advisory locking is a no-op on platforms without flock. Concurrent runs
// on the same state files are only supported on unix.
func LockExclusive(_ *os.File) error { return nil }

func Unlock(_ *os.File) error { return nil }
