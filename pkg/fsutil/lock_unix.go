// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

//go:build unix

package fsutil

import (
	"os"
	"syscall"
)

// LockExclusive takes an advisory exclusive lock on f, blocking until the
// lock is granted. Pair with Unlock.
func LockExclusive(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_EX)
}

// Unlock releases an advisory lock taken with LockExclusive.
func Unlock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
