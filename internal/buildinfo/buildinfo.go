// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package buildinfo exposes version metadata stamped at link time.
package buildinfo

import (
	"encoding/json"
	"fmt"
	"runtime"
)

// Set via ldflags at release time; dev builds keep the defaults.
var (
	Version = "dev"
	Commit  = ""
	Date    = ""

	// UserAgent identifies this binary on outbound HTTP requests.
	UserAgent string
)

func init() {
	UserAgent = fmt.Sprintf("magnetarr/%s (%s %s)", Version, runtime.GOOS, runtime.GOARCH)
}

// String renders the three-line human form used by the version command.
func String() string {
	return fmt.Sprintf("Version: %s\nCommit: %s\nBuild date: %s\n", Version, Commit, Date)
}

// JSON renders the machine form.
func JSON() ([]byte, error) {
	return json.Marshal(struct {
		Version string `json:"version"`
		Commit  string `json:"commit"`
		Date    string `json:"date"`
	}{
		Version: Version,
		Commit:  Commit,
		Date:    Date,
	})
}
