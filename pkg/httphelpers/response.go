// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package httphelpers carries small HTTP plumbing shared by the catalog,
// bypass and deep-storage clients.
package httphelpers

import (
	"io"
	"net/http"
)

// drainLimit caps how much of a leftover body gets consumed for the sake of
// connection reuse. Anything larger is cheaper to abandon.
const drainLimit = 1 << 20

// DrainAndClose consumes what remains of the response body, up to the drain
// limit, and closes it so the underlying connection can be reused.
func DrainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
	_ = resp.Body.Close()
}
