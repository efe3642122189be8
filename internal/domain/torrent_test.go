// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTorrentTypeSupersedes(t *testing.T) {
	t.Parallel()

	assert.True(t, TorrentHackedSubtitle.Supersedes(TorrentSubtitle))
	assert.True(t, TorrentHackedNoSubtitle.Supersedes(TorrentNoSubtitle))

	// Crack status and subtitle status are independent axes.
	assert.False(t, TorrentHackedSubtitle.Supersedes(TorrentNoSubtitle))
	assert.False(t, TorrentHackedNoSubtitle.Supersedes(TorrentSubtitle))
	assert.False(t, TorrentSubtitle.Supersedes(TorrentNoSubtitle))
	assert.False(t, TorrentSubtitle.Supersedes(TorrentHackedSubtitle))
}

func TestBanRecordActiveAtExclusiveBoundary(t *testing.T) {
	t.Parallel()

	expiry := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	rec := BanRecord{ExpiresAt: expiry}

	assert.True(t, rec.ActiveAt(expiry.Add(-time.Second)))
	assert.False(t, rec.ActiveAt(expiry), "a ban expiring exactly now is no longer active")
	assert.False(t, rec.ActiveAt(expiry.Add(time.Second)))
}

func TestRunStatusVariantExitCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, RunSuccess.ExitCode())
	assert.Equal(t, 0, RunSuccessEmpty.ExitCode())
	assert.Equal(t, 1, RunFailedCritical.ExitCode())
	assert.Equal(t, 2, RunFailedProxyBanned.ExitCode())
}

func TestScrapeStatsPhaseLazyInit(t *testing.T) {
	t.Parallel()

	var s ScrapeStats
	s.Phase(Phase2).Discovered++
	s.Phase(Phase2).Discovered++

	assert.Equal(t, 2, s.Phases[Phase2].Discovered)
	assert.True(t, s.Empty())

	s.EntriesSelected = 1
	assert.False(t, s.Empty())
}
