// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/magnetarr/magnetarr/internal/domain"

	"github.com/stretchr/testify/require"
)

func TestFormatRunReportSuccess(t *testing.T) {
	t.Parallel()

	scrape := domain.NewScrapeStats()
	scrape.PagesAttempted = 12
	scrape.PagesFailed = 1
	scrape.EntriesSelected = 25
	scrape.EntriesDetailed = 25
	p1 := scrape.Phase(domain.Phase1)
	p1.Discovered = 34
	p1.Processed = 20
	p1.SkippedHistory = 9
	p1.SkippedSession = 3
	p1.Failed = 2
	p2 := scrape.Phase(domain.Phase2)
	p2.Discovered = 18
	p2.Processed = 5
	p2.SkippedHistory = 13

	started := time.Date(2026, 8, 25, 6, 0, 0, 0, time.UTC)
	status := &domain.RunStatus{
		Variant:    domain.RunSuccess,
		Mode:       domain.RunModeDaily,
		StartedAt:  started,
		FinishedAt: started.Add(42*time.Minute + 10*time.Second),
		ReportPath: "reports/DailyReport/2026/08/20260825.csv",
		Scrape:     scrape,
		Upload:     &domain.UploadStats{Rows: 25, Attempted: 21, Added: 19, Duplicates: 4, Rejected: 2, Marked: 1},
		Bridge:     &domain.BridgeStats{Eligible: 7, Submitted: 6, Deleted: 6, Failed: 1},
	}

	svc := &Service{}
	title, message := svc.formatEvent(Event{Type: EventRunReport, Status: status})

	require.Equal(t, "✓ SUCCESS - Catalog Pipeline Report 20260825", title)
	require.Contains(t, message, "Mode: daily")
	require.Contains(t, message, "Outcome: SUCCESS")
	require.Contains(t, message, "Report: reports/DailyReport/2026/08/20260825.csv")
	require.Contains(t, message, "Duration: 42m10s")
	require.Contains(t, message, "Pages: 12 attempted, 1 failed")
	require.Contains(t, message, "Phase 1: 34 discovered, 20 processed, 9 history, 3 session, 2 failed")
	require.Contains(t, message, "Phase 2: 18 discovered, 5 processed, 13 history, 0 session, 0 failed")
	require.Contains(t, message, "Entries: 25 selected, 25 detailed, 0 failed")
	require.Contains(t, message, "Upload rows: 25")
	require.Contains(t, message, "Added: 19 of 21 attempted")
	require.Contains(t, message, "Duplicates: 4")
	require.Contains(t, message, "Rejected: 2")
	require.Contains(t, message, "Re-marked: 1")
	require.Contains(t, message, "Storage eligible: 7")
	require.Contains(t, message, "Storage moved: 6 submitted, 6 deleted, 1 failed")
	require.NotContains(t, message, "Proxy bans")
	require.NotContains(t, message, "Critical")
}

func TestFormatRunReportFailureListsBansAndCriticalEvents(t *testing.T) {
	t.Parallel()

	status := &domain.RunStatus{
		Variant:    domain.RunFailedProxyBanned,
		Mode:       domain.RunModeAdHoc,
		FinishedAt: time.Date(2026, 8, 25, 7, 30, 0, 0, time.UTC),
		BansRecorded: []domain.BanRecord{{
			ProxyName:   "warp-1",
			ProxyHost:   "203.0.113.4:8080",
			Reason:      "challenge_loop",
			Description: "403 challenge did not clear",
		}},
		CriticalEvents: []string{"proxy pool exhausted"},
	}

	svc := &Service{}
	title, message := svc.formatEvent(Event{Type: EventRunReport, Status: status})

	require.Equal(t, "✗ FAILED_PROXY_BANNED - Catalog Pipeline Report 20260825", title)
	require.Contains(t, message, "Outcome: FAILED_PROXY_BANNED")
	require.Contains(t, message, "Proxy bans: 1")
	require.Contains(t, message, "warp-1 (203.xxx.xxx.4:8080): 403 challenge did not clear")
	require.Contains(t, message, "Critical: 1")
	require.Contains(t, message, "1. proxy pool exhausted")
	require.NotContains(t, message, "203.0.113.4", "proxy host must be masked")
}

func TestFormatRunReportEmptyRunStillHasBody(t *testing.T) {
	t.Parallel()

	status := &domain.RunStatus{
		Variant:    domain.RunSuccessEmpty,
		Mode:       domain.RunModeDaily,
		FinishedAt: time.Date(2026, 8, 25, 6, 2, 0, 0, time.UTC),
		Scrape:     domain.NewScrapeStats(),
		Upload:     &domain.UploadStats{},
	}

	svc := &Service{}
	title, message := svc.formatEvent(Event{Type: EventRunReport, Status: status})

	require.Equal(t, "✓ SUCCESS_EMPTY - Catalog Pipeline Report 20260825", title)
	require.Contains(t, message, "Entries: 0 selected, 0 detailed, 0 failed")
	require.Contains(t, message, "Upload rows: 0")
	require.Contains(t, message, "Added: 0 of 0 attempted")
}

func TestFormatRunReportNilStatusProducesNoBody(t *testing.T) {
	t.Parallel()

	svc := &Service{}
	_, message := svc.formatEvent(Event{Type: EventRunReport})

	require.Empty(t, message)
}

func TestFormatBanRecorded(t *testing.T) {
	t.Parallel()

	svc := &Service{}
	title, message := svc.formatEvent(Event{Type: EventBanRecorded, Ban: domain.BanRecord{
		ProxyName:   "warp-2",
		ProxyHost:   "198.51.100.9:3128",
		Reason:      "http_403",
		Description: "index fetch refused after bypass",
		ExpiresAt:   time.Date(2026, 9, 2, 6, 0, 0, 0, time.UTC),
	}})

	require.Equal(t, "Proxy banned", title)
	require.Contains(t, message, "Proxy: warp-2")
	require.Contains(t, message, "Host: 198.xxx.xxx.9:3128")
	require.Contains(t, message, "Reason: http_403")
	require.Contains(t, message, "Description: index fetch refused after bypass")
	require.Contains(t, message, "Expires: 2026-09-02 06:00:00")
	require.NotContains(t, message, "198.51.100.9")
}

func TestTruncateMessageKeepsRuneBoundaries(t *testing.T) {
	t.Parallel()

	require.Equal(t, "abc", truncateMessage("  abc  ", 10))
	require.Equal(t, "ab…", truncateMessage("abcdef", 3))
	require.Empty(t, truncateMessage("   ", 10))

	long := truncateMessage(strings.Repeat("я", 500), 10)
	require.Equal(t, 10, len([]rune(long)))
}
