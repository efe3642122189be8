// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "time"

// RunStatusVariant is the overall outcome of a pipeline run.
type RunStatusVariant string

const (
	RunSuccess           RunStatusVariant = "SUCCESS"
	RunSuccessEmpty      RunStatusVariant = "SUCCESS_EMPTY"
	RunFailedCritical    RunStatusVariant = "FAILED_CRITICAL"
	RunFailedProxyBanned RunStatusVariant = "FAILED_PROXY_BANNED"
)

func (v RunStatusVariant) Succeeded() bool {
	return v == RunSuccess || v == RunSuccessEmpty
}

// ExitCode maps the outcome to the process exit contract: 0 success,
// 1 critical failure, 2 proxy-ban outage.
func (v RunStatusVariant) ExitCode() int {
	switch v {
	case RunSuccess, RunSuccessEmpty:
		return 0
	case RunFailedProxyBanned:
		return 2
	default:
		return 1
	}
}

// PhaseStats counts per-phase entry handling during a crawl.
type PhaseStats struct {
	Discovered     int
	Processed      int
	SkippedSession int
	SkippedHistory int
	Failed         int
}

// ScrapeStats is the run-level accounting the engine keeps while crawling.
type ScrapeStats struct {
	PagesAttempted  int
	PagesFailed     int
	EntriesSelected int
	EntriesDetailed int
	EntriesFailed   int
	BanEvents       int
	Phases          map[Phase]*PhaseStats
}

func NewScrapeStats() *ScrapeStats {
	return &ScrapeStats{Phases: map[Phase]*PhaseStats{
		Phase1: {},
		Phase2: {},
	}}
}

func (s *ScrapeStats) Phase(p Phase) *PhaseStats {
	if s.Phases == nil {
		s.Phases = map[Phase]*PhaseStats{}
	}
	ps, ok := s.Phases[p]
	if !ok {
		ps = &PhaseStats{}
		s.Phases[p] = ps
	}
	return ps
}

// Empty reports whether the crawl selected nothing at all.
func (s *ScrapeStats) Empty() bool {
	return s == nil || s.EntriesSelected == 0
}

// UploadStats summarizes one uploader pass over a report.
type UploadStats struct {
	Rows       int
	Attempted  int
	Added      int
	Duplicates int
	Rejected   int
	Marked     int
}

// BridgeStats summarizes one deep-storage sweep.
type BridgeStats struct {
	Eligible  int
	Submitted int
	Deleted   int
	Failed    int
}

// RunStatus is the aggregate handed to the notifier at the end of every
// run, including failed ones.
type RunStatus struct {
	Variant    RunStatusVariant
	Mode       RunMode
	StartedAt  time.Time
	FinishedAt time.Time
	ReportPath string

	// Partial marks a successful run the wall-clock budget stopped early.
	Partial bool

	Scrape *ScrapeStats
	Upload *UploadStats
	Bridge *BridgeStats

	// BansRecorded is the ledger delta for this run only.
	BansRecorded []BanRecord

	// CriticalEvents carries the human-readable reasons behind a failed
	// variant, in occurrence order.
	CriticalEvents []string
}

func (r *RunStatus) AddCritical(msg string) {
	r.CriticalEvents = append(r.CriticalEvents, msg)
}
