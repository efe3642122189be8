// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes pipeline counters and live proxy-pool state on a
// private Prometheus registry.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/magnetarr/magnetarr/internal/domain"
	"github.com/magnetarr/magnetarr/internal/proxy"
)

type Manager struct {
	registry      *prometheus.Registry
	poolCollector *PoolCollector

	runsTotal    *prometheus.CounterVec
	pagesTotal   *prometheus.CounterVec
	entriesTotal *prometheus.CounterVec
	addsTotal    *prometheus.CounterVec
	storageTotal *prometheus.CounterVec
	bansTotal    *prometheus.CounterVec

	lastRunFinished prometheus.Gauge
	lastRunDuration prometheus.Gauge
	lastRunExitCode prometheus.Gauge
}

func NewManager(pool *proxy.Pool) *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	poolCollector := NewPoolCollector(pool)
	registry.MustRegister(poolCollector)

	m := &Manager{
		registry:      registry,
		poolCollector: poolCollector,

		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "magnetarr_runs_total",
			Help: "Completed pipeline runs by mode and outcome",
		}, []string{"mode", "variant"}),
		pagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "magnetarr_index_pages_total",
			Help: "Catalog index pages fetched by result",
		}, []string{"result"}),
		entriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "magnetarr_entries_total",
			Help: "Catalog entries handled per phase by result",
		}, []string{"phase", "result"}),
		addsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "magnetarr_torrent_adds_total",
			Help: "Magnet submissions to the torrent client by result",
		}, []string{"result"}),
		storageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "magnetarr_deep_storage_total",
			Help: "Deep-storage sweep outcomes",
		}, []string{"result"}),
		bansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "magnetarr_proxy_bans_total",
			Help: "Ban ledger entries recorded per proxy",
		}, []string{"proxy"}),

		lastRunFinished: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "magnetarr_last_run_finished_timestamp_seconds",
			Help: "Unix time the most recent run finished",
		}),
		lastRunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "magnetarr_last_run_duration_seconds",
			Help: "Wall-clock duration of the most recent run",
		}),
		lastRunExitCode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "magnetarr_last_run_exit_code",
			Help: "Exit code the most recent run mapped to (0 ok, 1 critical, 2 proxy outage)",
		}),
	}

	registry.MustRegister(
		m.runsTotal,
		m.pagesTotal,
		m.entriesTotal,
		m.addsTotal,
		m.storageTotal,
		m.bansTotal,
		m.lastRunFinished,
		m.lastRunDuration,
		m.lastRunExitCode,
	)

	log.Debug().Msg("metrics manager initialized")

	return m
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// RecordRun folds a finished run into the counters. Safe to call with a nil
// manager so callers can skip the enabled check.
func (m *Manager) RecordRun(status *domain.RunStatus) {
	if m == nil || status == nil {
		return
	}

	m.runsTotal.WithLabelValues(string(status.Mode), string(status.Variant)).Inc()
	m.lastRunExitCode.Set(float64(status.Variant.ExitCode()))
	if !status.FinishedAt.IsZero() {
		m.lastRunFinished.Set(float64(status.FinishedAt.Unix()))
		if d := status.FinishedAt.Sub(status.StartedAt); d > 0 && !status.StartedAt.IsZero() {
			m.lastRunDuration.Set(d.Seconds())
		}
	}

	if s := status.Scrape; s != nil {
		if ok := s.PagesAttempted - s.PagesFailed; ok > 0 {
			m.pagesTotal.WithLabelValues("ok").Add(float64(ok))
		}
		if s.PagesFailed > 0 {
			m.pagesTotal.WithLabelValues("failed").Add(float64(s.PagesFailed))
		}
		for phase, ps := range s.Phases {
			if ps == nil {
				continue
			}
			label := strconv.Itoa(int(phase))
			m.entriesTotal.WithLabelValues(label, "discovered").Add(float64(ps.Discovered))
			m.entriesTotal.WithLabelValues(label, "processed").Add(float64(ps.Processed))
			m.entriesTotal.WithLabelValues(label, "skipped_history").Add(float64(ps.SkippedHistory))
			m.entriesTotal.WithLabelValues(label, "skipped_session").Add(float64(ps.SkippedSession))
			m.entriesTotal.WithLabelValues(label, "failed").Add(float64(ps.Failed))
		}
	}

	if u := status.Upload; u != nil {
		m.addsTotal.WithLabelValues("added").Add(float64(u.Added))
		m.addsTotal.WithLabelValues("duplicate").Add(float64(u.Duplicates))
		m.addsTotal.WithLabelValues("rejected").Add(float64(u.Rejected))
		if failed := u.Attempted - u.Added - u.Rejected; failed > 0 {
			m.addsTotal.WithLabelValues("failed").Add(float64(failed))
		}
	}

	if b := status.Bridge; b != nil {
		m.storageTotal.WithLabelValues("submitted").Add(float64(b.Submitted))
		m.storageTotal.WithLabelValues("deleted").Add(float64(b.Deleted))
		m.storageTotal.WithLabelValues("failed").Add(float64(b.Failed))
	}

	for _, ban := range status.BansRecorded {
		m.bansTotal.WithLabelValues(ban.ProxyName).Inc()
	}
}
