// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/magnetarr/magnetarr/internal/proxy"
)

// PoolCollector reads the proxy pool on every scrape so gauges reflect the
// live ban state, not the state at registration time.
type PoolCollector struct {
	pool *proxy.Pool

	availableDesc    *prometheus.Desc
	requestsDesc     *prometheus.Desc
	successesDesc    *prometheus.Desc
	successRatioDesc *prometheus.Desc
	failStreakDesc   *prometheus.Desc
	bannedUntilDesc  *prometheus.Desc
}

func NewPoolCollector(pool *proxy.Pool) *PoolCollector {
	return &PoolCollector{
		pool: pool,

		availableDesc: prometheus.NewDesc(
			"magnetarr_proxy_available",
			"Whether the proxy is currently selectable (1) or benched (0)",
			[]string{"proxy"},
			nil,
		),
		requestsDesc: prometheus.NewDesc(
			"magnetarr_proxy_requests_total",
			"Requests routed through the proxy since process start",
			[]string{"proxy"},
			nil,
		),
		successesDesc: prometheus.NewDesc(
			"magnetarr_proxy_successes_total",
			"Successful requests through the proxy since process start",
			[]string{"proxy"},
			nil,
		),
		successRatioDesc: prometheus.NewDesc(
			"magnetarr_proxy_success_ratio",
			"Successes over requests for the proxy, 0 until the first request",
			[]string{"proxy"},
			nil,
		),
		failStreakDesc: prometheus.NewDesc(
			"magnetarr_proxy_consecutive_failures",
			"Current uninterrupted failure streak for the proxy",
			[]string{"proxy"},
			nil,
		),
		bannedUntilDesc: prometheus.NewDesc(
			"magnetarr_proxy_banned_until_timestamp_seconds",
			"Unix time the active ban expires, absent while selectable",
			[]string{"proxy"},
			nil,
		),
	}
}

func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.availableDesc
	ch <- c.requestsDesc
	ch <- c.successesDesc
	ch <- c.successRatioDesc
	ch <- c.failStreakDesc
	ch <- c.bannedUntilDesc
}

func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	if c.pool == nil || !c.pool.Enabled() {
		return
	}

	for _, s := range c.pool.Snapshot() {
		available := 0.0
		if s.Available {
			available = 1.0
		}

		ch <- prometheus.MustNewConstMetric(c.availableDesc, prometheus.GaugeValue, available, s.Name)
		ch <- prometheus.MustNewConstMetric(c.requestsDesc, prometheus.CounterValue, float64(s.TotalRequests), s.Name)
		ch <- prometheus.MustNewConstMetric(c.successesDesc, prometheus.CounterValue, float64(s.TotalSuccesses), s.Name)
		ch <- prometheus.MustNewConstMetric(c.successRatioDesc, prometheus.GaugeValue, s.SuccessRate, s.Name)
		ch <- prometheus.MustNewConstMetric(c.failStreakDesc, prometheus.GaugeValue, float64(s.ConsecutiveFailures), s.Name)
		if !s.BannedUntil.IsZero() {
			ch <- prometheus.MustNewConstMetric(c.bannedUntilDesc, prometheus.GaugeValue, float64(s.BannedUntil.Unix()), s.Name)
		}
	}
}
