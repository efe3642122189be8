// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package pipeline sequences a full run: crawl, upload, deep-storage sweep,
// then the run report. Steps run in order; a proxy-ban outage during the
// crawl skips everything but the report.
package pipeline

import (
	"context"
	"time"

	"github.com/magnetarr/magnetarr/internal/bridge"
	"github.com/magnetarr/magnetarr/internal/domain"
	"github.com/magnetarr/magnetarr/internal/metrics"
	"github.com/magnetarr/magnetarr/internal/notify"
	"github.com/magnetarr/magnetarr/internal/proxy"
	"github.com/magnetarr/magnetarr/internal/scraper"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// notifyDrainBudget caps how long a finished run waits for queued
// notifications before the process exits.
const notifyDrainBudget = 10 * time.Second

// Scraper runs the two-phase crawl.
type Scraper interface {
	Run(ctx context.Context, opts scraper.Options) (*scraper.Result, error)
}

// Uploader replays a report into the torrent client.
type Uploader interface {
	Run(ctx context.Context, reportPath string, mode domain.RunMode) (*domain.UploadStats, error)
}

// StorageBridge sweeps aged torrents into deep storage.
type StorageBridge interface {
	Run(ctx context.Context, opts bridge.Options) (*domain.BridgeStats, error)
}

// Options shape one pipeline run.
type Options struct {
	Scrape scraper.Options

	// BridgeDays overrides deepstorage.days for this run when positive.
	BridgeDays int
}

// Deps carries the collaborators; Notifier, Pool and Metrics may be nil.
type Deps struct {
	Scraper  Scraper
	Uploader Uploader
	Bridge   StorageBridge
	Notifier *notify.Service
	Pool     *proxy.Pool
	Metrics  *metrics.Manager
}

type Pipeline struct {
	cfg      *domain.Config
	scraper  Scraper
	uploader Uploader
	bridge   StorageBridge
	notifier *notify.Service
	pool     *proxy.Pool
	metrics  *metrics.Manager

	now func() time.Time
}

func New(cfg *domain.Config, deps Deps) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		scraper:  deps.Scraper,
		uploader: deps.Uploader,
		bridge:   deps.Bridge,
		notifier: deps.Notifier,
		pool:     deps.Pool,
		metrics:  deps.Metrics,
		now:      time.Now,
	}
}

// Run drives the whole pipeline and classifies the outcome. The returned
// status is always populated; callers map Variant to the process exit code.
func (p *Pipeline) Run(ctx context.Context, opts Options) *domain.RunStatus {
	status := &domain.RunStatus{
		Variant:   domain.RunSuccess,
		Mode:      opts.Scrape.Mode,
		StartedAt: p.now(),
	}

	p.notifier.Start(ctx)

	log.Info().
		Str("mode", string(opts.Scrape.Mode)).
		Bool("dryRun", opts.Scrape.DryRun).
		Msg("pipeline starting")

	p.runScrape(ctx, opts, status)

	if status.Variant == domain.RunFailedProxyBanned {
		// The pool is empty; uploads and the sweep would only thrash.
		return p.finish(ctx, status)
	}

	if !opts.Scrape.DryRun {
		p.runUpload(ctx, status)
		p.runBridge(ctx, opts, status)
	}

	return p.finish(ctx, status)
}

func (p *Pipeline) runScrape(ctx context.Context, opts Options, status *domain.RunStatus) {
	res, err := p.scraper.Run(ctx, opts.Scrape)
	if res != nil {
		status.Scrape = res.Stats
		status.ReportPath = res.ReportPath
		status.Partial = res.Partial
		status.Variant = res.Variant
	}
	if err != nil {
		err = errors.Wrap(err, "scrape")
		log.Error().Err(err).Msg("scrape step failed")
		status.AddCritical(err.Error())
		if status.Variant != domain.RunFailedProxyBanned {
			status.Variant = domain.RunFailedCritical
		}
	}
}

func (p *Pipeline) runUpload(ctx context.Context, status *domain.RunStatus) {
	if p.uploader == nil || status.ReportPath == "" {
		return
	}

	stats, err := p.uploader.Run(ctx, status.ReportPath, status.Mode)
	status.Upload = stats
	if err != nil {
		err = errors.Wrap(err, "upload")
		log.Error().Err(err).Msg("upload step failed")
		status.AddCritical(err.Error())
		status.Variant = domain.RunFailedCritical
	}
}

// runBridge sweeps regardless of the upload outcome: the sweep touches
// yesterday's torrents, not the rows the uploader just handled.
func (p *Pipeline) runBridge(ctx context.Context, opts Options, status *domain.RunStatus) {
	if p.bridge == nil || !p.cfg.DeepStorage.Enabled {
		return
	}

	stats, err := p.bridge.Run(ctx, bridge.Options{Days: opts.BridgeDays})
	status.Bridge = stats
	if err != nil {
		err = errors.Wrap(err, "deep storage sweep")
		log.Error().Err(err).Msg("deep storage step failed")
		status.AddCritical(err.Error())
		status.Variant = domain.RunFailedCritical
	}
}

func (p *Pipeline) finish(ctx context.Context, status *domain.RunStatus) *domain.RunStatus {
	if p.pool != nil {
		status.BansRecorded = p.pool.BansThisRun()
	}
	status.FinishedAt = p.now()

	p.metrics.RecordRun(status)

	for _, ban := range status.BansRecorded {
		p.notifier.Notify(notify.Event{Type: notify.EventBanRecorded, Ban: ban})
	}
	if err := p.notifier.SendRunReport(ctx, status); err != nil {
		log.Error().Err(err).Msg("run report delivery failed")
	}

	drainCtx, cancel := context.WithTimeout(ctx, notifyDrainBudget)
	defer cancel()
	p.notifier.Drain(drainCtx)

	log.Info().
		Str("status", string(status.Variant)).
		Int("exitCode", status.Variant.ExitCode()).
		Bool("partial", status.Partial).
		Int("bansRecorded", len(status.BansRecorded)).
		Int("criticalEvents", len(status.CriticalEvents)).
		Msg("pipeline finished")

	return status
}
