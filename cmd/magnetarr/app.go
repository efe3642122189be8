// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/magnetarr/magnetarr/internal/buildinfo"
	"github.com/magnetarr/magnetarr/internal/config"
	"github.com/magnetarr/magnetarr/internal/domain"
	"github.com/magnetarr/magnetarr/internal/fetch"
	"github.com/magnetarr/magnetarr/internal/logger"
	"github.com/magnetarr/magnetarr/internal/proxy"
	"github.com/magnetarr/magnetarr/internal/report"
	"github.com/magnetarr/magnetarr/internal/scraper"
)

// loadApp loads the configuration and brings up logging. Every subcommand
// that touches the pipeline goes through here first.
func loadApp(configPath string) (*config.AppConfig, error) {
	app, err := config.New(configPath)
	if err != nil {
		return nil, err
	}

	logger.Setup(app.Config)

	log.Debug().
		Str("version", buildinfo.Version).
		Str("logLevel", app.Config.LogLevel).
		Msg("configuration loaded")

	return app, nil
}

// buildPool constructs the proxy pool seeded from the ban ledger.
func buildPool(cfg *domain.Config) (*proxy.Pool, *proxy.Ledger, error) {
	ledger := proxy.NewLedger(cfg.BanLedgerFile())
	pool, err := proxy.NewPool(cfg.Proxy, ledger)
	if err != nil {
		return nil, nil, err
	}
	return pool, ledger, nil
}

// crawlFlags is the flag surface shared by `run` and `spider`.
type crawlFlags struct {
	configPath        string
	startPage         int
	endPage           int
	allPages          bool
	phase             string
	url               string
	mode              string
	ignoreHistory     bool
	ignoreReleaseDate bool
	useProxy          bool
	useBypass         bool
	dryRun            bool
	outputFile        string
}

func (f *crawlFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configPath, "config", "", "Config file or directory")
	cmd.Flags().IntVar(&f.startPage, "start-page", 0, "First index page to crawl")
	cmd.Flags().IntVar(&f.endPage, "end-page", 0, "Last index page to crawl")
	cmd.Flags().BoolVar(&f.allPages, "all", false, "Crawl until an empty index page")
	cmd.Flags().StringVar(&f.phase, "phase", "all", "Crawl phase: 1, 2 or all")
	cmd.Flags().StringVar(&f.url, "url", "", "Override the catalog base URL (implies ad-hoc mode)")
	cmd.Flags().StringVar(&f.mode, "mode", "", "Run mode: daily or adhoc")
	cmd.Flags().BoolVar(&f.ignoreHistory, "ignore-history", false, "Refetch entries the history already covers")
	cmd.Flags().BoolVar(&f.ignoreReleaseDate, "ignore-release-date", false, "Admit entries regardless of release-date tags")
	cmd.Flags().BoolVar(&f.useProxy, "use-proxy", false, "Route catalog requests through the proxy pool")
	cmd.Flags().BoolVar(&f.useBypass, "use-bypass", false, "Escalate index retries through the challenge bypass")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Crawl without writing the report or history")
	cmd.Flags().StringVar(&f.outputFile, "output-file", "", "Report path override")
}

// resolve merges config defaults and flags into the crawl options. Flags
// win when set; --url without an explicit --mode switches to ad-hoc.
func (f *crawlFlags) resolve(cmd *cobra.Command, cfg *domain.Config, now time.Time) (scraper.Options, error) {
	mode := domain.RunModeDaily
	switch {
	case f.mode != "":
		mode = domain.RunMode(strings.ToLower(f.mode))
		if !mode.IsValid() {
			return scraper.Options{}, fmt.Errorf("invalid --mode %q: must be daily or adhoc", f.mode)
		}
	case f.url != "":
		mode = domain.RunModeAdHoc
	}

	baseURL := cfg.Scraper.BaseURL
	if f.url != "" {
		baseURL = f.url
	}
	if baseURL == "" {
		return scraper.Options{}, errors.New("no catalog URL: set scraper.baseUrl or pass --url")
	}

	phases, err := parsePhases(f.phase)
	if err != nil {
		return scraper.Options{}, err
	}

	opts := scraper.Options{
		Mode:              mode,
		BaseURL:           baseURL,
		StartPage:         cfg.Scraper.StartPage,
		EndPage:           cfg.Scraper.EndPage,
		AllPages:          cfg.Scraper.AllPages || f.allPages,
		Phases:            phases,
		IgnoreHistory:     f.ignoreHistory,
		IgnoreReleaseDate: cfg.Scraper.IgnoreReleaseDate || f.ignoreReleaseDate,
		DryRun:            f.dryRun,
	}
	if cmd.Flags().Changed("start-page") {
		opts.StartPage = f.startPage
	}
	if cmd.Flags().Changed("end-page") {
		opts.EndPage = f.endPage
	}

	switch {
	case f.dryRun:
		// Dry runs never persist a report.
	case f.outputFile != "":
		opts.ReportPath = f.outputFile
	default:
		opts.ReportPath = report.PathFor(cfg.ReportsRoot(), mode, now)
	}

	return opts, nil
}

// fetchOptions derives the HTTP client options. Proxy and bypass routing
// default to what the config enables; explicit flags override either way.
func (f *crawlFlags) fetchOptions(cmd *cobra.Command, cfg *domain.Config, pool *proxy.Pool, mode domain.RunMode) fetch.Options {
	useProxy := pool.Enabled()
	if cmd.Flags().Changed("use-proxy") {
		useProxy = f.useProxy
	}
	useBypass := cfg.Bypass.Enabled
	if cmd.Flags().Changed("use-bypass") {
		useBypass = f.useBypass
	}

	return fetch.Options{
		SessionCookie: cfg.SessionCookie,
		Bypass:        cfg.Bypass,
		Pool:          pool,
		UseProxy:      useProxy,
		UseBypass:     useBypass,
		BanOnExhaust:  mode == domain.RunModeDaily,
		PageSleep:     cfg.Scraper.PageSleep,
		DetailSleep:   cfg.Scraper.DetailSleep,
	}
}

func parsePhases(s string) ([]domain.Phase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return []domain.Phase{domain.Phase1, domain.Phase2}, nil
	case "1":
		return []domain.Phase{domain.Phase1}, nil
	case "2":
		return []domain.Phase{domain.Phase2}, nil
	}
	return nil, fmt.Errorf("invalid --phase %q: must be 1, 2 or all", s)
}
