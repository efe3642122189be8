// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/magnetarr/magnetarr/internal/fetch"
	"github.com/magnetarr/magnetarr/internal/history"
	"github.com/magnetarr/magnetarr/internal/scraper"
)

func RunSpiderCommand() *cobra.Command {
	var flags crawlFlags

	cmd := &cobra.Command{
		Use:   "spider",
		Short: "Crawl the catalog and write a report, without uploading",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(flags.configPath)
			if err != nil {
				return err
			}
			cfg := app.Config

			opts, err := flags.resolve(cmd, cfg, time.Now())
			if err != nil {
				return err
			}

			pool, _, err := buildPool(cfg)
			if err != nil {
				return err
			}

			store := history.NewStore(cfg.HistoryFile())
			if err := store.Load(); err != nil {
				return err
			}

			fetcher := fetch.NewClient(flags.fetchOptions(cmd, cfg, pool, opts.Mode))
			engine := scraper.New(cfg.Scraper, fetcher, store, pool)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, runErr := engine.Run(ctx, opts)
			if runErr != nil {
				log.Error().Err(runErr).Msg("crawl failed")
			}

			printCrawlSummary(cmd, res)

			if code := res.Variant.ExitCode(); code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}

	flags.register(cmd)

	return cmd
}

func printCrawlSummary(cmd *cobra.Command, res *scraper.Result) {
	cmd.Printf("Status: %s\n", res.Variant)
	if res.Partial {
		cmd.Println("Run budget expired; results are partial.")
	}
	cmd.Printf("Pages: %d attempted, %d failed\n", res.Stats.PagesAttempted, res.Stats.PagesFailed)
	cmd.Printf("Entries: %d selected, %d detailed, %d failed\n",
		res.Stats.EntriesSelected, res.Stats.EntriesDetailed, res.Stats.EntriesFailed)
	if res.Stats.BanEvents > 0 {
		cmd.Printf("Ban events: %d\n", res.Stats.BanEvents)
	}
	cmd.Printf("Rows: %d\n", res.Rows)
	if res.ReportPath != "" {
		cmd.Printf("Report: %s\n", res.ReportPath)
	}
}
