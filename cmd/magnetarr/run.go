// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/magnetarr/magnetarr/internal/bridge"
	"github.com/magnetarr/magnetarr/internal/fetch"
	"github.com/magnetarr/magnetarr/internal/history"
	"github.com/magnetarr/magnetarr/internal/metrics"
	"github.com/magnetarr/magnetarr/internal/notify"
	"github.com/magnetarr/magnetarr/internal/pipeline"
	"github.com/magnetarr/magnetarr/internal/qbittorrent"
	"github.com/magnetarr/magnetarr/internal/scraper"
	"github.com/magnetarr/magnetarr/internal/uploader"
)

const metricsShutdownTimeout = 5 * time.Second

func RunPipelineCommand() *cobra.Command {
	var (
		flags crawlFlags
		days  int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline: crawl, upload, deep-storage sweep, report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(flags.configPath)
			if err != nil {
				return err
			}
			cfg := app.Config

			scrapeOpts, err := flags.resolve(cmd, cfg, time.Now())
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

			fetcher := fetch.NewClient(flags.fetchOptions(cmd, cfg, pool, scrapeOpts.Mode))
			engine := scraper.New(cfg.Scraper, fetcher, store, pool)

			qbClient := qbittorrent.NewClient(cfg.QBittorrent)
			up := uploader.New(qbClient, store, cfg.QBittorrent)

			var storageBridge pipeline.StorageBridge
			if cfg.DeepStorage.Enabled {
				storageBridge = bridge.New(
					qbClient,
					bridge.NewStorageClient(cfg.DeepStorage),
					bridge.NewTransferLog(cfg.BridgeHistoryFile()),
					cfg.DeepStorage,
					cfg.QBittorrent,
				)
			}

			notifier, err := notify.New(cfg.Notifications)
			if err != nil {
				return err
			}

			var (
				manager   *metrics.Manager
				metricSrv *metrics.Server
			)
			if cfg.MetricsEnabled {
				manager = metrics.NewManager(pool)
				metricSrv = metrics.NewMetricsServer(manager, cfg.MetricsHost, cfg.MetricsPort, cfg.MetricsBasicAuthUsers)
				go metricSrv.ListenAndServe()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			status := pipeline.New(cfg, pipeline.Deps{
				Scraper:  engine,
				Uploader: up,
				Bridge:   storageBridge,
				Notifier: notifier,
				Pool:     pool,
				Metrics:  manager,
			}).Run(ctx, pipeline.Options{
				Scrape:     scrapeOpts,
				BridgeDays: days,
			})

			if metricSrv != nil {
				// Give a final scrape a moment before the process ends.
				shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
				_ = metricSrv.Shutdown(shutdownCtx)
				cancel()
			}

			if code := status.Variant.ExitCode(); code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVar(&days, "days", 0, "Deep-storage age threshold override in days")

	return cmd
}
