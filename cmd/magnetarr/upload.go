// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/magnetarr/magnetarr/internal/domain"
	"github.com/magnetarr/magnetarr/internal/history"
	"github.com/magnetarr/magnetarr/internal/qbittorrent"
	"github.com/magnetarr/magnetarr/internal/report"
	"github.com/magnetarr/magnetarr/internal/uploader"
)

func RunUploadCommand() *cobra.Command {
	var (
		configPath string
		file       string
		modeFlag   string
	)

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Submit a report's magnets to the torrent client",
		Long: `Reads a crawl report, adds every unconsumed magnet to qBittorrent and
marks the consumed cells. Without --file the most recent report for the
mode is used.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(configPath)
			if err != nil {
				return err
			}
			cfg := app.Config

			mode := domain.RunModeDaily
			if modeFlag != "" {
				mode = domain.RunMode(strings.ToLower(modeFlag))
				if !mode.IsValid() {
					return fmt.Errorf("invalid --mode %q: must be daily or adhoc", modeFlag)
				}
			}

			path := file
			if path == "" {
				path, err = report.FindLatest(cfg.ReportsRoot(), mode, time.Now())
				if err != nil {
					return err
				}
			}

			store := history.NewStore(cfg.HistoryFile())
			if err := store.Load(); err != nil {
				return err
			}

			up := uploader.New(qbittorrent.NewClient(cfg.QBittorrent), store, cfg.QBittorrent)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stats, runErr := up.Run(ctx, path, mode)

			cmd.Printf("Report: %s\n", path)
			if stats != nil {
				cmd.Printf("Rows: %d\n", stats.Rows)
				cmd.Printf("Added: %d of %d attempted\n", stats.Added, stats.Attempted)
				cmd.Printf("Duplicates: %d\n", stats.Duplicates)
				cmd.Printf("Rejected: %d\n", stats.Rejected)
			}

			return runErr
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Config file or directory")
	cmd.Flags().StringVar(&file, "file", "", "Report to upload (defaults to the latest for the mode)")
	cmd.Flags().StringVar(&modeFlag, "mode", "", "Run mode: daily or adhoc")

	return cmd
}
