// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/magnetarr/magnetarr/internal/bridge"
	"github.com/magnetarr/magnetarr/internal/qbittorrent"
)

func RunBridgeCommand() *cobra.Command {
	var (
		configPath string
		days       int
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Sweep aged torrents from the client into deep storage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(configPath)
			if err != nil {
				return err
			}
			cfg := app.Config

			if !cfg.DeepStorage.Enabled {
				return errors.New("deep storage is not enabled: set deepstorage.enabled in config")
			}

			b := bridge.New(
				qbittorrent.NewClient(cfg.QBittorrent),
				bridge.NewStorageClient(cfg.DeepStorage),
				bridge.NewTransferLog(cfg.BridgeHistoryFile()),
				cfg.DeepStorage,
				cfg.QBittorrent,
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stats, runErr := b.Run(ctx, bridge.Options{Days: days, DryRun: dryRun})

			if stats != nil {
				cmd.Printf("Eligible: %d\n", stats.Eligible)
				cmd.Printf("Submitted: %d\n", stats.Submitted)
				cmd.Printf("Deleted: %d\n", stats.Deleted)
				cmd.Printf("Failed: %d\n", stats.Failed)
			}

			return runErr
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Config file or directory")
	cmd.Flags().IntVar(&days, "days", 0, "Age threshold override in days")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List eligible torrents without moving them")

	return cmd
}
