// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "magnetarr",
		Short: "Catalog-to-torrent ingestion pipeline",
		Long: `magnetarr crawls a media catalog in two phases, classifies magnet
links per entry, hands fresh ones to qBittorrent and sweeps aged
torrents into deep storage. Designed to run from cron; exit codes
signal the outcome (0 success, 1 critical, 2 proxy ban outage).`,
	}

	rootCmd.AddCommand(RunPipelineCommand())
	rootCmd.AddCommand(RunSpiderCommand())
	rootCmd.AddCommand(RunUploadCommand())
	rootCmd.AddCommand(RunBridgeCommand())
	rootCmd.AddCommand(RunProxyCommand())
	rootCmd.AddCommand(RunNotifyCommand())
	rootCmd.AddCommand(RunConfigCommand())
	rootCmd.AddCommand(RunVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
