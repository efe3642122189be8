// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func RunProxyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Proxy pool operations",
	}

	cmd.AddCommand(runProxyStatusCommand())
	return cmd
}

func runProxyStatusCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pool availability and ban state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(configPath)
			if err != nil {
				return err
			}

			pool, ledger, err := buildPool(app.Config)
			if err != nil {
				return err
			}

			if !pool.Enabled() {
				cmd.Println("No proxies configured.")
				return nil
			}

			now := time.Now()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tHOST\tAVAILABLE\tFAILURES\tREQUESTS\tSUCCESS\tBANNED UNTIL")
			for _, s := range pool.Snapshot() {
				available := "yes"
				if !s.Available {
					available = "no"
				}
				bannedUntil := "-"
				if !s.BannedUntil.IsZero() && s.BannedUntil.After(now) {
					bannedUntil = s.BannedUntil.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.0f%%\t%s\n",
					s.Name, s.Host, available, s.ConsecutiveFailures,
					s.TotalRequests, s.SuccessRate*100, bannedUntil)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			active, err := ledger.Active(now)
			if err != nil {
				return err
			}
			cmd.Printf("\nActive ledger bans: %d\n", len(active))

			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Config file or directory")

	return cmd
}
