// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"github.com/spf13/cobra"

	"github.com/magnetarr/magnetarr/internal/notify"
)

func RunNotifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Notification operations",
	}

	cmd.AddCommand(runNotifyTestCommand())
	return cmd
}

func runNotifyTestCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Send a delivery check to every configured target",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(configPath)
			if err != nil {
				return err
			}

			svc, err := notify.New(app.Config.Notifications)
			if err != nil {
				return err
			}

			if err := svc.SendTest(cmd.Context()); err != nil {
				return err
			}

			cmd.Println("Test notification sent.")
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Config file or directory")

	return cmd
}
