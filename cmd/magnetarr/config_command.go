// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func RunConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration operations",
	}

	cmd.AddCommand(runConfigSetLogCommand())
	return cmd
}

// runConfigSetLogCommand persists log settings into the config file so cron
// runs pick them up without hand-editing TOML. Flags left unset keep their
// current values.
func runConfigSetLogCommand() *cobra.Command {
	var (
		configPath string
		level      string
		logPath    string
		maxSize    int
		maxBackups int
	)

	cmd := &cobra.Command{
		Use:   "set-log",
		Short: "Persist log level, path and rotation into the config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(configPath)
			if err != nil {
				return err
			}

			newLevel := app.Config.LogLevel
			if cmd.Flags().Changed("level") {
				newLevel = strings.ToUpper(level)
				if !validLogLevel(newLevel) {
					return fmt.Errorf("invalid --level %q: must be TRACE, DEBUG, INFO, WARN or ERROR", level)
				}
			}
			newPath := app.Config.LogPath
			if cmd.Flags().Changed("log-path") {
				newPath = logPath
			}
			newMaxSize := app.Config.LogMaxSize
			if cmd.Flags().Changed("max-size") {
				if maxSize < 1 {
					return fmt.Errorf("invalid --max-size %d: must be at least 1", maxSize)
				}
				newMaxSize = maxSize
			}
			newMaxBackups := app.Config.LogMaxBackups
			if cmd.Flags().Changed("max-backups") {
				if maxBackups < 0 {
					return fmt.Errorf("invalid --max-backups %d: must not be negative", maxBackups)
				}
				newMaxBackups = maxBackups
			}

			if err := app.UpdateLogSettings(newLevel, newPath, newMaxSize, newMaxBackups); err != nil {
				return err
			}

			cmd.Printf("Log settings saved: level=%s path=%q maxSize=%dMB maxBackups=%d\n",
				newLevel, newPath, newMaxSize, newMaxBackups)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Config file or directory")
	cmd.Flags().StringVar(&level, "level", "", "Log level: TRACE, DEBUG, INFO, WARN or ERROR")
	cmd.Flags().StringVar(&logPath, "log-path", "", "Log file path; empty logs to stderr only")
	cmd.Flags().IntVar(&maxSize, "max-size", 0, "Max log file size in megabytes before rotation")
	cmd.Flags().IntVar(&maxBackups, "max-backups", 0, "Rotated files to retain; 0 keeps all")

	return cmd
}

func validLogLevel(level string) bool {
	switch level {
	case "TRACE", "DEBUG", "INFO", "WARN", "ERROR":
		return true
	}
	return false
}
