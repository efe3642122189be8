// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads the TOML configuration, applies MAGNETARR__ env
// overrides and hands out one immutable domain.Config per process.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/magnetarr/magnetarr/internal/buildinfo"
	"github.com/magnetarr/magnetarr/internal/domain"
	"github.com/magnetarr/magnetarr/internal/logger"
	"github.com/magnetarr/magnetarr/pkg/debounce"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// envKeys maps viper keys to their MAGNETARR__ environment override names.
// Explicit binds keep camelCase keys addressable from UPPER_SNAKE env vars.
var envKeys = map[string]string{
	"logLevel":              "MAGNETARR__LOG_LEVEL",
	"logPath":               "MAGNETARR__LOG_PATH",
	"logMaxSize":            "MAGNETARR__LOG_MAX_SIZE",
	"logMaxBackups":         "MAGNETARR__LOG_MAX_BACKUPS",
	"dataDir":               "MAGNETARR__DATA_DIR",
	"historyPath":           "MAGNETARR__HISTORY_PATH",
	"sessionCookie":         "MAGNETARR__SESSION_COOKIE",
	"metricsEnabled":        "MAGNETARR__METRICS_ENABLED",
	"metricsHost":           "MAGNETARR__METRICS_HOST",
	"metricsPort":           "MAGNETARR__METRICS_PORT",
	"metricsBasicAuthUsers": "MAGNETARR__METRICS_BASIC_AUTH_USERS",

	"scraper.baseUrl":           "MAGNETARR__SCRAPER_BASE_URL",
	"scraper.phase2MinRate":     "MAGNETARR__SCRAPER_PHASE2_MIN_RATE",
	"scraper.phase2MinComments": "MAGNETARR__SCRAPER_PHASE2_MIN_COMMENTS",
	"scraper.detailWorkers":     "MAGNETARR__SCRAPER_DETAIL_WORKERS",
	"scraper.runBudget":         "MAGNETARR__SCRAPER_RUN_BUDGET",

	"proxy.mode":            "MAGNETARR__PROXY_MODE",
	"proxy.cooldownSeconds": "MAGNETARR__PROXY_COOLDOWN_SECONDS",
	"proxy.maxFailures":     "MAGNETARR__PROXY_MAX_FAILURES",

	"bypass.enabled": "MAGNETARR__BYPASS_ENABLED",
	"bypass.host":    "MAGNETARR__BYPASS_HOST",
	"bypass.port":    "MAGNETARR__BYPASS_PORT",

	"qbittorrent.host":     "MAGNETARR__QBITTORRENT_HOST",
	"qbittorrent.port":     "MAGNETARR__QBITTORRENT_PORT",
	"qbittorrent.username": "MAGNETARR__QBITTORRENT_USERNAME",
	"qbittorrent.password": "MAGNETARR__QBITTORRENT_PASSWORD",

	"deepstorage.enabled":  "MAGNETARR__DEEPSTORAGE_ENABLED",
	"deepstorage.baseUrl":  "MAGNETARR__DEEPSTORAGE_BASE_URL",
	"deepstorage.email":    "MAGNETARR__DEEPSTORAGE_EMAIL",
	"deepstorage.password": "MAGNETARR__DEEPSTORAGE_PASSWORD",

	"notifications.urls": "MAGNETARR__NOTIFICATIONS_URLS",
}

// AppConfig owns the loaded configuration and the viper instance backing it.
type AppConfig struct {
	Config *domain.Config

	viper      *viper.Viper
	configPath string
	mu         sync.Mutex
}

// New loads (or creates) the config file and returns the resolved
// configuration. An empty configPath selects the default location.
func New(configPath string) (*AppConfig, error) {
	c := &AppConfig{
		viper: viper.New(),
	}

	if err := c.load(configPath); err != nil {
		return nil, err
	}

	c.watchConfig()

	return c, nil
}

func (c *AppConfig) load(configPath string) error {
	c.viper.SetConfigType("toml")

	setDefaults(c.viper)

	for key, env := range envKeys {
		if err := c.viper.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	switch {
	case configPath == "":
		c.configPath = filepath.Join(getDefaultConfigDir(), "config.toml")
	case isDirectory(configPath):
		c.configPath = filepath.Join(configPath, "config.toml")
	default:
		c.configPath = configPath
	}

	if _, err := os.Stat(c.configPath); os.IsNotExist(err) {
		if err := c.writeDefaultConfig(); err != nil {
			return fmt.Errorf("create default config: %w", err)
		}
		log.Info().Str("path", c.configPath).Msg("created default config file")
	}

	c.viper.SetConfigFile(c.configPath)

	if err := c.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", c.configPath, err)
	}

	cfg := &domain.Config{}
	if err := c.viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Version = buildinfo.Version

	if cfg.DataDir == "" {
		// Reports live next to the config file unless told otherwise.
		cfg.DataDir = filepath.Join(filepath.Dir(c.configPath), "reports")
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	c.Config = cfg

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logLevel", "INFO")
	v.SetDefault("logMaxSize", 50)
	v.SetDefault("logMaxBackups", 3)

	v.SetDefault("scraper.startPage", 1)
	v.SetDefault("scraper.endPage", 1)
	v.SetDefault("scraper.phase2MinRate", 4.0)
	v.SetDefault("scraper.phase2MinComments", 80)
	v.SetDefault("scraper.pageSleep", "2s")
	v.SetDefault("scraper.detailSleep", "5s")
	v.SetDefault("scraper.entrySleep", "1s")
	v.SetDefault("scraper.detailWorkers", 1)
	v.SetDefault("scraper.runBudget", "0s")

	v.SetDefault("proxy.mode", "single")
	v.SetDefault("proxy.cooldownSeconds", 691200)
	v.SetDefault("proxy.maxFailures", 3)
	v.SetDefault("proxy.modules", []string{domain.ModuleAll})

	v.SetDefault("bypass.host", "127.0.0.1")
	v.SetDefault("bypass.port", 8000)

	v.SetDefault("qbittorrent.host", "localhost")
	v.SetDefault("qbittorrent.port", 8080)
	v.SetDefault("qbittorrent.categoryDaily", "tv-daily")
	v.SetDefault("qbittorrent.categoryAdhoc", "tv-adhoc")
	v.SetDefault("qbittorrent.autoStart", true)
	v.SetDefault("qbittorrent.requestTimeout", "30s")
	v.SetDefault("qbittorrent.interAddDelay", "2s")

	v.SetDefault("deepstorage.requestDelay", "3s")
	v.SetDefault("deepstorage.days", 3)

	v.SetDefault("metricsHost", "127.0.0.1")
	v.SetDefault("metricsPort", 9074)
}

// watchConfig applies the dynamic subset of settings on file change. Only
// the log level reloads live; everything else needs a restart. Editors
// fire several fsnotify events per save; the debouncer collapses them
// into one reload.
func (c *AppConfig) watchConfig() {
	deb := debounce.New(500 * time.Millisecond)
	c.viper.OnConfigChange(func(_ fsnotify.Event) {
		deb.Do(c.applyDynamic)
	})
	c.viper.WatchConfig()
}

func (c *AppConfig) applyDynamic() {
	c.mu.Lock()
	defer c.mu.Unlock()

	level := c.viper.GetString("logLevel")
	if level != c.Config.LogLevel {
		c.Config.LogLevel = level
		logger.SetLogLevel(level)
		log.Info().Str("logLevel", level).Msg("log level updated from config change")
	}
}

func getDefaultConfigDir() string {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		// Container images mount the config volume at /config; use it as-is.
		if xdgConfigHome == "/config" {
			return xdgConfigHome
		}
		return filepath.Join(xdgConfigHome, "magnetarr")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "magnetarr")
}

func isDirectory(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (c *AppConfig) writeDefaultConfig() error {
	if err := os.MkdirAll(filepath.Dir(c.configPath), 0o755); err != nil {
		return err
	}

	return os.WriteFile(c.configPath, []byte(defaultConfigTemplate), 0o644)
}
