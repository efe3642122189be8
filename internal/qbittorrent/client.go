// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package qbittorrent wraps the qBittorrent Web API client used by the
// uploader and the deep-storage bridge: cached login, WebAPI feature
// gating and the duplicate infohash index.
package qbittorrent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/magnetarr/magnetarr/internal/domain"

	"github.com/Masterminds/semver/v3"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"
)

// minAddTagsVersion is the WebAPI version that introduced the tags
// parameter on torrents/add. Older servers reject unknown form fields.
var minAddTagsVersion = semver.MustParse("2.6.2")

// Client is a lazy-login wrapper around one qBittorrent instance.
// Safe for concurrent use.
type Client struct {
	qbt *qbt.Client
	cfg domain.QBittorrentConfig

	mu              sync.RWMutex
	loggedIn        bool
	webAPIVersion   string
	supportsAddTags bool
	lastHealthCheck time.Time
	healthy         bool

	hashIndexMu    sync.RWMutex
	hashIndex      map[string]string // normalized infohash -> torrent name
	hashIndexReady bool
}

func NewClient(cfg domain.QBittorrentConfig) *Client {
	timeout := int(cfg.RequestTimeout.Seconds())
	if timeout <= 0 {
		timeout = 30
	}

	return &Client{
		qbt: qbt.NewClient(qbt.Config{
			Host:     cfg.URL(),
			Username: cfg.Username,
			Password: cfg.Password,
			Timeout:  timeout,
		}),
		cfg: cfg,
	}
}

// Login authenticates once and caches the session. Bad credentials come
// back as KindAuth; an unreachable client as KindNetwork. Repeated calls
// after a success are no-ops.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loggedIn {
		return nil
	}

	loginCtx, cancel := context.WithTimeout(ctx, c.requestTimeout())
	defer cancel()

	if err := c.qbt.LoginCtx(loginCtx); err != nil {
		c.healthy = false
		c.lastHealthCheck = time.Now()
		if errors.Is(err, qbt.ErrBadCredentials) || errors.Is(err, qbt.ErrIPBanned) {
			return domain.Classify(domain.KindAuth, fmt.Errorf("torrent client login: %w", err))
		}
		return domain.Classify(domain.KindNetwork, fmt.Errorf("torrent client login: %w", err))
	}

	c.loggedIn = true
	c.healthy = true
	c.lastHealthCheck = time.Now()

	version, err := c.qbt.GetWebAPIVersionCtx(loginCtx)
	if err != nil {
		version = ""
	}
	c.webAPIVersion = version
	c.supportsAddTags = versionSupportsAddTags(version)

	log.Debug().
		Str("host", c.cfg.Host).
		Str("webAPIVersion", version).
		Bool("supportsAddTags", c.supportsAddTags).
		Msg("torrent client session established")

	return nil
}

func versionSupportsAddTags(version string) bool {
	if version == "" {
		return false
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return !v.LessThan(minAddTagsVersion)
}

// HealthCheck verifies the session is still valid, re-logging-in once if
// the API probe fails.
func (c *Client) HealthCheck(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, c.requestTimeout())
	defer cancel()

	if _, err := c.qbt.GetWebAPIVersionCtx(probeCtx); err != nil {
		c.mu.Lock()
		c.loggedIn = false
		c.mu.Unlock()

		if lerr := c.Login(ctx); lerr != nil {
			c.setHealth(false)
			return lerr
		}
	}

	c.setHealth(true)
	return nil
}

func (c *Client) setHealth(healthy bool) {
	c.mu.Lock()
	c.healthy = healthy
	c.lastHealthCheck = time.Now()
	c.mu.Unlock()
}

func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.healthy
}

func (c *Client) LastHealthCheck() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHealthCheck
}

func (c *Client) WebAPIVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.webAPIVersion
}

func (c *Client) SupportsAddTags() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supportsAddTags
}

// AddOptions shape one torrents/add submission.
type AddOptions struct {
	Category     string
	SavePath     string
	AutoStart    bool
	SkipChecking bool
	Rename       string
	Tag          string
}

// form builds the torrents/add form fields. Share limits stay at -2 so
// the client's global limits apply; content layout is left to the client.
func (o AddOptions) form(withTags bool) map[string]string {
	options := make(map[string]string)

	if o.SavePath != "" {
		// An explicit save path pins the torrent and disables autoTMM.
		options["autoTMM"] = "false"
		options["savepath"] = o.SavePath
	} else {
		options["autoTMM"] = "true"
	}

	if o.Category != "" {
		options["category"] = o.Category
	}
	if withTags && o.Tag != "" {
		options["tags"] = o.Tag
	}
	if o.Rename != "" {
		options["rename"] = o.Rename
	}

	// "paused" is the pre-5.0 name, "stopped" the 5.x one; send both.
	if o.AutoStart {
		options["paused"] = "false"
		options["stopped"] = "false"
	} else {
		options["paused"] = "true"
		options["stopped"] = "true"
	}

	if o.SkipChecking {
		options["skip_checking"] = "true"
	}

	options["ratioLimit"] = "-2"
	options["seedingTimeLimit"] = "-2"

	return options
}

// AddMagnet submits one magnet URI. A per-torrent rejection comes back as
// KindParse (non-critical to the run); transport failures as KindNetwork.
func (c *Client) AddMagnet(ctx context.Context, magnetURI string, opts AddOptions) error {
	if err := c.Login(ctx); err != nil {
		return err
	}

	addCtx, cancel := context.WithTimeout(ctx, c.requestTimeout())
	defer cancel()

	if err := c.qbt.AddTorrentFromUrlCtx(addCtx, magnetURI, opts.form(c.SupportsAddTags())); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return domain.Classify(domain.KindNetwork, fmt.Errorf("add torrent: %w", err))
		}
		return domain.Classify(domain.KindParse, fmt.Errorf("add torrent rejected: %w", err))
	}

	return nil
}

// ListCategories returns the torrents in the given categories, newest
// first not guaranteed; callers filter by AddedOn themselves.
func (c *Client) ListCategories(ctx context.Context, categories []string) ([]qbt.Torrent, error) {
	if err := c.Login(ctx); err != nil {
		return nil, err
	}

	var out []qbt.Torrent
	for _, category := range categories {
		if category == "" {
			continue
		}

		listCtx, cancel := context.WithTimeout(ctx, c.requestTimeout())
		torrents, err := c.qbt.GetTorrentsCtx(listCtx, qbt.TorrentFilterOptions{Category: category})
		cancel()
		if err != nil {
			return nil, domain.Classify(domain.KindNetwork, fmt.Errorf("list torrents in %q: %w", category, err))
		}
		out = append(out, torrents...)
	}

	return out, nil
}

// Delete removes torrents from the client.
func (c *Client) Delete(ctx context.Context, hashes []string, deleteFiles bool) error {
	if len(hashes) == 0 {
		return nil
	}
	if err := c.Login(ctx); err != nil {
		return err
	}

	delCtx, cancel := context.WithTimeout(ctx, c.requestTimeout())
	defer cancel()

	if err := c.qbt.DeleteTorrentsCtx(delCtx, hashes, deleteFiles); err != nil {
		return domain.Classify(domain.KindNetwork, fmt.Errorf("delete %d torrents: %w", len(hashes), err))
	}
	return nil
}

func (c *Client) requestTimeout() time.Duration {
	if c.cfg.RequestTimeout > 0 {
		return c.cfg.RequestTimeout
	}
	return 30 * time.Second
}

// DisplayName builds the client-side torrent name the uploader renames
// adds to, e.g. "ABC-123 [Hacked Subtitle]".
func DisplayName(videoCode string, t domain.TorrentType) string {
	if videoCode == "" {
		return ""
	}
	return videoCode + " [" + t.Label() + "]"
}

// TagFor is the per-type tag attached to adds when the WebAPI supports it.
func TagFor(t domain.TorrentType) string {
	return "magnetarr:" + string(t)
}

// AddedBefore reports whether the torrent was added on or before the
// cutoff. AddedOn is a Unix timestamp in the client's clock.
func AddedBefore(t qbt.Torrent, cutoff time.Time) bool {
	if t.AddedOn <= 0 {
		return false
	}
	return !time.Unix(t.AddedOn, 0).After(cutoff)
}
