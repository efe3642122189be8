// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"context"
	"fmt"
	"strings"

	"github.com/magnetarr/magnetarr/internal/domain"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"
)

// indexableState filters the duplicate index: a torrent the client can no
// longer serve must not suppress a fresh add of the same infohash.
func indexableState(state qbt.TorrentState) bool {
	switch state {
	case qbt.TorrentStateError, qbt.TorrentStateMissingFiles:
		return false
	}
	return true
}

func normalizeHash(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	return strings.ToLower(trimmed)
}

// addToHashIndex registers every hash form the torrent exposes. Hybrid
// torrents carry both a v1 and a v2 infohash; a magnet may reference
// either.
func addToHashIndex(index map[string]string, torrent qbt.Torrent) {
	for _, candidate := range []string{torrent.Hash, torrent.InfohashV1, torrent.InfohashV2} {
		normalized := normalizeHash(candidate)
		if normalized == "" {
			continue
		}
		index[normalized] = torrent.Name
	}
}

// RefreshHashIndex loads every torrent known to the client and rebuilds
// the infohash index consulted before each add.
func (c *Client) RefreshHashIndex(ctx context.Context) error {
	if err := c.Login(ctx); err != nil {
		return err
	}

	listCtx, cancel := context.WithTimeout(ctx, c.requestTimeout())
	defer cancel()

	torrents, err := c.qbt.GetTorrentsCtx(listCtx, qbt.TorrentFilterOptions{})
	if err != nil {
		return domain.Classify(domain.KindNetwork, fmt.Errorf("list torrents for hash index: %w", err))
	}

	c.rebuildHashIndex(torrents)
	return nil
}

func (c *Client) rebuildHashIndex(torrents []qbt.Torrent) {
	index := make(map[string]string, len(torrents)*2)
	skipped := 0
	for _, torrent := range torrents {
		if !indexableState(torrent.State) {
			skipped++
			continue
		}
		addToHashIndex(index, torrent)
	}

	c.hashIndexMu.Lock()
	c.hashIndex = index
	c.hashIndexReady = true
	c.hashIndexMu.Unlock()

	log.Debug().
		Int("indexed", len(index)).
		Int("skipped", skipped).
		Msg("duplicate hash index rebuilt")
}

// LookupDuplicate returns the name of the torrent already holding the
// infohash. ok is false when the hash is unknown or blank.
func (c *Client) LookupDuplicate(infohash string) (name string, ok bool) {
	normalized := normalizeHash(infohash)
	if normalized == "" {
		return "", false
	}

	c.hashIndexMu.RLock()
	defer c.hashIndexMu.RUnlock()

	if !c.hashIndexReady {
		return "", false
	}
	name, ok = c.hashIndex[normalized]
	return name, ok
}

// HashIndexReady reports whether RefreshHashIndex has completed at least
// once. Before that, LookupDuplicate answers false for everything.
func (c *Client) HashIndexReady() bool {
	c.hashIndexMu.RLock()
	defer c.hashIndexMu.RUnlock()
	return c.hashIndexReady
}
