// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"strings"
	"testing"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebuildHashIndex_CoversAllHashForms(t *testing.T) {
	alphaHash := "ABCDEF1234567890ABCDEF1234567890ABCDEF12"
	bravoHash := "FEDCBA0987654321FEDCBA0987654321FEDCBA09"
	bravoInfoHashV1 := "1234567890abcdef1234567890abcdef12345678"
	charlieHash := "AAAABBBBCCCCDDDDEEEEFFFF0000111122223333"
	charlieInfoHashV2 := "BCDEFGHIJKLMNOPQRSTUVWXYZ234567"

	c := &Client{}
	require.False(t, c.HashIndexReady(), "index must not report ready before a rebuild")

	_, ok := c.LookupDuplicate(alphaHash)
	assert.False(t, ok, "lookups before the first rebuild must miss")

	c.rebuildHashIndex([]qbt.Torrent{
		{Hash: alphaHash, Name: "Alpha"},
		{Hash: bravoHash, InfohashV1: bravoInfoHashV1, Name: "Bravo"},
		{Hash: charlieHash, InfohashV2: charlieInfoHashV2, Name: "Charlie"},
	})

	require.True(t, c.HashIndexReady())

	name, ok := c.LookupDuplicate(strings.ToLower(alphaHash))
	require.True(t, ok, "primary hash should match case-insensitively")
	assert.Equal(t, "Alpha", name)

	name, ok = c.LookupDuplicate(strings.ToUpper(bravoInfoHashV1))
	require.True(t, ok, "v1 infohash should match case-insensitively")
	assert.Equal(t, "Bravo", name)

	name, ok = c.LookupDuplicate(charlieInfoHashV2)
	require.True(t, ok, "v2 infohash should match")
	assert.Equal(t, "Charlie", name)

	_, ok = c.LookupDuplicate("deadbeefdeadbeefdeadbeefdeadbeefdeadbeef")
	assert.False(t, ok, "unknown hashes should miss")

	_, ok = c.LookupDuplicate("   ")
	assert.False(t, ok, "blank hashes should miss")
}

func TestRebuildHashIndex_SkipsUnservableTorrents(t *testing.T) {
	erroredHash := "1111111111111111111111111111111111111111"
	missingHash := "2222222222222222222222222222222222222222"
	healthyHash := "3333333333333333333333333333333333333333"

	c := &Client{}
	c.rebuildHashIndex([]qbt.Torrent{
		{Hash: erroredHash, Name: "Errored", State: qbt.TorrentStateError},
		{Hash: missingHash, Name: "Missing", State: qbt.TorrentStateMissingFiles},
		{Hash: healthyHash, Name: "Healthy", State: qbt.TorrentStateUploading},
	})

	_, ok := c.LookupDuplicate(erroredHash)
	assert.False(t, ok, "errored torrents must not suppress a re-add")

	_, ok = c.LookupDuplicate(missingHash)
	assert.False(t, ok, "missing-files torrents must not suppress a re-add")

	name, ok := c.LookupDuplicate(healthyHash)
	require.True(t, ok)
	assert.Equal(t, "Healthy", name)
}

func TestRebuildHashIndex_ReplacesPreviousIndex(t *testing.T) {
	oldHash := "4444444444444444444444444444444444444444"
	newHash := "5555555555555555555555555555555555555555"

	c := &Client{}
	c.rebuildHashIndex([]qbt.Torrent{{Hash: oldHash, Name: "Old"}})
	c.rebuildHashIndex([]qbt.Torrent{{Hash: newHash, Name: "New"}})

	_, ok := c.LookupDuplicate(oldHash)
	assert.False(t, ok, "a rebuild replaces the index, it does not merge")

	name, ok := c.LookupDuplicate(newHash)
	require.True(t, ok)
	assert.Equal(t, "New", name)
}

func TestNormalizeHash(t *testing.T) {
	assert.Equal(t, "", normalizeHash(""))
	assert.Equal(t, "", normalizeHash("   "))
	assert.Equal(t, "abcdef12", normalizeHash("  ABCdef12  "))
}
