// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/magnetarr/magnetarr/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRow(href string) Row {
	row := Row{
		Href:          href,
		VideoCode:     "ABC-123",
		Page:          1,
		Actor:         "someone",
		Rate:          "4.5",
		CommentNumber: "120",
	}
	row.SetMagnet(domain.TorrentHackedSubtitle, "magnet:?xt=urn:btih:aaa", "5.71GB")
	row.SetMagnet(domain.TorrentSubtitle, "magnet:?xt=urn:btih:bbb", "4.2GB")
	return row
}

func TestPathFor(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 7, 14, 30, 5, 0, time.Local)

	assert.Equal(t,
		filepath.Join("reports", "DailyReport", "2026", "03", "daily_20260307.csv"),
		PathFor("reports", domain.RunModeDaily, at))
	assert.Equal(t,
		filepath.Join("reports", "AdHoc", "2026", "03", "adhoc_20260307_143005.csv"),
		PathFor("reports", domain.RunModeAdHoc, at))
}

func TestMarkAndMarked(t *testing.T) {
	t.Parallel()

	cell := "magnet:?xt=urn:btih:aaa"
	marked := Mark(cell)

	assert.Equal(t, DownloadedPrefix+cell, marked)
	assert.True(t, Marked(marked))
	assert.False(t, Marked(cell))
	assert.Equal(t, marked, Mark(marked), "marking twice is a no-op")
	assert.Equal(t, "", Mark(""), "empty cells stay empty")
}

func TestRowMarkDownloaded(t *testing.T) {
	t.Parallel()

	row := sampleRow("/v/abc")
	require.True(t, row.HasNewMagnet())

	row.MarkDownloaded(domain.TorrentHackedSubtitle)
	assert.True(t, Marked(row.Magnet(domain.TorrentHackedSubtitle)))
	assert.True(t, row.HasNewMagnet(), "subtitle cell is still unconsumed")

	row.MarkDownloaded(domain.TorrentSubtitle)
	assert.False(t, row.HasNewMagnet())

	// Absent cells never gain a marker.
	row.MarkDownloaded(domain.TorrentNoSubtitle)
	assert.Empty(t, row.Magnet(domain.TorrentNoSubtitle))
}

func TestWriterLazyCreation(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", "daily_20260307.csv")
	w := NewWriter(path)

	require.NoError(t, w.Close())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "a writer that never appended leaves no file")

	require.NoError(t, w.Append(sampleRow("/v/abc")))
	require.NoError(t, w.Append(sampleRow("/v/def")))
	assert.Equal(t, 2, w.Rows())
	require.NoError(t, w.Close())

	rows, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "/v/abc", rows[0].Href)
	assert.Equal(t, "/v/def", rows[1].Href)
	assert.Equal(t, "magnet:?xt=urn:btih:aaa", rows[0].Magnet(domain.TorrentHackedSubtitle))
	assert.Equal(t, "5.71GB", rows[0].Sizes[domain.TorrentHackedSubtitle])
}

func TestWriterAppendAfterReopenSkipsHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "daily_20260307.csv")

	w := NewWriter(path)
	require.NoError(t, w.Append(sampleRow("/v/abc")))
	require.NoError(t, w.Close())

	w2 := NewWriter(path)
	require.NoError(t, w2.Append(sampleRow("/v/def")))
	require.NoError(t, w2.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "href,video_code"), "header written exactly once")

	rows, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

// Reading a report and writing it back unchanged reproduces the bytes, so
// the uploader's rewrite is stable across repeat runs.
func TestReadWriteRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "daily_20260307.csv")
	w := NewWriter(path)
	require.NoError(t, w.Append(sampleRow("/v/abc")))

	marked := sampleRow("/v/def")
	marked.MarkDownloaded(domain.TorrentSubtitle)
	require.NoError(t, w.Append(marked))
	require.NoError(t, w.Close())

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	rows, err := ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, WriteFile(path, rows))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestReadFileSkipsMalformedRows(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "daily_20260307.csv")
	content := strings.Join(Header, ",") + "\n" +
		"/v/ok,ABC-123,1,actor,4.5,120,magnet:?xt=a,,,,1GB,,,\n" +
		"/v/short,ABC-124,2\n" +
		"/v/badpage,ABC-125,two,actor,4.5,120,magnet:?xt=b,,,,1GB,,,\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	rows, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "/v/ok", rows[0].Href)
}

func TestFindLatest(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 7, 10, 0, 0, 0, time.Local)

	t.Run("current month wins", func(t *testing.T) {
		t.Parallel()

		root := t.TempDir()
		mustWrite(t, filepath.Join(root, "DailyReport", "2026", "02", "daily_20260228.csv"))
		mustWrite(t, filepath.Join(root, "DailyReport", "2026", "03", "daily_20260301.csv"))
		mustWrite(t, filepath.Join(root, "DailyReport", "2026", "03", "daily_20260306.csv"))

		got, err := FindLatest(root, domain.RunModeDaily, now)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "DailyReport", "2026", "03", "daily_20260306.csv"), got)
	})

	t.Run("falls back to older months", func(t *testing.T) {
		t.Parallel()

		root := t.TempDir()
		mustWrite(t, filepath.Join(root, "DailyReport", "2025", "12", "daily_20251230.csv"))
		mustWrite(t, filepath.Join(root, "DailyReport", "2026", "01", "daily_20260115.csv"))

		got, err := FindLatest(root, domain.RunModeDaily, now)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "DailyReport", "2026", "01", "daily_20260115.csv"), got)
	})

	t.Run("legacy flat layout", func(t *testing.T) {
		t.Parallel()

		root := t.TempDir()
		mustWrite(t, filepath.Join(root, "AdHoc", "adhoc_20251101_120000.csv"))

		got, err := FindLatest(root, domain.RunModeAdHoc, now)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "AdHoc", "adhoc_20251101_120000.csv"), got)
	})

	t.Run("nothing found", func(t *testing.T) {
		t.Parallel()

		_, err := FindLatest(t.TempDir(), domain.RunModeDaily, now)
		assert.Error(t, err)
	})
}

func mustWrite(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(Header, ",")+"\n"), 0o644))
}
