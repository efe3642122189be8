// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scraper

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Fixture builders shaped like the catalog's markup. Shared with the
// engine tests.

func indexHTML(items ...string) string {
	return `<html><body><div class="movie-list">` + strings.Join(items, "") + `</div></body></html>`
}

type indexItem struct {
	href     string
	code     string
	title    string
	score    string
	released string
	tags     []string
}

func (it indexItem) html() string {
	var b strings.Builder
	b.WriteString(`<div class="item">`)
	fmt.Fprintf(&b, `<a class="box" href="%s">`, it.href)
	fmt.Fprintf(&b, `<div class="video-title"><strong>%s</strong> %s</div>`, it.code, it.title)
	if it.score != "" {
		fmt.Fprintf(&b, `<div class="score"><span class="value">%s</span></div>`, it.score)
	}
	if it.released != "" {
		fmt.Fprintf(&b, `<div class="meta">%s</div>`, it.released)
	}
	if len(it.tags) > 0 {
		b.WriteString(`<div class="tags has-addons">`)
		for _, tag := range it.tags {
			fmt.Fprintf(&b, `<span class="tag">%s</span>`, tag)
		}
		b.WriteString(`</div>`)
	}
	b.WriteString(`</a></div>`)
	return b.String()
}

type magnetItem struct {
	href string
	name string
	size string
	time string
	tags []string
}

func (m magnetItem) html() string {
	var b strings.Builder
	b.WriteString(`<div class="item columns is-desktop">`)
	b.WriteString(`<div class="magnet-name column is-four-fifths">`)
	fmt.Fprintf(&b, `<a href="%s">`, m.href)
	fmt.Fprintf(&b, `<span class="name">%s</span>`, m.name)
	fmt.Fprintf(&b, `<span class="meta">%s</span>`, m.size)
	if len(m.tags) > 0 {
		b.WriteString(`<div class="tags"><span class="tag">` + strings.Join(m.tags, `</span><span class="tag">`) + `</span></div>`)
	}
	b.WriteString(`</a></div>`)
	fmt.Fprintf(&b, `<div class="date column"><span class="time">%s</span></div>`, m.time)
	b.WriteString(`</div>`)
	return b.String()
}

func detailHTML(code, actor string, magnets ...magnetItem) string {
	var b strings.Builder
	b.WriteString(`<html><body>`)
	fmt.Fprintf(&b, `<a class="button is-white copy-to-clipboard" data-clipboard-text="%s">複製番號</a>`, code)
	if actor != "" {
		b.WriteString(`<div class="video-meta-panel">`)
		b.WriteString(`<div class="panel-block"><strong>導演:</strong> <a href="/directors/x">Someone Else</a></div>`)
		fmt.Fprintf(&b, `<div class="panel-block"><strong>演員:</strong> <a href="/actors/x">%s</a></div>`, actor)
		b.WriteString(`</div>`)
	}
	b.WriteString(`<div id="magnets-content">`)
	for _, m := range magnets {
		b.WriteString(m.html())
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func TestParseIndex(t *testing.T) {
	t.Parallel()

	body := indexHTML(
		indexItem{
			href:     "/v/abc",
			code:     "ABC-123",
			title:    "Some Title",
			score:    "4.5分, 由120人評價",
			released: "2026-03-06",
			tags:     []string{"含中字磁鏈", "今日新種"},
		}.html(),
		indexItem{
			href:  "/v/def",
			code:  "DEF-456",
			title: "Another",
			tags:  []string{"昨日新種"},
		}.html(),
	)

	entries, warnings, err := ParseIndex([]byte(body), 3)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, entries, 2)

	first := entries[0]
	assert.Equal(t, "/v/abc", first.Href)
	assert.Equal(t, "ABC-123", first.VideoCode)
	assert.Equal(t, "Some Title", first.Title)
	assert.Equal(t, 3, first.Page)
	assert.Equal(t, "2026-03-06", first.ReleasedAt)
	assert.True(t, first.HasRating)
	assert.InDelta(t, 4.5, first.Rating, 0.001)
	assert.Equal(t, 120, first.Comments)
	assert.Equal(t, []string{"含中字磁鏈", "今日新種"}, first.Tags)

	second := entries[1]
	assert.False(t, second.HasRating, "missing score leaves the entry unrated")
	assert.Zero(t, second.Comments)
}

func TestParseIndexWithoutContainer(t *testing.T) {
	t.Parallel()

	entries, warnings, err := ParseIndex([]byte(`<html><body><p>nothing here</p></body></html>`), 1)
	require.NoError(t, err)
	assert.Empty(t, entries, "a page without the list container parses as empty")
	assert.Len(t, warnings, 1)
}

func TestParseIndexSkipsItemsWithoutLink(t *testing.T) {
	t.Parallel()

	body := indexHTML(
		`<div class="item"><div class="video-title"><strong>X</strong></div></div>`,
		indexItem{href: "/v/ok", code: "OK-1", title: "Fine"}.html(),
	)

	entries, warnings, err := ParseIndex([]byte(body), 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/v/ok", entries[0].Href)
	assert.Len(t, warnings, 1)
}

func TestParseDetail(t *testing.T) {
	t.Parallel()

	body := detailHTML("ABC-123", "Actor Name",
		magnetItem{
			href: "magnet:?xt=urn:btih:aaa",
			name: "ABC-123-UC",
			size: "5.5GB, 1個文件",
			time: "2026-03-05",
			tags: []string{"字幕", "高清"},
		},
		magnetItem{
			href: "magnet:?xt=urn:btih:bbb",
			name: "ABC-123",
			size: "4.2GB, 1個文件",
			time: "2026-03-01",
		},
	)

	detail, warnings, err := ParseDetail([]byte(body), "/v/abc")
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, "/v/abc", detail.Href)
	assert.Equal(t, "ABC-123", detail.VideoCode)
	assert.Equal(t, "Actor Name", detail.Actor)
	require.Len(t, detail.Magnets, 2)

	m := detail.Magnets[0]
	assert.Equal(t, "magnet:?xt=urn:btih:aaa", m.Href)
	assert.Equal(t, "ABC-123-UC", m.Name)
	assert.Equal(t, "5.5GB, 1個文件", m.SizeText)
	assert.Equal(t, int64(5.5*(1<<30)), m.Size)
	assert.Equal(t, time.Date(2026, 3, 5, 0, 0, 0, 0, time.Local), m.Uploaded)
	assert.Equal(t, []string{"字幕", "高清"}, m.Tags)
}

func TestParseDetailMissingStructure(t *testing.T) {
	t.Parallel()

	detail, warnings, err := ParseDetail([]byte(`<html><body><p>empty</p></body></html>`), "/v/abc")
	require.NoError(t, err)

	assert.Empty(t, detail.VideoCode)
	assert.Empty(t, detail.Magnets)
	assert.NotEmpty(t, warnings, "missing structure warns instead of failing")
}

func TestTagSets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		tags     []string
		subtitle bool
		fresh    bool
	}{
		{"traditional pair", []string{"含中字磁鏈", "今日新種"}, true, true},
		{"simplified pair", []string{"含中字磁链", "昨日新种"}, true, true},
		{"english pair", []string{"CnSub DL", "Yesterday"}, true, true},
		{"fresh only", []string{"今日新種"}, false, true},
		{"subtitle only", []string{"含中字磁鏈"}, true, false},
		{"whitespace tolerated", []string{" Today "}, false, true},
		{"unrelated", []string{"高清", "單體作品"}, false, false},
		{"empty", nil, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.subtitle, HasSubtitleTag(tt.tags))
			assert.Equal(t, tt.fresh, HasFreshReleaseTag(tt.tags))
		})
	}
}
