// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scraper

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/magnetarr/magnetarr/internal/domain"
	"github.com/magnetarr/magnetarr/internal/fetch"
	"github.com/magnetarr/magnetarr/internal/history"
	"github.com/magnetarr/magnetarr/internal/report"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBase = "https://catalog.example.org/"

type fakePage struct {
	body string
	err  error
}

// fakeFetcher serves index fixtures by page number and detail fixtures by
// path. Pages without a fixture come back as an empty index.
type fakeFetcher struct {
	mu      sync.Mutex
	indexes map[int]fakePage
	details map[string]fakePage

	indexCalls  int
	detailCalls map[string]int
}

func (f *fakeFetcher) FetchIndex(_ context.Context, rawURL string) (*fetch.Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	page, _ := strconv.Atoi(u.Query().Get("page"))

	f.mu.Lock()
	f.indexCalls++
	pg, ok := f.indexes[page]
	f.mu.Unlock()

	if !ok {
		return &fetch.Page{URL: rawURL, StatusCode: 200, Body: []byte(indexHTML())}, nil
	}
	if pg.err != nil {
		return nil, pg.err
	}
	return &fetch.Page{URL: rawURL, StatusCode: 200, Body: []byte(pg.body)}, nil
}

func (f *fakeFetcher) FetchDetail(_ context.Context, rawURL string) (*fetch.Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	if f.detailCalls == nil {
		f.detailCalls = make(map[string]int)
	}
	f.detailCalls[u.Path]++
	pg, ok := f.details[u.Path]
	f.mu.Unlock()

	if !ok {
		return nil, domain.Classifyf(domain.KindTransientHTTP, "no detail fixture for %s", u.Path)
	}
	if pg.err != nil {
		return nil, pg.err
	}
	return &fetch.Page{URL: rawURL, StatusCode: 200, Body: []byte(pg.body)}, nil
}

func newTestEngine(t *testing.T, fetcher Fetcher) (*Engine, *history.Store) {
	t.Helper()

	store := history.NewStore(filepath.Join(t.TempDir(), "history.csv"))
	cfg := domain.ScraperConfig{
		Phase2MinRate:     4.0,
		Phase2MinComments: 80,
		DetailWorkers:     2,
	}
	return New(cfg, fetcher, store, nil), store
}

func crawlOptions(t *testing.T, phases ...domain.Phase) Options {
	t.Helper()

	return Options{
		Mode:       domain.RunModeDaily,
		BaseURL:    testBase,
		StartPage:  1,
		EndPage:    1,
		Phases:     phases,
		ReportPath: filepath.Join(t.TempDir(), "report.csv"),
	}
}

// Index items reused across the tests. Tags carry both gates: a subtitle
// magnet marker and a fresh-release marker.
var (
	freshSubbed = indexItem{
		href: "/v/fresh1", code: "ABC-123", title: "Fresh subbed",
		tags: []string{"含中字磁鏈", "今日新種"},
	}
	staleSubbed = indexItem{
		href: "/v/stale1", code: "ABC-124", title: "Stale subbed",
		tags: []string{"含中字磁鏈"},
	}
	freshPlain = indexItem{
		href: "/v/plain1", code: "ABC-125", title: "Fresh no subs",
		tags: []string{"昨日新種"},
	}
)

func subbedDetail(code string) string {
	return detailHTML(code, "Aoi",
		magnetItem{href: "magnet:?xt=urn:btih:" + code + "sub", name: code + " 字幕", size: "5.71GB, 1個文件", time: "2026-08-20"},
		magnetItem{href: "magnet:?xt=urn:btih:" + code + "plain", name: code, size: "4.2GB, 1個文件", time: "2026-08-20"},
	)
}

func TestEngineDailyCrawl(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		indexes: map[int]fakePage{
			1: {body: indexHTML(freshSubbed.html(), staleSubbed.html(), freshPlain.html())},
		},
		details: map[string]fakePage{
			"/v/fresh1": {body: subbedDetail("ABC-123")},
		},
	}
	eng, store := newTestEngine(t, fetcher)
	opts := crawlOptions(t, domain.Phase1)

	res, err := eng.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, domain.RunSuccess, res.Variant)
	assert.Equal(t, 1, res.Rows)
	assert.Equal(t, opts.ReportPath, res.ReportPath)
	assert.False(t, res.Partial)

	assert.Equal(t, 1, res.Stats.PagesAttempted)
	assert.Equal(t, 0, res.Stats.PagesFailed)
	assert.Equal(t, 1, res.Stats.EntriesSelected, "only the fresh subbed entry passes both gates")
	assert.Equal(t, 1, res.Stats.EntriesDetailed)
	assert.Equal(t, 0, res.Stats.EntriesFailed)

	rows, err := report.ReadFile(opts.ReportPath)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "/v/fresh1", rows[0].Href)
	assert.Equal(t, "ABC-123", rows[0].VideoCode)
	assert.Equal(t, "Aoi", rows[0].Actor)
	assert.Equal(t, "magnet:?xt=urn:btih:ABC-123sub", rows[0].Magnet(domain.TorrentSubtitle))
	assert.Empty(t, rows[0].Magnet(domain.TorrentNoSubtitle), "phase 1 never requests the plain bucket")

	rec, known := store.Lookup("/v/fresh1")
	require.True(t, known, "processed entries land in history")
	assert.Equal(t, "ABC-123", rec.VideoCode)
	assert.False(t, store.IsDownloaded("/v/fresh1", domain.TorrentSubtitle),
		"the crawl records the visit, the uploader records the download")
}

func TestEngineIgnoreReleaseDateAdmitsStale(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		indexes: map[int]fakePage{1: {body: indexHTML(staleSubbed.html())}},
		details: map[string]fakePage{"/v/stale1": {body: subbedDetail("ABC-124")}},
	}
	eng, _ := newTestEngine(t, fetcher)
	opts := crawlOptions(t, domain.Phase1)
	opts.IgnoreReleaseDate = true

	res, err := eng.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, domain.RunSuccess, res.Variant)
	assert.Equal(t, 1, res.Rows)
}

func TestEnginePhase2Gates(t *testing.T) {
	t.Parallel()

	rated := func(href, code, score string) indexItem {
		return indexItem{href: href, code: code, score: score, tags: []string{"今日新種"}}
	}
	// Rating and comment floors are inclusive.
	onBoundary := rated("/v/boundary", "DEF-200", "4分, 由80人評價")
	wellRated := rated("/v/good", "DEF-201", "4.5分, 由100人評價")
	lowRated := rated("/v/low", "DEF-202", "3.9分, 由500人評價")
	fewVoters := rated("/v/few", "DEF-203", "4.8分, 由79人評價")

	crackedDetail := func(code string) string {
		return detailHTML(code, "",
			magnetItem{href: "magnet:?xt=urn:btih:" + code + "u", name: code + "-U", size: "6.1GB", time: "2026-08-21"},
		)
	}

	fetcher := &fakeFetcher{
		indexes: map[int]fakePage{
			1: {body: indexHTML(onBoundary.html(), wellRated.html(), lowRated.html(), fewVoters.html())},
		},
		details: map[string]fakePage{
			"/v/boundary": {body: crackedDetail("DEF-200")},
			"/v/good":     {body: crackedDetail("DEF-201")},
		},
	}
	eng, _ := newTestEngine(t, fetcher)
	opts := crawlOptions(t, domain.Phase2)

	res, err := eng.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, domain.RunSuccess, res.Variant)
	assert.Equal(t, 2, res.Stats.EntriesSelected)
	assert.Equal(t, 2, res.Rows)

	rows, err := report.ReadFile(opts.ReportPath)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.NotEmpty(t, row.Magnet(domain.TorrentHackedNoSubtitle))
	}
}

func TestEngineSessionDedupeAcrossPages(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		indexes: map[int]fakePage{
			1: {body: indexHTML(freshSubbed.html())},
			2: {body: indexHTML(freshSubbed.html())},
		},
		details: map[string]fakePage{
			"/v/fresh1": {body: subbedDetail("ABC-123")},
		},
	}
	eng, _ := newTestEngine(t, fetcher)
	opts := crawlOptions(t, domain.Phase1)
	opts.EndPage = 2

	res, err := eng.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Rows)
	assert.Equal(t, 1, fetcher.detailCalls["/v/fresh1"], "an href is detailed once per run")
	assert.Equal(t, 1, res.Stats.Phase(domain.Phase1).SkippedSession)
}

func TestEngineHistorySkipsSatisfiedEntries(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		indexes: map[int]fakePage{1: {body: indexHTML(freshSubbed.html())}},
	}
	eng, store := newTestEngine(t, fetcher)

	ts := time.Date(2026, 8, 20, 10, 0, 0, 0, time.Local)
	require.NoError(t, store.MarkDownloaded("/v/fresh1", "ABC-123", domain.Phase1, domain.TorrentHackedSubtitle, ts))
	require.NoError(t, store.MarkDownloaded("/v/fresh1", "ABC-123", domain.Phase1, domain.TorrentSubtitle, ts))

	res, err := eng.Run(context.Background(), crawlOptions(t, domain.Phase1))
	require.NoError(t, err)

	assert.Equal(t, domain.RunSuccessEmpty, res.Variant)
	assert.Equal(t, 0, res.Rows)
	assert.Equal(t, 1, res.Stats.Phase(domain.Phase1).SkippedHistory)
	assert.Empty(t, fetcher.detailCalls, "satisfied entries never cost a detail fetch")
}

func TestEngineMarksDownloadedBucketsInReport(t *testing.T) {
	t.Parallel()

	detail := detailHTML("ABC-123", "Aoi",
		magnetItem{href: "magnet:?xt=urn:btih:hs", name: "ABC-123-UC", size: "6.8GB", time: "2026-08-21"},
		magnetItem{href: "magnet:?xt=urn:btih:sub", name: "ABC-123 字幕", size: "5.7GB", time: "2026-08-20"},
	)
	fetcher := &fakeFetcher{
		indexes: map[int]fakePage{1: {body: indexHTML(freshSubbed.html())}},
		details: map[string]fakePage{"/v/fresh1": {body: detail}},
	}
	eng, store := newTestEngine(t, fetcher)

	ts := time.Date(2026, 8, 20, 10, 0, 0, 0, time.Local)
	require.NoError(t, store.MarkDownloaded("/v/fresh1", "ABC-123", domain.Phase1, domain.TorrentSubtitle, ts))

	opts := crawlOptions(t, domain.Phase1)
	res, err := eng.Run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, 1, res.Rows)

	rows, err := report.ReadFile(opts.ReportPath)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.False(t, report.Marked(rows[0].Magnet(domain.TorrentHackedSubtitle)),
		"the still-wanted bucket is offered to the uploader")
	assert.True(t, report.Marked(rows[0].Magnet(domain.TorrentSubtitle)),
		"the already-obtained bucket rides along pre-marked")
}

func TestEngineAllPagesStopsAtEmptyPage(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		indexes: map[int]fakePage{
			1: {body: indexHTML(freshSubbed.html())},
			2: {body: indexHTML()},
			3: {body: indexHTML(freshPlain.html())},
		},
		details: map[string]fakePage{"/v/fresh1": {body: subbedDetail("ABC-123")}},
	}
	eng, _ := newTestEngine(t, fetcher)
	opts := crawlOptions(t, domain.Phase1)
	opts.AllPages = true

	res, err := eng.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, domain.RunSuccess, res.Variant)
	assert.Equal(t, 2, res.Stats.PagesAttempted, "the crawl ends at the first empty page")
	assert.Equal(t, 1, res.Rows)
}

func TestEngineAllPagesStopsAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	bad := fakePage{err: domain.Classifyf(domain.KindTransientHTTP, "status 503")}
	fetcher := &fakeFetcher{
		indexes: map[int]fakePage{1: bad, 2: bad, 3: bad, 4: {body: indexHTML(freshSubbed.html())}},
	}
	eng, _ := newTestEngine(t, fetcher)
	opts := crawlOptions(t, domain.Phase1)
	opts.AllPages = true

	res, err := eng.Run(context.Background(), opts)
	require.Error(t, err, "a crawl where every page failed is critical")

	assert.Equal(t, domain.RunFailedCritical, res.Variant)
	assert.Equal(t, 3, fetcher.indexCalls, "the dead-site bound stops the page loop")
	assert.Equal(t, 3, res.Stats.PagesFailed)
}

func TestEngineAllIndexPagesFailedIsCritical(t *testing.T) {
	t.Parallel()

	bad := fakePage{err: domain.Classifyf(domain.KindTransientHTTP, "status 502")}
	fetcher := &fakeFetcher{indexes: map[int]fakePage{1: bad, 2: bad}}
	eng, _ := newTestEngine(t, fetcher)
	opts := crawlOptions(t, domain.Phase1)
	opts.EndPage = 2

	res, err := eng.Run(context.Background(), opts)
	require.Error(t, err)

	assert.Equal(t, domain.RunFailedCritical, res.Variant)
	assert.True(t, domain.IsKind(err, domain.KindNetwork))
	assert.Contains(t, err.Error(), "all 2 index pages failed")
}

func TestEnginePartialPageFailureSucceeds(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		indexes: map[int]fakePage{
			1: {err: domain.Classifyf(domain.KindTransientHTTP, "status 503")},
			2: {body: indexHTML(freshSubbed.html())},
		},
		details: map[string]fakePage{"/v/fresh1": {body: subbedDetail("ABC-123")}},
	}
	eng, _ := newTestEngine(t, fetcher)
	opts := crawlOptions(t, domain.Phase1)
	opts.EndPage = 2

	res, err := eng.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, domain.RunSuccess, res.Variant)
	assert.Equal(t, 1, res.Stats.PagesFailed)
	assert.Equal(t, 1, res.Rows)
}

func TestEngineProxyExhaustionAborts(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		indexes: map[int]fakePage{1: {err: domain.ErrNoProxyAvailable}},
	}
	eng, _ := newTestEngine(t, fetcher)

	res, err := eng.Run(context.Background(), crawlOptions(t, domain.Phase1, domain.Phase2))
	require.Error(t, err)

	assert.Equal(t, domain.RunFailedProxyBanned, res.Variant)
	assert.ErrorIs(t, err, domain.ErrNoProxyAvailable)
	assert.Equal(t, 1, fetcher.indexCalls, "exhaustion stops the run, not just the page")
}

func TestEngineEntryFailureContinues(t *testing.T) {
	t.Parallel()

	second := indexItem{
		href: "/v/fresh2", code: "ABC-321", title: "Also fresh",
		tags: []string{"含中字磁鏈", "今日新種"},
	}
	fetcher := &fakeFetcher{
		indexes: map[int]fakePage{1: {body: indexHTML(freshSubbed.html(), second.html())}},
		details: map[string]fakePage{
			"/v/fresh1": {err: domain.Classifyf(domain.KindTransientHTTP, "status 503")},
			"/v/fresh2": {body: subbedDetail("ABC-321")},
		},
	}
	eng, _ := newTestEngine(t, fetcher)
	opts := crawlOptions(t, domain.Phase1)

	res, err := eng.Run(context.Background(), opts)
	require.NoError(t, err, "one failed entry must not doom the run")

	assert.Equal(t, domain.RunSuccess, res.Variant)
	assert.Equal(t, 1, res.Stats.EntriesFailed)
	assert.Equal(t, 1, res.Rows)
}

func TestEngineSessionExpiryAborts(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		indexes: map[int]fakePage{1: {body: indexHTML(freshSubbed.html())}},
		details: map[string]fakePage{
			"/v/fresh1": {err: domain.Classifyf(domain.KindAuth, "age gate page returned")},
		},
	}
	eng, _ := newTestEngine(t, fetcher)

	res, err := eng.Run(context.Background(), crawlOptions(t, domain.Phase1))
	require.Error(t, err)

	assert.Equal(t, domain.RunFailedCritical, res.Variant)
	assert.True(t, domain.IsKind(err, domain.KindAuth))
}

func TestEngineDryRunWritesNothing(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		indexes: map[int]fakePage{1: {body: indexHTML(freshSubbed.html())}},
		details: map[string]fakePage{"/v/fresh1": {body: subbedDetail("ABC-123")}},
	}

	dir := t.TempDir()
	storePath := filepath.Join(dir, "history.csv")
	store := history.NewStore(storePath)
	eng := New(domain.ScraperConfig{DetailWorkers: 1}, fetcher, store, nil)

	opts := crawlOptions(t, domain.Phase1)
	opts.DryRun = true
	opts.ReportPath = ""

	res, err := eng.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, domain.RunSuccess, res.Variant)
	assert.Equal(t, 1, res.Rows, "dry runs still count the rows they would write")
	assert.Empty(t, res.ReportPath)

	assert.Equal(t, 0, store.Len())
	_, statErr := os.Stat(storePath)
	assert.True(t, os.IsNotExist(statErr), "dry runs leave no history file")
}

func TestEngineRunBudgetStopsAtBoundary(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		indexes: map[int]fakePage{1: {body: indexHTML(freshSubbed.html())}},
		details: map[string]fakePage{"/v/fresh1": {body: subbedDetail("ABC-123")}},
	}

	store := history.NewStore(filepath.Join(t.TempDir(), "history.csv"))
	cfg := domain.ScraperConfig{DetailWorkers: 1, RunBudget: 30 * time.Minute}
	eng := New(cfg, fetcher, store, nil)

	// First clock read anchors the deadline; every later read is past it.
	t0 := time.Date(2026, 8, 25, 3, 0, 0, 0, time.Local)
	calls := 0
	eng.now = func() time.Time {
		calls++
		if calls == 1 {
			return t0
		}
		return t0.Add(time.Hour)
	}

	res, err := eng.Run(context.Background(), crawlOptions(t, domain.Phase1, domain.Phase2))
	require.NoError(t, err)

	assert.True(t, res.Partial)
	assert.Equal(t, 0, res.Stats.PagesAttempted, "the budget gate sits before the first page")
	assert.Equal(t, domain.RunSuccessEmpty, res.Variant)
}
