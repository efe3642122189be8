// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package scraper drives the two-phase catalog crawl: paginated index
// fetching, entry filtering, history-directed detail fetching through a
// bounded worker pool, magnet classification and report emission.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/magnetarr/magnetarr/internal/domain"
	"github.com/magnetarr/magnetarr/internal/fetch"
	"github.com/magnetarr/magnetarr/internal/history"
	"github.com/magnetarr/magnetarr/internal/magnet"
	"github.com/magnetarr/magnetarr/internal/proxy"
	"github.com/magnetarr/magnetarr/internal/report"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// maxConsecutivePageFailures stops an all-pages crawl that would otherwise
// spin forever against a dead site. Bounded ranges just run out.
const maxConsecutivePageFailures = 3

// Fetcher is the slice of the HTTP client the engine needs.
type Fetcher interface {
	FetchIndex(ctx context.Context, url string) (*fetch.Page, error)
	FetchDetail(ctx context.Context, url string) (*fetch.Page, error)
}

// Options is the per-run crawl shape, resolved from config and CLI flags
// by the caller.
type Options struct {
	Mode              domain.RunMode
	BaseURL           string
	StartPage         int
	EndPage           int
	AllPages          bool
	Phases            []domain.Phase
	IgnoreHistory     bool
	IgnoreReleaseDate bool
	DryRun            bool
	ReportPath        string
}

// Result is what a crawl hands to the orchestrator.
type Result struct {
	Variant    domain.RunStatusVariant
	Stats      *domain.ScrapeStats
	ReportPath string
	Rows       int

	// Partial marks a run stopped at a page boundary by the wall-clock
	// budget; the report holds everything processed up to that point.
	Partial bool
}

// Engine runs crawls. One engine per process; Run may be called once per
// mode in a pipeline run.
type Engine struct {
	cfg     domain.ScraperConfig
	fetcher Fetcher
	store   *history.Store
	pool    *proxy.Pool

	entryLim *rate.Limiter

	now func() time.Time
}

func New(cfg domain.ScraperConfig, fetcher Fetcher, store *history.Store, pool *proxy.Pool) *Engine {
	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.EntrySleep > 0 {
		lim = rate.NewLimiter(rate.Every(cfg.EntrySleep), 1)
	}
	return &Engine{
		cfg:      cfg,
		fetcher:  fetcher,
		store:    store,
		pool:     pool,
		entryLim: lim,
		now:      time.Now,
	}
}

// Run executes the crawl and classifies its outcome. The returned Result is
// always populated; err carries the cause for failed variants.
func (e *Engine) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.StartPage < 1 {
		opts.StartPage = 1
	}
	if len(opts.Phases) == 0 {
		opts.Phases = []domain.Phase{domain.Phase1, domain.Phase2}
	}
	if !opts.AllPages && opts.EndPage < opts.StartPage {
		opts.EndPage = opts.StartPage
	}

	var deadline time.Time
	if e.cfg.RunBudget > 0 {
		deadline = e.now().Add(e.cfg.RunBudget)
	}

	res := &Result{Stats: domain.NewScrapeStats()}
	writer := report.NewWriter(opts.ReportPath)
	defer writer.Close()

	run := &runState{
		opts:     opts,
		stats:    res.Stats,
		writer:   writer,
		seen:     make(map[string]struct{}),
		deadline: deadline,
	}

	log.Info().
		Str("mode", string(opts.Mode)).
		Str("url", opts.BaseURL).
		Int("startPage", opts.StartPage).
		Int("endPage", opts.EndPage).
		Bool("allPages", opts.AllPages).
		Bool("dryRun", opts.DryRun).
		Msg("starting crawl")

	var runErr error
	for _, phase := range opts.Phases {
		if run.budgetExpired(e.now()) {
			res.Partial = true
			break
		}
		if err := e.runPhase(ctx, run, phase); err != nil {
			if errors.Is(err, errBudgetExpired) {
				res.Partial = true
				break
			}
			runErr = err
			break
		}
	}

	if e.pool != nil {
		res.Stats.BanEvents = len(e.pool.BansThisRun())
	}

	if err := writer.Close(); err != nil && runErr == nil {
		runErr = err
	}

	res.Rows = run.rows
	if run.rows > 0 && !opts.DryRun {
		res.ReportPath = writer.Path()
	}
	res.Variant, runErr = e.classify(res, runErr)

	log.Info().
		Str("status", string(res.Variant)).
		Int("rows", res.Rows).
		Int("pagesAttempted", res.Stats.PagesAttempted).
		Int("pagesFailed", res.Stats.PagesFailed).
		Int("entriesSelected", res.Stats.EntriesSelected).
		Int("entriesDetailed", res.Stats.EntriesDetailed).
		Int("entriesFailed", res.Stats.EntriesFailed).
		Int("banEvents", res.Stats.BanEvents).
		Bool("partial", res.Partial).
		Msg("crawl finished")

	return res, runErr
}

// classify maps the run accounting onto an outcome variant.
func (e *Engine) classify(res *Result, runErr error) (domain.RunStatusVariant, error) {
	stats := res.Stats

	if runErr != nil {
		if errors.Is(runErr, domain.ErrNoProxyAvailable) {
			return domain.RunFailedProxyBanned, runErr
		}
		return domain.RunFailedCritical, runErr
	}

	if stats.PagesAttempted > 0 && stats.PagesFailed == stats.PagesAttempted {
		return domain.RunFailedCritical,
			domain.Classifyf(domain.KindNetwork, "all %d index pages failed", stats.PagesAttempted)
	}

	if res.Rows == 0 {
		return domain.RunSuccessEmpty, nil
	}
	return domain.RunSuccess, nil
}

var errBudgetExpired = errors.New("run budget expired")

type runState struct {
	opts     Options
	stats    *domain.ScrapeStats
	writer   *report.Writer
	seen     map[string]struct{}
	deadline time.Time
	rows     int
}

func (r *runState) budgetExpired(now time.Time) bool {
	return !r.deadline.IsZero() && now.After(r.deadline)
}

func (e *Engine) runPhase(ctx context.Context, run *runState, phase domain.Phase) error {
	opts := run.opts
	ps := run.stats.Phase(phase)

	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return domain.Classify(domain.KindLogicGuard, fmt.Errorf("parse base url %q: %w", opts.BaseURL, err))
	}

	log.Info().Int("phase", int(phase)).Msg("phase starting")

	consecutiveFailures := 0
	for page := opts.StartPage; opts.AllPages || page <= opts.EndPage; page++ {
		if err := ctx.Err(); err != nil {
			return domain.Classify(domain.KindNetwork, err)
		}
		if run.budgetExpired(e.now()) {
			log.Warn().Int("phase", int(phase)).Int("page", page).Msg("run budget expired, stopping at page boundary")
			return errBudgetExpired
		}

		pageURL := pageURL(base, page)
		run.stats.PagesAttempted++

		pg, err := e.fetcher.FetchIndex(ctx, pageURL)
		if err != nil {
			run.stats.PagesFailed++
			consecutiveFailures++

			if errors.Is(err, domain.ErrNoProxyAvailable) || domain.IsKind(err, domain.KindAuth) {
				return err
			}
			log.Warn().Err(err).Int("phase", int(phase)).Int("page", page).Msg("index page failed")

			if opts.AllPages && consecutiveFailures >= maxConsecutivePageFailures {
				log.Error().Int("phase", int(phase)).Int("failures", consecutiveFailures).
					Msg("stopping all-pages crawl after consecutive page failures")
				return nil
			}
			continue
		}
		consecutiveFailures = 0

		entries, warnings, err := ParseIndex(pg.Body, page)
		if err != nil {
			run.stats.PagesFailed++
			log.Warn().Err(err).Int("page", page).Msg("index page unparseable")
			continue
		}
		for _, w := range warnings {
			log.Warn().Int("phase", int(phase)).Str("warning", w).Msg("index parse warning")
		}

		if len(entries) == 0 {
			if opts.AllPages {
				log.Info().Int("phase", int(phase)).Int("page", page).Msg("empty index page, ending phase")
				return nil
			}
			continue
		}

		if err := e.processPage(ctx, run, phase, ps, base, entries); err != nil {
			return err
		}
	}

	log.Info().
		Int("phase", int(phase)).
		Int("discovered", ps.Discovered).
		Int("processed", ps.Processed).
		Int("skippedSession", ps.SkippedSession).
		Int("skippedHistory", ps.SkippedHistory).
		Int("failed", ps.Failed).
		Msg("phase complete")

	return nil
}

// detailTask is one entry queued for detail fetching.
type detailTask struct {
	entry  domain.IndexEntry
	wanted []domain.TorrentType
}

type detailResult struct {
	task     detailTask
	detail   domain.MovieDetail
	selected map[domain.TorrentType]domain.Selected
	err      error
}

// processPage runs FILTER and DECIDE over a page's entries, fetches details
// through the worker pool and records rows in discovery order.
func (e *Engine) processPage(ctx context.Context, run *runState, phase domain.Phase, ps *domain.PhaseStats, base *url.URL, entries []domain.IndexEntry) error {
	opts := run.opts

	var tasks []detailTask
	for _, entry := range entries {
		if !e.admit(entry, phase, opts.IgnoreReleaseDate) {
			continue
		}
		ps.Discovered++
		run.stats.EntriesSelected++

		if _, ok := run.seen[entry.Href]; ok {
			ps.SkippedSession++
			continue
		}
		run.seen[entry.Href] = struct{}{}

		wanted := e.store.ShouldProcess(entry.Href, phase, opts.IgnoreHistory)
		if len(wanted) == 0 {
			ps.SkippedHistory++
			continue
		}

		tasks = append(tasks, detailTask{entry: entry, wanted: wanted})
	}

	if len(tasks) == 0 {
		return nil
	}

	results := make([]*detailResult, len(tasks))

	workers := e.cfg.DetailWorkers
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, task := range tasks {
		g.Go(func() error {
			res := e.fetchEntry(gctx, base, task)
			results[i] = res

			// Pool exhaustion and an expired session doom every
			// remaining entry; stop the group.
			if res.err != nil && (errors.Is(res.err, domain.ErrNoProxyAvailable) || domain.IsKind(res.err, domain.KindAuth)) {
				return res.err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, res := range results {
		if res == nil {
			continue
		}
		if res.err != nil {
			ps.Failed++
			run.stats.EntriesFailed++
			log.Warn().Err(res.err).Str("href", res.task.entry.Href).Msg("entry detail failed")
			continue
		}
		if err := e.record(run, phase, ps, res); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) fetchEntry(ctx context.Context, base *url.URL, task detailTask) *detailResult {
	res := &detailResult{task: task}

	if err := e.entryLim.Wait(ctx); err != nil {
		res.err = domain.Classify(domain.KindNetwork, err)
		return res
	}

	pg, err := e.fetcher.FetchDetail(ctx, absURL(base, task.entry.Href))
	if err != nil {
		res.err = err
		return res
	}

	detail, warnings, err := ParseDetail(pg.Body, task.entry.Href)
	if err != nil {
		res.err = err
		return res
	}
	for _, w := range warnings {
		log.Warn().Str("warning", w).Msg("detail parse warning")
	}

	res.detail = detail
	res.selected = magnet.Classify(detail.Magnets)
	return res
}

// record merges the entry into history and emits its report row. Rows
// without a single new magnet cell are not written; their entries were
// either fully known or yielded nothing.
func (e *Engine) record(run *runState, phase domain.Phase, ps *domain.PhaseStats, res *detailResult) error {
	entry := res.task.entry
	opts := run.opts

	code := res.detail.VideoCode
	if code == "" {
		code = entry.VideoCode
	}

	wanted := make(map[domain.TorrentType]struct{}, len(res.task.wanted))
	for _, t := range res.task.wanted {
		wanted[t] = struct{}{}
	}

	row := report.Row{
		Href:          entry.Href,
		VideoCode:     code,
		Page:          entry.Page,
		Actor:         res.detail.Actor,
		Rate:          formatRating(entry),
		CommentNumber: formatComments(entry),
	}

	for _, t := range domain.TorrentTypes {
		sel, ok := res.selected[t]
		if !ok {
			continue
		}
		if _, want := wanted[t]; want {
			row.SetMagnet(t, sel.Href, sel.SizeText)
		} else if e.store.IsDownloaded(entry.Href, t) {
			// Already-obtained buckets ride along pre-marked so the
			// report is self-describing.
			row.SetMagnet(t, report.Mark(sel.Href), sel.SizeText)
		}
	}

	ps.Processed++
	run.stats.EntriesDetailed++

	if opts.DryRun {
		if row.HasNewMagnet() {
			run.rows++
			log.Info().Str("href", entry.Href).Str("videoCode", code).Msg("dry run: would record entry")
		}
		return nil
	}

	// The history write lands before the row so a crash never leaves a
	// report row the store has not seen.
	if err := e.store.Merge(entry.Href, code, phase, nil, e.now()); err != nil {
		return err
	}

	if !row.HasNewMagnet() {
		return nil
	}
	if err := run.writer.Append(row); err != nil {
		return err
	}
	run.rows++

	return nil
}

// admit applies the phase's tag and quality gates to an index entry.
func (e *Engine) admit(entry domain.IndexEntry, phase domain.Phase, ignoreReleaseDate bool) bool {
	switch phase {
	case domain.Phase1:
		if !HasSubtitleTag(entry.Tags) {
			return false
		}
		return ignoreReleaseDate || HasFreshReleaseTag(entry.Tags)

	case domain.Phase2:
		if !ignoreReleaseDate && !HasFreshReleaseTag(entry.Tags) {
			return false
		}
		// Missing rating or comment count means ineligible. The rating
		// boundary is inclusive.
		if !entry.HasRating || entry.Rating < e.cfg.Phase2MinRate {
			return false
		}
		return entry.Comments >= e.cfg.Phase2MinComments
	}
	return false
}

func formatRating(entry domain.IndexEntry) string {
	if !entry.HasRating {
		return ""
	}
	return strconv.FormatFloat(entry.Rating, 'f', -1, 64)
}

func formatComments(entry domain.IndexEntry) string {
	if entry.Comments <= 0 {
		return ""
	}
	return strconv.Itoa(entry.Comments)
}

func pageURL(base *url.URL, page int) string {
	u := *base
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

func absURL(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
