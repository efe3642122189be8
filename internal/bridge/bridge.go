// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/magnetarr/magnetarr/internal/domain"
	"github.com/magnetarr/magnetarr/internal/pkg/timeouts"
	"github.com/magnetarr/magnetarr/internal/qbittorrent"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	defaultDays         = 3
	defaultRequestDelay = 3 * time.Second
)

// TorrentSource is the slice of the torrent client the sweep needs.
type TorrentSource interface {
	ListCategories(ctx context.Context, categories []string) ([]qbt.Torrent, error)
	Delete(ctx context.Context, hashes []string, deleteFiles bool) error
}

// Options shape one sweep.
type Options struct {
	// Days overrides the configured age threshold when positive.
	Days   int
	DryRun bool
}

// Bridge moves aged torrents to deep storage: list, submit, poll, delete,
// record. A torrent leaves the client only after the service confirmed it.
type Bridge struct {
	source  TorrentSource
	storage Storage
	logbook *TransferLog
	cfg     domain.DeepStorageConfig
	qbCfg   domain.QBittorrentConfig

	now func() time.Time
}

func New(source TorrentSource, storage Storage, logbook *TransferLog, cfg domain.DeepStorageConfig, qbCfg domain.QBittorrentConfig) *Bridge {
	return &Bridge{
		source:  source,
		storage: storage,
		logbook: logbook,
		cfg:     cfg,
		qbCfg:   qbCfg,
		now:     time.Now,
	}
}

// Run executes one sweep. Per-torrent submit failures are recorded and
// non-fatal; errors reaching either service abort the sweep.
//
// The returned stats are valid even when err is non-nil.
func (b *Bridge) Run(ctx context.Context, opts Options) (*domain.BridgeStats, error) {
	stats := &domain.BridgeStats{}

	days := opts.Days
	if days <= 0 {
		days = b.cfg.Days
	}
	if days <= 0 {
		days = defaultDays
	}

	torrents, err := b.source.ListCategories(ctx, b.qbCfg.Categories())
	if err != nil {
		return stats, err
	}

	cutoff := b.cutoff(days)
	eligible := filterEligible(torrents, cutoff)
	stats.Eligible = len(eligible)

	log.Info().
		Int("listed", len(torrents)).
		Int("eligible", len(eligible)).
		Int("days", days).
		Time("cutoff", cutoff).
		Msg("deep storage sweep scoped")

	if len(eligible) == 0 {
		return stats, nil
	}

	if opts.DryRun {
		for _, t := range eligible {
			log.Info().
				Str("name", t.Name).
				Str("category", t.Category).
				Time("addedOn", time.Unix(t.AddedOn, 0)).
				Msg("dry-run: would submit to deep storage")
		}
		return stats, nil
	}

	if err := b.storage.Login(ctx); err != nil {
		return stats, err
	}

	magnets := make([]string, len(eligible))
	for i, t := range eligible {
		magnets[i] = t.MagnetURI
	}

	states, err := b.submit(ctx, magnets)
	if err != nil {
		return stats, err
	}

	for i := range eligible {
		b.settle(ctx, &eligible[i], states[magnets[i]], stats)
	}

	log.Info().
		Int("eligible", stats.Eligible).
		Int("submitted", stats.Submitted).
		Int("deleted", stats.Deleted).
		Int("failed", stats.Failed).
		Str("history", b.logbook.Path()).
		Msg("deep storage sweep finished")

	return stats, nil
}

// cutoff is day-granular: a torrent added any time on the cutoff date is
// still eligible.
func (b *Bridge) cutoff(days int) time.Time {
	day := b.now().AddDate(0, 0, -days)
	return time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, 0, day.Location())
}

func filterEligible(torrents []qbt.Torrent, cutoff time.Time) []qbt.Torrent {
	var eligible []qbt.Torrent
	for _, t := range torrents {
		if !qbittorrent.AddedBefore(t, cutoff) {
			continue
		}
		if strings.TrimSpace(t.MagnetURI) == "" {
			log.Warn().Str("name", t.Name).Str("hash", t.Hash).Msg("torrent has no magnet URI, skipping sweep")
			continue
		}
		eligible = append(eligible, t)
	}
	return eligible
}

// submit sends the whole batch and polls until every magnet settled or
// the adaptive budget ran out. Unsettled magnets come back FAILED.
func (b *Bridge) submit(ctx context.Context, magnets []string) (map[string]MagnetResult, error) {
	delay := b.cfg.RequestDelay
	if delay <= 0 {
		delay = defaultRequestDelay
	}
	lim := rate.NewLimiter(rate.Every(delay), 1)

	subCtx, cancel := timeouts.WithSubmitTimeout(ctx, timeouts.AdaptiveSubmitTimeout(len(magnets)))
	defer cancel()

	if err := lim.Wait(subCtx); err != nil {
		return nil, domain.Classify(domain.KindNetwork, fmt.Errorf("sweep interrupted: %w", err))
	}

	batch, err := b.storage.SubmitBatch(subCtx, magnets)
	if err != nil {
		return nil, err
	}

	states := make(map[string]MagnetResult, len(magnets))
	for _, m := range magnets {
		states[m] = MagnetResult{Magnet: m, State: MagnetPending}
	}
	mergeResults(states, batch.Results)

	for countPending(states) > 0 {
		if err := lim.Wait(subCtx); err != nil {
			failPending(states, "submit still pending when the budget expired")
			break
		}

		polled, err := b.storage.Status(subCtx, batch.ID)
		if err != nil {
			log.Warn().Err(err).Str("batchID", batch.ID).Msg("status poll failed, treating pending magnets as failed")
			failPending(states, "status poll failed: "+err.Error())
			break
		}
		mergeResults(states, polled.Results)
	}

	return states, nil
}

// settle finishes one torrent: delete after a confirmed submit, record the
// outcome either way.
func (b *Bridge) settle(ctx context.Context, t *qbt.Torrent, res MagnetResult, stats *domain.BridgeStats) {
	rec := TransferRecord{
		Hash:      t.Hash,
		Name:      t.Name,
		Category:  t.Category,
		MagnetURI: t.MagnetURI,
		AddedAt:   time.Unix(t.AddedOn, 0),
	}

	if res.State != MagnetOK {
		stats.Failed++
		rec.Status = TransferFailed
		rec.Error = res.Error
		if rec.Error == "" {
			rec.Error = "submit failed"
		}
		log.Warn().Str("name", t.Name).Str("error", rec.Error).Msg("deep storage submit failed, torrent kept")
		b.record(rec)
		return
	}

	stats.Submitted++
	rec.UploadedAt = b.now()

	if err := b.source.Delete(ctx, []string{t.Hash}, true); err != nil {
		stats.Failed++
		rec.Status = TransferFailedButDeleted
		rec.Error = err.Error()
		log.Error().Err(err).Str("name", t.Name).Msg("delete after successful submit failed")
		b.record(rec)
		return
	}

	stats.Deleted++
	rec.Status = TransferSuccess
	rec.DeletedAt = b.now()
	log.Info().Str("name", t.Name).Str("category", t.Category).Msg("torrent moved to deep storage")
	b.record(rec)
}

func (b *Bridge) record(rec TransferRecord) {
	if err := b.logbook.Append(rec); err != nil {
		log.Error().Err(err).Str("hash", rec.Hash).Msg("bridge history append failed")
	}
}

func mergeResults(states map[string]MagnetResult, results []MagnetResult) {
	for _, res := range results {
		if _, ok := states[res.Magnet]; !ok {
			continue
		}
		states[res.Magnet] = res
	}
}

func countPending(states map[string]MagnetResult) int {
	pending := 0
	for _, res := range states {
		if res.State == MagnetPending {
			pending++
		}
	}
	return pending
}

func failPending(states map[string]MagnetResult, reason string) {
	for magnet, res := range states {
		if res.State != MagnetPending {
			continue
		}
		res.State = MagnetFailed
		res.Error = reason
		states[magnet] = res
	}
}
