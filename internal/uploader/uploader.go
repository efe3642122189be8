// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package uploader pushes the magnets a crawl selected into the torrent
// client and commits each success to the parse history and the report.
package uploader

import (
	"context"
	"fmt"
	"time"

	"github.com/magnetarr/magnetarr/internal/domain"
	"github.com/magnetarr/magnetarr/internal/history"
	"github.com/magnetarr/magnetarr/internal/qbittorrent"
	"github.com/magnetarr/magnetarr/internal/report"
	"github.com/magnetarr/magnetarr/pkg/hashutil"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Client is the slice of the torrent client the uploader needs.
type Client interface {
	Login(ctx context.Context) error
	RefreshHashIndex(ctx context.Context) error
	LookupDuplicate(infohash string) (name string, ok bool)
	AddMagnet(ctx context.Context, magnetURI string, opts qbittorrent.AddOptions) error
}

type Uploader struct {
	client Client
	store  *history.Store
	cfg    domain.QBittorrentConfig

	now func() time.Time
}

func New(client Client, store *history.Store, cfg domain.QBittorrentConfig) *Uploader {
	return &Uploader{
		client: client,
		store:  store,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Run consumes one report: every unmarked magnet cell is either re-marked
// from history, suppressed as a duplicate already in the client, or added.
// The report is rewritten atomically afterwards, also when the run aborts
// partway, so completed adds stay marked.
//
// The returned stats are valid even when err is non-nil.
func (u *Uploader) Run(ctx context.Context, reportPath string, mode domain.RunMode) (*domain.UploadStats, error) {
	stats := &domain.UploadStats{}

	rows, err := report.ReadFile(reportPath)
	if err != nil {
		return stats, err
	}
	stats.Rows = len(rows)

	pending := 0
	for i := range rows {
		if rows[i].HasNewMagnet() {
			pending++
		}
	}
	if pending == 0 {
		log.Info().Str("report", reportPath).Int("rows", len(rows)).Msg("no new magnets to upload")
		return stats, nil
	}

	if err := u.client.Login(ctx); err != nil {
		return stats, err
	}
	if err := u.client.RefreshHashIndex(ctx); err != nil {
		return stats, err
	}

	lim := rate.NewLimiter(rate.Inf, 1)
	if u.cfg.InterAddDelay > 0 {
		lim = rate.NewLimiter(rate.Every(u.cfg.InterAddDelay), 1)
	}

	category := u.cfg.Category(mode)
	runErr := u.process(ctx, rows, category, lim, stats)

	if werr := report.WriteFile(reportPath, rows); werr != nil {
		if runErr == nil {
			runErr = werr
		} else {
			log.Error().Err(werr).Str("report", reportPath).Msg("report rewrite failed after aborted upload")
		}
	}

	if runErr == nil && stats.Attempted > 0 && stats.Added == 0 {
		runErr = domain.Classifyf(domain.KindLogicGuard,
			"all %d torrent adds failed", stats.Attempted)
	}

	log.Info().
		Int("rows", stats.Rows).
		Int("attempted", stats.Attempted).
		Int("added", stats.Added).
		Int("duplicates", stats.Duplicates).
		Int("rejected", stats.Rejected).
		Int("marked", stats.Marked).
		Str("category", category).
		Msg("upload pass finished")

	return stats, runErr
}

// process walks every unmarked cell in place. It stops early only on
// errors that poison the whole run (auth, transport, cancellation).
func (u *Uploader) process(ctx context.Context, rows []report.Row, category string, lim *rate.Limiter, stats *domain.UploadStats) error {
	for i := range rows {
		row := &rows[i]

		for _, t := range domain.TorrentTypes {
			cell := row.Magnet(t)
			if cell == "" || report.Marked(cell) {
				continue
			}

			if u.store.IsDownloaded(row.Href, t) {
				row.MarkDownloaded(t)
				stats.Marked++
				continue
			}

			if name, ok := u.client.LookupDuplicate(hashutil.FromMagnet(cell)); ok {
				log.Debug().
					Str("videoCode", row.VideoCode).
					Str("type", string(t)).
					Str("existing", name).
					Msg("infohash already in client, skipping add")
				if err := u.commit(row, t); err != nil {
					return err
				}
				stats.Duplicates++
				continue
			}

			if err := lim.Wait(ctx); err != nil {
				return domain.Classify(domain.KindNetwork, fmt.Errorf("upload interrupted: %w", err))
			}

			stats.Attempted++
			err := u.client.AddMagnet(ctx, cell, qbittorrent.AddOptions{
				Category:     category,
				SavePath:     u.cfg.SavePath,
				AutoStart:    u.cfg.AutoStart,
				SkipChecking: u.cfg.SkipChecking,
				Rename:       qbittorrent.DisplayName(row.VideoCode, t),
				Tag:          qbittorrent.TagFor(t),
			})
			if err != nil {
				if rejected(err) {
					stats.Rejected++
					log.Warn().Err(err).
						Str("videoCode", row.VideoCode).
						Str("type", string(t)).
						Msg("torrent client rejected add")
					continue
				}
				return err
			}

			if err := u.commit(row, t); err != nil {
				return err
			}
			stats.Added++
			log.Info().
				Str("videoCode", row.VideoCode).
				Str("type", string(t)).
				Str("category", category).
				Msg("torrent added")
		}
	}

	return nil
}

// commit records the download in history first, then marks the report
// cell. History is the durable side; the cell is a convenience marker.
func (u *Uploader) commit(row *report.Row, t domain.TorrentType) error {
	phase := domain.Phase1
	if rec, ok := u.store.Lookup(row.Href); ok && rec.Phase.IsValid() {
		phase = rec.Phase
	}

	if err := u.store.MarkDownloaded(row.Href, row.VideoCode, phase, t, u.now()); err != nil {
		return err
	}
	row.MarkDownloaded(t)
	return nil
}

// rejected separates per-torrent refusals from errors that poison the
// rest of the run.
func rejected(err error) bool {
	return domain.IsKind(err, domain.KindParse)
}
