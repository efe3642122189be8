// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package proxy manages the upstream proxy pool: round-robin assignment,
// failure accounting, cooldown benching and the persistent ban ledger.
package proxy

import (
	"sync"
	"time"

	"github.com/magnetarr/magnetarr/internal/domain"
	"github.com/magnetarr/magnetarr/pkg/masking"

	"github.com/rs/zerolog/log"
)

type entry struct {
	cfg                 domain.ProxyEntry
	consecutiveFailures int
	totalRequests       int
	totalSuccesses      int
	lastSuccess         time.Time
	lastFailure         time.Time
	bannedUntil         time.Time
}

func (e *entry) availableAt(now time.Time) bool {
	return e.bannedUntil.IsZero() || !now.Before(e.bannedUntil)
}

// Status is one entry's operator-facing snapshot.
type Status struct {
	Name                string
	Host                string
	Available           bool
	BannedUntil         time.Time
	ConsecutiveFailures int
	TotalRequests       int
	TotalSuccesses      int
	SuccessRate         float64
	LastSuccess         time.Time
	LastFailure         time.Time
}

// Pool hands out proxies round-robin, benches entries after repeated
// failures or an explicit ban signal, and revives them when the cooldown
// lapses. All methods are safe for concurrent use.
type Pool struct {
	mu          sync.Mutex
	entries     []*entry
	cursor      int
	maxFailures int
	cooldown    time.Duration
	modules     []string
	ledger      *Ledger
	now         func() time.Time

	bansThisRun []domain.BanRecord
}

// NewPool builds the pool from config and benches entries with active rows
// in the ledger. Single mode keeps only the first configured entry.
func NewPool(cfg domain.ProxyConfig, ledger *Ledger) (*Pool, error) {
	p := &Pool{
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown(),
		modules:     cfg.Modules,
		ledger:      ledger,
		now:         time.Now,
	}

	configured := cfg.Pool
	if cfg.Mode != "pool" && len(configured) > 1 {
		configured = configured[:1]
	}
	for _, pe := range configured {
		p.entries = append(p.entries, &entry{cfg: pe})
	}

	if ledger != nil && len(p.entries) > 0 {
		active, err := ledger.Active(p.now())
		if err != nil {
			return nil, err
		}
		for _, rec := range active {
			for _, e := range p.entries {
				if e.cfg.Name == rec.ProxyName && rec.ExpiresAt.After(e.bannedUntil) {
					e.bannedUntil = rec.ExpiresAt
				}
			}
		}
		if n := len(active); n > 0 {
			log.Info().Int("activeBans", n).Msg("loaded ban ledger")
		}
	}

	return p, nil
}

// Enabled reports whether any proxies are configured at all.
func (p *Pool) Enabled() bool {
	return len(p.entries) > 0
}

// Select assigns a proxy for the given subsystem tag. The bool is false
// when the caller should dial direct (module not proxied, or no proxies
// configured). When every entry is benched it returns ErrNoProxyAvailable.
func (p *Pool) Select(module string) (domain.ProxyEntry, bool, error) {
	if len(p.entries) == 0 || !p.allows(module) {
		return domain.ProxyEntry{}, false, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.reviveExpiredLocked(now)

	for i := range p.entries {
		idx := (p.cursor + i) % len(p.entries)
		e := p.entries[idx]
		if e.availableAt(now) {
			p.cursor = idx + 1
			return e.cfg, true, nil
		}
	}

	return domain.ProxyEntry{}, false, domain.ErrNoProxyAvailable
}

// ReportSuccess clears the failure streak for the named proxy.
func (p *Pool) ReportSuccess(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.findLocked(name)
	if e == nil {
		return
	}

	e.totalRequests++
	e.totalSuccesses++
	e.consecutiveFailures = 0
	e.lastSuccess = p.now()
}

// ReportFailure records a failure and benches the proxy when the failure
// kind is an outright ban or the streak reaches the limit. Returns true
// when this call benched the proxy.
func (p *Pool) ReportFailure(name string, kind domain.ErrorKind, description string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.findLocked(name)
	if e == nil {
		return false
	}

	now := p.now()
	e.totalRequests++
	e.consecutiveFailures++
	e.lastFailure = now

	if !e.availableAt(now) {
		// Already benched; further reports are idempotent.
		return false
	}

	reason := ""
	switch {
	case kind == domain.KindBan:
		reason = "ban_detected"
	case e.consecutiveFailures >= p.maxFailures:
		reason = "max_failures"
	default:
		log.Debug().
			Str("proxy", name).
			Str("kind", string(kind)).
			Int("consecutiveFailures", e.consecutiveFailures).
			Msg("proxy failure recorded")
		return false
	}

	e.bannedUntil = now.Add(p.cooldown)

	rec := domain.BanRecord{
		ProxyName:   e.cfg.Name,
		ProxyHost:   e.cfg.Host(),
		BannedAt:    now,
		ExpiresAt:   e.bannedUntil,
		Reason:      reason,
		Description: description,
	}
	p.bansThisRun = append(p.bansThisRun, rec)

	log.Error().
		Str("proxy", name).
		Str("host", masking.HostPort(e.cfg.Host())).
		Str("reason", reason).
		Time("until", e.bannedUntil).
		Msg("proxy benched")

	if p.ledger != nil {
		if err := p.ledger.Append(rec); err != nil {
			log.Error().Err(err).Str("proxy", name).Msg("failed to persist ban record")
		}
	}

	return true
}

// Snapshot returns per-entry stats in configured order.
func (p *Pool) Snapshot() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	out := make([]Status, 0, len(p.entries))
	for _, e := range p.entries {
		s := Status{
			Name:                e.cfg.Name,
			Host:                e.cfg.Host(),
			Available:           e.availableAt(now),
			ConsecutiveFailures: e.consecutiveFailures,
			TotalRequests:       e.totalRequests,
			TotalSuccesses:      e.totalSuccesses,
			LastSuccess:         e.lastSuccess,
			LastFailure:         e.lastFailure,
		}
		if !s.Available {
			s.BannedUntil = e.bannedUntil
		}
		if e.totalRequests > 0 {
			s.SuccessRate = float64(e.totalSuccesses) / float64(e.totalRequests)
		}
		out = append(out, s)
	}
	return out
}

// BansThisRun returns the ledger delta since the pool was built.
func (p *Pool) BansThisRun() []domain.BanRecord {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.BanRecord, len(p.bansThisRun))
	copy(out, p.bansThisRun)
	return out
}

func (p *Pool) allows(module string) bool {
	for _, m := range p.modules {
		if m == domain.ModuleAll || m == module {
			return true
		}
	}
	return false
}

func (p *Pool) reviveExpiredLocked(now time.Time) {
	for _, e := range p.entries {
		if !e.bannedUntil.IsZero() && !now.Before(e.bannedUntil) {
			log.Info().Str("proxy", e.cfg.Name).Msg("proxy cooldown expired, reviving")
			e.bannedUntil = time.Time{}
			e.consecutiveFailures = 0
		}
	}
}

func (p *Pool) findLocked(name string) *entry {
	for _, e := range p.entries {
		if e.cfg.Name == name {
			return e
		}
	}
	return nil
}
