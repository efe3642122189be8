// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package notify fans pipeline events out to shoutrrr targets. Informational
// events ride a bounded queue; the end-of-run report is sent inline so it
// survives process exit.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/magnetarr/magnetarr/internal/buildinfo"
	"github.com/magnetarr/magnetarr/internal/domain"
	"github.com/magnetarr/magnetarr/pkg/masking"

	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/rs/zerolog/log"
)

const (
	defaultQueueSize = 100
	defaultWorkers   = 2
)

type Notifier interface {
	Notify(event Event)
}

type Event struct {
	Type   EventType
	Status *domain.RunStatus
	Ban    domain.BanRecord
}

type Service struct {
	urls      []string
	allowed   map[EventType]struct{}
	queue     chan Event
	startOnce sync.Once
	pending   sync.WaitGroup
}

// New builds a service from the notifications config. A config without URLs
// yields a nil service; every method tolerates that.
func New(cfg domain.NotificationsConfig) (*Service, error) {
	if len(cfg.URLs) == 0 {
		return nil, nil
	}

	normalized, err := NormalizeEventTypes(cfg.Events)
	if err != nil {
		return nil, err
	}

	for _, rawURL := range cfg.URLs {
		if err := ValidateURL(rawURL); err != nil {
			return nil, fmt.Errorf("notification url %s: %w", masking.ProxyURL(rawURL), err)
		}
	}

	var allowed map[EventType]struct{}
	if len(normalized) > 0 {
		allowed = make(map[EventType]struct{}, len(normalized))
		for _, value := range normalized {
			allowed[EventType(value)] = struct{}{}
		}
	}

	return &Service{
		urls:    append([]string(nil), cfg.URLs...),
		allowed: allowed,
		queue:   make(chan Event, defaultQueueSize),
	}, nil
}

func ValidateURL(rawURL string) error {
	_, err := router.New(nil, rawURL)
	return err
}

func (s *Service) Start(ctx context.Context) {
	if s == nil {
		return
	}

	s.startOnce.Do(func() {
		for range defaultWorkers {
			go s.worker(ctx)
		}
	})
}

func (s *Service) Notify(event Event) {
	if s == nil || len(s.urls) == 0 {
		return
	}
	if !s.allows(event.Type) {
		return
	}

	s.pending.Add(1)

	if s.queue == nil {
		go func() {
			defer s.pending.Done()
			s.dispatch(context.Background(), event)
		}()
		return
	}

	select {
	case s.queue <- event:
	default:
		s.pending.Done()
		log.Warn().Str("event", string(event.Type)).Msg("notifications: queue full, dropping event")
	}
}

// Drain blocks until queued events are dispatched or ctx expires. Batch
// runs call it before exiting so queued deliveries are not cut off.
func (s *Service) Drain(ctx context.Context) {
	if s == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

// SendRunReport delivers the end-of-run summary inline. Queued delivery
// could still be in flight when the process exits, so the report never
// rides the queue.
func (s *Service) SendRunReport(ctx context.Context, status *domain.RunStatus) error {
	if s == nil || len(s.urls) == 0 {
		return nil
	}
	if !s.allows(EventRunReport) {
		return nil
	}

	title, message := s.formatEvent(Event{Type: EventRunReport, Status: status})
	if strings.TrimSpace(message) == "" {
		return nil
	}

	return s.broadcast(ctx, title, message)
}

// SendTest pushes a delivery check to every configured target, bypassing
// the event filter.
func (s *Service) SendTest(ctx context.Context) error {
	if s == nil || len(s.urls) == 0 {
		return errors.New("no notification urls configured")
	}

	title, message := s.formatEvent(Event{Type: EventTest})

	return s.broadcast(ctx, title, message)
}

func (s *Service) allows(t EventType) bool {
	if s.allowed == nil {
		return true
	}
	_, ok := s.allowed[t]
	return ok
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-s.queue:
			s.dispatch(ctx, event)
			s.pending.Done()
		}
	}
}

func (s *Service) dispatch(ctx context.Context, event Event) {
	if s == nil || len(s.urls) == 0 {
		return
	}

	title, message := s.formatEvent(event)
	if strings.TrimSpace(message) == "" {
		return
	}

	for _, rawURL := range s.urls {
		if err := s.send(ctx, rawURL, title, message); err != nil {
			log.Error().Err(err).
				Str("event", string(event.Type)).
				Str("target", masking.ProxyURL(rawURL)).
				Msg("notifications: send failed")
		}
	}
}

func (s *Service) broadcast(ctx context.Context, title, message string) error {
	var errs []error
	for _, rawURL := range s.urls {
		if err := s.send(ctx, rawURL, title, message); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", masking.ProxyURL(rawURL), err))
		}
	}

	return errors.Join(errs...)
}

func (s *Service) send(_ context.Context, rawURL, title, message string) error {
	sender, err := router.New(nil, rawURL)
	if err != nil {
		return err
	}

	params := types.Params{}
	if trimmed := strings.TrimSpace(title); trimmed != "" {
		params.SetTitle(truncateMessage(trimmed, maxTitleLength))
	}

	trimmedMessage := truncateMessage(message, maxMessageLength)
	results := sender.Send(trimmedMessage, &params)
	var errs []error
	for _, sendErr := range results {
		if sendErr != nil {
			errs = append(errs, sendErr)
		}
	}
	if len(errs) == 0 {
		return nil
	}

	return errors.Join(errs...)
}

func (s *Service) formatEvent(event Event) (string, string) {
	switch event.Type {
	case EventRunReport:
		return formatRunReport(event.Status)
	case EventBanRecorded:
		return formatBanRecorded(event.Ban)
	case EventTest:
		return labelFor(EventTest), buildMessage([]string{
			"Delivery check from magnetarr.",
			formatLine("Version", buildinfo.Version),
		})
	default:
		return labelFor(event.Type), ""
	}
}

func formatRunReport(status *domain.RunStatus) (string, string) {
	if status == nil {
		return labelFor(EventRunReport), ""
	}

	mark := "✗"
	if status.Variant.Succeeded() {
		mark = "✓"
	}
	stamp := status.FinishedAt
	if stamp.IsZero() {
		stamp = time.Now()
	}
	title := fmt.Sprintf("%s %s - Catalog Pipeline Report %s", mark, status.Variant, stamp.Format("20060102"))

	lines := []string{
		formatLine("Mode", string(status.Mode)),
		formatLine("Outcome", string(status.Variant)),
		formatLine("Report", status.ReportPath),
		formatLine("Duration", formatDuration(status.StartedAt, status.FinishedAt)),
	}
	lines = append(lines, scrapeLines(status.Scrape)...)
	lines = append(lines, uploadLines(status.Upload)...)
	lines = append(lines, bridgeLines(status.Bridge)...)
	lines = append(lines, banLines(status.BansRecorded)...)
	lines = append(lines, criticalLines(status.CriticalEvents)...)

	return title, buildMessage(lines)
}

func formatBanRecorded(ban domain.BanRecord) (string, string) {
	lines := []string{
		formatLine("Proxy", ban.ProxyName),
		formatLine("Host", masking.HostPort(ban.ProxyHost)),
		formatLine("Reason", ban.Reason),
		formatLine("Description", ban.Description),
	}
	if !ban.ExpiresAt.IsZero() {
		lines = append(lines, formatLine("Expires", ban.ExpiresAt.Format("2006-01-02 15:04:05")))
	}

	return labelFor(EventBanRecorded), buildMessage(lines)
}

func scrapeLines(s *domain.ScrapeStats) []string {
	if s == nil {
		return nil
	}

	lines := []string{
		formatLine("Pages", fmt.Sprintf("%d attempted, %d failed", s.PagesAttempted, s.PagesFailed)),
		phaseLine(domain.Phase1, s.Phases[domain.Phase1]),
		phaseLine(domain.Phase2, s.Phases[domain.Phase2]),
		formatLine("Entries", fmt.Sprintf("%d selected, %d detailed, %d failed", s.EntriesSelected, s.EntriesDetailed, s.EntriesFailed)),
	}
	if s.BanEvents > 0 {
		lines = append(lines, formatLine("Ban events", strconv.Itoa(s.BanEvents)))
	}

	return lines
}

func phaseLine(p domain.Phase, s *domain.PhaseStats) string {
	if s == nil {
		return ""
	}

	return formatLine(fmt.Sprintf("Phase %d", p),
		fmt.Sprintf("%d discovered, %d processed, %d history, %d session, %d failed",
			s.Discovered, s.Processed, s.SkippedHistory, s.SkippedSession, s.Failed))
}

func uploadLines(u *domain.UploadStats) []string {
	if u == nil {
		return nil
	}

	return []string{
		formatLine("Upload rows", strconv.Itoa(u.Rows)),
		formatLine("Added", fmt.Sprintf("%d of %d attempted", u.Added, u.Attempted)),
		formatLine("Duplicates", strconv.Itoa(u.Duplicates)),
		formatLine("Rejected", strconv.Itoa(u.Rejected)),
		formatLine("Re-marked", strconv.Itoa(u.Marked)),
	}
}

func bridgeLines(b *domain.BridgeStats) []string {
	if b == nil {
		return nil
	}

	return []string{
		formatLine("Storage eligible", strconv.Itoa(b.Eligible)),
		formatLine("Storage moved", fmt.Sprintf("%d submitted, %d deleted, %d failed", b.Submitted, b.Deleted, b.Failed)),
	}
}

func banLines(bans []domain.BanRecord) []string {
	if len(bans) == 0 {
		return nil
	}

	lines := make([]string, 0, len(bans)+1)
	lines = append(lines, formatLine("Proxy bans", strconv.Itoa(len(bans))))
	for _, ban := range bans {
		lines = append(lines, banLine(ban))
	}

	return lines
}

func banLine(ban domain.BanRecord) string {
	name := strings.TrimSpace(ban.ProxyName)
	if name == "" {
		name = "proxy"
	}
	reason := strings.TrimSpace(ban.Description)
	if reason == "" {
		reason = strings.TrimSpace(ban.Reason)
	}
	if reason == "" {
		reason = "banned"
	}

	return fmt.Sprintf("%s (%s): %s", name, masking.HostPort(ban.ProxyHost), reason)
}

func criticalLines(events []string) []string {
	if len(events) == 0 {
		return nil
	}

	lines := make([]string, 0, len(events)+1)
	lines = append(lines, formatLine("Critical", strconv.Itoa(len(events))))
	for i, msg := range events {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, strings.TrimSpace(msg)))
	}

	return lines
}

func formatDuration(start, finish time.Time) string {
	if start.IsZero() || finish.IsZero() || finish.Before(start) {
		return ""
	}

	return finish.Sub(start).Round(time.Second).String()
}

func formatLine(label, value string) string {
	trimmedLabel := strings.TrimSpace(label)
	trimmedValue := strings.TrimSpace(value)
	if trimmedLabel == "" || trimmedValue == "" {
		return ""
	}
	return fmt.Sprintf("%s: %s", trimmedLabel, trimmedValue)
}

func buildMessage(lines []string) string {
	payload := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			payload = append(payload, trimmed)
		}
	}
	return strings.Join(payload, "\n")
}

const (
	// Run reports carry a line per stage metric, so the cap sits well above
	// what a one-line push alert needs.
	maxMessageLength = 2000
	maxTitleLength   = 80
)

func truncateMessage(value string, limit int) string {
	if limit <= 0 {
		return value
	}
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if utf8.RuneCountInString(trimmed) <= limit {
		return trimmed
	}
	runes := []rune(trimmed)
	if limit <= 1 {
		return string(runes[:limit])
	}
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}
