// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package fetch

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"

	"github.com/magnetarr/magnetarr/internal/domain"
)

// Response fingerprints. The site serves challenge and age-gate pages with
// status 200, so bodies have to be inspected, not just status codes.
const (
	// Bodies shorter than this are not plausible catalog pages.
	defaultMinPageBytes = 10000

	// The bypass front-end reports solver failures as a tiny page
	// containing "fail".
	bypassFailureMaxBytes = 1000
)

var (
	challengeMarkerTitle  = []byte("Security Verification")
	challengeMarkerWidget = []byte("turnstile")
	ageGateMarker         = []byte("over18-modal")
	bypassFailureMarker   = []byte("fail")

	ageGateLinkRe = regexp.MustCompile(`href="(/over18[^"]*)"`)
)

// errAgeGate is an internal signal, never returned to callers: the page is
// the age-confirmation interstitial and the client should confirm and
// refetch.
var errAgeGate = errors.New("age gate interstitial")

type classifyInput struct {
	bypassed  bool
	cacheBust bool
	minBytes  int
}

// classifyResponse is the single decision point mapping a completed HTTP
// exchange onto the failure taxonomy. A nil return means the body is a
// plausible catalog page.
func classifyResponse(statusCode int, body []byte, in classifyInput) error {
	switch {
	case statusCode == 401:
		return domain.Classifyf(domain.KindAuth, "http 401 unauthorized")
	case statusCode == 403:
		return domain.Classifyf(domain.KindBan, "http 403 forbidden")
	case statusCode == 429:
		return domain.Classifyf(domain.KindTransientHTTP, "http 429 too many requests")
	case statusCode >= 500:
		return domain.Classifyf(domain.KindTransientHTTP, "http %d", statusCode)
	case statusCode >= 400:
		return domain.Classifyf(domain.KindParse, "http %d", statusCode)
	case statusCode >= 300:
		return domain.Classifyf(domain.KindTransientHTTP, "unfollowed redirect %d", statusCode)
	}

	if in.bypassed && isBypassFailure(body) {
		return domain.Classifyf(domain.KindTransientHTTP, "bypass solver reported failure")
	}

	if isChallengePage(body) {
		// One cache-busted bypass retry gets a chance to clear it; after
		// that, or without a bypass at all, the block is unclearable from
		// this route.
		if in.bypassed && !in.cacheBust {
			return domain.Classifyf(domain.KindTransientHTTP, "challenge page served, retrying with cache bust")
		}
		return domain.Classifyf(domain.KindBan, "unclearable challenge page")
	}

	if isAgeGate(body) {
		return errAgeGate
	}

	minBytes := in.minBytes
	if minBytes <= 0 {
		minBytes = defaultMinPageBytes
	}
	if len(body) < minBytes {
		return domain.Classifyf(domain.KindTransientHTTP, "implausibly short page (%d bytes)", len(body))
	}

	return nil
}

// classifyTransportError maps errors from http.Client.Do. Redirect loops
// with a live session cookie are a ban fingerprint; everything else at the
// transport level is network weather.
func classifyTransportError(err error, hasSession bool) error {
	if errors.Is(err, errRedirectLoop) {
		if hasSession {
			return domain.Classify(domain.KindBan, fmt.Errorf("login redirect loop with valid session: %w", err))
		}
		return domain.Classify(domain.KindAuth, fmt.Errorf("login redirect loop without session: %w", err))
	}
	return domain.Classify(domain.KindNetwork, err)
}

func isBypassFailure(body []byte) bool {
	return len(body) < bypassFailureMaxBytes && bytes.Contains(bytes.ToLower(body), bypassFailureMarker)
}

func isChallengePage(body []byte) bool {
	return bytes.Contains(body, challengeMarkerTitle) && bytes.Contains(bytes.ToLower(body), challengeMarkerWidget)
}

func isAgeGate(body []byte) bool {
	return bytes.Contains(body, ageGateMarker)
}

// ageGateTarget extracts the confirmation path from the interstitial.
func ageGateTarget(body []byte) string {
	m := ageGateLinkRe.FindSubmatch(body)
	if m == nil {
		return ""
	}
	return string(m[1])
}
