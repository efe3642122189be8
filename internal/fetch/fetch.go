// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package fetch is the catalog HTTP client: browser-profile requests,
// proxy pool routing, challenge-bypass rewriting, age-gate confirmation
// and the direct → proxy → proxy+bypass fallback ladder for index pages.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/magnetarr/magnetarr/internal/domain"
	"github.com/magnetarr/magnetarr/internal/proxy"
	"github.com/magnetarr/magnetarr/pkg/httphelpers"
	"github.com/magnetarr/magnetarr/pkg/masking"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	chromeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

	maxBodyBytes = 10 << 20

	retryAttempts = 3 // initial request plus two retries
	retryBaseWait = 500 * time.Millisecond
	retryMaxWait  = 10 * time.Second
)

// Options configures a Client for one run.
type Options struct {
	SessionCookie string
	Bypass        domain.BypassConfig
	Pool          *proxy.Pool
	UseProxy      bool
	UseBypass     bool

	// BanOnExhaust lets a failed index ladder report a ban against the
	// proxy that carried the final rung. Daily runs set it; ad-hoc runs
	// and detail fetches never ban.
	BanOnExhaust bool

	PageSleep   time.Duration
	DetailSleep time.Duration
	Timeout     time.Duration

	// MinPageBytes overrides the plausible-page threshold; zero keeps the
	// default.
	MinPageBytes int
}

// Page is one successfully fetched catalog page.
type Page struct {
	URL        string
	StatusCode int
	Body       []byte
	Proxy      string
	Bypassed   bool
}

type route struct {
	useProxy  bool
	useBypass bool
}

func (r route) String() string {
	switch {
	case r.useProxy && r.useBypass:
		return "proxy+bypass"
	case r.useProxy:
		return "proxy"
	case r.useBypass:
		return "bypass"
	default:
		return "direct"
	}
}

// Client fetches catalog pages. Safe for concurrent use.
type Client struct {
	opts      Options
	indexLim  *rate.Limiter
	detailLim *rate.Limiter

	mu      sync.Mutex
	clients map[string]*http.Client // keyed by proxy URL, "" = direct
}

func NewClient(opts Options) *Client {
	return &Client{
		opts:      opts,
		indexLim:  newLimiter(opts.PageSleep),
		detailLim: newLimiter(opts.DetailSleep),
		clients:   make(map[string]*http.Client),
	}
}

func newLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// FetchIndex fetches one index page through the fallback ladder:
// direct, then proxy, then proxy+bypass, as configured. Exhausting the
// ladder reports a failure against the last proxy when BanOnExhaust is set.
func (c *Client) FetchIndex(ctx context.Context, rawURL string) (*Page, error) {
	if err := c.indexLim.Wait(ctx); err != nil {
		return nil, domain.Classify(domain.KindNetwork, err)
	}

	rungs := c.ladder()

	var (
		lastErr   error
		lastProxy string
	)
	for i, r := range rungs {
		page, proxyName, err := c.fetchWithRetry(ctx, rawURL, domain.ModuleSpiderIndex, r)
		if err == nil {
			if i > 0 {
				log.Info().Str("route", r.String()).Str("url", rawURL).Msg("index fetch recovered on fallback route")
			}
			return page, nil
		}

		lastErr = err
		lastProxy = proxyName

		if ctx.Err() != nil {
			return nil, err
		}

		if i < len(rungs)-1 {
			log.Warn().
				Err(masking.URLError(err)).
				Str("route", r.String()).
				Str("next", rungs[i+1].String()).
				Str("url", rawURL).
				Msg("index fetch failed, escalating")
		}
	}

	if c.opts.BanOnExhaust && lastProxy != "" && c.opts.Pool != nil {
		kind := domain.KindOf(lastErr)
		c.opts.Pool.ReportFailure(lastProxy, kind, fmt.Sprintf("index ladder exhausted: %v", lastErr))
	}

	return nil, lastErr
}

// FetchDetail fetches a detail page on the steady-state route (the
// ladder's final rung) without escalation. Detail failures never ban.
func (c *Client) FetchDetail(ctx context.Context, rawURL string) (*Page, error) {
	if err := c.detailLim.Wait(ctx); err != nil {
		return nil, domain.Classify(domain.KindNetwork, err)
	}

	rungs := c.ladder()
	r := rungs[len(rungs)-1]

	page, _, err := c.fetchWithRetry(ctx, rawURL, domain.ModuleSpiderDetail, r)
	return page, err
}

func (c *Client) ladder() []route {
	rungs := []route{{}}
	if c.opts.UseProxy {
		rungs = append(rungs, route{useProxy: true})
	}
	if c.opts.UseBypass {
		rungs = append(rungs, route{useProxy: c.opts.UseProxy, useBypass: true})
	}
	return rungs
}

// fetchWithRetry runs one ladder rung with the transient-retry policy:
// two retries with jittered exponential backoff, transient kinds only.
func (c *Client) fetchWithRetry(ctx context.Context, rawURL, module string, r route) (*Page, string, error) {
	var (
		page      *Page
		proxyName string
		attemptN  int
	)

	op := func() error {
		attemptN++
		// A bypass retry busts the front-end cache to force re-solving.
		bustCache := r.useBypass && attemptN > 1

		p, name, err := c.attempt(ctx, rawURL, module, r, bustCache, 0)
		if name != "" {
			proxyName = name
		}
		if err != nil {
			return err
		}
		page = p
		return nil
	}

	err := retry.Do(op,
		retry.Attempts(retryAttempts),
		retry.RetryIf(domain.IsRetryable),
		retry.Delay(retryBaseWait),
		retry.MaxDelay(retryMaxWait),
		retry.MaxJitter(retryBaseWait),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		return nil, proxyName, err
	}

	if proxyName != "" && c.opts.Pool != nil {
		c.opts.Pool.ReportSuccess(proxyName)
	}

	return page, proxyName, nil
}

// attempt performs a single exchange on the given route. depth guards the
// one-shot age-gate confirmation refetch.
func (c *Client) attempt(ctx context.Context, rawURL, module string, r route, bustCache bool, depth int) (*Page, string, error) {
	httpClient := c.directClient()
	proxyName := ""

	if r.useProxy && c.opts.Pool != nil {
		pe, ok, err := c.opts.Pool.Select(module)
		if err != nil {
			return nil, "", err
		}
		if ok {
			pc, cerr := c.clientFor(pe)
			if cerr != nil {
				return nil, "", domain.Classify(domain.KindLogicGuard, cerr)
			}
			httpClient = pc
			proxyName = pe.Name
		}
	}

	req, err := c.buildRequest(ctx, rawURL, r.useBypass, bustCache)
	if err != nil {
		return nil, proxyName, domain.Classify(domain.KindLogicGuard, err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, proxyName, classifyTransportError(err, c.opts.SessionCookie != "")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, proxyName, domain.Classify(domain.KindNetwork, fmt.Errorf("read body: %w", err))
	}

	cerr := classifyResponse(resp.StatusCode, body, classifyInput{
		bypassed:  r.useBypass,
		cacheBust: bustCache,
		minBytes:  c.opts.MinPageBytes,
	})

	if errors.Is(cerr, errAgeGate) {
		if depth > 0 {
			return nil, proxyName, domain.Classifyf(domain.KindBan, "age gate persists after confirmation")
		}
		if err := c.confirmAge(ctx, httpClient, rawURL, body); err != nil {
			return nil, proxyName, err
		}
		return c.attempt(ctx, rawURL, module, r, bustCache, depth+1)
	}
	if cerr != nil {
		return nil, proxyName, cerr
	}

	return &Page{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Body:       body,
		Proxy:      proxyName,
		Bypassed:   r.useBypass,
	}, proxyName, nil
}

// confirmAge follows the interstitial's confirmation link on the same
// route, then lets the caller refetch the original page.
func (c *Client) confirmAge(ctx context.Context, httpClient *http.Client, rawURL string, body []byte) error {
	target := ageGateTarget(body)
	if target == "" {
		return domain.Classifyf(domain.KindParse, "age gate page without confirmation link")
	}

	origin, err := url.Parse(rawURL)
	if err != nil {
		return domain.Classify(domain.KindLogicGuard, err)
	}
	confirmURL := origin.Scheme + "://" + origin.Host + target

	log.Debug().Str("url", confirmURL).Msg("confirming age gate")

	req, err := c.buildRequest(ctx, confirmURL, false, false)
	if err != nil {
		return domain.Classify(domain.KindLogicGuard, err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err, c.opts.SessionCookie != "")
	}
	defer httphelpers.DrainAndClose(resp)

	if resp.StatusCode >= 400 {
		return domain.Classifyf(domain.KindTransientHTTP, "age confirmation returned %d", resp.StatusCode)
	}

	return nil
}

func (c *Client) buildRequest(ctx context.Context, rawURL string, bypass, bustCache bool) (*http.Request, error) {
	target := rawURL
	var originalHost string

	if bypass {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse url for bypass rewrite: %w", err)
		}
		originalHost = u.Host
		target = c.opts.Bypass.BaseURL() + u.RequestURI()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", chromeUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "zh-TW,zh;q=0.9,en;q=0.8")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")

	cookie := "over18=1"
	if c.opts.SessionCookie != "" {
		cookie += "; " + c.opts.SessionCookie
	}
	req.Header.Set("Cookie", cookie)

	if bypass {
		req.Header.Set("X-Hostname", originalHost)
		if bustCache {
			req.Header.Set("x-bypass-cache", "true")
		}
	}

	return req, nil
}

func (c *Client) directClient() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if hc, ok := c.clients[""]; ok {
		return hc
	}
	hc, err := newHTTPClient("", c.opts.Timeout)
	if err != nil {
		// Only reachable with a broken cookie jar, which cannot happen
		// with the static options used here.
		hc = &http.Client{Timeout: c.opts.Timeout}
	}
	c.clients[""] = hc
	return hc
}

func (c *Client) clientFor(pe domain.ProxyEntry) (*http.Client, error) {
	proxyURL := pe.HTTPSOrHTTP()

	c.mu.Lock()
	defer c.mu.Unlock()

	if hc, ok := c.clients[proxyURL]; ok {
		return hc, nil
	}

	hc, err := newHTTPClient(proxyURL, c.opts.Timeout)
	if err != nil {
		return nil, fmt.Errorf("build client for proxy %s: %w", masking.ProxyURL(proxyURL), err)
	}
	c.clients[proxyURL] = hc
	return hc, nil
}
