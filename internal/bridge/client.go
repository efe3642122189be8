// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package bridge sweeps aged torrents out of the torrent client into the
// deep-storage service, keeping local disk a staging area instead of a
// library.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/magnetarr/magnetarr/internal/domain"
	"github.com/magnetarr/magnetarr/pkg/httphelpers"
	"github.com/magnetarr/magnetarr/pkg/masking"
)

// MagnetState is the per-magnet outcome the storage service reports.
type MagnetState string

const (
	MagnetOK      MagnetState = "OK"
	MagnetPending MagnetState = "PENDING"
	MagnetFailed  MagnetState = "FAILED"
)

// MagnetResult is one magnet's state within a batch.
type MagnetResult struct {
	Magnet string      `json:"magnet"`
	State  MagnetState `json:"state"`
	Error  string      `json:"error,omitempty"`
}

// Batch is one submission and its per-magnet states.
type Batch struct {
	ID      string         `json:"batch_id"`
	Results []MagnetResult `json:"results"`
}

// Storage is the deep-storage surface the bridge drives. Submit is
// asynchronous on the service side: results may come back PENDING and
// settle on later Status calls.
type Storage interface {
	Login(ctx context.Context) error
	SubmitBatch(ctx context.Context, magnets []string) (*Batch, error)
	Status(ctx context.Context, batchID string) (*Batch, error)
}

// StorageClient is the HTTP JSON implementation with a bearer-token
// session. Safe for concurrent use.
type StorageClient struct {
	base     string
	email    string
	password string
	httpc    *http.Client

	mu    sync.RWMutex
	token string
}

func NewStorageClient(cfg domain.DeepStorageConfig) *StorageClient {
	return &StorageClient{
		base:     strings.TrimRight(cfg.BaseURL, "/"),
		email:    cfg.Email,
		password: cfg.Password,
		httpc:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *StorageClient) Login(ctx context.Context) error {
	payload, err := json.Marshal(map[string]string{
		"email":    c.email,
		"password": c.password,
	})
	if err != nil {
		return domain.Classify(domain.KindLogicGuard, fmt.Errorf("encode login payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/session", bytes.NewReader(payload))
	if err != nil {
		return domain.Classify(domain.KindNetwork, fmt.Errorf("build login request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return domain.Classify(domain.KindNetwork, fmt.Errorf("deep storage login: %w", masking.URLError(err)))
	}
	defer httphelpers.DrainAndClose(resp)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.Classifyf(domain.KindAuth, "deep storage rejected credentials for %s", masking.Email(c.email))
	case resp.StatusCode != http.StatusOK:
		return domain.Classifyf(domain.KindNetwork, "deep storage login: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.Classify(domain.KindParse, fmt.Errorf("decode login response: %w", err))
	}
	if out.Token == "" {
		return domain.Classifyf(domain.KindAuth, "deep storage login response carried no token")
	}

	c.mu.Lock()
	c.token = out.Token
	c.mu.Unlock()
	return nil
}

func (c *StorageClient) SubmitBatch(ctx context.Context, magnets []string) (*Batch, error) {
	payload, err := json.Marshal(map[string][]string{"magnets": magnets})
	if err != nil {
		return nil, domain.Classify(domain.KindLogicGuard, fmt.Errorf("encode batch payload: %w", err))
	}

	var batch Batch
	if err := c.do(ctx, http.MethodPost, "/api/v1/batches", payload, &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

func (c *StorageClient) Status(ctx context.Context, batchID string) (*Batch, error) {
	var batch Batch
	if err := c.do(ctx, http.MethodGet, "/api/v1/batches/"+batchID, nil, &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

// do sends one authenticated request. A 401 means the bearer token went
// stale; the caller's Login established it, so surface it as auth.
func (c *StorageClient) do(ctx context.Context, method, path string, payload []byte, out any) error {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	if token == "" {
		return domain.Classifyf(domain.KindAuth, "deep storage session not established")
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return domain.Classify(domain.KindNetwork, fmt.Errorf("build %s request: %w", path, err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return domain.Classify(domain.KindNetwork, fmt.Errorf("deep storage %s: %w", path, masking.URLError(err)))
	}
	defer httphelpers.DrainAndClose(resp)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return domain.Classifyf(domain.KindAuth, "deep storage session expired")
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.Classifyf(domain.KindTransientHTTP, "deep storage rate limited %s", path)
	case resp.StatusCode >= 500:
		return domain.Classifyf(domain.KindTransientHTTP, "deep storage %s: status %d", path, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return domain.Classifyf(domain.KindNetwork, "deep storage %s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.Classify(domain.KindParse, fmt.Errorf("decode %s response: %w", path, err))
	}
	return nil
}
