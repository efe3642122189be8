// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/magnetarr/magnetarr/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStorageServer(t *testing.T) (*httptest.Server, *StorageClient) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/session", func(w http.ResponseWriter, r *http.Request) {
		var creds struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))

		if creds.Email != "ops@example.org" || creds.Password != "hunter2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-123"})
	})
	mux.HandleFunc("POST /api/v1/batches", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var in struct {
			Magnets []string `json:"magnets"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))

		batch := Batch{ID: "batch-7"}
		for i, m := range in.Magnets {
			state := MagnetOK
			if i%2 == 1 {
				state = MagnetPending
			}
			batch.Results = append(batch.Results, MagnetResult{Magnet: m, State: state})
		}
		json.NewEncoder(w).Encode(batch)
	})
	mux.HandleFunc("GET /api/v1/batches/batch-7", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(Batch{ID: "batch-7", Results: []MagnetResult{
			{Magnet: "magnet:?xt=urn:btih:b", State: MagnetOK},
		}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := NewStorageClient(domain.DeepStorageConfig{
		BaseURL:  srv.URL,
		Email:    "ops@example.org",
		Password: "hunter2",
	})
	return srv, client
}

func TestStorageClientLoginAndSubmit(t *testing.T) {
	t.Parallel()

	_, client := newStorageServer(t)
	ctx := context.Background()

	require.NoError(t, client.Login(ctx))

	batch, err := client.SubmitBatch(ctx, []string{
		"magnet:?xt=urn:btih:a",
		"magnet:?xt=urn:btih:b",
	})
	require.NoError(t, err)
	assert.Equal(t, "batch-7", batch.ID)
	require.Len(t, batch.Results, 2)
	assert.Equal(t, MagnetOK, batch.Results[0].State)
	assert.Equal(t, MagnetPending, batch.Results[1].State)

	polled, err := client.Status(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, polled.Results, 1)
	assert.Equal(t, MagnetOK, polled.Results[0].State)
}

func TestStorageClientBadCredentials(t *testing.T) {
	t.Parallel()

	srv, _ := newStorageServer(t)
	client := NewStorageClient(domain.DeepStorageConfig{
		BaseURL:  srv.URL,
		Email:    "ops@example.org",
		Password: "wrong",
	})

	err := client.Login(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindAuth))
}

func TestStorageClientRequiresSession(t *testing.T) {
	t.Parallel()

	_, client := newStorageServer(t)

	_, err := client.SubmitBatch(context.Background(), []string{"magnet:?xt=urn:btih:a"})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindAuth),
		"calls before Login must fail as auth, not panic on an empty token")
}

func TestStorageClientUnreachableHost(t *testing.T) {
	t.Parallel()

	client := NewStorageClient(domain.DeepStorageConfig{
		BaseURL:  "http://127.0.0.1:1",
		Email:    "ops@example.org",
		Password: "hunter2",
	})

	err := client.Login(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindNetwork))
}
