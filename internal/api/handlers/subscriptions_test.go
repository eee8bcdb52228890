// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/kitsune-sh/kitsune-core/internal/api/handlers"
	"github.com/kitsune-sh/kitsune-core/internal/models"
	"github.com/kitsune-sh/kitsune-core/internal/registry"
	"github.com/kitsune-sh/kitsune-core/internal/testdb"
	"github.com/kitsune-sh/kitsune-core/internal/transport"
)

func newSubscriptionsRouter(t *testing.T) (*chi.Mux, *models.SubscriptionStore, *registry.Registry) {
	t.Helper()
	db := testdb.Open(t, "subscriptions")

	subs := models.NewSubscriptionStore(db)
	reg := registry.New()
	h := handlers.NewSubscriptionsHandler(subs, reg, transport.New())

	r := chi.NewRouter()
	r.Route("/subscriptions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Delete("/{source_url}", h.Delete)
	})
	return r, subs, reg
}

func registerFetcher(reg *registry.Registry, id int64, name string, priority int, baseURL string) {
	reg.Upsert(&models.ServiceModule{
		ID: id, ModuleType: models.ModuleTypeFetcher, Name: name, Version: "1.0.0",
		IsEnabled: true, Priority: priority, BaseURL: baseURL,
	})
}

func TestSubscriptions_CreateWithExplicitFetcherSkipsBroadcast(t *testing.T) {
	r, subs, _ := newSubscriptionsRouter(t)

	fetcherID := int64(7)
	rec := doJSON(t, r, http.MethodPost, "/subscriptions/", map[string]any{
		"source_url":             "https://example.invalid/feed.xml",
		"fetch_interval_minutes": 15,
		"fetcher_id":             fetcherID,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.Subscription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, models.AssignmentAssigned, created.AssignmentStatus)
	require.NotNil(t, created.FetcherID)
	require.Equal(t, fetcherID, *created.FetcherID)

	all, err := subs.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestSubscriptions_CreateAutoSelectsHighestPriorityResponder(t *testing.T) {
	lowPrio := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"can_handle": true, "priority": 1})
	}))
	defer lowPrio.Close()
	highPrio := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"can_handle": true, "priority": 9})
	}))
	defer highPrio.Close()
	declines := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"can_handle": false})
	}))
	defer declines.Close()

	r, _, reg := newSubscriptionsRouter(t)
	registerFetcher(reg, 1, "low", 1, lowPrio.URL)
	registerFetcher(reg, 2, "high", 2, highPrio.URL)
	registerFetcher(reg, 3, "decliner", 3, declines.URL)

	rec := doJSON(t, r, http.MethodPost, "/subscriptions/", map[string]any{
		"source_url":             "https://example.invalid/auto.xml",
		"fetch_interval_minutes": 30,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.Subscription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, models.AssignmentAutoAssigned, created.AssignmentStatus)
	require.True(t, created.AutoSelected)
	require.NotNil(t, created.FetcherID)
	require.Equal(t, int64(2), *created.FetcherID)
}

func TestSubscriptions_CreateNoRespondersLeavesPending(t *testing.T) {
	r, _, _ := newSubscriptionsRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/subscriptions/", map[string]any{
		"source_url":             "https://example.invalid/unassigned.xml",
		"fetch_interval_minutes": 30,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.Subscription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, models.AssignmentPending, created.AssignmentStatus)
	require.Nil(t, created.FetcherID)
}

func TestSubscriptions_DeleteNotFound(t *testing.T) {
	r, _, _ := newSubscriptionsRouter(t)
	rec := doJSON(t, r, http.MethodDelete, "/subscriptions/https%3A%2F%2Fno-such-feed.invalid", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
