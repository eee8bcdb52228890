// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kitsune-sh/kitsune-core/internal/api"
	"github.com/kitsune-sh/kitsune-core/internal/conflict"
	"github.com/kitsune-sh/kitsune-core/internal/dispatcher"
	"github.com/kitsune-sh/kitsune-core/internal/domain"
	"github.com/kitsune-sh/kitsune-core/internal/filterengine"
	"github.com/kitsune-sh/kitsune-core/internal/models"
	"github.com/kitsune-sh/kitsune-core/internal/registry"
	"github.com/kitsune-sh/kitsune-core/internal/scheduler"
	"github.com/kitsune-sh/kitsune-core/internal/testdb"
	"github.com/kitsune-sh/kitsune-core/internal/titleparser"
	"github.com/kitsune-sh/kitsune-core/internal/transport"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	db := testdb.Open(t, "router")

	stores := &api.Stores{
		Animes:        models.NewAnimeStore(db),
		Seasons:       models.NewSeasonStore(db),
		Series:        models.NewAnimeSeriesStore(db),
		Groups:        models.NewSubtitleGroupStore(db),
		Modules:       models.NewServiceModuleStore(db),
		Subscriptions: models.NewSubscriptionStore(db),
		RawItems:      models.NewRawItemStore(db),
		Parsers:       models.NewTitleParserStore(db),
		FilterRules:   models.NewFilterRuleStore(db),
		Links:         models.NewLinkStore(db),
		Conflicts:     models.NewConflictStore(db),
		Downloads:     models.NewDownloadStore(db),
	}

	deps := &api.Dependencies{
		Config:     domain.Defaults(),
		Stores:     stores,
		Registry:   registry.New(),
		Pipeline:   titleparser.New(),
		Engine:     filterengine.New(),
		Detector:   conflict.New(stores.Links, stores.Conflicts),
		Dispatcher: dispatcher.New(stores.Links, stores.Downloads, stores.Modules, registry.New(), transport.New()),
		Scheduler:  scheduler.New(),
		Client:     transport.New(),
	}

	return api.NewRouter(deps)
}

func TestRouter_Health(t *testing.T) {
	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_RegisterAndListServices(t *testing.T) {
	r := newTestRouter(t)

	body, err := json.Marshal(map[string]any{
		"module_type": "fetcher",
		"name":        "rss-fetcher",
		"version":     "1.0.0",
		"is_enabled":  true,
		"priority":    10,
		"base_url":    "http://fetcher.invalid",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/services/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/services", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var modules []*models.ServiceModule
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &modules))
	require.Len(t, modules, 1)
	require.Equal(t, "rss-fetcher", modules[0].Name)
}

func TestRouter_UnknownSubscriptionIngestionReturnsNotFound(t *testing.T) {
	r := newTestRouter(t)

	body, err := json.Marshal(map[string]any{
		"subscription_id": 9999,
		"items":           []any{},
		"success":         true,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/raw-fetcher-results", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
