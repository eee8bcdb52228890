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
	"github.com/kitsune-sh/kitsune-core/internal/conflict"
	"github.com/kitsune-sh/kitsune-core/internal/dispatcher"
	"github.com/kitsune-sh/kitsune-core/internal/filterengine"
	"github.com/kitsune-sh/kitsune-core/internal/models"
	"github.com/kitsune-sh/kitsune-core/internal/registry"
	"github.com/kitsune-sh/kitsune-core/internal/testdb"
	"github.com/kitsune-sh/kitsune-core/internal/transport"
)

type filtersFixture struct {
	links     *models.LinkStore
	downloads *models.DownloadStore
	modules   *models.ServiceModuleStore
	seriesID  int64
	groupID   int64
	router    *chi.Mux
}

func setupFilters(t *testing.T) *filtersFixture {
	t.Helper()
	ctx := context.Background()
	db := testdb.Open(t, "filters-handler")

	animes := models.NewAnimeStore(db)
	seasons := models.NewSeasonStore(db)
	series := models.NewAnimeSeriesStore(db)
	groups := models.NewSubtitleGroupStore(db)
	links := models.NewLinkStore(db)
	downloads := models.NewDownloadStore(db)
	modules := models.NewServiceModuleStore(db)
	filterRules := models.NewFilterRuleStore(db)
	rawItems := models.NewRawItemStore(db)
	conflicts := models.NewConflictStore(db)

	anime, err := animes.GetOrCreateByTitle(ctx, "Show")
	require.NoError(t, err)
	season, err := seasons.GetOrCreate(ctx, 2026, "Spring")
	require.NoError(t, err)
	s, err := series.GetOrCreate(ctx, anime.ID, 1, &season.ID)
	require.NoError(t, err)
	group, err := groups.GetOrCreate(ctx, "GroupA")
	require.NoError(t, err)

	engine := filterengine.New()
	disp := dispatcher.New(links, downloads, modules, registry.New(), transport.New())
	detector := conflict.New(links, conflicts)
	h := handlers.NewFiltersHandler(filterRules, links, downloads, engine, disp, detector, series, rawItems)

	r := chi.NewRouter()
	r.Route("/filters", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Delete("/{id}", h.Delete)
	})

	return &filtersFixture{links: links, downloads: downloads, modules: modules, seriesID: s.ID, groupID: group.ID, router: r}
}

func (f *filtersFixture) insertLink(t *testing.T, title, hash string) *models.AnimeLink {
	t.Helper()
	l, err := f.links.Insert(context.Background(), &models.AnimeLink{
		SeriesID: f.seriesID, GroupID: f.groupID, EpisodeNo: 1,
		Title: &title, URL: "https://example.invalid/" + hash, SourceHash: hash,
		DownloadType: "http",
	})
	require.NoError(t, err)
	return l
}

func (f *filtersFixture) registerDownloader(t *testing.T, baseURL string) *models.ServiceModule {
	t.Helper()
	ctx := context.Background()
	m, err := f.modules.Upsert(ctx, &models.ServiceModule{
		ModuleType: models.ModuleTypeDownloader, Name: "dl", Version: "1.0.0",
		IsEnabled: true, Priority: 10, BaseURL: baseURL,
	})
	require.NoError(t, err)
	require.NoError(t, f.modules.SetCapabilities(ctx, m.ID, []string{"http"}))
	return m
}

func TestFilters_CreateNewlyFilteredCancelsDownload(t *testing.T) {
	ctx := context.Background()
	f := setupFilters(t)

	var cancelCalled bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/downloads/cancel" {
			cancelCalled = true
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	mod := f.registerDownloader(t, srv.URL)

	link := f.insertLink(t, "Banned Release - 01", "h1")
	hash := "torrenthash1"
	dl, err := f.downloads.Insert(ctx, &models.Download{
		LinkID: link.ID, DownloaderType: "http", Status: models.DownloadDownloading,
		ModuleID: &mod.ID, TorrentHash: &hash,
	})
	require.NoError(t, err)

	rec := doJSON(t, f.router, http.MethodPost, "/filters/", map[string]any{
		"target_type":   "anime_series",
		"target_id":     f.seriesID,
		"rule_order":    1,
		"is_positive":   false,
		"regex_pattern": "Banned",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	got, err := f.links.Get(ctx, link.ID)
	require.NoError(t, err)
	require.True(t, got.FilteredFlag)

	gotDl, err := f.downloads.Get(ctx, dl.ID)
	require.NoError(t, err)
	require.Equal(t, models.DownloadCancelled, gotDl.Status)
	require.True(t, cancelCalled)
}

func TestFilters_DeleteRedispatchesNewlyUnfiltered(t *testing.T) {
	ctx := context.Background()
	f := setupFilters(t)

	var dispatched bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dispatched = true
		var req struct {
			Items []struct {
				URL string `json:"url"`
			} `json:"items"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		hash := "abc123"
		results := make([]map[string]any, 0, len(req.Items))
		for _, item := range req.Items {
			results = append(results, map[string]any{"url": item.URL, "status": "accepted", "hash": hash})
		}
		json.NewEncoder(w).Encode(map[string]any{"results": results})
	}))
	defer srv.Close()
	f.registerDownloader(t, srv.URL)

	link := f.insertLink(t, "Banned Release - 01", "h2")

	createRec := doJSON(t, f.router, http.MethodPost, "/filters/", map[string]any{
		"target_type":   "anime_series",
		"target_id":     f.seriesID,
		"rule_order":    1,
		"is_positive":   false,
		"regex_pattern": "Banned",
	})
	require.Equal(t, http.StatusCreated, createRec.Code)

	var rule models.FilterRule
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &rule))

	got, err := f.links.Get(ctx, link.ID)
	require.NoError(t, err)
	require.True(t, got.FilteredFlag)

	rec := doJSON(t, f.router, http.MethodDelete, "/filters/"+itoa(rule.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err = f.links.Get(ctx, link.ID)
	require.NoError(t, err)
	require.False(t, got.FilteredFlag)
	require.True(t, dispatched)
}
