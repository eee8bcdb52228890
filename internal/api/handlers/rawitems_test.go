// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
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
	"github.com/kitsune-sh/kitsune-core/internal/titleparser"
	"github.com/kitsune-sh/kitsune-core/internal/transport"
)

func newRawItemsRouter(t *testing.T) (*chi.Mux, *models.RawItemStore, *models.TitleParserStore, int64) {
	t.Helper()
	ctx := context.Background()
	db := testdb.Open(t, "rawitems")

	animes := models.NewAnimeStore(db)
	seasons := models.NewSeasonStore(db)
	series := models.NewAnimeSeriesStore(db)
	groups := models.NewSubtitleGroupStore(db)
	links := models.NewLinkStore(db)
	downloads := models.NewDownloadStore(db)
	conflicts := models.NewConflictStore(db)
	modules := models.NewServiceModuleStore(db)
	subscriptions := models.NewSubscriptionStore(db)
	rawItems := models.NewRawItemStore(db)
	filterRules := models.NewFilterRuleStore(db)
	parsers := models.NewTitleParserStore(db)

	pipeline := titleparser.New()
	engine := filterengine.New()
	detector := conflict.New(links, conflicts)
	disp := dispatcher.New(links, downloads, modules, registry.New(), transport.New())

	ingestion := handlers.NewIngestionHandler(
		subscriptions, rawItems, animes, seasons, series, groups, links, filterRules, parsers,
		pipeline, engine, detector, disp,
	)
	h := handlers.NewRawItemsHandler(rawItems, parsers, pipeline, ingestion)

	sub, err := subscriptions.Create(ctx, &models.Subscription{
		SourceURL:            "https://example.invalid/feed.xml",
		FetchIntervalMinutes: 30,
		IsActive:             true,
		AssignmentStatus:     models.AssignmentAssigned,
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Route("/raw-items", func(r chi.Router) {
		r.Get("/", h.List)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Post("/reparse", h.Reparse)
			r.Post("/skip", h.Skip)
		})
	})
	return r, rawItems, parsers, sub.ID
}

func TestRawItems_ListFuzzySearch(t *testing.T) {
	ctx := context.Background()
	r, rawItems, _, subID := newRawItemsRouter(t)

	_, err := rawItems.Insert(ctx, &models.RawAnimeItem{Title: "[GroupA] Attack on Titan - 01", DownloadURL: "u1", SubscriptionID: subID})
	require.NoError(t, err)
	_, err = rawItems.Insert(ctx, &models.RawAnimeItem{Title: "[GroupB] One Piece - 1090", DownloadURL: "u2", SubscriptionID: subID})
	require.NoError(t, err)

	rec := doJSON(t, r, http.MethodGet, "/raw-items/?q=titan", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var items []*models.RawAnimeItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	require.Contains(t, items[0].Title, "Attack on Titan")
}

func TestRawItems_GetNotFound(t *testing.T) {
	r, _, _, _ := newRawItemsRouter(t)
	rec := doJSON(t, r, http.MethodGet, "/raw-items/99999", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRawItems_SkipMarksSkipped(t *testing.T) {
	ctx := context.Background()
	r, rawItems, _, subID := newRawItemsRouter(t)

	item, err := rawItems.Insert(ctx, &models.RawAnimeItem{Title: "unparseable junk", DownloadURL: "u3", SubscriptionID: subID})
	require.NoError(t, err)

	rec := doJSON(t, r, http.MethodPost, "/raw-items/"+itoa(item.ID)+"/skip", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := rawItems.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, models.RawItemSkipped, got.Status)
}

func TestRawItems_ReparseAfterParserFix(t *testing.T) {
	ctx := context.Background()
	r, rawItems, parsers, subID := newRawItemsRouter(t)

	item, err := rawItems.Insert(ctx, &models.RawAnimeItem{Title: "[GroupA] Show - 01 [1080p]", DownloadURL: "u4", SubscriptionID: subID})
	require.NoError(t, err)
	require.NoError(t, rawItems.MarkNoMatch(ctx, item.ID))

	_, err = parsers.Create(ctx, &models.TitleParser{
		Name:           "standard",
		Priority:       10,
		IsEnabled:      true,
		ConditionRegex: `^\[.+?\]`,
		ParseRegex:     `^\[(?P<group>[^\]]+)\]\s*(?P<title>.+?)\s*-\s*(?P<ep>\d+)\s*\[`,
		FieldExtractors: []models.FieldExtractor{
			{Field: "subtitle_group", Source: models.ExtractorRegex, Value: "1"},
			{Field: "anime_title", Source: models.ExtractorRegex, Value: "2"},
			{Field: "episode_no", Source: models.ExtractorRegex, Value: "3"},
		},
	})
	require.NoError(t, err)

	rec := doJSON(t, r, http.MethodPost, "/raw-items/"+itoa(item.ID)+"/reparse", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var updated models.RawAnimeItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	require.Equal(t, models.RawItemParsed, updated.Status)
}
