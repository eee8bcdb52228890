// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package api assembles the core's chi router: every operator/module
// endpoint from §6, wired to the repository/service layer built in
// cmd/kitsune's serve command. Grounded on
// autobrr-qui/internal/api/router.go's Dependencies-struct + chi.Route
// nesting idiom.
package api

import (
	"net/http"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/kitsune-sh/kitsune-core/internal/api/handlers"
	apimiddleware "github.com/kitsune-sh/kitsune-core/internal/api/middleware"
	"github.com/kitsune-sh/kitsune-core/internal/conflict"
	"github.com/kitsune-sh/kitsune-core/internal/dispatcher"
	"github.com/kitsune-sh/kitsune-core/internal/domain"
	"github.com/kitsune-sh/kitsune-core/internal/filterengine"
	"github.com/kitsune-sh/kitsune-core/internal/models"
	"github.com/kitsune-sh/kitsune-core/internal/registry"
	"github.com/kitsune-sh/kitsune-core/internal/scheduler"
	"github.com/kitsune-sh/kitsune-core/internal/titleparser"
	"github.com/kitsune-sh/kitsune-core/internal/transport"
)

// Stores bundles every *Store the router needs to build handlers.
type Stores struct {
	Animes        *models.AnimeStore
	Seasons       *models.SeasonStore
	Series        *models.AnimeSeriesStore
	Groups        *models.SubtitleGroupStore
	Modules       *models.ServiceModuleStore
	Subscriptions *models.SubscriptionStore
	RawItems      *models.RawItemStore
	Parsers       *models.TitleParserStore
	FilterRules   *models.FilterRuleStore
	Links         *models.LinkStore
	Conflicts     *models.ConflictStore
	Downloads     *models.DownloadStore
}

// Dependencies holds everything NewRouter needs: the repository layer,
// the service-layer components (Component B-G), and runtime config.
type Dependencies struct {
	Config     *domain.Config
	Stores     *Stores
	Registry   *registry.Registry
	Pipeline   *titleparser.Pipeline
	Engine     *filterengine.Engine
	Detector   *conflict.Detector
	Dispatcher *dispatcher.Dispatcher
	Scheduler  *scheduler.Scheduler
	Client     *transport.Client
	Metrics    http.Handler // optional, mounted at /metrics when non-nil
}

// NewRouter builds the full chi.Mux for the core's HTTP API (§6).
func NewRouter(deps *Dependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(apimiddleware.HTTPLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)

	if compressor, err := httpcompression.DefaultAdapter(); err != nil {
		log.Warn().Err(err).Msg("failed to create HTTP compression adapter")
	} else {
		r.Use(compressor)
	}

	allowedOrigins := []string{"*"}
	if deps.Config.BaseURL != "" {
		allowedOrigins = []string{deps.Config.BaseURL}
	}
	r.Use(cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders: []string{"*"},
	}).Handler)

	s := deps.Stores
	ingestionHandler := handlers.NewIngestionHandler(
		s.Subscriptions, s.RawItems, s.Animes, s.Seasons, s.Series, s.Groups, s.Links, s.FilterRules, s.Parsers,
		deps.Pipeline, deps.Engine, deps.Detector, deps.Dispatcher,
	)
	servicesHandler := handlers.NewServicesHandler(s.Modules, deps.Registry, deps.Dispatcher, deps.Scheduler)
	subscriptionsHandler := handlers.NewSubscriptionsHandler(s.Subscriptions, deps.Registry, deps.Client)
	filtersHandler := handlers.NewFiltersHandler(s.FilterRules, s.Links, s.Downloads, deps.Engine, deps.Dispatcher, deps.Detector, s.Series, s.RawItems)
	conflictsHandler := handlers.NewConflictsHandler(s.Conflicts, s.Links, deps.Detector, deps.Dispatcher)
	rawItemsHandler := handlers.NewRawItemsHandler(s.RawItems, s.Parsers, deps.Pipeline, ingestionHandler)
	titleParsersHandler := handlers.NewTitleParsersHandler(s.Parsers, deps.Pipeline)
	syncHandler := handlers.NewSyncHandler(s.Downloads)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		handlers.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}

	r.Route("/services", func(r chi.Router) {
		r.Post("/register", servicesHandler.Register)
		r.Get("/", servicesHandler.List)
		r.Get("/{type}", servicesHandler.List)
	})

	r.Route("/subscriptions", func(r chi.Router) {
		r.Post("/", subscriptionsHandler.Create)
		r.Get("/", subscriptionsHandler.List)
		r.Delete("/{source_url}", subscriptionsHandler.Delete)
	})

	r.Get("/fetcher-modules/{id}/subscriptions", subscriptionsHandler.ListByFetcher)

	r.Post("/raw-fetcher-results", ingestionHandler.IngestRawFetcherResults)

	r.Route("/filters", func(r chi.Router) {
		// Filter-rule mutation recomputes an entire scope's links
		// synchronously (§4.D), so a short throttle keeps a buggy
		// operator script from queuing dozens of full-scope recomputes.
		r.Use(chimiddleware.ThrottleBacklog(4, 16, 5*time.Second))
		r.Post("/", filtersHandler.Create)
		r.Get("/", filtersHandler.List)
		r.Delete("/{id}", filtersHandler.Delete)
	})

	r.Route("/title-parsers", func(r chi.Router) {
		r.Post("/", titleParsersHandler.Create)
		r.Get("/", titleParsersHandler.List)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", titleParsersHandler.Get)
			r.Put("/", titleParsersHandler.Update)
			r.Delete("/", titleParsersHandler.Delete)
			r.Post("/preview", titleParsersHandler.Preview)
		})
	})

	r.Get("/link-conflicts", conflictsHandler.List)
	r.Post("/link-conflicts/{id}/resolve", conflictsHandler.Resolve)

	r.Route("/raw-items", func(r chi.Router) {
		r.Get("/", rawItemsHandler.List)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", rawItemsHandler.Get)
			r.Post("/reparse", rawItemsHandler.Reparse)
			r.Post("/skip", rawItemsHandler.Skip)
		})
	})

	r.Post("/sync-callback", syncHandler.Callback)

	return r
}
