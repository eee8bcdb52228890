// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rs/zerolog/log"

	kitsuneapi "github.com/kitsune-sh/kitsune-core/internal/api"
	"github.com/kitsune-sh/kitsune-core/internal/conflict"
	"github.com/kitsune-sh/kitsune-core/internal/database"
	"github.com/kitsune-sh/kitsune-core/internal/dispatcher"
	"github.com/kitsune-sh/kitsune-core/internal/filterengine"
	"github.com/kitsune-sh/kitsune-core/internal/metrics"
	"github.com/kitsune-sh/kitsune-core/internal/models"
	"github.com/kitsune-sh/kitsune-core/internal/registry"
	"github.com/kitsune-sh/kitsune-core/internal/scheduler"
	"github.com/kitsune-sh/kitsune-core/internal/titleparser"
	"github.com/kitsune-sh/kitsune-core/internal/transport"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, schedulers and dispatch loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg := appConfig

	db, err := database.New(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing database")
		}
	}()

	stores := &kitsuneapi.Stores{
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

	reg := registry.New()
	if modules, err := stores.Modules.List(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to load registered service modules at boot")
	} else {
		reg.LoadAll(modules)
	}

	client := transport.New()
	pipeline := titleparser.New()
	engine := filterengine.New()
	detector := conflict.New(stores.Links, stores.Conflicts)
	dispatch := dispatcher.New(stores.Links, stores.Downloads, stores.Modules, reg, client)

	var collector *metrics.CoreCollector
	var metricsServer *metrics.Server
	if cfg.MetricsEnabled {
		manager := metrics.NewManager()
		collector = manager.Collector()
		metricsServer = metrics.NewServer(manager, cfg.MetricsHost, cfg.MetricsPort, cfg.MetricsBasicAuthUsers)
		go func() {
			log.Info().Str("addr", metricsServer.Addr()).Msg("metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	sched := scheduler.New()
	sched.Register(scheduler.Task{
		Name:     scheduler.TaskNameFetchTick,
		Interval: cfg.FetchTickInterval,
		Fn:       instrumented(collector, scheduler.TaskNameFetchTick, scheduler.NewFetchTick(stores.Subscriptions, reg, client, cfg.ViewerCallbackBaseURL)),
	})
	sched.Register(scheduler.Task{
		Name:     scheduler.TaskNameDownloadPoll,
		Interval: cfg.DownloadPollInterval,
		Fn:       instrumented(collector, scheduler.TaskNameDownloadPoll, scheduler.NewDownloadPoll(stores.Downloads, reg, client)),
	})
	sched.Register(scheduler.Task{
		Name:     scheduler.TaskNameViewerSync,
		Interval: cfg.ViewerSyncInterval,
		Fn: instrumented(collector, scheduler.TaskNameViewerSync, scheduler.NewViewerSync(scheduler.ViewerSyncStores{
			Downloads: stores.Downloads,
			Links:     stores.Links,
			Series:    stores.Series,
			Animes:    stores.Animes,
			Groups:    stores.Groups,
		}, reg, client, cfg.ViewerCallbackBaseURL)),
	})
	if collector != nil {
		sched.Register(scheduler.Task{
			Name:     "metrics-sample",
			Interval: 30 * time.Second,
			Fn:       sampleGauges(collector, stores.Conflicts, stores.Downloads),
		})
	}
	sched.Start(ctx)
	defer sched.Stop()

	deps := &kitsuneapi.Dependencies{
		Config:     cfg,
		Stores:     stores,
		Registry:   reg,
		Pipeline:   pipeline,
		Engine:     engine,
		Detector:   detector,
		Dispatcher: dispatch,
		Scheduler:  sched,
		Client:     client,
	}

	server := kitsuneapi.NewServer(cfg.Host, cfg.Port, deps)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr()).Msg("http api listening")
		if err := server.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("http server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("metrics server shutdown error")
		}
	}

	return nil
}
