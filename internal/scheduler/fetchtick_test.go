// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scheduler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kitsune-sh/kitsune-core/internal/models"
	"github.com/kitsune-sh/kitsune-core/internal/registry"
	"github.com/kitsune-sh/kitsune-core/internal/scheduler"
	"github.com/kitsune-sh/kitsune-core/internal/testdb"
	"github.com/kitsune-sh/kitsune-core/internal/transport"
)

func TestFetchTick_TriggersDueSubscriptionsAndLeavesNextFetchAtUntouched(t *testing.T) {
	ctx := context.Background()
	db := testdb.Open(t, "fetchtick")
	subs := models.NewSubscriptionStore(db)

	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	reg := registry.New()
	reg.Upsert(&models.ServiceModule{ID: 1, ModuleType: models.ModuleTypeFetcher, Name: "fetcher-a", Version: "1.0.0", Priority: 10, BaseURL: srv.URL})

	fetcherID := int64(1)
	sub, err := subs.Create(ctx, &models.Subscription{
		FetcherID:            &fetcherID,
		SourceURL:             "https://example.invalid/feed",
		FetchIntervalMinutes: 60,
		IsActive:             true,
		AssignmentStatus:     models.AssignmentAssigned,
	})
	require.NoError(t, err)
	// Create() leaves next_fetch_at at CURRENT_TIMESTAMP which is already <= now.

	task := scheduler.NewFetchTick(subs, reg, transport.New(), "https://core.invalid")
	require.NoError(t, task(ctx))
	require.True(t, called)

	got, err := subs.Get(ctx, sub.ID)
	require.NoError(t, err)
	require.Nil(t, got.LastFetchedAt)
	require.NotNil(t, sub.NextFetchAt)
	require.NotNil(t, got.NextFetchAt)
	require.True(t, sub.NextFetchAt.Equal(*got.NextFetchAt))
}

func TestFetchTick_SkipsSubscriptionWithUnregisteredFetcher(t *testing.T) {
	ctx := context.Background()
	db := testdb.Open(t, "fetchtick")
	subs := models.NewSubscriptionStore(db)
	reg := registry.New()

	fetcherID := int64(99)
	_, err := subs.Create(ctx, &models.Subscription{
		FetcherID:             &fetcherID,
		SourceURL:             "https://example.invalid/feed2",
		FetchIntervalMinutes: 60,
		IsActive:             true,
		AssignmentStatus:     models.AssignmentAssigned,
	})
	require.NoError(t, err)

	task := scheduler.NewFetchTick(subs, reg, transport.New(), "https://core.invalid")
	require.NoError(t, task(ctx))
}

func TestFetchTick_SkipsNotYetDueSubscription(t *testing.T) {
	ctx := context.Background()
	db := testdb.Open(t, "fetchtick")
	subs := models.NewSubscriptionStore(db)

	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	reg := registry.New()
	reg.Upsert(&models.ServiceModule{ID: 1, ModuleType: models.ModuleTypeFetcher, Name: "fetcher-a", Priority: 10, BaseURL: srv.URL})

	fetcherID := int64(1)
	sub, err := subs.Create(ctx, &models.Subscription{
		FetcherID:             &fetcherID,
		SourceURL:             "https://example.invalid/feed3",
		FetchIntervalMinutes: 60,
		IsActive:             true,
		AssignmentStatus:     models.AssignmentAssigned,
	})
	require.NoError(t, err)
	require.NoError(t, subs.MarkFetched(ctx, sub.ID, time.Now()))

	task := scheduler.NewFetchTick(subs, reg, transport.New(), "https://core.invalid")
	require.NoError(t, task(ctx))
	require.False(t, called)
}
