// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scheduler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kitsune-sh/kitsune-core/internal/models"
	"github.com/kitsune-sh/kitsune-core/internal/registry"
	"github.com/kitsune-sh/kitsune-core/internal/scheduler"
	"github.com/kitsune-sh/kitsune-core/internal/testdb"
	"github.com/kitsune-sh/kitsune-core/internal/transport"
)

func viewerSyncFixture(t *testing.T) (scheduler.ViewerSyncStores, int64, int64) {
	t.Helper()
	ctx := context.Background()
	db := testdb.Open(t, "viewersync")

	animes := models.NewAnimeStore(db)
	seasons := models.NewSeasonStore(db)
	series := models.NewAnimeSeriesStore(db)
	groups := models.NewSubtitleGroupStore(db)
	links := models.NewLinkStore(db)
	downloads := models.NewDownloadStore(db)

	anime, err := animes.GetOrCreateByTitle(ctx, "Show")
	require.NoError(t, err)
	season, err := seasons.GetOrCreate(ctx, 2026, "Spring")
	require.NoError(t, err)
	s, err := series.GetOrCreate(ctx, anime.ID, 1, &season.ID)
	require.NoError(t, err)
	group, err := groups.GetOrCreate(ctx, "GroupA")
	require.NoError(t, err)

	return scheduler.ViewerSyncStores{
		Downloads: downloads,
		Links:     links,
		Series:    series,
		Animes:    animes,
		Groups:    groups,
	}, s.ID, group.ID
}

func TestViewerSync_PostsAndMarksSyncingOnAcceptedCandidate(t *testing.T) {
	ctx := context.Background()
	stores, seriesID, groupID := viewerSyncFixture(t)

	l, err := stores.Links.Insert(ctx, &models.AnimeLink{SeriesID: seriesID, GroupID: groupID, EpisodeNo: 1, URL: "https://example.invalid/1", SourceHash: "h1", DownloadType: "http"})
	require.NoError(t, err)
	path := "series/1/group/1/ep1.mkv"
	d, err := stores.Downloads.Insert(ctx, &models.Download{LinkID: l.ID, DownloaderType: "http", Status: models.DownloadCompleted, FilePath: &path})
	require.NoError(t, err)

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sync", r.URL.Path)
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	reg := registry.New()
	reg.Upsert(&models.ServiceModule{ID: 1, ModuleType: models.ModuleTypeViewer, Name: "viewer-a", Priority: 10, BaseURL: srv.URL, IsEnabled: true})

	task := scheduler.NewViewerSync(stores, reg, transport.New(), "https://core.example")
	require.NoError(t, task(ctx))

	require.Equal(t, "/sync", gotPath)

	got, err := stores.Downloads.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, models.DownloadSyncing, got.Status)
}

func TestViewerSync_NoViewerLeavesCandidateCompleted(t *testing.T) {
	ctx := context.Background()
	stores, seriesID, groupID := viewerSyncFixture(t)

	l, err := stores.Links.Insert(ctx, &models.AnimeLink{SeriesID: seriesID, GroupID: groupID, EpisodeNo: 1, URL: "https://example.invalid/1", SourceHash: "h1", DownloadType: "http"})
	require.NoError(t, err)
	path := "series/1/group/1/ep1.mkv"
	d, err := stores.Downloads.Insert(ctx, &models.Download{LinkID: l.ID, DownloaderType: "http", Status: models.DownloadCompleted, FilePath: &path})
	require.NoError(t, err)

	reg := registry.New()
	task := scheduler.NewViewerSync(stores, reg, transport.New(), "https://core.example")
	require.NoError(t, task(ctx))

	got, err := stores.Downloads.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, models.DownloadCompleted, got.Status)
}

func TestViewerSync_UnreachableViewerLeavesCandidateForRetry(t *testing.T) {
	ctx := context.Background()
	stores, seriesID, groupID := viewerSyncFixture(t)

	l, err := stores.Links.Insert(ctx, &models.AnimeLink{SeriesID: seriesID, GroupID: groupID, EpisodeNo: 1, URL: "https://example.invalid/1", SourceHash: "h1", DownloadType: "http"})
	require.NoError(t, err)
	path := "series/1/group/1/ep1.mkv"
	d, err := stores.Downloads.Insert(ctx, &models.Download{LinkID: l.ID, DownloaderType: "http", Status: models.DownloadCompleted, FilePath: &path})
	require.NoError(t, err)

	reg := registry.New()
	reg.Upsert(&models.ServiceModule{ID: 1, ModuleType: models.ModuleTypeViewer, Name: "viewer-a", Priority: 10, BaseURL: "http://127.0.0.1:1", IsEnabled: true})
	reg.MarkHealth(1, true)

	task := scheduler.NewViewerSync(stores, reg, transport.New(), "https://core.example")
	require.NoError(t, task(ctx))

	got, err := stores.Downloads.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, models.DownloadCompleted, got.Status)
}
