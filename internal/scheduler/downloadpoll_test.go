// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scheduler_test

import (
	"context"
	"encoding/json"
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

func downloadPollFixture(t *testing.T) (*models.LinkStore, *models.DownloadStore, int64, int64) {
	t.Helper()
	ctx := context.Background()
	db := testdb.Open(t, "downloadpoll")

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

	return links, downloads, s.ID, group.ID
}

func TestDownloadPoll_MapsCompletedAndUpdatesProgress(t *testing.T) {
	ctx := context.Background()
	links, downloads, seriesID, groupID := downloadPollFixture(t)

	l, err := links.Insert(ctx, &models.AnimeLink{SeriesID: seriesID, GroupID: groupID, EpisodeNo: 1, URL: "https://example.invalid/1", SourceHash: "h1", DownloadType: "http"})
	require.NoError(t, err)

	hash := "abc"
	path := "series/1/group/1/ep1"
	d, err := downloads.Insert(ctx, &models.Download{LinkID: l.ID, DownloaderType: "http", Status: models.DownloadDownloading, ModuleID: int64Ptr(1), TorrentHash: &hash, FilePath: &path})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"statuses": []map[string]any{
				{"hash": hash, "status": "completed", "progress": 1.0, "size": 1000},
			},
		})
	}))
	defer srv.Close()

	reg := registry.New()
	reg.Upsert(&models.ServiceModule{ID: 1, ModuleType: models.ModuleTypeDownloader, Name: "downloader-a", Priority: 10, BaseURL: srv.URL})

	task := scheduler.NewDownloadPoll(downloads, reg, transport.New())
	require.NoError(t, task(ctx))

	got, err := downloads.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, models.DownloadCompleted, got.Status)
	require.NotNil(t, got.FilePath)
	require.Equal(t, path, *got.FilePath)
}

func TestDownloadPoll_MarksDownloaderErrorOnCallFailure(t *testing.T) {
	ctx := context.Background()
	links, downloads, seriesID, groupID := downloadPollFixture(t)

	l, err := links.Insert(ctx, &models.AnimeLink{SeriesID: seriesID, GroupID: groupID, EpisodeNo: 1, URL: "https://example.invalid/1", SourceHash: "h1", DownloadType: "http"})
	require.NoError(t, err)
	hash := "abc"
	d, err := downloads.Insert(ctx, &models.Download{LinkID: l.ID, DownloaderType: "http", Status: models.DownloadDownloading, ModuleID: int64Ptr(1), TorrentHash: &hash})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	reg := registry.New()
	reg.Upsert(&models.ServiceModule{ID: 1, ModuleType: models.ModuleTypeDownloader, Name: "downloader-a", Priority: 10, BaseURL: srv.URL})

	task := scheduler.NewDownloadPoll(downloads, reg, transport.New())
	require.NoError(t, task(ctx))

	got, err := downloads.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, models.DownloadDownloaderError, got.Status)

	entry, ok := reg.Get(1)
	require.True(t, ok)
	require.False(t, entry.IsHealthy)
}

func TestDownloadPoll_RecoversDownloaderErrorRowsOnSuccess(t *testing.T) {
	ctx := context.Background()
	links, downloads, seriesID, groupID := downloadPollFixture(t)

	l, err := links.Insert(ctx, &models.AnimeLink{SeriesID: seriesID, GroupID: groupID, EpisodeNo: 1, URL: "https://example.invalid/1", SourceHash: "h1", DownloadType: "http"})
	require.NoError(t, err)
	hash := "abc"
	d, err := downloads.Insert(ctx, &models.Download{LinkID: l.ID, DownloaderType: "http", Status: models.DownloadDownloading, ModuleID: int64Ptr(1), TorrentHash: &hash})
	require.NoError(t, err)
	require.NoError(t, downloads.MarkDownloaderError(ctx, d.ID, "previously unreachable"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"statuses": []map[string]any{
				{"hash": hash, "status": "active", "progress": 0.5, "size": 500},
			},
		})
	}))
	defer srv.Close()

	reg := registry.New()
	reg.Upsert(&models.ServiceModule{ID: 1, ModuleType: models.ModuleTypeDownloader, Name: "downloader-a", Priority: 10, BaseURL: srv.URL})

	task := scheduler.NewDownloadPoll(downloads, reg, transport.New())
	require.NoError(t, task(ctx))

	got, err := downloads.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, models.DownloadDownloading, got.Status)
}

func int64Ptr(v int64) *int64 { return &v }
