// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dispatcher_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kitsune-sh/kitsune-core/internal/dispatcher"
	"github.com/kitsune-sh/kitsune-core/internal/models"
	"github.com/kitsune-sh/kitsune-core/internal/registry"
	"github.com/kitsune-sh/kitsune-core/internal/testdb"
	"github.com/kitsune-sh/kitsune-core/internal/transport"
)

type fixture struct {
	d         *dispatcher.Dispatcher
	links     *models.LinkStore
	downloads *models.DownloadStore
	modules   *models.ServiceModuleStore
	seriesID  int64
	groupID   int64
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db := testdb.Open(t, "dispatcher")

	animes := models.NewAnimeStore(db)
	seasons := models.NewSeasonStore(db)
	series := models.NewAnimeSeriesStore(db)
	groups := models.NewSubtitleGroupStore(db)
	links := models.NewLinkStore(db)
	downloads := models.NewDownloadStore(db)
	modules := models.NewServiceModuleStore(db)

	anime, err := animes.GetOrCreateByTitle(ctx, "Show")
	require.NoError(t, err)
	season, err := seasons.GetOrCreate(ctx, 2026, "Spring")
	require.NoError(t, err)
	s, err := series.GetOrCreate(ctx, anime.ID, 1, &season.ID)
	require.NoError(t, err)
	group, err := groups.GetOrCreate(ctx, "GroupA")
	require.NoError(t, err)

	d := dispatcher.New(links, downloads, modules, registry.New(), transport.New())

	return &fixture{d: d, links: links, downloads: downloads, modules: modules, seriesID: s.ID, groupID: group.ID}
}

func (f *fixture) insertLink(t *testing.T, episodeNo int, hash string) *models.AnimeLink {
	t.Helper()
	l, err := f.links.Insert(context.Background(), &models.AnimeLink{
		SeriesID:     f.seriesID,
		GroupID:      f.groupID,
		EpisodeNo:    episodeNo,
		URL:          "https://example.invalid/" + hash,
		SourceHash:   hash,
		DownloadType: "http",
	})
	require.NoError(t, err)
	return l
}

func (f *fixture) registerDownloader(t *testing.T, name string, priority int, baseURL string) *models.ServiceModule {
	t.Helper()
	ctx := context.Background()
	m, err := f.modules.Upsert(ctx, &models.ServiceModule{
		ModuleType: models.ModuleTypeDownloader,
		Name:       name,
		Version:    "1.0.0",
		IsEnabled:  true,
		Priority:   priority,
		BaseURL:    baseURL,
	})
	require.NoError(t, err)
	require.NoError(t, f.modules.SetCapabilities(ctx, m.ID, []string{"http"}))
	return m
}

func TestDispatch_NoDownloaderMarksLinksNoDownloader(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	l := f.insertLink(t, 1, "h1")

	require.NoError(t, f.d.Dispatch(ctx, []int64{l.ID}))

	dl, err := f.downloads.GetByLink(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, models.DownloadNoDownloader, dl.Status)
}

func TestDispatch_AcceptedByFirstDownloader(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	l := f.insertLink(t, 1, "h1")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash := "abc123"
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"url": l.URL, "hash": hash, "status": "accepted"},
			},
		})
	}))
	defer srv.Close()
	f.registerDownloader(t, "downloader-a", 10, srv.URL)

	require.NoError(t, f.d.Dispatch(ctx, []int64{l.ID}))

	dl, err := f.downloads.GetByLink(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, models.DownloadDownloading, dl.Status)
	require.NotNil(t, dl.TorrentHash)
	require.Equal(t, "abc123", *dl.TorrentHash)
}

func TestDispatch_CascadesToNextDownloaderOnReject(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	l := f.insertLink(t, 1, "h1")

	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"url": l.URL, "status": "rejected", "reason": "disk full"},
			},
		})
	}))
	defer rejecting.Close()
	accepting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash := "def456"
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"url": l.URL, "hash": hash, "status": "accepted"},
			},
		})
	}))
	defer accepting.Close()

	f.registerDownloader(t, "downloader-high", 20, rejecting.URL)
	f.registerDownloader(t, "downloader-low", 10, accepting.URL)

	require.NoError(t, f.d.Dispatch(ctx, []int64{l.ID}))

	dl, err := f.downloads.GetByLink(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, models.DownloadDownloading, dl.Status)
	require.Equal(t, "def456", *dl.TorrentHash)
}

func TestDispatch_FailedAfterAllDownloadersReject(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	l := f.insertLink(t, 1, "h1")

	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"url": l.URL, "status": "rejected"},
			},
		})
	}))
	defer rejecting.Close()
	f.registerDownloader(t, "downloader-a", 10, rejecting.URL)

	require.NoError(t, f.d.Dispatch(ctx, []int64{l.ID}))

	dl, err := f.downloads.GetByLink(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, models.DownloadFailed, dl.Status)
}

func TestDispatch_SkipsLinksAlreadyDownloading(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	l := f.insertLink(t, 1, "h1")
	_, err := f.downloads.Insert(ctx, &models.Download{LinkID: l.ID, DownloaderType: "http", Status: models.DownloadDownloading})
	require.NoError(t, err)

	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()
	f.registerDownloader(t, "downloader-a", 10, srv.URL)

	require.NoError(t, f.d.Dispatch(ctx, []int64{l.ID}))
	require.False(t, called)
}

func TestDispatch_SkipsFilteredAndConflictedLinks(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	filtered := f.insertLink(t, 1, "h1")
	require.NoError(t, f.links.SetFilteredFlags(ctx, []int64{filtered.ID}, true))
	conflicted := f.insertLink(t, 2, "h2")
	require.NoError(t, f.links.SetConflictFlags(ctx, []int64{conflicted.ID}, true))

	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()
	f.registerDownloader(t, "downloader-a", 10, srv.URL)

	require.NoError(t, f.d.Dispatch(ctx, []int64{filtered.ID, conflicted.ID}))
	require.False(t, called)

	_, err := f.downloads.GetByLink(ctx, filtered.ID)
	require.ErrorIs(t, err, models.ErrDownloadNotFound)
}

func TestRetryForCapability_RedispatchesNoDownloaderRows(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	l := f.insertLink(t, 1, "h1")

	require.NoError(t, f.d.Dispatch(ctx, []int64{l.ID}))
	dl, err := f.downloads.GetByLink(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, models.DownloadNoDownloader, dl.Status)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hash := "xyz789"
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"url": l.URL, "hash": hash, "status": "accepted"},
			},
		})
	}))
	defer srv.Close()
	f.registerDownloader(t, "downloader-a", 10, srv.URL)

	require.NoError(t, f.d.RetryForCapability(ctx, "http"))

	dl, err = f.downloads.GetByLink(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, models.DownloadDownloading, dl.Status)
}

func TestCancel_MarksCancelledEvenWithoutModule(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	l := f.insertLink(t, 1, "h1")
	dl, err := f.downloads.Insert(ctx, &models.Download{LinkID: l.ID, DownloaderType: "http", Status: models.DownloadPending})
	require.NoError(t, err)

	require.NoError(t, f.d.Cancel(ctx, dl.ID))

	got, err := f.downloads.Get(ctx, dl.ID)
	require.NoError(t, err)
	require.Equal(t, models.DownloadCancelled, got.Status)
}
