// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scheduler

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kitsune-sh/kitsune-core/internal/models"
	"github.com/kitsune-sh/kitsune-core/internal/registry"
	"github.com/kitsune-sh/kitsune-core/internal/transport"
)

// DownloadPollInterval is the default download-poll period, overridable
// by config/env per §4.G.
const DownloadPollInterval = 60 * time.Second

type downloaderStatusEntry struct {
	Hash     string  `json:"hash"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Size     int64   `json:"size"`
}

type downloaderStatusResponse struct {
	Statuses []downloaderStatusEntry `json:"statuses"`
}

// NewDownloadPoll builds the download-poll TaskFunc: for every registered
// downloader, reconcile its downloading rows (and probe its
// downloader_error rows for recovery) via one GET /downloads call (§4.G).
func NewDownloadPoll(downloads *models.DownloadStore, reg *registry.Registry, client *transport.Client) TaskFunc {
	return func(ctx context.Context) error {
		for _, dl := range reg.ListByType(models.ModuleTypeDownloader) {
			if err := pollOneDownloader(ctx, downloads, reg, client, dl); err != nil {
				log.Error().Err(err).Str("downloader", dl.Name).Msg("download-poll: reconcile failed")
			}
		}
		return nil
	}
}

func pollOneDownloader(ctx context.Context, downloads *models.DownloadStore, reg *registry.Registry, client *transport.Client, dl *registry.RegisteredModule) error {
	downloading, err := downloads.ListByModuleAndStatus(ctx, dl.ID, models.DownloadDownloading)
	if err != nil {
		return fmt.Errorf("list downloading rows: %w", err)
	}
	errored, err := downloads.ListByModuleAndStatus(ctx, dl.ID, models.DownloadDownloaderError)
	if err != nil {
		return fmt.Errorf("list downloader_error rows: %w", err)
	}
	if len(downloading) == 0 && len(errored) == 0 {
		return nil
	}

	byHash := make(map[string]*models.Download, len(downloading)+len(errored))
	hashes := make([]string, 0, len(downloading)+len(errored))
	for _, d := range append(append([]*models.Download{}, downloading...), errored...) {
		if d.TorrentHash == nil {
			continue
		}
		byHash[*d.TorrentHash] = d
		hashes = append(hashes, *d.TorrentHash)
	}

	queryURL := dl.BaseURL + "/downloads?hashes=" + url.QueryEscape(strings.Join(hashes, ","))

	var resp downloaderStatusResponse
	if err := client.GetJSON(ctx, queryURL, &resp, transport.StatusQueryTimeout); err != nil {
		reg.MarkHealth(dl.ID, false)
		for _, d := range downloading {
			if merr := downloads.MarkDownloaderError(ctx, d.ID, err.Error()); merr != nil {
				log.Error().Err(merr).Int64("downloadId", d.ID).Msg("download-poll: failed to mark downloader_error")
			}
		}
		return nil
	}
	reg.MarkHealth(dl.ID, true)

	for _, status := range resp.Statuses {
		d, ok := byHash[status.Hash]
		if !ok {
			continue
		}
		switch mapDownloaderStatus(status.Status) {
		case models.DownloadCompleted:
			if err := downloads.MarkCompletedKeepingFilePath(ctx, d.ID); err != nil {
				log.Error().Err(err).Int64("downloadId", d.ID).Msg("download-poll: failed to mark completed")
			}
		case models.DownloadFailed:
			if err := downloads.UpdateProgress(ctx, d.ID, models.DownloadFailed, status.Progress, status.Size); err != nil {
				log.Error().Err(err).Int64("downloadId", d.ID).Msg("download-poll: failed to mark failed")
			}
		default:
			if err := downloads.UpdateProgress(ctx, d.ID, models.DownloadDownloading, status.Progress, status.Size); err != nil {
				log.Error().Err(err).Int64("downloadId", d.ID).Msg("download-poll: failed to update progress")
			}
		}
	}
	return nil
}

// mapDownloaderStatus maps a downloader-native status string onto the
// core's DownloadStatus set per §4.G step 3: completed -> completed, any
// error state -> failed, anything else (active/queued/checking) ->
// downloading.
func mapDownloaderStatus(native string) models.DownloadStatus {
	switch native {
	case "completed":
		return models.DownloadCompleted
	case "error", "failed":
		return models.DownloadFailed
	default:
		return models.DownloadDownloading
	}
}
