// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scheduler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/kitsune-sh/kitsune-core/internal/models"
	"github.com/kitsune-sh/kitsune-core/internal/registry"
	"github.com/kitsune-sh/kitsune-core/internal/transport"
)

type viewerSyncRequest struct {
	DownloadID    int64  `json:"download_id"`
	FilePath      string `json:"file_path"`
	AnimeTitle    string `json:"anime_title"`
	SeriesNo      int    `json:"series_no"`
	EpisodeNo     int    `json:"episode_no"`
	SubtitleGroup string `json:"subtitle_group"`
	CallbackURL   string `json:"callback_url"`
}

// ViewerSyncStores bundles the repositories NewViewerSync needs to join
// AnimeLink -> AnimeSeries -> Anime and SubtitleGroup for a sync request's
// metadata (§4.G viewer-sync step 2).
type ViewerSyncStores struct {
	Downloads *models.DownloadStore
	Links     *models.LinkStore
	Series    *models.AnimeSeriesStore
	Animes    *models.AnimeStore
	Groups    *models.SubtitleGroupStore
}

// NewViewerSync builds the viewer-sync TaskFunc: for every completed
// Download with a file to hand off, pick the highest-priority healthy
// viewer and POST a sync request (§4.G).
func NewViewerSync(stores ViewerSyncStores, reg *registry.Registry, client *transport.Client, callbackBaseURL string) TaskFunc {
	return func(ctx context.Context) error {
		candidates, err := stores.Downloads.ListSyncCandidates(ctx)
		if err != nil {
			return fmt.Errorf("list sync candidates: %w", err)
		}
		if len(candidates) == 0 {
			return nil
		}

		viewer := pickViewer(reg)
		if viewer == nil {
			log.Debug().Msg("viewer-sync: no enabled viewer registered, leaving candidates completed")
			return nil
		}

		for _, d := range candidates {
			req, err := buildSyncRequest(ctx, stores, d, callbackBaseURL)
			if err != nil {
				log.Error().Err(err).Int64("downloadId", d.ID).Msg("viewer-sync: failed to build sync request")
				continue
			}

			if err := client.PostJSON(ctx, viewer.BaseURL+"/sync", req, nil, transport.ViewerSyncTimeout); err != nil {
				log.Warn().Err(err).Int64("downloadId", d.ID).Str("viewer", viewer.Name).Msg("viewer-sync: POST /sync failed, will retry next tick")
				continue
			}
			if err := stores.Downloads.MarkSyncing(ctx, d.ID); err != nil {
				log.Error().Err(err).Int64("downloadId", d.ID).Msg("viewer-sync: failed to mark syncing")
			}
		}
		return nil
	}
}

func pickViewer(reg *registry.Registry) *registry.RegisteredModule {
	for _, m := range reg.ListByType(models.ModuleTypeViewer) {
		if m.IsHealthy {
			return m
		}
	}
	return nil
}

func buildSyncRequest(ctx context.Context, stores ViewerSyncStores, d *models.Download, callbackBaseURL string) (*viewerSyncRequest, error) {
	link, err := stores.Links.Get(ctx, d.LinkID)
	if err != nil {
		return nil, fmt.Errorf("load link %d: %w", d.LinkID, err)
	}
	series, err := stores.Series.Get(ctx, link.SeriesID)
	if err != nil {
		return nil, fmt.Errorf("load series %d: %w", link.SeriesID, err)
	}
	anime, err := stores.Animes.Get(ctx, series.AnimeID)
	if err != nil {
		return nil, fmt.Errorf("load anime %d: %w", series.AnimeID, err)
	}
	group, err := stores.Groups.Get(ctx, link.GroupID)
	if err != nil {
		return nil, fmt.Errorf("load subtitle group %d: %w", link.GroupID, err)
	}

	filePath := ""
	if d.FilePath != nil {
		filePath = *d.FilePath
	}

	return &viewerSyncRequest{
		DownloadID:    d.ID,
		FilePath:      filePath,
		AnimeTitle:    anime.Title,
		SeriesNo:      series.SeriesNo,
		EpisodeNo:     link.EpisodeNo,
		SubtitleGroup: group.GroupName,
		CallbackURL:   callbackBaseURL + "/sync-callback",
	}, nil
}
