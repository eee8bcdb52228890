// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package dispatcher cascade-dispatches eligible AnimeLinks across
// capability-matching downloader modules with fallback (§4.F).
package dispatcher

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/kitsune-sh/kitsune-core/internal/models"
	"github.com/kitsune-sh/kitsune-core/internal/registry"
	"github.com/kitsune-sh/kitsune-core/internal/transport"
)

// downloadItem is one entry of the submit-batch request body, matching
// the downloader contract's POST /downloads {items:[{url, save_path}]}.
type downloadItem struct {
	URL      string `json:"url"`
	SavePath string `json:"save_path"`
}

type submitRequest struct {
	Items []downloadItem `json:"items"`
}

type submitResultItem struct {
	URL    string  `json:"url"`
	Hash   *string `json:"hash,omitempty"`
	Status string  `json:"status"` // "accepted" | "rejected"
	Reason string  `json:"reason,omitempty"`
}

type submitResponse struct {
	Results []submitResultItem `json:"results"`
}

type cancelRequest struct {
	Hashes []string `json:"hashes"`
}

// Dispatcher implements the per-batch cascade described in §4.F.
type Dispatcher struct {
	links     *models.LinkStore
	downloads *models.DownloadStore
	modules   *models.ServiceModuleStore
	registry  *registry.Registry
	client    *transport.Client
}

func New(links *models.LinkStore, downloads *models.DownloadStore, modules *models.ServiceModuleStore, reg *registry.Registry, client *transport.Client) *Dispatcher {
	return &Dispatcher{links: links, downloads: downloads, modules: modules, registry: reg, client: client}
}

// activeStatuses are the Download statuses that make a link ineligible
// for re-dispatch (§4.F filtering step).
var activeStatuses = map[models.DownloadStatus]bool{
	models.DownloadDownloading: true,
	models.DownloadCompleted:   true,
	models.DownloadSyncing:     true,
	models.DownloadSynced:      true,
}

// Dispatch runs the cascade for a batch of newly-eligible link ids:
// filter → group by download_type → per-group cascade (§4.F).
func (d *Dispatcher) Dispatch(ctx context.Context, linkIDs []int64) error {
	links, err := d.links.ListByIDs(ctx, linkIDs)
	if err != nil {
		return fmt.Errorf("load links: %w", err)
	}

	eligible, err := d.filterEligible(ctx, links)
	if err != nil {
		return err
	}
	if len(eligible) == 0 {
		return nil
	}

	groups := make(map[string][]*models.AnimeLink)
	for _, l := range eligible {
		dt := l.DownloadType
		if dt == "" {
			dt = "http"
		}
		groups[dt] = append(groups[dt], l)
	}

	for downloadType, group := range groups {
		if err := d.cascade(ctx, downloadType, group); err != nil {
			log.Error().Err(err).Str("downloadType", downloadType).Msg("dispatcher cascade failed")
		}
	}
	return nil
}

func (d *Dispatcher) filterEligible(ctx context.Context, links []*models.AnimeLink) ([]*models.AnimeLink, error) {
	var out []*models.AnimeLink
	for _, l := range links {
		if l.LinkStatus != models.LinkActive || l.FilteredFlag || l.ConflictFlag {
			continue
		}
		existing, err := d.downloads.GetByLink(ctx, l.ID)
		if err != nil && err != models.ErrDownloadNotFound {
			return nil, fmt.Errorf("check existing download for link %d: %w", l.ID, err)
		}
		if existing != nil && activeStatuses[existing.Status] {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// cascade implements §4.F steps 1-6 for one download_type group.
func (d *Dispatcher) cascade(ctx context.Context, downloadType string, links []*models.AnimeLink) error {
	downloaders, err := d.modules.ListEnabledDownloadersWithCapability(ctx, downloadType)
	if err != nil {
		return fmt.Errorf("list downloaders for %q: %w", downloadType, err)
	}
	if len(downloaders) == 0 {
		return d.markNoDownloader(ctx, downloadType, links)
	}

	remaining := links
	for _, dl := range downloaders {
		if len(remaining) == 0 {
			return nil
		}
		accepted, rejected := d.submitBatch(ctx, dl, downloadType, remaining)
		for _, a := range accepted {
			path := savePath(a.link)
			if _, err := d.downloads.Insert(ctx, &models.Download{
				LinkID:         a.link.ID,
				DownloaderType: downloadType,
				Status:         models.DownloadDownloading,
				ModuleID:       &dl.ID,
				TorrentHash:    a.hash,
				FilePath:       &path,
			}); err != nil {
				log.Error().Err(err).Int64("linkId", a.link.ID).Msg("failed to persist accepted download")
			}
		}
		remaining = rejected
	}

	if len(remaining) == 0 {
		return nil
	}
	for _, l := range remaining {
		if _, err := d.downloads.Insert(ctx, &models.Download{
			LinkID:         l.ID,
			DownloaderType: downloadType,
			Status:         models.DownloadFailed,
		}); err != nil {
			log.Error().Err(err).Int64("linkId", l.ID).Msg("failed to persist failed download")
		}
	}
	return nil
}

type acceptedItem struct {
	link *models.AnimeLink
	hash *string
}

// submitBatch POSTs one downloader's share of the cascade and splits the
// result into accepted/rejected. A network error (after retries) is
// treated as "whole batch rejected, try next" per §4.F.5, never fatal.
func (d *Dispatcher) submitBatch(ctx context.Context, dl *models.ServiceModule, downloadType string, links []*models.AnimeLink) ([]acceptedItem, []*models.AnimeLink) {
	byURL := make(map[string]*models.AnimeLink, len(links))
	items := make([]downloadItem, 0, len(links))
	for _, l := range links {
		byURL[l.URL] = l
		items = append(items, downloadItem{URL: l.URL, SavePath: savePath(l)})
	}

	var resp submitResponse
	err := d.client.PostJSON(ctx, dl.BaseURL+"/downloads", submitRequest{Items: items}, &resp, transport.DispatchSubmitTimeout, transport.SubmitRetryOpts...)
	if err != nil {
		log.Warn().Err(err).Str("downloader", dl.Name).Int("batch", len(links)).Msg("downloader submit failed, cascading to next")
		return nil, links
	}

	var accepted []acceptedItem
	var rejected []*models.AnimeLink
	seen := make(map[string]bool, len(resp.Results))
	for _, r := range resp.Results {
		l, ok := byURL[r.URL]
		if !ok {
			continue
		}
		seen[r.URL] = true
		if r.Status == "accepted" {
			accepted = append(accepted, acceptedItem{link: l, hash: r.Hash})
		} else {
			rejected = append(rejected, l)
		}
	}
	// any item the downloader didn't respond to at all is treated as rejected.
	for _, l := range links {
		if !seen[l.URL] {
			rejected = append(rejected, l)
		}
	}
	return accepted, rejected
}

func savePath(l *models.AnimeLink) string {
	return fmt.Sprintf("series/%d/group/%d/ep%d", l.SeriesID, l.GroupID, l.EpisodeNo)
}

func (d *Dispatcher) markNoDownloader(ctx context.Context, downloadType string, links []*models.AnimeLink) error {
	for _, l := range links {
		if _, err := d.downloads.Insert(ctx, &models.Download{
			LinkID:         l.ID,
			DownloaderType: downloadType,
			Status:         models.DownloadNoDownloader,
		}); err != nil {
			return fmt.Errorf("insert no_downloader row for link %d: %w", l.ID, err)
		}
	}
	return nil
}

// RetryForCapability re-runs dispatch for every link stuck in
// no_downloader status for downloadType, e.g. when a new downloader
// registers advertising that capability (§4.F "Retry on downloader
// registration").
func (d *Dispatcher) RetryForCapability(ctx context.Context, downloadType string) error {
	stuck, err := d.downloads.ListByDownloaderTypeAndStatus(ctx, downloadType, models.DownloadNoDownloader)
	if err != nil {
		return fmt.Errorf("list no_downloader rows for %q: %w", downloadType, err)
	}
	if len(stuck) == 0 {
		return nil
	}

	linkIDs := make([]int64, len(stuck))
	for i, dl := range stuck {
		linkIDs[i] = dl.LinkID
		if err := d.downloads.Delete(ctx, dl.ID); err != nil {
			return fmt.Errorf("delete stale no_downloader row %d: %w", dl.ID, err)
		}
	}
	return d.Dispatch(ctx, linkIDs)
}

// Cancel sends a best-effort cancel request to a download's owning
// downloader, then marks it cancelled regardless of the downloader's
// response (§5 "Cancellation / timeouts").
func (d *Dispatcher) Cancel(ctx context.Context, downloadID int64) error {
	dl, err := d.downloads.Get(ctx, downloadID)
	if err != nil {
		return err
	}

	if dl.ModuleID != nil && dl.TorrentHash != nil {
		mod, err := d.modules.Get(ctx, *dl.ModuleID)
		if err == nil {
			if err := d.client.PostJSON(ctx, mod.BaseURL+"/downloads/cancel", cancelRequest{Hashes: []string{*dl.TorrentHash}}, nil, transport.CancelTimeout); err != nil {
				log.Debug().Err(err).Int64("downloadId", downloadID).Msg("best-effort downloader cancel failed")
			}
		}
	}

	return d.downloads.MarkCancelled(ctx, downloadID)
}
