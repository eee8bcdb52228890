// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"fmt"

	"github.com/kitsune-sh/kitsune-core/internal/filterengine"
	"github.com/kitsune-sh/kitsune-core/internal/models"
)

// scopeResolver bundles the repositories needed to turn an AnimeLink back
// into the filterengine.ScopeKeys its applicable rule union is looked up
// by — a join the repository layer never needed on its own, since
// FilterRuleStore.ListForScopes and LinkStore.ListByScope only move in one
// direction each (§4.D).
type scopeResolver struct {
	series   *models.AnimeSeriesStore
	rawItems *models.RawItemStore
}

// resolve computes link's applicable ScopeKeys: anime_series and
// subtitle_group come straight off the link; anime is one hop up through
// AnimeSeries; fetcher (a subscription_id, per §4.D's "fetcher -> links
// whose raw_item_id resolves to that subscription_id") is one hop up
// through the RawAnimeItem it was parsed from, when it has one.
func (r *scopeResolver) resolve(ctx context.Context, link *models.AnimeLink) (filterengine.ScopeKeys, error) {
	keys := filterengine.ScopeKeys{
		SeriesID: &link.SeriesID,
		GroupID:  &link.GroupID,
	}

	series, err := r.series.Get(ctx, link.SeriesID)
	if err != nil {
		return keys, fmt.Errorf("resolve series %d for link %d: %w", link.SeriesID, link.ID, err)
	}
	keys.AnimeID = &series.AnimeID

	if link.RawItemID != nil {
		item, err := r.rawItems.Get(ctx, *link.RawItemID)
		if err != nil {
			return keys, fmt.Errorf("resolve raw item %d for link %d: %w", *link.RawItemID, link.ID, err)
		}
		keys.FetcherID = &item.SubscriptionID
	}

	return keys, nil
}
