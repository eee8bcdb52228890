// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/kitsune-sh/kitsune-core/internal/conflict"
	"github.com/kitsune-sh/kitsune-core/internal/dispatcher"
	"github.com/kitsune-sh/kitsune-core/internal/domain"
	"github.com/kitsune-sh/kitsune-core/internal/filterengine"
	"github.com/kitsune-sh/kitsune-core/internal/models"
)

// FiltersHandler implements the §6 filter-rule endpoints and the §4.D
// recomputation a rule change triggers across its scope's existing links.
type FiltersHandler struct {
	rules     *models.FilterRuleStore
	links     *models.LinkStore
	downloads *models.DownloadStore
	engine    *filterengine.Engine
	dispatch  *dispatcher.Dispatcher
	detector  *conflict.Detector
	scopes    *scopeResolver
}

func NewFiltersHandler(rules *models.FilterRuleStore, links *models.LinkStore, downloads *models.DownloadStore, engine *filterengine.Engine, dispatch *dispatcher.Dispatcher, detector *conflict.Detector, series *models.AnimeSeriesStore, rawItems *models.RawItemStore) *FiltersHandler {
	return &FiltersHandler{
		rules: rules, links: links, downloads: downloads, engine: engine, dispatch: dispatch, detector: detector,
		scopes: &scopeResolver{series: series, rawItems: rawItems},
	}
}

type createFilterRequest struct {
	TargetType   models.FilterTargetType `json:"target_type"`
	TargetID     *int64                  `json:"target_id,omitempty"`
	RuleOrder    int                     `json:"rule_order"`
	IsPositive   bool                    `json:"is_positive"`
	RegexPattern string                  `json:"regex_pattern"`
}

// Create handles POST /filters: persists the rule, then recomputes
// filtered_flag for every existing link in its scope (§4.D "Recomputation
// on rule changes"), cancelling downloads for links newly filtered out
// and dispatching links newly unfiltered back in.
func (h *FiltersHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, err := DecodeJSON[createFilterRequest](r)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.RegexPattern == "" {
		writeError(w, domain.InvalidInput("regex_pattern is required"))
		return
	}
	if req.TargetType != models.TargetGlobal && req.TargetID == nil {
		writeError(w, domain.InvalidInput("target_id is required for a non-global target_type"))
		return
	}

	ctx := r.Context()
	rule, err := h.rules.Create(ctx, &models.FilterRule{
		TargetType:   req.TargetType,
		TargetID:     req.TargetID,
		RuleOrder:    req.RuleOrder,
		IsPositive:   req.IsPositive,
		RegexPattern: req.RegexPattern,
	})
	if err != nil {
		if models.IsForeignKeyConstraintError(err) {
			writeError(w, domain.InvalidInput("target_id does not reference an existing row"))
			return
		}
		writeError(w, domain.Internal("create filter rule", err))
		return
	}

	if err := h.recomputeScope(ctx, req.TargetType, req.TargetID); err != nil {
		log.Error().Err(err).Int64("ruleId", rule.ID).Msg("filter create: recompute pass failed")
	}

	RespondJSON(w, http.StatusCreated, rule)
}

// List handles GET /filters.
func (h *FiltersHandler) List(w http.ResponseWriter, r *http.Request) {
	rules, err := h.rules.List(r.Context())
	if err != nil {
		writeError(w, domain.Internal("list filter rules", err))
		return
	}
	RespondJSON(w, http.StatusOK, rules)
}

// Delete handles DELETE /filters/:id. Removing a rule can flip inclusion
// for links that were excluded only because of it, so the same scope is
// recomputed after the row is gone.
func (h *FiltersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIntParam64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	rule, err := h.rules.Get(ctx, id)
	if err != nil {
		if classified, ok := classifySentinel(err, models.ErrFilterRuleNotFound, "filter rule not found"); ok {
			writeError(w, classified)
			return
		}
		writeError(w, domain.Internal("load filter rule", err))
		return
	}

	if err := h.rules.Delete(ctx, id); err != nil {
		if classified, ok := classifySentinel(err, models.ErrFilterRuleNotFound, "filter rule not found"); ok {
			writeError(w, classified)
			return
		}
		writeError(w, domain.Internal("delete filter rule", err))
		return
	}
	h.engine.Invalidate(rule.ID, rule.RegexPattern)

	if err := h.recomputeScope(ctx, rule.TargetType, rule.TargetID); err != nil {
		log.Error().Err(err).Int64("ruleId", id).Msg("filter delete: recompute pass failed")
	}

	RespondJSON(w, http.StatusOK, nil)
}

// recomputeScope re-evaluates every link in a rule's scope against its
// full current rule set, persists flag changes in bulk, and re-drives
// dispatch/cancel for whichever links transitioned.
func (h *FiltersHandler) recomputeScope(ctx context.Context, targetType models.FilterTargetType, targetID *int64) error {
	links, err := h.links.ListByScope(ctx, targetType, targetID)
	if err != nil {
		return err
	}
	if len(links) == 0 {
		return nil
	}

	var newlyFiltered, newlyUnfiltered []int64
	for _, link := range links {
		keys, err := h.scopeKeysFor(ctx, link)
		if err != nil {
			log.Warn().Err(err).Int64("linkId", link.ID).Msg("recompute: failed to resolve scope keys, skipping")
			continue
		}
		rules, err := h.rules.ListForScopes(ctx, keys.AnimeID, keys.SeriesID, keys.GroupID, keys.FetcherID)
		if err != nil {
			return err
		}
		title := link.URL
		if link.Title != nil {
			title = *link.Title
		}
		_, transition, err := h.engine.RecomputeOne(link, title, rules)
		if err != nil {
			log.Warn().Err(err).Int64("linkId", link.ID).Msg("recompute: filter evaluation failed, leaving flag unchanged")
			continue
		}
		if transition == nil {
			continue
		}
		if transition.NewlyFiltered {
			newlyFiltered = append(newlyFiltered, link.ID)
		} else if transition.NewlyUnfiltered {
			newlyUnfiltered = append(newlyUnfiltered, link.ID)
		}
	}

	if len(newlyFiltered) > 0 {
		if err := h.links.SetFilteredFlags(ctx, newlyFiltered, true); err != nil {
			return err
		}
		h.cancelDownloads(ctx, newlyFiltered)
	}
	if len(newlyUnfiltered) > 0 {
		if err := h.links.SetFilteredFlags(ctx, newlyUnfiltered, false); err != nil {
			return err
		}
	}

	// A filter recompute can change which links are still conflict
	// candidates (e.g. filtering out one sibling drops a group to
	// cardinality <=1), so §4.E's auto-dispatch policy names filter
	// recompute as a detection trigger alongside ingestion. Re-run
	// detection and fold its newly-eligible ids in with the links this
	// pass itself unfiltered before dispatching.
	detectResult, err := h.detector.Detect(ctx)
	if err != nil {
		return err
	}
	dispatchCandidates := append(newlyUnfiltered, detectResult.NewlyEligibleLinkIDs...)
	if len(dispatchCandidates) > 0 {
		if err := h.dispatch.Dispatch(ctx, dispatchCandidates); err != nil {
			log.Error().Err(err).Msg("recompute: dispatch pass for newly-eligible links failed")
		}
	}
	return nil
}

// cancelDownloads best-effort-cancels any in-flight download for links
// that just became filtered (§4.D "newly_filtered: cancel in-flight downloads").
func (h *FiltersHandler) cancelDownloads(ctx context.Context, linkIDs []int64) {
	for _, linkID := range linkIDs {
		dl, err := h.downloads.GetByLink(ctx, linkID)
		if err != nil {
			continue
		}
		if dl.Status != models.DownloadDownloading {
			continue
		}
		if err := h.dispatch.Cancel(ctx, dl.ID); err != nil {
			log.Warn().Err(err).Int64("downloadId", dl.ID).Msg("recompute: cancel for newly-filtered link failed")
		}
	}
}

func (h *FiltersHandler) scopeKeysFor(ctx context.Context, link *models.AnimeLink) (filterengine.ScopeKeys, error) {
	return h.scopes.resolve(ctx, link)
}
