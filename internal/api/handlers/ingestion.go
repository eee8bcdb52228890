// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kitsune-sh/kitsune-core/internal/conflict"
	"github.com/kitsune-sh/kitsune-core/internal/dispatcher"
	"github.com/kitsune-sh/kitsune-core/internal/domain"
	"github.com/kitsune-sh/kitsune-core/internal/filterengine"
	"github.com/kitsune-sh/kitsune-core/internal/models"
	"github.com/kitsune-sh/kitsune-core/internal/titleparser"
)

// IngestionHandler implements §4.H: decode -> per-item parse -> persist ->
// filter -> conflict detect -> dispatch.
type IngestionHandler struct {
	subscriptions *models.SubscriptionStore
	rawItems      *models.RawItemStore
	animes        *models.AnimeStore
	seasons       *models.SeasonStore
	series        *models.AnimeSeriesStore
	groups        *models.SubtitleGroupStore
	links         *models.LinkStore
	filterRules   *models.FilterRuleStore
	parsers       *models.TitleParserStore

	pipeline *titleparser.Pipeline
	engine   *filterengine.Engine
	detector *conflict.Detector
	dispatch *dispatcher.Dispatcher

	scopes *scopeResolver
}

func NewIngestionHandler(
	subscriptions *models.SubscriptionStore,
	rawItems *models.RawItemStore,
	animes *models.AnimeStore,
	seasons *models.SeasonStore,
	series *models.AnimeSeriesStore,
	groups *models.SubtitleGroupStore,
	links *models.LinkStore,
	filterRules *models.FilterRuleStore,
	parsers *models.TitleParserStore,
	pipeline *titleparser.Pipeline,
	engine *filterengine.Engine,
	detector *conflict.Detector,
	dispatch *dispatcher.Dispatcher,
) *IngestionHandler {
	return &IngestionHandler{
		subscriptions: subscriptions,
		rawItems:      rawItems,
		animes:        animes,
		seasons:       seasons,
		series:        series,
		groups:        groups,
		links:         links,
		filterRules:   filterRules,
		parsers:       parsers,
		pipeline:      pipeline,
		engine:        engine,
		detector:      detector,
		dispatch:      dispatch,
		scopes:        &scopeResolver{series: series, rawItems: rawItems},
	}
}

type ingestItem struct {
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	DownloadURL string     `json:"download_url"`
	PubDate     *time.Time `json:"pub_date,omitempty"`
}

type ingestRequest struct {
	SubscriptionID int64        `json:"subscription_id"`
	Items          []ingestItem `json:"items"`
	Success        bool         `json:"success"`
	ErrorMessage   *string      `json:"error_message,omitempty"`
}

type ingestResponse struct {
	Accepted  int `json:"accepted"`
	Duplicate int `json:"duplicate"`
	Matched   int `json:"matched"`
	NoMatch   int `json:"noMatch"`
	Failed    int `json:"failed"`
}

// IngestRawFetcherResults handles POST /raw-fetcher-results (§4.H). The
// whole batch is processed serially within the request per §5's ordering
// guarantee: every link is persisted before conflict detection runs,
// before dispatch runs.
func (h *IngestionHandler) IngestRawFetcherResults(w http.ResponseWriter, r *http.Request) {
	req, err := DecodeJSON[ingestRequest](r)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()

	if _, err := h.subscriptions.Get(ctx, req.SubscriptionID); err != nil {
		if classified, ok := classifySentinel(err, models.ErrSubscriptionNotFound, "subscription not found"); ok {
			writeError(w, classified)
			return
		}
		writeError(w, domain.Internal("load subscription", err))
		return
	}

	if !req.Success {
		msg := ""
		if req.ErrorMessage != nil {
			msg = *req.ErrorMessage
		}
		log.Warn().Int64("subscriptionId", req.SubscriptionID).Str("error", msg).Msg("ingestion: fetcher reported a failed fetch, next_fetch_at left untouched")
		RespondJSON(w, http.StatusAccepted, ingestResponse{})
		return
	}

	if err := h.subscriptions.MarkFetched(ctx, req.SubscriptionID, time.Now()); err != nil {
		writeError(w, domain.Internal("mark subscription fetched", err))
		return
	}

	resp := ingestResponse{}
	var dispatchCandidates []int64

	enabledParsers, err := h.parsers.ListEnabledOrdered(ctx)
	if err != nil {
		writeError(w, domain.Internal("load title parsers", err))
		return
	}

	for _, item := range req.Items {
		linkID, outcome, err := h.ingestOne(ctx, req.SubscriptionID, item, enabledParsers)
		if err != nil {
			log.Error().Err(err).Str("downloadUrl", item.DownloadURL).Msg("ingestion: failed to process item")
			continue
		}
		switch outcome {
		case itemDuplicate:
			resp.Duplicate++
		case itemMatched:
			resp.Accepted++
			resp.Matched++
			if linkID != 0 {
				dispatchCandidates = append(dispatchCandidates, linkID)
			}
		case itemNoMatch:
			resp.Accepted++
			resp.NoMatch++
		case itemFailed:
			resp.Accepted++
			resp.Failed++
		}
	}

	detectResult, err := h.detector.Detect(ctx)
	if err != nil {
		writeError(w, domain.Internal("run conflict detection", err))
		return
	}
	dispatchCandidates = append(dispatchCandidates, detectResult.NewlyEligibleLinkIDs...)

	if len(dispatchCandidates) > 0 {
		if err := h.dispatch.Dispatch(ctx, dispatchCandidates); err != nil {
			log.Error().Err(err).Msg("ingestion: dispatch pass failed")
		}
	}

	RespondJSON(w, http.StatusAccepted, resp)
}

type itemOutcome int

const (
	itemDuplicate itemOutcome = iota
	itemMatched
	itemNoMatch
	itemFailed
)

// ingestOne implements §4.H steps 2-3 for a single raw item, returning the
// new AnimeLink's id when one was created (so the caller can fold it into
// the post-batch dispatch candidate set).
func (h *IngestionHandler) ingestOne(ctx context.Context, subscriptionID int64, item ingestItem, parsers []*models.TitleParser) (int64, itemOutcome, error) {
	raw, err := h.rawItems.Insert(ctx, &models.RawAnimeItem{
		Title:          item.Title,
		Description:    item.Description,
		DownloadURL:    item.DownloadURL,
		PubDate:        item.PubDate,
		SubscriptionID: subscriptionID,
	})
	if err != nil {
		if err == models.ErrDuplicateRawItem {
			return 0, itemDuplicate, nil
		}
		return 0, 0, err
	}

	result := h.pipeline.Run(ctx, item.Title, parsers)
	switch result.Outcome {
	case titleparser.OutcomeNoMatch:
		if err := h.rawItems.MarkNoMatch(ctx, raw.ID); err != nil {
			return 0, 0, err
		}
		return 0, itemNoMatch, nil

	case titleparser.OutcomeFailed:
		msg := "parse failed"
		if result.Err != nil {
			msg = result.Err.Error()
		}
		if err := h.rawItems.MarkFailed(ctx, raw.ID, msg); err != nil {
			return 0, 0, err
		}
		return 0, itemFailed, nil
	}

	linkID, err := h.persistMatch(ctx, raw, result.Parsed)
	if err != nil {
		return 0, 0, err
	}

	if err := h.rawItems.MarkParsed(ctx, raw.ID, result.Parsed.ParserID); err != nil {
		return 0, 0, err
	}
	return linkID, itemMatched, nil
}

// persistMatch implements §4.H's find-or-create chain and the immediate
// filtered_flag computation, returning the new link's id. It returns 0 when
// the link already existed under this source_hash (a re-delivered batch) and
// when the new link was filtered out; neither is dispatch-eligible.
func (h *IngestionHandler) persistMatch(ctx context.Context, raw *models.RawAnimeItem, parsed *titleparser.ParsedResult) (int64, error) {
	anime, err := h.animes.GetOrCreateByTitle(ctx, parsed.AnimeTitle)
	if err != nil {
		return 0, err
	}

	var seasonID *int64
	if parsed.Season != "" && parsed.Year != "" {
		year, err := strconv.Atoi(parsed.Year)
		if err == nil {
			season, err := h.seasons.GetOrCreate(ctx, year, parsed.Season)
			if err != nil {
				return 0, err
			}
			seasonID = &season.ID
		}
	}

	series, err := h.series.GetOrCreate(ctx, anime.ID, int(parsed.SeriesNo), seasonID)
	if err != nil {
		return 0, err
	}

	groupName := parsed.SubtitleGroup
	if groupName == "" {
		groupName = "unknown"
	}
	group, err := h.groups.GetOrCreate(ctx, groupName)
	if err != nil {
		return 0, err
	}

	sourceHash := sha256Hex(raw.DownloadURL)
	title := raw.Title
	link, err := h.links.Insert(ctx, &models.AnimeLink{
		SeriesID:  series.ID,
		GroupID:   group.ID,
		EpisodeNo: int(parsed.EpisodeNo),
		Title:     &title,
		URL:       raw.DownloadURL,
		SourceHash: sourceHash,
		RawItemID: &raw.ID,
	})
	if err != nil {
		if err == models.ErrDuplicateLink {
			return 0, nil
		}
		return 0, err
	}

	keys, err := h.scopes.resolve(ctx, link)
	if err != nil {
		return 0, err
	}
	rules, err := h.filterRules.ListForScopes(ctx, keys.AnimeID, keys.SeriesID, keys.GroupID, keys.FetcherID)
	if err != nil {
		return 0, err
	}
	filtered, _, err := h.engine.RecomputeOne(link, title, rules)
	if err != nil {
		log.Warn().Err(err).Int64("linkId", link.ID).Msg("ingestion: filter evaluation failed, leaving link unfiltered")
		return link.ID, nil
	}
	if filtered {
		if err := h.links.SetFilteredFlags(ctx, []int64{link.ID}, true); err != nil {
			return 0, err
		}
		return 0, nil
	}

	return link.ID, nil
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
