// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/kitsune-sh/kitsune-core/internal/domain"
	"github.com/kitsune-sh/kitsune-core/internal/models"
	"github.com/kitsune-sh/kitsune-core/internal/registry"
	"github.com/kitsune-sh/kitsune-core/internal/transport"
)

// SubscriptionsHandler implements the §6 subscription endpoints, including
// the fetcher auto-selection broadcast described in §5 ("subscription
// broadcast channel ... fan-out and lossy-tolerant").
type SubscriptionsHandler struct {
	subscriptions *models.SubscriptionStore
	registry      *registry.Registry
	client        *transport.Client
}

func NewSubscriptionsHandler(subscriptions *models.SubscriptionStore, reg *registry.Registry, client *transport.Client) *SubscriptionsHandler {
	return &SubscriptionsHandler{subscriptions: subscriptions, registry: reg, client: client}
}

type createSubscriptionRequest struct {
	SourceURL            string `json:"source_url"`
	FetchIntervalMinutes int    `json:"fetch_interval_minutes"`
	FetcherID            *int64 `json:"fetcher_id,omitempty"`
	SourceType           string `json:"source_type,omitempty"`
}

type canHandleRequest struct {
	SourceURL  string `json:"source_url"`
	SourceType string `json:"source_type"`
}

type canHandleResponse struct {
	CanHandle bool `json:"can_handle"`
	Priority  int  `json:"priority"`
}

// Create handles POST /subscriptions. When fetcher_id is omitted, every
// registered fetcher is fanned out a POST /can-handle-subscription in
// parallel (a bounded, lossy-tolerant broadcast per §5) and the
// highest-priority responder that can handle it wins. Creation waits until
// every fetcher has answered or its call has failed or timed out; a failed
// call counts as a decline.
func (h *SubscriptionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, err := DecodeJSON[createSubscriptionRequest](r)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.SourceURL == "" || req.FetchIntervalMinutes <= 0 {
		writeError(w, domain.InvalidInput("source_url and a positive fetch_interval_minutes are required"))
		return
	}

	ctx := r.Context()
	sub := &models.Subscription{
		SourceURL:            req.SourceURL,
		FetchIntervalMinutes: req.FetchIntervalMinutes,
		IsActive:             true,
	}

	if req.FetcherID != nil {
		sub.FetcherID = req.FetcherID
		sub.AssignmentStatus = models.AssignmentAssigned
	} else if winner := h.selectFetcher(ctx, req.SourceURL, req.SourceType); winner != nil {
		sub.FetcherID = &winner.ID
		sub.AssignmentStatus = models.AssignmentAutoAssigned
		sub.AutoSelected = true
	} else {
		sub.AssignmentStatus = models.AssignmentPending
	}

	created, err := h.subscriptions.Create(ctx, sub)
	if err != nil {
		if err == models.ErrSubscriptionConflict {
			writeError(w, domain.Conflict("subscription with that source_url already exists"))
			return
		}
		writeError(w, domain.Internal("create subscription", err))
		return
	}

	RespondJSON(w, http.StatusCreated, created)
}

type fetcherCandidate struct {
	module   *registry.RegisteredModule
	priority int
}

// selectFetcher broadcasts POST /can-handle-subscription to every
// registered fetcher concurrently and returns the can_handle=true
// responder with the highest reported priority (ties broken by the
// registry's own priority field, then module id), or nil if none
// responded positively.
func (h *SubscriptionsHandler) selectFetcher(ctx context.Context, sourceURL, sourceType string) *registry.RegisteredModule {
	fetchers := h.registry.ListByType(models.ModuleTypeFetcher)
	if len(fetchers) == 0 {
		return nil
	}

	resultCh := make(chan fetcherCandidate, len(fetchers))
	for _, f := range fetchers {
		go func(f *registry.RegisteredModule) {
			var resp canHandleResponse
			err := h.client.PostJSON(ctx, f.BaseURL+"/can-handle-subscription", canHandleRequest{
				SourceURL:  sourceURL,
				SourceType: sourceType,
			}, &resp, transport.FetchTriggerTimeout)
			if err != nil {
				log.Debug().Err(err).Str("fetcher", f.Name).Msg("subscription auto-select: can-handle-subscription failed")
				resultCh <- fetcherCandidate{}
				return
			}
			if !resp.CanHandle {
				resultCh <- fetcherCandidate{}
				return
			}
			resultCh <- fetcherCandidate{module: f, priority: resp.Priority}
		}(f)
	}

	var best *fetcherCandidate
	for range fetchers {
		c := <-resultCh
		if c.module == nil {
			continue
		}
		if best == nil || c.priority > best.priority ||
			(c.priority == best.priority && (c.module.Priority > best.module.Priority ||
				(c.module.Priority == best.module.Priority && c.module.ID < best.module.ID))) {
			cc := c
			best = &cc
		}
	}
	if best == nil {
		return nil
	}
	return best.module
}

// List handles GET /subscriptions.
func (h *SubscriptionsHandler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := h.subscriptions.ListActive(r.Context())
	if err != nil {
		writeError(w, domain.Internal("list subscriptions", err))
		return
	}
	RespondJSON(w, http.StatusOK, subs)
}

// Delete handles DELETE /subscriptions/:source_url.
func (h *SubscriptionsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sourceURL, err := ParseStringParam(r, "source_url")
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.subscriptions.DeleteBySourceURL(r.Context(), sourceURL); err != nil {
		if classified, ok := classifySentinel(err, models.ErrSubscriptionNotFound, "subscription not found"); ok {
			writeError(w, classified)
			return
		}
		writeError(w, domain.Internal("delete subscription", err))
		return
	}
	RespondJSON(w, http.StatusOK, nil)
}

// ListByFetcher handles GET /fetcher-modules/:id/subscriptions.
func (h *SubscriptionsHandler) ListByFetcher(w http.ResponseWriter, r *http.Request) {
	fetcherID, err := ParseIntParam64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	subs, err := h.subscriptions.ListByFetcher(r.Context(), fetcherID)
	if err != nil {
		writeError(w, domain.Internal("list subscriptions by fetcher", err))
		return
	}
	RespondJSON(w, http.StatusOK, subs)
}
