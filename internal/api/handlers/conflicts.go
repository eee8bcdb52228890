// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/kitsune-sh/kitsune-core/internal/conflict"
	"github.com/kitsune-sh/kitsune-core/internal/dispatcher"
	"github.com/kitsune-sh/kitsune-core/internal/domain"
	"github.com/kitsune-sh/kitsune-core/internal/models"
)

// ConflictsHandler implements the §6 link-conflict endpoints: listing
// unresolved conflicts with their candidate links, and manual resolution.
type ConflictsHandler struct {
	conflicts *models.ConflictStore
	links     *models.LinkStore
	detector  *conflict.Detector
	dispatch  *dispatcher.Dispatcher
}

func NewConflictsHandler(conflicts *models.ConflictStore, links *models.LinkStore, detector *conflict.Detector, dispatch *dispatcher.Dispatcher) *ConflictsHandler {
	return &ConflictsHandler{conflicts: conflicts, links: links, detector: detector, dispatch: dispatch}
}

type conflictWithCandidates struct {
	*models.AnimeLinkConflict
	CandidateLinks []*models.AnimeLink `json:"candidateLinks"`
}

// List handles GET /link-conflicts, attaching each unresolved conflict's
// current active group members so an operator can choose among them
// without a second round trip.
func (h *ConflictsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conflicts, err := h.conflicts.ListUnresolved(ctx)
	if err != nil {
		writeError(w, domain.Internal("list unresolved conflicts", err))
		return
	}

	out := make([]conflictWithCandidates, 0, len(conflicts))
	for _, c := range conflicts {
		members, err := h.links.ListByGroupKey(ctx, c.SeriesID, c.GroupID, c.EpisodeNo)
		if err != nil {
			writeError(w, domain.Internal("list conflict group members", err))
			return
		}
		active := make([]*models.AnimeLink, 0, len(members))
		for _, m := range members {
			if m.LinkStatus == models.LinkActive {
				active = append(active, m)
			}
		}
		out = append(out, conflictWithCandidates{AnimeLinkConflict: c, CandidateLinks: active})
	}

	RespondJSON(w, http.StatusOK, out)
}

type resolveConflictRequest struct {
	ChosenLinkID int64 `json:"chosen_link_id"`
}

// Resolve handles POST /link-conflicts/:id/resolve. The chosen link is
// re-dispatched in case it had been stranded by the now-resolved conflict
// flag (§4.E: resolution clears the chosen link's conflict_flag, which
// makes it eligible again).
func (h *ConflictsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIntParam64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := DecodeJSON[resolveConflictRequest](r)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.ChosenLinkID == 0 {
		writeError(w, domain.InvalidInput("chosen_link_id is required"))
		return
	}

	ctx := r.Context()
	if err := h.detector.Resolve(ctx, id, req.ChosenLinkID); err != nil {
		switch {
		case err == conflict.ErrInvalidChoice:
			writeError(w, domain.InvalidInput(err.Error()))
			return
		case err == models.ErrAlreadyResolved:
			writeError(w, domain.AlreadyResolved(err.Error()))
			return
		}
		if classified, ok := classifySentinel(err, models.ErrConflictNotFound, "conflict not found"); ok {
			writeError(w, classified)
			return
		}
		writeError(w, domain.Internal("resolve conflict", err))
		return
	}

	if err := h.dispatch.Dispatch(ctx, []int64{req.ChosenLinkID}); err != nil {
		writeError(w, domain.Internal("dispatch chosen link", err))
		return
	}

	RespondJSON(w, http.StatusOK, nil)
}
