// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/moistari/rls"

	"github.com/kitsune-sh/kitsune-core/internal/domain"
	"github.com/kitsune-sh/kitsune-core/internal/models"
	"github.com/kitsune-sh/kitsune-core/internal/titleparser"
)

// TitleParsersHandler implements the operator-facing title parser CRUD
// endpoints and the (NEW) preview endpoint from SPEC_FULL.md §4.C that
// lets an operator try a candidate parser against a sample title without
// persisting anything.
type TitleParsersHandler struct {
	parsers  *models.TitleParserStore
	pipeline *titleparser.Pipeline
}

func NewTitleParsersHandler(parsers *models.TitleParserStore, pipeline *titleparser.Pipeline) *TitleParsersHandler {
	return &TitleParsersHandler{parsers: parsers, pipeline: pipeline}
}

// List handles GET /title-parsers.
func (h *TitleParsersHandler) List(w http.ResponseWriter, r *http.Request) {
	parsers, err := h.parsers.List(r.Context())
	if err != nil {
		writeError(w, domain.Internal("list title parsers", err))
		return
	}
	RespondJSON(w, http.StatusOK, parsers)
}

// Get handles GET /title-parsers/:id.
func (h *TitleParsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIntParam64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := h.parsers.Get(r.Context(), id)
	if err != nil {
		if classified, ok := classifySentinel(err, models.ErrParserNotFound, "title parser not found"); ok {
			writeError(w, classified)
			return
		}
		writeError(w, domain.Internal("load title parser", err))
		return
	}
	RespondJSON(w, http.StatusOK, p)
}

type titleParserRequest struct {
	Name            string                   `json:"name"`
	Priority        int                      `json:"priority"`
	IsEnabled       bool                     `json:"isEnabled"`
	ConditionRegex  string                   `json:"conditionRegex"`
	ParseRegex      string                   `json:"parseRegex"`
	FieldExtractors []models.FieldExtractor  `json:"fieldExtractors"`
}

// Create handles POST /title-parsers.
func (h *TitleParsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, err := DecodeJSON[titleParserRequest](r)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" || req.ConditionRegex == "" || req.ParseRegex == "" {
		writeError(w, domain.InvalidInput("name, conditionRegex and parseRegex are required"))
		return
	}

	p, err := h.parsers.Create(r.Context(), &models.TitleParser{
		Name:            req.Name,
		Priority:        req.Priority,
		IsEnabled:       req.IsEnabled,
		ConditionRegex:  req.ConditionRegex,
		ParseRegex:      req.ParseRegex,
		FieldExtractors: req.FieldExtractors,
	})
	if err != nil {
		writeError(w, domain.Internal("create title parser", err))
		return
	}
	RespondJSON(w, http.StatusCreated, p)
}

// Update handles PUT /title-parsers/:id. A changed condition/parse regex
// invalidates the pipeline's compiled-regex cache entry for this parser
// id so the next pipeline run recompiles rather than reusing a stale
// pattern (the cache key is (id, condition_regex, parse_regex)).
func (h *TitleParsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIntParam64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := DecodeJSON[titleParserRequest](r)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	existing, err := h.parsers.Get(ctx, id)
	if err != nil {
		if classified, ok := classifySentinel(err, models.ErrParserNotFound, "title parser not found"); ok {
			writeError(w, classified)
			return
		}
		writeError(w, domain.Internal("load title parser", err))
		return
	}

	p, err := h.parsers.Update(ctx, &models.TitleParser{
		ID:              id,
		Name:            req.Name,
		Priority:        req.Priority,
		IsEnabled:       req.IsEnabled,
		ConditionRegex:  req.ConditionRegex,
		ParseRegex:      req.ParseRegex,
		FieldExtractors: req.FieldExtractors,
	})
	if err != nil {
		if classified, ok := classifySentinel(err, models.ErrParserNotFound, "title parser not found"); ok {
			writeError(w, classified)
			return
		}
		writeError(w, domain.Internal("update title parser", err))
		return
	}

	h.pipeline.Invalidate(id, existing.ConditionRegex, existing.ParseRegex)
	RespondJSON(w, http.StatusOK, p)
}

// Delete handles DELETE /title-parsers/:id.
func (h *TitleParsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIntParam64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	existing, err := h.parsers.Get(ctx, id)
	if err != nil {
		if classified, ok := classifySentinel(err, models.ErrParserNotFound, "title parser not found"); ok {
			writeError(w, classified)
			return
		}
		writeError(w, domain.Internal("load title parser", err))
		return
	}

	if err := h.parsers.Delete(ctx, id); err != nil {
		if classified, ok := classifySentinel(err, models.ErrParserNotFound, "title parser not found"); ok {
			writeError(w, classified)
			return
		}
		writeError(w, domain.Internal("delete title parser", err))
		return
	}
	h.pipeline.Invalidate(id, existing.ConditionRegex, existing.ParseRegex)
	RespondJSON(w, http.StatusOK, nil)
}

type previewRequest struct {
	SampleTitle string `json:"sampleTitle"`
}

type previewResponse struct {
	Outcome            string                    `json:"outcome"`
	Parsed             *titleparser.ParsedResult `json:"parsed,omitempty"`
	Error              string                    `json:"error,omitempty"`
	HeuristicSuggestion *heuristicSuggestion     `json:"heuristicSuggestion,omitempty"`
}

// heuristicSuggestion is a small, preview-only projection of an rls.Release
// used purely as an authoring aid — it never feeds the committed pipeline
// result (SPEC_FULL.md §4.C).
type heuristicSuggestion struct {
	Title     string `json:"title"`
	Series    int    `json:"series,omitempty"`
	Episode   int    `json:"episode,omitempty"`
	Group     string `json:"group,omitempty"`
	Resolution string `json:"resolution,omitempty"`
}

// Preview handles POST /title-parsers/:id/preview: runs the stored parser
// against a sample title without persisting a RawAnimeItem or AnimeLink,
// and attaches an rls-based heuristic suggestion side-channel for the
// operator authoring the regex (SPEC_FULL.md §4.C, grounded on
// original_source/fetchers/mikanani/examples/debug_parse_title.rs).
func (h *TitleParsersHandler) Preview(w http.ResponseWriter, r *http.Request) {
	id, err := ParseIntParam64(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := DecodeJSON[previewRequest](r)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.SampleTitle == "" {
		writeError(w, domain.InvalidInput("sampleTitle is required"))
		return
	}

	ctx := r.Context()
	p, err := h.parsers.Get(ctx, id)
	if err != nil {
		if classified, ok := classifySentinel(err, models.ErrParserNotFound, "title parser not found"); ok {
			writeError(w, classified)
			return
		}
		writeError(w, domain.Internal("load title parser", err))
		return
	}

	result := h.pipeline.Run(ctx, req.SampleTitle, []*models.TitleParser{p})

	resp := previewResponse{Outcome: string(result.Outcome)}
	switch result.Outcome {
	case titleparser.OutcomeMatched:
		resp.Parsed = result.Parsed
	case titleparser.OutcomeFailed:
		if result.Err != nil {
			resp.Error = result.Err.Error()
		}
	}

	release := rls.ParseString(req.SampleTitle)
	resp.HeuristicSuggestion = &heuristicSuggestion{
		Title:      release.Title,
		Series:     release.Series,
		Episode:    release.Episode,
		Group:      release.Group,
		Resolution: release.Resolution,
	}

	RespondJSON(w, http.StatusOK, resp)
}
