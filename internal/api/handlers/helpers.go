// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/kitsune-sh/kitsune-core/internal/domain"
)

// ErrorResponse is the JSON body written by writeError (§7 "a small
// internal/domain error-kind type with an HTTP-status mapping table
// consumed by a single writeError helper").
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{Error: http.StatusText(status), Message: message})
}

// statusForKind maps a domain.Kind onto the HTTP status the API surfaces
// for it (§7).
func statusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict, domain.KindAlreadyResolved:
		return http.StatusConflict
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindUpstreamUnavailable, domain.KindBackend:
		return http.StatusBadGateway
	case domain.KindPoolExhausted:
		return http.StatusServiceUnavailable
	case domain.KindIntegrity, domain.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeError classifies err into a domain.Error (wrapping it if it isn't
// one already) and writes the matching status + ErrorResponse body. This
// is the single translation point every handler routes its repository and
// domain-layer errors through, per §7.
func writeError(w http.ResponseWriter, err error) {
	if derr, ok := domain.AsError(err); ok {
		status := statusForKind(derr.Kind)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Str("kind", string(derr.Kind)).Msg("request failed")
		}
		RespondJSON(w, status, ErrorResponse{Error: string(derr.Kind), Message: derr.Message})
		return
	}

	log.Error().Err(err).Msg("unclassified request error")
	RespondJSON(w, http.StatusInternalServerError, ErrorResponse{Error: string(domain.KindInternal), Message: "internal error"})
}

// DecodeJSON decodes r.Body into a T, returning a domain.InvalidInput error
// on malformed JSON so callers can pass it straight to writeError.
func DecodeJSON[T any](r *http.Request) (T, error) {
	var out T
	if err := json.NewDecoder(r.Body).Decode(&out); err != nil {
		return out, domain.NewError(domain.KindInvalidInput, "malformed request body", err)
	}
	return out, nil
}

// ParseIntParam64 reads a chi URL param as an int64, or a domain.InvalidInput
// error describing which param failed to parse.
func ParseIntParam64(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, domain.NewError(domain.KindInvalidInput, name+" must be an integer", err)
	}
	return id, nil
}

// ParseStringParam reads a required, non-empty chi URL param.
func ParseStringParam(r *http.Request, name string) (string, error) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		return "", domain.InvalidInput(name + " is required")
	}
	return raw, nil
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// Pagination is the parsed limit/offset pair every list endpoint accepts.
type Pagination struct {
	Limit  int
	Offset int
}

// ParsePagination reads ?limit=&offset= query params, clamping limit to
// [1, maxPageLimit] and defaulting to defaultPageLimit when absent.
func ParsePagination(r *http.Request) Pagination {
	p := Pagination{Limit: defaultPageLimit}
	q := r.URL.Query()

	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			p.Limit = n
		}
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}

	if raw := q.Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			p.Offset = n
		}
	}
	return p
}

// classifySentinel turns err into a domain NotFound error carrying message
// when errors.Is matches sentinel, and reports whether it did. It lets handlers funnel a repository error straight into
// writeError without hand-writing an errors.Is chain at every call site.
func classifySentinel(err error, sentinel error, message string) (error, bool) {
	if errors.Is(err, sentinel) {
		return domain.NotFound(message), true
	}
	return nil, false
}
