// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/kitsune-sh/kitsune-core/internal/domain"
	"github.com/kitsune-sh/kitsune-core/internal/models"
)

// SyncHandler implements POST /sync-callback (§4.G step 4): a viewer
// reports the outcome of a /sync request it previously accepted.
type SyncHandler struct {
	downloads *models.DownloadStore
}

func NewSyncHandler(downloads *models.DownloadStore) *SyncHandler {
	return &SyncHandler{downloads: downloads}
}

type syncCallbackRequest struct {
	DownloadID   int64  `json:"download_id"`
	Status       string `json:"status"`
	TargetPath   string `json:"target_path,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Callback handles POST /sync-callback. status=synced stores target_path
// and marks the row synced; status=failed increments sync_retry_count,
// flipping to sync_failed at 3 and otherwise reverting to completed so
// the next viewer-sync tick retries it (§4.G step 4).
func (h *SyncHandler) Callback(w http.ResponseWriter, r *http.Request) {
	req, err := DecodeJSON[syncCallbackRequest](r)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.DownloadID == 0 {
		writeError(w, domain.InvalidInput("download_id is required"))
		return
	}

	ctx := r.Context()
	switch req.Status {
	case "synced":
		if err := h.downloads.MarkSynced(ctx, req.DownloadID, req.TargetPath); err != nil {
			if classified, ok := classifySentinel(err, models.ErrDownloadNotFound, "download not found"); ok {
				writeError(w, classified)
				return
			}
			writeError(w, domain.Internal("mark download synced", err))
			return
		}
	case "failed":
		if err := h.downloads.MarkSyncFailedOrRetry(ctx, req.DownloadID, req.ErrorMessage); err != nil {
			if classified, ok := classifySentinel(err, models.ErrDownloadNotFound, "download not found"); ok {
				writeError(w, classified)
				return
			}
			writeError(w, domain.Internal("mark download sync failure", err))
			return
		}
	default:
		writeError(w, domain.InvalidInput("status must be \"synced\" or \"failed\""))
		return
	}

	RespondJSON(w, http.StatusOK, nil)
}
