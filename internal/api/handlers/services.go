// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kitsune-sh/kitsune-core/internal/dispatcher"
	"github.com/kitsune-sh/kitsune-core/internal/domain"
	"github.com/kitsune-sh/kitsune-core/internal/models"
	"github.com/kitsune-sh/kitsune-core/internal/registry"
	"github.com/kitsune-sh/kitsune-core/internal/scheduler"
)

// ServicesHandler implements the §6 module-registration endpoints backing
// Component B's Service Registry.
type ServicesHandler struct {
	modules    *models.ServiceModuleStore
	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
	scheduler  *scheduler.Scheduler
}

func NewServicesHandler(modules *models.ServiceModuleStore, reg *registry.Registry, dispatch *dispatcher.Dispatcher, sched *scheduler.Scheduler) *ServicesHandler {
	return &ServicesHandler{modules: modules, registry: reg, dispatcher: dispatch, scheduler: sched}
}

type registerServiceRequest struct {
	ModuleType   models.ModuleType `json:"module_type"`
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	IsEnabled    bool              `json:"is_enabled"`
	Priority     int               `json:"priority"`
	BaseURL      string            `json:"base_url"`
	Capabilities []string          `json:"capabilities,omitempty"`
}

type registerServiceResponse struct {
	ServiceID int64 `json:"service_id"`
}

// Register handles POST /services/register: upserts a ServiceModule by
// name, refreshes the in-memory registry mirror, and — when a downloader
// with new capabilities just came online — re-drives dispatch for any
// links stranded with status no_downloader (§4.B, §4.F "Retry on
// downloader registration").
func (h *ServicesHandler) Register(w http.ResponseWriter, r *http.Request) {
	req, err := DecodeJSON[registerServiceRequest](r)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" || req.BaseURL == "" {
		writeError(w, domain.InvalidInput("name and base_url are required"))
		return
	}

	ctx := r.Context()
	module, err := h.modules.Upsert(ctx, &models.ServiceModule{
		ModuleType: req.ModuleType,
		Name:       req.Name,
		Version:    req.Version,
		IsEnabled:  req.IsEnabled,
		Priority:   req.Priority,
		BaseURL:    req.BaseURL,
	})
	if err != nil {
		writeError(w, domain.Internal("upsert service module", err))
		return
	}

	if req.ModuleType == models.ModuleTypeDownloader {
		if err := h.modules.SetCapabilities(ctx, module.ID, req.Capabilities); err != nil {
			writeError(w, domain.Internal("set downloader capabilities", err))
			return
		}
		module.Capabilities = req.Capabilities
	}

	h.registry.Upsert(module)

	if req.ModuleType == models.ModuleTypeDownloader {
		for _, dt := range req.Capabilities {
			if err := h.dispatcher.RetryForCapability(ctx, dt); err != nil {
				writeError(w, domain.Internal("retry stranded dispatch", err))
				return
			}
		}
	}

	// §4.G: a newly-registered viewer immediately drains any sync backlog
	// rather than waiting for the next tick.
	if req.ModuleType == models.ModuleTypeViewer {
		h.scheduler.Trigger(scheduler.TaskNameViewerSync)
	}

	RespondJSON(w, http.StatusOK, registerServiceResponse{ServiceID: module.ID})
}

// List handles GET /services (optional GET /services/:type).
func (h *ServicesHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	moduleType := chi.URLParam(r, "type")
	var (
		modules []*models.ServiceModule
		err     error
	)
	if moduleType != "" {
		modules, err = h.modules.ListByType(ctx, models.ModuleType(moduleType))
	} else {
		modules, err = h.modules.List(ctx)
	}
	if err != nil {
		writeError(w, domain.Internal("list service modules", err))
		return
	}

	RespondJSON(w, http.StatusOK, modules)
}
