// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package registry holds the in-memory mirror of live external modules
// (fetchers, downloaders, viewers) the core talks to over HTTP.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog/log"

	"github.com/kitsune-sh/kitsune-core/internal/models"
)

// RegisteredModule is the registry's mirror of a ServiceModule, enriched
// with the liveness fields the repository row doesn't carry.
type RegisteredModule struct {
	ID             int64
	ModuleType     models.ModuleType
	Name           string
	Version        string
	ParsedVersion  *semver.Version
	Priority       int
	BaseURL        string
	Capabilities   []string
	IsHealthy      bool
	LastHealthCheck time.Time
}

func (m RegisteredModule) clone() *RegisteredModule {
	caps := make([]string, len(m.Capabilities))
	copy(caps, m.Capabilities)
	m.Capabilities = caps
	return &m
}

// Registry is a mutex-guarded map of live ServiceModules, keyed by
// module_id. Readers clone entries before returning them so lock hold
// time never spans an HTTP call (§4.B, §5 "clone-on-read").
type Registry struct {
	mu      sync.RWMutex
	modules map[int64]*RegisteredModule
}

func New() *Registry {
	return &Registry{modules: make(map[int64]*RegisteredModule)}
}

// Upsert registers or refreshes a module. A version string that fails to
// parse as semver is accepted but logged at warn — capability negotiation
// never depends on the parsed version, only on the Capabilities set, per
// §4.B's exact wording.
func (r *Registry) Upsert(m *models.ServiceModule) *RegisteredModule {
	var parsed *semver.Version
	if m.Version != "" {
		v, err := semver.NewVersion(m.Version)
		if err != nil {
			log.Warn().Err(err).Str("module", m.Name).Str("version", m.Version).
				Msg("registered module version does not parse as semver")
		} else {
			parsed = v
		}
	}

	entry := &RegisteredModule{
		ID:              m.ID,
		ModuleType:      m.ModuleType,
		Name:            m.Name,
		Version:         m.Version,
		ParsedVersion:   parsed,
		Priority:        m.Priority,
		BaseURL:         m.BaseURL,
		Capabilities:    m.Capabilities,
		IsHealthy:       true,
		LastHealthCheck: time.Now(),
	}

	r.mu.Lock()
	r.modules[m.ID] = entry
	r.mu.Unlock()

	return entry.clone()
}

// Remove drops a module from the mirror, e.g. after repeated health
// check failures or explicit deregistration.
func (r *Registry) Remove(moduleID int64) {
	r.mu.Lock()
	delete(r.modules, moduleID)
	r.mu.Unlock()
}

// Get returns a cloned snapshot of a registered module, or false if it
// is not present (not yet registered, or removed).
func (r *Registry) Get(moduleID int64) (*RegisteredModule, bool) {
	r.mu.RLock()
	entry, ok := r.modules[moduleID]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return entry.clone(), true
}

// MarkHealth updates a module's health without touching any other field;
// called by schedulers observing call success/failure.
func (r *Registry) MarkHealth(moduleID int64, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.modules[moduleID]
	if !ok {
		return
	}
	entry.IsHealthy = healthy
	entry.LastHealthCheck = time.Now()
}

// ListByType returns a snapshot of all registered modules of a type,
// sorted by priority descending then module_id ascending — the same
// cascade order the repository layer's SQL queries use, so callers that
// only need the in-memory mirror don't have to round-trip the database.
func (r *Registry) ListByType(moduleType models.ModuleType) []*RegisteredModule {
	r.mu.RLock()
	out := make([]*RegisteredModule, 0, len(r.modules))
	for _, entry := range r.modules {
		if entry.ModuleType == moduleType {
			out = append(out, entry.clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListHealthyWithCapability returns the healthy registered modules of
// moduleType advertising downloadType, sorted by the §4.F.1 cascade order.
// It does not filter on is_enabled; the registry keeps no such field.
func (r *Registry) ListHealthyWithCapability(moduleType models.ModuleType, downloadType string) []*RegisteredModule {
	all := r.ListByType(moduleType)
	out := make([]*RegisteredModule, 0, len(all))
	for _, entry := range all {
		if !entry.IsHealthy {
			continue
		}
		for _, c := range entry.Capabilities {
			if c == downloadType {
				out = append(out, entry)
				break
			}
		}
	}
	return out
}

// Len reports the number of registered modules, used by /health checks
// and tests.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}

// LoadAll replaces the registry's contents from a cold repository read,
// called at startup before schedulers begin ticking.
func (r *Registry) LoadAll(modules []*models.ServiceModule) {
	r.mu.Lock()
	r.modules = make(map[int64]*RegisteredModule, len(modules))
	r.mu.Unlock()

	for _, m := range modules {
		r.Upsert(m)
	}
}
