// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kitsune-sh/kitsune-core/internal/dbinterface"
)

type ModuleType string

const (
	ModuleTypeFetcher    ModuleType = "fetcher"
	ModuleTypeDownloader ModuleType = "downloader"
	ModuleTypeViewer     ModuleType = "viewer"
)

// ServiceModule is an external fetcher/downloader/viewer registration (§3,
// §4.B). Capabilities (download types a downloader module accepts) live in
// the companion DownloaderCapability rows.
type ServiceModule struct {
	ID         int64      `json:"id"`
	ModuleType ModuleType `json:"moduleType"`
	Name       string     `json:"name"`
	Version    string     `json:"version"`
	IsEnabled  bool       `json:"isEnabled"`
	Priority   int        `json:"priority"`
	BaseURL    string     `json:"baseUrl"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`

	// Capabilities is populated only by calls that join downloader_capabilities.
	Capabilities []string `json:"capabilities,omitempty"`
}

type ServiceModuleStore struct {
	db dbinterface.Querier
}

func NewServiceModuleStore(db dbinterface.Querier) *ServiceModuleStore {
	return &ServiceModuleStore{db: db}
}

func (s *ServiceModuleStore) scan(row *sql.Row) (*ServiceModule, error) {
	out := &ServiceModule{}
	if err := row.Scan(&out.ID, &out.ModuleType, &out.Name, &out.Version, &out.IsEnabled, &out.Priority, &out.BaseURL, &out.CreatedAt, &out.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrServiceModuleNotFound
		}
		return nil, err
	}
	return out, nil
}

const serviceModuleColumns = `id, module_type, name, version, is_enabled, priority, base_url, created_at, updated_at`

func (s *ServiceModuleStore) Get(ctx context.Context, id int64) (*ServiceModule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serviceModuleColumns+` FROM service_modules WHERE id = ?`, id)
	return s.scan(row)
}

func (s *ServiceModuleStore) GetByName(ctx context.Context, name string) (*ServiceModule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serviceModuleColumns+` FROM service_modules WHERE name = ?`, name)
	return s.scan(row)
}

// Upsert registers a module by name (§6 POST /services/register "Upserts
// ServiceModule by name").
func (s *ServiceModuleStore) Upsert(ctx context.Context, m *ServiceModule) (*ServiceModule, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_modules (module_type, name, version, is_enabled, priority, base_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (name) DO UPDATE SET
			module_type = excluded.module_type,
			version = excluded.version,
			is_enabled = excluded.is_enabled,
			priority = excluded.priority,
			base_url = excluded.base_url,
			updated_at = CURRENT_TIMESTAMP
	`, m.ModuleType, m.Name, m.Version, m.IsEnabled, m.Priority, m.BaseURL)
	if err != nil {
		return nil, err
	}
	return s.GetByName(ctx, m.Name)
}

func (s *ServiceModuleStore) List(ctx context.Context) ([]*ServiceModule, error) {
	return s.listWhere(ctx, ``)
}

func (s *ServiceModuleStore) ListByType(ctx context.Context, moduleType ModuleType) ([]*ServiceModule, error) {
	return s.listWhere(ctx, `WHERE module_type = ?`, moduleType)
}

// ListEnabledByType filters by (module_type, is_enabled) together — per
// the original source's service_module repository, this pair is looked up
// far more often than by id alone. The registry's boot load uses List and
// the dispatcher uses ListEnabledDownloadersWithCapability, not this method.
func (s *ServiceModuleStore) ListEnabledByType(ctx context.Context, moduleType ModuleType) ([]*ServiceModule, error) {
	return s.listWhere(ctx, `WHERE module_type = ? AND is_enabled = 1`, moduleType)
}

func (s *ServiceModuleStore) listWhere(ctx context.Context, where string, args ...any) ([]*ServiceModule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+serviceModuleColumns+` FROM service_modules `+where+` ORDER BY priority DESC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ServiceModule
	for rows.Next() {
		m := &ServiceModule{}
		if err := rows.Scan(&m.ID, &m.ModuleType, &m.Name, &m.Version, &m.IsEnabled, &m.Priority, &m.BaseURL, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListEnabledDownloadersWithCapability finds enabled downloader modules
// advertising download_type, ordered highest priority first (ties by
// module_id ascending) — the exact cascade order §4.F.1 requires.
func (s *ServiceModuleStore) ListEnabledDownloadersWithCapability(ctx context.Context, downloadType string) ([]*ServiceModule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sm.id, sm.module_type, sm.name, sm.version, sm.is_enabled, sm.priority, sm.base_url, sm.created_at, sm.updated_at
		FROM service_modules sm
		JOIN downloader_capabilities dc ON dc.module_id = sm.id
		WHERE sm.module_type = 'downloader' AND sm.is_enabled = 1 AND dc.download_type = ?
		ORDER BY sm.priority DESC, sm.id ASC
	`, downloadType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ServiceModule
	for rows.Next() {
		m := &ServiceModule{}
		if err := rows.Scan(&m.ID, &m.ModuleType, &m.Name, &m.Version, &m.IsEnabled, &m.Priority, &m.BaseURL, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SetCapabilities replaces the full capability set advertised by a
// downloader module, called on registration.
func (s *ServiceModuleStore) SetCapabilities(ctx context.Context, moduleID int64, downloadTypes []string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM downloader_capabilities WHERE module_id = ?`, moduleID); err != nil {
		return err
	}
	for _, dt := range downloadTypes {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO downloader_capabilities (module_id, download_type) VALUES (?, ?)
		`, moduleID, dt); err != nil {
			return err
		}
	}
	return nil
}

func (s *ServiceModuleStore) Capabilities(ctx context.Context, moduleID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT download_type FROM downloader_capabilities WHERE module_id = ?`, moduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var dt string
		if err := rows.Scan(&dt); err != nil {
			return nil, err
		}
		out = append(out, dt)
	}
	return out, rows.Err()
}
