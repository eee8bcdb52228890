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

type ResolutionStatus string

const (
	ResolutionUnresolved ResolutionStatus = "unresolved"
	ResolutionResolved   ResolutionStatus = "resolved"
)

// AnimeLinkConflict groups the AnimeLinks competing for the same
// (series_id, group_id, episode_no) key (§3, §4.E).
type AnimeLinkConflict struct {
	ID               int64            `json:"id"`
	SeriesID         int64            `json:"seriesId"`
	GroupID          int64            `json:"groupId"`
	EpisodeNo        int              `json:"episodeNo"`
	ResolutionStatus ResolutionStatus `json:"resolutionStatus"`
	ChosenLinkID     *int64           `json:"chosenLinkId,omitempty"`
	ResolvedAt       *time.Time       `json:"resolvedAt,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
}

type ConflictStore struct {
	db dbinterface.Querier
}

func NewConflictStore(db dbinterface.Querier) *ConflictStore {
	return &ConflictStore{db: db}
}

const conflictColumns = `id, series_id, group_id, episode_no, resolution_status, chosen_link_id, resolved_at, created_at`

func scanConflict(row *sql.Row) (*AnimeLinkConflict, error) {
	out := &AnimeLinkConflict{}
	if err := row.Scan(&out.ID, &out.SeriesID, &out.GroupID, &out.EpisodeNo, &out.ResolutionStatus, &out.ChosenLinkID, &out.ResolvedAt, &out.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConflictNotFound
		}
		return nil, err
	}
	return out, nil
}

func (s *ConflictStore) Get(ctx context.Context, id int64) (*AnimeLinkConflict, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM anime_link_conflicts WHERE id = ?`, id)
	return scanConflict(row)
}

func (s *ConflictStore) GetByKey(ctx context.Context, seriesID, groupID int64, episodeNo int) (*AnimeLinkConflict, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conflictColumns+` FROM anime_link_conflicts
		WHERE series_id = ? AND group_id = ? AND episode_no = ?
	`, seriesID, groupID, episodeNo)
	return scanConflict(row)
}

// GetOrCreate finds an existing conflict record for the key, or creates an
// unresolved one. The (series_id, group_id, episode_no) unique index keeps
// this race-safe the same way the lookup-table stores do.
func (s *ConflictStore) GetOrCreate(ctx context.Context, seriesID, groupID int64, episodeNo int) (*AnimeLinkConflict, error) {
	c, err := s.GetByKey(ctx, seriesID, groupID, episodeNo)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrConflictNotFound) {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO anime_link_conflicts (series_id, group_id, episode_no, resolution_status)
		VALUES (?, ?, ?, ?)
	`, seriesID, groupID, episodeNo, ResolutionUnresolved)
	if err != nil {
		if isUniqueConstraintError(err) {
			return s.GetByKey(ctx, seriesID, groupID, episodeNo)
		}
		return nil, err
	}
	return s.GetByKey(ctx, seriesID, groupID, episodeNo)
}

func (s *ConflictStore) ListUnresolved(ctx context.Context) ([]*AnimeLinkConflict, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conflictColumns+` FROM anime_link_conflicts
		WHERE resolution_status = 'unresolved'
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AnimeLinkConflict
	for rows.Next() {
		c := &AnimeLinkConflict{}
		if err := rows.Scan(&c.ID, &c.SeriesID, &c.GroupID, &c.EpisodeNo, &c.ResolutionStatus, &c.ChosenLinkID, &c.ResolvedAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *ConflictStore) List(ctx context.Context) ([]*AnimeLinkConflict, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+conflictColumns+` FROM anime_link_conflicts ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AnimeLinkConflict
	for rows.Next() {
		c := &AnimeLinkConflict{}
		if err := rows.Scan(&c.ID, &c.SeriesID, &c.GroupID, &c.EpisodeNo, &c.ResolutionStatus, &c.ChosenLinkID, &c.ResolvedAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkResolved records the chosen link for a manually-resolved conflict
// (§4.E resolution procedure).
func (s *ConflictStore) MarkResolved(ctx context.Context, id, chosenLinkID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE anime_link_conflicts
		SET resolution_status = ?, chosen_link_id = ?, resolved_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, ResolutionResolved, chosenLinkID, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflictNotFound
	}
	return nil
}

// Delete removes one conflict record by id, returning ErrConflictNotFound
// if no row matched. The detector's auto-heal step calls it for records
// whose group no longer has competing active links (§4.E).
func (s *ConflictStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM anime_link_conflicts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflictNotFound
	}
	return nil
}

// ErrAlreadyResolved signals a resolve attempt on a conflict that is no
// longer unresolved.
var ErrAlreadyResolved = errors.New("conflict already resolved")
