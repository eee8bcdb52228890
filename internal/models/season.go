// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"

	"github.com/kitsune-sh/kitsune-core/internal/dbinterface"
)

// Season is the (year, season_name) lookup table AnimeSeries hangs off of.
type Season struct {
	ID         int64  `json:"id"`
	Year       int    `json:"year"`
	SeasonName string `json:"seasonName"`
}

type SeasonStore struct {
	db dbinterface.Querier
}

func NewSeasonStore(db dbinterface.Querier) *SeasonStore {
	return &SeasonStore{db: db}
}

func (s *SeasonStore) Get(ctx context.Context, id int64) (*Season, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, year, season_name FROM seasons WHERE id = ?`, id)
	out := &Season{}
	if err := row.Scan(&out.ID, &out.Year, &out.SeasonName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSeasonNotFound
		}
		return nil, err
	}
	return out, nil
}

func (s *SeasonStore) GetByYearName(ctx context.Context, year int, seasonName string) (*Season, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, year, season_name FROM seasons WHERE year = ? AND season_name = ?`, year, seasonName)
	out := &Season{}
	if err := row.Scan(&out.ID, &out.Year, &out.SeasonName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSeasonNotFound
		}
		return nil, err
	}
	return out, nil
}

func (s *SeasonStore) GetOrCreate(ctx context.Context, year int, seasonName string) (*Season, error) {
	if out, err := s.GetByYearName(ctx, year, seasonName); err == nil {
		return out, nil
	} else if !errors.Is(err, ErrSeasonNotFound) {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, `INSERT INTO seasons (year, season_name) VALUES (?, ?)`, year, seasonName); err != nil {
		if isUniqueConstraintError(err) {
			return s.GetByYearName(ctx, year, seasonName)
		}
		return nil, err
	}

	return s.GetByYearName(ctx, year, seasonName)
}
