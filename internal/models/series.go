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

// AnimeSeries is one cour/season-run of an Anime: (anime_id, series_no,
// season_id) is unique per §3.
type AnimeSeries struct {
	ID        int64      `json:"id"`
	AnimeID   int64      `json:"animeId"`
	SeriesNo  int        `json:"seriesNo"`
	SeasonID  *int64     `json:"seasonId,omitempty"`
	AirDate   *time.Time `json:"airDate,omitempty"`
	EndDate   *time.Time `json:"endDate,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

type AnimeSeriesStore struct {
	db dbinterface.Querier
}

func NewAnimeSeriesStore(db dbinterface.Querier) *AnimeSeriesStore {
	return &AnimeSeriesStore{db: db}
}

func (s *AnimeSeriesStore) scan(row *sql.Row) (*AnimeSeries, error) {
	out := &AnimeSeries{}
	if err := row.Scan(&out.ID, &out.AnimeID, &out.SeriesNo, &out.SeasonID, &out.AirDate, &out.EndDate, &out.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSeriesNotFound
		}
		return nil, err
	}
	return out, nil
}

func (s *AnimeSeriesStore) Get(ctx context.Context, id int64) (*AnimeSeries, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, anime_id, series_no, season_id, air_date, end_date, created_at FROM anime_series WHERE id = ?`, id)
	return s.scan(row)
}

// GetByKey looks up by the unique (anime_id, series_no, season_id) tuple.
// seasonID may be nil; SQLite's UNIQUE index treats distinct NULLs as
// non-equal, so the lookup matches that with an explicit IS comparison.
func (s *AnimeSeriesStore) GetByKey(ctx context.Context, animeID int64, seriesNo int, seasonID *int64) (*AnimeSeries, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, anime_id, series_no, season_id, air_date, end_date, created_at
		FROM anime_series
		WHERE anime_id = ? AND series_no = ? AND season_id IS ?
	`, animeID, seriesNo, seasonID)
	return s.scan(row)
}

func (s *AnimeSeriesStore) GetOrCreate(ctx context.Context, animeID int64, seriesNo int, seasonID *int64) (*AnimeSeries, error) {
	if out, err := s.GetByKey(ctx, animeID, seriesNo, seasonID); err == nil {
		return out, nil
	} else if !errors.Is(err, ErrSeriesNotFound) {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO anime_series (anime_id, series_no, season_id) VALUES (?, ?, ?)
	`, animeID, seriesNo, seasonID); err != nil {
		if isUniqueConstraintError(err) {
			return s.GetByKey(ctx, animeID, seriesNo, seasonID)
		}
		return nil, err
	}

	return s.GetByKey(ctx, animeID, seriesNo, seasonID)
}

func (s *AnimeSeriesStore) ListByAnime(ctx context.Context, animeID int64) ([]*AnimeSeries, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, anime_id, series_no, season_id, air_date, end_date, created_at
		FROM anime_series WHERE anime_id = ? ORDER BY series_no ASC
	`, animeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AnimeSeries
	for rows.Next() {
		item := &AnimeSeries{}
		if err := rows.Scan(&item.ID, &item.AnimeID, &item.SeriesNo, &item.SeasonID, &item.AirDate, &item.EndDate, &item.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
