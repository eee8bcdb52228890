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

// Anime is the root catalog entity: one row per unique series title,
// created the first time a parse yields a title the core hasn't seen.
type Anime struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

type AnimeStore struct {
	db dbinterface.Querier
}

func NewAnimeStore(db dbinterface.Querier) *AnimeStore {
	return &AnimeStore{db: db}
}

func (s *AnimeStore) Get(ctx context.Context, id int64) (*Anime, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, title, created_at FROM animes WHERE id = ?`, id)
	a := &Anime{}
	if err := row.Scan(&a.ID, &a.Title, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAnimeNotFound
		}
		return nil, err
	}
	return a, nil
}

func (s *AnimeStore) GetByTitle(ctx context.Context, title string) (*Anime, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, title, created_at FROM animes WHERE title = ?`, title)
	a := &Anime{}
	if err := row.Scan(&a.ID, &a.Title, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAnimeNotFound
		}
		return nil, err
	}
	return a, nil
}

// GetOrCreateByTitle implements the ingestion handler's find-or-create
// step (§4.H): a title never seen before creates a new Anime row, lifecycle
// "created on first successful parse yielding a new title" (§3).
func (s *AnimeStore) GetOrCreateByTitle(ctx context.Context, title string) (*Anime, error) {
	if a, err := s.GetByTitle(ctx, title); err == nil {
		return a, nil
	} else if !errors.Is(err, ErrAnimeNotFound) {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, `INSERT INTO animes (title) VALUES (?)`, title); err != nil {
		if isUniqueConstraintError(err) {
			// Lost a race with a concurrent insert; the row now exists.
			return s.GetByTitle(ctx, title)
		}
		return nil, err
	}

	return s.GetByTitle(ctx, title)
}

func (s *AnimeStore) List(ctx context.Context) ([]*Anime, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, created_at FROM animes ORDER BY title ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Anime
	for rows.Next() {
		a := &Anime{}
		if err := rows.Scan(&a.ID, &a.Title, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
