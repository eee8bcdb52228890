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

type SubtitleGroup struct {
	ID        int64     `json:"id"`
	GroupName string    `json:"groupName"`
	CreatedAt time.Time `json:"createdAt"`
}

type SubtitleGroupStore struct {
	db dbinterface.Querier
}

func NewSubtitleGroupStore(db dbinterface.Querier) *SubtitleGroupStore {
	return &SubtitleGroupStore{db: db}
}

func (s *SubtitleGroupStore) Get(ctx context.Context, id int64) (*SubtitleGroup, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, group_name, created_at FROM subtitle_groups WHERE id = ?`, id)
	out := &SubtitleGroup{}
	if err := row.Scan(&out.ID, &out.GroupName, &out.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubtitleGroupNotFound
		}
		return nil, err
	}
	return out, nil
}

func (s *SubtitleGroupStore) GetByName(ctx context.Context, name string) (*SubtitleGroup, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, group_name, created_at FROM subtitle_groups WHERE group_name = ?`, name)
	out := &SubtitleGroup{}
	if err := row.Scan(&out.ID, &out.GroupName, &out.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubtitleGroupNotFound
		}
		return nil, err
	}
	return out, nil
}

func (s *SubtitleGroupStore) GetOrCreate(ctx context.Context, name string) (*SubtitleGroup, error) {
	if out, err := s.GetByName(ctx, name); err == nil {
		return out, nil
	} else if !errors.Is(err, ErrSubtitleGroupNotFound) {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx, `INSERT INTO subtitle_groups (group_name) VALUES (?)`, name); err != nil {
		if isUniqueConstraintError(err) {
			return s.GetByName(ctx, name)
		}
		return nil, err
	}

	return s.GetByName(ctx, name)
}

func (s *SubtitleGroupStore) List(ctx context.Context) ([]*SubtitleGroup, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, group_name, created_at FROM subtitle_groups ORDER BY group_name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SubtitleGroup
	for rows.Next() {
		item := &SubtitleGroup{}
		if err := rows.Scan(&item.ID, &item.GroupName, &item.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
