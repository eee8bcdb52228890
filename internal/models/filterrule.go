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

type FilterTargetType string

const (
	TargetGlobal        FilterTargetType = "global"
	TargetAnime         FilterTargetType = "anime"
	TargetAnimeSeries   FilterTargetType = "anime_series"
	TargetSubtitleGroup FilterTargetType = "subtitle_group"
	TargetFetcher       FilterTargetType = "fetcher"
)

type FilterRule struct {
	ID           int64            `json:"id"`
	TargetType   FilterTargetType `json:"targetType"`
	TargetID     *int64           `json:"targetId,omitempty"`
	RuleOrder    int              `json:"ruleOrder"`
	IsPositive   bool             `json:"isPositive"`
	RegexPattern string           `json:"regexPattern"`
	CreatedAt    time.Time        `json:"createdAt"`
}

type FilterRuleStore struct {
	db dbinterface.Querier
}

func NewFilterRuleStore(db dbinterface.Querier) *FilterRuleStore {
	return &FilterRuleStore{db: db}
}

const filterRuleColumns = `id, target_type, target_id, rule_order, is_positive, regex_pattern, created_at`

func (s *FilterRuleStore) scan(row *sql.Row) (*FilterRule, error) {
	out := &FilterRule{}
	if err := row.Scan(&out.ID, &out.TargetType, &out.TargetID, &out.RuleOrder, &out.IsPositive, &out.RegexPattern, &out.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFilterRuleNotFound
		}
		return nil, err
	}
	return out, nil
}

func (s *FilterRuleStore) Get(ctx context.Context, id int64) (*FilterRule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+filterRuleColumns+` FROM filter_rules WHERE id = ?`, id)
	return s.scan(row)
}

func (s *FilterRuleStore) Create(ctx context.Context, r *FilterRule) (*FilterRule, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO filter_rules (target_type, target_id, rule_order, is_positive, regex_pattern)
		VALUES (?, ?, ?, ?, ?)
	`, r.TargetType, r.TargetID, r.RuleOrder, r.IsPositive, r.RegexPattern)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *FilterRuleStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM filter_rules WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrFilterRuleNotFound
	}
	return nil
}

func (s *FilterRuleStore) List(ctx context.Context) ([]*FilterRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+filterRuleColumns+` FROM filter_rules ORDER BY target_type, rule_order ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*FilterRule
	for rows.Next() {
		r := &FilterRule{}
		if err := rows.Scan(&r.ID, &r.TargetType, &r.TargetID, &r.RuleOrder, &r.IsPositive, &r.RegexPattern, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListForScopes returns the union of rules bound to any of the given
// (targetType, targetID) scopes plus the implicit global scope, sorted by
// rule_order ascending — the single ordered list §4.D evaluates.
func (s *FilterRuleStore) ListForScopes(ctx context.Context, animeID, seriesID, groupID, fetcherID *int64) ([]*FilterRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+filterRuleColumns+` FROM filter_rules
		WHERE target_type = 'global'
		   OR (target_type = 'anime' AND target_id = ?)
		   OR (target_type = 'anime_series' AND target_id = ?)
		   OR (target_type = 'subtitle_group' AND target_id = ?)
		   OR (target_type = 'fetcher' AND target_id = ?)
		ORDER BY rule_order ASC
	`, animeID, seriesID, groupID, fetcherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*FilterRule
	for rows.Next() {
		r := &FilterRule{}
		if err := rows.Scan(&r.ID, &r.TargetType, &r.TargetID, &r.RuleOrder, &r.IsPositive, &r.RegexPattern, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
