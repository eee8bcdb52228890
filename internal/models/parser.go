// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/kitsune-sh/kitsune-core/internal/dbinterface"
)

// ExtractorSource is where a FieldExtractor pulls its value from.
type ExtractorSource string

const (
	ExtractorRegex  ExtractorSource = "regex"
	ExtractorStatic ExtractorSource = "static"
)

// FieldExtractor maps one parsed field to either a 1-based parse_regex
// capture group, or a literal value (§4.C).
type FieldExtractor struct {
	Field  string          `json:"field"`
	Source ExtractorSource `json:"source"`
	// Value is the capture-group index (as a string, e.g. "2") for
	// ExtractorRegex, or the literal value for ExtractorStatic.
	Value string `json:"value"`
}

type TitleParser struct {
	ID              int64            `json:"id"`
	Name            string           `json:"name"`
	Priority        int              `json:"priority"`
	IsEnabled       bool             `json:"isEnabled"`
	ConditionRegex  string           `json:"conditionRegex"`
	ParseRegex      string           `json:"parseRegex"`
	FieldExtractors []FieldExtractor `json:"fieldExtractors"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

type TitleParserStore struct {
	db dbinterface.Querier
}

func NewTitleParserStore(db dbinterface.Querier) *TitleParserStore {
	return &TitleParserStore{db: db}
}

func scanParser(row *sql.Row) (*TitleParser, error) {
	out := &TitleParser{}
	var extractorsJSON string
	if err := row.Scan(&out.ID, &out.Name, &out.Priority, &out.IsEnabled, &out.ConditionRegex, &out.ParseRegex, &extractorsJSON, &out.CreatedAt, &out.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrParserNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(extractorsJSON), &out.FieldExtractors); err != nil {
		return nil, err
	}
	return out, nil
}

const parserColumns = `id, name, priority, is_enabled, condition_regex, parse_regex, field_extractors, created_at, updated_at`

func (s *TitleParserStore) Get(ctx context.Context, id int64) (*TitleParser, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+parserColumns+` FROM title_parsers WHERE id = ?`, id)
	return scanParser(row)
}

// ListEnabledOrdered returns enabled parsers ordered by priority descending,
// ties broken by parser_id ascending — the exact pipeline evaluation order
// required by §4.C.
func (s *TitleParserStore) ListEnabledOrdered(ctx context.Context) ([]*TitleParser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+parserColumns+` FROM title_parsers
		WHERE is_enabled = 1
		ORDER BY priority DESC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TitleParser
	for rows.Next() {
		p := &TitleParser{}
		var extractorsJSON string
		if err := rows.Scan(&p.ID, &p.Name, &p.Priority, &p.IsEnabled, &p.ConditionRegex, &p.ParseRegex, &extractorsJSON, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(extractorsJSON), &p.FieldExtractors); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *TitleParserStore) List(ctx context.Context) ([]*TitleParser, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+parserColumns+` FROM title_parsers ORDER BY priority DESC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TitleParser
	for rows.Next() {
		p := &TitleParser{}
		var extractorsJSON string
		if err := rows.Scan(&p.ID, &p.Name, &p.Priority, &p.IsEnabled, &p.ConditionRegex, &p.ParseRegex, &extractorsJSON, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(extractorsJSON), &p.FieldExtractors); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *TitleParserStore) Create(ctx context.Context, p *TitleParser) (*TitleParser, error) {
	extractorsJSON, err := json.Marshal(p.FieldExtractors)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO title_parsers (name, priority, is_enabled, condition_regex, parse_regex, field_extractors)
		VALUES (?, ?, ?, ?, ?, ?)
	`, p.Name, p.Priority, p.IsEnabled, p.ConditionRegex, p.ParseRegex, string(extractorsJSON))
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *TitleParserStore) Update(ctx context.Context, p *TitleParser) (*TitleParser, error) {
	extractorsJSON, err := json.Marshal(p.FieldExtractors)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE title_parsers
		SET name = ?, priority = ?, is_enabled = ?, condition_regex = ?, parse_regex = ?, field_extractors = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, p.Name, p.Priority, p.IsEnabled, p.ConditionRegex, p.ParseRegex, string(extractorsJSON), p.ID)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrParserNotFound
	}
	return s.Get(ctx, p.ID)
}

func (s *TitleParserStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM title_parsers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrParserNotFound
	}
	return nil
}
