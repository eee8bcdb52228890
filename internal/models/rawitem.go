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

type RawItemStatus string

const (
	RawItemPending RawItemStatus = "pending"
	RawItemParsed  RawItemStatus = "parsed"
	RawItemPartial RawItemStatus = "partial"
	RawItemFailed  RawItemStatus = "failed"
	RawItemNoMatch RawItemStatus = "no_match"
	RawItemSkipped RawItemStatus = "skipped"
)

type RawAnimeItem struct {
	ID             int64         `json:"id"`
	Title          string        `json:"title"`
	Description    *string       `json:"description,omitempty"`
	DownloadURL    string        `json:"downloadUrl"`
	PubDate        *time.Time    `json:"pubDate,omitempty"`
	SubscriptionID int64         `json:"subscriptionId"`
	Status         RawItemStatus `json:"status"`
	ParserID       *int64        `json:"parserId,omitempty"`
	ErrorMessage   *string       `json:"errorMessage,omitempty"`
	ParsedAt       *time.Time    `json:"parsedAt,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
}

type RawItemStore struct {
	db dbinterface.Querier
}

func NewRawItemStore(db dbinterface.Querier) *RawItemStore {
	return &RawItemStore{db: db}
}

const rawItemColumns = `id, title, description, download_url, pub_date, subscription_id, status, parser_id, error_message, parsed_at, created_at`

func (s *RawItemStore) scan(row *sql.Row) (*RawAnimeItem, error) {
	out := &RawAnimeItem{}
	if err := row.Scan(&out.ID, &out.Title, &out.Description, &out.DownloadURL, &out.PubDate, &out.SubscriptionID, &out.Status, &out.ParserID, &out.ErrorMessage, &out.ParsedAt, &out.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRawItemNotFound
		}
		return nil, err
	}
	return out, nil
}

func (s *RawItemStore) Get(ctx context.Context, id int64) (*RawAnimeItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+rawItemColumns+` FROM raw_anime_items WHERE id = ?`, id)
	return s.scan(row)
}

func (s *RawItemStore) GetByDownloadURL(ctx context.Context, url string) (*RawAnimeItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+rawItemColumns+` FROM raw_anime_items WHERE download_url = ?`, url)
	return s.scan(row)
}

// Insert creates a pending RawAnimeItem. Because download_url is unique,
// re-delivery of the same batch silently no-ops per §4.H's idempotency
// contract: the caller should treat ErrDuplicateRawItem as "already
// ingested", not a failure.
func (s *RawItemStore) Insert(ctx context.Context, item *RawAnimeItem) (*RawAnimeItem, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raw_anime_items (title, description, download_url, pub_date, subscription_id, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, item.Title, item.Description, item.DownloadURL, item.PubDate, item.SubscriptionID, RawItemPending)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrDuplicateRawItem
		}
		return nil, err
	}
	return s.GetByDownloadURL(ctx, item.DownloadURL)
}

func (s *RawItemStore) MarkParsed(ctx context.Context, id int64, parserID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE raw_anime_items SET status = ?, parser_id = ?, parsed_at = CURRENT_TIMESTAMP, error_message = NULL WHERE id = ?
	`, RawItemParsed, parserID, id)
	return err
}

func (s *RawItemStore) MarkNoMatch(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE raw_anime_items SET status = ?, parsed_at = CURRENT_TIMESTAMP WHERE id = ?
	`, RawItemNoMatch, id)
	return err
}

func (s *RawItemStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE raw_anime_items SET status = ?, error_message = ?, parsed_at = CURRENT_TIMESTAMP WHERE id = ?
	`, RawItemFailed, errMsg, id)
	return err
}

func (s *RawItemStore) MarkSkipped(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE raw_anime_items SET status = ? WHERE id = ?`, RawItemSkipped, id)
	return err
}

// ResetForReparse restores a pending status so the pipeline runs again —
// explicit reparse is the one path that moves status backwards (§3).
func (s *RawItemStore) ResetForReparse(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE raw_anime_items SET status = ?, parser_id = NULL, error_message = NULL, parsed_at = NULL WHERE id = ?
	`, RawItemPending, id)
	return err
}

type RawItemListFilter struct {
	Status *RawItemStatus
	Limit  int
	Offset int
}

func (s *RawItemStore) List(ctx context.Context, f RawItemListFilter) ([]*RawAnimeItem, error) {
	where := ""
	args := []any{}
	if f.Status != nil {
		where = "WHERE status = ?"
		args = append(args, *f.Status)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+rawItemColumns+` FROM raw_anime_items `+where+`
		ORDER BY id DESC LIMIT ? OFFSET ?
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RawAnimeItem
	for rows.Next() {
		item := &RawAnimeItem{}
		if err := rows.Scan(&item.ID, &item.Title, &item.Description, &item.DownloadURL, &item.PubDate, &item.SubscriptionID, &item.Status, &item.ParserID, &item.ErrorMessage, &item.ParsedAt, &item.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// ErrDuplicateRawItem signals a download_url already ingested; callers
// treat it as a no-op, not an error, per §4.H idempotency.
var ErrDuplicateRawItem = errors.New("raw item with that download_url already exists")
