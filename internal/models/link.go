// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kitsune-sh/kitsune-core/internal/dbinterface"
)

type LinkStatus string

const (
	LinkActive   LinkStatus = "active"
	LinkResolved LinkStatus = "resolved"
)

// AnimeLink is a single downloadable artifact for one episode from one
// subtitle group (§3). (series_id, group_id, episode_no) may have multiple
// active rows — those rows are a conflict (§4.E).
type AnimeLink struct {
	ID           int64      `json:"id"`
	SeriesID     int64      `json:"seriesId"`
	GroupID      int64      `json:"groupId"`
	EpisodeNo    int        `json:"episodeNo"`
	Title        *string    `json:"title,omitempty"`
	URL          string     `json:"url"`
	SourceHash   string     `json:"sourceHash"`
	FilteredFlag bool       `json:"filteredFlag"`
	ConflictFlag bool       `json:"conflictFlag"`
	LinkStatus   LinkStatus `json:"linkStatus"`
	RawItemID    *int64     `json:"rawItemId,omitempty"`
	DownloadType string     `json:"downloadType"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

type LinkStore struct {
	db dbinterface.Querier
}

func NewLinkStore(db dbinterface.Querier) *LinkStore {
	return &LinkStore{db: db}
}

const linkColumns = `id, series_id, group_id, episode_no, title, url, source_hash, filtered_flag, conflict_flag, link_status, raw_item_id, download_type, created_at, updated_at`

func scanLink(row *sql.Row) (*AnimeLink, error) {
	out := &AnimeLink{}
	if err := row.Scan(&out.ID, &out.SeriesID, &out.GroupID, &out.EpisodeNo, &out.Title, &out.URL, &out.SourceHash, &out.FilteredFlag, &out.ConflictFlag, &out.LinkStatus, &out.RawItemID, &out.DownloadType, &out.CreatedAt, &out.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return out, nil
}

func scanLinkRows(rows *sql.Rows) (*AnimeLink, error) {
	out := &AnimeLink{}
	err := rows.Scan(&out.ID, &out.SeriesID, &out.GroupID, &out.EpisodeNo, &out.Title, &out.URL, &out.SourceHash, &out.FilteredFlag, &out.ConflictFlag, &out.LinkStatus, &out.RawItemID, &out.DownloadType, &out.CreatedAt, &out.UpdatedAt)
	return out, err
}

func (s *LinkStore) Get(ctx context.Context, id int64) (*AnimeLink, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+linkColumns+` FROM anime_links WHERE id = ?`, id)
	return scanLink(row)
}

func (s *LinkStore) GetBySourceHash(ctx context.Context, hash string) (*AnimeLink, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+linkColumns+` FROM anime_links WHERE source_hash = ?`, hash)
	return scanLink(row)
}

// Insert creates an active, unfiltered, non-conflicting link. source_hash
// is unique, so re-ingesting the same URL is a no-op per §4.H idempotency.
func (s *LinkStore) Insert(ctx context.Context, l *AnimeLink) (*AnimeLink, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO anime_links (series_id, group_id, episode_no, title, url, source_hash, filtered_flag, conflict_flag, link_status, raw_item_id, download_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
	`, l.SeriesID, l.GroupID, l.EpisodeNo, l.Title, l.URL, l.SourceHash, l.FilteredFlag, LinkActive, l.RawItemID, l.DownloadType)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrDuplicateLink
		}
		return nil, err
	}
	return s.GetBySourceHash(ctx, l.SourceHash)
}

func (s *LinkStore) ListByGroupKey(ctx context.Context, seriesID, groupID int64, episodeNo int) ([]*AnimeLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+linkColumns+` FROM anime_links
		WHERE series_id = ? AND group_id = ? AND episode_no = ?
		ORDER BY id ASC
	`, seriesID, groupID, episodeNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AnimeLink
	for rows.Next() {
		l, err := scanLinkRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListActiveUnfiltered returns the candidate set conflict detection groups
// over (§4.E: "Over the set {active, unfiltered AnimeLinks}").
func (s *LinkStore) ListActiveUnfiltered(ctx context.Context) ([]*AnimeLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+linkColumns+` FROM anime_links
		WHERE link_status = 'active' AND filtered_flag = 0
		ORDER BY series_id, group_id, episode_no, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AnimeLink
	for rows.Next() {
		l, err := scanLinkRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListByIDs fetches links in bulk, used by the dispatcher to re-load the
// batch it was handed and by scope-based filter recompute result sets.
func (s *LinkStore) ListByIDs(ctx context.Context, ids []int64) ([]*AnimeLink, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders, args := intInClause(ids)
	rows, err := s.db.QueryContext(ctx, `SELECT `+linkColumns+` FROM anime_links WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AnimeLink
	for rows.Next() {
		l, err := scanLinkRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListByScope returns the links affected by a filter rule change bound to
// the given scope, per §4.D's recomputation table.
func (s *LinkStore) ListByScope(ctx context.Context, targetType FilterTargetType, targetID *int64) ([]*AnimeLink, error) {
	switch targetType {
	case TargetGlobal:
		rows, err := s.db.QueryContext(ctx, `SELECT `+linkColumns+` FROM anime_links`)
		return scanAllLinks(rows, err)
	case TargetAnime:
		rows, err := s.db.QueryContext(ctx, `
			SELECT al.id, al.series_id, al.group_id, al.episode_no, al.title, al.url, al.source_hash, al.filtered_flag, al.conflict_flag, al.link_status, al.raw_item_id, al.download_type, al.created_at, al.updated_at
			FROM anime_links al
			JOIN anime_series ser ON ser.id = al.series_id
			WHERE ser.anime_id = ?
		`, targetID)
		return scanAllLinks(rows, err)
	case TargetAnimeSeries:
		rows, err := s.db.QueryContext(ctx, `SELECT `+linkColumns+` FROM anime_links WHERE series_id = ?`, targetID)
		return scanAllLinks(rows, err)
	case TargetSubtitleGroup:
		rows, err := s.db.QueryContext(ctx, `SELECT `+linkColumns+` FROM anime_links WHERE group_id = ?`, targetID)
		return scanAllLinks(rows, err)
	case TargetFetcher:
		rows, err := s.db.QueryContext(ctx, `
			SELECT al.id, al.series_id, al.group_id, al.episode_no, al.title, al.url, al.source_hash, al.filtered_flag, al.conflict_flag, al.link_status, al.raw_item_id, al.download_type, al.created_at, al.updated_at
			FROM anime_links al
			JOIN raw_anime_items ri ON ri.id = al.raw_item_id
			WHERE ri.subscription_id = ?
		`, targetID)
		return scanAllLinks(rows, err)
	default:
		return nil, fmt.Errorf("unknown filter target type %q", targetType)
	}
}

func scanAllLinks(rows *sql.Rows, err error) ([]*AnimeLink, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*AnimeLink
	for rows.Next() {
		l, err := scanLinkRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// SetFilteredFlags bulk-updates filtered_flag for the given ids in a
// single UPDATE ... WHERE id IN (...) statement per §9's "bulk flag
// updates are set-based" design note.
func (s *LinkStore) SetFilteredFlags(ctx context.Context, ids []int64, filtered bool) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders, args := intInClause(ids)
	args = append([]any{filtered}, args...)
	_, err := s.db.ExecContext(ctx, `UPDATE anime_links SET filtered_flag = ?, updated_at = CURRENT_TIMESTAMP WHERE id IN (`+placeholders+`)`, args...)
	return err
}

// ClearAllConflictFlags wipes stale conflict marks, step 1 of §4.E's
// idempotent detection procedure.
func (s *LinkStore) ClearAllConflictFlags(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE anime_links SET conflict_flag = 0 WHERE conflict_flag = 1`)
	return err
}

func (s *LinkStore) SetConflictFlags(ctx context.Context, ids []int64, flag bool) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders, args := intInClause(ids)
	args = append([]any{flag}, args...)
	_, err := s.db.ExecContext(ctx, `UPDATE anime_links SET conflict_flag = ?, updated_at = CURRENT_TIMESTAMP WHERE id IN (`+placeholders+`)`, args...)
	return err
}

func (s *LinkStore) ClearConflictFlag(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE anime_links SET conflict_flag = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	return err
}

func (s *LinkStore) SetLinkStatus(ctx context.Context, id int64, status LinkStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE anime_links SET link_status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, status, id)
	return err
}

func (s *LinkStore) SetLinkStatusBulk(ctx context.Context, ids []int64, status LinkStatus) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders, args := intInClause(ids)
	args = append([]any{status}, args...)
	_, err := s.db.ExecContext(ctx, `UPDATE anime_links SET link_status = ?, updated_at = CURRENT_TIMESTAMP WHERE id IN (`+placeholders+`)`, args...)
	return err
}

// intInClause builds a "?,?,?" placeholder list and the matching []any
// argument slice for a bulk `WHERE id IN (...)` statement.
func intInClause(ids []int64) (string, []any) {
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	return strings.Join(placeholders, ","), args
}

var ErrDuplicateLink = errors.New("anime link with that source_hash already exists")
