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

type AssignmentStatus string

const (
	AssignmentPending      AssignmentStatus = "pending"
	AssignmentAssigned     AssignmentStatus = "assigned"
	AssignmentAutoAssigned AssignmentStatus = "auto_assigned"
)

type Subscription struct {
	ID                   int64            `json:"id"`
	FetcherID            *int64           `json:"fetcherId,omitempty"`
	SourceURL            string           `json:"sourceUrl"`
	FetchIntervalMinutes int              `json:"fetchIntervalMinutes"`
	LastFetchedAt        *time.Time       `json:"lastFetchedAt,omitempty"`
	NextFetchAt          *time.Time       `json:"nextFetchAt,omitempty"`
	IsActive             bool             `json:"isActive"`
	AssignmentStatus     AssignmentStatus `json:"assignmentStatus"`
	AutoSelected         bool             `json:"autoSelected"`
	CreatedAt            time.Time        `json:"createdAt"`
}

type SubscriptionStore struct {
	db dbinterface.Querier
}

func NewSubscriptionStore(db dbinterface.Querier) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

const subscriptionColumns = `id, fetcher_id, source_url, fetch_interval_minutes, last_fetched_at, next_fetch_at, is_active, assignment_status, auto_selected, created_at`

func (s *SubscriptionStore) scan(row *sql.Row) (*Subscription, error) {
	out := &Subscription{}
	if err := row.Scan(&out.ID, &out.FetcherID, &out.SourceURL, &out.FetchIntervalMinutes, &out.LastFetchedAt, &out.NextFetchAt, &out.IsActive, &out.AssignmentStatus, &out.AutoSelected, &out.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return out, nil
}

func (s *SubscriptionStore) Get(ctx context.Context, id int64) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	return s.scan(row)
}

func (s *SubscriptionStore) GetBySourceURL(ctx context.Context, sourceURL string) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE source_url = ?`, sourceURL)
	return s.scan(row)
}

func (s *SubscriptionStore) Create(ctx context.Context, sub *Subscription) (*Subscription, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (fetcher_id, source_url, fetch_interval_minutes, is_active, assignment_status, auto_selected, next_fetch_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, sub.FetcherID, sub.SourceURL, sub.FetchIntervalMinutes, sub.IsActive, sub.AssignmentStatus, sub.AutoSelected)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrSubscriptionConflict
		}
		return nil, err
	}
	return s.GetBySourceURL(ctx, sub.SourceURL)
}

func (s *SubscriptionStore) ListActive(ctx context.Context) ([]*Subscription, error) {
	return s.listWhere(ctx, `WHERE is_active = 1`)
}

// ListDue returns active subscriptions whose next_fetch_at has elapsed —
// the fetch-tick scheduler's selection query (§4.G).
func (s *SubscriptionStore) ListDue(ctx context.Context, now time.Time) ([]*Subscription, error) {
	return s.listWhere(ctx, `WHERE is_active = 1 AND next_fetch_at IS NOT NULL AND next_fetch_at <= ?`, now)
}

func (s *SubscriptionStore) ListByFetcher(ctx context.Context, fetcherID int64) ([]*Subscription, error) {
	return s.listWhere(ctx, `WHERE fetcher_id = ?`, fetcherID)
}

func (s *SubscriptionStore) listWhere(ctx context.Context, where string, args ...any) ([]*Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions `+where+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		item := &Subscription{}
		if err := rows.Scan(&item.ID, &item.FetcherID, &item.SourceURL, &item.FetchIntervalMinutes, &item.LastFetchedAt, &item.NextFetchAt, &item.IsActive, &item.AssignmentStatus, &item.AutoSelected, &item.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// MarkFetched advances last_fetched_at/next_fetch_at after a successful
// ingestion batch (§4.H step 1).
func (s *SubscriptionStore) MarkFetched(ctx context.Context, id int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET last_fetched_at = ?, next_fetch_at = datetime(?, '+' || fetch_interval_minutes || ' minutes')
		WHERE id = ?
	`, now, now, id)
	return err
}

func (s *SubscriptionStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (s *SubscriptionStore) DeleteBySourceURL(ctx context.Context, sourceURL string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE source_url = ?`, sourceURL)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// ErrSubscriptionConflict is returned by Create when source_url already exists.
var ErrSubscriptionConflict = errors.New("subscription with that source_url already exists")
