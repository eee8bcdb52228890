// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"errors"

	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// Sentinel not-found errors, one per aggregate, following the teacher's
// ErrInstanceNotFound idiom so callers can errors.Is against a specific
// entity rather than a generic sql.ErrNoRows.
var (
	ErrAnimeNotFound          = errors.New("anime not found")
	ErrSeasonNotFound         = errors.New("season not found")
	ErrSeriesNotFound         = errors.New("anime series not found")
	ErrSubtitleGroupNotFound  = errors.New("subtitle group not found")
	ErrRawItemNotFound        = errors.New("raw anime item not found")
	ErrLinkNotFound           = errors.New("anime link not found")
	ErrConflictNotFound       = errors.New("anime link conflict not found")
	ErrParserNotFound         = errors.New("title parser not found")
	ErrFilterRuleNotFound     = errors.New("filter rule not found")
	ErrSubscriptionNotFound   = errors.New("subscription not found")
	ErrDownloadNotFound       = errors.New("download not found")
	ErrServiceModuleNotFound  = errors.New("service module not found")
)

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code() == sqlitelib.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

func isForeignKeyConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code() == sqlitelib.SQLITE_CONSTRAINT_FOREIGNKEY
	}
	return false
}

func isIntegrityError(err error) bool {
	return isUniqueConstraintError(err) || isForeignKeyConstraintError(err)
}

// IsForeignKeyConstraintError reports whether err is a SQLite foreign-key
// constraint violation, for callers outside this package (the API layer)
// that need to tell "referenced a row that doesn't exist" apart from a
// generic write failure when translating a raw ExecContext error, e.g. a
// filter rule or subscription pointing at an unknown target id.
func IsForeignKeyConstraintError(err error) bool {
	return isForeignKeyConstraintError(err)
}

// IsIntegrityError reports whether err is any SQLite constraint violation
// (unique or foreign-key) not already classified into a specific sentinel
// by the store method that produced it.
func IsIntegrityError(err error) bool {
	return isIntegrityError(err)
}
