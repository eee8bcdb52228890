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

type DownloadStatus string

const (
	DownloadPending         DownloadStatus = "pending"
	DownloadDownloading     DownloadStatus = "downloading"
	DownloadCompleted       DownloadStatus = "completed"
	DownloadFailed          DownloadStatus = "failed"
	DownloadCancelled       DownloadStatus = "cancelled"
	DownloadNoDownloader    DownloadStatus = "no_downloader"
	DownloadDownloaderError DownloadStatus = "downloader_error"
	DownloadSyncing         DownloadStatus = "syncing"
	DownloadSynced          DownloadStatus = "synced"
	DownloadSyncFailed      DownloadStatus = "sync_failed"
)

// Download tracks one AnimeLink's journey through the dispatcher, a
// downloader module, and an eventual viewer sync (§3, §4.F, §4.G).
type Download struct {
	ID             int64          `json:"id"`
	LinkID         int64          `json:"linkId"`
	DownloaderType string         `json:"downloaderType"`
	Status         DownloadStatus `json:"status"`
	ModuleID       *int64         `json:"moduleId,omitempty"`
	TorrentHash    *string        `json:"torrentHash,omitempty"`
	Progress       float64        `json:"progress"`
	TotalBytes     int64          `json:"totalBytes"`
	FilePath       *string        `json:"filePath,omitempty"`
	TargetPath     *string        `json:"targetPath,omitempty"`
	ErrorMessage   *string        `json:"errorMessage,omitempty"`
	SyncRetryCount int            `json:"syncRetryCount"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

type DownloadStore struct {
	db dbinterface.Querier
}

func NewDownloadStore(db dbinterface.Querier) *DownloadStore {
	return &DownloadStore{db: db}
}

const downloadColumns = `id, link_id, downloader_type, status, module_id, torrent_hash, progress, total_bytes, file_path, target_path, error_message, sync_retry_count, created_at, updated_at`

func scanDownload(row *sql.Row) (*Download, error) {
	out := &Download{}
	if err := row.Scan(&out.ID, &out.LinkID, &out.DownloaderType, &out.Status, &out.ModuleID, &out.TorrentHash, &out.Progress, &out.TotalBytes, &out.FilePath, &out.TargetPath, &out.ErrorMessage, &out.SyncRetryCount, &out.CreatedAt, &out.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDownloadNotFound
		}
		return nil, err
	}
	return out, nil
}

func scanDownloadRows(rows *sql.Rows) (*Download, error) {
	out := &Download{}
	err := rows.Scan(&out.ID, &out.LinkID, &out.DownloaderType, &out.Status, &out.ModuleID, &out.TorrentHash, &out.Progress, &out.TotalBytes, &out.FilePath, &out.TargetPath, &out.ErrorMessage, &out.SyncRetryCount, &out.CreatedAt, &out.UpdatedAt)
	return out, err
}

func (s *DownloadStore) Get(ctx context.Context, id int64) (*Download, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+downloadColumns+` FROM downloads WHERE id = ?`, id)
	return scanDownload(row)
}

func (s *DownloadStore) GetByLink(ctx context.Context, linkID int64) (*Download, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+downloadColumns+` FROM downloads WHERE link_id = ?`, linkID)
	return scanDownload(row)
}

// Insert creates a Download row in the given status (status=downloading
// with module_id/torrent_hash set on cascade acceptance, or
// status=no_downloader with module_id NULL when no downloader matches
// the type, per §4.F).
func (s *DownloadStore) Insert(ctx context.Context, d *Download) (*Download, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO downloads (link_id, downloader_type, status, module_id, torrent_hash, file_path)
		VALUES (?, ?, ?, ?, ?, ?)
	`, d.LinkID, d.DownloaderType, d.Status, d.ModuleID, d.TorrentHash, d.FilePath)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete removes a no_downloader row being retried on downloader
// registration (§4.F "delete those rows and re-run dispatch").
func (s *DownloadStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM downloads WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDownloadNotFound
	}
	return nil
}

func (s *DownloadStore) UpdateProgress(ctx context.Context, id int64, status DownloadStatus, progress float64, totalBytes int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE downloads SET status = ?, progress = ?, total_bytes = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, progress, totalBytes, id)
	return err
}

func (s *DownloadStore) MarkCompleted(ctx context.Context, id int64, filePath string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE downloads SET status = ?, file_path = ?, progress = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, DownloadCompleted, filePath, id)
	return err
}

// MarkCompletedKeepingFilePath transitions a row to completed without
// touching file_path, for callers (the download-poll scheduler) where
// file_path was already recorded at dispatch time (§4.F's save_path) and
// the downloader's status contract doesn't echo it back.
func (s *DownloadStore) MarkCompletedKeepingFilePath(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE downloads SET status = ?, progress = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, DownloadCompleted, id)
	return err
}

func (s *DownloadStore) MarkCancelled(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE downloads SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, DownloadCancelled, id)
	return err
}

// MarkDownloaderError sets one download row to downloader_error with the
// given message; download-poll calls it for each downloading row of a
// module whose status query failed (§4.G download-poll step 4).
func (s *DownloadStore) MarkDownloaderError(ctx context.Context, id int64, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE downloads SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, DownloadDownloaderError, message, id)
	return err
}

func (s *DownloadStore) MarkSyncing(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE downloads SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, DownloadSyncing, id)
	return err
}

func (s *DownloadStore) MarkSynced(ctx context.Context, id int64, targetPath string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE downloads SET status = ?, target_path = ?, error_message = NULL, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, DownloadSynced, targetPath, id)
	return err
}

// MarkSyncFailedOrRetry increments sync_retry_count; at >=3 the row is
// terminal (sync_failed), otherwise it reverts to completed so the next
// viewer-sync tick retries it (§4.G step 4).
func (s *DownloadStore) MarkSyncFailedOrRetry(ctx context.Context, id int64, message string) error {
	d, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	next := d.SyncRetryCount + 1
	status := DownloadCompleted
	if next >= 3 {
		status = DownloadSyncFailed
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE downloads SET status = ?, sync_retry_count = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, status, next, message, id)
	return err
}

// ListByStatus returns downloads in a given status, ordered oldest first.
func (s *DownloadStore) ListByStatus(ctx context.Context, status DownloadStatus) ([]*Download, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+downloadColumns+` FROM downloads WHERE status = ? ORDER BY id ASC
	`, status)
	return scanAllDownloads(rows, err)
}

// ListByModuleAndStatus supports the download-poll scheduler's
// per-module, per-status scans (downloading rows to poll, downloader_error
// rows to probe for recovery).
func (s *DownloadStore) ListByModuleAndStatus(ctx context.Context, moduleID int64, status DownloadStatus) ([]*Download, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+downloadColumns+` FROM downloads WHERE module_id = ? AND status = ? ORDER BY id ASC
	`, moduleID, status)
	return scanAllDownloads(rows, err)
}

// ListByDownloaderTypeAndStatus finds no_downloader rows of a given type
// when a new downloader registers with that capability (§4.F retry).
func (s *DownloadStore) ListByDownloaderTypeAndStatus(ctx context.Context, downloaderType string, status DownloadStatus) ([]*Download, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+downloadColumns+` FROM downloads WHERE downloader_type = ? AND status = ? ORDER BY id ASC
	`, downloaderType, status)
	return scanAllDownloads(rows, err)
}

// ListSyncCandidates returns completed downloads eligible for a
// viewer-sync attempt (§4.G viewer-sync step 1).
func (s *DownloadStore) ListSyncCandidates(ctx context.Context) ([]*Download, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+downloadColumns+` FROM downloads
		WHERE status = 'completed' AND file_path IS NOT NULL AND sync_retry_count < 3
		ORDER BY id ASC
	`)
	return scanAllDownloads(rows, err)
}

func scanAllDownloads(rows *sql.Rows, err error) ([]*Download, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Download
	for rows.Next() {
		d, err := scanDownloadRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
