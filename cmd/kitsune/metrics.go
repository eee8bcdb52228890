// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"

	"github.com/kitsune-sh/kitsune-core/internal/metrics"
	"github.com/kitsune-sh/kitsune-core/internal/models"
	"github.com/kitsune-sh/kitsune-core/internal/scheduler"
)

// instrumented wraps a scheduler TaskFunc so every completed run, success
// or failure, increments the task's tick counter. collector may be nil
// when metrics are disabled, in which case the task runs unwrapped.
func instrumented(collector *metrics.CoreCollector, name string, fn scheduler.TaskFunc) scheduler.TaskFunc {
	if collector == nil {
		return fn
	}
	return func(ctx context.Context) error {
		err := fn(ctx)
		collector.ObserveSchedulerTick(name)
		return err
	}
}

// sampleGauges builds a TaskFunc that refreshes the open-conflict and
// pending-download gauges from their backing stores.
func sampleGauges(collector *metrics.CoreCollector, conflicts *models.ConflictStore, downloads *models.DownloadStore) scheduler.TaskFunc {
	pendingStatuses := []models.DownloadStatus{
		models.DownloadPending,
		models.DownloadDownloading,
		models.DownloadSyncing,
	}

	return func(ctx context.Context) error {
		unresolved, err := conflicts.ListUnresolved(ctx)
		if err != nil {
			return err
		}
		collector.SetOpenConflicts(len(unresolved))

		pending := 0
		for _, status := range pendingStatuses {
			rows, err := downloads.ListByStatus(ctx, status)
			if err != nil {
				return err
			}
			pending += len(rows)
		}
		collector.SetPendingDownloads(pending)

		return nil
	}
}
