// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCoreCollector_DescribeAndCollect(t *testing.T) {
	c := NewCoreCollector()
	c.ObserveParserOutcome("matched")
	c.ObserveParserOutcome("matched")
	c.ObserveParserOutcome("no_match")
	c.ObserveDispatchOutcome("dispatched")
	c.ObserveSchedulerTick("fetch-tick")
	c.SetOpenConflicts(3)
	c.SetPendingDownloads(7)

	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(`
# HELP kitsune_title_parser_outcomes_total Title parser pipeline outcomes by result
# TYPE kitsune_title_parser_outcomes_total counter
kitsune_title_parser_outcomes_total{outcome="matched"} 2
kitsune_title_parser_outcomes_total{outcome="no_match"} 1
# HELP kitsune_dispatch_outcomes_total Download dispatch outcomes by result
# TYPE kitsune_dispatch_outcomes_total counter
kitsune_dispatch_outcomes_total{outcome="dispatched"} 1
# HELP kitsune_scheduler_ticks_total Completed scheduler task runs by task name
# TYPE kitsune_scheduler_ticks_total counter
kitsune_scheduler_ticks_total{task="fetch-tick"} 1
# HELP kitsune_link_conflicts_open Number of unresolved anime link conflicts
# TYPE kitsune_link_conflicts_open gauge
kitsune_link_conflicts_open 3
# HELP kitsune_downloads_pending Number of downloads not yet in a terminal state
# TYPE kitsune_downloads_pending gauge
kitsune_downloads_pending 7
`),
		"kitsune_title_parser_outcomes_total",
		"kitsune_dispatch_outcomes_total",
		"kitsune_scheduler_ticks_total",
		"kitsune_link_conflicts_open",
		"kitsune_downloads_pending",
	))
}

func TestCoreCollector_ZeroValueStillEmitsGauges(t *testing.T) {
	c := NewCoreCollector()
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(`
# HELP kitsune_link_conflicts_open Number of unresolved anime link conflicts
# TYPE kitsune_link_conflicts_open gauge
kitsune_link_conflicts_open 0
# HELP kitsune_downloads_pending Number of downloads not yet in a terminal state
# TYPE kitsune_downloads_pending gauge
kitsune_downloads_pending 0
`),
		"kitsune_link_conflicts_open",
		"kitsune_downloads_pending",
	))
}
