// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// CoreCollector exposes the core's own operational counters/gauges as a
// single prometheus.Collector, grounded on autobrr-qui's
// internal/metrics/collector.go (TorrentCollector) shape: fixed Desc
// fields populated at construction, Collect emits const metrics from an
// internally-held snapshot rather than scraping a live dependency on
// every call.
type CoreCollector struct {
	mu sync.Mutex

	parserOutcomes     map[string]float64 // keyed by outcome: matched|no_match|failed
	dispatchOutcomes   map[string]float64 // keyed by outcome: dispatched|no_downloader|failed|rejected
	schedulerTickCount map[string]float64 // keyed by task name
	openConflicts      float64
	pendingDownloads   float64

	parserOutcomeDesc     *prometheus.Desc
	dispatchOutcomeDesc   *prometheus.Desc
	schedulerTickDesc     *prometheus.Desc
	openConflictsDesc     *prometheus.Desc
	pendingDownloadsDesc  *prometheus.Desc
}

// NewCoreCollector builds an empty collector; callers feed it via the
// Observe*/Set* methods. cmd/kitsune records scheduler ticks and the two
// gauges; nothing calls ObserveParserOutcome or ObserveDispatchOutcome,
// so those counter families stay empty.
func NewCoreCollector() *CoreCollector {
	return &CoreCollector{
		parserOutcomes:     make(map[string]float64),
		dispatchOutcomes:   make(map[string]float64),
		schedulerTickCount: make(map[string]float64),

		parserOutcomeDesc: prometheus.NewDesc(
			"kitsune_title_parser_outcomes_total",
			"Title parser pipeline outcomes by result",
			[]string{"outcome"},
			nil,
		),
		dispatchOutcomeDesc: prometheus.NewDesc(
			"kitsune_dispatch_outcomes_total",
			"Download dispatch outcomes by result",
			[]string{"outcome"},
			nil,
		),
		schedulerTickDesc: prometheus.NewDesc(
			"kitsune_scheduler_ticks_total",
			"Completed scheduler task runs by task name",
			[]string{"task"},
			nil,
		),
		openConflictsDesc: prometheus.NewDesc(
			"kitsune_link_conflicts_open",
			"Number of unresolved anime link conflicts",
			nil,
			nil,
		),
		pendingDownloadsDesc: prometheus.NewDesc(
			"kitsune_downloads_pending",
			"Number of downloads not yet in a terminal state",
			nil,
			nil,
		),
	}
}

// ObserveParserOutcome increments the counter for a title parser result.
func (c *CoreCollector) ObserveParserOutcome(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parserOutcomes[outcome]++
}

// ObserveDispatchOutcome increments the counter for a dispatch result.
func (c *CoreCollector) ObserveDispatchOutcome(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatchOutcomes[outcome]++
}

// ObserveSchedulerTick increments the completed-run counter for a task.
func (c *CoreCollector) ObserveSchedulerTick(task string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schedulerTickCount[task]++
}

// SetOpenConflicts records the current open-conflict gauge value.
func (c *CoreCollector) SetOpenConflicts(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openConflicts = float64(n)
}

// SetPendingDownloads records the current pending-download gauge value.
func (c *CoreCollector) SetPendingDownloads(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingDownloads = float64(n)
}

func (c *CoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.parserOutcomeDesc
	ch <- c.dispatchOutcomeDesc
	ch <- c.schedulerTickDesc
	ch <- c.openConflictsDesc
	ch <- c.pendingDownloadsDesc
}

func (c *CoreCollector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for outcome, v := range c.parserOutcomes {
		ch <- prometheus.MustNewConstMetric(c.parserOutcomeDesc, prometheus.CounterValue, v, outcome)
	}
	for outcome, v := range c.dispatchOutcomes {
		ch <- prometheus.MustNewConstMetric(c.dispatchOutcomeDesc, prometheus.CounterValue, v, outcome)
	}
	for task, v := range c.schedulerTickCount {
		ch <- prometheus.MustNewConstMetric(c.schedulerTickDesc, prometheus.CounterValue, v, task)
	}
	ch <- prometheus.MustNewConstMetric(c.openConflictsDesc, prometheus.GaugeValue, c.openConflicts)
	ch <- prometheus.MustNewConstMetric(c.pendingDownloadsDesc, prometheus.GaugeValue, c.pendingDownloads)
}
