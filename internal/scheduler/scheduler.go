// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package scheduler runs the three independent periodic workers
// (fetch-tick, download-poll, viewer-sync) described in §4.G, each on
// its own ticker goroutine.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Task names shared between the Scheduler's registration call sites (the
// CLI's serve command) and anything that needs to force an out-of-cycle
// run via Trigger (the services handler, on viewer registration).
const (
	TaskNameFetchTick     = "fetch-tick"
	TaskNameDownloadPoll  = "download-poll"
	TaskNameViewerSync    = "viewer-sync"
)

// TaskFunc is one scheduler tick. A returned error is logged and never
// propagates — the next tick tries again, per §7's "scheduler errors are
// logged via zerolog and never propagate".
type TaskFunc func(ctx context.Context) error

// Task is one registered periodic worker.
type Task struct {
	Name     string
	Interval time.Duration
	Fn       TaskFunc
}

// Scheduler owns one goroutine+ticker per registered Task, plus a
// manual-trigger channel per task so an event (e.g. a viewer
// registering) can force an out-of-cycle run without waiting for the
// next tick.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]Task
	trigger map[string]chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func New() *Scheduler {
	return &Scheduler{
		tasks:   make(map[string]Task),
		trigger: make(map[string]chan struct{}),
	}
}

// Register adds a task. Must be called before Start.
func (s *Scheduler) Register(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.Name] = t
	s.trigger[t.Name] = make(chan struct{}, 1)
}

// Start launches one goroutine per registered task, each driven by its
// own time.Ticker plus its manual-trigger channel.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for name, t := range s.tasks {
		s.wg.Add(1)
		go s.run(runCtx, t, s.trigger[name])
	}
}

func (s *Scheduler) run(ctx context.Context, t Task, trigger chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, t)
		case <-trigger:
			s.tick(ctx, t)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, t Task) {
	start := time.Now()
	err := t.Fn(ctx)
	dur := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("task", t.Name).Dur("duration", dur).Msg("scheduler tick failed")
		return
	}
	log.Debug().Str("task", t.Name).Dur("duration", dur).Msg("scheduler tick completed")
}

// Trigger forces an out-of-cycle run of a registered task, e.g. to drain
// a viewer-sync backlog immediately after a viewer registers (§4.G).
// A no-op if the task isn't registered or a trigger is already pending.
func (s *Scheduler) Trigger(name string) {
	s.mu.Lock()
	ch, ok := s.trigger[name]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Stop cancels every task goroutine and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}
