// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package logging configures the process-wide zerolog logger from
// domain.Config, grounded on the rest of the pack's zerolog+lumberjack
// bootstrap idiom (e.g. jatassi-SlipStream's internal/logger): console
// output in dev, JSON-over-lumberjack rotation when a log path is
// configured, both writable at once so an operator tailing stdout
// during development still sees the same lines landing on disk.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kitsune-sh/kitsune-core/internal/domain"
)

// Configure sets zerolog's global logger per cfg and returns the
// lumberjack rotator (nil if file logging is disabled) so the caller
// can close it on shutdown.
func Configure(cfg *domain.Config) *lumberjack.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}

	var rotator *lumberjack.Logger
	var output io.Writer = console

	if cfg.LogPath != "" {
		if dir := filepath.Dir(cfg.LogPath); dir != "." {
			_ = os.MkdirAll(dir, 0o750)
		}
		rotator = &lumberjack.Logger{
			Filename:   cfg.LogPath,
			MaxSize:    cfg.LogMaxSize,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   true,
			LocalTime:  true,
		}
		output = io.MultiWriter(console, rotator)
	}

	log.Logger = zerolog.New(output).Level(level).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(level)

	return rotator
}
