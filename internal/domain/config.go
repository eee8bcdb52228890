// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "time"

// Config is the core's full runtime configuration, loaded by internal/config
// from a TOML file layered under KITSUNE_-prefixed environment overrides.
//
// Field names intentionally mirror the toml/mapstructure double-tagging
// idiom of this lineage's config structs so viper's automatic env binding
// and file decoding agree on the same key.
type Config struct {
	Host    string `toml:"host" mapstructure:"host"`
	Port    int    `toml:"port" mapstructure:"port"`
	BaseURL string `toml:"baseUrl" mapstructure:"baseUrl"`

	// DatabaseDSN is a filesystem path for the embedded SQLite backend
	// (e.g. "./kitsune.db") — the only persisted state per §3.
	DatabaseDSN string `toml:"databaseDsn" mapstructure:"databaseDsn"`

	// ViewerCallbackBaseURL is prefixed onto callback_url fields sent to
	// fetchers and viewers so they can call back into this core.
	ViewerCallbackBaseURL string `toml:"viewerCallbackBaseUrl" mapstructure:"viewerCallbackBaseUrl"`

	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`

	MetricsEnabled bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost    string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort    int    `toml:"metricsPort" mapstructure:"metricsPort"`

	// MetricsBasicAuthUsers is an optional comma-separated "user:pass"
	// list gating the /metrics endpoint when non-empty.
	MetricsBasicAuthUsers string `toml:"metricsBasicAuthUsers" mapstructure:"metricsBasicAuthUsers"`

	// FetchTickInterval, DownloadPollInterval and ViewerSyncInterval are the
	// §4.G scheduler periods. DownloadPollInterval is explicitly
	// env-overridable per §6 ("download-poll interval (seconds), overridable
	// by env"); the others default the same way but are exposed for parity.
	FetchTickInterval    time.Duration `toml:"-" mapstructure:"-"`
	DownloadPollInterval time.Duration `toml:"-" mapstructure:"-"`
	ViewerSyncInterval   time.Duration `toml:"-" mapstructure:"-"`

	FetchTickIntervalSeconds    int `toml:"fetchTickIntervalSeconds" mapstructure:"fetchTickIntervalSeconds"`
	DownloadPollIntervalSeconds int `toml:"downloadPollIntervalSeconds" mapstructure:"downloadPollIntervalSeconds"`
	ViewerSyncIntervalSeconds   int `toml:"viewerSyncIntervalSeconds" mapstructure:"viewerSyncIntervalSeconds"`
}

// Defaults returns a Config with every field set to its documented default,
// the shape used both by the CLI before applying viper overrides and by
// tests that need a full config without a TOML fixture.
func Defaults() *Config {
	c := &Config{
		Host:                        "127.0.0.1",
		Port:                        7475,
		DatabaseDSN:                 "./kitsune.db",
		LogLevel:                    "info",
		LogMaxSize:                  50,
		LogMaxBackups:               3,
		MetricsEnabled:              false,
		MetricsHost:                 "127.0.0.1",
		MetricsPort:                 7476,
		MetricsBasicAuthUsers:       "",
		FetchTickIntervalSeconds:    60,
		DownloadPollIntervalSeconds: 60,
		ViewerSyncIntervalSeconds:   60,
	}
	c.ResolveDurations()
	return c
}

// ResolveDurations derives the time.Duration scheduler fields from their
// *Seconds counterparts. Called after the config is decoded since viper has
// no native duration-from-int support for these section-less fields.
func (c *Config) ResolveDurations() {
	c.FetchTickInterval = time.Duration(c.FetchTickIntervalSeconds) * time.Second
	c.DownloadPollInterval = time.Duration(c.DownloadPollIntervalSeconds) * time.Second
	c.ViewerSyncInterval = time.Duration(c.ViewerSyncIntervalSeconds) * time.Second
}
