// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kitsune-sh/kitsune-core/internal/config"
)

func TestLoad_WritesAndReadsDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kitsune.toml")

	loaded, err := config.Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Equal(t, "127.0.0.1", loaded.Config.Host)
	require.Equal(t, 7475, loaded.Config.Port)
}

func TestLoad_DatabasePathDefaultsNextToConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kitsune.toml")

	loaded, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "kitsune.db"), loaded.Config.DatabaseDSN)
}

func TestLoad_FileOverridesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kitsune.toml")
	require.NoError(t, os.WriteFile(path, []byte("port = 9999\n"), 0o644))

	loaded, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 9999, loaded.Config.Port)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kitsune.toml")
	require.NoError(t, os.WriteFile(path, []byte("port = 9999\n"), 0o644))

	t.Setenv("KITSUNE_PORT", "8123")

	loaded, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 8123, loaded.Config.Port)
}

func TestLoad_ResolvesSchedulerDurations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kitsune.toml")
	require.NoError(t, os.WriteFile(path, []byte("fetchTickIntervalSeconds = 30\n"), 0o644))

	loaded, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, int(30), loaded.Config.FetchTickIntervalSeconds)
	require.EqualValues(t, 30_000_000_000, loaded.Config.FetchTickInterval)
}
