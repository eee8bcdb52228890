// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitsune-sh/kitsune-core/internal/models"
)

func TestRegistry_UpsertAndGet(t *testing.T) {
	r := New()

	entry := r.Upsert(&models.ServiceModule{
		ID:           1,
		ModuleType:   models.ModuleTypeDownloader,
		Name:         "qbit-primary",
		Version:      "1.2.3",
		Priority:     10,
		BaseURL:      "http://localhost:9001",
		Capabilities: []string{"magnet", "http"},
	})
	require.NotNil(t, entry)
	assert.True(t, entry.IsHealthy)
	require.NotNil(t, entry.ParsedVersion)
	assert.Equal(t, "1.2.3", entry.ParsedVersion.String())

	got, ok := r.Get(1)
	require.True(t, ok)
	assert.Equal(t, "qbit-primary", got.Name)

	// mutating the returned clone must not affect the registry's state.
	got.Capabilities[0] = "mutated"
	again, _ := r.Get(1)
	assert.Equal(t, "magnet", again.Capabilities[0])
}

func TestRegistry_UpsertBadSemverStillRegisters(t *testing.T) {
	r := New()
	entry := r.Upsert(&models.ServiceModule{ID: 2, Name: "legacy-fetcher", Version: "not-a-version", ModuleType: models.ModuleTypeFetcher})
	require.NotNil(t, entry)
	assert.Nil(t, entry.ParsedVersion)
	assert.True(t, entry.IsHealthy)
}

func TestRegistry_ListByTypeOrdering(t *testing.T) {
	r := New()
	r.Upsert(&models.ServiceModule{ID: 1, Name: "low", ModuleType: models.ModuleTypeDownloader, Priority: 1})
	r.Upsert(&models.ServiceModule{ID: 2, Name: "high-a", ModuleType: models.ModuleTypeDownloader, Priority: 10})
	r.Upsert(&models.ServiceModule{ID: 3, Name: "high-b", ModuleType: models.ModuleTypeDownloader, Priority: 10})
	r.Upsert(&models.ServiceModule{ID: 4, Name: "viewer", ModuleType: models.ModuleTypeViewer, Priority: 99})

	out := r.ListByType(models.ModuleTypeDownloader)
	require.Len(t, out, 3)
	assert.Equal(t, int64(2), out[0].ID)
	assert.Equal(t, int64(3), out[1].ID)
	assert.Equal(t, int64(1), out[2].ID)
}

func TestRegistry_ListHealthyWithCapability(t *testing.T) {
	r := New()
	r.Upsert(&models.ServiceModule{ID: 1, Name: "a", ModuleType: models.ModuleTypeDownloader, Priority: 5, Capabilities: []string{"magnet"}})
	r.Upsert(&models.ServiceModule{ID: 2, Name: "b", ModuleType: models.ModuleTypeDownloader, Priority: 10, Capabilities: []string{"http"}})
	r.MarkHealth(1, false)

	out := r.ListHealthyWithCapability(models.ModuleTypeDownloader, "magnet")
	assert.Empty(t, out)

	out = r.ListHealthyWithCapability(models.ModuleTypeDownloader, "http")
	require.Len(t, out, 1)
	assert.Equal(t, int64(2), out[0].ID)
}

func TestRegistry_RemoveAndLen(t *testing.T) {
	r := New()
	r.Upsert(&models.ServiceModule{ID: 1, Name: "a", ModuleType: models.ModuleTypeFetcher})
	assert.Equal(t, 1, r.Len())
	r.Remove(1)
	assert.Equal(t, 0, r.Len())
	_, ok := r.Get(1)
	assert.False(t, ok)
}
