// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package filterengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitsune-sh/kitsune-core/internal/models"
)

func rule(id int64, order int, positive bool, pattern string) *models.FilterRule {
	return &models.FilterRule{ID: id, RuleOrder: order, IsPositive: positive, RegexPattern: pattern}
}

func TestEngine_EmptyRuleSetIncludesEverything(t *testing.T) {
	e := New()
	include, err := e.Evaluate("anything at all", nil)
	require.NoError(t, err)
	assert.True(t, include)
}

func TestEngine_PositiveRuleNoMatchDefaultsInclude(t *testing.T) {
	e := New()
	include, err := e.Evaluate("Show - 01", []*models.FilterRule{rule(1, 0, true, `NeverMatches`)})
	require.NoError(t, err)
	assert.True(t, include)
}

func TestEngine_NegativeRuleMatchExcludes(t *testing.T) {
	e := New()
	include, err := e.Evaluate("Show - 01 [Batch]", []*models.FilterRule{rule(1, 0, false, `(?i)batch`)})
	require.NoError(t, err)
	assert.False(t, include)
}

func TestEngine_FirstMatchInOrderWins(t *testing.T) {
	e := New()
	rules := []*models.FilterRule{
		rule(1, 0, false, `(?i)batch`),
		rule(2, 1, true, `.*`),
	}
	include, err := e.Evaluate("Show - 01 [Batch]", rules)
	require.NoError(t, err)
	assert.False(t, include)
}

func TestEngine_BrokenRegexSurfacesError(t *testing.T) {
	e := New()
	_, err := e.Evaluate("Show - 01", []*models.FilterRule{rule(1, 0, false, `(unclosed`)})
	assert.Error(t, err)
}

func TestEngine_RecomputeOneReportsTransitions(t *testing.T) {
	e := New()
	link := &models.AnimeLink{ID: 42, FilteredFlag: false}

	newFlag, transition, err := e.RecomputeOne(link, "Show - 01 [Batch]", []*models.FilterRule{rule(1, 0, false, `(?i)batch`)})
	require.NoError(t, err)
	assert.True(t, newFlag)
	require.NotNil(t, transition)
	assert.True(t, transition.NewlyFiltered)
	assert.False(t, transition.NewlyUnfiltered)

	link.FilteredFlag = true
	newFlag, transition, err = e.RecomputeOne(link, "Show - 01", nil)
	require.NoError(t, err)
	assert.False(t, newFlag)
	require.NotNil(t, transition)
	assert.True(t, transition.NewlyUnfiltered)
}

func TestEngine_RecomputeOneNoChangeReturnsNilTransition(t *testing.T) {
	e := New()
	link := &models.AnimeLink{ID: 1, FilteredFlag: false}
	_, transition, err := e.RecomputeOne(link, "Show - 01", nil)
	require.NoError(t, err)
	assert.Nil(t, transition)
}
