// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package filterengine evaluates the layered positive/negative regex rule
// set against candidate titles (§4.D).
package filterengine

import (
	"fmt"
	"regexp"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"

	"github.com/kitsune-sh/kitsune-core/internal/models"
)

const regexCacheTTL = 30 * time.Minute

// Engine evaluates a FilterRule list against candidate titles, caching
// compiled regexes by (rule_id, regex_pattern) the same way the title
// parser pipeline caches its own regexes (§4.D NEW).
type Engine struct {
	cache *ttlcache.Cache[string, *regexp.Regexp]
}

func New() *Engine {
	return &Engine{
		cache: ttlcache.New(ttlcache.Options[string, *regexp.Regexp]{}.SetDefaultTTL(regexCacheTTL)),
	}
}

func ruleCacheKey(r *models.FilterRule) string {
	return fmt.Sprintf("%d:%s", r.ID, r.RegexPattern)
}

// Invalidate drops a rule's cached regex, called when a FilterRule is deleted.
func (e *Engine) Invalidate(ruleID int64, regexPattern string) {
	e.cache.Delete(fmt.Sprintf("%d:%s", ruleID, regexPattern))
}

func (e *Engine) compiled(r *models.FilterRule) (*regexp.Regexp, error) {
	key := ruleCacheKey(r)
	if cached, found := e.cache.Get(key); found {
		return cached, nil
	}
	re, err := regexp.Compile(r.RegexPattern)
	if err != nil {
		return nil, err
	}
	e.cache.Set(key, re, ttlcache.DefaultTTL)
	return re, nil
}

// Evaluate walks rules (already sorted by rule_order ascending — see
// FilterRuleStore.ListForScopes) against title and returns whether it is
// included. Per §4.D: first positive match includes, first negative match
// excludes, no match at all defaults to include.
//
// A rule with a regex that fails to compile cannot be evaluated; the
// caller is told via err so the handler can surface InvalidInput per §7
// while the rule itself remains stored for the operator to fix.
func (e *Engine) Evaluate(title string, rules []*models.FilterRule) (include bool, err error) {
	for _, r := range rules {
		re, cerr := e.compiled(r)
		if cerr != nil {
			return false, fmt.Errorf("filter rule %d: %w", r.ID, cerr)
		}
		if !re.MatchString(title) {
			continue
		}
		return r.IsPositive, nil
	}
	return true, nil
}

// ScopeKeys are the scope identifiers relevant to one AnimeLink, used to
// pull the applicable rule union via FilterRuleStore.ListForScopes.
type ScopeKeys struct {
	AnimeID   *int64
	SeriesID  *int64
	GroupID   *int64
	FetcherID *int64
}

// Transition reports a filtered_flag change after a recompute pass.
type Transition struct {
	LinkID          int64
	NewlyFiltered   bool
	NewlyUnfiltered bool
}

// RecomputeOne evaluates a single link's title against its applicable
// rule set and reports whether its filtered_flag should change. Callers
// are expected to persist the flag and collect Transitions for dispatch
// (newly_unfiltered) or cancellation (newly_filtered) per §4.D.
func (e *Engine) RecomputeOne(link *models.AnimeLink, title string, rules []*models.FilterRule) (newFiltered bool, transition *Transition, err error) {
	include, err := e.Evaluate(title, rules)
	if err != nil {
		return link.FilteredFlag, nil, err
	}
	newFiltered = !include

	if newFiltered == link.FilteredFlag {
		return newFiltered, nil, nil
	}

	t := &Transition{LinkID: link.ID}
	if newFiltered {
		t.NewlyFiltered = true
	} else {
		t.NewlyUnfiltered = true
	}
	return newFiltered, t, nil
}
