// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package titleparser runs the rule-priority title parser pipeline (§4.C):
// condition_regex → parse_regex → field extractors → numeric coercion.
package titleparser

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"

	"github.com/kitsune-sh/kitsune-core/internal/models"
)

// Outcome classifies a pipeline run; only OutcomeMatched carries a ParsedResult.
type Outcome string

const (
	OutcomeMatched Outcome = "matched"
	OutcomeNoMatch Outcome = "no_match"
	OutcomeFailed  Outcome = "failed"
)

// ParsedResult is the structured output of a successful parse (§4.C).
type ParsedResult struct {
	AnimeTitle    string
	EpisodeNo     int32
	SeriesNo      int32
	SubtitleGroup string
	Resolution    string
	Season        string
	Year          string
	ParserID      int64
}

// Result is what Run always returns: either a ParsedResult (Outcome ==
// OutcomeMatched) or a classification with an optional error detail.
type Result struct {
	Outcome Outcome
	Parsed  *ParsedResult
	Err     error
}

const requiredFieldCacheTTL = 30 * time.Minute

type compiledRegexes struct {
	condition *regexp.Regexp
	parse     *regexp.Regexp
}

// Pipeline evaluates enabled TitleParsers against raw titles, caching
// compiled regexes by (parser_id, condition_regex, parse_regex) so a hot
// parser list is never recompiled per request (§4.C NEW).
type Pipeline struct {
	cache *ttlcache.Cache[string, *compiledRegexes]
}

func New() *Pipeline {
	return &Pipeline{
		cache: ttlcache.New(ttlcache.Options[string, *compiledRegexes]{}.SetDefaultTTL(requiredFieldCacheTTL)),
	}
}

func cacheKey(p *models.TitleParser) string {
	return fmt.Sprintf("%d:%s:%s", p.ID, p.ConditionRegex, p.ParseRegex)
}

// Invalidate drops a parser's cached regexes, called on TitleParser
// update/delete so a stale compiled pattern never survives an edit.
func (pl *Pipeline) Invalidate(parserID int64, conditionRegex, parseRegex string) {
	pl.cache.Delete(fmt.Sprintf("%d:%s:%s", parserID, conditionRegex, parseRegex))
}

func (pl *Pipeline) compiled(p *models.TitleParser) (*compiledRegexes, error) {
	key := cacheKey(p)
	if cached, found := pl.cache.Get(key); found {
		return cached, nil
	}

	cond, err := regexp.Compile(p.ConditionRegex)
	if err != nil {
		return nil, fmt.Errorf("condition_regex: %w", err)
	}
	parse, err := regexp.Compile(p.ParseRegex)
	if err != nil {
		return nil, fmt.Errorf("parse_regex: %w", err)
	}

	compiled := &compiledRegexes{condition: cond, parse: parse}
	pl.cache.Set(key, compiled, ttlcache.DefaultTTL)
	return compiled, nil
}

// Run evaluates parsers in order (caller must supply them already sorted
// priority DESC, id ASC — see TitleParserStore.ListEnabledOrdered) against
// title, per §4.C's algorithm.
func (pl *Pipeline) Run(_ context.Context, title string, parsers []*models.TitleParser) Result {
	for _, p := range parsers {
		regexes, err := pl.compiled(p)
		if err != nil {
			// A stored parser with a broken regex surfaces as failed on
			// first use; it is not auto-disabled (operator decision, §4.C).
			return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("parser %d: %w", p.ID, err)}
		}

		if !regexes.condition.MatchString(title) {
			continue
		}

		match := regexes.parse.FindStringSubmatch(title)
		if match == nil {
			// condition_regex already matched this parser, so an operator
			// picked it as the right rule family for this title; a
			// parse_regex miss from here on is the stricter failure per
			// §8, not a fall-through to the next parser.
			return Result{Outcome: OutcomeFailed, Err: fmt.Errorf("parser %d: parse_regex did not match", p.ID)}
		}

		parsed, err := extractFields(p, match)
		if err != nil {
			return Result{Outcome: OutcomeFailed, Err: err}
		}
		parsed.ParserID = p.ID
		return Result{Outcome: OutcomeMatched, Parsed: parsed}
	}

	return Result{Outcome: OutcomeNoMatch}
}

// extractFields runs every FieldExtractor against one parse_regex match,
// coercing episode_no/series_no to int32 and applying series_no's default
// of 1 when absent.
func extractFields(p *models.TitleParser, match []string) (*ParsedResult, error) {
	values := make(map[string]string, len(p.FieldExtractors))

	for _, fe := range p.FieldExtractors {
		switch fe.Source {
		case models.ExtractorStatic:
			values[fe.Field] = fe.Value
		case models.ExtractorRegex:
			idx, err := strconv.Atoi(fe.Value)
			if err != nil {
				return nil, fmt.Errorf("field %q: capture group index %q is not an integer", fe.Field, fe.Value)
			}
			if idx < 1 || idx >= len(match) {
				return nil, fmt.Errorf("field %q: capture group %d out of range", fe.Field, idx)
			}
			values[fe.Field] = strings.TrimSpace(match[idx])
		default:
			return nil, fmt.Errorf("field %q: unknown extractor source %q", fe.Field, fe.Source)
		}
	}

	animeTitle, ok := values["anime_title"]
	if !ok || animeTitle == "" {
		return nil, fmt.Errorf("required field anime_title missing or empty")
	}

	episodeRaw, ok := values["episode_no"]
	if !ok || episodeRaw == "" {
		return nil, fmt.Errorf("required field episode_no missing or empty")
	}
	episodeNo, err := parseInt32(episodeRaw)
	if err != nil {
		return nil, fmt.Errorf("required field episode_no malformed: %w", err)
	}

	seriesNo := int32(1)
	if raw, ok := values["series_no"]; ok && raw != "" {
		seriesNo, err = parseInt32(raw)
		if err != nil {
			return nil, fmt.Errorf("optional field series_no malformed: %w", err)
		}
	}

	return &ParsedResult{
		AnimeTitle:    animeTitle,
		EpisodeNo:     episodeNo,
		SeriesNo:      seriesNo,
		SubtitleGroup: values["subtitle_group"],
		Resolution:    values["resolution"],
		Season:        values["season"],
		Year:          values["year"],
	}, nil
}

func parseInt32(s string) (int32, error) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(n), nil
}
