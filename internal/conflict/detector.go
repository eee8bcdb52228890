// Copyright (c) 2025, the kitsune-core contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package conflict detects and resolves duplicate-episode conflicts
// across subtitle groups (§4.E).
package conflict

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/kitsune-sh/kitsune-core/internal/models"
)

// ErrInvalidChoice is returned by Resolve when chosen_link_id is not a
// member of the conflict's active group (§4.E failure semantics).
var ErrInvalidChoice = errors.New("chosen link is not a member of this conflict group")

// groupKey is the (series_id, group_id, episode_no) bucketing key §4.E
// groups active, unfiltered AnimeLinks by.
type groupKey struct {
	seriesID  int64
	groupID   int64
	episodeNo int
}

// Detector runs the idempotent conflict detection procedure and the
// manual resolution procedure over the repository layer.
type Detector struct {
	links     *models.LinkStore
	conflicts *models.ConflictStore
}

func New(links *models.LinkStore, conflicts *models.ConflictStore) *Detector {
	return &Detector{links: links, conflicts: conflicts}
}

// DetectResult reports the outcome of one detection pass.
type DetectResult struct {
	// NewlyEligibleLinkIDs are links that left conflict status as a side
	// effect of this pass (auto-healed groups) — they can be dispatched
	// without waiting for manual resolution (§4.E "auto-dispatch policy").
	NewlyEligibleLinkIDs []int64
}

// Detect runs the three-step idempotent procedure: clear stale flags,
// mark new conflict groups, auto-heal groups that dropped to cardinality
// <=1 (§4.E).
func (d *Detector) Detect(ctx context.Context) (*DetectResult, error) {
	if err := d.links.ClearAllConflictFlags(ctx); err != nil {
		return nil, fmt.Errorf("clear conflict flags: %w", err)
	}

	candidates, err := d.links.ListActiveUnfiltered(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active unfiltered links: %w", err)
	}

	groups := make(map[groupKey][]*models.AnimeLink)
	for _, l := range candidates {
		key := groupKey{seriesID: l.SeriesID, groupID: l.GroupID, episodeNo: l.EpisodeNo}
		groups[key] = append(groups[key], l)
	}

	for key, members := range groups {
		if len(members) <= 1 {
			continue
		}

		ids := make([]int64, len(members))
		for i, m := range members {
			ids[i] = m.ID
		}
		if err := d.links.SetConflictFlags(ctx, ids, true); err != nil {
			return nil, fmt.Errorf("mark conflict group (%d,%d,%d): %w", key.seriesID, key.groupID, key.episodeNo, err)
		}
		if _, err := d.conflicts.GetOrCreate(ctx, key.seriesID, key.groupID, key.episodeNo); err != nil {
			return nil, fmt.Errorf("upsert conflict record (%d,%d,%d): %w", key.seriesID, key.groupID, key.episodeNo, err)
		}
	}

	result := &DetectResult{}

	unresolved, err := d.conflicts.ListUnresolved(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unresolved conflicts: %w", err)
	}
	for _, c := range unresolved {
		key := groupKey{seriesID: c.SeriesID, groupID: c.GroupID, episodeNo: c.EpisodeNo}
		if len(groups[key]) > 1 {
			continue
		}

		// Group cardinality dropped to <=1 since this conflict was
		// recorded (e.g. a filter rule change removed a sibling).
		// Auto-heal: delete the stale conflict record.
		if err := d.conflicts.Delete(ctx, c.ID); err != nil {
			return nil, fmt.Errorf("auto-heal conflict %d: %w", c.ID, err)
		}
		log.Debug().Int64("conflictId", c.ID).Msg("conflict auto-healed: group cardinality dropped to <=1")

		if len(groups[key]) == 1 {
			result.NewlyEligibleLinkIDs = append(result.NewlyEligibleLinkIDs, groups[key][0].ID)
		}
	}

	return result, nil
}

// Resolve implements §4.E's manual resolution procedure: verify
// unresolved, verify chosen link is in the active group, clear the
// conflict flag on the chosen link, mark all other members resolved,
// and mark the conflict record resolved.
func (d *Detector) Resolve(ctx context.Context, conflictID, chosenLinkID int64) error {
	c, err := d.conflicts.Get(ctx, conflictID)
	if err != nil {
		return err
	}
	if c.ResolutionStatus == models.ResolutionResolved {
		return models.ErrAlreadyResolved
	}

	members, err := d.links.ListByGroupKey(ctx, c.SeriesID, c.GroupID, c.EpisodeNo)
	if err != nil {
		return fmt.Errorf("list conflict group members: %w", err)
	}

	var chosen *models.AnimeLink
	var others []int64
	for _, m := range members {
		if m.LinkStatus != models.LinkActive {
			continue
		}
		if m.ID == chosenLinkID {
			chosen = m
			continue
		}
		others = append(others, m.ID)
	}
	if chosen == nil {
		return ErrInvalidChoice
	}

	if err := d.links.ClearConflictFlag(ctx, chosen.ID); err != nil {
		return fmt.Errorf("clear conflict flag on chosen link: %w", err)
	}
	if len(others) > 0 {
		if err := d.links.SetLinkStatusBulk(ctx, others, models.LinkResolved); err != nil {
			return fmt.Errorf("mark other members resolved: %w", err)
		}
	}
	if err := d.conflicts.MarkResolved(ctx, conflictID, chosenLinkID); err != nil {
		return fmt.Errorf("mark conflict record resolved: %w", err)
	}
	return nil
}
