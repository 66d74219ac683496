// Package align derives which visions are drifting: the weekly review's
// alignment step injects this as read-only context.
package align

import (
	"sort"
	"time"

	"waypoint/api/internal/goal"
)

type VisionState string

const (
	StateNoMilestones VisionState = "no_milestones"
	StateStalled      VisionState = "stalled"
	StateAllBlocked   VisionState = "all_blocked"
	StateOnTrack      VisionState = "on_track"
)

// Attention is one vision flagged for the alignment step.
type Attention struct {
	VisionID         string      `json:"visionId"`
	VisionTitle      string      `json:"visionTitle"`
	VisionState      VisionState `json:"visionState"`
	LinkedMilestones int         `json:"linkedMilestones"`
	Gap              string      `json:"gap"`
}

// StalledAfter is how long a vision's milestones may sit untouched before
// the vision counts as stalled.
const StalledAfter = 21 * 24 * time.Hour

type Checker struct {
	now func() time.Time
}

func NewChecker() *Checker {
	return &Checker{now: time.Now}
}

// VisionsNeedingAttention scans the goal collection for visions in the
// given year whose milestone activity suggests drift. On-track visions
// are omitted. Output is ordered by title for stable rendering.
func (c *Checker) VisionsNeedingAttention(goals []goal.Goal, year int) []Attention {
	milestonesByVision := make(map[string][]goal.Goal)
	for _, g := range goals {
		if g.Level == goal.LevelMilestone && g.ParentID != "" {
			milestonesByVision[g.ParentID] = append(milestonesByVision[g.ParentID], g)
		}
	}

	now := c.now()
	flagged := make([]Attention, 0)
	for _, g := range goals {
		if g.Level != goal.LevelVision || g.Year != year || g.Status == goal.StatusDone {
			continue
		}
		state := visionState(milestonesByVision[g.ID], now)
		if state == StateOnTrack {
			continue
		}
		flagged = append(flagged, Attention{
			VisionID:         g.ID,
			VisionTitle:      g.Title,
			VisionState:      state,
			LinkedMilestones: len(milestonesByVision[g.ID]),
			Gap:              DescribeGap(state),
		})
	}

	sort.Slice(flagged, func(i, j int) bool {
		if flagged[i].VisionTitle != flagged[j].VisionTitle {
			return flagged[i].VisionTitle < flagged[j].VisionTitle
		}
		return flagged[i].VisionID < flagged[j].VisionID
	})
	return flagged
}

func visionState(milestones []goal.Goal, now time.Time) VisionState {
	if len(milestones) == 0 {
		return StateNoMilestones
	}

	active := 0
	blocked := 0
	var lastTouched time.Time
	for _, m := range milestones {
		if m.Status == goal.StatusDone {
			continue
		}
		active++
		if m.Status == goal.StatusBlocked {
			blocked++
		}
		if m.UpdatedAt.After(lastTouched) {
			lastTouched = m.UpdatedAt
		}
	}
	if active == 0 {
		// Every milestone done: nothing to flag.
		return StateOnTrack
	}
	if blocked == active {
		return StateAllBlocked
	}
	if now.Sub(lastTouched) > StalledAfter {
		return StateStalled
	}
	return StateOnTrack
}

// DescribeGap renders a vision state as the short prose the alignment
// step shows beside the vision title.
func DescribeGap(state VisionState) string {
	switch state {
	case StateNoMilestones:
		return "No milestones support this vision yet. A small first step would help."
	case StateStalled:
		return "Its milestones haven't moved in a few weeks."
	case StateAllBlocked:
		return "Every active milestone under this vision is blocked."
	default:
		return "On track."
	}
}
