// Package goal holds the planning hierarchy: levels, linkage rules and
// parent-candidate selection.
package goal

import (
	"fmt"
	"strings"
	"time"
)

// Level is the tier a goal lives at. Visions span a year, milestones a
// month, focuses an ISO week and intentions a single day.
type Level string

const (
	LevelVision    Level = "vision"
	LevelMilestone Level = "milestone"
	LevelFocus     Level = "focus"
	LevelIntention Level = "intention"
)

func ParseLevel(raw string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(raw))) {
	case LevelVision:
		return LevelVision, nil
	case LevelMilestone:
		return LevelMilestone, nil
	case LevelFocus:
		return LevelFocus, nil
	case LevelIntention:
		return LevelIntention, nil
	}
	return "", fmt.Errorf("unknown goal level %q", raw)
}

type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusBlocked    Status = "blocked"
)

func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusTodo:
		return StatusTodo, nil
	case StatusInProgress:
		return StatusInProgress, nil
	case StatusDone:
		return StatusDone, nil
	case StatusBlocked:
		return StatusBlocked, nil
	}
	return "", fmt.Errorf("unknown goal status %q", raw)
}

// Meta carries the level-specific free-form fields.
type Meta struct {
	AccentTheme      string `json:"accentTheme,omitempty"`
	LowEnergyVariant string `json:"lowEnergyVariant,omitempty"`
	TinyVersion      string `json:"tinyVersion,omitempty"`
}

type Goal struct {
	ID          string
	OwnerID     string
	Level       Level
	Title       string
	Status      Status
	ParentID    string // empty when unlinked
	ParentLevel Level  // cached from the parent for fast filtering
	Year        int
	Month       int // 1-12, milestones only
	StartDate   *time.Time
	Meta        Meta
	ImageObject string // media object key, visions only
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Linked reports whether the goal references a parent.
func (g Goal) Linked() bool {
	return g.ParentID != ""
}

// VisionInput, MilestoneInput, FocusInput and IntentionInput are the
// per-level create payloads. Each carries only the fields legal for its
// level, so an illegal combination is unrepresentable.

type VisionInput struct {
	Title       string
	Year        int
	AccentTheme string
}

type MilestoneInput struct {
	Title    string
	Year     int
	Month    int
	ParentID string // vision, required
}

type FocusInput struct {
	Title            string
	WeekStart        time.Time
	ParentID         string // milestone, required
	LowEnergyVariant string
}

type IntentionInput struct {
	Title       string
	Date        time.Time
	ParentID    string // focus or vision, optional
	TinyVersion string
}

// NewVision builds a year-level goal. The input carries no parent slot,
// so a vision can never end up linked.
func NewVision(id, ownerID string, in VisionInput, now time.Time) (Goal, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Goal{}, fmt.Errorf("title is required")
	}
	year := in.Year
	if year == 0 {
		year = now.Year()
	}
	return Goal{
		ID:        id,
		OwnerID:   ownerID,
		Level:     LevelVision,
		Title:     title,
		Status:    StatusTodo,
		Year:      year,
		Meta:      Meta{AccentTheme: strings.TrimSpace(in.AccentTheme)},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// NewMilestone builds a month-level goal. The selection must already have
// passed Validate; it carries the resolved parent level.
func NewMilestone(id, ownerID string, in MilestoneInput, selection *LinkSelection, now time.Time) (Goal, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Goal{}, fmt.Errorf("title is required")
	}
	if in.Year == 0 || in.Month < 1 || in.Month > 12 {
		return Goal{}, fmt.Errorf("a milestone needs a year and a month")
	}
	g := Goal{
		ID:        id,
		OwnerID:   ownerID,
		Level:     LevelMilestone,
		Title:     title,
		Status:    StatusTodo,
		Year:      in.Year,
		Month:     in.Month,
		CreatedAt: now,
		UpdatedAt: now,
	}
	applySelection(&g, selection)
	return g, nil
}

// NewFocus builds a week-level goal. Any day of the target week is
// accepted; the stored start date is that week's Monday.
func NewFocus(id, ownerID string, in FocusInput, selection *LinkSelection, now time.Time) (Goal, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Goal{}, fmt.Errorf("title is required")
	}
	if in.WeekStart.IsZero() {
		return Goal{}, fmt.Errorf("a focus needs a target week")
	}
	weekYear, week := WeekNumber(in.WeekStart)
	monday := WeekStart(weekYear, week)
	g := Goal{
		ID:        id,
		OwnerID:   ownerID,
		Level:     LevelFocus,
		Title:     title,
		Status:    StatusTodo,
		Year:      weekYear,
		StartDate: &monday,
		Meta:      Meta{LowEnergyVariant: strings.TrimSpace(in.LowEnergyVariant)},
		CreatedAt: now,
		UpdatedAt: now,
	}
	applySelection(&g, selection)
	return g, nil
}

// NewIntention builds a day-level goal. The selection may be nil: a bare
// intention is a life task.
func NewIntention(id, ownerID string, in IntentionInput, selection *LinkSelection, now time.Time) (Goal, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Goal{}, fmt.Errorf("title is required")
	}
	if in.Date.IsZero() {
		return Goal{}, fmt.Errorf("an intention needs a date")
	}
	day := in.Date
	g := Goal{
		ID:        id,
		OwnerID:   ownerID,
		Level:     LevelIntention,
		Title:     title,
		Status:    StatusTodo,
		Year:      day.Year(),
		StartDate: &day,
		Meta:      Meta{TinyVersion: strings.TrimSpace(in.TinyVersion)},
		CreatedAt: now,
		UpdatedAt: now,
	}
	applySelection(&g, selection)
	return g, nil
}

func applySelection(g *Goal, selection *LinkSelection) {
	if selection == nil || selection.ParentID == "" {
		return
	}
	g.ParentID = selection.ParentID
	g.ParentLevel = selection.ParentLevel
}
