// Package review implements the weekly review wizard: a seven-step linear
// state machine whose in-progress draft outlives page reloads.
package review

import (
	"fmt"
	"strings"
	"time"

	"waypoint/api/internal/goal"
)

// Step numbers are fixed; the wizard is strictly linear.
const (
	StepMood       = 1
	StepWins       = 2
	StepChallenges = 3
	StepLearnings  = 4
	StepAlignment  = 5
	StepPriorities = 6
	StepSummary    = 7
)

const (
	MaxWins       = 5
	MaxChallenges = 5
	MaxPriorities = 3
)

// MoodLabels maps each 1-5 mood value to its display label.
var MoodLabels = map[int]string{
	1: "😫 Struggling",
	2: "😔 Heavy",
	3: "😐 Getting by",
	4: "🙂 Good",
	5: "🌟 Thriving",
}

type StepKind string

const (
	KindChoice  StepKind = "choice"
	KindBullets StepKind = "bullets"
	KindText    StepKind = "text"
	KindSummary StepKind = "summary"
)

type StepDef struct {
	Number int      `json:"number"`
	Name   string   `json:"name"`
	Title  string   `json:"title"`
	Kind   StepKind `json:"kind"`
	Cap    int      `json:"cap,omitempty"`
}

var steps = []StepDef{
	{Number: StepMood, Name: "mood", Title: "How did this week feel?", Kind: KindChoice},
	{Number: StepWins, Name: "wins", Title: "What went well?", Kind: KindBullets, Cap: MaxWins},
	{Number: StepChallenges, Name: "challenges", Title: "What was hard?", Kind: KindBullets, Cap: MaxChallenges},
	{Number: StepLearnings, Name: "learnings", Title: "What did you learn?", Kind: KindText},
	{Number: StepAlignment, Name: "alignment", Title: "Are you moving toward your visions?", Kind: KindText},
	{Number: StepPriorities, Name: "priorities", Title: "What matters next week?", Kind: KindBullets, Cap: MaxPriorities},
	{Number: StepSummary, Name: "summary", Title: "Your week at a glance", Kind: KindSummary},
}

// StepFor returns the definition for a step number.
func StepFor(number int) (StepDef, bool) {
	if number < StepMood || number > StepSummary {
		return StepDef{}, false
	}
	return steps[number-1], true
}

// Steps returns all step definitions in order.
func Steps() []StepDef {
	out := make([]StepDef, len(steps))
	copy(out, steps)
	return out
}

// Data is the record collected across the steps.
type Data struct {
	Mood                int      `json:"mood"`
	Wins                []string `json:"wins"`
	Challenges          []string `json:"challenges"`
	Learnings           string   `json:"learnings"`
	AlignmentReflection string   `json:"alignmentReflection"`
	NextWeekPriorities  []string `json:"nextWeekPriorities"`
}

// Draft is the resumable wizard state. It is serialized as-is into the
// draft store after every transition.
type Draft struct {
	CurrentStep int       `json:"currentStep"`
	WeekYear    int       `json:"weekYear"`
	Week        int       `json:"week"`
	Data        Data      `json:"data"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NewDraft opens a fresh wizard at step 1 for the given ISO week.
func NewDraft(weekYear, week int) *Draft {
	return &Draft{
		CurrentStep: StepMood,
		WeekYear:    weekYear,
		Week:        week,
		Data: Data{
			Wins:               []string{},
			Challenges:         []string{},
			NextWeekPriorities: []string{},
		},
		UpdatedAt: time.Now().UTC(),
	}
}

// StepInput carries one step's form values. Only the field matching the
// current step's kind is read.
type StepInput struct {
	Mood  int      `json:"mood,omitempty"`
	Items []string `json:"items,omitempty"`
	Text  string   `json:"text,omitempty"`
}

// Collect folds the current step's input into the draft. Blank bullet rows
// are filtered out; caps are enforced.
func (d *Draft) Collect(input StepInput) error {
	switch d.CurrentStep {
	case StepMood:
		if input.Mood < 1 || input.Mood > 5 {
			return fmt.Errorf("mood must be between 1 and 5")
		}
		d.Data.Mood = input.Mood
	case StepWins:
		items, err := collectBullets(input.Items, MaxWins, "wins")
		if err != nil {
			return err
		}
		d.Data.Wins = items
	case StepChallenges:
		items, err := collectBullets(input.Items, MaxChallenges, "challenges")
		if err != nil {
			return err
		}
		d.Data.Challenges = items
	case StepLearnings:
		d.Data.Learnings = strings.TrimSpace(input.Text)
	case StepAlignment:
		d.Data.AlignmentReflection = strings.TrimSpace(input.Text)
	case StepPriorities:
		items, err := collectBullets(input.Items, MaxPriorities, "priorities")
		if err != nil {
			return err
		}
		d.Data.NextWeekPriorities = items
	case StepSummary:
		// Nothing to collect; the summary is read-only.
	}
	d.UpdatedAt = time.Now().UTC()
	return nil
}

// Advance collects the current step and moves forward. It refuses to step
// past the summary: the summary's Next action is the submit path and is
// owned by the caller.
func (d *Draft) Advance(input StepInput) error {
	if d.CurrentStep >= StepSummary {
		return fmt.Errorf("already at the summary step")
	}
	if err := d.Collect(input); err != nil {
		return err
	}
	d.CurrentStep++
	return nil
}

// Back moves one step toward the start without collecting anything.
// Answers already collected for the current step stay in the draft.
func (d *Draft) Back() {
	if d.CurrentStep > StepMood {
		d.CurrentStep--
		d.UpdatedAt = time.Now().UTC()
	}
}

// CanSaveAndExit reports whether Save & Exit is offered on the current
// step (steps 2-6).
func (d *Draft) CanSaveAndExit() bool {
	return d.CurrentStep > StepMood && d.CurrentStep < StepSummary
}

// NeedsClosePrompt reports whether closing now should ask save-or-discard.
func (d *Draft) NeedsClosePrompt() bool {
	return d.CurrentStep > StepMood && d.CurrentStep < StepSummary
}

func collectBullets(items []string, limit int, field string) ([]string, error) {
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	if len(out) > limit {
		return nil, fmt.Errorf("%s accepts at most %d items", field, limit)
	}
	return out, nil
}

// SubmitPayload is the shape handed to the planning collaborator when the
// summary's Next action fires.
type SubmitPayload struct {
	WeekYear            int      `json:"weekYear"`
	Week                int      `json:"week"`
	WeekStart           string   `json:"weekStart"`
	WeekEnd             string   `json:"weekEnd"`
	Mood                int      `json:"mood"`
	Wins                []string `json:"wins"`
	Challenges          []string `json:"challenges"`
	Learnings           string   `json:"learnings"`
	AlignmentReflection string   `json:"alignmentReflection"`
	NextWeekPriorities  []string `json:"nextWeekPriorities"`
}

// Payload assembles the full submit payload from the collected data.
func (d *Draft) Payload() SubmitPayload {
	start, end := goal.WeekBounds(d.WeekYear, d.Week)
	return SubmitPayload{
		WeekYear:            d.WeekYear,
		Week:                d.Week,
		WeekStart:           start.Format("2006-01-02"),
		WeekEnd:             end.Format("2006-01-02"),
		Mood:                d.Data.Mood,
		Wins:                append([]string{}, d.Data.Wins...),
		Challenges:          append([]string{}, d.Data.Challenges...),
		Learnings:           d.Data.Learnings,
		AlignmentReflection: d.Data.AlignmentReflection,
		NextWeekPriorities:  append([]string{}, d.Data.NextWeekPriorities...),
	}
}

// Summary renders the read-only step-7 view of the collected data.
func (d *Draft) Summary() map[string]any {
	moodLabel := MoodLabels[d.Data.Mood]
	return map[string]any{
		"mood":                d.Data.Mood,
		"moodLabel":           moodLabel,
		"wins":                append([]string{}, d.Data.Wins...),
		"challenges":          append([]string{}, d.Data.Challenges...),
		"learnings":           d.Data.Learnings,
		"alignmentReflection": d.Data.AlignmentReflection,
		"nextWeekPriorities":  append([]string{}, d.Data.NextWeekPriorities...),
	}
}
