package goal

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// PillThreshold is the largest selection (counting the "none" option for
// intentions) still rendered as pill buttons; larger sets become a
// level-grouped dropdown.
const PillThreshold = 6

const (
	PresentationPills    = "pills"
	PresentationDropdown = "dropdown"
)

// Candidate is one eligible parent goal.
type Candidate struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Level Level  `json:"level"`
}

// CandidateGroup holds the candidates of one parent level, for the
// dropdown presentation.
type CandidateGroup struct {
	Level      Level       `json:"level"`
	Candidates []Candidate `json:"candidates"`
}

// CandidateSet is the full selection model handed to the goal form.
type CandidateSet struct {
	Candidates   []Candidate      `json:"candidates"`
	Groups       []CandidateGroup `json:"groups,omitempty"`
	Presentation string           `json:"presentation"`
	AllowNone    bool             `json:"allowNone"`
}

// Scope is the temporal window candidates are drawn from: visions from the
// selected year, focuses from the viewing ISO week.
type Scope struct {
	Year     int
	WeekYear int
	Week     int
}

var titleCollator = collate.New(language.English, collate.IgnoreCase)

// Candidates builds the ordered, deduplicated list of eligible parents for
// a goal at the given level. Deterministic for identical inputs: the form
// re-derives this on every re-render and reordering reads as flicker.
func Candidates(level Level, goals []Goal, scope Scope) CandidateSet {
	allowNone := level == LevelIntention
	parents := requiredParents[level]
	if len(parents) == 0 {
		return CandidateSet{Candidates: []Candidate{}, Presentation: PresentationPills, AllowNone: allowNone}
	}

	allowed := make(map[Level]bool, len(parents))
	for _, p := range parents {
		allowed[p] = true
	}

	seen := make(map[string]bool)
	candidates := make([]Candidate, 0)
	for _, g := range goals {
		if !allowed[g.Level] || g.Status == StatusDone || seen[g.ID] {
			continue
		}
		if !inScope(g, scope) {
			continue
		}
		seen[g.ID] = true
		candidates = append(candidates, Candidate{ID: g.ID, Title: g.Title, Level: g.Level})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if cmp := titleCollator.CompareString(candidates[i].Title, candidates[j].Title); cmp != 0 {
			return cmp < 0
		}
		return candidates[i].ID < candidates[j].ID
	})

	set := CandidateSet{Candidates: candidates, AllowNone: allowNone}
	total := len(candidates)
	if allowNone {
		total++
	}
	if total <= PillThreshold {
		set.Presentation = PresentationPills
		return set
	}
	set.Presentation = PresentationDropdown
	set.Groups = groupByLevel(candidates, parents)
	return set
}

func inScope(g Goal, scope Scope) bool {
	switch g.Level {
	case LevelVision:
		return scope.Year == 0 || g.Year == scope.Year
	case LevelFocus:
		if scope.Week == 0 || g.StartDate == nil {
			return scope.Week == 0
		}
		return SameISOWeek(*g.StartDate, scope.WeekYear, scope.Week)
	}
	return true
}

func groupByLevel(candidates []Candidate, order []Level) []CandidateGroup {
	groups := make([]CandidateGroup, 0, len(order))
	for _, level := range order {
		group := CandidateGroup{Level: level, Candidates: make([]Candidate, 0)}
		for _, c := range candidates {
			if c.Level == level {
				group.Candidates = append(group.Candidates, c)
			}
		}
		if len(group.Candidates) > 0 {
			groups = append(groups, group)
		}
	}
	return groups
}
