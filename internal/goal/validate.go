package goal

// LinkSelection is the parent chosen in a goal form: the candidate id plus
// its level, cached so validation never needs the full goal collection.
type LinkSelection struct {
	ParentID    string `json:"parentId"`
	ParentLevel Level  `json:"parentLevel"`
}

// Result is the outcome of a linkage check. OK=false blocks the save and
// Message explains why. A warning flags a non-conforming but still
// saveable selection (intentions only).
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Warning string `json:"warning,omitempty"`
}

const (
	msgMilestoneNeedsVision = "Choose a Vision so this milestone has an anchor."
	msgFocusNeedsMilestone  = "A Focus must support a Milestone."
)

// requiredParents maps each level to the parent levels that satisfy its
// linkage rule. Visions have none; intentions accept a focus or a vision
// but are never blocked on it.
var requiredParents = map[Level][]Level{
	LevelVision:    nil,
	LevelMilestone: {LevelVision},
	LevelFocus:     {LevelMilestone},
	LevelIntention: {LevelFocus, LevelVision},
}

// Validate decides whether a goal at the given level may be created with
// the supplied parent selection. Pure and synchronous; rejection is a
// normal control-flow branch, never an error.
func Validate(level Level, selection *LinkSelection) Result {
	switch level {
	case LevelVision:
		// Always accepted. A vision has no parent slot; any selection a
		// caller hands in is ignored, never a reason to block the save.
		return Result{OK: true}
	case LevelMilestone:
		if !selectionMatches(selection, requiredParents[LevelMilestone]) {
			return Result{OK: false, Message: msgMilestoneNeedsVision}
		}
		return Result{OK: true}
	case LevelFocus:
		if !selectionMatches(selection, requiredParents[LevelFocus]) {
			return Result{OK: false, Message: msgFocusNeedsMilestone}
		}
		return Result{OK: true}
	case LevelIntention:
		// Linkage is always optional here: a bare intention is a life task.
		if selection != nil && selection.ParentID != "" && !selectionMatches(selection, requiredParents[LevelIntention]) {
			return Result{OK: true, Warning: "Intentions usually support a Focus or a Vision."}
		}
		return Result{OK: true}
	}
	return Result{OK: false, Message: "Unknown goal level."}
}

func selectionMatches(selection *LinkSelection, allowed []Level) bool {
	if selection == nil || selection.ParentID == "" {
		return false
	}
	for _, level := range allowed {
		if selection.ParentLevel == level {
			return true
		}
	}
	return false
}
