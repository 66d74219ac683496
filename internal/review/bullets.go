package review

import "strings"

// BulletList models the editable row set behind the wins/challenges/
// priorities steps: there is always at least one row on screen, "add"
// stops at the field's cap, "remove" stops at one row, and blank rows are
// dropped only at collection time.
type BulletList struct {
	rows  []string
	limit int
}

// NewBulletList seeds the rows from previously collected values. An empty
// value set still yields one blank row.
func NewBulletList(values []string, limit int) *BulletList {
	rows := make([]string, 0, len(values))
	rows = append(rows, values...)
	if len(rows) == 0 {
		rows = append(rows, "")
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return &BulletList{rows: rows, limit: limit}
}

// Add appends a blank row and returns its index so the caller can focus
// it. Returns -1 when the cap is already reached.
func (l *BulletList) Add() int {
	if len(l.rows) >= l.limit {
		return -1
	}
	l.rows = append(l.rows, "")
	return len(l.rows) - 1
}

// Remove deletes the row at index, refusing to drop below one row.
func (l *BulletList) Remove(index int) bool {
	if len(l.rows) <= 1 || index < 0 || index >= len(l.rows) {
		return false
	}
	l.rows = append(l.rows[:index], l.rows[index+1:]...)
	return true
}

// Set replaces the value of an existing row.
func (l *BulletList) Set(index int, value string) bool {
	if index < 0 || index >= len(l.rows) {
		return false
	}
	l.rows[index] = value
	return true
}

// Rows returns the rows as rendered, blanks included.
func (l *BulletList) Rows() []string {
	out := make([]string, len(l.rows))
	copy(out, l.rows)
	return out
}

// BulletRows returns the row list for the draft's current step, seeded
// from the answers already collected, or nil when the current step does
// not take bullets.
func (d *Draft) BulletRows() *BulletList {
	switch d.CurrentStep {
	case StepWins:
		return NewBulletList(d.Data.Wins, MaxWins)
	case StepChallenges:
		return NewBulletList(d.Data.Challenges, MaxChallenges)
	case StepPriorities:
		return NewBulletList(d.Data.NextWeekPriorities, MaxPriorities)
	}
	return nil
}

// Collect returns the non-blank rows in order.
func (l *BulletList) Collect() []string {
	out := make([]string, 0, len(l.rows))
	for _, row := range l.rows {
		if trimmed := strings.TrimSpace(row); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
