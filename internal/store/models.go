package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// WeeklyReview is a submitted review; drafts never reach this table.
type WeeklyReview struct {
	ID                  string
	OwnerID             string
	WeekStart           time.Time
	WeekEnd             time.Time
	Mood                int
	Wins                []string
	Challenges          []string
	Learnings           string
	AlignmentReflection string
	NextWeekPriorities  []string
	CreatedAt           time.Time
}

// GoalPatch carries the fields a partial goal update may touch. Nil means
// "leave unchanged"; linkage fields travel together.
type GoalPatch struct {
	Title       *string
	Status      *string
	ParentID    *string
	ParentLevel *string
	Meta        *string // JSON blob
}
