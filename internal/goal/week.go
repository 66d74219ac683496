package goal

import "time"

// WeekNumber returns the ISO 8601 week-year and week number for a date.
// Weeks start on Monday; year-boundary days may belong to the adjacent
// week-year, matching time.ISOWeek.
func WeekNumber(t time.Time) (year, week int) {
	return t.ISOWeek()
}

// WeekStart returns the Monday that begins the given ISO week. It is the
// inverse of WeekNumber: WeekNumber(WeekStart(y, w)) == (y, w) for every
// valid (y, w), including year-boundary weeks.
func WeekStart(year, week int) time.Time {
	// January 4th is always inside ISO week 1 of its year.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	weekday := int(jan4.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	week1Monday := jan4.AddDate(0, 0, 1-weekday)
	return week1Monday.AddDate(0, 0, (week-1)*7)
}

// WeekBounds returns the Monday start and Sunday end (inclusive) of the
// given ISO week.
func WeekBounds(year, week int) (start, end time.Time) {
	start = WeekStart(year, week)
	end = start.AddDate(0, 0, 6)
	return start, end
}

// SameISOWeek reports whether a date falls inside the given ISO week.
func SameISOWeek(t time.Time, year, week int) bool {
	y, w := WeekNumber(t)
	return y == year && w == week
}
