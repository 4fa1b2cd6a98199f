package library

import "time"

// calendarDate truncates a timestamp to its UTC calendar date.
func calendarDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateAfter reports whether a falls on a later calendar date than b,
// ignoring the time of day. Due-date math never looks at clock time: a book
// returned at 23:59 on its due date is on time.
func DateAfter(a, b time.Time) bool {
	return calendarDate(a).After(calendarDate(b))
}

// SameDate reports whether a and b fall on the same calendar date.
func SameDate(a, b time.Time) bool {
	return calendarDate(a).Equal(calendarDate(b))
}
