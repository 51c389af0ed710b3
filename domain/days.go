package domain

import "time"

// Day is the unit loan periods and fines are measured in.
const Day = 24 * time.Hour

// AddDays returns t moved forward by n whole days of 24 hours.
func AddDays(t time.Time, n int) time.Time {
	return t.Add(time.Duration(n) * Day)
}

// DaysBetween returns the number of whole days from "from" to "to", truncated toward zero.
// It is negative when "to" lies before "from".
func DaysBetween(from, to time.Time) int64 {
	return int64(to.Sub(from) / Day)
}
