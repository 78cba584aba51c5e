package models

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// MonthOf returns the first instant of t's month in UTC
func MonthOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// MonthRange returns every first-of-month from the month of from through the
// month of to, inclusive. It returns nil when from is after to.
func MonthRange(from, to time.Time) []time.Time {
	start, end := MonthOf(from), MonthOf(to)
	if start.After(end) {
		return nil
	}
	var months []time.Time
	for m := start; !m.After(end); m = m.AddDate(0, 1, 0) {
		months = append(months, m)
	}
	return months
}

// MonthEnd returns the last second of the month containing t
func MonthEnd(t time.Time) time.Time {
	return MonthOf(t).AddDate(0, 1, 0).Add(-time.Second)
}

// ParseMonth parses a YYYY-MM month string
func ParseMonth(s string) (time.Time, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month %q, expected YYYY-MM: %w", s, err)
	}
	return t, nil
}

var postNameDate = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})-`)

// PostDateFromName extracts the publish date from a post file name such as
// "2015-3-09-hello.md". Names without the date prefix are not posts.
func PostDateFromName(name string) (time.Time, bool) {
	m := postNameDate.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	y, _ := strconv.Atoi(m[1])
	mo, _ := strconv.Atoi(m[2])
	d, _ := strconv.Atoi(m[3])
	if mo < 1 || mo > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	date := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
	if date.Day() != d {
		return time.Time{}, false
	}
	return date, true
}
