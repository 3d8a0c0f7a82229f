// Package schedule parses and evaluates the single weekly retraining trigger.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// Weekly fires once a week at a fixed local time of day.
type Weekly struct {
	Day    time.Weekday
	Hour   int
	Minute int
	Loc    *time.Location
}

// ParseWeekly parses "<weekday> [HH:MM]", e.g. "monday 08:00" or "Fri".
// The time of day defaults to midnight. A nil loc means UTC.
func ParseWeekly(value string, loc *time.Location) (Weekly, error) {
	if loc == nil {
		loc = time.UTC
	}

	fields := strings.Fields(strings.ToLower(value))
	if len(fields) == 0 || len(fields) > 2 {
		return Weekly{}, fmt.Errorf("invalid weekly schedule %q: want \"<weekday> [HH:MM]\"", value)
	}

	day, ok := weekdays[fields[0]]
	if !ok {
		return Weekly{}, fmt.Errorf("invalid weekly schedule %q: unknown weekday %q", value, fields[0])
	}

	w := Weekly{Day: day, Loc: loc}
	if len(fields) == 2 {
		hh, mm, found := strings.Cut(fields[1], ":")
		if !found {
			return Weekly{}, fmt.Errorf("invalid weekly schedule %q: time must be HH:MM", value)
		}
		h, err := strconv.Atoi(hh)
		if err != nil || h < 0 || h > 23 {
			return Weekly{}, fmt.Errorf("invalid weekly schedule %q: bad hour %q", value, hh)
		}
		m, err := strconv.Atoi(mm)
		if err != nil || m < 0 || m > 59 || len(mm) != 2 {
			return Weekly{}, fmt.Errorf("invalid weekly schedule %q: bad minute %q", value, mm)
		}
		w.Hour, w.Minute = h, m
	}
	return w, nil
}

// Next returns the first trigger strictly after t.
func (w Weekly) Next(t time.Time) time.Time {
	local := t.In(w.Loc)
	for days := 0; days <= 7; days++ {
		candidate := time.Date(local.Year(), local.Month(), local.Day()+days, w.Hour, w.Minute, 0, 0, w.Loc)
		if candidate.Weekday() == w.Day && candidate.After(t) {
			return candidate
		}
	}
	// unreachable: eight consecutive days always contain a later match
	return local.AddDate(0, 0, 7)
}

// String renders the schedule in the form ParseWeekly accepts.
func (w Weekly) String() string {
	return fmt.Sprintf("%s %02d:%02d", strings.ToLower(w.Day.String()), w.Hour, w.Minute)
}
