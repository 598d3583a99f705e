package availability

import (
	"fmt"
	"time"
)

const DateLayout = "2006-01-02"

// Slot is one bookable time on the selected date.
type Slot struct {
	Time string `json:"time"`
	Busy bool   `json:"busy"`
}

// ParseDate reads a YYYY-MM-DD calendar date as midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	d, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return d, nil
}

// Midnight truncates t to the start of its calendar day in its own location.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDay reports whether a and b share a calendar date in a's location.
func SameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// GenerateSlots expands the working window of date's weekday into "HH:MM"
// slots spaced by step, each starting strictly before close. When date is
// today (per now), slots not strictly after the current time are dropped.
// The result is ascending.
func GenerateSlots(hours WeeklyHours, step Granularity, date, now time.Time) []string {
	if step.Validate() != nil {
		return nil
	}
	day, ok := hours.For(date.Weekday())
	if !ok {
		return nil
	}
	start, end, ok := day.Window()
	if !ok {
		return nil
	}

	today := SameDay(date, now)
	local := now.In(date.Location())
	nowSec := local.Hour()*3600 + local.Minute()*60 + local.Second()

	var out []string
	for c := start; c < end; c += Clock(step) {
		if today && int(c)*60 <= nowSec {
			continue
		}
		out = append(out, c.String())
	}
	return out
}

// Annotate marks each generated time that is present in busy.
func Annotate(times []string, busy BusySet) []Slot {
	out := make([]Slot, 0, len(times))
	for _, t := range times {
		out = append(out, Slot{Time: t, Busy: busy.Has(t)})
	}
	return out
}
