package availability

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// DefaultGranularity is used when a business has no appointment interval configured.
const DefaultGranularity Granularity = 30

// Granularity is the number of minutes between consecutive slots.
type Granularity int

func (g Granularity) Validate() error {
	if g <= 0 {
		return fmt.Errorf("granularity must be positive (got %d)", int(g))
	}
	return nil
}

// DayHours is the working window of one weekday.
type DayHours struct {
	Weekday time.Weekday `json:"day_of_week"`
	Open    Clock        `json:"open_time"`
	Close   Clock        `json:"close_time"`
	Closed  bool         `json:"is_closed"`
}

// Window returns the half-open [start, end) window. A close time of 00:00
// means end of day, except when open is also 00:00 (equal times are empty).
// ok is false when the day is closed or the window is empty.
func (d DayHours) Window() (start, end Clock, ok bool) {
	if d.Closed || d.Open == d.Close {
		return 0, 0, false
	}
	end = d.Close
	if end == 0 {
		end = EndOfDay
	}
	if end <= d.Open {
		return 0, 0, false
	}
	return d.Open, end, true
}

// WeeklyHours holds at most one DayHours per weekday.
type WeeklyHours struct {
	days [7]DayHours
	set  [7]bool
}

// NewWeeklyHours rejects out-of-range weekdays and duplicate entries.
func NewWeeklyHours(entries []DayHours) (WeeklyHours, error) {
	var w WeeklyHours
	for _, e := range entries {
		if e.Weekday < time.Sunday || e.Weekday > time.Saturday {
			return WeeklyHours{}, fmt.Errorf("invalid weekday %d", int(e.Weekday))
		}
		if w.set[e.Weekday] {
			return WeeklyHours{}, fmt.Errorf("duplicate hours for %s", e.Weekday)
		}
		w.days[e.Weekday] = e
		w.set[e.Weekday] = true
	}
	return w, nil
}

// DefaultWeeklyHours mirrors the storefront's initial settings.
func DefaultWeeklyHours() WeeklyHours {
	w, _ := NewWeeklyHours([]DayHours{
		{Weekday: time.Sunday, Closed: true},
		{Weekday: time.Monday, Open: 9 * 60, Close: 21 * 60},
		{Weekday: time.Tuesday, Open: 9 * 60, Close: 21 * 60},
		{Weekday: time.Wednesday, Open: 9 * 60, Close: 21 * 60},
		{Weekday: time.Thursday, Open: 9 * 60, Close: 21 * 60},
		{Weekday: time.Friday, Open: 9 * 60, Close: 22 * 60},
		{Weekday: time.Saturday, Open: 10 * 60, Close: 23 * 60},
	})
	return w
}

func (w WeeklyHours) For(day time.Weekday) (DayHours, bool) {
	if day < time.Sunday || day > time.Saturday || !w.set[day] {
		return DayHours{}, false
	}
	return w.days[day], true
}

// Entries returns the configured days ordered Sunday..Saturday.
func (w WeeklyHours) Entries() []DayHours {
	out := make([]DayHours, 0, 7)
	for i := range w.days {
		if w.set[i] {
			out = append(out, w.days[i])
		}
	}
	return out
}

func (w WeeklyHours) IsZero() bool {
	return w.set == [7]bool{}
}

func (w WeeklyHours) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.Entries())
}

func (w *WeeklyHours) UnmarshalJSON(b []byte) error {
	var entries []DayHours
	if err := json.Unmarshal(b, &entries); err != nil {
		return err
	}
	v, err := NewWeeklyHours(entries)
	if err != nil {
		return err
	}
	*w = v
	return nil
}

// Schedule is what a business publishes for booking: its week and slot spacing.
type Schedule struct {
	Step  Granularity `json:"appointment_interval"`
	Hours WeeklyHours `json:"hours"`
}

// Normalize fills in the storefront defaults for unset fields.
func (s Schedule) Normalize() Schedule {
	if s.Step <= 0 {
		s.Step = DefaultGranularity
	}
	if s.Hours.IsZero() {
		s.Hours = DefaultWeeklyHours()
	}
	return s
}
