package availability

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock is a time of day in minutes since midnight.
type Clock int

// EndOfDay is 24:00. It only appears as the end of a window.
const EndOfDay Clock = 24 * 60

// ParseClock reads "HH:MM" and ignores anything after the minutes (seconds,
// fractions, timezone suffixes). "24:00" is accepted as EndOfDay.
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	i := strings.IndexByte(s, ':')
	if i < 1 || i > 2 || len(s) < i+3 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	h, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(s[i+1 : i+3])
	if err != nil {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if h == 24 && m == 0 {
		return EndOfDay, nil
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("time out of range %q", s)
	}
	return Clock(h*60 + m), nil
}

// ClockOf returns the time of day of t, truncated to the minute.
func ClockOf(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	v, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// NormalizeTime truncates an arbitrary backend time value to "HH:MM".
// Accepts bare times ("14:00:00", "14:00+00:00") and date-times
// ("2026-10-16T14:00:00Z", "2026-10-16 14:00").
func NormalizeTime(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if i := strings.LastIndexAny(raw, "T "); i >= 0 {
		raw = raw[i+1:]
	}
	c, err := ParseClock(raw)
	if err != nil || c == EndOfDay {
		return "", false
	}
	return c.String(), true
}
