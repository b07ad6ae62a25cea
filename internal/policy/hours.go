package policy

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"notifyrelay/internal/notify"
)

// BusinessHours is a local-time window expressed in minutes past midnight.
// Start > End describes an overnight window (e.g. 22:00-06:00).
type BusinessHours struct {
	Start int
	End   int
	// Days are the business weekdays; nil means Monday to Friday.
	Days []time.Weekday
}

// DefaultHours is 09:00-17:00, Monday to Friday.
var DefaultHours = BusinessHours{Start: 9 * 60, End: 17 * 60}

func (h BusinessHours) isBusinessDay(d time.Weekday) bool {
	if len(h.Days) == 0 {
		return d != time.Saturday && d != time.Sunday
	}
	for _, bd := range h.Days {
		if bd == d {
			return true
		}
	}
	return false
}

func (h BusinessHours) contains(minute int) bool {
	switch {
	case h.Start == h.End:
		return false
	case h.Start < h.End:
		return minute >= h.Start && minute < h.End
	default:
		return minute >= h.Start || minute < h.End
	}
}

// Classify maps a local time to a shift. Non-business days are Weekend.
func (h BusinessHours) Classify(local time.Time) notify.Shift {
	if !h.isBusinessDay(local.Weekday()) {
		return notify.Weekend
	}
	if h.contains(local.Hour()*60 + local.Minute()) {
		return notify.BusinessHours
	}
	return notify.AfterHours
}

// ParseClock parses "HH:MM" into minutes past midnight. "24:00" is accepted as end of day.
func ParseClock(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock %q (want HH:MM)", raw)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", raw, err)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", raw, err)
	}
	if h == 24 && m == 0 {
		return 24 * 60, nil
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock %q: out of range", raw)
	}
	return h*60 + m, nil
}

// ParseWeekday accepts full or three-letter English day names.
func ParseWeekday(raw string) (time.Weekday, error) {
	k := strings.ToLower(strings.TrimSpace(raw))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if k == name || k == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", raw)
}
