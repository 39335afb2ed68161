package shared

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// Clock Time Value Object
// ═══════════════════════════════════════════════════════════════════════════

// ClockTime is a wall-clock time of day with minute precision, stored as
// minutes since midnight.
type ClockTime int

var clockTimeRegex = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// ParseClockTime parses an "HH:MM" string.
func ParseClockTime(s string) (ClockTime, error) {
	m := clockTimeRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, NewDomainError("shared", "ParseClockTime", ErrInvalidFormat, fmt.Sprintf("invalid clock time %q", s))
	}
	var h, min int
	fmt.Sscanf(m[1], "%d", &h)
	fmt.Sscanf(m[2], "%d", &min)
	return ClockTime(h*60 + min), nil
}

// ClockTimeOf returns the minute-of-day of t in t's location.
func ClockTimeOf(t time.Time) ClockTime {
	return ClockTime(t.Hour()*60 + t.Minute())
}

// Hour returns the hour component.
func (c ClockTime) Hour() int { return int(c) / 60 }

// Minute returns the minute component.
func (c ClockTime) Minute() int { return int(c) % 60 }

// String returns the "HH:MM" representation.
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

// On returns the instant of this clock time on the calendar day of day, in
// day's location.
func (c ClockTime) On(day time.Time) time.Time {
	y, mo, d := day.Date()
	return time.Date(y, mo, d, c.Hour(), c.Minute(), 0, 0, day.Location())
}

// ═══════════════════════════════════════════════════════════════════════════
// Weekday Value Object
// ═══════════════════════════════════════════════════════════════════════════

// weekdayNames are the wire names of weekdays, indexed by time.Weekday.
var weekdayNames = [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// WeekdayName returns the short wire name ("Mon".."Sun") of a weekday.
func WeekdayName(d time.Weekday) string {
	return weekdayNames[d]
}

// ParseWeekday parses a short weekday name, case-insensitively.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.TrimSpace(s)
	for i, name := range weekdayNames {
		if strings.EqualFold(name, s) {
			return time.Weekday(i), nil
		}
	}
	return 0, NewDomainError("shared", "ParseWeekday", ErrInvalidInput, fmt.Sprintf("invalid weekday %q", s))
}

// ═══════════════════════════════════════════════════════════════════════════
// Calendar Date Value Object
// ═══════════════════════════════════════════════════════════════════════════

// DateLayout is the wire layout for calendar dates.
const DateLayout = "2006-01-02"

// DateKey returns the calendar date of t in t's location, as YYYY-MM-DD.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD date in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, WrapError("shared", "ParseDate", ErrInvalidFormat, fmt.Sprintf("invalid date %q", s), err)
	}
	return t, nil
}
