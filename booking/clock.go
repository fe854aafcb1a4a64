package booking

import (
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// CLOCK TIME - Minute-of-day inside a single office date
// =============================================================================

// ClockTime is a wall-clock time expressed as minutes after midnight.
// It carries no date and no timezone: the office runs on one local clock.
type ClockTime int

const (
	MinutesPerHour = 60
	MinutesPerDay  = 24 * MinutesPerHour
)

// Clock builds a ClockTime from hour and minute. It does not validate.
func Clock(hour, minute int) ClockTime { return ClockTime(hour*MinutesPerHour + minute) }

// ParseClock parses a strict 24-hour "HH:mm" value.
func ParseClock(s string) (ClockTime, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, fmt.Errorf("invalid time %q: expected HH:mm", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid time %q: hour out of range", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q: minute out of range", s)
	}
	return Clock(h, m), nil
}

// MustParseClock is ParseClock for constants and tests.
func MustParseClock(s string) ClockTime {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c ClockTime) Hour() int   { return int(c) / MinutesPerHour }
func (c ClockTime) Minute() int { return int(c) % MinutesPerHour }

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute()) }

// =============================================================================
// RANGE - Half-open [Start, End) interval of minutes
// =============================================================================

type Range struct {
	Start ClockTime
	End   ClockTime
}

// NewRange parses an "HH:mm"/"HH:mm" pair.
func NewRange(start, end string) (Range, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Range{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return Range{}, err
	}
	return Range{Start: s, End: e}, nil
}

func (r Range) Minutes() int  { return int(r.End - r.Start) }
func (r Range) IsValid() bool { return r.Start < r.End }

// Contains reports whether other lies entirely inside r.
func (r Range) Contains(other Range) bool {
	return r.Start <= other.Start && other.End <= r.End
}

// Overlaps uses half-open semantics: touching ranges do not overlap.
func (r Range) Overlaps(other Range) bool {
	return Overlaps(r.Start, r.End, other.Start, other.End)
}

// Intersect returns the common part of two ranges and whether it is non-empty.
func (r Range) Intersect(other Range) (Range, bool) {
	out := Range{Start: max(r.Start, other.Start), End: min(r.End, other.End)}
	return out, out.IsValid()
}

func (r Range) String() string { return r.Start.String() + "-" + r.End.String() }
