package booking

import (
	"fmt"
	"time"
)

// =============================================================================
// DATE - Calendar day in office-local time
// =============================================================================

// DateLayout is the wire format for dates.
const DateLayout = "2006-01-02"

// Date is a calendar day. The wrapped time is always midnight UTC so that
// values compare with == and can be used as map keys.
type Date struct {
	t time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates a timestamp to its calendar day, read in the timestamp's own location.
func DateOf(t time.Time) Date { return NewDate(t.Year(), t.Month(), t.Day()) }

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return Date{t: t}, nil
}

func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Date) Before(other Date) bool { return d.t.Before(other.t) }
func (d Date) After(other Date) bool  { return d.t.After(other.t) }
func (d Date) Equal(other Date) bool  { return d.t.Equal(other.t) }

// Arithmetic
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// Properties
func (d Date) Time() time.Time       { return d.t }
func (d Date) Weekday() time.Weekday { return d.t.Weekday() }
func (d Date) IsZero() bool          { return d.t.IsZero() }
func (d Date) String() string        { return d.t.Format(DateLayout) }

func (d Date) IsWeekend() bool {
	wd := d.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// DaysBetween counts whole days from -> to (negative if to is earlier).
func DaysBetween(from, to Date) int { return int(to.t.Sub(from.t).Hours() / 24) }

// =============================================================================
// DATE RANGE - Inclusive window of days used by calendar queries
// =============================================================================

type DateRange struct {
	From Date
	To   Date
}

func (r DateRange) Contains(d Date) bool { return !d.Before(r.From) && !d.After(r.To) }

// Len is the number of days in the window, both ends included.
func (r DateRange) Len() int { return DaysBetween(r.From, r.To) + 1 }

// Days returns every date in the window, in order.
func (r DateRange) Days() []Date {
	var days []Date
	for d := r.From; !d.After(r.To); d = d.AddDays(1) {
		days = append(days, d)
	}
	return days
}

func (r DateRange) String() string { return "[" + r.From.String() + ", " + r.To.String() + "]" }
