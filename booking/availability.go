package booking

// =============================================================================
// OFFICE HOURS - The bookable universe for a single day
// =============================================================================

// Office windows. 12:00-13:00 is the standing lunch exclusion and is never
// bookable, nor may a single slot straddle it.
var (
	MorningWindow   = Range{Start: Clock(8, 0), End: Clock(12, 0)}
	AfternoonWindow = Range{Start: Clock(13, 0), End: Clock(17, 0)}
	LunchBreak      = Range{Start: Clock(12, 0), End: Clock(13, 0)}

	OfficeWindows = []Range{MorningWindow, AfternoonWindow}
)

// DefaultGranularity is the calendar preview block size in minutes.
const DefaultGranularity = 30

// TotalBookableMinutes is the open time of a working day (480).
func TotalBookableMinutes() int {
	total := 0
	for _, w := range OfficeWindows {
		total += w.Minutes()
	}
	return total
}

// IsWithinOfficeHours is true only when [start, end) is non-empty and lies
// inside one window. 11:30-13:30 is rejected even though both ends are near
// valid windows.
func IsWithinOfficeHours(start, end ClockTime) bool {
	r := Range{Start: start, End: end}
	if !r.IsValid() {
		return false
	}
	for _, w := range OfficeWindows {
		if w.Contains(r) {
			return true
		}
	}
	return false
}

// DayBlocks tiles each office window into fixed-size blocks. A block never
// crosses a window end; a trailing partial block is dropped. Non-positive
// granularity falls back to DefaultGranularity.
func DayBlocks(granularityMinutes int) []Range {
	g := ClockTime(granularityMinutes)
	if g <= 0 {
		g = DefaultGranularity
	}
	var blocks []Range
	for _, w := range OfficeWindows {
		for cur := w.Start; cur+g <= w.End; cur += g {
			blocks = append(blocks, Range{Start: cur, End: cur + g})
		}
	}
	return blocks
}

// =============================================================================
// HOLIDAY CALENDAR - Office closures on top of weekends
// =============================================================================

// Holiday is a day the office is closed.
type Holiday struct {
	ID        string
	Date      Date
	Name      string
	Recurring bool // same month/day every year
}

// HolidayCalendar answers whether a date is a declared closure.
type HolidayCalendar interface {
	IsHoliday(d Date) bool
}

// NoHolidays is the calendar used when no closures are configured.
type NoHolidays struct{}

func (NoHolidays) IsHoliday(Date) bool { return false }

// HolidaySet is an in-memory calendar.
type HolidaySet []Holiday

func (hs HolidaySet) IsHoliday(d Date) bool {
	for _, h := range hs {
		if h.Date == d {
			return true
		}
		if h.Recurring && h.Date.Time().Month() == d.Time().Month() && h.Date.Time().Day() == d.Time().Day() {
			return true
		}
	}
	return false
}

// =============================================================================
// RULES - Office hours bound to a holiday calendar
// =============================================================================

// Rules combines the fixed office windows with weekend and holiday closures.
type Rules struct {
	Holidays HolidayCalendar
}

func NewRules(holidays HolidayCalendar) Rules {
	if holidays == nil {
		holidays = NoHolidays{}
	}
	return Rules{Holidays: holidays}
}

// IsBookableDate is false on weekends and holidays.
func (r Rules) IsBookableDate(d Date) bool {
	if d.IsWeekend() {
		return false
	}
	if r.Holidays != nil && r.Holidays.IsHoliday(d) {
		return false
	}
	return true
}

// BookableMinutes is TotalBookableMinutes on open days and zero otherwise.
func (r Rules) BookableMinutes(d Date) int {
	if !r.IsBookableDate(d) {
		return 0
	}
	return TotalBookableMinutes()
}

func (r Rules) IsWithinOfficeHours(start, end ClockTime) bool {
	return IsWithinOfficeHours(start, end)
}

func (r Rules) DayBlocks(granularityMinutes int) []Range {
	return DayBlocks(granularityMinutes)
}
