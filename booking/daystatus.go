package booking

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// DAY AGGREGATOR - Calendar colouring, advisory only
// =============================================================================

// Availability is the tri-state label shown on the calendar.
type Availability string

const (
	Available       Availability = "Available"
	PartiallyBooked Availability = "PartiallyBooked"
	FullyBooked     Availability = "FullyBooked"
)

// DayStatus is the derived load of one date. It is never persisted and never
// gates a commit: a PartiallyBooked day may still have the requested slot free.
type DayStatus struct {
	Date            Date
	Status          Availability
	BookedMinutes   int
	BookableMinutes int
	Utilization     decimal.Decimal // BookedMinutes / 480, rounded to 4 places
	Closed          bool            // weekend or holiday
}

// BookedMinutes merges the ranges and counts only the minutes that fall
// inside office windows. Overlaps between bookings are counted once.
func BookedMinutes(ranges []Range) int {
	total := 0
	for _, m := range MergeRanges(ranges) {
		for _, w := range OfficeWindows {
			if in, ok := m.Intersect(w); ok {
				total += in.Minutes()
			}
		}
	}
	return total
}

// Classify applies the status rule against the fixed 480-minute day.
func Classify(bookedMinutes int) Availability {
	switch {
	case bookedMinutes <= 0:
		return Available
	case bookedMinutes >= TotalBookableMinutes():
		return FullyBooked
	default:
		return PartiallyBooked
	}
}

// AggregateDay computes the status for one date.
func (r Rules) AggregateDay(d Date, existing []ExistingRange) DayStatus {
	booked := BookedMinutes(Ranges(existing))
	total := TotalBookableMinutes()
	return DayStatus{
		Date:            d,
		Status:          Classify(booked),
		BookedMinutes:   booked,
		BookableMinutes: r.BookableMinutes(d),
		Utilization:     decimal.NewFromInt(int64(booked)).Div(decimal.NewFromInt(int64(total))).Round(4),
		Closed:          !r.IsBookableDate(d),
	}
}

// AggregateRange returns one DayStatus per date in the window, in order.
func (r Rules) AggregateRange(window DateRange, byDate RangesByDate) []DayStatus {
	days := window.Days()
	out := make([]DayStatus, 0, len(days))
	for _, d := range days {
		out = append(out, r.AggregateDay(d, byDate[d]))
	}
	return out
}

// =============================================================================
// DAY PREVIEW - DayBlocks annotated with the booking holding each block
// =============================================================================

type PreviewBlock struct {
	Range
	Taken     bool
	InquiryID InquiryID
	Resident  Resident
}

// Preview tiles the day and marks every block that overlaps a booking.
// On closed dates every block is reported as taken with no holder.
func (r Rules) Preview(d Date, granularityMinutes int, existing []ExistingRange) []PreviewBlock {
	blocks := DayBlocks(granularityMinutes)
	closed := !r.IsBookableDate(d)
	out := make([]PreviewBlock, 0, len(blocks))
	for _, b := range blocks {
		pb := PreviewBlock{Range: b, Taken: closed}
		if !closed {
			for _, e := range existing {
				if b.Overlaps(e.Range()) {
					pb.Taken = true
					pb.InquiryID = e.InquiryID
					pb.Resident = e.Resident
					break
				}
			}
		}
		out = append(out, pb)
	}
	return out
}
