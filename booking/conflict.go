package booking

import "sort"

// =============================================================================
// CONFLICT DETECTOR - Pure functions, no I/O
// =============================================================================

// Overlaps tests two half-open intervals. [09:00,10:00) and [10:00,11:00)
// do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd ClockTime) bool {
	return aStart < bEnd && bStart < aEnd
}

// FindConflicts checks each candidate against the snapshot for its date.
// Ranges owned by exclude are skipped so that re-saving an inquiry's own
// slots is never a self-conflict. Every overlapping pair yields one item,
// ordered by candidate then by the blocking range's start.
func FindConflicts(candidates []ScheduledSlot, existing RangesByDate, exclude InquiryID) []ConflictItem {
	var conflicts []ConflictItem
	for _, c := range candidates {
		ranges := append([]ExistingRange(nil), existing[c.Date]...)
		sort.SliceStable(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })

		for _, r := range ranges {
			if exclude != "" && r.InquiryID == exclude {
				continue
			}
			if !Overlaps(c.Start, c.End, r.Start, r.End) {
				continue
			}
			conflicts = append(conflicts, ConflictItem{
				Date:           c.Date,
				Start:          r.Start,
				End:            r.End,
				InquiryID:      r.InquiryID,
				Resident:       r.Resident,
				RequestedStart: c.Start,
				RequestedEnd:   c.End,
			})
		}
	}
	return conflicts
}

// MergeRanges sorts by start and folds overlapping or adjacent ranges.
// Invalid (empty or inverted) ranges are dropped. The input is not modified.
func MergeRanges(ranges []Range) []Range {
	sorted := make([]Range, 0, len(ranges))
	for _, r := range ranges {
		if r.IsValid() {
			sorted = append(sorted, r)
		}
	}
	if len(sorted) == 0 {
		return nil
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start == sorted[j].Start {
			return sorted[i].End < sorted[j].End
		}
		return sorted[i].Start < sorted[j].Start
	})

	merged := []Range{sorted[0]}
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// InternalOverlaps returns the first pair of candidates on the same date that
// overlap each other, if any.
func InternalOverlaps(candidates []ScheduledSlot) (a, b ScheduledSlot, found bool) {
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			x, y := candidates[i], candidates[j]
			if x.Date == y.Date && Overlaps(x.Start, x.End, y.Start, y.End) {
				return x, y, true
			}
		}
	}
	return ScheduledSlot{}, ScheduledSlot{}, false
}

// Ranges projects a date's existing bookings onto plain ranges.
func Ranges(existing []ExistingRange) []Range {
	out := make([]Range, len(existing))
	for i, e := range existing {
		out[i] = e.Range()
	}
	return out
}
