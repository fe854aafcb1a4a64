package scheduler

import (
	"strconv"
	"strings"

	"github.com/barangay/appointments/booking"
)

// =============================================================================
// PROPOSAL VALIDATION - Runs before any store access
// =============================================================================

// validateProposal checks count, cap and per-slot rules that need no inquiry.
func validateProposal(rules booking.Rules, today booking.Date, candidates []booking.ScheduledSlot, maxToSchedule int) error {
	if maxToSchedule < booking.MinToSchedule || maxToSchedule > booking.MaxToScheduleCap {
		return booking.NewValidationError("maxToSchedule", booking.CodeCapOutOfRange,
			"must be between %d and %d, got %d", booking.MinToSchedule, booking.MaxToScheduleCap, maxToSchedule)
	}
	if len(candidates) == 0 {
		return booking.NewValidationError("scheduledDates", booking.CodeNoSlots, "at least one slot is required")
	}
	if len(candidates) > maxToSchedule {
		return booking.NewValidationError("scheduledDates", booking.CodeExceedsCap,
			"%d slots exceed maxToSchedule %d", len(candidates), maxToSchedule)
	}

	for i, c := range candidates {
		field := "scheduledDates[" + strconv.Itoa(i) + "]"
		if c.Date.IsZero() {
			return booking.NewValidationError(field, booking.CodeRequired, "date is required")
		}
		if !rules.IsWithinOfficeHours(c.Start, c.End) {
			return booking.NewValidationError(field, booking.CodeOutsideHours,
				"%s must lie within 08:00-12:00 or 13:00-17:00", c.Range())
		}
		if !rules.IsBookableDate(c.Date) {
			return booking.NewValidationError(field, booking.CodeClosedDate, "office is closed on %s", c.Date)
		}
		if c.Date.Before(today) {
			return booking.NewValidationError(field, booking.CodePastDate, "%s is in the past", c.Date)
		}
	}

	if a, b, found := booking.InternalOverlaps(candidates); found {
		return booking.NewValidationError("scheduledDates", booking.CodeOverlappingSlots,
			"%s overlaps %s", a, b)
	}
	return nil
}

// validateAgainstInquiry checks that every candidate date was requested.
func validateAgainstInquiry(inq *booking.Inquiry, candidates []booking.ScheduledSlot) error {
	for i, c := range candidates {
		if !inq.HasRequestedDate(c.Date) {
			return booking.NewValidationError("scheduledDates["+strconv.Itoa(i)+"]", booking.CodeDateNotRequested,
				"%s is not among the requested dates", c.Date)
		}
	}
	return nil
}

// validateNewInquiry normalizes and checks a resident submission in place.
func validateNewInquiry(rules booking.Rules, today booking.Date, in *NewInquiry) error {
	in.Requester.Username = strings.TrimSpace(in.Requester.Username)
	in.Requester.DisplayName = strings.TrimSpace(in.Requester.DisplayName)
	in.Subject = strings.TrimSpace(in.Subject)

	if in.Requester.Username == "" {
		return booking.NewValidationError("requester", booking.CodeRequired, "requester username is required")
	}
	if in.MaxToSchedule == 0 {
		in.MaxToSchedule = booking.MinToSchedule
	}
	if in.MaxToSchedule < booking.MinToSchedule || in.MaxToSchedule > booking.MaxToScheduleCap {
		return booking.NewValidationError("maxToSchedule", booking.CodeCapOutOfRange,
			"must be between %d and %d, got %d", booking.MinToSchedule, booking.MaxToScheduleCap, in.MaxToSchedule)
	}

	dates := dedupeDates(in.RequestedDates)
	if len(dates) == 0 {
		return booking.NewValidationError("requestedDates", booking.CodeRequired, "at least one date is required")
	}
	if len(dates) > booking.MaxRequestedDates {
		return booking.NewValidationError("requestedDates", booking.CodeTooManyDates,
			"at most %d dates, got %d", booking.MaxRequestedDates, len(dates))
	}
	for _, d := range dates {
		if d.Before(today) {
			return booking.NewValidationError("requestedDates", booking.CodePastDate, "%s is in the past", d)
		}
		if !rules.IsBookableDate(d) {
			return booking.NewValidationError("requestedDates", booking.CodeClosedDate, "office is closed on %s", d)
		}
	}
	in.RequestedDates = dates
	return nil
}

func validateCancelReason(reason string) (string, error) {
	trimmed := strings.TrimSpace(reason)
	if len([]rune(trimmed)) < booking.MinCancelReason {
		return "", booking.NewValidationError("reason", booking.CodeReasonTooShort,
			"reason must be at least %d characters", booking.MinCancelReason)
	}
	return trimmed, nil
}

// dedupeDates keeps the first occurrence of each date, in input order.
func dedupeDates(dates []booking.Date) []booking.Date {
	seen := make(map[booking.Date]bool, len(dates))
	out := make([]booking.Date, 0, len(dates))
	for _, d := range dates {
		if d.IsZero() || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

func slotDates(slots []booking.ScheduledSlot) []booking.Date {
	dates := make([]booking.Date, len(slots))
	for i, s := range slots {
		dates[i] = s.Date
	}
	return dedupeDates(dates)
}
