/*
Package booking provides the core appointment scheduling model.

PURPOSE:
  Domain types and pure algorithms for booking in-person appointments at the
  barangay office. Nothing in this package performs I/O; persistence lives
  behind the Store interfaces (store.go) and orchestration lives in the
  scheduler package.

KEY CONCEPTS IN THIS FILE (types.go):
  - Inquiry: a resident request carrying a wish-list of dates
  - ScheduledSlot: a staff-confirmed (date, start, end) booking owned by one inquiry
  - ExistingRange: read-only projection of someone else's slot, used for conflict checks
  - ConflictItem: transient report of an overlap, carrying who holds the time
  - Status: the inquiry lifecycle state machine

INVARIANT:
  For any two slots on the same date the half-open intervals [start, end)
  never intersect. Enforced by the scheduler under per-date locks.

SEE ALSO:
  - clock.go, date.go: time arithmetic
  - availability.go: office hours
  - conflict.go: overlap detection
  - daystatus.go: calendar colouring
*/
package booking

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type InquiryID string

// Resident identifies the person behind an inquiry.
type Resident struct {
	Username    string
	DisplayName string
}

// =============================================================================
// INQUIRY
// =============================================================================

// Bounds enforced on resident submissions and staff proposals.
const (
	MinToSchedule     = 1
	MaxToScheduleCap  = 3
	MaxRequestedDates = 10
	MinCancelReason   = 10
)

type Inquiry struct {
	ID        InquiryID
	Requester Resident
	Subject   string

	// RequestedDates is the resident's wish-list. It is never mutated by scheduling.
	RequestedDates []Date

	// MaxToSchedule caps how many of the requested dates staff may confirm.
	MaxToSchedule int

	Status Status

	// Slots are the staff-confirmed bookings. Empty unless Status is scheduled
	// (or was scheduled before being resolved or canceled).
	Slots []ScheduledSlot

	CancelReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasRequestedDate reports whether the resident asked for d.
func (i *Inquiry) HasRequestedDate(d Date) bool {
	for _, rd := range i.RequestedDates {
		if rd == d {
			return true
		}
	}
	return false
}

// HoldsCapacity reports whether the inquiry's slots count against availability.
// Resolving keeps the slots booked; only cancellation frees them.
func (i *Inquiry) HoldsCapacity() bool {
	return i.Status == StatusScheduled || i.Status == StatusResolved
}

// =============================================================================
// SLOTS & PROJECTIONS
// =============================================================================

type ScheduledSlot struct {
	Date  Date
	Start ClockTime
	End   ClockTime
}

func (s ScheduledSlot) Range() Range { return Range{Start: s.Start, End: s.End} }

func (s ScheduledSlot) String() string { return s.Date.String() + " " + s.Range().String() }

// ExistingRange is another inquiry's slot as seen by the conflict detector.
type ExistingRange struct {
	Date      Date
	Start     ClockTime
	End       ClockTime
	InquiryID InquiryID
	Resident  Resident
}

func (e ExistingRange) Range() Range { return Range{Start: e.Start, End: e.End} }

// ConflictItem names the booking that blocks a candidate slot.
// Start/End are the blocking booking's times; Requested* echo the candidate.
type ConflictItem struct {
	Date           Date
	Start          ClockTime
	End            ClockTime
	InquiryID      InquiryID
	Resident       Resident
	RequestedStart ClockTime
	RequestedEnd   ClockTime
}

// RangesByDate is a per-transaction snapshot of bookings, keyed by date.
type RangesByDate map[Date][]ExistingRange

// =============================================================================
// STATUS - Inquiry lifecycle
// =============================================================================

type Status string

const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusResolved  Status = "resolved"
	StatusCanceled  Status = "canceled"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusScheduled, StatusResolved},
	StatusScheduled: {StatusScheduled, StatusResolved, StatusCanceled},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
// resolved and canceled are terminal.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool { return len(transitions[s]) == 0 }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusScheduled, StatusResolved, StatusCanceled:
		return true
	}
	return false
}

// ParseStatus converts a wire value into a Status.
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	return st, st.IsValid()
}
