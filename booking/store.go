/*
store.go - Persistence interface for inquiries and their slots

PURPOSE:
  Defines the boundary between the scheduling logic and the Inquiry/Booking
  Store. The store is an external collaborator: every call may fail, and the
  scheduler treats any failure as a TransportError, never as "no bookings".

KEY INTERFACES:
  Store:        reads plus the two conditional writes (commit, transition)
  TxStore:      Store + WithDates, the atomic preflight-then-write boundary
  HolidayStore: office closures

CONDITIONAL WRITES:
  CommitSchedule and Transition both take the status the caller read. If the
  stored status differs, the write is refused with ErrStaleInquiry. Together
  with WithDates this makes "check then write" one atomic step per date.

NO DELETES:
  Inquiries are never deleted, only status-transitioned. Canceling frees the
  slots by removing the inquiry from ExistingRanges, not by deleting rows
  from the caller's point of view.

IMPLEMENTATIONS:
  - booking/store/memory.go: in-memory, per-date mutexes
  - store/sqlite/sqlite.go: SQLite, single writer
  - store/postgres/postgres.go: Postgres, per-date advisory transaction locks

SEE ALSO:
  - scheduler/manager.go: the only writer
*/
package booking

import "context"

// =============================================================================
// STORE
// =============================================================================

// InquiryFilter narrows ListInquiries. Zero values mean "any".
type InquiryFilter struct {
	Status    Status
	Requester string
	Limit     int
}

type Store interface {
	// CreateInquiry persists a new pending inquiry. ErrDuplicateInquiry if the id exists.
	CreateInquiry(ctx context.Context, inq Inquiry) error

	// GetInquiry returns ErrInquiryNotFound for unknown ids.
	GetInquiry(ctx context.Context, id InquiryID) (*Inquiry, error)

	// ListInquiries returns inquiries newest first.
	ListInquiries(ctx context.Context, filter InquiryFilter) ([]Inquiry, error)

	// ExistingRanges returns the slots of every scheduled inquiry on date,
	// except those owned by exclude (empty = none excluded).
	ExistingRanges(ctx context.Context, date Date, exclude InquiryID) ([]ExistingRange, error)

	// RangesBetween returns scheduled slots for every date in the window.
	RangesBetween(ctx context.Context, window DateRange) (RangesByDate, error)

	// CommitSchedule replaces the inquiry's slots, stores maxToSchedule and
	// sets status scheduled, provided the stored status is still expected.
	CommitSchedule(ctx context.Context, id InquiryID, expected Status, slots []ScheduledSlot, maxToSchedule int) error

	// Transition moves from -> to, recording reason when non-empty, provided
	// the stored status is still from.
	Transition(ctx context.Context, id InquiryID, from, to Status, reason string) error
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with a per-date transactional boundary.
type TxStore interface {
	Store

	// WithDates executes fn inside one storage transaction holding exclusive
	// claims on dates. Reads made through the Store passed to fn are fresh.
	// If fn returns an error nothing fn wrote is kept.
	WithDates(ctx context.Context, dates []Date, fn func(Store) error) error
}

// =============================================================================
// HOLIDAYS
// =============================================================================

type HolidayStore interface {
	SaveHoliday(ctx context.Context, h Holiday) error
	ListHolidays(ctx context.Context) ([]Holiday, error)
	DeleteHoliday(ctx context.Context, id string) error
}
