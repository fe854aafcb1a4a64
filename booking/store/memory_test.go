package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barangay/appointments/booking"
)

var (
	monday  = booking.MustParseDate("2025-03-10")
	tuesday = booking.MustParseDate("2025-03-11")
)

func newInquiry(id, user string, created time.Time) booking.Inquiry {
	return booking.Inquiry{
		ID:             booking.InquiryID(id),
		Requester:      booking.Resident{Username: user, DisplayName: user},
		Subject:        "Barangay clearance",
		RequestedDates: []booking.Date{monday, tuesday},
		MaxToSchedule:  1,
		Status:         booking.StatusPending,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

func slot(d booking.Date, start, end string) booking.ScheduledSlot {
	return booking.ScheduledSlot{Date: d, Start: booking.MustParseClock(start), End: booking.MustParseClock(end)}
}

func TestMemory_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	inq := newInquiry("a", "ana", time.Now())

	require.NoError(t, m.CreateInquiry(ctx, inq))
	assert.ErrorIs(t, m.CreateInquiry(ctx, inq), booking.ErrDuplicateInquiry)

	got, err := m.GetInquiry(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPending, got.Status)

	// Mutating the returned copy does not leak into the store.
	got.RequestedDates[0] = tuesday
	again, _ := m.GetInquiry(ctx, "a")
	assert.Equal(t, monday, again.RequestedDates[0])

	_, err = m.GetInquiry(ctx, "missing")
	assert.ErrorIs(t, err, booking.ErrInquiryNotFound)
}

func TestMemory_ListNewestFirstWithFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, m.CreateInquiry(ctx, newInquiry("a", "ana", base)))
	require.NoError(t, m.CreateInquiry(ctx, newInquiry("b", "ben", base.Add(time.Hour))))
	require.NoError(t, m.CreateInquiry(ctx, newInquiry("c", "ana", base.Add(2*time.Hour))))

	all, err := m.ListInquiries(ctx, booking.InquiryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, booking.InquiryID("c"), all[0].ID)

	ana, _ := m.ListInquiries(ctx, booking.InquiryFilter{Requester: "ANA"})
	assert.Len(t, ana, 2)

	limited, _ := m.ListInquiries(ctx, booking.InquiryFilter{Limit: 1})
	assert.Len(t, limited, 1)
}

func TestMemory_CommitAndRanges(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateInquiry(ctx, newInquiry("a", "ana", time.Now())))
	require.NoError(t, m.CreateInquiry(ctx, newInquiry("b", "ben", time.Now())))

	require.NoError(t, m.CommitSchedule(ctx, "a", booking.StatusPending, []booking.ScheduledSlot{slot(monday, "09:00", "10:00")}, 1))
	require.NoError(t, m.CommitSchedule(ctx, "b", booking.StatusPending, []booking.ScheduledSlot{slot(monday, "08:00", "09:00")}, 1))

	rs, err := m.ExistingRanges(ctx, monday, "")
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, booking.InquiryID("b"), rs[0].InquiryID, "sorted by start")
	assert.Equal(t, "ben", rs[0].Resident.Username)

	rs, _ = m.ExistingRanges(ctx, monday, "a")
	assert.Len(t, rs, 1)

	byDate, err := m.RangesBetween(ctx, booking.DateRange{From: monday, To: tuesday})
	require.NoError(t, err)
	assert.Len(t, byDate[monday], 2)
	assert.Empty(t, byDate[tuesday])
}

func TestMemory_StaleWritesAreRefused(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateInquiry(ctx, newInquiry("a", "ana", time.Now())))

	err := m.CommitSchedule(ctx, "a", booking.StatusScheduled, nil, 1)
	assert.ErrorIs(t, err, booking.ErrStaleInquiry)

	err = m.Transition(ctx, "a", booking.StatusScheduled, booking.StatusCanceled, "no longer needed")
	assert.ErrorIs(t, err, booking.ErrStaleInquiry)
}

func TestMemory_CanceledSlotsStopHoldingCapacity(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateInquiry(ctx, newInquiry("a", "ana", time.Now())))
	require.NoError(t, m.CommitSchedule(ctx, "a", booking.StatusPending, []booking.ScheduledSlot{slot(monday, "09:00", "10:00")}, 1))

	require.NoError(t, m.Transition(ctx, "a", booking.StatusScheduled, booking.StatusCanceled, "resident moved away"))

	rs, _ := m.ExistingRanges(ctx, monday, "")
	assert.Empty(t, rs)

	got, _ := m.GetInquiry(ctx, "a")
	assert.Equal(t, "resident moved away", got.CancelReason)
	assert.Len(t, got.Slots, 1, "slots are kept for history")
}

func TestMemory_ResolvedSlotsStillHoldCapacity(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2025, 3, 7, 10, 0, 0, 0, time.UTC)
	m := NewMemory(WithClock(func() time.Time { return at }))
	require.NoError(t, m.CreateInquiry(ctx, newInquiry("a", "ana", time.Now())))
	require.NoError(t, m.CommitSchedule(ctx, "a", booking.StatusPending, []booking.ScheduledSlot{slot(monday, "09:00", "10:00")}, 1))

	require.NoError(t, m.Transition(ctx, "a", booking.StatusScheduled, booking.StatusResolved, ""))

	rs, _ := m.ExistingRanges(ctx, monday, "")
	require.Len(t, rs, 1)
	assert.Equal(t, booking.InquiryID("a"), rs[0].InquiryID)

	// The transaction view applies the same rule.
	err := m.WithDates(ctx, []booking.Date{monday}, func(tx booking.Store) error {
		rs, err := tx.ExistingRanges(ctx, monday, "")
		assert.Len(t, rs, 1)
		return err
	})
	require.NoError(t, err)

	got, _ := m.GetInquiry(ctx, "a")
	assert.True(t, at.Equal(got.UpdatedAt))
}

func TestMemory_WithDatesRollsBackOnError(t *testing.T) {
	// GIVEN: a pending inquiry
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateInquiry(ctx, newInquiry("a", "ana", time.Now())))
	boom := errors.New("boom")

	// WHEN: fn writes then fails
	err := m.WithDates(ctx, []booking.Date{monday}, func(s booking.Store) error {
		require.NoError(t, s.CommitSchedule(ctx, "a", booking.StatusPending, []booking.ScheduledSlot{slot(monday, "09:00", "10:00")}, 1))

		// the view sees its own write
		rs, err := s.ExistingRanges(ctx, monday, "")
		require.NoError(t, err)
		assert.Len(t, rs, 1)
		return boom
	})

	// THEN: nothing is kept
	assert.ErrorIs(t, err, boom)
	got, _ := m.GetInquiry(ctx, "a")
	assert.Equal(t, booking.StatusPending, got.Status)
	rs, _ := m.ExistingRanges(ctx, monday, "")
	assert.Empty(t, rs)
}

func TestMemory_WithDatesAppliesWritesTogether(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	err := m.WithDates(ctx, []booking.Date{monday}, func(s booking.Store) error {
		if err := s.CreateInquiry(ctx, newInquiry("a", "ana", time.Now())); err != nil {
			return err
		}
		return s.CommitSchedule(ctx, "a", booking.StatusPending, []booking.ScheduledSlot{slot(monday, "13:00", "14:00")}, 1)
	})
	require.NoError(t, err)

	got, err := m.GetInquiry(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusScheduled, got.Status)
}

func TestMemory_WithDatesSerializesSameDate(t *testing.T) {
	// GIVEN: two inquiries racing for monday 09:00-10:00
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.CreateInquiry(ctx, newInquiry("a", "ana", time.Now())))
	require.NoError(t, m.CreateInquiry(ctx, newInquiry("b", "ben", time.Now())))
	want := []booking.ScheduledSlot{slot(monday, "09:00", "10:00")}

	// WHEN: both check-then-write inside WithDates
	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, id := range []booking.InquiryID{"a", "b"} {
		wg.Add(1)
		go func(id booking.InquiryID) {
			defer wg.Done()
			results <- m.WithDates(ctx, []booking.Date{monday}, func(s booking.Store) error {
				existing, err := s.ExistingRanges(ctx, monday, id)
				if err != nil {
					return err
				}
				if c := booking.FindConflicts(want, booking.RangesByDate{monday: existing}, id); len(c) > 0 {
					return &booking.ConflictError{Conflicts: c}
				}
				time.Sleep(5 * time.Millisecond)
				return s.CommitSchedule(ctx, id, booking.StatusPending, want, 1)
			})
		}(id)
	}
	wg.Wait()
	close(results)

	// THEN: exactly one wins
	var ok, conflicts int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, booking.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	rs, _ := m.ExistingRanges(ctx, monday, "")
	assert.Len(t, rs, 1)
}

func TestMemory_Holidays(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.SaveHoliday(ctx, booking.Holiday{ID: "h2", Date: tuesday, Name: "Foundation Day"}))
	require.NoError(t, m.SaveHoliday(ctx, booking.Holiday{ID: "h1", Date: monday, Name: "Fiesta"}))

	hs, err := m.ListHolidays(ctx)
	require.NoError(t, err)
	require.Len(t, hs, 2)
	assert.Equal(t, "h1", hs[0].ID)

	require.NoError(t, m.DeleteHoliday(ctx, "h1"))
	hs, _ = m.ListHolidays(ctx)
	assert.Len(t, hs, 1)
}
