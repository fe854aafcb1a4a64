package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/barangay/appointments/booking"
	"github.com/barangay/appointments/booking/store"
	"github.com/barangay/appointments/events"
	"github.com/barangay/appointments/lock"
	"github.com/barangay/appointments/scheduler"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// Friday 2025-03-07, 10:00.
var now = time.Date(2025, time.March, 7, 10, 0, 0, 0, time.UTC)

var (
	monday    = booking.MustParseDate("2025-03-10")
	tuesday   = booking.MustParseDate("2025-03-11")
	wednesday = booking.MustParseDate("2025-03-12")
	saturday  = booking.MustParseDate("2025-03-15")
)

type fixture struct {
	mgr    *scheduler.Manager
	store  *store.Memory
	events *events.Recorder
}

func newFixture(t *testing.T, opts ...scheduler.Option) fixture {
	t.Helper()
	mem := store.NewMemory()
	rec := &events.Recorder{}
	base := []scheduler.Option{
		scheduler.WithClock(func() time.Time { return now }),
		scheduler.WithPublisher(rec),
	}
	mgr := scheduler.New(mem, append(base, opts...)...)
	return fixture{mgr: mgr, store: mem, events: rec}
}

func (f fixture) inquiry(t *testing.T, user string, dates ...booking.Date) booking.InquiryID {
	t.Helper()
	inq, err := f.mgr.CreateInquiry(context.Background(), scheduler.NewInquiry{
		Requester:      booking.Resident{Username: user, DisplayName: user},
		Subject:        "Certificate of residency",
		RequestedDates: dates,
		MaxToSchedule:  3,
	})
	require.NoError(t, err)
	return inq.ID
}

func slot(d booking.Date, start, end string) booking.ScheduledSlot {
	return booking.ScheduledSlot{Date: d, Start: booking.MustParseClock(start), End: booking.MustParseClock(end)}
}

func slots(s ...booking.ScheduledSlot) []booking.ScheduledSlot { return s }

func validationCode(t *testing.T, err error) string {
	t.Helper()
	var ve *booking.ValidationError
	require.ErrorAs(t, err, &ve)
	return ve.Code
}

// =============================================================================
// THE A/B SCENARIO
// =============================================================================

func TestProposeSchedule_SecondResidentConflictsThenMoves(t *testing.T) {
	// GIVEN: residents A and B both asked for Monday
	f := newFixture(t)
	ctx := context.Background()
	a := f.inquiry(t, "ana", monday)
	b := f.inquiry(t, "ben", monday)

	// WHEN: A is scheduled 09:00-10:00
	res, err := f.mgr.ProposeSchedule(ctx, a, slots(slot(monday, "09:00", "10:00")), 1)
	require.NoError(t, err)
	assert.True(t, res.Committed)

	// AND: B is proposed for the same hour
	res, err = f.mgr.ProposeSchedule(ctx, b, slots(slot(monday, "09:00", "10:00")), 1)

	// THEN: B is rejected naming A as the holder
	require.ErrorIs(t, err, booking.ErrConflict)
	require.NotNil(t, res)
	assert.False(t, res.Committed)
	require.Len(t, res.Conflicts, 1)
	c := res.Conflicts[0]
	assert.Equal(t, a, c.InquiryID)
	assert.Equal(t, "ana", c.Resident.Username)
	assert.Equal(t, booking.MustParseClock("09:00"), c.Start)
	assert.Equal(t, booking.MustParseClock("09:00"), c.RequestedStart)

	// AND: B is still pending
	got, err := f.mgr.GetInquiry(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPending, got.Status)
	assert.Empty(t, got.Slots)

	// WHEN: B moves to the adjacent hour
	res, err = f.mgr.ProposeSchedule(ctx, b, slots(slot(monday, "10:00", "11:00")), 1)

	// THEN: half-open intervals touch without overlapping
	require.NoError(t, err)
	assert.True(t, res.Committed)

	ranges, err := f.mgr.ExistingRanges(ctx, monday, "")
	require.NoError(t, err)
	assert.Len(t, ranges, 2)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestProposeSchedule_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.inquiry(t, "ana", monday, tuesday, wednesday)

	tests := []struct {
		name       string
		candidates []booking.ScheduledSlot
		max        int
		code       string
	}{
		{"no slots", nil, 1, booking.CodeNoSlots},
		{"cap zero", slots(slot(monday, "09:00", "10:00")), 0, booking.CodeCapOutOfRange},
		{"cap four", slots(slot(monday, "09:00", "10:00")), 4, booking.CodeCapOutOfRange},
		{"more slots than cap", slots(slot(monday, "09:00", "10:00"), slot(tuesday, "09:00", "10:00")), 1, booking.CodeExceedsCap},
		{"straddles lunch", slots(slot(monday, "11:30", "13:30")), 1, booking.CodeOutsideHours},
		{"before opening", slots(slot(monday, "07:30", "08:30")), 1, booking.CodeOutsideHours},
		{"after closing", slots(slot(monday, "16:30", "17:30")), 1, booking.CodeOutsideHours},
		{"inverted", slots(slot(monday, "10:00", "09:00")), 1, booking.CodeOutsideHours},
		{"weekend", slots(slot(saturday, "09:00", "10:00")), 1, booking.CodeClosedDate},
		{"past date", slots(slot(booking.MustParseDate("2025-03-06"), "09:00", "10:00")), 1, booking.CodePastDate},
		{"overlapping candidates", slots(slot(monday, "09:00", "10:00"), slot(monday, "09:30", "10:30")), 2, booking.CodeOverlappingSlots},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.mgr.ProposeSchedule(ctx, id, tt.candidates, tt.max)
			assert.Nil(t, res)
			assert.Equal(t, tt.code, validationCode(t, err))
			assert.True(t, booking.IsClientError(err))
		})
	}

	got, _ := f.mgr.GetInquiry(ctx, id)
	assert.Equal(t, booking.StatusPending, got.Status, "rejected proposals leave state unchanged")
}

func TestProposeSchedule_CapAllowsThreeDates(t *testing.T) {
	f := newFixture(t)
	id := f.inquiry(t, "ana", monday, tuesday, wednesday)

	res, err := f.mgr.ProposeSchedule(context.Background(), id, slots(
		slot(monday, "08:00", "09:00"),
		slot(tuesday, "13:00", "14:00"),
		slot(wednesday, "16:00", "17:00"),
	), 3)
	require.NoError(t, err)
	assert.Len(t, res.Slots, 3)

	got, _ := f.mgr.GetInquiry(context.Background(), id)
	assert.Equal(t, 3, got.MaxToSchedule)
}

func TestProposeSchedule_UnknownInquiry(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.ProposeSchedule(context.Background(), "missing", slots(slot(monday, "09:00", "10:00")), 1)
	assert.True(t, booking.IsNotFound(err))
}

func TestProposeSchedule_ConflictOnDateTheResidentDidNotRequest(t *testing.T) {
	// GIVEN: ana holds Monday 09:00-09:30; ben only asked for Tuesday
	f := newFixture(t)
	ctx := context.Background()
	ana := f.inquiry(t, "ana", monday)
	_, err := f.mgr.ProposeSchedule(ctx, ana, slots(slot(monday, "09:00", "09:30")), 1)
	require.NoError(t, err)
	ben := f.inquiry(t, "ben", tuesday)

	// WHEN: staff offer ben the same Monday half hour
	res, err := f.mgr.ProposeSchedule(ctx, ben, slots(slot(monday, "09:00", "09:30")), 1)

	// THEN: it is a conflict naming ana, not a validation error
	require.ErrorIs(t, err, booking.ErrConflict)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, ana, res.Conflicts[0].InquiryID)

	// AND: the next half hour commits
	res, err = f.mgr.ProposeSchedule(ctx, ben, slots(slot(monday, "09:30", "10:00")), 1)
	require.NoError(t, err)
	assert.True(t, res.Committed)
}

func TestProposeSchedule_RequireRequestedDates(t *testing.T) {
	f := newFixture(t, scheduler.WithConfig(scheduler.Config{RequireRequestedDates: true}))
	id := f.inquiry(t, "ana", monday)

	res, err := f.mgr.ProposeSchedule(context.Background(), id, slots(slot(tuesday, "09:00", "10:00")), 1)

	assert.Nil(t, res)
	assert.Equal(t, booking.CodeDateNotRequested, validationCode(t, err))

	res, err = f.mgr.ProposeSchedule(context.Background(), id, slots(slot(monday, "09:00", "10:00")), 1)
	require.NoError(t, err)
	assert.True(t, res.Committed)
}

// =============================================================================
// ALL-OR-NOTHING & IDEMPOTENCE
// =============================================================================

func TestProposeSchedule_AllOrNothing(t *testing.T) {
	// GIVEN: Tuesday 14:00-15:00 is held by ben
	f := newFixture(t)
	ctx := context.Background()
	ben := f.inquiry(t, "ben", tuesday)
	_, err := f.mgr.ProposeSchedule(ctx, ben, slots(slot(tuesday, "14:00", "15:00")), 1)
	require.NoError(t, err)

	// WHEN: ana proposes a free Monday slot plus the taken Tuesday slot
	ana := f.inquiry(t, "ana", monday, tuesday)
	res, err := f.mgr.ProposeSchedule(ctx, ana, slots(
		slot(monday, "09:00", "10:00"),
		slot(tuesday, "14:30", "15:30"),
	), 2)

	// THEN: nothing is written, not even the free Monday slot
	require.ErrorIs(t, err, booking.ErrConflict)
	assert.Len(t, res.Conflicts, 1)
	rs, _ := f.mgr.ExistingRanges(ctx, monday, "")
	assert.Empty(t, rs)
}

func TestProposeSchedule_ReportsEveryConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ben := f.inquiry(t, "ben", monday)
	_, err := f.mgr.ProposeSchedule(ctx, ben, slots(slot(monday, "08:00", "09:00"), slot(monday, "10:00", "11:00")), 2)
	require.NoError(t, err)

	ana := f.inquiry(t, "ana", monday)
	res, err := f.mgr.ProposeSchedule(ctx, ana, slots(slot(monday, "08:30", "10:30")), 1)

	require.ErrorIs(t, err, booking.ErrConflict)
	require.Len(t, res.Conflicts, 2)
	assert.Equal(t, booking.MustParseClock("08:00"), res.Conflicts[0].Start)
	assert.Equal(t, booking.MustParseClock("10:00"), res.Conflicts[1].Start)
}

func TestProposeSchedule_ResaveOwnSlotsIsNotAConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.inquiry(t, "ana", monday, tuesday)
	s := slots(slot(monday, "09:00", "10:00"))

	_, err := f.mgr.ProposeSchedule(ctx, id, s, 1)
	require.NoError(t, err)

	// Same slots again, then an overlapping edit of its own slot.
	_, err = f.mgr.ProposeSchedule(ctx, id, s, 1)
	require.NoError(t, err)
	_, err = f.mgr.ProposeSchedule(ctx, id, slots(slot(monday, "09:30", "10:30")), 1)
	require.NoError(t, err)

	rs, _ := f.mgr.ExistingRanges(ctx, monday, "")
	require.Len(t, rs, 1)
	assert.Equal(t, booking.MustParseClock("09:30"), rs[0].Start)
}

func TestProposeSchedule_EditReplacesSlotsOnOtherDates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.inquiry(t, "ana", monday, tuesday)

	_, err := f.mgr.ProposeSchedule(ctx, id, slots(slot(monday, "09:00", "10:00")), 1)
	require.NoError(t, err)
	_, err = f.mgr.ProposeSchedule(ctx, id, slots(slot(tuesday, "09:00", "10:00")), 1)
	require.NoError(t, err)

	rs, _ := f.mgr.ExistingRanges(ctx, monday, "")
	assert.Empty(t, rs, "monday slot released by the edit")
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestCancelSchedule_FreesCapacity(t *testing.T) {
	// GIVEN: ana holds Monday 09:00-10:00
	f := newFixture(t)
	ctx := context.Background()
	ana := f.inquiry(t, "ana", monday)
	_, err := f.mgr.ProposeSchedule(ctx, ana, slots(slot(monday, "09:00", "10:00")), 1)
	require.NoError(t, err)

	// WHEN: staff cancel it
	inq, err := f.mgr.CancelSchedule(ctx, ana, "  resident requested a different week  ")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCanceled, inq.Status)
	assert.Equal(t, "resident requested a different week", inq.CancelReason)

	// THEN: ben can take the same hour
	ben := f.inquiry(t, "ben", monday)
	res, err := f.mgr.ProposeSchedule(ctx, ben, slots(slot(monday, "09:00", "10:00")), 1)
	require.NoError(t, err)
	assert.True(t, res.Committed)
}

func TestCancelSchedule_ReasonTooShort(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.inquiry(t, "ana", monday)
	_, err := f.mgr.ProposeSchedule(ctx, id, slots(slot(monday, "09:00", "10:00")), 1)
	require.NoError(t, err)

	_, err = f.mgr.CancelSchedule(ctx, id, "   too short   ")
	assert.Equal(t, booking.CodeReasonTooShort, validationCode(t, err))

	got, _ := f.mgr.GetInquiry(ctx, id)
	assert.Equal(t, booking.StatusScheduled, got.Status)
}

func TestCancelSchedule_OnlyFromScheduled(t *testing.T) {
	f := newFixture(t)
	id := f.inquiry(t, "ana", monday)

	_, err := f.mgr.CancelSchedule(context.Background(), id, "never got scheduled anyway")

	var ite *booking.InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, booking.StatusPending, ite.From)
	assert.Equal(t, booking.StatusCanceled, ite.To)
}

func TestResolveInquiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.inquiry(t, "ana", monday)
	inq, err := f.mgr.ResolveInquiry(ctx, pending)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusResolved, inq.Status)

	scheduled := f.inquiry(t, "ben", monday)
	_, err = f.mgr.ProposeSchedule(ctx, scheduled, slots(slot(monday, "13:00", "14:00")), 1)
	require.NoError(t, err)
	inq, err = f.mgr.ResolveInquiry(ctx, scheduled)
	require.NoError(t, err)
	assert.Len(t, inq.Slots, 1, "slots untouched")

	// Terminal: nothing more is allowed.
	_, err = f.mgr.ResolveInquiry(ctx, scheduled)
	assert.ErrorIs(t, err, booking.ErrInvalidTransition)
	_, err = f.mgr.ProposeSchedule(ctx, scheduled, slots(slot(monday, "13:00", "14:00")), 1)
	assert.ErrorIs(t, err, booking.ErrInvalidTransition)
	_, err = f.mgr.CancelSchedule(ctx, scheduled, "resolved already, cannot cancel")
	assert.ErrorIs(t, err, booking.ErrInvalidTransition)
}

func TestResolveInquiry_KeepsSlotsBooked(t *testing.T) {
	// GIVEN: ana holds Monday 09:00-10:00 and the visit is resolved
	f := newFixture(t)
	ctx := context.Background()
	ana := f.inquiry(t, "ana", monday)
	_, err := f.mgr.ProposeSchedule(ctx, ana, slots(slot(monday, "09:00", "10:00")), 1)
	require.NoError(t, err)
	_, err = f.mgr.ResolveInquiry(ctx, ana)
	require.NoError(t, err)

	// THEN: the hour still shows as taken
	ranges, err := f.mgr.ExistingRanges(ctx, monday, "")
	require.NoError(t, err)
	require.Len(t, ranges, 1)
	assert.Equal(t, ana, ranges[0].InquiryID)

	// WHEN: ben is proposed for the same hour
	ben := f.inquiry(t, "ben", monday)
	res, err := f.mgr.ProposeSchedule(ctx, ben, slots(slot(monday, "09:00", "10:00")), 1)

	// THEN: the resolved booking still blocks it
	require.ErrorIs(t, err, booking.ErrConflict)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, ana, res.Conflicts[0].InquiryID)

	statuses, err := f.mgr.DayStatuses(ctx, monday, monday)
	require.NoError(t, err)
	assert.Equal(t, 60, statuses[0].BookedMinutes)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestProposeSchedule_ConcurrentSameSlotExactlyOneWins(t *testing.T) {
	// GIVEN: ten residents all asking for Monday
	f := newFixture(t)
	ctx := context.Background()
	var ids []booking.InquiryID
	for i := 0; i < 10; i++ {
		ids = append(ids, f.inquiry(t, fmt.Sprintf("resident-%d", i), monday))
	}

	// WHEN: staff propose 09:00-10:00 for all of them at once
	var committed, conflicted int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, id := range ids {
		wg.Add(1)
		go func(id booking.InquiryID) {
			defer wg.Done()
			<-start
			_, err := f.mgr.ProposeSchedule(ctx, id, slots(slot(monday, "09:00", "10:00")), 1)
			switch {
			case err == nil:
				atomic.AddInt32(&committed, 1)
			case errors.Is(err, booking.ErrConflict):
				atomic.AddInt32(&conflicted, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	close(start)
	wg.Wait()

	// THEN: exactly one holds the hour
	assert.Equal(t, int32(1), committed)
	assert.Equal(t, int32(9), conflicted)
	rs, _ := f.mgr.ExistingRanges(ctx, monday, "")
	assert.Len(t, rs, 1)
}

func TestProposeSchedule_DisjointDatesDoNotInterfere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.inquiry(t, "ana", monday)
	b := f.inquiry(t, "ben", tuesday)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() { defer wg.Done(); _, errs[0] = f.mgr.ProposeSchedule(ctx, a, slots(slot(monday, "09:00", "10:00")), 1) }()
	go func() { defer wg.Done(); _, errs[1] = f.mgr.ProposeSchedule(ctx, b, slots(slot(tuesday, "09:00", "10:00")), 1) }()
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
}

// =============================================================================
// TRANSPORT FAILURES
// =============================================================================

// flakyStore fails the next n WithDates calls.
type flakyStore struct {
	*store.Memory
	failures int32
}

func (s *flakyStore) WithDates(ctx context.Context, dates []booking.Date, fn func(booking.Store) error) error {
	if atomic.AddInt32(&s.failures, -1) >= 0 {
		return errors.New("connection reset by peer")
	}
	return s.Memory.WithDates(ctx, dates, fn)
}

func TestProposeSchedule_RetriesOnceOnStoreFailure(t *testing.T) {
	flaky := &flakyStore{Memory: store.NewMemory(), failures: 1}
	mgr := scheduler.New(flaky, scheduler.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	inq, err := mgr.CreateInquiry(ctx, scheduler.NewInquiry{
		Requester:      booking.Resident{Username: "ana"},
		RequestedDates: []booking.Date{monday},
	})
	require.NoError(t, err)

	res, err := mgr.ProposeSchedule(ctx, inq.ID, slots(slot(monday, "09:00", "10:00")), 1)
	require.NoError(t, err)
	assert.True(t, res.Committed)
}

func TestProposeSchedule_FailedPreflightBlocksCommit(t *testing.T) {
	// GIVEN: a store whose transactions keep failing
	flaky := &flakyStore{Memory: store.NewMemory(), failures: 100}
	mgr := scheduler.New(flaky, scheduler.WithClock(func() time.Time { return now }))
	ctx := context.Background()
	inq, err := mgr.CreateInquiry(ctx, scheduler.NewInquiry{
		Requester:      booking.Resident{Username: "ana"},
		RequestedDates: []booking.Date{monday},
	})
	require.NoError(t, err)

	// WHEN: a proposal is made
	res, err := mgr.ProposeSchedule(ctx, inq.ID, slots(slot(monday, "09:00", "10:00")), 1)

	// THEN: it is a retryable transport error, never a silent commit
	assert.Nil(t, res)
	var te *booking.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "preflight", te.Op)
	assert.True(t, booking.IsRetryable(err))
	assert.False(t, booking.IsClientError(err))

	got, _ := mgr.GetInquiry(ctx, inq.ID)
	assert.Equal(t, booking.StatusPending, got.Status)
}

// slowStore blocks reads until the context expires.
type slowStore struct {
	*store.Memory
}

func (s *slowStore) ExistingRanges(ctx context.Context, _ booking.Date, _ booking.InquiryID) ([]booking.ExistingRange, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestExistingRanges_StoreTimeout(t *testing.T) {
	mgr := scheduler.New(&slowStore{Memory: store.NewMemory()},
		scheduler.WithConfig(scheduler.Config{StoreTimeout: 10 * time.Millisecond}))

	_, err := mgr.ExistingRanges(context.Background(), monday, "")
	assert.ErrorIs(t, err, booking.ErrTransport)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProposeSchedule_LockTimeoutIsTransportError(t *testing.T) {
	blocking := &stuckLocker{}
	f := newFixture(t,
		scheduler.WithLocker(blocking),
		scheduler.WithConfig(scheduler.Config{LockWait: 10 * time.Millisecond}),
	)
	id := f.inquiry(t, "ana", monday)

	_, err := f.mgr.ProposeSchedule(context.Background(), id, slots(slot(monday, "09:00", "10:00")), 1)

	var te *booking.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "lock", te.Op)
}

type stuckLocker struct{}

func (stuckLocker) Lock(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func (stuckLocker) Unlock(context.Context, string) error { return nil }

// expiredLocker grants every lock but reports it gone at release.
type expiredLocker struct{}

func (expiredLocker) Lock(context.Context, string) error { return nil }

func (expiredLocker) Unlock(context.Context, string) error { return lock.ErrNotHeld }

func TestProposeSchedule_LostLockIsLogged(t *testing.T) {
	// GIVEN: the date lock expires while the proposal runs
	core, logs := observer.New(zap.ErrorLevel)
	f := newFixture(t,
		scheduler.WithLocker(expiredLocker{}),
		scheduler.WithLogger(zap.New(core)),
	)
	id := f.inquiry(t, "ana", monday)

	// WHEN
	res, err := f.mgr.ProposeSchedule(context.Background(), id, slots(slot(monday, "09:00", "10:00")), 1)

	// THEN: the commit stands and the loss is reported
	require.NoError(t, err)
	assert.True(t, res.Committed)

	entries := logs.FilterMessage("date lock release failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, true, fields["lost"])
	assert.Contains(t, fields["error"], lock.ErrNotHeld.Error())
}

// =============================================================================
// INQUIRIES
// =============================================================================

func TestCreateInquiry_NormalizesAndValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inq, err := f.mgr.CreateInquiry(ctx, scheduler.NewInquiry{
		Requester:      booking.Resident{Username: "  ana  "},
		RequestedDates: []booking.Date{tuesday, monday, tuesday},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, inq.ID)
	assert.Equal(t, "ana", inq.Requester.Username)
	assert.Equal(t, []booking.Date{tuesday, monday}, inq.RequestedDates)
	assert.Equal(t, 1, inq.MaxToSchedule)
	assert.Equal(t, booking.StatusPending, inq.Status)

	_, err = f.mgr.CreateInquiry(ctx, scheduler.NewInquiry{RequestedDates: []booking.Date{monday}})
	assert.Equal(t, booking.CodeRequired, validationCode(t, err))

	_, err = f.mgr.CreateInquiry(ctx, scheduler.NewInquiry{
		Requester:      booking.Resident{Username: "ana"},
		RequestedDates: []booking.Date{saturday},
	})
	assert.Equal(t, booking.CodeClosedDate, validationCode(t, err))

	var many []booking.Date
	for d := monday; len(many) < booking.MaxRequestedDates+1; d = d.AddDays(1) {
		if !d.IsWeekend() {
			many = append(many, d)
		}
	}
	_, err = f.mgr.CreateInquiry(ctx, scheduler.NewInquiry{
		Requester:      booking.Resident{Username: "ana"},
		RequestedDates: many,
	})
	assert.Equal(t, booking.CodeTooManyDates, validationCode(t, err))

	_, err = f.mgr.CreateInquiry(ctx, scheduler.NewInquiry{
		ID:             inq.ID,
		Requester:      booking.Resident{Username: "ana"},
		RequestedDates: []booking.Date{monday},
	})
	assert.ErrorIs(t, err, booking.ErrDuplicateInquiry)
}

func TestListInquiries_RejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.ListInquiries(context.Background(), booking.InquiryFilter{Status: "archived"})
	assert.ErrorIs(t, err, booking.ErrValidation)
}

// =============================================================================
// CALENDAR
// =============================================================================

func TestDayStatuses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.inquiry(t, "ana", monday, tuesday)
	_, err := f.mgr.ProposeSchedule(ctx, id, slots(slot(monday, "08:00", "12:00"), slot(tuesday, "13:00", "17:00")), 2)
	require.NoError(t, err)
	other := f.inquiry(t, "ben", monday)
	_, err = f.mgr.ProposeSchedule(ctx, other, slots(slot(monday, "13:00", "17:00")), 1)
	require.NoError(t, err)

	days, err := f.mgr.DayStatuses(ctx, monday, saturday)
	require.NoError(t, err)
	require.Len(t, days, 6)

	assert.Equal(t, booking.FullyBooked, days[0].Status)
	assert.Equal(t, 480, days[0].BookedMinutes)
	assert.Equal(t, booking.PartiallyBooked, days[1].Status)
	assert.Equal(t, "0.5", days[1].Utilization.String())
	assert.Equal(t, booking.Available, days[2].Status)
	assert.True(t, days[5].Closed)
	assert.Equal(t, 0, days[5].BookableMinutes)
}

func TestDayStatuses_WindowLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.DayStatuses(ctx, tuesday, monday)
	assert.ErrorIs(t, err, booking.ErrValidation)

	_, err = f.mgr.DayStatuses(ctx, monday, monday.AddDays(scheduler.DefaultMaxRangeDays))
	assert.Equal(t, booking.CodeRangeTooLarge, validationCode(t, err))

	days, err := f.mgr.DayStatuses(ctx, monday, monday.AddDays(scheduler.DefaultMaxRangeDays-1))
	require.NoError(t, err)
	assert.Len(t, days, scheduler.DefaultMaxRangeDays)
}

func TestDayPreview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.inquiry(t, "ana", monday)
	_, err := f.mgr.ProposeSchedule(ctx, id, slots(slot(monday, "09:00", "10:00")), 1)
	require.NoError(t, err)

	blocks, err := f.mgr.DayPreview(ctx, monday, 60)
	require.NoError(t, err)
	require.Len(t, blocks, 8)
	assert.False(t, blocks[0].Taken)
	assert.True(t, blocks[1].Taken)
	assert.Equal(t, id, blocks[1].InquiryID)

	_, err = f.mgr.DayPreview(ctx, monday, 1)
	assert.Equal(t, booking.CodeInvalidGranularity, validationCode(t, err))
}

// =============================================================================
// HOLIDAYS
// =============================================================================

func TestHolidays_CloseDates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.inquiry(t, "ana", monday, tuesday)

	h, err := f.mgr.AddHoliday(ctx, booking.Holiday{Date: tuesday, Name: "Barangay fiesta"})
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID)

	_, err = f.mgr.ProposeSchedule(ctx, id, slots(slot(tuesday, "09:00", "10:00")), 1)
	assert.Equal(t, booking.CodeClosedDate, validationCode(t, err))

	days, err := f.mgr.DayStatuses(ctx, tuesday, tuesday)
	require.NoError(t, err)
	assert.True(t, days[0].Closed)

	require.NoError(t, f.mgr.RemoveHoliday(ctx, h.ID))
	_, err = f.mgr.ProposeSchedule(ctx, id, slots(slot(tuesday, "09:00", "10:00")), 1)
	assert.NoError(t, err)
}

func TestHolidays_ReloadedFromStore(t *testing.T) {
	mem := store.NewMemory()
	require.NoError(t, mem.SaveHoliday(context.Background(), booking.Holiday{ID: "h1", Date: monday, Name: "Special non-working day"}))

	mgr := scheduler.New(mem)
	assert.True(t, mgr.Rules().IsBookableDate(monday))

	require.NoError(t, mgr.LoadHolidays(context.Background()))
	assert.False(t, mgr.Rules().IsBookableDate(monday))
}

// =============================================================================
// EVENTS
// =============================================================================

func TestEvents_PublishedAfterCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.inquiry(t, "ana", monday)
	b := f.inquiry(t, "ben", monday)

	_, err := f.mgr.ProposeSchedule(ctx, a, slots(slot(monday, "09:00", "10:00")), 1)
	require.NoError(t, err)
	_, err = f.mgr.ProposeSchedule(ctx, b, slots(slot(monday, "09:00", "10:00")), 1)
	require.Error(t, err)
	_, err = f.mgr.CancelSchedule(ctx, a, "office closed for repairs")
	require.NoError(t, err)
	_, err = f.mgr.ResolveInquiry(ctx, b)
	require.NoError(t, err)

	assert.Equal(t, []events.Type{
		events.InquiryCreated,
		events.InquiryCreated,
		events.InquiryScheduled,
		events.InquiryCanceled,
		events.InquiryResolved,
	}, f.events.Types(), "rejected proposals publish nothing")

	scheduled := f.events.Events()[2]
	assert.Equal(t, string(a), scheduled.Payload.InquiryID)
	require.Len(t, scheduled.Payload.Slots, 1)
	assert.Equal(t, "09:00", scheduled.Payload.Slots[0].Start)
}

func TestEvents_PublishFailureDoesNotUndoCommit(t *testing.T) {
	rec := &events.Recorder{Err: errors.New("broker unavailable")}
	f := newFixture(t, scheduler.WithPublisher(rec))
	id := f.inquiry(t, "ana", monday)

	res, err := f.mgr.ProposeSchedule(context.Background(), id, slots(slot(monday, "09:00", "10:00")), 1)
	require.NoError(t, err)
	assert.True(t, res.Committed)
}
