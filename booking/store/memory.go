// Package store provides in-memory booking.Store implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/barangay/appointments/booking"
	"github.com/barangay/appointments/lock"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	inquiries map[booking.InquiryID]*booking.Inquiry
	holidays  map[string]booking.Holiday

	// dates serializes WithDates callers per date.
	dates *lock.Local
	now   func() time.Time
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithClock sets the clock used for UpdatedAt stamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		inquiries: make(map[booking.InquiryID]*booking.Inquiry),
		holidays:  make(map[string]booking.Holiday),
		dates:     lock.NewLocal(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) CreateInquiry(_ context.Context, inq booking.Inquiry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(inq)
}

func (m *Memory) createLocked(inq booking.Inquiry) error {
	if _, ok := m.inquiries[inq.ID]; ok {
		return booking.ErrDuplicateInquiry
	}
	c := cloneInquiry(inq)
	m.inquiries[inq.ID] = &c
	return nil
}

func (m *Memory) GetInquiry(_ context.Context, id booking.InquiryID) (*booking.Inquiry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inq, ok := m.inquiries[id]
	if !ok {
		return nil, booking.ErrInquiryNotFound
	}
	c := cloneInquiry(*inq)
	return &c, nil
}

func (m *Memory) ListInquiries(_ context.Context, filter booking.InquiryFilter) ([]booking.Inquiry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []booking.Inquiry
	for _, inq := range m.inquiries {
		if filter.Status != "" && inq.Status != filter.Status {
			continue
		}
		if filter.Requester != "" && !strings.EqualFold(inq.Requester.Username, filter.Requester) {
			continue
		}
		out = append(out, cloneInquiry(*inq))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) ExistingRanges(_ context.Context, date booking.Date, exclude booking.InquiryID) ([]booking.ExistingRange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rangesLocked(func(d booking.Date) bool { return d == date }, exclude)[date], nil
}

func (m *Memory) RangesBetween(_ context.Context, window booking.DateRange) (booking.RangesByDate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rangesLocked(window.Contains, ""), nil
}

func (m *Memory) rangesLocked(match func(booking.Date) bool, exclude booking.InquiryID) booking.RangesByDate {
	out := booking.RangesByDate{}
	for _, inq := range m.inquiries {
		if !inq.HoldsCapacity() || (exclude != "" && inq.ID == exclude) {
			continue
		}
		for _, s := range inq.Slots {
			if !match(s.Date) {
				continue
			}
			out[s.Date] = append(out[s.Date], booking.ExistingRange{
				Date:      s.Date,
				Start:     s.Start,
				End:       s.End,
				InquiryID: inq.ID,
				Resident:  inq.Requester,
			})
		}
	}
	for d := range out {
		sort.Slice(out[d], func(i, j int) bool { return out[d][i].Start < out[d][j].Start })
	}
	return out
}

func (m *Memory) CommitSchedule(_ context.Context, id booking.InquiryID, expected booking.Status, slots []booking.ScheduledSlot, maxToSchedule int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commitLocked(id, expected, slots, maxToSchedule)
}

func (m *Memory) commitLocked(id booking.InquiryID, expected booking.Status, slots []booking.ScheduledSlot, maxToSchedule int) error {
	inq, ok := m.inquiries[id]
	if !ok {
		return booking.ErrInquiryNotFound
	}
	if inq.Status != expected {
		return booking.ErrStaleInquiry
	}
	inq.Slots = append([]booking.ScheduledSlot(nil), slots...)
	inq.MaxToSchedule = maxToSchedule
	inq.Status = booking.StatusScheduled
	inq.UpdatedAt = m.now().UTC()
	return nil
}

func (m *Memory) Transition(_ context.Context, id booking.InquiryID, from, to booking.Status, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(id, from, to, reason)
}

func (m *Memory) transitionLocked(id booking.InquiryID, from, to booking.Status, reason string) error {
	inq, ok := m.inquiries[id]
	if !ok {
		return booking.ErrInquiryNotFound
	}
	if inq.Status != from {
		return booking.ErrStaleInquiry
	}
	inq.Status = to
	if reason != "" {
		inq.CancelReason = reason
	}
	inq.UpdatedAt = m.now().UTC()
	return nil
}

// =============================================================================
// HOLIDAYS
// =============================================================================

func (m *Memory) SaveHoliday(_ context.Context, h booking.Holiday) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holidays[h.ID] = h
	return nil
}

func (m *Memory) ListHolidays(_ context.Context) ([]booking.Holiday, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]booking.Holiday, 0, len(m.holidays))
	for _, h := range m.holidays {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *Memory) DeleteHoliday(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.holidays, id)
	return nil
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// WithDates holds the per-date locks for the duration of fn. Reads inside fn
// see the committed state plus fn's own writes; writes are buffered and
// applied in one step under the store mutex only when fn succeeds.
func (m *Memory) WithDates(ctx context.Context, dates []booking.Date, fn func(booking.Store) error) (err error) {
	keys := make([]string, len(dates))
	for i, d := range dates {
		keys[i] = d.String()
	}
	release, err := lock.AcquireAll(ctx, m.dates, keys)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := release(); rerr != nil && err == nil {
			err = rerr
		}
	}()

	view := &txView{parent: m}
	if err := fn(view); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-check the first buffered write per inquiry before applying any.
	seen := make(map[booking.InquiryID]bool, len(view.writes))
	for _, w := range view.writes {
		if seen[w.id] {
			continue
		}
		seen[w.id] = true
		if err := w.check(m); err != nil {
			return err
		}
	}
	for _, w := range view.writes {
		if err := w.apply(m); err != nil {
			return err
		}
	}
	return nil
}

type pendingWrite struct {
	id    booking.InquiryID
	check func(*Memory) error
	apply func(*Memory) error
}

type txView struct {
	parent *Memory
	writes []pendingWrite
	// overlay holds inquiries as fn has modified them.
	overlay map[booking.InquiryID]booking.Inquiry
}

func (v *txView) current(id booking.InquiryID) (booking.Inquiry, bool) {
	if inq, ok := v.overlay[id]; ok {
		return inq, true
	}
	v.parent.mu.RLock()
	defer v.parent.mu.RUnlock()
	inq, ok := v.parent.inquiries[id]
	if !ok {
		return booking.Inquiry{}, false
	}
	return cloneInquiry(*inq), true
}

func (v *txView) put(inq booking.Inquiry) {
	if v.overlay == nil {
		v.overlay = make(map[booking.InquiryID]booking.Inquiry)
	}
	v.overlay[inq.ID] = inq
}

func (v *txView) CreateInquiry(_ context.Context, inq booking.Inquiry) error {
	if _, ok := v.current(inq.ID); ok {
		return booking.ErrDuplicateInquiry
	}
	v.put(cloneInquiry(inq))
	v.writes = append(v.writes, pendingWrite{
		id:    inq.ID,
		check: func(m *Memory) error {
			if _, ok := m.inquiries[inq.ID]; ok {
				return booking.ErrDuplicateInquiry
			}
			return nil
		},
		apply: func(m *Memory) error { return m.createLocked(inq) },
	})
	return nil
}

func (v *txView) GetInquiry(_ context.Context, id booking.InquiryID) (*booking.Inquiry, error) {
	inq, ok := v.current(id)
	if !ok {
		return nil, booking.ErrInquiryNotFound
	}
	c := cloneInquiry(inq)
	return &c, nil
}

func (v *txView) ListInquiries(ctx context.Context, filter booking.InquiryFilter) ([]booking.Inquiry, error) {
	return v.parent.ListInquiries(ctx, filter)
}

func (v *txView) ExistingRanges(ctx context.Context, date booking.Date, exclude booking.InquiryID) ([]booking.ExistingRange, error) {
	base, err := v.parent.ExistingRanges(ctx, date, exclude)
	if err != nil || len(v.overlay) == 0 {
		return base, err
	}
	var out []booking.ExistingRange
	for _, r := range base {
		if _, touched := v.overlay[r.InquiryID]; !touched {
			out = append(out, r)
		}
	}
	for _, inq := range v.overlay {
		if !inq.HoldsCapacity() || inq.ID == exclude {
			continue
		}
		for _, s := range inq.Slots {
			if s.Date == date {
				out = append(out, booking.ExistingRange{Date: s.Date, Start: s.Start, End: s.End, InquiryID: inq.ID, Resident: inq.Requester})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

func (v *txView) RangesBetween(ctx context.Context, window booking.DateRange) (booking.RangesByDate, error) {
	out := booking.RangesByDate{}
	for _, d := range window.Days() {
		rs, err := v.ExistingRanges(ctx, d, "")
		if err != nil {
			return nil, err
		}
		if len(rs) > 0 {
			out[d] = rs
		}
	}
	return out, nil
}

func (v *txView) CommitSchedule(_ context.Context, id booking.InquiryID, expected booking.Status, slots []booking.ScheduledSlot, maxToSchedule int) error {
	inq, ok := v.current(id)
	if !ok {
		return booking.ErrInquiryNotFound
	}
	if inq.Status != expected {
		return booking.ErrStaleInquiry
	}
	// The overlay stands in for the committed status from here on.
	observed := inq.Status
	inq.Slots = append([]booking.ScheduledSlot(nil), slots...)
	inq.MaxToSchedule = maxToSchedule
	inq.Status = booking.StatusScheduled
	v.put(inq)

	v.writes = append(v.writes, pendingWrite{
		id:    id,
		check: func(m *Memory) error { return m.expectStatus(id, observed) },
		apply: func(m *Memory) error {
			return m.commitLocked(id, m.inquiries[id].Status, slots, maxToSchedule)
		},
	})
	return nil
}

func (v *txView) Transition(_ context.Context, id booking.InquiryID, from, to booking.Status, reason string) error {
	inq, ok := v.current(id)
	if !ok {
		return booking.ErrInquiryNotFound
	}
	if inq.Status != from {
		return booking.ErrStaleInquiry
	}
	observed := inq.Status
	inq.Status = to
	if reason != "" {
		inq.CancelReason = reason
	}
	v.put(inq)

	v.writes = append(v.writes, pendingWrite{
		id:    id,
		check: func(m *Memory) error { return m.expectStatus(id, observed) },
		apply: func(m *Memory) error {
			return m.transitionLocked(id, m.inquiries[id].Status, to, reason)
		},
	})
	return nil
}

func (m *Memory) expectStatus(id booking.InquiryID, want booking.Status) error {
	inq, ok := m.inquiries[id]
	if !ok {
		// Created earlier in the same transaction.
		return nil
	}
	if inq.Status != want {
		return booking.ErrStaleInquiry
	}
	return nil
}

func cloneInquiry(inq booking.Inquiry) booking.Inquiry {
	inq.RequestedDates = append([]booking.Date(nil), inq.RequestedDates...)
	inq.Slots = append([]booking.ScheduledSlot(nil), inq.Slots...)
	return inq
}
