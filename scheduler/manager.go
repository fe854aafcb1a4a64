/*
manager.go - Scheduling transaction manager

PURPOSE:
  The only writer of scheduled slots. Wraps validation, per-date locking,
  the preflight read and the conditional commit into one server-side
  operation so that no caller can commit against a stale view.

PROPOSE SEQUENCE:
  1. validate count, cap and each candidate (no I/O)
  2. load the inquiry, check status (and requested dates when configured)
  3. lock every candidate date (sorted, deduplicated)
  4. inside TxStore.WithDates: re-read the inquiry and the live ranges of
     each date, run FindConflicts excluding the inquiry's own slots
  5. no conflicts: CommitSchedule; otherwise return every conflict

STORE FAILURES:
  Every store call is bounded by StoreTimeout and retried once. A second
  failure becomes a *booking.TransportError. A failed preflight is never
  read as "no conflicts".

READ PATHS:
  ExistingRanges, DayStatuses and DayPreview never take date locks.

SEE ALSO:
  - booking/conflict.go: overlap detection
  - booking/store.go: the TxStore contract
  - lock/lock.go: per-date locks
*/
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/barangay/appointments/booking"
	"github.com/barangay/appointments/events"
	"github.com/barangay/appointments/lock"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

const (
	DefaultStoreTimeout = 3 * time.Second
	DefaultLockWait     = 5 * time.Second
	DefaultMaxRangeDays = 93
	MaxGranularity      = 240
	MinGranularity      = 5
)

type Config struct {
	// StoreTimeout bounds each store attempt.
	StoreTimeout time.Duration
	// LockWait bounds the wait for all date locks of one proposal.
	LockWait time.Duration
	// MaxRangeDays caps the DayStatuses window.
	MaxRangeDays int
	// RequireRequestedDates limits proposals to the dates the resident asked
	// for. Off by default: staff may confirm any open date.
	RequireRequestedDates bool
}

func (c Config) withDefaults() Config {
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = DefaultStoreTimeout
	}
	if c.LockWait <= 0 {
		c.LockWait = DefaultLockWait
	}
	if c.MaxRangeDays <= 0 {
		c.MaxRangeDays = DefaultMaxRangeDays
	}
	return c
}

// =============================================================================
// MANAGER
// =============================================================================

type Manager struct {
	store     booking.TxStore
	holidays  booking.HolidayStore
	locker    lock.Locker
	publisher events.Publisher
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
	cfg       Config

	mu    sync.RWMutex
	rules booking.Rules
}

type Option func(*Manager)

func WithLocker(l lock.Locker) Option         { return func(m *Manager) { m.locker = l } }
func WithPublisher(p events.Publisher) Option { return func(m *Manager) { m.publisher = p } }
func WithLogger(l *zap.Logger) Option         { return func(m *Manager) { m.logger = l } }
func WithTracer(t trace.Tracer) Option        { return func(m *Manager) { m.tracer = t } }
func WithClock(now func() time.Time) Option   { return func(m *Manager) { m.now = now } }
func WithConfig(c Config) Option              { return func(m *Manager) { m.cfg = c } }

// WithHolidayStore overrides the holiday store. By default the main store is
// used when it implements booking.HolidayStore.
func WithHolidayStore(h booking.HolidayStore) Option {
	return func(m *Manager) { m.holidays = h }
}

func New(store booking.TxStore, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		locker:    lock.NewLocal(),
		publisher: events.Nop{},
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("github.com/barangay/appointments/scheduler"),
		now:       time.Now,
		rules:     booking.NewRules(nil),
	}
	if hs, ok := store.(booking.HolidayStore); ok {
		m.holidays = hs
	}
	for _, opt := range opts {
		opt(m)
	}
	m.cfg = m.cfg.withDefaults()
	return m
}

// Rules returns the availability rules currently in force.
func (m *Manager) Rules() booking.Rules {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rules
}

// Today is the current office date according to the manager clock.
func (m *Manager) Today() booking.Date { return booking.DateOf(m.now()) }

// =============================================================================
// PROPOSE SCHEDULE - The critical transactional operation
// =============================================================================

// Result is the outcome of ProposeSchedule. Exactly one of Slots and
// Conflicts is populated.
type Result struct {
	Committed bool
	Slots     []booking.ScheduledSlot
	Conflicts []booking.ConflictItem
}

// ProposeSchedule commits candidates as the inquiry's slots, replacing any it
// already holds, or reports every conflict and writes nothing.
//
// On conflict both a Result and a *booking.ConflictError are returned.
func (m *Manager) ProposeSchedule(ctx context.Context, id booking.InquiryID, candidates []booking.ScheduledSlot, maxToSchedule int) (res *Result, err error) {
	ctx, span := m.tracer.Start(ctx, "scheduler.ProposeSchedule", trace.WithAttributes(
		attribute.String("inquiry.id", string(id)),
		attribute.Int("candidates", len(candidates)),
	))
	defer func() { endSpan(span, err) }()

	rules := m.Rules()
	if err := validateProposal(rules, m.Today(), candidates, maxToSchedule); err != nil {
		return nil, err
	}

	inq, err := m.GetInquiry(ctx, id)
	if err != nil {
		return nil, err
	}
	if !booking.CanTransition(inq.Status, booking.StatusScheduled) {
		return nil, &booking.InvalidTransitionError{InquiryID: id, From: inq.Status, To: booking.StatusScheduled}
	}
	if m.cfg.RequireRequestedDates {
		if err := validateAgainstInquiry(inq, candidates); err != nil {
			return nil, err
		}
	}

	dates := slotDates(candidates)
	release, err := m.lockDates(ctx, dates)
	if err != nil {
		return nil, err
	}
	defer release()

	var conflicts []booking.ConflictItem
	err = m.storeCall(ctx, "preflight", func(ctx context.Context) error {
		conflicts = nil
		return m.store.WithDates(ctx, dates, func(tx booking.Store) error {
			cur, err := tx.GetInquiry(ctx, id)
			if err != nil {
				return err
			}
			if !booking.CanTransition(cur.Status, booking.StatusScheduled) {
				return &booking.InvalidTransitionError{InquiryID: id, From: cur.Status, To: booking.StatusScheduled}
			}

			existing := make(booking.RangesByDate, len(dates))
			for _, d := range dates {
				rs, err := tx.ExistingRanges(ctx, d, id)
				if err != nil {
					return fmt.Errorf("read %s: %w", d, err)
				}
				existing[d] = rs
			}

			if conflicts = booking.FindConflicts(candidates, existing, id); len(conflicts) > 0 {
				return &booking.ConflictError{Conflicts: conflicts}
			}
			return tx.CommitSchedule(ctx, id, cur.Status, candidates, maxToSchedule)
		})
	})

	if errors.Is(err, booking.ErrStaleInquiry) {
		err = &booking.TransportError{Op: "preflight", Err: err}
	}

	var conflictErr *booking.ConflictError
	if errors.As(err, &conflictErr) {
		m.logger.Info("schedule rejected",
			zap.String("inquiry_id", string(id)),
			zap.Int("conflicts", len(conflictErr.Conflicts)),
		)
		return &Result{Committed: false, Conflicts: conflictErr.Conflicts}, err
	}
	if err != nil {
		m.logger.Warn("schedule failed", zap.String("inquiry_id", string(id)), zap.Error(err))
		return nil, err
	}

	slots := append([]booking.ScheduledSlot(nil), candidates...)
	m.logger.Info("schedule committed",
		zap.String("inquiry_id", string(id)),
		zap.Int("slots", len(slots)),
		zap.Int("max_to_schedule", maxToSchedule),
	)

	inq.Status = booking.StatusScheduled
	inq.Slots = slots
	m.publish(ctx, events.InquiryScheduled, inq, "")

	return &Result{Committed: true, Slots: slots}, nil
}

func (m *Manager) lockDates(ctx context.Context, dates []booking.Date) (func(), error) {
	keys := make([]string, len(dates))
	for i, d := range dates {
		keys[i] = "date:" + d.String()
	}
	lctx, cancel := context.WithTimeout(ctx, m.cfg.LockWait)
	defer cancel()

	release, err := lock.AcquireAll(lctx, m.locker, keys)
	if err != nil {
		return nil, &booking.TransportError{Op: "lock", Err: err}
	}
	return func() {
		rerr := release()
		if rerr == nil {
			return
		}
		// A lost lock means another instance may have entered the same dates.
		lost := errors.Is(rerr, lock.ErrNotHeld)
		m.logger.Error("date lock release failed",
			zap.Strings("keys", keys),
			zap.Bool("lost", lost),
			zap.Error(rerr),
		)
		span := trace.SpanFromContext(ctx)
		span.RecordError(rerr)
		span.SetAttributes(attribute.Bool("lock.lost", lost))
	}, nil
}

// =============================================================================
// LIFECYCLE TRANSITIONS
// =============================================================================

// CancelSchedule moves a scheduled inquiry to canceled. Its slots stop
// counting against availability immediately. No preflight is needed.
func (m *Manager) CancelSchedule(ctx context.Context, id booking.InquiryID, reason string) (inq *booking.Inquiry, err error) {
	ctx, span := m.tracer.Start(ctx, "scheduler.CancelSchedule", trace.WithAttributes(
		attribute.String("inquiry.id", string(id)),
	))
	defer func() { endSpan(span, err) }()

	trimmed, err := validateCancelReason(reason)
	if err != nil {
		return nil, err
	}
	inq, err = m.transition(ctx, id, booking.StatusCanceled, trimmed)
	if err != nil {
		return nil, err
	}
	m.publish(ctx, events.InquiryCanceled, inq, trimmed)
	return inq, nil
}

// ResolveInquiry closes an inquiry. Its slots stay booked; only
// CancelSchedule frees capacity.
func (m *Manager) ResolveInquiry(ctx context.Context, id booking.InquiryID) (inq *booking.Inquiry, err error) {
	ctx, span := m.tracer.Start(ctx, "scheduler.ResolveInquiry", trace.WithAttributes(
		attribute.String("inquiry.id", string(id)),
	))
	defer func() { endSpan(span, err) }()

	inq, err = m.transition(ctx, id, booking.StatusResolved, "")
	if err != nil {
		return nil, err
	}
	m.publish(ctx, events.InquiryResolved, inq, "")
	return inq, nil
}

// transition re-reads the inquiry once if it changed between read and write.
func (m *Manager) transition(ctx context.Context, id booking.InquiryID, to booking.Status, reason string) (*booking.Inquiry, error) {
	for attempt := 0; attempt < 2; attempt++ {
		inq, err := m.GetInquiry(ctx, id)
		if err != nil {
			return nil, err
		}
		if !booking.CanTransition(inq.Status, to) || to == booking.StatusScheduled {
			return nil, &booking.InvalidTransitionError{InquiryID: id, From: inq.Status, To: to}
		}

		from := inq.Status
		err = m.storeCall(ctx, "transition", func(ctx context.Context) error {
			return m.store.Transition(ctx, id, from, to, reason)
		})
		if errors.Is(err, booking.ErrStaleInquiry) {
			continue
		}
		if err != nil {
			return nil, err
		}

		inq.Status = to
		if reason != "" {
			inq.CancelReason = reason
		}
		inq.UpdatedAt = m.now().UTC()
		m.logger.Info("inquiry transitioned",
			zap.String("inquiry_id", string(id)),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
		return inq, nil
	}
	return nil, &booking.TransportError{Op: "transition", Err: booking.ErrStaleInquiry}
}

// =============================================================================
// INQUIRIES
// =============================================================================

// NewInquiry is a resident submission.
type NewInquiry struct {
	// ID is optional; a UUID is generated when empty.
	ID             booking.InquiryID
	Requester      booking.Resident
	Subject        string
	RequestedDates []booking.Date
	MaxToSchedule  int
}

func (m *Manager) CreateInquiry(ctx context.Context, in NewInquiry) (inq *booking.Inquiry, err error) {
	ctx, span := m.tracer.Start(ctx, "scheduler.CreateInquiry")
	defer func() { endSpan(span, err) }()

	if err := validateNewInquiry(m.Rules(), m.Today(), &in); err != nil {
		return nil, err
	}
	if in.ID == "" {
		in.ID = booking.InquiryID(uuid.NewString())
	}

	now := m.now().UTC()
	created := booking.Inquiry{
		ID:             in.ID,
		Requester:      in.Requester,
		Subject:        in.Subject,
		RequestedDates: in.RequestedDates,
		MaxToSchedule:  in.MaxToSchedule,
		Status:         booking.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.storeCall(ctx, "create inquiry", func(ctx context.Context) error {
		return m.store.CreateInquiry(ctx, created)
	}); err != nil {
		return nil, err
	}

	m.logger.Info("inquiry created",
		zap.String("inquiry_id", string(created.ID)),
		zap.String("requester", created.Requester.Username),
		zap.Int("requested_dates", len(created.RequestedDates)),
	)
	m.publish(ctx, events.InquiryCreated, &created, "")
	return &created, nil
}

func (m *Manager) GetInquiry(ctx context.Context, id booking.InquiryID) (*booking.Inquiry, error) {
	var inq *booking.Inquiry
	err := m.storeCall(ctx, "get inquiry", func(ctx context.Context) error {
		var err error
		inq, err = m.store.GetInquiry(ctx, id)
		return err
	})
	return inq, err
}

func (m *Manager) ListInquiries(ctx context.Context, filter booking.InquiryFilter) ([]booking.Inquiry, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, booking.NewValidationError("status", booking.CodeInvalidFormat, "unknown status %q", filter.Status)
	}
	var out []booking.Inquiry
	err := m.storeCall(ctx, "list inquiries", func(ctx context.Context) error {
		var err error
		out, err = m.store.ListInquiries(ctx, filter)
		return err
	})
	return out, err
}

// =============================================================================
// READ PATHS - No locks
// =============================================================================

func (m *Manager) ExistingRanges(ctx context.Context, date booking.Date, exclude booking.InquiryID) ([]booking.ExistingRange, error) {
	var out []booking.ExistingRange
	err := m.storeCall(ctx, "existing ranges", func(ctx context.Context) error {
		var err error
		out, err = m.store.ExistingRanges(ctx, date, exclude)
		return err
	})
	return out, err
}

// DayStatuses returns one status per date in [from, to].
func (m *Manager) DayStatuses(ctx context.Context, from, to booking.Date) (out []booking.DayStatus, err error) {
	ctx, span := m.tracer.Start(ctx, "scheduler.DayStatuses")
	defer func() { endSpan(span, err) }()

	if to.Before(from) {
		return nil, booking.NewValidationError("end", booking.CodeInvalidFormat, "end %s is before start %s", to, from)
	}
	window := booking.DateRange{From: from, To: to}
	if window.Len() > m.cfg.MaxRangeDays {
		return nil, booking.NewValidationError("end", booking.CodeRangeTooLarge,
			"window of %d days exceeds %d", window.Len(), m.cfg.MaxRangeDays)
	}

	var byDate booking.RangesByDate
	if err := m.storeCall(ctx, "ranges between", func(ctx context.Context) error {
		var err error
		byDate, err = m.store.RangesBetween(ctx, window)
		return err
	}); err != nil {
		return nil, err
	}
	return m.Rules().AggregateRange(window, byDate), nil
}

// DayPreview tiles date into blocks of granularity minutes and marks taken ones.
// A granularity of zero uses booking.DefaultGranularity.
func (m *Manager) DayPreview(ctx context.Context, date booking.Date, granularity int) ([]booking.PreviewBlock, error) {
	if granularity == 0 {
		granularity = booking.DefaultGranularity
	}
	if granularity < MinGranularity || granularity > MaxGranularity {
		return nil, booking.NewValidationError("granularity", booking.CodeInvalidGranularity,
			"must be between %d and %d minutes", MinGranularity, MaxGranularity)
	}
	existing, err := m.ExistingRanges(ctx, date, "")
	if err != nil {
		return nil, err
	}
	return m.Rules().Preview(date, granularity, existing), nil
}

// =============================================================================
// HOLIDAYS
// =============================================================================

// ErrNoHolidayStore is returned by holiday operations when none is configured.
var ErrNoHolidayStore = errors.New("holiday store not configured")

// LoadHolidays refreshes the rules from the holiday store.
func (m *Manager) LoadHolidays(ctx context.Context) error {
	if m.holidays == nil {
		return nil
	}
	var hs []booking.Holiday
	if err := m.storeCall(ctx, "list holidays", func(ctx context.Context) error {
		var err error
		hs, err = m.holidays.ListHolidays(ctx)
		return err
	}); err != nil {
		return err
	}

	m.mu.Lock()
	m.rules = booking.NewRules(booking.HolidaySet(hs))
	m.mu.Unlock()

	m.logger.Debug("holidays loaded", zap.Int("count", len(hs)))
	return nil
}

func (m *Manager) ListHolidays(ctx context.Context) ([]booking.Holiday, error) {
	if m.holidays == nil {
		return nil, ErrNoHolidayStore
	}
	var hs []booking.Holiday
	err := m.storeCall(ctx, "list holidays", func(ctx context.Context) error {
		var err error
		hs, err = m.holidays.ListHolidays(ctx)
		return err
	})
	return hs, err
}

// AddHoliday closes h.Date for new proposals. Existing slots on that date are
// left in place for staff to cancel.
func (m *Manager) AddHoliday(ctx context.Context, h booking.Holiday) (*booking.Holiday, error) {
	if m.holidays == nil {
		return nil, ErrNoHolidayStore
	}
	if h.Date.IsZero() {
		return nil, booking.NewValidationError("date", booking.CodeRequired, "date is required")
	}
	if h.Name == "" {
		return nil, booking.NewValidationError("name", booking.CodeRequired, "name is required")
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if err := m.storeCall(ctx, "save holiday", func(ctx context.Context) error {
		return m.holidays.SaveHoliday(ctx, h)
	}); err != nil {
		return nil, err
	}
	return &h, m.LoadHolidays(ctx)
}

func (m *Manager) RemoveHoliday(ctx context.Context, id string) error {
	if m.holidays == nil {
		return ErrNoHolidayStore
	}
	if err := m.storeCall(ctx, "delete holiday", func(ctx context.Context) error {
		return m.holidays.DeleteHoliday(ctx, id)
	}); err != nil {
		return err
	}
	return m.LoadHolidays(ctx)
}

// =============================================================================
// HELPERS
// =============================================================================

// storeCall runs fn with a per-attempt timeout, retrying once. Domain errors
// pass through untouched; anything else becomes a TransportError.
func (m *Manager) storeCall(ctx context.Context, op string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		actx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
		err = fn(actx)
		cancel()

		if err == nil || isDomainError(err) {
			return err
		}
		if ctx.Err() != nil {
			break
		}
		m.logger.Warn("store call failed",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	var te *booking.TransportError
	if errors.As(err, &te) {
		return err
	}
	return &booking.TransportError{Op: op, Err: err}
}

func isDomainError(err error) bool {
	return errors.Is(err, booking.ErrValidation) ||
		errors.Is(err, booking.ErrConflict) ||
		errors.Is(err, booking.ErrInvalidTransition) ||
		errors.Is(err, booking.ErrInquiryNotFound) ||
		errors.Is(err, booking.ErrDuplicateInquiry) ||
		errors.Is(err, booking.ErrStaleInquiry)
}

func (m *Manager) publish(ctx context.Context, t events.Type, inq *booking.Inquiry, reason string) {
	p := events.Payload{
		InquiryID: string(inq.ID),
		Requester: inq.Requester.Username,
		Status:    string(inq.Status),
		Reason:    reason,
	}
	for _, s := range inq.Slots {
		p.Slots = append(p.Slots, events.Slot{Date: s.Date.String(), Start: s.Start.String(), End: s.End.String()})
	}
	if err := m.publisher.Publish(ctx, events.New(t, m.now(), p)); err != nil {
		m.logger.Warn("event publish failed",
			zap.String("event_type", string(t)),
			zap.String("inquiry_id", string(inq.ID)),
			zap.Error(err),
		)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
