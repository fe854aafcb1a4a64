/*
Package postgres provides a PostgreSQL-backed implementation of the booking store.

PURPOSE:
  Implements booking.TxStore and booking.HolidayStore on pgx. Same schema as
  store/sqlite; the difference is concurrency. Several app instances can
  share one database, so WithDates claims each date with a transaction-scoped
  advisory lock instead of a process mutex.

DATE CLAIMS:
  WithDates takes pg_advisory_xact_lock(hashtext('date:YYYY-MM-DD')) for every
  date in ascending order, then runs fn on the same transaction. The locks are
  released by COMMIT or ROLLBACK; there is no unlock path to forget.

TIME VALUES:
  Dates are DATE columns, clock times are minutes after midnight (SMALLINT).

SEE ALSO:
  - store/sqlite/sqlite.go: single-writer variant
  - booking/store.go: interface definitions
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/barangay/appointments/booking"
)

// Store implements all storage interfaces using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for updated_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open connects, pings and migrates.
func Open(ctx context.Context, databaseURL string, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &Store{pool: pool, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS inquiries (
		id TEXT PRIMARY KEY,
		requester_username TEXT NOT NULL,
		requester_name TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		max_to_schedule SMALLINT NOT NULL DEFAULT 1
			CHECK (max_to_schedule BETWEEN 1 AND 3),
		status TEXT NOT NULL
			CHECK (status IN ('pending', 'scheduled', 'resolved', 'canceled')),
		cancel_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_inquiries_status_created
		ON inquiries(status, created_at DESC);

	CREATE TABLE IF NOT EXISTS inquiry_requested_dates (
		inquiry_id TEXT NOT NULL REFERENCES inquiries(id),
		date DATE NOT NULL,
		position SMALLINT NOT NULL,
		PRIMARY KEY (inquiry_id, date)
	);

	CREATE TABLE IF NOT EXISTS scheduled_slots (
		inquiry_id TEXT NOT NULL REFERENCES inquiries(id),
		date DATE NOT NULL,
		start_min SMALLINT NOT NULL,
		end_min SMALLINT NOT NULL,
		position SMALLINT NOT NULL,
		CHECK (start_min < end_min),
		PRIMARY KEY (inquiry_id, date, start_min)
	);

	CREATE INDEX IF NOT EXISTS idx_slots_date ON scheduled_slots(date, start_min);

	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		date DATE NOT NULL,
		name TEXT NOT NULL,
		recurring BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	`)
	return err
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// =============================================================================
// STORE INTERFACE IMPLEMENTATION
// =============================================================================

func (s *Store) CreateInquiry(ctx context.Context, inq booking.Inquiry) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return createInquiry(ctx, tx, inq)
	})
}

func (s *Store) GetInquiry(ctx context.Context, id booking.InquiryID) (*booking.Inquiry, error) {
	return getInquiry(ctx, s.pool, id)
}

func (s *Store) ListInquiries(ctx context.Context, filter booking.InquiryFilter) ([]booking.Inquiry, error) {
	return listInquiries(ctx, s.pool, filter)
}

func (s *Store) ExistingRanges(ctx context.Context, date booking.Date, exclude booking.InquiryID) ([]booking.ExistingRange, error) {
	return existingRanges(ctx, s.pool, date, exclude)
}

func (s *Store) RangesBetween(ctx context.Context, window booking.DateRange) (booking.RangesByDate, error) {
	return rangesBetween(ctx, s.pool, window)
}

func (s *Store) CommitSchedule(ctx context.Context, id booking.InquiryID, expected booking.Status, slots []booking.ScheduledSlot, maxToSchedule int) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return commitSchedule(ctx, tx, id, expected, slots, maxToSchedule, s.now())
	})
}

func (s *Store) Transition(ctx context.Context, id booking.InquiryID, from, to booking.Status, reason string) error {
	return transition(ctx, s.pool, id, from, to, reason, s.now())
}

// =============================================================================
// TRANSACTION SUPPORT
// =============================================================================

// WithDates runs fn in one transaction after claiming every date.
func (s *Store) WithDates(ctx context.Context, dates []booking.Date, fn func(booking.Store) error) error {
	keys := make([]string, 0, len(dates))
	seen := make(map[string]bool, len(dates))
	for _, d := range dates {
		k := "date:" + d.String()
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, k := range keys {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, k); err != nil {
				return fmt.Errorf("claim %s: %w", k, err)
			}
		}
		return fn(&txStore{q: tx, now: s.now})
	})
}

type txStore struct {
	q   querier
	now func() time.Time
}

func (ts *txStore) CreateInquiry(ctx context.Context, inq booking.Inquiry) error {
	return createInquiry(ctx, ts.q, inq)
}

func (ts *txStore) GetInquiry(ctx context.Context, id booking.InquiryID) (*booking.Inquiry, error) {
	return getInquiry(ctx, ts.q, id)
}

func (ts *txStore) ListInquiries(ctx context.Context, filter booking.InquiryFilter) ([]booking.Inquiry, error) {
	return listInquiries(ctx, ts.q, filter)
}

func (ts *txStore) ExistingRanges(ctx context.Context, date booking.Date, exclude booking.InquiryID) ([]booking.ExistingRange, error) {
	return existingRanges(ctx, ts.q, date, exclude)
}

func (ts *txStore) RangesBetween(ctx context.Context, window booking.DateRange) (booking.RangesByDate, error) {
	return rangesBetween(ctx, ts.q, window)
}

func (ts *txStore) CommitSchedule(ctx context.Context, id booking.InquiryID, expected booking.Status, slots []booking.ScheduledSlot, maxToSchedule int) error {
	return commitSchedule(ctx, ts.q, id, expected, slots, maxToSchedule, ts.now())
}

func (ts *txStore) Transition(ctx context.Context, id booking.InquiryID, from, to booking.Status, reason string) error {
	return transition(ctx, ts.q, id, from, to, reason, ts.now())
}

// =============================================================================
// QUERIES
// =============================================================================

const inquirySelect = `
	SELECT id, requester_username, requester_name, subject, max_to_schedule,
		status, cancel_reason, created_at, updated_at
	FROM inquiries`

func createInquiry(ctx context.Context, q querier, inq booking.Inquiry) error {
	_, err := q.Exec(ctx, `
		INSERT INTO inquiries (id, requester_username, requester_name, subject, max_to_schedule,
			status, cancel_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		string(inq.ID), inq.Requester.Username, inq.Requester.DisplayName, inq.Subject,
		inq.MaxToSchedule, string(inq.Status), inq.CancelReason, inq.CreatedAt, inq.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return booking.ErrDuplicateInquiry
	}
	if err != nil {
		return err
	}

	for i, d := range inq.RequestedDates {
		if _, err := q.Exec(ctx,
			`INSERT INTO inquiry_requested_dates (inquiry_id, date, position) VALUES ($1, $2, $3)`,
			string(inq.ID), d.Time(), i,
		); err != nil {
			return err
		}
	}
	return insertSlots(ctx, q, inq.ID, inq.Slots)
}

func getInquiry(ctx context.Context, q querier, id booking.InquiryID) (*booking.Inquiry, error) {
	inq, err := scanInquiry(q.QueryRow(ctx, inquirySelect+` WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, booking.ErrInquiryNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := loadChildren(ctx, q, &inq); err != nil {
		return nil, err
	}
	return &inq, nil
}

func listInquiries(ctx context.Context, q querier, filter booking.InquiryFilter) ([]booking.Inquiry, error) {
	query := inquirySelect + ` WHERE 1=1`
	var args []any
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if filter.Requester != "" {
		args = append(args, filter.Requester)
		query += fmt.Sprintf(` AND lower(requester_username) = lower($%d)`, len(args))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (booking.Inquiry, error) {
		return scanInquiry(row)
	})
	if err != nil {
		return nil, err
	}
	for i := range out {
		if err := loadChildren(ctx, q, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func existingRanges(ctx context.Context, q querier, date booking.Date, exclude booking.InquiryID) ([]booking.ExistingRange, error) {
	byDate, err := queryRanges(ctx, q, `s.date = $1 AND s.inquiry_id <> $2`, date.Time(), string(exclude))
	if err != nil {
		return nil, err
	}
	return byDate[date], nil
}

func rangesBetween(ctx context.Context, q querier, window booking.DateRange) (booking.RangesByDate, error) {
	return queryRanges(ctx, q, `s.date BETWEEN $1 AND $2`, window.From.Time(), window.To.Time())
}

func queryRanges(ctx context.Context, q querier, where string, args ...any) (booking.RangesByDate, error) {
	rows, err := q.Query(ctx, `
		SELECT s.date, s.start_min, s.end_min, i.id, i.requester_username, i.requester_name
		FROM scheduled_slots s
		JOIN inquiries i ON i.id = s.inquiry_id
		WHERE i.status IN ('scheduled', 'resolved') AND `+where+`
		ORDER BY s.date ASC, s.start_min ASC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := booking.RangesByDate{}
	for rows.Next() {
		var (
			day        time.Time
			start, end int16
			id         string
			r          booking.ExistingRange
		)
		if err := rows.Scan(&day, &start, &end, &id, &r.Resident.Username, &r.Resident.DisplayName); err != nil {
			return nil, err
		}
		d := booking.DateOf(day)
		r.Date, r.Start, r.End, r.InquiryID = d, booking.ClockTime(start), booking.ClockTime(end), booking.InquiryID(id)
		out[d] = append(out[d], r)
	}
	return out, rows.Err()
}

func commitSchedule(ctx context.Context, q querier, id booking.InquiryID, expected booking.Status, slots []booking.ScheduledSlot, maxToSchedule int, at time.Time) error {
	tag, err := q.Exec(ctx, `
		UPDATE inquiries
		SET status = 'scheduled', max_to_schedule = $1, updated_at = $4
		WHERE id = $2 AND status = $3
	`, maxToSchedule, string(id), string(expected), at.UTC())
	if err != nil {
		return err
	}
	if err := checkAffected(ctx, q, tag, id); err != nil {
		return err
	}
	if _, err := q.Exec(ctx, `DELETE FROM scheduled_slots WHERE inquiry_id = $1`, string(id)); err != nil {
		return err
	}
	return insertSlots(ctx, q, id, slots)
}

func transition(ctx context.Context, q querier, id booking.InquiryID, from, to booking.Status, reason string, at time.Time) error {
	tag, err := q.Exec(ctx, `
		UPDATE inquiries
		SET status = $1,
			cancel_reason = CASE WHEN $2 <> '' THEN $2 ELSE cancel_reason END,
			updated_at = $5
		WHERE id = $3 AND status = $4
	`, string(to), reason, string(id), string(from), at.UTC())
	if err != nil {
		return err
	}
	return checkAffected(ctx, q, tag, id)
}

func checkAffected(ctx context.Context, q querier, tag pgconn.CommandTag, id booking.InquiryID) error {
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM inquiries WHERE id = $1)`, string(id)).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return booking.ErrInquiryNotFound
	}
	return booking.ErrStaleInquiry
}

func insertSlots(ctx context.Context, q querier, id booking.InquiryID, slots []booking.ScheduledSlot) error {
	if len(slots) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, sl := range slots {
		batch.Queue(`
			INSERT INTO scheduled_slots (inquiry_id, date, start_min, end_min, position)
			VALUES ($1, $2, $3, $4, $5)
		`, string(id), sl.Date.Time(), int16(sl.Start), int16(sl.End), i)
	}
	return q.SendBatch(ctx, batch).Close()
}

func loadChildren(ctx context.Context, q querier, inq *booking.Inquiry) error {
	rows, err := q.Query(ctx,
		`SELECT date FROM inquiry_requested_dates WHERE inquiry_id = $1 ORDER BY position`, string(inq.ID))
	if err != nil {
		return err
	}
	days, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return err
	}
	for _, day := range days {
		inq.RequestedDates = append(inq.RequestedDates, booking.DateOf(day))
	}

	rows, err = q.Query(ctx,
		`SELECT date, start_min, end_min FROM scheduled_slots WHERE inquiry_id = $1 ORDER BY position`, string(inq.ID))
	if err != nil {
		return err
	}
	inq.Slots, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (booking.ScheduledSlot, error) {
		var (
			day        time.Time
			start, end int16
		)
		if err := row.Scan(&day, &start, &end); err != nil {
			return booking.ScheduledSlot{}, err
		}
		return booking.ScheduledSlot{Date: booking.DateOf(day), Start: booking.ClockTime(start), End: booking.ClockTime(end)}, nil
	})
	if len(inq.Slots) == 0 {
		inq.Slots = nil
	}
	return err
}

func scanInquiry(row pgx.Row) (booking.Inquiry, error) {
	var (
		inq        booking.Inquiry
		id, status string
		limit      int16
	)
	if err := row.Scan(&id, &inq.Requester.Username, &inq.Requester.DisplayName, &inq.Subject,
		&limit, &status, &inq.CancelReason, &inq.CreatedAt, &inq.UpdatedAt); err != nil {
		return booking.Inquiry{}, err
	}
	inq.ID = booking.InquiryID(id)
	inq.Status = booking.Status(status)
	inq.MaxToSchedule = int(limit)
	return inq, nil
}

// =============================================================================
// HOLIDAY CALENDAR IMPLEMENTATION
// =============================================================================

func (s *Store) SaveHoliday(ctx context.Context, h booking.Holiday) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO holidays (id, date, name, recurring)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			date = EXCLUDED.date,
			name = EXCLUDED.name,
			recurring = EXCLUDED.recurring
	`, h.ID, h.Date.Time(), h.Name, h.Recurring)
	return err
}

func (s *Store) DeleteHoliday(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM holidays WHERE id = $1`, id)
	return err
}

func (s *Store) ListHolidays(ctx context.Context) ([]booking.Holiday, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, date, name, recurring FROM holidays ORDER BY date ASC`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (booking.Holiday, error) {
		var (
			h   booking.Holiday
			day time.Time
		)
		if err := row.Scan(&h.ID, &day, &h.Name, &h.Recurring); err != nil {
			return booking.Holiday{}, err
		}
		h.Date = booking.DateOf(day)
		return h, nil
	})
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
