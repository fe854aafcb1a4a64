/*
Package sqlite provides a SQLite-backed implementation of the booking store.

PURPOSE:
  Implements booking.TxStore and booking.HolidayStore using SQLite. The
  Postgres store (store/postgres) follows the same schema with dialect
  differences and real per-date row locking.

INTERFACES IMPLEMENTED:
  booking.Store:        inquiries, requested dates, scheduled slots
  booking.TxStore:      WithDates preflight-then-write boundary
  booking.HolidayStore: office closures

NO DELETES:
  Inquiries are never deleted. Rescheduling replaces the inquiry's rows in
  scheduled_slots inside the same transaction as the status update;
  cancel only flips the status, so slot rows remain for history.

KEY TABLES:
  inquiries:               one row per resident inquiry
  inquiry_requested_dates: the resident's wish-list
  scheduled_slots:         staff-confirmed bookings (minutes after midnight)
  holidays:                office closures

INDEXES:
  - idx_slots_date: ExistingRanges / RangesBetween (hot path)
  - idx_inquiries_status_created: list views

CONCURRENCY:
  SQLite has a single writer. Writes, including every WithDates
  preflight-then-write, share one writer mutex and start with
  BEGIN IMMEDIATE, so proposals on disjoint dates still run one after
  another. Reads take no lock.

WAL MODE:
  Opened with WAL so readers never block on the writer. A ":memory:"
  database has a single connection, so there reads wait for the open
  transaction; use a file for anything but tests.

USAGE:
  store, err := sqlite.New("./data/appointments.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - booking/store.go: interface definitions
  - booking/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/barangay/appointments/booking"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	// writeMu serializes writers. Readers never take it.
	writeMu sync.Mutex
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for updated_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS inquiries (
		id TEXT PRIMARY KEY,
		requester_username TEXT NOT NULL,
		requester_name TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL DEFAULT '',
		max_to_schedule INTEGER NOT NULL DEFAULT 1
			CHECK (max_to_schedule BETWEEN 1 AND 3),
		status TEXT NOT NULL
			CHECK (status IN ('pending', 'scheduled', 'resolved', 'canceled')),
		cancel_reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_inquiries_status_created
		ON inquiries(status, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_inquiries_requester
		ON inquiries(requester_username);

	CREATE TABLE IF NOT EXISTS inquiry_requested_dates (
		inquiry_id TEXT NOT NULL REFERENCES inquiries(id),
		date TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (inquiry_id, date)
	);

	CREATE TABLE IF NOT EXISTS scheduled_slots (
		inquiry_id TEXT NOT NULL REFERENCES inquiries(id),
		date TEXT NOT NULL,
		start_min INTEGER NOT NULL,
		end_min INTEGER NOT NULL,
		position INTEGER NOT NULL,
		CHECK (start_min < end_min),
		PRIMARY KEY (inquiry_id, date, start_min)
	);

	-- Hot path: live ranges per date
	CREATE INDEX IF NOT EXISTS idx_slots_date
		ON scheduled_slots(date, start_min);

	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		name TEXT NOT NULL,
		recurring BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_holidays_date ON holidays(date);
	`
	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// STORE INTERFACE IMPLEMENTATION
// =============================================================================

func (s *Store) CreateInquiry(ctx context.Context, inq booking.Inquiry) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.inTx(ctx, func(q querier) error { return createInquiry(ctx, q, inq) })
}

func (s *Store) GetInquiry(ctx context.Context, id booking.InquiryID) (*booking.Inquiry, error) {
	return getInquiry(ctx, s.db, id)
}

func (s *Store) ListInquiries(ctx context.Context, filter booking.InquiryFilter) ([]booking.Inquiry, error) {
	return listInquiries(ctx, s.db, filter)
}

func (s *Store) ExistingRanges(ctx context.Context, date booking.Date, exclude booking.InquiryID) ([]booking.ExistingRange, error) {
	return existingRanges(ctx, s.db, date, exclude)
}

func (s *Store) RangesBetween(ctx context.Context, window booking.DateRange) (booking.RangesByDate, error) {
	return rangesBetween(ctx, s.db, window)
}

func (s *Store) CommitSchedule(ctx context.Context, id booking.InquiryID, expected booking.Status, slots []booking.ScheduledSlot, maxToSchedule int) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.inTx(ctx, func(q querier) error {
		return commitSchedule(ctx, q, id, expected, slots, maxToSchedule, s.now())
	})
}

func (s *Store) Transition(ctx context.Context, id booking.InquiryID, from, to booking.Status, reason string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.inTx(ctx, func(q querier) error {
		return transition(ctx, q, id, from, to, reason, s.now())
	})
}

// =============================================================================
// TRANSACTION SUPPORT
// =============================================================================

// WithDates executes fn within a write transaction. SQLite allows one
// writer, so dates only document intent here.
func (s *Store) WithDates(ctx context.Context, _ []booking.Date, fn func(booking.Store) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.inTx(ctx, func(q querier) error {
		return fn(&txStore{q: q, now: s.now})
	})
}

func (s *Store) inTx(ctx context.Context, fn func(querier) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
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

func createInquiry(ctx context.Context, q querier, inq booking.Inquiry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO inquiries (id, requester_username, requester_name, subject, max_to_schedule,
			status, cancel_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(inq.ID),
		inq.Requester.Username,
		inq.Requester.DisplayName,
		inq.Subject,
		inq.MaxToSchedule,
		string(inq.Status),
		inq.CancelReason,
		formatTime(inq.CreatedAt),
		formatTime(inq.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return booking.ErrDuplicateInquiry
	}
	if err != nil {
		return err
	}

	for i, d := range inq.RequestedDates {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO inquiry_requested_dates (inquiry_id, date, position) VALUES (?, ?, ?)`,
			string(inq.ID), d.String(), i,
		); err != nil {
			return err
		}
	}
	return insertSlots(ctx, q, inq.ID, inq.Slots)
}

func getInquiry(ctx context.Context, q querier, id booking.InquiryID) (*booking.Inquiry, error) {
	row := q.QueryRowContext(ctx, inquirySelect+` WHERE id = ?`, string(id))
	inq, err := scanInquiry(row)
	if errors.Is(err, sql.ErrNoRows) {
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
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Requester != "" {
		query += ` AND requester_username = ? COLLATE NOCASE`
		args = append(args, filter.Requester)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var out []booking.Inquiry
	for rows.Next() {
		inq, err := scanInquiry(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, inq)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Children are loaded after the cursor is closed so a single-connection
	// pool is not asked for a second connection.
	for i := range out {
		if err := loadChildren(ctx, q, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func existingRanges(ctx context.Context, q querier, date booking.Date, exclude booking.InquiryID) ([]booking.ExistingRange, error) {
	byDate, err := queryRanges(ctx, q, `s.date = ? AND s.inquiry_id <> ?`, date.String(), string(exclude))
	if err != nil {
		return nil, err
	}
	return byDate[date], nil
}

func rangesBetween(ctx context.Context, q querier, window booking.DateRange) (booking.RangesByDate, error) {
	return queryRanges(ctx, q, `s.date BETWEEN ? AND ?`, window.From.String(), window.To.String())
}

func queryRanges(ctx context.Context, q querier, where string, args ...any) (booking.RangesByDate, error) {
	rows, err := q.QueryContext(ctx, `
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
			dateStr    string
			start, end int
			r          booking.ExistingRange
			id         string
		)
		if err := rows.Scan(&dateStr, &start, &end, &id, &r.Resident.Username, &r.Resident.DisplayName); err != nil {
			return nil, err
		}
		d, err := booking.ParseDate(dateStr)
		if err != nil {
			return nil, err
		}
		r.Date, r.Start, r.End, r.InquiryID = d, booking.ClockTime(start), booking.ClockTime(end), booking.InquiryID(id)
		out[d] = append(out[d], r)
	}
	return out, rows.Err()
}

func commitSchedule(ctx context.Context, q querier, id booking.InquiryID, expected booking.Status, slots []booking.ScheduledSlot, maxToSchedule int, at time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE inquiries
		SET status = 'scheduled', max_to_schedule = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, maxToSchedule, formatTime(at), string(id), string(expected))
	if err != nil {
		return err
	}
	if err := checkAffected(ctx, q, res, id); err != nil {
		return err
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM scheduled_slots WHERE inquiry_id = ?`, string(id)); err != nil {
		return err
	}
	return insertSlots(ctx, q, id, slots)
}

func transition(ctx context.Context, q querier, id booking.InquiryID, from, to booking.Status, reason string, at time.Time) error {
	res, err := q.ExecContext(ctx, `
		UPDATE inquiries
		SET status = ?,
			cancel_reason = CASE WHEN ? <> '' THEN ? ELSE cancel_reason END,
			updated_at = ?
		WHERE id = ? AND status = ?
	`, string(to), reason, reason, formatTime(at), string(id), string(from))
	if err != nil {
		return err
	}
	return checkAffected(ctx, q, res, id)
}

// checkAffected distinguishes "no such inquiry" from "status moved on".
func checkAffected(ctx context.Context, q querier, res sql.Result, id booking.InquiryID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists int
	err = q.QueryRowContext(ctx, `SELECT COUNT(*) FROM inquiries WHERE id = ?`, string(id)).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return booking.ErrInquiryNotFound
	}
	return booking.ErrStaleInquiry
}

func insertSlots(ctx context.Context, q querier, id booking.InquiryID, slots []booking.ScheduledSlot) error {
	for i, sl := range slots {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO scheduled_slots (inquiry_id, date, start_min, end_min, position)
			VALUES (?, ?, ?, ?, ?)
		`, string(id), sl.Date.String(), int(sl.Start), int(sl.End), i); err != nil {
			return err
		}
	}
	return nil
}

func loadChildren(ctx context.Context, q querier, inq *booking.Inquiry) error {
	rows, err := q.QueryContext(ctx,
		`SELECT date FROM inquiry_requested_dates WHERE inquiry_id = ? ORDER BY position`, string(inq.ID))
	if err != nil {
		return err
	}
	for rows.Next() {
		var ds string
		if err := rows.Scan(&ds); err != nil {
			rows.Close()
			return err
		}
		d, err := booking.ParseDate(ds)
		if err != nil {
			rows.Close()
			return err
		}
		inq.RequestedDates = append(inq.RequestedDates, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.QueryContext(ctx,
		`SELECT date, start_min, end_min FROM scheduled_slots WHERE inquiry_id = ? ORDER BY position`, string(inq.ID))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ds         string
			start, end int
		)
		if err := rows.Scan(&ds, &start, &end); err != nil {
			return err
		}
		d, err := booking.ParseDate(ds)
		if err != nil {
			return err
		}
		inq.Slots = append(inq.Slots, booking.ScheduledSlot{Date: d, Start: booking.ClockTime(start), End: booking.ClockTime(end)})
	}
	return rows.Err()
}

const inquirySelect = `
	SELECT id, requester_username, requester_name, subject, max_to_schedule,
		status, cancel_reason, created_at, updated_at
	FROM inquiries`

type scanner interface {
	Scan(dest ...any) error
}

func scanInquiry(sc scanner) (booking.Inquiry, error) {
	var (
		inq                  booking.Inquiry
		id, status           string
		createdAt, updatedAt string
	)
	if err := sc.Scan(&id, &inq.Requester.Username, &inq.Requester.DisplayName, &inq.Subject,
		&inq.MaxToSchedule, &status, &inq.CancelReason, &createdAt, &updatedAt); err != nil {
		return booking.Inquiry{}, err
	}
	inq.ID = booking.InquiryID(id)
	inq.Status = booking.Status(status)

	var err error
	if inq.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return booking.Inquiry{}, fmt.Errorf("inquiry %s: created_at: %w", id, err)
	}
	if inq.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return booking.Inquiry{}, fmt.Errorf("inquiry %s: updated_at: %w", id, err)
	}
	return inq, nil
}

// =============================================================================
// HOLIDAY CALENDAR IMPLEMENTATION
// =============================================================================

// SaveHoliday inserts or replaces a holiday by id.
func (s *Store) SaveHoliday(ctx context.Context, h booking.Holiday) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO holidays (id, date, name, recurring, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			name = excluded.name,
			recurring = excluded.recurring
	`, h.ID, h.Date.String(), h.Name, h.Recurring, formatTime(s.now()))
	return err
}

// DeleteHoliday deletes a holiday by ID.
func (s *Store) DeleteHoliday(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM holidays WHERE id = ?", id)
	return err
}

// ListHolidays returns every holiday, earliest first.
func (s *Store) ListHolidays(ctx context.Context) ([]booking.Holiday, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, date, name, recurring FROM holidays ORDER BY date ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holidays []booking.Holiday
	for rows.Next() {
		var h booking.Holiday
		var dateStr string
		if err := rows.Scan(&h.ID, &dateStr, &h.Name, &h.Recurring); err != nil {
			return nil, err
		}
		if h.Date, err = booking.ParseDate(dateStr); err != nil {
			return nil, err
		}
		holidays = append(holidays, h)
	}
	return holidays, rows.Err()
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY"))
}
