/*
Package sqlite provides a SQLite-backed implementation of generic.TxStore.

PURPOSE:
  Default persistence for the vacation ledger. Holds the staff register
  and the vacation bookings in two tables. The PostgreSQL store in
  store/postgres implements the same contract with row locks.

INTERFACES IMPLEMENTED:
  generic.Store:   Row reads and writes
  generic.TxStore: WithTx, one SQL transaction per engine use-case

KEY TABLES:
  staff:     One row per employee, remaining_days is denormalized
  vacations: One row per booking, FK to staff

INDEXES:
  - staff.tax_id UNIQUE:          Credentials are unique
  - staff.full_name UNIQUE:       Manager links are keyed by name
  - idx_staff_manager:            Direct report lookups
  - idx_vacations_employee_start: Per-employee history (hot path)
  - idx_vacations_dates:          Year listings

DATES:
  Stored as TEXT in YYYY-MM-DD, so lexical order is calendar order and
  BETWEEN works on the raw column.

CONCURRENCY:
  Uses sync.RWMutex for in-process thread-safety. Across processes the
  connection is opened with _txlock=immediate and a busy timeout, so the
  write lock is taken at BEGIN and a writer that cannot get it within the
  timeout fails with generic.ErrBusy instead of interleaving.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := timeoff.NewLedger(store)

MIGRATION:
  Schema is auto-migrated on New(). All statements are idempotent.

SEE ALSO:
  - generic/store.go: Interface definition
  - store/postgres/postgres.go: PostgreSQL implementation
  - generic/store/memory.go: In-memory implementation for testing
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

	"github.com/mattn/go-sqlite3"
	"github.com/warp/vacation-ledger/generic"
)

// DefaultBusyTimeout is how long a writer waits for the database lock.
const DefaultBusyTimeout = 5 * time.Second

// Store implements generic.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	return Open(dbPath, DefaultBusyTimeout)
}

// Open is New with an explicit busy timeout.
func Open(dbPath string, busyTimeout time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath, busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if isMemory(dbPath) {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
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

func dsn(dbPath string, busyTimeout time.Duration) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_foreign_keys=on&_journal_mode=WAL&_txlock=immediate&_busy_timeout=%d",
		dbPath, sep, busyTimeout.Milliseconds())
}

func isMemory(dbPath string) bool {
	return dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory")
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Staff register
	CREATE TABLE IF NOT EXISTS staff (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		full_name TEXT NOT NULL UNIQUE,
		tax_id TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL,
		manager_name TEXT,
		annual_days INTEGER NOT NULL DEFAULT 0,
		remaining_days INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_staff_manager
		ON staff(manager_name) WHERE manager_name IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_staff_role
		ON staff(role);

	-- Vacation bookings
	CREATE TABLE IF NOT EXISTS vacations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		employee_id INTEGER NOT NULL REFERENCES staff(id),
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		total_days INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_vacations_employee_start
		ON vacations(employee_id, start_date DESC);
	CREATE INDEX IF NOT EXISTS idx_vacations_dates
		ON vacations(start_date, end_date);
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
// STORE (generic.Store interface)
// =============================================================================

func (s *Store) GetEmployee(ctx context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEmployee(ctx, s.db, "id = ?", int64(id))
}

func (s *Store) GetEmployeeByTaxID(ctx context.Context, taxID string) (*generic.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEmployee(ctx, s.db, "tax_id = ?", taxID)
}

func (s *Store) GetEmployeeByName(ctx context.Context, fullName string) (*generic.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEmployee(ctx, s.db, "full_name = ?", fullName)
}

// LockEmployee is GetEmployee outside a transaction.
func (s *Store) LockEmployee(ctx context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	return s.GetEmployee(ctx, id)
}

func (s *Store) ListEmployees(ctx context.Context) ([]generic.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listEmployees(ctx, s.db, "1 = 1")
}

func (s *Store) ListByRole(ctx context.Context, role generic.Role) ([]generic.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listEmployees(ctx, s.db, "role = ?", string(role))
}

func (s *Store) ListDirectReports(ctx context.Context, managerName string) ([]generic.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listEmployees(ctx, s.db, "manager_name = ?", managerName)
}

func (s *Store) InsertEmployee(ctx context.Context, e generic.Employee) (generic.EmployeeID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertEmployee(ctx, s.db, e)
}

func (s *Store) UpdateEmployee(ctx context.Context, e generic.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateEmployee(ctx, s.db, e)
}

func (s *Store) DeleteEmployee(ctx context.Context, id generic.EmployeeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteEmployee(ctx, s.db, id)
}

func (s *Store) ReplaceManagerName(ctx context.Context, oldName string, newName *string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return replaceManagerName(ctx, s.db, oldName, newName)
}

func (s *Store) GetBooking(ctx context.Context, id generic.BookingID) (*generic.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBooking(ctx, s.db, id)
}

func (s *Store) ListBookings(ctx context.Context, employeeID generic.EmployeeID) ([]generic.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listBookings(ctx, s.db, employeeID)
}

func (s *Store) ListBookingsInPeriod(ctx context.Context, p generic.Period) ([]generic.BookingView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listBookingsInPeriod(ctx, s.db, p)
}

func (s *Store) SumBookedDays(ctx context.Context, employeeID generic.EmployeeID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sumBookedDays(ctx, s.db, employeeID)
}

func (s *Store) InsertBooking(ctx context.Context, b generic.Booking) (generic.BookingID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertBooking(ctx, s.db, b)
}

func (s *Store) UpdateBooking(ctx context.Context, b generic.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateBooking(ctx, s.db, b)
}

func (s *Store) DeleteBookings(ctx context.Context, employeeID generic.EmployeeID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteBookings(ctx, s.db, employeeID)
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return classify("commit", err)
	}
	return nil
}

// txStore runs every statement on one *sql.Tx. The BEGIN IMMEDIATE
// already holds the database write lock, so LockEmployee is a plain read.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetEmployee(ctx context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	return getEmployee(ctx, ts.tx, "id = ?", int64(id))
}

func (ts *txStore) GetEmployeeByTaxID(ctx context.Context, taxID string) (*generic.Employee, error) {
	return getEmployee(ctx, ts.tx, "tax_id = ?", taxID)
}

func (ts *txStore) GetEmployeeByName(ctx context.Context, fullName string) (*generic.Employee, error) {
	return getEmployee(ctx, ts.tx, "full_name = ?", fullName)
}

func (ts *txStore) LockEmployee(ctx context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	return ts.GetEmployee(ctx, id)
}

func (ts *txStore) ListEmployees(ctx context.Context) ([]generic.Employee, error) {
	return listEmployees(ctx, ts.tx, "1 = 1")
}

func (ts *txStore) ListByRole(ctx context.Context, role generic.Role) ([]generic.Employee, error) {
	return listEmployees(ctx, ts.tx, "role = ?", string(role))
}

func (ts *txStore) ListDirectReports(ctx context.Context, managerName string) ([]generic.Employee, error) {
	return listEmployees(ctx, ts.tx, "manager_name = ?", managerName)
}

func (ts *txStore) InsertEmployee(ctx context.Context, e generic.Employee) (generic.EmployeeID, error) {
	return insertEmployee(ctx, ts.tx, e)
}

func (ts *txStore) UpdateEmployee(ctx context.Context, e generic.Employee) error {
	return updateEmployee(ctx, ts.tx, e)
}

func (ts *txStore) DeleteEmployee(ctx context.Context, id generic.EmployeeID) error {
	return deleteEmployee(ctx, ts.tx, id)
}

func (ts *txStore) ReplaceManagerName(ctx context.Context, oldName string, newName *string) (int64, error) {
	return replaceManagerName(ctx, ts.tx, oldName, newName)
}

func (ts *txStore) GetBooking(ctx context.Context, id generic.BookingID) (*generic.Booking, error) {
	return getBooking(ctx, ts.tx, id)
}

func (ts *txStore) ListBookings(ctx context.Context, employeeID generic.EmployeeID) ([]generic.Booking, error) {
	return listBookings(ctx, ts.tx, employeeID)
}

func (ts *txStore) ListBookingsInPeriod(ctx context.Context, p generic.Period) ([]generic.BookingView, error) {
	return listBookingsInPeriod(ctx, ts.tx, p)
}

func (ts *txStore) SumBookedDays(ctx context.Context, employeeID generic.EmployeeID) (int, error) {
	return sumBookedDays(ctx, ts.tx, employeeID)
}

func (ts *txStore) InsertBooking(ctx context.Context, b generic.Booking) (generic.BookingID, error) {
	return insertBooking(ctx, ts.tx, b)
}

func (ts *txStore) UpdateBooking(ctx context.Context, b generic.Booking) error {
	return updateBooking(ctx, ts.tx, b)
}

func (ts *txStore) DeleteBookings(ctx context.Context, employeeID generic.EmployeeID) (int64, error) {
	return deleteBookings(ctx, ts.tx, employeeID)
}

// =============================================================================
// STAFF QUERIES
// =============================================================================

const staffColumns = `id, full_name, tax_id, role, manager_name, annual_days, remaining_days`

func getEmployee(ctx context.Context, q querier, where string, args ...any) (*generic.Employee, error) {
	row := q.QueryRowContext(ctx, "SELECT "+staffColumns+" FROM staff WHERE "+where, args...)
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get employee", err)
	}
	return &e, nil
}

func listEmployees(ctx context.Context, q querier, where string, args ...any) ([]generic.Employee, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+staffColumns+" FROM staff WHERE "+where+" ORDER BY full_name", args...)
	if err != nil {
		return nil, classify("list employees", err)
	}
	defer rows.Close()

	var result []generic.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, classify("scan employee", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list employees", err)
	}
	return result, nil
}

func insertEmployee(ctx context.Context, q querier, e generic.Employee) (generic.EmployeeID, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO staff (full_name, tax_id, role, manager_name, annual_days, remaining_days)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.FullName, e.TaxID, string(e.Role), nullString(e.ManagerName), e.AnnualDays, e.RemainingDays)
	if err != nil {
		return 0, classify("insert employee", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, classify("insert employee", err)
	}
	return generic.EmployeeID(id), nil
}

func updateEmployee(ctx context.Context, q querier, e generic.Employee) error {
	_, err := q.ExecContext(ctx, `
		UPDATE staff
		SET full_name = ?, tax_id = ?, role = ?, manager_name = ?, annual_days = ?, remaining_days = ?
		WHERE id = ?
	`, e.FullName, e.TaxID, string(e.Role), nullString(e.ManagerName), e.AnnualDays, e.RemainingDays, int64(e.ID))
	if err != nil {
		return classify("update employee", err)
	}
	return nil
}

func deleteEmployee(ctx context.Context, q querier, id generic.EmployeeID) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM staff WHERE id = ?", int64(id)); err != nil {
		return classify("delete employee", err)
	}
	return nil
}

func replaceManagerName(ctx context.Context, q querier, oldName string, newName *string) (int64, error) {
	res, err := q.ExecContext(ctx,
		"UPDATE staff SET manager_name = ? WHERE manager_name = ?", nullString(newName), oldName)
	if err != nil {
		return 0, classify("replace manager name", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// =============================================================================
// VACATION QUERIES
// =============================================================================

const vacationColumns = `v.id, v.employee_id, v.start_date, v.end_date, v.total_days`

func getBooking(ctx context.Context, q querier, id generic.BookingID) (*generic.Booking, error) {
	row := q.QueryRowContext(ctx, "SELECT "+vacationColumns+" FROM vacations v WHERE v.id = ?", int64(id))
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get booking", err)
	}
	return &b, nil
}

func listBookings(ctx context.Context, q querier, employeeID generic.EmployeeID) ([]generic.Booking, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+vacationColumns+`
		FROM vacations v
		WHERE v.employee_id = ?
		ORDER BY v.start_date DESC, v.id DESC
	`, int64(employeeID))
	if err != nil {
		return nil, classify("list bookings", err)
	}
	defer rows.Close()

	var result []generic.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, classify("scan booking", err)
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list bookings", err)
	}
	return result, nil
}

func listBookingsInPeriod(ctx context.Context, q querier, p generic.Period) ([]generic.BookingView, error) {
	from, to := p.Start.String(), p.End.String()
	rows, err := q.QueryContext(ctx, `
		SELECT `+vacationColumns+`, s.full_name, s.manager_name
		FROM vacations v
		JOIN staff s ON s.id = v.employee_id
		WHERE v.start_date BETWEEN ? AND ? OR v.end_date BETWEEN ? AND ?
		ORDER BY v.start_date DESC, v.id DESC
	`, from, to, from, to)
	if err != nil {
		return nil, classify("list bookings in period", err)
	}
	defer rows.Close()

	var result []generic.BookingView
	for rows.Next() {
		var (
			v       generic.BookingView
			start   string
			end     string
			manager sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.EmployeeID, &start, &end, &v.TotalDays, &v.FullName, &manager); err != nil {
			return nil, classify("scan booking", err)
		}
		if v.StartDate, err = generic.ParseDate(start); err != nil {
			return nil, classify("scan booking", err)
		}
		if v.EndDate, err = generic.ParseDate(end); err != nil {
			return nil, classify("scan booking", err)
		}
		v.ManagerName = fromNullString(manager)
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list bookings in period", err)
	}
	return result, nil
}

func sumBookedDays(ctx context.Context, q querier, employeeID generic.EmployeeID) (int, error) {
	var total int
	err := q.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(total_days), 0) FROM vacations WHERE employee_id = ?", int64(employeeID),
	).Scan(&total)
	if err != nil {
		return 0, classify("sum booked days", err)
	}
	return total, nil
}

func insertBooking(ctx context.Context, q querier, b generic.Booking) (generic.BookingID, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO vacations (employee_id, start_date, end_date, total_days)
		VALUES (?, ?, ?, ?)
	`, int64(b.EmployeeID), b.StartDate.String(), b.EndDate.String(), b.TotalDays)
	if err != nil {
		return 0, classify("insert booking", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, classify("insert booking", err)
	}
	return generic.BookingID(id), nil
}

func updateBooking(ctx context.Context, q querier, b generic.Booking) error {
	_, err := q.ExecContext(ctx, `
		UPDATE vacations SET start_date = ?, end_date = ?, total_days = ? WHERE id = ?
	`, b.StartDate.String(), b.EndDate.String(), b.TotalDays, int64(b.ID))
	if err != nil {
		return classify("update booking", err)
	}
	return nil
}

func deleteBookings(ctx context.Context, q querier, employeeID generic.EmployeeID) (int64, error) {
	res, err := q.ExecContext(ctx, "DELETE FROM vacations WHERE employee_id = ?", int64(employeeID))
	if err != nil {
		return 0, classify("delete bookings", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanEmployee(row scanner) (generic.Employee, error) {
	var (
		e       generic.Employee
		role    string
		manager sql.NullString
	)
	if err := row.Scan(&e.ID, &e.FullName, &e.TaxID, &role, &manager, &e.AnnualDays, &e.RemainingDays); err != nil {
		return generic.Employee{}, err
	}
	e.Role = generic.Role(role)
	e.ManagerName = fromNullString(manager)
	return e, nil
}

func scanBooking(row scanner) (generic.Booking, error) {
	var (
		b          generic.Booking
		start, end string
		err        error
	)
	if err = row.Scan(&b.ID, &b.EmployeeID, &start, &end, &b.TotalDays); err != nil {
		return generic.Booking{}, err
	}
	if b.StartDate, err = generic.ParseDate(start); err != nil {
		return generic.Booking{}, err
	}
	if b.EndDate, err = generic.ParseDate(end); err != nil {
		return generic.Booking{}, err
	}
	return b, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"vacations", "staff"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return classify("reset", err)
		}
	}
	return nil
}

// Helper functions

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// classify maps driver errors onto the generic error taxonomy.
func classify(op string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch {
		case sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%s: %w", op, generic.ErrBusy)
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique:
			if strings.Contains(sqliteErr.Error(), "staff.full_name") {
				return fmt.Errorf("%s: %w", op, generic.ErrDuplicateName)
			}
			return fmt.Errorf("%s: %w", op, generic.ErrDuplicateCredential)
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%s: %w", op, generic.ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w: %v", op, generic.ErrStorage, err)
}

var _ generic.TxStore = (*Store)(nil)
