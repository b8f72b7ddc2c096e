/*
Package postgres provides a PostgreSQL-backed implementation of generic.TxStore.

PURPOSE:
  Same contract as store/sqlite, for deployments where several server
  processes share one database. Serialization is per employee row instead
  of per database file.

CONCURRENCY:
  - LockEmployee inside WithTx is SELECT ... FOR UPDATE
  - Every transaction sets a local lock_timeout
  - Lock timeouts, serialization failures and deadlocks surface as
    generic.ErrBusy

MIGRATIONS:
  SQL files under migrations/ are embedded and applied in filename order.
  Applied files are tracked in schema_migrations.

SEE ALSO:
  - generic/store.go: Interface definition
  - store/sqlite/sqlite.go: Default store
*/
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/warp/vacation-ledger/generic"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultLockTimeout bounds how long a transaction waits for a row lock.
const DefaultLockTimeout = 5 * time.Second

// Store implements generic.TxStore using a pgx connection pool.
type Store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// New connects, pings and migrates.
func New(ctx context.Context, connString string, lockTimeout time.Duration) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	s := &Store{pool: pool, lockTimeout: lockTimeout}
	if err := s.RunMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Reset truncates both tables and restarts the id sequences.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "TRUNCATE vacations, staff RESTART IDENTITY"); err != nil {
		return classify("reset", err)
	}
	return nil
}

// RunMigrations executes all pending SQL migration files in order.
func (s *Store) RunMigrations(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("failed to query applied migrations: %w", err)
	}
	applied := make(map[string]bool)
	for rows.Next() {
		var filename string
		if err := rows.Scan(&filename); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration filename: %w", err)
		}
		applied[filename] = true
	}
	rows.Close()

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			sqlFiles = append(sqlFiles, entry.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		if applied[filename] {
			continue
		}

		content, err := fs.ReadFile(migrationsFS, "migrations/"+filename)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for %s: %w", filename, err)
		}
		if _, err := tx.Exec(ctx, string(content)); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, filename); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("failed to record migration %s: %w", filename, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", filename, err)
		}
	}

	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// conn implements generic.Store over any querier. forUpdate is set
// only for transaction-bound stores.
type conn struct {
	q         querier
	forUpdate bool
}

func (s *Store) direct() *conn { return &conn{q: s.pool} }

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classify("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return classify("set lock timeout", err)
	}

	if err := fn(&conn{q: tx, forUpdate: true}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return classify("commit", err)
	}
	return nil
}

func (s *Store) GetEmployee(ctx context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	return s.direct().GetEmployee(ctx, id)
}

func (s *Store) GetEmployeeByTaxID(ctx context.Context, taxID string) (*generic.Employee, error) {
	return s.direct().GetEmployeeByTaxID(ctx, taxID)
}

func (s *Store) GetEmployeeByName(ctx context.Context, fullName string) (*generic.Employee, error) {
	return s.direct().GetEmployeeByName(ctx, fullName)
}

func (s *Store) LockEmployee(ctx context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	return s.direct().LockEmployee(ctx, id)
}

func (s *Store) ListEmployees(ctx context.Context) ([]generic.Employee, error) {
	return s.direct().ListEmployees(ctx)
}

func (s *Store) ListByRole(ctx context.Context, role generic.Role) ([]generic.Employee, error) {
	return s.direct().ListByRole(ctx, role)
}

func (s *Store) ListDirectReports(ctx context.Context, managerName string) ([]generic.Employee, error) {
	return s.direct().ListDirectReports(ctx, managerName)
}

func (s *Store) InsertEmployee(ctx context.Context, e generic.Employee) (generic.EmployeeID, error) {
	return s.direct().InsertEmployee(ctx, e)
}

func (s *Store) UpdateEmployee(ctx context.Context, e generic.Employee) error {
	return s.direct().UpdateEmployee(ctx, e)
}

func (s *Store) DeleteEmployee(ctx context.Context, id generic.EmployeeID) error {
	return s.direct().DeleteEmployee(ctx, id)
}

func (s *Store) ReplaceManagerName(ctx context.Context, oldName string, newName *string) (int64, error) {
	return s.direct().ReplaceManagerName(ctx, oldName, newName)
}

func (s *Store) GetBooking(ctx context.Context, id generic.BookingID) (*generic.Booking, error) {
	return s.direct().GetBooking(ctx, id)
}

func (s *Store) ListBookings(ctx context.Context, employeeID generic.EmployeeID) ([]generic.Booking, error) {
	return s.direct().ListBookings(ctx, employeeID)
}

func (s *Store) ListBookingsInPeriod(ctx context.Context, p generic.Period) ([]generic.BookingView, error) {
	return s.direct().ListBookingsInPeriod(ctx, p)
}

func (s *Store) SumBookedDays(ctx context.Context, employeeID generic.EmployeeID) (int, error) {
	return s.direct().SumBookedDays(ctx, employeeID)
}

func (s *Store) InsertBooking(ctx context.Context, b generic.Booking) (generic.BookingID, error) {
	return s.direct().InsertBooking(ctx, b)
}

func (s *Store) UpdateBooking(ctx context.Context, b generic.Booking) error {
	return s.direct().UpdateBooking(ctx, b)
}

func (s *Store) DeleteBookings(ctx context.Context, employeeID generic.EmployeeID) (int64, error) {
	return s.direct().DeleteBookings(ctx, employeeID)
}

// =============================================================================
// STAFF
// =============================================================================

const staffColumns = `id, full_name, tax_id, role, manager_name, annual_days, remaining_days`

func (c *conn) GetEmployee(ctx context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	return c.getEmployee(ctx, "id = $1", "", int64(id))
}

func (c *conn) GetEmployeeByTaxID(ctx context.Context, taxID string) (*generic.Employee, error) {
	return c.getEmployee(ctx, "tax_id = $1", "", taxID)
}

func (c *conn) GetEmployeeByName(ctx context.Context, fullName string) (*generic.Employee, error) {
	return c.getEmployee(ctx, "full_name = $1", "", fullName)
}

// LockEmployee holds the row lock until the transaction ends.
func (c *conn) LockEmployee(ctx context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	suffix := ""
	if c.forUpdate {
		suffix = " FOR UPDATE"
	}
	return c.getEmployee(ctx, "id = $1", suffix, int64(id))
}

func (c *conn) getEmployee(ctx context.Context, where, suffix string, args ...any) (*generic.Employee, error) {
	row := c.q.QueryRow(ctx, "SELECT "+staffColumns+" FROM staff WHERE "+where+suffix, args...)
	e, err := scanEmployee(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get employee", err)
	}
	return &e, nil
}

func (c *conn) ListEmployees(ctx context.Context) ([]generic.Employee, error) {
	return c.listEmployees(ctx, "TRUE")
}

func (c *conn) ListByRole(ctx context.Context, role generic.Role) ([]generic.Employee, error) {
	return c.listEmployees(ctx, "role = $1", string(role))
}

func (c *conn) ListDirectReports(ctx context.Context, managerName string) ([]generic.Employee, error) {
	return c.listEmployees(ctx, "manager_name = $1", managerName)
}

func (c *conn) listEmployees(ctx context.Context, where string, args ...any) ([]generic.Employee, error) {
	rows, err := c.q.Query(ctx, "SELECT "+staffColumns+" FROM staff WHERE "+where+" ORDER BY full_name", args...)
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

func (c *conn) InsertEmployee(ctx context.Context, e generic.Employee) (generic.EmployeeID, error) {
	var id int64
	err := c.q.QueryRow(ctx, `
		INSERT INTO staff (full_name, tax_id, role, manager_name, annual_days, remaining_days)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, e.FullName, e.TaxID, string(e.Role), e.ManagerName, e.AnnualDays, e.RemainingDays).Scan(&id)
	if err != nil {
		return 0, classify("insert employee", err)
	}
	return generic.EmployeeID(id), nil
}

func (c *conn) UpdateEmployee(ctx context.Context, e generic.Employee) error {
	_, err := c.q.Exec(ctx, `
		UPDATE staff
		SET full_name = $1, tax_id = $2, role = $3, manager_name = $4, annual_days = $5, remaining_days = $6
		WHERE id = $7
	`, e.FullName, e.TaxID, string(e.Role), e.ManagerName, e.AnnualDays, e.RemainingDays, int64(e.ID))
	if err != nil {
		return classify("update employee", err)
	}
	return nil
}

func (c *conn) DeleteEmployee(ctx context.Context, id generic.EmployeeID) error {
	if _, err := c.q.Exec(ctx, "DELETE FROM staff WHERE id = $1", int64(id)); err != nil {
		return classify("delete employee", err)
	}
	return nil
}

func (c *conn) ReplaceManagerName(ctx context.Context, oldName string, newName *string) (int64, error) {
	tag, err := c.q.Exec(ctx, "UPDATE staff SET manager_name = $1 WHERE manager_name = $2", newName, oldName)
	if err != nil {
		return 0, classify("replace manager name", err)
	}
	return tag.RowsAffected(), nil
}

// =============================================================================
// VACATIONS
// =============================================================================

const vacationColumns = `v.id, v.employee_id, v.start_date, v.end_date, v.total_days`

func (c *conn) GetBooking(ctx context.Context, id generic.BookingID) (*generic.Booking, error) {
	row := c.q.QueryRow(ctx, "SELECT "+vacationColumns+" FROM vacations v WHERE v.id = $1", int64(id))
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get booking", err)
	}
	return &b, nil
}

func (c *conn) ListBookings(ctx context.Context, employeeID generic.EmployeeID) ([]generic.Booking, error) {
	rows, err := c.q.Query(ctx, `
		SELECT `+vacationColumns+`
		FROM vacations v
		WHERE v.employee_id = $1
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

func (c *conn) ListBookingsInPeriod(ctx context.Context, p generic.Period) ([]generic.BookingView, error) {
	rows, err := c.q.Query(ctx, `
		SELECT `+vacationColumns+`, s.full_name, s.manager_name
		FROM vacations v
		JOIN staff s ON s.id = v.employee_id
		WHERE v.start_date BETWEEN $1 AND $2 OR v.end_date BETWEEN $1 AND $2
		ORDER BY v.start_date DESC, v.id DESC
	`, p.Start.Time, p.End.Time)
	if err != nil {
		return nil, classify("list bookings in period", err)
	}
	defer rows.Close()

	var result []generic.BookingView
	for rows.Next() {
		var (
			v          generic.BookingView
			id, empID  int64
			start, end time.Time
		)
		if err := rows.Scan(&id, &empID, &start, &end, &v.TotalDays, &v.FullName, &v.ManagerName); err != nil {
			return nil, classify("scan booking", err)
		}
		v.ID = generic.BookingID(id)
		v.EmployeeID = generic.EmployeeID(empID)
		v.StartDate = generic.DateOf(start)
		v.EndDate = generic.DateOf(end)
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list bookings in period", err)
	}
	return result, nil
}

func (c *conn) SumBookedDays(ctx context.Context, employeeID generic.EmployeeID) (int, error) {
	var total int
	err := c.q.QueryRow(ctx,
		"SELECT COALESCE(SUM(total_days), 0) FROM vacations WHERE employee_id = $1", int64(employeeID),
	).Scan(&total)
	if err != nil {
		return 0, classify("sum booked days", err)
	}
	return total, nil
}

func (c *conn) InsertBooking(ctx context.Context, b generic.Booking) (generic.BookingID, error) {
	var id int64
	err := c.q.QueryRow(ctx, `
		INSERT INTO vacations (employee_id, start_date, end_date, total_days)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, int64(b.EmployeeID), b.StartDate.Time, b.EndDate.Time, b.TotalDays).Scan(&id)
	if err != nil {
		return 0, classify("insert booking", err)
	}
	return generic.BookingID(id), nil
}

func (c *conn) UpdateBooking(ctx context.Context, b generic.Booking) error {
	_, err := c.q.Exec(ctx,
		"UPDATE vacations SET start_date = $1, end_date = $2, total_days = $3 WHERE id = $4",
		b.StartDate.Time, b.EndDate.Time, b.TotalDays, int64(b.ID))
	if err != nil {
		return classify("update booking", err)
	}
	return nil
}

func (c *conn) DeleteBookings(ctx context.Context, employeeID generic.EmployeeID) (int64, error) {
	tag, err := c.q.Exec(ctx, "DELETE FROM vacations WHERE employee_id = $1", int64(employeeID))
	if err != nil {
		return 0, classify("delete bookings", err)
	}
	return tag.RowsAffected(), nil
}

// =============================================================================
// SCANNING
// =============================================================================

func scanEmployee(row pgx.Row) (generic.Employee, error) {
	var (
		e    generic.Employee
		id   int64
		role string
	)
	if err := row.Scan(&id, &e.FullName, &e.TaxID, &role, &e.ManagerName, &e.AnnualDays, &e.RemainingDays); err != nil {
		return generic.Employee{}, err
	}
	e.ID = generic.EmployeeID(id)
	e.Role = generic.Role(role)
	return e, nil
}

func scanBooking(row pgx.Row) (generic.Booking, error) {
	var (
		b          generic.Booking
		id, empID  int64
		start, end time.Time
	)
	if err := row.Scan(&id, &empID, &start, &end, &b.TotalDays); err != nil {
		return generic.Booking{}, err
	}
	b.ID = generic.BookingID(id)
	b.EmployeeID = generic.EmployeeID(empID)
	b.StartDate = generic.DateOf(start)
	b.EndDate = generic.DateOf(end)
	return b, nil
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

// classify maps PostgreSQL SQLSTATEs onto the generic error taxonomy.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40001", "40P01": // lock_not_available, serialization_failure, deadlock_detected
			return fmt.Errorf("%s: %w", op, generic.ErrBusy)
		case "23505":
			if pgErr.ConstraintName == "staff_full_name_key" {
				return fmt.Errorf("%s: %w", op, generic.ErrDuplicateName)
			}
			return fmt.Errorf("%s: %w", op, generic.ErrDuplicateCredential)
		case "23503":
			return fmt.Errorf("%s: %w", op, generic.ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w: %v", op, generic.ErrStorage, err)
}

var (
	_ generic.TxStore = (*Store)(nil)
	_ generic.Store   = (*conn)(nil)
)
