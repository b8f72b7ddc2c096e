/*
store.go - Persistence interface for staff and vacation records

PURPOSE:
  Defines the interface between the reconciliation engine and the database.
  Different implementations use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  Store:   Row-level reads and writes over employees and bookings
  TxStore: Store plus WithTx, the transaction boundary of one use-case

TRANSACTION CONTRACT:
  Every write the engine performs happens inside WithTx. The Store passed
  to the callback is bound to that transaction:
  - If fn returns an error, everything is rolled back
  - If fn returns nil, everything is committed at once
  - LockEmployee serializes concurrent transactions touching the same
    employee, so read-check-write sequences (balance check, then insert)
    cannot interleave

LOOKUP CONVENTION:
  Single-row getters return (nil, nil) when the row does not exist.
  The engine turns that into ErrNotFound with context.

ERROR CLASSIFICATION:
  Implementations never return raw driver errors as the only signal:
  - unique tax id    -> ErrDuplicateCredential
  - unique full name -> ErrDuplicateName
  - lock timeout     -> ErrBusy
  - anything else    -> wrapped ErrStorage

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go:     Default, file or :memory:
  - store/postgres/postgres.go: Row locking with SELECT ... FOR UPDATE
  - generic/store/memory.go:    In-memory for tests

SEE ALSO:
  - timeoff/ledger.go: Engine using the Store
*/
package generic

import "context"

// =============================================================================
// STORE - Interface for staff and vacation persistence
// =============================================================================

type Store interface {
	// GetEmployee returns the employee or (nil, nil).
	GetEmployee(ctx context.Context, id EmployeeID) (*Employee, error)

	// GetEmployeeByTaxID returns the employee or (nil, nil).
	GetEmployeeByTaxID(ctx context.Context, taxID string) (*Employee, error)

	// GetEmployeeByName returns the employee or (nil, nil).
	GetEmployeeByName(ctx context.Context, fullName string) (*Employee, error)

	// LockEmployee is GetEmployee that also holds the row until the
	// surrounding transaction ends. Outside WithTx it behaves like GetEmployee.
	LockEmployee(ctx context.Context, id EmployeeID) (*Employee, error)

	// ListEmployees returns all employees ordered by full name.
	ListEmployees(ctx context.Context) ([]Employee, error)

	// ListByRole returns employees with the given role ordered by full name.
	ListByRole(ctx context.Context, role Role) ([]Employee, error)

	// ListDirectReports returns employees whose manager name equals managerName.
	ListDirectReports(ctx context.Context, managerName string) ([]Employee, error)

	InsertEmployee(ctx context.Context, e Employee) (EmployeeID, error)

	// UpdateEmployee writes every column of e except ID.
	UpdateEmployee(ctx context.Context, e Employee) error

	DeleteEmployee(ctx context.Context, id EmployeeID) error

	// ReplaceManagerName rewrites manager links equal to oldName.
	// A nil newName clears them. Returns the number of rows changed.
	ReplaceManagerName(ctx context.Context, oldName string, newName *string) (int64, error)

	// GetBooking returns the booking or (nil, nil).
	GetBooking(ctx context.Context, id BookingID) (*Booking, error)

	// ListBookings returns an employee's bookings, newest start first.
	ListBookings(ctx context.Context, employeeID EmployeeID) ([]Booking, error)

	// ListBookingsInPeriod returns bookings whose start or end falls inside p,
	// joined with the owner, newest start first.
	ListBookingsInPeriod(ctx context.Context, p Period) ([]BookingView, error)

	// SumBookedDays returns SUM(total_days) for the employee.
	SumBookedDays(ctx context.Context, employeeID EmployeeID) (int, error)

	InsertBooking(ctx context.Context, b Booking) (BookingID, error)
	UpdateBooking(ctx context.Context, b Booking) error

	// DeleteBookings removes every booking of the employee.
	DeleteBookings(ctx context.Context, employeeID EmployeeID) (int64, error)
}

// =============================================================================
// TRANSACTIONAL STORE - One transaction per use-case
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
