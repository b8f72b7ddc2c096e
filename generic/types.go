/*
Package generic provides the core types of the vacation ledger.

PURPOSE:
  This package contains the storage-agnostic vocabulary shared by the
  engine, the stores and the transports: employees, bookings, roles,
  calendar dates, the error taxonomy and the Store contract.

KEY CONCEPTS IN THIS FILE (types.go):
  - Employee: Staff record with a denormalized remaining balance
  - Booking: One vacation date range consuming entitlement days
  - Role: Employee, Manager or HR Manager
  - IDs: Type-safe surrogate identifiers

BALANCE INVARIANT:
  For every employee, after every successful operation:

    RemainingDays == AnnualDays - SUM(TotalDays of the employee's bookings)

  RemainingDays is stored, not computed on read. The engine in package
  timeoff is the only writer allowed to change it.

SEE ALSO:
  - time.go: Date type and the inclusive day count
  - store.go: Persistence contract
  - errors.go: Error taxonomy
*/
package generic

import "regexp"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID int64
type BookingID int64

// =============================================================================
// ROLE
// =============================================================================

type Role string

const (
	RoleEmployee  Role = "Employee"
	RoleManager   Role = "Manager"
	RoleHRManager Role = "HR Manager"
)

// Roles lists every valid role.
var Roles = []Role{RoleEmployee, RoleManager, RoleHRManager}

func (r Role) Valid() bool {
	for _, v := range Roles {
		if r == v {
			return true
		}
	}
	return false
}

// =============================================================================
// EMPLOYEE
// =============================================================================

type Employee struct {
	ID       EmployeeID
	FullName string
	TaxID    string
	Role     Role

	// ManagerName is a weak reference to another employee's FullName.
	// Nil means no manager.
	ManagerName *string

	AnnualDays    int
	RemainingDays int
}

// BookedDays derives the days already booked from the stored balance.
func (e Employee) BookedDays() int {
	return e.AnnualDays - e.RemainingDays
}

// Manager returns the manager name or "" when unset.
func (e Employee) Manager() string {
	if e.ManagerName == nil {
		return ""
	}
	return *e.ManagerName
}

var taxIDPattern = regexp.MustCompile(`^[0-9]{10}$`)

// ValidTaxID reports whether s is exactly 10 ASCII digits.
func ValidTaxID(s string) bool {
	return taxIDPattern.MatchString(s)
}

// =============================================================================
// BOOKING
// =============================================================================

type Booking struct {
	ID         BookingID
	EmployeeID EmployeeID
	StartDate  Date
	EndDate    Date
	TotalDays  int
}

// NewBooking builds a booking and derives TotalDays from the dates.
func NewBooking(employeeID EmployeeID, start, end Date) Booking {
	return Booking{
		EmployeeID: employeeID,
		StartDate:  start,
		EndDate:    end,
		TotalDays:  Span(start, end),
	}
}

func (b Booking) Period() Period {
	return Period{Start: b.StartDate, End: b.EndDate}
}

// BookingView is a booking joined with its owner's name and manager.
type BookingView struct {
	Booking
	FullName    string
	ManagerName *string
}

// StrPtr returns a pointer to s, or nil for the empty string.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
