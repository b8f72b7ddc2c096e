// Package timeoff implements the vacation ledger: the balance reconciliation
// engine, the manager hierarchy, the read-side projections and bulk import.
// Every mutating operation runs in exactly one generic.TxStore transaction.
package timeoff

import "github.com/warp/vacation-ledger/generic"

// =============================================================================
// INPUTS
// =============================================================================

// NewEmployee is the input of AddEmployee.
type NewEmployee struct {
	FullName    string       `json:"full_name" validate:"required,max=200"`
	TaxID       string       `json:"tax_id" validate:"required,taxid"`
	Role        generic.Role `json:"role" validate:"required,role"`
	ManagerName string       `json:"manager_name" validate:"max=200"`
	AnnualDays  int          `json:"annual_days" validate:"min=0,max=366"`
}

// EmployeeUpdate is the input of EditEmployeeAndBooking. The full name is
// not editable here; use RenameEmployee.
type EmployeeUpdate struct {
	TaxID       string       `json:"tax_id" validate:"required,taxid"`
	Role        generic.Role `json:"role" validate:"required,role"`
	ManagerName string       `json:"manager_name" validate:"max=200"`
	AnnualDays  int          `json:"annual_days" validate:"min=0,max=366"`

	// Booking optionally moves one of the employee's bookings.
	Booking *BookingChange `json:"booking,omitempty" validate:"omitempty"`
}

// BookingChange retargets an existing booking to new dates.
type BookingChange struct {
	BookingID generic.BookingID `json:"booking_id" validate:"gt=0"`
	StartDate string            `json:"start_date" validate:"required"`
	EndDate   string            `json:"end_date" validate:"required"`
}

// =============================================================================
// RESULTS
// =============================================================================

// EditResult is what EditEmployeeAndBooking committed.
type EditResult struct {
	Employee generic.Employee
	Booking  *generic.Booking

	// Warning is set when the committed balance is negative.
	Warning string
}

// DeleteResult reports what DeleteEmployee removed.
type DeleteResult struct {
	EmployeeID          generic.EmployeeID
	FullName            string
	ClearedManagerLinks int64
	DeletedBookings     int64
}

// RenameResult reports a rename and its manager-link fan-out.
type RenameResult struct {
	EmployeeID   generic.EmployeeID
	OldName      string
	NewName      string
	UpdatedLinks int64
}

// ReconcileResult is the balance before and after ReconcileBalance.
type ReconcileResult struct {
	EmployeeID generic.EmployeeID
	Before     int
	After      int
}

func (r ReconcileResult) Changed() bool { return r.Before != r.After }

// BalanceDrift is one employee whose stored balance disagrees with the bookings.
type BalanceDrift struct {
	Employee generic.Employee
	Booked   int
	Expected int
}

// =============================================================================
// PROJECTIONS
// =============================================================================

// Subordinate is one node of a manager's transitive reporting tree.
type Subordinate struct {
	Employee generic.Employee

	// Depth is 1 for direct reports.
	Depth int

	// Nearest is the booking closest to today, if any.
	Nearest *generic.Booking
}

// Summary is an employee with one booking of interest.
type Summary struct {
	Employee generic.Employee
	Booking  *generic.Booking
}

// Identity is what a successful credential lookup yields.
type Identity struct {
	EmployeeID generic.EmployeeID
	FullName   string
	Role       generic.Role
}
