/*
ledger.go - Balance reconciliation engine

PURPOSE:
  The only writer of employees and bookings. Every operation validates its
  input, opens one store transaction, re-reads what it needs under the
  employee lock, and commits or rolls back as a unit.

INVARIANTS:
  Balance: after every successful operation, for every employee

    remaining_days == annual_days - SUM(total_days of their bookings)

  Span: total_days is always recomputed from the dates.

  No day off twice: bookings of one employee never overlap.

OPERATIONS:
  AddEmployee:            Insert with remaining = annual
  AddBooking:             Check range, overlap and balance, insert, decrement
  EditEmployeeAndBooking: Optional booking retarget plus editable fields,
                          remaining recomputed from already-booked days
  DeleteEmployee:         Clear subordinate links, delete bookings and row
  RenameEmployee:         New name plus manager-link fan-out
  ReconcileBalance:       Rewrite remaining from SUM(total_days)
  AuditBalances:          Read-only balance check over all employees

CONCURRENCY:
  AddBooking and EditEmployeeAndBooking call LockEmployee before reading the
  balance, so two bookings for the same employee cannot both pass the check.
  Import locks every row it updates the same way. A new manager link also
  locks the manager row until commit. Lock timeouts and deadlocks surface as
  generic.ErrBusy.

ERRORS:
  The ledger never logs. It returns classified errors from generic/errors.go
  and leaves reporting to the caller.

SEE ALSO:
  - hierarchy.go: Subordinate traversal and link fan-out
  - queries.go: Read-side projections
  - import.go: Bulk import
  - policies.go: Negative balance policy and options
*/
package timeoff

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/warp/vacation-ledger/generic"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store          generic.TxStore
	validate       *validator.Validate
	policy         NegativeBalancePolicy
	now            func() time.Time
	summaryWindow  int
	overviewWindow int
}

func NewLedger(store generic.TxStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:          store,
		validate:       newValidator(),
		policy:         AllowNegativeBalance,
		now:            time.Now,
		summaryWindow:  DefaultSummaryWindowDays,
		overviewWindow: DefaultOverviewWindowDays,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Policy returns the negative balance policy in effect.
func (l *Ledger) Policy() NegativeBalancePolicy { return l.policy }

func (l *Ledger) today() generic.Date {
	return generic.DateOf(l.now())
}

// =============================================================================
// ADD EMPLOYEE
// =============================================================================

// AddEmployee creates an employee with remaining_days = annual_days.
func (l *Ledger) AddEmployee(ctx context.Context, in NewEmployee) (generic.EmployeeID, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	in.TaxID = strings.TrimSpace(in.TaxID)
	in.ManagerName = strings.TrimSpace(in.ManagerName)
	if err := l.validateStruct(in); err != nil {
		return 0, err
	}
	if in.ManagerName == in.FullName {
		return 0, generic.NewValidationError("manager_name", "an employee cannot manage themselves")
	}

	var id generic.EmployeeID
	err := l.store.WithTx(ctx, func(tx generic.Store) error {
		if err := checkUnique(ctx, tx, 0, in.TaxID, in.FullName); err != nil {
			return err
		}
		if err := checkManagerExists(ctx, tx, in.ManagerName); err != nil {
			return err
		}

		var err error
		id, err = tx.InsertEmployee(ctx, generic.Employee{
			FullName:      in.FullName,
			TaxID:         in.TaxID,
			Role:          in.Role,
			ManagerName:   generic.StrPtr(in.ManagerName),
			AnnualDays:    in.AnnualDays,
			RemainingDays: in.AnnualDays,
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// =============================================================================
// ADD BOOKING
// =============================================================================

// AddBooking books [start, end] for the employee and decrements the balance.
func (l *Ledger) AddBooking(ctx context.Context, employeeID generic.EmployeeID, start, end string) (generic.Booking, error) {
	if employeeID <= 0 {
		return generic.Booking{}, fmt.Errorf("%w: employee id %d", generic.ErrInvalidArgument, employeeID)
	}
	period, err := parseRange(start, end)
	if err != nil {
		return generic.Booking{}, err
	}

	booking := generic.NewBooking(employeeID, period.Start, period.End)
	err = l.store.WithTx(ctx, func(tx generic.Store) error {
		e, err := tx.LockEmployee(ctx, employeeID)
		if err != nil {
			return err
		}
		if e == nil {
			return fmt.Errorf("employee %d: %w", employeeID, generic.ErrNotFound)
		}

		if err := checkOverlap(ctx, tx, employeeID, period, 0); err != nil {
			return err
		}
		if booking.TotalDays > e.RemainingDays {
			return &generic.InsufficientBalanceError{
				EmployeeID: employeeID,
				Available:  e.RemainingDays,
				Requested:  booking.TotalDays,
			}
		}

		booking.ID, err = tx.InsertBooking(ctx, booking)
		if err != nil {
			return err
		}
		e.RemainingDays -= booking.TotalDays
		return tx.UpdateEmployee(ctx, *e)
	})
	if err != nil {
		return generic.Booking{}, err
	}
	return booking, nil
}

// =============================================================================
// EDIT EMPLOYEE AND BOOKING
// =============================================================================

// EditEmployeeAndBooking updates the editable fields and optionally moves one
// booking, then recomputes remaining_days as new annual minus already booked.
func (l *Ledger) EditEmployeeAndBooking(ctx context.Context, employeeID generic.EmployeeID, upd EmployeeUpdate) (EditResult, error) {
	if employeeID <= 0 {
		return EditResult{}, fmt.Errorf("%w: employee id %d", generic.ErrInvalidArgument, employeeID)
	}
	upd.TaxID = strings.TrimSpace(upd.TaxID)
	upd.ManagerName = strings.TrimSpace(upd.ManagerName)
	if err := l.validateStruct(upd); err != nil {
		return EditResult{}, err
	}

	var newPeriod generic.Period
	if upd.Booking != nil {
		p, err := parseRange(upd.Booking.StartDate, upd.Booking.EndDate)
		if err != nil {
			return EditResult{}, err
		}
		newPeriod = p
	}

	var result EditResult
	err := l.store.WithTx(ctx, func(tx generic.Store) error {
		e, err := tx.LockEmployee(ctx, employeeID)
		if err != nil {
			return err
		}
		if e == nil {
			return fmt.Errorf("employee %d: %w", employeeID, generic.ErrNotFound)
		}

		// (a) days already booked, derived from the stored balance
		alreadyBooked := e.AnnualDays - e.RemainingDays

		// (b) optional retarget of one booking
		if upd.Booking != nil {
			old, err := tx.GetBooking(ctx, upd.Booking.BookingID)
			if err != nil {
				return err
			}
			if old == nil || old.EmployeeID != employeeID {
				return fmt.Errorf("booking %d of employee %d: %w", upd.Booking.BookingID, employeeID, generic.ErrNotFound)
			}
			if err := checkOverlap(ctx, tx, employeeID, newPeriod, old.ID); err != nil {
				return err
			}

			moved := generic.NewBooking(employeeID, newPeriod.Start, newPeriod.End)
			moved.ID = old.ID
			if err := tx.UpdateBooking(ctx, moved); err != nil {
				return err
			}
			alreadyBooked += moved.TotalDays - old.TotalDays
			result.Booking = &moved
		}

		// (c) editable fields; the name is carried over
		if upd.ManagerName == e.FullName {
			return generic.NewValidationError("manager_name", "an employee cannot manage themselves")
		}
		if err := checkUnique(ctx, tx, employeeID, upd.TaxID, e.FullName); err != nil {
			return err
		}
		if upd.ManagerName != e.Manager() {
			if err := checkManagerExists(ctx, tx, upd.ManagerName); err != nil {
				return err
			}
		}

		// (d) recompute the balance
		remaining := upd.AnnualDays - alreadyBooked
		if remaining < 0 {
			if l.policy == RejectNegativeBalance {
				return &generic.InsufficientBalanceError{
					EmployeeID: employeeID,
					Available:  upd.AnnualDays,
					Requested:  alreadyBooked,
				}
			}
			result.Warning = fmt.Sprintf("remaining balance is negative (%d): entitlement %d is below %d booked days",
				remaining, upd.AnnualDays, alreadyBooked)
		}

		e.TaxID = upd.TaxID
		e.Role = upd.Role
		e.ManagerName = generic.StrPtr(upd.ManagerName)
		e.AnnualDays = upd.AnnualDays
		e.RemainingDays = remaining
		if err := tx.UpdateEmployee(ctx, *e); err != nil {
			return err
		}
		result.Employee = *e
		return nil
	})
	if err != nil {
		return EditResult{}, err
	}
	return result, nil
}

// =============================================================================
// DELETE EMPLOYEE
// =============================================================================

// DeleteEmployee clears subordinate links, deletes the employee's bookings
// and then the employee.
func (l *Ledger) DeleteEmployee(ctx context.Context, employeeID generic.EmployeeID) (DeleteResult, error) {
	if employeeID <= 0 {
		return DeleteResult{}, fmt.Errorf("%w: employee id %d", generic.ErrInvalidArgument, employeeID)
	}

	var result DeleteResult
	err := l.store.WithTx(ctx, func(tx generic.Store) error {
		e, err := tx.LockEmployee(ctx, employeeID)
		if err != nil {
			return err
		}
		if e == nil {
			return fmt.Errorf("employee %d: %w", employeeID, generic.ErrNotFound)
		}

		cleared, err := detachReports(ctx, tx, e.FullName)
		if err != nil {
			return err
		}
		deleted, err := tx.DeleteBookings(ctx, employeeID)
		if err != nil {
			return err
		}
		if err := tx.DeleteEmployee(ctx, employeeID); err != nil {
			return err
		}

		result = DeleteResult{
			EmployeeID:          employeeID,
			FullName:            e.FullName,
			ClearedManagerLinks: cleared,
			DeletedBookings:     deleted,
		}
		return nil
	})
	if err != nil {
		return DeleteResult{}, err
	}
	return result, nil
}

// =============================================================================
// RENAME EMPLOYEE
// =============================================================================

// RenameEmployee changes the full name and rewrites every manager link
// pointing at the old name, in one transaction.
func (l *Ledger) RenameEmployee(ctx context.Context, employeeID generic.EmployeeID, newName string) (RenameResult, error) {
	if employeeID <= 0 {
		return RenameResult{}, fmt.Errorf("%w: employee id %d", generic.ErrInvalidArgument, employeeID)
	}
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return RenameResult{}, generic.NewValidationError("full_name", "is required")
	}

	var result RenameResult
	err := l.store.WithTx(ctx, func(tx generic.Store) error {
		var err error
		result, err = renameInTx(ctx, tx, employeeID, newName)
		return err
	})
	if err != nil {
		return RenameResult{}, err
	}
	return result, nil
}

func renameInTx(ctx context.Context, tx generic.Store, employeeID generic.EmployeeID, newName string) (RenameResult, error) {
	e, err := tx.LockEmployee(ctx, employeeID)
	if err != nil {
		return RenameResult{}, err
	}
	if e == nil {
		return RenameResult{}, fmt.Errorf("employee %d: %w", employeeID, generic.ErrNotFound)
	}

	result := RenameResult{EmployeeID: employeeID, OldName: e.FullName, NewName: newName}
	if e.FullName == newName {
		return result, nil
	}
	other, err := tx.GetEmployeeByName(ctx, newName)
	if err != nil {
		return RenameResult{}, err
	}
	if other != nil {
		return RenameResult{}, fmt.Errorf("name %q: %w", newName, generic.ErrDuplicateName)
	}
	if e.Manager() == newName {
		return RenameResult{}, generic.NewValidationError("full_name", "an employee cannot manage themselves")
	}

	e.FullName = newName
	if err := tx.UpdateEmployee(ctx, *e); err != nil {
		return RenameResult{}, err
	}
	result.UpdatedLinks, err = relinkReports(ctx, tx, result.OldName, newName)
	if err != nil {
		return RenameResult{}, err
	}
	return result, nil
}

// =============================================================================
// BALANCE REPAIR
// =============================================================================

// ReconcileBalance rewrites remaining_days from the bookings.
func (l *Ledger) ReconcileBalance(ctx context.Context, employeeID generic.EmployeeID) (ReconcileResult, error) {
	if employeeID <= 0 {
		return ReconcileResult{}, fmt.Errorf("%w: employee id %d", generic.ErrInvalidArgument, employeeID)
	}

	var result ReconcileResult
	err := l.store.WithTx(ctx, func(tx generic.Store) error {
		e, err := tx.LockEmployee(ctx, employeeID)
		if err != nil {
			return err
		}
		if e == nil {
			return fmt.Errorf("employee %d: %w", employeeID, generic.ErrNotFound)
		}
		booked, err := tx.SumBookedDays(ctx, employeeID)
		if err != nil {
			return err
		}

		result = ReconcileResult{EmployeeID: employeeID, Before: e.RemainingDays, After: e.AnnualDays - booked}
		if !result.Changed() {
			return nil
		}
		e.RemainingDays = result.After
		return tx.UpdateEmployee(ctx, *e)
	})
	if err != nil {
		return ReconcileResult{}, err
	}
	return result, nil
}

// AuditBalances returns every employee whose stored balance disagrees with
// annual_days minus the booked days.
func (l *Ledger) AuditBalances(ctx context.Context) ([]BalanceDrift, error) {
	employees, err := l.store.ListEmployees(ctx)
	if err != nil {
		return nil, err
	}

	var drifts []BalanceDrift
	for _, e := range employees {
		booked, err := l.store.SumBookedDays(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		if expected := e.AnnualDays - booked; expected != e.RemainingDays {
			drifts = append(drifts, BalanceDrift{Employee: e, Booked: booked, Expected: expected})
		}
	}
	return drifts, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// parseRange parses both dates and rejects spans of zero or fewer days.
func parseRange(start, end string) (generic.Period, error) {
	days, err := generic.DaysBetween(start, end)
	if err != nil {
		return generic.Period{}, err
	}
	if days <= 0 {
		return generic.Period{}, fmt.Errorf("%s..%s: %w", start, end, generic.ErrInvalidRange)
	}
	return generic.Period{Start: generic.MustParseDate(start), End: generic.MustParseDate(end)}, nil
}

// checkUnique rejects a tax id or name held by an employee other than self.
func checkUnique(ctx context.Context, tx generic.Store, self generic.EmployeeID, taxID, fullName string) error {
	byTax, err := tx.GetEmployeeByTaxID(ctx, taxID)
	if err != nil {
		return err
	}
	if byTax != nil && byTax.ID != self {
		return fmt.Errorf("tax id %s: %w", taxID, generic.ErrDuplicateCredential)
	}

	byName, err := tx.GetEmployeeByName(ctx, fullName)
	if err != nil {
		return err
	}
	if byName != nil && byName.ID != self {
		return fmt.Errorf("name %q: %w", fullName, generic.ErrDuplicateName)
	}
	return nil
}

func checkManagerExists(ctx context.Context, tx generic.Store, managerName string) error {
	if managerName == "" {
		return nil
	}
	m, err := tx.GetEmployeeByName(ctx, managerName)
	if err != nil {
		return err
	}
	if m != nil {
		// Held until commit, so the manager cannot be deleted or renamed
		// underneath the new link.
		m, err = tx.LockEmployee(ctx, m.ID)
		if err != nil {
			return err
		}
	}
	if m == nil || m.FullName != managerName {
		return generic.NewValidationError("manager_name", fmt.Sprintf("unknown employee %q", managerName))
	}
	return nil
}

// checkOverlap rejects p if it shares a day with another booking of the
// employee. except is the booking being moved, if any.
func checkOverlap(ctx context.Context, tx generic.Store, employeeID generic.EmployeeID, p generic.Period, except generic.BookingID) error {
	existing, err := tx.ListBookings(ctx, employeeID)
	if err != nil {
		return err
	}
	for _, b := range existing {
		if b.ID == except {
			continue
		}
		if b.Period().Overlaps(p) {
			return fmt.Errorf("%s overlaps booking %d %s: %w", p, b.ID, b.Period(), generic.ErrOverlappingBooking)
		}
	}
	return nil
}
