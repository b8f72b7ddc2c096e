package timeoff

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/vacation-ledger/generic"
)

// =============================================================================
// READ-SIDE PROJECTIONS - No transaction, no writes
// =============================================================================

// BookingsInYear lists bookings whose start or end falls in year, newest start first.
func (l *Ledger) BookingsInYear(ctx context.Context, year int) ([]generic.BookingView, error) {
	if year < 1 || year > 9999 {
		return nil, generic.NewValidationError("year", fmt.Sprintf("out of range: %d", year))
	}
	return l.store.ListBookingsInPeriod(ctx, generic.Year(year))
}

// BookingHistory lists one employee's bookings, newest start first.
func (l *Ledger) BookingHistory(ctx context.Context, employeeID generic.EmployeeID) ([]generic.Booking, error) {
	if _, err := l.mustGetEmployee(ctx, employeeID); err != nil {
		return nil, err
	}
	return l.store.ListBookings(ctx, employeeID)
}

// NearestBookingSummary returns the employee with the booking closest to
// today, ignoring bookings that ended more than the summary window ago.
func (l *Ledger) NearestBookingSummary(ctx context.Context, taxID string) (Summary, error) {
	taxID = strings.TrimSpace(taxID)
	if !generic.ValidTaxID(taxID) {
		return Summary{}, generic.NewValidationError("tax_id", "must be exactly 10 digits")
	}
	e, err := l.store.GetEmployeeByTaxID(ctx, taxID)
	if err != nil {
		return Summary{}, err
	}
	if e == nil {
		return Summary{}, fmt.Errorf("tax id %s: %w", taxID, generic.ErrNotFound)
	}

	bookings, err := l.store.ListBookings(ctx, e.ID)
	if err != nil {
		return Summary{}, err
	}
	today := l.today()
	cutoff := today.AddDays(-l.summaryWindow)

	var recent []generic.Booking
	for _, b := range bookings {
		if b.EndDate.AfterOrEqual(cutoff) {
			recent = append(recent, b)
		}
	}
	return Summary{Employee: *e, Booking: nearestBooking(recent, today)}, nil
}

// EditFormSnapshot returns the employee with the booking an edit would
// target: the earliest one starting today or later, else the one that
// ended most recently, else none.
func (l *Ledger) EditFormSnapshot(ctx context.Context, employeeID generic.EmployeeID) (Summary, error) {
	e, err := l.mustGetEmployee(ctx, employeeID)
	if err != nil {
		return Summary{}, err
	}
	bookings, err := l.store.ListBookings(ctx, employeeID)
	if err != nil {
		return Summary{}, err
	}
	return Summary{Employee: *e, Booking: editTarget(bookings, l.today())}, nil
}

func editTarget(bookings []generic.Booking, today generic.Date) *generic.Booking {
	var upcoming, past *generic.Booking
	for i := range bookings {
		b := bookings[i]
		switch {
		case b.StartDate.AfterOrEqual(today):
			if upcoming == nil || b.StartDate.Before(upcoming.StartDate) {
				upcoming = &b
			}
		case b.EndDate.Before(today):
			if past == nil || b.EndDate.After(past.EndDate) {
				past = &b
			}
		}
	}
	if upcoming != nil {
		return upcoming
	}
	return past
}

// EmployeeOverview lists every employee by name with their latest booking
// that ended no earlier than the overview window.
func (l *Ledger) EmployeeOverview(ctx context.Context) ([]Summary, error) {
	employees, err := l.store.ListEmployees(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := l.today().AddDays(-l.overviewWindow)

	result := make([]Summary, 0, len(employees))
	for _, e := range employees {
		bookings, err := l.store.ListBookings(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		var latest *generic.Booking
		for i := range bookings {
			b := bookings[i]
			if b.EndDate.Before(cutoff) {
				continue
			}
			if latest == nil || b.EndDate.After(latest.EndDate) {
				latest = &b
			}
		}
		result = append(result, Summary{Employee: e, Booking: latest})
	}
	return result, nil
}

// ManagerNames lists the names of employees with role Manager, sorted.
func (l *Ledger) ManagerNames(ctx context.Context) ([]string, error) {
	managers, err := l.store.ListByRole(ctx, generic.RoleManager)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(managers))
	for i, m := range managers {
		names[i] = m.FullName
	}
	return names, nil
}

// Authenticate resolves a tax id to an identity. The tax id is the only credential.
func (l *Ledger) Authenticate(ctx context.Context, taxID string) (Identity, error) {
	taxID = strings.TrimSpace(taxID)
	if !generic.ValidTaxID(taxID) {
		return Identity{}, generic.NewValidationError("tax_id", "must be exactly 10 digits")
	}
	e, err := l.store.GetEmployeeByTaxID(ctx, taxID)
	if err != nil {
		return Identity{}, err
	}
	if e == nil {
		return Identity{}, fmt.Errorf("tax id %s: %w", taxID, generic.ErrNotFound)
	}
	return Identity{EmployeeID: e.ID, FullName: e.FullName, Role: e.Role}, nil
}

func (l *Ledger) mustGetEmployee(ctx context.Context, employeeID generic.EmployeeID) (*generic.Employee, error) {
	if employeeID <= 0 {
		return nil, fmt.Errorf("%w: employee id %d", generic.ErrInvalidArgument, employeeID)
	}
	e, err := l.store.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("employee %d: %w", employeeID, generic.ErrNotFound)
	}
	return e, nil
}
