// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/vacation-ledger/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a generic.TxStore held in maps. Uniqueness and ordering
// follow the SQL stores so the engine behaves the same on all of them.
type Memory struct {
	mu sync.RWMutex
	st *state
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole callback, which serializes writers.
func (m *Memory) WithTx(_ context.Context, fn func(generic.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(m.st); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (m *Memory) GetEmployee(ctx context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetEmployee(ctx, id)
}

func (m *Memory) GetEmployeeByTaxID(ctx context.Context, taxID string) (*generic.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetEmployeeByTaxID(ctx, taxID)
}

func (m *Memory) GetEmployeeByName(ctx context.Context, fullName string) (*generic.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetEmployeeByName(ctx, fullName)
}

func (m *Memory) LockEmployee(ctx context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	return m.GetEmployee(ctx, id)
}

func (m *Memory) ListEmployees(ctx context.Context) ([]generic.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListEmployees(ctx)
}

func (m *Memory) ListByRole(ctx context.Context, role generic.Role) ([]generic.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListByRole(ctx, role)
}

func (m *Memory) ListDirectReports(ctx context.Context, managerName string) ([]generic.Employee, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListDirectReports(ctx, managerName)
}

func (m *Memory) InsertEmployee(ctx context.Context, e generic.Employee) (generic.EmployeeID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertEmployee(ctx, e)
}

func (m *Memory) UpdateEmployee(ctx context.Context, e generic.Employee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateEmployee(ctx, e)
}

func (m *Memory) DeleteEmployee(ctx context.Context, id generic.EmployeeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeleteEmployee(ctx, id)
}

func (m *Memory) ReplaceManagerName(ctx context.Context, oldName string, newName *string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ReplaceManagerName(ctx, oldName, newName)
}

func (m *Memory) GetBooking(ctx context.Context, id generic.BookingID) (*generic.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetBooking(ctx, id)
}

func (m *Memory) ListBookings(ctx context.Context, employeeID generic.EmployeeID) ([]generic.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListBookings(ctx, employeeID)
}

func (m *Memory) ListBookingsInPeriod(ctx context.Context, p generic.Period) ([]generic.BookingView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListBookingsInPeriod(ctx, p)
}

func (m *Memory) SumBookedDays(ctx context.Context, employeeID generic.EmployeeID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.SumBookedDays(ctx, employeeID)
}

func (m *Memory) InsertBooking(ctx context.Context, b generic.Booking) (generic.BookingID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertBooking(ctx, b)
}

func (m *Memory) UpdateBooking(ctx context.Context, b generic.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateBooking(ctx, b)
}

func (m *Memory) DeleteBookings(ctx context.Context, employeeID generic.EmployeeID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeleteBookings(ctx, employeeID)
}

// Reset drops every employee and booking.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = newState()
	return nil
}

// =============================================================================
// STATE - Unlocked data, also the Store handed to WithTx callbacks
// =============================================================================

type state struct {
	employees map[generic.EmployeeID]generic.Employee
	bookings  map[generic.BookingID]generic.Booking
	nextEmp   generic.EmployeeID
	nextBook  generic.BookingID
}

func newState() *state {
	return &state{
		employees: make(map[generic.EmployeeID]generic.Employee),
		bookings:  make(map[generic.BookingID]generic.Booking),
	}
}

func (s *state) clone() *state {
	c := &state{
		employees: make(map[generic.EmployeeID]generic.Employee, len(s.employees)),
		bookings:  make(map[generic.BookingID]generic.Booking, len(s.bookings)),
		nextEmp:   s.nextEmp,
		nextBook:  s.nextBook,
	}
	for id, e := range s.employees {
		e.ManagerName = copyStr(e.ManagerName)
		c.employees[id] = e
	}
	for id, b := range s.bookings {
		c.bookings[id] = b
	}
	return c
}

func (s *state) GetEmployee(_ context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	e, ok := s.employees[id]
	if !ok {
		return nil, nil
	}
	e.ManagerName = copyStr(e.ManagerName)
	return &e, nil
}

func (s *state) GetEmployeeByTaxID(ctx context.Context, taxID string) (*generic.Employee, error) {
	return s.find(ctx, func(e generic.Employee) bool { return e.TaxID == taxID })
}

func (s *state) GetEmployeeByName(ctx context.Context, fullName string) (*generic.Employee, error) {
	return s.find(ctx, func(e generic.Employee) bool { return e.FullName == fullName })
}

func (s *state) LockEmployee(ctx context.Context, id generic.EmployeeID) (*generic.Employee, error) {
	return s.GetEmployee(ctx, id)
}

func (s *state) ListEmployees(_ context.Context) ([]generic.Employee, error) {
	return s.filter(func(generic.Employee) bool { return true }), nil
}

func (s *state) ListByRole(_ context.Context, role generic.Role) ([]generic.Employee, error) {
	return s.filter(func(e generic.Employee) bool { return e.Role == role }), nil
}

func (s *state) ListDirectReports(_ context.Context, managerName string) ([]generic.Employee, error) {
	return s.filter(func(e generic.Employee) bool {
		return e.ManagerName != nil && *e.ManagerName == managerName
	}), nil
}

func (s *state) InsertEmployee(_ context.Context, e generic.Employee) (generic.EmployeeID, error) {
	e.ID = 0
	if err := s.unique(e); err != nil {
		return 0, err
	}
	s.nextEmp++
	e.ID = s.nextEmp
	e.ManagerName = copyStr(e.ManagerName)
	s.employees[e.ID] = e
	return e.ID, nil
}

func (s *state) UpdateEmployee(_ context.Context, e generic.Employee) error {
	if _, ok := s.employees[e.ID]; !ok {
		return nil
	}
	if err := s.unique(e); err != nil {
		return err
	}
	e.ManagerName = copyStr(e.ManagerName)
	s.employees[e.ID] = e
	return nil
}

func (s *state) DeleteEmployee(_ context.Context, id generic.EmployeeID) error {
	delete(s.employees, id)
	return nil
}

func (s *state) ReplaceManagerName(_ context.Context, oldName string, newName *string) (int64, error) {
	var n int64
	for id, e := range s.employees {
		if e.ManagerName != nil && *e.ManagerName == oldName {
			e.ManagerName = copyStr(newName)
			s.employees[id] = e
			n++
		}
	}
	return n, nil
}

func (s *state) GetBooking(_ context.Context, id generic.BookingID) (*generic.Booking, error) {
	b, ok := s.bookings[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (s *state) ListBookings(_ context.Context, employeeID generic.EmployeeID) ([]generic.Booking, error) {
	var result []generic.Booking
	for _, b := range s.bookings {
		if b.EmployeeID == employeeID {
			result = append(result, b)
		}
	}
	sortNewestFirst(result, func(i int) generic.Booking { return result[i] })
	return result, nil
}

func (s *state) ListBookingsInPeriod(_ context.Context, p generic.Period) ([]generic.BookingView, error) {
	var result []generic.BookingView
	for _, b := range s.bookings {
		if !p.Contains(b.StartDate) && !p.Contains(b.EndDate) {
			continue
		}
		e, ok := s.employees[b.EmployeeID]
		if !ok {
			continue
		}
		result = append(result, generic.BookingView{
			Booking:     b,
			FullName:    e.FullName,
			ManagerName: copyStr(e.ManagerName),
		})
	}
	sortNewestFirst(result, func(i int) generic.Booking { return result[i].Booking })
	return result, nil
}

func (s *state) SumBookedDays(_ context.Context, employeeID generic.EmployeeID) (int, error) {
	total := 0
	for _, b := range s.bookings {
		if b.EmployeeID == employeeID {
			total += b.TotalDays
		}
	}
	return total, nil
}

func (s *state) InsertBooking(_ context.Context, b generic.Booking) (generic.BookingID, error) {
	if _, ok := s.employees[b.EmployeeID]; !ok {
		return 0, generic.ErrNotFound
	}
	s.nextBook++
	b.ID = s.nextBook
	s.bookings[b.ID] = b
	return b.ID, nil
}

func (s *state) UpdateBooking(_ context.Context, b generic.Booking) error {
	if _, ok := s.bookings[b.ID]; ok {
		s.bookings[b.ID] = b
	}
	return nil
}

func (s *state) DeleteBookings(_ context.Context, employeeID generic.EmployeeID) (int64, error) {
	var n int64
	for id, b := range s.bookings {
		if b.EmployeeID == employeeID {
			delete(s.bookings, id)
			n++
		}
	}
	return n, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *state) find(ctx context.Context, match func(generic.Employee) bool) (*generic.Employee, error) {
	for id, e := range s.employees {
		if match(e) {
			return s.GetEmployee(ctx, id)
		}
	}
	return nil, nil
}

func (s *state) filter(match func(generic.Employee) bool) []generic.Employee {
	var result []generic.Employee
	for _, e := range s.employees {
		if match(e) {
			e.ManagerName = copyStr(e.ManagerName)
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].FullName < result[j].FullName })
	return result
}

// unique mirrors the UNIQUE(tax_id) and UNIQUE(full_name) constraints.
func (s *state) unique(e generic.Employee) error {
	for id, other := range s.employees {
		if id == e.ID {
			continue
		}
		if other.TaxID == e.TaxID {
			return generic.ErrDuplicateCredential
		}
		if other.FullName == e.FullName {
			return generic.ErrDuplicateName
		}
	}
	return nil
}

func copyStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// sortNewestFirst orders by start date descending, then id descending.
func sortNewestFirst[T any](items []T, at func(int) generic.Booking) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := at(i), at(j)
		if !a.StartDate.Equal(b.StartDate) {
			return a.StartDate.After(b.StartDate)
		}
		return a.ID > b.ID
	})
}

var (
	_ generic.TxStore = (*Memory)(nil)
	_ generic.Store   = (*state)(nil)
)
