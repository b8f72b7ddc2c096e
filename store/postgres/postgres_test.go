package postgres_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/vacation-ledger/generic"
	"github.com/warp/vacation-ledger/store/postgres"
	"github.com/warp/vacation-ledger/timeoff"
)

// These tests need a disposable database:
//
//	LEDGER_TEST_POSTGRES_DSN=postgres://localhost/ledger_test go test ./store/postgres/
func newTestStore(t *testing.T) *postgres.Store {
	dsn := os.Getenv("LEDGER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LEDGER_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	store, err := postgres.New(ctx, dsn, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.WithTx(ctx, func(tx generic.Store) error {
		all, err := tx.ListEmployees(ctx)
		if err != nil {
			return err
		}
		for _, e := range all {
			if _, err := tx.DeleteBookings(ctx, e.ID); err != nil {
				return err
			}
			if err := tx.DeleteEmployee(ctx, e.ID); err != nil {
				return err
			}
		}
		return nil
	}))
	return store
}

func TestPostgres_UniqueConstraintsAreClassified(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.InsertEmployee(ctx, generic.Employee{FullName: "Ana", TaxID: "1234567890", Role: generic.RoleEmployee})
	require.NoError(t, err)

	_, err = store.InsertEmployee(ctx, generic.Employee{FullName: "Bob", TaxID: "1234567890", Role: generic.RoleEmployee})
	assert.ErrorIs(t, err, generic.ErrDuplicateCredential)

	_, err = store.InsertEmployee(ctx, generic.Employee{FullName: "Ana", TaxID: "0000000001", Role: generic.RoleEmployee})
	assert.ErrorIs(t, err, generic.ErrDuplicateName)
}

func TestPostgres_BookingRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.InsertEmployee(ctx, generic.Employee{
		FullName: "Ana", TaxID: "1234567890", Role: generic.RoleEmployee, ManagerName: generic.StrPtr("Boss"),
	})
	require.NoError(t, err)

	_, err = store.InsertBooking(ctx, generic.NewBooking(id,
		generic.MustParseDate("2024-12-30"), generic.MustParseDate("2025-01-02")))
	require.NoError(t, err)

	views, err := store.ListBookingsInPeriod(ctx, generic.Year(2025))
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "2024-12-30", views[0].StartDate.String())
	assert.Equal(t, 4, views[0].TotalDays)
	assert.Equal(t, "Boss", *views[0].ManagerName)
}

func TestPostgres_LockEmployeeSerializesWriters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.InsertEmployee(ctx, generic.Employee{
		FullName: "Ana", TaxID: "1234567890", Role: generic.RoleEmployee, AnnualDays: 10, RemainingDays: 10,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.WithTx(ctx, func(tx generic.Store) error {
				e, err := tx.LockEmployee(ctx, id)
				if err != nil {
					return err
				}
				e.RemainingDays--
				return tx.UpdateEmployee(ctx, *e)
			})
		}()
	}
	wg.Wait()

	e, err := store.GetEmployee(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 5, e.RemainingDays)
}

func TestPostgres_ImportAndBookingsKeepBalance(t *testing.T) {
	// GIVEN: An employee whose entitlement is re-imported while they book days
	// WHEN: Imports and bookings run concurrently
	// THEN: No booked day is lost from the balance
	store := newTestStore(t)
	ctx := context.Background()
	l := timeoff.NewLedger(store)

	id, err := l.AddEmployee(ctx, timeoff.NewEmployee{
		FullName: "Ana", TaxID: "1234567890", Role: generic.RoleEmployee, AnnualDays: 30,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(day int) {
			defer wg.Done()
			date := fmt.Sprintf("2024-07-%02d", day)
			_, _ = l.AddBooking(ctx, id, date, date)
		}(i + 1)
		go func(annual int) {
			defer wg.Done()
			_, _ = l.Import(ctx, []map[string]any{
				{"full_name": "Ana", "tax_id": "1234567890", "role": "Employee", "annual_days": annual},
			})
		}(30 + i%3)
	}
	wg.Wait()

	drifts, err := l.AuditBalances(ctx)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestPostgres_ManagerLinkNeverDangles(t *testing.T) {
	// GIVEN: A manager being deleted while reports are added under them
	// WHEN: Both run concurrently
	// THEN: Every stored manager link names an existing employee
	store := newTestStore(t)
	ctx := context.Background()
	l := timeoff.NewLedger(store)

	boss, err := l.AddEmployee(ctx, timeoff.NewEmployee{
		FullName: "Boss", TaxID: "1000000000", Role: generic.RoleManager, AnnualDays: 28,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _ = l.AddEmployee(ctx, timeoff.NewEmployee{
				FullName:    fmt.Sprintf("Report %d", n),
				TaxID:       fmt.Sprintf("20000000%02d", n),
				Role:        generic.RoleEmployee,
				ManagerName: "Boss",
				AnnualDays:  20,
			})
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = l.DeleteEmployee(ctx, boss)
	}()
	wg.Wait()

	all, err := store.ListEmployees(ctx)
	require.NoError(t, err)
	names := make(map[string]bool, len(all))
	for _, e := range all {
		names[e.FullName] = true
	}
	for _, e := range all {
		if m := e.Manager(); m != "" {
			assert.True(t, names[m], "%s reports to missing %s", e.FullName, m)
		}
	}
}
