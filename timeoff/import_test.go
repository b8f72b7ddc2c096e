package timeoff_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/vacation-ledger/factory"
	"github.com/warp/vacation-ledger/generic"
	"github.com/warp/vacation-ledger/generic/store"
	"github.com/warp/vacation-ledger/timeoff"
)

func staffBatch() []map[string]any {
	return []map[string]any{
		{"full_name": "Boss", "tax_id": "1000000000", "role": "Manager", "annual_days": 30},
		{"fio": "Alice", "ipn": "2000000000", "role": "employee", "manager": "Boss", "days": 20.0},
		{"full_name": "Broken", "tax_id": "12", "role": "Employee", "annual_days": 10},
		{"full_name": "Carl", "tax_id": "3000000000", "role": "Employee", "manager_name": "Ghost", "annual_days": "15"},
	}
}

func TestImport_InsertsThenUpdatesOnRerun(t *testing.T) {
	// GIVEN: A batch with one invalid record
	// WHEN: Importing it twice
	// THEN: The first run inserts, the second only updates
	forEachStore(t, func(t *testing.T, s generic.TxStore) {
		l := timeoff.NewLedger(s, timeoff.WithClock(clock))
		ctx := context.Background()

		first, err := l.Import(ctx, staffBatch())
		require.NoError(t, err)
		assert.NotEmpty(t, first.RunID)
		assert.Equal(t, 3, first.Inserted)
		assert.Equal(t, 0, first.Updated)
		require.Len(t, first.Errors, 1)
		assert.Equal(t, 2, first.Errors[0].Index)
		assert.Equal(t, "12", first.Errors[0].TaxID)

		second, err := l.Import(ctx, staffBatch())
		require.NoError(t, err)
		assert.NotEqual(t, first.RunID, second.RunID)
		assert.Equal(t, 0, second.Inserted)
		assert.Equal(t, 3, second.Updated)
		assert.Len(t, second.Errors, 1)

		all, err := s.ListEmployees(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		alice, err := s.GetEmployeeByTaxID(ctx, "2000000000")
		require.NoError(t, err)
		require.NotNil(t, alice)
		assert.Equal(t, "Boss", alice.Manager())
		assert.Equal(t, 20, alice.RemainingDays)

		carl, err := s.GetEmployeeByTaxID(ctx, "3000000000")
		require.NoError(t, err)
		require.NotNil(t, carl)
		assert.Nil(t, carl.ManagerName, "unknown manager is cleared")
		assert.Equal(t, 15, carl.AnnualDays)
	})
}

func TestImport_OutOfBoundsDaysAreSoftErrors(t *testing.T) {
	// GIVEN: Records whose entitlement AddEmployee would reject
	// WHEN: Importing them next to a valid record
	// THEN: Each bad record is skipped with its own error, the rest commits
	forEachStore(t, func(t *testing.T, s generic.TxStore) {
		l := timeoff.NewLedger(s, timeoff.WithClock(clock))
		ctx := context.Background()

		res, err := l.Import(ctx, []map[string]any{
			{"full_name": "Many", "tax_id": "1000000000", "role": "Employee", "annual_days": 367},
			{"full_name": "Huge", "tax_id": "2000000000", "role": "Employee", "annual_days": "1e20"},
			{"full_name": "Fine", "tax_id": "3000000000", "role": "Employee", "annual_days": 366},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Inserted)
		require.Len(t, res.Errors, 2)
		assert.Equal(t, 0, res.Errors[0].Index)
		assert.Contains(t, res.Errors[0].Message, "annual_days")
		assert.Equal(t, 1, res.Errors[1].Index)
		assert.Contains(t, res.Errors[1].Message, "annual_days")

		all, err := s.ListEmployees(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, 366, all[0].AnnualDays)
	})
}

func TestImport_AnnualChangeKeepsBookedDays(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	id := addEmployee(t, l, "Alice", "2000000000", generic.RoleEmployee, "", 20)
	_, err := l.AddBooking(ctx, id, "2024-07-01", "2024-07-05")
	require.NoError(t, err)

	res, err := l.Import(ctx, []map[string]any{
		{"full_name": "Alice", "tax_id": "2000000000", "role": "Employee", "annual_days": 25},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 20, remaining(t, s, id))
	assertBalanceInvariant(t, s, id)
}

func TestImport_RenameFansOutManagerLinks(t *testing.T) {
	forEachStore(t, func(t *testing.T, s generic.TxStore) {
		l := timeoff.NewLedger(s, timeoff.WithClock(clock))
		ctx := context.Background()
		addEmployee(t, l, "Boss", "1000000000", generic.RoleManager, "", 30)
		alice := addEmployee(t, l, "Alice", "2000000000", generic.RoleEmployee, "Boss", 20)

		res, err := l.Import(ctx, []map[string]any{
			{"full_name": "Chief", "tax_id": "1000000000", "role": "Manager", "annual_days": 30},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Updated)
		assert.Empty(t, res.Errors)

		e, err := s.GetEmployee(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, "Chief", e.Manager())
	})
}

func TestImport_NameTakenIsSoftError(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	addEmployee(t, l, "Alice", "2000000000", generic.RoleEmployee, "", 20)

	res, err := l.Import(ctx, []map[string]any{
		{"full_name": "Alice", "tax_id": "4000000000", "role": "Employee", "annual_days": 20},
		{"full_name": "Dana", "tax_id": "5000000000", "role": "Employee", "annual_days": 20},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 0, res.Errors[0].Index)
	assert.Contains(t, res.Errors[0].Message, "already used")

	missing, err := s.GetEmployeeByTaxID(ctx, "4000000000")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestImport_SelfManagerCleared(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Import(ctx, []map[string]any{
		{"full_name": "Boss", "tax_id": "1000000000", "role": "Manager", "manager_name": "Boss", "annual_days": 30},
	})
	require.NoError(t, err)

	boss, err := s.GetEmployeeByTaxID(ctx, "1000000000")
	require.NoError(t, err)
	require.NotNil(t, boss)
	assert.Nil(t, boss.ManagerName)
}

func TestImport_StorageFailureAbortsWholeBatch(t *testing.T) {
	// GIVEN: A store whose employee inserts fail
	// WHEN: The batch updates one row and inserts another
	// THEN: Nothing is committed and the error names the run
	mem := store.NewMemory()
	_, err := mem.InsertEmployee(context.Background(), generic.Employee{
		FullName: "Alice", TaxID: "2000000000", Role: generic.RoleEmployee, AnnualDays: 20, RemainingDays: 20,
	})
	require.NoError(t, err)
	l := timeoff.NewLedger(failingStore{Memory: mem}, timeoff.WithClock(clock))

	_, err = l.Import(context.Background(), []map[string]any{
		{"full_name": "Alice", "tax_id": "2000000000", "role": "Employee", "annual_days": 25},
		{"full_name": "Dana", "tax_id": "5000000000", "role": "Employee", "annual_days": 20},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrImportAborted)
	assert.ErrorIs(t, err, generic.ErrStorage)
	assert.Equal(t, generic.KindImportAborted, generic.KindOf(err))

	var aborted *generic.ImportAbortedError
	require.ErrorAs(t, err, &aborted)
	assert.NotEmpty(t, aborted.RunID)

	alice, err := mem.GetEmployeeByTaxID(context.Background(), "2000000000")
	require.NoError(t, err)
	assert.Equal(t, 20, alice.AnnualDays, "update rolled back")
}

func TestImport_FromJSONPayload(t *testing.T) {
	l, s := newTestLedger(t)
	raws, err := factory.NewRecordFactory().ParseJSON([]byte(`[
		{"fio": "Olena Kovalenko", "ipn": 4567890123, "role": "HR_Manager", "vacation_days_per_year": 24}
	]`))
	require.NoError(t, err)

	res, err := l.Import(context.Background(), raws)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)

	e, err := s.GetEmployeeByTaxID(context.Background(), "4567890123")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, generic.RoleHRManager, e.Role)
	assert.Equal(t, 24, e.RemainingDays)
}
