/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Employee lifecycle through the REST surface
- Error kind to status code mapping
- Import, audit and reconcile endpoints
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/vacation-ledger/generic"
	"github.com/warp/vacation-ledger/generic/store"
	"github.com/warp/vacation-ledger/store/sqlite"
	"github.com/warp/vacation-ledger/timeoff"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func clock() time.Time { return time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC) }

type testServer struct {
	router  http.Handler
	store   generic.TxStore
	handler *Handler
}

func newServerOn(t *testing.T, s generic.TxStore, opts ...timeoff.Option) *testServer {
	t.Helper()
	l := timeoff.NewLedger(s, append([]timeoff.Option{timeoff.WithClock(clock)}, opts...)...)
	h := NewHandler(l, s, zap.NewNop())
	return &testServer{router: NewRouter(h, []string{"*"}), store: s, handler: h}
}

func newTestServer(t *testing.T, opts ...timeoff.Option) *testServer {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return newServerOn(t, s, opts...)
}

// do sends body as JSON, or verbatim when it is a string.
func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (ts *testServer) createEmployee(t *testing.T, name, taxID string, role generic.Role, manager string, days int) generic.EmployeeID {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/employees", timeoff.NewEmployee{
		FullName: name, TaxID: taxID, Role: role, ManagerName: manager, AnnualDays: days,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[EmployeeDTO](t, rec).ID
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestAPI_EmployeeLifecycle(t *testing.T) {
	ts := newTestServer(t)

	boss := ts.createEmployee(t, "Boss", "1000000000", generic.RoleManager, "", 28)
	alice := ts.createEmployee(t, "Alice", "2000000000", generic.RoleEmployee, "Boss", 20)

	// Book
	rec := ts.do(t, http.MethodPost, fmt.Sprintf("/api/employees/%d/bookings", alice),
		AddBookingRequest{StartDate: "2024-06-01", EndDate: "2024-06-10"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	booking := decodeBody[BookingDTO](t, rec)
	assert.Equal(t, 10, booking.TotalDays)

	// Snapshot shows the latest past booking
	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/api/employees/%d", alice), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeBody[SummaryDTO](t, rec)
	assert.Equal(t, 10, snap.Employee.RemainingDays)
	require.NotNil(t, snap.Booking)
	assert.Equal(t, booking.ID, snap.Booking.ID)

	// Edit: more days and move the booking
	rec = ts.do(t, http.MethodPut, fmt.Sprintf("/api/employees/%d", alice), timeoff.EmployeeUpdate{
		TaxID: "2000000000", Role: generic.RoleEmployee, ManagerName: "Boss", AnnualDays: 30,
		Booking: &timeoff.BookingChange{BookingID: booking.ID, StartDate: "2024-07-01", EndDate: "2024-07-05"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	edit := decodeBody[EditResultDTO](t, rec)
	assert.Equal(t, 25, edit.Employee.RemainingDays)
	require.NotNil(t, edit.Booking)
	assert.Equal(t, "2024-07-01", edit.Booking.StartDate)
	assert.Empty(t, edit.Warning)

	// History
	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/api/employees/%d/bookings", alice), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]BookingDTO](t, rec), 1)

	// Rename the manager
	rec = ts.do(t, http.MethodPost, fmt.Sprintf("/api/employees/%d/rename", boss), RenameRequest{FullName: "Chief"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(1), decodeBody[RenameResultDTO](t, rec).UpdatedLinks)

	rec = ts.do(t, http.MethodGet, "/api/managers", nil)
	assert.Equal(t, []string{"Chief"}, decodeBody[[]string](t, rec))

	// Delete the manager: Alice loses the link
	rec = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/employees/%d", boss), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(1), decodeBody[DeleteResultDTO](t, rec).ClearedManagerLinks)

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/api/employees/%d", boss), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/employees", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	overview := decodeBody[[]SummaryDTO](t, rec)
	require.Len(t, overview, 1)
	assert.Nil(t, overview[0].Employee.ManagerName)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestAPI_ErrorStatusMapping(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.createEmployee(t, "Alice", "2000000000", generic.RoleEmployee, "", 5)
	rec := ts.do(t, http.MethodPost, fmt.Sprintf("/api/employees/%d/bookings", alice),
		AddBookingRequest{StartDate: "2024-08-01", EndDate: "2024-08-02"})
	require.Equal(t, http.StatusCreated, rec.Code)

	bookings := fmt.Sprintf("/api/employees/%d/bookings", alice)
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   generic.Kind
	}{
		{"duplicate tax id", http.MethodPost, "/api/employees",
			timeoff.NewEmployee{FullName: "Bob", TaxID: "2000000000", Role: generic.RoleEmployee}, http.StatusConflict, generic.KindDuplicateCredential},
		{"duplicate name", http.MethodPost, "/api/employees",
			timeoff.NewEmployee{FullName: "Alice", TaxID: "3000000000", Role: generic.RoleEmployee}, http.StatusConflict, generic.KindDuplicateName},
		{"invalid fields", http.MethodPost, "/api/employees",
			timeoff.NewEmployee{FullName: "Bob", TaxID: "12", Role: generic.RoleEmployee}, http.StatusBadRequest, generic.KindValidation},
		{"malformed body", http.MethodPost, "/api/employees", `{"full_name":`, http.StatusBadRequest, generic.KindValidation},
		{"end before start", http.MethodPost, bookings,
			AddBookingRequest{StartDate: "2024-09-10", EndDate: "2024-09-01"}, http.StatusBadRequest, generic.KindInvalidRange},
		{"bad date", http.MethodPost, bookings,
			AddBookingRequest{StartDate: "10.09.2024", EndDate: "2024-09-11"}, http.StatusBadRequest, generic.KindValidation},
		{"overlap", http.MethodPost, bookings,
			AddBookingRequest{StartDate: "2024-08-02", EndDate: "2024-08-03"}, http.StatusConflict, generic.KindOverlap},
		{"insufficient", http.MethodPost, bookings,
			AddBookingRequest{StartDate: "2024-09-01", EndDate: "2024-09-04"}, http.StatusUnprocessableEntity, generic.KindInsufficientBalance},
		{"unknown employee", http.MethodPost, "/api/employees/999/bookings",
			AddBookingRequest{StartDate: "2024-09-01", EndDate: "2024-09-01"}, http.StatusNotFound, generic.KindNotFound},
		{"non-numeric id", http.MethodGet, "/api/employees/abc", nil, http.StatusBadRequest, generic.KindValidation},
		{"unknown login", http.MethodPost, "/api/login", LoginRequest{TaxID: "9999999999"}, http.StatusNotFound, generic.KindNotFound},
		{"bad year", http.MethodGet, "/api/bookings?year=twenty", nil, http.StatusBadRequest, generic.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, string(tt.code), decodeBody[ErrorResponse](t, rec).Code)
		})
	}
}

func TestAPI_ErrorDetails(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.createEmployee(t, "Alice", "2000000000", generic.RoleEmployee, "", 3)

	rec := ts.do(t, http.MethodPost, "/api/employees", timeoff.NewEmployee{TaxID: "1", Role: "Intern"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	details := decodeBody[ErrorResponse](t, rec).Details.(map[string]any)
	assert.Contains(t, details, "full_name")
	assert.Contains(t, details, "tax_id")
	assert.Contains(t, details, "role")

	rec = ts.do(t, http.MethodPost, fmt.Sprintf("/api/employees/%d/bookings", alice),
		AddBookingRequest{StartDate: "2024-09-01", EndDate: "2024-09-05"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	details = decodeBody[ErrorResponse](t, rec).Details.(map[string]any)
	assert.Equal(t, float64(3), details["available"])
	assert.Equal(t, float64(5), details["requested"])
}

type busyStore struct{ *store.Memory }

func (busyStore) WithTx(context.Context, func(generic.Store) error) error {
	return fmt.Errorf("begin transaction: %w", generic.ErrBusy)
}

type brokenStore struct{ *store.Memory }

func (brokenStore) WithTx(context.Context, func(generic.Store) error) error {
	return fmt.Errorf("begin transaction: %w: disk I/O error", generic.ErrStorage)
}

func TestAPI_BusyIsRetryable(t *testing.T) {
	ts := newServerOn(t, busyStore{store.NewMemory()})

	rec := ts.do(t, http.MethodPost, "/api/employees",
		timeoff.NewEmployee{FullName: "Alice", TaxID: "2000000000", Role: generic.RoleEmployee, AnnualDays: 20})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, string(generic.KindBusy), decodeBody[ErrorResponse](t, rec).Code)
}

func TestAPI_StorageFailureIs500(t *testing.T) {
	ts := newServerOn(t, brokenStore{store.NewMemory()})

	rec := ts.do(t, http.MethodPost, "/api/employees",
		timeoff.NewEmployee{FullName: "Alice", TaxID: "2000000000", Role: generic.RoleEmployee, AnnualDays: 20})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, string(generic.KindStorage), decodeBody[ErrorResponse](t, rec).Code)
	assert.Empty(t, rec.Header().Get("Retry-After"))

	rec = ts.do(t, http.MethodPost, "/api/import",
		`[{"full_name":"Alice","tax_id":"2000000000","role":"Employee","annual_days":20}]`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, string(generic.KindImportAborted), decodeBody[ErrorResponse](t, rec).Code)
}

// =============================================================================
// REPORTS
// =============================================================================

func TestAPI_LoginAndSummary(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.createEmployee(t, "Alice", "2000000000", generic.RoleHRManager, "", 20)
	rec := ts.do(t, http.MethodPost, fmt.Sprintf("/api/employees/%d/bookings", alice),
		AddBookingRequest{StartDate: "2024-06-20", EndDate: "2024-06-21"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/login", LoginRequest{TaxID: "2000000000"})
	require.Equal(t, http.StatusOK, rec.Code)
	id := decodeBody[IdentityDTO](t, rec)
	assert.Equal(t, alice, id.EmployeeID)
	assert.Equal(t, generic.RoleHRManager, id.Role)

	rec = ts.do(t, http.MethodGet, "/api/summary/2000000000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decodeBody[SummaryDTO](t, rec)
	require.NotNil(t, sum.Booking)
	assert.Equal(t, "2024-06-20", sum.Booking.StartDate)
}

func TestAPI_Subordinates(t *testing.T) {
	ts := newTestServer(t)
	ts.createEmployee(t, "Petro Petrenko", "1000000000", generic.RoleManager, "", 28)
	ts.createEmployee(t, "Team Lead", "2000000000", generic.RoleManager, "Petro Petrenko", 24)
	dev := ts.createEmployee(t, "Developer", "3000000000", generic.RoleEmployee, "Team Lead", 24)
	rec := ts.do(t, http.MethodPost, fmt.Sprintf("/api/employees/%d/bookings", dev),
		AddBookingRequest{StartDate: "2024-06-14", EndDate: "2024-06-16"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/managers/Petro%20Petrenko/subordinates", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	subs := decodeBody[[]SubordinateDTO](t, rec)
	require.Len(t, subs, 2)
	assert.Equal(t, "Team Lead", subs[0].Employee.FullName)
	assert.Equal(t, 1, subs[0].Depth)
	assert.Nil(t, subs[0].NearestBooking)
	assert.Equal(t, "Developer", subs[1].Employee.FullName)
	assert.Equal(t, 2, subs[1].Depth)
	require.NotNil(t, subs[1].NearestBooking)
}

func TestAPI_BookingsInYear(t *testing.T) {
	ts := newTestServer(t)
	ts.createEmployee(t, "Boss", "1000000000", generic.RoleManager, "", 28)
	alice := ts.createEmployee(t, "Alice", "2000000000", generic.RoleEmployee, "Boss", 20)
	for _, r := range []AddBookingRequest{
		{StartDate: "2023-12-30", EndDate: "2024-01-02"},
		{StartDate: "2023-03-01", EndDate: "2023-03-02"},
	} {
		rec := ts.do(t, http.MethodPost, fmt.Sprintf("/api/employees/%d/bookings", alice), r)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := ts.do(t, http.MethodGet, "/api/bookings?year=2024", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	views := decodeBody[[]BookingViewDTO](t, rec)
	require.Len(t, views, 1)
	assert.Equal(t, "Alice", views[0].FullName)
	require.NotNil(t, views[0].ManagerName)
	assert.Equal(t, "Boss", *views[0].ManagerName)
	assert.Equal(t, 4, views[0].TotalDays)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestAPI_ImportAuditReconcile(t *testing.T) {
	// GIVEN: Staff imported from a JSON export
	ts := newTestServer(t)
	payload := `[
		{"fio": "Boss", "ipn": "1000000000", "role": "manager", "days": 28},
		{"fio": "Alice", "ipn": "2000000000", "role": "employee", "manager": "Boss", "days": 20},
		{"fio": "Broken", "ipn": "12", "role": "employee", "days": 20}
	]`
	rec := ts.do(t, http.MethodPost, "/api/import", payload)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[timeoff.ImportResult](t, rec)
	assert.Equal(t, 2, res.Inserted)
	assert.Len(t, res.Errors, 1)

	rec = ts.do(t, http.MethodGet, "/api/admin/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[AuditRunDTO](t, rec).Drifts)

	// WHEN: A stored balance is corrupted behind the ledger's back
	ctx := context.Background()
	alice, err := ts.store.GetEmployeeByTaxID(ctx, "2000000000")
	require.NoError(t, err)
	alice.RemainingDays = 3
	require.NoError(t, ts.store.UpdateEmployee(ctx, *alice))

	// THEN: The audit reports it and reconcile repairs it
	rec = ts.do(t, http.MethodGet, "/api/admin/audit", nil)
	run := decodeBody[AuditRunDTO](t, rec)
	require.Len(t, run.Drifts, 1)
	assert.Equal(t, 3, run.Drifts[0].Stored)
	assert.Equal(t, 20, run.Drifts[0].Expected)

	rec = ts.do(t, http.MethodPost, fmt.Sprintf("/api/employees/%d/reconcile", alice.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rr := decodeBody[ReconcileResultDTO](t, rec)
	assert.True(t, rr.Changed)
	assert.Equal(t, 20, rr.After)

	rec = ts.do(t, http.MethodGet, "/api/admin/audit/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]AuditRunDTO](t, rec), "no scheduler attached")
}

func TestAPI_ImportRejectsNonArray(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/import", `{"full_name":"Alice"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(generic.KindValidation), decodeBody[ErrorResponse](t, rec).Code)
}
