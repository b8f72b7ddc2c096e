/*
handlers.go - HTTP API handlers for the vacation ledger

PURPOSE:
  Exposes timeoff.Ledger via REST API. Handles HTTP request/response and
  JSON serialization, and delegates every rule to the ledger.

ENDPOINTS:
  Session:
    POST   /api/login                         Resolve a tax id to an identity

  Employees:
    GET    /api/employees                     Overview with latest booking
    POST   /api/employees                     Create employee
    GET    /api/employees/{id}                Edit form snapshot
    PUT    /api/employees/{id}                Edit employee and one booking
    DELETE /api/employees/{id}                Delete with cascade
    POST   /api/employees/{id}/rename         Rename with link fan-out
    GET    /api/employees/{id}/bookings       Booking history
    POST   /api/employees/{id}/bookings       Book vacation
    POST   /api/employees/{id}/reconcile      Rewrite balance from bookings

  Hierarchy:
    GET    /api/managers                      Manager names
    GET    /api/managers/{name}/subordinates  Transitive subordinates

  Reports:
    GET    /api/summary/{taxID}               Nearest booking summary
    GET    /api/bookings?year=YYYY            Bookings touching a year

  Admin:
    POST   /api/import                        Bulk import (JSON array)
    GET    /api/admin/audit                   Balance audit, read only
    GET    /api/admin/audit/runs              Recent scheduled audits

ERROR HANDLING:
  Errors are returned as ErrorResponse with a stable code from
  generic.KindOf and the status:
  - 400: validation_error, invalid_range
  - 404: not_found
  - 409: duplicate_credential, duplicate_name, overlapping_booking
  - 422: insufficient_balance
  - 503: busy (with Retry-After)
  - 500: storage_failure, import_aborted

SECURITY NOTE:
  /api/login only resolves identities. Endpoints are not gated by role.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo org charts
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/vacation-ledger/factory"
	"github.com/warp/vacation-ledger/generic"
	"github.com/warp/vacation-ledger/timeoff"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger    *timeoff.Ledger
	Store     generic.TxStore
	Logger    *zap.Logger
	Scheduler *AuditScheduler

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler. The ledger must be built on store.
func NewHandler(ledger *timeoff.Ledger, store generic.TxStore, logger *zap.Logger) *Handler {
	return &Handler{
		Ledger: ledger,
		Store:  store,
		Logger: logger,
	}
}

// =============================================================================
// SESSION
// =============================================================================

// Login resolves a tax id to the employee's identity.
// POST /api/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.Ledger.Authenticate(r.Context(), req.TaxID)
	if err != nil {
		h.writeLedgerError(w, r, "Login failed", err)
		return
	}
	writeJSON(w, http.StatusOK, IdentityDTO{EmployeeID: id.EmployeeID, FullName: id.FullName, Role: id.Role})
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns every employee with their latest recent booking.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Ledger.EmployeeOverview(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, "Failed to list employees", err)
		return
	}
	dtos := make([]SummaryDTO, len(rows))
	for i, s := range rows {
		dtos[i] = toSummaryDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateEmployee creates an employee with a full balance.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req timeoff.NewEmployee
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.Ledger.AddEmployee(r.Context(), req)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to create employee", err)
		return
	}
	snap, err := h.Ledger.EditFormSnapshot(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to load employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(snap.Employee))
}

// GetEmployee returns the employee with the booking an edit would target.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	id, ok := h.employeeID(w, r)
	if !ok {
		return
	}
	snap, err := h.Ledger.EditFormSnapshot(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to get employee", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(snap))
}

// UpdateEmployee applies an edit form.
// PUT /api/employees/{id}
func (h *Handler) UpdateEmployee(w http.ResponseWriter, r *http.Request) {
	id, ok := h.employeeID(w, r)
	if !ok {
		return
	}
	var req timeoff.EmployeeUpdate
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Ledger.EditEmployeeAndBooking(r.Context(), id, req)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to update employee", err)
		return
	}
	if res.Warning != "" {
		h.Logger.Warn("balance below zero after edit",
			zap.Int64("employee_id", int64(id)),
			zap.Int("remaining_days", res.Employee.RemainingDays))
	}
	writeJSON(w, http.StatusOK, EditResultDTO{
		Employee: toEmployeeDTO(res.Employee),
		Booking:  toBookingPtr(res.Booking),
		Warning:  res.Warning,
	})
}

// DeleteEmployee removes an employee, their bookings and links to them.
func (h *Handler) DeleteEmployee(w http.ResponseWriter, r *http.Request) {
	id, ok := h.employeeID(w, r)
	if !ok {
		return
	}
	res, err := h.Ledger.DeleteEmployee(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to delete employee", err)
		return
	}
	h.Logger.Info("employee deleted",
		zap.Int64("employee_id", int64(res.EmployeeID)),
		zap.Int64("deleted_bookings", res.DeletedBookings),
		zap.Int64("cleared_links", res.ClearedManagerLinks))
	writeJSON(w, http.StatusOK, DeleteResultDTO{
		EmployeeID:          res.EmployeeID,
		FullName:            res.FullName,
		ClearedManagerLinks: res.ClearedManagerLinks,
		DeletedBookings:     res.DeletedBookings,
	})
}

// RenameEmployee changes a full name and every manager link pointing at it.
func (h *Handler) RenameEmployee(w http.ResponseWriter, r *http.Request) {
	id, ok := h.employeeID(w, r)
	if !ok {
		return
	}
	var req RenameRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.Ledger.RenameEmployee(r.Context(), id, req.FullName)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to rename employee", err)
		return
	}
	writeJSON(w, http.StatusOK, RenameResultDTO{
		EmployeeID:   res.EmployeeID,
		OldName:      res.OldName,
		NewName:      res.NewName,
		UpdatedLinks: res.UpdatedLinks,
	})
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// ListBookings returns one employee's bookings, newest first.
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	id, ok := h.employeeID(w, r)
	if !ok {
		return
	}
	bookings, err := h.Ledger.BookingHistory(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to list bookings", err)
		return
	}
	dtos := make([]BookingDTO, len(bookings))
	for i, b := range bookings {
		dtos[i] = toBookingDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AddBooking books a vacation range and charges the balance.
func (h *Handler) AddBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := h.employeeID(w, r)
	if !ok {
		return
	}
	var req AddBookingRequest
	if !h.decode(w, r, &req) {
		return
	}
	b, err := h.Ledger.AddBooking(r.Context(), id, req.StartDate, req.EndDate)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to add booking", err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingDTO(b))
}

// BookingsInYear lists bookings whose start or end falls in ?year.
// Defaults to the current year.
func (h *Handler) BookingsInYear(w http.ResponseWriter, r *http.Request) {
	year := time.Now().Year()
	if s := r.URL.Query().Get("year"); s != "" {
		y, err := strconv.Atoi(s)
		if err != nil {
			h.writeLedgerError(w, r, "Invalid year", generic.NewValidationError("year", "must be a number"))
			return
		}
		year = y
	}
	views, err := h.Ledger.BookingsInYear(r.Context(), year)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to list bookings", err)
		return
	}
	dtos := make([]BookingViewDTO, len(views))
	for i, v := range views {
		dtos[i] = BookingViewDTO{BookingDTO: toBookingDTO(v.Booking), FullName: v.FullName, ManagerName: v.ManagerName}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Summary returns the booking nearest to today for a tax id.
// GET /api/summary/{taxID}
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Ledger.NearestBookingSummary(r.Context(), chi.URLParam(r, "taxID"))
	if err != nil {
		h.writeLedgerError(w, r, "Failed to build summary", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(sum))
}

// =============================================================================
// HIERARCHY HANDLERS
// =============================================================================

// ListManagers returns the names of all employees with role Manager.
func (h *Handler) ListManagers(w http.ResponseWriter, r *http.Request) {
	names, err := h.Ledger.ManagerNames(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, "Failed to list managers", err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

// ListSubordinates returns everyone below a manager, with nearest bookings.
// GET /api/managers/{name}/subordinates
func (h *Handler) ListSubordinates(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	subs, err := h.Ledger.TransitiveSubordinates(r.Context(), name)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to list subordinates", err)
		return
	}
	dtos := make([]SubordinateDTO, len(subs))
	for i, s := range subs {
		dtos[i] = SubordinateDTO{
			Employee:       toEmployeeDTO(s.Employee),
			Depth:          s.Depth,
			NearestBooking: toBookingPtr(s.Nearest),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// Import applies a JSON array of staff records in one transaction.
// POST /api/import
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", generic.KindValidation, err)
		return
	}
	raws, err := factory.NewRecordFactory().ParseJSON(body)
	if err != nil {
		h.writeLedgerError(w, r, "Invalid import payload", err)
		return
	}
	res, err := h.Ledger.Import(r.Context(), raws)
	if err != nil {
		h.writeLedgerError(w, r, "Import failed", err)
		return
	}
	h.Logger.Info("import committed",
		zap.String("run_id", res.RunID),
		zap.Int("inserted", res.Inserted),
		zap.Int("updated", res.Updated),
		zap.Int("skipped", len(res.Errors)))
	writeJSON(w, http.StatusOK, res)
}

// Reconcile rewrites one employee's balance from their bookings.
// POST /api/employees/{id}/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.employeeID(w, r)
	if !ok {
		return
	}
	res, err := h.Ledger.ReconcileBalance(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, r, "Failed to reconcile balance", err)
		return
	}
	if res.Changed() {
		h.Logger.Warn("balance repaired",
			zap.Int64("employee_id", int64(id)),
			zap.Int("before", res.Before),
			zap.Int("after", res.After))
	}
	writeJSON(w, http.StatusOK, ReconcileResultDTO{
		EmployeeID: res.EmployeeID,
		Before:     res.Before,
		After:      res.After,
		Changed:    res.Changed(),
	})
}

// Audit reports every stored balance that disagrees with the bookings.
// Nothing is repaired.
// GET /api/admin/audit
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	run := AuditRunDTO{ID: uuid.NewString(), StartedAt: time.Now().UTC()}
	drifts, err := h.Ledger.AuditBalances(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, "Audit failed", err)
		return
	}
	run.Drifts = toDriftDTOs(drifts)
	writeJSON(w, http.StatusOK, run)
}

// ListAuditRuns returns the scheduler's recent runs, newest first.
// GET /api/admin/audit/runs
func (h *Handler) ListAuditRuns(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeJSON(w, http.StatusOK, []AuditRunDTO{})
		return
	}
	writeJSON(w, http.StatusOK, h.Scheduler.Runs())
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, kind generic.Kind, err error) {
	resp := ErrorResponse{Error: message, Code: string(kind)}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch generic.KindOf(err) {
	case generic.KindValidation, generic.KindInvalidRange:
		return http.StatusBadRequest
	case generic.KindNotFound:
		return http.StatusNotFound
	case generic.KindDuplicateCredential, generic.KindDuplicateName, generic.KindOverlap:
		return http.StatusConflict
	case generic.KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	case generic.KindBusy:
		return http.StatusServiceUnavailable
	case generic.KindImportAborted:
		if generic.IsRetryable(err) {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeLedgerError classifies err and writes the matching ErrorResponse.
// Server-side failures are logged; client errors are not.
func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: message, Code: string(generic.KindOf(err)), Details: err.Error()}

	var ve *generic.ValidationError
	var ibe *generic.InsufficientBalanceError
	switch {
	case errors.As(err, &ve):
		fields := make(map[string]string, len(ve.Fields))
		for _, f := range ve.Fields {
			fields[f.Field] = f.Message
		}
		resp.Details = fields
	case errors.As(err, &ibe):
		resp.Details = map[string]int{"available": ibe.Available, "requested": ibe.Requested}
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	if status >= http.StatusInternalServerError {
		h.Logger.Error(message,
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	writeJSON(w, status, resp)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", generic.KindValidation, err)
		return false
	}
	return true
}

func (h *Handler) employeeID(w http.ResponseWriter, r *http.Request) (generic.EmployeeID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.writeLedgerError(w, r, "Invalid employee id", fmt.Errorf("%w: employee id %q", generic.ErrInvalidArgument, raw))
		return 0, false
	}
	return generic.EmployeeID(id), true
}
