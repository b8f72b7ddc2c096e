/*
scenarios.go - Demo org charts for testing and demonstrations

PURPOSE:
  Provides pre-built org charts that populate the ledger with realistic
  data for demos. Each scenario goes through the same paths as real
  traffic: staff rows through Ledger.Import, vacations through
  Ledger.AddBooking. Booking dates are relative to today so summaries
  and overviews always have something to show.

AVAILABLE SCENARIOS:
  small-team:     One manager, three reports, HR
  deep-hierarchy: Four management levels for subordinate traversal
  summer-rush:    Many bookings around today, one nearly exhausted balance

HOW SCENARIOS WORK:
  1. Reset the store (clear all data)
  2. Import the staff records
  3. Book the vacations

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "small-team"}

NOTE:
  Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler
  - timeoff/import.go: Bulk import reconciler
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/warp/vacation-ledger/generic"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenarioBooking struct {
	taxID     string
	fromToday int
	days      int
}

type scenario struct {
	ScenarioDTO
	staff    []map[string]any
	bookings []scenarioBooking
}

func staffRow(name, taxID, role, manager string, days int) map[string]any {
	return map[string]any{
		"full_name":    name,
		"tax_id":       taxID,
		"role":         role,
		"manager_name": manager,
		"annual_days":  days,
	}
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "small-team",
			Name:        "Small Team",
			Description: "One manager with three reports and an HR manager",
		},
		staff: []map[string]any{
			staffRow("Petro Petrenko", "1000000001", "Manager", "", 28),
			staffRow("Olena Kovalenko", "1000000002", "Employee", "Petro Petrenko", 24),
			staffRow("Ivan Shevchenko", "1000000003", "Employee", "Petro Petrenko", 24),
			staffRow("Mariia Bondar", "1000000004", "Employee", "Petro Petrenko", 24),
			staffRow("Hanna Melnyk", "1000000005", "HR Manager", "", 28),
		},
		bookings: []scenarioBooking{
			{"1000000002", 7, 5},
			{"1000000003", -20, 3},
			{"1000000003", 40, 10},
			{"1000000001", 14, 7},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "deep-hierarchy",
			Name:        "Deep Hierarchy",
			Description: "Director, two heads, team leads and engineers",
		},
		staff: []map[string]any{
			staffRow("Director", "2000000001", "Manager", "", 30),
			staffRow("Head of Platform", "2000000002", "Manager", "Director", 28),
			staffRow("Head of Product", "2000000003", "Manager", "Director", 28),
			staffRow("Platform Lead", "2000000004", "Manager", "Head of Platform", 26),
			staffRow("Product Lead", "2000000005", "Manager", "Head of Product", 26),
			staffRow("Platform Engineer", "2000000006", "Employee", "Platform Lead", 24),
			staffRow("Product Engineer", "2000000007", "Employee", "Product Lead", 24),
			staffRow("Recruiter", "2000000008", "HR Manager", "Director", 24),
		},
		bookings: []scenarioBooking{
			{"2000000002", 3, 5},
			{"2000000006", 0, 2},
			{"2000000007", -5, 10},
			{"2000000005", 30, 14},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "summer-rush",
			Name:        "Summer Rush",
			Description: "Overlapping team vacations and an almost exhausted balance",
		},
		staff: []map[string]any{
			staffRow("Team Lead", "3000000001", "Manager", "", 24),
			staffRow("Busy Bee", "3000000002", "Employee", "Team Lead", 10),
			staffRow("Night Owl", "3000000003", "Employee", "Team Lead", 24),
			staffRow("Early Bird", "3000000004", "Employee", "Team Lead", 24),
		},
		bookings: []scenarioBooking{
			{"3000000002", -30, 4},
			{"3000000002", 5, 5},
			{"3000000003", 1, 14},
			{"3000000004", 2, 7},
			{"3000000001", 20, 10},
		},
	},
}

func init() {
	for i := range scenarios {
		scenarios[i].Employees = len(scenarios[i].staff)
	}
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s.ScenarioDTO)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	var chosen *scenario
	for i := range scenarios {
		if scenarios[i].ID == req.ScenarioID {
			chosen = &scenarios[i]
			break
		}
	}
	if chosen == nil {
		h.writeLedgerError(w, r, "Unknown scenario", fmt.Errorf("scenario %q: %w", req.ScenarioID, generic.ErrNotFound))
		return
	}

	if err := h.resetStore(r.Context()); err != nil {
		h.writeLedgerError(w, r, "Failed to reset store", err)
		return
	}
	if err := h.loadScenario(r.Context(), *chosen); err != nil {
		h.writeLedgerError(w, r, "Failed to load scenario", err)
		return
	}

	h.currentScenario = chosen.ID
	h.Logger.Info("scenario loaded", zap.String("scenario", chosen.ID))
	writeJSON(w, http.StatusOK, chosen.ScenarioDTO)
}

// ResetDatabase clears every employee and booking.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.resetStore(r.Context()); err != nil {
		h.writeLedgerError(w, r, "Failed to reset store", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) resetStore(ctx context.Context) error {
	resetter, ok := h.Store.(interface{ Reset(context.Context) error })
	if !ok {
		return fmt.Errorf("reset: %w: store does not support reset", generic.ErrStorage)
	}
	return resetter.Reset(ctx)
}

func (h *Handler) loadScenario(ctx context.Context, s scenario) error {
	res, err := h.Ledger.Import(ctx, s.staff)
	if err != nil {
		return err
	}
	if len(res.Errors) > 0 {
		return fmt.Errorf("scenario %s: %w: record %d: %s", s.ID, generic.ErrValidation, res.Errors[0].Index, res.Errors[0].Message)
	}

	today := generic.Today()
	for _, b := range s.bookings {
		who, err := h.Ledger.Authenticate(ctx, b.taxID)
		if err != nil {
			return err
		}
		start := today.AddDays(b.fromToday)
		end := start.AddDays(b.days - 1)
		if _, err := h.Ledger.AddBooking(ctx, who.EmployeeID, start.String(), end.String()); err != nil {
			return fmt.Errorf("scenario %s: booking for %s: %w", s.ID, who.FullName, err)
		}
	}
	return nil
}
