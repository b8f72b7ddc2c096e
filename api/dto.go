/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger's Go types from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

  Employee creation and editing decode straight into timeoff.NewEmployee
  and timeoff.EmployeeUpdate, which carry their own json and validate tags.

SEE ALSO:
  - handlers.go: Uses these types
  - timeoff/types.go: Engine input and result types
*/
package api

import (
	"time"

	"github.com/warp/vacation-ledger/generic"
	"github.com/warp/vacation-ledger/timeoff"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type LoginRequest struct {
	TaxID string `json:"tax_id"`
}

type AddBookingRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type RenameRequest struct {
	FullName string `json:"full_name"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID            generic.EmployeeID `json:"id"`
	FullName      string             `json:"full_name"`
	TaxID         string             `json:"tax_id"`
	Role          generic.Role       `json:"role"`
	ManagerName   *string            `json:"manager_name"`
	AnnualDays    int                `json:"annual_days"`
	RemainingDays int                `json:"remaining_days"`
}

type BookingDTO struct {
	ID         generic.BookingID  `json:"id"`
	EmployeeID generic.EmployeeID `json:"employee_id"`
	StartDate  string             `json:"start_date"`
	EndDate    string             `json:"end_date"`
	TotalDays  int                `json:"total_days"`
}

// BookingViewDTO is a booking row of the yearly report.
type BookingViewDTO struct {
	BookingDTO
	FullName    string  `json:"full_name"`
	ManagerName *string `json:"manager_name"`
}

// SummaryDTO pairs an employee with at most one selected booking.
type SummaryDTO struct {
	Employee EmployeeDTO `json:"employee"`
	Booking  *BookingDTO `json:"booking"`
}

type SubordinateDTO struct {
	Employee       EmployeeDTO `json:"employee"`
	Depth          int         `json:"depth"`
	NearestBooking *BookingDTO `json:"nearest_booking"`
}

type IdentityDTO struct {
	EmployeeID generic.EmployeeID `json:"employee_id"`
	FullName   string             `json:"full_name"`
	Role       generic.Role       `json:"role"`
}

type EditResultDTO struct {
	Employee EmployeeDTO `json:"employee"`
	Booking  *BookingDTO `json:"booking,omitempty"`
	Warning  string      `json:"warning,omitempty"`
}

type DeleteResultDTO struct {
	EmployeeID          generic.EmployeeID `json:"employee_id"`
	FullName            string             `json:"full_name"`
	ClearedManagerLinks int64              `json:"cleared_manager_links"`
	DeletedBookings     int64              `json:"deleted_bookings"`
}

type RenameResultDTO struct {
	EmployeeID   generic.EmployeeID `json:"employee_id"`
	OldName      string             `json:"old_name"`
	NewName      string             `json:"new_name"`
	UpdatedLinks int64              `json:"updated_links"`
}

type ReconcileResultDTO struct {
	EmployeeID generic.EmployeeID `json:"employee_id"`
	Before     int                `json:"before"`
	After      int                `json:"after"`
	Changed    bool               `json:"changed"`
}

// DriftDTO is one employee whose stored balance disagrees with the bookings.
type DriftDTO struct {
	EmployeeID generic.EmployeeID `json:"employee_id"`
	FullName   string             `json:"full_name"`
	Stored     int                `json:"stored"`
	Expected   int                `json:"expected"`
	Booked     int                `json:"booked"`
}

// AuditRunDTO records one balance audit, on demand or scheduled.
type AuditRunDTO struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	Drifts    []DriftDTO `json:"drifts"`
	Repaired  int        `json:"repaired"`
	Error     string     `json:"error,omitempty"`
}

// ScenarioDTO describes a demo org chart.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Employees   int    `json:"employees"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toEmployeeDTO(e generic.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:            e.ID,
		FullName:      e.FullName,
		TaxID:         e.TaxID,
		Role:          e.Role,
		ManagerName:   e.ManagerName,
		AnnualDays:    e.AnnualDays,
		RemainingDays: e.RemainingDays,
	}
}

func toBookingDTO(b generic.Booking) BookingDTO {
	return BookingDTO{
		ID:         b.ID,
		EmployeeID: b.EmployeeID,
		StartDate:  b.StartDate.String(),
		EndDate:    b.EndDate.String(),
		TotalDays:  b.TotalDays,
	}
}

func toBookingPtr(b *generic.Booking) *BookingDTO {
	if b == nil {
		return nil
	}
	dto := toBookingDTO(*b)
	return &dto
}

func toSummaryDTO(s timeoff.Summary) SummaryDTO {
	return SummaryDTO{Employee: toEmployeeDTO(s.Employee), Booking: toBookingPtr(s.Booking)}
}

func toDriftDTOs(drifts []timeoff.BalanceDrift) []DriftDTO {
	out := make([]DriftDTO, len(drifts))
	for i, d := range drifts {
		out[i] = DriftDTO{
			EmployeeID: d.Employee.ID,
			FullName:   d.Employee.FullName,
			Stored:     d.Employee.RemainingDays,
			Expected:   d.Expected,
			Booked:     d.Booked,
		}
	}
	return out
}
