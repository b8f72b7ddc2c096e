/*
policies.go - Ledger policies and options

PURPOSE:
  Knobs that change how the ledger treats edge cases, set once when the
  ledger is built (from config in cmd/server).

NEGATIVE BALANCE POLICY:
  Lowering an employee's entitlement below the days already booked leaves
  remaining_days negative. The bookings are real, so the number is
  correct; the question is whether the edit should be accepted.

  allow:  Commit, and report a warning in EditResult (default)
  reject: Roll back with *generic.InsufficientBalanceError

  AddBooking never overdraws regardless of policy.

WINDOWS:
  SummaryWindowDays:  How far back NearestBookingSummary looks (default 90)
  OverviewWindowDays: How far back EmployeeOverview looks (default 30)

EXAMPLE:
  ledger := timeoff.NewLedger(store,
      timeoff.WithNegativeBalancePolicy(timeoff.RejectNegativeBalance),
      timeoff.WithClock(func() time.Time { return fixed }),
  )

SEE ALSO:
  - ledger.go: Where the policy is applied
  - internal/config: Where the policy is configured
*/
package timeoff

import (
	"fmt"
	"time"
)

// =============================================================================
// NEGATIVE BALANCE POLICY
// =============================================================================

type NegativeBalancePolicy string

const (
	AllowNegativeBalance  NegativeBalancePolicy = "allow"
	RejectNegativeBalance NegativeBalancePolicy = "reject"
)

// ParseNegativeBalancePolicy accepts "allow", "reject" or "" (allow).
func ParseNegativeBalancePolicy(s string) (NegativeBalancePolicy, error) {
	switch NegativeBalancePolicy(s) {
	case "", AllowNegativeBalance:
		return AllowNegativeBalance, nil
	case RejectNegativeBalance:
		return RejectNegativeBalance, nil
	default:
		return "", fmt.Errorf("unknown negative balance policy %q", s)
	}
}

// =============================================================================
// OPTIONS
// =============================================================================

const (
	DefaultSummaryWindowDays  = 90
	DefaultOverviewWindowDays = 30
)

type Option func(*Ledger)

func WithNegativeBalancePolicy(p NegativeBalancePolicy) Option {
	return func(l *Ledger) { l.policy = p }
}

// WithClock replaces time.Now, which decides what "today" is.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithSummaryWindow(days int) Option {
	return func(l *Ledger) {
		if days > 0 {
			l.summaryWindow = days
		}
	}
}

func WithOverviewWindow(days int) Option {
	return func(l *Ledger) {
		if days > 0 {
			l.overviewWindow = days
		}
	}
}
