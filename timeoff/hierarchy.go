/*
hierarchy.go - Manager links by name

PURPOSE:
  An employee points at their manager by full name, not by id. This file
  keeps those links consistent when the manager is deleted or renamed, and
  walks them to build a manager's reporting tree.

TRAVERSAL:
  Breadth-first from the direct reports of the given name. A visited set
  keyed by name (seeded with the root) makes cycles from bad imports
  terminate: a node reached twice is skipped.

NEAREST BOOKING:
  Each subordinate is annotated with the booking closest to today by
  absolute day distance (0 when today is inside it). Ties go to the
  booking that comes first chronologically.

SEE ALSO:
  - ledger.go: DeleteEmployee and RenameEmployee use the fan-out helpers
*/
package timeoff

import (
	"context"
	"strings"

	"github.com/warp/vacation-ledger/generic"
)

// TransitiveSubordinates returns everyone reporting to managerName directly
// or indirectly, in breadth-first order. Unknown names yield an empty list.
func (l *Ledger) TransitiveSubordinates(ctx context.Context, managerName string) ([]Subordinate, error) {
	managerName = strings.TrimSpace(managerName)
	if managerName == "" {
		return nil, generic.NewValidationError("manager_name", "is required")
	}

	today := l.today()
	visited := map[string]bool{managerName: true}
	type node struct {
		name  string
		depth int
	}
	queue := []node{{name: managerName, depth: 0}}

	var result []Subordinate
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		reports, err := l.store.ListDirectReports(ctx, cur.name)
		if err != nil {
			return nil, err
		}
		for _, r := range reports {
			if visited[r.FullName] {
				continue
			}
			visited[r.FullName] = true

			bookings, err := l.store.ListBookings(ctx, r.ID)
			if err != nil {
				return nil, err
			}
			result = append(result, Subordinate{
				Employee: r,
				Depth:    cur.depth + 1,
				Nearest:  nearestBooking(bookings, today),
			})
			queue = append(queue, node{name: r.FullName, depth: cur.depth + 1})
		}
	}
	return result, nil
}

// nearestBooking picks the booking closest to today. Ties go to the earlier one.
func nearestBooking(bookings []generic.Booking, today generic.Date) *generic.Booking {
	var (
		best     *generic.Booking
		bestDist int
	)
	for i := range bookings {
		b := bookings[i]
		d := today.DistanceTo(b.StartDate, b.EndDate)
		if best == nil || d < bestDist || (d == bestDist && b.StartDate.Before(best.StartDate)) {
			best = &b
			bestDist = d
		}
	}
	return best
}

// =============================================================================
// LINK FAN-OUT - Called inside the caller's transaction
// =============================================================================

// detachReports clears manager links pointing at name.
func detachReports(ctx context.Context, tx generic.Store, name string) (int64, error) {
	return tx.ReplaceManagerName(ctx, name, nil)
}

// relinkReports moves manager links from oldName to newName.
func relinkReports(ctx context.Context, tx generic.Store, oldName, newName string) (int64, error) {
	return tx.ReplaceManagerName(ctx, oldName, &newName)
}
