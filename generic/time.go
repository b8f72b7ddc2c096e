package generic

import (
	"fmt"
	"time"
)

// DateLayout is the textual calendar date format used everywhere: YYYY-MM-DD.
const DateLayout = "2006-01-02"

// =============================================================================
// DATE - Calendar day without time-of-day
// =============================================================================

// Date is a calendar day, normalized to midnight UTC.
type Date struct {
	Time time.Time
}

// Constructors
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func Today() Date {
	return DateOf(time.Now())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDateFormat, s)
	}
	return Date{Time: t}, nil
}

// MustParseDate is ParseDate for literals in tests and fixtures.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Date) Before(other Date) bool        { return d.Time.Before(other.Time) }
func (d Date) Equal(other Date) bool         { return d.Time.Equal(other.Time) }
func (d Date) After(other Date) bool         { return d.Time.After(other.Time) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.Before(other) }

// Arithmetic
func (d Date) AddDays(n int) Date { return Date{Time: d.Time.AddDate(0, 0, n)} }

// Properties
func (d Date) Year() int      { return d.Time.Year() }
func (d Date) IsZero() bool   { return d.Time.IsZero() }
func (d Date) String() string { return d.Time.Format(DateLayout) }

// =============================================================================
// DATE RANGE CALCULATOR
// =============================================================================

// Span returns the inclusive number of days from start to end.
// The result is zero or negative when end is before start.
func Span(start, end Date) int {
	return int(end.Time.Sub(start.Time).Hours()/24) + 1
}

// DaysBetween parses two YYYY-MM-DD dates and returns the inclusive day
// count between them. A non-positive result means end < start; callers
// must treat it as ErrInvalidRange.
func DaysBetween(start, end string) (int, error) {
	s, err := ParseDate(start)
	if err != nil {
		return 0, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return 0, err
	}
	return Span(s, e), nil
}

// DistanceTo returns how many days d lies from the range [start, end].
// Zero when d is inside the range.
func (d Date) DistanceTo(start, end Date) int {
	switch {
	case d.Before(start):
		return Span(d, start) - 1
	case d.After(end):
		return Span(end, d) - 1
	default:
		return 0
	}
}

// =============================================================================
// PERIOD
// =============================================================================

// Period is an inclusive range of days.
type Period struct {
	Start Date
	End   Date
}

// Contains returns true if the day is within [Start, End].
func (p Period) Contains(d Date) bool {
	return d.AfterOrEqual(p.Start) && d.BeforeOrEqual(p.End)
}

// Overlaps returns true if both periods share at least one day.
func (p Period) Overlaps(other Period) bool {
	return p.Start.BeforeOrEqual(other.End) && other.Start.BeforeOrEqual(p.End)
}

// Days returns the inclusive length of the period.
func (p Period) Days() int { return Span(p.Start, p.End) }

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

func StartOfYear(year int) Date { return NewDate(year, time.January, 1) }
func EndOfYear(year int) Date   { return NewDate(year, time.December, 31) }

// Year returns the calendar year as a period.
func Year(year int) Period {
	return Period{Start: StartOfYear(year), End: EndOfYear(year)}
}
