/*
Package factory provides raw record to Go struct conversion for bulk import.

PURPOSE:
  Converts already-parsed staff records (maps from a spreadsheet export,
  a JSON upload or the CLI) into typed EmployeeRecord values. The importer
  in package timeoff only ever sees EmployeeRecord.

RAW RECORD SCHEMA:
  [
    {
      "full_name": "Olena Kovalenko",
      "tax_id": "4567890123",
      "role": "Employee",
      "manager_name": "Petro Petrenko",
      "annual_days": 24
    }
  ]

FIELD ALIASES:
  Exports from older HR sheets use different column names:
  - full_name:    fio, name
  - tax_id:       ipn, taxid
  - manager_name: manager_fio, manager
  - annual_days:  vacation_days_per_year, days

NUMBERS:
  Spreadsheets deliver numbers as floats or strings ("24", "24.0", 24.0).
  Values are parsed with shopspring/decimal and must be whole. A tax id
  given as a number is rendered back without exponent or fraction.

USAGE:
  f := factory.NewRecordFactory()
  raws, err := f.ParseJSON(data)
  for i, raw := range raws {
      rec, err := f.FromMap(raw)
      ...
  }

SEE ALSO:
  - timeoff/import.go: Bulk import reconciler
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/vacation-ledger/generic"
)

// =============================================================================
// RECORD TYPE
// =============================================================================

// EmployeeRecord is one normalized import row.
// The validate tags match timeoff.NewEmployee.
type EmployeeRecord struct {
	FullName    string       `json:"full_name" validate:"required,max=200"`
	TaxID       string       `json:"tax_id" validate:"required,taxid"`
	Role        generic.Role `json:"role" validate:"required,role"`
	ManagerName string       `json:"manager_name,omitempty" validate:"max=200"`
	AnnualDays  int          `json:"annual_days" validate:"min=0,max=366"`
}

// =============================================================================
// RECORD FACTORY
// =============================================================================

// RecordFactory converts raw records to EmployeeRecord.
type RecordFactory struct {
	aliases map[string][]string
}

// NewRecordFactory creates a factory with the default column aliases.
func NewRecordFactory() *RecordFactory {
	return &RecordFactory{
		aliases: map[string][]string{
			"full_name":    {"full_name", "fio", "name"},
			"tax_id":       {"tax_id", "ipn", "taxid"},
			"role":         {"role"},
			"manager_name": {"manager_name", "manager_fio", "manager"},
			"annual_days":  {"annual_days", "vacation_days_per_year", "days"},
		},
	}
}

// ParseJSON decodes a JSON array of objects. Numbers stay json.Number.
func (f *RecordFactory) ParseJSON(data []byte) ([]map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raws []map[string]any
	if err := dec.Decode(&raws); err != nil {
		return nil, fmt.Errorf("%w: import payload must be a JSON array of objects: %v", generic.ErrValidation, err)
	}
	return raws, nil
}

// FromMap normalizes one raw record. Every problem found is reported in a
// single *generic.ValidationError.
func (f *RecordFactory) FromMap(raw map[string]any) (EmployeeRecord, error) {
	var (
		rec  EmployeeRecord
		errs []generic.FieldError
	)
	fail := func(field, msg string) {
		errs = append(errs, generic.FieldError{Field: field, Message: msg})
	}

	if v, ok := f.lookup(raw, "full_name"); ok {
		rec.FullName = strings.TrimSpace(toString(v))
	}
	if rec.FullName == "" {
		fail("full_name", "is required")
	}

	if v, ok := f.lookup(raw, "tax_id"); ok {
		rec.TaxID = strings.TrimSpace(toString(v))
	}
	if !generic.ValidTaxID(rec.TaxID) {
		fail("tax_id", "must be exactly 10 digits")
	}

	if v, ok := f.lookup(raw, "role"); ok {
		role, err := parseRole(toString(v))
		if err != nil {
			fail("role", err.Error())
		}
		rec.Role = role
	} else {
		fail("role", "is required")
	}

	if v, ok := f.lookup(raw, "manager_name"); ok {
		rec.ManagerName = strings.TrimSpace(toString(v))
	}

	if v, ok := f.lookup(raw, "annual_days"); ok {
		days, err := parseWholeNumber(v)
		switch {
		case err != nil:
			fail("annual_days", err.Error())
		case days < 0:
			fail("annual_days", "must not be negative")
		default:
			rec.AnnualDays = days
		}
	} else {
		fail("annual_days", "is required")
	}

	if len(errs) > 0 {
		return EmployeeRecord{}, &generic.ValidationError{Fields: errs}
	}
	return rec, nil
}

// lookup returns the first present, non-nil alias of field.
func (f *RecordFactory) lookup(raw map[string]any, field string) (any, bool) {
	for _, key := range f.aliases[field] {
		if v, ok := raw[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseRole(s string) (generic.Role, error) {
	norm := strings.ToLower(strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-'
	}), " "))
	for _, r := range generic.Roles {
		if strings.ToLower(string(r)) == norm {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

var maxWholeNumber = decimal.NewFromInt(math.MaxInt32)

// parseWholeNumber accepts JSON numbers, Go numbers and numeric strings.
func parseWholeNumber(v any) (int, error) {
	d, err := toDecimal(v)
	if err != nil {
		return 0, err
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("must be a whole number, got %s", d.String())
	}
	if d.Abs().GreaterThan(maxWholeNumber) {
		return 0, fmt.Errorf("out of range: %s", d.String())
	}
	return int(d.IntPart()), nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case json.Number:
		return decimal.NewFromString(x.String())
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(x))
		if err != nil {
			return decimal.Zero, fmt.Errorf("not a number: %q", x)
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(x), nil
	case float32:
		return decimal.NewFromFloat32(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case int32:
		return decimal.NewFromInt32(x), nil
	default:
		return decimal.Zero, fmt.Errorf("not a number: %v", v)
	}
}

// toString renders numbers without exponent, so 4567890123.0 becomes "4567890123".
func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number, float64, float32, int, int64, int32:
		d, err := toDecimal(x)
		if err != nil {
			return fmt.Sprint(v)
		}
		return d.String()
	default:
		return fmt.Sprint(v)
	}
}
