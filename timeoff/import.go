/*
import.go - Bulk import reconciler

PURPOSE:
  Applies a batch of staff records (already parsed from a spreadsheet or
  JSON) to the ledger. Records are keyed by tax id, so re-running the same
  batch updates instead of duplicating.

ALGORITHM:
  1. Normalize every record through factory.RecordFactory
  2. Known managers = Manager rows in the ledger + Manager rows in the batch
  3. For each record, in order:
     - invalid record            -> per-record error, continue
     - manager not a known name  -> link cleared
     - tax id already present    -> update; remaining += new_annual - old_annual,
                                    a changed name is renamed with link fan-out
     - otherwise                 -> insert with remaining = annual
  4. Commit the whole batch at once

FAILURE MODES:
  Per-record problems are soft: they are collected in ImportResult.Errors
  and the batch goes on. Anything the store reports is hard: the batch is
  rolled back and *generic.ImportAbortedError is returned.

SEE ALSO:
  - factory/record.go: Raw record normalization
  - hierarchy.go: relinkReports
*/
package timeoff

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/warp/vacation-ledger/factory"
	"github.com/warp/vacation-ledger/generic"
)

// RecordError is a skipped import record.
type RecordError struct {
	Index   int    `json:"index"`
	TaxID   string `json:"tax_id,omitempty"`
	Message string `json:"message"`
}

// ImportResult summarizes one committed import run.
type ImportResult struct {
	RunID    string        `json:"run_id"`
	Inserted int           `json:"inserted"`
	Updated  int           `json:"updated"`
	Errors   []RecordError `json:"errors"`
}

// Import reconciles raw records against the ledger in one transaction.
func (l *Ledger) Import(ctx context.Context, raws []map[string]any) (ImportResult, error) {
	result := ImportResult{RunID: uuid.NewString(), Errors: []RecordError{}}
	f := factory.NewRecordFactory()

	records := make([]*factory.EmployeeRecord, len(raws))
	batchManagers := make(map[string]bool)
	for i, raw := range raws {
		rec, err := f.FromMap(raw)
		if err == nil {
			err = l.validateStruct(rec)
		}
		if err != nil {
			result.Errors = append(result.Errors, RecordError{Index: i, TaxID: rawTaxID(raw), Message: err.Error()})
			continue
		}
		records[i] = &rec
		if rec.Role == generic.RoleManager {
			batchManagers[rec.FullName] = true
		}
	}

	err := l.store.WithTx(ctx, func(tx generic.Store) error {
		known, err := knownManagers(ctx, tx, batchManagers)
		if err != nil {
			return err
		}

		for i, rec := range records {
			if rec == nil {
				continue
			}
			if !known[rec.ManagerName] || rec.ManagerName == rec.FullName {
				rec.ManagerName = ""
			}

			outcome, err := l.applyRecord(ctx, tx, *rec)
			var soft *softError
			switch {
			case errors.As(err, &soft):
				result.Errors = append(result.Errors, RecordError{Index: i, TaxID: rec.TaxID, Message: soft.Error()})
			case err != nil:
				return fmt.Errorf("record %d: %w", i, err)
			case outcome == inserted:
				result.Inserted++
			default:
				result.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, &generic.ImportAbortedError{RunID: result.RunID, Cause: err}
	}
	return result, nil
}

type applyOutcome int

const (
	inserted applyOutcome = iota
	updated
)

// softError marks a record-level problem that skips the record only.
type softError struct{ msg string }

func (e *softError) Error() string { return e.msg }

func (l *Ledger) applyRecord(ctx context.Context, tx generic.Store, rec factory.EmployeeRecord) (applyOutcome, error) {
	existing, err := tx.GetEmployeeByTaxID(ctx, rec.TaxID)
	if err != nil {
		return 0, err
	}

	byName, err := tx.GetEmployeeByName(ctx, rec.FullName)
	if err != nil {
		return 0, err
	}
	if byName != nil && (existing == nil || byName.ID != existing.ID) {
		return 0, &softError{msg: fmt.Sprintf("name %q is already used by another employee", rec.FullName)}
	}

	if existing == nil {
		_, err := tx.InsertEmployee(ctx, generic.Employee{
			FullName:      rec.FullName,
			TaxID:         rec.TaxID,
			Role:          rec.Role,
			ManagerName:   generic.StrPtr(rec.ManagerName),
			AnnualDays:    rec.AnnualDays,
			RemainingDays: rec.AnnualDays,
		})
		return inserted, err
	}

	// The balance delta must apply to the row as of the lock, not the lookup.
	existing, err = tx.LockEmployee(ctx, existing.ID)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		return 0, &softError{msg: fmt.Sprintf("employee with tax id %s was deleted during import", rec.TaxID)}
	}

	if existing.FullName != rec.FullName {
		if _, err := renameInTx(ctx, tx, existing.ID, rec.FullName); err != nil {
			if errors.Is(err, generic.ErrValidation) {
				return 0, &softError{msg: err.Error()}
			}
			return 0, err
		}
		existing.FullName = rec.FullName
	}

	existing.RemainingDays += rec.AnnualDays - existing.AnnualDays
	existing.AnnualDays = rec.AnnualDays
	existing.Role = rec.Role
	existing.ManagerName = generic.StrPtr(rec.ManagerName)
	return updated, tx.UpdateEmployee(ctx, *existing)
}

func knownManagers(ctx context.Context, tx generic.Store, batch map[string]bool) (map[string]bool, error) {
	managers, err := tx.ListByRole(ctx, generic.RoleManager)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(managers)+len(batch))
	for _, m := range managers {
		known[m.FullName] = true
	}
	for name := range batch {
		known[name] = true
	}
	return known, nil
}

func rawTaxID(raw map[string]any) string {
	for _, k := range []string{"tax_id", "ipn", "taxid"} {
		if s, ok := raw[k].(string); ok {
			return s
		}
	}
	return ""
}
