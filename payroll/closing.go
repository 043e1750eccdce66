/*
closing.go - Run-scoped closing workflow

PURPOSE:
  Finalizes one payroll run. Unlike CalculatePayroll, entries are not found
  by period: every entry attached to the run is paid, whatever its period.

PRECONDITIONS (checked before any write):
  - run is open             else ErrRunAlreadyClosed
  - run has >= 1 entry      else ErrRunHasNoEntries

ALGORITHM (single store transaction):
  1. Lock the run row
  2. For each attached entry: gross from the employee's pay policy,
     net = gross, paid by bank_transfer today
  3. Compare-and-swap is_closed false -> true, date_processed = now

  Step 3 runs only after every entry write succeeded. If the swap finds the
  run already closed (a concurrent close won), everything rolls back and the
  caller gets ErrRunAlreadyClosed.

RETRIES:
  Pay is recomputed from hours/days and rates each time, so repeating a
  close that failed part way produces the same figures.
*/
package payroll

import (
	"context"
	"fmt"
)

// CloseRun pays every entry attached to the run and closes it.
// The returned run carries the paid entries.
func (e *Engine) CloseRun(ctx context.Context, id RunID) (*Run, error) {
	now := e.clock()
	paymentDate := DateOf(now)

	var closed *Run
	err := e.store.WithTx(ctx, func(tx Store) error {
		run, err := tx.LockRun(ctx, id)
		if err != nil {
			return err
		}
		if run.IsClosed {
			return ErrRunAlreadyClosed
		}

		entries, err := tx.ListWorkEntries(ctx, WorkEntryFilter{PayrollRunID: &id})
		if err != nil {
			return fmt.Errorf("load run entries: %w", err)
		}
		if len(entries) == 0 {
			return ErrRunHasNoEntries
		}

		policies := make(map[EmployeeID]PayPolicy)
		for i := range entries {
			entry := &entries[i]

			policy, seen := policies[entry.EmployeeID]
			if !seen {
				emp, err := tx.GetEmployee(ctx, entry.EmployeeID)
				if err != nil {
					return fmt.Errorf("entry %d: %w", entry.ID, err)
				}
				policy = e.policyFor(*emp)
				policies[entry.EmployeeID] = policy
			}

			markPaid(entry, entryGrossPay(policy, *entry), paymentDate, id)
			if err := tx.SavePayment(ctx, *entry); err != nil {
				return fmt.Errorf("save payment for entry %d: %w", entry.ID, err)
			}
		}

		swapped, err := tx.CloseRun(ctx, id, now)
		if err != nil {
			return fmt.Errorf("close run: %w", err)
		}
		if !swapped {
			return ErrRunAlreadyClosed
		}

		run.IsClosed = true
		run.DateProcessed = &now
		run.Entries = entries
		closed = run
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Int64("run_id", int64(id)).
		Int("entries", len(closed.Entries)).
		Msg("payroll run closed")
	return closed, nil
}
