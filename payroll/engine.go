/*
engine.go - Period-scoped payroll calculation

PURPOSE:
  Pays every active employee for one exact pay period. This is the path used
  by process-payroll: entries are found by period, not by run.

ALGORITHM (per active employee, ordered by id):
  1. Open a store transaction
  2. Load the employee's unpaid entries whose period equals the target
     period exactly (no overlap matching)
  3. Sum hours (hourly) or days (daily), null counted as zero
  4. gross = total * rate, net = gross
  5. Mark every matched entry paid: bank_transfer, today, attributed to run
  6. Commit

  Employees without entries still get a zero result. The run row itself is
  not touched; marking it processed belongs to the caller.

ATOMICITY:
  One transaction per employee batch. A failure rolls back that employee's
  entries only; employees already committed stay paid and the error is
  returned to the caller.

SEE ALSO:
  - closing.go: Run-scoped closing workflow
  - policy.go: Gross pay per worker type
*/
package payroll

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Clock returns the current time. Payment dates are its UTC calendar day.
type Clock func() time.Time

// Engine computes pay and writes it back to work entries.
type Engine struct {
	store  TxStore
	clock  Clock
	logger zerolog.Logger
}

func NewEngine(store TxStore, clock Clock, logger zerolog.Logger) *Engine {
	if clock == nil {
		clock = time.Now
	}
	return &Engine{store: store, clock: clock, logger: logger}
}

// CalculatePayroll pays all active employees for period and attributes the
// paid entries to run.
func (e *Engine) CalculatePayroll(ctx context.Context, period Period, run Run) ([]Result, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}

	active := true
	employees, err := e.store.ListEmployees(ctx, EmployeeFilter{IsActive: &active})
	if err != nil {
		return nil, fmt.Errorf("list active employees: %w", err)
	}
	sort.Slice(employees, func(i, j int) bool { return employees[i].ID < employees[j].ID })

	paymentDate := DateOf(e.clock())
	runID := run.ID
	results := make([]Result, 0, len(employees))

	for _, emp := range employees {
		var (
			gross decimal.Decimal
			paid  int
		)
		err := e.store.WithTx(ctx, func(tx Store) error {
			entries, err := tx.PayableEntries(ctx, emp.ID, period)
			if err != nil {
				return err
			}

			policy := e.policyFor(emp)
			gross = decimal.Zero
			for _, entry := range entries {
				entryGross := entryGrossPay(policy, entry)
				gross = gross.Add(entryGross)

				markPaid(&entry, entryGross, paymentDate, runID)
				if err := tx.SavePayment(ctx, entry); err != nil {
					return fmt.Errorf("save payment for entry %d: %w", entry.ID, err)
				}
			}
			paid = len(entries)
			return nil
		})
		if err != nil {
			return results, fmt.Errorf("pay employee %d: %w", emp.ID, err)
		}

		e.logger.Debug().
			Int64("employee_id", int64(emp.ID)).
			Int("entries", paid).
			Str("gross_pay", gross.StringFixed(2)).
			Msg("employee paid")

		results = append(results, Result{
			EmployeeID:   emp.ID,
			EmployeeName: emp.Name(),
			GrossPay:     gross,
			NetPay:       gross,
			PaymentType:  PaymentBankTransfer,
			PaymentDate:  paymentDate,
			PayrollRunID: runID,
			EntriesPaid:  paid,
		})
	}

	return results, nil
}

// policyFor returns nil for employees without a pay policy. Such employees
// are paid zero so one bad record does not block the batch.
func (e *Engine) policyFor(emp Employee) PayPolicy {
	policy, err := emp.PayPolicy()
	if err != nil {
		e.logger.Warn().Err(err).Int64("employee_id", int64(emp.ID)).Msg("no pay policy, paying zero")
		return nil
	}
	return policy
}

func entryGrossPay(policy PayPolicy, entry WorkEntry) decimal.Decimal {
	if policy == nil {
		return decimal.Zero
	}
	return policy.ComputeGross(policy.Quantity(entry))
}

func markPaid(entry *WorkEntry, gross decimal.Decimal, paymentDate Date, runID RunID) {
	date := paymentDate
	id := runID

	entry.GrossPay = gross
	entry.TotalDeductions = decimal.Zero
	entry.NetPay = gross
	entry.IsPaid = true
	entry.PaymentType = PaymentBankTransfer
	entry.PaymentDate = &date
	entry.PayrollRunID = &id
}
