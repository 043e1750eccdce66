/*
policy.go - Pay policies by worker type

PURPOSE:
  Turns a quantity of work into gross pay. Each worker type is its own
  variant with its own rate and its own quantity field, so the choice of
  rate and accumulator is made once, in Employee.PayPolicy.

VARIANTS:
  Hourly{Rate}:  gross = hours_worked * hourly_rate
  Daily{Rate}:   gross = days_worked  * daily_rate

NULLS:
  A missing rate is a zero rate. A missing quantity is a zero quantity.
  Neither is an error.

UNKNOWN WORKER TYPES:
  Employee.PayPolicy returns ErrUnknownWorkerType. Write paths reject such
  employees; the engine pays them zero and logs a warning.
*/
package payroll

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PayPolicy computes gross pay for one worker type.
type PayPolicy interface {
	WorkerType() WorkerType
	// Quantity picks the hours or days of an entry, zero when absent.
	Quantity(entry WorkEntry) decimal.Decimal
	ComputeGross(quantity decimal.Decimal) decimal.Decimal

	isPayPolicy()
}

type Hourly struct {
	Rate decimal.Decimal
}

func (Hourly) WorkerType() WorkerType { return WorkerHourly }

func (Hourly) Quantity(entry WorkEntry) decimal.Decimal {
	return orZero(entry.HoursWorked)
}

func (h Hourly) ComputeGross(hours decimal.Decimal) decimal.Decimal {
	return hours.Mul(h.Rate)
}

func (Hourly) isPayPolicy() {}

type Daily struct {
	Rate decimal.Decimal
}

func (Daily) WorkerType() WorkerType { return WorkerDaily }

func (Daily) Quantity(entry WorkEntry) decimal.Decimal {
	return orZero(entry.DaysWorked)
}

func (d Daily) ComputeGross(days decimal.Decimal) decimal.Decimal {
	return days.Mul(d.Rate)
}

func (Daily) isPayPolicy() {}

// PayPolicy returns the variant matching the employee's worker type.
func (e Employee) PayPolicy() (PayPolicy, error) {
	switch e.WorkerType {
	case WorkerHourly:
		return Hourly{Rate: orZero(e.HourlyRate)}, nil
	case WorkerDaily:
		return Daily{Rate: orZero(e.DailyRate)}, nil
	default:
		return nil, fmt.Errorf("%w: %q (employee %d)", ErrUnknownWorkerType, e.WorkerType, e.ID)
	}
}

// GrossFor sums the policy quantity over entries and prices the total.
func GrossFor(policy PayPolicy, entries []WorkEntry) decimal.Decimal {
	total := decimal.Zero
	for _, entry := range entries {
		total = total.Add(policy.Quantity(entry))
	}
	return policy.ComputeGross(total)
}

func orZero(d decimal.NullDecimal) decimal.Decimal {
	if !d.Valid {
		return decimal.Zero
	}
	return d.Decimal
}
