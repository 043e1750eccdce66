/*
validation.go - Input validation for employees and work entries

PURPOSE:
  Runs before anything is persisted. Every issue in one input is collected
  so a caller sees all of them at once.

RULES:
  Employee:
    - first_name and last_name required
    - worker_type is hourly or daily
    - rates, when present, are not negative and have at most 2 decimals

  WorkEntry:
    - employee is set
    - payroll_period_end >= payroll_period_start
    - hourly employees supply hours_worked and no days_worked
    - daily employees supply days_worked and no hours_worked
    - quantities are not negative and have at most 2 decimals
    - payment_type, when present, is a known type
    - deferred_payment_date only with payment_type "deferred"

SEE ALSO:
  - errors.go: ValidationError, WorkerTypeMismatchError
  - service.go: Calls these before writes
*/
package payroll

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Validator accumulates field issues.
type Validator struct {
	issues []ValidationIssue
	cause  error
}

func NewValidator() *Validator {
	return &Validator{issues: make([]ValidationIssue, 0, 4)}
}

func (v *Validator) Add(field, reason string) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return
	}
	v.issues = append(v.issues, ValidationIssue{Field: strings.TrimSpace(field), Reason: reason})
}

// AddCause records an issue and remembers the sentinel behind it.
func (v *Validator) AddCause(field string, cause error) {
	v.Add(field, cause.Error())
	if v.cause == nil {
		v.cause = cause
	}
}

func (v *Validator) Required(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.Add(field, "this field is required")
	}
}

func (v *Validator) NonNegative(field string, value decimal.NullDecimal) {
	if value.Valid && value.Decimal.IsNegative() {
		v.Add(field, "must not be negative")
	}
}

// Scale rejects values with more than places decimal digits. Trailing
// zeros do not count.
func (v *Validator) Scale(field string, value decimal.NullDecimal, places int32) {
	if value.Valid && !value.Decimal.Round(places).Equal(value.Decimal) {
		v.Add(field, fmt.Sprintf("must have at most %d decimal places", places))
	}
}

func (v *Validator) Period(startField, endField string, p Period) {
	if p.Start.IsZero() {
		v.Add(startField, "this field is required")
	}
	if p.End.IsZero() {
		v.Add(endField, "this field is required")
	}
	if !p.Start.IsZero() && !p.End.IsZero() && p.End.Before(p.Start) {
		v.AddCause(endField, ErrInvalidPeriod)
	}
}

func (v *Validator) HasIssues() bool {
	return len(v.issues) > 0
}

// Err returns nil when there were no issues.
func (v *Validator) Err() error {
	if !v.HasIssues() {
		return nil
	}
	return &ValidationError{Issues: append([]ValidationIssue(nil), v.issues...), cause: v.cause}
}

// =============================================================================
// RECORD VALIDATION
// =============================================================================

// Stored precision of rates and worked quantities.
const (
	moneyPlaces    = 2
	quantityPlaces = 2
)

func ValidateEmployee(e Employee) error {
	v := NewValidator()
	v.Required("first_name", e.FirstName)
	v.Required("last_name", e.LastName)
	if !e.WorkerType.Valid() {
		v.AddCause("worker_type", ErrUnknownWorkerType)
	}
	v.NonNegative("hourly_rate", e.HourlyRate)
	v.NonNegative("daily_rate", e.DailyRate)
	v.Scale("hourly_rate", e.HourlyRate, moneyPlaces)
	v.Scale("daily_rate", e.DailyRate, moneyPlaces)
	return v.Err()
}

// ValidateWorkEntry checks an entry against the employee it belongs to.
func ValidateWorkEntry(entry WorkEntry, employee Employee) error {
	v := NewValidator()
	if entry.EmployeeID <= 0 {
		v.Add("employee", "this field is required")
	}
	v.Period("payroll_period_start", "payroll_period_end", entry.Period)
	v.NonNegative("hours_worked", entry.HoursWorked)
	v.NonNegative("days_worked", entry.DaysWorked)
	v.Scale("hours_worked", entry.HoursWorked, quantityPlaces)
	v.Scale("days_worked", entry.DaysWorked, quantityPlaces)

	if mismatch := quantityMismatch(entry, employee); mismatch != nil {
		v.Add(mismatch.Field, mismatch.Reason)
		if v.cause == nil {
			v.cause = mismatch
		}
	}

	if entry.PaymentType != "" && !entry.PaymentType.Valid() {
		v.Add("payment_type", "unknown payment type "+string(entry.PaymentType))
	}
	if entry.DeferredPaymentDate != nil && entry.PaymentType != PaymentDeferred {
		v.Add("deferred_payment_date", "only allowed with payment_type deferred")
	}
	return v.Err()
}

func quantityMismatch(entry WorkEntry, employee Employee) *WorkerTypeMismatchError {
	mismatch := func(field, reason string) *WorkerTypeMismatchError {
		return &WorkerTypeMismatchError{
			EmployeeID: employee.ID,
			WorkerType: employee.WorkerType,
			Field:      field,
			Reason:     reason,
		}
	}

	switch employee.WorkerType {
	case WorkerHourly:
		if !entry.HoursWorked.Valid {
			return mismatch("hours_worked", "is required for hourly workers")
		}
		if entry.DaysWorked.Valid {
			return mismatch("days_worked", "must be empty for hourly workers")
		}
	case WorkerDaily:
		if !entry.DaysWorked.Valid {
			return mismatch("days_worked", "is required for daily workers")
		}
		if entry.HoursWorked.Valid {
			return mismatch("hours_worked", "must be empty for daily workers")
		}
	default:
		return mismatch("employee", "has no pay policy")
	}
	return nil
}
