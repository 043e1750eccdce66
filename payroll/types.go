/*
types.go - Core payroll types

PURPOSE:
  Defines the records the payroll engine works on: employees, work entries,
  payroll runs, and the per-employee results produced by a calculation.

KEY CONCEPTS:
  Date:       A calendar day. Pay periods and payment dates never carry a time.
  Period:     Inclusive [Start, End] pair. End may equal Start, never precede it.
  WorkEntry:  Hours or days worked by one employee in one exact period.
  Run:        A batch of work entries processed or closed together.

MONEY:
  All amounts and quantities are decimal.Decimal. Floats are never used for
  pay so that rate * quantity is exact to the precision of the inputs.

OWNERSHIP:
  Pay fields on a WorkEntry (GrossPay, TotalDeductions, NetPay, IsPaid,
  PaymentType, PaymentDate) are written only by the Engine. The generic
  update path in Service never touches them.

SEE ALSO:
  - policy.go: PayPolicy variants that turn quantity into gross pay
  - engine.go: CalculatePayroll
  - closing.go: CloseRun
*/
package payroll

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID int64
type WorkEntryID int64
type RunID int64

// =============================================================================
// DATE - Calendar day without time of day
// =============================================================================

// DateLayout is the only accepted wire format for dates.
const DateLayout = "2006-01-02"

// Date is a calendar day, stored as UTC midnight.
type Date struct {
	time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) Date {
	t = t.UTC()
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

func (d Date) Before(other Date) bool { return d.Time.Before(other.Time) }
func (d Date) After(other Date) bool  { return d.Time.After(other.Time) }
func (d Date) Equal(other Date) bool  { return d.Time.Equal(other.Time) }

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" || s == `""` {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(strings.Trim(s, `"`))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// =============================================================================
// PERIOD
// =============================================================================

// Period is an inclusive pay period.
type Period struct {
	Start Date
	End   Date
}

// NewPeriod builds a period, rejecting End before Start.
func NewPeriod(start, end Date) (Period, error) {
	p := Period{Start: start, End: end}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return ErrInvalidPeriod
	}
	if p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

// Matches reports exact boundary equality. Overlap is never a match.
func (p Period) Matches(other Period) bool {
	return p.Start.Equal(other.Start) && p.End.Equal(other.End)
}

func (p Period) String() string {
	return p.Start.String() + ".." + p.End.String()
}

// =============================================================================
// ENUMS
// =============================================================================

type WorkerType string

const (
	WorkerHourly WorkerType = "hourly"
	WorkerDaily  WorkerType = "daily"
)

func (wt WorkerType) Valid() bool {
	return wt == WorkerHourly || wt == WorkerDaily
}

type PaymentType string

const (
	PaymentBankTransfer PaymentType = "bank_transfer"
	PaymentCheck        PaymentType = "check"
	PaymentCash         PaymentType = "cash"
	PaymentDeferred     PaymentType = "deferred"
)

func (pt PaymentType) Valid() bool {
	switch pt {
	case PaymentBankTransfer, PaymentCheck, PaymentCash, PaymentDeferred:
		return true
	}
	return false
}

// =============================================================================
// RECORDS
// =============================================================================

type Employee struct {
	ID         EmployeeID
	FirstName  string
	LastName   string
	WorkerType WorkerType
	HourlyRate decimal.NullDecimal
	DailyRate  decimal.NullDecimal
	IsActive   bool
	HireDate   Date // set on create, never updated
}

// Name is the display name used in payroll results.
func (e Employee) Name() string {
	return strings.TrimSpace(e.FirstName + " " + e.LastName)
}

type WorkEntry struct {
	ID           WorkEntryID
	EmployeeID   EmployeeID
	PayrollRunID *RunID
	Period       Period
	HoursWorked  decimal.NullDecimal
	DaysWorked   decimal.NullDecimal

	IsPaid              bool
	PaymentType         PaymentType // empty until paid unless chosen up front
	PaymentDate         *Date
	DeferredPaymentDate *Date

	GrossPay        decimal.Decimal
	TotalDeductions decimal.Decimal
	NetPay          decimal.Decimal
}

type Run struct {
	ID            RunID
	Period        Period
	DateCreated   time.Time
	DateProcessed *time.Time
	IsClosed      bool
	Notes         string

	// Entries is populated only by reads that ask for it.
	Entries []WorkEntry
}

// Result is the per-employee outcome of CalculatePayroll.
type Result struct {
	EmployeeID   EmployeeID
	EmployeeName string
	GrossPay     decimal.Decimal
	NetPay       decimal.Decimal
	PaymentType  PaymentType
	PaymentDate  Date
	PayrollRunID RunID

	EntriesPaid int
}

// =============================================================================
// FILTERS
// =============================================================================

type EmployeeFilter struct {
	WorkerType WorkerType
	IsActive   *bool
	Search     string // case-insensitive match on first or last name
}

type WorkEntryFilter struct {
	EmployeeID   *EmployeeID
	PayrollRunID *RunID
	IsPaid       *bool
	PaymentType  PaymentType
	PeriodStart  *Date
}

type RunFilter struct {
	PeriodStart   *Date
	PeriodEnd     *Date
	DateProcessed *Date // calendar day of processing
	IsClosed      *bool
}
