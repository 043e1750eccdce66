/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the payroll domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Response wrappers

MONEY AND QUANTITIES:
  Pay amounts are strings with two decimals ("200.00"). Hours and days are
  strings as entered ("7.5"). Requests accept numbers or strings for both.

DATES:
  payroll.Date marshals as "YYYY-MM-DD" and null when unset.

SEE ALSO:
  - handlers.go: Uses these types
  - payroll/types.go: Domain records
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// EMPLOYEES
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID         int64        `json:"id"`
	FirstName  string       `json:"first_name"`
	LastName   string       `json:"last_name"`
	WorkerType string       `json:"worker_type"`
	HourlyRate *string      `json:"hourly_rate"`
	DailyRate  *string      `json:"daily_rate"`
	IsActive   bool         `json:"is_active"`
	HireDate   payroll.Date `json:"hire_date"`
}

// EmployeeRequest is the body of create and update. hire_date is ignored.
type EmployeeRequest struct {
	FirstName  string              `json:"first_name"`
	LastName   string              `json:"last_name"`
	WorkerType string              `json:"worker_type"`
	HourlyRate decimal.NullDecimal `json:"hourly_rate"`
	DailyRate  decimal.NullDecimal `json:"daily_rate"`
	IsActive   *bool               `json:"is_active"`
}

func (req EmployeeRequest) toEmployee(id payroll.EmployeeID) payroll.Employee {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return payroll.Employee{
		ID:         id,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		WorkerType: payroll.WorkerType(req.WorkerType),
		HourlyRate: req.HourlyRate,
		DailyRate:  req.DailyRate,
		IsActive:   active,
	}
}

func toEmployeeDTO(e payroll.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:         int64(e.ID),
		FirstName:  e.FirstName,
		LastName:   e.LastName,
		WorkerType: string(e.WorkerType),
		HourlyRate: money(e.HourlyRate),
		DailyRate:  money(e.DailyRate),
		IsActive:   e.IsActive,
		HireDate:   e.HireDate,
	}
}

// =============================================================================
// WORK ENTRIES
// =============================================================================

// WorkEntryDTO represents a work entry in API responses.
type WorkEntryDTO struct {
	ID                  int64         `json:"id"`
	Employee            int64         `json:"employee"`
	PayrollRun          *int64        `json:"payroll_run"`
	PeriodStart         payroll.Date  `json:"payroll_period_start"`
	PeriodEnd           payroll.Date  `json:"payroll_period_end"`
	HoursWorked         *string       `json:"hours_worked"`
	DaysWorked          *string       `json:"days_worked"`
	IsPaid              bool          `json:"is_paid"`
	PaymentType         *string       `json:"payment_type"`
	PaymentDate         *payroll.Date `json:"payment_date"`
	DeferredPaymentDate *payroll.Date `json:"deferred_payment_date"`
	GrossPay            string        `json:"gross_pay"`
	TotalDeductions     string        `json:"total_deductions"`
	NetPay              string        `json:"net_pay"`
}

// WorkEntryRequest is the body of create, update and each bulk-create item.
type WorkEntryRequest struct {
	Employee            int64               `json:"employee"`
	PayrollRun          *int64              `json:"payroll_run"`
	PeriodStart         payroll.Date        `json:"payroll_period_start"`
	PeriodEnd           payroll.Date        `json:"payroll_period_end"`
	HoursWorked         decimal.NullDecimal `json:"hours_worked"`
	DaysWorked          decimal.NullDecimal `json:"days_worked"`
	PaymentType         string              `json:"payment_type"`
	DeferredPaymentDate *payroll.Date       `json:"deferred_payment_date"`
}

func (req WorkEntryRequest) toWorkEntry(id payroll.WorkEntryID) payroll.WorkEntry {
	entry := payroll.WorkEntry{
		ID:                  id,
		EmployeeID:          payroll.EmployeeID(req.Employee),
		Period:              payroll.Period{Start: req.PeriodStart, End: req.PeriodEnd},
		HoursWorked:         req.HoursWorked,
		DaysWorked:          req.DaysWorked,
		PaymentType:         payroll.PaymentType(req.PaymentType),
		DeferredPaymentDate: req.DeferredPaymentDate,
	}
	if req.PayrollRun != nil {
		runID := payroll.RunID(*req.PayrollRun)
		entry.PayrollRunID = &runID
	}
	return entry
}

func toWorkEntryDTO(e payroll.WorkEntry) WorkEntryDTO {
	dto := WorkEntryDTO{
		ID:                  int64(e.ID),
		Employee:            int64(e.EmployeeID),
		PeriodStart:         e.Period.Start,
		PeriodEnd:           e.Period.End,
		HoursWorked:         quantity(e.HoursWorked),
		DaysWorked:          quantity(e.DaysWorked),
		IsPaid:              e.IsPaid,
		PaymentDate:         e.PaymentDate,
		DeferredPaymentDate: e.DeferredPaymentDate,
		GrossPay:            e.GrossPay.StringFixed(2),
		TotalDeductions:     e.TotalDeductions.StringFixed(2),
		NetPay:              e.NetPay.StringFixed(2),
	}
	if e.PayrollRunID != nil {
		runID := int64(*e.PayrollRunID)
		dto.PayrollRun = &runID
	}
	if e.PaymentType != "" {
		pt := string(e.PaymentType)
		dto.PaymentType = &pt
	}
	return dto
}

func toWorkEntryDTOs(entries []payroll.WorkEntry) []WorkEntryDTO {
	dtos := make([]WorkEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toWorkEntryDTO(e)
	}
	return dtos
}

// =============================================================================
// PAYROLL RUNS
// =============================================================================

// PayrollRunDTO represents a run in list and create responses.
type PayrollRunDTO struct {
	ID            int64        `json:"id"`
	PeriodStart   payroll.Date `json:"payroll_period_start"`
	PeriodEnd     payroll.Date `json:"payroll_period_end"`
	DateCreated   time.Time    `json:"date_created"`
	DateProcessed *time.Time   `json:"date_processed"`
	IsClosed      bool         `json:"is_closed"`
	Notes         string       `json:"notes"`
}

// PayrollRunDetailDTO is a run with its attached entries. work_entries is
// always present, [] when nothing is attached.
type PayrollRunDetailDTO struct {
	PayrollRunDTO
	WorkEntries []WorkEntryDTO `json:"work_entries"`
}

// CreateRunRequest registers a run without processing it.
type CreateRunRequest struct {
	PeriodStart payroll.Date `json:"payroll_period_start"`
	PeriodEnd   payroll.Date `json:"payroll_period_end"`
	Notes       string       `json:"notes"`
}

// UpdateRunRequest only carries notes. Periods and status are not editable.
type UpdateRunRequest struct {
	Notes string `json:"notes"`
}

func toRunDTO(r payroll.Run) PayrollRunDTO {
	return PayrollRunDTO{
		ID:            int64(r.ID),
		PeriodStart:   r.Period.Start,
		PeriodEnd:     r.Period.End,
		DateCreated:   r.DateCreated,
		DateProcessed: r.DateProcessed,
		IsClosed:      r.IsClosed,
		Notes:         r.Notes,
	}
}

func toRunDetailDTO(r payroll.Run) PayrollRunDetailDTO {
	return PayrollRunDetailDTO{PayrollRunDTO: toRunDTO(r), WorkEntries: toWorkEntryDTOs(r.Entries)}
}

// CloseRunResponse is returned by POST /payroll-runs/{id}/close.
type CloseRunResponse struct {
	Message    string              `json:"message"`
	PayrollRun PayrollRunDetailDTO `json:"payroll_run"`
}

// =============================================================================
// PROCESS PAYROLL
// =============================================================================

// ProcessPayrollRequest takes raw strings so each date problem gets its own message.
type ProcessPayrollRequest struct {
	PeriodStart string `json:"payroll_period_start"`
	PeriodEnd   string `json:"payroll_period_end"`
}

// PayrollResultDTO is one employee's line in a process-payroll response.
type PayrollResultDTO struct {
	EmployeeID   int64        `json:"employee_id"`
	EmployeeName string       `json:"employee_name"`
	GrossPay     string       `json:"gross_pay"`
	NetPay       string       `json:"net_pay"`
	PaymentType  string       `json:"payment_type"`
	PaymentDate  payroll.Date `json:"payment_date"`
	PayrollRun   int64        `json:"payroll_run"`
}

// ProcessPayrollResponse is returned by POST /process-payroll.
type ProcessPayrollResponse struct {
	Message string             `json:"message"`
	Payroll []PayrollResultDTO `json:"payroll"`
}

func toResultDTOs(results []payroll.Result) []PayrollResultDTO {
	dtos := make([]PayrollResultDTO, len(results))
	for i, r := range results {
		dtos[i] = PayrollResultDTO{
			EmployeeID:   int64(r.EmployeeID),
			EmployeeName: r.EmployeeName,
			GrossPay:     r.GrossPay.StringFixed(2),
			NetPay:       r.NetPay.StringFixed(2),
			PaymentType:  string(r.PaymentType),
			PaymentDate:  r.PaymentDate,
			PayrollRun:   int64(r.PayrollRunID),
		}
	}
	return dtos
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERRORS
// =============================================================================

// FieldIssueDTO names one invalid field.
type FieldIssueDTO struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string          `json:"error"`
	Details string          `json:"details,omitempty"`
	Fields  []FieldIssueDTO `json:"fields,omitempty"`
	Index   *int            `json:"index,omitempty"` // failing item of a bulk request
}

func money(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.StringFixed(2)
	return &s
}

func quantity(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}
