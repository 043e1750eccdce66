/*
handlers.go - HTTP API handlers for the payroll engine

PURPOSE:
  Exposes the payroll service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to payroll.Service.

ENDPOINTS:
  Payroll:
    POST   /api/process-payroll                Create a run and pay the period
    GET    /api/payroll-runs                   List runs (filters below)
    POST   /api/payroll-runs                   Register an open run
    GET    /api/payroll-runs/{id}              Run with its work entries
    PUT    /api/payroll-runs/{id}              Update notes
    DELETE /api/payroll-runs/{id}              Delete an open run
    POST   /api/payroll-runs/{id}/close        Pay attached entries and close

  Employees:
    GET    /api/employees                      List (worker_type, is_active, search)
    POST   /api/employees                      Create
    GET    /api/employees/{id}                 Get
    PUT    /api/employees/{id}                 Update
    DELETE /api/employees/{id}                 Delete with its work entries

  Work entries:
    GET    /api/work-entries                   List (employee, payroll_run, is_paid,
                                               payment_type, payroll_period_start)
    POST   /api/work-entries                   Create
    POST   /api/work-entries/bulk-create       Create many, all or nothing
    GET    /api/work-entries/{id}              Get
    PUT    /api/work-entries/{id}              Update an unpaid entry
    DELETE /api/work-entries/{id}              Delete
    GET    /api/work-entries/{id}/payslip      PDF payslip of a paid entry

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, malformed input, closing a closed or empty run
  - 404: Resource not found
  - 409: Conflict (duplicate period, closed run, paid entry)
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payslip"
)

// Response messages for the payroll workflows.
const (
	MsgPayrollProcessed = "Payroll processed successfully."
	MsgRunClosed        = "Payroll run closed successfully."

	msgDatesRequired = "Both 'payroll_period_start' and 'payroll_period_end' are required."
	msgDateFormat    = "Dates must be in 'YYYY-MM-DD' format."
	msgPeriodOrder   = "'payroll_period_end' must be after 'payroll_period_start'."
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *payroll.Service

	// Company is printed on payslips.
	Company string

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler for the given service.
func NewHandler(svc *payroll.Service, company string) *Handler {
	return &Handler{Service: svc, Company: company}
}

// =============================================================================
// PROCESS PAYROLL
// =============================================================================

// ProcessPayroll creates a run for the period and pays every active employee.
// POST /api/process-payroll
func (h *Handler) ProcessPayroll(w http.ResponseWriter, r *http.Request) {
	var req ProcessPayrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.PeriodStart == "" || req.PeriodEnd == "" {
		writeError(w, http.StatusBadRequest, msgDatesRequired, nil)
		return
	}
	start, err := payroll.ParseDate(req.PeriodStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgDateFormat, nil)
		return
	}
	end, err := payroll.ParseDate(req.PeriodEnd)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgDateFormat, nil)
		return
	}
	period, err := payroll.NewPeriod(start, end)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgPeriodOrder, nil)
		return
	}

	outcome, err := h.Service.ProcessPeriod(r.Context(), period)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ProcessPayrollResponse{
		Message: MsgPayrollProcessed,
		Payroll: toResultDTOs(outcome.Results),
	})
}

// =============================================================================
// PAYROLL RUNS
// =============================================================================

// ListRuns returns runs, most recently processed first.
// GET /api/payroll-runs
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := queryParser{values: r.URL.Query()}
	filter := payroll.RunFilter{
		PeriodStart:   q.date("payroll_period_start"),
		PeriodEnd:     q.date("payroll_period_end"),
		DateProcessed: q.date("date_processed"),
		IsClosed:      q.boolean("is_closed"),
	}
	if q.err != nil {
		writeServiceError(w, r, q.err)
		return
	}

	runs, err := h.Service.ListRuns(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	dtos := make([]PayrollRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRun registers an open run. Nothing is calculated.
// POST /api/payroll-runs
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	run, err := h.Service.CreateRun(r.Context(), payroll.Period{Start: req.PeriodStart, End: req.PeriodEnd}, req.Notes)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRunDTO(*run))
}

// GetRun returns a run with its attached entries.
// GET /api/payroll-runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	run, err := h.Service.GetRun(r.Context(), payroll.RunID(id))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDetailDTO(*run))
}

// UpdateRun replaces the run's notes.
// PUT /api/payroll-runs/{id}
func (h *Handler) UpdateRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req UpdateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	run, err := h.Service.UpdateRunNotes(r.Context(), payroll.RunID(id), req.Notes)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDetailDTO(*run))
}

// DeleteRun deletes an open run and detaches its entries.
// DELETE /api/payroll-runs/{id}
func (h *Handler) DeleteRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Service.DeleteRun(r.Context(), payroll.RunID(id)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CloseRun pays the run's attached entries and closes it.
// POST /api/payroll-runs/{id}/close
func (h *Handler) CloseRun(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	run, err := h.Service.CloseRun(r.Context(), payroll.RunID(id))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CloseRunResponse{
		Message:    MsgRunClosed,
		PayrollRun: toRunDetailDTO(*run),
	})
}

// =============================================================================
// EMPLOYEES
// =============================================================================

// ListEmployees returns employees, newest hire first.
// GET /api/employees
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	q := queryParser{values: r.URL.Query()}
	filter := payroll.EmployeeFilter{
		WorkerType: payroll.WorkerType(q.values.Get("worker_type")),
		IsActive:   q.boolean("is_active"),
		Search:     q.values.Get("search"),
	}
	if q.err != nil {
		writeServiceError(w, r, q.err)
		return
	}

	employees, err := h.Service.ListEmployees(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateEmployee creates a new employee. The hire date is today.
// POST /api/employees
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req EmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	emp, err := h.Service.CreateEmployee(r.Context(), req.toEmployee(0))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(*emp))
}

// GetEmployee returns a single employee.
// GET /api/employees/{id}
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	emp, err := h.Service.GetEmployee(r.Context(), payroll.EmployeeID(id))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// UpdateEmployee replaces an employee's fields. The hire date is kept.
// PUT /api/employees/{id}
func (h *Handler) UpdateEmployee(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req EmployeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	emp, err := h.Service.UpdateEmployee(r.Context(), req.toEmployee(payroll.EmployeeID(id)))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// DeleteEmployee deletes an employee and their work entries.
// DELETE /api/employees/{id}
func (h *Handler) DeleteEmployee(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Service.DeleteEmployee(r.Context(), payroll.EmployeeID(id)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// WORK ENTRIES
// =============================================================================

// ListWorkEntries returns work entries, latest period first.
// GET /api/work-entries
func (h *Handler) ListWorkEntries(w http.ResponseWriter, r *http.Request) {
	q := queryParser{values: r.URL.Query()}
	filter := payroll.WorkEntryFilter{
		IsPaid:      q.boolean("is_paid"),
		PaymentType: payroll.PaymentType(q.values.Get("payment_type")),
		PeriodStart: q.date("payroll_period_start"),
	}
	if id := q.id("employee"); id != nil {
		empID := payroll.EmployeeID(*id)
		filter.EmployeeID = &empID
	}
	if id := q.id("payroll_run"); id != nil {
		runID := payroll.RunID(*id)
		filter.PayrollRunID = &runID
	}
	if q.err != nil {
		writeServiceError(w, r, q.err)
		return
	}

	entries, err := h.Service.ListWorkEntries(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkEntryDTOs(entries))
}

// CreateWorkEntry validates the entry against its employee and stores it unpaid.
// POST /api/work-entries
func (h *Handler) CreateWorkEntry(w http.ResponseWriter, r *http.Request) {
	var req WorkEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entry, err := h.Service.CreateWorkEntry(r.Context(), req.toWorkEntry(0))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWorkEntryDTO(*entry))
}

// BulkCreateWorkEntries creates every entry or none.
// POST /api/work-entries/bulk-create
func (h *Handler) BulkCreateWorkEntries(w http.ResponseWriter, r *http.Request) {
	var reqs []WorkEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body, expected a list of work entries", err)
		return
	}

	entries := make([]payroll.WorkEntry, len(reqs))
	for i, req := range reqs {
		entries[i] = req.toWorkEntry(0)
	}

	created, err := h.Service.BulkCreateWorkEntries(r.Context(), entries)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWorkEntryDTOs(created))
}

// GetWorkEntry returns a single work entry.
// GET /api/work-entries/{id}
func (h *Handler) GetWorkEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	entry, err := h.Service.GetWorkEntry(r.Context(), payroll.WorkEntryID(id))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkEntryDTO(*entry))
}

// UpdateWorkEntry replaces the editable fields of an unpaid entry.
// PUT /api/work-entries/{id}
func (h *Handler) UpdateWorkEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req WorkEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entry, err := h.Service.UpdateWorkEntry(r.Context(), req.toWorkEntry(payroll.WorkEntryID(id)))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkEntryDTO(*entry))
}

// DeleteWorkEntry deletes an entry not attached to a closed run.
// DELETE /api/work-entries/{id}
func (h *Handler) DeleteWorkEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.Service.DeleteWorkEntry(r.Context(), payroll.WorkEntryID(id)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPayslip renders the PDF payslip of a paid entry.
// GET /api/work-entries/{id}/payslip
func (h *Handler) GetPayslip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	entry, err := h.Service.GetWorkEntry(ctx, payroll.WorkEntryID(id))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	emp, err := h.Service.GetEmployee(ctx, entry.EmployeeID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	var run *payroll.Run
	if entry.PayrollRunID != nil {
		run, err = h.Service.Store().GetRun(ctx, *entry.PayrollRunID)
		if err != nil && !errors.Is(err, payroll.ErrRunNotFound) {
			writeServiceError(w, r, err)
			return
		}
	}

	var buf bytes.Buffer
	err = payslip.Render(&buf, payslip.Payslip{
		Company:  h.Company,
		Employee: *emp,
		Entry:    *entry,
		Run:      run,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="payslip-%d.pdf"`, entry.ID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// =============================================================================
// HEALTH
// =============================================================================

type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports liveness, and database reachability when the store can ping.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Service.Store().(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeServiceError maps payroll error categories to HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse{Error: err.Error()}

	var bulk *payroll.BulkError
	if errors.As(err, &bulk) {
		index := bulk.Index
		resp.Index = &index
	}

	switch {
	case payroll.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, resp)
	case payroll.IsClientError(err):
		for _, issue := range payroll.Issues(err) {
			resp.Fields = append(resp.Fields, FieldIssueDTO{Field: issue.Field, Reason: issue.Reason})
		}
		writeJSON(w, http.StatusBadRequest, resp)
	case payroll.IsConflict(err):
		writeJSON(w, http.StatusConflict, resp)
	default:
		hlog.FromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "Internal server error", err)
	}
}

// pathID parses the {id} URL parameter, writing a 400 when it is not a number.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid id %q", raw), nil)
		return 0, false
	}
	return id, true
}

// queryParser reads optional filters, collecting every bad value.
type queryParser struct {
	values url.Values
	v      *payroll.Validator
	err    error
}

func (q *queryParser) fail(key, reason string) {
	if q.v == nil {
		q.v = payroll.NewValidator()
	}
	q.v.Add(key, reason)
	q.err = q.v.Err()
}

func (q *queryParser) boolean(key string) *bool {
	raw := q.values.Get(key)
	if raw == "" {
		return nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		q.fail(key, "must be true or false")
		return nil
	}
	return &b
}

func (q *queryParser) date(key string) *payroll.Date {
	raw := q.values.Get(key)
	if raw == "" {
		return nil
	}
	d, err := payroll.ParseDate(raw)
	if err != nil {
		q.fail(key, "must be a YYYY-MM-DD date")
		return nil
	}
	return &d
}

func (q *queryParser) id(key string) *int64 {
	raw := q.values.Get(key)
	if raw == "" {
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		q.fail(key, "must be an integer id")
		return nil
	}
	return &n
}
