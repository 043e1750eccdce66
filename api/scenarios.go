/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	payroll data. Each scenario creates employees and work entries, and
	optionally an open run, that demonstrate one of the two workflows.

AVAILABLE SCENARIOS:

	hourly-period: Two hourly and one daily employee with entries for
	               2024-01-01..2024-01-15. Ready for process-payroll.
	open-run:      An open run for 2024-02-01..2024-02-14 with daily and
	               hourly entries attached. Ready to close.

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create employees through the service (validated like API input)
 3. Create work entries, attached to a run where the scenario needs one

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "open-run"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Payroll endpoints the scenarios prepare for
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/hlog"
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/payroll"
)

// ErrResetUnsupported is returned when the store cannot be wiped.
var ErrResetUnsupported = errors.New("store does not support reset")

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "hourly-period",
		Name:        "Hourly Period",
		Description: "Two hourly and one daily employee with work entries for 2024-01-01 to 2024-01-15, ready to process",
	},
	{
		ID:          "open-run",
		Name:        "Open Run",
		Description: "Open payroll run for 2024-02-01 to 2024-02-14 with daily and hourly entries attached, ready to close",
	},
}

var loaders = map[string]func(context.Context, *payroll.Service) error{
	"hourly-period": loadHourlyPeriodScenario,
	"open-run":      loadOpenRunScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	load, ok := loaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario %q", req.ScenarioID), nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	if err := load(ctx, h.Service); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	hlog.FromRequest(r).Info().Str("scenario", req.ScenarioID).Msg("demo scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all payroll data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) reset(ctx context.Context) error {
	resetter, ok := h.Service.Store().(payroll.Resetter)
	if !ok {
		return ErrResetUnsupported
	}
	return resetter.Reset(ctx)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadHourlyPeriodScenario(ctx context.Context, svc *payroll.Service) error {
	period := payroll.Period{Start: payroll.NewDate(2024, 1, 1), End: payroll.NewDate(2024, 1, 15)}

	staff := []struct {
		emp      payroll.Employee
		quantity string
	}{
		{hourlyEmployee("Alice", "Johnson", "20.00"), "10"},
		{hourlyEmployee("Bob", "Martinez", "32.50"), "72.5"},
		{dailyEmployee("Carol", "Nguyen", "180.00"), "9"},
	}

	for _, s := range staff {
		emp, err := svc.CreateEmployee(ctx, s.emp)
		if err != nil {
			return fmt.Errorf("create %s: %w", s.emp.Name(), err)
		}
		if _, err := svc.CreateWorkEntry(ctx, scenarioEntry(*emp, period, nil, s.quantity)); err != nil {
			return fmt.Errorf("entry for %s: %w", emp.Name(), err)
		}
	}

	// Inactive employees are skipped by process-payroll even with matching entries.
	inactive := hourlyEmployee("Dan", "Okafor", "25.00")
	inactive.IsActive = false
	emp, err := svc.CreateEmployee(ctx, inactive)
	if err != nil {
		return fmt.Errorf("create %s: %w", inactive.Name(), err)
	}
	if _, err := svc.CreateWorkEntry(ctx, scenarioEntry(*emp, period, nil, "8")); err != nil {
		return fmt.Errorf("entry for %s: %w", emp.Name(), err)
	}
	return nil
}

func loadOpenRunScenario(ctx context.Context, svc *payroll.Service) error {
	period := payroll.Period{Start: payroll.NewDate(2024, 2, 1), End: payroll.NewDate(2024, 2, 14)}

	run, err := svc.CreateRun(ctx, period, "February first half")
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	daily, err := svc.CreateEmployee(ctx, dailyEmployee("Erin", "Walsh", "50.00"))
	if err != nil {
		return err
	}
	hourly, err := svc.CreateEmployee(ctx, hourlyEmployee("Farid", "Haddad", "24.00"))
	if err != nil {
		return err
	}

	entries := []payroll.WorkEntry{
		scenarioEntry(*daily, period, &run.ID, "5"),
		scenarioEntry(*hourly, period, &run.ID, "40"),
	}
	if _, err := svc.BulkCreateWorkEntries(ctx, entries); err != nil {
		return fmt.Errorf("attach entries: %w", err)
	}
	return nil
}

func hourlyEmployee(first, last, rate string) payroll.Employee {
	return payroll.Employee{
		FirstName:  first,
		LastName:   last,
		WorkerType: payroll.WorkerHourly,
		HourlyRate: decimal.NewNullDecimal(decimal.RequireFromString(rate)),
		IsActive:   true,
	}
}

func dailyEmployee(first, last, rate string) payroll.Employee {
	return payroll.Employee{
		FirstName:  first,
		LastName:   last,
		WorkerType: payroll.WorkerDaily,
		DailyRate:  decimal.NewNullDecimal(decimal.RequireFromString(rate)),
		IsActive:   true,
	}
}

// scenarioEntry fills hours or days according to the employee's worker type.
func scenarioEntry(emp payroll.Employee, period payroll.Period, runID *payroll.RunID, qty string) payroll.WorkEntry {
	entry := payroll.WorkEntry{
		EmployeeID:   emp.ID,
		PayrollRunID: runID,
		Period:       period,
	}
	q := decimal.NewNullDecimal(decimal.RequireFromString(qty))
	if emp.WorkerType == payroll.WorkerDaily {
		entry.DaysWorked = q
	} else {
		entry.HoursWorked = q
	}
	return entry
}
