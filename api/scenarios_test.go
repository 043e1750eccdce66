/*
scenarios_test.go - Tests for demo scenarios

PURPOSE:
	Each scenario leaves the store ready for the workflow it demonstrates,
	and running that workflow produces the expected pay.
*/
package api

import (
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadScenario(t *testing.T, router http.Handler, id string) {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestScenario_HourlyPeriod(t *testing.T) {
	// GIVEN: The hourly-period scenario
	// WHEN: Processing 2024-01-01..2024-01-15
	// THEN: Every active employee is paid; the inactive one is left out
	router := setupTestRouter(t)
	loadScenario(t, router, "hourly-period")

	rec := do(t, router, http.MethodPost, "/api/process-payroll", map[string]string{
		"payroll_period_start": "2024-01-01", "payroll_period_end": "2024-01-15",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ProcessPayrollResponse](t, rec)
	gross := map[string]string{}
	for _, line := range resp.Payroll {
		gross[line.EmployeeName] = line.GrossPay
	}
	assert.Equal(t, map[string]string{
		"Alice Johnson": "200.00",
		"Bob Martinez":  "2356.25",
		"Carol Nguyen":  "1620.00",
	}, gross)

	unpaid := decode[[]WorkEntryDTO](t, do(t, router, http.MethodGet, "/api/work-entries?is_paid=false", nil))
	assert.Len(t, unpaid, 1)
}

func TestScenario_OpenRun(t *testing.T) {
	// GIVEN: The open-run scenario
	// WHEN: Closing its run
	// THEN: Both attached entries are paid by their own worker type
	router := setupTestRouter(t)
	loadScenario(t, router, "open-run")

	runs := decode[[]PayrollRunDTO](t, do(t, router, http.MethodGet, "/api/payroll-runs?is_closed=false", nil))
	require.Len(t, runs, 1)

	rec := do(t, router, http.MethodPost, "/api/payroll-runs/"+itoa(runs[0].ID)+"/close", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[CloseRunResponse](t, rec)
	var gross []string
	for _, e := range resp.PayrollRun.WorkEntries {
		gross = append(gross, e.GrossPay)
	}
	assert.ElementsMatch(t, []string{"250.00", "960.00"}, gross)
}

func TestScenario_LoadResetsPreviousData(t *testing.T) {
	router := setupTestRouter(t)
	loadScenario(t, router, "hourly-period")
	loadScenario(t, router, "hourly-period")

	employees := decode[[]EmployeeDTO](t, do(t, router, http.MethodGet, "/api/employees", nil))
	assert.Len(t, employees, 4)

	current := decode[ScenarioDTO](t, do(t, router, http.MethodGet, "/api/scenarios/current", nil))
	assert.Equal(t, "hourly-period", current.ID)
}

func TestScenario_UnknownAndReset(t *testing.T) {
	router := setupTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "year-end"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	loadScenario(t, router, "open-run")
	rec = do(t, router, http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Empty(t, decode[[]EmployeeDTO](t, do(t, router, http.MethodGet, "/api/employees", nil)))
	assert.Empty(t, decode[[]PayrollRunDTO](t, do(t, router, http.MethodGet, "/api/payroll-runs", nil)))
	assert.Equal(t, "null\n", do(t, router, http.MethodGet, "/api/scenarios/current", nil).Body.String())
}

func TestListScenarios(t *testing.T) {
	router := setupTestRouter(t)

	list := decode[[]ScenarioDTO](t, do(t, router, http.MethodGet, "/api/scenarios", nil))

	require.Len(t, list, len(loaders))
	for _, s := range list {
		assert.Contains(t, loaders, s.ID)
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
