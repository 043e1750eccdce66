package payroll_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payroll/store"
)

// =============================================================================
// PERIOD-SCOPED CALCULATION
// =============================================================================

func TestProcessPeriod_HourlyEmployeePaid(t *testing.T) {
	// GIVEN: Employee A (hourly, 20.00) worked 10 hours in 2024-01-01..2024-01-15
	// WHEN: Processing payroll for that period
	// THEN: gross = net = 200.00, bank_transfer, entry marked paid
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	jan := period(t, "2024-01-01", "2024-01-15")

	emp := mustEmployee(t, svc, hourlyEmployee("Ada", "Lovelace", "20.00"))
	entry := mustEntry(t, svc, hoursEntry(emp.ID, jan, "10"))

	outcome, err := svc.ProcessPeriod(ctx, jan)
	require.NoError(t, err)

	require.Len(t, outcome.Results, 1)
	res := outcome.Results[0]
	assert.Equal(t, emp.ID, res.EmployeeID)
	assert.Equal(t, "Ada Lovelace", res.EmployeeName)
	assert.Equal(t, "200.00", res.GrossPay.StringFixed(2))
	assert.Equal(t, "200.00", res.NetPay.StringFixed(2))
	assert.Equal(t, payroll.PaymentBankTransfer, res.PaymentType)
	assert.Equal(t, "2024-01-20", res.PaymentDate.String())
	assert.Equal(t, outcome.Run.ID, res.PayrollRunID)

	stored, err := svc.GetWorkEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsPaid)
	assert.Equal(t, payroll.PaymentBankTransfer, stored.PaymentType)
	require.NotNil(t, stored.PaymentDate)
	assert.Equal(t, "2024-01-20", stored.PaymentDate.String())
	require.NotNil(t, stored.PayrollRunID)
	assert.Equal(t, outcome.Run.ID, *stored.PayrollRunID)
	assert.Equal(t, "200.00", stored.GrossPay.StringFixed(2))
	assert.True(t, stored.TotalDeductions.IsZero())
}

func TestProcessPeriod_EveryActiveEmployeeGetsAResult(t *testing.T) {
	// GIVEN: Three active employees, only one with an entry, plus an inactive one
	// WHEN: Processing the period
	// THEN: One result per active employee, zero pay where nothing matched
	svc, _, _ := newTestService(t)
	jan := period(t, "2024-01-01", "2024-01-15")

	worker := mustEmployee(t, svc, dailyEmployee("Grace", "Hopper", "50.00"))
	idle := mustEmployee(t, svc, hourlyEmployee("Alan", "Turing", "30.00"))
	noRate := mustEmployee(t, svc, payroll.Employee{
		FirstName: "Barbara", LastName: "Liskov", WorkerType: payroll.WorkerHourly, IsActive: true,
	})
	inactive := hourlyEmployee("Ken", "Thompson", "40.00")
	inactive.IsActive = false
	gone := mustEmployee(t, svc, inactive)

	mustEntry(t, svc, daysEntry(worker.ID, jan, "3"))
	mustEntry(t, svc, hoursEntry(noRate.ID, jan, "12"))
	mustEntry(t, svc, hoursEntry(gone.ID, jan, "8"))

	outcome, err := svc.ProcessPeriod(context.Background(), jan)
	require.NoError(t, err)

	byEmployee := map[payroll.EmployeeID]payroll.Result{}
	for _, r := range outcome.Results {
		byEmployee[r.EmployeeID] = r
	}
	require.Len(t, byEmployee, 3)
	assert.NotContains(t, byEmployee, gone.ID)
	assert.Equal(t, "150.00", byEmployee[worker.ID].GrossPay.StringFixed(2))
	assert.True(t, byEmployee[idle.ID].GrossPay.IsZero())
	assert.True(t, byEmployee[noRate.ID].GrossPay.IsZero(), "null rate pays zero")

	// Results come back ordered by employee id
	assert.Equal(t, worker.ID, outcome.Results[0].EmployeeID)
	assert.Equal(t, noRate.ID, outcome.Results[2].EmployeeID)
}

func TestProcessPeriod_ExactPeriodMatchOnly(t *testing.T) {
	// GIVEN: Entries for an overlapping and a contained period
	// WHEN: Processing 2024-01-01..2024-01-15
	// THEN: Only the exact boundary match is paid
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	emp := mustEmployee(t, svc, hourlyEmployee("Ada", "Lovelace", "20.00"))
	exact := mustEntry(t, svc, hoursEntry(emp.ID, period(t, "2024-01-01", "2024-01-15"), "10"))
	overlap := mustEntry(t, svc, hoursEntry(emp.ID, period(t, "2024-01-01", "2024-01-31"), "99"))
	inside := mustEntry(t, svc, hoursEntry(emp.ID, period(t, "2024-01-02", "2024-01-14"), "99"))

	outcome, err := svc.ProcessPeriod(ctx, period(t, "2024-01-01", "2024-01-15"))
	require.NoError(t, err)
	assert.Equal(t, "200.00", outcome.Results[0].GrossPay.StringFixed(2))

	for id, wantPaid := range map[payroll.WorkEntryID]bool{exact.ID: true, overlap.ID: false, inside.ID: false} {
		stored, err := svc.GetWorkEntry(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, wantPaid, stored.IsPaid, "entry %d", id)
	}
}

func TestCalculatePayroll_SecondPassExcludesPaidEntries(t *testing.T) {
	// GIVEN: A period already paid by the engine
	// WHEN: The engine runs again for the same period under another run
	// THEN: Nothing is paid twice; the second run pays zero
	svc, mem, _ := newTestService(t)
	ctx := context.Background()
	jan := period(t, "2024-01-01", "2024-01-15")

	emp := mustEmployee(t, svc, hourlyEmployee("Ada", "Lovelace", "20.00"))
	entry := mustEntry(t, svc, hoursEntry(emp.ID, jan, "10"))

	first, err := svc.ProcessPeriod(ctx, jan)
	require.NoError(t, err)

	engine := payroll.NewEngine(mem, fixedClock, zeroLogger())
	other := payroll.Run{ID: first.Run.ID + 100, Period: jan}
	results, err := engine.CalculatePayroll(ctx, jan, other)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.True(t, results[0].GrossPay.IsZero())
	assert.Equal(t, 0, results[0].EntriesPaid)

	stored, err := svc.GetWorkEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Run.ID, *stored.PayrollRunID, "entry stays with the first run")
}

func TestCalculatePayroll_UnknownWorkerTypePaysZero(t *testing.T) {
	// GIVEN: A stored employee whose worker type has no pay policy
	// WHEN: Calculating
	// THEN: The batch succeeds, that employee is paid zero, others are unaffected
	svc, mem, _ := newTestService(t)
	ctx := context.Background()
	jan := period(t, "2024-01-01", "2024-01-15")

	legacy := payroll.Employee{FirstName: "Old", LastName: "Record", WorkerType: "salaried", IsActive: true}
	require.NoError(t, mem.CreateEmployee(ctx, &legacy))
	legacyEntry := hoursEntry(legacy.ID, jan, "10")
	require.NoError(t, mem.CreateWorkEntry(ctx, &legacyEntry))

	emp := mustEmployee(t, svc, hourlyEmployee("Ada", "Lovelace", "20.00"))
	mustEntry(t, svc, hoursEntry(emp.ID, jan, "1"))

	engine := payroll.NewEngine(mem, fixedClock, zeroLogger())
	results, err := engine.CalculatePayroll(ctx, jan, payroll.Run{ID: 1, Period: jan})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].GrossPay.IsZero())
	assert.Equal(t, "20.00", results[1].GrossPay.StringFixed(2))
}

func TestCalculatePayroll_InvalidPeriodRejected(t *testing.T) {
	_, mem, _ := newTestService(t)
	engine := payroll.NewEngine(mem, fixedClock, zeroLogger())

	inverted := payroll.Period{Start: payroll.NewDate(2024, 1, 15), End: payroll.NewDate(2024, 1, 1)}
	_, err := engine.CalculatePayroll(context.Background(), inverted, payroll.Run{ID: 1})

	assert.ErrorIs(t, err, payroll.ErrInvalidPeriod)
}

func TestCalculatePayroll_DoesNotTouchRun(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()
	jan := period(t, "2024-01-01", "2024-01-15")

	run, err := svc.CreateRun(ctx, jan, "")
	require.NoError(t, err)

	engine := payroll.NewEngine(mem, fixedClock, zeroLogger())
	_, err = engine.CalculatePayroll(ctx, jan, *run)
	require.NoError(t, err)

	stored, err := mem.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsClosed)
	assert.Nil(t, stored.DateProcessed)
}

// =============================================================================
// PARTIAL FAILURE
// =============================================================================

// failingPaymentStore fails the failOn-th SavePayment call, counting from 1,
// and succeeds on every other call.
type failingPaymentStore struct {
	*store.Memory
	failOn int
	calls  int
}

type failingPaymentView struct {
	payroll.Store
	parent *failingPaymentStore
}

func (f *failingPaymentStore) WithTx(ctx context.Context, fn func(payroll.Store) error) error {
	return f.Memory.WithTx(ctx, func(tx payroll.Store) error {
		return fn(failingPaymentView{Store: tx, parent: f})
	})
}

func (v failingPaymentView) SavePayment(ctx context.Context, entry payroll.WorkEntry) error {
	v.parent.calls++
	if v.parent.calls == v.parent.failOn {
		return errors.New("connection reset")
	}
	return v.Store.SavePayment(ctx, entry)
}

func TestCalculatePayroll_FailureKeepsEarlierEmployeesPaid(t *testing.T) {
	// GIVEN: Three employees with entries for the period; the second one's payment fails
	// WHEN: Calculating
	// THEN: The first stays paid, the second is rolled back, the third is never reached
	mem := &failingPaymentStore{Memory: store.NewMemory(), failOn: 2}
	svc := payroll.NewService(mem, payroll.WithClock(fixedClock))
	ctx := context.Background()
	jan := period(t, "2024-01-01", "2024-01-15")

	ada := mustEmployee(t, svc, hourlyEmployee("Ada", "Lovelace", "20.00"))
	grace := mustEmployee(t, svc, dailyEmployee("Grace", "Hopper", "50.00"))
	alan := mustEmployee(t, svc, hourlyEmployee("Alan", "Turing", "30.00"))
	adaEntry := mustEntry(t, svc, hoursEntry(ada.ID, jan, "10"))
	graceEntry := mustEntry(t, svc, daysEntry(grace.ID, jan, "3"))
	alanEntry := mustEntry(t, svc, hoursEntry(alan.ID, jan, "2"))
	run, err := svc.CreateRun(ctx, jan, "")
	require.NoError(t, err)

	engine := payroll.NewEngine(mem, fixedClock, zeroLogger())
	results, err := engine.CalculatePayroll(ctx, jan, *run)

	require.Error(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ada.ID, results[0].EmployeeID)

	for id, wantPaid := range map[payroll.WorkEntryID]bool{adaEntry.ID: true, graceEntry.ID: false, alanEntry.ID: false} {
		stored, err := svc.GetWorkEntry(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, wantPaid, stored.IsPaid, "entry %d", id)
		if !wantPaid {
			assert.Nil(t, stored.PayrollRunID, "entry %d", id)
			assert.True(t, stored.GrossPay.IsZero(), "entry %d", id)
		}
	}
}

func TestCloseRun_FailureMidBatchPaysNothing(t *testing.T) {
	// GIVEN: A run with two attached entries for one employee; the second payment fails
	// WHEN: Closing the run
	// THEN: The first payment is rolled back too and the run stays open
	mem := &failingPaymentStore{Memory: store.NewMemory(), failOn: 2}
	svc := payroll.NewService(mem, payroll.WithClock(fixedClock))
	ctx := context.Background()
	feb := period(t, "2024-02-01", "2024-02-14")

	run, err := svc.CreateRun(ctx, feb, "")
	require.NoError(t, err)
	emp := mustEmployee(t, svc, hourlyEmployee("Ada", "Lovelace", "20.00"))
	first := hoursEntry(emp.ID, feb, "10")
	first.PayrollRunID = runRef(run.ID)
	second := hoursEntry(emp.ID, period(t, "2024-02-01", "2024-02-07"), "4")
	second.PayrollRunID = runRef(run.ID)
	mustEntry(t, svc, first)
	mustEntry(t, svc, second)

	_, err = svc.CloseRun(ctx, run.ID)
	require.Error(t, err)

	stored, err := svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsClosed)
	require.Len(t, stored.Entries, 2)
	for _, entry := range stored.Entries {
		assert.False(t, entry.IsPaid, "entry %d", entry.ID)
		assert.True(t, entry.GrossPay.IsZero(), "entry %d", entry.ID)
	}
}

func TestProcessPeriod_RetryResumesFailedRun(t *testing.T) {
	// GIVEN: A process call that failed after paying the first employee
	// WHEN: Processing the same period again
	// THEN: The same run is reused, the rest is paid, nobody is paid twice
	mem := &failingPaymentStore{Memory: store.NewMemory(), failOn: 2}
	pub := &recordingPublisher{}
	svc := payroll.NewService(mem, payroll.WithClock(fixedClock), payroll.WithPublisher(pub))
	ctx := context.Background()
	jan := period(t, "2024-01-01", "2024-01-15")

	ada := mustEmployee(t, svc, hourlyEmployee("Ada", "Lovelace", "20.00"))
	grace := mustEmployee(t, svc, dailyEmployee("Grace", "Hopper", "50.00"))
	adaEntry := mustEntry(t, svc, hoursEntry(ada.ID, jan, "10"))
	graceEntry := mustEntry(t, svc, daysEntry(grace.ID, jan, "3"))

	_, err := svc.ProcessPeriod(ctx, jan)
	require.Error(t, err)
	assert.Empty(t, pub.Events())

	runs, err := svc.ListRuns(ctx, payroll.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Nil(t, runs[0].DateProcessed)

	outcome, err := svc.ProcessPeriod(ctx, jan)
	require.NoError(t, err)

	assert.Equal(t, runs[0].ID, outcome.Run.ID)
	require.NotNil(t, outcome.Run.DateProcessed)
	byEmployee := map[payroll.EmployeeID]payroll.Result{}
	for _, r := range outcome.Results {
		byEmployee[r.EmployeeID] = r
	}
	assert.Equal(t, 0, byEmployee[ada.ID].EntriesPaid)
	assert.Equal(t, "150.00", byEmployee[grace.ID].GrossPay.StringFixed(2))

	for _, id := range []payroll.WorkEntryID{adaEntry.ID, graceEntry.ID} {
		stored, err := svc.GetWorkEntry(ctx, id)
		require.NoError(t, err)
		assert.True(t, stored.IsPaid, "entry %d", id)
		require.NotNil(t, stored.PayrollRunID)
		assert.Equal(t, outcome.Run.ID, *stored.PayrollRunID)
	}
	adaStored, err := svc.GetWorkEntry(ctx, adaEntry.ID)
	require.NoError(t, err)
	assert.Equal(t, "200.00", adaStored.GrossPay.StringFixed(2))

	// Once processed, the period is taken.
	_, err = svc.ProcessPeriod(ctx, jan)
	assert.ErrorIs(t, err, payroll.ErrDuplicateRunPeriod)
	assert.Len(t, pub.Events(), 1)
}

func TestProcessPeriod_ResumesRegisteredRun(t *testing.T) {
	// GIVEN: A run registered for the period but never processed
	// WHEN: Processing the period
	// THEN: That run is processed instead of a conflict
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	jan := period(t, "2024-01-01", "2024-01-15")

	registered, err := svc.CreateRun(ctx, jan, "January")
	require.NoError(t, err)
	emp := mustEmployee(t, svc, hourlyEmployee("Ada", "Lovelace", "20.00"))
	mustEntry(t, svc, hoursEntry(emp.ID, jan, "10"))

	outcome, err := svc.ProcessPeriod(ctx, jan)
	require.NoError(t, err)

	assert.Equal(t, registered.ID, outcome.Run.ID)
	assert.Equal(t, "January", outcome.Run.Notes)
	require.Len(t, outcome.Results, 1)
	assert.Equal(t, "200.00", outcome.Results[0].GrossPay.StringFixed(2))
}
