package payroll_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payroll/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var fixedNow = time.Date(2024, time.January, 20, 10, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func zeroLogger() zerolog.Logger { return zerolog.Nop() }

type recordingPublisher struct {
	mu     sync.Mutex
	events []payroll.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e payroll.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Events() []payroll.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]payroll.Event(nil), p.events...)
}

func newTestService(t *testing.T) (*payroll.Service, *store.Memory, *recordingPublisher) {
	t.Helper()
	mem := store.NewMemory()
	pub := &recordingPublisher{}
	svc := payroll.NewService(mem, payroll.WithClock(fixedClock), payroll.WithPublisher(pub))
	return svc, mem, pub
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func nullDec(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(s))
}

func period(t *testing.T, start, end string) payroll.Period {
	t.Helper()
	s, err := payroll.ParseDate(start)
	require.NoError(t, err)
	e, err := payroll.ParseDate(end)
	require.NoError(t, err)
	p, err := payroll.NewPeriod(s, e)
	require.NoError(t, err)
	return p
}

func hourlyEmployee(first, last, rate string) payroll.Employee {
	return payroll.Employee{
		FirstName:  first,
		LastName:   last,
		WorkerType: payroll.WorkerHourly,
		HourlyRate: nullDec(rate),
		IsActive:   true,
	}
}

func dailyEmployee(first, last, rate string) payroll.Employee {
	return payroll.Employee{
		FirstName:  first,
		LastName:   last,
		WorkerType: payroll.WorkerDaily,
		DailyRate:  nullDec(rate),
		IsActive:   true,
	}
}

func hoursEntry(emp payroll.EmployeeID, p payroll.Period, hours string) payroll.WorkEntry {
	return payroll.WorkEntry{EmployeeID: emp, Period: p, HoursWorked: nullDec(hours)}
}

func daysEntry(emp payroll.EmployeeID, p payroll.Period, days string) payroll.WorkEntry {
	return payroll.WorkEntry{EmployeeID: emp, Period: p, DaysWorked: nullDec(days)}
}

func mustEmployee(t *testing.T, svc *payroll.Service, e payroll.Employee) *payroll.Employee {
	t.Helper()
	created, err := svc.CreateEmployee(context.Background(), e)
	require.NoError(t, err)
	return created
}

func mustEntry(t *testing.T, svc *payroll.Service, entry payroll.WorkEntry) *payroll.WorkEntry {
	t.Helper()
	created, err := svc.CreateWorkEntry(context.Background(), entry)
	require.NoError(t, err)
	return created
}

func runRef(id payroll.RunID) *payroll.RunID { return &id }
