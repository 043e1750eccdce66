// Package store provides in-memory payroll.TxStore implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a payroll.TxStore backed by maps. WithTx holds the write lock
// for the whole callback, so transactions are fully serialized.
type Memory struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	employees map[payroll.EmployeeID]payroll.Employee
	entries   map[payroll.WorkEntryID]payroll.WorkEntry
	runs      map[payroll.RunID]payroll.Run

	nextEmployee payroll.EmployeeID
	nextEntry    payroll.WorkEntryID
	nextRun      payroll.RunID
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

func newState() *state {
	return &state{
		employees: make(map[payroll.EmployeeID]payroll.Employee),
		entries:   make(map[payroll.WorkEntryID]payroll.WorkEntry),
		runs:      make(map[payroll.RunID]payroll.Run),
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(payroll.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(m.state); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// Reset clears all data (for demo scenarios).
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = newState()
	return nil
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.employees {
		c.employees[k] = v
	}
	for k, v := range s.entries {
		c.entries[k] = v
	}
	for k, v := range s.runs {
		c.runs[k] = v
	}
	c.nextEmployee, c.nextEntry, c.nextRun = s.nextEmployee, s.nextEntry, s.nextRun
	return c
}

// =============================================================================
// LOCKED WRAPPERS
// =============================================================================

func (m *Memory) read(fn func(*state) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.state)
}

func (m *Memory) write(fn func(*state) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.state)
}

func (m *Memory) CreateEmployee(ctx context.Context, e *payroll.Employee) error {
	return m.write(func(s *state) error { return s.CreateEmployee(ctx, e) })
}

func (m *Memory) GetEmployee(ctx context.Context, id payroll.EmployeeID) (out *payroll.Employee, err error) {
	err = m.read(func(s *state) error { out, err = s.GetEmployee(ctx, id); return err })
	return out, err
}

func (m *Memory) UpdateEmployee(ctx context.Context, e payroll.Employee) error {
	return m.write(func(s *state) error { return s.UpdateEmployee(ctx, e) })
}

func (m *Memory) DeleteEmployee(ctx context.Context, id payroll.EmployeeID) error {
	return m.write(func(s *state) error { return s.DeleteEmployee(ctx, id) })
}

func (m *Memory) ListEmployees(ctx context.Context, f payroll.EmployeeFilter) (out []payroll.Employee, err error) {
	err = m.read(func(s *state) error { out, err = s.ListEmployees(ctx, f); return err })
	return out, err
}

func (m *Memory) CreateWorkEntry(ctx context.Context, entry *payroll.WorkEntry) error {
	return m.write(func(s *state) error { return s.CreateWorkEntry(ctx, entry) })
}

func (m *Memory) GetWorkEntry(ctx context.Context, id payroll.WorkEntryID) (out *payroll.WorkEntry, err error) {
	err = m.read(func(s *state) error { out, err = s.GetWorkEntry(ctx, id); return err })
	return out, err
}

func (m *Memory) UpdateWorkEntry(ctx context.Context, entry payroll.WorkEntry) error {
	return m.write(func(s *state) error { return s.UpdateWorkEntry(ctx, entry) })
}

func (m *Memory) DeleteWorkEntry(ctx context.Context, id payroll.WorkEntryID) error {
	return m.write(func(s *state) error { return s.DeleteWorkEntry(ctx, id) })
}

func (m *Memory) ListWorkEntries(ctx context.Context, f payroll.WorkEntryFilter) (out []payroll.WorkEntry, err error) {
	err = m.read(func(s *state) error { out, err = s.ListWorkEntries(ctx, f); return err })
	return out, err
}

func (m *Memory) PayableEntries(ctx context.Context, id payroll.EmployeeID, p payroll.Period) (out []payroll.WorkEntry, err error) {
	err = m.read(func(s *state) error { out, err = s.PayableEntries(ctx, id, p); return err })
	return out, err
}

func (m *Memory) SavePayment(ctx context.Context, entry payroll.WorkEntry) error {
	return m.write(func(s *state) error { return s.SavePayment(ctx, entry) })
}

func (m *Memory) CreateRun(ctx context.Context, run *payroll.Run) error {
	return m.write(func(s *state) error { return s.CreateRun(ctx, run) })
}

func (m *Memory) GetRun(ctx context.Context, id payroll.RunID) (out *payroll.Run, err error) {
	err = m.read(func(s *state) error { out, err = s.GetRun(ctx, id); return err })
	return out, err
}

func (m *Memory) LockRun(ctx context.Context, id payroll.RunID) (*payroll.Run, error) {
	return m.GetRun(ctx, id)
}

func (m *Memory) UpdateRunNotes(ctx context.Context, id payroll.RunID, notes string) error {
	return m.write(func(s *state) error { return s.UpdateRunNotes(ctx, id, notes) })
}

func (m *Memory) DeleteRun(ctx context.Context, id payroll.RunID) error {
	return m.write(func(s *state) error { return s.DeleteRun(ctx, id) })
}

func (m *Memory) ListRuns(ctx context.Context, f payroll.RunFilter) (out []payroll.Run, err error) {
	err = m.read(func(s *state) error { out, err = s.ListRuns(ctx, f); return err })
	return out, err
}

func (m *Memory) MarkRunProcessed(ctx context.Context, id payroll.RunID, at time.Time) error {
	return m.write(func(s *state) error { return s.MarkRunProcessed(ctx, id, at) })
}

func (m *Memory) CloseRun(ctx context.Context, id payroll.RunID, at time.Time) (ok bool, err error) {
	err = m.write(func(s *state) error { ok, err = s.CloseRun(ctx, id, at); return err })
	return ok, err
}

// =============================================================================
// STATE - Unlocked implementation, also the view passed to WithTx callbacks
// =============================================================================

func (s *state) CreateEmployee(_ context.Context, e *payroll.Employee) error {
	s.nextEmployee++
	e.ID = s.nextEmployee
	s.employees[e.ID] = *e
	return nil
}

func (s *state) GetEmployee(_ context.Context, id payroll.EmployeeID) (*payroll.Employee, error) {
	e, ok := s.employees[id]
	if !ok {
		return nil, payroll.ErrEmployeeNotFound
	}
	return &e, nil
}

func (s *state) UpdateEmployee(_ context.Context, e payroll.Employee) error {
	if _, ok := s.employees[e.ID]; !ok {
		return payroll.ErrEmployeeNotFound
	}
	s.employees[e.ID] = e
	return nil
}

func (s *state) DeleteEmployee(_ context.Context, id payroll.EmployeeID) error {
	if _, ok := s.employees[id]; !ok {
		return payroll.ErrEmployeeNotFound
	}
	delete(s.employees, id)
	for entryID, entry := range s.entries {
		if entry.EmployeeID == id {
			delete(s.entries, entryID)
		}
	}
	return nil
}

func (s *state) ListEmployees(_ context.Context, f payroll.EmployeeFilter) ([]payroll.Employee, error) {
	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]payroll.Employee, 0, len(s.employees))
	for _, e := range s.employees {
		if f.WorkerType != "" && e.WorkerType != f.WorkerType {
			continue
		}
		if f.IsActive != nil && e.IsActive != *f.IsActive {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(e.FirstName), search) &&
			!strings.Contains(strings.ToLower(e.LastName), search) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].HireDate.Equal(out[j].HireDate) {
			return out[i].HireDate.After(out[j].HireDate)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *state) CreateWorkEntry(_ context.Context, entry *payroll.WorkEntry) error {
	if s.hasEntryFor(entry.EmployeeID, entry.Period, 0) {
		return payroll.ErrDuplicateWorkEntry
	}
	if _, ok := s.employees[entry.EmployeeID]; !ok {
		return payroll.ErrEmployeeNotFound
	}
	s.nextEntry++
	entry.ID = s.nextEntry
	s.entries[entry.ID] = *entry
	return nil
}

func (s *state) GetWorkEntry(_ context.Context, id payroll.WorkEntryID) (*payroll.WorkEntry, error) {
	entry, ok := s.entries[id]
	if !ok {
		return nil, payroll.ErrWorkEntryNotFound
	}
	return &entry, nil
}

func (s *state) UpdateWorkEntry(_ context.Context, entry payroll.WorkEntry) error {
	existing, ok := s.entries[entry.ID]
	if !ok {
		return payroll.ErrWorkEntryNotFound
	}
	if s.hasEntryFor(entry.EmployeeID, entry.Period, entry.ID) {
		return payroll.ErrDuplicateWorkEntry
	}
	existing.EmployeeID = entry.EmployeeID
	existing.PayrollRunID = entry.PayrollRunID
	existing.Period = entry.Period
	existing.HoursWorked = entry.HoursWorked
	existing.DaysWorked = entry.DaysWorked
	existing.PaymentType = entry.PaymentType
	existing.DeferredPaymentDate = entry.DeferredPaymentDate
	s.entries[entry.ID] = existing
	return nil
}

func (s *state) DeleteWorkEntry(_ context.Context, id payroll.WorkEntryID) error {
	if _, ok := s.entries[id]; !ok {
		return payroll.ErrWorkEntryNotFound
	}
	delete(s.entries, id)
	return nil
}

func (s *state) ListWorkEntries(_ context.Context, f payroll.WorkEntryFilter) ([]payroll.WorkEntry, error) {
	out := make([]payroll.WorkEntry, 0)
	for _, entry := range s.entries {
		if f.EmployeeID != nil && entry.EmployeeID != *f.EmployeeID {
			continue
		}
		if f.PayrollRunID != nil && (entry.PayrollRunID == nil || *entry.PayrollRunID != *f.PayrollRunID) {
			continue
		}
		if f.IsPaid != nil && entry.IsPaid != *f.IsPaid {
			continue
		}
		if f.PaymentType != "" && entry.PaymentType != f.PaymentType {
			continue
		}
		if f.PeriodStart != nil && !entry.Period.Start.Equal(*f.PeriodStart) {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Period.Start.Equal(out[j].Period.Start) {
			return out[i].Period.Start.After(out[j].Period.Start)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *state) PayableEntries(_ context.Context, employeeID payroll.EmployeeID, p payroll.Period) ([]payroll.WorkEntry, error) {
	var out []payroll.WorkEntry
	for _, entry := range s.entries {
		if entry.EmployeeID == employeeID && !entry.IsPaid && entry.Period.Matches(p) {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) SavePayment(_ context.Context, entry payroll.WorkEntry) error {
	existing, ok := s.entries[entry.ID]
	if !ok {
		return payroll.ErrWorkEntryNotFound
	}
	existing.IsPaid = entry.IsPaid
	existing.PaymentType = entry.PaymentType
	existing.PaymentDate = entry.PaymentDate
	existing.PayrollRunID = entry.PayrollRunID
	existing.GrossPay = entry.GrossPay
	existing.TotalDeductions = entry.TotalDeductions
	existing.NetPay = entry.NetPay
	s.entries[entry.ID] = existing
	return nil
}

func (s *state) hasEntryFor(employeeID payroll.EmployeeID, p payroll.Period, except payroll.WorkEntryID) bool {
	for id, entry := range s.entries {
		if id != except && entry.EmployeeID == employeeID && entry.Period.Matches(p) {
			return true
		}
	}
	return false
}

func (s *state) CreateRun(_ context.Context, run *payroll.Run) error {
	for _, existing := range s.runs {
		if existing.Period.Matches(run.Period) {
			return payroll.ErrDuplicateRunPeriod
		}
	}
	s.nextRun++
	run.ID = s.nextRun
	stored := *run
	stored.Entries = nil
	s.runs[run.ID] = stored
	return nil
}

func (s *state) GetRun(_ context.Context, id payroll.RunID) (*payroll.Run, error) {
	run, ok := s.runs[id]
	if !ok {
		return nil, payroll.ErrRunNotFound
	}
	return &run, nil
}

func (s *state) LockRun(ctx context.Context, id payroll.RunID) (*payroll.Run, error) {
	return s.GetRun(ctx, id)
}

func (s *state) UpdateRunNotes(_ context.Context, id payroll.RunID, notes string) error {
	run, ok := s.runs[id]
	if !ok {
		return payroll.ErrRunNotFound
	}
	run.Notes = notes
	s.runs[id] = run
	return nil
}

func (s *state) DeleteRun(_ context.Context, id payroll.RunID) error {
	if _, ok := s.runs[id]; !ok {
		return payroll.ErrRunNotFound
	}
	delete(s.runs, id)
	for entryID, entry := range s.entries {
		if entry.PayrollRunID != nil && *entry.PayrollRunID == id {
			entry.PayrollRunID = nil
			s.entries[entryID] = entry
		}
	}
	return nil
}

func (s *state) ListRuns(_ context.Context, f payroll.RunFilter) ([]payroll.Run, error) {
	out := make([]payroll.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if f.PeriodStart != nil && !run.Period.Start.Equal(*f.PeriodStart) {
			continue
		}
		if f.PeriodEnd != nil && !run.Period.End.Equal(*f.PeriodEnd) {
			continue
		}
		if f.IsClosed != nil && run.IsClosed != *f.IsClosed {
			continue
		}
		if f.DateProcessed != nil &&
			(run.DateProcessed == nil || !payroll.DateOf(*run.DateProcessed).Equal(*f.DateProcessed)) {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].DateProcessed, out[j].DateProcessed
		switch {
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *state) MarkRunProcessed(_ context.Context, id payroll.RunID, at time.Time) error {
	run, ok := s.runs[id]
	if !ok {
		return payroll.ErrRunNotFound
	}
	run.DateProcessed = &at
	s.runs[id] = run
	return nil
}

func (s *state) CloseRun(_ context.Context, id payroll.RunID, at time.Time) (bool, error) {
	run, ok := s.runs[id]
	if !ok {
		return false, payroll.ErrRunNotFound
	}
	if run.IsClosed {
		return false, nil
	}
	run.IsClosed = true
	run.DateProcessed = &at
	s.runs[id] = run
	return true, nil
}

var (
	_ payroll.TxStore  = (*Memory)(nil)
	_ payroll.Resetter = (*Memory)(nil)
	_ payroll.Store    = (*state)(nil)
)
