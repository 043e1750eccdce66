/*
store.go - Persistence interfaces for the payroll engine

PURPOSE:
  Defines the boundary between payroll logic and the database. The engine
  and service depend only on these interfaces.

KEY INTERFACES:
  Store:    Employees, work entries and runs
  TxStore:  Store plus WithTx for all-or-nothing batches

CONTRACT:
  - Get* return the matching Err*NotFound sentinel when nothing matches.
  - Unique violations surface as ErrDuplicateRunPeriod / ErrDuplicateWorkEntry.
  - UpdateWorkEntry never writes pay fields. SavePayment is the only writer
    of IsPaid, PaymentType, PaymentDate, GrossPay, TotalDeductions, NetPay.
  - CloseRun is a compare-and-swap on is_closed.
  - LockRun and PayableEntries take row locks on stores that support them,
    so concurrent batches serialize on the rows they touch.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite via database/sql
  - store/postgres/store.go: PostgreSQL via pgx
  - payroll/store/memory.go: In-memory for testing

SEE ALSO:
  - engine.go: Uses WithTx per employee batch
  - closing.go: Uses LockRun + CloseRun
*/
package payroll

import (
	"context"
	"time"
)

// =============================================================================
// STORE
// =============================================================================

type EmployeeStore interface {
	// CreateEmployee assigns e.ID.
	CreateEmployee(ctx context.Context, e *Employee) error
	GetEmployee(ctx context.Context, id EmployeeID) (*Employee, error)
	UpdateEmployee(ctx context.Context, e Employee) error
	// DeleteEmployee also deletes the employee's work entries.
	DeleteEmployee(ctx context.Context, id EmployeeID) error
	// ListEmployees orders by hire date, newest first.
	ListEmployees(ctx context.Context, filter EmployeeFilter) ([]Employee, error)
}

type WorkEntryStore interface {
	// CreateWorkEntry assigns entry.ID.
	CreateWorkEntry(ctx context.Context, entry *WorkEntry) error
	GetWorkEntry(ctx context.Context, id WorkEntryID) (*WorkEntry, error)
	UpdateWorkEntry(ctx context.Context, entry WorkEntry) error
	DeleteWorkEntry(ctx context.Context, id WorkEntryID) error
	// ListWorkEntries orders by period start, newest first.
	ListWorkEntries(ctx context.Context, filter WorkEntryFilter) ([]WorkEntry, error)

	// PayableEntries returns unpaid entries of one employee whose period
	// equals p exactly.
	PayableEntries(ctx context.Context, employeeID EmployeeID, p Period) ([]WorkEntry, error)
	SavePayment(ctx context.Context, entry WorkEntry) error
}

type RunStore interface {
	// CreateRun assigns run.ID.
	CreateRun(ctx context.Context, run *Run) error
	// GetRun returns the run without entries.
	GetRun(ctx context.Context, id RunID) (*Run, error)
	// LockRun is GetRun holding the run row until the transaction ends.
	LockRun(ctx context.Context, id RunID) (*Run, error)
	UpdateRunNotes(ctx context.Context, id RunID, notes string) error
	// DeleteRun detaches the run's entries.
	DeleteRun(ctx context.Context, id RunID) error
	// ListRuns orders by processed time, newest first, unprocessed last.
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
	MarkRunProcessed(ctx context.Context, id RunID, at time.Time) error
	// CloseRun sets is_closed and date_processed only if the run is open.
	// It reports false when the run was already closed.
	CloseRun(ctx context.Context, id RunID, at time.Time) (bool, error)
}

// Store handles persistence of payroll records.
type Store interface {
	EmployeeStore
	WorkEntryStore
	RunStore
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// Resetter is implemented by stores that can be wiped for demo scenarios.
type Resetter interface {
	Reset(ctx context.Context) error
}
