/*
Package sqlite provides a SQLite-backed implementation of payroll.TxStore.

PURPOSE:
  Persists employees, work entries and payroll runs in a single SQLite file.
  Used for local development and the demo server. PostgreSQL lives in
  store/postgres with the same contract.

INTERFACES IMPLEMENTED:
  payroll.TxStore:  Records plus WithTx
  payroll.Resetter: Wipe for demo scenarios

KEY TABLES:
  employees:     Workers with rate and worker type
  payroll_runs:  One row per pay period, UNIQUE(start, end)
  work_entries:  Hours or days per employee per period,
                 UNIQUE(employee_id, start, end)

STORAGE FORMATS:
  - Money and quantities are TEXT decimals (never REAL)
  - Dates are TEXT YYYY-MM-DD
  - Timestamps are fixed-width UTC TEXT so they sort lexically

CLOSING:
  CloseRun is a conditional UPDATE ... WHERE is_closed = 0. Zero rows
  affected means another caller closed the run first.

CONCURRENCY:
  One connection, guarded by sync.RWMutex. WithTx holds the write lock for
  the whole callback so batches serialize.

USAGE:
  store, err := sqlite.New("./data/payroll.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := payroll.NewService(store)

SEE ALSO:
  - payroll/store.go: Interface definitions
  - payroll/store/memory.go: In-memory implementation for testing
  - store/postgres: Production implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/mattn/go-sqlite3"
	"github.com/warp/payroll-engine/payroll"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// timeLayout is fixed width so ORDER BY on the TEXT column is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements payroll.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := otelsql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL",
		otelsql.WithAttributes(semconv.DBSystemSqlite))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A second connection to ":memory:" would see an empty database.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS employees (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		worker_type TEXT NOT NULL,
		hourly_rate TEXT,
		daily_rate TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		hire_date TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_employees_hire_date
		ON employees(hire_date DESC);

	CREATE TABLE IF NOT EXISTS payroll_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		payroll_period_start TEXT NOT NULL,
		payroll_period_end TEXT NOT NULL,
		date_created TEXT NOT NULL,
		date_processed TEXT,
		is_closed INTEGER NOT NULL DEFAULT 0,
		notes TEXT NOT NULL DEFAULT '',
		UNIQUE(payroll_period_start, payroll_period_end),
		CHECK(payroll_period_end >= payroll_period_start)
	);

	CREATE TABLE IF NOT EXISTS work_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		employee_id INTEGER NOT NULL REFERENCES employees(id) ON DELETE CASCADE,
		payroll_run_id INTEGER REFERENCES payroll_runs(id) ON DELETE SET NULL,
		payroll_period_start TEXT NOT NULL,
		payroll_period_end TEXT NOT NULL,
		hours_worked TEXT,
		days_worked TEXT,
		is_paid INTEGER NOT NULL DEFAULT 0,
		payment_type TEXT,
		payment_date TEXT,
		deferred_payment_date TEXT,
		gross_pay TEXT NOT NULL DEFAULT '0',
		total_deductions TEXT NOT NULL DEFAULT '0',
		net_pay TEXT NOT NULL DEFAULT '0',
		UNIQUE(employee_id, payroll_period_start, payroll_period_end),
		CHECK(payroll_period_end >= payroll_period_start)
	);

	-- Period engine hot path: unpaid entries of one employee for one period
	CREATE INDEX IF NOT EXISTS idx_work_entries_payable
		ON work_entries(employee_id, payroll_period_start, payroll_period_end, is_paid);

	CREATE INDEX IF NOT EXISTS idx_work_entries_run
		ON work_entries(payroll_run_id) WHERE payroll_run_id IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOCKED ACCESS - Store methods delegate to conn under the mutex
// =============================================================================

func (s *Store) read(fn func(conn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(conn{q: s.db})
}

func (s *Store) write(fn func(conn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(conn{q: s.db})
}

func (s *Store) CreateEmployee(ctx context.Context, e *payroll.Employee) error {
	return s.write(func(c conn) error { return c.CreateEmployee(ctx, e) })
}

func (s *Store) GetEmployee(ctx context.Context, id payroll.EmployeeID) (out *payroll.Employee, err error) {
	err = s.read(func(c conn) error { out, err = c.GetEmployee(ctx, id); return err })
	return out, err
}

func (s *Store) UpdateEmployee(ctx context.Context, e payroll.Employee) error {
	return s.write(func(c conn) error { return c.UpdateEmployee(ctx, e) })
}

func (s *Store) DeleteEmployee(ctx context.Context, id payroll.EmployeeID) error {
	return s.write(func(c conn) error { return c.DeleteEmployee(ctx, id) })
}

func (s *Store) ListEmployees(ctx context.Context, f payroll.EmployeeFilter) (out []payroll.Employee, err error) {
	err = s.read(func(c conn) error { out, err = c.ListEmployees(ctx, f); return err })
	return out, err
}

func (s *Store) CreateWorkEntry(ctx context.Context, entry *payroll.WorkEntry) error {
	return s.write(func(c conn) error { return c.CreateWorkEntry(ctx, entry) })
}

func (s *Store) GetWorkEntry(ctx context.Context, id payroll.WorkEntryID) (out *payroll.WorkEntry, err error) {
	err = s.read(func(c conn) error { out, err = c.GetWorkEntry(ctx, id); return err })
	return out, err
}

func (s *Store) UpdateWorkEntry(ctx context.Context, entry payroll.WorkEntry) error {
	return s.write(func(c conn) error { return c.UpdateWorkEntry(ctx, entry) })
}

func (s *Store) DeleteWorkEntry(ctx context.Context, id payroll.WorkEntryID) error {
	return s.write(func(c conn) error { return c.DeleteWorkEntry(ctx, id) })
}

func (s *Store) ListWorkEntries(ctx context.Context, f payroll.WorkEntryFilter) (out []payroll.WorkEntry, err error) {
	err = s.read(func(c conn) error { out, err = c.ListWorkEntries(ctx, f); return err })
	return out, err
}

func (s *Store) PayableEntries(ctx context.Context, id payroll.EmployeeID, p payroll.Period) (out []payroll.WorkEntry, err error) {
	err = s.read(func(c conn) error { out, err = c.PayableEntries(ctx, id, p); return err })
	return out, err
}

func (s *Store) SavePayment(ctx context.Context, entry payroll.WorkEntry) error {
	return s.write(func(c conn) error { return c.SavePayment(ctx, entry) })
}

func (s *Store) CreateRun(ctx context.Context, run *payroll.Run) error {
	return s.write(func(c conn) error { return c.CreateRun(ctx, run) })
}

func (s *Store) GetRun(ctx context.Context, id payroll.RunID) (out *payroll.Run, err error) {
	err = s.read(func(c conn) error { out, err = c.GetRun(ctx, id); return err })
	return out, err
}

func (s *Store) LockRun(ctx context.Context, id payroll.RunID) (*payroll.Run, error) {
	return s.GetRun(ctx, id)
}

func (s *Store) UpdateRunNotes(ctx context.Context, id payroll.RunID, notes string) error {
	return s.write(func(c conn) error { return c.UpdateRunNotes(ctx, id, notes) })
}

func (s *Store) DeleteRun(ctx context.Context, id payroll.RunID) error {
	return s.write(func(c conn) error { return c.DeleteRun(ctx, id) })
}

func (s *Store) ListRuns(ctx context.Context, f payroll.RunFilter) (out []payroll.Run, err error) {
	err = s.read(func(c conn) error { out, err = c.ListRuns(ctx, f); return err })
	return out, err
}

func (s *Store) MarkRunProcessed(ctx context.Context, id payroll.RunID, at time.Time) error {
	return s.write(func(c conn) error { return c.MarkRunProcessed(ctx, id, at) })
}

func (s *Store) CloseRun(ctx context.Context, id payroll.RunID, at time.Time) (ok bool, err error) {
	err = s.write(func(c conn) error { ok, err = c.CloseRun(ctx, id, at); return err })
	return ok, err
}

// =============================================================================
// TRANSACTIONAL STORE (payroll.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store payroll.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(conn{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"work_entries", "payroll_runs", "employees", "sqlite_sequence"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// CONN - SQL implementation shared by *sql.DB and *sql.Tx
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type conn struct {
	q querier
}

type scanner interface {
	Scan(dest ...any) error
}

// ----- Employees -----

const employeeColumns = `id, first_name, last_name, worker_type, hourly_rate, daily_rate, is_active, hire_date`

func (c conn) CreateEmployee(ctx context.Context, e *payroll.Employee) error {
	res, err := c.q.ExecContext(ctx, `
		INSERT INTO employees (first_name, last_name, worker_type, hourly_rate, daily_rate, is_active, hire_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.FirstName, e.LastName, string(e.WorkerType), e.HourlyRate, e.DailyRate, e.IsActive, dateArg(e.HireDate),
	)
	if err != nil {
		return fmt.Errorf("failed to insert employee: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = payroll.EmployeeID(id)
	return nil
}

func (c conn) GetEmployee(ctx context.Context, id payroll.EmployeeID) (*payroll.Employee, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = ?`, int64(id))
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payroll.ErrEmployeeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (c conn) UpdateEmployee(ctx context.Context, e payroll.Employee) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE employees
		SET first_name = ?, last_name = ?, worker_type = ?, hourly_rate = ?, daily_rate = ?, is_active = ?
		WHERE id = ?`,
		e.FirstName, e.LastName, string(e.WorkerType), e.HourlyRate, e.DailyRate, e.IsActive, int64(e.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update employee: %w", err)
	}
	return expectOne(res, payroll.ErrEmployeeNotFound)
}

func (c conn) DeleteEmployee(ctx context.Context, id payroll.EmployeeID) error {
	res, err := c.q.ExecContext(ctx, `DELETE FROM employees WHERE id = ?`, int64(id))
	if err != nil {
		return fmt.Errorf("failed to delete employee: %w", err)
	}
	return expectOne(res, payroll.ErrEmployeeNotFound)
}

func (c conn) ListEmployees(ctx context.Context, f payroll.EmployeeFilter) ([]payroll.Employee, error) {
	var where []string
	var args []any
	if f.WorkerType != "" {
		where = append(where, "worker_type = ?")
		args = append(args, string(f.WorkerType))
	}
	if f.IsActive != nil {
		where = append(where, "is_active = ?")
		args = append(args, *f.IsActive)
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		where = append(where, "(LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ?)")
		pattern := "%" + strings.ToLower(search) + "%"
		args = append(args, pattern, pattern)
	}

	query := `SELECT ` + employeeColumns + ` FROM employees` + whereClause(where) +
		` ORDER BY hire_date DESC, id DESC`
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]payroll.Employee, 0)
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEmployee(row scanner) (payroll.Employee, error) {
	var e payroll.Employee
	var id int64
	var workerType, hireDate string
	if err := row.Scan(&id, &e.FirstName, &e.LastName, &workerType,
		&e.HourlyRate, &e.DailyRate, &e.IsActive, &hireDate); err != nil {
		return e, err
	}
	e.ID = payroll.EmployeeID(id)
	e.WorkerType = payroll.WorkerType(workerType)
	d, err := payroll.ParseDate(hireDate)
	if err != nil {
		return e, err
	}
	e.HireDate = d
	return e, nil
}

// ----- Work entries -----

const entryColumns = `id, employee_id, payroll_run_id, payroll_period_start, payroll_period_end,
	hours_worked, days_worked, is_paid, payment_type, payment_date, deferred_payment_date,
	gross_pay, total_deductions, net_pay`

func (c conn) CreateWorkEntry(ctx context.Context, entry *payroll.WorkEntry) error {
	res, err := c.q.ExecContext(ctx, `
		INSERT INTO work_entries (employee_id, payroll_run_id, payroll_period_start, payroll_period_end,
			hours_worked, days_worked, is_paid, payment_type, payment_date, deferred_payment_date,
			gross_pay, total_deductions, net_pay)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(entry.EmployeeID), runArg(entry.PayrollRunID),
		dateArg(entry.Period.Start), dateArg(entry.Period.End),
		entry.HoursWorked, entry.DaysWorked, entry.IsPaid,
		nullString(string(entry.PaymentType)), nullDate(entry.PaymentDate), nullDate(entry.DeferredPaymentDate),
		entry.GrossPay, entry.TotalDeductions, entry.NetPay,
	)
	if err != nil {
		return entryWriteError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	entry.ID = payroll.WorkEntryID(id)
	return nil
}

func (c conn) GetWorkEntry(ctx context.Context, id payroll.WorkEntryID) (*payroll.WorkEntry, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM work_entries WHERE id = ?`, int64(id))
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payroll.ErrWorkEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// UpdateWorkEntry writes the editable columns only. Pay columns belong to SavePayment.
func (c conn) UpdateWorkEntry(ctx context.Context, entry payroll.WorkEntry) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE work_entries
		SET employee_id = ?, payroll_run_id = ?, payroll_period_start = ?, payroll_period_end = ?,
			hours_worked = ?, days_worked = ?, payment_type = ?, deferred_payment_date = ?
		WHERE id = ?`,
		int64(entry.EmployeeID), runArg(entry.PayrollRunID),
		dateArg(entry.Period.Start), dateArg(entry.Period.End),
		entry.HoursWorked, entry.DaysWorked,
		nullString(string(entry.PaymentType)), nullDate(entry.DeferredPaymentDate),
		int64(entry.ID),
	)
	if err != nil {
		return entryWriteError(err)
	}
	return expectOne(res, payroll.ErrWorkEntryNotFound)
}

func (c conn) DeleteWorkEntry(ctx context.Context, id payroll.WorkEntryID) error {
	res, err := c.q.ExecContext(ctx, `DELETE FROM work_entries WHERE id = ?`, int64(id))
	if err != nil {
		return fmt.Errorf("failed to delete work entry: %w", err)
	}
	return expectOne(res, payroll.ErrWorkEntryNotFound)
}

func (c conn) ListWorkEntries(ctx context.Context, f payroll.WorkEntryFilter) ([]payroll.WorkEntry, error) {
	var where []string
	var args []any
	if f.EmployeeID != nil {
		where = append(where, "employee_id = ?")
		args = append(args, int64(*f.EmployeeID))
	}
	if f.PayrollRunID != nil {
		where = append(where, "payroll_run_id = ?")
		args = append(args, int64(*f.PayrollRunID))
	}
	if f.IsPaid != nil {
		where = append(where, "is_paid = ?")
		args = append(args, *f.IsPaid)
	}
	if f.PaymentType != "" {
		where = append(where, "payment_type = ?")
		args = append(args, string(f.PaymentType))
	}
	if f.PeriodStart != nil {
		where = append(where, "payroll_period_start = ?")
		args = append(args, dateArg(*f.PeriodStart))
	}

	return c.queryEntries(ctx, `SELECT `+entryColumns+` FROM work_entries`+whereClause(where)+
		` ORDER BY payroll_period_start DESC, id DESC`, args...)
}

func (c conn) PayableEntries(ctx context.Context, employeeID payroll.EmployeeID, p payroll.Period) ([]payroll.WorkEntry, error) {
	return c.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM work_entries
		WHERE employee_id = ? AND payroll_period_start = ? AND payroll_period_end = ? AND is_paid = 0
		ORDER BY id`,
		int64(employeeID), dateArg(p.Start), dateArg(p.End),
	)
}

func (c conn) SavePayment(ctx context.Context, entry payroll.WorkEntry) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE work_entries
		SET is_paid = ?, payment_type = ?, payment_date = ?, payroll_run_id = ?,
			gross_pay = ?, total_deductions = ?, net_pay = ?
		WHERE id = ?`,
		entry.IsPaid, nullString(string(entry.PaymentType)), nullDate(entry.PaymentDate),
		runArg(entry.PayrollRunID), entry.GrossPay, entry.TotalDeductions, entry.NetPay,
		int64(entry.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to save payment: %w", err)
	}
	return expectOne(res, payroll.ErrWorkEntryNotFound)
}

func (c conn) queryEntries(ctx context.Context, query string, args ...any) ([]payroll.WorkEntry, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]payroll.WorkEntry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func scanEntry(row scanner) (payroll.WorkEntry, error) {
	var entry payroll.WorkEntry
	var id, employeeID int64
	var runID sql.NullInt64
	var start, end string
	var paymentType, paymentDate, deferredDate sql.NullString
	if err := row.Scan(&id, &employeeID, &runID, &start, &end,
		&entry.HoursWorked, &entry.DaysWorked, &entry.IsPaid,
		&paymentType, &paymentDate, &deferredDate,
		&entry.GrossPay, &entry.TotalDeductions, &entry.NetPay); err != nil {
		return entry, err
	}

	entry.ID = payroll.WorkEntryID(id)
	entry.EmployeeID = payroll.EmployeeID(employeeID)
	if runID.Valid {
		rid := payroll.RunID(runID.Int64)
		entry.PayrollRunID = &rid
	}
	entry.PaymentType = payroll.PaymentType(paymentType.String)

	var err error
	if entry.Period, err = parsePeriod(start, end); err != nil {
		return entry, err
	}
	if entry.PaymentDate, err = parseNullDate(paymentDate); err != nil {
		return entry, err
	}
	if entry.DeferredPaymentDate, err = parseNullDate(deferredDate); err != nil {
		return entry, err
	}
	return entry, nil
}

// ----- Runs -----

const runColumns = `id, payroll_period_start, payroll_period_end, date_created, date_processed, is_closed, notes`

func (c conn) CreateRun(ctx context.Context, run *payroll.Run) error {
	res, err := c.q.ExecContext(ctx, `
		INSERT INTO payroll_runs (payroll_period_start, payroll_period_end, date_created, date_processed, is_closed, notes)
		VALUES (?, ?, ?, ?, ?, ?)`,
		dateArg(run.Period.Start), dateArg(run.Period.End),
		timeArg(run.DateCreated), nullTime(run.DateProcessed), run.IsClosed, run.Notes,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return payroll.ErrDuplicateRunPeriod
		}
		if isCheckConstraintError(err) {
			return payroll.ErrInvalidPeriod
		}
		return fmt.Errorf("failed to insert payroll run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	run.ID = payroll.RunID(id)
	return nil
}

func (c conn) GetRun(ctx context.Context, id payroll.RunID) (*payroll.Run, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+runColumns+` FROM payroll_runs WHERE id = ?`, int64(id))
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, payroll.ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// LockRun is a plain read. The write lock held by WithTx already serializes batches.
func (c conn) LockRun(ctx context.Context, id payroll.RunID) (*payroll.Run, error) {
	return c.GetRun(ctx, id)
}

func (c conn) UpdateRunNotes(ctx context.Context, id payroll.RunID, notes string) error {
	res, err := c.q.ExecContext(ctx, `UPDATE payroll_runs SET notes = ? WHERE id = ?`, notes, int64(id))
	if err != nil {
		return fmt.Errorf("failed to update payroll run: %w", err)
	}
	return expectOne(res, payroll.ErrRunNotFound)
}

func (c conn) DeleteRun(ctx context.Context, id payroll.RunID) error {
	res, err := c.q.ExecContext(ctx, `DELETE FROM payroll_runs WHERE id = ?`, int64(id))
	if err != nil {
		return fmt.Errorf("failed to delete payroll run: %w", err)
	}
	return expectOne(res, payroll.ErrRunNotFound)
}

func (c conn) ListRuns(ctx context.Context, f payroll.RunFilter) ([]payroll.Run, error) {
	var where []string
	var args []any
	if f.PeriodStart != nil {
		where = append(where, "payroll_period_start = ?")
		args = append(args, dateArg(*f.PeriodStart))
	}
	if f.PeriodEnd != nil {
		where = append(where, "payroll_period_end = ?")
		args = append(args, dateArg(*f.PeriodEnd))
	}
	if f.DateProcessed != nil {
		where = append(where, "substr(date_processed, 1, 10) = ?")
		args = append(args, dateArg(*f.DateProcessed))
	}
	if f.IsClosed != nil {
		where = append(where, "is_closed = ?")
		args = append(args, *f.IsClosed)
	}

	// NULLs sort lowest in SQLite, so unprocessed runs land last under DESC.
	rows, err := c.q.QueryContext(ctx, `SELECT `+runColumns+` FROM payroll_runs`+whereClause(where)+
		` ORDER BY date_processed DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]payroll.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (c conn) MarkRunProcessed(ctx context.Context, id payroll.RunID, at time.Time) error {
	res, err := c.q.ExecContext(ctx, `UPDATE payroll_runs SET date_processed = ? WHERE id = ?`,
		timeArg(at), int64(id))
	if err != nil {
		return fmt.Errorf("failed to mark payroll run processed: %w", err)
	}
	return expectOne(res, payroll.ErrRunNotFound)
}

func (c conn) CloseRun(ctx context.Context, id payroll.RunID, at time.Time) (bool, error) {
	res, err := c.q.ExecContext(ctx, `
		UPDATE payroll_runs SET is_closed = 1, date_processed = ?
		WHERE id = ? AND is_closed = 0`,
		timeArg(at), int64(id))
	if err != nil {
		return false, fmt.Errorf("failed to close payroll run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := c.GetRun(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func scanRun(row scanner) (payroll.Run, error) {
	var run payroll.Run
	var id int64
	var start, end, created string
	var processed sql.NullString
	if err := row.Scan(&id, &start, &end, &created, &processed, &run.IsClosed, &run.Notes); err != nil {
		return run, err
	}
	run.ID = payroll.RunID(id)

	var err error
	if run.Period, err = parsePeriod(start, end); err != nil {
		return run, err
	}
	if run.DateCreated, err = time.Parse(timeLayout, created); err != nil {
		return run, err
	}
	if processed.Valid {
		t, err := time.Parse(timeLayout, processed.String)
		if err != nil {
			return run, err
		}
		run.DateProcessed = &t
	}
	return run, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func dateArg(d payroll.Date) string {
	return d.String()
}

func nullDate(d *payroll.Date) sql.NullString {
	if d == nil || d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDate(s sql.NullString) (*payroll.Date, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := payroll.ParseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parsePeriod(start, end string) (payroll.Period, error) {
	s, err := payroll.ParseDate(start)
	if err != nil {
		return payroll.Period{}, err
	}
	e, err := payroll.ParseDate(end)
	if err != nil {
		return payroll.Period{}, err
	}
	return payroll.Period{Start: s, End: e}, nil
}

func timeArg(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: timeArg(*t), Valid: true}
}

func runArg(id *payroll.RunID) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*id), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func entryWriteError(err error) error {
	switch {
	case isUniqueConstraintError(err):
		return payroll.ErrDuplicateWorkEntry
	case isForeignKeyError(err):
		return payroll.ErrEmployeeNotFound
	case isCheckConstraintError(err):
		return payroll.ErrInvalidPeriod
	}
	return fmt.Errorf("failed to write work entry: %w", err)
}

func constraintCode(err error) (sqlite3.ErrNoExtended, bool) {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return 0, false
	}
	return sqliteErr.ExtendedCode, true
}

func isUniqueConstraintError(err error) bool {
	code, ok := constraintCode(err)
	return ok && (code == sqlite3.ErrConstraintUnique || code == sqlite3.ErrConstraintPrimaryKey)
}

func isForeignKeyError(err error) bool {
	code, ok := constraintCode(err)
	return ok && code == sqlite3.ErrConstraintForeignKey
}

func isCheckConstraintError(err error) bool {
	code, ok := constraintCode(err)
	return ok && code == sqlite3.ErrConstraintCheck
}

var (
	_ payroll.TxStore  = (*Store)(nil)
	_ payroll.Resetter = (*Store)(nil)
	_ payroll.Store    = conn{}
)
