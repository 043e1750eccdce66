/*
Package postgres provides the PostgreSQL implementation of payroll.TxStore.

PURPOSE:
  Production persistence over a pgx pool. Schema is managed by versioned
  migrations under migrations/ (golang-migrate).

LOCKING:
  LockRun and PayableEntries use SELECT ... FOR UPDATE so two batches that
  touch the same run or the same employee's entries serialize on row locks
  instead of double-paying.

ERRORS:
  23505 unique   -> ErrDuplicateRunPeriod / ErrDuplicateWorkEntry
  23503 fk       -> ErrEmployeeNotFound / ErrRunNotFound
  23514 check    -> ErrInvalidPeriod

SEE ALSO:
  - payroll/store.go: Interface definitions
  - store/sqlite: Development implementation
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/warp/payroll-engine/payroll"
)

const (
	uniqueViolationCode     = "23505"
	foreignKeyViolationCode = "23503"
	checkViolationCode      = "23514"
)

// Store implements payroll.TxStore on PostgreSQL.
type Store struct {
	pool Pool
}

// New wraps an open pool.
func New(pool Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) conn() conn { return conn{q: s.pool} }

// WithTx runs fn in a read-write transaction.
func (s *Store) WithTx(ctx context.Context, fn func(payroll.Store) error) error {
	return withinTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(conn{q: tx})
	})
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Reset truncates all payroll tables (demo scenarios only).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE work_entries, payroll_runs, employees RESTART IDENTITY CASCADE`)
	return err
}

func (s *Store) CreateEmployee(ctx context.Context, e *payroll.Employee) error {
	return s.conn().CreateEmployee(ctx, e)
}

func (s *Store) GetEmployee(ctx context.Context, id payroll.EmployeeID) (*payroll.Employee, error) {
	return s.conn().GetEmployee(ctx, id)
}

func (s *Store) UpdateEmployee(ctx context.Context, e payroll.Employee) error {
	return s.conn().UpdateEmployee(ctx, e)
}

func (s *Store) DeleteEmployee(ctx context.Context, id payroll.EmployeeID) error {
	return s.conn().DeleteEmployee(ctx, id)
}

func (s *Store) ListEmployees(ctx context.Context, f payroll.EmployeeFilter) ([]payroll.Employee, error) {
	return s.conn().ListEmployees(ctx, f)
}

func (s *Store) CreateWorkEntry(ctx context.Context, entry *payroll.WorkEntry) error {
	return s.conn().CreateWorkEntry(ctx, entry)
}

func (s *Store) GetWorkEntry(ctx context.Context, id payroll.WorkEntryID) (*payroll.WorkEntry, error) {
	return s.conn().GetWorkEntry(ctx, id)
}

func (s *Store) UpdateWorkEntry(ctx context.Context, entry payroll.WorkEntry) error {
	return s.conn().UpdateWorkEntry(ctx, entry)
}

func (s *Store) DeleteWorkEntry(ctx context.Context, id payroll.WorkEntryID) error {
	return s.conn().DeleteWorkEntry(ctx, id)
}

func (s *Store) ListWorkEntries(ctx context.Context, f payroll.WorkEntryFilter) ([]payroll.WorkEntry, error) {
	return s.conn().ListWorkEntries(ctx, f)
}

func (s *Store) PayableEntries(ctx context.Context, id payroll.EmployeeID, p payroll.Period) ([]payroll.WorkEntry, error) {
	return s.conn().PayableEntries(ctx, id, p)
}

func (s *Store) SavePayment(ctx context.Context, entry payroll.WorkEntry) error {
	return s.conn().SavePayment(ctx, entry)
}

func (s *Store) CreateRun(ctx context.Context, run *payroll.Run) error {
	return s.conn().CreateRun(ctx, run)
}

func (s *Store) GetRun(ctx context.Context, id payroll.RunID) (*payroll.Run, error) {
	return s.conn().GetRun(ctx, id)
}

func (s *Store) LockRun(ctx context.Context, id payroll.RunID) (*payroll.Run, error) {
	return s.conn().LockRun(ctx, id)
}

func (s *Store) UpdateRunNotes(ctx context.Context, id payroll.RunID, notes string) error {
	return s.conn().UpdateRunNotes(ctx, id, notes)
}

func (s *Store) DeleteRun(ctx context.Context, id payroll.RunID) error {
	return s.conn().DeleteRun(ctx, id)
}

func (s *Store) ListRuns(ctx context.Context, f payroll.RunFilter) ([]payroll.Run, error) {
	return s.conn().ListRuns(ctx, f)
}

func (s *Store) MarkRunProcessed(ctx context.Context, id payroll.RunID, at time.Time) error {
	return s.conn().MarkRunProcessed(ctx, id, at)
}

func (s *Store) CloseRun(ctx context.Context, id payroll.RunID, at time.Time) (bool, error) {
	return s.conn().CloseRun(ctx, id, at)
}

// =============================================================================
// CONN - Queries against a pool or a transaction
// =============================================================================

type conn struct {
	q Queryer
}

// ----- Employees -----

const employeeColumns = `id, first_name, last_name, worker_type, hourly_rate, daily_rate, is_active, hire_date`

func (c conn) CreateEmployee(ctx context.Context, e *payroll.Employee) error {
	row := c.q.QueryRow(ctx, `
        INSERT INTO employees (first_name, last_name, worker_type, hourly_rate, daily_rate, is_active, hire_date)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id`,
		e.FirstName, e.LastName, string(e.WorkerType), e.HourlyRate, e.DailyRate, e.IsActive, e.HireDate.Time,
	)
	var id int64
	if err := row.Scan(&id); err != nil {
		return translatePgError(err)
	}
	e.ID = payroll.EmployeeID(id)
	return nil
}

func (c conn) GetEmployee(ctx context.Context, id payroll.EmployeeID) (*payroll.Employee, error) {
	row := c.q.QueryRow(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = $1`, int64(id))
	e, err := scanEmployee(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, payroll.ErrEmployeeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (c conn) UpdateEmployee(ctx context.Context, e payroll.Employee) error {
	tag, err := c.q.Exec(ctx, `
        UPDATE employees
           SET first_name = $1, last_name = $2, worker_type = $3,
               hourly_rate = $4, daily_rate = $5, is_active = $6
         WHERE id = $7`,
		e.FirstName, e.LastName, string(e.WorkerType), e.HourlyRate, e.DailyRate, e.IsActive, int64(e.ID),
	)
	if err != nil {
		return translatePgError(err)
	}
	return expectOne(tag, payroll.ErrEmployeeNotFound)
}

func (c conn) DeleteEmployee(ctx context.Context, id payroll.EmployeeID) error {
	tag, err := c.q.Exec(ctx, `DELETE FROM employees WHERE id = $1`, int64(id))
	if err != nil {
		return translatePgError(err)
	}
	return expectOne(tag, payroll.ErrEmployeeNotFound)
}

func (c conn) ListEmployees(ctx context.Context, f payroll.EmployeeFilter) ([]payroll.Employee, error) {
	var w where
	if f.WorkerType != "" {
		w.add("worker_type = $%d", string(f.WorkerType))
	}
	if f.IsActive != nil {
		w.add("is_active = $%d", *f.IsActive)
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		w.add("(first_name ILIKE $%[1]d OR last_name ILIKE $%[1]d)", "%"+search+"%")
	}

	rows, err := c.q.Query(ctx, `SELECT `+employeeColumns+` FROM employees`+w.sql()+
		` ORDER BY hire_date DESC, id DESC`, w.args...)
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

func scanEmployee(row pgx.Row) (payroll.Employee, error) {
	var e payroll.Employee
	var id int64
	var workerType string
	var hireDate time.Time
	if err := row.Scan(&id, &e.FirstName, &e.LastName, &workerType,
		&e.HourlyRate, &e.DailyRate, &e.IsActive, &hireDate); err != nil {
		return e, err
	}
	e.ID = payroll.EmployeeID(id)
	e.WorkerType = payroll.WorkerType(workerType)
	e.HireDate = payroll.DateOf(hireDate)
	return e, nil
}

// ----- Work entries -----

const entryColumns = `id, employee_id, payroll_run_id, payroll_period_start, payroll_period_end,
               hours_worked, days_worked, is_paid, payment_type, payment_date, deferred_payment_date,
               gross_pay, total_deductions, net_pay`

func (c conn) CreateWorkEntry(ctx context.Context, entry *payroll.WorkEntry) error {
	row := c.q.QueryRow(ctx, `
        INSERT INTO work_entries (employee_id, payroll_run_id, payroll_period_start, payroll_period_end,
               hours_worked, days_worked, is_paid, payment_type, payment_date, deferred_payment_date,
               gross_pay, total_deductions, net_pay)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        RETURNING id`,
		int64(entry.EmployeeID), runArg(entry.PayrollRunID),
		entry.Period.Start.Time, entry.Period.End.Time,
		entry.HoursWorked, entry.DaysWorked, entry.IsPaid,
		textArg(string(entry.PaymentType)), dateArg(entry.PaymentDate), dateArg(entry.DeferredPaymentDate),
		entry.GrossPay, entry.TotalDeductions, entry.NetPay,
	)
	var id int64
	if err := row.Scan(&id); err != nil {
		return translatePgError(err)
	}
	entry.ID = payroll.WorkEntryID(id)
	return nil
}

func (c conn) GetWorkEntry(ctx context.Context, id payroll.WorkEntryID) (*payroll.WorkEntry, error) {
	row := c.q.QueryRow(ctx, `SELECT `+entryColumns+` FROM work_entries WHERE id = $1`, int64(id))
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, payroll.ErrWorkEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c conn) UpdateWorkEntry(ctx context.Context, entry payroll.WorkEntry) error {
	tag, err := c.q.Exec(ctx, `
        UPDATE work_entries
           SET employee_id = $1, payroll_run_id = $2, payroll_period_start = $3, payroll_period_end = $4,
               hours_worked = $5, days_worked = $6, payment_type = $7, deferred_payment_date = $8
         WHERE id = $9`,
		int64(entry.EmployeeID), runArg(entry.PayrollRunID),
		entry.Period.Start.Time, entry.Period.End.Time,
		entry.HoursWorked, entry.DaysWorked,
		textArg(string(entry.PaymentType)), dateArg(entry.DeferredPaymentDate),
		int64(entry.ID),
	)
	if err != nil {
		return translatePgError(err)
	}
	return expectOne(tag, payroll.ErrWorkEntryNotFound)
}

func (c conn) DeleteWorkEntry(ctx context.Context, id payroll.WorkEntryID) error {
	tag, err := c.q.Exec(ctx, `DELETE FROM work_entries WHERE id = $1`, int64(id))
	if err != nil {
		return translatePgError(err)
	}
	return expectOne(tag, payroll.ErrWorkEntryNotFound)
}

func (c conn) ListWorkEntries(ctx context.Context, f payroll.WorkEntryFilter) ([]payroll.WorkEntry, error) {
	var w where
	if f.EmployeeID != nil {
		w.add("employee_id = $%d", int64(*f.EmployeeID))
	}
	if f.PayrollRunID != nil {
		w.add("payroll_run_id = $%d", int64(*f.PayrollRunID))
	}
	if f.IsPaid != nil {
		w.add("is_paid = $%d", *f.IsPaid)
	}
	if f.PaymentType != "" {
		w.add("payment_type = $%d", string(f.PaymentType))
	}
	if f.PeriodStart != nil {
		w.add("payroll_period_start = $%d", f.PeriodStart.Time)
	}

	return c.queryEntries(ctx, `SELECT `+entryColumns+` FROM work_entries`+w.sql()+
		` ORDER BY payroll_period_start DESC, id DESC`, w.args...)
}

// PayableEntries locks the matched rows until the surrounding transaction ends.
func (c conn) PayableEntries(ctx context.Context, employeeID payroll.EmployeeID, p payroll.Period) ([]payroll.WorkEntry, error) {
	return c.queryEntries(ctx, `
        SELECT `+entryColumns+`
          FROM work_entries
         WHERE employee_id = $1 AND payroll_period_start = $2 AND payroll_period_end = $3 AND is_paid = FALSE
         ORDER BY id
           FOR UPDATE`,
		int64(employeeID), p.Start.Time, p.End.Time,
	)
}

func (c conn) SavePayment(ctx context.Context, entry payroll.WorkEntry) error {
	tag, err := c.q.Exec(ctx, `
        UPDATE work_entries
           SET is_paid = $1, payment_type = $2, payment_date = $3, payroll_run_id = $4,
               gross_pay = $5, total_deductions = $6, net_pay = $7
         WHERE id = $8`,
		entry.IsPaid, textArg(string(entry.PaymentType)), dateArg(entry.PaymentDate),
		runArg(entry.PayrollRunID), entry.GrossPay, entry.TotalDeductions, entry.NetPay,
		int64(entry.ID),
	)
	if err != nil {
		return translatePgError(err)
	}
	return expectOne(tag, payroll.ErrWorkEntryNotFound)
}

func (c conn) queryEntries(ctx context.Context, query string, args ...any) ([]payroll.WorkEntry, error) {
	rows, err := c.q.Query(ctx, query, args...)
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

func scanEntry(row pgx.Row) (payroll.WorkEntry, error) {
	var entry payroll.WorkEntry
	var id, employeeID int64
	var runID *int64
	var start, end time.Time
	var paymentType *string
	var paymentDate, deferredDate *time.Time
	if err := row.Scan(&id, &employeeID, &runID, &start, &end,
		&entry.HoursWorked, &entry.DaysWorked, &entry.IsPaid,
		&paymentType, &paymentDate, &deferredDate,
		&entry.GrossPay, &entry.TotalDeductions, &entry.NetPay); err != nil {
		return entry, err
	}

	entry.ID = payroll.WorkEntryID(id)
	entry.EmployeeID = payroll.EmployeeID(employeeID)
	if runID != nil {
		rid := payroll.RunID(*runID)
		entry.PayrollRunID = &rid
	}
	entry.Period = payroll.Period{Start: payroll.DateOf(start), End: payroll.DateOf(end)}
	if paymentType != nil {
		entry.PaymentType = payroll.PaymentType(*paymentType)
	}
	entry.PaymentDate = datePtr(paymentDate)
	entry.DeferredPaymentDate = datePtr(deferredDate)
	return entry, nil
}

// ----- Runs -----

const runColumns = `id, payroll_period_start, payroll_period_end, date_created, date_processed, is_closed, notes`

func (c conn) CreateRun(ctx context.Context, run *payroll.Run) error {
	row := c.q.QueryRow(ctx, `
        INSERT INTO payroll_runs (payroll_period_start, payroll_period_end, date_created, date_processed, is_closed, notes)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id`,
		run.Period.Start.Time, run.Period.End.Time, run.DateCreated, run.DateProcessed, run.IsClosed, run.Notes,
	)
	var id int64
	if err := row.Scan(&id); err != nil {
		return translatePgError(err)
	}
	run.ID = payroll.RunID(id)
	return nil
}

func (c conn) GetRun(ctx context.Context, id payroll.RunID) (*payroll.Run, error) {
	return c.getRun(ctx, `SELECT `+runColumns+` FROM payroll_runs WHERE id = $1`, id)
}

// LockRun holds the run row until the surrounding transaction ends.
func (c conn) LockRun(ctx context.Context, id payroll.RunID) (*payroll.Run, error) {
	return c.getRun(ctx, `SELECT `+runColumns+` FROM payroll_runs WHERE id = $1 FOR UPDATE`, id)
}

func (c conn) getRun(ctx context.Context, query string, id payroll.RunID) (*payroll.Run, error) {
	run, err := scanRun(c.q.QueryRow(ctx, query, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, payroll.ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (c conn) UpdateRunNotes(ctx context.Context, id payroll.RunID, notes string) error {
	tag, err := c.q.Exec(ctx, `UPDATE payroll_runs SET notes = $1 WHERE id = $2`, notes, int64(id))
	if err != nil {
		return translatePgError(err)
	}
	return expectOne(tag, payroll.ErrRunNotFound)
}

func (c conn) DeleteRun(ctx context.Context, id payroll.RunID) error {
	tag, err := c.q.Exec(ctx, `DELETE FROM payroll_runs WHERE id = $1`, int64(id))
	if err != nil {
		return translatePgError(err)
	}
	return expectOne(tag, payroll.ErrRunNotFound)
}

func (c conn) ListRuns(ctx context.Context, f payroll.RunFilter) ([]payroll.Run, error) {
	var w where
	if f.PeriodStart != nil {
		w.add("payroll_period_start = $%d", f.PeriodStart.Time)
	}
	if f.PeriodEnd != nil {
		w.add("payroll_period_end = $%d", f.PeriodEnd.Time)
	}
	if f.DateProcessed != nil {
		w.add("(date_processed AT TIME ZONE 'UTC')::date = $%d", f.DateProcessed.Time)
	}
	if f.IsClosed != nil {
		w.add("is_closed = $%d", *f.IsClosed)
	}

	rows, err := c.q.Query(ctx, `SELECT `+runColumns+` FROM payroll_runs`+w.sql()+
		` ORDER BY date_processed DESC NULLS LAST, id DESC`, w.args...)
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
	tag, err := c.q.Exec(ctx, `UPDATE payroll_runs SET date_processed = $1 WHERE id = $2`, at, int64(id))
	if err != nil {
		return translatePgError(err)
	}
	return expectOne(tag, payroll.ErrRunNotFound)
}

// CloseRun flips is_closed only while it is still false.
func (c conn) CloseRun(ctx context.Context, id payroll.RunID, at time.Time) (bool, error) {
	tag, err := c.q.Exec(ctx, `
        UPDATE payroll_runs
           SET is_closed = TRUE, date_processed = $1
         WHERE id = $2 AND is_closed = FALSE`,
		at, int64(id),
	)
	if err != nil {
		return false, translatePgError(err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := c.GetRun(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func scanRun(row pgx.Row) (payroll.Run, error) {
	var run payroll.Run
	var id int64
	var start, end time.Time
	if err := row.Scan(&id, &start, &end, &run.DateCreated, &run.DateProcessed, &run.IsClosed, &run.Notes); err != nil {
		return run, err
	}
	run.ID = payroll.RunID(id)
	run.Period = payroll.Period{Start: payroll.DateOf(start), End: payroll.DateOf(end)}
	return run, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// where accumulates numbered placeholders; each condition carries one "$%d"
// verb (or an indexed "$%[1]d" used more than once) for its single argument.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func expectOne(tag pgconn.CommandTag, notFound error) error {
	if tag.RowsAffected() == 0 {
		return notFound
	}
	return nil
}

func runArg(id *payroll.RunID) *int64 {
	if id == nil {
		return nil
	}
	v := int64(*id)
	return &v
}

func textArg(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func dateArg(d *payroll.Date) *time.Time {
	if d == nil || d.IsZero() {
		return nil
	}
	t := d.Time
	return &t
}

func datePtr(t *time.Time) *payroll.Date {
	if t == nil {
		return nil
	}
	d := payroll.DateOf(*t)
	return &d
}

func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case uniqueViolationCode:
		if pgErr.ConstraintName == "payroll_runs_period_key" {
			return payroll.ErrDuplicateRunPeriod
		}
		return payroll.ErrDuplicateWorkEntry
	case foreignKeyViolationCode:
		if pgErr.ConstraintName == "work_entries_run_fk" {
			return payroll.ErrRunNotFound
		}
		return payroll.ErrEmployeeNotFound
	case checkViolationCode:
		return payroll.ErrInvalidPeriod
	}
	return err
}

var (
	_ payroll.TxStore  = (*Store)(nil)
	_ payroll.Resetter = (*Store)(nil)
	_ payroll.Store    = conn{}
)
