/*
service.go - Payroll service: registry, records and workflows

PURPOSE:
  The single entry point used by the HTTP layer and demo scenarios. Wraps
  the store with validation and exposes the two payroll workflows.

WORKFLOWS:
  ProcessPeriod:  create run -> CalculatePayroll -> mark run processed
  CloseRun:       entries already attached to an open run -> Engine.CloseRun

  Both publish an Event after the data is committed. A failed publish is
  logged and does not fail the operation.

RECORD RULES:
  - Employees are validated on create and update; hire date never changes.
  - Work entries are validated against their employee before any write.
  - Entries cannot be attached to, or removed from, a closed run.
  - Paid entries are frozen for the generic update path.
  - Bulk create is all-or-nothing.

SEE ALSO:
  - engine.go, closing.go: Pay computation
  - validation.go: Field rules
  - api/handlers.go: HTTP mapping
*/
package payroll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ProcessNotes is attached to runs created by ProcessPeriod.
const ProcessNotes = "Payroll processed via API."

var tracer = otel.Tracer("github.com/warp/payroll-engine/payroll")

// Service exposes payroll operations over a TxStore.
type Service struct {
	store     TxStore
	engine    *Engine
	publisher Publisher
	clock     Clock
	logger    zerolog.Logger
}

type Option func(*Service)

func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(store TxStore, opts ...Option) *Service {
	s := &Service{
		store:     store,
		publisher: noopPublisher{},
		clock:     time.Now,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = NewEngine(store, s.clock, s.logger)
	return s
}

// Store returns the underlying store.
func (s *Service) Store() TxStore { return s.store }

// =============================================================================
// EMPLOYEES
// =============================================================================

func (s *Service) CreateEmployee(ctx context.Context, e Employee) (*Employee, error) {
	if err := ValidateEmployee(e); err != nil {
		return nil, err
	}
	e.ID = 0
	e.HireDate = DateOf(s.clock())
	if err := s.store.CreateEmployee(ctx, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Service) GetEmployee(ctx context.Context, id EmployeeID) (*Employee, error) {
	return s.store.GetEmployee(ctx, id)
}

func (s *Service) UpdateEmployee(ctx context.Context, e Employee) (*Employee, error) {
	if err := ValidateEmployee(e); err != nil {
		return nil, err
	}
	existing, err := s.store.GetEmployee(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	e.HireDate = existing.HireDate
	if err := s.store.UpdateEmployee(ctx, e); err != nil {
		return nil, err
	}
	return &e, nil
}

// DeleteEmployee removes the employee and their work entries. Employees with
// entries on a closed run are kept: closed runs are final.
func (s *Service) DeleteEmployee(ctx context.Context, id EmployeeID) error {
	return s.store.WithTx(ctx, func(tx Store) error {
		if _, err := tx.GetEmployee(ctx, id); err != nil {
			return err
		}
		entries, err := tx.ListWorkEntries(ctx, WorkEntryFilter{EmployeeID: &id})
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := checkRunOpen(ctx, tx, entry.PayrollRunID); err != nil {
				return fmt.Errorf("employee %d, work entry %d: %w", id, entry.ID, err)
			}
		}
		return tx.DeleteEmployee(ctx, id)
	})
}

func (s *Service) ListEmployees(ctx context.Context, filter EmployeeFilter) ([]Employee, error) {
	return s.store.ListEmployees(ctx, filter)
}

// =============================================================================
// WORK ENTRIES
// =============================================================================

func (s *Service) CreateWorkEntry(ctx context.Context, entry WorkEntry) (*WorkEntry, error) {
	var created WorkEntry
	err := s.store.WithTx(ctx, func(tx Store) error {
		out, err := createEntry(ctx, tx, entry)
		if err != nil {
			return err
		}
		created = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// BulkCreateWorkEntries validates every entry, then inserts all of them in
// one transaction. On any failure nothing is written and the error is a
// *BulkError naming the first failing index.
func (s *Service) BulkCreateWorkEntries(ctx context.Context, entries []WorkEntry) ([]WorkEntry, error) {
	ctx, span := tracer.Start(ctx, "payroll.BulkCreateWorkEntries",
		trace.WithAttributes(attribute.Int("payroll.entries", len(entries))))
	defer span.End()

	if len(entries) == 0 {
		v := NewValidator()
		v.Add("entries", "at least one work entry is required")
		return nil, v.Err()
	}

	created := make([]WorkEntry, 0, len(entries))
	err := s.store.WithTx(ctx, func(tx Store) error {
		for i, entry := range entries {
			if err := checkEntry(ctx, tx, entry); err != nil {
				return &BulkError{Index: i, Err: err}
			}
		}
		for i, entry := range entries {
			out, err := createEntry(ctx, tx, entry)
			if err != nil {
				return &BulkError{Index: i, Err: err}
			}
			created = append(created, out)
		}
		return nil
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	s.logger.Info().Int("entries", len(created)).Msg("work entries created")
	return created, nil
}

func (s *Service) GetWorkEntry(ctx context.Context, id WorkEntryID) (*WorkEntry, error) {
	return s.store.GetWorkEntry(ctx, id)
}

// UpdateWorkEntry replaces the editable fields of an unpaid entry.
func (s *Service) UpdateWorkEntry(ctx context.Context, entry WorkEntry) (*WorkEntry, error) {
	var updated WorkEntry
	err := s.store.WithTx(ctx, func(tx Store) error {
		existing, err := tx.GetWorkEntry(ctx, entry.ID)
		if err != nil {
			return err
		}
		if existing.IsPaid {
			return ErrEntryAlreadyPaid
		}
		if err := checkRunOpen(ctx, tx, existing.PayrollRunID); err != nil {
			return err
		}
		if err := checkEntry(ctx, tx, entry); err != nil {
			return err
		}

		next := *existing
		next.EmployeeID = entry.EmployeeID
		next.PayrollRunID = entry.PayrollRunID
		next.Period = entry.Period
		next.HoursWorked = entry.HoursWorked
		next.DaysWorked = entry.DaysWorked
		next.PaymentType = entry.PaymentType
		next.DeferredPaymentDate = entry.DeferredPaymentDate

		if err := tx.UpdateWorkEntry(ctx, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Service) DeleteWorkEntry(ctx context.Context, id WorkEntryID) error {
	return s.store.WithTx(ctx, func(tx Store) error {
		existing, err := tx.GetWorkEntry(ctx, id)
		if err != nil {
			return err
		}
		if err := checkRunOpen(ctx, tx, existing.PayrollRunID); err != nil {
			return err
		}
		return tx.DeleteWorkEntry(ctx, id)
	})
}

func (s *Service) ListWorkEntries(ctx context.Context, filter WorkEntryFilter) ([]WorkEntry, error) {
	return s.store.ListWorkEntries(ctx, filter)
}

// checkEntry validates an entry against its employee and target run.
// References in the entry body that point nowhere are validation issues,
// not missing resources.
func checkEntry(ctx context.Context, tx Store, entry WorkEntry) error {
	if entry.EmployeeID <= 0 {
		return referenceIssue("employee", "this field is required")
	}
	emp, err := tx.GetEmployee(ctx, entry.EmployeeID)
	if errors.Is(err, ErrEmployeeNotFound) {
		return referenceIssue("employee", fmt.Sprintf("employee %d does not exist", entry.EmployeeID))
	}
	if err != nil {
		return err
	}
	if err := ValidateWorkEntry(entry, *emp); err != nil {
		return err
	}

	err = checkRunOpen(ctx, tx, entry.PayrollRunID)
	if errors.Is(err, ErrRunNotFound) {
		return referenceIssue("payroll_run", fmt.Sprintf("payroll run %d does not exist", *entry.PayrollRunID))
	}
	return err
}

func referenceIssue(field, reason string) error {
	v := NewValidator()
	v.Add(field, reason)
	return v.Err()
}

func createEntry(ctx context.Context, tx Store, entry WorkEntry) (WorkEntry, error) {
	if err := checkEntry(ctx, tx, entry); err != nil {
		return WorkEntry{}, err
	}

	entry.ID = 0
	entry.IsPaid = false
	entry.PaymentDate = nil
	entry.GrossPay = decimal.Zero
	entry.TotalDeductions = decimal.Zero
	entry.NetPay = decimal.Zero

	if err := tx.CreateWorkEntry(ctx, &entry); err != nil {
		return WorkEntry{}, err
	}
	return entry, nil
}

func checkRunOpen(ctx context.Context, tx Store, id *RunID) error {
	if id == nil {
		return nil
	}
	run, err := tx.GetRun(ctx, *id)
	if err != nil {
		return err
	}
	if run.IsClosed {
		return fmt.Errorf("run %d: %w", run.ID, ErrRunClosed)
	}
	return nil
}

// =============================================================================
// PAYROLL RUN REGISTRY
// =============================================================================

// CreateRun registers an open run. It does not calculate anything.
func (s *Service) CreateRun(ctx context.Context, period Period, notes string) (*Run, error) {
	v := NewValidator()
	v.Period("payroll_period_start", "payroll_period_end", period)
	if err := v.Err(); err != nil {
		return nil, err
	}

	run := Run{
		Period:      period,
		DateCreated: s.clock().UTC(),
		Notes:       notes,
	}
	if err := s.store.CreateRun(ctx, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRun returns the run with its attached entries.
func (s *Service) GetRun(ctx context.Context, id RunID) (*Run, error) {
	run, err := s.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListWorkEntries(ctx, WorkEntryFilter{PayrollRunID: &id})
	if err != nil {
		return nil, err
	}
	run.Entries = entries
	return run, nil
}

func (s *Service) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	return s.store.ListRuns(ctx, filter)
}

func (s *Service) UpdateRunNotes(ctx context.Context, id RunID, notes string) (*Run, error) {
	if err := s.store.UpdateRunNotes(ctx, id, notes); err != nil {
		return nil, err
	}
	return s.GetRun(ctx, id)
}

// DeleteRun removes an open run. Its entries stay, detached.
func (s *Service) DeleteRun(ctx context.Context, id RunID) error {
	return s.store.WithTx(ctx, func(tx Store) error {
		if err := checkRunOpen(ctx, tx, &id); err != nil {
			return err
		}
		return tx.DeleteRun(ctx, id)
	})
}

// =============================================================================
// WORKFLOWS
// =============================================================================

// ProcessOutcome is the result of ProcessPeriod.
type ProcessOutcome struct {
	Run     Run
	Results []Result
}

// ProcessPeriod creates a run for period and pays every active employee's
// matching entries into it. The run ends processed but open.
//
// A period whose run exists but was never marked processed (an earlier call
// failed partway, or the run was registered by hand) is resumed: the run is
// reused and only still-unpaid entries are paid. A processed or closed run
// for the period is ErrDuplicateRunPeriod.
func (s *Service) ProcessPeriod(ctx context.Context, period Period) (*ProcessOutcome, error) {
	ctx, span := tracer.Start(ctx, "payroll.ProcessPeriod",
		trace.WithAttributes(
			attribute.String("payroll.period_start", period.Start.String()),
			attribute.String("payroll.period_end", period.End.String()),
		))
	defer span.End()

	run, err := s.runForProcessing(ctx, period)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int64("payroll.run_id", int64(run.ID)))

	results, err := s.engine.CalculatePayroll(ctx, period, *run)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	processedAt := s.clock().UTC()
	if err := s.store.MarkRunProcessed(ctx, run.ID, processedAt); err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("mark run %d processed: %w", run.ID, err)
	}
	run.DateProcessed = &processedAt

	total := decimal.Zero
	paid := 0
	for _, r := range results {
		total = total.Add(r.GrossPay)
		paid += r.EntriesPaid
	}

	s.logger.Info().
		Int64("run_id", int64(run.ID)).
		Str("period", period.String()).
		Int("employees", len(results)).
		Int("entries", paid).
		Str("total_gross", total.StringFixed(2)).
		Msg("payroll processed")

	s.publish(ctx, EventRunProcessed, *run, paid, total)
	return &ProcessOutcome{Run: *run, Results: results}, nil
}

func (s *Service) runForProcessing(ctx context.Context, period Period) (*Run, error) {
	run, err := s.CreateRun(ctx, period, ProcessNotes)
	if !errors.Is(err, ErrDuplicateRunPeriod) {
		return run, err
	}

	existing, lookupErr := s.store.ListRuns(ctx, RunFilter{PeriodStart: &period.Start, PeriodEnd: &period.End})
	if lookupErr != nil {
		return nil, fmt.Errorf("find run for %s: %w", period, lookupErr)
	}
	for i := range existing {
		r := existing[i]
		if r.IsClosed || r.DateProcessed != nil {
			continue
		}
		s.logger.Info().
			Int64("run_id", int64(r.ID)).
			Str("period", period.String()).
			Msg("resuming unprocessed payroll run")
		return &r, nil
	}
	return nil, err
}

// CloseRun pays the run's attached entries and closes it.
func (s *Service) CloseRun(ctx context.Context, id RunID) (*Run, error) {
	ctx, span := tracer.Start(ctx, "payroll.CloseRun",
		trace.WithAttributes(attribute.Int64("payroll.run_id", int64(id))))
	defer span.End()

	run, err := s.engine.CloseRun(ctx, id)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	total := decimal.Zero
	for _, entry := range run.Entries {
		total = total.Add(entry.GrossPay)
	}
	s.publish(ctx, EventRunClosed, *run, len(run.Entries), total)
	return run, nil
}

func (s *Service) publish(ctx context.Context, typ EventType, run Run, entries int, total decimal.Decimal) {
	event := Event{
		ID:          uuid.NewString(),
		Type:        typ,
		RunID:       run.ID,
		PeriodStart: run.Period.Start,
		PeriodEnd:   run.Period.End,
		EntryCount:  entries,
		TotalGross:  total,
		OccurredAt:  s.clock().UTC(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).
			Str("event_type", string(typ)).
			Int64("run_id", int64(run.ID)).
			Msg("failed to publish payroll event")
	}
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	if !IsClientError(err) && !IsConflict(err) && !IsNotFound(err) && !errors.Is(err, context.Canceled) {
		span.SetStatus(codes.Error, err.Error())
	}
}
