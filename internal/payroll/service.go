package payroll

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-hr/meridian-hr/internal/audit"
	"github.com/meridian-hr/meridian-hr/internal/close"
	"github.com/meridian-hr/meridian-hr/internal/platform/db"
	"github.com/meridian-hr/meridian-hr/internal/shared"
)

// Notifier enqueues payslip delivery after a run locks. The enqueue
// happens outside the locking transaction; a failed enqueue is logged
// and retried by the readiness scan, never rolled back into the run.
type Notifier interface {
	NotifyRunLocked(ctx context.Context, runID uuid.UUID, month string) error
}

// Service orchestrates payroll runs.
type Service struct {
	repo     Repository
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a Service. notifier may be nil when payslip
// delivery is not wired, e.g. in tests.
func NewService(repo Repository, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, notifier: notifier, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateRun opens a payroll run for a month. One run per month.
func (s *Service) CreateRun(ctx context.Context, month time.Time, overrideReason string) (Run, error) {
	actor := shared.ActorFromContext(ctx)
	now := s.now().UTC()
	month = close.MonthOf(month)

	run := Run{
		ID:        uuid.New(),
		Month:     month,
		Status:    RunDraft,
		Version:   1,
		CreatedAt: now,
		CreatedBy: actorRef(actor),
		UpdatedAt: now,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := assertPayrollEnabled(ctx, tx); err != nil {
			return err
		}
		if err := tx.EnsureMonthOpen(ctx, month, overrideReason); err != nil {
			return err
		}
		existing, err := tx.FindRunByMonth(ctx, month)
		if err != nil {
			return err
		}
		if existing != nil {
			return shared.Conflict("RUN_EXISTS", "a payroll run already exists for this month")
		}
		if err := tx.InsertRun(ctx, run); err != nil {
			return err
		}
		return tx.Audit(ctx, audit.Entry{
			RequestID:  shared.RequestIDFromContext(ctx),
			ActorID:    actor.ID,
			EntityType: "PAYROLL_RUN",
			EntityID:   run.ID.String(),
			Action:     "PAYROLL_RUN_CREATED",
			After:      map[string]any{"month": close.FormatMonth(month), "status": string(RunDraft)},
		})
	})
	if err != nil {
		return Run{}, err
	}
	return run, nil
}

// ComputeDraft fills a draft run with BASE_PAY lines from the
// compensation chains in effect on the last day of the run's month.
// Recomputing is idempotent: existing lines are left alone, so manual
// items survive and new hires get picked up.
func (s *Service) ComputeDraft(ctx context.Context, runID uuid.UUID, expectedVersion int64, overrideReason string) (Run, []Item, error) {
	actor := shared.ActorFromContext(ctx)
	var (
		run   Run
		items []Item
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetRunForUpdate(ctx, runID)
		if err != nil {
			return err
		}
		if current == nil {
			return shared.NotFound("payroll run not found")
		}
		if current.Status != RunDraft {
			return shared.Conflict("RUN_NOT_DRAFT", "only draft runs can be computed")
		}
		if current.Version != expectedVersion {
			return shared.Conflict("VERSION_CONFLICT", "payroll run was updated by another user")
		}
		if err := assertPayrollEnabled(ctx, tx); err != nil {
			return err
		}
		if err := tx.EnsureMonthOpen(ctx, current.Month, overrideReason); err != nil {
			return err
		}

		asOf := close.NextMonth(current.Month).AddDate(0, 0, -1)
		rows, err := tx.ActiveCompensation(ctx, asOf)
		if err != nil {
			return err
		}
		base, err := BuildBaseItems(runID, rows, actorRef(actor), s.now().UTC())
		if err != nil {
			return err
		}
		if err := tx.InsertItems(ctx, base); err != nil {
			return err
		}
		items, err = tx.ListItems(ctx, runID)
		if err != nil {
			return err
		}
		run = *current
		return tx.Audit(ctx, audit.Entry{
			RequestID:  shared.RequestIDFromContext(ctx),
			ActorID:    actor.ID,
			EntityType: "PAYROLL_RUN",
			EntityID:   runID.String(),
			Action:     "PAYROLL_RUN_COMPUTED",
			After: map[string]any{
				"employees": len(rows),
				"items":     len(items),
			},
		})
	})
	if err != nil {
		return Run{}, nil, err
	}
	return run, items, nil
}

// Review marks a computed run as reviewed.
func (s *Service) Review(ctx context.Context, runID uuid.UUID, expectedVersion int64, overrideReason string) (Run, error) {
	return s.transition(ctx, runID, expectedVersion, RunReviewed, overrideReason, "PAYROLL_RUN_REVIEWED")
}

// Lock freezes a reviewed run. Locked runs count as settled for month
// close, and locking triggers payslip delivery.
func (s *Service) Lock(ctx context.Context, runID uuid.UUID, expectedVersion int64, overrideReason string) (Run, error) {
	run, err := s.transition(ctx, runID, expectedVersion, RunLocked, overrideReason, "PAYROLL_RUN_LOCKED")
	if err != nil {
		return Run{}, err
	}
	if s.notifier != nil {
		if err := s.notifier.NotifyRunLocked(ctx, run.ID, close.FormatMonth(run.Month)); err != nil {
			s.logger.Error("payslip notify enqueue failed",
				slog.String("run_id", run.ID.String()), slog.Any("error", err))
		}
	}
	return run, nil
}

// CloseRun archives a fully paid run.
func (s *Service) CloseRun(ctx context.Context, runID uuid.UUID, expectedVersion int64, overrideReason string) (Run, error) {
	return s.transition(ctx, runID, expectedVersion, RunClosed, overrideReason, "PAYROLL_RUN_CLOSED")
}

func (s *Service) transition(ctx context.Context, runID uuid.UUID, expectedVersion int64, to RunStatus, overrideReason, action string) (Run, error) {
	actor := shared.ActorFromContext(ctx)
	var result Run
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetRunForUpdate(ctx, runID)
		if err != nil {
			return err
		}
		if current == nil {
			return shared.NotFound("payroll run not found")
		}
		if err := AssertRunTransition(current.Status, to); err != nil {
			return err
		}
		if err := assertPayrollEnabled(ctx, tx); err != nil {
			return err
		}
		// Pre-lock moves need the run's month open. Settlement of an
		// already locked run is allowed after the month closes.
		if to == RunReviewed || to == RunLocked {
			if err := tx.EnsureMonthOpen(ctx, current.Month, overrideReason); err != nil {
				return err
			}
		}
		updated, err := tx.UpdateRunState(ctx, runID, expectedVersion, to, s.now().UTC())
		if err != nil {
			return versionConflict(err)
		}
		result = *updated
		return tx.Audit(ctx, audit.Entry{
			RequestID:  shared.RequestIDFromContext(ctx),
			ActorID:    actor.ID,
			EntityType: "PAYROLL_RUN",
			EntityID:   runID.String(),
			Action:     action,
			Before:     map[string]any{"status": string(current.Status)},
			After:      map[string]any{"status": string(to)},
		})
	})
	if err != nil {
		return Run{}, err
	}
	return result, nil
}

// AddAdjustment appends a manual line to a draft or reviewed run.
// Requires the manual adjustments flag and a reason.
func (s *Service) AddAdjustment(ctx context.Context, in AdjustmentInput) (Item, error) {
	if err := in.Validate(); err != nil {
		return Item{}, err
	}
	actor := shared.ActorFromContext(ctx)
	now := s.now().UTC()
	item := Item{
		ID:          uuid.New(),
		RunID:       in.RunID,
		EmployeeID:  in.EmployeeID,
		Type:        in.Type,
		Description: in.Description,
		Amount:      in.Amount,
		CreatedAt:   now,
		CreatedBy:   actorRef(actor),
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetRunForUpdate(ctx, in.RunID)
		if err != nil {
			return err
		}
		if current == nil {
			return shared.NotFound("payroll run not found")
		}
		if current.Status != RunDraft && current.Status != RunReviewed {
			return shared.Conflict("RUN_NOT_EDITABLE", "manual lines only apply before the run locks")
		}
		if current.Version != in.ExpectedVersion {
			return shared.Conflict("VERSION_CONFLICT", "payroll run was updated by another user")
		}
		if err := assertPayrollEnabled(ctx, tx); err != nil {
			return err
		}
		allowed, err := tx.ManualAdjustmentsAllowed(ctx)
		if err != nil {
			return err
		}
		if !allowed {
			return shared.Forbidden("MANUAL_ADJUSTMENTS_DISABLED", "manual payroll adjustments are disabled")
		}
		if err := tx.EnsureMonthOpen(ctx, current.Month, in.OverrideReason); err != nil {
			return err
		}
		if err := tx.InsertItem(ctx, item); err != nil {
			return err
		}
		return tx.Audit(ctx, audit.Entry{
			RequestID:  shared.RequestIDFromContext(ctx),
			ActorID:    actor.ID,
			EntityType: "PAYROLL_ITEM",
			EntityID:   item.ID.String(),
			Action:     "PAYROLL_ADJUSTMENT_ADDED",
			After: map[string]any{
				"itemType":    string(item.Type),
				"amount":      item.Amount.String(),
				"description": item.Description,
			},
			Reason: in.Reason,
		})
	})
	if err != nil {
		return Item{}, err
	}
	return item, nil
}

// RecordPayment disburses pay to one employee against a locked run.
// When every employee's net is covered the run flips to PAID in the
// same transaction as the final payment.
func (s *Service) RecordPayment(ctx context.Context, in PaymentInput) (Run, error) {
	if err := in.Validate(); err != nil {
		return Run{}, err
	}
	actor := shared.ActorFromContext(ctx)
	var result Run
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetRunForUpdate(ctx, in.RunID)
		if err != nil {
			return err
		}
		if current == nil {
			return shared.NotFound("payroll run not found")
		}
		if current.Status != RunLocked {
			return shared.Conflict("RUN_NOT_LOCKED", "payments apply to locked runs only")
		}
		if err := assertPayrollEnabled(ctx, tx); err != nil {
			return err
		}
		if err := tx.EnsureMonthOpen(ctx, in.PaidAt, in.OverrideReason); err != nil {
			return err
		}

		now := s.now().UTC()
		payment := Payment{
			ID:         uuid.New(),
			RunID:      in.RunID,
			EmployeeID: in.EmployeeID,
			Amount:     in.Amount,
			PaidAt:     in.PaidAt,
			Method:     in.Method,
			Reference:  in.Reference,
			CreatedAt:  now,
			CreatedBy:  actorRef(actor),
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}

		items, err := tx.ListItems(ctx, in.RunID)
		if err != nil {
			return err
		}
		sums, err := tx.SumPaymentsByEmployee(ctx, in.RunID)
		if err != nil {
			return err
		}
		result = *current
		if allDisbursed(NetByEmployee(items), sums) {
			updated, err := tx.UpdateRunState(ctx, in.RunID, current.Version, RunPaid, now)
			if err != nil {
				return versionConflict(err)
			}
			result = *updated
		}
		return tx.Audit(ctx, audit.Entry{
			RequestID:  shared.RequestIDFromContext(ctx),
			ActorID:    actor.ID,
			EntityType: "PAYROLL_RUN",
			EntityID:   in.RunID.String(),
			Action:     "PAYROLL_PAYMENT_RECORDED",
			After: map[string]any{
				"paymentAmount": in.Amount.String(),
				"status":        string(result.Status),
			},
		})
	})
	if err != nil {
		return Run{}, err
	}
	return result, nil
}

// allDisbursed reports whether every employee with a positive net has
// received at least that amount.
func allDisbursed(nets map[uuid.UUID]decimal.Decimal, sums map[uuid.UUID]decimal.Decimal) bool {
	for employeeID, net := range nets {
		if !net.IsPositive() {
			continue
		}
		if net.Sub(sums[employeeID]).GreaterThan(paymentEpsilon) {
			return false
		}
	}
	return true
}

// GetRun loads one run with its items.
func (s *Service) GetRun(ctx context.Context, id uuid.UUID) (Run, []Item, error) {
	run, err := s.repo.GetRun(ctx, id)
	if err != nil {
		return Run{}, nil, err
	}
	if run == nil {
		return Run{}, nil, shared.NotFound("payroll run not found")
	}
	items, err := s.repo.ListItems(ctx, id)
	if err != nil {
		return Run{}, nil, err
	}
	return *run, items, nil
}

// ListRuns pages through run history.
func (s *Service) ListRuns(ctx context.Context, limit, offset int) ([]Run, error) {
	return s.repo.ListRuns(ctx, limit, offset)
}

// ListPayments returns the disbursements for a run.
func (s *Service) ListPayments(ctx context.Context, runID uuid.UUID) ([]Payment, error) {
	return s.repo.ListPayments(ctx, runID)
}

func assertPayrollEnabled(ctx context.Context, tx TxRepository) error {
	enabled, err := tx.PayrollEnabled(ctx)
	if err != nil {
		return err
	}
	if !enabled {
		return shared.Forbidden("PAYROLL_DISABLED", "payroll processing is disabled")
	}
	return nil
}

func versionConflict(err error) error {
	if errors.Is(err, db.ErrVersionConflict) {
		return shared.Conflict("VERSION_CONFLICT", "payroll run was updated by another user")
	}
	return err
}

func actorRef(actor shared.Actor) *uuid.UUID {
	if actor.ID == uuid.Nil {
		return nil
	}
	id := actor.ID
	return &id
}
