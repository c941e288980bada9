package expense

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-hr/meridian-hr/internal/audit"
	"github.com/meridian-hr/meridian-hr/internal/platform/db"
	"github.com/meridian-hr/meridian-hr/internal/shared"
)

// Service orchestrates the expense lifecycle.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create records a new DRAFT expense. The period gate checks the
// expense date inside the same transaction as the insert.
func (s *Service) Create(ctx context.Context, in CreateInput) (Expense, error) {
	if err := in.Validate(); err != nil {
		return Expense{}, err
	}
	actor := shared.ActorFromContext(ctx)
	now := s.now().UTC()

	e := Expense{
		ID:              uuid.New(),
		ExpenseDate:     in.ExpenseDate,
		CategoryID:      in.CategoryID,
		Title:           in.Title,
		Description:     in.Description,
		Amount:          in.Amount,
		Currency:        in.Currency,
		DivisionID:      in.DivisionID,
		VendorName:      in.VendorName,
		IsReimbursement: in.IsReimbursement,
		EmployeeID:      in.EmployeeID,
		Status:          StatusDraft,
		Version:         1,
		CreatedAt:       now,
		CreatedBy:       actorRef(actor),
		UpdatedAt:       now,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		flags, err := tx.Flags(ctx)
		if err != nil {
			return err
		}
		if err := assertModuleEnabled(flags); err != nil {
			return err
		}
		if err := assertExpenseDate(now, in.ExpenseDate, flags); err != nil {
			return err
		}
		if err := tx.EnsureMonthOpen(ctx, in.ExpenseDate, in.OverrideReason); err != nil {
			return err
		}
		if err := tx.Insert(ctx, e); err != nil {
			return err
		}
		return tx.Audit(ctx, audit.Entry{
			RequestID:  shared.RequestIDFromContext(ctx),
			ActorID:    actor.ID,
			EntityType: "EXPENSE",
			EntityID:   e.ID.String(),
			Action:     "EXPENSE_CREATED",
			After: map[string]any{
				"title":       e.Title,
				"amount":      e.Amount.String(),
				"expenseDate": e.ExpenseDate.Format("2006-01-02"),
				"status":      string(e.Status),
			},
			Reason: in.OverrideReason,
		})
	})
	if err != nil {
		return Expense{}, err
	}
	return e, nil
}

// UpdateDraft edits a DRAFT expense under optimistic concurrency.
// Both the stored date and any new date must land in open months.
func (s *Service) UpdateDraft(ctx context.Context, id uuid.UUID, expectedVersion int64, update DraftUpdate, overrideReason string) (Expense, error) {
	actor := shared.ActorFromContext(ctx)
	var result Expense
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return shared.NotFound("expense not found")
		}
		if current.Status != StatusDraft {
			return shared.Conflict("NOT_DRAFT", "only draft expenses can be edited")
		}
		flags, err := tx.Flags(ctx)
		if err != nil {
			return err
		}
		if err := assertModuleEnabled(flags); err != nil {
			return err
		}
		if update.Amount != nil && !update.Amount.IsPositive() {
			return shared.BadRequest("INVALID_AMOUNT", "expense amount must be positive")
		}
		if err := tx.EnsureMonthOpen(ctx, current.ExpenseDate, overrideReason); err != nil {
			return err
		}
		if update.ExpenseDate != nil {
			if err := assertExpenseDate(s.now().UTC(), *update.ExpenseDate, flags); err != nil {
				return err
			}
			if err := tx.EnsureMonthOpen(ctx, *update.ExpenseDate, overrideReason); err != nil {
				return err
			}
		}
		updated, err := tx.UpdateDraft(ctx, id, expectedVersion, update)
		if err != nil {
			return versionConflict(err)
		}
		result = *updated
		return tx.Audit(ctx, audit.Entry{
			RequestID:  shared.RequestIDFromContext(ctx),
			ActorID:    actor.ID,
			EntityType: "EXPENSE",
			EntityID:   id.String(),
			Action:     "EXPENSE_DRAFT_UPDATED",
			Before:     statePayload(*current),
			After:      statePayload(result),
		})
	})
	if err != nil {
		return Expense{}, err
	}
	return result, nil
}

// Submit moves a draft into the approval queue.
func (s *Service) Submit(ctx context.Context, id uuid.UUID, expectedVersion int64, overrideReason string) (Expense, error) {
	return s.transition(ctx, id, expectedVersion, StatusSubmitted, "", overrideReason, "EXPENSE_SUBMITTED")
}

// Approve settles the decision in the expense's favor.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, expectedVersion int64, note, overrideReason string) (Expense, error) {
	return s.transition(ctx, id, expectedVersion, StatusApproved, note, overrideReason, "EXPENSE_APPROVED")
}

// Reject declines a submitted expense. A reason is mandatory.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, expectedVersion int64, note, overrideReason string) (Expense, error) {
	if note == "" {
		return Expense{}, shared.BadRequest("REASON_REQUIRED", "rejection needs a reason")
	}
	return s.transition(ctx, id, expectedVersion, StatusRejected, note, overrideReason, "EXPENSE_REJECTED")
}

// Close archives a fully paid expense.
func (s *Service) Close(ctx context.Context, id uuid.UUID, expectedVersion int64, overrideReason string) (Expense, error) {
	return s.transition(ctx, id, expectedVersion, StatusClosed, "", overrideReason, "EXPENSE_CLOSED")
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, expectedVersion int64, to Status, note, overrideReason, action string) (Expense, error) {
	actor := shared.ActorFromContext(ctx)
	var result Expense
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return shared.NotFound("expense not found")
		}
		if err := AssertTransition(current.Status, to); err != nil {
			return err
		}
		flags, err := tx.Flags(ctx)
		if err != nil {
			return err
		}
		if err := assertModuleEnabled(flags); err != nil {
			return err
		}
		if err := tx.EnsureMonthOpen(ctx, current.ExpenseDate, overrideReason); err != nil {
			return err
		}
		var decidedBy *uuid.UUID
		if to == StatusApproved || to == StatusRejected {
			decidedBy = actorRef(actor)
		}
		updated, err := tx.UpdateState(ctx, id, expectedVersion, to, decidedBy, note, s.now().UTC())
		if err != nil {
			return versionConflict(err)
		}
		result = *updated
		return tx.Audit(ctx, audit.Entry{
			RequestID:  shared.RequestIDFromContext(ctx),
			ActorID:    actor.ID,
			EntityType: "EXPENSE",
			EntityID:   id.String(),
			Action:     action,
			Before:     map[string]any{"status": string(current.Status)},
			After:      map[string]any{"status": string(to)},
			Reason:     note,
		})
	})
	if err != nil {
		return Expense{}, err
	}
	return result, nil
}

// RecordPayment settles money against an approved expense. When
// cumulative payments cover the amount the expense flips to PAID,
// otherwise PARTIALLY_PAID, decided inside the payment's transaction.
func (s *Service) RecordPayment(ctx context.Context, in PaymentInput) (Expense, error) {
	if err := in.Validate(); err != nil {
		return Expense{}, err
	}
	actor := shared.ActorFromContext(ctx)
	var result Expense
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, in.ExpenseID)
		if err != nil {
			return err
		}
		if current == nil {
			return shared.NotFound("expense not found")
		}
		if current.Status != StatusApproved && current.Status != StatusPartiallyPaid {
			return shared.Conflict("NOT_PAYABLE", "payments apply to approved expenses only")
		}
		flags, err := tx.Flags(ctx)
		if err != nil {
			return err
		}
		if err := assertModuleEnabled(flags); err != nil {
			return err
		}
		if err := tx.EnsureMonthOpen(ctx, in.PaidAt, in.OverrideReason); err != nil {
			return err
		}

		now := s.now().UTC()
		payment := Payment{
			ID:        uuid.New(),
			ExpenseID: in.ExpenseID,
			Amount:    in.Amount,
			PaidAt:    in.PaidAt,
			Method:    in.Method,
			Reference: in.Reference,
			CreatedAt: now,
			CreatedBy: actorRef(actor),
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}

		paid, err := tx.SumPayments(ctx, in.ExpenseID)
		if err != nil {
			return err
		}
		next := StatusPartiallyPaid
		if current.Amount.Sub(paid).LessThanOrEqual(paymentEpsilon) {
			next = StatusPaid
		}
		if err := AssertTransition(current.Status, next); err != nil {
			return err
		}
		updated, err := tx.UpdateState(ctx, in.ExpenseID, current.Version, next, nil, "", now)
		if err != nil {
			return versionConflict(err)
		}
		result = *updated
		return tx.Audit(ctx, audit.Entry{
			RequestID:  shared.RequestIDFromContext(ctx),
			ActorID:    actor.ID,
			EntityType: "EXPENSE",
			EntityID:   in.ExpenseID.String(),
			Action:     "EXPENSE_PAYMENT_RECORDED",
			After: map[string]any{
				"paymentAmount": in.Amount.String(),
				"totalPaid":     paid.String(),
				"status":        string(next),
			},
		})
	})
	if err != nil {
		return Expense{}, err
	}
	return result, nil
}

// Get loads one expense.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Expense, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Expense{}, err
	}
	if e == nil {
		return Expense{}, shared.NotFound("expense not found")
	}
	return *e, nil
}

// List pages through the ledger.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Expense, error) {
	return s.repo.List(ctx, filter)
}

// ListPayments returns the settlements against an expense.
func (s *Service) ListPayments(ctx context.Context, expenseID uuid.UUID) ([]Payment, error) {
	return s.repo.ListPayments(ctx, expenseID)
}

// CreateCategory adds a reporting category.
func (s *Service) CreateCategory(ctx context.Context, name string) (Category, error) {
	if name == "" {
		return Category{}, shared.BadRequest("NAME_REQUIRED", "category name is required")
	}
	actor := shared.ActorFromContext(ctx)
	c := Category{
		ID:        uuid.New(),
		Name:      name,
		IsActive:  true,
		Version:   1,
		CreatedAt: s.now().UTC(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertCategory(ctx, c); err != nil {
			if db.IsUniqueViolation(err) {
				return shared.Conflict("CATEGORY_EXISTS", "a category with this name already exists")
			}
			return err
		}
		return tx.Audit(ctx, audit.Entry{
			RequestID:  shared.RequestIDFromContext(ctx),
			ActorID:    actor.ID,
			EntityType: "EXPENSE_CATEGORY",
			EntityID:   c.ID.String(),
			Action:     "CATEGORY_CREATED",
			After:      map[string]any{"name": c.Name},
		})
	})
	if err != nil {
		return Category{}, err
	}
	return c, nil
}

// UpdateCategory renames or retires a category under optimistic
// concurrency.
func (s *Service) UpdateCategory(ctx context.Context, id uuid.UUID, expectedVersion int64, name string, isActive bool) (Category, error) {
	if name == "" {
		return Category{}, shared.BadRequest("NAME_REQUIRED", "category name is required")
	}
	actor := shared.ActorFromContext(ctx)
	var result Category
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		updated, err := tx.UpdateCategory(ctx, id, expectedVersion, name, isActive)
		if err != nil {
			return versionConflict(err)
		}
		result = *updated
		return tx.Audit(ctx, audit.Entry{
			RequestID:  shared.RequestIDFromContext(ctx),
			ActorID:    actor.ID,
			EntityType: "EXPENSE_CATEGORY",
			EntityID:   id.String(),
			Action:     "CATEGORY_UPDATED",
			After:      map[string]any{"name": name, "isActive": isActive},
		})
	})
	if err != nil {
		return Category{}, err
	}
	return result, nil
}

// ListCategories returns every category.
func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	return s.repo.ListCategories(ctx)
}

func versionConflict(err error) error {
	if errors.Is(err, db.ErrVersionConflict) {
		return shared.Conflict("VERSION_CONFLICT", "expense was updated by another user")
	}
	return err
}

func statePayload(e Expense) map[string]any {
	return map[string]any{
		"title":       e.Title,
		"amount":      e.Amount.String(),
		"expenseDate": e.ExpenseDate.Format("2006-01-02"),
		"status":      string(e.Status),
	}
}

func actorRef(actor shared.Actor) *uuid.UUID {
	if actor.ID == uuid.Nil {
		return nil
	}
	id := actor.ID
	return &id
}
