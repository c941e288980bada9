package income

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-hr/meridian-hr/internal/audit"
	"github.com/meridian-hr/meridian-hr/internal/platform/db"
	"github.com/meridian-hr/meridian-hr/internal/shared"
)

// Service orchestrates the income lifecycle.
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

// Create records a new DRAFT income entry, gated on its income date.
func (s *Service) Create(ctx context.Context, in CreateInput) (Income, error) {
	if err := in.Validate(); err != nil {
		return Income{}, err
	}
	actor := shared.ActorFromContext(ctx)
	now := s.now().UTC()

	inc := Income{
		ID:          uuid.New(),
		IncomeDate:  in.IncomeDate,
		Source:      in.Source,
		Description: in.Description,
		Amount:      in.Amount,
		Currency:    in.Currency,
		DivisionID:  in.DivisionID,
		Status:      StatusDraft,
		Version:     1,
		CreatedAt:   now,
		CreatedBy:   actorRef(actor),
		UpdatedAt:   now,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.EnsureMonthOpen(ctx, in.IncomeDate, in.OverrideReason); err != nil {
			return err
		}
		if err := tx.Insert(ctx, inc); err != nil {
			return err
		}
		return tx.Audit(ctx, audit.Entry{
			RequestID:  shared.RequestIDFromContext(ctx),
			ActorID:    actor.ID,
			EntityType: "INCOME",
			EntityID:   inc.ID.String(),
			Action:     "INCOME_CREATED",
			After: map[string]any{
				"source":     inc.Source,
				"amount":     inc.Amount.String(),
				"incomeDate": inc.IncomeDate.Format("2006-01-02"),
				"status":     string(inc.Status),
			},
			Reason: in.OverrideReason,
		})
	})
	if err != nil {
		return Income{}, err
	}
	return inc, nil
}

// Submit moves a draft into the approval queue.
func (s *Service) Submit(ctx context.Context, id uuid.UUID, expectedVersion int64, overrideReason string) (Income, error) {
	return s.transition(ctx, id, expectedVersion, StatusSubmitted, "", overrideReason, "INCOME_SUBMITTED")
}

// Approve confirms a submitted income record.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, expectedVersion int64, note, overrideReason string) (Income, error) {
	return s.transition(ctx, id, expectedVersion, StatusApproved, note, overrideReason, "INCOME_APPROVED")
}

// Reject declines a submitted income record. A reason is mandatory.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, expectedVersion int64, note, overrideReason string) (Income, error) {
	if note == "" {
		return Income{}, shared.BadRequest("REASON_REQUIRED", "rejection needs a reason")
	}
	return s.transition(ctx, id, expectedVersion, StatusRejected, note, overrideReason, "INCOME_REJECTED")
}

// Close archives a fully settled income record.
func (s *Service) Close(ctx context.Context, id uuid.UUID, expectedVersion int64, overrideReason string) (Income, error) {
	return s.transition(ctx, id, expectedVersion, StatusClosed, "", overrideReason, "INCOME_CLOSED")
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, expectedVersion int64, to Status, note, overrideReason, action string) (Income, error) {
	actor := shared.ActorFromContext(ctx)
	var result Income
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return shared.NotFound("income record not found")
		}
		if err := AssertTransition(current.Status, to); err != nil {
			return err
		}
		if err := tx.EnsureMonthOpen(ctx, current.IncomeDate, overrideReason); err != nil {
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
			EntityType: "INCOME",
			EntityID:   id.String(),
			Action:     action,
			Before:     map[string]any{"status": string(current.Status)},
			After:      map[string]any{"status": string(to)},
			Reason:     note,
		})
	})
	if err != nil {
		return Income{}, err
	}
	return result, nil
}

// RecordReceipt settles money against an approved income record. When
// cumulative receipts cover the amount the record flips to PAID.
func (s *Service) RecordReceipt(ctx context.Context, in ReceiptInput) (Income, error) {
	if err := in.Validate(); err != nil {
		return Income{}, err
	}
	actor := shared.ActorFromContext(ctx)
	var result Income
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, in.IncomeID)
		if err != nil {
			return err
		}
		if current == nil {
			return shared.NotFound("income record not found")
		}
		if current.Status != StatusApproved && current.Status != StatusPartiallyPaid {
			return shared.Conflict("NOT_SETTLEABLE", "receipts apply to approved income only")
		}
		if err := tx.EnsureMonthOpen(ctx, in.ReceivedAt, in.OverrideReason); err != nil {
			return err
		}

		now := s.now().UTC()
		rcpt := Receipt{
			ID:         uuid.New(),
			IncomeID:   in.IncomeID,
			Amount:     in.Amount,
			ReceivedAt: in.ReceivedAt,
			Method:     in.Method,
			Reference:  in.Reference,
			CreatedAt:  now,
			CreatedBy:  actorRef(actor),
		}
		if err := tx.InsertReceipt(ctx, rcpt); err != nil {
			return err
		}

		received, err := tx.SumReceipts(ctx, in.IncomeID)
		if err != nil {
			return err
		}
		next := StatusPartiallyPaid
		if current.Amount.Sub(received).LessThanOrEqual(receiptEpsilon) {
			next = StatusPaid
		}
		if err := AssertTransition(current.Status, next); err != nil {
			return err
		}
		updated, err := tx.UpdateState(ctx, in.IncomeID, current.Version, next, nil, "", now)
		if err != nil {
			return versionConflict(err)
		}
		result = *updated
		return tx.Audit(ctx, audit.Entry{
			RequestID:  shared.RequestIDFromContext(ctx),
			ActorID:    actor.ID,
			EntityType: "INCOME",
			EntityID:   in.IncomeID.String(),
			Action:     "INCOME_RECEIPT_RECORDED",
			After: map[string]any{
				"receiptAmount": in.Amount.String(),
				"totalReceived": received.String(),
				"status":        string(next),
			},
		})
	})
	if err != nil {
		return Income{}, err
	}
	return result, nil
}

// Get loads one income record.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Income, error) {
	inc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Income{}, err
	}
	if inc == nil {
		return Income{}, shared.NotFound("income record not found")
	}
	return *inc, nil
}

// List pages through the ledger.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Income, error) {
	return s.repo.List(ctx, filter)
}

// ListReceipts returns the settlements against an income record.
func (s *Service) ListReceipts(ctx context.Context, incomeID uuid.UUID) ([]Receipt, error) {
	return s.repo.ListReceipts(ctx, incomeID)
}

func versionConflict(err error) error {
	if errors.Is(err, db.ErrVersionConflict) {
		return shared.Conflict("VERSION_CONFLICT", "income record was updated by another user")
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
