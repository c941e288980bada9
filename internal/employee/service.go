package employee

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-hr/meridian-hr/internal/audit"
	"github.com/meridian-hr/meridian-hr/internal/platform/db"
	"github.com/meridian-hr/meridian-hr/internal/shared"
	"github.com/meridian-hr/meridian-hr/internal/temporal"
)

// Service orchestrates employee lifecycle and the version chains.
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

// Create registers an employee and opens the first scope version. A
// repeated idempotency key returns the original employee untouched.
func (s *Service) Create(ctx context.Context, in CreateInput) (Employee, error) {
	if err := in.Validate(); err != nil {
		return Employee{}, err
	}
	if in.IdempotencyKey != "" {
		existing, err := s.repo.GetByIdempotencyKey(ctx, in.IdempotencyKey)
		if err != nil {
			return Employee{}, err
		}
		if existing != nil {
			return *existing, nil
		}
	}

	actor := shared.ActorFromContext(ctx)
	now := s.now().UTC()
	emp := Employee{
		ID:                uuid.New(),
		Code:              in.Code,
		FirstName:         in.FirstName,
		LastName:          in.LastName,
		Email:             in.Email,
		Status:            StatusActive,
		ScopeType:         in.ScopeType,
		PrimaryDivisionID: in.DivisionID,
		JoinedOn:          in.JoinedOn,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.Insert(ctx, emp, in.IdempotencyKey); err != nil {
			if db.IsUniqueViolation(err) {
				return shared.Conflict("EMPLOYEE_EXISTS", "an employee with this code already exists")
			}
			return err
		}
		if err := tx.InsertScopeVersion(ctx, ScopeVersion{
			ID:         uuid.New(),
			EmployeeID: emp.ID,
			ScopeType:  in.ScopeType,
			DivisionID: in.DivisionID,
			Window:     temporal.Window{EffectiveFrom: now},
			Reason:     "initial assignment",
			ChangedBy:  actorRef(actor),
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		return tx.Audit(ctx, audit.Entry{
			RequestID:  shared.RequestIDFromContext(ctx),
			ActorID:    actor.ID,
			EntityType: "EMPLOYEE",
			EntityID:   emp.ID.String(),
			Action:     "EMPLOYEE_CREATED",
			After: map[string]any{
				"code":      emp.Code,
				"firstName": emp.FirstName,
				"lastName":  emp.LastName,
				"scopeType": string(emp.ScopeType),
			},
		})
	})
	if err != nil {
		return Employee{}, err
	}
	return emp, nil
}

// Get loads one employee.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Employee, error) {
	emp, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Employee{}, err
	}
	if emp == nil {
		return Employee{}, shared.NotFound("employee not found")
	}
	return *emp, nil
}

// List pages through the registry.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Employee, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.List(ctx, limit, offset)
}

// UpdateProfile edits name and contact fields under optimistic
// concurrency. A stale expectedVersion surfaces as a conflict; the
// caller reloads and retries.
func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, expectedVersion int64, update ProfileUpdate) (Employee, error) {
	actor := shared.ActorFromContext(ctx)
	var result Employee
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return shared.NotFound("employee not found")
		}
		updated, err := tx.UpdateProfile(ctx, id, expectedVersion, update)
		if err != nil {
			return versionConflict(err)
		}
		result = *updated
		return tx.Audit(ctx, audit.Entry{
			RequestID:  shared.RequestIDFromContext(ctx),
			ActorID:    actor.ID,
			EntityType: "EMPLOYEE",
			EntityID:   id.String(),
			Action:     "EMPLOYEE_PROFILE_UPDATED",
			Before:     profilePayload(*current),
			After:      profilePayload(result),
		})
	})
	if err != nil {
		return Employee{}, err
	}
	return result, nil
}

// ChangeScope moves an employee to a new scope. The active scope
// version closes at the effective instant and the new one opens there,
// in one transaction. The effective instant must be strictly after the
// active version's start; a backdated change would invert the closing
// window. Requesting the scope the employee already has is a no-op: no
// version churn, no audit entry.
func (s *Service) ChangeScope(ctx context.Context, in ScopeChangeInput) (Employee, error) {
	if err := in.Validate(); err != nil {
		return Employee{}, err
	}
	actor := shared.ActorFromContext(ctx)

	var result Employee
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, in.EmployeeID)
		if err != nil {
			return err
		}
		if current == nil {
			return shared.NotFound("employee not found")
		}
		if sameScope(*current, in) {
			result = *current
			return nil
		}

		active, err := s.activeScope(ctx, tx, in.EmployeeID)
		if err != nil {
			return err
		}
		if active != nil {
			if err := temporal.CheckSucceeds(active.Window, in.EffectiveAt); err != nil {
				return ErrScopeOverlap
			}
			if err := tx.CloseScopeVersion(ctx, active.ID, in.EffectiveAt); err != nil {
				return err
			}
		}
		if err := tx.InsertScopeVersion(ctx, ScopeVersion{
			ID:         uuid.New(),
			EmployeeID: in.EmployeeID,
			ScopeType:  in.ScopeType,
			DivisionID: in.DivisionID,
			Window:     temporal.Window{EffectiveFrom: in.EffectiveAt},
			Reason:     in.Reason,
			ChangedBy:  actorRef(actor),
			CreatedAt:  s.now().UTC(),
		}); err != nil {
			return err
		}

		updated, err := tx.UpdateScope(ctx, in.EmployeeID, in.ExpectedVersion, in.ScopeType, in.DivisionID)
		if err != nil {
			return versionConflict(err)
		}
		result = *updated
		return tx.Audit(ctx, audit.Entry{
			RequestID:  shared.RequestIDFromContext(ctx),
			ActorID:    actor.ID,
			EntityType: "EMPLOYEE",
			EntityID:   in.EmployeeID.String(),
			Action:     "EMPLOYEE_SCOPE_CHANGED",
			Before:     scopePayload(current.ScopeType, current.PrimaryDivisionID),
			After:      scopePayload(in.ScopeType, in.DivisionID),
			Reason:     in.Reason,
		})
	})
	if err != nil {
		return Employee{}, err
	}
	return result, nil
}

// ChangeStatus moves the employee through the lifecycle table.
func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, expectedVersion int64, to Status, reason string) (Employee, error) {
	actor := shared.ActorFromContext(ctx)
	var result Employee
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return shared.NotFound("employee not found")
		}
		if err := AssertStatusTransition(current.Status, to); err != nil {
			return err
		}
		updated, err := tx.UpdateStatus(ctx, id, expectedVersion, to)
		if err != nil {
			return versionConflict(err)
		}
		result = *updated
		return tx.Audit(ctx, audit.Entry{
			RequestID:  shared.RequestIDFromContext(ctx),
			ActorID:    actor.ID,
			EntityType: "EMPLOYEE",
			EntityID:   id.String(),
			Action:     "EMPLOYEE_STATUS_CHANGED",
			Before:     map[string]any{"status": string(current.Status)},
			After:      map[string]any{"status": string(to)},
			Reason:     reason,
		})
	})
	if err != nil {
		return Employee{}, err
	}
	return result, nil
}

// AddCompensationVersion opens a new compensation version and closes
// the active one the day before, atomically. The new effective date
// must be strictly after the active version's start; anything else is
// an overlap and is rejected.
func (s *Service) AddCompensationVersion(ctx context.Context, in CompensationInput) (CompensationVersion, error) {
	if err := in.Validate(); err != nil {
		return CompensationVersion{}, err
	}
	actor := shared.ActorFromContext(ctx)

	var created CompensationVersion
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, in.EmployeeID)
		if err != nil {
			return err
		}
		if current == nil {
			return shared.NotFound("employee not found")
		}

		rows, err := tx.ActiveCompensationVersions(ctx, in.EmployeeID)
		if err != nil {
			return err
		}
		active, err := temporal.One(rows)
		if err != nil {
			return fmt.Errorf("employee %s compensation chain: %w", in.EmployeeID, err)
		}
		if active != nil {
			if err := temporal.CheckSucceeds(active.Window, in.EffectiveFrom); err != nil {
				return ErrCompensationOverlap
			}
			if err := tx.CloseCompensationVersion(ctx, active.ID, temporal.DayBefore(in.EffectiveFrom)); err != nil {
				return err
			}
		}

		created = CompensationVersion{
			ID:         uuid.New(),
			EmployeeID: in.EmployeeID,
			Amount:     in.Amount,
			Currency:   in.Currency,
			Frequency:  in.Frequency,
			Window:     temporal.Window{EffectiveFrom: in.EffectiveFrom},
			Reason:     in.Reason,
			CreatedBy:  actorRef(actor),
			CreatedAt:  s.now().UTC(),
		}
		if err := tx.InsertCompensationVersion(ctx, created); err != nil {
			return err
		}
		return tx.Audit(ctx, audit.Entry{
			RequestID:  shared.RequestIDFromContext(ctx),
			ActorID:    actor.ID,
			EntityType: "EMPLOYEE_COMPENSATION",
			EntityID:   created.ID.String(),
			Action:     "COMPENSATION_VERSION_ADDED",
			After: map[string]any{
				"employeeId":         in.EmployeeID.String(),
				"compensationAmount": in.Amount.String(),
				"frequency":          string(in.Frequency),
				"effectiveFrom":      in.EffectiveFrom.Format("2006-01-02"),
			},
			Reason: in.Reason,
		})
	})
	if err != nil {
		return CompensationVersion{}, err
	}
	return created, nil
}

// ScopeHistory returns the full scope chain, oldest first.
func (s *Service) ScopeHistory(ctx context.Context, employeeID uuid.UUID) ([]ScopeVersion, error) {
	return s.repo.ScopeHistory(ctx, employeeID)
}

// CompensationHistory returns the full compensation chain, oldest first.
func (s *Service) CompensationHistory(ctx context.Context, employeeID uuid.UUID) ([]CompensationVersion, error) {
	return s.repo.CompensationHistory(ctx, employeeID)
}

// CompensationAsOf resolves the version covering a calendar date.
func (s *Service) CompensationAsOf(ctx context.Context, employeeID uuid.UUID, at time.Time) (*CompensationVersion, error) {
	history, err := s.repo.CompensationHistory(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	var covering []CompensationVersion
	for _, v := range history {
		if v.Window.ContainsDate(at) {
			covering = append(covering, v)
		}
	}
	match, err := temporal.One(covering)
	if err != nil {
		return nil, fmt.Errorf("employee %s compensation chain at %s: %w", employeeID, at.Format("2006-01-02"), err)
	}
	return match, nil
}

func (s *Service) activeScope(ctx context.Context, tx TxRepository, employeeID uuid.UUID) (*ScopeVersion, error) {
	rows, err := tx.ActiveScopeVersions(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	active, err := temporal.One(rows)
	if err != nil {
		return nil, fmt.Errorf("employee %s scope chain: %w", employeeID, err)
	}
	return active, nil
}

func sameScope(emp Employee, in ScopeChangeInput) bool {
	if emp.ScopeType != in.ScopeType {
		return false
	}
	if emp.PrimaryDivisionID == nil || in.DivisionID == nil {
		return emp.PrimaryDivisionID == nil && in.DivisionID == nil
	}
	return *emp.PrimaryDivisionID == *in.DivisionID
}

func versionConflict(err error) error {
	if errors.Is(err, db.ErrVersionConflict) {
		return shared.Conflict("VERSION_CONFLICT", "employee was updated by another user")
	}
	return err
}

func profilePayload(e Employee) map[string]any {
	return map[string]any{
		"firstName": e.FirstName,
		"lastName":  e.LastName,
		"email":     e.Email,
	}
}

func scopePayload(scope ScopeType, divisionID *uuid.UUID) map[string]any {
	payload := map[string]any{"scopeType": string(scope)}
	if divisionID != nil {
		payload["divisionId"] = divisionID.String()
	}
	return payload
}

func actorRef(actor shared.Actor) *uuid.UUID {
	if actor.ID == uuid.Nil {
		return nil
	}
	id := actor.ID
	return &id
}
