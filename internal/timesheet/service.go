package timesheet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-hr/meridian-hr/internal/audit"
	"github.com/meridian-hr/meridian-hr/internal/close"
	"github.com/meridian-hr/meridian-hr/internal/platform/db"
	"github.com/meridian-hr/meridian-hr/internal/shared"
)

// Service orchestrates timesheets.
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

// AddWorklog appends a line to the employee's sheet for the work
// date's month, creating the header on first use. The period gate
// checks the work date, so closed months stay untouchable.
func (s *Service) AddWorklog(ctx context.Context, in WorklogInput) (Header, Worklog, error) {
	if err := in.Validate(); err != nil {
		return Header{}, Worklog{}, err
	}
	actor := shared.ActorFromContext(ctx)
	now := s.now().UTC()
	month := close.MonthOf(in.WorkDate)

	var (
		header Header
		log    Worklog
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.EnsureMonthOpen(ctx, in.WorkDate, in.OverrideReason); err != nil {
			return err
		}
		existing, err := tx.FindHeaderForUpdate(ctx, in.EmployeeID, month)
		if err != nil {
			return err
		}
		if existing == nil {
			existing = &Header{
				ID:         uuid.New(),
				EmployeeID: in.EmployeeID,
				Month:      month,
				Status:     StatusDraft,
				Version:    1,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := tx.InsertHeader(ctx, *existing); err != nil {
				return err
			}
		}
		if existing.Status != StatusDraft {
			return shared.Conflict("SHEET_NOT_DRAFT", "worklogs only apply to draft timesheets")
		}

		log = Worklog{
			ID:        uuid.New(),
			HeaderID:  existing.ID,
			WorkDate:  in.WorkDate,
			Hours:     in.Hours,
			Note:      in.Note,
			CreatedAt: now,
		}
		if err := tx.InsertWorklog(ctx, log); err != nil {
			return err
		}
		header = *existing
		return tx.Audit(ctx, audit.Entry{
			RequestID:  shared.RequestIDFromContext(ctx),
			ActorID:    actor.ID,
			EntityType: "TIMESHEET",
			EntityID:   existing.ID.String(),
			Action:     "WORKLOG_ADDED",
			After: map[string]any{
				"workDate": in.WorkDate.Format("2006-01-02"),
				"hours":    in.Hours.String(),
			},
			Reason: in.OverrideReason,
		})
	})
	if err != nil {
		return Header{}, Worklog{}, err
	}
	return header, log, nil
}

// Submit hands the sheet to review.
func (s *Service) Submit(ctx context.Context, headerID uuid.UUID, expectedVersion int64, overrideReason string) (Header, error) {
	return s.transition(ctx, headerID, expectedVersion, StatusSubmitted, overrideReason, "TIMESHEET_SUBMITTED")
}

// Approve finalizes the sheet.
func (s *Service) Approve(ctx context.Context, headerID uuid.UUID, expectedVersion int64, overrideReason string) (Header, error) {
	return s.transition(ctx, headerID, expectedVersion, StatusApproved, overrideReason, "TIMESHEET_APPROVED")
}

// Return sends a submitted sheet back to draft for fixes.
func (s *Service) Return(ctx context.Context, headerID uuid.UUID, expectedVersion int64, overrideReason string) (Header, error) {
	return s.transition(ctx, headerID, expectedVersion, StatusDraft, overrideReason, "TIMESHEET_RETURNED")
}

func (s *Service) transition(ctx context.Context, headerID uuid.UUID, expectedVersion int64, to Status, overrideReason, action string) (Header, error) {
	actor := shared.ActorFromContext(ctx)
	var result Header
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetHeaderForUpdate(ctx, headerID)
		if err != nil {
			return err
		}
		if current == nil {
			return shared.NotFound("timesheet not found")
		}
		if err := AssertTransition(current.Status, to); err != nil {
			return err
		}
		if err := tx.EnsureMonthOpen(ctx, current.Month, overrideReason); err != nil {
			return err
		}
		var decidedBy *uuid.UUID
		if to == StatusApproved {
			decidedBy = actorRef(actor)
		}
		updated, err := tx.UpdateHeaderState(ctx, headerID, expectedVersion, to, decidedBy, s.now().UTC())
		if err != nil {
			return versionConflict(err)
		}
		result = *updated
		return tx.Audit(ctx, audit.Entry{
			RequestID:  shared.RequestIDFromContext(ctx),
			ActorID:    actor.ID,
			EntityType: "TIMESHEET",
			EntityID:   headerID.String(),
			Action:     action,
			Before:     map[string]any{"status": string(current.Status)},
			After:      map[string]any{"status": string(to)},
		})
	})
	if err != nil {
		return Header{}, err
	}
	return result, nil
}

// Get loads a header with its worklogs.
func (s *Service) Get(ctx context.Context, headerID uuid.UUID) (Header, []Worklog, error) {
	h, err := s.repo.GetHeader(ctx, headerID)
	if err != nil {
		return Header{}, nil, err
	}
	if h == nil {
		return Header{}, nil, shared.NotFound("timesheet not found")
	}
	logs, err := s.repo.ListWorklogs(ctx, headerID)
	if err != nil {
		return Header{}, nil, err
	}
	return *h, logs, nil
}

// Find resolves an employee's sheet for a month, if one exists.
func (s *Service) Find(ctx context.Context, employeeID uuid.UUID, month time.Time) (Header, []Worklog, error) {
	h, err := s.repo.FindHeader(ctx, employeeID, close.MonthOf(month))
	if err != nil {
		return Header{}, nil, err
	}
	if h == nil {
		return Header{}, nil, shared.NotFound("timesheet not found")
	}
	logs, err := s.repo.ListWorklogs(ctx, h.ID)
	if err != nil {
		return Header{}, nil, err
	}
	return *h, logs, nil
}

func versionConflict(err error) error {
	if errors.Is(err, db.ErrVersionConflict) {
		return shared.Conflict("VERSION_CONFLICT", "timesheet was updated by another user")
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
