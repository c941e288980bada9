// Package expense manages the expense ledger: drafts, the approval
// lifecycle, payments, and per-record optimistic concurrency.
package expense

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-hr/meridian-hr/internal/shared"
)

// Status is the expense lifecycle state.
type Status string

const (
	StatusDraft         Status = "DRAFT"
	StatusSubmitted     Status = "SUBMITTED"
	StatusApproved      Status = "APPROVED"
	StatusRejected      Status = "REJECTED"
	StatusPartiallyPaid Status = "PARTIALLY_PAID"
	StatusPaid          Status = "PAID"
	StatusClosed        Status = "CLOSED"
)

var allowedTransitions = map[Status][]Status{
	StatusDraft:         {StatusSubmitted},
	StatusSubmitted:     {StatusApproved, StatusRejected},
	StatusApproved:      {StatusPartiallyPaid, StatusPaid},
	StatusPartiallyPaid: {StatusPaid},
	StatusPaid:          {StatusClosed},
	StatusRejected:      {},
	StatusClosed:        {},
}

// AssertTransition validates a lifecycle move. No skipping states.
func AssertTransition(from, to Status) error {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return shared.Conflict("INVALID_STATUS_TRANSITION", fmt.Sprintf("cannot move expense from %s to %s", from, to))
}

// Expense is one ledger record. Version backs expectedVersion checks
// on every mutation.
type Expense struct {
	ID              uuid.UUID
	ExpenseDate     time.Time
	CategoryID      *uuid.UUID
	Title           string
	Description     string
	Amount          decimal.Decimal
	Currency        string
	DivisionID      *uuid.UUID
	VendorName      string
	IsReimbursement bool
	EmployeeID      *uuid.UUID
	Status          Status
	SubmittedAt     *time.Time
	DecidedAt       *time.Time
	DecidedBy       *uuid.UUID
	DecisionNote    string
	Version         int64
	CreatedAt       time.Time
	CreatedBy       *uuid.UUID
	UpdatedAt       time.Time
}

// Payment is one settlement against an approved expense.
type Payment struct {
	ID        uuid.UUID
	ExpenseID uuid.UUID
	Amount    decimal.Decimal
	PaidAt    time.Time
	Method    string
	Reference string
	CreatedAt time.Time
	CreatedBy *uuid.UUID
}

// Category groups expenses for reporting. Versioned like every other
// editable aggregate.
type Category struct {
	ID        uuid.UUID
	Name      string
	IsActive  bool
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateInput carries a new expense draft.
type CreateInput struct {
	ExpenseDate     time.Time
	CategoryID      *uuid.UUID
	Title           string
	Description     string
	Amount          decimal.Decimal
	Currency        string
	DivisionID      *uuid.UUID
	VendorName      string
	IsReimbursement bool
	EmployeeID      *uuid.UUID
	OverrideReason  string
}

// Validate applies the shape checks that need no database.
func (in CreateInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return shared.BadRequest("TITLE_REQUIRED", "expense title is required")
	}
	if !in.Amount.IsPositive() {
		return shared.BadRequest("INVALID_AMOUNT", "expense amount must be positive")
	}
	if len(in.Currency) != 3 {
		return shared.BadRequest("INVALID_CURRENCY", "currency must be a 3-letter code")
	}
	if in.ExpenseDate.IsZero() {
		return shared.BadRequest("DATE_REQUIRED", "expense date is required")
	}
	if in.IsReimbursement && in.EmployeeID == nil {
		return shared.BadRequest("EMPLOYEE_REQUIRED", "reimbursements need an employee")
	}
	return nil
}

// DraftUpdate carries a partial edit of a DRAFT expense. Nil fields
// stay as-is.
type DraftUpdate struct {
	ExpenseDate *time.Time
	CategoryID  *uuid.UUID
	Title       *string
	Description *string
	Amount      *decimal.Decimal
	VendorName  *string
}

// PaymentInput records money going out against an expense.
type PaymentInput struct {
	ExpenseID      uuid.UUID
	Amount         decimal.Decimal
	PaidAt         time.Time
	Method         string
	Reference      string
	OverrideReason string
}

// Validate applies payment shape checks.
func (in PaymentInput) Validate() error {
	if !in.Amount.IsPositive() {
		return shared.BadRequest("INVALID_AMOUNT", "payment amount must be positive")
	}
	if in.PaidAt.IsZero() {
		return shared.BadRequest("DATE_REQUIRED", "payment date is required")
	}
	return nil
}

// ListFilter narrows expense listings.
type ListFilter struct {
	Status     Status
	DivisionID *uuid.UUID
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// Residual amounts below this are treated as fully paid.
var paymentEpsilon = decimal.New(1, -5)
