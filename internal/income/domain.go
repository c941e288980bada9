// Package income tracks money coming in: invoiced revenue, its
// approval lifecycle, and settlements against it.
package income

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-hr/meridian-hr/internal/shared"
)

// Status is the income lifecycle state. It mirrors the expense ledger
// so the month close aggregation treats both sides the same way.
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

// AssertTransition validates a lifecycle move.
func AssertTransition(from, to Status) error {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return shared.Conflict("INVALID_STATUS_TRANSITION", fmt.Sprintf("cannot move income from %s to %s", from, to))
}

// Income is one revenue record.
type Income struct {
	ID           uuid.UUID
	IncomeDate   time.Time
	Source       string
	Description  string
	Amount       decimal.Decimal
	Currency     string
	DivisionID   *uuid.UUID
	Status       Status
	SubmittedAt  *time.Time
	DecidedAt    *time.Time
	DecidedBy    *uuid.UUID
	DecisionNote string
	Version      int64
	CreatedAt    time.Time
	CreatedBy    *uuid.UUID
	UpdatedAt    time.Time
}

// Receipt is one settlement against an approved income record.
type Receipt struct {
	ID         uuid.UUID
	IncomeID   uuid.UUID
	Amount     decimal.Decimal
	ReceivedAt time.Time
	Method     string
	Reference  string
	CreatedAt  time.Time
	CreatedBy  *uuid.UUID
}

// CreateInput carries a new income draft.
type CreateInput struct {
	IncomeDate     time.Time
	Source         string
	Description    string
	Amount         decimal.Decimal
	Currency       string
	DivisionID     *uuid.UUID
	OverrideReason string
}

// Validate applies the shape checks that need no database.
func (in CreateInput) Validate() error {
	if strings.TrimSpace(in.Source) == "" {
		return shared.BadRequest("SOURCE_REQUIRED", "income source is required")
	}
	if !in.Amount.IsPositive() {
		return shared.BadRequest("INVALID_AMOUNT", "income amount must be positive")
	}
	if len(in.Currency) != 3 {
		return shared.BadRequest("INVALID_CURRENCY", "currency must be a 3-letter code")
	}
	if in.IncomeDate.IsZero() {
		return shared.BadRequest("DATE_REQUIRED", "income date is required")
	}
	return nil
}

// ReceiptInput records money received against an income record.
type ReceiptInput struct {
	IncomeID       uuid.UUID
	Amount         decimal.Decimal
	ReceivedAt     time.Time
	Method         string
	Reference      string
	OverrideReason string
}

// Validate applies receipt shape checks.
func (in ReceiptInput) Validate() error {
	if !in.Amount.IsPositive() {
		return shared.BadRequest("INVALID_AMOUNT", "receipt amount must be positive")
	}
	if in.ReceivedAt.IsZero() {
		return shared.BadRequest("DATE_REQUIRED", "receipt date is required")
	}
	return nil
}

// ListFilter narrows income listings.
type ListFilter struct {
	Status     Status
	DivisionID *uuid.UUID
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// Residual amounts below this are treated as fully settled.
var receiptEpsilon = decimal.New(1, -5)
