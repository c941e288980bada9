// Package payroll computes and settles monthly payroll runs. A run is
// built from the compensation chains in effect for the month, reviewed,
// locked, and paid out per employee.
package payroll

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-hr/meridian-hr/internal/shared"
)

// RunStatus is the payroll run lifecycle state. LOCKED and later count
// as settled for month close purposes.
type RunStatus string

const (
	RunDraft    RunStatus = "DRAFT"
	RunReviewed RunStatus = "REVIEWED"
	RunLocked   RunStatus = "LOCKED"
	RunPaid     RunStatus = "PAID"
	RunClosed   RunStatus = "CLOSED"
)

var allowedRunTransitions = map[RunStatus][]RunStatus{
	RunDraft:    {RunReviewed},
	RunReviewed: {RunLocked},
	RunLocked:   {RunPaid},
	RunPaid:     {RunClosed},
	RunClosed:   {},
}

// AssertRunTransition validates a run lifecycle move.
func AssertRunTransition(from, to RunStatus) error {
	for _, allowed := range allowedRunTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return shared.Conflict("INVALID_STATUS_TRANSITION", fmt.Sprintf("cannot move payroll run from %s to %s", from, to))
}

// ItemType classifies a payroll line. DEDUCTION subtracts from the
// employee's net; everything else adds.
type ItemType string

const (
	ItemBasePay    ItemType = "BASE_PAY"
	ItemAllowance  ItemType = "ALLOWANCE"
	ItemBonus      ItemType = "BONUS"
	ItemDeduction  ItemType = "DEDUCTION"
	ItemAdjustment ItemType = "ADJUSTMENT"
)

// Run is one payroll cycle for a calendar month.
type Run struct {
	ID         uuid.UUID
	Month      time.Time
	Status     RunStatus
	Version    int64
	ReviewedAt *time.Time
	LockedAt   *time.Time
	PaidAt     *time.Time
	CreatedAt  time.Time
	CreatedBy  *uuid.UUID
	UpdatedAt  time.Time
}

// Item is one payroll line for one employee in a run.
type Item struct {
	ID          uuid.UUID
	RunID       uuid.UUID
	EmployeeID  uuid.UUID
	Type        ItemType
	Description string
	Amount      decimal.Decimal
	DivisionID  *uuid.UUID
	CreatedAt   time.Time
	CreatedBy   *uuid.UUID
}

// Payment is a disbursement against a locked run for one employee.
type Payment struct {
	ID         uuid.UUID
	RunID      uuid.UUID
	EmployeeID uuid.UUID
	Amount     decimal.Decimal
	PaidAt     time.Time
	Method     string
	Reference  string
	CreatedAt  time.Time
	CreatedBy  *uuid.UUID
}

// AdjustmentInput carries a manual payroll line.
type AdjustmentInput struct {
	RunID           uuid.UUID
	ExpectedVersion int64
	EmployeeID      uuid.UUID
	Type            ItemType
	Description     string
	Amount          decimal.Decimal
	Reason          string
	OverrideReason  string
}

// Validate applies the shape checks that need no database.
func (in AdjustmentInput) Validate() error {
	switch in.Type {
	case ItemAllowance, ItemBonus, ItemDeduction, ItemAdjustment:
	case ItemBasePay:
		return shared.BadRequest("INVALID_ITEM_TYPE", "base pay lines come from compensation, not manual entry")
	default:
		return shared.BadRequest("INVALID_ITEM_TYPE", fmt.Sprintf("unsupported item type %q", in.Type))
	}
	if !in.Amount.IsPositive() {
		return shared.BadRequest("INVALID_AMOUNT", "item amount must be positive")
	}
	if strings.TrimSpace(in.Description) == "" {
		return shared.BadRequest("DESCRIPTION_REQUIRED", "item description is required")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return shared.BadRequest("REASON_REQUIRED", "manual payroll lines need a reason")
	}
	if in.EmployeeID == uuid.Nil {
		return shared.BadRequest("EMPLOYEE_REQUIRED", "item needs an employee")
	}
	return nil
}

// PaymentInput records a disbursement to one employee.
type PaymentInput struct {
	RunID          uuid.UUID
	EmployeeID     uuid.UUID
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
	if in.EmployeeID == uuid.Nil {
		return shared.BadRequest("EMPLOYEE_REQUIRED", "payment needs an employee")
	}
	return nil
}

// NetByEmployee folds a run's items into per-employee net pay.
func NetByEmployee(items []Item) map[uuid.UUID]decimal.Decimal {
	nets := make(map[uuid.UUID]decimal.Decimal)
	for _, item := range items {
		net := nets[item.EmployeeID]
		if item.Type == ItemDeduction {
			net = net.Sub(item.Amount)
		} else {
			net = net.Add(item.Amount)
		}
		nets[item.EmployeeID] = net
	}
	return nets
}

// Residual amounts below this count as fully disbursed.
var paymentEpsilon = decimal.New(1, -5)
