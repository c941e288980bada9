// Package timesheet records per-employee monthly timesheets: a header
// with a small approval lifecycle and worklog lines gated on their day.
package timesheet

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-hr/meridian-hr/internal/shared"
)

// Status is the timesheet header state.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSubmitted Status = "SUBMITTED"
	StatusApproved  Status = "APPROVED"
)

var allowedTransitions = map[Status][]Status{
	StatusDraft:     {StatusSubmitted},
	StatusSubmitted: {StatusApproved, StatusDraft},
	StatusApproved:  {},
}

// AssertTransition validates a header lifecycle move. SUBMITTED back to
// DRAFT is the reviewer returning the sheet for fixes.
func AssertTransition(from, to Status) error {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return shared.Conflict("INVALID_STATUS_TRANSITION", fmt.Sprintf("cannot move timesheet from %s to %s", from, to))
}

// Header is one employee's timesheet for one month.
type Header struct {
	ID          uuid.UUID
	EmployeeID  uuid.UUID
	Month       time.Time
	Status      Status
	Version     int64
	SubmittedAt *time.Time
	DecidedAt   *time.Time
	DecidedBy   *uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Worklog is one day's logged hours under a header.
type Worklog struct {
	ID        uuid.UUID
	HeaderID  uuid.UUID
	WorkDate  time.Time
	Hours     decimal.Decimal
	Note      string
	CreatedAt time.Time
}

// WorklogInput carries a new worklog line.
type WorklogInput struct {
	EmployeeID     uuid.UUID
	WorkDate       time.Time
	Hours          decimal.Decimal
	Note           string
	OverrideReason string
}

// Validate applies the shape checks that need no database.
func (in WorklogInput) Validate() error {
	if in.EmployeeID == uuid.Nil {
		return shared.BadRequest("EMPLOYEE_REQUIRED", "worklog needs an employee")
	}
	if in.WorkDate.IsZero() {
		return shared.BadRequest("DATE_REQUIRED", "work date is required")
	}
	if !in.Hours.IsPositive() || in.Hours.GreaterThan(decimal.NewFromInt(24)) {
		return shared.BadRequest("INVALID_HOURS", "hours must be between 0 and 24")
	}
	return nil
}
