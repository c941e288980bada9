// Package employee manages the employee registry and its two temporal
// histories: organizational scope and compensation. Current-state
// columns on the employee row are a cache; the version chains are the
// record of truth.
package employee

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-hr/meridian-hr/internal/shared"
	"github.com/meridian-hr/meridian-hr/internal/temporal"
)

// Status is an employee lifecycle state.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
	StatusExited   Status = "EXITED"
)

// EXITED is terminal; there is no way back in.
var allowedStatusTransitions = map[Status][]Status{
	StatusActive:   {StatusInactive, StatusExited},
	StatusInactive: {StatusActive, StatusExited},
	StatusExited:   {},
}

// AssertStatusTransition validates a lifecycle move.
func AssertStatusTransition(from, to Status) error {
	for _, allowed := range allowedStatusTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return shared.Conflict("INVALID_STATUS_TRANSITION", fmt.Sprintf("cannot move employee from %s to %s", from, to))
}

// ScopeType says where an employee sits in the org.
type ScopeType string

const (
	ScopeCompany  ScopeType = "COMPANY"
	ScopeDivision ScopeType = "DIVISION"
)

// Employee is the registry row. Version backs optimistic concurrency;
// ScopeType and PrimaryDivisionID mirror the open scope version.
type Employee struct {
	ID                uuid.UUID
	Code              string
	FirstName         string
	LastName          string
	Email             string
	Status            Status
	ScopeType         ScopeType
	PrimaryDivisionID *uuid.UUID
	JoinedOn          time.Time
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ScopeVersion is one link of the scope chain. Windows are
// instant-grained: the closing timestamp of one version is the opening
// timestamp of the next.
type ScopeVersion struct {
	ID         uuid.UUID
	EmployeeID uuid.UUID
	ScopeType  ScopeType
	DivisionID *uuid.UUID
	Window     temporal.Window
	Reason     string
	ChangedBy  *uuid.UUID
	CreatedAt  time.Time
}

// Frequency is how a compensation amount is quoted.
type Frequency string

const (
	FrequencyMonthly Frequency = "MONTHLY"
	FrequencyAnnual  Frequency = "ANNUAL"
)

// CompensationVersion is one link of the compensation chain. Windows
// are date-grained with an inclusive upper bound.
type CompensationVersion struct {
	ID         uuid.UUID
	EmployeeID uuid.UUID
	Amount     decimal.Decimal
	Currency   string
	Frequency  Frequency
	Window     temporal.Window
	Reason     string
	CreatedBy  *uuid.UUID
	CreatedAt  time.Time
}

// CreateInput carries a new employee registration.
type CreateInput struct {
	IdempotencyKey string
	Code           string
	FirstName      string
	LastName       string
	Email          string
	ScopeType      ScopeType
	DivisionID     *uuid.UUID
	JoinedOn       time.Time
}

// Validate checks the registration before any database work.
func (in CreateInput) Validate() error {
	if strings.TrimSpace(in.Code) == "" {
		return shared.BadRequest("CODE_REQUIRED", "employee code is required")
	}
	if strings.TrimSpace(in.FirstName) == "" {
		return shared.BadRequest("NAME_REQUIRED", "employee first name is required")
	}
	return assertScope(in.ScopeType, in.DivisionID)
}

// ProfileUpdate carries a partial profile edit. Nil fields stay as-is.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	Email     *string
}

// ScopeChangeInput moves an employee between company and division scope.
type ScopeChangeInput struct {
	EmployeeID      uuid.UUID
	ExpectedVersion int64
	ScopeType       ScopeType
	DivisionID      *uuid.UUID
	EffectiveAt     time.Time
	Reason          string
}

// Validate checks the scope change shape.
func (in ScopeChangeInput) Validate() error {
	if in.EffectiveAt.IsZero() {
		return shared.BadRequest("EFFECTIVE_AT_REQUIRED", "scope change needs an effective timestamp")
	}
	return assertScope(in.ScopeType, in.DivisionID)
}

// CompensationInput opens a new compensation version.
type CompensationInput struct {
	EmployeeID    uuid.UUID
	Amount        decimal.Decimal
	Currency      string
	Frequency     Frequency
	EffectiveFrom time.Time
	Reason        string
}

// Validate checks the compensation payload.
func (in CompensationInput) Validate() error {
	if !in.Amount.IsPositive() {
		return shared.BadRequest("INVALID_AMOUNT", "compensation amount must be positive")
	}
	switch in.Frequency {
	case FrequencyMonthly, FrequencyAnnual:
	default:
		return shared.BadRequest("INVALID_FREQUENCY", fmt.Sprintf("unsupported pay frequency %q", in.Frequency))
	}
	if in.EffectiveFrom.IsZero() {
		return shared.BadRequest("EFFECTIVE_FROM_REQUIRED", "compensation needs an effective date")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return shared.BadRequest("REASON_REQUIRED", "compensation change reason is required")
	}
	return nil
}

func assertScope(scope ScopeType, divisionID *uuid.UUID) error {
	switch scope {
	case ScopeCompany:
		return nil
	case ScopeDivision:
		if divisionID == nil {
			return shared.BadRequest("DIVISION_REQUIRED", "division scope needs a division id")
		}
		return nil
	default:
		return shared.BadRequest("INVALID_SCOPE", fmt.Sprintf("unknown scope type %q", scope))
	}
}

// ErrCompensationOverlap rejects a version that would overlap the
// active one.
var ErrCompensationOverlap = shared.Conflict("COMPENSATION_OVERLAP", "new compensation version overlaps the active one")

// ErrScopeOverlap rejects a scope change effective at or before the
// start of the active scope version.
var ErrScopeOverlap = shared.Conflict("SCOPE_OVERLAP", "scope change would overlap the active scope version")
