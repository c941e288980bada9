// Package close owns the accounting month lifecycle: the append-only
// month_close history, the immutable snapshot taken at close time, the
// post-close adjustment ledger, and the gate every financial mutation
// passes through.
package close

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-hr/meridian-hr/internal/shared"
)

// Scope narrows a close record. Today every close is company-wide;
// the column exists so a future division-level close is a data change,
// not a schema change.
type Scope string

const ScopeCompany Scope = "COMPANY"

// Status is the lifecycle state of an accounting month.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

// Record is one row of the month_close history. Rows are never updated
// or deleted; the latest row for a (month, scope) pair governs.
type Record struct {
	ID        uuid.UUID
	Month     time.Time
	Scope     Scope
	Status    Status
	Reason    string
	ClosedAt  *time.Time
	ClosedBy  *uuid.UUID
	CreatedAt time.Time
}

// OpenRecord is the implicit state of a month that has no close row.
func OpenRecord(month time.Time, scope Scope) Record {
	return Record{Month: MonthOf(month), Scope: scope, Status: StatusOpen}
}

// DivisionTotal is a per-division expense slice inside a snapshot.
type DivisionTotal struct {
	DivisionID *uuid.UUID      `json:"divisionId"`
	Total      decimal.Decimal `json:"total"`
}

// RunTotal is a per-payroll-run slice inside a snapshot.
type RunTotal struct {
	RunID uuid.UUID       `json:"runId"`
	Total decimal.Decimal `json:"total"`
}

// Totals is the aggregation computed over settled records of a month.
// The close path freezes it into a snapshot; the preview path returns
// it live. Both run the same code.
type Totals struct {
	TotalIncome   decimal.Decimal `json:"totalIncome"`
	TotalExpense  decimal.Decimal `json:"totalExpense"`
	TotalPayroll  decimal.Decimal `json:"totalPayroll"`
	NetProfitLoss decimal.Decimal `json:"netProfitLoss"`
	ByDivision    []DivisionTotal `json:"byDivision"`
	PayrollRuns   []RunTotal      `json:"payrollRuns"`
}

// Snapshot is the frozen financial summary of a closed month. Once
// written it is never recomputed; later corrections go through the
// adjustment ledger.
type Snapshot struct {
	ID              uuid.UUID
	Month           time.Time
	Scope           Scope
	SnapshotVersion int
	Totals          Totals
	CreatedAt       time.Time
	CreatedBy       *uuid.UUID
}

// Blocking-issue codes reported by readiness checks.
const (
	IssuePendingExpenseApprovals = "PENDING_EXPENSE_APPROVALS"
	IssuePendingIncomeApprovals  = "PENDING_INCOME_APPROVALS"
	IssueUnlockedPayrollRun      = "UNLOCKED_PAYROLL_RUN"
)

// Issue is a condition blocking a month from closing.
type Issue struct {
	Code  string `json:"code"`
	Count int    `json:"count"`
}

// Preview is the dry-run close result for a still-open month.
type Preview struct {
	Month        time.Time `json:"month"`
	ReadyToClose bool      `json:"readyToClose"`
	Issues       []Issue   `json:"issues"`
	Totals       Totals    `json:"totals"`
}

// TargetType says which ledger an adjustment corrects.
type TargetType string

const (
	TargetExpense       TargetType = "EXPENSE"
	TargetIncome        TargetType = "INCOME"
	TargetPayroll       TargetType = "PAYROLL"
	TargetSettlement    TargetType = "SETTLEMENT"
	TargetReimbursement TargetType = "REIMBURSEMENT"
)

// Direction says which way an adjustment moves the target total.
type Direction string

const (
	DirectionIncrease Direction = "INCREASE"
	DirectionDecrease Direction = "DECREASE"
)

// Adjustment is one append-only correction against a closed month. The
// snapshot it corrects stays untouched; reporting overlays the ledger.
type Adjustment struct {
	ID             uuid.UUID
	TargetMonth    time.Time
	AdjustmentDate time.Time
	TargetType     TargetType
	TargetID       *uuid.UUID
	Direction      Direction
	Amount         decimal.Decimal
	Reason         string
	CreatedAt      time.Time
	CreatedBy      *uuid.UUID
}

// AdjustmentInput carries a requested adjustment.
type AdjustmentInput struct {
	TargetMonth    time.Time
	AdjustmentDate time.Time
	TargetType     TargetType
	TargetID       *uuid.UUID
	Direction      Direction
	Amount         decimal.Decimal
	Reason         string
}

// Validate applies the ledger preconditions that need no database.
func (in AdjustmentInput) Validate() error {
	switch in.TargetType {
	case TargetExpense, TargetIncome, TargetPayroll, TargetSettlement, TargetReimbursement:
	default:
		return shared.BadRequest("INVALID_TARGET_TYPE", fmt.Sprintf("unknown adjustment target type %q", in.TargetType))
	}
	switch in.Direction {
	case DirectionIncrease, DirectionDecrease:
	default:
		return shared.BadRequest("INVALID_DIRECTION", fmt.Sprintf("unknown adjustment direction %q", in.Direction))
	}
	if !in.Amount.IsPositive() {
		return shared.BadRequest("INVALID_AMOUNT", "adjustment amount must be positive")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return shared.BadRequest("REASON_REQUIRED", "adjustment reason is required")
	}
	if in.TargetMonth.IsZero() || in.AdjustmentDate.IsZero() {
		return shared.BadRequest("INVALID_DATE", "target month and adjustment date are required")
	}
	return nil
}

// Domain errors.
var (
	ErrMonthClosed     = shared.MonthClosed("month is closed for financial modifications")
	ErrReopenForbidden = shared.Forbidden("MONTH_REOPEN_FORBIDDEN", "closed months cannot be reopened")
	ErrTargetMonthOpen = shared.BadRequest("TARGET_MONTH_NOT_CLOSED", "adjustments may only target closed months")
)

// NotReadyError reports the blocking issues found when a close was
// attempted on a month that is not settled.
type NotReadyError struct {
	Issues []Issue
}

func (e *NotReadyError) Error() string {
	codes := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		codes = append(codes, fmt.Sprintf("%s=%d", issue.Code, issue.Count))
	}
	return "close: month not ready: " + strings.Join(codes, ", ")
}

// MonthOf normalizes t to the first day of its calendar month in UTC.
func MonthOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// NextMonth returns the first day of the month after m.
func NextMonth(m time.Time) time.Time {
	return MonthOf(m).AddDate(0, 1, 0)
}

// ParseMonth parses a YYYY-MM month key.
func ParseMonth(raw string) (time.Time, error) {
	m, err := time.ParseInLocation("2006-01", raw, time.UTC)
	if err != nil {
		return time.Time{}, shared.BadRequest("INVALID_MONTH", fmt.Sprintf("month %q is not in YYYY-MM form", raw))
	}
	return m, nil
}

// FormatMonth renders the YYYY-MM month key.
func FormatMonth(m time.Time) string {
	return m.Format("2006-01")
}
