package payroll

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-hr/meridian-hr/internal/employee"
	"github.com/meridian-hr/meridian-hr/internal/shared"
)

var twelve = decimal.NewFromInt(12)

// CompensationRow is one active employee's compensation and placement
// as of the run's reference date, loaded in a single query.
type CompensationRow struct {
	EmployeeID uuid.UUID
	Code       string
	Amount     decimal.Decimal
	Currency   string
	Frequency  employee.Frequency
	DivisionID *uuid.UUID
}

// MonthlyBase normalizes a quoted compensation to a monthly figure.
// Annual amounts divide by twelve and round to cents. Any other
// frequency aborts the run; silently guessing a pay figure is worse
// than failing.
func MonthlyBase(amount decimal.Decimal, freq employee.Frequency) (decimal.Decimal, error) {
	switch freq {
	case employee.FrequencyMonthly:
		return amount, nil
	case employee.FrequencyAnnual:
		return amount.Div(twelve).Round(2), nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported pay frequency %q", freq)
	}
}

// BuildBaseItems turns compensation rows into BASE_PAY lines for a
// run. An employee appearing twice means overlapping compensation
// versions, which is a data fault the run must not paper over.
func BuildBaseItems(runID uuid.UUID, rows []CompensationRow, createdBy *uuid.UUID, now time.Time) ([]Item, error) {
	seen := make(map[uuid.UUID]bool, len(rows))
	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		if seen[row.EmployeeID] {
			return nil, shared.Conflict("AMBIGUOUS_COMPENSATION",
				fmt.Sprintf("employee %s has overlapping compensation versions", row.Code))
		}
		seen[row.EmployeeID] = true

		base, err := MonthlyBase(row.Amount, row.Frequency)
		if err != nil {
			return nil, shared.Conflict("INVALID_COMPENSATION",
				fmt.Sprintf("employee %s: %v", row.Code, err))
		}
		items = append(items, Item{
			ID:          uuid.New(),
			RunID:       runID,
			EmployeeID:  row.EmployeeID,
			Type:        ItemBasePay,
			Description: "Base pay",
			Amount:      base,
			DivisionID:  row.DivisionID,
			CreatedAt:   now,
			CreatedBy:   createdBy,
		})
	}
	return items, nil
}
