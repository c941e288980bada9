package payroll

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/meridian-hr/meridian-hr/internal/close"
)

var payslipPrinter = message.NewPrinter(language.English)

// FormatAmount renders a money amount with locale digit grouping,
// e.g. 12345.5 as "12,345.50".
func FormatAmount(d decimal.Decimal) string {
	f, _ := d.Round(2).Float64()
	return payslipPrinter.Sprintf("%.2f", f)
}

// Payslip is one employee's view of a locked run.
type Payslip struct {
	RunID      uuid.UUID
	Month      string
	EmployeeID uuid.UUID
	Lines      []Item
	Gross      decimal.Decimal
	Deductions decimal.Decimal
	Net        decimal.Decimal
}

// BuildPayslip folds a run's items down to one employee's slip.
func BuildPayslip(run Run, employeeID uuid.UUID, items []Item) Payslip {
	slip := Payslip{
		RunID:      run.ID,
		Month:      close.FormatMonth(run.Month),
		EmployeeID: employeeID,
	}
	for _, item := range items {
		if item.EmployeeID != employeeID {
			continue
		}
		slip.Lines = append(slip.Lines, item)
		if item.Type == ItemDeduction {
			slip.Deductions = slip.Deductions.Add(item.Amount)
		} else {
			slip.Gross = slip.Gross.Add(item.Amount)
		}
	}
	slip.Net = slip.Gross.Sub(slip.Deductions)
	return slip
}

// Render produces the plain-text payslip body used in notifications.
func (p Payslip) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Payslip for %s\n\n", p.Month)
	for _, line := range p.Lines {
		sign := ""
		if line.Type == ItemDeduction {
			sign = "-"
		}
		fmt.Fprintf(&b, "%-14s %-30s %s%s\n", line.Type, line.Description, sign, FormatAmount(line.Amount))
	}
	fmt.Fprintf(&b, "\nGross      %s\n", FormatAmount(p.Gross))
	fmt.Fprintf(&b, "Deductions %s\n", FormatAmount(p.Deductions))
	fmt.Fprintf(&b, "Net pay    %s\n", FormatAmount(p.Net))
	return b.String()
}
