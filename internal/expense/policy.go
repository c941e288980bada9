package expense

import (
	"fmt"
	"time"

	"github.com/meridian-hr/meridian-hr/internal/shared"
	"github.com/meridian-hr/meridian-hr/internal/sysconfig"
)

// assertModuleEnabled rejects every expense mutation while the module
// flag is off. Reads stay available.
func assertModuleEnabled(flags sysconfig.ExpenseFlags) error {
	if !flags.Enabled {
		return shared.Forbidden("EXPENSE_DISABLED", "expense recording is disabled")
	}
	return nil
}

// assertExpenseDate applies the dating policy: no future expenses, and
// backdating only as far as the configured window allows.
func assertExpenseDate(now, date time.Time, flags sysconfig.ExpenseFlags) error {
	today := truncateToDay(now)
	day := truncateToDay(date)

	if day.After(today) {
		return shared.BadRequest("FUTURE_DATE", "expense date cannot be in the future")
	}
	if day.Equal(today) {
		return nil
	}
	if !flags.AllowBackdated {
		return shared.BadRequest("BACKDATING_DISABLED", "backdated expenses are not allowed")
	}
	if flags.BackdateLimitDays > 0 {
		limit := today.AddDate(0, 0, -flags.BackdateLimitDays)
		if day.Before(limit) {
			return shared.BadRequest("BACKDATE_LIMIT_EXCEEDED",
				fmt.Sprintf("expense date is more than %d days in the past", flags.BackdateLimitDays))
		}
	}
	return nil
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
