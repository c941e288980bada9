// Package sysconfig reads runtime behavior flags from the
// system_config table. Flags gate features per environment without a
// redeploy; reads happen inside the caller's transaction so a flag
// flip cannot split a mutation in half.
package sysconfig

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/meridian-hr/meridian-hr/internal/platform/db"
)

// Flag keys known to the application.
const (
	KeyMonthCloseEnabled        = "MONTH_CLOSE_ENABLED"
	KeyPayrollEnabled           = "PAYROLL_ENABLED"
	KeyPayrollManualAdjustments = "PAYROLL_ALLOW_MANUAL_ADJUSTMENTS"
	KeyExpenseEnabled           = "EXPENSE_ENABLED"
	KeyExpenseAllowBackdated    = "EXPENSE_ALLOW_BACKDATED"
	KeyExpenseBackdateLimitDays = "EXPENSE_BACKDATE_LIMIT_DAYS"
	KeyAuditRetentionDays       = "AUDIT_RETENTION_DAYS"
)

// Value returns the raw config value for key, with ok reporting whether
// the key exists.
func Value(ctx context.Context, q db.Queryer, key string) (string, bool, error) {
	var value string
	err := q.QueryRow(ctx, `SELECT value FROM system_config WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("sysconfig: read %s: %w", key, err)
	}
	return value, true, nil
}

// Enabled reports whether the flag is switched on. A missing key and
// any unrecognized value both read as off.
func Enabled(ctx context.Context, q db.Queryer, key string) (bool, error) {
	raw, ok, err := Value(ctx, q, key)
	if err != nil || !ok {
		return false, err
	}
	return ParseBool(raw), nil
}

// IntValue returns the flag parsed as an integer, or fallback when the
// key is absent or malformed.
func IntValue(ctx context.Context, q db.Queryer, key string, fallback int) (int, error) {
	raw, ok, err := Value(ctx, q, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return fallback, nil
	}
	n, convErr := strconv.Atoi(strings.TrimSpace(raw))
	if convErr != nil {
		return fallback, nil
	}
	return n, nil
}

// ParseBool accepts the affirmative spellings used in config rows.
// Everything else, including garbage, reads as false.
func ParseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "enabled", "on":
		return true
	default:
		return false
	}
}

// ExpenseFlags bundles the expense policy switches read together at the
// top of every expense mutation.
type ExpenseFlags struct {
	Enabled           bool
	AllowBackdated    bool
	BackdateLimitDays int
}

// LoadExpenseFlags reads the expense policy flags in one pass.
func LoadExpenseFlags(ctx context.Context, q db.Queryer) (ExpenseFlags, error) {
	flags := ExpenseFlags{}
	var err error
	if flags.Enabled, err = Enabled(ctx, q, KeyExpenseEnabled); err != nil {
		return flags, err
	}
	if flags.AllowBackdated, err = Enabled(ctx, q, KeyExpenseAllowBackdated); err != nil {
		return flags, err
	}
	if flags.BackdateLimitDays, err = IntValue(ctx, q, KeyExpenseBackdateLimitDays, 0); err != nil {
		return flags, err
	}
	return flags, nil
}
