package close

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/meridian-hr/meridian-hr/internal/platform/db"
	"github.com/meridian-hr/meridian-hr/internal/sysconfig"
)

// Guard is the single chokepoint every financial mutation calls before
// touching month-scoped data. It runs on the caller's transaction so
// the month it observes is the month the mutation commits against.
type Guard struct{}

// NewGuard returns a Guard.
func NewGuard() *Guard {
	return &Guard{}
}

// EnsureMonthOpen rejects the mutation when the calendar month of day
// is closed. The check only applies while the MONTH_CLOSE_ENABLED flag
// is on; with the flag off every month reads as open.
//
// overrideReason is accepted and passed through to audit trails by
// callers, but it never changes the outcome here. No override path
// exists; the parameter survives so callers don't lose the operator's
// stated intent. See the adjustment ledger for the sanctioned way to
// touch a closed month.
func (g *Guard) EnsureMonthOpen(ctx context.Context, q db.Queryer, day time.Time, overrideReason string) error {
	_ = overrideReason

	enabled, err := sysconfig.Enabled(ctx, q, sysconfig.KeyMonthCloseEnabled)
	if err != nil {
		return err
	}
	if !enabled {
		return nil
	}

	var status Status
	err = q.QueryRow(ctx, `
SELECT status FROM month_close
WHERE month = $1 AND scope = $2
ORDER BY created_at DESC, id DESC
LIMIT 1`, MonthOf(day), ScopeCompany).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}
	if status == StatusClosed {
		return ErrMonthClosed
	}
	return nil
}
