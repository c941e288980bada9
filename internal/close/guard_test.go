package close

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type guardRow struct {
	value string
	err   error
}

func (r guardRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	switch d := dest[0].(type) {
	case *string:
		*d = r.value
	case *Status:
		*d = Status(r.value)
	}
	return nil
}

// guardQueryer answers the two queries the gate runs: the flag lookup
// and the latest month_close row.
type guardQueryer struct {
	flag        string
	hasFlag     bool
	monthStatus string
	hasMonthRow bool
}

func (g guardQueryer) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (g guardQueryer) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, nil
}

func (g guardQueryer) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	if strings.Contains(sql, "system_config") {
		if !g.hasFlag {
			return guardRow{err: pgx.ErrNoRows}
		}
		return guardRow{value: g.flag}
	}
	if !g.hasMonthRow {
		return guardRow{err: pgx.ErrNoRows}
	}
	return guardRow{value: g.monthStatus}
}

func TestGuardAllowsWhenFlagOff(t *testing.T) {
	guard := NewGuard()
	q := guardQueryer{hasFlag: false, hasMonthRow: true, monthStatus: "CLOSED"}
	err := guard.EnsureMonthOpen(context.Background(), q, time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC), "")
	require.NoError(t, err)
}

func TestGuardAllowsMonthWithoutHistory(t *testing.T) {
	guard := NewGuard()
	q := guardQueryer{hasFlag: true, flag: "true", hasMonthRow: false}
	err := guard.EnsureMonthOpen(context.Background(), q, time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC), "")
	require.NoError(t, err)
}

func TestGuardRejectsClosedMonth(t *testing.T) {
	guard := NewGuard()
	q := guardQueryer{hasFlag: true, flag: "true", hasMonthRow: true, monthStatus: "CLOSED"}
	err := guard.EnsureMonthOpen(context.Background(), q, time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC), "")
	require.ErrorIs(t, err, ErrMonthClosed)
}

func TestGuardOverrideReasonNeverChangesOutcome(t *testing.T) {
	guard := NewGuard()
	q := guardQueryer{hasFlag: true, flag: "true", hasMonthRow: true, monthStatus: "CLOSED"}
	err := guard.EnsureMonthOpen(context.Background(), q, time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC), "urgent board request")
	require.ErrorIs(t, err, ErrMonthClosed)
}

func TestGuardAllowsReopenedHistoryLatestWins(t *testing.T) {
	guard := NewGuard()
	q := guardQueryer{hasFlag: true, flag: "true", hasMonthRow: true, monthStatus: "OPEN"}
	err := guard.EnsureMonthOpen(context.Background(), q, time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC), "")
	require.NoError(t, err)
}
