package sysconfig

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type stubRow struct {
	value string
	err   error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*string)) = r.value
	return nil
}

// stubQueryer serves canned system_config rows keyed by the $1 arg.
type stubQueryer struct {
	rows map[string]string
}

func (s stubQueryer) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (s stubQueryer) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, nil
}

func (s stubQueryer) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	key, _ := args[0].(string)
	if value, ok := s.rows[key]; ok {
		return stubRow{value: value}
	}
	return stubRow{err: pgx.ErrNoRows}
}

func TestParseBoolAcceptsAffirmativeSpellings(t *testing.T) {
	for _, raw := range []string{"true", "TRUE", "1", "yes", "Enabled", "on", "  true  "} {
		require.True(t, ParseBool(raw), "expected %q to parse as on", raw)
	}
	for _, raw := range []string{"", "false", "0", "no", "off", "maybe", "tru"} {
		require.False(t, ParseBool(raw), "expected %q to parse as off", raw)
	}
}

func TestEnabledMissingKeyReadsOff(t *testing.T) {
	q := stubQueryer{rows: map[string]string{}}
	on, err := Enabled(context.Background(), q, KeyMonthCloseEnabled)
	require.NoError(t, err)
	require.False(t, on)
}

func TestEnabledGarbageValueReadsOff(t *testing.T) {
	q := stubQueryer{rows: map[string]string{KeyMonthCloseEnabled: "definitely"}}
	on, err := Enabled(context.Background(), q, KeyMonthCloseEnabled)
	require.NoError(t, err)
	require.False(t, on)
}

func TestIntValueFallsBack(t *testing.T) {
	q := stubQueryer{rows: map[string]string{KeyExpenseBackdateLimitDays: "abc"}}
	n, err := IntValue(context.Background(), q, KeyExpenseBackdateLimitDays, 7)
	require.NoError(t, err)
	require.Equal(t, 7, n)

	n, err = IntValue(context.Background(), q, "MISSING", 30)
	require.NoError(t, err)
	require.Equal(t, 30, n)
}

func TestLoadExpenseFlags(t *testing.T) {
	q := stubQueryer{rows: map[string]string{
		KeyExpenseEnabled:           "true",
		KeyExpenseAllowBackdated:    "yes",
		KeyExpenseBackdateLimitDays: "14",
	}}
	flags, err := LoadExpenseFlags(context.Background(), q)
	require.NoError(t, err)
	require.True(t, flags.Enabled)
	require.True(t, flags.AllowBackdated)
	require.Equal(t, 14, flags.BackdateLimitDays)
}
