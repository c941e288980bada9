package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	err  error
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if r.scan != nil {
		return r.scan(dest...)
	}
	return nil
}

type fakeQueryer struct {
	row pgx.Row
}

func (q fakeQueryer) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (q fakeQueryer) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, nil
}

func (q fakeQueryer) QueryRow(context.Context, string, ...any) pgx.Row {
	return q.row
}

func TestCASMapsNoRowsToVersionConflict(t *testing.T) {
	q := fakeQueryer{row: fakeRow{err: pgx.ErrNoRows}}
	err := CAS(context.Background(), q, "UPDATE t SET version = version + 1 WHERE id = $1 AND version = $2 RETURNING version", []any{"id", 3})
	require.ErrorIs(t, err, ErrVersionConflict)
}

func TestCASScansReturnedRow(t *testing.T) {
	q := fakeQueryer{row: fakeRow{scan: func(dest ...any) error {
		*(dest[0].(*int64)) = 4
		return nil
	}}}
	var version int64
	err := CAS(context.Background(), q, "UPDATE t SET version = version + 1 WHERE id = $1 AND version = $2 RETURNING version", []any{"id", 3}, &version)
	require.NoError(t, err)
	require.EqualValues(t, 4, version)
}

func TestCASPassesThroughOtherErrors(t *testing.T) {
	boom := errors.New("connection reset")
	q := fakeQueryer{row: fakeRow{err: boom}}
	err := CAS(context.Background(), q, "UPDATE t SET version = version + 1 WHERE id = $1 AND version = $2 RETURNING version", []any{"id", 1})
	require.ErrorIs(t, err, boom)
}

func TestIsUniqueViolation(t *testing.T) {
	require.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	require.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	require.False(t, IsUniqueViolation(errors.New("nope")))
}
