package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

// fakeTx embeds the interface so only the methods WithTx touches need
// implementations.
type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	t.rolledBack = true
	return nil
}

type fakeBeginner struct {
	txs      []*fakeTx
	isoLevel pgx.TxIsoLevel
	beginErr error
}

func (b *fakeBeginner) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	if b.beginErr != nil {
		return nil, b.beginErr
	}
	b.isoLevel = opts.IsoLevel
	tx := &fakeTx{}
	b.txs = append(b.txs, tx)
	return tx, nil
}

func TestWithTxCommitsOnNilError(t *testing.T) {
	beginner := &fakeBeginner{}
	calls := 0
	err := WithTx(context.Background(), beginner, func(pgx.Tx) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, pgx.RepeatableRead, beginner.isoLevel)
	require.Len(t, beginner.txs, 1)
	require.True(t, beginner.txs[0].committed)
}

func TestWithTxRollsBackAndReturnsFnError(t *testing.T) {
	beginner := &fakeBeginner{}
	boom := errors.New("insert failed")
	err := WithTx(context.Background(), beginner, func(pgx.Tx) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Len(t, beginner.txs, 1)
	require.False(t, beginner.txs[0].committed)
	require.True(t, beginner.txs[0].rolledBack)
}

func TestWithTxReplaysSerializationFailures(t *testing.T) {
	beginner := &fakeBeginner{}
	calls := 0
	err := WithTx(context.Background(), beginner, func(pgx.Tx) error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: serializationFailure}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Len(t, beginner.txs, 3)
	require.True(t, beginner.txs[2].committed)
}

func TestWithTxGivesUpAfterThreeSerializationFailures(t *testing.T) {
	beginner := &fakeBeginner{}
	calls := 0
	err := WithTx(context.Background(), beginner, func(pgx.Tx) error {
		calls++
		return &pgconn.PgError{Code: serializationFailure}
	})
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	require.Equal(t, serializationFailure, pgErr.Code)
	require.Equal(t, 3, calls)
}

func TestWithTxWrapsBeginError(t *testing.T) {
	boom := errors.New("pool exhausted")
	beginner := &fakeBeginner{beginErr: boom}
	err := WithTx(context.Background(), beginner, func(pgx.Tx) error {
		t.Fatal("fn must not run when begin fails")
		return nil
	})
	require.ErrorIs(t, err, boom)
}

func TestWithTxDoesNotReplayOtherPgErrors(t *testing.T) {
	beginner := &fakeBeginner{}
	calls := 0
	err := WithTx(context.Background(), beginner, func(pgx.Tx) error {
		calls++
		return &pgconn.PgError{Code: "23505"}
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}
