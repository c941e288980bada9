package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const serializationFailure = "40001"

// TxBeginner starts transactions. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// WithTx executes fn inside a RepeatableRead transaction. Concurrent
// writers can make the snapshot unserializable; Postgres reports that
// as SQLSTATE 40001 and the whole fn is replayed on a fresh snapshot.
// fn must therefore only issue SQL, never side effects.
func WithTx(ctx context.Context, pool TxBeginner, fn func(pgx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		lastErr = runTx(ctx, pool, fn)
		if !isSerializationFailure(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func runTx(ctx context.Context, pool TxBeginner, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == serializationFailure
}
