package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Queryer is the query surface shared by pgxpool.Pool and pgx.Tx. Code
// that must run either standalone or inside a caller's transaction
// takes a Queryer instead of a concrete handle.
type Queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ErrVersionConflict reports that a conditional update matched zero
// rows: the row's version moved since the caller read it.
var ErrVersionConflict = errors.New("db: version conflict")

// CAS runs a compare-and-swap style UPDATE that carries a
// `WHERE ... AND version = $n ... RETURNING ...` clause and scans the
// returned row into dest. Zero matched rows map to ErrVersionConflict.
// Callers surface the conflict to the client; there is no retry here.
func CAS(ctx context.Context, q Queryer, sql string, args []any, dest ...any) error {
	if err := q.QueryRow(ctx, sql, args...).Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrVersionConflict
		}
		return err
	}
	return nil
}

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
