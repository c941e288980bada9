package income

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-hr/meridian-hr/internal/audit"
	"github.com/meridian-hr/meridian-hr/internal/close"
	"github.com/meridian-hr/meridian-hr/internal/platform/db"
)

// Repository persists income records and receipts.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetByID(ctx context.Context, id uuid.UUID) (*Income, error)
	List(ctx context.Context, filter ListFilter) ([]Income, error)
	ListReceipts(ctx context.Context, incomeID uuid.UUID) ([]Receipt, error)
}

// TxRepository exposes the transactional operations. The period gate
// and audit write run on the mutation's transaction.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Income, error)
	Insert(ctx context.Context, inc Income) error
	UpdateState(ctx context.Context, id uuid.UUID, expectedVersion int64, status Status, decidedBy *uuid.UUID, decisionNote string, at time.Time) (*Income, error)
	InsertReceipt(ctx context.Context, rcpt Receipt) error
	SumReceipts(ctx context.Context, incomeID uuid.UUID) (decimal.Decimal, error)
	EnsureMonthOpen(ctx context.Context, day time.Time, overrideReason string) error
	Audit(ctx context.Context, entry audit.Entry) error
}

type pgRepository struct {
	pool     *pgxpool.Pool
	recorder *audit.Recorder
	guard    *close.Guard
}

type pgTxRepository struct {
	tx       pgx.Tx
	recorder *audit.Recorder
	guard    *close.Guard
}

// NewRepository constructs the Postgres-backed Repository.
func NewRepository(pool *pgxpool.Pool, recorder *audit.Recorder, guard *close.Guard) Repository {
	return &pgRepository{pool: pool, recorder: recorder, guard: guard}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx, recorder: r.recorder, guard: r.guard})
	})
}

const incomeColumns = `id, income_date, source, COALESCE(description, ''), amount, currency, division_id, status, submitted_at, decided_at, decided_by, COALESCE(decision_note, ''), version, created_at, created_by, updated_at`

func scanIncome(row pgx.Row) (*Income, error) {
	var inc Income
	err := row.Scan(&inc.ID, &inc.IncomeDate, &inc.Source, &inc.Description, &inc.Amount, &inc.Currency,
		&inc.DivisionID, &inc.Status, &inc.SubmittedAt, &inc.DecidedAt, &inc.DecidedBy, &inc.DecisionNote,
		&inc.Version, &inc.CreatedAt, &inc.CreatedBy, &inc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &inc, nil
}

func (r *pgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Income, error) {
	return scanIncome(r.pool.QueryRow(ctx, `SELECT `+incomeColumns+` FROM income WHERE id = $1`, id))
}

func (r *pgRepository) List(ctx context.Context, filter ListFilter) ([]Income, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.DivisionID != nil {
		add("division_id = $%d", *filter.DivisionID)
	}
	if !filter.From.IsZero() {
		add("income_date >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("income_date < $%d", filter.To)
	}

	query := `SELECT ` + incomeColumns + ` FROM income`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY income_date DESC, created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []Income
	for rows.Next() {
		var inc Income
		if err := rows.Scan(&inc.ID, &inc.IncomeDate, &inc.Source, &inc.Description, &inc.Amount, &inc.Currency,
			&inc.DivisionID, &inc.Status, &inc.SubmittedAt, &inc.DecidedAt, &inc.DecidedBy, &inc.DecisionNote,
			&inc.Version, &inc.CreatedAt, &inc.CreatedBy, &inc.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, inc)
	}
	return records, rows.Err()
}

func (r *pgRepository) ListReceipts(ctx context.Context, incomeID uuid.UUID) ([]Receipt, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, income_id, amount, received_at, COALESCE(method, ''), COALESCE(reference, ''), created_at, created_by
FROM income_receipt WHERE income_id = $1 ORDER BY received_at`, incomeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var receipts []Receipt
	for rows.Next() {
		var rcpt Receipt
		if err := rows.Scan(&rcpt.ID, &rcpt.IncomeID, &rcpt.Amount, &rcpt.ReceivedAt, &rcpt.Method, &rcpt.Reference, &rcpt.CreatedAt, &rcpt.CreatedBy); err != nil {
			return nil, err
		}
		receipts = append(receipts, rcpt)
	}
	return receipts, rows.Err()
}

func (r *pgTxRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*Income, error) {
	return scanIncome(r.tx.QueryRow(ctx, `SELECT `+incomeColumns+` FROM income WHERE id = $1 FOR UPDATE`, id))
}

func (r *pgTxRepository) Insert(ctx context.Context, inc Income) error {
	_, err := r.tx.Exec(ctx, `
INSERT INTO income (id, income_date, source, description, amount, currency, division_id, status, version, created_at, created_by, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $10)`,
		inc.ID, inc.IncomeDate, inc.Source, inc.Description, inc.Amount, inc.Currency, inc.DivisionID, inc.Status, inc.Version, inc.CreatedAt, inc.CreatedBy)
	return err
}

func (r *pgTxRepository) UpdateState(ctx context.Context, id uuid.UUID, expectedVersion int64, status Status, decidedBy *uuid.UUID, decisionNote string, at time.Time) (*Income, error) {
	var inc Income
	err := db.CAS(ctx, r.tx, `
UPDATE income
SET status = $3,
    submitted_at = CASE WHEN $3 = 'SUBMITTED' THEN $6 ELSE submitted_at END,
    decided_at = CASE WHEN $3 IN ('APPROVED', 'REJECTED') THEN $6 ELSE decided_at END,
    decided_by = CASE WHEN $3 IN ('APPROVED', 'REJECTED') THEN $4 ELSE decided_by END,
    decision_note = CASE WHEN $5 <> '' THEN $5 ELSE decision_note END,
    version = version + 1,
    updated_at = NOW()
WHERE id = $1 AND version = $2
RETURNING `+incomeColumns,
		[]any{id, expectedVersion, status, decidedBy, decisionNote, at},
		&inc.ID, &inc.IncomeDate, &inc.Source, &inc.Description, &inc.Amount, &inc.Currency,
		&inc.DivisionID, &inc.Status, &inc.SubmittedAt, &inc.DecidedAt, &inc.DecidedBy, &inc.DecisionNote,
		&inc.Version, &inc.CreatedAt, &inc.CreatedBy, &inc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

func (r *pgTxRepository) InsertReceipt(ctx context.Context, rcpt Receipt) error {
	_, err := r.tx.Exec(ctx, `
INSERT INTO income_receipt (id, income_id, amount, received_at, method, reference, created_at, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rcpt.ID, rcpt.IncomeID, rcpt.Amount, rcpt.ReceivedAt, rcpt.Method, rcpt.Reference, rcpt.CreatedAt, rcpt.CreatedBy)
	return err
}

func (r *pgTxRepository) SumReceipts(ctx context.Context, incomeID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM income_receipt WHERE income_id = $1`, incomeID).Scan(&sum)
	return sum, err
}

func (r *pgTxRepository) EnsureMonthOpen(ctx context.Context, day time.Time, overrideReason string) error {
	return r.guard.EnsureMonthOpen(ctx, r.tx, day, overrideReason)
}

func (r *pgTxRepository) Audit(ctx context.Context, entry audit.Entry) error {
	return r.recorder.Write(ctx, r.tx, entry)
}
