package payroll

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-hr/meridian-hr/internal/audit"
	"github.com/meridian-hr/meridian-hr/internal/close"
	"github.com/meridian-hr/meridian-hr/internal/platform/db"
	"github.com/meridian-hr/meridian-hr/internal/sysconfig"
)

// Repository persists payroll runs, items and payments.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]Run, error)
	ListItems(ctx context.Context, runID uuid.UUID) ([]Item, error)
	ListPayments(ctx context.Context, runID uuid.UUID) ([]Payment, error)
}

// TxRepository exposes the transactional operations.
type TxRepository interface {
	GetRunForUpdate(ctx context.Context, id uuid.UUID) (*Run, error)
	FindRunByMonth(ctx context.Context, month time.Time) (*Run, error)
	InsertRun(ctx context.Context, run Run) error
	UpdateRunState(ctx context.Context, id uuid.UUID, expectedVersion int64, status RunStatus, at time.Time) (*Run, error)
	InsertItems(ctx context.Context, items []Item) error
	InsertItem(ctx context.Context, item Item) error
	ListItems(ctx context.Context, runID uuid.UUID) ([]Item, error)
	InsertPayment(ctx context.Context, p Payment) error
	SumPaymentsByEmployee(ctx context.Context, runID uuid.UUID) (map[uuid.UUID]decimal.Decimal, error)
	ActiveCompensation(ctx context.Context, asOf time.Time) ([]CompensationRow, error)
	PayrollEnabled(ctx context.Context) (bool, error)
	ManualAdjustmentsAllowed(ctx context.Context) (bool, error)
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

const runColumns = `id, month, status, version, reviewed_at, locked_at, paid_at, created_at, created_by, updated_at`

func scanRun(row pgx.Row) (*Run, error) {
	var run Run
	err := row.Scan(&run.ID, &run.Month, &run.Status, &run.Version, &run.ReviewedAt, &run.LockedAt, &run.PaidAt,
		&run.CreatedAt, &run.CreatedBy, &run.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

func (r *pgRepository) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	return scanRun(r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM payroll_run WHERE id = $1`, id))
}

func (r *pgRepository) ListRuns(ctx context.Context, limit, offset int) ([]Run, error) {
	if limit <= 0 || limit > 100 {
		limit = 24
	}
	rows, err := r.pool.Query(ctx, `SELECT `+runColumns+` FROM payroll_run ORDER BY month DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.Month, &run.Status, &run.Version, &run.ReviewedAt, &run.LockedAt, &run.PaidAt,
			&run.CreatedAt, &run.CreatedBy, &run.UpdatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func listItems(ctx context.Context, q db.Queryer, runID uuid.UUID) ([]Item, error) {
	rows, err := q.Query(ctx, `
SELECT id, run_id, employee_id, item_type, description, amount, division_id, created_at, created_by
FROM payroll_item WHERE run_id = $1 ORDER BY employee_id, item_type, description`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.RunID, &item.EmployeeID, &item.Type, &item.Description, &item.Amount,
			&item.DivisionID, &item.CreatedAt, &item.CreatedBy); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *pgRepository) ListItems(ctx context.Context, runID uuid.UUID) ([]Item, error) {
	return listItems(ctx, r.pool, runID)
}

func (r *pgRepository) ListPayments(ctx context.Context, runID uuid.UUID) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, run_id, employee_id, amount, paid_at, COALESCE(method, ''), COALESCE(reference, ''), created_at, created_by
FROM payroll_payment WHERE run_id = $1 ORDER BY paid_at`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.RunID, &p.EmployeeID, &p.Amount, &p.PaidAt, &p.Method, &p.Reference, &p.CreatedAt, &p.CreatedBy); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *pgTxRepository) GetRunForUpdate(ctx context.Context, id uuid.UUID) (*Run, error) {
	return scanRun(r.tx.QueryRow(ctx, `SELECT `+runColumns+` FROM payroll_run WHERE id = $1 FOR UPDATE`, id))
}

func (r *pgTxRepository) FindRunByMonth(ctx context.Context, month time.Time) (*Run, error) {
	return scanRun(r.tx.QueryRow(ctx, `SELECT `+runColumns+` FROM payroll_run WHERE month = $1 FOR UPDATE`, month))
}

func (r *pgTxRepository) InsertRun(ctx context.Context, run Run) error {
	_, err := r.tx.Exec(ctx, `
INSERT INTO payroll_run (id, month, status, version, created_at, created_by, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $5)`,
		run.ID, run.Month, run.Status, run.Version, run.CreatedAt, run.CreatedBy)
	return err
}

func (r *pgTxRepository) UpdateRunState(ctx context.Context, id uuid.UUID, expectedVersion int64, status RunStatus, at time.Time) (*Run, error) {
	var run Run
	err := db.CAS(ctx, r.tx, `
UPDATE payroll_run
SET status = $3,
    reviewed_at = CASE WHEN $3 = 'REVIEWED' THEN $4 ELSE reviewed_at END,
    locked_at = CASE WHEN $3 = 'LOCKED' THEN $4 ELSE locked_at END,
    paid_at = CASE WHEN $3 = 'PAID' THEN $4 ELSE paid_at END,
    version = version + 1,
    updated_at = NOW()
WHERE id = $1 AND version = $2
RETURNING `+runColumns,
		[]any{id, expectedVersion, status, at},
		&run.ID, &run.Month, &run.Status, &run.Version, &run.ReviewedAt, &run.LockedAt, &run.PaidAt,
		&run.CreatedAt, &run.CreatedBy, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// InsertItems bulk-inserts BASE_PAY lines. The unique index on
// (run_id, employee_id, item_type, description) makes recomputation
// idempotent: lines that already exist are skipped.
func (r *pgTxRepository) InsertItems(ctx context.Context, items []Item) error {
	for _, item := range items {
		_, err := r.tx.Exec(ctx, `
INSERT INTO payroll_item (id, run_id, employee_id, item_type, description, amount, division_id, created_at, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (run_id, employee_id, item_type, description) DO NOTHING`,
			item.ID, item.RunID, item.EmployeeID, item.Type, item.Description, item.Amount, item.DivisionID, item.CreatedAt, item.CreatedBy)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *pgTxRepository) InsertItem(ctx context.Context, item Item) error {
	_, err := r.tx.Exec(ctx, `
INSERT INTO payroll_item (id, run_id, employee_id, item_type, description, amount, division_id, created_at, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		item.ID, item.RunID, item.EmployeeID, item.Type, item.Description, item.Amount, item.DivisionID, item.CreatedAt, item.CreatedBy)
	return err
}

func (r *pgTxRepository) ListItems(ctx context.Context, runID uuid.UUID) ([]Item, error) {
	return listItems(ctx, r.tx, runID)
}

func (r *pgTxRepository) InsertPayment(ctx context.Context, p Payment) error {
	_, err := r.tx.Exec(ctx, `
INSERT INTO payroll_payment (id, run_id, employee_id, amount, paid_at, method, reference, created_at, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.RunID, p.EmployeeID, p.Amount, p.PaidAt, p.Method, p.Reference, p.CreatedAt, p.CreatedBy)
	return err
}

func (r *pgTxRepository) SumPaymentsByEmployee(ctx context.Context, runID uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	rows, err := r.tx.Query(ctx, `
SELECT employee_id, SUM(amount) FROM payroll_payment WHERE run_id = $1 GROUP BY employee_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sums := make(map[uuid.UUID]decimal.Decimal)
	for rows.Next() {
		var employeeID uuid.UUID
		var sum decimal.Decimal
		if err := rows.Scan(&employeeID, &sum); err != nil {
			return nil, err
		}
		sums[employeeID] = sum
	}
	return sums, rows.Err()
}

// ActiveCompensation joins each active employee's compensation version
// in effect on asOf with the division from their placement at that
// instant. Overlapping versions surface as duplicate employee rows,
// which the calculator rejects.
func (r *pgTxRepository) ActiveCompensation(ctx context.Context, asOf time.Time) ([]CompensationRow, error) {
	rows, err := r.tx.Query(ctx, `
SELECT e.id, e.code, c.amount, c.currency, c.frequency, s.division_id
FROM employee e
JOIN employee_compensation_version c ON c.employee_id = e.id
  AND c.effective_from <= $1
  AND (c.effective_to IS NULL OR c.effective_to >= $1)
LEFT JOIN employee_scope_version s ON s.employee_id = e.id
  AND s.effective_from <= $1
  AND (s.effective_to IS NULL OR s.effective_to > $1)
WHERE e.status = 'ACTIVE'
ORDER BY e.code`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CompensationRow
	for rows.Next() {
		var row CompensationRow
		if err := rows.Scan(&row.EmployeeID, &row.Code, &row.Amount, &row.Currency, &row.Frequency, &row.DivisionID); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *pgTxRepository) PayrollEnabled(ctx context.Context) (bool, error) {
	return sysconfig.Enabled(ctx, r.tx, sysconfig.KeyPayrollEnabled)
}

func (r *pgTxRepository) ManualAdjustmentsAllowed(ctx context.Context) (bool, error) {
	return sysconfig.Enabled(ctx, r.tx, sysconfig.KeyPayrollManualAdjustments)
}

func (r *pgTxRepository) EnsureMonthOpen(ctx context.Context, day time.Time, overrideReason string) error {
	return r.guard.EnsureMonthOpen(ctx, r.tx, day, overrideReason)
}

func (r *pgTxRepository) Audit(ctx context.Context, entry audit.Entry) error {
	return r.recorder.Write(ctx, r.tx, entry)
}
