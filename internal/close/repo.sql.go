package close

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-hr/meridian-hr/internal/audit"
	"github.com/meridian-hr/meridian-hr/internal/platform/db"
)

// Repository persists month close state.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Latest(ctx context.Context, month time.Time, scope Scope) (*Record, error)
	ListRecords(ctx context.Context, limit, offset int) ([]Record, error)
	GetSnapshot(ctx context.Context, month time.Time, scope Scope, version int) (*Snapshot, error)
	ListAdjustments(ctx context.Context, targetMonth time.Time) ([]Adjustment, error)
	Totals(ctx context.Context, month time.Time) (Totals, error)
	BlockingIssues(ctx context.Context, month time.Time) ([]Issue, error)
}

// TxRepository exposes the transactional operations used while closing
// a month or appending an adjustment. Guard checks, aggregation,
// snapshot and audit writes all ride the same transaction.
type TxRepository interface {
	LatestForUpdate(ctx context.Context, month time.Time, scope Scope) (*Record, error)
	InsertRecord(ctx context.Context, rec Record) error
	GetSnapshot(ctx context.Context, month time.Time, scope Scope, version int) (*Snapshot, error)
	InsertSnapshot(ctx context.Context, snap Snapshot) error
	InsertAdjustment(ctx context.Context, adj Adjustment) error
	Totals(ctx context.Context, month time.Time) (Totals, error)
	BlockingIssues(ctx context.Context, month time.Time) ([]Issue, error)
	EnsureMonthOpen(ctx context.Context, day time.Time, overrideReason string) error
	Audit(ctx context.Context, entry audit.Entry) error
}

type pgRepository struct {
	pool     *pgxpool.Pool
	recorder *audit.Recorder
}

type pgTxRepository struct {
	tx       pgx.Tx
	recorder *audit.Recorder
}

// NewRepository constructs the Postgres-backed Repository.
func NewRepository(pool *pgxpool.Pool, recorder *audit.Recorder) Repository {
	return &pgRepository{pool: pool, recorder: recorder}
}

// WithTx executes fn within a repeatable-read transaction, replaying
// on serialization failures.
func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("close: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx, recorder: r.recorder})
	})
}

const latestRecordSQL = `
SELECT id, month, scope, status, COALESCE(reason, ''), closed_at, closed_by, created_at
FROM month_close
WHERE month = $1 AND scope = $2
ORDER BY created_at DESC, id DESC
LIMIT 1`

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.Month, &rec.Scope, &rec.Status, &rec.Reason, &rec.ClosedAt, &rec.ClosedBy, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (r *pgRepository) Latest(ctx context.Context, month time.Time, scope Scope) (*Record, error) {
	return scanRecord(r.pool.QueryRow(ctx, latestRecordSQL, MonthOf(month), scope))
}

func (r *pgTxRepository) LatestForUpdate(ctx context.Context, month time.Time, scope Scope) (*Record, error) {
	return scanRecord(r.tx.QueryRow(ctx, latestRecordSQL+` FOR UPDATE`, MonthOf(month), scope))
}

func (r *pgRepository) ListRecords(ctx context.Context, limit, offset int) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, month, scope, status, COALESCE(reason, ''), closed_at, closed_by, created_at
FROM month_close
ORDER BY month DESC, created_at DESC
LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Month, &rec.Scope, &rec.Status, &rec.Reason, &rec.ClosedAt, &rec.ClosedBy, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *pgTxRepository) InsertRecord(ctx context.Context, rec Record) error {
	_, err := r.tx.Exec(ctx, `
INSERT INTO month_close (id, month, scope, status, reason, closed_at, closed_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, MonthOf(rec.Month), rec.Scope, rec.Status, rec.Reason, rec.ClosedAt, rec.ClosedBy, rec.CreatedAt)
	return err
}

const snapshotSQL = `
SELECT id, month, scope, snapshot_version, total_income, total_expense, total_payroll, net_profit_loss, by_division, payroll_runs, created_at, created_by
FROM month_snapshot
WHERE month = $1 AND scope = $2 AND snapshot_version = $3`

func scanSnapshot(row pgx.Row) (*Snapshot, error) {
	var snap Snapshot
	err := row.Scan(&snap.ID, &snap.Month, &snap.Scope, &snap.SnapshotVersion,
		&snap.Totals.TotalIncome, &snap.Totals.TotalExpense, &snap.Totals.TotalPayroll, &snap.Totals.NetProfitLoss,
		&snap.Totals.ByDivision, &snap.Totals.PayrollRuns, &snap.CreatedAt, &snap.CreatedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &snap, nil
}

func (r *pgRepository) GetSnapshot(ctx context.Context, month time.Time, scope Scope, version int) (*Snapshot, error) {
	return scanSnapshot(r.pool.QueryRow(ctx, snapshotSQL, MonthOf(month), scope, version))
}

func (r *pgTxRepository) GetSnapshot(ctx context.Context, month time.Time, scope Scope, version int) (*Snapshot, error) {
	return scanSnapshot(r.tx.QueryRow(ctx, snapshotSQL, MonthOf(month), scope, version))
}

func (r *pgTxRepository) InsertSnapshot(ctx context.Context, snap Snapshot) error {
	_, err := r.tx.Exec(ctx, `
INSERT INTO month_snapshot (id, month, scope, snapshot_version, total_income, total_expense, total_payroll, net_profit_loss, by_division, payroll_runs, created_at, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		snap.ID, MonthOf(snap.Month), snap.Scope, snap.SnapshotVersion,
		snap.Totals.TotalIncome, snap.Totals.TotalExpense, snap.Totals.TotalPayroll, snap.Totals.NetProfitLoss,
		snap.Totals.ByDivision, snap.Totals.PayrollRuns, snap.CreatedAt, snap.CreatedBy)
	return err
}

func (r *pgTxRepository) InsertAdjustment(ctx context.Context, adj Adjustment) error {
	_, err := r.tx.Exec(ctx, `
INSERT INTO month_adjustment (id, target_month, adjustment_date, target_type, target_id, direction, amount, reason, created_at, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		adj.ID, MonthOf(adj.TargetMonth), adj.AdjustmentDate, adj.TargetType, adj.TargetID, adj.Direction, adj.Amount, adj.Reason, adj.CreatedAt, adj.CreatedBy)
	return err
}

func (r *pgRepository) ListAdjustments(ctx context.Context, targetMonth time.Time) ([]Adjustment, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, target_month, adjustment_date, target_type, target_id, direction, amount, reason, created_at, created_by
FROM month_adjustment
WHERE target_month = $1
ORDER BY created_at ASC`, MonthOf(targetMonth))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var adjustments []Adjustment
	for rows.Next() {
		var adj Adjustment
		if err := rows.Scan(&adj.ID, &adj.TargetMonth, &adj.AdjustmentDate, &adj.TargetType, &adj.TargetID, &adj.Direction, &adj.Amount, &adj.Reason, &adj.CreatedAt, &adj.CreatedBy); err != nil {
			return nil, err
		}
		adjustments = append(adjustments, adj)
	}
	return adjustments, rows.Err()
}

func (r *pgRepository) Totals(ctx context.Context, month time.Time) (Totals, error) {
	return aggregateTotals(ctx, r.pool, month)
}

func (r *pgTxRepository) Totals(ctx context.Context, month time.Time) (Totals, error) {
	return aggregateTotals(ctx, r.tx, month)
}

func (r *pgRepository) BlockingIssues(ctx context.Context, month time.Time) ([]Issue, error) {
	return blockingIssues(ctx, r.pool, month)
}

func (r *pgTxRepository) BlockingIssues(ctx context.Context, month time.Time) ([]Issue, error) {
	return blockingIssues(ctx, r.tx, month)
}

func (r *pgTxRepository) EnsureMonthOpen(ctx context.Context, day time.Time, overrideReason string) error {
	return NewGuard().EnsureMonthOpen(ctx, r.tx, day, overrideReason)
}

func (r *pgTxRepository) Audit(ctx context.Context, entry audit.Entry) error {
	return r.recorder.Write(ctx, r.tx, entry)
}

// Statuses that count toward a month's frozen totals. Anything earlier
// in the lifecycle is still in flight and blocks the close instead.
const (
	settledExpenseStatuses = `('APPROVED', 'PARTIALLY_PAID', 'PAID', 'CLOSED')`
	settledIncomeStatuses  = `('APPROVED', 'PARTIALLY_PAID', 'PAID', 'CLOSED')`
	settledRunStatuses     = `('LOCKED', 'PAID', 'CLOSED')`
)

// aggregateTotals computes the month's financial summary. The close
// path and the preview path both call this, so a preview shows exactly
// what a close would freeze.
func aggregateTotals(ctx context.Context, q db.Queryer, month time.Time) (Totals, error) {
	start := MonthOf(month)
	end := NextMonth(start)

	var totals Totals
	err := q.QueryRow(ctx, `
SELECT
  COALESCE((SELECT SUM(amount) FROM income WHERE income_date >= $1 AND income_date < $2 AND status IN `+settledIncomeStatuses+`), 0),
  COALESCE((SELECT SUM(amount) FROM expense WHERE expense_date >= $1 AND expense_date < $2 AND status IN `+settledExpenseStatuses+`), 0),
  COALESCE((SELECT SUM(i.amount) FROM payroll_item i JOIN payroll_run r ON r.id = i.run_id WHERE r.month = $1 AND r.status IN `+settledRunStatuses+`
           AND i.item_type IN ('BASE_PAY', 'ALLOWANCE', 'BONUS', 'ADJUSTMENT')), 0)
  - COALESCE((SELECT SUM(i.amount) FROM payroll_item i JOIN payroll_run r ON r.id = i.run_id WHERE r.month = $1 AND r.status IN `+settledRunStatuses+`
           AND i.item_type = 'DEDUCTION'), 0)`,
		start, end).Scan(&totals.TotalIncome, &totals.TotalExpense, &totals.TotalPayroll)
	if err != nil {
		return Totals{}, err
	}
	totals.NetProfitLoss = totals.TotalIncome.Sub(totals.TotalExpense).Sub(totals.TotalPayroll)

	rows, err := q.Query(ctx, `
SELECT division_id, SUM(amount)
FROM expense
WHERE expense_date >= $1 AND expense_date < $2 AND status IN `+settledExpenseStatuses+`
GROUP BY division_id
ORDER BY division_id NULLS FIRST`, start, end)
	if err != nil {
		return Totals{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var dt DivisionTotal
		if err := rows.Scan(&dt.DivisionID, &dt.Total); err != nil {
			return Totals{}, err
		}
		totals.ByDivision = append(totals.ByDivision, dt)
	}
	if err := rows.Err(); err != nil {
		return Totals{}, err
	}

	runRows, err := q.Query(ctx, `
SELECT r.id,
  COALESCE(SUM(i.amount) FILTER (WHERE i.item_type IN ('BASE_PAY', 'ALLOWANCE', 'BONUS', 'ADJUSTMENT')), 0)
  - COALESCE(SUM(i.amount) FILTER (WHERE i.item_type = 'DEDUCTION'), 0)
FROM payroll_run r
LEFT JOIN payroll_item i ON i.run_id = r.id
WHERE r.month = $1 AND r.status IN `+settledRunStatuses+`
GROUP BY r.id
ORDER BY r.id`, start)
	if err != nil {
		return Totals{}, err
	}
	defer runRows.Close()
	for runRows.Next() {
		var rt RunTotal
		if err := runRows.Scan(&rt.RunID, &rt.Total); err != nil {
			return Totals{}, err
		}
		totals.PayrollRuns = append(totals.PayrollRuns, rt)
	}
	return totals, runRows.Err()
}

func blockingIssues(ctx context.Context, q db.Queryer, month time.Time) ([]Issue, error) {
	start := MonthOf(month)
	end := NextMonth(start)

	var pendingExpenses, pendingIncomes, unlockedRuns int
	err := q.QueryRow(ctx, `
SELECT
  (SELECT COUNT(*) FROM expense WHERE expense_date >= $1 AND expense_date < $2 AND status IN ('DRAFT', 'SUBMITTED')),
  (SELECT COUNT(*) FROM income WHERE income_date >= $1 AND income_date < $2 AND status IN ('DRAFT', 'SUBMITTED')),
  (SELECT COUNT(*) FROM payroll_run WHERE month = $1 AND status IN ('DRAFT', 'REVIEWED'))`,
		start, end).Scan(&pendingExpenses, &pendingIncomes, &unlockedRuns)
	if err != nil {
		return nil, err
	}

	var issues []Issue
	if pendingExpenses > 0 {
		issues = append(issues, Issue{Code: IssuePendingExpenseApprovals, Count: pendingExpenses})
	}
	if pendingIncomes > 0 {
		issues = append(issues, Issue{Code: IssuePendingIncomeApprovals, Count: pendingIncomes})
	}
	if unlockedRuns > 0 {
		issues = append(issues, Issue{Code: IssueUnlockedPayrollRun, Count: unlockedRuns})
	}
	return issues, nil
}
