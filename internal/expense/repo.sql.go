package expense

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
	"github.com/meridian-hr/meridian-hr/internal/sysconfig"
)

// Repository persists expenses, payments and categories.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetByID(ctx context.Context, id uuid.UUID) (*Expense, error)
	List(ctx context.Context, filter ListFilter) ([]Expense, error)
	ListPayments(ctx context.Context, expenseID uuid.UUID) ([]Payment, error)
	ListCategories(ctx context.Context) ([]Category, error)
}

// TxRepository exposes the transactional operations. The period gate
// and the audit write run on the same transaction as the mutation.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Expense, error)
	Insert(ctx context.Context, e Expense) error
	UpdateDraft(ctx context.Context, id uuid.UUID, expectedVersion int64, update DraftUpdate) (*Expense, error)
	UpdateState(ctx context.Context, id uuid.UUID, expectedVersion int64, status Status, decidedBy *uuid.UUID, decisionNote string, at time.Time) (*Expense, error)
	InsertPayment(ctx context.Context, p Payment) error
	SumPayments(ctx context.Context, expenseID uuid.UUID) (decimal.Decimal, error)
	InsertCategory(ctx context.Context, c Category) error
	UpdateCategory(ctx context.Context, id uuid.UUID, expectedVersion int64, name string, isActive bool) (*Category, error)
	Flags(ctx context.Context) (sysconfig.ExpenseFlags, error)
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

const expenseColumns = `id, expense_date, category_id, title, COALESCE(description, ''), amount, currency, division_id, COALESCE(vendor_name, ''), is_reimbursement, employee_id, status, submitted_at, decided_at, decided_by, COALESCE(decision_note, ''), version, created_at, created_by, updated_at`

func scanExpense(row pgx.Row) (*Expense, error) {
	var e Expense
	err := row.Scan(&e.ID, &e.ExpenseDate, &e.CategoryID, &e.Title, &e.Description, &e.Amount, &e.Currency,
		&e.DivisionID, &e.VendorName, &e.IsReimbursement, &e.EmployeeID, &e.Status,
		&e.SubmittedAt, &e.DecidedAt, &e.DecidedBy, &e.DecisionNote, &e.Version, &e.CreatedAt, &e.CreatedBy, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (r *pgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Expense, error) {
	return scanExpense(r.pool.QueryRow(ctx, `SELECT `+expenseColumns+` FROM expense WHERE id = $1`, id))
}

func (r *pgRepository) List(ctx context.Context, filter ListFilter) ([]Expense, error) {
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
		add("expense_date >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("expense_date < $%d", filter.To)
	}

	query := `SELECT ` + expenseColumns + ` FROM expense`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY expense_date DESC, created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var expenses []Expense
	for rows.Next() {
		var e Expense
		if err := rows.Scan(&e.ID, &e.ExpenseDate, &e.CategoryID, &e.Title, &e.Description, &e.Amount, &e.Currency,
			&e.DivisionID, &e.VendorName, &e.IsReimbursement, &e.EmployeeID, &e.Status,
			&e.SubmittedAt, &e.DecidedAt, &e.DecidedBy, &e.DecisionNote, &e.Version, &e.CreatedAt, &e.CreatedBy, &e.UpdatedAt); err != nil {
			return nil, err
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

func (r *pgRepository) ListPayments(ctx context.Context, expenseID uuid.UUID) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, expense_id, amount, paid_at, COALESCE(method, ''), COALESCE(reference, ''), created_at, created_by
FROM expense_payment WHERE expense_id = $1 ORDER BY paid_at`, expenseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var payments []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.ExpenseID, &p.Amount, &p.PaidAt, &p.Method, &p.Reference, &p.CreatedAt, &p.CreatedBy); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *pgRepository) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, is_active, version, created_at, updated_at FROM expense_category ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var categories []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.IsActive, &c.Version, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (r *pgTxRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*Expense, error) {
	return scanExpense(r.tx.QueryRow(ctx, `SELECT `+expenseColumns+` FROM expense WHERE id = $1 FOR UPDATE`, id))
}

func (r *pgTxRepository) Insert(ctx context.Context, e Expense) error {
	_, err := r.tx.Exec(ctx, `
INSERT INTO expense (id, expense_date, category_id, title, description, amount, currency, division_id, vendor_name, is_reimbursement, employee_id, status, version, created_at, created_by, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $14)`,
		e.ID, e.ExpenseDate, e.CategoryID, e.Title, e.Description, e.Amount, e.Currency, e.DivisionID, e.VendorName, e.IsReimbursement, e.EmployeeID, e.Status, e.Version, e.CreatedAt, e.CreatedBy)
	return err
}

func (r *pgTxRepository) UpdateDraft(ctx context.Context, id uuid.UUID, expectedVersion int64, update DraftUpdate) (*Expense, error) {
	var e Expense
	err := db.CAS(ctx, r.tx, `
UPDATE expense
SET expense_date = COALESCE($3, expense_date),
    category_id = COALESCE($4, category_id),
    title = COALESCE($5, title),
    description = COALESCE($6, description),
    amount = COALESCE($7, amount),
    vendor_name = COALESCE($8, vendor_name),
    version = version + 1,
    updated_at = NOW()
WHERE id = $1 AND version = $2 AND status = 'DRAFT'
RETURNING `+expenseColumns,
		[]any{id, expectedVersion, update.ExpenseDate, update.CategoryID, update.Title, update.Description, update.Amount, update.VendorName},
		&e.ID, &e.ExpenseDate, &e.CategoryID, &e.Title, &e.Description, &e.Amount, &e.Currency,
		&e.DivisionID, &e.VendorName, &e.IsReimbursement, &e.EmployeeID, &e.Status,
		&e.SubmittedAt, &e.DecidedAt, &e.DecidedBy, &e.DecisionNote, &e.Version, &e.CreatedAt, &e.CreatedBy, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *pgTxRepository) UpdateState(ctx context.Context, id uuid.UUID, expectedVersion int64, status Status, decidedBy *uuid.UUID, decisionNote string, at time.Time) (*Expense, error) {
	var e Expense
	err := db.CAS(ctx, r.tx, `
UPDATE expense
SET status = $3,
    submitted_at = CASE WHEN $3 = 'SUBMITTED' THEN $6 ELSE submitted_at END,
    decided_at = CASE WHEN $3 IN ('APPROVED', 'REJECTED') THEN $6 ELSE decided_at END,
    decided_by = CASE WHEN $3 IN ('APPROVED', 'REJECTED') THEN $4 ELSE decided_by END,
    decision_note = CASE WHEN $5 <> '' THEN $5 ELSE decision_note END,
    version = version + 1,
    updated_at = NOW()
WHERE id = $1 AND version = $2
RETURNING `+expenseColumns,
		[]any{id, expectedVersion, status, decidedBy, decisionNote, at},
		&e.ID, &e.ExpenseDate, &e.CategoryID, &e.Title, &e.Description, &e.Amount, &e.Currency,
		&e.DivisionID, &e.VendorName, &e.IsReimbursement, &e.EmployeeID, &e.Status,
		&e.SubmittedAt, &e.DecidedAt, &e.DecidedBy, &e.DecisionNote, &e.Version, &e.CreatedAt, &e.CreatedBy, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *pgTxRepository) InsertPayment(ctx context.Context, p Payment) error {
	_, err := r.tx.Exec(ctx, `
INSERT INTO expense_payment (id, expense_id, amount, paid_at, method, reference, created_at, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.ExpenseID, p.Amount, p.PaidAt, p.Method, p.Reference, p.CreatedAt, p.CreatedBy)
	return err
}

func (r *pgTxRepository) SumPayments(ctx context.Context, expenseID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM expense_payment WHERE expense_id = $1`, expenseID).Scan(&sum)
	return sum, err
}

func (r *pgTxRepository) InsertCategory(ctx context.Context, c Category) error {
	_, err := r.tx.Exec(ctx, `
INSERT INTO expense_category (id, name, is_active, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)`, c.ID, c.Name, c.IsActive, c.Version, c.CreatedAt)
	return err
}

func (r *pgTxRepository) UpdateCategory(ctx context.Context, id uuid.UUID, expectedVersion int64, name string, isActive bool) (*Category, error) {
	var c Category
	err := db.CAS(ctx, r.tx, `
UPDATE expense_category
SET name = $3, is_active = $4, version = version + 1, updated_at = NOW()
WHERE id = $1 AND version = $2
RETURNING id, name, is_active, version, created_at, updated_at`,
		[]any{id, expectedVersion, name, isActive},
		&c.ID, &c.Name, &c.IsActive, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *pgTxRepository) Flags(ctx context.Context) (sysconfig.ExpenseFlags, error) {
	return sysconfig.LoadExpenseFlags(ctx, r.tx)
}

func (r *pgTxRepository) EnsureMonthOpen(ctx context.Context, day time.Time, overrideReason string) error {
	return r.guard.EnsureMonthOpen(ctx, r.tx, day, overrideReason)
}

func (r *pgTxRepository) Audit(ctx context.Context, entry audit.Entry) error {
	return r.recorder.Write(ctx, r.tx, entry)
}
