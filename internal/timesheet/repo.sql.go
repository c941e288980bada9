package timesheet

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-hr/meridian-hr/internal/audit"
	"github.com/meridian-hr/meridian-hr/internal/close"
	"github.com/meridian-hr/meridian-hr/internal/platform/db"
)

// Repository persists timesheet headers and worklogs.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetHeader(ctx context.Context, id uuid.UUID) (*Header, error)
	FindHeader(ctx context.Context, employeeID uuid.UUID, month time.Time) (*Header, error)
	ListWorklogs(ctx context.Context, headerID uuid.UUID) ([]Worklog, error)
}

// TxRepository exposes the transactional operations.
type TxRepository interface {
	GetHeaderForUpdate(ctx context.Context, id uuid.UUID) (*Header, error)
	FindHeaderForUpdate(ctx context.Context, employeeID uuid.UUID, month time.Time) (*Header, error)
	InsertHeader(ctx context.Context, h Header) error
	UpdateHeaderState(ctx context.Context, id uuid.UUID, expectedVersion int64, status Status, decidedBy *uuid.UUID, at time.Time) (*Header, error)
	InsertWorklog(ctx context.Context, w Worklog) error
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

const headerColumns = `id, employee_id, month, status, version, submitted_at, decided_at, decided_by, created_at, updated_at`

func scanHeader(row pgx.Row) (*Header, error) {
	var h Header
	err := row.Scan(&h.ID, &h.EmployeeID, &h.Month, &h.Status, &h.Version, &h.SubmittedAt, &h.DecidedAt, &h.DecidedBy,
		&h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &h, nil
}

func (r *pgRepository) GetHeader(ctx context.Context, id uuid.UUID) (*Header, error) {
	return scanHeader(r.pool.QueryRow(ctx, `SELECT `+headerColumns+` FROM timesheet_header WHERE id = $1`, id))
}

func (r *pgRepository) FindHeader(ctx context.Context, employeeID uuid.UUID, month time.Time) (*Header, error) {
	return scanHeader(r.pool.QueryRow(ctx,
		`SELECT `+headerColumns+` FROM timesheet_header WHERE employee_id = $1 AND month = $2`, employeeID, month))
}

func (r *pgRepository) ListWorklogs(ctx context.Context, headerID uuid.UUID) ([]Worklog, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id, header_id, work_date, hours, COALESCE(note, ''), created_at
FROM timesheet_worklog WHERE header_id = $1 ORDER BY work_date`, headerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []Worklog
	for rows.Next() {
		var w Worklog
		if err := rows.Scan(&w.ID, &w.HeaderID, &w.WorkDate, &w.Hours, &w.Note, &w.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, w)
	}
	return logs, rows.Err()
}

func (r *pgTxRepository) GetHeaderForUpdate(ctx context.Context, id uuid.UUID) (*Header, error) {
	return scanHeader(r.tx.QueryRow(ctx, `SELECT `+headerColumns+` FROM timesheet_header WHERE id = $1 FOR UPDATE`, id))
}

func (r *pgTxRepository) FindHeaderForUpdate(ctx context.Context, employeeID uuid.UUID, month time.Time) (*Header, error) {
	return scanHeader(r.tx.QueryRow(ctx,
		`SELECT `+headerColumns+` FROM timesheet_header WHERE employee_id = $1 AND month = $2 FOR UPDATE`, employeeID, month))
}

func (r *pgTxRepository) InsertHeader(ctx context.Context, h Header) error {
	_, err := r.tx.Exec(ctx, `
INSERT INTO timesheet_header (id, employee_id, month, status, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		h.ID, h.EmployeeID, h.Month, h.Status, h.Version, h.CreatedAt)
	return err
}

func (r *pgTxRepository) UpdateHeaderState(ctx context.Context, id uuid.UUID, expectedVersion int64, status Status, decidedBy *uuid.UUID, at time.Time) (*Header, error) {
	var h Header
	err := db.CAS(ctx, r.tx, `
UPDATE timesheet_header
SET status = $3,
    submitted_at = CASE WHEN $3 = 'SUBMITTED' THEN $5 ELSE submitted_at END,
    decided_at = CASE WHEN $3 = 'APPROVED' THEN $5 ELSE decided_at END,
    decided_by = CASE WHEN $3 = 'APPROVED' THEN $4 ELSE decided_by END,
    version = version + 1,
    updated_at = NOW()
WHERE id = $1 AND version = $2
RETURNING `+headerColumns,
		[]any{id, expectedVersion, status, decidedBy, at},
		&h.ID, &h.EmployeeID, &h.Month, &h.Status, &h.Version, &h.SubmittedAt, &h.DecidedAt, &h.DecidedBy,
		&h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *pgTxRepository) InsertWorklog(ctx context.Context, w Worklog) error {
	_, err := r.tx.Exec(ctx, `
INSERT INTO timesheet_worklog (id, header_id, work_date, hours, note, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		w.ID, w.HeaderID, w.WorkDate, w.Hours, w.Note, w.CreatedAt)
	return err
}

func (r *pgTxRepository) EnsureMonthOpen(ctx context.Context, day time.Time, overrideReason string) error {
	return r.guard.EnsureMonthOpen(ctx, r.tx, day, overrideReason)
}

func (r *pgTxRepository) Audit(ctx context.Context, entry audit.Entry) error {
	return r.recorder.Write(ctx, r.tx, entry)
}
