package employee

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-hr/meridian-hr/internal/audit"
	"github.com/meridian-hr/meridian-hr/internal/platform/db"
)

// Repository persists employees and their version chains.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetByID(ctx context.Context, id uuid.UUID) (*Employee, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Employee, error)
	List(ctx context.Context, limit, offset int) ([]Employee, error)
	ScopeHistory(ctx context.Context, employeeID uuid.UUID) ([]ScopeVersion, error)
	CompensationHistory(ctx context.Context, employeeID uuid.UUID) ([]CompensationVersion, error)
}

// TxRepository exposes the transactional operations.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Employee, error)
	Insert(ctx context.Context, emp Employee, idempotencyKey string) error
	UpdateProfile(ctx context.Context, id uuid.UUID, expectedVersion int64, update ProfileUpdate) (*Employee, error)
	UpdateScope(ctx context.Context, id uuid.UUID, expectedVersion int64, scope ScopeType, divisionID *uuid.UUID) (*Employee, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, expectedVersion int64, status Status) (*Employee, error)
	ActiveScopeVersions(ctx context.Context, employeeID uuid.UUID) ([]ScopeVersion, error)
	CloseScopeVersion(ctx context.Context, versionID uuid.UUID, at time.Time) error
	InsertScopeVersion(ctx context.Context, v ScopeVersion) error
	ActiveCompensationVersions(ctx context.Context, employeeID uuid.UUID) ([]CompensationVersion, error)
	CloseCompensationVersion(ctx context.Context, versionID uuid.UUID, to time.Time) error
	InsertCompensationVersion(ctx context.Context, v CompensationVersion) error
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

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx, recorder: r.recorder})
	})
}

const employeeColumns = `id, code, first_name, last_name, email, status, scope_type, primary_division_id, joined_on, version, created_at, updated_at`

func scanEmployee(row pgx.Row) (*Employee, error) {
	var e Employee
	err := row.Scan(&e.ID, &e.Code, &e.FirstName, &e.LastName, &e.Email, &e.Status, &e.ScopeType, &e.PrimaryDivisionID, &e.JoinedOn, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (r *pgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Employee, error) {
	return scanEmployee(r.pool.QueryRow(ctx, `SELECT `+employeeColumns+` FROM employee WHERE id = $1`, id))
}

func (r *pgRepository) GetByIdempotencyKey(ctx context.Context, key string) (*Employee, error) {
	return scanEmployee(r.pool.QueryRow(ctx, `SELECT `+employeeColumns+` FROM employee WHERE idempotency_key = $1`, key))
}

func (r *pgRepository) List(ctx context.Context, limit, offset int) ([]Employee, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+employeeColumns+` FROM employee ORDER BY code LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var employees []Employee
	for rows.Next() {
		var e Employee
		if err := rows.Scan(&e.ID, &e.Code, &e.FirstName, &e.LastName, &e.Email, &e.Status, &e.ScopeType, &e.PrimaryDivisionID, &e.JoinedOn, &e.Version, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

const scopeVersionColumns = `id, employee_id, scope_type, division_id, effective_from, effective_to, COALESCE(reason, ''), changed_by, created_at`

func collectScopeVersions(rows pgx.Rows) ([]ScopeVersion, error) {
	defer rows.Close()
	var versions []ScopeVersion
	for rows.Next() {
		var v ScopeVersion
		if err := rows.Scan(&v.ID, &v.EmployeeID, &v.ScopeType, &v.DivisionID, &v.Window.EffectiveFrom, &v.Window.EffectiveTo, &v.Reason, &v.ChangedBy, &v.CreatedAt); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (r *pgRepository) ScopeHistory(ctx context.Context, employeeID uuid.UUID) ([]ScopeVersion, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+scopeVersionColumns+` FROM employee_scope_version WHERE employee_id = $1 ORDER BY effective_from`, employeeID)
	if err != nil {
		return nil, err
	}
	return collectScopeVersions(rows)
}

const compensationColumns = `id, employee_id, amount, currency, frequency, effective_from, effective_to, COALESCE(reason, ''), created_by, created_at`

func collectCompensationVersions(rows pgx.Rows) ([]CompensationVersion, error) {
	defer rows.Close()
	var versions []CompensationVersion
	for rows.Next() {
		var v CompensationVersion
		if err := rows.Scan(&v.ID, &v.EmployeeID, &v.Amount, &v.Currency, &v.Frequency, &v.Window.EffectiveFrom, &v.Window.EffectiveTo, &v.Reason, &v.CreatedBy, &v.CreatedAt); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (r *pgRepository) CompensationHistory(ctx context.Context, employeeID uuid.UUID) ([]CompensationVersion, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+compensationColumns+` FROM employee_compensation_version WHERE employee_id = $1 ORDER BY effective_from`, employeeID)
	if err != nil {
		return nil, err
	}
	return collectCompensationVersions(rows)
}

func (r *pgTxRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*Employee, error) {
	return scanEmployee(r.tx.QueryRow(ctx, `SELECT `+employeeColumns+` FROM employee WHERE id = $1 FOR UPDATE`, id))
}

func (r *pgTxRepository) Insert(ctx context.Context, emp Employee, idempotencyKey string) error {
	var key any
	if idempotencyKey != "" {
		key = idempotencyKey
	}
	_, err := r.tx.Exec(ctx, `
INSERT INTO employee (id, code, first_name, last_name, email, status, scope_type, primary_division_id, joined_on, version, idempotency_key, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`,
		emp.ID, emp.Code, emp.FirstName, emp.LastName, emp.Email, emp.Status, emp.ScopeType, emp.PrimaryDivisionID, emp.JoinedOn, emp.Version, key, emp.CreatedAt)
	return err
}

func (r *pgTxRepository) UpdateProfile(ctx context.Context, id uuid.UUID, expectedVersion int64, update ProfileUpdate) (*Employee, error) {
	var e Employee
	err := db.CAS(ctx, r.tx, `
UPDATE employee
SET first_name = COALESCE($3, first_name),
    last_name = COALESCE($4, last_name),
    email = COALESCE($5, email),
    version = version + 1,
    updated_at = NOW()
WHERE id = $1 AND version = $2
RETURNING `+employeeColumns,
		[]any{id, expectedVersion, update.FirstName, update.LastName, update.Email},
		&e.ID, &e.Code, &e.FirstName, &e.LastName, &e.Email, &e.Status, &e.ScopeType, &e.PrimaryDivisionID, &e.JoinedOn, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *pgTxRepository) UpdateScope(ctx context.Context, id uuid.UUID, expectedVersion int64, scope ScopeType, divisionID *uuid.UUID) (*Employee, error) {
	var e Employee
	err := db.CAS(ctx, r.tx, `
UPDATE employee
SET scope_type = $3,
    primary_division_id = $4,
    version = version + 1,
    updated_at = NOW()
WHERE id = $1 AND version = $2
RETURNING `+employeeColumns,
		[]any{id, expectedVersion, scope, divisionID},
		&e.ID, &e.Code, &e.FirstName, &e.LastName, &e.Email, &e.Status, &e.ScopeType, &e.PrimaryDivisionID, &e.JoinedOn, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *pgTxRepository) UpdateStatus(ctx context.Context, id uuid.UUID, expectedVersion int64, status Status) (*Employee, error) {
	var e Employee
	err := db.CAS(ctx, r.tx, `
UPDATE employee
SET status = $3,
    version = version + 1,
    updated_at = NOW()
WHERE id = $1 AND version = $2
RETURNING `+employeeColumns,
		[]any{id, expectedVersion, status},
		&e.ID, &e.Code, &e.FirstName, &e.LastName, &e.Email, &e.Status, &e.ScopeType, &e.PrimaryDivisionID, &e.JoinedOn, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *pgTxRepository) ActiveScopeVersions(ctx context.Context, employeeID uuid.UUID) ([]ScopeVersion, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+scopeVersionColumns+` FROM employee_scope_version WHERE employee_id = $1 AND effective_to IS NULL FOR UPDATE`, employeeID)
	if err != nil {
		return nil, err
	}
	return collectScopeVersions(rows)
}

func (r *pgTxRepository) CloseScopeVersion(ctx context.Context, versionID uuid.UUID, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE employee_scope_version SET effective_to = $2 WHERE id = $1 AND effective_to IS NULL`, versionID, at)
	return err
}

func (r *pgTxRepository) InsertScopeVersion(ctx context.Context, v ScopeVersion) error {
	_, err := r.tx.Exec(ctx, `
INSERT INTO employee_scope_version (id, employee_id, scope_type, division_id, effective_from, effective_to, reason, changed_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		v.ID, v.EmployeeID, v.ScopeType, v.DivisionID, v.Window.EffectiveFrom, v.Window.EffectiveTo, v.Reason, v.ChangedBy, v.CreatedAt)
	return err
}

func (r *pgTxRepository) ActiveCompensationVersions(ctx context.Context, employeeID uuid.UUID) ([]CompensationVersion, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+compensationColumns+` FROM employee_compensation_version WHERE employee_id = $1 AND effective_to IS NULL FOR UPDATE`, employeeID)
	if err != nil {
		return nil, err
	}
	return collectCompensationVersions(rows)
}

func (r *pgTxRepository) CloseCompensationVersion(ctx context.Context, versionID uuid.UUID, to time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE employee_compensation_version SET effective_to = $2 WHERE id = $1 AND effective_to IS NULL`, versionID, to)
	return err
}

func (r *pgTxRepository) InsertCompensationVersion(ctx context.Context, v CompensationVersion) error {
	_, err := r.tx.Exec(ctx, `
INSERT INTO employee_compensation_version (id, employee_id, amount, currency, frequency, effective_from, effective_to, reason, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		v.ID, v.EmployeeID, v.Amount, v.Currency, v.Frequency, v.Window.EffectiveFrom, v.Window.EffectiveTo, v.Reason, v.CreatedBy, v.CreatedAt)
	return err
}

func (r *pgTxRepository) Audit(ctx context.Context, entry audit.Entry) error {
	return r.recorder.Write(ctx, r.tx, entry)
}
