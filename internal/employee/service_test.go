package employee

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-hr/meridian-hr/internal/audit"
	"github.com/meridian-hr/meridian-hr/internal/platform/db"
	"github.com/meridian-hr/meridian-hr/internal/shared"
	"github.com/meridian-hr/meridian-hr/internal/temporal"
)

type memRepository struct {
	employees     map[uuid.UUID]*Employee
	byKey         map[string]uuid.UUID
	scopes        []ScopeVersion
	compensations []CompensationVersion
	audits        []audit.Entry
}

func newMemRepository() *memRepository {
	return &memRepository{
		employees: make(map[uuid.UUID]*Employee),
		byKey:     make(map[string]uuid.UUID),
	}
}

type memTx struct{ repo *memRepository }

func (m *memRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	// Direct apply: the service tests below assert outcomes, the
	// rollback path is covered by the close package tests.
	return fn(ctx, &memTx{repo: m})
}

func (m *memRepository) GetByID(_ context.Context, id uuid.UUID) (*Employee, error) {
	if emp, ok := m.employees[id]; ok {
		cp := *emp
		return &cp, nil
	}
	return nil, nil
}

func (m *memRepository) GetByIdempotencyKey(_ context.Context, key string) (*Employee, error) {
	if id, ok := m.byKey[key]; ok {
		cp := *m.employees[id]
		return &cp, nil
	}
	return nil, nil
}

func (m *memRepository) List(_ context.Context, limit, offset int) ([]Employee, error) {
	var out []Employee
	for _, emp := range m.employees {
		out = append(out, *emp)
	}
	return out, nil
}

func (m *memRepository) ScopeHistory(_ context.Context, employeeID uuid.UUID) ([]ScopeVersion, error) {
	var out []ScopeVersion
	for _, v := range m.scopes {
		if v.EmployeeID == employeeID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *memRepository) CompensationHistory(_ context.Context, employeeID uuid.UUID) ([]CompensationVersion, error) {
	var out []CompensationVersion
	for _, v := range m.compensations {
		if v.EmployeeID == employeeID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (t *memTx) GetForUpdate(ctx context.Context, id uuid.UUID) (*Employee, error) {
	return t.repo.GetByID(ctx, id)
}

func (t *memTx) Insert(_ context.Context, emp Employee, idempotencyKey string) error {
	for _, existing := range t.repo.employees {
		if existing.Code == emp.Code {
			return &pgconn.PgError{Code: "23505", ConstraintName: "employee_code_key"}
		}
	}
	cp := emp
	t.repo.employees[emp.ID] = &cp
	if idempotencyKey != "" {
		t.repo.byKey[idempotencyKey] = emp.ID
	}
	return nil
}

func (t *memTx) cas(id uuid.UUID, expectedVersion int64) (*Employee, error) {
	emp, ok := t.repo.employees[id]
	if !ok || emp.Version != expectedVersion {
		return nil, db.ErrVersionConflict
	}
	return emp, nil
}

func (t *memTx) UpdateProfile(_ context.Context, id uuid.UUID, expectedVersion int64, update ProfileUpdate) (*Employee, error) {
	emp, err := t.cas(id, expectedVersion)
	if err != nil {
		return nil, err
	}
	if update.FirstName != nil {
		emp.FirstName = *update.FirstName
	}
	if update.LastName != nil {
		emp.LastName = *update.LastName
	}
	if update.Email != nil {
		emp.Email = *update.Email
	}
	emp.Version++
	cp := *emp
	return &cp, nil
}

func (t *memTx) UpdateScope(_ context.Context, id uuid.UUID, expectedVersion int64, scope ScopeType, divisionID *uuid.UUID) (*Employee, error) {
	emp, err := t.cas(id, expectedVersion)
	if err != nil {
		return nil, err
	}
	emp.ScopeType = scope
	emp.PrimaryDivisionID = divisionID
	emp.Version++
	cp := *emp
	return &cp, nil
}

func (t *memTx) UpdateStatus(_ context.Context, id uuid.UUID, expectedVersion int64, status Status) (*Employee, error) {
	emp, err := t.cas(id, expectedVersion)
	if err != nil {
		return nil, err
	}
	emp.Status = status
	emp.Version++
	cp := *emp
	return &cp, nil
}

func (t *memTx) ActiveScopeVersions(_ context.Context, employeeID uuid.UUID) ([]ScopeVersion, error) {
	var out []ScopeVersion
	for _, v := range t.repo.scopes {
		if v.EmployeeID == employeeID && v.Window.Open() {
			out = append(out, v)
		}
	}
	return out, nil
}

func (t *memTx) CloseScopeVersion(_ context.Context, versionID uuid.UUID, at time.Time) error {
	for i := range t.repo.scopes {
		if t.repo.scopes[i].ID == versionID && t.repo.scopes[i].Window.Open() {
			at := at
			t.repo.scopes[i].Window.EffectiveTo = &at
		}
	}
	return nil
}

func (t *memTx) InsertScopeVersion(_ context.Context, v ScopeVersion) error {
	t.repo.scopes = append(t.repo.scopes, v)
	return nil
}

func (t *memTx) ActiveCompensationVersions(_ context.Context, employeeID uuid.UUID) ([]CompensationVersion, error) {
	var out []CompensationVersion
	for _, v := range t.repo.compensations {
		if v.EmployeeID == employeeID && v.Window.Open() {
			out = append(out, v)
		}
	}
	return out, nil
}

func (t *memTx) CloseCompensationVersion(_ context.Context, versionID uuid.UUID, to time.Time) error {
	for i := range t.repo.compensations {
		if t.repo.compensations[i].ID == versionID && t.repo.compensations[i].Window.Open() {
			to := to
			t.repo.compensations[i].Window.EffectiveTo = &to
		}
	}
	return nil
}

func (t *memTx) InsertCompensationVersion(_ context.Context, v CompensationVersion) error {
	t.repo.compensations = append(t.repo.compensations, v)
	return nil
}

func (t *memTx) Audit(_ context.Context, entry audit.Entry) error {
	t.repo.audits = append(t.repo.audits, entry)
	return nil
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func newTestService(repo *memRepository) *Service {
	svc := NewService(repo)
	svc.WithNow(func() time.Time {
		return time.Date(2025, time.February, 10, 9, 0, 0, 0, time.UTC)
	})
	return svc
}

func createEmployee(t *testing.T, svc *Service, key string) Employee {
	t.Helper()
	emp, err := svc.Create(context.Background(), CreateInput{
		IdempotencyKey: key,
		Code:           "EMP-001",
		FirstName:      "Priya",
		LastName:       "Sharma",
		Email:          "priya@example.com",
		ScopeType:      ScopeCompany,
		JoinedOn:       time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return emp
}

func TestCreateIdempotent(t *testing.T) {
	repo := newMemRepository()
	svc := newTestService(repo)

	first := createEmployee(t, svc, "req-123")
	second, err := svc.Create(context.Background(), CreateInput{
		IdempotencyKey: "req-123",
		Code:           "EMP-002",
		FirstName:      "Other",
		ScopeType:      ScopeCompany,
		JoinedOn:       time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Len(t, repo.employees, 1)
	require.Len(t, repo.audits, 1)
}

func TestCreateDuplicateCodeConflicts(t *testing.T) {
	repo := newMemRepository()
	svc := newTestService(repo)
	createEmployee(t, svc, "")

	_, err := svc.Create(context.Background(), CreateInput{
		Code:      "EMP-001",
		FirstName: "Dup",
		ScopeType: ScopeCompany,
		JoinedOn:  time.Now(),
	})
	require.Equal(t, shared.KindConflict, shared.KindOf(err))
}

func TestChangeScopeNoOpWhenIdentical(t *testing.T) {
	repo := newMemRepository()
	svc := newTestService(repo)
	emp := createEmployee(t, svc, "")

	result, err := svc.ChangeScope(context.Background(), ScopeChangeInput{
		EmployeeID:      emp.ID,
		ExpectedVersion: emp.Version,
		ScopeType:       ScopeCompany,
		EffectiveAt:     time.Date(2025, time.February, 10, 0, 0, 0, 0, time.UTC),
		Reason:          "restructure",
	})
	require.NoError(t, err)
	require.Equal(t, emp.Version, result.Version, "no-op must not bump the version")
	require.Len(t, repo.scopes, 1, "no-op must not open a new scope version")
	require.Len(t, repo.audits, 1, "no-op must not write an audit entry")
}

func TestChangeScopeClosesOldVersionAtEffectiveInstant(t *testing.T) {
	repo := newMemRepository()
	svc := newTestService(repo)
	emp := createEmployee(t, svc, "")
	division := uuid.New()
	effectiveAt := time.Date(2025, time.February, 15, 0, 0, 0, 0, time.UTC)

	result, err := svc.ChangeScope(context.Background(), ScopeChangeInput{
		EmployeeID:      emp.ID,
		ExpectedVersion: emp.Version,
		ScopeType:       ScopeDivision,
		DivisionID:      &division,
		EffectiveAt:     effectiveAt,
		Reason:          "moved to platform division",
	})
	require.NoError(t, err)
	require.Equal(t, ScopeDivision, result.ScopeType)
	require.Equal(t, emp.Version+1, result.Version)

	require.Len(t, repo.scopes, 2)
	old, current := repo.scopes[0], repo.scopes[1]
	require.NotNil(t, old.Window.EffectiveTo)
	require.True(t, old.Window.EffectiveTo.Equal(effectiveAt), "old version closes exactly at the new start")
	require.True(t, current.Window.Open())
	require.True(t, current.Window.EffectiveFrom.Equal(effectiveAt))

	// Instant-grained windows: the boundary belongs to the new version.
	require.False(t, old.Window.ContainsInstant(effectiveAt))
	require.True(t, current.Window.ContainsInstant(effectiveAt))
}

func TestChangeScopeRejectsBackdatedOverlap(t *testing.T) {
	repo := newMemRepository()
	svc := newTestService(repo)
	emp := createEmployee(t, svc, "")
	division := uuid.New()

	// The active scope version opened at the clock instant
	// (2025-02-10 09:00). Closing it earlier would invert the window;
	// closing it at the exact start would leave an empty one.
	for _, effectiveAt := range []time.Time{
		time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.February, 10, 9, 0, 0, 0, time.UTC),
	} {
		_, err := svc.ChangeScope(context.Background(), ScopeChangeInput{
			EmployeeID:      emp.ID,
			ExpectedVersion: emp.Version,
			ScopeType:       ScopeDivision,
			DivisionID:      &division,
			EffectiveAt:     effectiveAt,
			Reason:          "restructure",
		})
		require.ErrorIs(t, err, ErrScopeOverlap)
	}

	require.Len(t, repo.scopes, 1, "rejected changes must not open a new version")
	require.True(t, repo.scopes[0].Window.Open(), "active version must stay open")
	current, err := svc.Get(context.Background(), emp.ID)
	require.NoError(t, err)
	require.Equal(t, ScopeCompany, current.ScopeType)
}

func TestChangeScopeStaleVersionConflicts(t *testing.T) {
	repo := newMemRepository()
	svc := newTestService(repo)
	emp := createEmployee(t, svc, "")
	division := uuid.New()

	_, err := svc.ChangeScope(context.Background(), ScopeChangeInput{
		EmployeeID:      emp.ID,
		ExpectedVersion: emp.Version + 7,
		ScopeType:       ScopeDivision,
		DivisionID:      &division,
		EffectiveAt:     time.Now().UTC(),
	})
	require.Equal(t, shared.KindConflict, shared.KindOf(err))
}

func TestChangeScopeAmbiguousChainFails(t *testing.T) {
	repo := newMemRepository()
	svc := newTestService(repo)
	emp := createEmployee(t, svc, "")
	division := uuid.New()

	// Corrupt the chain with a second open version.
	repo.scopes = append(repo.scopes, ScopeVersion{
		ID:         uuid.New(),
		EmployeeID: emp.ID,
		ScopeType:  ScopeCompany,
		Window:     temporal.Window{EffectiveFrom: time.Now().UTC()},
	})

	_, err := svc.ChangeScope(context.Background(), ScopeChangeInput{
		EmployeeID:      emp.ID,
		ExpectedVersion: emp.Version,
		ScopeType:       ScopeDivision,
		DivisionID:      &division,
		EffectiveAt:     time.Now().UTC(),
	})
	require.ErrorIs(t, err, temporal.ErrAmbiguousChain)
}

func TestStatusTransitions(t *testing.T) {
	repo := newMemRepository()
	svc := newTestService(repo)
	emp := createEmployee(t, svc, "")

	inactive, err := svc.ChangeStatus(context.Background(), emp.ID, emp.Version, StatusInactive, "sabbatical")
	require.NoError(t, err)
	require.Equal(t, StatusInactive, inactive.Status)

	exited, err := svc.ChangeStatus(context.Background(), emp.ID, inactive.Version, StatusExited, "resigned")
	require.NoError(t, err)
	require.Equal(t, StatusExited, exited.Status)

	_, err = svc.ChangeStatus(context.Background(), emp.ID, exited.Version, StatusActive, "rehire")
	require.Equal(t, shared.KindConflict, shared.KindOf(err), "EXITED is terminal")
}

func compensationInput(empID uuid.UUID, amount, from string) CompensationInput {
	day, _ := time.ParseInLocation("2006-01-02", from, time.UTC)
	return CompensationInput{
		EmployeeID:    empID,
		Amount:        dec(amount),
		Currency:      "INR",
		Frequency:     FrequencyMonthly,
		EffectiveFrom: day,
		Reason:        "annual revision",
	}
}

func TestAddCompensationClosesPriorDayBefore(t *testing.T) {
	repo := newMemRepository()
	svc := newTestService(repo)
	emp := createEmployee(t, svc, "")

	_, err := svc.AddCompensationVersion(context.Background(), compensationInput(emp.ID, "50000", "2025-01-01"))
	require.NoError(t, err)
	_, err = svc.AddCompensationVersion(context.Background(), compensationInput(emp.ID, "60000", "2025-03-01"))
	require.NoError(t, err)

	require.Len(t, repo.compensations, 2)
	old := repo.compensations[0]
	require.NotNil(t, old.Window.EffectiveTo)
	require.True(t, old.Window.EffectiveTo.Equal(time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC)))

	// Date-grained windows: Feb 28 still pays the old rate, Mar 1 the new.
	current, err := svc.CompensationAsOf(context.Background(), emp.ID, time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, current.Amount.Equal(dec("50000")))

	current, err = svc.CompensationAsOf(context.Background(), emp.ID, time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, current.Amount.Equal(dec("60000")))
}

func TestAddCompensationRejectsOverlap(t *testing.T) {
	repo := newMemRepository()
	svc := newTestService(repo)
	emp := createEmployee(t, svc, "")

	_, err := svc.AddCompensationVersion(context.Background(), compensationInput(emp.ID, "50000", "2025-03-01"))
	require.NoError(t, err)

	_, err = svc.AddCompensationVersion(context.Background(), compensationInput(emp.ID, "55000", "2025-03-01"))
	require.ErrorIs(t, err, ErrCompensationOverlap)

	_, err = svc.AddCompensationVersion(context.Background(), compensationInput(emp.ID, "55000", "2025-02-01"))
	require.ErrorIs(t, err, ErrCompensationOverlap)

	require.Len(t, repo.compensations, 1, "rejected versions must not be written")
}

func TestCompensationAsOfAmbiguousChainFails(t *testing.T) {
	repo := newMemRepository()
	svc := newTestService(repo)
	emp := createEmployee(t, svc, "")

	from := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		repo.compensations = append(repo.compensations, CompensationVersion{
			ID:         uuid.New(),
			EmployeeID: emp.ID,
			Amount:     dec("50000"),
			Frequency:  FrequencyMonthly,
			Window:     temporal.Window{EffectiveFrom: from},
		})
	}

	_, err := svc.CompensationAsOf(context.Background(), emp.ID, time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC))
	require.ErrorIs(t, err, temporal.ErrAmbiguousChain)
}
