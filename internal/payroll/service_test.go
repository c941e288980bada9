package payroll

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-hr/meridian-hr/internal/audit"
	"github.com/meridian-hr/meridian-hr/internal/close"
	"github.com/meridian-hr/meridian-hr/internal/employee"
	"github.com/meridian-hr/meridian-hr/internal/platform/db"
	"github.com/meridian-hr/meridian-hr/internal/shared"
)

type memRepository struct {
	runs            map[uuid.UUID]*Run
	items           []Item
	payments        []Payment
	compensation    []CompensationRow
	payrollEnabled  bool
	manualAllowed   bool
	closedMonths    map[string]bool
	audits          []audit.Entry
	compensationErr error
}

func newMemRepository() *memRepository {
	return &memRepository{
		runs:           make(map[uuid.UUID]*Run),
		payrollEnabled: true,
		manualAllowed:  true,
		closedMonths:   make(map[string]bool),
	}
}

func (m *memRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memTx{repo: m})
}

func (m *memRepository) GetRun(_ context.Context, id uuid.UUID) (*Run, error) {
	if run, ok := m.runs[id]; ok {
		cp := *run
		return &cp, nil
	}
	return nil, nil
}

func (m *memRepository) ListRuns(_ context.Context, _, _ int) ([]Run, error) {
	var out []Run
	for _, run := range m.runs {
		out = append(out, *run)
	}
	return out, nil
}

func (m *memRepository) ListItems(_ context.Context, runID uuid.UUID) ([]Item, error) {
	var out []Item
	for _, item := range m.items {
		if item.RunID == runID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *memRepository) ListPayments(_ context.Context, runID uuid.UUID) ([]Payment, error) {
	var out []Payment
	for _, p := range m.payments {
		if p.RunID == runID {
			out = append(out, p)
		}
	}
	return out, nil
}

type memTx struct {
	repo *memRepository
}

func (t *memTx) GetRunForUpdate(ctx context.Context, id uuid.UUID) (*Run, error) {
	return t.repo.GetRun(ctx, id)
}

func (t *memTx) FindRunByMonth(_ context.Context, month time.Time) (*Run, error) {
	for _, run := range t.repo.runs {
		if run.Month.Equal(month) {
			cp := *run
			return &cp, nil
		}
	}
	return nil, nil
}

func (t *memTx) InsertRun(_ context.Context, run Run) error {
	t.repo.runs[run.ID] = &run
	return nil
}

func (t *memTx) UpdateRunState(_ context.Context, id uuid.UUID, expectedVersion int64, status RunStatus, at time.Time) (*Run, error) {
	run, ok := t.repo.runs[id]
	if !ok || run.Version != expectedVersion {
		return nil, db.ErrVersionConflict
	}
	switch status {
	case RunReviewed:
		run.ReviewedAt = &at
	case RunLocked:
		run.LockedAt = &at
	case RunPaid:
		run.PaidAt = &at
	}
	run.Status = status
	run.Version++
	cp := *run
	return &cp, nil
}

// Mirrors the unique index on (run_id, employee_id, item_type, description).
func (t *memTx) InsertItems(_ context.Context, items []Item) error {
	for _, item := range items {
		exists := false
		for _, have := range t.repo.items {
			if have.RunID == item.RunID && have.EmployeeID == item.EmployeeID &&
				have.Type == item.Type && have.Description == item.Description {
				exists = true
				break
			}
		}
		if !exists {
			t.repo.items = append(t.repo.items, item)
		}
	}
	return nil
}

func (t *memTx) InsertItem(_ context.Context, item Item) error {
	t.repo.items = append(t.repo.items, item)
	return nil
}

func (t *memTx) ListItems(ctx context.Context, runID uuid.UUID) ([]Item, error) {
	return t.repo.ListItems(ctx, runID)
}

func (t *memTx) InsertPayment(_ context.Context, p Payment) error {
	t.repo.payments = append(t.repo.payments, p)
	return nil
}

func (t *memTx) SumPaymentsByEmployee(_ context.Context, runID uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	sums := make(map[uuid.UUID]decimal.Decimal)
	for _, p := range t.repo.payments {
		if p.RunID == runID {
			sums[p.EmployeeID] = sums[p.EmployeeID].Add(p.Amount)
		}
	}
	return sums, nil
}

func (t *memTx) ActiveCompensation(_ context.Context, _ time.Time) ([]CompensationRow, error) {
	if t.repo.compensationErr != nil {
		return nil, t.repo.compensationErr
	}
	return t.repo.compensation, nil
}

func (t *memTx) PayrollEnabled(_ context.Context) (bool, error) {
	return t.repo.payrollEnabled, nil
}

func (t *memTx) ManualAdjustmentsAllowed(_ context.Context) (bool, error) {
	return t.repo.manualAllowed, nil
}

func (t *memTx) EnsureMonthOpen(_ context.Context, day time.Time, _ string) error {
	if t.repo.closedMonths[close.FormatMonth(day)] {
		return close.ErrMonthClosed
	}
	return nil
}

func (t *memTx) Audit(_ context.Context, entry audit.Entry) error {
	t.repo.audits = append(t.repo.audits, entry)
	return nil
}

type memNotifier struct {
	locked []uuid.UUID
}

func (n *memNotifier) NotifyRunLocked(_ context.Context, runID uuid.UUID, _ string) error {
	n.locked = append(n.locked, runID)
	return nil
}

func newTestService(repo *memRepository, now time.Time) (*Service, *memNotifier) {
	notifier := &memNotifier{}
	svc := NewService(repo, notifier, nil)
	svc.WithNow(func() time.Time { return now })
	return svc, notifier
}

func actorContext() context.Context {
	return shared.ContextWithActor(context.Background(), shared.Actor{ID: uuid.New(), Email: "payroll@example.com"})
}

var may = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

func TestCreateRunOnePerMonth(t *testing.T) {
	repo := newMemRepository()
	svc, _ := newTestService(repo, may.AddDate(0, 0, 14))
	ctx := actorContext()

	run, err := svc.CreateRun(ctx, may, "")
	require.NoError(t, err)
	assert.Equal(t, RunDraft, run.Status)

	_, err = svc.CreateRun(ctx, may.AddDate(0, 0, 10), "")
	require.Error(t, err)
	assert.Equal(t, shared.KindConflict, shared.KindOf(err))
}

func TestCreateRunBlockedWhenDisabledOrClosed(t *testing.T) {
	ctx := actorContext()

	t.Run("payroll disabled", func(t *testing.T) {
		repo := newMemRepository()
		repo.payrollEnabled = false
		svc, _ := newTestService(repo, may)
		_, err := svc.CreateRun(ctx, may, "")
		require.Error(t, err)
		assert.Equal(t, shared.KindForbidden, shared.KindOf(err))
	})

	t.Run("month closed", func(t *testing.T) {
		repo := newMemRepository()
		repo.closedMonths["2025-05"] = true
		svc, _ := newTestService(repo, may)
		_, err := svc.CreateRun(ctx, may, "pretty please")
		require.Error(t, err)
		assert.Equal(t, shared.KindMonthClosed, shared.KindOf(err))
	})
}

func TestComputeDraftIdempotent(t *testing.T) {
	repo := newMemRepository()
	svc, _ := newTestService(repo, may.AddDate(0, 0, 14))
	ctx := actorContext()

	alice, bob := uuid.New(), uuid.New()
	repo.compensation = []CompensationRow{
		{EmployeeID: alice, Code: "E-001", Amount: dec("4000"), Frequency: employee.FrequencyMonthly},
		{EmployeeID: bob, Code: "E-002", Amount: dec("60000"), Frequency: employee.FrequencyAnnual},
	}

	run, err := svc.CreateRun(ctx, may, "")
	require.NoError(t, err)

	_, items, err := svc.ComputeDraft(ctx, run.ID, run.Version, "")
	require.NoError(t, err)
	require.Len(t, items, 2)

	// A recompute after a new hire picks up the addition only.
	carol := uuid.New()
	repo.compensation = append(repo.compensation, CompensationRow{
		EmployeeID: carol, Code: "E-003", Amount: dec("3000"), Frequency: employee.FrequencyMonthly,
	})
	_, items, err = svc.ComputeDraft(ctx, run.ID, run.Version, "")
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestComputeDraftRejectsOverlappingCompensation(t *testing.T) {
	repo := newMemRepository()
	svc, _ := newTestService(repo, may.AddDate(0, 0, 14))
	ctx := actorContext()

	dup := uuid.New()
	repo.compensation = []CompensationRow{
		{EmployeeID: dup, Code: "E-001", Amount: dec("4000"), Frequency: employee.FrequencyMonthly},
		{EmployeeID: dup, Code: "E-001", Amount: dec("4200"), Frequency: employee.FrequencyMonthly},
	}

	run, err := svc.CreateRun(ctx, may, "")
	require.NoError(t, err)

	_, _, err = svc.ComputeDraft(ctx, run.ID, run.Version, "")
	require.Error(t, err)
	assert.Equal(t, shared.KindConflict, shared.KindOf(err))
	assert.Empty(t, repo.items)
}

func TestRunLifecycleAndPayslipNotify(t *testing.T) {
	repo := newMemRepository()
	svc, notifier := newTestService(repo, may.AddDate(0, 0, 14))
	ctx := actorContext()

	repo.compensation = []CompensationRow{
		{EmployeeID: uuid.New(), Code: "E-001", Amount: dec("4000"), Frequency: employee.FrequencyMonthly},
	}

	run, err := svc.CreateRun(ctx, may, "")
	require.NoError(t, err)
	run, _, err = svc.ComputeDraft(ctx, run.ID, run.Version, "")
	require.NoError(t, err)

	// Cannot lock an unreviewed run.
	_, err = svc.Lock(ctx, run.ID, run.Version, "")
	require.Error(t, err)
	assert.Empty(t, notifier.locked)

	run, err = svc.Review(ctx, run.ID, run.Version, "")
	require.NoError(t, err)
	assert.Equal(t, RunReviewed, run.Status)

	run, err = svc.Lock(ctx, run.ID, run.Version, "")
	require.NoError(t, err)
	assert.Equal(t, RunLocked, run.Status)
	assert.Equal(t, []uuid.UUID{run.ID}, notifier.locked)
}

func TestAddAdjustmentPolicy(t *testing.T) {
	ctx := actorContext()

	setup := func(repo *memRepository) (*Service, Run) {
		svc, _ := newTestService(repo, may.AddDate(0, 0, 14))
		run, err := svc.CreateRun(ctx, may, "")
		require.NoError(t, err)
		return svc, run
	}

	t.Run("requires the flag", func(t *testing.T) {
		repo := newMemRepository()
		repo.manualAllowed = false
		svc, run := setup(repo)
		_, err := svc.AddAdjustment(ctx, AdjustmentInput{
			RunID: run.ID, ExpectedVersion: run.Version, EmployeeID: uuid.New(),
			Type: ItemBonus, Description: "Spot bonus", Amount: dec("200"), Reason: "quarterly award",
		})
		require.Error(t, err)
		assert.Equal(t, shared.KindForbidden, shared.KindOf(err))
	})

	t.Run("requires a reason", func(t *testing.T) {
		repo := newMemRepository()
		svc, run := setup(repo)
		_, err := svc.AddAdjustment(ctx, AdjustmentInput{
			RunID: run.ID, ExpectedVersion: run.Version, EmployeeID: uuid.New(),
			Type: ItemBonus, Description: "Spot bonus", Amount: dec("200"),
		})
		require.Error(t, err)
		assert.Equal(t, shared.KindBadRequest, shared.KindOf(err))
	})

	t.Run("rejects manual base pay", func(t *testing.T) {
		repo := newMemRepository()
		svc, run := setup(repo)
		_, err := svc.AddAdjustment(ctx, AdjustmentInput{
			RunID: run.ID, ExpectedVersion: run.Version, EmployeeID: uuid.New(),
			Type: ItemBasePay, Description: "Base pay", Amount: dec("200"), Reason: "because",
		})
		require.Error(t, err)
	})

	t.Run("only before lock", func(t *testing.T) {
		repo := newMemRepository()
		svc, run := setup(repo)
		run, err := svc.Review(ctx, run.ID, run.Version, "")
		require.NoError(t, err)
		run, err = svc.Lock(ctx, run.ID, run.Version, "")
		require.NoError(t, err)

		_, err = svc.AddAdjustment(ctx, AdjustmentInput{
			RunID: run.ID, ExpectedVersion: run.Version, EmployeeID: uuid.New(),
			Type: ItemDeduction, Description: "Advance recovery", Amount: dec("100"), Reason: "payroll advance",
		})
		require.Error(t, err)
		assert.Equal(t, shared.KindConflict, shared.KindOf(err))
	})
}

func TestPaymentsFlipRunToPaid(t *testing.T) {
	repo := newMemRepository()
	svc, _ := newTestService(repo, may.AddDate(0, 0, 25))
	ctx := actorContext()

	alice, bob := uuid.New(), uuid.New()
	repo.compensation = []CompensationRow{
		{EmployeeID: alice, Code: "E-001", Amount: dec("4000"), Frequency: employee.FrequencyMonthly},
		{EmployeeID: bob, Code: "E-002", Amount: dec("3000"), Frequency: employee.FrequencyMonthly},
	}

	run, err := svc.CreateRun(ctx, may, "")
	require.NoError(t, err)
	run, _, err = svc.ComputeDraft(ctx, run.ID, run.Version, "")
	require.NoError(t, err)
	run, err = svc.Review(ctx, run.ID, run.Version, "")
	require.NoError(t, err)
	run, err = svc.Lock(ctx, run.ID, run.Version, "")
	require.NoError(t, err)

	payDay := may.AddDate(0, 0, 27)
	run, err = svc.RecordPayment(ctx, PaymentInput{RunID: run.ID, EmployeeID: alice, Amount: dec("4000"), PaidAt: payDay})
	require.NoError(t, err)
	assert.Equal(t, RunLocked, run.Status)

	run, err = svc.RecordPayment(ctx, PaymentInput{RunID: run.ID, EmployeeID: bob, Amount: dec("3000"), PaidAt: payDay})
	require.NoError(t, err)
	assert.Equal(t, RunPaid, run.Status)
	require.NotNil(t, run.PaidAt)

	run, err = svc.CloseRun(ctx, run.ID, run.Version, "")
	require.NoError(t, err)
	assert.Equal(t, RunClosed, run.Status)
}

func TestPaymentGatedOnPayDateNotRunMonth(t *testing.T) {
	repo := newMemRepository()
	svc, _ := newTestService(repo, may.AddDate(0, 1, 2))
	ctx := actorContext()

	alice := uuid.New()
	repo.compensation = []CompensationRow{
		{EmployeeID: alice, Code: "E-001", Amount: dec("4000"), Frequency: employee.FrequencyMonthly},
	}

	run, err := svc.CreateRun(ctx, may, "")
	require.NoError(t, err)
	run, _, err = svc.ComputeDraft(ctx, run.ID, run.Version, "")
	require.NoError(t, err)
	run, err = svc.Review(ctx, run.ID, run.Version, "")
	require.NoError(t, err)
	run, err = svc.Lock(ctx, run.ID, run.Version, "")
	require.NoError(t, err)

	// The run's month closes; disbursing the locked run in June is
	// still allowed because the payment is dated June.
	repo.closedMonths["2025-05"] = true
	june := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	run, err = svc.RecordPayment(ctx, PaymentInput{RunID: run.ID, EmployeeID: alice, Amount: dec("4000"), PaidAt: june})
	require.NoError(t, err)
	assert.Equal(t, RunPaid, run.Status)

	// A payment backdated into the closed month is rejected.
	repo2 := newMemRepository()
	svc2, _ := newTestService(repo2, may.AddDate(0, 1, 2))
	repo2.compensation = repo.compensation
	run2, err := svc2.CreateRun(ctx, may, "")
	require.NoError(t, err)
	run2, _, err = svc2.ComputeDraft(ctx, run2.ID, run2.Version, "")
	require.NoError(t, err)
	run2, err = svc2.Review(ctx, run2.ID, run2.Version, "")
	require.NoError(t, err)
	run2, err = svc2.Lock(ctx, run2.ID, run2.Version, "")
	require.NoError(t, err)
	repo2.closedMonths["2025-05"] = true

	_, err = svc2.RecordPayment(ctx, PaymentInput{
		RunID: run2.ID, EmployeeID: alice, Amount: dec("4000"),
		PaidAt: time.Date(2025, 5, 30, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
	assert.Equal(t, shared.KindMonthClosed, shared.KindOf(err))
}

func TestStaleRunVersionConflicts(t *testing.T) {
	repo := newMemRepository()
	svc, _ := newTestService(repo, may.AddDate(0, 0, 14))
	ctx := actorContext()

	run, err := svc.CreateRun(ctx, may, "")
	require.NoError(t, err)

	_, err = svc.Review(ctx, run.ID, run.Version, "")
	require.NoError(t, err)

	// Replays the pre-review version.
	_, err = svc.Lock(ctx, run.ID, run.Version, "")
	require.Error(t, err)
	assert.Equal(t, shared.KindConflict, shared.KindOf(err))
}
