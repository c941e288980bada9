package expense

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
	"github.com/meridian-hr/meridian-hr/internal/platform/db"
	"github.com/meridian-hr/meridian-hr/internal/shared"
	"github.com/meridian-hr/meridian-hr/internal/sysconfig"
)

type memRepository struct {
	expenses     map[uuid.UUID]*Expense
	payments     []Payment
	categories   map[uuid.UUID]*Category
	flags        sysconfig.ExpenseFlags
	closedMonths map[string]bool
	audits       []audit.Entry
}

func newMemRepository() *memRepository {
	return &memRepository{
		expenses:     make(map[uuid.UUID]*Expense),
		categories:   make(map[uuid.UUID]*Category),
		flags:        sysconfig.ExpenseFlags{Enabled: true, AllowBackdated: true},
		closedMonths: make(map[string]bool),
	}
}

// Writes apply directly; transactional rollback is covered by the
// month close service tests, which exercise the buffered variant.
func (m *memRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memTx{repo: m})
}

func (m *memRepository) GetByID(_ context.Context, id uuid.UUID) (*Expense, error) {
	if e, ok := m.expenses[id]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, nil
}

func (m *memRepository) List(_ context.Context, filter ListFilter) ([]Expense, error) {
	var out []Expense
	for _, e := range m.expenses {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

func (m *memRepository) ListPayments(_ context.Context, expenseID uuid.UUID) ([]Payment, error) {
	var out []Payment
	for _, p := range m.payments {
		if p.ExpenseID == expenseID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memRepository) ListCategories(_ context.Context) ([]Category, error) {
	var out []Category
	for _, c := range m.categories {
		out = append(out, *c)
	}
	return out, nil
}

type memTx struct {
	repo *memRepository
}

func (t *memTx) GetForUpdate(ctx context.Context, id uuid.UUID) (*Expense, error) {
	return t.repo.GetByID(ctx, id)
}

func (t *memTx) Insert(_ context.Context, e Expense) error {
	t.repo.expenses[e.ID] = &e
	return nil
}

func (t *memTx) UpdateDraft(_ context.Context, id uuid.UUID, expectedVersion int64, update DraftUpdate) (*Expense, error) {
	e, ok := t.repo.expenses[id]
	if !ok || e.Version != expectedVersion || e.Status != StatusDraft {
		return nil, db.ErrVersionConflict
	}
	if update.ExpenseDate != nil {
		e.ExpenseDate = *update.ExpenseDate
	}
	if update.Title != nil {
		e.Title = *update.Title
	}
	if update.Description != nil {
		e.Description = *update.Description
	}
	if update.Amount != nil {
		e.Amount = *update.Amount
	}
	if update.VendorName != nil {
		e.VendorName = *update.VendorName
	}
	e.Version++
	cp := *e
	return &cp, nil
}

func (t *memTx) UpdateState(_ context.Context, id uuid.UUID, expectedVersion int64, status Status, decidedBy *uuid.UUID, decisionNote string, at time.Time) (*Expense, error) {
	e, ok := t.repo.expenses[id]
	if !ok || e.Version != expectedVersion {
		return nil, db.ErrVersionConflict
	}
	switch status {
	case StatusSubmitted:
		e.SubmittedAt = &at
	case StatusApproved, StatusRejected:
		e.DecidedAt = &at
		e.DecidedBy = decidedBy
	}
	if decisionNote != "" {
		e.DecisionNote = decisionNote
	}
	e.Status = status
	e.Version++
	cp := *e
	return &cp, nil
}

func (t *memTx) InsertPayment(_ context.Context, p Payment) error {
	t.repo.payments = append(t.repo.payments, p)
	return nil
}

func (t *memTx) SumPayments(_ context.Context, expenseID uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, p := range t.repo.payments {
		if p.ExpenseID == expenseID {
			sum = sum.Add(p.Amount)
		}
	}
	return sum, nil
}

func (t *memTx) InsertCategory(_ context.Context, c Category) error {
	for _, existing := range t.repo.categories {
		if existing.Name == c.Name {
			return db.ErrVersionConflict
		}
	}
	t.repo.categories[c.ID] = &c
	return nil
}

func (t *memTx) UpdateCategory(_ context.Context, id uuid.UUID, expectedVersion int64, name string, isActive bool) (*Category, error) {
	c, ok := t.repo.categories[id]
	if !ok || c.Version != expectedVersion {
		return nil, db.ErrVersionConflict
	}
	c.Name = name
	c.IsActive = isActive
	c.Version++
	cp := *c
	return &cp, nil
}

func (t *memTx) Flags(_ context.Context) (sysconfig.ExpenseFlags, error) {
	return t.repo.flags, nil
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

func newTestService(repo *memRepository, now time.Time) *Service {
	svc := NewService(repo)
	svc.WithNow(func() time.Time { return now })
	return svc
}

func actorContext() context.Context {
	return shared.ContextWithActor(context.Background(), shared.Actor{ID: uuid.New(), Email: "finance@example.com"})
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func validCreateInput(date time.Time) CreateInput {
	return CreateInput{
		ExpenseDate: date,
		Title:       "Office supplies",
		Amount:      dec("120.50"),
		Currency:    "USD",
	}
}

func TestCreateRecordsDraftAndAudit(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	repo := newMemRepository()
	svc := newTestService(repo, now)

	e, err := svc.Create(actorContext(), validCreateInput(now))
	require.NoError(t, err)

	assert.Equal(t, StatusDraft, e.Status)
	assert.Equal(t, int64(1), e.Version)
	require.Len(t, repo.audits, 1)
	assert.Equal(t, "EXPENSE_CREATED", repo.audits[0].Action)
}

func TestCreateRejectedWhenModuleDisabled(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	repo := newMemRepository()
	repo.flags.Enabled = false
	svc := newTestService(repo, now)

	_, err := svc.Create(actorContext(), validCreateInput(now))
	require.Error(t, err)
	assert.Equal(t, shared.KindForbidden, shared.KindOf(err))
	assert.Empty(t, repo.expenses)
}

func TestCreateRejectedWhenMonthClosedEvenWithOverride(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	repo := newMemRepository()
	repo.closedMonths["2025-02"] = true
	svc := newTestService(repo, now)

	in := validCreateInput(time.Date(2025, 2, 20, 0, 0, 0, 0, time.UTC))
	in.OverrideReason = "CFO asked nicely"

	_, err := svc.Create(actorContext(), in)
	require.Error(t, err)
	assert.Equal(t, shared.KindMonthClosed, shared.KindOf(err))
	assert.Empty(t, repo.expenses)
}

func TestCreateDatePolicy(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)

	t.Run("future date rejected", func(t *testing.T) {
		repo := newMemRepository()
		svc := newTestService(repo, now)
		_, err := svc.Create(actorContext(), validCreateInput(now.AddDate(0, 0, 1)))
		require.Error(t, err)
		assert.Equal(t, shared.KindBadRequest, shared.KindOf(err))
	})

	t.Run("backdating disabled rejects past dates", func(t *testing.T) {
		repo := newMemRepository()
		repo.flags.AllowBackdated = false
		svc := newTestService(repo, now)
		_, err := svc.Create(actorContext(), validCreateInput(now.AddDate(0, 0, -1)))
		require.Error(t, err)
	})

	t.Run("backdate limit enforced", func(t *testing.T) {
		repo := newMemRepository()
		repo.flags.BackdateLimitDays = 7
		svc := newTestService(repo, now)

		_, err := svc.Create(actorContext(), validCreateInput(now.AddDate(0, 0, -7)))
		require.NoError(t, err)

		_, err = svc.Create(actorContext(), validCreateInput(now.AddDate(0, 0, -8)))
		require.Error(t, err)
	})

	t.Run("today always allowed", func(t *testing.T) {
		repo := newMemRepository()
		repo.flags.AllowBackdated = false
		svc := newTestService(repo, now)
		_, err := svc.Create(actorContext(), validCreateInput(now))
		require.NoError(t, err)
	})
}

func TestUpdateDraftOnlyTouchesDrafts(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	repo := newMemRepository()
	svc := newTestService(repo, now)
	ctx := actorContext()

	e, err := svc.Create(ctx, validCreateInput(now))
	require.NoError(t, err)

	e, err = svc.Submit(ctx, e.ID, e.Version, "")
	require.NoError(t, err)

	title := "New title"
	_, err = svc.UpdateDraft(ctx, e.ID, e.Version, DraftUpdate{Title: &title}, "")
	require.Error(t, err)
	assert.Equal(t, shared.KindConflict, shared.KindOf(err))
}

func TestUpdateDraftStaleVersionConflicts(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	repo := newMemRepository()
	svc := newTestService(repo, now)
	ctx := actorContext()

	e, err := svc.Create(ctx, validCreateInput(now))
	require.NoError(t, err)

	title := "First edit"
	_, err = svc.UpdateDraft(ctx, e.ID, e.Version, DraftUpdate{Title: &title}, "")
	require.NoError(t, err)

	title = "Lost update"
	_, err = svc.UpdateDraft(ctx, e.ID, e.Version, DraftUpdate{Title: &title}, "")
	require.Error(t, err)
	assert.Equal(t, shared.KindConflict, shared.KindOf(err))
}

func TestLifecycleTransitions(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	repo := newMemRepository()
	svc := newTestService(repo, now)
	ctx := actorContext()

	e, err := svc.Create(ctx, validCreateInput(now))
	require.NoError(t, err)

	// Cannot approve a draft.
	_, err = svc.Approve(ctx, e.ID, e.Version, "", "")
	require.Error(t, err)

	e, err = svc.Submit(ctx, e.ID, e.Version, "")
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, e.Status)
	require.NotNil(t, e.SubmittedAt)

	e, err = svc.Approve(ctx, e.ID, e.Version, "looks fine", "")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, e.Status)
	require.NotNil(t, e.DecidedBy)
}

func TestRejectRequiresReason(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	repo := newMemRepository()
	svc := newTestService(repo, now)
	ctx := actorContext()

	e, err := svc.Create(ctx, validCreateInput(now))
	require.NoError(t, err)
	e, err = svc.Submit(ctx, e.ID, e.Version, "")
	require.NoError(t, err)

	_, err = svc.Reject(ctx, e.ID, e.Version, "", "")
	require.Error(t, err)
	assert.Equal(t, shared.KindBadRequest, shared.KindOf(err))

	e, err = svc.Reject(ctx, e.ID, e.Version, "duplicate claim", "")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, e.Status)
	assert.Equal(t, "duplicate claim", e.DecisionNote)

	// Rejected is terminal.
	_, err = svc.Submit(ctx, e.ID, e.Version, "")
	require.Error(t, err)
}

func TestPaymentsDrivePaidTransitions(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	repo := newMemRepository()
	svc := newTestService(repo, now)
	ctx := actorContext()

	e, err := svc.Create(ctx, validCreateInput(now))
	require.NoError(t, err)
	e, err = svc.Submit(ctx, e.ID, e.Version, "")
	require.NoError(t, err)
	e, err = svc.Approve(ctx, e.ID, e.Version, "", "")
	require.NoError(t, err)

	e, err = svc.RecordPayment(ctx, PaymentInput{ExpenseID: e.ID, Amount: dec("50"), PaidAt: now})
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyPaid, e.Status)

	e, err = svc.RecordPayment(ctx, PaymentInput{ExpenseID: e.ID, Amount: dec("70.50"), PaidAt: now})
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, e.Status)

	// Fully paid expenses can be archived.
	e, err = svc.Close(ctx, e.ID, e.Version, "")
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, e.Status)
}

func TestPaymentEpsilonTreatsResidualAsPaid(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	repo := newMemRepository()
	svc := newTestService(repo, now)
	ctx := actorContext()

	in := validCreateInput(now)
	in.Amount = dec("100")
	e, err := svc.Create(ctx, in)
	require.NoError(t, err)
	e, err = svc.Submit(ctx, e.ID, e.Version, "")
	require.NoError(t, err)
	e, err = svc.Approve(ctx, e.ID, e.Version, "", "")
	require.NoError(t, err)

	e, err = svc.RecordPayment(ctx, PaymentInput{ExpenseID: e.ID, Amount: dec("99.999995"), PaidAt: now})
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, e.Status)
}

func TestPaymentRejectedOnDraft(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	repo := newMemRepository()
	svc := newTestService(repo, now)
	ctx := actorContext()

	e, err := svc.Create(ctx, validCreateInput(now))
	require.NoError(t, err)

	_, err = svc.RecordPayment(ctx, PaymentInput{ExpenseID: e.ID, Amount: dec("10"), PaidAt: now})
	require.Error(t, err)
	assert.Equal(t, shared.KindConflict, shared.KindOf(err))
}

func TestPaymentGatedOnPaymentDate(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	repo := newMemRepository()
	svc := newTestService(repo, now)
	ctx := actorContext()

	e, err := svc.Create(ctx, validCreateInput(now))
	require.NoError(t, err)
	e, err = svc.Submit(ctx, e.ID, e.Version, "")
	require.NoError(t, err)
	e, err = svc.Approve(ctx, e.ID, e.Version, "", "")
	require.NoError(t, err)

	repo.closedMonths["2025-02"] = true
	_, err = svc.RecordPayment(ctx, PaymentInput{
		ExpenseID: e.ID,
		Amount:    dec("10"),
		PaidAt:    time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
	assert.Equal(t, shared.KindMonthClosed, shared.KindOf(err))
	assert.Empty(t, repo.payments)
}

func TestCategoryLifecycle(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	repo := newMemRepository()
	svc := newTestService(repo, now)
	ctx := actorContext()

	c, err := svc.CreateCategory(ctx, "Travel")
	require.NoError(t, err)
	assert.True(t, c.IsActive)

	c2, err := svc.UpdateCategory(ctx, c.ID, c.Version, "Travel & Lodging", false)
	require.NoError(t, err)
	assert.Equal(t, "Travel & Lodging", c2.Name)
	assert.False(t, c2.IsActive)

	_, err = svc.UpdateCategory(ctx, c.ID, c.Version, "stale", true)
	require.Error(t, err)
}
