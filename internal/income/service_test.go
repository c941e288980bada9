package income

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
)

type memRepository struct {
	records      map[uuid.UUID]*Income
	receipts     []Receipt
	closedMonths map[string]bool
	audits       []audit.Entry
}

func newMemRepository() *memRepository {
	return &memRepository{
		records:      make(map[uuid.UUID]*Income),
		closedMonths: make(map[string]bool),
	}
}

func (m *memRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memTx{repo: m})
}

func (m *memRepository) GetByID(_ context.Context, id uuid.UUID) (*Income, error) {
	if inc, ok := m.records[id]; ok {
		cp := *inc
		return &cp, nil
	}
	return nil, nil
}

func (m *memRepository) List(_ context.Context, filter ListFilter) ([]Income, error) {
	var out []Income
	for _, inc := range m.records {
		if filter.Status != "" && inc.Status != filter.Status {
			continue
		}
		out = append(out, *inc)
	}
	return out, nil
}

func (m *memRepository) ListReceipts(_ context.Context, incomeID uuid.UUID) ([]Receipt, error) {
	var out []Receipt
	for _, r := range m.receipts {
		if r.IncomeID == incomeID {
			out = append(out, r)
		}
	}
	return out, nil
}

type memTx struct {
	repo *memRepository
}

func (t *memTx) GetForUpdate(ctx context.Context, id uuid.UUID) (*Income, error) {
	return t.repo.GetByID(ctx, id)
}

func (t *memTx) Insert(_ context.Context, inc Income) error {
	t.repo.records[inc.ID] = &inc
	return nil
}

func (t *memTx) UpdateState(_ context.Context, id uuid.UUID, expectedVersion int64, status Status, decidedBy *uuid.UUID, decisionNote string, at time.Time) (*Income, error) {
	inc, ok := t.repo.records[id]
	if !ok || inc.Version != expectedVersion {
		return nil, db.ErrVersionConflict
	}
	switch status {
	case StatusSubmitted:
		inc.SubmittedAt = &at
	case StatusApproved, StatusRejected:
		inc.DecidedAt = &at
		inc.DecidedBy = decidedBy
	}
	if decisionNote != "" {
		inc.DecisionNote = decisionNote
	}
	inc.Status = status
	inc.Version++
	cp := *inc
	return &cp, nil
}

func (t *memTx) InsertReceipt(_ context.Context, rcpt Receipt) error {
	t.repo.receipts = append(t.repo.receipts, rcpt)
	return nil
}

func (t *memTx) SumReceipts(_ context.Context, incomeID uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, r := range t.repo.receipts {
		if r.IncomeID == incomeID {
			sum = sum.Add(r.Amount)
		}
	}
	return sum, nil
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

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestService(repo *memRepository, now time.Time) *Service {
	svc := NewService(repo)
	svc.WithNow(func() time.Time { return now })
	return svc
}

func actorContext() context.Context {
	return shared.ContextWithActor(context.Background(), shared.Actor{ID: uuid.New(), Email: "finance@example.com"})
}

func TestIncomeLifecycle(t *testing.T) {
	now := time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)
	repo := newMemRepository()
	svc := newTestService(repo, now)
	ctx := actorContext()

	inc, err := svc.Create(ctx, CreateInput{
		IncomeDate: now,
		Source:     "Acme Corp retainer",
		Amount:     dec("5000"),
		Currency:   "USD",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, inc.Status)

	inc, err = svc.Submit(ctx, inc.ID, inc.Version, "")
	require.NoError(t, err)
	inc, err = svc.Approve(ctx, inc.ID, inc.Version, "", "")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, inc.Status)

	inc, err = svc.RecordReceipt(ctx, ReceiptInput{IncomeID: inc.ID, Amount: dec("2000"), ReceivedAt: now})
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyPaid, inc.Status)

	inc, err = svc.RecordReceipt(ctx, ReceiptInput{IncomeID: inc.ID, Amount: dec("3000"), ReceivedAt: now})
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, inc.Status)

	inc, err = svc.Close(ctx, inc.ID, inc.Version, "")
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, inc.Status)

	// Closed is terminal.
	_, err = svc.Submit(ctx, inc.ID, inc.Version, "")
	require.Error(t, err)
}

func TestIncomeRejectedInClosedMonth(t *testing.T) {
	now := time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)
	repo := newMemRepository()
	repo.closedMonths["2025-03"] = true
	svc := newTestService(repo, now)

	_, err := svc.Create(actorContext(), CreateInput{
		IncomeDate:     time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC),
		Source:         "Late invoice",
		Amount:         dec("100"),
		Currency:       "USD",
		OverrideReason: "really need this in March",
	})
	require.Error(t, err)
	assert.Equal(t, shared.KindMonthClosed, shared.KindOf(err))
	assert.Empty(t, repo.records)
}

func TestIncomeStaleVersionConflicts(t *testing.T) {
	now := time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)
	repo := newMemRepository()
	svc := newTestService(repo, now)
	ctx := actorContext()

	inc, err := svc.Create(ctx, CreateInput{
		IncomeDate: now,
		Source:     "Consulting",
		Amount:     dec("750"),
		Currency:   "EUR",
	})
	require.NoError(t, err)

	_, err = svc.Submit(ctx, inc.ID, inc.Version, "")
	require.NoError(t, err)

	// Replays the original version after the first submit bumped it.
	_, err = svc.Submit(ctx, inc.ID, inc.Version, "")
	require.Error(t, err)
}

func TestIncomeRejectRequiresReason(t *testing.T) {
	now := time.Date(2025, 4, 10, 9, 0, 0, 0, time.UTC)
	repo := newMemRepository()
	svc := newTestService(repo, now)
	ctx := actorContext()

	inc, err := svc.Create(ctx, CreateInput{
		IncomeDate: now,
		Source:     "One-off gig",
		Amount:     dec("300"),
		Currency:   "USD",
	})
	require.NoError(t, err)
	inc, err = svc.Submit(ctx, inc.ID, inc.Version, "")
	require.NoError(t, err)

	_, err = svc.Reject(ctx, inc.ID, inc.Version, "", "")
	require.Error(t, err)
	assert.Equal(t, shared.KindBadRequest, shared.KindOf(err))
}
