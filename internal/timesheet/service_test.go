package timesheet

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
	headers      map[uuid.UUID]*Header
	worklogs     []Worklog
	closedMonths map[string]bool
	audits       []audit.Entry
}

func newMemRepository() *memRepository {
	return &memRepository{
		headers:      make(map[uuid.UUID]*Header),
		closedMonths: make(map[string]bool),
	}
}

func (m *memRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memTx{repo: m})
}

func (m *memRepository) GetHeader(_ context.Context, id uuid.UUID) (*Header, error) {
	if h, ok := m.headers[id]; ok {
		cp := *h
		return &cp, nil
	}
	return nil, nil
}

func (m *memRepository) FindHeader(_ context.Context, employeeID uuid.UUID, month time.Time) (*Header, error) {
	for _, h := range m.headers {
		if h.EmployeeID == employeeID && h.Month.Equal(month) {
			cp := *h
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memRepository) ListWorklogs(_ context.Context, headerID uuid.UUID) ([]Worklog, error) {
	var out []Worklog
	for _, w := range m.worklogs {
		if w.HeaderID == headerID {
			out = append(out, w)
		}
	}
	return out, nil
}

type memTx struct {
	repo *memRepository
}

func (t *memTx) GetHeaderForUpdate(ctx context.Context, id uuid.UUID) (*Header, error) {
	return t.repo.GetHeader(ctx, id)
}

func (t *memTx) FindHeaderForUpdate(ctx context.Context, employeeID uuid.UUID, month time.Time) (*Header, error) {
	return t.repo.FindHeader(ctx, employeeID, month)
}

func (t *memTx) InsertHeader(_ context.Context, h Header) error {
	t.repo.headers[h.ID] = &h
	return nil
}

func (t *memTx) UpdateHeaderState(_ context.Context, id uuid.UUID, expectedVersion int64, status Status, decidedBy *uuid.UUID, at time.Time) (*Header, error) {
	h, ok := t.repo.headers[id]
	if !ok || h.Version != expectedVersion {
		return nil, db.ErrVersionConflict
	}
	switch status {
	case StatusSubmitted:
		h.SubmittedAt = &at
	case StatusApproved:
		h.DecidedAt = &at
		h.DecidedBy = decidedBy
	}
	h.Status = status
	h.Version++
	cp := *h
	return &cp, nil
}

func (t *memTx) InsertWorklog(_ context.Context, w Worklog) error {
	t.repo.worklogs = append(t.repo.worklogs, w)
	return nil
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

func actorContext() context.Context {
	return shared.ContextWithActor(context.Background(), shared.Actor{ID: uuid.New(), Email: "lead@example.com"})
}

func TestAddWorklogCreatesHeaderOnFirstUse(t *testing.T) {
	repo := newMemRepository()
	svc := NewService(repo)
	ctx := actorContext()
	emp := uuid.New()

	header, log, err := svc.AddWorklog(ctx, WorklogInput{
		EmployeeID: emp,
		WorkDate:   time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
		Hours:      dec("7.5"),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, header.Status)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), header.Month)
	assert.Equal(t, header.ID, log.HeaderID)

	// A second line in the same month reuses the header.
	header2, _, err := svc.AddWorklog(ctx, WorklogInput{
		EmployeeID: emp,
		WorkDate:   time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC),
		Hours:      dec("8"),
	})
	require.NoError(t, err)
	assert.Equal(t, header.ID, header2.ID)
	assert.Len(t, repo.worklogs, 2)
	require.Len(t, repo.headers, 1)
}

func TestAddWorklogRejectedInClosedMonth(t *testing.T) {
	repo := newMemRepository()
	repo.closedMonths["2025-05"] = true
	svc := NewService(repo)

	_, _, err := svc.AddWorklog(actorContext(), WorklogInput{
		EmployeeID:     uuid.New(),
		WorkDate:       time.Date(2025, 5, 30, 0, 0, 0, 0, time.UTC),
		Hours:          dec("8"),
		OverrideReason: "forgot to log it",
	})
	require.Error(t, err)
	assert.Equal(t, shared.KindMonthClosed, shared.KindOf(err))
	assert.Empty(t, repo.worklogs)
}

func TestWorklogHoursBounds(t *testing.T) {
	svc := NewService(newMemRepository())
	ctx := actorContext()
	day := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)

	_, _, err := svc.AddWorklog(ctx, WorklogInput{EmployeeID: uuid.New(), WorkDate: day, Hours: dec("0")})
	require.Error(t, err)

	_, _, err = svc.AddWorklog(ctx, WorklogInput{EmployeeID: uuid.New(), WorkDate: day, Hours: dec("25")})
	require.Error(t, err)
}

func TestTimesheetApprovalFlow(t *testing.T) {
	repo := newMemRepository()
	svc := NewService(repo)
	ctx := actorContext()
	emp := uuid.New()

	header, _, err := svc.AddWorklog(ctx, WorklogInput{
		EmployeeID: emp,
		WorkDate:   time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
		Hours:      dec("8"),
	})
	require.NoError(t, err)

	header, err = svc.Submit(ctx, header.ID, header.Version, "")
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, header.Status)

	// No more worklogs once submitted.
	_, _, err = svc.AddWorklog(ctx, WorklogInput{
		EmployeeID: emp,
		WorkDate:   time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC),
		Hours:      dec("8"),
	})
	require.Error(t, err)
	assert.Equal(t, shared.KindConflict, shared.KindOf(err))

	// Reviewer returns it, employee fixes, resubmits, approved.
	header, err = svc.Return(ctx, header.ID, header.Version, "")
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, header.Status)

	header, err = svc.Submit(ctx, header.ID, header.Version, "")
	require.NoError(t, err)
	header, err = svc.Approve(ctx, header.ID, header.Version, "")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, header.Status)
	require.NotNil(t, header.DecidedBy)

	// Approved is terminal.
	_, err = svc.Return(ctx, header.ID, header.Version, "")
	require.Error(t, err)
}

func TestTimesheetStaleVersionConflicts(t *testing.T) {
	repo := newMemRepository()
	svc := NewService(repo)
	ctx := actorContext()

	header, _, err := svc.AddWorklog(ctx, WorklogInput{
		EmployeeID: uuid.New(),
		WorkDate:   time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
		Hours:      dec("8"),
	})
	require.NoError(t, err)

	_, err = svc.Submit(ctx, header.ID, header.Version, "")
	require.NoError(t, err)

	_, err = svc.Approve(ctx, header.ID, header.Version, "")
	require.Error(t, err)
	assert.Equal(t, shared.KindConflict, shared.KindOf(err))
}
