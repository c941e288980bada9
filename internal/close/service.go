package close

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-hr/meridian-hr/internal/audit"
	"github.com/meridian-hr/meridian-hr/internal/shared"
)

// Service orchestrates the accounting month lifecycle.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Status returns the governing close record for a month. A month with
// no history is implicitly open.
func (s *Service) Status(ctx context.Context, month time.Time) (Record, error) {
	latest, err := s.repo.Latest(ctx, month, ScopeCompany)
	if err != nil {
		return Record{}, err
	}
	if latest == nil {
		return OpenRecord(month, ScopeCompany), nil
	}
	return *latest, nil
}

// ListRecords returns the close history, newest month first.
func (s *Service) ListRecords(ctx context.Context, limit, offset int) ([]Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListRecords(ctx, limit, offset)
}

// PreviewMonth reports what a close of the month would freeze right
// now, plus whatever is still blocking it. It shares the aggregation
// code with CloseMonth so the numbers cannot drift apart.
func (s *Service) PreviewMonth(ctx context.Context, month time.Time) (Preview, error) {
	m := MonthOf(month)
	issues, err := s.repo.BlockingIssues(ctx, m)
	if err != nil {
		return Preview{}, err
	}
	totals, err := s.repo.Totals(ctx, m)
	if err != nil {
		return Preview{}, err
	}
	return Preview{
		Month:        m,
		ReadyToClose: len(issues) == 0,
		Issues:       issues,
		Totals:       totals,
	}, nil
}

// CloseResult bundles the close record with the snapshot it froze.
type CloseResult struct {
	Record   Record
	Snapshot Snapshot
}

// CloseMonth transitions a month to CLOSED and freezes its snapshot in
// the same transaction. Closing an already-closed month returns the
// existing record and snapshot without writing anything, so retries
// are harmless. There is no transition back: see ReopenMonth.
func (s *Service) CloseMonth(ctx context.Context, month time.Time, reason string) (CloseResult, error) {
	m := MonthOf(month)
	actor := shared.ActorFromContext(ctx)

	var result CloseResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		latest, err := tx.LatestForUpdate(ctx, m, ScopeCompany)
		if err != nil {
			return err
		}
		if latest != nil && latest.Status == StatusClosed {
			snap, err := tx.GetSnapshot(ctx, m, ScopeCompany, 1)
			if err != nil {
				return err
			}
			result.Record = *latest
			if snap != nil {
				result.Snapshot = *snap
			}
			return nil
		}

		issues, err := tx.BlockingIssues(ctx, m)
		if err != nil {
			return err
		}
		if len(issues) > 0 {
			return &NotReadyError{Issues: issues}
		}

		snap, err := tx.GetSnapshot(ctx, m, ScopeCompany, 1)
		if err != nil {
			return err
		}
		if snap == nil {
			totals, err := tx.Totals(ctx, m)
			if err != nil {
				return err
			}
			snap = &Snapshot{
				ID:              uuid.New(),
				Month:           m,
				Scope:           ScopeCompany,
				SnapshotVersion: 1,
				Totals:          totals,
				CreatedAt:       s.now().UTC(),
				CreatedBy:       actorRef(actor),
			}
			if err := tx.InsertSnapshot(ctx, *snap); err != nil {
				return err
			}
		}

		closedAt := s.now().UTC()
		rec := Record{
			ID:        uuid.New(),
			Month:     m,
			Scope:     ScopeCompany,
			Status:    StatusClosed,
			Reason:    reason,
			ClosedAt:  &closedAt,
			ClosedBy:  actorRef(actor),
			CreatedAt: closedAt,
		}
		if err := tx.InsertRecord(ctx, rec); err != nil {
			return err
		}

		result.Record = rec
		result.Snapshot = *snap
		return tx.Audit(ctx, audit.Entry{
			RequestID:  shared.RequestIDFromContext(ctx),
			ActorID:    actor.ID,
			EntityType: "MONTH_CLOSE",
			EntityID:   FormatMonth(m),
			Action:     "MONTH_CLOSED",
			After: map[string]any{
				"month":  FormatMonth(m),
				"scope":  string(ScopeCompany),
				"status": string(StatusClosed),
				"reason": reason,
			},
			Reason: reason,
		})
	})
	if err != nil {
		return CloseResult{}, err
	}
	return result, nil
}

// ReopenMonth exists so the API can answer the request explicitly: a
// closed month stays closed. Corrections go through the adjustment
// ledger instead.
func (s *Service) ReopenMonth(ctx context.Context, month time.Time) error {
	latest, err := s.repo.Latest(ctx, month, ScopeCompany)
	if err != nil {
		return err
	}
	if latest == nil || latest.Status != StatusClosed {
		return shared.BadRequest("MONTH_NOT_CLOSED", "month is not closed")
	}
	return ErrReopenForbidden
}

// CreateAdjustment appends a correction against a closed month. The
// target month must be closed, the adjustment date must land in an
// open month, and the snapshot being corrected is never touched.
func (s *Service) CreateAdjustment(ctx context.Context, in AdjustmentInput) (Adjustment, error) {
	if err := in.Validate(); err != nil {
		return Adjustment{}, err
	}
	actor := shared.ActorFromContext(ctx)

	var adj Adjustment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		target, err := tx.LatestForUpdate(ctx, in.TargetMonth, ScopeCompany)
		if err != nil {
			return err
		}
		if target == nil || target.Status != StatusClosed {
			return ErrTargetMonthOpen
		}
		if err := tx.EnsureMonthOpen(ctx, in.AdjustmentDate, ""); err != nil {
			return err
		}

		adj = Adjustment{
			ID:             uuid.New(),
			TargetMonth:    MonthOf(in.TargetMonth),
			AdjustmentDate: in.AdjustmentDate,
			TargetType:     in.TargetType,
			TargetID:       in.TargetID,
			Direction:      in.Direction,
			Amount:         in.Amount,
			Reason:         in.Reason,
			CreatedAt:      s.now().UTC(),
			CreatedBy:      actorRef(actor),
		}
		if err := tx.InsertAdjustment(ctx, adj); err != nil {
			return err
		}
		return tx.Audit(ctx, audit.Entry{
			RequestID:  shared.RequestIDFromContext(ctx),
			ActorID:    actor.ID,
			EntityType: "MONTH_ADJUSTMENT",
			EntityID:   adj.ID.String(),
			Action:     "ADJUSTMENT_CREATED",
			After: map[string]any{
				"targetMonth": FormatMonth(adj.TargetMonth),
				"targetType":  string(adj.TargetType),
				"direction":   string(adj.Direction),
				"amount":      adj.Amount.String(),
			},
			Reason: adj.Reason,
		})
	})
	if err != nil {
		return Adjustment{}, err
	}
	return adj, nil
}

// ListAdjustments returns the ledger for a target month in append order.
func (s *Service) ListAdjustments(ctx context.Context, targetMonth time.Time) ([]Adjustment, error) {
	return s.repo.ListAdjustments(ctx, targetMonth)
}

// GetSnapshot fetches the frozen snapshot of a closed month.
func (s *Service) GetSnapshot(ctx context.Context, month time.Time) (*Snapshot, error) {
	return s.repo.GetSnapshot(ctx, month, ScopeCompany, 1)
}

// Summary is a closed month's snapshot overlaid with its adjustments.
type Summary struct {
	Month          time.Time    `json:"month"`
	Snapshot       *Snapshot    `json:"snapshot"`
	Adjustments    []Adjustment `json:"adjustments"`
	AdjustedTotals Totals       `json:"adjustedTotals"`
}

// MonthSummary fetches the snapshot and the adjustment ledger
// concurrently and overlays one on the other. Read-only.
func (s *Service) MonthSummary(ctx context.Context, month time.Time) (Summary, error) {
	m := MonthOf(month)
	var (
		snap *Snapshot
		adjs []Adjustment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap, err = s.repo.GetSnapshot(gctx, m, ScopeCompany, 1)
		return err
	})
	g.Go(func() error {
		var err error
		adjs, err = s.repo.ListAdjustments(gctx, m)
		return err
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	if snap == nil {
		return Summary{}, shared.NotFound("no snapshot exists for this month")
	}
	return Summary{
		Month:          m,
		Snapshot:       snap,
		Adjustments:    adjs,
		AdjustedTotals: ApplyAdjustments(snap.Totals, adjs),
	}, nil
}

// ApplyAdjustments overlays the ledger on frozen totals. Expense-like
// targets move TotalExpense, payroll moves TotalPayroll, income moves
// TotalIncome; the net recomputes from the adjusted parts.
func ApplyAdjustments(totals Totals, adjs []Adjustment) Totals {
	adjusted := totals
	for _, adj := range adjs {
		delta := adj.Amount
		if adj.Direction == DirectionDecrease {
			delta = delta.Neg()
		}
		switch adj.TargetType {
		case TargetIncome:
			adjusted.TotalIncome = adjusted.TotalIncome.Add(delta)
		case TargetPayroll:
			adjusted.TotalPayroll = adjusted.TotalPayroll.Add(delta)
		default:
			adjusted.TotalExpense = adjusted.TotalExpense.Add(delta)
		}
	}
	adjusted.NetProfitLoss = adjusted.TotalIncome.Sub(adjusted.TotalExpense).Sub(adjusted.TotalPayroll)
	return adjusted
}

func actorRef(actor shared.Actor) *uuid.UUID {
	if actor.ID == uuid.Nil {
		return nil
	}
	id := actor.ID
	return &id
}
