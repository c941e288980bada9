package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TimelineFilters narrows the audit listing.
type TimelineFilters struct {
	From       time.Time
	To         time.Time
	EntityType string
	EntityID   string
	Action     string
	Page       int
	PageSize   int
}

// TimelineRow is one listed audit record.
type TimelineRow struct {
	ID         string          `json:"id"`
	RequestID  string          `json:"requestId,omitempty"`
	ActorID    string          `json:"actorId,omitempty"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Action     string          `json:"action"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// PagingInfo carries pagination metadata.
type PagingInfo struct {
	Page     int  `json:"page"`
	PageSize int  `json:"pageSize"`
	HasNext  bool `json:"hasNext"`
}

// Result bundles rows with paging.
type Result struct {
	Rows   []TimelineRow `json:"rows"`
	Paging PagingInfo    `json:"paging"`
}

// Service reads the audit timeline.
type Service struct {
	pool *pgxpool.Pool
}

// NewService returns a Service backed by pool.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// Timeline lists audit records newest first. It fetches one row past
// the page boundary to detect whether a next page exists.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	var (
		conds []string
		args  []any
	)
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !filters.From.IsZero() {
		add("created_at >= $%d", filters.From)
	}
	if !filters.To.IsZero() {
		add("created_at <= $%d", filters.To)
	}
	if v := strings.TrimSpace(filters.EntityType); v != "" {
		add("entity_type = $%d", v)
	}
	if v := strings.TrimSpace(filters.EntityID); v != "" {
		add("entity_id = $%d", v)
	}
	if v := strings.TrimSpace(filters.Action); v != "" {
		add("action = $%d", v)
	}

	query := `SELECT id, COALESCE(request_id, ''), COALESCE(actor_id::text, ''), entity_type, entity_id, action, before, after, COALESCE(reason, ''), created_at FROM audit_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, pageSize+1, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return Result{}, fmt.Errorf("audit: timeline query: %w", err)
	}
	defer rows.Close()

	var result []TimelineRow
	for rows.Next() {
		var row TimelineRow
		if err := rows.Scan(&row.ID, &row.RequestID, &row.ActorID, &row.EntityType, &row.EntityID, &row.Action, &row.Before, &row.After, &row.Reason, &row.CreatedAt); err != nil {
			return Result{}, fmt.Errorf("audit: scan timeline row: %w", err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}

	hasNext := len(result) > pageSize
	if hasNext {
		result = result[:pageSize]
	}
	return Result{
		Rows:   result,
		Paging: PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext},
	}, nil
}

// PurgeOlderThan deletes audit rows past the retention horizon and
// returns the number removed. Only the retention job calls this.
func (s *Service) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("audit: purge: %w", err)
	}
	return tag.RowsAffected(), nil
}
