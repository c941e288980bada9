package close

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-hr/meridian-hr/internal/platform/httpx"
)

// Handler serves the month close endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers month close routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/months", h.listRecords)
	r.Get("/months/{month}", h.status)
	r.Get("/months/{month}/preview", h.preview)
	r.Get("/months/{month}/snapshot", h.snapshot)
	r.Get("/months/{month}/summary", h.summary)
	r.Post("/months/{month}/close", h.closeMonth)
	r.Post("/months/{month}/reopen", h.reopenMonth)
	r.Get("/months/{month}/adjustments", h.listAdjustments)
	r.Post("/adjustments", h.createAdjustment)
}

type recordResponse struct {
	Month    string     `json:"month"`
	Scope    string     `json:"scope"`
	Status   string     `json:"status"`
	Reason   string     `json:"reason,omitempty"`
	ClosedAt *time.Time `json:"closedAt,omitempty"`
	ClosedBy *uuid.UUID `json:"closedBy,omitempty"`
}

func toRecordResponse(rec Record) recordResponse {
	return recordResponse{
		Month:    FormatMonth(rec.Month),
		Scope:    string(rec.Scope),
		Status:   string(rec.Status),
		Reason:   rec.Reason,
		ClosedAt: rec.ClosedAt,
		ClosedBy: rec.ClosedBy,
	}
}

func (h *Handler) monthParam(r *http.Request) (time.Time, error) {
	return ParseMonth(chi.URLParam(r, "month"))
}

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	records, err := h.service.ListRecords(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toRecordResponse(rec))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"records": out})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	month, err := h.monthParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rec, err := h.service.Status(r.Context(), month)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRecordResponse(rec))
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	month, err := h.monthParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	preview, err := h.service.PreviewMonth(r.Context(), month)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, preview)
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	month, err := h.monthParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	snap, err := h.service.GetSnapshot(r.Context(), month)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if snap == nil {
		httpx.Problem(w, http.StatusNotFound, "NOT_FOUND", "no snapshot exists for this month")
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	month, err := h.monthParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	summary, err := h.service.MonthSummary(r.Context(), month)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

type closeMonthRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) closeMonth(w http.ResponseWriter, r *http.Request) {
	month, err := h.monthParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req closeMonthRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON")
			return
		}
	}
	result, err := h.service.CloseMonth(r.Context(), month, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"record":   toRecordResponse(result.Record),
		"snapshot": result.Snapshot,
	})
}

func (h *Handler) reopenMonth(w http.ResponseWriter, r *http.Request) {
	month, err := h.monthParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.ReopenMonth(r.Context(), month); err != nil {
		h.fail(w, r, err)
		return
	}
	// Unreachable today: reopen always errors.
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "OPEN"})
}

type adjustmentRequest struct {
	TargetMonth    string  `json:"targetMonth" validate:"required"`
	AdjustmentDate string  `json:"adjustmentDate" validate:"required"`
	TargetType     string  `json:"targetType" validate:"required"`
	TargetID       *string `json:"targetId"`
	Direction      string  `json:"direction" validate:"required"`
	Amount         string  `json:"amount" validate:"required"`
	Reason         string  `json:"reason" validate:"required"`
}

func (h *Handler) createAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}

	targetMonth, err := ParseMonth(req.TargetMonth)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	adjustmentDate, err := time.ParseInLocation("2006-01-02", req.AdjustmentDate, time.UTC)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_DATE", "adjustmentDate must be YYYY-MM-DD")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_AMOUNT", "amount must be a decimal number")
		return
	}
	var targetID *uuid.UUID
	if req.TargetID != nil {
		id, err := uuid.Parse(*req.TargetID)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "INVALID_TARGET_ID", "targetId must be a UUID")
			return
		}
		targetID = &id
	}

	adj, err := h.service.CreateAdjustment(r.Context(), AdjustmentInput{
		TargetMonth:    targetMonth,
		AdjustmentDate: adjustmentDate,
		TargetType:     TargetType(req.TargetType),
		TargetID:       targetID,
		Direction:      Direction(req.Direction),
		Amount:         amount,
		Reason:         req.Reason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, adj)
}

func (h *Handler) listAdjustments(w http.ResponseWriter, r *http.Request) {
	month, err := h.monthParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	adjustments, err := h.service.ListAdjustments(r.Context(), month)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"adjustments": adjustments})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var notReady *NotReadyError
	if errors.As(err, &notReady) {
		httpx.JSON(w, http.StatusConflict, map[string]any{
			"code":   "MONTH_NOT_READY",
			"issues": notReady.Issues,
		})
		return
	}
	h.logger.Error("close request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}
