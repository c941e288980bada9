package income

import (
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

// Handler serves income endpoints.
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

// MountRoutes registers income routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Post("/{id}/submit", h.submit)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/reject", h.reject)
	r.Post("/{id}/close", h.close)
	r.Get("/{id}/receipts", h.listReceipts)
	r.Post("/{id}/receipts", h.recordReceipt)
}

func (h *Handler) idParam(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	return id, err == nil
}

type createRequest struct {
	IncomeDate     string  `json:"incomeDate" validate:"required"`
	Source         string  `json:"source" validate:"required"`
	Description    string  `json:"description"`
	Amount         string  `json:"amount" validate:"required"`
	Currency       string  `json:"currency" validate:"required,len=3"`
	DivisionID     *string `json:"divisionId"`
	OverrideReason string  `json:"overrideReason"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}
	incomeDate, err := time.ParseInLocation("2006-01-02", req.IncomeDate, time.UTC)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_DATE", "incomeDate must be YYYY-MM-DD")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_AMOUNT", "amount must be a decimal number")
		return
	}
	var divisionID *uuid.UUID
	if req.DivisionID != nil && *req.DivisionID != "" {
		id, err := uuid.Parse(*req.DivisionID)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "INVALID_DIVISION", "divisionId must be a UUID")
			return
		}
		divisionID = &id
	}

	inc, err := h.service.Create(r.Context(), CreateInput{
		IncomeDate:     incomeDate,
		Source:         req.Source,
		Description:    req.Description,
		Amount:         amount,
		Currency:       req.Currency,
		DivisionID:     divisionID,
		OverrideReason: req.OverrideReason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inc)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Status: Status(q.Get("status"))}
	if raw := q.Get("from"); raw != "" {
		t, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "INVALID_DATE", "from must be YYYY-MM-DD")
			return
		}
		filter.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "INVALID_DATE", "to must be YYYY-MM-DD")
			return
		}
		filter.To = t
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	records, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"income": records})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_ID", "income id must be a UUID")
		return
	}
	inc, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inc)
}

type transitionRequest struct {
	ExpectedVersion int64  `json:"expectedVersion" validate:"required"`
	Note            string `json:"note"`
	OverrideReason  string `json:"overrideReason"`
}

func (h *Handler) decodeTransition(w http.ResponseWriter, r *http.Request) (uuid.UUID, transitionRequest, bool) {
	id, ok := h.idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_ID", "income id must be a UUID")
		return uuid.Nil, transitionRequest{}, false
	}
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON")
		return uuid.Nil, transitionRequest{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return uuid.Nil, transitionRequest{}, false
	}
	return id, req, true
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.decodeTransition(w, r)
	if !ok {
		return
	}
	inc, err := h.service.Submit(r.Context(), id, req.ExpectedVersion, req.OverrideReason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inc)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.decodeTransition(w, r)
	if !ok {
		return
	}
	inc, err := h.service.Approve(r.Context(), id, req.ExpectedVersion, req.Note, req.OverrideReason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inc)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.decodeTransition(w, r)
	if !ok {
		return
	}
	inc, err := h.service.Reject(r.Context(), id, req.ExpectedVersion, req.Note, req.OverrideReason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inc)
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.decodeTransition(w, r)
	if !ok {
		return
	}
	inc, err := h.service.Close(r.Context(), id, req.ExpectedVersion, req.OverrideReason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inc)
}

type receiptRequest struct {
	Amount         string `json:"amount" validate:"required"`
	ReceivedAt     string `json:"receivedAt" validate:"required"`
	Method         string `json:"method"`
	Reference      string `json:"reference"`
	OverrideReason string `json:"overrideReason"`
}

func (h *Handler) recordReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_ID", "income id must be a UUID")
		return
	}
	var req receiptRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_AMOUNT", "amount must be a decimal number")
		return
	}
	receivedAt, err := time.ParseInLocation("2006-01-02", req.ReceivedAt, time.UTC)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_DATE", "receivedAt must be YYYY-MM-DD")
		return
	}

	inc, err := h.service.RecordReceipt(r.Context(), ReceiptInput{
		IncomeID:       id,
		Amount:         amount,
		ReceivedAt:     receivedAt,
		Method:         req.Method,
		Reference:      req.Reference,
		OverrideReason: req.OverrideReason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inc)
}

func (h *Handler) listReceipts(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_ID", "income id must be a UUID")
		return
	}
	receipts, err := h.service.ListReceipts(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"receipts": receipts})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("income request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}
