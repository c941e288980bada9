package payroll

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-hr/meridian-hr/internal/close"
	"github.com/meridian-hr/meridian-hr/internal/platform/httpx"
)

// Handler serves payroll endpoints.
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

// MountRoutes registers payroll routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/runs", h.listRuns)
	r.Post("/runs", h.createRun)
	r.Get("/runs/{id}", h.getRun)
	r.Post("/runs/{id}/compute", h.compute)
	r.Post("/runs/{id}/review", h.review)
	r.Post("/runs/{id}/lock", h.lock)
	r.Post("/runs/{id}/close", h.closeRun)
	r.Post("/runs/{id}/items", h.addAdjustment)
	r.Get("/runs/{id}/payments", h.listPayments)
	r.Post("/runs/{id}/payments", h.recordPayment)
	r.Get("/runs/{id}/payslips/{employeeId}", h.payslip)
}

func (h *Handler) idParam(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	return id, err == nil
}

type createRunRequest struct {
	Month          string `json:"month" validate:"required"`
	OverrideReason string `json:"overrideReason"`
}

func (h *Handler) createRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}
	month, err := close.ParseMonth(req.Month)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	run, err := h.service.CreateRun(r.Context(), month, req.OverrideReason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, run)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	runs, err := h.service.ListRuns(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_ID", "run id must be a UUID")
		return
	}
	run, items, err := h.service.GetRun(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"run": run, "items": items})
}

type transitionRequest struct {
	ExpectedVersion int64  `json:"expectedVersion" validate:"required"`
	OverrideReason  string `json:"overrideReason"`
}

func (h *Handler) decodeTransition(w http.ResponseWriter, r *http.Request) (uuid.UUID, transitionRequest, bool) {
	id, ok := h.idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_ID", "run id must be a UUID")
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

func (h *Handler) compute(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.decodeTransition(w, r)
	if !ok {
		return
	}
	run, items, err := h.service.ComputeDraft(r.Context(), id, req.ExpectedVersion, req.OverrideReason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"run": run, "items": items})
}

func (h *Handler) review(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.decodeTransition(w, r)
	if !ok {
		return
	}
	run, err := h.service.Review(r.Context(), id, req.ExpectedVersion, req.OverrideReason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, run)
}

func (h *Handler) lock(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.decodeTransition(w, r)
	if !ok {
		return
	}
	run, err := h.service.Lock(r.Context(), id, req.ExpectedVersion, req.OverrideReason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, run)
}

func (h *Handler) closeRun(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.decodeTransition(w, r)
	if !ok {
		return
	}
	run, err := h.service.CloseRun(r.Context(), id, req.ExpectedVersion, req.OverrideReason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, run)
}

type adjustmentRequest struct {
	ExpectedVersion int64  `json:"expectedVersion" validate:"required"`
	EmployeeID      string `json:"employeeId" validate:"required,uuid"`
	Type            string `json:"type" validate:"required"`
	Description     string `json:"description" validate:"required"`
	Amount          string `json:"amount" validate:"required"`
	Reason          string `json:"reason" validate:"required"`
	OverrideReason  string `json:"overrideReason"`
}

func (h *Handler) addAdjustment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_ID", "run id must be a UUID")
		return
	}
	var req adjustmentRequest
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
	employeeID, _ := uuid.Parse(req.EmployeeID)

	item, err := h.service.AddAdjustment(r.Context(), AdjustmentInput{
		RunID:           id,
		ExpectedVersion: req.ExpectedVersion,
		EmployeeID:      employeeID,
		Type:            ItemType(req.Type),
		Description:     req.Description,
		Amount:          amount,
		Reason:          req.Reason,
		OverrideReason:  req.OverrideReason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

type paymentRequest struct {
	EmployeeID     string `json:"employeeId" validate:"required,uuid"`
	Amount         string `json:"amount" validate:"required"`
	PaidAt         string `json:"paidAt" validate:"required"`
	Method         string `json:"method"`
	Reference      string `json:"reference"`
	OverrideReason string `json:"overrideReason"`
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_ID", "run id must be a UUID")
		return
	}
	var req paymentRequest
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
	paidAt, err := time.ParseInLocation("2006-01-02", req.PaidAt, time.UTC)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_DATE", "paidAt must be YYYY-MM-DD")
		return
	}
	employeeID, _ := uuid.Parse(req.EmployeeID)

	run, err := h.service.RecordPayment(r.Context(), PaymentInput{
		RunID:          id,
		EmployeeID:     employeeID,
		Amount:         amount,
		PaidAt:         paidAt,
		Method:         req.Method,
		Reference:      req.Reference,
		OverrideReason: req.OverrideReason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, run)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_ID", "run id must be a UUID")
		return
	}
	payments, err := h.service.ListPayments(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (h *Handler) payslip(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_ID", "run id must be a UUID")
		return
	}
	employeeID, err := uuid.Parse(chi.URLParam(r, "employeeId"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_ID", "employee id must be a UUID")
		return
	}
	run, items, err := h.service.GetRun(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if run.Status == RunDraft || run.Status == RunReviewed {
		httpx.Problem(w, http.StatusConflict, "RUN_NOT_LOCKED", "payslips are available once the run locks")
		return
	}
	httpx.JSON(w, http.StatusOK, BuildPayslip(run, employeeID, items))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("payroll request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}
