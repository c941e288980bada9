package timesheet

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-hr/meridian-hr/internal/close"
	"github.com/meridian-hr/meridian-hr/internal/platform/httpx"
)

// Handler serves timesheet endpoints.
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

// MountRoutes registers timesheet routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.find)
	r.Post("/worklogs", h.addWorklog)
	r.Get("/{id}", h.get)
	r.Post("/{id}/submit", h.submit)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/return", h.returnSheet)
}

type worklogRequest struct {
	EmployeeID     string `json:"employeeId" validate:"required,uuid"`
	WorkDate       string `json:"workDate" validate:"required"`
	Hours          string `json:"hours" validate:"required"`
	Note           string `json:"note"`
	OverrideReason string `json:"overrideReason"`
}

func (h *Handler) addWorklog(w http.ResponseWriter, r *http.Request) {
	var req worklogRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}
	workDate, err := time.ParseInLocation("2006-01-02", req.WorkDate, time.UTC)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_DATE", "workDate must be YYYY-MM-DD")
		return
	}
	hours, err := decimal.NewFromString(req.Hours)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_HOURS", "hours must be a decimal number")
		return
	}
	employeeID, _ := uuid.Parse(req.EmployeeID)

	header, log, err := h.service.AddWorklog(r.Context(), WorklogInput{
		EmployeeID:     employeeID,
		WorkDate:       workDate,
		Hours:          hours,
		Note:           req.Note,
		OverrideReason: req.OverrideReason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"timesheet": header, "worklog": log})
}

func (h *Handler) find(w http.ResponseWriter, r *http.Request) {
	employeeID, err := uuid.Parse(r.URL.Query().Get("employeeId"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_EMPLOYEE", "employeeId must be a UUID")
		return
	}
	month, err := close.ParseMonth(r.URL.Query().Get("month"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	header, logs, err := h.service.Find(r.Context(), employeeID, month)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"timesheet": header, "worklogs": logs})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_ID", "timesheet id must be a UUID")
		return
	}
	header, logs, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"timesheet": header, "worklogs": logs})
}

type transitionRequest struct {
	ExpectedVersion int64  `json:"expectedVersion" validate:"required"`
	OverrideReason  string `json:"overrideReason"`
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request,
	do func(ctx context.Context, id uuid.UUID, version int64, override string) (Header, error)) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_ID", "timesheet id must be a UUID")
		return
	}
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}
	header, err := do(r.Context(), id, req.ExpectedVersion, req.OverrideReason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, header)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Submit)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Approve)
}

func (h *Handler) returnSheet(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Return)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("timesheet request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}
