package employee

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

// Handler serves employee endpoints.
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

// MountRoutes registers employee routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Patch("/{id}", h.updateProfile)
	r.Post("/{id}/scope", h.changeScope)
	r.Post("/{id}/status", h.changeStatus)
	r.Get("/{id}/scope-history", h.scopeHistory)
	r.Post("/{id}/compensation", h.addCompensation)
	r.Get("/{id}/compensation", h.compensationHistory)
}

func (h *Handler) idParam(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	return id, err == nil
}

type createRequest struct {
	Code       string  `json:"code" validate:"required"`
	FirstName  string  `json:"firstName" validate:"required"`
	LastName   string  `json:"lastName"`
	Email      string  `json:"email" validate:"omitempty,email"`
	ScopeType  string  `json:"scopeType" validate:"required"`
	DivisionID *string `json:"divisionId"`
	JoinedOn   string  `json:"joinedOn" validate:"required"`
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
	joinedOn, err := time.ParseInLocation("2006-01-02", req.JoinedOn, time.UTC)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_DATE", "joinedOn must be YYYY-MM-DD")
		return
	}
	divisionID, ok := parseOptionalUUID(req.DivisionID)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_DIVISION", "divisionId must be a UUID")
		return
	}

	emp, err := h.service.Create(r.Context(), CreateInput{
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Code:           req.Code,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Email:          req.Email,
		ScopeType:      ScopeType(req.ScopeType),
		DivisionID:     divisionID,
		JoinedOn:       joinedOn,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, emp)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	employees, err := h.service.List(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"employees": employees})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_ID", "employee id must be a UUID")
		return
	}
	emp, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, emp)
}

type profileRequest struct {
	ExpectedVersion int64   `json:"expectedVersion" validate:"required"`
	FirstName       *string `json:"firstName"`
	LastName        *string `json:"lastName"`
	Email           *string `json:"email"`
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_ID", "employee id must be a UUID")
		return
	}
	var req profileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}
	emp, err := h.service.UpdateProfile(r.Context(), id, req.ExpectedVersion, ProfileUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, emp)
}

type scopeRequest struct {
	ExpectedVersion int64   `json:"expectedVersion" validate:"required"`
	ScopeType       string  `json:"scopeType" validate:"required"`
	DivisionID      *string `json:"divisionId"`
	EffectiveAt     string  `json:"effectiveAt" validate:"required"`
	Reason          string  `json:"reason"`
}

func (h *Handler) changeScope(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_ID", "employee id must be a UUID")
		return
	}
	var req scopeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}
	effectiveAt, err := time.Parse(time.RFC3339, req.EffectiveAt)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_DATE", "effectiveAt must be RFC3339")
		return
	}
	divisionID, ok := parseOptionalUUID(req.DivisionID)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_DIVISION", "divisionId must be a UUID")
		return
	}
	emp, err := h.service.ChangeScope(r.Context(), ScopeChangeInput{
		EmployeeID:      id,
		ExpectedVersion: req.ExpectedVersion,
		ScopeType:       ScopeType(req.ScopeType),
		DivisionID:      divisionID,
		EffectiveAt:     effectiveAt,
		Reason:          req.Reason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, emp)
}

type statusRequest struct {
	ExpectedVersion int64  `json:"expectedVersion" validate:"required"`
	Status          string `json:"status" validate:"required"`
	Reason          string `json:"reason"`
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_ID", "employee id must be a UUID")
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}
	emp, err := h.service.ChangeStatus(r.Context(), id, req.ExpectedVersion, Status(req.Status), req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, emp)
}

type compensationRequest struct {
	Amount        string `json:"amount" validate:"required"`
	Currency      string `json:"currency" validate:"required,len=3"`
	Frequency     string `json:"frequency" validate:"required"`
	EffectiveFrom string `json:"effectiveFrom" validate:"required"`
	Reason        string `json:"reason" validate:"required"`
}

func (h *Handler) addCompensation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_ID", "employee id must be a UUID")
		return
	}
	var req compensationRequest
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
	effectiveFrom, err := time.ParseInLocation("2006-01-02", req.EffectiveFrom, time.UTC)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_DATE", "effectiveFrom must be YYYY-MM-DD")
		return
	}
	version, err := h.service.AddCompensationVersion(r.Context(), CompensationInput{
		EmployeeID:    id,
		Amount:        amount,
		Currency:      req.Currency,
		Frequency:     Frequency(req.Frequency),
		EffectiveFrom: effectiveFrom,
		Reason:        req.Reason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, version)
}

func (h *Handler) scopeHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_ID", "employee id must be a UUID")
		return
	}
	history, err := h.service.ScopeHistory(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"versions": history})
}

func (h *Handler) compensationHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_ID", "employee id must be a UUID")
		return
	}
	history, err := h.service.CompensationHistory(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"versions": history})
}

func parseOptionalUUID(raw *string) (*uuid.UUID, bool) {
	if raw == nil || *raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(*raw)
	if err != nil {
		return nil, false
	}
	return &id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("employee request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}
