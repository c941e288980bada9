package expense

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

// Handler serves expense endpoints.
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

// MountRoutes registers expense routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/categories", h.listCategories)
	r.Post("/categories", h.createCategory)
	r.Patch("/categories/{id}", h.updateCategory)
	r.Get("/{id}", h.get)
	r.Patch("/{id}", h.updateDraft)
	r.Post("/{id}/submit", h.submit)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/reject", h.reject)
	r.Post("/{id}/close", h.close)
	r.Get("/{id}/payments", h.listPayments)
	r.Post("/{id}/payments", h.recordPayment)
}

func (h *Handler) idParam(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	return id, err == nil
}

type createRequest struct {
	ExpenseDate     string  `json:"expenseDate" validate:"required"`
	CategoryID      *string `json:"categoryId"`
	Title           string  `json:"title" validate:"required"`
	Description     string  `json:"description"`
	Amount          string  `json:"amount" validate:"required"`
	Currency        string  `json:"currency" validate:"required,len=3"`
	DivisionID      *string `json:"divisionId"`
	VendorName      string  `json:"vendorName"`
	IsReimbursement bool    `json:"isReimbursement"`
	EmployeeID      *string `json:"employeeId"`
	OverrideReason  string  `json:"overrideReason"`
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
	expenseDate, err := time.ParseInLocation("2006-01-02", req.ExpenseDate, time.UTC)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_DATE", "expenseDate must be YYYY-MM-DD")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_AMOUNT", "amount must be a decimal number")
		return
	}
	categoryID, ok := parseOptionalUUID(req.CategoryID)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_CATEGORY", "categoryId must be a UUID")
		return
	}
	divisionID, ok := parseOptionalUUID(req.DivisionID)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_DIVISION", "divisionId must be a UUID")
		return
	}
	employeeID, ok := parseOptionalUUID(req.EmployeeID)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_EMPLOYEE", "employeeId must be a UUID")
		return
	}

	e, err := h.service.Create(r.Context(), CreateInput{
		ExpenseDate:     expenseDate,
		CategoryID:      categoryID,
		Title:           req.Title,
		Description:     req.Description,
		Amount:          amount,
		Currency:        req.Currency,
		DivisionID:      divisionID,
		VendorName:      req.VendorName,
		IsReimbursement: req.IsReimbursement,
		EmployeeID:      employeeID,
		OverrideReason:  req.OverrideReason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, e)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Status: Status(q.Get("status"))}
	if raw := q.Get("divisionId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "INVALID_DIVISION", "divisionId must be a UUID")
			return
		}
		filter.DivisionID = &id
	}
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

	expenses, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"expenses": expenses})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_ID", "expense id must be a UUID")
		return
	}
	e, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

type draftUpdateRequest struct {
	ExpectedVersion int64   `json:"expectedVersion" validate:"required"`
	ExpenseDate     *string `json:"expenseDate"`
	CategoryID      *string `json:"categoryId"`
	Title           *string `json:"title"`
	Description     *string `json:"description"`
	Amount          *string `json:"amount"`
	VendorName      *string `json:"vendorName"`
	OverrideReason  string  `json:"overrideReason"`
}

func (h *Handler) updateDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_ID", "expense id must be a UUID")
		return
	}
	var req draftUpdateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}
	update := DraftUpdate{Title: req.Title, Description: req.Description, VendorName: req.VendorName}
	if req.ExpenseDate != nil {
		t, err := time.ParseInLocation("2006-01-02", *req.ExpenseDate, time.UTC)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "INVALID_DATE", "expenseDate must be YYYY-MM-DD")
			return
		}
		update.ExpenseDate = &t
	}
	if req.Amount != nil {
		amount, err := decimal.NewFromString(*req.Amount)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "INVALID_AMOUNT", "amount must be a decimal number")
			return
		}
		update.Amount = &amount
	}
	categoryID, ok := parseOptionalUUID(req.CategoryID)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_CATEGORY", "categoryId must be a UUID")
		return
	}
	update.CategoryID = categoryID

	e, err := h.service.UpdateDraft(r.Context(), id, req.ExpectedVersion, update, req.OverrideReason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

type transitionRequest struct {
	ExpectedVersion int64  `json:"expectedVersion" validate:"required"`
	Note            string `json:"note"`
	OverrideReason  string `json:"overrideReason"`
}

func (h *Handler) decodeTransition(w http.ResponseWriter, r *http.Request) (uuid.UUID, transitionRequest, bool) {
	id, ok := h.idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_ID", "expense id must be a UUID")
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
	e, err := h.service.Submit(r.Context(), id, req.ExpectedVersion, req.OverrideReason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.decodeTransition(w, r)
	if !ok {
		return
	}
	e, err := h.service.Approve(r.Context(), id, req.ExpectedVersion, req.Note, req.OverrideReason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.decodeTransition(w, r)
	if !ok {
		return
	}
	e, err := h.service.Reject(r.Context(), id, req.ExpectedVersion, req.Note, req.OverrideReason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.decodeTransition(w, r)
	if !ok {
		return
	}
	e, err := h.service.Close(r.Context(), id, req.ExpectedVersion, req.OverrideReason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

type paymentRequest struct {
	Amount         string `json:"amount" validate:"required"`
	PaidAt         string `json:"paidAt" validate:"required"`
	Method         string `json:"method"`
	Reference      string `json:"reference"`
	OverrideReason string `json:"overrideReason"`
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_ID", "expense id must be a UUID")
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

	e, err := h.service.RecordPayment(r.Context(), PaymentInput{
		ExpenseID:      id,
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
	httpx.JSON(w, http.StatusOK, e)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(r)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_ID", "expense id must be a UUID")
		return
	}
	payments, err := h.service.ListPayments(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"payments": payments})
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.ListCategories(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"categories": categories})
}

type categoryRequest struct {
	Name            string `json:"name" validate:"required"`
	IsActive        *bool  `json:"isActive"`
	ExpectedVersion int64  `json:"expectedVersion"`
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}
	c, err := h.service.CreateCategory(r.Context(), req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

func (h *Handler) updateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_ID", "category id must be a UUID")
		return
	}
	var req categoryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error())
		return
	}
	if req.ExpectedVersion == 0 {
		httpx.Problem(w, http.StatusBadRequest, "VALIDATION_FAILED", "expectedVersion is required")
		return
	}
	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}
	c, err := h.service.UpdateCategory(r.Context(), id, req.ExpectedVersion, req.Name, isActive)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("expense request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
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
