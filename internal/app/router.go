package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-hr/meridian-hr/internal/audit"
	"github.com/meridian-hr/meridian-hr/internal/auth"
	"github.com/meridian-hr/meridian-hr/internal/close"
	"github.com/meridian-hr/meridian-hr/internal/employee"
	"github.com/meridian-hr/meridian-hr/internal/expense"
	"github.com/meridian-hr/meridian-hr/internal/income"
	"github.com/meridian-hr/meridian-hr/internal/observability"
	"github.com/meridian-hr/meridian-hr/internal/payroll"
	"github.com/meridian-hr/meridian-hr/internal/shared"
	"github.com/meridian-hr/meridian-hr/internal/timesheet"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	AuthService    *auth.Service
	Metrics        *observability.Metrics

	AuthHandler      *auth.Handler
	EmployeeHandler  *employee.Handler
	ExpenseHandler   *expense.Handler
	IncomeHandler    *income.Handler
	PayrollHandler   *payroll.Handler
	TimesheetHandler *timesheet.Handler
	CloseHandler     *close.Handler
	AuditHandler     *audit.Handler
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		AuthService:    params.AuthService,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)
	if params.Metrics != nil {
		r.Use(params.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth)

		r.Route("/employees", params.EmployeeHandler.MountRoutes)
		r.Route("/expenses", params.ExpenseHandler.MountRoutes)
		r.Route("/income", params.IncomeHandler.MountRoutes)
		r.Route("/payroll", params.PayrollHandler.MountRoutes)
		r.Route("/timesheets", params.TimesheetHandler.MountRoutes)
		r.Route("/close", params.CloseHandler.MountRoutes)
		r.Route("/audit", params.AuditHandler.MountRoutes)
	})

	return r
}
