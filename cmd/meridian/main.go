package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-hr/meridian-hr/internal/app"
	"github.com/meridian-hr/meridian-hr/internal/audit"
	"github.com/meridian-hr/meridian-hr/internal/auth"
	"github.com/meridian-hr/meridian-hr/internal/close"
	"github.com/meridian-hr/meridian-hr/internal/employee"
	"github.com/meridian-hr/meridian-hr/internal/expense"
	"github.com/meridian-hr/meridian-hr/internal/income"
	"github.com/meridian-hr/meridian-hr/internal/observability"
	"github.com/meridian-hr/meridian-hr/internal/payroll"
	"github.com/meridian-hr/meridian-hr/internal/platform/cache"
	"github.com/meridian-hr/meridian-hr/internal/platform/db"
	"github.com/meridian-hr/meridian-hr/internal/shared"
	"github.com/meridian-hr/meridian-hr/internal/timesheet"
	"github.com/meridian-hr/meridian-hr/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "meridian_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())

	recorder := audit.NewRecorder()
	guard := close.NewGuard()

	authService := auth.NewService(auth.NewRepository(pool))
	authHandler := auth.NewHandler(logger, authService, sessionManager)

	auditService := audit.NewService(pool)
	auditHandler := audit.NewHandler(logger, auditService)

	closeService := close.NewService(close.NewRepository(pool, recorder))
	closeHandler := close.NewHandler(logger, closeService)

	employeeService := employee.NewService(employee.NewRepository(pool, recorder))
	employeeHandler := employee.NewHandler(logger, employeeService)

	expenseService := expense.NewService(expense.NewRepository(pool, recorder, guard))
	expenseHandler := expense.NewHandler(logger, expenseService)

	incomeService := income.NewService(income.NewRepository(pool, recorder, guard))
	incomeHandler := income.NewHandler(logger, incomeService)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	payrollService := payroll.NewService(payroll.NewRepository(pool, recorder, guard), jobs.NewQueueNotifier(jobClient), logger)
	payrollHandler := payroll.NewHandler(logger, payrollService)

	timesheetService := timesheet.NewService(timesheet.NewRepository(pool, recorder, guard))
	timesheetHandler := timesheet.NewHandler(logger, timesheetService)

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		SessionManager:   sessionManager,
		AuthService:      authService,
		Metrics:          metrics,
		AuthHandler:      authHandler,
		EmployeeHandler:  employeeHandler,
		ExpenseHandler:   expenseHandler,
		IncomeHandler:    incomeHandler,
		PayrollHandler:   payrollHandler,
		TimesheetHandler: timesheetHandler,
		CloseHandler:     closeHandler,
		AuditHandler:     auditHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
