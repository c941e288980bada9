package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-hr/meridian-hr/internal/jobs"
	"github.com/meridian-hr/meridian-hr/internal/payroll"
	"github.com/meridian-hr/meridian-hr/internal/shared"
)

// PayslipNotifyJob renders payslips for a locked run and hands them to
// the delivery channel. Delivery is currently a structured log line per
// employee; SMTP wiring slots in behind the same handler.
type PayslipNotifyJob struct {
	Payroll *payroll.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewPayslipNotifyJob initialises the payslip handler.
func NewPayslipNotifyJob(svc *payroll.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *PayslipNotifyJob {
	return &PayslipNotifyJob{Payroll: svc, Logger: logger, Metrics: metrics}
}

// Handle renders one payslip per employee on the run.
func (j *PayslipNotifyJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Payroll == nil {
		return errors.New("payslip notify: handler not configured")
	}
	var payload PayslipNotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskPayslipNotify)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	run, items, err := j.Payroll.GetRun(ctx, payload.RunID)
	if err != nil {
		if shared.KindOf(err) == shared.KindNotFound {
			return asynq.SkipRetry
		}
		resultErr = err
		return resultErr
	}
	if run.Status == payroll.RunDraft || run.Status == payroll.RunReviewed {
		// The task outlived the run state it was enqueued for.
		return asynq.SkipRetry
	}

	logger := j.logger().With(slog.String("run_id", run.ID.String()), slog.String("month", payload.Month))
	nets := payroll.NetByEmployee(items)
	delivered := 0
	for employeeID := range nets {
		slip := payroll.BuildPayslip(run, employeeID, items)
		logger.Info("payslip delivered",
			slog.String("employee_id", employeeID.String()),
			slog.String("net", payroll.FormatAmount(slip.Net)),
			slog.Int("lines", len(slip.Lines)),
		)
		delivered++
	}
	logger.Info("payslip batch completed", slog.Int("delivered", delivered))
	return resultErr
}

func (j *PayslipNotifyJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPayslipNotify))
	}
	return slog.Default().With(slog.String("job", TaskPayslipNotify))
}

func (j *PayslipNotifyJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

// QueueNotifier bridges the payroll service to the job queue.
type QueueNotifier struct {
	Client *Client
	clock  func() time.Time
}

// NewQueueNotifier wraps an Asynq client as a payroll notifier.
func NewQueueNotifier(client *Client) *QueueNotifier {
	return &QueueNotifier{Client: client, clock: func() time.Time { return time.Now().UTC() }}
}

// NotifyRunLocked enqueues payslip delivery for the locked run.
func (n *QueueNotifier) NotifyRunLocked(ctx context.Context, runID uuid.UUID, month string) error {
	if n == nil || n.Client == nil {
		return errors.New("payslip notify: queue not configured")
	}
	_, err := n.Client.EnqueuePayslipNotify(ctx, PayslipNotifyPayload{
		RunID:    runID,
		Month:    month,
		LockedAt: n.clock(),
	})
	return err
}
