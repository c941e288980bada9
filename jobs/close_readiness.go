package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-hr/meridian-hr/internal/close"
	jobmetrics "github.com/meridian-hr/meridian-hr/internal/jobs"
)

// CloseReadinessJob reports whether a month could be closed right now.
// It never closes anything itself; closing stays a deliberate operator
// action through the API.
type CloseReadinessJob struct {
	Close   *close.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewCloseReadinessJob initialises the readiness scanner.
func NewCloseReadinessJob(svc *close.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *CloseReadinessJob {
	return &CloseReadinessJob{
		Close:   svc,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle runs the scan for the requested month, defaulting to the month
// before the current one.
func (j *CloseReadinessJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Close == nil {
		return errors.New("close readiness: handler not configured")
	}
	var payload CloseReadinessPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskCloseReadinessScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	month := close.MonthOf(j.now()).AddDate(0, -1, 0)
	if payload.Month != "" {
		parsed, err := close.ParseMonth(payload.Month)
		if err != nil {
			return asynq.SkipRetry
		}
		month = parsed
	}
	label := close.FormatMonth(month)

	status, err := j.Close.Status(ctx, month)
	if err != nil {
		resultErr = err
		j.logger().Error("load close status", slog.String("month", label), slog.Any("error", err))
		return resultErr
	}
	if status.Status == close.StatusClosed {
		j.metrics().SetBlockingIssues(label, 0)
		j.logger().Info("month already closed", slog.String("month", label))
		return nil
	}

	preview, err := j.Close.PreviewMonth(ctx, month)
	if err != nil {
		resultErr = err
		j.logger().Error("preview failed", slog.String("month", label), slog.Any("error", err))
		return resultErr
	}

	j.metrics().SetBlockingIssues(label, len(preview.Issues))
	if preview.ReadyToClose {
		j.logger().Info("month ready to close", slog.String("month", label))
		return nil
	}
	for _, issue := range preview.Issues {
		j.logger().Warn("close blocked",
			slog.String("month", label),
			slog.String("code", issue.Code),
			slog.Int("count", issue.Count),
		)
	}
	return resultErr
}

func (j *CloseReadinessJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskCloseReadinessScan))
	}
	return slog.Default().With(slog.String("job", TaskCloseReadinessScan))
}

func (j *CloseReadinessJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *CloseReadinessJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
