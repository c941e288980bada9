package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-hr/meridian-hr/internal/audit"
	jobmetrics "github.com/meridian-hr/meridian-hr/internal/jobs"
	"github.com/meridian-hr/meridian-hr/internal/sysconfig"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// AuditRetentionJob deletes audit entries older than the configured window.
type AuditRetentionJob struct {
	Pool    *pgxpool.Pool
	Audit   *audit.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewAuditRetentionJob initialises the retention handler.
func NewAuditRetentionJob(pool *pgxpool.Pool, svc *audit.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditRetentionJob {
	return &AuditRetentionJob{
		Pool:    pool,
		Audit:   svc,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the retention sweep.
func (j *AuditRetentionJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Audit == nil {
		return errors.New("audit retention: handler not configured")
	}
	var payload AuditRetentionPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskAuditRetention)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	days := payload.RetentionDays
	if days <= 0 {
		loaded, err := sysconfig.IntValue(ctx, j.Pool, sysconfig.KeyAuditRetentionDays, 0)
		if err != nil {
			resultErr = err
			j.logger().Error("load retention window", slog.Any("error", err))
			return resultErr
		}
		days = loaded
	}
	if days <= 0 {
		j.logger().Info("retention disabled, nothing to purge")
		return nil
	}

	cutoff := j.now().AddDate(0, 0, -days)
	purged, err := j.Audit.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		resultErr = err
		j.logger().Error("purge failed", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddPurgedEntries(purged)
	j.logger().Info("retention sweep completed",
		slog.Int("retention_days", days),
		slog.Time("cutoff", cutoff),
		slog.Int64("purged", purged),
	)
	return resultErr
}

func (j *AuditRetentionJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAuditRetention))
	}
	return slog.Default().With(slog.String("job", TaskAuditRetention))
}

func (j *AuditRetentionJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *AuditRetentionJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
