package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditRetention prunes audit log entries past their retention window.
	TaskAuditRetention = "audit:retention"
	// TaskCloseReadinessScan checks whether the previous month is ready to close.
	TaskCloseReadinessScan = "close:readiness_scan"
	// TaskPayslipNotify renders and delivers payslips for a locked run.
	TaskPayslipNotify = "payroll:payslip_notify"
)

// AuditRetentionPayload optionally overrides the configured retention window.
type AuditRetentionPayload struct {
	RetentionDays int `json:"retentionDays,omitempty"`
}

// NewAuditRetentionTask constructs the retention task.
func NewAuditRetentionTask(payload AuditRetentionPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRetention, data), nil
}

// CloseReadinessPayload names the month to inspect. A zero month means
// the month before the current one.
type CloseReadinessPayload struct {
	Month string `json:"month,omitempty"`
}

// NewCloseReadinessTask constructs the readiness scan task.
func NewCloseReadinessTask(payload CloseReadinessPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCloseReadinessScan, data), nil
}

// PayslipNotifyPayload identifies the locked run whose payslips should go out.
type PayslipNotifyPayload struct {
	RunID    uuid.UUID `json:"runId"`
	Month    string    `json:"month"`
	LockedAt time.Time `json:"lockedAt"`
}

// NewPayslipNotifyTask constructs the payslip delivery task.
func NewPayslipNotifyTask(payload PayslipNotifyPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPayslipNotify, data), nil
}
