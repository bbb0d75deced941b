package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/pharmaflow/internal/returns"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueRefunds carries refund hand-offs; it is weighted above default.
	QueueRefunds = "refunds"

	// TaskLowStockScan reports products at low or critical availability.
	TaskLowStockScan = "inventory:low_stock_scan"
	// TaskRefundDue hands a processed refund to the payments back office.
	TaskRefundDue = "returns:refund_due"
)

// LowStockScanPayload configures one scan.
type LowStockScanPayload struct {
	ExpiringWithinDays int `json:"expiring_within_days"`
}

// NewLowStockScanTask constructs the scan task.
func NewLowStockScanTask(payload LowStockScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, data), nil
}

// NewRefundDueTask wraps a refund in a task.
func NewRefundDueTask(refund returns.Refund) (*asynq.Task, error) {
	data, err := json.Marshal(refund)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRefundDue, data), nil
}
