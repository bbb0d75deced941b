package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/pharmaflow/internal/returns"
)

// Client enqueues tasks for the worker.
type Client struct {
	client *asynq.Client
}

var _ returns.RefundNotifier = (*Client)(nil)

// NewClient builds a Client over the queue Redis.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// RefundDue queues the refund once per return; a duplicate enqueue of the
// same return is ignored.
func (c *Client) RefundDue(ctx context.Context, refund returns.Refund) error {
	task, err := NewRefundDueTask(refund)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueRefunds),
		asynq.TaskID(fmt.Sprintf("refund-%d", refund.ReturnID)),
		asynq.MaxRetry(10),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// EnqueueLowStockScan runs a scan outside the cron schedule.
func (c *Client) EnqueueLowStockScan(ctx context.Context, payload LowStockScanPayload) (*asynq.TaskInfo, error) {
	task, err := NewLowStockScanTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.MaxRetry(1))
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}
