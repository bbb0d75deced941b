package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/pharmaflow/internal/jobs"
	"github.com/odyssey-erp/pharmaflow/internal/returns"
)

// RefundSink receives refunds once they leave the queue.
type RefundSink interface {
	PublishRefund(ctx context.Context, refund returns.Refund) error
}

// RefundDueJob forwards queued refunds to the sink. Failures are retried by
// the queue.
type RefundDueJob struct {
	Sink    RefundSink
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRefundDueJob initialises the refund handler.
func NewRefundDueJob(sink RefundSink, logger *slog.Logger, metrics *jobmetrics.Metrics) *RefundDueJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefundDueJob{Sink: sink, Logger: logger, Metrics: metrics}
}

// Handle decodes and forwards one refund.
func (j *RefundDueJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Sink == nil {
		return errors.New("refund due: handler not configured")
	}
	started := time.Now()
	defer func() {
		err = j.Metrics.Observe(TaskRefundDue, started, err)
	}()

	var refund returns.Refund
	if err := json.Unmarshal(t.Payload(), &refund); err != nil || refund.ReturnID == 0 {
		j.Logger.Error("refund due: bad payload", slog.Any("error", err))
		return fmt.Errorf("refund due: decode payload: %w", asynq.SkipRetry)
	}

	if err := j.Sink.PublishRefund(ctx, refund); err != nil {
		j.Logger.Warn("refund due: publish failed",
			slog.String("return_number", refund.ReturnNumber),
			slog.Any("error", err))
		return err
	}
	j.Metrics.RefundForwarded(refund.Amount)
	j.Logger.Info("refund handed off",
		slog.String("return_number", refund.ReturnNumber),
		slog.Int64("order_id", refund.OrderID),
		slog.Float64("amount", refund.Amount))
	return nil
}
