package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/pharmaflow/internal/inventory"
	jobmetrics "github.com/odyssey-erp/pharmaflow/internal/jobs"
)

// StockLister lists stock rows with their alert flags.
type StockLister interface {
	ListStock(ctx context.Context, filter inventory.StockFilter) ([]inventory.StockReport, error)
}

// LowStockScanJob logs products whose availability fell below the low
// threshold and batches that expire soon.
type LowStockScanJob struct {
	Stock   StockLister
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewLowStockScanJob initialises the scan handler.
func NewLowStockScanJob(stock StockLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{
		Stock:   stock,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// ScanResult summarises one run.
type ScanResult struct {
	ByLevel  map[inventory.StockLevel]int
	Expiring int
}

// Handle executes the scan.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Stock == nil {
		return errors.New("low stock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Run(ctx, payload)
	return err
}

// Run scans stock once and records the findings.
func (j *LowStockScanJob) Run(ctx context.Context, payload LowStockScanPayload) (result ScanResult, err error) {
	start := j.clock()
	defer func() {
		err = j.Metrics.Observe(TaskLowStockScan, start, err)
	}()

	window := inventory.DefaultExpiryWindow
	if payload.ExpiringWithinDays > 0 {
		window = time.Duration(payload.ExpiringWithinDays) * 24 * time.Hour
	}
	logger := j.logger().With(slog.Duration("expiry_window", window))

	low, err := j.Stock.ListStock(ctx, inventory.StockFilter{LowStock: true})
	if err != nil {
		logger.Error("list low stock", slog.Any("error", err))
		return ScanResult{}, err
	}
	expiring, err := j.Stock.ListStock(ctx, inventory.StockFilter{ExpiringWithin: window})
	if err != nil {
		logger.Error("list expiring stock", slog.Any("error", err))
		return ScanResult{}, err
	}

	result = ScanResult{ByLevel: make(map[inventory.StockLevel]int), Expiring: len(expiring)}
	for _, r := range low {
		result.ByLevel[r.Level]++
		logger.Warn("stock below threshold",
			slog.Int64("product_id", r.ProductID),
			slog.String("level", string(r.Level)),
			slog.Int64("available", r.Available),
		)
	}
	for level, n := range result.ByLevel {
		j.Metrics.AddStockAlerts(string(level), n)
	}
	for _, r := range expiring {
		attrs := []any{slog.Int64("product_id", r.ProductID), slog.Int64("quantity", r.Quantity)}
		if r.ExpiryDate != nil {
			attrs = append(attrs, slog.Time("expiry_date", *r.ExpiryDate))
		}
		logger.Warn("batch expiring soon", attrs...)
	}
	j.Metrics.AddStockAlerts("expiring", len(expiring))

	logger.Info("completed low stock scan",
		slog.Int("low", len(low)),
		slog.Int("expiring", len(expiring)),
		slog.Duration("duration", j.clock().Sub(start)),
	)
	return result, nil
}

func (j *LowStockScanJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
