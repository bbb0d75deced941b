package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/pharmaflow/internal/app"
	jobmetrics "github.com/odyssey-erp/pharmaflow/internal/jobs"
	"github.com/odyssey-erp/pharmaflow/internal/observability"
	"github.com/odyssey-erp/pharmaflow/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	if cfg.StoreDriver == app.StoreMemory {
		logger.Warn("worker runs against a private in-memory store; scans will see no stock")
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv, cfg.AppVersion); err != nil {
		logger.Warn("sentry disabled", slog.Any("error", err))
	}
	defer observability.FlushSentry(2 * time.Second)

	container, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := container.Close(); err != nil {
			logger.Warn("close services", slog.Any("error", err))
		}
	}()

	queueOpts, ok := container.QueueOpts()
	if !ok {
		logger.Error("REDIS_ADDR must be set for the worker")
		os.Exit(1)
	}

	metrics := jobmetrics.NewMetrics(nil)
	scanJob := jobs.NewLowStockScanJob(container.Inventory, logger, metrics)
	handlers := []jobs.TaskHandler{
		{Type: jobs.TaskLowStockScan, Handler: scanJob.Handle},
	}
	if container.Refunds != nil {
		refundJob := jobs.NewRefundDueJob(container.Refunds, logger, metrics)
		handlers = append(handlers, jobs.TaskHandler{Type: jobs.TaskRefundDue, Handler: refundJob.Handle})
	} else {
		logger.Warn("KAFKA_BROKERS empty; refunds stay queued until a publisher is configured")
	}

	var cron []jobs.CronRegistration
	if cfg.LowStockScanCron != "" {
		task, err := jobs.NewLowStockScanTask(jobs.LowStockScanPayload{ExpiringWithinDays: cfg.ExpiryWindowDays})
		if err != nil {
			logger.Error("build low stock scan task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.LowStockScanCron, Task: task})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   queueOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers:    handlers,
		Cron:        cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		go serveMetrics(ctx, cfg.WorkerMetricsAddr, logger)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// serveMetrics exposes the default registry, where the job collectors live.
func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("worker metrics listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("worker metrics stopped", slog.Any("error", err))
	}
}
