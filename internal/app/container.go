package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/pharmaflow/internal/customers"
	"github.com/odyssey-erp/pharmaflow/internal/delivery"
	"github.com/odyssey-erp/pharmaflow/internal/integration"
	"github.com/odyssey-erp/pharmaflow/internal/inventory"
	"github.com/odyssey-erp/pharmaflow/internal/observability"
	"github.com/odyssey-erp/pharmaflow/internal/orders"
	"github.com/odyssey-erp/pharmaflow/internal/platform/cache"
	"github.com/odyssey-erp/pharmaflow/internal/platform/db"
	"github.com/odyssey-erp/pharmaflow/internal/returns"
	"github.com/odyssey-erp/pharmaflow/internal/shared"
	"github.com/odyssey-erp/pharmaflow/internal/store/memory"
	"github.com/odyssey-erp/pharmaflow/internal/store/postgres"
	"github.com/odyssey-erp/pharmaflow/jobs"
)

// Repositories is the store seen through the ports of each component.
type Repositories struct {
	Customers  customers.RepositoryPort
	Inventory  inventory.RepositoryPort
	Orders     orders.RepositoryPort
	Deliveries delivery.RepositoryPort
	Returns    returns.RepositoryPort
}

// Container holds the wired services of one process.
type Container struct {
	Config  *Config
	Logger  *slog.Logger
	Metrics *observability.Metrics

	Customers  *customers.Service
	Inventory  *inventory.Service
	Orders     *orders.Service
	Gate       *orders.Gate
	Deliveries *delivery.Tracker
	Returns    *returns.Processor

	// Refunds is the refunds topic publisher; nil when Kafka is disabled.
	Refunds *integration.KafkaPublisher
	// Jobs enqueues background work; nil without Redis.
	Jobs *jobs.Client

	inspector *asynq.Inspector
	checks    []func(context.Context) error
	closers   []func() error
}

// Build connects the configured backends and wires the services.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger) (*Container, error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}

	repos, audit, err := c.openStore(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}

	external := !InTestMode()
	if !external {
		logger.Info("test mode: external services disabled")
	}

	var productCache inventory.ProductCache
	if external && cfg.RedisAddr != "" {
		opts := cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
		client, err := cache.New(ctx, opts)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.closers = append(c.closers, client.Close)
		c.checks = append(c.checks, func(ctx context.Context) error { return client.Ping(ctx).Err() })
		productCache = inventory.NewCache(client, cfg.ProductTTL)

		queueOpts := asynqRedisOpts(opts.RedisOptions())
		jobClient, err := jobs.NewClient(queueOpts)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Jobs = jobClient
		c.closers = append(c.closers, jobClient.Close)
		c.inspector = asynq.NewInspector(queueOpts)
		c.closers = append(c.closers, c.inspector.Close)
	}

	var events orders.EventPublisher
	if external && cfg.KafkaEnabled() {
		statusWriter := integration.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		refundWriter := integration.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaRefundsTopic)
		c.closers = append(c.closers, statusWriter.Close, refundWriter.Close)
		events = integration.NewKafkaPublisher(statusWriter)
		c.Refunds = integration.NewKafkaPublisher(refundWriter)
	}

	var alerter inventory.Alerter
	if external && cfg.SentryDSN != "" {
		alerter = observability.NewSentryAlerter(sentry.CurrentHub())
	}
	ledger := inventory.NewLedger(logger, alerter, c.Metrics)
	machine := orders.NewMachine()
	notifier := orders.NewNotifier(events, logger)

	var refunds returns.RefundNotifier
	if c.Jobs != nil {
		refunds = c.Jobs
	}

	c.Customers = customers.NewService(repos.Customers, logger)
	c.Inventory = inventory.NewService(repos.Inventory, ledger, productCache, audit, logger)
	c.Orders = orders.NewService(repos.Orders, ledger, machine, notifier, logger)
	c.Gate = orders.NewGate(repos.Orders, ledger, machine, notifier, orders.GateConfig{AutoForward: cfg.AutoForwardAccounting, Logger: logger})
	c.Deliveries = delivery.NewTracker(repos.Deliveries, ledger, machine, notifier, logger)
	c.Returns = returns.NewProcessor(repos.Returns, ledger, machine, notifier, refunds, logger)
	return c, nil
}

func (c *Container) openStore(ctx context.Context) (Repositories, inventory.AuditPort, error) {
	switch c.Config.StoreDriver {
	case StorePostgres:
		pool, err := db.New(ctx, c.Config.PGDSN, db.Options{
			MaxConns:    c.Config.PGMaxConns,
			LockTimeout: c.Config.PGLockTimeout,
		})
		if err != nil {
			return Repositories{}, nil, err
		}
		c.closers = append(c.closers, func() error { pool.Close(); return nil })
		c.checks = append(c.checks, pool.Ping)
		store := postgres.New(pool)
		if c.Config.PGMigrate {
			if err := store.Migrate(ctx); err != nil {
				return Repositories{}, nil, err
			}
		}
		return Repositories{
			Customers:  store.Customers(),
			Inventory:  store.Inventory(),
			Orders:     store.Orders(),
			Deliveries: store.Deliveries(),
			Returns:    store.Returns(),
		}, shared.NewAuditLogger(pool), nil
	case StoreMemory:
		store := memory.New()
		return Repositories{
			Customers:  store.Customers(),
			Inventory:  store.Inventory(),
			Orders:     store.Orders(),
			Deliveries: store.Deliveries(),
			Returns:    store.Returns(),
		}, nil, nil
	default:
		return Repositories{}, nil, fmt.Errorf("app: unknown store driver %q", c.Config.StoreDriver)
	}
}

func asynqRedisOpts(opts *redis.Options) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: opts.Addr, Password: opts.Password, DB: opts.DB}
}

// QueueOpts returns the asynq connection options, and false without Redis.
func (c *Container) QueueOpts() (asynq.RedisClientOpt, bool) {
	if c.Config.RedisAddr == "" {
		return asynq.RedisClientOpt{}, false
	}
	return asynqRedisOpts(cache.Options{Addr: c.Config.RedisAddr, Password: c.Config.RedisPassword, DB: c.Config.RedisDB}.RedisOptions()), true
}

// Router builds the HTTP API over the container's services.
func (c *Container) Router() http.Handler {
	var jobHandler *jobs.Handler
	if c.inspector != nil {
		jobHandler = jobs.NewHandler(c.inspector, c.Logger)
	}
	return NewRouter(RouterParams{
		Logger:            c.Logger,
		Config:            c.Config,
		CustomersHandler:  customers.NewHandler(c.Logger, c.Customers),
		InventoryHandler:  inventory.NewHandler(c.Logger, c.Inventory),
		OrdersHandler:     orders.NewHandler(c.Logger, c.Orders, c.Gate),
		DeliveriesHandler: delivery.NewHandler(c.Logger, c.Deliveries),
		ReturnsHandler:    returns.NewHandler(c.Logger, c.Returns),
		JobHandler:        jobHandler,
		Metrics:           c.Metrics,
		Ready:             c.Ready,
	})
}

// Ready pings every backing service.
func (c *Container) Ready(ctx context.Context) error {
	for _, check := range c.checks {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases connections in reverse order of creation.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
