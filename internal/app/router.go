package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/pharmaflow/internal/customers"
	"github.com/odyssey-erp/pharmaflow/internal/delivery"
	"github.com/odyssey-erp/pharmaflow/internal/inventory"
	"github.com/odyssey-erp/pharmaflow/internal/observability"
	"github.com/odyssey-erp/pharmaflow/internal/orders"
	"github.com/odyssey-erp/pharmaflow/internal/platform/httpx"
	"github.com/odyssey-erp/pharmaflow/internal/returns"
	"github.com/odyssey-erp/pharmaflow/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	CustomersHandler  *customers.Handler
	InventoryHandler  *inventory.Handler
	OrdersHandler     *orders.Handler
	DeliveriesHandler *delivery.Handler
	ReturnsHandler    *returns.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
	// Ready reports whether backing stores answer; nil means always ready.
	Ready func(ctx context.Context) error
}

// NewRouter constructs the chi.Router with the service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if params.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.Ready(ctx); err != nil {
				params.Logger.Warn("readiness check", slog.Any("error", err))
				httpx.Problem(w, http.StatusServiceUnavailable, "Not Ready", "a backing service is unavailable")
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Route("/customers", params.CustomersHandler.MountRoutes)
	r.Route("/products", params.InventoryHandler.MountProductRoutes)
	r.Route("/inventory", params.InventoryHandler.MountRoutes)
	r.Route("/orders", func(r chi.Router) {
		params.OrdersHandler.MountRoutes(r)
		params.DeliveriesHandler.MountOrderRoutes(r)
		params.ReturnsHandler.MountOrderRoutes(r)
	})
	r.Route("/deliveries", params.DeliveriesHandler.MountRoutes)
	r.Route("/returns", params.ReturnsHandler.MountRoutes)
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
