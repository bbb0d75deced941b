package inventory

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/pharmaflow/internal/platform/httpx"
)

// Handler wires HTTP endpoints for catalog and stock.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountProductRoutes registers catalog routes.
func (h *Handler) MountProductRoutes(r chi.Router) {
	r.Get("/", h.listProducts)
	r.Post("/", h.createProduct)
	r.Get("/{id}", h.getProduct)
	r.Put("/{id}/price", h.updatePrice)
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listStock)
	r.Get("/{productID}", h.getInventory)
	r.Put("/{productID}", h.adjust)
	r.Post("/{productID}/receive", h.receive)
	r.Get("/{productID}/movements", h.movements)
}

type createProductRequest struct {
	SKU                  string  `json:"sku" validate:"required,max=64"`
	Name                 string  `json:"name" validate:"required,max=200"`
	Description          *string `json:"description,omitempty"`
	Category             *string `json:"category,omitempty" validate:"omitempty,max=100"`
	UnitPrice            float64 `json:"unit_price" validate:"gte=0"`
	RequiresPrescription bool    `json:"requires_prescription"`
}

type updatePriceRequest struct {
	UnitPrice float64 `json:"unit_price" validate:"gte=0"`
}

type receiveRequest struct {
	Qty         int64      `json:"qty" validate:"required,gt=0"`
	BatchNumber *string    `json:"batch_number,omitempty" validate:"omitempty,max=100"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
	Location    *string    `json:"location,omitempty" validate:"omitempty,max=100"`
	Note        string     `json:"note"`
}

type adjustRequest struct {
	Quantity    *int64     `json:"quantity" validate:"required,gte=0"`
	BatchNumber *string    `json:"batch_number,omitempty" validate:"omitempty,max=100"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
	Location    *string    `json:"location,omitempty" validate:"omitempty,max=100"`
	Reason      string     `json:"reason" validate:"required,max=500"`
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	product, err := h.service.CreateProduct(r.Context(), CreateProductInput{
		SKU:                  req.SKU,
		Name:                 req.Name,
		Description:          req.Description,
		Category:             req.Category,
		UnitPrice:            req.UnitPrice,
		RequiresPrescription: req.RequiresPrescription,
	})
	if err != nil {
		h.respondError(w, r, "create product", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ProductFilter{Category: q.Get("category"), Search: q.Get("search")}
	if v := q.Get("requires_prescription"); v != "" {
		rx, err := strconv.ParseBool(v)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "requires_prescription must be a boolean")
			return
		}
		filter.RequiresPrescription = &rx
	}
	products, err := h.service.ListProducts(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, "list products", err)
		return
	}
	httpx.JSON(w, http.StatusOK, products)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	product, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "get product", err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) updatePrice(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updatePriceRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	product, err := h.service.UpdatePrice(r.Context(), id, req.UnitPrice)
	if err != nil {
		h.respondError(w, r, "update price", err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) getInventory(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	snapshot, err := h.service.GetInventory(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "get inventory", err)
		return
	}
	httpx.JSON(w, http.StatusOK, snapshot)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req receiveRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	snapshot, err := h.service.ReceiveStock(r.Context(), ReceiveInput{
		ProductID:   id,
		Qty:         req.Qty,
		BatchNumber: req.BatchNumber,
		ExpiryDate:  req.ExpiryDate,
		Location:    req.Location,
		Note:        req.Note,
	})
	if err != nil {
		h.respondError(w, r, "receive stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, snapshot)
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req adjustRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	snapshot, err := h.service.AdjustStock(r.Context(), AdjustInput{
		ProductID:   id,
		Quantity:    *req.Quantity,
		BatchNumber: req.BatchNumber,
		ExpiryDate:  req.ExpiryDate,
		Location:    req.Location,
		Reason:      req.Reason,
	})
	if err != nil {
		h.respondError(w, r, "adjust stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, snapshot)
}

func (h *Handler) listStock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := StockFilter{}
	if v := q.Get("low_stock"); v != "" {
		filter.LowStock, _ = strconv.ParseBool(v)
	}
	if v := q.Get("expiring_within_days"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expiring_within_days must be a positive integer")
			return
		}
		filter.ExpiringWithin = time.Duration(days) * 24 * time.Hour
	}
	reports, err := h.service.ListStock(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, "list stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, reports)
}

func (h *Handler) movements(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.service.ListMovements(r.Context(), id, limit)
	if err != nil {
		h.respondError(w, r, "list movements", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.WarnContext(r.Context(), op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
