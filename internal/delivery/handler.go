package delivery

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/pharmaflow/internal/platform/httpx"
)

// Handler wires HTTP endpoints for deliveries.
type Handler struct {
	logger    *slog.Logger
	tracker   *Tracker
	validator *validator.Validate
}

// NewHandler constructs the delivery handler.
func NewHandler(logger *slog.Logger, tracker *Tracker) *Handler {
	return &Handler{logger: logger, tracker: tracker, validator: validator.New()}
}

// MountOrderRoutes registers delivery routes nested under /orders.
func (h *Handler) MountOrderRoutes(r chi.Router) {
	r.Post("/{id}/deliveries", h.schedule)
	r.Get("/{id}/deliveries", h.list)
}

// MountRoutes registers routes under /deliveries.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{id}", h.show)
	r.Post("/{id}/record", h.record)
}

type scheduleRequest struct {
	CourierID     string    `json:"courier_id" validate:"required,max=64"`
	ScheduledDate time.Time `json:"scheduled_date" validate:"required"`
	Address       *Address  `json:"delivery_address,omitempty" validate:"omitempty"`
	Notes         *string   `json:"notes,omitempty"`
}

type recordItemRequest struct {
	OrderItemID int64 `json:"order_item_id" validate:"required,gt=0"`
	Qty         int64 `json:"qty" validate:"required,gt=0"`
}

type recordRequest struct {
	Items           []recordItemRequest `json:"items" validate:"required,min=1,dive"`
	ProofOfDelivery *string             `json:"proof_of_delivery,omitempty"`
	DeliveredAt     *time.Time          `json:"delivered_at,omitempty"`
}

func (h *Handler) schedule(w http.ResponseWriter, r *http.Request) {
	orderID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req scheduleRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, err := h.tracker.ScheduleDelivery(r.Context(), ScheduleInput{
		OrderID:   orderID,
		CourierID: req.CourierID,
		Date:      req.ScheduledDate,
		Address:   req.Address,
		Notes:     req.Notes,
	})
	if err != nil {
		h.respondError(w, r, "schedule delivery", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, d)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	orderID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.tracker.ListDeliveries(r.Context(), orderID)
	if err != nil {
		h.respondError(w, r, "list deliveries", err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	d, err := h.tracker.GetDelivery(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "get delivery", err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) record(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req recordRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := RecordInput{DeliveryID: id, ProofOfDelivery: req.ProofOfDelivery, DeliveredAt: req.DeliveredAt}
	for _, item := range req.Items {
		input.Items = append(input.Items, ItemDelivery{OrderItemID: item.OrderItemID, Qty: item.Qty})
	}
	order, err := h.tracker.RecordDelivery(r.Context(), input)
	if err != nil {
		h.respondError(w, r, "record delivery", err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.WarnContext(r.Context(), op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
