package returns

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/pharmaflow/internal/inventory"
	"github.com/odyssey-erp/pharmaflow/internal/platform/httpx"
	"github.com/odyssey-erp/pharmaflow/internal/shared"
)

// Handler wires HTTP endpoints for returns.
type Handler struct {
	logger    *slog.Logger
	processor *Processor
	validator *validator.Validate
}

// NewHandler constructs the return handler.
func NewHandler(logger *slog.Logger, processor *Processor) *Handler {
	return &Handler{logger: logger, processor: processor, validator: validator.New()}
}

// MountOrderRoutes registers return routes nested under /orders.
func (h *Handler) MountOrderRoutes(r chi.Router) {
	r.Post("/{id}/returns", h.request)
	r.Get("/{id}/returns", h.list)
}

// MountRoutes registers routes under /returns.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{id}", h.show)
	r.Post("/{id}/decision", h.decide)
	r.Post("/{id}/receive", h.receive)
	r.Post("/{id}/process", h.process)
}

type requestItem struct {
	OrderItemID int64   `json:"order_item_id" validate:"required,gt=0"`
	Quantity    int64   `json:"quantity" validate:"required,gt=0"`
	Reason      *string `json:"reason,omitempty" validate:"omitempty,max=500"`
}

type requestBody struct {
	Reason *string       `json:"reason,omitempty" validate:"omitempty,max=500"`
	Items  []requestItem `json:"items" validate:"required,min=1,dive"`
}

type decisionBody struct {
	Approve *bool   `json:"approve" validate:"required"`
	Note    *string `json:"note,omitempty"`
}

type receivedItem struct {
	OrderItemID int64  `json:"order_item_id" validate:"required,gt=0"`
	Condition   string `json:"condition" validate:"required,oneof=good damaged expired"`
}

type receiveBody struct {
	Items []receivedItem `json:"items" validate:"required,min=1,dive"`
}

func (h *Handler) request(w http.ResponseWriter, r *http.Request) {
	orderID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var body requestBody
	if err := httpx.Bind(r, h.validator, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := RequestInput{OrderID: orderID, Reason: body.Reason}
	for _, item := range body.Items {
		input.Items = append(input.Items, ItemInput{OrderItemID: item.OrderItemID, Quantity: item.Quantity, Reason: item.Reason})
	}
	ret, err := h.processor.RequestReturn(r.Context(), input)
	if err != nil {
		h.respondError(w, r, "request return", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ret)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	orderID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	list, err := h.processor.ListReturns(r.Context(), orderID)
	if err != nil {
		h.respondError(w, r, "list returns", err)
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
	ret, err := h.processor.GetReturn(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "get return", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var body decisionBody
	if err := httpx.Bind(r, h.validator, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ret, err := h.processor.DecideReturn(r.Context(), id, *body.Approve, shared.ActorFromContext(r.Context()), body.Note)
	if err != nil {
		h.respondError(w, r, "decide return", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var body receiveBody
	if err := httpx.Bind(r, h.validator, &body); err != nil {
		httpx.RespondError(w, err)
		return
	}
	items := make([]ReceivedItem, len(body.Items))
	for i, item := range body.Items {
		items[i] = ReceivedItem{OrderItemID: item.OrderItemID, Condition: inventory.Condition(item.Condition)}
	}
	ret, err := h.processor.ReceiveReturn(r.Context(), id, items)
	if err != nil {
		h.respondError(w, r, "receive return", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

func (h *Handler) process(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ret, err := h.processor.ProcessReturn(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, r, "process return", err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.WarnContext(r.Context(), op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
