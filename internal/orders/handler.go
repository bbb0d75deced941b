package orders

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/pharmaflow/internal/platform/httpx"
	"github.com/odyssey-erp/pharmaflow/internal/shared"
)

// Handler wires HTTP endpoints for orders and approvals.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	gate      *Gate
	validator *validator.Validate
}

// NewHandler constructs the order handler.
func NewHandler(logger *slog.Logger, service *Service, gate *Gate) *Handler {
	return &Handler{logger: logger, service: service, gate: gate, validator: validator.New()}
}

// MountRoutes registers order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.show)
	r.Get("/{id}/history", h.history)
	r.Get("/{id}/history/verify", h.verifyHistory)
	r.Post("/{id}/submit", h.submit)
	r.Post("/{id}/inventory-decision", h.inventoryDecision)
	r.Post("/{id}/forward", h.forward)
	r.Get("/{id}/credit-check", h.creditCheck)
	r.Post("/{id}/accounting-decision", h.accountingDecision)
	r.Post("/{id}/finalize", h.finalize)
}

type createItemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int64 `json:"quantity" validate:"required,gt=0"`
}

type createRequest struct {
	CustomerID string              `json:"customer_id" validate:"required,max=64"`
	SalesRepID *string             `json:"sales_rep_id,omitempty" validate:"omitempty,max=64"`
	Notes      *string             `json:"notes,omitempty"`
	Items      []createItemRequest `json:"items" validate:"required,min=1,dive"`
}

type decisionRequest struct {
	Approve *bool   `json:"approve" validate:"required"`
	Note    *string `json:"note,omitempty"`
}

type noteRequest struct {
	Note *string `json:"note,omitempty"`
}

type orderView struct {
	Order
	StatusLabel string `json:"status_label"`
	Terminal    bool   `json:"terminal"`
}

func viewOf(o Order) orderView {
	return orderView{Order: o, StatusLabel: o.Status.Label(), Terminal: o.Status.IsTerminal()}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.Bind(r, h.validator, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := CreateOrderInput{CustomerID: req.CustomerID, SalesRepID: req.SalesRepID, Notes: req.Notes}
	for _, item := range req.Items {
		input.Items = append(input.Items, ItemInput{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	order, err := h.service.CreateOrder(r.Context(), input)
	if err != nil {
		h.respondError(w, r, "create order", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, viewOf(order))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Status: Status(q.Get("status")), CustomerID: q.Get("customer_id")}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	for key, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		if v := q.Get(key); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", key+" must be YYYY-MM-DD")
				return
			}
			if key == "to" {
				t = t.Add(24*time.Hour - time.Nanosecond)
			}
			*dst = &t
		}
	}
	list, page, err := h.service.ListOrders(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, "list orders", err)
		return
	}
	views := make([]orderView, len(list))
	for i, o := range list {
		views[i] = viewOf(o)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": views, "pagination": page})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "get order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, viewOf(order))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.History(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "order history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) verifyHistory(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	status, err := h.service.VerifyHistory(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "verify history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": status, "valid": true})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.SubmitOrder(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "submit order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, viewOf(order))
}

func (h *Handler) creditCheck(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	check, err := h.gate.CreditCheck(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "credit check", err)
		return
	}
	httpx.JSON(w, http.StatusOK, check)
}

func (h *Handler) inventoryDecision(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.decision(w, r)
	if !ok {
		return
	}
	order, err := h.gate.DecideInventory(r.Context(), id, *req.Approve, shared.ActorFromContext(r.Context()), req.Note)
	if err != nil {
		h.respondError(w, r, "inventory decision", err)
		return
	}
	httpx.JSON(w, http.StatusOK, viewOf(order))
}

func (h *Handler) accountingDecision(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.decision(w, r)
	if !ok {
		return
	}
	order, err := h.gate.DecideAccounting(r.Context(), id, *req.Approve, shared.ActorFromContext(r.Context()), req.Note)
	if err != nil {
		h.respondError(w, r, "accounting decision", err)
		return
	}
	httpx.JSON(w, http.StatusOK, viewOf(order))
}

func (h *Handler) forward(w http.ResponseWriter, r *http.Request) {
	id, note, ok := h.note(w, r)
	if !ok {
		return
	}
	order, err := h.gate.ForwardToAccounting(r.Context(), id, shared.ActorFromContext(r.Context()), note)
	if err != nil {
		h.respondError(w, r, "forward to accounting", err)
		return
	}
	httpx.JSON(w, http.StatusOK, viewOf(order))
}

func (h *Handler) finalize(w http.ResponseWriter, r *http.Request) {
	id, note, ok := h.note(w, r)
	if !ok {
		return
	}
	order, err := h.service.Finalize(r.Context(), id, shared.ActorFromContext(r.Context()), note)
	if err != nil {
		h.respondError(w, r, "finalize order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, viewOf(order))
}

func (h *Handler) decision(w http.ResponseWriter, r *http.Request) (int64, decisionRequest, bool) {
	var req decisionRequest
	id, err := httpx.IDParam(r, "id")
	if err == nil {
		err = httpx.Bind(r, h.validator, &req)
	}
	if err != nil {
		httpx.RespondError(w, err)
		return 0, req, false
	}
	return id, req, true
}

func (h *Handler) note(w http.ResponseWriter, r *http.Request) (int64, *string, bool) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, nil, false
	}
	var req noteRequest
	if r.ContentLength != 0 {
		if err := httpx.Bind(r, h.validator, &req); err != nil {
			httpx.RespondError(w, err)
			return 0, nil, false
		}
	}
	return id, req.Note, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.WarnContext(r.Context(), op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
