package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/pharmaflow/internal/app"
	_ "github.com/odyssey-erp/pharmaflow/internal/testing/guard"
)

type apiClient struct {
	t      *testing.T
	server *httptest.Server
}

func newAPI(t *testing.T) *apiClient {
	t.Helper()
	cfg := &app.Config{
		AppEnv:                "test",
		AppRequestTimeout:     5 * time.Second,
		AppRateLimit:          10000,
		StoreDriver:           app.StoreMemory,
		AutoForwardAccounting: true,
		ExpiryWindowDays:      90,
	}
	require.NoError(t, cfg.Validate())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	container, err := app.Build(context.Background(), cfg, logger)
	require.NoError(t, err)
	server := httptest.NewServer(container.Router())
	t.Cleanup(func() {
		server.Close()
		_ = container.Close()
	})
	return &apiClient{t: t, server: server}
}

func (c *apiClient) do(method, path string, body any, wantStatus int, out any) {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, c.server.URL+path, reader)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(app.ActorHeader, "clerk-1")
	resp, err := c.server.Client().Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	require.Equal(c.t, wantStatus, resp.StatusCode, "%s %s: %s", method, path, raw)
	if out != nil {
		require.NoError(c.t, json.Unmarshal(raw, out))
	}
}

type idView struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

type orderView struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
	Items  []struct {
		ID                int64 `json:"id"`
		DeliveredQuantity int64 `json:"delivered_quantity"`
	} `json:"items"`
}

type stockView struct {
	Quantity  int64 `json:"quantity"`
	Reserved  int64 `json:"reserved"`
	Available int64 `json:"available"`
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	api := newAPI(t)

	api.do(http.MethodPost, "/customers", map[string]any{
		"id":           "C-1",
		"name":         "Apotek Sehat",
		"credit_limit": 500,
		"address":      map[string]any{"street": "Jl. Braga 10", "city": "Bandung", "country": "ID"},
	}, http.StatusCreated, nil)

	var product idView
	api.do(http.MethodPost, "/products", map[string]any{"sku": "AMX-500", "name": "Amoxicillin 500mg", "unit_price": 10}, http.StatusCreated, &product)
	api.do(http.MethodPost, fmt.Sprintf("/inventory/%d/receive", product.ID), map[string]any{"qty": 10}, http.StatusOK, nil)

	var order orderView
	api.do(http.MethodPost, "/orders", map[string]any{
		"customer_id": "C-1",
		"items":       []map[string]any{{"product_id": product.ID, "quantity": 4}},
	}, http.StatusCreated, &order)
	require.Equal(t, "draft", order.Status)
	require.Len(t, order.Items, 1)
	itemID := order.Items[0].ID
	orderPath := fmt.Sprintf("/orders/%d", order.ID)
	stockPath := fmt.Sprintf("/inventory/%d", product.ID)

	api.do(http.MethodPost, orderPath+"/submit", nil, http.StatusOK, &order)
	require.Equal(t, "pending_inventory", order.Status)

	var stock stockView
	api.do(http.MethodGet, stockPath, nil, http.StatusOK, &stock)
	require.Equal(t, stockView{Quantity: 10, Reserved: 4, Available: 6}, stock)

	api.do(http.MethodPost, orderPath+"/inventory-decision", map[string]any{"approve": true}, http.StatusOK, &order)
	require.Equal(t, "pending_accounting", order.Status)
	var credit struct {
		OrderTotal float64 `json:"order_total"`
		OverLimit  bool    `json:"over_limit"`
	}
	api.do(http.MethodGet, orderPath+"/credit-check", nil, http.StatusOK, &credit)
	require.InDelta(t, 40.0, credit.OrderTotal, 0.001)
	require.False(t, credit.OverLimit)
	api.do(http.MethodPost, orderPath+"/accounting-decision", map[string]any{"approve": true}, http.StatusOK, &order)
	require.Equal(t, "approved", order.Status)

	var shipment struct {
		ID      int64 `json:"id"`
		Address struct {
			City string `json:"city"`
		} `json:"delivery_address"`
	}
	api.do(http.MethodPost, orderPath+"/deliveries", map[string]any{
		"courier_id":     "DHL-7",
		"scheduled_date": time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
	}, http.StatusCreated, &shipment)
	require.Equal(t, "Bandung", shipment.Address.City)
	api.do(http.MethodGet, orderPath, nil, http.StatusOK, &order)
	require.Equal(t, "in_transit", order.Status)

	api.do(http.MethodPost, fmt.Sprintf("/deliveries/%d/record", shipment.ID), map[string]any{
		"items": []map[string]any{{"order_item_id": itemID, "qty": 4}},
	}, http.StatusOK, &order)
	require.Equal(t, "delivered", order.Status)
	require.Equal(t, int64(4), order.Items[0].DeliveredQuantity)

	api.do(http.MethodGet, stockPath, nil, http.StatusOK, &stock)
	require.Equal(t, stockView{Quantity: 6, Reserved: 0, Available: 6}, stock)

	var ret struct {
		ID           int64    `json:"id"`
		Status       string   `json:"status"`
		RefundAmount *float64 `json:"refund_amount"`
	}
	api.do(http.MethodPost, orderPath+"/returns", map[string]any{
		"reason": "wrong strength",
		"items":  []map[string]any{{"order_item_id": itemID, "quantity": 1}},
	}, http.StatusCreated, &ret)
	require.Equal(t, "requested", ret.Status)
	returnPath := fmt.Sprintf("/returns/%d", ret.ID)

	api.do(http.MethodPost, returnPath+"/decision", map[string]any{"approve": true}, http.StatusOK, &ret)
	require.Equal(t, "approved", ret.Status)
	api.do(http.MethodPost, returnPath+"/receive", map[string]any{
		"items": []map[string]any{{"order_item_id": itemID, "condition": "good"}},
	}, http.StatusOK, &ret)
	require.Equal(t, "received", ret.Status)
	api.do(http.MethodPost, returnPath+"/process", nil, http.StatusOK, &ret)
	require.Equal(t, "processed", ret.Status)
	require.NotNil(t, ret.RefundAmount)
	require.InDelta(t, 10.0, *ret.RefundAmount, 0.001)

	api.do(http.MethodGet, stockPath, nil, http.StatusOK, &stock)
	require.Equal(t, int64(7), stock.Quantity)

	var verified struct {
		Valid bool `json:"valid"`
	}
	api.do(http.MethodGet, orderPath+"/history/verify", nil, http.StatusOK, &verified)
	require.True(t, verified.Valid)
}

func TestSubmitWithoutStockReturnsConflict(t *testing.T) {
	api := newAPI(t)
	api.do(http.MethodPost, "/customers", map[string]any{"id": "C-2", "name": "Klinik Medika"}, http.StatusCreated, nil)

	var product idView
	api.do(http.MethodPost, "/products", map[string]any{"sku": "INS-GLA", "name": "Insulin glargine", "unit_price": 62}, http.StatusCreated, &product)
	api.do(http.MethodPost, fmt.Sprintf("/inventory/%d/receive", product.ID), map[string]any{"qty": 2}, http.StatusOK, nil)

	var order orderView
	api.do(http.MethodPost, "/orders", map[string]any{
		"customer_id": "C-2",
		"items":       []map[string]any{{"product_id": product.ID, "quantity": 3}},
	}, http.StatusCreated, &order)

	var problem struct {
		Title string `json:"title"`
	}
	api.do(http.MethodPost, fmt.Sprintf("/orders/%d/submit", order.ID), nil, http.StatusConflict, &problem)
	require.Equal(t, "Insufficient Stock", problem.Title)

	api.do(http.MethodGet, fmt.Sprintf("/orders/%d", order.ID), nil, http.StatusOK, &order)
	require.Equal(t, "draft", order.Status)
}

func TestCreateOrderForUnknownCustomerIsRejected(t *testing.T) {
	api := newAPI(t)

	var product idView
	api.do(http.MethodPost, "/products", map[string]any{"sku": "PCM-500", "name": "Paracetamol 500mg", "unit_price": 1}, http.StatusCreated, &product)
	api.do(http.MethodPost, "/orders", map[string]any{
		"customer_id": "GHOST",
		"items":       []map[string]any{{"product_id": product.ID, "quantity": 1}},
	}, http.StatusBadRequest, nil)
	api.do(http.MethodGet, "/customers/GHOST", nil, http.StatusNotFound, nil)
	api.do(http.MethodPost, "/customers", map[string]any{"name": "x", "email": "nope"}, http.StatusBadRequest, nil)
}

func TestStockAdjustmentAndPrescriptionFilter(t *testing.T) {
	api := newAPI(t)

	var rx, otc idView
	api.do(http.MethodPost, "/products", map[string]any{"sku": "AMX-500", "name": "Amoxicillin 500mg", "unit_price": 10, "requires_prescription": true}, http.StatusCreated, &rx)
	api.do(http.MethodPost, "/products", map[string]any{"sku": "PCM-500", "name": "Paracetamol 500mg", "unit_price": 1}, http.StatusCreated, &otc)

	var listed []idView
	api.do(http.MethodGet, "/products?requires_prescription=true", nil, http.StatusOK, &listed)
	require.Len(t, listed, 1)
	require.Equal(t, rx.ID, listed[0].ID)
	api.do(http.MethodGet, "/products?requires_prescription=false", nil, http.StatusOK, &listed)
	require.Len(t, listed, 1)
	require.Equal(t, otc.ID, listed[0].ID)
	api.do(http.MethodGet, "/products?requires_prescription=maybe", nil, http.StatusBadRequest, nil)

	stockPath := fmt.Sprintf("/inventory/%d", rx.ID)
	api.do(http.MethodPost, stockPath+"/receive", map[string]any{"qty": 20}, http.StatusOK, nil)
	api.do(http.MethodPost, "/customers", map[string]any{"id": "C-3", "name": "Apotek Kimia"}, http.StatusCreated, nil)
	var order orderView
	api.do(http.MethodPost, "/orders", map[string]any{
		"customer_id": "C-3",
		"items":       []map[string]any{{"product_id": rx.ID, "quantity": 8}},
	}, http.StatusCreated, &order)
	api.do(http.MethodPost, fmt.Sprintf("/orders/%d/submit", order.ID), nil, http.StatusOK, nil)

	var stock stockView
	api.do(http.MethodPut, stockPath, map[string]any{"quantity": 15, "reason": "cycle count"}, http.StatusOK, &stock)
	require.Equal(t, stockView{Quantity: 15, Reserved: 8, Available: 7}, stock)

	var problem struct {
		Title string `json:"title"`
	}
	api.do(http.MethodPut, stockPath, map[string]any{"quantity": 7, "reason": "breakage"}, http.StatusConflict, &problem)
	require.Equal(t, "Stock Reserved", problem.Title)
	api.do(http.MethodPut, stockPath, map[string]any{"quantity": 9}, http.StatusBadRequest, nil)

	var moves []struct {
		Type string `json:"type"`
		Qty  int64  `json:"qty"`
	}
	api.do(http.MethodGet, stockPath+"/movements", nil, http.StatusOK, &moves)
	require.Equal(t, "ADJUST", moves[0].Type)
	require.Equal(t, int64(-5), moves[0].Qty)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	api := newAPI(t)
	api.do(http.MethodGet, "/healthz", nil, http.StatusOK, nil)
	api.do(http.MethodGet, "/readyz", nil, http.StatusOK, nil)

	resp, err := api.server.Client().Get(api.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "pharmaflow_http_requests_total")
}
