// Package pipeline wires the order workflow on the in-memory store for tests.
package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/pharmaflow/internal/customers"
	"github.com/odyssey-erp/pharmaflow/internal/delivery"
	"github.com/odyssey-erp/pharmaflow/internal/inventory"
	"github.com/odyssey-erp/pharmaflow/internal/orders"
	"github.com/odyssey-erp/pharmaflow/internal/returns"
	"github.com/odyssey-erp/pharmaflow/internal/shared"
	"github.com/odyssey-erp/pharmaflow/internal/store/memory"
	_ "github.com/odyssey-erp/pharmaflow/internal/testing/guard"
)

// CustomerID is the customer every pipeline starts with. It has an address on
// file and a credit limit of CustomerCreditLimit.
const CustomerID = "CUST-1"

// CustomerCreditLimit is the credit limit of CustomerID.
const CustomerCreditLimit = 1000.0

// Pipeline holds every service over one store.
type Pipeline struct {
	Store     *memory.Store
	Ledger    *inventory.Ledger
	Customers *customers.Service
	Inventory *inventory.Service
	Orders    *orders.Service
	Gate      *orders.Gate
	Tracker   *delivery.Tracker
	Returns   *returns.Processor
	Events    *Events
	Refunds   *Refunds
	Alerts    *Alerts
}

// Options tweak the wiring.
type Options struct {
	AutoForward bool
}

// New wires a fresh pipeline.
func New(t testing.TB, opts Options) *Pipeline {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	events := &Events{}
	refunds := &Refunds{}
	alerts := &Alerts{}
	ledger := inventory.NewLedger(logger, alerts, nil)
	machine := orders.NewMachine()
	notifier := orders.NewNotifier(events, logger)
	customerService := customers.NewService(store.Customers(), logger)
	creditLimit := CustomerCreditLimit
	_, err := customerService.CreateCustomer(context.Background(), customers.CreateInput{
		ID:          CustomerID,
		Name:        "Apotek Sehat",
		Address:     &customers.Address{Street: "Jl. Braga 10", City: "Bandung", Country: "ID"},
		CreditLimit: &creditLimit,
	})
	require.NoError(t, err)
	return &Pipeline{
		Store:     store,
		Ledger:    ledger,
		Customers: customerService,
		Inventory: inventory.NewService(store.Inventory(), ledger, nil, nil, logger),
		Orders:    orders.NewService(store.Orders(), ledger, machine, notifier, logger),
		Gate:      orders.NewGate(store.Orders(), ledger, machine, notifier, orders.GateConfig{AutoForward: opts.AutoForward, Logger: logger}),
		Tracker:   delivery.NewTracker(store.Deliveries(), ledger, machine, notifier, logger),
		Returns:   returns.NewProcessor(store.Returns(), ledger, machine, notifier, refunds, logger),
		Events:    events,
		Refunds:   refunds,
		Alerts:    alerts,
	}
}

// Product creates a product priced at price with qty units on hand.
func (p *Pipeline) Product(t testing.TB, sku string, price float64, qty int64) int64 {
	t.Helper()
	ctx := context.Background()
	product, err := p.Inventory.CreateProduct(ctx, inventory.CreateProductInput{SKU: sku, Name: sku, UnitPrice: price})
	require.NoError(t, err)
	if qty > 0 {
		_, err = p.Inventory.ReceiveStock(ctx, inventory.ReceiveInput{ProductID: product.ID, Qty: qty})
		require.NoError(t, err)
	}
	return product.ID
}

// Stock returns the inventory snapshot of a product.
func (p *Pipeline) Stock(t testing.TB, productID int64) inventory.Snapshot {
	t.Helper()
	snap, err := p.Inventory.GetInventory(context.Background(), productID)
	require.NoError(t, err)
	return snap
}

// Draft creates a draft order for the given items.
func (p *Pipeline) Draft(t testing.TB, items ...orders.ItemInput) orders.Order {
	t.Helper()
	order, err := p.Orders.CreateOrder(context.Background(), orders.CreateOrderInput{CustomerID: CustomerID, Items: items})
	require.NoError(t, err)
	return order
}

// Approved drives a new order through submission and both approvals.
func (p *Pipeline) Approved(t testing.TB, items ...orders.ItemInput) orders.Order {
	t.Helper()
	ctx := context.Background()
	order := p.Draft(t, items...)
	_, err := p.Orders.SubmitOrder(ctx, order.ID)
	require.NoError(t, err)
	order, err = p.Gate.DecideInventory(ctx, order.ID, true, "warehouse", nil)
	require.NoError(t, err)
	if order.Status == orders.StatusInventoryApproved {
		order, err = p.Gate.ForwardToAccounting(ctx, order.ID, "warehouse", nil)
		require.NoError(t, err)
	}
	order, err = p.Gate.DecideAccounting(ctx, order.ID, true, "finance", nil)
	require.NoError(t, err)
	return order
}

// Delivered ships every item of an approved order in one delivery.
func (p *Pipeline) Delivered(t testing.TB, items ...orders.ItemInput) orders.Order {
	t.Helper()
	ctx := context.Background()
	order := p.Approved(t, items...)
	d := p.Schedule(t, order.ID)
	record := delivery.RecordInput{DeliveryID: d.ID}
	for _, item := range order.Items {
		record.Items = append(record.Items, delivery.ItemDelivery{OrderItemID: item.ID, Qty: item.Quantity})
	}
	order, err := p.Tracker.RecordDelivery(ctx, record)
	require.NoError(t, err)
	require.Equal(t, orders.StatusDelivered, order.Status)
	return order
}

// Schedule books a delivery for an order.
func (p *Pipeline) Schedule(t testing.TB, orderID int64) delivery.Delivery {
	t.Helper()
	d, err := p.Tracker.ScheduleDelivery(context.Background(), delivery.ScheduleInput{
		OrderID:   orderID,
		CourierID: "COURIER-1",
		Date:      time.Now().UTC().AddDate(0, 0, 1),
	})
	require.NoError(t, err)
	return d
}

// Events records published status changes.
type Events struct {
	mu     sync.Mutex
	events []orders.StatusChanged
}

func (e *Events) PublishStatusChanged(ctx context.Context, events []orders.StatusChanged) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, events...)
	return nil
}

// For returns the events of one order in publish order.
func (e *Events) For(orderID int64) []orders.StatusChanged {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []orders.StatusChanged
	for _, ev := range e.events {
		if ev.OrderID == orderID {
			out = append(out, ev)
		}
	}
	return out
}

// Refunds records refund hand-offs.
type Refunds struct {
	mu      sync.Mutex
	Refunds []returns.Refund
}

func (r *Refunds) RefundDue(ctx context.Context, refund returns.Refund) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Refunds = append(r.Refunds, refund)
	return nil
}

// Alerts records ledger invariant alerts.
type Alerts struct {
	mu     sync.Mutex
	Errors []*shared.InvariantError
}

func (a *Alerts) InvariantViolated(ctx context.Context, op inventory.MovementType, err *shared.InvariantError) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Errors = append(a.Errors, err)
}
