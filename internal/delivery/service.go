package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odyssey-erp/pharmaflow/internal/inventory"
	"github.com/odyssey-erp/pharmaflow/internal/orders"
	"github.com/odyssey-erp/pharmaflow/internal/shared"
)

var tracer = otel.Tracer("github.com/odyssey-erp/pharmaflow/internal/delivery")

// RefModule tags ledger movements caused by deliveries.
const RefModule = "delivery"

// Tracker schedules deliveries and records their outcome, committing
// reservations and driving the order status forward.
type Tracker struct {
	repo     RepositoryPort
	ledger   *inventory.Ledger
	machine  *orders.Machine
	notifier *orders.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewTracker builds Tracker.
func NewTracker(repo RepositoryPort, ledger *inventory.Ledger, machine *orders.Machine, notifier *orders.Notifier, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		repo:     repo,
		ledger:   ledger,
		machine:  machine,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ScheduleDelivery creates a delivery for an approved or in-transit order.
// The first delivery dispatches the order. Without an address in input the
// customer's address on file is copied onto the delivery.
func (t *Tracker) ScheduleDelivery(ctx context.Context, input ScheduleInput) (Delivery, error) {
	ctx, span := tracer.Start(ctx, "delivery.ScheduleDelivery", trace.WithAttributes(attribute.Int64("order.id", input.OrderID)))
	defer span.End()

	input.CourierID = strings.TrimSpace(input.CourierID)
	if input.CourierID == "" {
		return Delivery{}, endSpan(span, shared.ValidationErrorf("courier id required"))
	}
	if input.Date.IsZero() {
		return Delivery{}, endSpan(span, shared.ValidationErrorf("scheduled date required"))
	}

	actor := shared.ActorFromContext(ctx)
	var (
		d       Delivery
		order   orders.Order
		entries []orders.HistoryEntry
	)
	err := t.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrder(ctx, input.OrderID)
		if err != nil {
			return err
		}
		switch order.Status {
		case orders.StatusApproved, orders.StatusInTransit, orders.StatusPartiallyDelivered:
		default:
			return fmt.Errorf("delivery: schedule for order in %s: %w", order.Status, shared.ErrInvalidTransition)
		}
		address := input.Address
		if address == nil {
			customer, err := tx.GetCustomer(ctx, order.CustomerID)
			switch {
			case err == nil && customer.Address != nil:
				snapshot := *customer.Address
				address = &snapshot
			case err != nil && !errors.Is(err, shared.ErrNotFound):
				return err
			}
		}
		now := t.now()
		d = Delivery{
			OrderID:       order.ID,
			CourierID:     input.CourierID,
			ScheduledDate: input.Date.UTC(),
			Address:       address,
			Notes:         input.Notes,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.InsertDelivery(ctx, &d); err != nil {
			return err
		}
		if order.Status == orders.StatusApproved {
			note := fmt.Sprintf("courier %s", input.CourierID)
			entry, err := t.machine.Apply(ctx, tx, &order, orders.TriggerDispatch, actor, &note)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return Delivery{}, endSpan(span, err)
	}
	t.notifier.Notify(ctx, order, entries)
	return d, nil
}

// RecordDelivery applies delivered quantities, commits them in the ledger and
// moves the order to delivered or partially_delivered.
func (t *Tracker) RecordDelivery(ctx context.Context, input RecordInput) (orders.Order, error) {
	ctx, span := tracer.Start(ctx, "delivery.RecordDelivery", trace.WithAttributes(attribute.Int64("delivery.id", input.DeliveryID)))
	defer span.End()

	quantities, err := aggregate(input.Items)
	if err != nil {
		return orders.Order{}, endSpan(span, err)
	}

	actor := shared.ActorFromContext(ctx)
	var (
		order orders.Order
		entry orders.HistoryEntry
	)
	err = t.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		d, err := tx.GetDelivery(ctx, input.DeliveryID)
		if err != nil {
			return err
		}
		if d.Recorded() {
			return fmt.Errorf("delivery: %d already recorded: %w", d.ID, shared.ErrInvalidTransition)
		}
		order, err = tx.GetOrder(ctx, d.OrderID)
		if err != nil {
			return err
		}
		if _, err := orders.Next(order.Status, orders.TriggerDeliverPartial); err != nil {
			return err
		}

		itemIDs := make([]int64, 0, len(quantities))
		for id := range quantities {
			itemIDs = append(itemIDs, id)
		}
		sort.Slice(itemIDs, func(i, j int) bool { return itemIDs[i] < itemIDs[j] })

		lines := make([]inventory.Line, 0, len(itemIDs))
		d.Lines = d.Lines[:0]
		for _, itemID := range itemIDs {
			qty := quantities[itemID]
			item, ok := order.Item(itemID)
			if !ok {
				return shared.ValidationErrorf(fmt.Sprintf("order item %d not in order %d", itemID, order.ID))
			}
			if item.DeliveredQuantity+qty > item.Quantity {
				return fmt.Errorf("delivery: item %d ordered %d, delivered %d, recording %d: %w",
					item.ID, item.Quantity, item.DeliveredQuantity, qty, shared.ErrOverDelivery)
			}
			item.DeliveredQuantity += qty
			lines = append(lines, inventory.Line{ProductID: item.ProductID, Qty: qty})
			d.Lines = append(d.Lines, Line{DeliveryID: d.ID, OrderItemID: item.ID, ProductID: item.ProductID, Qty: qty})
		}

		trigger := orders.TriggerDeliverPartial
		if order.FullyDelivered() {
			trigger = orders.TriggerDeliverFull
		}
		entry, err = t.machine.Apply(ctx, tx, &order, trigger, actor, nil)
		if err != nil {
			return err
		}

		deliveredAt := t.now()
		if input.DeliveredAt != nil {
			deliveredAt = input.DeliveredAt.UTC()
		}
		d.DeliveredDate = &deliveredAt
		d.ProofOfDelivery = input.ProofOfDelivery
		d.UpdatedAt = t.now()
		if err := tx.MarkDelivered(ctx, &d); err != nil {
			return err
		}

		ref := inventory.Ref{Module: RefModule, ID: d.ID, Actor: actor, Note: "deliver " + order.OrderNumber}
		return t.ledger.Commit(ctx, tx, ref, lines...)
	})
	if err != nil {
		return orders.Order{}, endSpan(span, err)
	}
	t.notifier.Notify(ctx, order, []orders.HistoryEntry{entry})
	t.logger.InfoContext(ctx, "delivery recorded",
		slog.Int64("delivery_id", input.DeliveryID),
		slog.Int64("order_id", order.ID),
		slog.String("status", string(order.Status)))
	return order, nil
}

// GetDelivery loads one delivery.
func (t *Tracker) GetDelivery(ctx context.Context, id int64) (Delivery, error) {
	return t.repo.GetDelivery(ctx, id)
}

// ListDeliveries lists the deliveries of an order.
func (t *Tracker) ListDeliveries(ctx context.Context, orderID int64) ([]Delivery, error) {
	return t.repo.ListDeliveries(ctx, orderID)
}

func aggregate(items []ItemDelivery) (map[int64]int64, error) {
	if len(items) == 0 {
		return nil, shared.ValidationErrorf("delivery items must not be empty")
	}
	out := make(map[int64]int64, len(items))
	for _, item := range items {
		if item.OrderItemID <= 0 {
			return nil, shared.ValidationErrorf("order item id required")
		}
		if item.Qty <= 0 {
			return nil, shared.ValidationErrorf(fmt.Sprintf("quantity for item %d must be greater than zero", item.OrderItemID))
		}
		out[item.OrderItemID] += item.Qty
	}
	return out, nil
}

func endSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
