package returns

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odyssey-erp/pharmaflow/internal/inventory"
	"github.com/odyssey-erp/pharmaflow/internal/orders"
	"github.com/odyssey-erp/pharmaflow/internal/shared"
)

var tracer = otel.Tracer("github.com/odyssey-erp/pharmaflow/internal/returns")

// RefModule tags ledger movements caused by returns.
const RefModule = "return"

// Processor validates, gates and settles returns.
type Processor struct {
	repo     RepositoryPort
	ledger   *inventory.Ledger
	machine  *orders.Machine
	notifier *orders.Notifier
	refunds  RefundNotifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewProcessor builds Processor. refunds may be nil.
func NewProcessor(repo RepositoryPort, ledger *inventory.Ledger, machine *orders.Machine, notifier *orders.Notifier, refunds RefundNotifier, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		repo:     repo,
		ledger:   ledger,
		machine:  machine,
		notifier: notifier,
		refunds:  refunds,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RequestReturn opens a return against a delivered order. Every quantity must
// fit within what was delivered minus what earlier non-rejected returns hold.
func (p *Processor) RequestReturn(ctx context.Context, input RequestInput) (Return, error) {
	ctx, span := tracer.Start(ctx, "returns.RequestReturn", trace.WithAttributes(attribute.Int64("order.id", input.OrderID)))
	defer span.End()

	requested, err := aggregate(input.Items)
	if err != nil {
		return Return{}, endSpan(span, err)
	}

	var ret Return
	err = p.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrder(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if !order.Status.Returnable() {
			return fmt.Errorf("returns: order %d is %s: %w", order.ID, order.Status, shared.ErrInvalidReturnRequest)
		}
		// bump the order version so concurrent requests against it serialize
		if err := tx.UpdateOrder(ctx, &order); err != nil {
			return err
		}
		existing, err := tx.ListReturnsByOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		held := returnedQuantities(existing, false)

		now := p.now()
		ret = Return{
			OrderID:   order.ID,
			Reason:    input.Reason,
			Status:    StatusRequested,
			CreatedAt: now,
			UpdatedAt: now,
		}
		for _, in := range input.Items {
			qty, pending := requested[in.OrderItemID]
			if !pending {
				continue
			}
			delete(requested, in.OrderItemID)
			item, ok := order.Item(in.OrderItemID)
			if !ok {
				return fmt.Errorf("returns: item %d not in order %d: %w", in.OrderItemID, order.ID, shared.ErrInvalidReturnRequest)
			}
			if remaining := item.DeliveredQuantity - held[item.ID]; qty > remaining {
				return fmt.Errorf("returns: item %d requested %d, returnable %d: %w", item.ID, qty, remaining, shared.ErrInvalidReturnRequest)
			}
			ret.Items = append(ret.Items, Item{OrderItemID: item.ID, ProductID: item.ProductID, Quantity: qty, Reason: in.Reason})
		}

		seq, err := tx.NextSequence(ctx, "RET", now.Year())
		if err != nil {
			return err
		}
		ret.ReturnNumber = fmt.Sprintf("RET-%d-%03d", now.Year(), seq)
		return tx.InsertReturn(ctx, &ret)
	})
	if err != nil {
		return Return{}, endSpan(span, err)
	}
	return ret, nil
}

// DecideReturn approves or rejects a requested return.
func (p *Processor) DecideReturn(ctx context.Context, returnID int64, approve bool, actor string, note *string) (Return, error) {
	target := StatusRejected
	if approve {
		target = StatusApproved
	}
	return p.update(ctx, returnID, func(ctx context.Context, tx TxRepository, r *Return) error {
		if err := checkTransition(r.Status, target); err != nil {
			return err
		}
		r.Status = target
		r.DecidedBy = &actor
		r.DecisionNote = note
		return nil
	})
}

// ReceiveReturn records the physical receipt and the condition of every item.
func (p *Processor) ReceiveReturn(ctx context.Context, returnID int64, items []ReceivedItem) (Return, error) {
	conditions := make(map[int64]inventory.Condition, len(items))
	for _, item := range items {
		if !item.Condition.Valid() {
			return Return{}, shared.ValidationErrorf(fmt.Sprintf("item %d: unknown condition %q", item.OrderItemID, item.Condition))
		}
		conditions[item.OrderItemID] = item.Condition
	}
	return p.update(ctx, returnID, func(ctx context.Context, tx TxRepository, r *Return) error {
		if err := checkTransition(r.Status, StatusReceived); err != nil {
			return err
		}
		for i := range r.Items {
			c, ok := conditions[r.Items[i].OrderItemID]
			if !ok {
				return shared.ValidationErrorf(fmt.Sprintf("condition missing for item %d", r.Items[i].OrderItemID))
			}
			r.Items[i].Condition = c
			delete(conditions, r.Items[i].OrderItemID)
		}
		for id := range conditions {
			return shared.ValidationErrorf(fmt.Sprintf("item %d is not part of return %d", id, r.ID))
		}
		r.Status = StatusReceived
		return nil
	})
}

// ProcessReturn restocks good items, computes the refund and closes the
// return. When every delivered unit of the order has come back, the order
// moves to returned and reservations for undelivered units are released.
func (p *Processor) ProcessReturn(ctx context.Context, returnID int64, actor string) (Return, error) {
	ctx, span := tracer.Start(ctx, "returns.ProcessReturn", trace.WithAttributes(attribute.Int64("return.id", returnID)))
	defer span.End()

	var (
		ret     Return
		order   orders.Order
		entries []orders.HistoryEntry
	)
	err := p.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ret, err = tx.GetReturn(ctx, returnID)
		if err != nil {
			return err
		}
		if err := checkTransition(ret.Status, StatusProcessed); err != nil {
			return err
		}
		order, err = tx.GetOrder(ctx, ret.OrderID)
		if err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, &order); err != nil {
			return err
		}

		productIDs := make([]int64, 0, len(order.Items))
		for _, item := range order.Items {
			productIDs = append(productIDs, item.ProductID)
		}
		if err := p.ledger.Lock(ctx, tx, productIDs...); err != nil {
			return err
		}

		ref := inventory.Ref{Module: RefModule, ID: ret.ID, Actor: actor, Note: ret.ReturnNumber}
		var refund float64
		for _, item := range ret.Items {
			orderItem, ok := order.Item(item.OrderItemID)
			if !ok {
				return fmt.Errorf("returns: item %d missing from order %d: %w", item.OrderItemID, order.ID, shared.ErrNotFound)
			}
			if _, err := p.ledger.Restock(ctx, tx, ref, item.ProductID, item.Quantity, item.Condition); err != nil {
				return err
			}
			refund += shared.LineTotal(item.Quantity, orderItem.UnitPrice)
		}
		refund = shared.RoundCents(refund)
		ret.RefundAmount = &refund
		ret.ProcessedBy = &actor
		ret.Status = StatusProcessed
		ret.UpdatedAt = p.now()
		if err := tx.UpdateReturn(ctx, &ret); err != nil {
			return err
		}

		all, err := tx.ListReturnsByOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		if !closesOut(order, returnedQuantities(all, true)) {
			return nil
		}
		if lines := orders.OutstandingLines(order); len(lines) > 0 {
			if err := p.ledger.Release(ctx, tx, ref, lines...); err != nil {
				return err
			}
		}
		entry, err := p.machine.Apply(ctx, tx, &order, orders.TriggerReturnAccepted, actor, &ret.ReturnNumber)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return Return{}, endSpan(span, err)
	}
	p.notifier.Notify(ctx, order, entries)
	if p.refunds != nil {
		refund := Refund{
			ReturnID:     ret.ID,
			ReturnNumber: ret.ReturnNumber,
			OrderID:      order.ID,
			CustomerID:   order.CustomerID,
			Amount:       *ret.RefundAmount,
			ProcessedBy:  actor,
		}
		if err := p.refunds.RefundDue(ctx, refund); err != nil {
			p.logger.WarnContext(ctx, "refund hand-off", slog.Int64("return_id", ret.ID), slog.Any("error", err))
		}
	}
	return ret, nil
}

// GetReturn loads one return.
func (p *Processor) GetReturn(ctx context.Context, id int64) (Return, error) {
	return p.repo.GetReturn(ctx, id)
}

// ListReturns lists the returns of an order.
func (p *Processor) ListReturns(ctx context.Context, orderID int64) ([]Return, error) {
	return p.repo.ListReturns(ctx, orderID)
}

func (p *Processor) update(ctx context.Context, returnID int64, mutate func(context.Context, TxRepository, *Return) error) (Return, error) {
	var ret Return
	err := p.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		ret, err = tx.GetReturn(ctx, returnID)
		if err != nil {
			return err
		}
		if err := mutate(ctx, tx, &ret); err != nil {
			return err
		}
		ret.UpdatedAt = p.now()
		return tx.UpdateReturn(ctx, &ret)
	})
	if err != nil {
		return Return{}, err
	}
	return ret, nil
}

// returnedQuantities sums quantity per order item over counting returns, or
// over processed returns only.
func returnedQuantities(list []Return, processedOnly bool) map[int64]int64 {
	out := make(map[int64]int64)
	for _, r := range list {
		if !r.Counts() || (processedOnly && r.Status != StatusProcessed) {
			continue
		}
		for _, item := range r.Items {
			out[item.OrderItemID] += item.Quantity
		}
	}
	return out
}

func closesOut(order orders.Order, returned map[int64]int64) bool {
	var delivered int64
	for _, item := range order.Items {
		if returned[item.ID] != item.DeliveredQuantity {
			return false
		}
		delivered += item.DeliveredQuantity
	}
	return delivered > 0
}

func aggregate(items []ItemInput) (map[int64]int64, error) {
	if len(items) == 0 {
		return nil, shared.ValidationErrorf("return items must not be empty")
	}
	out := make(map[int64]int64, len(items))
	for _, item := range items {
		if item.OrderItemID <= 0 {
			return nil, shared.ValidationErrorf("order item id required")
		}
		if item.Quantity <= 0 {
			return nil, shared.ValidationErrorf(fmt.Sprintf("quantity for item %d must be greater than zero", item.OrderItemID))
		}
		out[item.OrderItemID] += item.Quantity
	}
	return out, nil
}

func endSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
