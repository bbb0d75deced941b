package orders

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/odyssey-erp/pharmaflow/internal/inventory"
	"github.com/odyssey-erp/pharmaflow/internal/shared"
)

// Gate sequences inventory approval before accounting approval. Accounting is
// never asked before inventory approves, and an inventory rejection ends the
// pipeline. Rejections release every reservation the order holds.
type Gate struct {
	repo        RepositoryPort
	ledger      *inventory.Ledger
	machine     *Machine
	notifier    *Notifier
	logger      *slog.Logger
	autoForward bool
}

// GateConfig groups optional settings.
type GateConfig struct {
	// AutoForward sends an inventory-approved order straight to accounting in
	// the same transaction.
	AutoForward bool
	Logger      *slog.Logger
}

// NewGate builds Gate.
func NewGate(repo RepositoryPort, ledger *inventory.Ledger, machine *Machine, notifier *Notifier, cfg GateConfig) *Gate {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{repo: repo, ledger: ledger, machine: machine, notifier: notifier, logger: logger, autoForward: cfg.AutoForward}
}

// CreditCheck compares an order total with the customer's credit limit. It
// informs the accounting decision and never blocks it.
type CreditCheck struct {
	OrderID     int64    `json:"order_id"`
	CustomerID  string   `json:"customer_id"`
	OrderTotal  float64  `json:"order_total"`
	CreditLimit *float64 `json:"credit_limit,omitempty"`
	OverLimit   bool     `json:"over_limit"`
}

// CreditCheck reports whether the order exceeds its customer's credit limit.
// Customers without a limit, or no longer on file, are never over it.
func (g *Gate) CreditCheck(ctx context.Context, orderID int64) (CreditCheck, error) {
	var check CreditCheck
	err := g.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		check = CreditCheck{OrderID: order.ID, CustomerID: order.CustomerID, OrderTotal: order.TotalAmount}
		customer, err := tx.GetCustomer(ctx, order.CustomerID)
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if customer.CreditLimit != nil {
			check.CreditLimit = customer.CreditLimit
			check.OverLimit = order.TotalAmount > *customer.CreditLimit
		}
		return nil
	})
	return check, err
}

// DecideInventory approves or rejects the inventory check of a pending order.
func (g *Gate) DecideInventory(ctx context.Context, orderID int64, approve bool, actor string, note *string) (Order, error) {
	ctx, span := tracer.Start(ctx, "orders.DecideInventory", trace.WithAttributes(
		attribute.Int64("order.id", orderID), attribute.Bool("approve", approve)))
	defer span.End()

	triggers := []Trigger{TriggerInventoryReject}
	if approve {
		triggers = []Trigger{TriggerInventoryApprove}
		if g.autoForward {
			triggers = append(triggers, TriggerForwardAccounting)
		}
	}
	order, err := g.decide(ctx, orderID, triggers, !approve, actor, note)
	if err != nil {
		return Order{}, endSpan(span, err)
	}
	return order, nil
}

// ForwardToAccounting requests accounting approval for an inventory-approved order.
func (g *Gate) ForwardToAccounting(ctx context.Context, orderID int64, actor string, note *string) (Order, error) {
	ctx, span := tracer.Start(ctx, "orders.ForwardToAccounting", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	order, err := g.decide(ctx, orderID, []Trigger{TriggerForwardAccounting}, false, actor, note)
	if err != nil {
		return Order{}, endSpan(span, err)
	}
	return order, nil
}

// DecideAccounting approves or rejects an order pending accounting.
func (g *Gate) DecideAccounting(ctx context.Context, orderID int64, approve bool, actor string, note *string) (Order, error) {
	ctx, span := tracer.Start(ctx, "orders.DecideAccounting", trace.WithAttributes(
		attribute.Int64("order.id", orderID), attribute.Bool("approve", approve)))
	defer span.End()

	trigger := TriggerAccountingReject
	if approve {
		trigger = TriggerAccountingApprove
		if check, err := g.CreditCheck(ctx, orderID); err == nil && check.OverLimit {
			span.SetAttributes(attribute.Bool("credit.over_limit", true))
			g.logger.WarnContext(ctx, "order approved over credit limit",
				slog.Int64("order_id", orderID),
				slog.String("customer_id", check.CustomerID),
				slog.Float64("order_total", check.OrderTotal),
				slog.Float64("credit_limit", *check.CreditLimit),
				slog.String("actor", actor))
		}
	}
	order, err := g.decide(ctx, orderID, []Trigger{trigger}, !approve, actor, note)
	if err != nil {
		return Order{}, endSpan(span, err)
	}
	return order, nil
}

func (g *Gate) decide(ctx context.Context, orderID int64, triggers []Trigger, release bool, actor string, note *string) (Order, error) {
	var (
		order   Order
		entries []HistoryEntry
	)
	err := g.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		for _, trigger := range triggers {
			entry, err := g.machine.Apply(ctx, tx, &order, trigger, actor, note)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		if !release {
			return nil
		}
		lines := OutstandingLines(order)
		if len(lines) == 0 {
			return nil
		}
		ref := inventory.Ref{Module: RefModule, ID: order.ID, Actor: actor, Note: "reject " + order.OrderNumber}
		return g.ledger.Release(ctx, tx, ref, lines...)
	})
	if err != nil {
		return Order{}, err
	}
	g.notifier.Notify(ctx, order, entries)
	return order, nil
}
