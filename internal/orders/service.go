package orders

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
	"github.com/odyssey-erp/pharmaflow/internal/shared"
)

var tracer = otel.Tracer("github.com/odyssey-erp/pharmaflow/internal/orders")

// RefModule tags ledger movements caused by order transitions.
const RefModule = "order"

// Service owns order creation, submission and the read side.
type Service struct {
	repo     RepositoryPort
	ledger   *inventory.Ledger
	machine  *Machine
	notifier *Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger *inventory.Ledger, machine *Machine, notifier *Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		ledger:   ledger,
		machine:  machine,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder stores a draft order for a registered customer. Unit prices are
// snapshotted from the catalog.
func (s *Service) CreateOrder(ctx context.Context, input CreateOrderInput) (Order, error) {
	ctx, span := tracer.Start(ctx, "orders.CreateOrder")
	defer span.End()

	if err := validateCreate(input); err != nil {
		return Order{}, endSpan(span, err)
	}
	now := s.now()
	order := Order{
		CustomerID: strings.TrimSpace(input.CustomerID),
		SalesRepID: input.SalesRepID,
		Notes:      input.Notes,
		Status:     StatusDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetCustomer(ctx, order.CustomerID); errors.Is(err, shared.ErrNotFound) {
			return shared.ValidationErrorf(fmt.Sprintf("unknown customer %q", order.CustomerID))
		} else if err != nil {
			return err
		}
		products, err := tx.GetProducts(ctx, productIDs(input.Items))
		if err != nil {
			return err
		}
		for _, in := range input.Items {
			p, ok := products[in.ProductID]
			if !ok {
				return shared.ValidationErrorf(fmt.Sprintf("unknown product %d", in.ProductID))
			}
			order.Items = append(order.Items, Item{ProductID: in.ProductID, Quantity: in.Quantity, UnitPrice: p.UnitPrice})
		}
		order.Recalculate()
		seq, err := tx.NextSequence(ctx, "ORD", now.Year())
		if err != nil {
			return err
		}
		order.OrderNumber = fmt.Sprintf("ORD-%d-%03d", now.Year(), seq)
		return tx.InsertOrder(ctx, &order)
	})
	if err != nil {
		return Order{}, endSpan(span, err)
	}
	span.SetAttributes(attribute.Int64("order.id", order.ID))
	s.logger.InfoContext(ctx, "order created",
		slog.Int64("order_id", order.ID),
		slog.String("order_number", order.OrderNumber),
		slog.Int("items", len(order.Items)))
	return order, nil
}

// SubmitOrder freezes unit prices, reserves every item and moves the order to
// pending_inventory. No reservation survives when any item is short.
func (s *Service) SubmitOrder(ctx context.Context, id int64) (Order, error) {
	ctx, span := tracer.Start(ctx, "orders.SubmitOrder", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	actor := shared.ActorFromContext(ctx)
	var (
		order Order
		entry HistoryEntry
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		if _, err := Next(order.Status, TriggerSubmit); err != nil {
			return err
		}
		products, err := tx.GetProducts(ctx, itemProductIDs(order.Items))
		if err != nil {
			return err
		}
		for i := range order.Items {
			if p, ok := products[order.Items[i].ProductID]; ok {
				order.Items[i].UnitPrice = p.UnitPrice
			}
		}
		order.Recalculate()
		// the version-checked update comes first so a stale writer fails
		// before it touches stock
		entry, err = s.machine.Apply(ctx, tx, &order, TriggerSubmit, actor, nil)
		if err != nil {
			return err
		}
		return s.ledger.Reserve(ctx, tx, inventory.Ref{Module: RefModule, ID: order.ID, Actor: actor, Note: "submit " + order.OrderNumber}, OutstandingLines(order)...)
	})
	if err != nil {
		return Order{}, endSpan(span, err)
	}
	s.notifier.Notify(ctx, order, []HistoryEntry{entry})
	return order, nil
}

// Finalize closes a delivered order.
func (s *Service) Finalize(ctx context.Context, id int64, actor string, note *string) (Order, error) {
	ctx, span := tracer.Start(ctx, "orders.Finalize", trace.WithAttributes(attribute.Int64("order.id", id)))
	defer span.End()

	var (
		order Order
		entry HistoryEntry
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		order, err = tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		entry, err = s.machine.Apply(ctx, tx, &order, TriggerFinalize, actor, note)
		return err
	})
	if err != nil {
		return Order{}, endSpan(span, err)
	}
	s.notifier.Notify(ctx, order, []HistoryEntry{entry})
	return order, nil
}

// GetOrder loads one order.
func (s *Service) GetOrder(ctx context.Context, id int64) (Order, error) {
	return s.repo.GetOrder(ctx, id)
}

// ListOrders lists orders newest first.
func (s *Service) ListOrders(ctx context.Context, filter ListFilter) ([]Order, shared.Pagination, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, shared.Pagination{}, shared.ValidationErrorf(fmt.Sprintf("unknown status %q", filter.Status))
	}
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	list, total, err := s.repo.ListOrders(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return list, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// History returns the status log of an order in sequence order.
func (s *Service) History(ctx context.Context, id int64) ([]HistoryEntry, error) {
	if _, err := s.repo.GetOrder(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, id)
}

// VerifyHistory replays the status log and checks it reproduces the stored status.
func (s *Service) VerifyHistory(ctx context.Context, id int64) (Status, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return "", err
	}
	entries, err := s.repo.ListHistory(ctx, id)
	if err != nil {
		return "", err
	}
	replayed, err := Replay(entries)
	if err != nil {
		return "", err
	}
	if replayed != order.Status {
		return replayed, fmt.Errorf("%w: replay reached %s, order is %s", ErrHistoryCorrupted, replayed, order.Status)
	}
	return replayed, nil
}

// OutstandingLines returns the undelivered quantity per item as ledger lines.
func OutstandingLines(o Order) []inventory.Line {
	lines := make([]inventory.Line, 0, len(o.Items))
	for _, item := range o.Items {
		if qty := item.Outstanding(); qty > 0 {
			lines = append(lines, inventory.Line{ProductID: item.ProductID, Qty: qty})
		}
	}
	return lines
}

func validateCreate(input CreateOrderInput) error {
	if strings.TrimSpace(input.CustomerID) == "" {
		return shared.ValidationErrorf("customer id required")
	}
	if len(input.Items) == 0 {
		return shared.ValidationErrorf("items must not be empty")
	}
	for i, item := range input.Items {
		if item.ProductID <= 0 {
			return shared.ValidationErrorf(fmt.Sprintf("item %d: product id required", i+1))
		}
		if item.Quantity <= 0 {
			return shared.ValidationErrorf(fmt.Sprintf("item %d: quantity must be greater than zero", i+1))
		}
	}
	return nil
}

func productIDs(items []ItemInput) []int64 {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func itemProductIDs(items []Item) []int64 {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func endSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
