package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/pharmaflow/internal/shared"
)

var tracer = otel.Tracer("github.com/odyssey-erp/pharmaflow/internal/inventory")

// Service coordinates catalog and stock administration.
type Service struct {
	repo   RepositoryPort
	ledger *Ledger
	cache  ProductCache
	audit  AuditPort
	logger *slog.Logger
	group  singleflight.Group
	now    func() time.Time
}

// NewService builds Service. cache and audit may be nil.
func NewService(repo RepositoryPort, ledger *Ledger, cache ProductCache, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		ledger: ledger,
		cache:  cache,
		audit:  audit,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Ledger exposes the ledger shared with the order workflow.
func (s *Service) Ledger() *Ledger {
	return s.ledger
}

// CreateProduct registers a catalog entry.
func (s *Service) CreateProduct(ctx context.Context, input CreateProductInput) (Product, error) {
	input.SKU = strings.TrimSpace(input.SKU)
	input.Name = strings.TrimSpace(input.Name)
	if input.SKU == "" || input.Name == "" {
		return Product{}, shared.ValidationErrorf("sku and name required")
	}
	if input.UnitPrice < 0 {
		return Product{}, shared.ValidationErrorf("unit price must be >= 0")
	}
	now := s.now()
	product := Product{
		SKU:                  input.SKU,
		Name:                 input.Name,
		Description:          input.Description,
		Category:             input.Category,
		UnitPrice:            shared.RoundCents(input.UnitPrice),
		RequiresPrescription: input.RequiresPrescription,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertProduct(ctx, product)
		if err != nil {
			return err
		}
		product.ID = id
		return nil
	})
	if err != nil {
		return Product{}, err
	}
	return product, nil
}

// GetProduct returns a product, reading through the cache when configured.
func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	if s.cache == nil {
		return s.repo.GetProduct(ctx, id)
	}
	if p, ok, err := s.cache.Get(ctx, id); err == nil && ok {
		return p, nil
	} else if err != nil {
		s.logger.WarnContext(ctx, "product cache get", slog.Int64("product_id", id), slog.Any("error", err))
	}
	// The shared call outlives the caller that started it.
	v, err, _ := s.group.Do(strconv.FormatInt(id, 10), func() (any, error) {
		fctx := context.WithoutCancel(ctx)
		p, err := s.repo.GetProduct(fctx, id)
		if err != nil {
			return Product{}, err
		}
		if err := s.cache.Set(fctx, p); err != nil {
			s.logger.WarnContext(fctx, "product cache set", slog.Int64("product_id", id), slog.Any("error", err))
		}
		return p, nil
	})
	if err != nil {
		return Product{}, err
	}
	return v.(Product), nil
}

// ListProducts lists catalog entries.
func (s *Service) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error) {
	return s.repo.ListProducts(ctx, filter)
}

// UpdatePrice changes the list price. Existing order items keep their snapshot.
func (s *Service) UpdatePrice(ctx context.Context, id int64, price float64) (Product, error) {
	if price < 0 {
		return Product{}, shared.ValidationErrorf("unit price must be >= 0")
	}
	price = shared.RoundCents(price)
	var previous float64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		previous = p.UnitPrice
		return tx.UpdateProductPrice(ctx, id, price, s.now())
	})
	if err != nil {
		return Product{}, err
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, id); err != nil {
			s.logger.WarnContext(ctx, "product cache invalidate", slog.Int64("product_id", id), slog.Any("error", err))
		}
	}
	s.record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   "product:price",
		Entity:   "product",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     map[string]any{"from": previous, "to": price},
	})
	return s.repo.GetProduct(ctx, id)
}

// ReceiveStock books inbound stock for a product.
func (s *Service) ReceiveStock(ctx context.Context, input ReceiveInput) (Snapshot, error) {
	ctx, span := tracer.Start(ctx, "inventory.ReceiveStock")
	defer span.End()
	span.SetAttributes(attribute.Int64("product.id", input.ProductID), attribute.Int64("qty", input.Qty))

	var stock Stock
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetProduct(ctx, input.ProductID); err != nil {
			return err
		}
		var err error
		stock, err = s.ledger.Receive(ctx, tx, Ref{Module: "inventory", ID: input.ProductID, Actor: shared.ActorFromContext(ctx), Note: input.Note}, input)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Snapshot{}, err
	}
	s.record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   "inventory:receive",
		Entity:   "inventory",
		EntityID: strconv.FormatInt(input.ProductID, 10),
		Meta:     map[string]any{"qty": input.Qty, "note": input.Note},
	})
	return SnapshotOf(stock), nil
}

// AdjustStock sets the counted on-hand quantity of a product. A reason is
// required and lands on the ADJUST movement and the audit trail.
func (s *Service) AdjustStock(ctx context.Context, input AdjustInput) (Snapshot, error) {
	ctx, span := tracer.Start(ctx, "inventory.AdjustStock")
	defer span.End()
	span.SetAttributes(attribute.Int64("product.id", input.ProductID), attribute.Int64("quantity", input.Quantity))

	input.Reason = strings.TrimSpace(input.Reason)
	if input.Reason == "" {
		return Snapshot{}, shared.ValidationErrorf("adjustment reason required")
	}
	var stock Stock
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetProduct(ctx, input.ProductID); err != nil {
			return err
		}
		var err error
		stock, err = s.ledger.Adjust(ctx, tx, Ref{Module: "inventory", ID: input.ProductID, Actor: shared.ActorFromContext(ctx), Note: input.Reason}, input)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Snapshot{}, err
	}
	s.record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   "inventory:adjust",
		Entity:   "inventory",
		EntityID: strconv.FormatInt(input.ProductID, 10),
		Meta:     map[string]any{"quantity": input.Quantity, "reason": input.Reason},
	})
	return SnapshotOf(stock), nil
}

// GetInventory returns on-hand, reserved and available quantity of a product.
func (s *Service) GetInventory(ctx context.Context, productID int64) (Snapshot, error) {
	stock, err := s.repo.GetStock(ctx, productID)
	if err == nil {
		return SnapshotOf(stock), nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return Snapshot{}, err
	}
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return Snapshot{}, fmt.Errorf("inventory: product %d: %w", productID, err)
	}
	return SnapshotOf(Stock{ProductID: productID}), nil
}

// ListStock lists stock rows, optionally only low or expiring ones.
func (s *Service) ListStock(ctx context.Context, filter StockFilter) ([]StockReport, error) {
	rows, err := s.repo.ListStock(ctx)
	if err != nil {
		return nil, err
	}
	window := filter.ExpiringWithin
	if window <= 0 {
		window = DefaultExpiryWindow
	}
	now := s.now()
	reports := make([]StockReport, 0, len(rows))
	for _, row := range rows {
		report := StockReport{
			Stock:        row,
			Available:    row.Available(),
			Level:        row.Level(),
			ExpiringSoon: row.ExpiresWithin(now, window),
		}
		if filter.LowStock && report.Level == LevelInStock {
			continue
		}
		if filter.ExpiringWithin > 0 && !report.ExpiringSoon {
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// ListMovements returns the stock card of a product, newest first.
func (s *Service) ListMovements(ctx context.Context, productID int64, limit int) ([]Movement, error) {
	if limit <= 0 {
		limit = 200
	}
	return s.repo.ListMovements(ctx, productID, limit)
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	log.At = s.now()
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.WarnContext(ctx, "audit record", slog.String("action", log.Action), slog.Any("error", err))
	}
}
