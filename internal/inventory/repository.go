package inventory

import (
	"context"
	"time"

	"github.com/odyssey-erp/pharmaflow/internal/shared"
)

// TxRepository exposes the transactional operations the ledger and service use.
type TxRepository interface {
	// LockStock locks the inventory rows of the given products in ascending
	// product id order and returns their current values. Products without a
	// row are absent from the result.
	LockStock(ctx context.Context, productIDs []int64) (map[int64]Stock, error)
	SaveStock(ctx context.Context, stock Stock) error
	InsertMovements(ctx context.Context, movements []Movement) error
	GetProduct(ctx context.Context, id int64) (Product, error)
	GetProducts(ctx context.Context, ids []int64) (map[int64]Product, error)
	InsertProduct(ctx context.Context, p Product) (int64, error)
	UpdateProductPrice(ctx context.Context, id int64, price float64, at time.Time) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, error)
	GetStock(ctx context.Context, productID int64) (Stock, error)
	ListStock(ctx context.Context) ([]Stock, error)
	ListMovements(ctx context.Context, productID int64, limit int) ([]Movement, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Alerter is notified when the ledger detects a broken invariant.
type Alerter interface {
	InvariantViolated(ctx context.Context, op MovementType, err *shared.InvariantError)
}

// Observer receives the outcome of every ledger operation.
type Observer interface {
	ObserveLedger(op MovementType, outcome string, qty int64)
}

// ProductCache is a read-through cache for catalog lookups.
type ProductCache interface {
	Get(ctx context.Context, id int64) (Product, bool, error)
	Set(ctx context.Context, p Product) error
	Invalidate(ctx context.Context, id int64) error
}
