package orders

import (
	"context"

	"github.com/odyssey-erp/pharmaflow/internal/customers"
	"github.com/odyssey-erp/pharmaflow/internal/inventory"
)

// TxRepository exposes transactional order operations. It embeds the
// inventory operations so the ledger runs in the same transaction.
type TxRepository interface {
	inventory.TxRepository
	// GetOrder loads the order with its items.
	GetOrder(ctx context.Context, id int64) (Order, error)
	// InsertOrder stores a new order and its items, assigning ids and version 1.
	InsertOrder(ctx context.Context, o *Order) error
	// UpdateOrder persists the header and items when the stored version equals
	// o.Version, then increments o.Version. A mismatch returns
	// shared.ErrConcurrentModification.
	UpdateOrder(ctx context.Context, o *Order) error
	LastHistory(ctx context.Context, orderID int64) (HistoryEntry, bool, error)
	InsertHistory(ctx context.Context, entry HistoryEntry) error
	// NextSequence returns the next document number for prefix and year.
	NextSequence(ctx context.Context, prefix string, year int) (int64, error)
	GetCustomer(ctx context.Context, id string) (customers.Customer, error)
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (Order, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]Order, int, error)
	ListHistory(ctx context.Context, orderID int64) ([]HistoryEntry, error)
}
