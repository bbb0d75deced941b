package delivery

import (
	"context"

	"github.com/odyssey-erp/pharmaflow/internal/orders"
)

// TxRepository exposes transactional delivery operations.
type TxRepository interface {
	orders.TxRepository
	InsertDelivery(ctx context.Context, d *Delivery) error
	GetDelivery(ctx context.Context, id int64) (Delivery, error)
	// MarkDelivered stores the delivered date, proof and lines. It fails with
	// shared.ErrConcurrentModification when the delivery was already recorded.
	MarkDelivered(ctx context.Context, d *Delivery) error
}

// RepositoryPort abstracts repository usage for the tracker.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDelivery(ctx context.Context, id int64) (Delivery, error)
	ListDeliveries(ctx context.Context, orderID int64) ([]Delivery, error)
}
