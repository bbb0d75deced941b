package returns

import (
	"context"

	"github.com/odyssey-erp/pharmaflow/internal/orders"
)

// TxRepository exposes transactional return operations.
type TxRepository interface {
	orders.TxRepository
	InsertReturn(ctx context.Context, r *Return) error
	GetReturn(ctx context.Context, id int64) (Return, error)
	// UpdateReturn persists status, refund and item conditions when the stored
	// version equals r.Version, then increments r.Version.
	UpdateReturn(ctx context.Context, r *Return) error
	ListReturnsByOrder(ctx context.Context, orderID int64) ([]Return, error)
}

// RepositoryPort abstracts repository usage for the processor.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetReturn(ctx context.Context, id int64) (Return, error)
	ListReturns(ctx context.Context, orderID int64) ([]Return, error)
}

// RefundNotifier hands processed refunds to the payments back office.
type RefundNotifier interface {
	RefundDue(ctx context.Context, refund Refund) error
}

// Refund is emitted once a return is processed.
type Refund struct {
	ReturnID     int64   `json:"return_id"`
	ReturnNumber string  `json:"return_number"`
	OrderID      int64   `json:"order_id"`
	CustomerID   string  `json:"customer_id"`
	Amount       float64 `json:"amount"`
	ProcessedBy  string  `json:"processed_by"`
}
