package customers

import "context"

// TxRepository exposes transactional customer operations.
type TxRepository interface {
	GetCustomer(ctx context.Context, id string) (Customer, error)
	InsertCustomer(ctx context.Context, c Customer) error
	UpdateCustomer(ctx context.Context, c Customer) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetCustomer(ctx context.Context, id string) (Customer, error)
	ListCustomers(ctx context.Context, filter ListFilter) ([]Customer, int, error)
}
