// Package postgres persists the order engine in PostgreSQL. Transactions run
// at READ COMMITTED: stock rows are locked with SELECT ... FOR UPDATE in
// ascending product id order, and order and return rows are updated with a
// version predicate so a stale writer affects no row.
package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/pharmaflow/internal/customers"
	"github.com/odyssey-erp/pharmaflow/internal/delivery"
	"github.com/odyssey-erp/pharmaflow/internal/inventory"
	"github.com/odyssey-erp/pharmaflow/internal/orders"
	"github.com/odyssey-erp/pharmaflow/internal/platform/db"
	"github.com/odyssey-erp/pharmaflow/internal/returns"
)

//go:embed schema.sql
var schema string

// Store reads through the pool and opens transactions for writes.
type Store struct {
	queries
	pool *pgxpool.Pool
}

// New returns a Store over pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{db: pool}, pool: pool}
}

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(context.Context, *Tx) error) error {
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &Tx{queries: queries{db: tx}, tx: tx})
	})
	return translate(err)
}

// Customers adapts the store to customers.RepositoryPort.
func (s *Store) Customers() customers.RepositoryPort { return customerRepo{s} }

// Inventory adapts the store to inventory.RepositoryPort.
func (s *Store) Inventory() inventory.RepositoryPort { return inventoryRepo{s} }

// Orders adapts the store to orders.RepositoryPort.
func (s *Store) Orders() orders.RepositoryPort { return orderRepo{s} }

// Deliveries adapts the store to delivery.RepositoryPort.
func (s *Store) Deliveries() delivery.RepositoryPort { return deliveryRepo{s} }

// Returns adapts the store to returns.RepositoryPort.
func (s *Store) Returns() returns.RepositoryPort { return returnRepo{s} }

type customerRepo struct{ *Store }

func (r customerRepo) WithTx(ctx context.Context, fn func(context.Context, customers.TxRepository) error) error {
	return r.withTx(ctx, func(ctx context.Context, tx *Tx) error { return fn(ctx, tx) })
}

type inventoryRepo struct{ *Store }

func (r inventoryRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return r.withTx(ctx, func(ctx context.Context, tx *Tx) error { return fn(ctx, tx) })
}

type orderRepo struct{ *Store }

func (r orderRepo) WithTx(ctx context.Context, fn func(context.Context, orders.TxRepository) error) error {
	return r.withTx(ctx, func(ctx context.Context, tx *Tx) error { return fn(ctx, tx) })
}

type deliveryRepo struct{ *Store }

func (r deliveryRepo) WithTx(ctx context.Context, fn func(context.Context, delivery.TxRepository) error) error {
	return r.withTx(ctx, func(ctx context.Context, tx *Tx) error { return fn(ctx, tx) })
}

type returnRepo struct{ *Store }

func (r returnRepo) WithTx(ctx context.Context, fn func(context.Context, returns.TxRepository) error) error {
	return r.withTx(ctx, func(ctx context.Context, tx *Tx) error { return fn(ctx, tx) })
}
