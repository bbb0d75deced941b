// Package memory is an in-process store for development and tests. It keeps
// the locking and versioning rules of the Postgres store: stock rows are
// locked per product in ascending id order, and order and return writes are
// validated against the version first read when the transaction commits.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/odyssey-erp/pharmaflow/internal/customers"
	"github.com/odyssey-erp/pharmaflow/internal/delivery"
	"github.com/odyssey-erp/pharmaflow/internal/inventory"
	"github.com/odyssey-erp/pharmaflow/internal/orders"
	"github.com/odyssey-erp/pharmaflow/internal/returns"
	"github.com/odyssey-erp/pharmaflow/internal/shared"
)

// Store holds committed state. Transactions stage their writes and apply them
// under mu at commit.
type Store struct {
	mu    sync.Mutex
	locks *shared.KeyedMutex

	products   map[int64]inventory.Product
	skus       map[string]int64
	stock      map[int64]inventory.Stock
	movements  []inventory.Movement
	orders     map[int64]orders.Order
	history    map[int64][]orders.HistoryEntry
	deliveries map[int64]delivery.Delivery
	returns    map[int64]returns.Return
	sequences  map[string]int64
	customers  map[string]customers.Customer

	ids struct {
		product, order, item, delivery, line, ret, retItem int64
	}
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		locks:      shared.NewKeyedMutex(),
		products:   make(map[int64]inventory.Product),
		skus:       make(map[string]int64),
		stock:      make(map[int64]inventory.Stock),
		orders:     make(map[int64]orders.Order),
		history:    make(map[int64][]orders.HistoryEntry),
		deliveries: make(map[int64]delivery.Delivery),
		returns:    make(map[int64]returns.Return),
		sequences:  make(map[string]int64),
		customers:  make(map[string]customers.Customer),
	}
}

func (s *Store) withTx(ctx context.Context, fn func(context.Context, *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := newTx(s)
	defer tx.release()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

func (s *Store) next(counter *int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	*counter++
	return *counter
}

// GetProduct loads one product.
func (s *Store) GetProduct(ctx context.Context, id int64) (inventory.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return inventory.Product{}, shared.ErrNotFound
	}
	return p, nil
}

// ListProducts lists products by name.
func (s *Store) ListProducts(ctx context.Context, filter inventory.ProductFilter) ([]inventory.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	out := make([]inventory.Product, 0, len(s.products))
	for _, p := range s.products {
		if filter.Category != "" && (p.Category == nil || !strings.EqualFold(*p.Category, filter.Category)) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) && !strings.Contains(strings.ToLower(p.SKU), search) {
			continue
		}
		if filter.RequiresPrescription != nil && p.RequiresPrescription != *filter.RequiresPrescription {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// GetStock loads the inventory row of a product.
func (s *Store) GetStock(ctx context.Context, productID int64) (inventory.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stock[productID]
	if !ok {
		return inventory.Stock{}, shared.ErrNotFound
	}
	return st, nil
}

// ListStock lists inventory rows by product id.
func (s *Store) ListStock(ctx context.Context) ([]inventory.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]inventory.Stock, 0, len(s.stock))
	for _, st := range s.stock {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// ListMovements returns the newest movements of a product first.
func (s *Store) ListMovements(ctx context.Context, productID int64, limit int) ([]inventory.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.Movement
	for i := len(s.movements) - 1; i >= 0 && len(out) < limit; i-- {
		if s.movements[i].ProductID == productID {
			out = append(out, s.movements[i])
		}
	}
	return out, nil
}

// GetOrder loads one order with its items.
func (s *Store) GetOrder(ctx context.Context, id int64) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return orders.Order{}, shared.ErrNotFound
	}
	return copyOrder(o), nil
}

// ListOrders lists matching orders newest first with the total match count.
func (s *Store) ListOrders(ctx context.Context, filter orders.ListFilter) ([]orders.Order, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []orders.Order
	for _, o := range s.orders {
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.CustomerID != "" && o.CustomerID != filter.CustomerID {
			continue
		}
		if filter.From != nil && o.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && o.CreatedAt.After(*filter.To) {
			continue
		}
		matched = append(matched, o)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	start, end := shared.Window(filter.Page, filter.PerPage, len(matched))
	out := make([]orders.Order, 0, end-start)
	for _, o := range matched[start:end] {
		out = append(out, copyOrder(o))
	}
	return out, len(matched), nil
}

// ListHistory returns the status log of an order in sequence order.
func (s *Store) ListHistory(ctx context.Context, orderID int64) ([]orders.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]orders.HistoryEntry(nil), s.history[orderID]...), nil
}

// GetDelivery loads one delivery with its lines.
func (s *Store) GetDelivery(ctx context.Context, id int64) (delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return delivery.Delivery{}, shared.ErrNotFound
	}
	return copyDelivery(d), nil
}

// ListDeliveries lists the deliveries of an order by id.
func (s *Store) ListDeliveries(ctx context.Context, orderID int64) ([]delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []delivery.Delivery{}
	for _, d := range s.deliveries {
		if d.OrderID == orderID {
			out = append(out, copyDelivery(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetReturn loads one return with its items.
func (s *Store) GetReturn(ctx context.Context, id int64) (returns.Return, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.returns[id]
	if !ok {
		return returns.Return{}, shared.ErrNotFound
	}
	return copyReturn(r), nil
}

// ListReturns lists the returns of an order by id.
func (s *Store) ListReturns(ctx context.Context, orderID int64) ([]returns.Return, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.returnsOf(orderID), nil
}

func (s *Store) returnsOf(orderID int64) []returns.Return {
	out := []returns.Return{}
	for _, r := range s.returns {
		if r.OrderID == orderID {
			out = append(out, copyReturn(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetCustomer loads one customer.
func (s *Store) GetCustomer(ctx context.Context, id string) (customers.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	if !ok {
		return customers.Customer{}, shared.ErrNotFound
	}
	return copyCustomer(c), nil
}

// ListCustomers lists matching customers by name with the total match count.
func (s *Store) ListCustomers(ctx context.Context, filter customers.ListFilter) ([]customers.Customer, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	var matched []customers.Customer
	for _, c := range s.customers {
		if search != "" && !customerMatches(c, search) {
			continue
		}
		matched = append(matched, c)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Name == matched[j].Name {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].Name < matched[j].Name
	})
	start, end := shared.Window(filter.Page, filter.PerPage, len(matched))
	out := make([]customers.Customer, 0, end-start)
	for _, c := range matched[start:end] {
		out = append(out, copyCustomer(c))
	}
	return out, len(matched), nil
}

func customerMatches(c customers.Customer, search string) bool {
	if strings.Contains(strings.ToLower(c.Name), search) || strings.Contains(strings.ToLower(c.ID), search) {
		return true
	}
	return c.Email != nil && strings.Contains(strings.ToLower(*c.Email), search)
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

func copyOrder(o orders.Order) orders.Order {
	o.Items = append([]orders.Item(nil), o.Items...)
	return o
}

func copyDelivery(d delivery.Delivery) delivery.Delivery {
	d.Lines = append([]delivery.Line(nil), d.Lines...)
	return d
}

func copyReturn(r returns.Return) returns.Return {
	r.Items = append([]returns.Item(nil), r.Items...)
	return r
}

func copyCustomer(c customers.Customer) customers.Customer {
	if c.Address != nil {
		a := *c.Address
		c.Address = &a
	}
	return c
}
