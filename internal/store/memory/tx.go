package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/odyssey-erp/pharmaflow/internal/customers"
	"github.com/odyssey-erp/pharmaflow/internal/delivery"
	"github.com/odyssey-erp/pharmaflow/internal/inventory"
	"github.com/odyssey-erp/pharmaflow/internal/orders"
	"github.com/odyssey-erp/pharmaflow/internal/returns"
	"github.com/odyssey-erp/pharmaflow/internal/shared"
)

// Tx stages writes until commit. Reads see the transaction's own writes.
// It satisfies every package's TxRepository.
type Tx struct {
	store *Store

	held    map[int64]struct{}
	maxHeld int64
	rows    map[int64]struct{}
	unlocks []func()

	stock     map[int64]inventory.Stock
	movements []inventory.Movement

	products    map[int64]inventory.Product
	newProducts map[int64]bool

	orders    map[int64]orders.Order
	orderBase map[int64]int64
	history   map[int64][]orders.HistoryEntry

	deliveries    map[int64]delivery.Delivery
	newDeliveries map[int64]bool

	returns    map[int64]returns.Return
	returnBase map[int64]int64

	customers    map[string]customers.Customer
	newCustomers map[string]bool
}

var (
	_ inventory.TxRepository = (*Tx)(nil)
	_ orders.TxRepository    = (*Tx)(nil)
	_ delivery.TxRepository  = (*Tx)(nil)
	_ returns.TxRepository   = (*Tx)(nil)
	_ customers.TxRepository = (*Tx)(nil)
)

func newTx(s *Store) *Tx {
	return &Tx{
		store:         s,
		held:          make(map[int64]struct{}),
		rows:          make(map[int64]struct{}),
		stock:         make(map[int64]inventory.Stock),
		products:      make(map[int64]inventory.Product),
		newProducts:   make(map[int64]bool),
		orders:        make(map[int64]orders.Order),
		orderBase:     make(map[int64]int64),
		history:       make(map[int64][]orders.HistoryEntry),
		deliveries:    make(map[int64]delivery.Delivery),
		newDeliveries: make(map[int64]bool),
		returns:       make(map[int64]returns.Return),
		returnBase:    make(map[int64]int64),
		customers:     make(map[string]customers.Customer),
		newCustomers:  make(map[string]bool),
	}
}

// LockStock takes the product locks not yet held. Ids above every held lock
// are acquired blocking in ascending order. An id below a held lock cannot be
// waited for without breaking the global order, so it is tried once and a
// busy lock fails with ErrConcurrentModification.
func (tx *Tx) LockStock(ctx context.Context, productIDs []int64) (map[int64]inventory.Stock, error) {
	var below, above []string
	maxID := tx.maxHeld
	for _, id := range productIDs {
		if _, ok := tx.held[id]; ok {
			continue
		}
		if id < tx.maxHeld {
			below = append(below, shared.StockLockKey(id))
		} else {
			above = append(above, shared.StockLockKey(id))
		}
		if id > maxID {
			maxID = id
		}
	}
	if len(below) > 0 {
		unlock, ok := tx.store.locks.TryLockAll(below...)
		if !ok {
			return nil, fmt.Errorf("memory: stock lock out of order: %w", shared.ErrConcurrentModification)
		}
		tx.unlocks = append(tx.unlocks, unlock)
	}
	if len(above) > 0 {
		tx.unlocks = append(tx.unlocks, tx.store.locks.LockAll(above...))
	}
	for _, id := range productIDs {
		tx.held[id] = struct{}{}
	}
	tx.maxHeld = maxID

	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	out := make(map[int64]inventory.Stock, len(productIDs))
	for _, id := range productIDs {
		if st, ok := tx.stock[id]; ok {
			out[id] = st
		} else if st, ok := tx.store.stock[id]; ok {
			out[id] = st
		}
	}
	return out, nil
}

func (tx *Tx) SaveStock(ctx context.Context, stock inventory.Stock) error {
	if _, ok := tx.held[stock.ProductID]; !ok {
		return fmt.Errorf("memory: save stock %d without lock", stock.ProductID)
	}
	tx.stock[stock.ProductID] = stock
	return nil
}

func (tx *Tx) InsertMovements(ctx context.Context, movements []inventory.Movement) error {
	tx.movements = append(tx.movements, movements...)
	return nil
}

func (tx *Tx) GetProduct(ctx context.Context, id int64) (inventory.Product, error) {
	if p, ok := tx.products[id]; ok {
		return p, nil
	}
	return tx.store.GetProduct(ctx, id)
}

func (tx *Tx) GetProducts(ctx context.Context, ids []int64) (map[int64]inventory.Product, error) {
	out := make(map[int64]inventory.Product, len(ids))
	for _, id := range ids {
		p, err := tx.GetProduct(ctx, id)
		if err != nil {
			continue
		}
		out[id] = p
	}
	return out, nil
}

func (tx *Tx) InsertProduct(ctx context.Context, p inventory.Product) (int64, error) {
	tx.store.mu.Lock()
	_, dup := tx.store.skus[p.SKU]
	tx.store.mu.Unlock()
	for _, staged := range tx.products {
		if staged.SKU == p.SKU {
			dup = true
		}
	}
	if dup {
		return 0, fmt.Errorf("memory: sku %q: %w", p.SKU, shared.ErrDuplicate)
	}
	p.ID = tx.store.next(&tx.store.ids.product)
	tx.products[p.ID] = p
	tx.newProducts[p.ID] = true
	return p.ID, nil
}

func (tx *Tx) UpdateProductPrice(ctx context.Context, id int64, price float64, at time.Time) error {
	p, err := tx.GetProduct(ctx, id)
	if err != nil {
		return err
	}
	p.UnitPrice = price
	p.UpdatedAt = at
	tx.products[id] = p
	return nil
}

func (tx *Tx) GetOrder(ctx context.Context, id int64) (orders.Order, error) {
	if o, ok := tx.orders[id]; ok {
		return copyOrder(o), nil
	}
	o, err := tx.store.GetOrder(ctx, id)
	if err != nil {
		return orders.Order{}, err
	}
	if _, seen := tx.orderBase[id]; !seen {
		tx.orderBase[id] = o.Version
	}
	return o, nil
}

func (tx *Tx) InsertOrder(ctx context.Context, o *orders.Order) error {
	o.ID = tx.store.next(&tx.store.ids.order)
	for i := range o.Items {
		o.Items[i].ID = tx.store.next(&tx.store.ids.item)
		o.Items[i].OrderID = o.ID
	}
	o.Version = 1
	tx.orders[o.ID] = copyOrder(*o)
	tx.orderBase[o.ID] = 0
	return nil
}

// UpdateOrder locks the order row like an UPDATE would. A writer that read
// an older version fails once the row is free.
func (tx *Tx) UpdateOrder(ctx context.Context, o *orders.Order) error {
	current, err := tx.GetOrder(ctx, o.ID)
	if err != nil {
		return err
	}
	if err := tx.lockOrder(o.ID); err != nil {
		return err
	}
	if base := tx.orderBase[o.ID]; base != 0 {
		tx.store.mu.Lock()
		committed := tx.store.orders[o.ID].Version
		tx.store.mu.Unlock()
		if committed != base {
			return fmt.Errorf("memory: order %d changed since read: %w", o.ID, shared.ErrConcurrentModification)
		}
	}
	if current.Version != o.Version {
		return fmt.Errorf("memory: order %d version %d, have %d: %w", o.ID, current.Version, o.Version, shared.ErrConcurrentModification)
	}
	o.Version++
	tx.orders[o.ID] = copyOrder(*o)
	return nil
}

// lockOrder blocks only while the transaction holds nothing else; order rows
// rank before stock rows.
func (tx *Tx) lockOrder(id int64) error {
	if _, ok := tx.rows[id]; ok {
		return nil
	}
	key := fmt.Sprintf("order:%020d", id)
	if len(tx.held) == 0 && len(tx.rows) == 0 {
		tx.unlocks = append(tx.unlocks, tx.store.locks.LockAll(key))
	} else {
		unlock, ok := tx.store.locks.TryLockAll(key)
		if !ok {
			return fmt.Errorf("memory: order %d locked: %w", id, shared.ErrConcurrentModification)
		}
		tx.unlocks = append(tx.unlocks, unlock)
	}
	tx.rows[id] = struct{}{}
	return nil
}

func (tx *Tx) LastHistory(ctx context.Context, orderID int64) (orders.HistoryEntry, bool, error) {
	if staged := tx.history[orderID]; len(staged) > 0 {
		return staged[len(staged)-1], true, nil
	}
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	committed := tx.store.history[orderID]
	if len(committed) == 0 {
		return orders.HistoryEntry{}, false, nil
	}
	return committed[len(committed)-1], true, nil
}

func (tx *Tx) InsertHistory(ctx context.Context, entry orders.HistoryEntry) error {
	tx.history[entry.OrderID] = append(tx.history[entry.OrderID], entry)
	return nil
}

// NextSequence allocates immediately; numbers of rolled back transactions are
// not reused.
func (tx *Tx) NextSequence(ctx context.Context, prefix string, year int) (int64, error) {
	key := fmt.Sprintf("%s-%d", prefix, year)
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	tx.store.sequences[key]++
	return tx.store.sequences[key], nil
}

func (tx *Tx) InsertDelivery(ctx context.Context, d *delivery.Delivery) error {
	d.ID = tx.store.next(&tx.store.ids.delivery)
	tx.deliveries[d.ID] = copyDelivery(*d)
	tx.newDeliveries[d.ID] = true
	return nil
}

func (tx *Tx) GetDelivery(ctx context.Context, id int64) (delivery.Delivery, error) {
	if d, ok := tx.deliveries[id]; ok {
		return copyDelivery(d), nil
	}
	return tx.store.GetDelivery(ctx, id)
}

func (tx *Tx) MarkDelivered(ctx context.Context, d *delivery.Delivery) error {
	current, err := tx.GetDelivery(ctx, d.ID)
	if err != nil {
		return err
	}
	if current.Recorded() {
		return fmt.Errorf("memory: delivery %d already recorded: %w", d.ID, shared.ErrConcurrentModification)
	}
	for i := range d.Lines {
		d.Lines[i].ID = tx.store.next(&tx.store.ids.line)
		d.Lines[i].DeliveryID = d.ID
	}
	tx.deliveries[d.ID] = copyDelivery(*d)
	return nil
}

func (tx *Tx) InsertReturn(ctx context.Context, r *returns.Return) error {
	r.ID = tx.store.next(&tx.store.ids.ret)
	for i := range r.Items {
		r.Items[i].ID = tx.store.next(&tx.store.ids.retItem)
		r.Items[i].ReturnID = r.ID
	}
	r.Version = 1
	tx.returns[r.ID] = copyReturn(*r)
	tx.returnBase[r.ID] = 0
	return nil
}

func (tx *Tx) GetReturn(ctx context.Context, id int64) (returns.Return, error) {
	if r, ok := tx.returns[id]; ok {
		return copyReturn(r), nil
	}
	r, err := tx.store.GetReturn(ctx, id)
	if err != nil {
		return returns.Return{}, err
	}
	if _, seen := tx.returnBase[id]; !seen {
		tx.returnBase[id] = r.Version
	}
	return r, nil
}

func (tx *Tx) UpdateReturn(ctx context.Context, r *returns.Return) error {
	current, err := tx.GetReturn(ctx, r.ID)
	if err != nil {
		return err
	}
	if current.Version != r.Version {
		return fmt.Errorf("memory: return %d version %d, have %d: %w", r.ID, current.Version, r.Version, shared.ErrConcurrentModification)
	}
	r.Version++
	tx.returns[r.ID] = copyReturn(*r)
	return nil
}

func (tx *Tx) ListReturnsByOrder(ctx context.Context, orderID int64) ([]returns.Return, error) {
	tx.store.mu.Lock()
	committed := tx.store.returnsOf(orderID)
	tx.store.mu.Unlock()

	byID := make(map[int64]returns.Return, len(committed))
	for _, r := range committed {
		byID[r.ID] = r
	}
	for id, r := range tx.returns {
		if r.OrderID == orderID {
			byID[id] = copyReturn(r)
		}
	}
	out := make([]returns.Return, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (tx *Tx) GetCustomer(ctx context.Context, id string) (customers.Customer, error) {
	if c, ok := tx.customers[id]; ok {
		return copyCustomer(c), nil
	}
	return tx.store.GetCustomer(ctx, id)
}

func (tx *Tx) InsertCustomer(ctx context.Context, c customers.Customer) error {
	if _, err := tx.GetCustomer(ctx, c.ID); err == nil {
		return fmt.Errorf("memory: customer %q: %w", c.ID, shared.ErrDuplicate)
	}
	tx.customers[c.ID] = copyCustomer(c)
	tx.newCustomers[c.ID] = true
	return nil
}

func (tx *Tx) UpdateCustomer(ctx context.Context, c customers.Customer) error {
	if _, err := tx.GetCustomer(ctx, c.ID); err != nil {
		return err
	}
	tx.customers[c.ID] = copyCustomer(c)
	return nil
}

func (tx *Tx) commit() error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range tx.orders {
		if base := tx.orderBase[id]; base != 0 && s.orders[id].Version != base {
			return fmt.Errorf("memory: order %d changed since read: %w", id, shared.ErrConcurrentModification)
		}
	}
	for id := range tx.returns {
		if base := tx.returnBase[id]; base != 0 && s.returns[id].Version != base {
			return fmt.Errorf("memory: return %d changed since read: %w", id, shared.ErrConcurrentModification)
		}
	}
	for id := range tx.deliveries {
		if !tx.newDeliveries[id] && s.deliveries[id].Recorded() {
			return fmt.Errorf("memory: delivery %d already recorded: %w", id, shared.ErrConcurrentModification)
		}
	}
	for id := range tx.newProducts {
		if _, dup := s.skus[tx.products[id].SKU]; dup {
			return fmt.Errorf("memory: sku %q: %w", tx.products[id].SKU, shared.ErrDuplicate)
		}
	}
	for id := range tx.newCustomers {
		if _, dup := s.customers[id]; dup {
			return fmt.Errorf("memory: customer %q: %w", id, shared.ErrDuplicate)
		}
	}

	for id, p := range tx.products {
		s.products[id] = p
		s.skus[p.SKU] = id
	}
	for id, st := range tx.stock {
		s.stock[id] = st
	}
	s.movements = append(s.movements, tx.movements...)
	for id, o := range tx.orders {
		s.orders[id] = o
	}
	for id, entries := range tx.history {
		s.history[id] = append(s.history[id], entries...)
	}
	for id, d := range tx.deliveries {
		s.deliveries[id] = d
	}
	for id, r := range tx.returns {
		s.returns[id] = r
	}
	for id, c := range tx.customers {
		s.customers[id] = c
	}
	return nil
}

func (tx *Tx) release() {
	for i := len(tx.unlocks) - 1; i >= 0; i-- {
		tx.unlocks[i]()
	}
	tx.unlocks = nil
}
