package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/pharmaflow/internal/customers"
	"github.com/odyssey-erp/pharmaflow/internal/delivery"
	"github.com/odyssey-erp/pharmaflow/internal/inventory"
	"github.com/odyssey-erp/pharmaflow/internal/orders"
	"github.com/odyssey-erp/pharmaflow/internal/returns"
	"github.com/odyssey-erp/pharmaflow/internal/shared"
)

var (
	_ inventory.TxRepository = (*Tx)(nil)
	_ orders.TxRepository    = (*Tx)(nil)
	_ delivery.TxRepository  = (*Tx)(nil)
	_ returns.TxRepository   = (*Tx)(nil)
	_ customers.TxRepository = (*Tx)(nil)
)

// Tx is one database transaction.
type Tx struct {
	queries
	tx pgx.Tx
}

// LockStock locks the inventory rows of productIDs in ascending id order.
func (t *Tx) LockStock(ctx context.Context, productIDs []int64) (map[int64]inventory.Stock, error) {
	ids := append([]int64(nil), productIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	rows, err := t.tx.Query(ctx, `SELECT `+stockColumns+` FROM inventory WHERE product_id = ANY($1) ORDER BY product_id FOR UPDATE`, ids)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	out := make(map[int64]inventory.Stock, len(ids))
	for rows.Next() {
		s, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		out[s.ProductID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err)
	}
	return out, nil
}

func (t *Tx) SaveStock(ctx context.Context, s inventory.Stock) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO inventory (product_id, quantity, reserved_quantity, batch_number, expiry_date, location, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (product_id) DO UPDATE SET quantity = EXCLUDED.quantity, reserved_quantity = EXCLUDED.reserved_quantity,
  batch_number = EXCLUDED.batch_number, expiry_date = EXCLUDED.expiry_date, location = EXCLUDED.location, updated_at = EXCLUDED.updated_at`,
		s.ProductID, s.Quantity, s.Reserved, s.BatchNumber, s.ExpiryDate, s.Location, s.UpdatedAt)
	return translate(err)
}

func (t *Tx) InsertMovements(ctx context.Context, movements []inventory.Movement) error {
	if len(movements) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range movements {
		batch.Queue(`INSERT INTO inventory_movements (id, product_id, movement_type, qty, quantity_after, reserved_after, condition, ref_module, ref_id, actor, note, moved_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			m.ID, m.ProductID, string(m.Type), m.Qty, m.QuantityAfter, m.ReservedAfter, string(m.Condition), m.RefModule, m.RefID, m.Actor, m.Note, m.At)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return translate(err)
	}
	return nil
}

// InsertProduct stores a product together with its empty inventory row, so
// every later ledger call finds a row to lock.
func (t *Tx) InsertProduct(ctx context.Context, p inventory.Product) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO products (sku, name, description, category, unit_price, requires_prescription, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		p.SKU, p.Name, p.Description, p.Category, p.UnitPrice, p.RequiresPrescription, p.CreatedAt, p.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, translate(err)
	}
	if _, err := t.tx.Exec(ctx, `INSERT INTO inventory (product_id, updated_at) VALUES ($1, $2) ON CONFLICT DO NOTHING`, id, p.CreatedAt); err != nil {
		return 0, translate(err)
	}
	return id, nil
}

func (t *Tx) UpdateProductPrice(ctx context.Context, id int64, price float64, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE products SET unit_price = $2, updated_at = $3 WHERE id = $1`, id, price, at)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *Tx) InsertOrder(ctx context.Context, o *orders.Order) error {
	err := t.tx.QueryRow(ctx, `INSERT INTO orders (order_number, customer_id, sales_rep_id, status, total_amount, notes, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8) RETURNING id`,
		o.OrderNumber, o.CustomerID, o.SalesRepID, string(o.Status), o.TotalAmount, o.Notes, o.CreatedAt, o.UpdatedAt).Scan(&o.ID)
	if err != nil {
		return translate(err)
	}
	o.Version = 1
	for i := range o.Items {
		it := &o.Items[i]
		it.OrderID = o.ID
		err := t.tx.QueryRow(ctx, `INSERT INTO order_items (order_id, product_id, quantity, unit_price, total_price, delivered_quantity)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			it.OrderID, it.ProductID, it.Quantity, it.UnitPrice, it.TotalPrice, it.DeliveredQuantity).Scan(&it.ID)
		if err != nil {
			return translate(err)
		}
	}
	return nil
}

// UpdateOrder writes the header only while the stored version still equals
// o.Version. A concurrent writer holding the row makes this statement wait;
// once it commits the predicate no longer matches.
func (t *Tx) UpdateOrder(ctx context.Context, o *orders.Order) error {
	tag, err := t.tx.Exec(ctx, `UPDATE orders SET status = $3, total_amount = $4, notes = $5, version = version + 1, updated_at = $6
WHERE id = $1 AND version = $2`,
		o.ID, o.Version, string(o.Status), o.TotalAmount, o.Notes, o.UpdatedAt)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: order %d version %d: %w", o.ID, o.Version, shared.ErrConcurrentModification)
	}
	for _, it := range o.Items {
		if _, err := t.tx.Exec(ctx, `UPDATE order_items SET unit_price = $2, total_price = $3, delivered_quantity = $4 WHERE id = $1`,
			it.ID, it.UnitPrice, it.TotalPrice, it.DeliveredQuantity); err != nil {
			return translate(err)
		}
	}
	o.Version++
	return nil
}

func (t *Tx) InsertHistory(ctx context.Context, e orders.HistoryEntry) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO order_status_history (id, order_id, seq, from_status, to_status, trigger, actor, note, changed_at, hash)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.OrderID, e.Seq, string(e.From), string(e.To), string(e.Trigger), e.Actor, e.Note, e.At, e.Hash)
	return translate(err)
}

// NextSequence increments the counter row of prefix and year. The row stays
// locked until the transaction ends.
func (t *Tx) NextSequence(ctx context.Context, prefix string, year int) (int64, error) {
	var n int64
	err := t.tx.QueryRow(ctx, `INSERT INTO document_sequences (prefix, year, last_no) VALUES ($1, $2, 1)
ON CONFLICT (prefix, year) DO UPDATE SET last_no = document_sequences.last_no + 1
RETURNING last_no`, prefix, year).Scan(&n)
	if err != nil {
		return 0, translate(err)
	}
	return n, nil
}

func (t *Tx) InsertDelivery(ctx context.Context, d *delivery.Delivery) error {
	err := t.tx.QueryRow(ctx, `INSERT INTO deliveries (order_id, courier_id, scheduled_date, delivery_address, notes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		d.OrderID, d.CourierID, d.ScheduledDate, d.Address, d.Notes, d.CreatedAt, d.UpdatedAt).Scan(&d.ID)
	return translate(err)
}

func (t *Tx) MarkDelivered(ctx context.Context, d *delivery.Delivery) error {
	tag, err := t.tx.Exec(ctx, `UPDATE deliveries SET delivered_date = $2, proof_of_delivery = $3, updated_at = $4
WHERE id = $1 AND delivered_date IS NULL`, d.ID, d.DeliveredDate, d.ProofOfDelivery, d.UpdatedAt)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: delivery %d already recorded: %w", d.ID, shared.ErrConcurrentModification)
	}
	for i := range d.Lines {
		l := &d.Lines[i]
		l.DeliveryID = d.ID
		if err := t.tx.QueryRow(ctx, `INSERT INTO delivery_lines (delivery_id, order_item_id, product_id, qty) VALUES ($1, $2, $3, $4) RETURNING id`,
			l.DeliveryID, l.OrderItemID, l.ProductID, l.Qty).Scan(&l.ID); err != nil {
			return translate(err)
		}
	}
	return nil
}

func (t *Tx) InsertReturn(ctx context.Context, r *returns.Return) error {
	err := t.tx.QueryRow(ctx, `INSERT INTO returns (order_id, return_number, reason, status, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, 1, $5, $6) RETURNING id`,
		r.OrderID, r.ReturnNumber, r.Reason, string(r.Status), r.CreatedAt, r.UpdatedAt).Scan(&r.ID)
	if err != nil {
		return translate(err)
	}
	r.Version = 1
	for i := range r.Items {
		it := &r.Items[i]
		it.ReturnID = r.ID
		if err := t.tx.QueryRow(ctx, `INSERT INTO return_items (return_id, order_item_id, product_id, quantity, reason, condition)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			it.ReturnID, it.OrderItemID, it.ProductID, it.Quantity, it.Reason, string(it.Condition)).Scan(&it.ID); err != nil {
			return translate(err)
		}
	}
	return nil
}

func (t *Tx) UpdateReturn(ctx context.Context, r *returns.Return) error {
	tag, err := t.tx.Exec(ctx, `UPDATE returns SET status = $3, refund_amount = $4, decided_by = $5, decision_note = $6, processed_by = $7,
  version = version + 1, updated_at = $8
WHERE id = $1 AND version = $2`,
		r.ID, r.Version, string(r.Status), r.RefundAmount, r.DecidedBy, r.DecisionNote, r.ProcessedBy, r.UpdatedAt)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: return %d version %d: %w", r.ID, r.Version, shared.ErrConcurrentModification)
	}
	for _, it := range r.Items {
		if _, err := t.tx.Exec(ctx, `UPDATE return_items SET condition = $2 WHERE id = $1`, it.ID, string(it.Condition)); err != nil {
			return translate(err)
		}
	}
	r.Version++
	return nil
}

// ListReturnsByOrder sees the returns written earlier in this transaction.
func (t *Tx) ListReturnsByOrder(ctx context.Context, orderID int64) ([]returns.Return, error) {
	return t.ListReturns(ctx, orderID)
}

func (t *Tx) InsertCustomer(ctx context.Context, c customers.Customer) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO customers (id, name, email, phone, address, credit_limit, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.Name, c.Email, c.Phone, c.Address, c.CreditLimit, c.CreatedAt, c.UpdatedAt)
	return translate(err)
}

func (t *Tx) UpdateCustomer(ctx context.Context, c customers.Customer) error {
	tag, err := t.tx.Exec(ctx, `UPDATE customers SET name = $2, email = $3, phone = $4, address = $5, credit_limit = $6, updated_at = $7
WHERE id = $1`, c.ID, c.Name, c.Email, c.Phone, c.Address, c.CreditLimit, c.UpdatedAt)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
