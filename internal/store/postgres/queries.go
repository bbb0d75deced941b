package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/pharmaflow/internal/customers"
	"github.com/odyssey-erp/pharmaflow/internal/delivery"
	"github.com/odyssey-erp/pharmaflow/internal/inventory"
	"github.com/odyssey-erp/pharmaflow/internal/orders"
	"github.com/odyssey-erp/pharmaflow/internal/returns"
	"github.com/odyssey-erp/pharmaflow/internal/shared"
)

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// queries holds the reads shared by the pool and by transactions.
type queries struct {
	db dbtx
}

const productColumns = `id, sku, name, description, category, unit_price::float8, requires_prescription, created_at, updated_at`

func scanProduct(row scanner) (inventory.Product, error) {
	var p inventory.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Description, &p.Category, &p.UnitPrice, &p.RequiresPrescription, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// GetProduct loads one product.
func (q queries) GetProduct(ctx context.Context, id int64) (inventory.Product, error) {
	p, err := scanProduct(q.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inventory.Product{}, shared.ErrNotFound
		}
		return inventory.Product{}, translate(err)
	}
	return p, nil
}

// GetProducts loads the products that exist among ids.
func (q queries) GetProducts(ctx context.Context, ids []int64) (map[int64]inventory.Product, error) {
	rows, err := q.db.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	out := make(map[int64]inventory.Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// ListProducts filters by category, prescription flag and a case-insensitive
// name or SKU search.
func (q queries) ListProducts(ctx context.Context, filter inventory.ProductFilter) ([]inventory.Product, error) {
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	rows, err := q.db.Query(ctx, `SELECT `+productColumns+` FROM products
WHERE ($1::text = '' OR lower(category) = lower($1::text))
  AND ($2::text = '' OR strpos(lower(name), $2::text) > 0 OR strpos(lower(sku), $2::text) > 0)
  AND ($3::boolean IS NULL OR requires_prescription = $3::boolean)
ORDER BY name, id`, filter.Category, search, filter.RequiresPrescription)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	out := []inventory.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const stockColumns = `product_id, quantity, reserved_quantity, batch_number, expiry_date, location, updated_at`

func scanStock(row scanner) (inventory.Stock, error) {
	var s inventory.Stock
	err := row.Scan(&s.ProductID, &s.Quantity, &s.Reserved, &s.BatchNumber, &s.ExpiryDate, &s.Location, &s.UpdatedAt)
	return s, err
}

// GetStock loads the inventory row of a product.
func (q queries) GetStock(ctx context.Context, productID int64) (inventory.Stock, error) {
	s, err := scanStock(q.db.QueryRow(ctx, `SELECT `+stockColumns+` FROM inventory WHERE product_id = $1`, productID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return inventory.Stock{}, shared.ErrNotFound
		}
		return inventory.Stock{}, translate(err)
	}
	return s, nil
}

// ListStock lists every inventory row by product id.
func (q queries) ListStock(ctx context.Context) ([]inventory.Stock, error) {
	rows, err := q.db.Query(ctx, `SELECT `+stockColumns+` FROM inventory ORDER BY product_id`)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	out := []inventory.Stock{}
	for rows.Next() {
		s, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListMovements returns the newest movements of a product first.
func (q queries) ListMovements(ctx context.Context, productID int64, limit int) ([]inventory.Movement, error) {
	rows, err := q.db.Query(ctx, `SELECT id, product_id, movement_type, qty, quantity_after, reserved_after, condition, ref_module, ref_id, actor, note, moved_at
FROM inventory_movements WHERE product_id = $1 ORDER BY moved_at DESC, id LIMIT $2`, productID, limit)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	out := []inventory.Movement{}
	for rows.Next() {
		var (
			m               inventory.Movement
			kind, condition string
		)
		if err := rows.Scan(&m.ID, &m.ProductID, &kind, &m.Qty, &m.QuantityAfter, &m.ReservedAfter, &condition, &m.RefModule, &m.RefID, &m.Actor, &m.Note, &m.At); err != nil {
			return nil, err
		}
		m.Type = inventory.MovementType(kind)
		m.Condition = inventory.Condition(condition)
		out = append(out, m)
	}
	return out, rows.Err()
}

const orderColumns = `id, order_number, customer_id, sales_rep_id, status, total_amount::float8, notes, version, created_at, updated_at`

func scanOrder(row scanner) (orders.Order, error) {
	var (
		o      orders.Order
		status string
	)
	err := row.Scan(&o.ID, &o.OrderNumber, &o.CustomerID, &o.SalesRepID, &status, &o.TotalAmount, &o.Notes, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	o.Status = orders.Status(status)
	return o, err
}

// GetOrder loads one order with its items.
func (q queries) GetOrder(ctx context.Context, id int64) (orders.Order, error) {
	o, err := scanOrder(q.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return orders.Order{}, shared.ErrNotFound
		}
		return orders.Order{}, translate(err)
	}
	items, err := q.orderItems(ctx, []int64{id})
	if err != nil {
		return orders.Order{}, err
	}
	o.Items = items[id]
	return o, nil
}

func (q queries) orderItems(ctx context.Context, orderIDs []int64) (map[int64][]orders.Item, error) {
	rows, err := q.db.Query(ctx, `SELECT id, order_id, product_id, quantity, unit_price::float8, total_price::float8, delivered_quantity
FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, id`, orderIDs)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	out := make(map[int64][]orders.Item, len(orderIDs))
	for rows.Next() {
		var it orders.Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.UnitPrice, &it.TotalPrice, &it.DeliveredQuantity); err != nil {
			return nil, err
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, rows.Err()
}

// ListOrders returns one page of matching orders, newest first, and the
// total number of matches.
func (q queries) ListOrders(ctx context.Context, filter orders.ListFilter) ([]orders.Order, int, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.CustomerID != "" {
		add("customer_id = $%d", filter.CustomerID)
	}
	if filter.From != nil {
		add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("created_at <= $%d", *filter.To)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, translate(err)
	}

	page, perPage := shared.NormalizePage(filter.Page, filter.PerPage)
	args = append(args, perPage, (page-1)*perPage)
	rows, err := q.db.Query(ctx, fmt.Sprintf(`SELECT `+orderColumns+` FROM orders%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, translate(err)
	}
	defer rows.Close()
	out := []orders.Order{}
	var ids []int64
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(ids) == 0 {
		return out, total, nil
	}
	items, err := q.orderItems(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, total, nil
}

const historyColumns = `id, order_id, seq, from_status, to_status, trigger, actor, note, changed_at, hash`

func scanHistory(row scanner) (orders.HistoryEntry, error) {
	var (
		e                 orders.HistoryEntry
		from, to, trigger string
	)
	err := row.Scan(&e.ID, &e.OrderID, &e.Seq, &from, &to, &trigger, &e.Actor, &e.Note, &e.At, &e.Hash)
	e.From, e.To, e.Trigger = orders.Status(from), orders.Status(to), orders.Trigger(trigger)
	e.At = e.At.UTC()
	return e, err
}

// ListHistory returns the status log of an order in sequence order.
func (q queries) ListHistory(ctx context.Context, orderID int64) ([]orders.HistoryEntry, error) {
	rows, err := q.db.Query(ctx, `SELECT `+historyColumns+` FROM order_status_history WHERE order_id = $1 ORDER BY seq`, orderID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	var out []orders.HistoryEntry
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastHistory returns the newest status change of an order.
func (q queries) LastHistory(ctx context.Context, orderID int64) (orders.HistoryEntry, bool, error) {
	e, err := scanHistory(q.db.QueryRow(ctx, `SELECT `+historyColumns+` FROM order_status_history WHERE order_id = $1 ORDER BY seq DESC LIMIT 1`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return orders.HistoryEntry{}, false, nil
		}
		return orders.HistoryEntry{}, false, translate(err)
	}
	return e, true, nil
}

const deliveryColumns = `id, order_id, courier_id, scheduled_date, delivered_date, delivery_address, proof_of_delivery, notes, created_at, updated_at`

func scanDelivery(row scanner) (delivery.Delivery, error) {
	var d delivery.Delivery
	err := row.Scan(&d.ID, &d.OrderID, &d.CourierID, &d.ScheduledDate, &d.DeliveredDate, &d.Address, &d.ProofOfDelivery, &d.Notes, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

// GetDelivery loads one delivery with its lines.
func (q queries) GetDelivery(ctx context.Context, id int64) (delivery.Delivery, error) {
	d, err := scanDelivery(q.db.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return delivery.Delivery{}, shared.ErrNotFound
		}
		return delivery.Delivery{}, translate(err)
	}
	lines, err := q.deliveryLines(ctx, []int64{id})
	if err != nil {
		return delivery.Delivery{}, err
	}
	d.Lines = lines[id]
	return d, nil
}

func (q queries) deliveryLines(ctx context.Context, ids []int64) (map[int64][]delivery.Line, error) {
	rows, err := q.db.Query(ctx, `SELECT id, delivery_id, order_item_id, product_id, qty FROM delivery_lines WHERE delivery_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	out := make(map[int64][]delivery.Line, len(ids))
	for rows.Next() {
		var l delivery.Line
		if err := rows.Scan(&l.ID, &l.DeliveryID, &l.OrderItemID, &l.ProductID, &l.Qty); err != nil {
			return nil, err
		}
		out[l.DeliveryID] = append(out[l.DeliveryID], l)
	}
	return out, rows.Err()
}

// ListDeliveries lists the deliveries of an order by id.
func (q queries) ListDeliveries(ctx context.Context, orderID int64) ([]delivery.Delivery, error) {
	rows, err := q.db.Query(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	out := []delivery.Delivery{}
	var ids []int64
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
		ids = append(ids, d.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}
	lines, err := q.deliveryLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Lines = lines[out[i].ID]
	}
	return out, nil
}

const returnColumns = `id, order_id, return_number, reason, status, refund_amount::float8, decided_by, decision_note, processed_by, version, created_at, updated_at`

func scanReturn(row scanner) (returns.Return, error) {
	var (
		r      returns.Return
		status string
	)
	err := row.Scan(&r.ID, &r.OrderID, &r.ReturnNumber, &r.Reason, &status, &r.RefundAmount, &r.DecidedBy, &r.DecisionNote, &r.ProcessedBy, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	r.Status = returns.Status(status)
	return r, err
}

// GetReturn loads one return with its items.
func (q queries) GetReturn(ctx context.Context, id int64) (returns.Return, error) {
	r, err := scanReturn(q.db.QueryRow(ctx, `SELECT `+returnColumns+` FROM returns WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return returns.Return{}, shared.ErrNotFound
		}
		return returns.Return{}, translate(err)
	}
	items, err := q.returnItems(ctx, []int64{id})
	if err != nil {
		return returns.Return{}, err
	}
	r.Items = items[id]
	return r, nil
}

func (q queries) returnItems(ctx context.Context, ids []int64) (map[int64][]returns.Item, error) {
	rows, err := q.db.Query(ctx, `SELECT id, return_id, order_item_id, product_id, quantity, reason, condition FROM return_items WHERE return_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	out := make(map[int64][]returns.Item, len(ids))
	for rows.Next() {
		var (
			it        returns.Item
			condition string
		)
		if err := rows.Scan(&it.ID, &it.ReturnID, &it.OrderItemID, &it.ProductID, &it.Quantity, &it.Reason, &condition); err != nil {
			return nil, err
		}
		it.Condition = inventory.Condition(condition)
		out[it.ReturnID] = append(out[it.ReturnID], it)
	}
	return out, rows.Err()
}

// ListReturns lists the returns of an order by id.
func (q queries) ListReturns(ctx context.Context, orderID int64) ([]returns.Return, error) {
	rows, err := q.db.Query(ctx, `SELECT `+returnColumns+` FROM returns WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()
	out := []returns.Return{}
	var ids []int64
	for rows.Next() {
		r, err := scanReturn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
		ids = append(ids, r.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}
	items, err := q.returnItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

const customerColumns = `id, name, email, phone, address, credit_limit::float8, created_at, updated_at`

func scanCustomer(row scanner) (customers.Customer, error) {
	var c customers.Customer
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.CreditLimit, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// GetCustomer loads one customer.
func (q queries) GetCustomer(ctx context.Context, id string) (customers.Customer, error) {
	c, err := scanCustomer(q.db.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return customers.Customer{}, shared.ErrNotFound
		}
		return customers.Customer{}, translate(err)
	}
	return c, nil
}

// ListCustomers returns one page of customers by name and the total number
// of matches. Search is a case-insensitive match on name, email or id.
func (q queries) ListCustomers(ctx context.Context, filter customers.ListFilter) ([]customers.Customer, int, error) {
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	const where = ` WHERE ($1::text = '' OR strpos(lower(name), $1::text) > 0 OR strpos(lower(coalesce(email, '')), $1::text) > 0 OR strpos(lower(id), $1::text) > 0)`

	var total int
	if err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM customers`+where, search).Scan(&total); err != nil {
		return nil, 0, translate(err)
	}
	page, perPage := shared.NormalizePage(filter.Page, filter.PerPage)
	rows, err := q.db.Query(ctx, `SELECT `+customerColumns+` FROM customers`+where+` ORDER BY name, id LIMIT $2 OFFSET $3`, search, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, translate(err)
	}
	defer rows.Close()
	out := []customers.Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}
