package orders

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/pharmaflow/internal/shared"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusDraft              Status = "draft"
	StatusPendingInventory   Status = "pending_inventory"
	StatusInventoryApproved  Status = "inventory_approved"
	StatusInventoryRejected  Status = "inventory_rejected"
	StatusPendingAccounting  Status = "pending_accounting"
	StatusApproved           Status = "approved"
	StatusRejected           Status = "rejected"
	StatusInTransit          Status = "in_transit"
	StatusDelivered          Status = "delivered"
	StatusPartiallyDelivered Status = "partially_delivered"
	StatusCompleted          Status = "completed"
	StatusReturned           Status = "returned"
)

// AllStatuses lists every status in pipeline order.
var AllStatuses = []Status{
	StatusDraft, StatusPendingInventory, StatusInventoryApproved, StatusInventoryRejected,
	StatusPendingAccounting, StatusApproved, StatusRejected, StatusInTransit,
	StatusDelivered, StatusPartiallyDelivered, StatusCompleted, StatusReturned,
}

// statusLabels is filled once at init; a cases.Caser is stateful and cannot
// be shared between goroutines.
var statusLabels = func() map[Status]string {
	caser := cases.Title(language.English)
	labels := make(map[Status]string, len(AllStatuses))
	for _, s := range AllStatuses {
		labels[s] = caser.String(strings.ReplaceAll(string(s), "_", " "))
	}
	return labels
}()

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition can leave s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusInventoryRejected, StatusRejected, StatusCompleted, StatusReturned:
		return true
	default:
		return false
	}
}

// Returnable reports whether a return may be requested in s.
func (s Status) Returnable() bool {
	return s == StatusDelivered || s == StatusPartiallyDelivered || s == StatusCompleted
}

// Label renders the status for display, e.g. "Pending Inventory".
// Unknown statuses render as their raw value.
func (s Status) Label() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return string(s)
}

// Order is a customer order and its line items.
type Order struct {
	ID          int64     `json:"id"`
	OrderNumber string    `json:"order_number"`
	CustomerID  string    `json:"customer_id"`
	SalesRepID  *string   `json:"sales_rep_id,omitempty"`
	Status      Status    `json:"status"`
	Items       []Item    `json:"items"`
	TotalAmount float64   `json:"total_amount"`
	Notes       *string   `json:"notes,omitempty"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Item is one order line. UnitPrice is a snapshot of the product price.
type Item struct {
	ID                int64   `json:"id"`
	OrderID           int64   `json:"order_id"`
	ProductID         int64   `json:"product_id"`
	Quantity          int64   `json:"quantity"`
	UnitPrice         float64 `json:"unit_price"`
	TotalPrice        float64 `json:"total_price"`
	DeliveredQuantity int64   `json:"delivered_quantity"`
}

// Outstanding returns the quantity not yet delivered.
func (i Item) Outstanding() int64 {
	return i.Quantity - i.DeliveredQuantity
}

// Recalculate refreshes item totals and the order total.
func (o *Order) Recalculate() {
	var total float64
	for i := range o.Items {
		o.Items[i].TotalPrice = shared.LineTotal(o.Items[i].Quantity, o.Items[i].UnitPrice)
		total += o.Items[i].TotalPrice
	}
	o.TotalAmount = shared.RoundCents(total)
}

// FullyDelivered reports whether every item reached its ordered quantity.
func (o Order) FullyDelivered() bool {
	for _, item := range o.Items {
		if item.DeliveredQuantity != item.Quantity {
			return false
		}
	}
	return true
}

// Item returns a pointer to the item with the given id.
func (o *Order) Item(id int64) (*Item, bool) {
	for i := range o.Items {
		if o.Items[i].ID == id {
			return &o.Items[i], true
		}
	}
	return nil, false
}

// HistoryEntry is one immutable status change. Hash chains every entry to
// its predecessor.
type HistoryEntry struct {
	ID      uuid.UUID `json:"id"`
	OrderID int64     `json:"order_id"`
	Seq     int       `json:"seq"`
	From    Status    `json:"from"`
	To      Status    `json:"to"`
	Trigger Trigger   `json:"trigger"`
	Actor   string    `json:"actor"`
	Note    *string   `json:"note,omitempty"`
	At      time.Time `json:"at"`
	Hash    string    `json:"hash"`
}

// ItemInput is one requested order line.
type ItemInput struct {
	ProductID int64
	Quantity  int64
}

// CreateOrderInput describes a new draft order.
type CreateOrderInput struct {
	CustomerID string
	SalesRepID *string
	Notes      *string
	Items      []ItemInput
}

// ListFilter narrows order listings.
type ListFilter struct {
	Status     Status
	CustomerID string
	From       *time.Time
	To         *time.Time
	Page       int
	PerPage    int
}
