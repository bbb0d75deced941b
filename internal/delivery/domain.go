package delivery

import (
	"time"

	"github.com/odyssey-erp/pharmaflow/internal/customers"
)

// Address is the shipping address snapshot taken when a delivery is
// scheduled. Without an explicit address the customer's address is copied.
type Address = customers.Address

// Delivery is one shipment against an order. A delivery is recorded once;
// DeliveredDate is nil until then.
type Delivery struct {
	ID              int64      `json:"id"`
	OrderID         int64      `json:"order_id"`
	CourierID       string     `json:"courier_id"`
	ScheduledDate   time.Time  `json:"scheduled_date"`
	DeliveredDate   *time.Time `json:"delivered_date,omitempty"`
	Address         *Address   `json:"delivery_address,omitempty"`
	ProofOfDelivery *string    `json:"proof_of_delivery,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
	Lines           []Line     `json:"lines,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Recorded reports whether the delivery outcome has been recorded.
func (d Delivery) Recorded() bool {
	return d.DeliveredDate != nil
}

// Line is the quantity of one order item handed over by a delivery.
type Line struct {
	ID          int64 `json:"id"`
	DeliveryID  int64 `json:"delivery_id"`
	OrderItemID int64 `json:"order_item_id"`
	ProductID   int64 `json:"product_id"`
	Qty         int64 `json:"qty"`
}

// ScheduleInput describes a delivery to schedule.
type ScheduleInput struct {
	OrderID   int64
	CourierID string
	Date      time.Time
	Address   *Address
	Notes     *string
}

// ItemDelivery is the quantity delivered for one order item.
type ItemDelivery struct {
	OrderItemID int64
	Qty         int64
}

// RecordInput describes the outcome of a delivery.
type RecordInput struct {
	DeliveryID      int64
	Items           []ItemDelivery
	ProofOfDelivery *string
	DeliveredAt     *time.Time
}
