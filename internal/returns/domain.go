package returns

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/pharmaflow/internal/inventory"
	"github.com/odyssey-erp/pharmaflow/internal/shared"
)

// Status is the lifecycle state of a return.
type Status string

const (
	StatusRequested Status = "requested"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusReceived  Status = "received"
	StatusProcessed Status = "processed"
)

var transitions = map[Status][]Status{
	StatusRequested: {StatusApproved, StatusRejected},
	StatusApproved:  {StatusReceived},
	StatusReceived:  {StatusProcessed},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("returns: %s to %s: %w", from, to, shared.ErrInvalidTransition)
	}
	return nil
}

// Return is a customer return against a delivered order.
type Return struct {
	ID           int64     `json:"id"`
	OrderID      int64     `json:"order_id"`
	ReturnNumber string    `json:"return_number"`
	Reason       *string   `json:"reason,omitempty"`
	Status       Status    `json:"status"`
	RefundAmount *float64  `json:"refund_amount,omitempty"`
	DecidedBy    *string   `json:"decided_by,omitempty"`
	DecisionNote *string   `json:"decision_note,omitempty"`
	ProcessedBy  *string   `json:"processed_by,omitempty"`
	Items        []Item    `json:"items"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Item is one returned order line. Condition is empty until received.
type Item struct {
	ID          int64               `json:"id"`
	ReturnID    int64               `json:"return_id"`
	OrderItemID int64               `json:"order_item_id"`
	ProductID   int64               `json:"product_id"`
	Quantity    int64               `json:"quantity"`
	Reason      *string             `json:"reason,omitempty"`
	Condition   inventory.Condition `json:"condition,omitempty"`
}

// Counts reports whether the return holds quantity against the order.
func (r Return) Counts() bool {
	return r.Status != StatusRejected
}

// ItemInput is one requested return line.
type ItemInput struct {
	OrderItemID int64
	Quantity    int64
	Reason      *string
}

// ReceivedItem records the inspected condition of one return line.
type ReceivedItem struct {
	OrderItemID int64
	Condition   inventory.Condition
}

// RequestInput describes a return request.
type RequestInput struct {
	OrderID int64
	Items   []ItemInput
	Reason  *string
}
