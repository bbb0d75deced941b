package inventory

import (
	"time"

	"github.com/google/uuid"
)

// MovementType enumerates stock card entries written by the ledger.
type MovementType string

const (
	// MovementReserve holds stock against a submitted order.
	MovementReserve MovementType = "RESERVE"
	// MovementRelease returns held stock to available.
	MovementRelease MovementType = "RELEASE"
	// MovementCommit converts a reservation into a physical decrement.
	MovementCommit MovementType = "COMMIT"
	// MovementRestock puts returned goods back on hand.
	MovementRestock MovementType = "RESTOCK"
	// MovementDiscard logs returned goods that are not restocked.
	MovementDiscard MovementType = "DISCARD"
	// MovementReceive records inbound stock from a supplier.
	MovementReceive MovementType = "RECEIVE"
	// MovementAdjust corrects on-hand quantity after a physical count. Qty is signed.
	MovementAdjust MovementType = "ADJUST"
)

// Condition describes the state of a returned unit.
type Condition string

const (
	ConditionGood    Condition = "good"
	ConditionDamaged Condition = "damaged"
	ConditionExpired Condition = "expired"
)

// Valid reports whether c is a known condition.
func (c Condition) Valid() bool {
	switch c {
	case ConditionGood, ConditionDamaged, ConditionExpired:
		return true
	default:
		return false
	}
}

// StockLevel buckets available quantity for alerting.
type StockLevel string

const (
	LevelOutOfStock StockLevel = "out_of_stock"
	LevelCritical   StockLevel = "critical"
	LevelLow        StockLevel = "low"
	LevelInStock    StockLevel = "in_stock"
)

// Thresholds on available quantity.
const (
	CriticalThreshold int64 = 10
	LowThreshold      int64 = 50
)

// DefaultExpiryWindow flags batches expiring within roughly three months.
const DefaultExpiryWindow = 90 * 24 * time.Hour

// Product is a sellable catalog entry.
type Product struct {
	ID                   int64     `json:"id"`
	SKU                  string    `json:"sku"`
	Name                 string    `json:"name"`
	Description          *string   `json:"description,omitempty"`
	Category             *string   `json:"category,omitempty"`
	UnitPrice            float64   `json:"unit_price"`
	RequiresPrescription bool      `json:"requires_prescription"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Stock is the single inventory row of a product. Reserved never exceeds
// Quantity and neither goes below zero. A nil ExpiryDate means non-perishable.
type Stock struct {
	ProductID   int64      `json:"product_id"`
	Quantity    int64      `json:"quantity"`
	Reserved    int64      `json:"reserved_quantity"`
	BatchNumber *string    `json:"batch_number,omitempty"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
	Location    *string    `json:"location,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Available returns the quantity offerable to new orders.
func (s Stock) Available() int64 {
	return s.Quantity - s.Reserved
}

// Level classifies the available quantity.
func (s Stock) Level() StockLevel {
	available := s.Available()
	switch {
	case available <= 0:
		return LevelOutOfStock
	case available <= CriticalThreshold:
		return LevelCritical
	case available <= LowThreshold:
		return LevelLow
	default:
		return LevelInStock
	}
}

// ExpiresWithin reports whether the batch expires before now+window.
func (s Stock) ExpiresWithin(now time.Time, window time.Duration) bool {
	if s.ExpiryDate == nil {
		return false
	}
	return s.ExpiryDate.Before(now.Add(window))
}

// Snapshot is the public view returned by GetInventory.
type Snapshot struct {
	ProductID int64      `json:"product_id"`
	Quantity  int64      `json:"quantity"`
	Reserved  int64      `json:"reserved"`
	Available int64      `json:"available"`
	Level     StockLevel `json:"level"`
}

// SnapshotOf builds the public view of a stock row.
func SnapshotOf(s Stock) Snapshot {
	return Snapshot{
		ProductID: s.ProductID,
		Quantity:  s.Quantity,
		Reserved:  s.Reserved,
		Available: s.Available(),
		Level:     s.Level(),
	}
}

// StockReport decorates a stock row with alert flags.
type StockReport struct {
	Stock
	Available    int64      `json:"available"`
	Level        StockLevel `json:"level"`
	ExpiringSoon bool       `json:"expiring_soon"`
}

// Line is one product quantity handed to the ledger.
type Line struct {
	ProductID int64
	Qty       int64
}

// Ref identifies the business event behind a ledger call.
type Ref struct {
	Module string
	ID     int64
	Actor  string
	Note   string
}

// Movement is one append-only stock card row.
type Movement struct {
	ID            uuid.UUID    `json:"id"`
	ProductID     int64        `json:"product_id"`
	Type          MovementType `json:"type"`
	Qty           int64        `json:"qty"`
	QuantityAfter int64        `json:"quantity_after"`
	ReservedAfter int64        `json:"reserved_after"`
	Condition     Condition    `json:"condition,omitempty"`
	RefModule     string       `json:"ref_module"`
	RefID         int64        `json:"ref_id"`
	Actor         string       `json:"actor"`
	Note          string       `json:"note,omitempty"`
	At            time.Time    `json:"at"`
}

// CreateProductInput describes a new catalog entry.
type CreateProductInput struct {
	SKU                  string
	Name                 string
	Description          *string
	Category             *string
	UnitPrice            float64
	RequiresPrescription bool
}

// ReceiveInput describes inbound stock from a supplier.
type ReceiveInput struct {
	ProductID   int64
	Qty         int64
	BatchNumber *string
	ExpiryDate  *time.Time
	Location    *string
	Note        string
}

// AdjustInput sets the counted on-hand quantity of a product.
type AdjustInput struct {
	ProductID   int64
	Quantity    int64
	BatchNumber *string
	ExpiryDate  *time.Time
	Location    *string
	Reason      string
}

// ProductFilter narrows product listings. A nil RequiresPrescription matches both.
type ProductFilter struct {
	Category             string
	Search               string
	RequiresPrescription *bool
}

// StockFilter narrows stock listings.
type StockFilter struct {
	LowStock       bool
	ExpiringWithin time.Duration
}
