// Package customers keeps the buyers orders are placed for: contact data, the
// default shipping address and an optional credit limit.
package customers

import "time"

// Address is a postal address. Deliveries copy it at scheduling time.
type Address struct {
	Street  string `json:"street" validate:"required"`
	City    string `json:"city" validate:"required"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country" validate:"required"`
}

// Customer is a buyer. A nil CreditLimit means no limit is tracked.
type Customer struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       *string   `json:"email,omitempty"`
	Phone       *string   `json:"phone,omitempty"`
	Address     *Address  `json:"address,omitempty"`
	CreditLimit *float64  `json:"credit_limit,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateInput describes a new customer. An empty ID is generated.
type CreateInput struct {
	ID          string
	Name        string
	Email       *string
	Phone       *string
	Address     *Address
	CreditLimit *float64
}

// UpdateInput carries the fields to change; nil fields are kept.
type UpdateInput struct {
	Name        *string
	Email       *string
	Phone       *string
	Address     *Address
	CreditLimit *float64
}

// ListFilter narrows customer listings. Search matches name, email or id.
type ListFilter struct {
	Search  string
	Page    int
	PerPage int
}
