package customers

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/pharmaflow/internal/shared"
)

// Service manages customer records.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// CreateCustomer registers a customer. A duplicate id fails with ErrDuplicate.
func (s *Service) CreateCustomer(ctx context.Context, input CreateInput) (Customer, error) {
	input.ID = strings.TrimSpace(input.ID)
	if input.ID == "" {
		input.ID = uuid.NewString()
	}
	now := s.now()
	c := Customer{
		ID:          input.ID,
		Name:        strings.TrimSpace(input.Name),
		Email:       input.Email,
		Phone:       input.Phone,
		Address:     input.Address,
		CreditLimit: input.CreditLimit,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := validate(c); err != nil {
		return Customer{}, err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertCustomer(ctx, c)
	})
	if err != nil {
		return Customer{}, fmt.Errorf("customers: create %s: %w", c.ID, err)
	}
	s.logger.InfoContext(ctx, "customer created", slog.String("customer_id", c.ID))
	return c, nil
}

// UpdateCustomer changes the non-nil fields of input.
func (s *Service) UpdateCustomer(ctx context.Context, id string, input UpdateInput) (Customer, error) {
	var updated Customer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		c, err := tx.GetCustomer(ctx, id)
		if err != nil {
			return err
		}
		if input.Name != nil {
			c.Name = strings.TrimSpace(*input.Name)
		}
		if input.Email != nil {
			c.Email = input.Email
		}
		if input.Phone != nil {
			c.Phone = input.Phone
		}
		if input.Address != nil {
			c.Address = input.Address
		}
		if input.CreditLimit != nil {
			c.CreditLimit = input.CreditLimit
		}
		if err := validate(c); err != nil {
			return err
		}
		c.UpdatedAt = s.now()
		updated = c
		return tx.UpdateCustomer(ctx, c)
	})
	if err != nil {
		return Customer{}, err
	}
	return updated, nil
}

// GetCustomer loads one customer.
func (s *Service) GetCustomer(ctx context.Context, id string) (Customer, error) {
	return s.repo.GetCustomer(ctx, id)
}

// ListCustomers lists customers by name with pagination metadata.
func (s *Service) ListCustomers(ctx context.Context, filter ListFilter) ([]Customer, shared.Pagination, error) {
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	list, total, err := s.repo.ListCustomers(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return list, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

func validate(c Customer) error {
	if c.Name == "" {
		return shared.ValidationErrorf("customer name required")
	}
	if c.CreditLimit != nil && *c.CreditLimit < 0 {
		return shared.ValidationErrorf("credit limit must be >= 0")
	}
	if c.Email != nil && *c.Email != "" {
		if _, err := mail.ParseAddress(*c.Email); err != nil {
			return shared.ValidationErrorf(fmt.Sprintf("invalid email %q", *c.Email))
		}
	}
	if a := c.Address; a != nil && (strings.TrimSpace(a.Street) == "" || strings.TrimSpace(a.City) == "" || strings.TrimSpace(a.Country) == "") {
		return shared.ValidationErrorf("address needs street, city and country")
	}
	return nil
}
