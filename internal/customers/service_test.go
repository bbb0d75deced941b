package customers_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/pharmaflow/internal/customers"
	"github.com/odyssey-erp/pharmaflow/internal/shared"
	"github.com/odyssey-erp/pharmaflow/internal/store/memory"
)

func newService(t *testing.T) *customers.Service {
	t.Helper()
	return customers.NewService(memory.New().Customers(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func ptr[T any](v T) *T { return &v }

func TestCreateCustomer(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	c, err := svc.CreateCustomer(ctx, customers.CreateInput{
		ID:          "CUST-9",
		Name:        "  Apotek Kimia  ",
		Email:       ptr("orders@kimia.example"),
		Address:     &customers.Address{Street: "Jl. Sudirman 1", City: "Jakarta", Country: "ID"},
		CreditLimit: ptr(5000.0),
	})
	require.NoError(t, err)
	require.Equal(t, "Apotek Kimia", c.Name)
	require.False(t, c.CreatedAt.IsZero())

	got, err := svc.GetCustomer(ctx, "CUST-9")
	require.NoError(t, err)
	require.Equal(t, "Jakarta", got.Address.City)
	require.InDelta(t, 5000.0, *got.CreditLimit, 0.001)

	_, err = svc.CreateCustomer(ctx, customers.CreateInput{ID: "CUST-9", Name: "again"})
	require.ErrorIs(t, err, shared.ErrDuplicate)

	generated, err := svc.CreateCustomer(ctx, customers.CreateInput{Name: "Walk-in"})
	require.NoError(t, err)
	require.Len(t, generated.ID, 36)

	_, err = svc.GetCustomer(ctx, "missing")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateCustomerValidation(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	cases := map[string]customers.CreateInput{
		"no name":            {Name: " "},
		"negative limit":     {Name: "x", CreditLimit: ptr(-1.0)},
		"bad email":          {Name: "x", Email: ptr("not-an-email")},
		"incomplete address": {Name: "x", Address: &customers.Address{City: "Jakarta", Country: "ID"}},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreateCustomer(ctx, input)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
}

func TestUpdateCustomerKeepsUnsetFields(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	_, err := svc.CreateCustomer(ctx, customers.CreateInput{ID: "C-1", Name: "Klinik", Phone: ptr("022-555"), CreditLimit: ptr(100.0)})
	require.NoError(t, err)

	updated, err := svc.UpdateCustomer(ctx, "C-1", customers.UpdateInput{CreditLimit: ptr(250.0)})
	require.NoError(t, err)
	require.Equal(t, "Klinik", updated.Name)
	require.Equal(t, "022-555", *updated.Phone)
	require.InDelta(t, 250.0, *updated.CreditLimit, 0.001)

	_, err = svc.UpdateCustomer(ctx, "C-1", customers.UpdateInput{CreditLimit: ptr(-5.0)})
	require.ErrorIs(t, err, shared.ErrValidation)
	got, err := svc.GetCustomer(ctx, "C-1")
	require.NoError(t, err)
	require.InDelta(t, 250.0, *got.CreditLimit, 0.001)

	_, err = svc.UpdateCustomer(ctx, "C-404", customers.UpdateInput{Name: ptr("x")})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestListCustomersSearchAndPaging(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := svc.CreateCustomer(ctx, customers.CreateInput{ID: fmt.Sprintf("APT-%d", i), Name: fmt.Sprintf("Apotek %d", i)})
		require.NoError(t, err)
	}
	_, err := svc.CreateCustomer(ctx, customers.CreateInput{ID: "RS-1", Name: "Rumah Sakit", Email: ptr("rs@hospital.example")})
	require.NoError(t, err)

	page, meta, err := svc.ListCustomers(ctx, customers.ListFilter{Search: "apotek", Page: 2, PerPage: 2})
	require.NoError(t, err)
	require.Equal(t, 5, meta.Total)
	require.Equal(t, 3, meta.TotalPages)
	require.Len(t, page, 2)
	require.Equal(t, "APT-3", page[0].ID)

	byEmail, _, err := svc.ListCustomers(ctx, customers.ListFilter{Search: "HOSPITAL"})
	require.NoError(t, err)
	require.Len(t, byEmail, 1)
	require.Equal(t, "RS-1", byEmail[0].ID)
}
