package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/pharmaflow/internal/inventory"
	"github.com/odyssey-erp/pharmaflow/internal/orders"
	"github.com/odyssey-erp/pharmaflow/internal/shared"
)

func seedOrder(t *testing.T, s *Store) orders.Order {
	t.Helper()
	o := orders.Order{CustomerID: "C", Status: orders.StatusDraft, Items: []orders.Item{{ProductID: 1, Quantity: 2}}}
	err := s.Orders().WithTx(context.Background(), func(ctx context.Context, tx orders.TxRepository) error {
		return tx.InsertOrder(ctx, &o)
	})
	require.NoError(t, err)
	return o
}

func TestRollbackDiscardsStagedWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Inventory().WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		id, err := tx.InsertProduct(ctx, inventory.Product{SKU: "A", Name: "A"})
		require.NoError(t, err)
		if _, err := tx.LockStock(ctx, []int64{id}); err != nil {
			return err
		}
		require.NoError(t, tx.SaveStock(ctx, inventory.Stock{ProductID: id, Quantity: 5}))
		p, err := tx.GetProduct(ctx, id)
		require.NoError(t, err)
		require.Equal(t, "A", p.SKU)
		return boom
	})
	require.ErrorIs(t, err, boom)

	list, err := s.ListProducts(ctx, inventory.ProductFilter{})
	require.NoError(t, err)
	require.Empty(t, list)
	rows, err := s.ListStock(ctx)
	require.NoError(t, err)
	require.Empty(t, rows)

	// the locks were released with the rollback
	err = s.Inventory().WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		_, err := tx.LockStock(ctx, []int64{1})
		return err
	})
	require.NoError(t, err)
}

func TestSaveStockRequiresLock(t *testing.T) {
	s := New()
	err := s.Inventory().WithTx(context.Background(), func(ctx context.Context, tx inventory.TxRepository) error {
		return tx.SaveStock(ctx, inventory.Stock{ProductID: 3})
	})
	require.Error(t, err)
}

func TestDuplicateSKU(t *testing.T) {
	s := New()
	ctx := context.Background()
	insert := func() error {
		return s.Inventory().WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
			_, err := tx.InsertProduct(ctx, inventory.Product{SKU: "DUP", Name: "x"})
			return err
		})
	}
	require.NoError(t, insert())
	require.ErrorIs(t, insert(), shared.ErrDuplicate)
}

func TestUpdateOrderVersionCheck(t *testing.T) {
	s := New()
	ctx := context.Background()
	o := seedOrder(t, s)
	require.Equal(t, int64(1), o.Version)

	stale := o
	err := s.Orders().WithTx(ctx, func(ctx context.Context, tx orders.TxRepository) error {
		current, err := tx.GetOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		current.Status = orders.StatusPendingInventory
		if err := tx.UpdateOrder(ctx, &current); err != nil {
			return err
		}
		require.Equal(t, int64(2), current.Version)
		// a second write in the same transaction builds on the first
		return tx.UpdateOrder(ctx, &current)
	})
	require.NoError(t, err)

	err = s.Orders().WithTx(ctx, func(ctx context.Context, tx orders.TxRepository) error {
		return tx.UpdateOrder(ctx, &stale)
	})
	require.ErrorIs(t, err, shared.ErrConcurrentModification)

	stored, err := s.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, int64(3), stored.Version)
	require.Equal(t, orders.StatusPendingInventory, stored.Status)
}

func TestInterleavedOrderWritersConflict(t *testing.T) {
	s := New()
	ctx := context.Background()
	o := seedOrder(t, s)

	read := make(chan struct{})
	proceed := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.Orders().WithTx(ctx, func(ctx context.Context, tx orders.TxRepository) error {
			current, err := tx.GetOrder(ctx, o.ID)
			if err != nil {
				return err
			}
			close(read)
			<-proceed
			return tx.UpdateOrder(ctx, &current)
		})
	}()

	<-read
	err := s.Orders().WithTx(ctx, func(ctx context.Context, tx orders.TxRepository) error {
		current, err := tx.GetOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		return tx.UpdateOrder(ctx, &current)
	})
	require.NoError(t, err)
	close(proceed)
	select {
	case err := <-done:
		require.ErrorIs(t, err, shared.ErrConcurrentModification)
	case <-time.After(5 * time.Second):
		t.Fatal("stale writer did not finish")
	}
}

func TestOutOfOrderStockLockFailsFast(t *testing.T) {
	s := New()
	ctx := context.Background()

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.Inventory().WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
			if _, err := tx.LockStock(ctx, []int64{1}); err != nil {
				return err
			}
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	err := s.Inventory().WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		if _, err := tx.LockStock(ctx, []int64{5}); err != nil {
			return err
		}
		_, err := tx.LockStock(ctx, []int64{1})
		return err
	})
	require.ErrorIs(t, err, shared.ErrConcurrentModification)
}

func TestNextSequencePerPrefixAndYear(t *testing.T) {
	s := New()
	ctx := context.Background()
	var got []int64
	err := s.Orders().WithTx(ctx, func(ctx context.Context, tx orders.TxRepository) error {
		for _, key := range []struct {
			prefix string
			year   int
		}{{"ORD", 2024}, {"ORD", 2024}, {"RET", 2024}, {"ORD", 2025}} {
			n, err := tx.NextSequence(ctx, key.prefix, key.year)
			if err != nil {
				return err
			}
			got = append(got, n)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 1, 1}, got)
}

func TestCanceledContextDoesNotCommit(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	err := s.Inventory().WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		_, err := tx.InsertProduct(ctx, inventory.Product{SKU: "A", Name: "A"})
		cancel()
		return err
	})
	require.ErrorIs(t, err, context.Canceled)
	_, err = s.GetProduct(context.Background(), 1)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestListProductsFilters(t *testing.T) {
	s := New()
	ctx := context.Background()
	category := "Antibiotics"
	err := s.Inventory().WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		if _, err := tx.InsertProduct(ctx, inventory.Product{SKU: "AMX-500", Name: "Amoxicillin", Category: &category, RequiresPrescription: true}); err != nil {
			return err
		}
		_, err := tx.InsertProduct(ctx, inventory.Product{SKU: "PCM-500", Name: "Paracetamol"})
		return err
	})
	require.NoError(t, err)

	rx := true
	list, err := s.ListProducts(ctx, inventory.ProductFilter{RequiresPrescription: &rx})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "AMX-500", list[0].SKU)

	rx = false
	list, err = s.ListProducts(ctx, inventory.ProductFilter{RequiresPrescription: &rx, Search: "pcm"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "PCM-500", list[0].SKU)

	list, err = s.ListProducts(ctx, inventory.ProductFilter{Category: "antibiotics", RequiresPrescription: &rx})
	require.NoError(t, err)
	require.Empty(t, list)
}
