package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/pharmaflow/internal/shared"
)

type recordingAlerter struct {
	ops  []MovementType
	errs []*shared.InvariantError
}

func (a *recordingAlerter) InvariantViolated(ctx context.Context, op MovementType, err *shared.InvariantError) {
	a.ops = append(a.ops, op)
	a.errs = append(a.errs, err)
}

type countingObserver struct {
	outcomes map[string]int
}

func (o *countingObserver) ObserveLedger(op MovementType, outcome string, qty int64) {
	if o.outcomes == nil {
		o.outcomes = make(map[string]int)
	}
	o.outcomes[string(op)+":"+outcome]++
}

func seedStock(repo *memoryRepo, productID, qty, reserved int64) {
	repo.stocks[productID] = Stock{ProductID: productID, Quantity: qty, Reserved: reserved}
}

func runTx(t *testing.T, repo *memoryRepo, fn func(TxRepository) error) error {
	t.Helper()
	return repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		return fn(tx)
	})
}

func requireLedgerInvariant(t *testing.T, repo *memoryRepo) {
	t.Helper()
	for id, s := range repo.stocks {
		require.GreaterOrEqual(t, s.Reserved, int64(0), "product %d", id)
		require.GreaterOrEqual(t, s.Quantity, s.Reserved, "product %d", id)
	}
}

func TestReserveThenOversellFails(t *testing.T) {
	repo := newMemoryRepo()
	ledger := NewLedger(discardLogger(), nil, nil)
	ctx := context.Background()
	seedStock(repo, 1, 100, 0)
	ref := Ref{Module: "order", ID: 1, Actor: "tester"}

	require.NoError(t, runTx(t, repo, func(tx TxRepository) error {
		return ledger.Reserve(ctx, tx, ref, Line{ProductID: 1, Qty: 60})
	}))
	require.Equal(t, int64(40), repo.stocks[1].Available())

	err := runTx(t, repo, func(tx TxRepository) error {
		return ledger.Reserve(ctx, tx, ref, Line{ProductID: 1, Qty: 50})
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, int64(60), repo.stocks[1].Reserved)
	requireLedgerInvariant(t, repo)
}

func TestReserveIsAllOrNothingAcrossProducts(t *testing.T) {
	repo := newMemoryRepo()
	ledger := NewLedger(discardLogger(), nil, nil)
	ctx := context.Background()
	seedStock(repo, 1, 10, 0)
	seedStock(repo, 2, 3, 0)

	err := runTx(t, repo, func(tx TxRepository) error {
		return ledger.Reserve(ctx, tx, Ref{Module: "order", ID: 9}, Line{ProductID: 2, Qty: 5}, Line{ProductID: 1, Qty: 10})
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Zero(t, repo.stocks[1].Reserved)
	require.Zero(t, repo.stocks[2].Reserved)
	require.Empty(t, repo.movements)
}

func TestReserveLocksAscendingAndAggregates(t *testing.T) {
	repo := newMemoryRepo()
	ledger := NewLedger(discardLogger(), nil, nil)
	ctx := context.Background()
	seedStock(repo, 3, 50, 0)
	seedStock(repo, 7, 50, 0)

	require.NoError(t, runTx(t, repo, func(tx TxRepository) error {
		return ledger.Reserve(ctx, tx, Ref{Module: "order", ID: 1},
			Line{ProductID: 7, Qty: 4}, Line{ProductID: 3, Qty: 2}, Line{ProductID: 7, Qty: 6})
	}))
	require.Equal(t, [][]int64{{3, 7}}, repo.locked)
	require.Equal(t, int64(10), repo.stocks[7].Reserved)
	require.Equal(t, int64(2), repo.stocks[3].Reserved)
	require.Len(t, repo.movements, 2)
}

func TestReserveRejectsNonPositiveQuantity(t *testing.T) {
	repo := newMemoryRepo()
	ledger := NewLedger(discardLogger(), nil, nil)
	err := runTx(t, repo, func(tx TxRepository) error {
		return ledger.Reserve(context.Background(), tx, Ref{}, Line{ProductID: 1, Qty: 0})
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	err = runTx(t, repo, func(tx TxRepository) error {
		return ledger.Reserve(context.Background(), tx, Ref{})
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReleaseAndCommitInvariantViolationsAlert(t *testing.T) {
	repo := newMemoryRepo()
	alerter := &recordingAlerter{}
	observer := &countingObserver{}
	ledger := NewLedger(discardLogger(), alerter, observer)
	ctx := context.Background()
	seedStock(repo, 1, 20, 5)

	err := runTx(t, repo, func(tx TxRepository) error {
		return ledger.Release(ctx, tx, Ref{Module: "order", ID: 4}, Line{ProductID: 1, Qty: 6})
	})
	require.ErrorIs(t, err, shared.ErrInvalidRelease)
	require.ErrorIs(t, err, shared.ErrInternal)

	err = runTx(t, repo, func(tx TxRepository) error {
		return ledger.Commit(ctx, tx, Ref{Module: "delivery", ID: 4}, Line{ProductID: 1, Qty: 6})
	})
	require.ErrorIs(t, err, shared.ErrInvalidCommit)
	require.ErrorIs(t, err, shared.ErrInternal)

	require.Equal(t, []MovementType{MovementRelease, MovementCommit}, alerter.ops)
	require.Equal(t, int64(6), alerter.errs[0].Requested)
	require.Equal(t, int64(5), alerter.errs[0].Reserved)
	require.Equal(t, 1, observer.outcomes["RELEASE:invariant_violation"])
	require.Equal(t, 1, observer.outcomes["COMMIT:invariant_violation"])
	require.Equal(t, Stock{ProductID: 1, Quantity: 20, Reserved: 5}, repo.stocks[1])
}

func TestReleaseOnMissingRowIsInvariantViolation(t *testing.T) {
	repo := newMemoryRepo()
	ledger := NewLedger(discardLogger(), nil, nil)
	err := runTx(t, repo, func(tx TxRepository) error {
		return ledger.Release(context.Background(), tx, Ref{}, Line{ProductID: 42, Qty: 1})
	})
	require.ErrorIs(t, err, shared.ErrInvalidRelease)
}

func TestCommitThenRestockRoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		condition Condition
		wantQty   int64
		wantType  MovementType
	}{
		{ConditionGood, 30, MovementRestock},
		{ConditionDamaged, 26, MovementDiscard},
		{ConditionExpired, 26, MovementDiscard},
	} {
		t.Run(string(tc.condition), func(t *testing.T) {
			repo := newMemoryRepo()
			ledger := NewLedger(discardLogger(), nil, nil)
			seedStock(repo, 1, 30, 0)

			require.NoError(t, runTx(t, repo, func(tx TxRepository) error {
				if err := ledger.Reserve(ctx, tx, Ref{}, Line{ProductID: 1, Qty: 4}); err != nil {
					return err
				}
				return ledger.Commit(ctx, tx, Ref{}, Line{ProductID: 1, Qty: 4})
			}))
			require.Equal(t, int64(26), repo.stocks[1].Quantity)
			require.Zero(t, repo.stocks[1].Reserved)

			var m Movement
			require.NoError(t, runTx(t, repo, func(tx TxRepository) error {
				var err error
				m, err = ledger.Restock(ctx, tx, Ref{Module: "return", ID: 1}, 1, 4, tc.condition)
				return err
			}))
			require.Equal(t, tc.wantQty, repo.stocks[1].Quantity)
			require.Zero(t, repo.stocks[1].Reserved)
			require.Equal(t, tc.wantType, m.Type)
			require.Equal(t, tc.condition, m.Condition)
			requireLedgerInvariant(t, repo)
		})
	}
}

func TestRestockNeverTouchesReserved(t *testing.T) {
	repo := newMemoryRepo()
	ledger := NewLedger(discardLogger(), nil, nil)
	seedStock(repo, 1, 10, 7)

	require.NoError(t, runTx(t, repo, func(tx TxRepository) error {
		_, err := ledger.Restock(context.Background(), tx, Ref{}, 1, 5, ConditionGood)
		return err
	}))
	require.Equal(t, Stock{ProductID: 1, Quantity: 15, Reserved: 7, UpdatedAt: repo.stocks[1].UpdatedAt}, repo.stocks[1])

	err := runTx(t, repo, func(tx TxRepository) error {
		_, err := ledger.Restock(context.Background(), tx, Ref{}, 1, 5, Condition("melted"))
		return err
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestStockLevels(t *testing.T) {
	require.Equal(t, LevelOutOfStock, Stock{Quantity: 5, Reserved: 5}.Level())
	require.Equal(t, LevelCritical, Stock{Quantity: 10}.Level())
	require.Equal(t, LevelLow, Stock{Quantity: 50}.Level())
	require.Equal(t, LevelInStock, Stock{Quantity: 51}.Level())
}

func TestAdjustWritesSignedMovement(t *testing.T) {
	repo := newMemoryRepo()
	observer := &countingObserver{}
	ledger := NewLedger(discardLogger(), nil, observer)
	ctx := context.Background()
	seedStock(repo, 1, 40, 10)
	ref := Ref{Module: "inventory", ID: 1, Actor: "counter", Note: "cycle count"}

	var stock Stock
	require.NoError(t, runTx(t, repo, func(tx TxRepository) error {
		var err error
		stock, err = ledger.Adjust(ctx, tx, ref, AdjustInput{ProductID: 1, Quantity: 55})
		return err
	}))
	require.Equal(t, int64(55), stock.Quantity)
	require.Equal(t, int64(10), stock.Reserved)

	require.NoError(t, runTx(t, repo, func(tx TxRepository) error {
		_, err := ledger.Adjust(ctx, tx, ref, AdjustInput{ProductID: 1, Quantity: 10})
		return err
	}))
	require.Equal(t, int64(10), repo.stocks[1].Quantity)
	require.Equal(t, int64(0), repo.stocks[1].Available())

	require.Len(t, repo.movements, 2)
	require.Equal(t, MovementAdjust, repo.movements[0].Type)
	require.Equal(t, int64(15), repo.movements[0].Qty)
	require.Equal(t, int64(-45), repo.movements[1].Qty)
	require.Equal(t, int64(10), repo.movements[1].QuantityAfter)
	require.Equal(t, "cycle count", repo.movements[1].Note)
	require.Equal(t, 2, observer.outcomes["ADJUST:ok"])
	requireLedgerInvariant(t, repo)
}

func TestAdjustBelowReservedIsRejected(t *testing.T) {
	repo := newMemoryRepo()
	alerter := &recordingAlerter{}
	observer := &countingObserver{}
	ledger := NewLedger(discardLogger(), alerter, observer)
	ctx := context.Background()
	seedStock(repo, 1, 40, 25)

	err := runTx(t, repo, func(tx TxRepository) error {
		_, err := ledger.Adjust(ctx, tx, Ref{Module: "inventory", ID: 1}, AdjustInput{ProductID: 1, Quantity: 24})
		return err
	})
	require.ErrorIs(t, err, shared.ErrBelowReserved)
	require.NotErrorIs(t, err, shared.ErrInternal)
	require.Equal(t, int64(40), repo.stocks[1].Quantity)
	require.Empty(t, repo.movements)
	require.Empty(t, alerter.ops)
	require.Equal(t, 1, observer.outcomes["ADJUST:rejected"])

	err = runTx(t, repo, func(tx TxRepository) error {
		_, err := ledger.Adjust(ctx, tx, Ref{Module: "inventory", ID: 1}, AdjustInput{ProductID: 1, Quantity: -1})
		return err
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	requireLedgerInvariant(t, repo)
}

func TestAdjustCreatesMissingRow(t *testing.T) {
	repo := newMemoryRepo()
	ledger := NewLedger(discardLogger(), nil, nil)
	ctx := context.Background()
	batch := "B-7"

	require.NoError(t, runTx(t, repo, func(tx TxRepository) error {
		_, err := ledger.Adjust(ctx, tx, Ref{Module: "inventory", ID: 3}, AdjustInput{ProductID: 3, Quantity: 12, BatchNumber: &batch})
		return err
	}))
	require.Equal(t, int64(12), repo.stocks[3].Quantity)
	require.Equal(t, "B-7", *repo.stocks[3].BatchNumber)
	require.Equal(t, int64(12), repo.movements[0].Qty)
}
