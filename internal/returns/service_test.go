package returns_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/pharmaflow/internal/delivery"
	"github.com/odyssey-erp/pharmaflow/internal/inventory"
	"github.com/odyssey-erp/pharmaflow/internal/orders"
	"github.com/odyssey-erp/pharmaflow/internal/returns"
	"github.com/odyssey-erp/pharmaflow/internal/shared"
	"github.com/odyssey-erp/pharmaflow/internal/testing/pipeline"
)

func request(t *testing.T, p *pipeline.Pipeline, orderID int64, items ...returns.ItemInput) (returns.Return, error) {
	t.Helper()
	return p.Returns.RequestReturn(context.Background(), returns.RequestInput{OrderID: orderID, Items: items})
}

func TestRequestReturnRejectsExcessQuantity(t *testing.T) {
	p := pipeline.New(t, pipeline.Options{AutoForward: true})
	a := p.Product(t, "PARA-500", 25.50, 100)

	order := p.Delivered(t, orders.ItemInput{ProductID: a, Quantity: 4})
	itemID := order.Items[0].ID

	_, err := request(t, p, order.ID, returns.ItemInput{OrderItemID: itemID, Quantity: 5})
	require.ErrorIs(t, err, shared.ErrInvalidReturnRequest)

	first, err := request(t, p, order.ID, returns.ItemInput{OrderItemID: itemID, Quantity: 3})
	require.NoError(t, err)
	require.Equal(t, returns.StatusRequested, first.Status)
	require.Regexp(t, `^RET-\d{4}-001$`, first.ReturnNumber)

	// only one unit is left to return
	_, err = request(t, p, order.ID, returns.ItemInput{OrderItemID: itemID, Quantity: 2})
	require.ErrorIs(t, err, shared.ErrInvalidReturnRequest)

	// a rejected return frees its quantity again
	_, err = p.Returns.DecideReturn(context.Background(), first.ID, false, "cs", nil)
	require.NoError(t, err)
	_, err = request(t, p, order.ID, returns.ItemInput{OrderItemID: itemID, Quantity: 4})
	require.NoError(t, err)
}

func TestRequestReturnNeedsDeliveredOrder(t *testing.T) {
	p := pipeline.New(t, pipeline.Options{AutoForward: true})
	a := p.Product(t, "PARA-500", 1, 100)

	order := p.Approved(t, orders.ItemInput{ProductID: a, Quantity: 4})
	_, err := request(t, p, order.ID, returns.ItemInput{OrderItemID: order.Items[0].ID, Quantity: 1})
	require.ErrorIs(t, err, shared.ErrInvalidReturnRequest)

	delivered := p.Delivered(t, orders.ItemInput{ProductID: a, Quantity: 4})
	_, err = request(t, p, delivered.ID, returns.ItemInput{OrderItemID: order.Items[0].ID, Quantity: 1})
	require.ErrorIs(t, err, shared.ErrInvalidReturnRequest)

	_, err = request(t, p, delivered.ID)
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = request(t, p, delivered.ID, returns.ItemInput{OrderItemID: delivered.Items[0].ID, Quantity: 0})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReturnLifecycleRestocksAndRefunds(t *testing.T) {
	p := pipeline.New(t, pipeline.Options{AutoForward: true})
	ctx := context.Background()
	a := p.Product(t, "PARA-500", 25.50, 100)
	b := p.Product(t, "IBU-400", 89.99, 100)

	order := p.Delivered(t, orders.ItemInput{ProductID: a, Quantity: 10}, orders.ItemInput{ProductID: b, Quantity: 5})
	itemA, itemB := order.Items[0].ID, order.Items[1].ID
	require.Equal(t, int64(90), p.Stock(t, a).Quantity)

	ret, err := request(t, p, order.ID,
		returns.ItemInput{OrderItemID: itemA, Quantity: 2},
		returns.ItemInput{OrderItemID: itemB, Quantity: 1})
	require.NoError(t, err)

	_, err = p.Returns.ReceiveReturn(ctx, ret.ID, []returns.ReceivedItem{{OrderItemID: itemA, Condition: inventory.ConditionGood}})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	_, err = p.Returns.ProcessReturn(ctx, ret.ID, "cs")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	approved, err := p.Returns.DecideReturn(ctx, ret.ID, true, "cs", nil)
	require.NoError(t, err)
	require.Equal(t, returns.StatusApproved, approved.Status)
	require.Equal(t, "cs", *approved.DecidedBy)

	_, err = p.Returns.ReceiveReturn(ctx, ret.ID, []returns.ReceivedItem{{OrderItemID: itemA, Condition: inventory.ConditionGood}})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = p.Returns.ReceiveReturn(ctx, ret.ID, []returns.ReceivedItem{{OrderItemID: itemA, Condition: "broken"}})
	require.ErrorIs(t, err, shared.ErrValidation)

	received, err := p.Returns.ReceiveReturn(ctx, ret.ID, []returns.ReceivedItem{
		{OrderItemID: itemA, Condition: inventory.ConditionGood},
		{OrderItemID: itemB, Condition: inventory.ConditionDamaged},
	})
	require.NoError(t, err)
	require.Equal(t, returns.StatusReceived, received.Status)

	processed, err := p.Returns.ProcessReturn(ctx, ret.ID, "cs")
	require.NoError(t, err)
	require.Equal(t, returns.StatusProcessed, processed.Status)
	require.NotNil(t, processed.RefundAmount)
	require.InDelta(t, 2*25.50+89.99, *processed.RefundAmount, 0.001)

	// good units come back as available stock, damaged ones are only logged
	require.Equal(t, inventory.Snapshot{ProductID: a, Quantity: 92, Available: 92, Level: inventory.LevelInStock}, p.Stock(t, a))
	require.Equal(t, int64(95), p.Stock(t, b).Quantity)
	moves, err := p.Inventory.ListMovements(ctx, b, 1)
	require.NoError(t, err)
	require.Equal(t, inventory.MovementDiscard, moves[0].Type)
	require.Equal(t, inventory.ConditionDamaged, moves[0].Condition)

	stored, err := p.Orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, orders.StatusDelivered, stored.Status)

	require.Len(t, p.Refunds.Refunds, 1)
	require.Equal(t, ret.ReturnNumber, p.Refunds.Refunds[0].ReturnNumber)
	require.Equal(t, "CUST-1", p.Refunds.Refunds[0].CustomerID)
}

func TestFullReturnClosesPartiallyDeliveredOrder(t *testing.T) {
	p := pipeline.New(t, pipeline.Options{AutoForward: true})
	ctx := context.Background()
	a := p.Product(t, "PARA-500", 10, 100)

	order := p.Approved(t, orders.ItemInput{ProductID: a, Quantity: 10})
	d := p.Schedule(t, order.ID)
	_, err := p.Tracker.RecordDelivery(ctx, delivery.RecordInput{DeliveryID: d.ID, Items: []delivery.ItemDelivery{{OrderItemID: order.Items[0].ID, Qty: 6}}})
	require.NoError(t, err)
	require.Equal(t, int64(4), p.Stock(t, a).Reserved)

	ret, err := request(t, p, order.ID, returns.ItemInput{OrderItemID: order.Items[0].ID, Quantity: 6})
	require.NoError(t, err)
	_, err = p.Returns.DecideReturn(ctx, ret.ID, true, "cs", nil)
	require.NoError(t, err)
	_, err = p.Returns.ReceiveReturn(ctx, ret.ID, []returns.ReceivedItem{{OrderItemID: order.Items[0].ID, Condition: inventory.ConditionExpired}})
	require.NoError(t, err)
	processed, err := p.Returns.ProcessReturn(ctx, ret.ID, "cs")
	require.NoError(t, err)
	require.InDelta(t, 60.0, *processed.RefundAmount, 0.001)

	stored, err := p.Orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, orders.StatusReturned, stored.Status)
	require.Equal(t, inventory.Snapshot{ProductID: a, Quantity: 94, Available: 94, Level: inventory.LevelInStock}, p.Stock(t, a))

	status, err := p.Orders.VerifyHistory(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, orders.StatusReturned, status)
	require.Empty(t, p.Alerts.Errors)
}

func TestReturnCannotBeDecidedTwice(t *testing.T) {
	p := pipeline.New(t, pipeline.Options{AutoForward: true})
	ctx := context.Background()
	a := p.Product(t, "PARA-500", 10, 100)

	order := p.Delivered(t, orders.ItemInput{ProductID: a, Quantity: 2})
	ret, err := request(t, p, order.ID, returns.ItemInput{OrderItemID: order.Items[0].ID, Quantity: 1})
	require.NoError(t, err)

	_, err = p.Returns.DecideReturn(ctx, ret.ID, false, "cs", nil)
	require.NoError(t, err)
	_, err = p.Returns.DecideReturn(ctx, ret.ID, true, "cs", nil)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	list, err := p.Returns.ListReturns(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, returns.StatusRejected, list[0].Status)
}

func TestConcurrentFullReturnsOnlyOneAccepted(t *testing.T) {
	p := pipeline.New(t, pipeline.Options{AutoForward: true})
	a := p.Product(t, "PARA-500", 25.50, 100)

	order := p.Delivered(t, orders.ItemInput{ProductID: a, Quantity: 6})
	itemID := order.Items[0].ID

	const callers = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted []returns.Return
		errs     []error
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ret, err := request(t, p, order.ID, returns.ItemInput{OrderItemID: itemID, Quantity: 6})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			accepted = append(accepted, ret)
		}()
	}
	close(start)
	wg.Wait()

	require.Len(t, accepted, 1)
	require.Len(t, errs, callers-1)
	for _, err := range errs {
		require.True(t,
			errors.Is(err, shared.ErrInvalidReturnRequest) || errors.Is(err, shared.ErrConcurrentModification),
			"unexpected error: %v", err)
	}

	open, err := p.Returns.ListReturns(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, int64(6), open[0].Items[0].Quantity)
}
