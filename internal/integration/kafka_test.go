package integration

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/pharmaflow/internal/orders"
	"github.com/odyssey-erp/pharmaflow/internal/returns"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestPublishStatusChangedKeysByOrder(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w)
	at := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)

	err := p.PublishStatusChanged(context.Background(), []orders.StatusChanged{
		{OrderID: 12, Seq: 4, OrderNumber: "ORD-2024-012", From: orders.StatusInventoryApproved, To: orders.StatusPendingAccounting, Trigger: orders.TriggerForwardAccounting, At: at},
		{OrderID: 12, Seq: 5, OrderNumber: "ORD-2024-012", From: orders.StatusPendingAccounting, To: orders.StatusApproved, Trigger: orders.TriggerAccountingApprove, At: at},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 2)
	require.Equal(t, "order-12", string(w.msgs[0].Key))
	require.Equal(t, at, w.msgs[1].Time)

	var decoded orders.StatusChanged
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &decoded))
	require.Equal(t, orders.StatusApproved, decoded.To)
	require.Equal(t, "ORD-2024-012", decoded.OrderNumber)
	require.Equal(t, 5, decoded.Seq)
	require.Equal(t, kafka.Header{Key: "seq", Value: []byte("5")}, w.msgs[1].Headers[2])
}

func TestPublishStatusChangedWrapsWriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := NewKafkaPublisher(&fakeWriter{err: boom})

	require.NoError(t, p.PublishStatusChanged(context.Background(), nil))
	err := p.PublishStatusChanged(context.Background(), []orders.StatusChanged{{OrderID: 1}})
	require.ErrorIs(t, err, boom)
}

func TestNewKafkaWriterTargetsTopic(t *testing.T) {
	w := NewKafkaWriter([]string{"localhost:9092"}, "pharmaflow.orders")
	require.Equal(t, "pharmaflow.orders", w.Topic)
	require.Equal(t, "localhost:9092", w.Addr.String())
}

func TestPublishRefund(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w)

	err := p.PublishRefund(context.Background(), returns.Refund{ReturnID: 4, ReturnNumber: "RET-2024-004", OrderID: 9, Amount: 140.99})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	require.Equal(t, "return-4", string(w.msgs[0].Key))

	var decoded returns.Refund
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	require.InDelta(t, 140.99, decoded.Amount, 0.0001)
}
