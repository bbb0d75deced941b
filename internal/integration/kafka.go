// Package integration forwards committed order events and refunds to
// downstream systems over Kafka.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/odyssey-erp/pharmaflow/internal/orders"
	"github.com/odyssey-erp/pharmaflow/internal/returns"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter builds a writer for topic on brokers.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

// KafkaPublisher publishes order status changes keyed by order id, so all
// events of one order share a partition. Publishing happens after the
// transaction commits and outside any order lock, so two transitions committed
// back to back may reach the partition in either order. Consumers order events
// of one order by the seq field (also sent as the "seq" header) and drop seqs
// they have already applied.
type KafkaPublisher struct {
	writer MessageWriter
}

var _ orders.EventPublisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher wraps writer.
func NewKafkaPublisher(writer MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

// PublishStatusChanged writes one message per event.
func (p *KafkaPublisher) PublishStatusChanged(ctx context.Context, events []orders.StatusChanged) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("integration: encode order %d event: %w", e.OrderID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte("order-" + strconv.FormatInt(e.OrderID, 10)),
			Value: payload,
			Time:  e.At,
			Headers: []kafka.Header{
				{Key: "event", Value: []byte("order.status_changed")},
				{Key: "trigger", Value: []byte(e.Trigger)},
				{Key: "seq", Value: []byte(strconv.Itoa(e.Seq))},
			},
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("integration: write %d order events: %w", len(msgs), err)
	}
	return nil
}

// PublishRefund writes a processed refund keyed by return id.
func (p *KafkaPublisher) PublishRefund(ctx context.Context, refund returns.Refund) error {
	payload, err := json.Marshal(refund)
	if err != nil {
		return fmt.Errorf("integration: encode refund %s: %w", refund.ReturnNumber, err)
	}
	msg := kafka.Message{
		Key:     []byte("return-" + strconv.FormatInt(refund.ReturnID, 10)),
		Value:   payload,
		Headers: []kafka.Header{{Key: "event", Value: []byte("return.refund_due")}},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("integration: write refund %s: %w", refund.ReturnNumber, err)
	}
	return nil
}
