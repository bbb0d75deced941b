package orders

import (
	"context"
	"log/slog"
	"time"
)

// StatusChanged is emitted after a transition commits. Seq is the history
// sequence number of the transition.
type StatusChanged struct {
	OrderID     int64     `json:"order_id"`
	Seq         int       `json:"seq"`
	OrderNumber string    `json:"order_number"`
	CustomerID  string    `json:"customer_id"`
	From        Status    `json:"from"`
	To          Status    `json:"to"`
	Trigger     Trigger   `json:"trigger"`
	Actor       string    `json:"actor"`
	TotalAmount float64   `json:"total_amount"`
	At          time.Time `json:"at"`
}

// EventPublisher delivers status events to downstream consumers.
type EventPublisher interface {
	PublishStatusChanged(ctx context.Context, events []StatusChanged) error
}

// Notifier publishes committed transitions. Publish failures are logged only;
// the transition itself is already durable.
type Notifier struct {
	publisher EventPublisher
	logger    *slog.Logger
}

// NewNotifier builds Notifier. publisher may be nil.
func NewNotifier(publisher EventPublisher, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{publisher: publisher, logger: logger}
}

// Notify publishes one event per history entry.
func (n *Notifier) Notify(ctx context.Context, o Order, entries []HistoryEntry) {
	if n == nil || n.publisher == nil || len(entries) == 0 {
		return
	}
	events := make([]StatusChanged, len(entries))
	for i, e := range entries {
		events[i] = StatusChanged{
			OrderID:     o.ID,
			Seq:         e.Seq,
			OrderNumber: o.OrderNumber,
			CustomerID:  o.CustomerID,
			From:        e.From,
			To:          e.To,
			Trigger:     e.Trigger,
			Actor:       e.Actor,
			TotalAmount: o.TotalAmount,
			At:          e.At,
		}
	}
	if err := n.publisher.PublishStatusChanged(ctx, events); err != nil {
		n.logger.WarnContext(ctx, "publish order status",
			slog.Int64("order_id", o.ID),
			slog.Int("events", len(events)),
			slog.Any("error", err))
	}
}
