package observability

import (
	"context"
	"sync"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/pharmaflow/internal/inventory"
	"github.com/odyssey-erp/pharmaflow/internal/shared"
)

func TestSentryAlerterCapturesInvariant(t *testing.T) {
	var (
		mu     sync.Mutex
		events []*sentry.Event
	)
	client, err := sentry.NewClient(sentry.ClientOptions{
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, event)
			return nil
		},
	})
	require.NoError(t, err)
	hub := sentry.NewHub(client, sentry.NewScope())

	alerter := NewSentryAlerter(hub)
	ctx := shared.ContextWithActor(context.Background(), "wh-1")
	alerter.InvariantViolated(ctx, inventory.MovementCommit, &shared.InvariantError{
		Cause:     shared.ErrInvalidCommit,
		ProductID: 42,
		Requested: 5,
		Reserved:  2,
	})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	require.Equal(t, sentry.LevelFatal, events[0].Level)
	require.Equal(t, "COMMIT", events[0].Tags["ledger.op"])
	require.Equal(t, "wh-1", events[0].Tags["actor"])
	require.Equal(t, int64(42), events[0].Contexts["ledger"]["product_id"])
}
