package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/odyssey-erp/pharmaflow/internal/inventory"
	"github.com/odyssey-erp/pharmaflow/internal/shared"
)

// InitSentry configures the global Sentry client. An empty dsn leaves the
// client in no-op mode.
func InitSentry(dsn, env, release string) error {
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      env,
		Release:          release,
		AttachStacktrace: true,
	}); err != nil {
		return fmt.Errorf("observability: sentry init: %w", err)
	}
	return nil
}

// FlushSentry waits for buffered events before shutdown.
func FlushSentry(timeout time.Duration) {
	sentry.Flush(timeout)
}

// SentryAlerter reports ledger invariant violations to Sentry.
type SentryAlerter struct {
	hub *sentry.Hub
}

var _ inventory.Alerter = (*SentryAlerter)(nil)

// NewSentryAlerter uses hub, or the current hub when nil.
func NewSentryAlerter(hub *sentry.Hub) *SentryAlerter {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentryAlerter{hub: hub}
}

// InvariantViolated captures err with the ledger operation and product.
func (a *SentryAlerter) InvariantViolated(ctx context.Context, op inventory.MovementType, err *shared.InvariantError) {
	if a == nil || err == nil {
		return
	}
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = a.hub.Clone()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelFatal)
		scope.SetTag("ledger.op", string(op))
		scope.SetTag("actor", shared.ActorFromContext(ctx))
		scope.SetContext("ledger", sentry.Context{
			"product_id": err.ProductID,
			"requested":  err.Requested,
			"reserved":   err.Reserved,
		})
		hub.CaptureException(err)
	})
}
