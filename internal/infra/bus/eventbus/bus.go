// Package eventbus provides the in-process topic bus carrying telemetry
// snapshots, order intents and sweep-job notifications.
package eventbus

import (
	"context"

	"github.com/zsh04/ai-trader-sub000/internal/domain/schema"
)

// SubscriptionID identifies one active subscription.
type SubscriptionID string

// Bus fans events out to topic subscribers. Publishers are best-effort: a
// publish never blocks on a slow subscriber.
type Bus interface {
	Publish(ctx context.Context, evt schema.Event) error
	Subscribe(ctx context.Context, topic schema.Topic) (SubscriptionID, <-chan schema.Event, error)
	Unsubscribe(id SubscriptionID)
	Close()
}
