package notify

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/parkerlabs/sitescribe/internal/pipeline"
)

// PubSubNotifier publishes notifications to a Google Cloud Pub/Sub topic so
// downstream consumers (dashboards, ticketing) can react to site changes.
type PubSubNotifier struct {
	publisher *pubsub.Publisher
}

// NewPubSub wraps a topic publisher.
func NewPubSub(publisher *pubsub.Publisher) *PubSubNotifier {
	return &PubSubNotifier{publisher: publisher}
}

// Notify marshals the notification to JSON and publishes it.
func (p *PubSubNotifier) Notify(ctx context.Context, n pipeline.Notification) error {
	if p.publisher == nil {
		return fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"project_id": n.ProjectID,
		},
	}
	result := p.publisher.Publish(ctx, msg)
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
