package pubsub

import (
	"context"
	"encoding/json"

	"github.com/ritzau/graph-layout/pkg/layout"
	"github.com/ritzau/graph-layout/pkg/logging"
)

// Topics
const (
	// TopicLayoutChanges carries every committed layout.Change; event type is the change type
	TopicLayoutChanges = "layout_changes"

	// TopicIndexMetrics carries spatial index metrics snapshots
	TopicIndexMetrics = "index_metrics"
)

// Event represents a pub/sub event
type Event struct {
	Topic   string          `json:"topic"`   // Subscription topic (e.g., "layout_changes")
	Type    string          `json:"type"`    // Event type (e.g., "set", "delete", "clear")
	Data    json.RawMessage `json:"data"`    // Event payload
	Version int             `json:"version"` // Version number for ordering
}

// Subscription represents a client subscription to a topic
type Subscription interface {
	// Topic returns the subscription topic
	Topic() string

	// Events returns a channel for receiving events
	Events() <-chan Event

	// Close closes the subscription
	Close() error
}

// Publisher manages pub/sub subscriptions and event publishing
type Publisher interface {
	// Subscribe creates a new subscription to a topic
	// Context cancellation will close the subscription
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	// Publish sends an event to all subscribers of a topic
	Publish(topic string, eventType string, data interface{}) error

	// Close shuts down the publisher and all subscriptions
	Close() error
}

// ChangeSource is anything layout changes can be observed on
type ChangeSource interface {
	Subscribe(fn func(layout.Change)) func()
}

// ForwardChanges publishes every change from src on TopicLayoutChanges.
// The returned func stops forwarding.
func ForwardChanges(src ChangeSource, pub Publisher) func() {
	return src.Subscribe(func(c layout.Change) {
		if err := pub.Publish(TopicLayoutChanges, string(c.Type), c); err != nil {
			logging.Debug("layout change not forwarded", "change", string(c.Type), "error", err)
		}
	})
}
