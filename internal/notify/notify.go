// Package notify publishes order change events to observers once a mutation
// has been committed. Delivery is best effort: a failed or dropped event never
// affects the mutation that produced it, and observers must tolerate missed
// or duplicated events.
package notify

import (
	"context"
	"encoding/json"
	"time"
)

// Event kinds.
const (
	KindOrderCreated       = "order-created"
	KindOrderUpdated       = "order-updated"
	KindOrderStatusUpdated = "order-status-updated"
	KindOrderDeleted       = "order-deleted"
	KindOrderCheckout      = "order-checkout"
	KindOrderCompleted     = "order-completed"
	KindOrderCancelled     = "order-cancelled"
	KindOrdersHandedOver   = "orders-handed-over"
)

// Event describes one committed change. Payload holds the full resulting
// order (or orders, for a handover batch); delete events carry only OrderID.
type Event struct {
	Kind       string          `json:"kind"`
	OrderID    string          `json:"order_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Publisher delivers events to observers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event Event) error

func (f PublisherFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(context.Context, Event) error { return nil })
