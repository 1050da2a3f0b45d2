// Package notify carries storage-change events between engine instances.
//
// The original environment got this for free: the storage substrate fired a
// change notification in every OTHER execution context whenever one context
// wrote a key. That substrate does not exist here, so the engine publishes
// its own events after each write, tagged with the writer's origin ID, and
// the bus suppresses delivery back to the writer. Everything downstream
// (crosstab reconciliation, the throttle, the key dispatch) behaves exactly
// as it did against the native notifications.
package notify

import "context"

// Event mirrors the storage-change notification payload: which key changed,
// the serialized new value, and the serialized previous value ("" if none).
// Origin identifies the writing engine instance and never reaches consumers'
// handlers — it exists purely so a writer does not hear its own writes.
type Event struct {
	Key      string `json:"key"`
	NewValue string `json:"newValue"`
	OldValue string `json:"oldValue"`
	Origin   string `json:"origin"`
}

// Publisher is the write half of a bus. Components that persist engine keys
// publish an Event after every successful write.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Bus is a full notification channel between engine instances.
//
// Subscribe registers a consumer identified by origin; the returned channel
// receives every event whose Origin differs from the subscriber's. The
// returned func unsubscribes and closes the channel.
type Bus interface {
	Publisher
	Subscribe(ctx context.Context, origin string) (<-chan Event, func())
}
