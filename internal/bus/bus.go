// Package bus defines the Bus Adapter contract (spec.md §6) and ships
// two implementations: a Kafka-backed adapter for production
// (grounded on the teacher's shared/pkg/kafka Producer/Consumer pair)
// and an in-memory adapter for local runs and tests.
package bus

import "context"

// Message is an inbound message from the bus, consumed only by the
// Delivery Engine (spec.md §3 BusMessage).
type Message struct {
	Topic   string
	Content string
	ISOTime string
}

// Handler processes one inbound Message for a subscribed topic.
type Handler func(Message)

// Adapter is the bus client contract spec.md §6 treats as an external
// collaborator: publish is fire-and-forget, subscribe/unsubscribe are
// idempotent per topic.
type Adapter interface {
	// Publish fans content out on topic. Errors are logged by the
	// caller, never surfaced to the HTTP client (spec.md §6).
	Publish(ctx context.Context, topic, content string) error

	// Subscribe registers handler for topic. Calling Subscribe again
	// for a topic that is already subscribed never creates a second
	// subscription: KafkaAdapter keeps the first handler, MemoryAdapter
	// replaces it with the new one.
	Subscribe(topic string, handler Handler) error

	// Unsubscribe releases the subscription for topic, if any.
	Unsubscribe(topic string) error

	// Close releases all adapter resources (writers, readers,
	// background goroutines).
	Close() error
}
