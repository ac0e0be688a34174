package bus

import (
	"context"
	"sync"
	"time"
)

// MemoryAdapter is an in-process Adapter for local runs and tests,
// modeled on the retrieval pack's in-memory pub/sub implementations
// (e.g. the pack's InMemoryPubSub): a map from topic to the handlers
// currently subscribed, guarded by one mutex, delivering synchronously
// on Publish.
type MemoryAdapter struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewMemoryAdapter creates an empty in-memory bus.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{handlers: make(map[string]Handler)}
}

// Publish invokes the handler subscribed to topic, if any. Delivery is
// synchronous and best-effort, matching the fire-and-forget contract
// of spec.md §6.
func (a *MemoryAdapter) Publish(ctx context.Context, topic, content string) error {
	a.mu.RLock()
	handler, ok := a.handlers[topic]
	a.mu.RUnlock()

	if !ok {
		return nil
	}

	handler(Message{
		Topic:   topic,
		Content: content,
		ISOTime: time.Now().UTC().Format(time.RFC3339),
	})
	return nil
}

// Subscribe registers handler for topic, replacing any previous
// handler (idempotent: re-subscribing just rebinds the callback).
func (a *MemoryAdapter) Subscribe(topic string, handler Handler) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[topic] = handler
	return nil
}

// Unsubscribe removes the handler for topic, if any.
func (a *MemoryAdapter) Unsubscribe(topic string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.handlers, topic)
	return nil
}

// Close is a no-op: the in-memory adapter owns no external resources.
func (a *MemoryAdapter) Close() error {
	return nil
}

// PublishRaw delivers msg directly to topic's handler, bypassing
// JSON/Kafka entirely. Exported for tests that need to inject a
// BusMessage with a specific ISOTime (e.g. spec.md §8 scenario 5).
func (a *MemoryAdapter) PublishRaw(msg Message) {
	a.mu.RLock()
	handler, ok := a.handlers[msg.Topic]
	a.mu.RUnlock()

	if ok {
		handler(msg)
	}
}

// IsSubscribed reports whether topic currently has a handler
// registered. Exported for tests asserting that a subscription was
// released.
func (a *MemoryAdapter) IsSubscribed(topic string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.handlers[topic]
	return ok
}
