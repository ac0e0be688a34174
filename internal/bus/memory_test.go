package bus

import (
	"context"
	"testing"
	"time"
)

func TestMemoryAdapterPublishDeliversToSubscriber(t *testing.T) {
	a := NewMemoryAdapter()

	received := make(chan Message, 1)
	if err := a.Subscribe("roster", func(m Message) { received <- m }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := a.Publish(context.Background(), "roster", `{"x":1}`); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case m := <-received:
		if m.Topic != "roster" || m.Content != `{"x":1}` {
			t.Errorf("got %+v", m)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestMemoryAdapterPublishToUnsubscribedTopicIsNoop(t *testing.T) {
	a := NewMemoryAdapter()
	if err := a.Publish(context.Background(), "nobody-subscribed", "x"); err != nil {
		t.Errorf("Publish to unsubscribed topic should not error, got %v", err)
	}
}

func TestMemoryAdapterUnsubscribeStopsDelivery(t *testing.T) {
	a := NewMemoryAdapter()

	var delivered bool
	if err := a.Subscribe("roster", func(m Message) { delivered = true }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := a.Unsubscribe("roster"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if err := a.Publish(context.Background(), "roster", "x"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if delivered {
		t.Errorf("message delivered after unsubscribe")
	}
}

func TestMemoryAdapterPublishRawPreservesISOTime(t *testing.T) {
	a := NewMemoryAdapter()

	received := make(chan Message, 1)
	if err := a.Subscribe("deliveryTest", func(m Message) { received <- m }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	a.PublishRaw(Message{Topic: "deliveryTest", Content: "hi", ISOTime: "2020-01-01T00:00:00Z"})

	select {
	case m := <-received:
		if m.ISOTime != "2020-01-01T00:00:00Z" {
			t.Errorf("got ISOTime %q, want fixed value", m.ISOTime)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}
