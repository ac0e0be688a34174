package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/paepcke/lti-connectors/internal/logger"
)

// wireMessage is the JSON envelope written to and read from Kafka.
// Keeping it separate from Message lets the wire format evolve
// without touching the Delivery Engine's view of a bus message.
type wireMessage struct {
	Topic   string `json:"topic"`
	Content string `json:"content"`
	ISOTime string `json:"isoTime"`
}

// KafkaAdapter implements Adapter over github.com/segmentio/kafka-go,
// modeled on the teacher's shared/pkg/kafka Producer/Consumer pair:
// one shared Writer for every publish, one Reader (and its own
// consumer goroutine) per subscribed topic.
type KafkaAdapter struct {
	brokers []string
	log     *logger.Logger

	writer *kafka.Writer

	mu          sync.Mutex
	subscribers map[string]context.CancelFunc
}

// NewKafkaAdapter creates an adapter writing to and reading from brokers.
func NewKafkaAdapter(brokers []string, log *logger.Logger) *KafkaAdapter {
	return &KafkaAdapter{
		brokers: brokers,
		log:     log,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
		subscribers: make(map[string]context.CancelFunc),
	}
}

// Publish writes content onto topic. Fire-and-forget: per spec.md §6
// the caller logs errors but never surfaces them to the LTI consumer.
func (a *KafkaAdapter) Publish(ctx context.Context, topic, content string) error {
	data, err := json.Marshal(wireMessage{
		Topic:   topic,
		Content: content,
		ISOTime: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal bus message: %w", err)
	}

	msg := kafka.Message{Topic: topic, Value: data}
	if err := a.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish to topic %s: %w", topic, err)
	}
	return nil
}

// Subscribe starts a consumer goroutine for topic if one isn't
// already running (idempotent per spec.md §6).
func (a *KafkaAdapter) Subscribe(topic string, handler Handler) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, already := a.subscribers[topic]; already {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.subscribers[topic] = cancel

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        a.brokers,
		GroupID:        "lti-schoolbus-bridge",
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		CommitInterval: time.Second,
	})

	go a.consumeLoop(ctx, reader, topic, handler)
	return nil
}

func (a *KafkaAdapter) consumeLoop(ctx context.Context, reader *kafka.Reader, topic string, handler Handler) {
	defer reader.Close()

	for {
		kmsg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.log.Errorw("bus: failed to fetch message", "topic", topic, "error", err)
			continue
		}

		var wire wireMessage
		if err := json.Unmarshal(kmsg.Value, &wire); err != nil {
			a.log.Errorw("bus: failed to unmarshal message", "topic", topic, "error", err)
			_ = reader.CommitMessages(ctx, kmsg)
			continue
		}

		handler(Message{Topic: wire.Topic, Content: wire.Content, ISOTime: wire.ISOTime})

		if err := reader.CommitMessages(ctx, kmsg); err != nil {
			a.log.Errorw("bus: failed to commit message", "topic", topic, "error", err)
		}
	}
}

// Unsubscribe stops the consumer goroutine for topic, if any
// (idempotent per spec.md §6).
func (a *KafkaAdapter) Unsubscribe(topic string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cancel, ok := a.subscribers[topic]
	if !ok {
		return nil
	}
	cancel()
	delete(a.subscribers, topic)
	return nil
}

// Close releases the writer and every active subscriber goroutine.
func (a *KafkaAdapter) Close() error {
	a.mu.Lock()
	for topic, cancel := range a.subscribers {
		cancel()
		delete(a.subscribers, topic)
	}
	a.mu.Unlock()

	return a.writer.Close()
}
