// Package delivery implements the Delivery Engine (spec.md §4.4): the
// bus-to-HTTPS fan-out that forwards bus messages to every delivery
// URL registered for their topic, isolating slow or failing
// subscribers from each other and from the bus-reader goroutine.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/paepcke/lti-connectors/internal/audit"
	"github.com/paepcke/lti-connectors/internal/bus"
	"github.com/paepcke/lti-connectors/internal/credentials"
	"github.com/paepcke/lti-connectors/internal/logger"
	"github.com/paepcke/lti-connectors/internal/subscriptions"
)

// outgoingDelivery is the body POSTed to each registered delivery URL
// (spec.md §3 OutgoingDelivery).
type outgoingDelivery struct {
	Time      string `json:"time"`
	LTIKey    string `json:"ltiKey"`
	LTISecret string `json:"ltiSecret"`
	BusTopic  string `json:"bus_topic"`
	Payload   string `json:"payload"`
}

const (
	defaultWorkers    = 8
	defaultQueueBound = 1024
)

// Engine fans bus messages for subscribed topics out to every
// registered delivery URL over HTTPS.
type Engine struct {
	registry    *subscriptions.Registry
	credentials *credentials.Table
	busAdapter  bus.Adapter
	httpClient  *http.Client
	log         *logger.Logger

	auditStore     audit.Store
	failureCounter FailureCounter

	queue   chan bus.Message
	workers int

	wg       sync.WaitGroup // worker goroutines
	inflight sync.WaitGroup // in-flight delivery POSTs

	mu      sync.Mutex
	closeCh chan struct{}
}

// Option customizes an Engine at construction.
type Option func(*Engine)

// WithWorkers overrides the worker pool size.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithQueueBound overrides the bounded queue size (spec.md §5 Backpressure).
func WithQueueBound(n int) Option {
	return func(e *Engine) { e.queue = make(chan bus.Message, n) }
}

// WithHTTPTimeout sets the timeout for outbound delivery POSTs.
func WithHTTPTimeout(d time.Duration) Option {
	return func(e *Engine) { e.httpClient.Timeout = d }
}

// NewEngine builds a Delivery Engine. Callers must call Start before
// any bus message reaches HandleBusMessage, and Stop on shutdown.
func NewEngine(registry *subscriptions.Registry, creds *credentials.Table, busAdapter bus.Adapter, log *logger.Logger, auditStore audit.Store, failureCounter FailureCounter, opts ...Option) *Engine {
	e := &Engine{
		registry:       registry,
		credentials:    creds,
		busAdapter:     busAdapter,
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		log:            log,
		auditStore:     auditStore,
		failureCounter: failureCounter,
		workers:        defaultWorkers,
		queue:          make(chan bus.Message, defaultQueueBound),
		closeCh:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Start launches the worker pool that drains the message queue.
func (e *Engine) Start() {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
}

// Stop signals the worker pool to drain whatever is already queued and
// then exit, bounded by ctx; it never closes the queue channel, since
// HandleBusMessage may still be called concurrently by the bus adapter
// until the bus subscriptions themselves are released.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	select {
	case <-e.closeCh:
		// already stopped
		e.mu.Unlock()
		return
	default:
		close(e.closeCh)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		e.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		e.log.Warnw("delivery engine: shutdown deadline exceeded, dropping in-flight deliveries")
	}
}

// HandleBusMessage is registered as the bus-subscription callback for
// every subscribed topic (spec.md §4.4). It must return quickly, so it
// only enqueues; the worker pool does the actual delivery work.
func (e *Engine) HandleBusMessage(msg bus.Message) {
	select {
	case <-e.closeCh:
		e.log.Warnw("delivery engine: dropping message, shutting down", "topic", msg.Topic)
		return
	default:
	}

	select {
	case e.queue <- msg:
		return
	default:
	}

	// Queue is full: drop the oldest queued message to make room,
	// per spec.md §5's Backpressure clause, and log the drop.
	select {
	case dropped := <-e.queue:
		e.log.Errorw("delivery engine: queue saturated, dropping oldest message", "topic", dropped.Topic)
	default:
	}

	select {
	case e.queue <- msg:
	default:
		e.log.Errorw("delivery engine: queue saturated, dropping incoming message", "topic", msg.Topic)
	}
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case msg := <-e.queue:
			e.process(msg)
		case <-e.closeCh:
			for {
				select {
				case msg := <-e.queue:
					e.process(msg)
				default:
					return
				}
			}
		}
	}
}

// process implements spec.md §4.4 steps 1-4 for one bus message.
func (e *Engine) process(msg bus.Message) {
	urls := e.registry.URLsFor(msg.Topic)
	if len(urls) == 0 {
		e.log.Errorw("delivery engine: no subscribers for topic, releasing bus subscription", "topic", msg.Topic)
		if err := e.busAdapter.Unsubscribe(msg.Topic); err != nil {
			e.log.Errorw("delivery engine: failed to release bus subscription", "topic", msg.Topic, "error", err)
		}
		return
	}

	cred, ok := e.credentials.Lookup(msg.Topic)
	if !ok {
		e.log.Errorw("delivery engine: no credentials for topic, releasing bus subscription", "topic", msg.Topic)
		if err := e.busAdapter.Unsubscribe(msg.Topic); err != nil {
			e.log.Errorw("delivery engine: failed to release bus subscription", "topic", msg.Topic, "error", err)
		}
		return
	}

	body, err := json.Marshal(outgoingDelivery{
		Time:      msg.ISOTime,
		LTIKey:    cred.LTIKey,
		LTISecret: cred.LTISecret,
		BusTopic:  msg.Topic,
		Payload:   msg.Content,
	})
	if err != nil {
		e.log.Errorw("delivery engine: failed to marshal outgoing delivery", "topic", msg.Topic, "error", err)
		return
	}

	for _, url := range urls {
		e.inflight.Add(1)
		go func(url string) {
			defer e.inflight.Done()
			e.deliverOne(msg.Topic, url, body)
		}(url)
	}
}

// deliverOne issues one independent HTTPS POST; a slow or failing
// subscriber here never delays any other subscriber or the bus thread
// (spec.md §4.4 step 4).
func (e *Engine) deliverOne(topic, url string, body []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), e.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		e.recordFailure(topic, url, 0, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.log.Errorw("delivery failed: transport error", "url", url, "topic", topic, "error", err)
		e.recordFailure(topic, url, 0, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		e.log.Errorw("delivery failed: non-200 response", "url", url, "topic", topic, "status", resp.StatusCode)
		e.recordFailure(topic, url, resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode))
		return
	}

	e.recordAttempt(topic, url, resp.StatusCode, "")
}

func (e *Engine) recordFailure(topic, url string, statusCode int, cause error) {
	e.recordAttempt(topic, url, statusCode, cause.Error())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.failureCounter.Incr(ctx, url); err != nil {
		e.log.Warnw("delivery engine: failed to increment failure counter", "url", url, "error", err)
	}
}

func (e *Engine) recordAttempt(topic, url string, statusCode int, errMessage string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := e.auditStore.Record(ctx, audit.Attempt{
		Topic:       topic,
		URL:         url,
		StatusCode:  statusCode,
		ErrMessage:  errMessage,
		AttemptedAt: time.Now().UTC(),
	})
	if err != nil {
		e.log.Warnw("delivery engine: failed to record audit attempt", "topic", topic, "url", url, "error", err)
	}
}
