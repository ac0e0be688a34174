package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paepcke/lti-connectors/internal/bus"
	"github.com/paepcke/lti-connectors/internal/credentials"
	"github.com/paepcke/lti-connectors/internal/logger"
	"github.com/paepcke/lti-connectors/internal/subscriptions"
)

// fakeBus is a hand-rolled bus.Adapter recording publishes and
// unsubscribes, in the
// teacher's mock-repository style rather than a mocking framework.
type fakeBus struct {
	published    []string
	unsubscribed []string
	publishErr   error
}

func (f *fakeBus) Publish(ctx context.Context, topic, content string) error {
	f.published = append(f.published, topic)
	return f.publishErr
}

func (f *fakeBus) Subscribe(topic string, handler bus.Handler) error { return nil }

func (f *fakeBus) Unsubscribe(topic string) error {
	f.unsubscribed = append(f.unsubscribed, topic)
	return nil
}

func (f *fakeBus) Close() error { return nil }

func newTestServer(t *testing.T) (*Server, *fakeBus) {
	t.Helper()

	dir := t.TempDir()
	credPath := filepath.Join(dir, "creds.cnf")
	err := os.WriteFile(credPath, []byte(`{"studentAction": {"ltiKey": "ltiKey", "ltiSecret": "ltiSecret"}}`), 0o600)
	if err != nil {
		t.Fatalf("write creds fixture: %v", err)
	}

	creds, err := credentials.Load(credPath)
	if err != nil {
		t.Fatalf("Load credentials: %v", err)
	}

	registry, err := subscriptions.Load(filepath.Join(dir, "subs.json"))
	if err != nil {
		t.Fatalf("Load registry: %v", err)
	}

	fb := &fakeBus{}

	srv := &Server{
		Credentials:   creds,
		Subscriptions: registry,
		Bus:           fb,
		Log:           logger.Default(),
	}
	return srv, fb
}

func post(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/schoolbus", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

const validPublishBody = `{
  "ltiKey": "ltiKey",
  "ltiSecret": "ltiSecret",
  "action": "publish",
  "bus_topic": "studentAction",
  "payload": {"event_type": "problem_check"}
}`

func TestValidPublishSucceeds(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := post(t, srv, validPublishBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200; body=%s", rec.Code, rec.Body.String())
	}
}

func TestMissingLTIKeyIsUnauthorized(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{"ltiSecret":"ltiSecret","action":"publish","bus_topic":"studentAction","payload":{}}`
	rec := post(t, srv, body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") != "key/secret" {
		t.Errorf("missing WWW-Authenticate header")
	}
}

func TestWrongLTIKeyIsUnauthorized(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{"ltiKey":"bluebeard","ltiSecret":"ltiSecret","action":"publish","bus_topic":"studentAction","payload":{}}`
	rec := post(t, srv, body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", rec.Code)
	}
}

func TestWrongLTISecretIsUnauthorized(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{"ltiKey":"ltiKey","ltiSecret":"graybeard","action":"publish","bus_topic":"studentAction","payload":{}}`
	rec := post(t, srv, body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", rec.Code)
	}
}

func TestMissingActionIsMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{"ltiKey":"ltiKey","ltiSecret":"ltiSecret","bus_topic":"studentAction","payload":{}}`
	rec := post(t, srv, body)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("got %d, want 405", rec.Code)
	}
}

func TestMissingBusTopicIsBadRequest(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{"ltiKey":"ltiKey","ltiSecret":"ltiSecret","action":"publish","payload":{}}`
	rec := post(t, srv, body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
}

func TestMissingPayloadIsBadRequest(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{"ltiKey":"ltiKey","ltiSecret":"ltiSecret","action":"publish","bus_topic":"studentAction"}`
	rec := post(t, srv, body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
}

func TestUnknownActionIsNotImplemented(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{"ltiKey":"ltiKey","ltiSecret":"ltiSecret","action":"jumpOffBridge","bus_topic":"studentAction","payload":{}}`
	rec := post(t, srv, body)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("got %d, want 501", rec.Code)
	}
}

func TestSubscribeMissingDeliveryURLIsBadRequest(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{"ltiKey":"ltiKey","ltiSecret":"ltiSecret","action":"subscribe","bus_topic":"studentAction","payload":{}}`
	rec := post(t, srv, body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rec.Code)
	}
}

func TestSubscribeNonHTTPSDeliveryURLIsForbidden(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{"ltiKey":"ltiKey","ltiSecret":"ltiSecret","action":"subscribe","bus_topic":"studentAction","payload":{"delivery_url":"http://example.com/delivery"}}`
	rec := post(t, srv, body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("got %d, want 403", rec.Code)
	}
}

func TestSubscribeDeliveryURLWithQueryIsConflict(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{"ltiKey":"ltiKey","ltiSecret":"ltiSecret","action":"subscribe","bus_topic":"studentAction","payload":{"delivery_url":"https://example.com/delivery?foo=10"}}`
	rec := post(t, srv, body)
	if rec.Code != http.StatusConflict {
		t.Fatalf("got %d, want 409", rec.Code)
	}
}

func TestSubscribeThenUnsubscribeReleasesBusSubscription(t *testing.T) {
	srv, fb := newTestServer(t)

	var subscribedTopics []string
	srv.OnNewSubscription = func(topic string) { subscribedTopics = append(subscribedTopics, topic) }

	subscribeBody := `{"ltiKey":"ltiKey","ltiSecret":"ltiSecret","action":"subscribe","bus_topic":"studentAction","payload":{"delivery_url":"https://example.com/delivery"}}`
	if rec := post(t, srv, subscribeBody); rec.Code != http.StatusOK {
		t.Fatalf("subscribe: got %d, want 200; body=%s", rec.Code, rec.Body.String())
	}
	if len(subscribedTopics) != 1 || subscribedTopics[0] != "studentAction" {
		t.Fatalf("expected OnNewSubscription to fire once for studentAction, got %v", subscribedTopics)
	}

	unsubscribeBody := `{"ltiKey":"ltiKey","ltiSecret":"ltiSecret","action":"unsubscribe","bus_topic":"studentAction","payload":{"delivery_url":"https://example.com/delivery"}}`
	if rec := post(t, srv, unsubscribeBody); rec.Code != http.StatusOK {
		t.Fatalf("unsubscribe: got %d, want 200; body=%s", rec.Code, rec.Body.String())
	}
	if len(fb.unsubscribed) != 1 || fb.unsubscribed[0] != "studentAction" {
		t.Fatalf("expected bus Unsubscribe to be called once for studentAction, got %v", fb.unsubscribed)
	}
}

func TestResponseBodyCarriesErrorPrefix(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{"ltiKey":"ltiKey","ltiSecret":"ltiSecret","action":"jumpOffBridge","bus_topic":"studentAction","payload":{}}`
	rec := post(t, srv, body)
	if !strings.HasPrefix(rec.Body.String(), "Error: ") {
		t.Errorf("got body %q, want it to start with 'Error: '", rec.Body.String())
	}
}
