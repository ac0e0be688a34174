// Package bridge implements the Request Handler (spec.md §4.3): the
// single POST /schoolbus endpoint that authenticates an LTI consumer
// against the Credential Store and dispatches to publish, subscribe,
// or unsubscribe against the Subscription Registry and Bus Adapter.
//
// Per spec.md §9's "Global mutable state" design note, a single Server
// value owns every store and is passed explicitly to the handler —
// there are no package-level globals.
package bridge

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/paepcke/lti-connectors/internal/apperrors"
	"github.com/paepcke/lti-connectors/internal/bus"
	"github.com/paepcke/lti-connectors/internal/credentials"
	"github.com/paepcke/lti-connectors/internal/logger"
	"github.com/paepcke/lti-connectors/internal/subscriptions"
)

const (
	actionPublish     = "publish"
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
)

// incomingRequest is the parsed JSON body of a /schoolbus POST
// (spec.md §3 IncomingRequest).
type incomingRequest struct {
	LTIKey    string          `json:"ltiKey"`
	LTISecret string          `json:"ltiSecret"`
	Action    string          `json:"action"`
	BusTopic  string          `json:"bus_topic"`
	Payload   json.RawMessage `json:"payload"`
}

// subscriptionPayload is the shape required of `payload` for
// subscribe/unsubscribe requests.
type subscriptionPayload struct {
	DeliveryURL string `json:"delivery_url"`
}

// Server owns every store the bridge core needs and exposes the
// /schoolbus handler. It holds no other process-wide state.
type Server struct {
	Credentials  *credentials.Table
	Subscriptions *subscriptions.Registry
	Bus          bus.Adapter
	Log          *logger.Logger

	// OnNewSubscription is invoked with the topic name
	// whenever Add creates the first subscriber for a topic, so the
	// caller can register the bus subscription without this package
	// needing to know about the Delivery Engine's internals (spec.md
	// §9's "Cyclic references" note: the handler is not involved in
	// delivery itself, only in triggering subscribe/unsubscribe).
	OnNewSubscription func(topic string)
}

// ServeHTTP implements the /schoolbus endpoint.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apperrors.NotImplemented("only POST is supported on /schoolbus"))
		return
	}

	req, appErr := s.parseRequest(r)
	if appErr != nil {
		writeError(w, appErr)
		return
	}

	if appErr := s.authenticate(req); appErr != nil {
		writeError(w, appErr)
		return
	}

	if len(req.Payload) == 0 {
		writeError(w, apperrors.BadRequest("request is missing the payload field"))
		return
	}

	switch strings.ToLower(req.Action) {
	case actionPublish:
		s.handlePublish(w, r, req)
	case actionSubscribe:
		s.handleSubscribe(w, r, req)
	case actionUnsubscribe:
		s.handleUnsubscribe(w, r, req)
	default:
		writeError(w, apperrors.NotImplemented(fmt.Sprintf("unsupported action %q", req.Action)))
	}
}

// parseRequest covers the first three rows of spec.md §4.3's table:
// body-is-JSON-object, action-present, bus_topic-present-and-non-empty.
func (s *Server) parseRequest(r *http.Request) (*incomingRequest, *apperrors.AppError) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, apperrors.BadRequest("failed to read request body")
	}

	var req incomingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, apperrors.BadRequest("request body is not a valid JSON object")
	}

	if req.Action == "" {
		return nil, apperrors.New(apperrors.CodeActionRequired, "request is missing the action field")
	}

	if strings.TrimSpace(req.BusTopic) == "" {
		return nil, apperrors.BadRequest("request is missing a non-empty bus_topic field")
	}

	return &req, nil
}

// authenticate covers the credential rows of spec.md §4.3: presence of
// ltiKey/ltiSecret, topic known to the Credential Store, and exact
// match of both fields. Per spec.md §9's Open Questions, missing
// ltiKey/ltiSecret is treated as 401 (the test-suite contract), not
// the 400 the original bridge code used.
func (s *Server) authenticate(req *incomingRequest) *apperrors.AppError {
	if req.LTIKey == "" || req.LTISecret == "" {
		return apperrors.Unauthorized("ltiKey and ltiSecret are required")
	}

	cred, ok := s.Credentials.Lookup(req.BusTopic)
	if !ok {
		return authFailure("unknown bus_topic")
	}

	if !constantTimeEqual(req.LTIKey, cred.LTIKey) {
		return authFailure("ltiKey does not match")
	}
	if !constantTimeEqual(req.LTISecret, cred.LTISecret) {
		return authFailure("ltiSecret does not match")
	}

	return nil
}

// authFailure is the 401 the handler writes for every credential
// mismatch, always with the WWW-Authenticate header spec.md §4.3
// requires.
func authFailure(message string) *apperrors.AppError {
	return apperrors.Unauthorized(message)
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request, req *incomingRequest) {
	if err := s.Bus.Publish(r.Context(), req.BusTopic, string(req.Payload)); err != nil {
		s.Log.Errorw("bridge: publish failed", "topic", req.BusTopic, "error", err)
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request, req *incomingRequest) {
	deliveryURL, appErr := s.validateSubscriptionPayload(req)
	if appErr != nil {
		writeError(w, appErr)
		return
	}

	_, subscriptionCreated, err := s.Subscriptions.Add(req.BusTopic, deliveryURL)
	if err != nil {
		s.Log.Errorw("bridge: failed to persist subscription", "topic", req.BusTopic, "url", deliveryURL, "error", err)
		writeError(w, apperrors.Wrap(err, apperrors.CodeBadRequest, "failed to persist subscription"))
		return
	}

	if subscriptionCreated && s.OnNewSubscription != nil {
		s.OnNewSubscription(req.BusTopic)
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request, req *incomingRequest) {
	deliveryURL, appErr := s.validateSubscriptionPayload(req)
	if appErr != nil {
		writeError(w, appErr)
		return
	}

	_, subscriptionReleased, err := s.Subscriptions.Remove(req.BusTopic, deliveryURL)
	if err != nil {
		s.Log.Errorw("bridge: failed to persist unsubscription", "topic", req.BusTopic, "url", deliveryURL, "error", err)
		writeError(w, apperrors.Wrap(err, apperrors.CodeBadRequest, "failed to persist unsubscription"))
		return
	}

	if subscriptionReleased {
		if err := s.Bus.Unsubscribe(req.BusTopic); err != nil {
			s.Log.Errorw("bridge: failed to release bus subscription", "topic", req.BusTopic, "error", err)
		}
	}

	w.WriteHeader(http.StatusOK)
}

// validateSubscriptionPayload covers the delivery_url checks of
// spec.md §4.3: present, https scheme, no query string or fragment.
func (s *Server) validateSubscriptionPayload(req *incomingRequest) (string, *apperrors.AppError) {
	var payload subscriptionPayload
	if err := json.Unmarshal(req.Payload, &payload); err != nil {
		return "", apperrors.BadRequest("payload must be a JSON object")
	}

	if strings.TrimSpace(payload.DeliveryURL) == "" {
		return "", apperrors.BadRequest("payload is missing delivery_url")
	}

	parsed, err := url.Parse(payload.DeliveryURL)
	if err != nil {
		return "", apperrors.BadRequest("delivery_url is not a valid URL")
	}

	if !strings.EqualFold(parsed.Scheme, "https") {
		return "", apperrors.Forbidden("delivery_url must use https")
	}

	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return "", apperrors.Conflict("delivery_url must not include a query string or fragment")
	}

	return payload.DeliveryURL, nil
}

// writeError renders an AppError as spec.md §6 requires: text/plain
// body "Error: <message>" and the error's mapped status code. Every
// UNAUTHORIZED error additionally gets the WWW-Authenticate: key/secret
// header.
func writeError(w http.ResponseWriter, err *apperrors.AppError) {
	if err.Code == apperrors.CodeUnauthorized {
		w.Header().Set("WWW-Authenticate", "key/secret")
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(err.HTTPStatus())
	fmt.Fprintf(w, "Error: %s", err.Message)
}
