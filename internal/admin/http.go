// Package admin exposes read-only introspection over bridge state: a
// JSON HTTP mux mounted under /admin/ on the main HTTPS listener, and
// a standard gRPC health service on its own port, modeled on the
// teacher's health.NewServer()/grpc_health_v1 pattern used by every
// service in the fleet.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/paepcke/lti-connectors/internal/delivery"
	"github.com/paepcke/lti-connectors/internal/subscriptions"
)

type subscriptionsResponse struct {
	Topics []topicSubscriptions `json:"topics"`
}

type topicSubscriptions struct {
	Topic string   `json:"topic"`
	URLs  []string `json:"urls"`
}

type failureCountResponse struct {
	URL   string `json:"url"`
	Count int64  `json:"count"`
}

// Mux builds the /admin/* handler tree.
func Mux(registry *subscriptions.Registry, counter delivery.FailureCounter) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/admin/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		resp := subscriptionsResponse{}
		for _, topic := range registry.Topics() {
			resp.Topics = append(resp.Topics, topicSubscriptions{
				Topic: topic,
				URLs:  registry.URLsFor(topic),
			})
		}
		writeJSON(w, resp)
	})

	mux.HandleFunc("/admin/failures", func(w http.ResponseWriter, r *http.Request) {
		url := r.URL.Query().Get("url")
		if url == "" {
			http.Error(w, "missing url query parameter", http.StatusBadRequest)
			return
		}

		count, err := counter.Count(r.Context(), url)
		if err != nil {
			http.Error(w, "failed to read failure count", http.StatusInternalServerError)
			return
		}

		writeJSON(w, failureCountResponse{URL: url, Count: count})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
