// Package server implements the HTTPS Server shell (spec.md §4.5):
// the TLS listener, routing, and graceful shutdown around the bridge
// Request Handler. Modeled on the teacher's cmd/main.go shutdown
// sequence (signal.Notify + context.WithTimeout + Server.Shutdown),
// adapted from driver-service's HTTP health server to a TLS listener
// serving the bridge's own handler instead of health/ready/metrics.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/paepcke/lti-connectors/internal/bridge"
	"github.com/paepcke/lti-connectors/internal/logger"
)

const helpText = `This is the LTI-Schoolbus bridge.
POST JSON to /schoolbus to publish, subscribe, or unsubscribe.
`

// Server wraps an *http.Server bound to the bridge's Request Handler.
type Server struct {
	httpServer *http.Server
	certFile   string
	keyFile    string
	log        *logger.Logger
}

// New builds the HTTPS server shell. addr is the listen address
// (":7075" style); certFile/keyFile are the TLS material spec.md §6
// requires (TLS termination itself is an external collaborator —
// certificate provisioning is out of scope per spec.md §1 — but the
// bridge still has to load and serve it). adminHandler, if non-nil, is
// mounted under /admin/ on the same listener.
func New(addr, certFile, keyFile string, bridgeServer *bridge.Server, adminHandler http.Handler, log *logger.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/schoolbus", bridgeServer)
	if adminHandler != nil {
		mux.Handle("/admin/", adminHandler)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(helpText))
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		certFile: certFile,
		keyFile:  keyFile,
		log:      log,
	}
}

// ListenAndServeTLS blocks serving HTTPS until Shutdown is called.
func (s *Server) ListenAndServeTLS() error {
	return s.httpServer.ListenAndServeTLS(s.certFile, s.keyFile)
}

// Shutdown stops accepting new connections and drains in-flight
// requests, bounded by ctx (spec.md §4.5 graceful shutdown).
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
