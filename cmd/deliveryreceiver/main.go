// Command deliveryreceiver is the reference external collaborator from
// spec.md §6: a small HTTPS server (plain HTTP when --tls-cert or
// --tls-key is unset) that accepts the bridge's OutgoingDelivery POSTs
// on /delivery, records them in memory, and exposes them on /received
// for end-to-end test assertions. Modeled
// on the original Tornado-based test receiver, translated into the
// bridge's own HTTP/logging idiom rather than its Python shape.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/paepcke/lti-connectors/internal/logger"
)

// receivedDelivery mirrors the bridge's OutgoingDelivery body.
type receivedDelivery struct {
	Time      string `json:"time"`
	LTIKey    string `json:"ltiKey"`
	LTISecret string `json:"ltiSecret"`
	BusTopic  string `json:"bus_topic"`
	Payload   string `json:"payload"`
}

// store collects every delivery this process has received, for test
// assertions via GET /received.
type store struct {
	mu         sync.Mutex
	deliveries []receivedDelivery
}

func (s *store) add(d receivedDelivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, d)
}

func (s *store) snapshot() []receivedDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]receivedDelivery, len(s.deliveries))
	copy(out, s.deliveries)
	return out
}

func main() {
	var (
		port     int
		certFile string
		keyFile  string
	)

	cmd := &cobra.Command{
		Use:   "deliveryreceiver",
		Short: "Reference HTTPS receiver for bridge-delivered bus messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(port, certFile, keyFile)
		},
	}

	cmd.Flags().IntVar(&port, "port", 7076, "listen port for /delivery and /received")
	cmd.Flags().StringVar(&certFile, "tls-cert", "", "TLS certificate file")
	cmd.Flags().StringVar(&keyFile, "tls-key", "", "TLS private key file")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(port int, certFile, keyFile string) error {
	log := logger.Default()
	defer log.Sync()

	s := &store{}

	mux := http.NewServeMux()
	mux.HandleFunc("/delivery", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var d receivedDelivery
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			log.Warnw("delivery receiver: bad JSON body", "error", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		s.add(d)
		log.Infow("delivery receiver: received delivery", "topic", d.BusTopic, "time", d.Time)
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/received", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.snapshot())
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("This is a delivery test server for the LTI-Schoolbus bridge.\n"))
	})

	addr := fmt.Sprintf(":%d", port)
	log.Infow("starting delivery receiver", "addr", addr)

	if certFile == "" || keyFile == "" {
		return http.ListenAndServe(addr, mux)
	}
	return http.ListenAndServeTLS(addr, certFile, keyFile, mux)
}
