// Package metrics provides the Prometheus registry and exposition endpoint
// for the post fetcher. Collectors are defined in their own packages
// (client, scheduler) via promauto to keep packages independent.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry is the default Prometheus registry used by the fetcher.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler serving the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewMux returns a mux exposing /metrics and /health.
func NewMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", healthHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// Server exposes metrics while a run is in progress.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Listen binds addr and starts serving in the background.
func Listen(addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics on %s: %w", addr, err)
	}

	s := &Server{
		srv: &http.Server{
			Handler:           NewMux(),
			ReadHeaderTimeout: 5 * time.Second,
		},
		ln: ln,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", ln.Addr().String()).Msg("Metrics server failed")
		}
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops the server, waiting up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - postfetch_requests_total{status} (Counter): requests by HTTP status or "transport_error"
//   - postfetch_request_duration_seconds (Histogram): request duration, cooldown excluded
//   - postfetch_attempt_failures_total{reason} (Counter): failed attempts by reason
//
// Retry Metrics (pkg/client):
//   - postfetch_retries_total{reason} (Counter): retries by failure reason
//   - postfetch_retry_exhausted_total{reason} (Counter): posts that exhausted their attempts
//   - postfetch_cooldown_seconds_total (Counter): time spent cooling down
//
// Scheduler Metrics (pkg/scheduler):
//   - postfetch_batches_total{state} (Counter): batches by final state
//   - postfetch_batch_duration_seconds (Histogram): wall-clock time per batch
//   - postfetch_inflight_fetches (Gauge): fetches currently holding a slot
//   - postfetch_outcomes_total{kind} (Counter): resolved posts by outcome kind
//
// Example Prometheus Queries:
//
//   # Failed attempt rate by reason
//   sum by (reason) (rate(postfetch_attempt_failures_total[5m]))
//
//   # Records per second
//   rate(postfetch_outcomes_total{kind="success"}[1m])
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(postfetch_request_duration_seconds_bucket[5m]))
