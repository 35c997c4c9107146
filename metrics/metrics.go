// Package metrics exposes Prometheus metrics for the key provider on a
// dedicated listener, separate from the API so scrapes never traverse the
// TLS-terminating proxy.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Core counters and gauges. Registered on the default registry at package
// init; incremented directly by the owning components.
var (
	KeysGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skip_keys_generated_total",
		Help: "Keys generated locally via the key endpoint.",
	})

	KeysRetrieved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skip_keys_retrieved_total",
		Help: "Keys successfully retrieved (and thereby consumed).",
	})

	KeysReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skip_keys_received_total",
		Help: "Keys inserted from inbound key_sync messages.",
	})

	KeysSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skip_keys_swept_total",
		Help: "Keys removed by the expiry sweep.",
	})

	SyncMessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skip_sync_messages_sent_total",
		Help: "Sync messages successfully delivered, by type.",
	}, []string{"type"})

	SyncSendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skip_sync_send_failures_total",
		Help: "Sync sends that exhausted all retries, by type.",
	}, []string{"type"})

	SyncMessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skip_sync_messages_received_total",
		Help: "Valid inbound sync messages, by type.",
	}, []string{"type"})

	SyncMessagesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skip_sync_messages_rejected_total",
		Help: "Inbound sync messages rejected, by reason.",
	}, []string{"reason"})

	PeerOnline = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "skip_peer_online",
		Help: "1 when the peer is online, 0 otherwise.",
	}, []string{"peer"})

	serviceInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "skip_service_info",
		Help: "Constant 1, labeled with the serving component's name.",
	}, []string{"service"})
)

// MetricsServer serves the Prometheus scrape endpoint.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for the given service name and listen
// address. The name is exported through the skip_service_info gauge so
// scrapes from different providers stay distinguishable.
func New(name, listenAddr string) (*MetricsServer, error) {
	serviceInfo.WithLabelValues(name).Set(1)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:         listenAddr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}, nil
}

// ListenAndServe blocks serving scrapes until Shutdown.
func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
