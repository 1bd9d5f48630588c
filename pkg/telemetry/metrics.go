package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the worker's Prometheus collectors. One instance is
// shared by every component for the lifetime of the process.
type Metrics struct {
	PollTicks        prometheus.Counter
	PollErrors       prometheus.Counter
	RequestsInFlight prometheus.Gauge
	RequestsOutcome  *prometheus.CounterVec
	HostCalls        *prometheus.CounterVec
}

// NewMetrics registers and returns the worker's metrics collectors
// against the default Prometheus registry.
func NewMetrics() *Metrics {
	return &Metrics{
		PollTicks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "worldtree_poll_ticks_total",
			Help: "Number of poll-loop ticks executed.",
		}),
		PollErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "worldtree_poll_errors_total",
			Help: "Number of poll ticks that failed to fetch pending requests.",
		}),
		RequestsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "worldtree_requests_inflight",
			Help: "Number of analysis requests currently being processed.",
		}),
		RequestsOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "worldtree_requests_completed_total",
			Help: "Number of analysis requests that reached a terminal state, by outcome.",
		}, []string{"outcome"}),
		HostCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "worldtree_host_calls_total",
			Help: "Number of host-runtime calls, by method and outcome.",
		}, []string{"method", "outcome"}),
	}
}

// ServeMetrics starts an internal HTTP listener exposing /metrics. It
// blocks until ctx is cancelled or the listener fails. Callers should
// run it in its own goroutine; an empty addr means metrics are
// disabled, in which case ServeMetrics returns immediately.
func ServeMetrics(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
