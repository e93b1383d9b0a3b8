// Package metrics holds the Prometheus collectors for backend calls and the
// local cache. All collectors live in a private registry exposed by the
// companion API on /metrics.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

type Metrics struct {
	reg *prometheus.Registry

	remoteRequests *prometheus.CounterVec // tilsyn_remote_requests_total
	remoteDuration *prometheus.SummaryVec // tilsyn_remote_request_duration_seconds
	cachedRows     *prometheus.GaugeVec   // tilsyn_cached_rows
}

func New() (*Metrics, error) {
	reg := prometheus.NewRegistry()

	remoteRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tilsyn_remote_requests_total",
			Help: "Backend API calls, partitioned by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)
	remoteDuration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "tilsyn_remote_request_duration_seconds",
			Help:       "Duration of backend API calls in seconds.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"endpoint"},
	)
	cachedRows := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tilsyn_cached_rows",
			Help: "Rows held in the local cache per billing status.",
		},
		[]string{"status"},
	)

	for _, c := range []prometheus.Collector{remoteRequests, remoteDuration, cachedRows} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register: %w", err)
		}
	}

	return &Metrics{
		reg:            reg,
		remoteRequests: remoteRequests,
		remoteDuration: remoteDuration,
		cachedRows:     cachedRows,
	}, nil
}

// ObserveRemote records one backend call. Safe on a nil receiver.
func (m *Metrics) ObserveRemote(endpoint string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.remoteRequests.WithLabelValues(endpoint, outcome).Inc()
	m.remoteDuration.WithLabelValues(endpoint).Observe(time.Since(started).Seconds())
}

// SetCachedRows publishes the group sizes after a refresh or update.
// Statuses missing from counts are dropped from the gauge.
func (m *Metrics) SetCachedRows(counts map[string]int) {
	if m == nil {
		return
	}
	m.cachedRows.Reset()
	for status, n := range counts {
		m.cachedRows.WithLabelValues(status).Set(float64(n))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
