package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	attempts  *prometheus.CounterVec
	results   *prometheus.CounterVec
	throttled prometheus.Counter
	duration  *prometheus.HistogramVec
	reachable *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "erpsync",
				Subsystem: "transport",
				Name:      "attempts_total",
				Help:      "Total number of requests sent to ERP endpoints.",
			},
			[]string{"endpoint", "outcome"},
		),
		results: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "erpsync",
				Subsystem: "sync",
				Name:      "results_total",
				Help:      "Total number of synchronization calls by submission kind and result.",
			},
			[]string{"kind", "status"},
		),
		throttled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "erpsync",
				Name:      "throttled_total",
				Help:      "Total number of calls suppressed by a too-many-requests cooldown.",
			},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "erpsync",
				Subsystem: "sync",
				Name:      "duration_seconds",
				Help:      "Duration of synchronization calls.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"kind"},
		),
		reachable: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "erpsync",
				Name:      "endpoint_reachable",
				Help:      "1 when the endpoint was reachable at its last check, 0 otherwise.",
			},
			[]string{"endpoint"},
		),
	}

	reg.MustRegister(m.attempts, m.results, m.throttled, m.duration, m.reachable)
	return m
}

// Handler returns an HTTP handler exposing the metrics gathered by reg
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAttempt(endpointID, outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(endpointID, outcome).Inc()
}

func (m *Metrics) ObserveResult(kind, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.results.WithLabelValues(kind, status).Inc()
	m.duration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveThrottled() {
	if m == nil {
		return
	}
	m.throttled.Inc()
}

func (m *Metrics) SetReachable(endpointKey string, reachable bool) {
	if m == nil {
		return
	}
	v := 0.0
	if reachable {
		v = 1
	}
	m.reachable.WithLabelValues(endpointKey).Set(v)
}
