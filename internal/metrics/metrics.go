// Package metrics exposes per-drive operational counters and gauges over
// Prometheus, registered the way the teacher stack registers its own
// collectors: construct once at startup, register with the default
// registry, then serve promhttp.Handler on an HTTP endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every metric the drive workers report into, labeled by
// axis name so a single process can serve all
// configured drives from one /metrics endpoint.
type Registry struct {
	RoundTrip *prometheus.HistogramVec
	Retries   *prometheus.CounterVec
	Timeouts  *prometheus.CounterVec
	Warnings  *prometheus.GaugeVec
	MainState *prometheus.GaugeVec
}

// NewRegistry constructs and registers every metric against reg. Pass
// prometheus.NewRegistry() for an isolated registry (tests), or
// prometheus.DefaultRegisterer to expose on the process-wide /metrics
// endpoint.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		RoundTrip: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "manipulatorctl",
			Subsystem: "drive",
			Name:      "round_trip_seconds",
			Help:      "Request/response round-trip latency per drive.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"axis"}),
		Retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "manipulatorctl",
			Subsystem: "drive",
			Name:      "retries_total",
			Help:      "Requests retried after a timeout or length mismatch.",
		}, []string{"axis"}),
		Timeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "manipulatorctl",
			Subsystem: "drive",
			Name:      "timeouts_total",
			Help:      "Requests that exhausted their retry budget.",
		}, []string{"axis"}),
		Warnings: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "manipulatorctl",
			Subsystem: "drive",
			Name:      "warnings_active",
			Help:      "1 if the most recent warn_word reported an active warning, else 0.",
		}, []string{"axis"}),
		MainState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "manipulatorctl",
			Subsystem: "drive",
			Name:      "main_state",
			Help:      "Most recently observed main drive state code.",
		}, []string{"axis"}),
	}
}

// ObserveRoundTrip records one request's latency for axis.
func (r *Registry) ObserveRoundTrip(axis string, seconds float64) {
	r.RoundTrip.WithLabelValues(axis).Observe(seconds)
}

// IncRetries records one retried request for axis.
func (r *Registry) IncRetries(axis string) {
	r.Retries.WithLabelValues(axis).Inc()
}

// IncTimeouts records one exhausted-retry-budget request for axis.
func (r *Registry) IncTimeouts(axis string) {
	r.Timeouts.WithLabelValues(axis).Inc()
}

// SetWarning records whether axis's last warn_word carried an active
// warning.
func (r *Registry) SetWarning(axis string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	r.Warnings.WithLabelValues(axis).Set(v)
}

// SetMainState records axis's most recently observed main state code.
func (r *Registry) SetMainState(axis string, state uint8) {
	r.MainState.WithLabelValues(axis).Set(float64(state))
}

// Serve starts an HTTP server exposing /metrics on addr, blocking until
// the server stops or errors. Intended to run in its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
