// Package metrics exposes Prometheus instrumentation for the server.
// Wiring a Metrics into the service layer is optional: metrics are not part
// of the wire protocol itself, so a server built
// without service.WithMetrics never touches Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric the server records.
type Metrics struct {
	ConnectionsAccepted prometheus.Counter
	FramesDecoded       prometheus.Counter
	FramesDropped       prometheus.Counter
	RequestsTotal       *prometheus.CounterVec
	ToolCallDuration    *prometheus.HistogramVec
	ActiveSubscriptions *prometheus.GaugeVec
	EventsEmitted       *prometheus.CounterVec
}

// New registers every metric against reg. Passing prometheus.NewRegistry()
// gives an isolated registry suitable for tests; passing
// prometheus.DefaultRegisterer wires into the process default.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		ConnectionsAccepted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "gabp",
			Name:      "connections_accepted_total",
			Help:      "Total TCP connections accepted by the server.",
		}),
		FramesDecoded: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "gabp",
			Name:      "frames_decoded_total",
			Help:      "Total well-formed frames decoded across all connections.",
		}),
		FramesDropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "gabp",
			Name:      "frames_dropped_total",
			Help:      "Total frames that failed to decode, closing their connection.",
		}),
		RequestsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "gabp",
			Name:      "requests_total",
			Help:      "Total requests processed, by method and result.",
		}, []string{"method", "result"}),
		ToolCallDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gabp",
			Name:      "tool_call_duration_seconds",
			Help:      "tools/call handler duration in seconds, by tool name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		ActiveSubscriptions: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gabp",
			Name:      "active_subscriptions",
			Help:      "Current subscriber count, by channel.",
		}, []string{"channel"}),
		EventsEmitted: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "gabp",
			Name:      "events_emitted_total",
			Help:      "Total events emitted, by channel.",
		}, []string{"channel"}),
	}
}
