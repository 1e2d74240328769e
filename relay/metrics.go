package relay

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "chatstream_relay"

// Stream outcome and upstream failure labels.
const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"

	upstreamUnreachable = "unreachable"
	upstreamRead        = "read"
	upstreamStatus      = "status"
)

// metrics holds the relay counters. Each Relay owns its registry so several
// relays can run in one process.
type metrics struct {
	registry *prometheus.Registry

	requests        prometheus.Counter
	streams         *prometheus.CounterVec
	streamsInFlight prometheus.Gauge
	streamBytes     prometheus.Counter
	upstreamErrors  *prometheus.CounterVec
	jobsDropped     prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Requests received by the relay.",
		}),
		streams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "streams_total",
			Help:      "Relayed streams by final state.",
		}, []string{"state"}),
		streamsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "streams_in_flight",
			Help:      "Streams currently being relayed.",
		}),
		streamBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stream_bytes_total",
			Help:      "Stream bytes forwarded to clients.",
		}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "upstream_errors_total",
			Help:      "Upstream failures by kind.",
		}, []string{"kind"}),
		jobsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_dropped_total",
			Help:      "Transcripts dropped because the persistence queue was full.",
		}),
	}

	m.registry.MustRegister(
		m.requests,
		m.streams,
		m.streamsInFlight,
		m.streamBytes,
		m.upstreamErrors,
		m.jobsDropped,
		prometheus.NewGoCollector(),
	)
	return m
}
