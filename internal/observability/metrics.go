package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cory-johannsen/gamestation/internal/station"
)

// Metrics exports engine and gateway measurements to prometheus. It
// implements station.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	routed     *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	sessions   *prometheus.GaugeVec
	conns      prometheus.Gauge
	dropped    prometheus.Counter
	unroutable prometheus.Counter
}

var _ station.Recorder = (*Metrics)(nil)

// NewMetrics registers the station collectors on a fresh registry.
//
// Postcondition: Handler serves every collector registered here plus the Go
// runtime and process collectors.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_routed_total",
			Help:      "Inbound messages routed to a game station.",
		}, []string{"game", "topic"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_rejected_total",
			Help:      "Inbound messages dropped by a guard.",
		}, []string{"game", "reason"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_latency_seconds",
			Help:      "Time spent handling one inbound message.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}, []string{"game"}),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions held in memory per game.",
		}, []string{"game"}),
		conns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateway_connections",
			Help:      "Open websocket connections.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_frames_dropped_total",
			Help:      "Outbound frames dropped because a send buffer was full.",
		}),
		unroutable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_frames_unroutable_total",
			Help:      "Inbound frames that could not be matched to a station.",
		}),
	}
	m.registry.MustRegister(
		m.routed, m.rejected, m.latency, m.sessions,
		m.conns, m.dropped, m.unroutable,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Routed implements station.Recorder.
func (m *Metrics) Routed(game station.GameType, topic string, elapsed time.Duration) {
	m.routed.WithLabelValues(string(game), topic).Inc()
	m.latency.WithLabelValues(string(game)).Observe(elapsed.Seconds())
}

// Rejected implements station.Recorder.
func (m *Metrics) Rejected(game station.GameType, reason string) {
	m.rejected.WithLabelValues(string(game), reason).Inc()
}

// SessionsActive implements station.Recorder.
func (m *Metrics) SessionsActive(game station.GameType, n int) {
	m.sessions.WithLabelValues(string(game)).Set(float64(n))
}

// ConnectionOpened records a new gateway connection.
func (m *Metrics) ConnectionOpened() { m.conns.Inc() }

// ConnectionClosed records a closed gateway connection.
func (m *Metrics) ConnectionClosed() { m.conns.Dec() }

// FrameDropped records an outbound frame lost to a full send buffer.
func (m *Metrics) FrameDropped() { m.dropped.Inc() }

// FrameUnroutable records an inbound frame without a matching station.
func (m *Metrics) FrameUnroutable() { m.unroutable.Inc() }

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
