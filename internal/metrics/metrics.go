package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of one server instance. Every
// instance owns its registry, so two servers in the same process never share
// counters.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	ActiveSessions prometheus.Gauge
	SessionsTotal  prometheus.Counter
	Requests       *prometheus.CounterVec

	// Data-plane metrics
	FramesSent      prometheus.Counter
	FramesDropped   prometheus.Counter
	BytesSent       prometheus.Counter
	SchedulerErrors prometheus.Counter
}

// New creates and registers all metrics in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	m := &Metrics{
		registry: reg,

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vstream_active_sessions",
			Help: "Number of open control sessions",
		}),
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "vstream_sessions_total",
			Help: "Total number of control sessions since server start",
		}),
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vstream_requests_total",
				Help: "Control requests by verb and reply status",
			},
			[]string{"verb", "status"},
		),

		FramesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "vstream_frames_sent_total",
			Help: "Frames sent as datagrams",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "vstream_frames_dropped_total",
			Help: "Frames dropped by simulated loss",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "vstream_bytes_sent_total",
			Help: "Datagram bytes sent including headers",
		}),
		SchedulerErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "vstream_scheduler_errors_total",
			Help: "Schedulers that stopped with an error",
		}),
	}
	reg.MustRegister(collectors.NewGoCollector())
	return m
}

// RecordRequest counts a handled control request.
func (m *Metrics) RecordRequest(verb string, status int) {
	m.Requests.WithLabelValues(verb, strconv.Itoa(status)).Inc()
}

func (m *Metrics) SessionOpened() {
	m.ActiveSessions.Inc()
	m.SessionsTotal.Inc()
}

func (m *Metrics) SessionClosed() {
	m.ActiveSessions.Dec()
}

func (m *Metrics) FrameSent(size int) {
	m.FramesSent.Inc()
	m.BytesSent.Add(float64(size))
}

func (m *Metrics) FrameDropped() {
	m.FramesDropped.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
