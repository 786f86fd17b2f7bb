package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/l9p/l9p/internal/proto"
	"github.com/l9p/l9p/internal/session"
)

// ninepMetrics is the Prometheus implementation of session.Metrics.
type ninepMetrics struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	requestsInFlight  *prometheus.GaugeVec
	bytesTransferred  *prometheus.CounterVec
	activeConnections prometheus.Gauge
	connectionsTotal  prometheus.Counter
	liveFids          prometheus.Gauge
}

// NewCollector creates a Prometheus-backed session.Metrics instance, or a
// no-op implementation if InitRegistry has not been called.
func NewCollector() session.Metrics {
	if !IsEnabled() {
		return NewNoopCollector()
	}

	reg := GetRegistry()

	return &ninepMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "l9p_requests_total",
				Help: "Total number of 9P requests by message type and status",
			},
			[]string{"type", "status", "errno"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "l9p_request_duration_seconds",
				Help: "Duration of 9P requests in seconds",
				Buckets: []float64{
					0.001, // 1ms
					0.005, // 5ms
					0.01,  // 10ms
					0.025, // 25ms
					0.05,  // 50ms
					0.1,   // 100ms
					0.25,  // 250ms
					0.5,   // 500ms
					1.0,   // 1s
					2.5,   // 2.5s
					5.0,   // 5s
				},
			},
			[]string{"type"},
		),
		requestsInFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "l9p_requests_in_flight",
				Help: "Current number of 9P requests being processed",
			},
			[]string{"type"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "l9p_bytes_transferred_total",
				Help: "Total bytes read from and written to 9P connections",
			},
			[]string{"direction"}, // in or out
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "l9p_active_connections",
				Help: "Current number of active 9P connections",
			},
		),
		connectionsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "l9p_connections_accepted_total",
				Help: "Total number of 9P connections accepted",
			},
		),
		liveFids: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "l9p_live_fids",
				Help: "Current number of live fids across all connections",
			},
		),
	}
}

func (m *ninepMetrics) ConnectionOpened() {
	m.connectionsTotal.Inc()
	m.activeConnections.Inc()
}

func (m *ninepMetrics) ConnectionClosed() {
	m.activeConnections.Dec()
}

func (m *ninepMetrics) RequestStarted(msgType uint8) {
	m.requestsInFlight.WithLabelValues(proto.MessageName(msgType)).Inc()
}

func (m *ninepMetrics) RequestFinished(msgType uint8, dur time.Duration, errno proto.Errno) {
	name := proto.MessageName(msgType)
	status := "success"
	code := ""
	if errno != 0 {
		status = "error"
		code = strconv.Itoa(int(errno))
	}
	m.requestsTotal.WithLabelValues(name, status, code).Inc()
	m.requestDuration.WithLabelValues(name).Observe(dur.Seconds())
	m.requestsInFlight.WithLabelValues(name).Dec()
}

func (m *ninepMetrics) BytesTransferred(direction string, n int) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(n))
}

func (m *ninepMetrics) FidCount(n int) {
	m.liveFids.Set(float64(n))
}

// noopCollector is a no-op implementation of session.Metrics.
type noopCollector struct{}

// NewNoopCollector returns a session.Metrics that records nothing.
func NewNoopCollector() session.Metrics {
	return noopCollector{}
}

func (noopCollector) ConnectionOpened()                                 {}
func (noopCollector) ConnectionClosed()                                 {}
func (noopCollector) RequestStarted(uint8)                              {}
func (noopCollector) RequestFinished(uint8, time.Duration, proto.Errno) {}
func (noopCollector) BytesTransferred(string, int)                      {}
func (noopCollector) FidCount(int)                                      {}
