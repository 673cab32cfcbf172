package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry               *prometheus.Registry
	httpRequests           *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	pollCycles             *prometheus.CounterVec
	pollCycleDuration      *prometheus.HistogramVec
	statusTransitions      *prometheus.CounterVec
	alertsProcessed        prometheus.Counter
	notificationDeliveries *prometheus.CounterVec
	subscribers            prometheus.Gauge
}

// New creates a fresh Metrics registry with HTTP, poller and fan-out metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetwatch",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fleetwatch",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	pollCycles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetwatch",
		Name:      "poll_cycles_total",
		Help:      "Poll cycles run, by poller and result",
	}, []string{"poller", "result"})

	pollCycleDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fleetwatch",
		Name:      "poll_cycle_duration_seconds",
		Help:      "Duration of a single poll cycle",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"poller"})

	statusTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetwatch",
		Name:      "status_transitions_total",
		Help:      "Recorded node status transitions",
	}, []string{"node_kind", "status"})

	alertsProcessed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fleetwatch",
		Name:      "alerts_processed_total",
		Help:      "Alerts created, updated or cleared by reconciliation",
	})

	notificationDeliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fleetwatch",
		Name:      "notification_deliveries_total",
		Help:      "Notification delivery attempts, by channel and result",
	}, []string{"channel", "result"})

	subscribers := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fleetwatch",
		Name:      "websocket_subscribers",
		Help:      "Currently connected websocket subscribers",
	})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		pollCycles,
		pollCycleDuration,
		statusTransitions,
		alertsProcessed,
		notificationDeliveries,
		subscribers,
	)

	return &Metrics{
		registry:               registry,
		httpRequests:           httpRequests,
		httpRequestDuration:    httpRequestDuration,
		pollCycles:             pollCycles,
		pollCycleDuration:      pollCycleDuration,
		statusTransitions:      statusTransitions,
		alertsProcessed:        alertsProcessed,
		notificationDeliveries: notificationDeliveries,
		subscribers:            subscribers,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObservePollCycle records one scheduler cycle. result is "ok", "error" or "panic".
func (m *Metrics) ObservePollCycle(poller, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.pollCycles.WithLabelValues(poller, result).Inc()
	m.pollCycleDuration.WithLabelValues(poller).Observe(duration.Seconds())
}

func (m *Metrics) IncStatusTransition(nodeKind, status string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(nodeKind, status).Inc()
}

func (m *Metrics) AddAlertsProcessed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.alertsProcessed.Add(float64(n))
}

// ObserveDelivery counts one notification attempt on a channel
// (websocket, push, email, redis, mqtt).
func (m *Metrics) ObserveDelivery(channel string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.notificationDeliveries.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
