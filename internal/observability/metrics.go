package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "notify_sync"

// Metrics stores Prometheus collectors used by the registry, the realtime
// channels, the offline queue and the local API.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	notificationsAdded   *prometheus.CounterVec
	notificationsSwept   prometheus.Counter
	toastsEmitted        *prometheus.CounterVec
	actionsEnqueued      *prometheus.CounterVec
	replayTotal          *prometheus.CounterVec
	replayDuration       prometheus.Histogram
	offlineQueueDepth    prometheus.Gauge
	realtimeState        *prometheus.GaugeVec
	realtimeReconnects   *prometheus.CounterVec
	realtimeMessages     *prometheus.CounterVec
	realtimeMalformed    *prometheus.CounterVec
	gatewayClients       *prometheus.GaugeVec
	gatewayPushDelivered *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		notificationsAdded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_added_total",
				Help:      "Total number of notifications added to the registry.",
			},
			[]string{"category", "priority"},
		),
		notificationsSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_swept_total",
				Help:      "Total number of notifications removed by the retention sweep.",
			},
		),
		toastsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "toasts_emitted_total",
				Help:      "Total number of toasts emitted grouped by type.",
			},
			[]string{"type"},
		),
		actionsEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "offline_actions_enqueued_total",
				Help:      "Total number of offline actions enqueued grouped by action type.",
			},
			[]string{"type"},
		),
		replayTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "offline_replay_total",
				Help:      "Total number of replayed offline actions grouped by result.",
			},
			[]string{"result"},
		),
		replayDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "offline_replay_duration_seconds",
				Help:      "Duration of a single offline action replay in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		offlineQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "offline_queue_depth",
				Help:      "Current number of pending offline actions.",
			},
		),
		realtimeState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "realtime_state",
				Help:      "Current realtime channel state ordinal (0 idle, 1 connecting, 2 open, 3 backoff).",
			},
			[]string{"topic"},
		),
		realtimeReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_reconnects_total",
				Help:      "Total number of scheduled realtime reconnect attempts.",
			},
			[]string{"topic"},
		),
		realtimeMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_messages_total",
				Help:      "Total number of decoded realtime messages grouped by kind.",
			},
			[]string{"topic", "kind"},
		),
		realtimeMalformed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "realtime_malformed_total",
				Help:      "Total number of dropped malformed realtime frames.",
			},
			[]string{"topic"},
		),
		gatewayClients: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "gateway_clients",
				Help:      "Current number of connected gateway websocket clients.",
			},
			[]string{"topic"},
		),
		gatewayPushDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_push_delivered_total",
				Help:      "Total number of push frames written to gateway clients.",
			},
			[]string{"topic"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.notificationsAdded,
		m.notificationsSwept,
		m.toastsEmitted,
		m.actionsEnqueued,
		m.replayTotal,
		m.replayDuration,
		m.offlineQueueDepth,
		m.realtimeState,
		m.realtimeReconnects,
		m.realtimeMessages,
		m.realtimeMalformed,
		m.gatewayClients,
		m.gatewayPushDelivered,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncNotificationAdded(category string, priority string) {
	if m == nil {
		return
	}
	m.notificationsAdded.WithLabelValues(normalizeLabel(category), normalizeLabel(priority)).Inc()
}

func (m *Metrics) AddNotificationsSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.notificationsSwept.Add(float64(n))
}

func (m *Metrics) IncToastEmitted(toastType string) {
	if m == nil {
		return
	}
	m.toastsEmitted.WithLabelValues(normalizeLabel(toastType)).Inc()
}

func (m *Metrics) IncActionEnqueued(actionType string) {
	if m == nil {
		return
	}
	m.actionsEnqueued.WithLabelValues(normalizeLabel(actionType)).Inc()
}

// IncReplay counts one replayed action; result is "success", "failure" or "session_expired".
func (m *Metrics) IncReplay(result string) {
	if m == nil {
		return
	}
	m.replayTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) ObserveReplayDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.replayDuration.Observe(seconds)
}

func (m *Metrics) SetOfflineQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.offlineQueueDepth.Set(float64(depth))
}

func (m *Metrics) SetRealtimeState(topic string, ordinal int) {
	if m == nil {
		return
	}
	m.realtimeState.WithLabelValues(normalizeLabel(topic)).Set(float64(ordinal))
}

func (m *Metrics) IncRealtimeReconnect(topic string) {
	if m == nil {
		return
	}
	m.realtimeReconnects.WithLabelValues(normalizeLabel(topic)).Inc()
}

func (m *Metrics) IncRealtimeMessage(topic string, kind string) {
	if m == nil {
		return
	}
	m.realtimeMessages.WithLabelValues(normalizeLabel(topic), normalizeLabel(kind)).Inc()
}

func (m *Metrics) IncRealtimeMalformed(topic string) {
	if m == nil {
		return
	}
	m.realtimeMalformed.WithLabelValues(normalizeLabel(topic)).Inc()
}

func (m *Metrics) IncGatewayClients(topic string) {
	if m == nil {
		return
	}
	m.gatewayClients.WithLabelValues(normalizeLabel(topic)).Inc()
}

func (m *Metrics) DecGatewayClients(topic string) {
	if m == nil {
		return
	}
	m.gatewayClients.WithLabelValues(normalizeLabel(topic)).Dec()
}

func (m *Metrics) IncGatewayPushDelivered(topic string) {
	if m == nil {
		return
	}
	m.gatewayPushDelivered.WithLabelValues(normalizeLabel(topic)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
