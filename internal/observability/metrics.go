package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat-sync server.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_active_sessions",
			Help: "Number of active conversation data-channel sessions.",
		},
	)
	envelopesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_envelopes_total",
			Help: "Total number of envelopes processed, by type and direction.",
		},
		[]string{"type", "direction"},
	)
	decodeErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_decode_errors_total",
			Help: "Total number of frames dropped due to decode errors.",
		},
	)
	droppedSendsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_dropped_sends_total",
			Help: "Total number of outbound envelopes dropped while disconnected.",
		},
	)
	reconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_reconnects_total",
			Help: "Total number of transport reconnect cycles.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_ws_events_total",
			Help: "Total number of websocket lifecycle events on the relay.",
		},
		[]string{"event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		activeSessions,
		envelopesTotal,
		decodeErrorsTotal,
		droppedSendsTotal,
		reconnectsTotal,
		wsEventsTotal,
		amqpPublishErrorsTotal,
	)
}

// HTTPMetricsMiddleware records request counts and latencies per route.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncActiveSessions() { activeSessions.Inc() }

func DecActiveSessions() { activeSessions.Dec() }

func IncEnvelope(envelopeType, direction string) {
	envelopesTotal.WithLabelValues(envelopeType, direction).Inc()
}

func IncDecodeError() { decodeErrorsTotal.Inc() }

func IncDroppedSend() { droppedSendsTotal.Inc() }

func IncReconnect() { reconnectsTotal.Inc() }

func IncWSEvent(event string) { wsEventsTotal.WithLabelValues(event).Inc() }

func IncAMQPPublishError() { amqpPublishErrorsTotal.Inc() }
