// Package monitoring exposes Prometheus instrumentation for the session,
// command, websocket, and search subsystems.
package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the service reports. One instance is wired
// through the components at startup; the zero value is not usable.
type Metrics struct {
	registry *prometheus.Registry

	activeSessions  prometheus.Gauge
	sessionsEvicted prometheus.Counter

	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec

	wsConnections prometheus.Gauge
	wsMessages    *prometheus.CounterVec

	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	providerFailures *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the metrics set on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "browserd_active_sessions",
			Help: "Number of live browser sessions.",
		}),
		sessionsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "browserd_sessions_evicted_total",
			Help: "Sessions closed by the idle sweep.",
		}),

		commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "browserd_commands_total",
			Help: "Browser commands executed, by action and outcome.",
		}, []string{"action", "status"}),
		commandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "browserd_command_duration_seconds",
			Help:    "Browser command latency.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"action"}),

		wsConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "browserd_ws_connections",
			Help: "Connected event-channel clients.",
		}),
		wsMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "browserd_ws_messages_total",
			Help: "Event-channel messages, by direction.",
		}, []string{"direction"}),

		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "browserd_search_cache_hits_total",
			Help: "Search cache hits.",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "browserd_search_cache_misses_total",
			Help: "Search cache misses.",
		}),
		providerFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "browserd_search_provider_failures_total",
			Help: "Search provider failures after retry exhaustion.",
		}, []string{"provider"}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "browserd_http_requests_total",
			Help: "HTTP requests, by method, route, and status.",
		}, []string{"method", "path", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "browserd_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// SetActiveSessions implements session.Metrics.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// RecordSessionEvicted implements session.Metrics.
func (m *Metrics) RecordSessionEvicted() {
	m.sessionsEvicted.Inc()
}

// RecordCommand implements browser.Metrics.
func (m *Metrics) RecordCommand(action string, duration time.Duration, success bool) {
	status := "ok"
	if !success {
		status = "error"
	}
	m.commands.WithLabelValues(action, status).Inc()
	m.commandDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// SetWSConnections implements ws.Metrics.
func (m *Metrics) SetWSConnections(n int) {
	m.wsConnections.Set(float64(n))
}

// RecordWSMessage implements ws.Metrics.
func (m *Metrics) RecordWSMessage(direction string) {
	m.wsMessages.WithLabelValues(direction).Inc()
}

// RecordCacheHit implements search.Metrics.
func (m *Metrics) RecordCacheHit() { m.cacheHits.Inc() }

// RecordCacheMiss implements search.Metrics.
func (m *Metrics) RecordCacheMiss() { m.cacheMisses.Inc() }

// RecordProviderFailure implements search.Metrics.
func (m *Metrics) RecordProviderFailure(provider string) {
	m.providerFailures.WithLabelValues(provider).Inc()
}

// Handler serves the scrape endpoint for this metrics set.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Middleware records request counts and latency per route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.httpRequests.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status()),
		).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
	}
}
