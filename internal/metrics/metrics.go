package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chathub_ws_connections",
		Help: "Current number of open websocket connections",
	})
	Sessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chathub_sessions",
		Help: "Current number of joined chat sessions",
	})
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chathub_messages_total",
		Help: "Total number of chat messages accepted",
	}, []string{"kind"})
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chathub_events_total",
		Help: "Total number of inbound websocket events handled",
	}, []string{"event"})
	EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chathub_events_dropped_total",
		Help: "Inbound events dropped by the per-connection rate limiter",
	})
	SlowConsumers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chathub_slow_consumer_evictions_total",
		Help: "Connections evicted because their send queue was full",
	})
	PersistenceFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chathub_persistence_failures_total",
		Help: "Durable log writes that failed after the in-memory state was updated",
	}, []string{"op"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections,
		Sessions,
		MessagesTotal,
		EventsTotal,
		EventsDropped,
		SlowConsumers,
		PersistenceFailures,
		HttpRequestsTotal,
		HttpRequestDuration,
	)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
