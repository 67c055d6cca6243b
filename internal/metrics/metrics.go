// Package metrics provides Prometheus instrumentation for the sentinel service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sentinel",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ApprovalEventsTotal counts inbound approval events by terminal outcome.
	ApprovalEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "approval_events_total",
			Help:      "Approval events processed by terminal pipeline outcome.",
		},
		[]string{"outcome"},
	)

	// VerdictsTotal counts classifier verdicts by result and deciding rule.
	VerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "verdicts_total",
			Help:      "Threat verdicts by result (malicious, safe, degraded) and rule.",
		},
		[]string{"result", "rule"},
	)

	// AICallsTotal counts deep-analysis model calls by result.
	AICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "ai_calls_total",
			Help:      "Bytecode-analysis service calls by result (ok, error).",
		},
		[]string{"result"},
	)

	// RevocationsTotal counts revocation attempts by final status.
	RevocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "revocations_total",
			Help:      "Revocation executions by final status.",
		},
		[]string{"status"},
	)

	// RevocationDuration observes submit-to-confirmation latency.
	RevocationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sentinel",
		Name:      "revocation_duration_seconds",
		Help:      "Time from revocation submission to confirmation in seconds.",
		Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 90, 120},
	})

	// PipelineQueueDepth tracks events waiting in the background queue.
	PipelineQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Name:      "pipeline_queue_depth",
		Help:      "Approval events waiting in the pipeline queue.",
	})

	// PipelineQueueRejectedTotal counts events dropped due to a full queue.
	PipelineQueueRejectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Name:      "pipeline_queue_rejected_total",
		Help:      "Approval events rejected because the pipeline queue was full.",
	})

	// InflightRevocations tracks revocations currently being executed.
	InflightRevocations = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Name:      "inflight_revocations",
		Help:      "Revocations currently in flight (per owner/token/spender triple).",
	})

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sentinel",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ApprovalEventsTotal,
		VerdictsTotal,
		AICallsTotal,
		RevocationsTotal,
		RevocationDuration,
		PipelineQueueDepth,
		PipelineQueueRejectedTotal,
		InflightRevocations,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
