// Package metrics provides Prometheus instrumentation for riskgate.
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
			Namespace: "riskgate",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskgate",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// EvaluationsTotal counts transaction evaluations by resulting risk level.
	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskgate",
			Name:      "evaluations_total",
			Help:      "Total transaction risk evaluations by risk level.",
		},
		[]string{"risk_level"},
	)

	// EvaluationDuration observes end-to-end evaluation latency.
	EvaluationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "riskgate",
		Name:      "evaluation_duration_seconds",
		Help:      "Transaction evaluation duration in seconds.",
		Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// EvaluationFailuresTotal counts evaluations that degraded to the
	// fail-open default assessment.
	EvaluationFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "riskgate",
		Name:      "evaluation_failures_total",
		Help:      "Total evaluations that fell back to the degraded assessment.",
	})

	// ApprovalRequestsTotal counts approval requests created, by level.
	ApprovalRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskgate",
			Name:      "approval_requests_total",
			Help:      "Total approval requests created by approval level.",
		},
		[]string{"level"},
	)

	// ApprovalResolutionsTotal counts terminal approval transitions by outcome.
	ApprovalResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskgate",
			Name:      "approval_resolutions_total",
			Help:      "Total approval request resolutions by outcome.",
		},
		[]string{"outcome"},
	)

	// PendingApprovals tracks the current pending request count.
	PendingApprovals = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskgate",
		Name:      "pending_approvals",
		Help:      "Number of approval requests currently pending.",
	})

	// TrainingRunsTotal counts model training runs by result.
	TrainingRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskgate",
			Name:      "training_runs_total",
			Help:      "Total model training runs by result.",
		},
		[]string{"result"},
	)

	// TrainingDuration observes model training latency.
	TrainingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "riskgate",
		Name:      "training_duration_seconds",
		Help:      "Model training run duration in seconds.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	// TrainingSampleCount tracks the sample count of the last training run.
	TrainingSampleCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskgate",
		Name:      "training_sample_count",
		Help:      "Sample count of the most recent successful training run.",
	})

	// ActiveWebSocketClients tracks connected feed clients.
	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskgate",
		Name:      "active_websocket_clients",
		Help:      "Number of currently connected WebSocket clients.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskgate", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskgate", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskgate", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskgate", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskgate", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskgate", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EvaluationsTotal,
		EvaluationDuration,
		EvaluationFailuresTotal,
		ApprovalRequestsTotal,
		ApprovalResolutionsTotal,
		PendingApprovals,
		TrainingRunsTotal,
		TrainingDuration,
		TrainingSampleCount,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
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
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
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
