// Package observability provides Prometheus metrics for the application.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"
)

var (
	// RedisErrors counts Redis errors by operation type.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "popbucks_redis_errors_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "popbucks_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// CommentOperations counts comment mutations by kind and outcome.
	CommentOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "popbucks_comment_operations_total",
		Help: "Total comment operations by kind and outcome",
	}, []string{"operation", "outcome"})

	// CacheRequests counts cache-aside lookups by key class and result.
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "popbucks_cache_requests_total",
		Help: "Total cache-aside lookups by key class and result (hit/miss)",
	}, []string{"key", "result"})
)

// ObserveCommentOp records the outcome of a comment mutation.
func ObserveCommentOp(operation string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	CommentOperations.WithLabelValues(operation, outcome).Inc()
}

// DatabaseMetrics wraps DB access for recording query latency.
type DatabaseMetrics struct {
	db *gorm.DB
}

// NewDatabaseMetrics returns a new DatabaseMetrics instance.
func NewDatabaseMetrics(db *gorm.DB) *DatabaseMetrics {
	return &DatabaseMetrics{db: db}
}

// ObserveQuery records the latency of a database query.
func (m *DatabaseMetrics) ObserveQuery(operation, table string, start time.Time) {
	latency := time.Since(start).Seconds()
	DatabaseQueryLatency.WithLabelValues(operation, table).Observe(latency)
}

// TrackQuery returns a function that records query latency when called (e.g. defer).
func (m *DatabaseMetrics) TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		m.ObserveQuery(operation, table, start)
	}
}
