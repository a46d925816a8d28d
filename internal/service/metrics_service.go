package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/beanbrew/coffeeshop-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	authAttempts     *prometheus.CounterVec
	retentionDeleted *prometheus.CounterVec
	retentionRuns    *prometheus.HistogramVec
	retentionErrors  *prometheus.CounterVec
	rateLimitDenied  prometheus.Counter
	dbQueryDuration  *prometheus.HistogramVec

	requestCount         uint64
	requestDurationTotal uint64
	dbQueryCount         uint64
	dbQueryDurationTotal uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	authAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_attempts_total",
		Help: "Authentication operations by outcome",
	}, []string{"operation", "outcome"})

	retentionDeleted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "retention_deleted_rows_total",
		Help: "Rows removed by retention jobs",
	}, []string{"resource"})

	retentionRuns := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "retention_run_duration_seconds",
		Help:    "Duration of retention job runs",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})

	retentionErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "retention_run_failures_total",
		Help: "Failed retention job runs",
	}, []string{"job"})

	rateLimitDenied := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rate_limit_denied_total",
		Help: "Requests rejected by the rate limiter",
	})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, authAttempts, retentionDeleted, retentionRuns, retentionErrors, rateLimitDenied, dbQueryDuration, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:         registry,
		handler:          handler,
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		authAttempts:     authAttempts,
		retentionDeleted: retentionDeleted,
		retentionRuns:    retentionRuns,
		retentionErrors:  retentionErrors,
		rateLimitDenied:  rateLimitDenied,
		dbQueryDuration:  dbQueryDuration,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// ObserveAuthAttempt records the outcome of an authentication operation.
func (m *MetricsService) ObserveAuthAttempt(operation string, success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.authAttempts.WithLabelValues(operation, outcome).Inc()
}

// AddRetentionDeleted accumulates rows removed by a retention job.
func (m *MetricsService) AddRetentionDeleted(resource string, count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.retentionDeleted.WithLabelValues(resource).Add(float64(count))
}

// ObserveRetentionRun records one retention job run.
func (m *MetricsService) ObserveRetentionRun(job string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.retentionRuns.WithLabelValues(job).Observe(duration.Seconds())
	if err != nil {
		m.retentionErrors.WithLabelValues(job).Inc()
	}
}

// ObserveRateLimitDenied counts a request rejected by the rate limiter.
func (m *MetricsService) ObserveRateLimitDenied() {
	if m == nil {
		return
	}
	m.rateLimitDenied.Inc()
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
	atomic.AddUint64(&m.dbQueryCount, 1)
	atomic.AddUint64(&m.dbQueryDurationTotal, uint64(duration.Nanoseconds()))
}

// Snapshot returns aggregated metrics suitable for operational endpoints.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)
	dbCount := atomic.LoadUint64(&m.dbQueryCount)
	dbDuration := atomic.LoadUint64(&m.dbQueryDurationTotal)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	var avgDBMs float64
	if dbCount > 0 {
		avgDBMs = float64(dbDuration) / float64(dbCount) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		DBQueryCount:             dbCount,
		AverageDBQueryDurationMs: avgDBMs,
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
