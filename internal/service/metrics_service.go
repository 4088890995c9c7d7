package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sma-discipline-api/internal/models"
)

// Outcome labels used by the domain counters.
const (
	OutcomeDelivered = "delivered"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
	OutcomeClean     = "clean"
	OutcomeQualified = "qualified"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic, the cache and the discipline engine.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Histogram
	cacheWrite      prometheus.Histogram
	cacheLookups    *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec

	violations          *prometheus.CounterVec
	statusWrites        *prometheus.CounterVec
	notifications       *prometheus.CounterVec
	deletions           *prometheus.CounterVec
	consistencyWarnings *prometheus.CounterVec
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	m := &MetricsService{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		cacheLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_latency_seconds",
			Help:    "Latency for cache lookups",
			Buckets: prometheus.DefBuckets,
		}),
		cacheWrite: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cache_write_seconds",
			Help:    "Latency for cache set operations",
			Buckets: prometheus.DefBuckets,
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_lookups_total",
			Help: "Cache lookups by result",
		}, []string{"result"}),
		dbQueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Duration of database operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"query"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discipline_violations_total",
			Help: "Ledger mutations by action",
		}, []string{"action"}),
		statusWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discipline_status_writes_total",
			Help: "Student status tier writes by resulting tier",
		}, []string{"status"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discipline_notifications_total",
			Help: "Notification writes by kind and outcome",
		}, []string{"kind", "outcome"}),
		deletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discipline_student_deletions_total",
			Help: "Cascade deletions by outcome",
		}, []string{"outcome"}),
		consistencyWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discipline_consistency_warnings_total",
			Help: "Detected point-total or status drift",
		}, []string{"source"}),
	}

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		m.requestDuration, m.requestTotal, m.cacheLatency, m.cacheWrite, m.cacheLookups, m.dbQueryDuration,
		m.violations, m.statusWrites, m.notifications, m.deletions, m.consistencyWarnings, goroutines,
	)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
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

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records a cache lookup.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveCacheWrite tracks the duration of cache writes.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records database operation timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordViolation counts a ledger mutation ("recorded" or "reversed").
func (m *MetricsService) RecordViolation(action string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(action).Inc()
}

// RecordStatusWrite counts a status tier write.
func (m *MetricsService) RecordStatusWrite(status models.StudentStatus) {
	if m == nil {
		return
	}
	m.statusWrites.WithLabelValues(string(status)).Inc()
}

// RecordNotification counts a notification write outcome.
func (m *MetricsService) RecordNotification(kind models.NotificationKind, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(string(kind), outcome).Inc()
}

// RecordDeletion counts a cascade deletion outcome.
func (m *MetricsService) RecordDeletion(outcome string) {
	if m == nil {
		return
	}
	m.deletions.WithLabelValues(outcome).Inc()
}

// RecordConsistencyWarning counts detected drift.
func (m *MetricsService) RecordConsistencyWarning(source string) {
	if m == nil {
		return
	}
	m.consistencyWarnings.WithLabelValues(source).Inc()
}
