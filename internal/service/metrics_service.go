package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/studyplan-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP, cache and the
// reschedule workflow.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheLookups    *prometheus.CounterVec

	rescheduleOps      *prometheus.CounterVec
	rescheduleDuration *prometheus.HistogramVec
	plansWritten       *prometheus.CounterVec
	conflictsFound     *prometheus.CounterVec
	sweepRemoved       *prometheus.CounterVec
}

// NewMetricsService registers the Prometheus collectors.
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

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "Cache lookups by result",
	}, []string{"result"})

	rescheduleOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reschedule_operations_total",
		Help: "Reschedule operations by kind and outcome",
	}, []string{"operation", "outcome"})

	rescheduleDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reschedule_operation_duration_seconds",
		Help:    "Duration of reschedule operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	plansWritten := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reschedule_plans_total",
		Help: "Plan rows touched by executed reschedules",
	}, []string{"action"})

	conflictsFound := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reschedule_conflicts_total",
		Help: "Conflicts reported by reschedule previews",
	}, []string{"type", "severity"})

	sweepRemoved := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reschedule_sweep_removed_total",
		Help: "Entries removed by the housekeeping sweep",
	}, []string{"kind"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheLookups,
		rescheduleOps, rescheduleDuration, plansWritten, conflictsFound, sweepRemoved, goroutines)

	return &MetricsService{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		cacheLatency:       cacheLatency,
		cacheWrite:         cacheWrite,
		cacheLookups:       cacheLookups,
		rescheduleOps:      rescheduleOps,
		rescheduleDuration: rescheduleDuration,
		plansWritten:       plansWritten,
		conflictsFound:     conflictsFound,
		sweepRemoved:       sweepRemoved,
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
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

// ObserveReschedule records one reschedule operation (preview, propose, commit, rollback).
func (m *MetricsService) ObserveReschedule(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.rescheduleOps.WithLabelValues(operation, outcome).Inc()
	m.rescheduleDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordPlansWritten counts rows deactivated, inserted or restored.
func (m *MetricsService) RecordPlansWritten(action string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.plansWritten.WithLabelValues(action).Add(float64(n))
}

// RecordConflicts counts conflicts reported by a preview.
func (m *MetricsService) RecordConflicts(conflicts []models.Conflict) {
	if m == nil {
		return
	}
	for _, c := range conflicts {
		m.conflictsFound.WithLabelValues(string(c.Type), string(c.Severity)).Inc()
	}
}

// RecordSweep counts entries removed by the housekeeping sweep.
func (m *MetricsService) RecordSweep(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweepRemoved.WithLabelValues(kind).Add(float64(n))
}
