package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the scheduling
// engine.
type MetricsService struct {
	registry           *prometheus.Registry
	handler            http.Handler
	requestDuration    *prometheus.HistogramVec
	requestTotal       *prometheus.CounterVec
	bookingsTotal      *prometheus.CounterVec
	slotConflicts      prometheus.Counter
	statusTransitions  *prometheus.CounterVec
	transitionFailures *prometheus.CounterVec
	notificationsSent  *prometheus.CounterVec
	cacheHits          prometheus.Counter
	cacheMisses        prometheus.Counter
	dbQueryDuration    *prometheus.HistogramVec
}

// NewMetricsService registers the core collectors on a private registry.
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

	bookingsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bookings_total",
		Help: "Booking attempts by kind and outcome",
	}, []string{"kind", "outcome"})

	slotConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "slot_conflicts_total",
		Help: "Booking attempts rejected because the slot was taken",
	})

	statusTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "status_transitions_total",
		Help: "Successful status transitions by kind and target status",
	}, []string{"kind", "to"})

	transitionFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transition_failures_total",
		Help: "Rejected status transitions by kind and error code",
	}, []string{"kind", "code"})

	notificationsSent := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_dispatched_total",
		Help: "Status change notifications handed to the dispatcher",
	}, []string{"kind"})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
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

	registry.MustRegister(requestDuration, requestTotal, bookingsTotal, slotConflicts, statusTransitions, transitionFailures, notificationsSent, cacheHits, cacheMisses, dbQueryDuration, goroutines)

	return &MetricsService{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		bookingsTotal:      bookingsTotal,
		slotConflicts:      slotConflicts,
		statusTransitions:  statusTransitions,
		transitionFailures: transitionFailures,
		notificationsSent:  notificationsSent,
		cacheHits:          cacheHits,
		cacheMisses:        cacheMisses,
		dbQueryDuration:    dbQueryDuration,
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

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordBooking counts a booking attempt outcome. Outcome is one of
// "created", "conflict", "rejected" or "error".
func (m *MetricsService) RecordBooking(kind, outcome string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(kind, outcome).Inc()
	if outcome == "conflict" {
		m.slotConflicts.Inc()
	}
}

// RecordTransition counts a successful status transition.
func (m *MetricsService) RecordTransition(kind string, to string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(kind, to).Inc()
}

// RecordTransitionFailure counts a rejected status transition.
func (m *MetricsService) RecordTransitionFailure(kind string, code string) {
	if m == nil {
		return
	}
	m.transitionFailures.WithLabelValues(kind, code).Inc()
}

// RecordNotification counts a dispatched status change event.
func (m *MetricsService) RecordNotification(kind string) {
	if m == nil {
		return
	}
	m.notificationsSent.WithLabelValues(kind).Inc()
}

// RecordCacheOperation records a cache hit or miss.
func (m *MetricsService) RecordCacheOperation(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
		return
	}
	m.cacheMisses.Inc()
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}
