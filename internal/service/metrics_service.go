package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/sma-commerce-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the API and the payment flow.
type MetricsService struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	cacheLatency     prometheus.Observer
	cacheWrite       prometheus.Observer
	cacheHitRatio    prometheus.Gauge
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	checkoutSessions *prometheus.CounterVec
	confirmations    *prometheus.CounterVec
	providerCalls    *prometheus.HistogramVec
	enrollFailures   prometheus.Counter

	cacheHitCount  uint64
	cacheMissCount uint64
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

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	checkoutSessions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_sessions_total",
		Help: "Checkout session creation attempts by result",
	}, []string{"result"})

	confirmations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_confirmations_total",
		Help: "Payment confirmation outcomes",
	}, []string{"status"})

	providerCalls := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provider_call_duration_seconds",
		Help:    "Latency of payment provider calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "op", "outcome"})

	enrollFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "paid_enrollment_failures_total",
		Help: "Orders marked paid whose enrollment could not be activated",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		checkoutSessions, confirmations, providerCalls, enrollFailures, goroutines)

	return &MetricsService{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		cacheLatency:     cacheLatency,
		cacheWrite:       cacheWrite,
		cacheHitRatio:    cacheHitRatio,
		cacheHits:        cacheHits,
		cacheMisses:      cacheMisses,
		checkoutSessions: checkoutSessions,
		confirmations:    confirmations,
		providerCalls:    providerCalls,
		enrollFailures:   enrollFailures,
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

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordCheckoutSession counts checkout attempts ("created" or "failed").
func (m *MetricsService) RecordCheckoutSession(result string) {
	if m == nil {
		return
	}
	m.checkoutSessions.WithLabelValues(result).Inc()
}

// RecordConfirmation counts confirm outcomes.
func (m *MetricsService) RecordConfirmation(status models.ConfirmStatus) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(string(status)).Inc()
}

// RecordEnrollmentFailure counts paid orders left without an active enrollment.
func (m *MetricsService) RecordEnrollmentFailure() {
	if m == nil {
		return
	}
	m.enrollFailures.Inc()
}

// ObserveProviderCall satisfies gateway.CallObserver.
func (m *MetricsService) ObserveProviderCall(provider, op string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.providerCalls.WithLabelValues(provider, op, outcome).Observe(duration.Seconds())
}
