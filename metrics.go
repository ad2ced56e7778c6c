// SPDX-License-Identifier: GPL-3.0-or-later

package reqflow

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector exposes Prometheus metrics for the request pipeline.
//
// All methods are safe to call on a nil receiver, which records nothing.
// It is safe for concurrent use.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
	requestsBlocked  *prometheus.CounterVec

	limiterWait *prometheus.HistogramVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheShared *prometheus.CounterVec
	cacheSize   *prometheus.GaugeVec
}

// NewMetricsCollector registers the reqflow metrics with registry.
func NewMetricsCollector(registry prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(registry)
	return &MetricsCollector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reqflow_requests_total",
				Help: "Total number of transport calls by method and outcome",
			},
			[]string{"method", "status_code"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reqflow_request_duration_seconds",
				Help:    "Duration of transport calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		requestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "reqflow_requests_in_flight",
				Help: "Number of transport calls currently holding a concurrency slot",
			},
		),
		requestsBlocked: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reqflow_requests_blocked_total",
				Help: "Requests refused by network policy before any transport call",
			},
			[]string{"reason"},
		),
		limiterWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reqflow_limiter_wait_seconds",
				Help:    "Time spent waiting for a concurrency slot",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"name"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reqflow_cache_hits_total",
				Help: "Lookups served from a resolved cache entry",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reqflow_cache_misses_total",
				Help: "Lookups that started a fetch",
			},
			[]string{"cache"},
		),
		cacheShared: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reqflow_cache_shared_total",
				Help: "Lookups that joined a fetch already in flight",
			},
			[]string{"cache"},
		),
		cacheSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "reqflow_cache_size",
				Help: "Number of resolved cache entries",
			},
			[]string{"cache"},
		),
	}
}

// RecordRequest records a completed transport call. A zero status code
// means no response was received.
func (mc *MetricsCollector) RecordRequest(method string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}
	status := "none"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	mc.requestsTotal.WithLabelValues(method, status).Inc()
	mc.requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordBlocked records a request refused by policy.
func (mc *MetricsCollector) RecordBlocked(reason MessageName) {
	if mc == nil {
		return
	}
	mc.requestsBlocked.WithLabelValues(string(reason)).Inc()
}

func (mc *MetricsCollector) recordLimiterWait(name string, wait time.Duration) {
	if mc == nil {
		return
	}
	mc.limiterWait.WithLabelValues(name).Observe(wait.Seconds())
}

func (mc *MetricsCollector) addInFlight(delta float64) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.Add(delta)
}

func (mc *MetricsCollector) observeCache(cache string, outcome memoOutcome, size int) {
	if mc == nil {
		return
	}
	switch outcome {
	case memoHit:
		mc.cacheHits.WithLabelValues(cache).Inc()
	case memoShared:
		mc.cacheShared.WithLabelValues(cache).Inc()
	default:
		mc.cacheMisses.WithLabelValues(cache).Inc()
	}
	mc.cacheSize.WithLabelValues(cache).Set(float64(size))
}
