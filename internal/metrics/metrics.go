// Package metrics defines the Prometheus metrics of the sync system.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the namespace for all metrics.
	Namespace = "gmb_sync"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Job metrics
	JobsProcessedTotal *prometheus.CounterVec
	JobDurationSeconds *prometheus.HistogramVec
	JobsRunning        prometheus.Gauge
	JobsRequeuedTotal  *prometheus.CounterVec
	JobsReapedTotal    *prometheus.CounterVec
	QueueDepth         *prometheus.GaugeVec

	// Transactional sync metrics
	SyncRunsTotal       *prometheus.CounterVec
	SyncDurationSeconds prometheus.Histogram
	SyncItemsTotal      *prometheus.CounterVec

	// Upstream metrics
	UpstreamRequestsTotal   *prometheus.CounterVec
	UpstreamDurationSeconds *prometheus.HistogramVec
	QuotaThrottledTotal     *prometheus.CounterVec
	CircuitBreakerState     *prometheus.GaugeVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPDurationSeconds *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{}

	m.initJobMetrics(factory)
	m.initSyncMetrics(factory)
	m.initUpstreamMetrics(factory)
	m.initHTTPMetrics(factory)

	return m
}

func (m *Metrics) initJobMetrics(factory promauto.Factory) {
	m.JobsProcessedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "jobs",
			Name:      "processed_total",
			Help:      "Jobs processed, by type and outcome",
		},
		[]string{"job_type", "status"},
	)

	m.JobDurationSeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Duration of job processing in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"job_type"},
	)

	m.JobsRunning = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "jobs",
			Name:      "running",
			Help:      "Jobs currently being processed by this process",
		},
	)

	m.JobsRequeuedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "jobs",
			Name:      "requeued_total",
			Help:      "Failed jobs handed back to the queue",
		},
		[]string{"job_type"},
	)

	m.JobsReapedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "jobs",
			Name:      "reaped_total",
			Help:      "Stale running jobs reset by the reaper",
		},
		[]string{"outcome"},
	)

	m.QueueDepth = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Jobs in the queue by status",
		},
		[]string{"status"},
	)
}

func (m *Metrics) initSyncMetrics(factory promauto.Factory) {
	m.SyncRunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Transactional sync runs by outcome",
		},
		[]string{"status"},
	)

	m.SyncDurationSeconds = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Duration of transactional sync runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
		},
	)

	m.SyncItemsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "sync",
			Name:      "items_total",
			Help:      "Rows committed by transactional syncs",
		},
		[]string{"kind"},
	)
}

func (m *Metrics) initUpstreamMetrics(factory promauto.Factory) {
	m.UpstreamRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Google Business Profile requests by endpoint and status code",
		},
		[]string{"endpoint", "code"},
	)

	m.UpstreamDurationSeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Google Business Profile request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	m.QuotaThrottledTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "upstream",
			Name:      "quota_throttled_total",
			Help:      "Requests that had to wait for quota",
		},
		[]string{"priority"},
	)

	m.CircuitBreakerState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "upstream",
			Name:      "circuit_breaker_open",
			Help:      "1 while the named breaker is open or half-open",
		},
		[]string{"name"},
	)
}

func (m *Metrics) initHTTPMetrics(factory promauto.Factory) {
	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	m.HTTPDurationSeconds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
}

// ObserveJob records one processed job
func (m *Metrics) ObserveJob(jobType string, success bool, elapsed time.Duration) {
	status := "completed"
	if !success {
		status = "failed"
	}
	m.JobsProcessedTotal.WithLabelValues(jobType, status).Inc()
	m.JobDurationSeconds.WithLabelValues(jobType).Observe(elapsed.Seconds())
}

// ObserveSyncResult records one transactional sync run
func (m *Metrics) ObserveSyncResult(success bool, elapsed time.Duration, locations, reviews, questions int) {
	status := "completed"
	if !success {
		status = "failed"
	}
	m.SyncRunsTotal.WithLabelValues(status).Inc()
	m.SyncDurationSeconds.Observe(elapsed.Seconds())
	m.SyncItemsTotal.WithLabelValues("locations").Add(float64(locations))
	m.SyncItemsTotal.WithLabelValues("reviews").Add(float64(reviews))
	m.SyncItemsTotal.WithLabelValues("questions").Add(float64(questions))
}

// ObserveUpstream records one upstream response; code 0 means the request never got a response
func (m *Metrics) ObserveUpstream(endpoint string, statusCode int, elapsed time.Duration) {
	m.UpstreamRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
	m.UpstreamDurationSeconds.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// ObserveThrottle records a request that waited for quota
func (m *Metrics) ObserveThrottle(priority string) {
	m.QuotaThrottledTotal.WithLabelValues(priority).Inc()
}

// SetBreakerOpen flags a breaker as open or closed
func (m *Metrics) SetBreakerOpen(name string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(v)
}

// SetQueueDepth replaces the queue depth gauges
func (m *Metrics) SetQueueDepth(byStatus map[string]int) {
	for status, n := range byStatus {
		m.QueueDepth.WithLabelValues(status).Set(float64(n))
	}
}

// ObserveHTTP records one API request
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDurationSeconds.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
