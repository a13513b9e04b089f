package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service
type Metrics struct {
	registry *prometheus.Registry

	// Permission check metrics
	ChecksTotal   *prometheus.CounterVec
	CheckDuration *prometheus.HistogramVec

	// Rate limiting metrics
	RateLimitedTotal     *prometheus.CounterVec
	LimiterFailuresTotal prometheus.Counter

	// Cache metrics
	CacheTotal *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Usage recording metrics
	UsageRecordsWrittenTotal prometheus.Counter
	UsageRecordsDroppedTotal prometheus.Counter
}

// New creates a Metrics instance with all metrics registered on its
// own registry
func New() *Metrics {
	registry := prometheus.NewRegistry()

	checksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_checks_total",
			Help: "Total number of permission checks by decision and reason",
		},
		[]string{"decision", "reason"},
	)

	checkDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolgate_check_duration_seconds",
			Help:    "Permission check duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"decision"},
	)

	rateLimitedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_rate_limited_total",
			Help: "Total number of checks denied by a usage cap, by window scope",
		},
		[]string{"scope"},
	)

	limiterFailuresTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "toolgate_limiter_failures_total",
			Help: "Total number of counter store failures during checks",
		},
	)

	cacheTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_cache_total",
			Help: "Total number of cache lookups by cache and result",
		},
		[]string{"cache", "result"},
	)

	httpRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_http_requests_total",
			Help: "Total number of HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolgate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	usageRecordsWrittenTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "toolgate_usage_records_written_total",
			Help: "Total number of usage records written to the database",
		},
	)

	usageRecordsDroppedTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "toolgate_usage_records_dropped_total",
			Help: "Total number of usage records dropped because the buffer was full",
		},
	)

	registry.MustRegister(
		checksTotal,
		checkDuration,
		rateLimitedTotal,
		limiterFailuresTotal,
		cacheTotal,
		httpRequestsTotal,
		httpRequestDuration,
		usageRecordsWrittenTotal,
		usageRecordsDroppedTotal,
	)

	return &Metrics{
		registry:                 registry,
		ChecksTotal:              checksTotal,
		CheckDuration:            checkDuration,
		RateLimitedTotal:         rateLimitedTotal,
		LimiterFailuresTotal:     limiterFailuresTotal,
		CacheTotal:               cacheTotal,
		HTTPRequestsTotal:        httpRequestsTotal,
		HTTPRequestDuration:      httpRequestDuration,
		UsageRecordsWrittenTotal: usageRecordsWrittenTotal,
		UsageRecordsDroppedTotal: usageRecordsDroppedTotal,
	}
}

// GetRegistry returns the Prometheus registry for this metrics instance
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// Handler returns the scrape endpoint handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCheck records one evaluated permission check
func (m *Metrics) RecordCheck(allowed bool, reason string, seconds float64) {
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	m.ChecksTotal.WithLabelValues(decision, reason).Inc()
	m.CheckDuration.WithLabelValues(decision).Observe(seconds)
}

// RecordRateLimited records a denial caused by a usage cap
func (m *Metrics) RecordRateLimited(scope string) {
	m.RateLimitedTotal.WithLabelValues(scope).Inc()
}

// RecordLimiterFailure records a counter store failure
func (m *Metrics) RecordLimiterFailure() {
	m.LimiterFailuresTotal.Inc()
}

// RecordCache records a cache lookup outcome, result is hit or miss
func (m *Metrics) RecordCache(cache, result string) {
	m.CacheTotal.WithLabelValues(cache, result).Inc()
}

// RecordHTTPRequest records one finished HTTP request
func (m *Metrics) RecordHTTPRequest(method, route string, status int, seconds float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

// RecordUsageWritten records usage rows flushed to the database
func (m *Metrics) RecordUsageWritten(count int) {
	m.UsageRecordsWrittenTotal.Add(float64(count))
}

// RecordUsageDropped records a usage record lost to a full buffer
func (m *Metrics) RecordUsageDropped() {
	m.UsageRecordsDroppedTotal.Inc()
}
