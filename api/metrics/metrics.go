// Package metrics holds the prometheus collectors exported by the gateway.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Cache lookup outcomes.
const (
	CacheHit     = "hit"
	CacheMiss    = "miss"
	CacheExpired = "expired"
	CacheForced  = "forced"
)

var (
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thoth_cache_lookups_total",
			Help: "Total number of request cache lookups by outcome.",
		},
		[]string{"cache", "outcome"},
	)

	DispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thoth_dispatches_total",
			Help: "Total number of jobs scheduled by operation.",
		},
		[]string{"operation"},
	)

	DispatchErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thoth_dispatch_errors_total",
			Help: "Total number of rejected job submissions by operation.",
		},
		[]string{"operation"},
	)

	SingleFlightSharedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thoth_singleflight_shared_total",
			Help: "Total number of requests that joined an identical in-flight dispatch.",
		},
		[]string{"cache"},
	)

	ResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thoth_resolutions_total",
			Help: "Total number of result queries by operation and phase.",
		},
		[]string{"operation", "phase"},
	)

	TrackedJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "thoth_tracked_jobs",
			Help: "Number of dispatched jobs awaiting completion.",
		},
	)

	CacheEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thoth_cache_evictions_total",
			Help: "Total number of cache records dropped because their job failed.",
		},
		[]string{"cache"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thoth_http_requests_total",
			Help: "Total number of HTTP requests by route and status code.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "thoth_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)
)

// Collectors returns every collector of the package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		CacheLookupsTotal,
		DispatchesTotal,
		DispatchErrorsTotal,
		SingleFlightSharedTotal,
		ResolutionsTotal,
		TrackedJobs,
		CacheEvictionsTotal,
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
	}
}

// Register registers all gateway metrics with the given registry.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(Collectors()...)
}

// SchemaCheck reports whether the graph database schema is up to date.
type SchemaCheck func(ctx context.Context) (bool, error)

// SchemaCollector exposes the graph schema state, checked on every scrape.
type SchemaCollector struct {
	check   SchemaCheck
	timeout time.Duration
	logger  *zap.SugaredLogger
	desc    *prometheus.Desc
}

// NewSchemaCollector creates a collector for the user_api_schema_up2date gauge.
func NewSchemaCollector(check SchemaCheck, timeout time.Duration, logger *zap.SugaredLogger) *SchemaCollector {
	return &SchemaCollector{
		check:   check,
		timeout: timeout,
		logger:  logger,
		desc: prometheus.NewDesc(
			"user_api_schema_up2date",
			"Whether the graph database schema matches the one the gateway expects.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *SchemaCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

// Collect implements prometheus.Collector. A failed check reports the schema as outdated.
func (c *SchemaCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	value := 0.0
	upToDate, err := c.check(ctx)
	if err != nil {
		c.logger.Warnf("Failed to check graph database schema: %v", err)
	} else if upToDate {
		value = 1
	}
	ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, value)
}
