// Package metrics exposes Prometheus metrics for request admission.
//
// Counters are package-level and registered with the default registry through
// promauto. The per-limiter entry gauge is computed on scrape by RegistryCollector,
// which the server registers next to the default collectors:
//
//	reg, _ := admitkit.NewRegistry(admitkit.RegistryWithObserver(metrics.RecordDecision))
//	prometheus.MustRegister(metrics.NewRegistryCollector(reg))
//	r.Handle("/metrics", promhttp.Handler())
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nhalm/admitkit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RateLimitDecisionsTotal counts limiter decisions by limiter and outcome
	// (allowed, rejected, error).
	RateLimitDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admitkit_ratelimit_decisions_total",
			Help: "Total number of rate limiter decisions",
		},
		[]string{"limiter", "outcome"},
	)

	// APIRequestsTotal counts HTTP requests by method, route pattern and status.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admitkit_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// APIRequestDuration tracks request latency by method and route pattern.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "admitkit_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordDecision records one limiter decision. Its signature matches
// admitkit.DecisionObserver.
func RecordDecision(limiter, outcome string) {
	RateLimitDecisionsTotal.WithLabelValues(limiter, outcome).Inc()
}

// RecordAPIRequest records an HTTP request metric.
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Middleware records RecordAPIRequest for every request. Routes are labelled by
// chi route pattern so path parameters do not explode cardinality; unmatched
// requests use "unmatched".
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RecordAPIRequest(r.Method, route, status, time.Since(start))
	})
}

var entriesDesc = prometheus.NewDesc(
	"admitkit_ratelimit_entries",
	"Number of client identifiers tracked by each rate limiter",
	[]string{"limiter"},
	nil,
)

// statsSource is the part of admitkit.Registry the collector reads.
type statsSource interface {
	Stats(ctx context.Context) (admitkit.RegistryStats, error)
}

// RegistryCollector reports the entry count of every limiter in a Registry at
// scrape time.
type RegistryCollector struct {
	source  statsSource
	timeout time.Duration
}

// NewRegistryCollector returns a collector for reg.
func NewRegistryCollector(reg *admitkit.Registry) *RegistryCollector {
	return &RegistryCollector{source: reg, timeout: 2 * time.Second}
}

// Describe implements prometheus.Collector.
func (c *RegistryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- entriesDesc
}

// Collect implements prometheus.Collector.
func (c *RegistryCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	stats, err := c.source.Stats(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(entriesDesc, err)
		return
	}

	for _, s := range []struct {
		name  string
		stats admitkit.LimiterStats
	}{
		{admitkit.LimiterAPI, stats.API},
		{admitkit.LimiterEmail, stats.Email},
		{admitkit.LimiterVisitor, stats.Visitor},
	} {
		ch <- prometheus.MustNewConstMetric(entriesDesc, prometheus.GaugeValue, float64(s.stats.TotalEntries), s.name)
	}
}
