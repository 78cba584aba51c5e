// Package metrics exposes Prometheus collectors for sync runs and the dashboard API.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sync results
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

var (
	// SyncRunsTotal counts sync attempts per source and result.
	SyncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blogdash_sync_runs_total",
		Help: "Total number of sync runs by source and result",
	}, []string{"source", "result"})

	// SyncDuration measures how long a source sync takes.
	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "blogdash_sync_duration_seconds",
		Help:    "Sync duration in seconds by source",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"source"})

	// SyncLastSuccess is the unix time of the last successful sync of a source.
	SyncLastSuccess = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "blogdash_sync_last_success_timestamp_seconds",
		Help: "Unix time of the last successful sync by source",
	}, []string{"source"})

	// MonthsCreatedTotal counts month rows created by backfill.
	MonthsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blogdash_months_created_total",
		Help: "Total number of month rows created by backfill",
	})

	// HTTPRequestsTotal counts dashboard requests by route pattern and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blogdash_http_requests_total",
		Help: "Total number of HTTP requests by route and status",
	}, []string{"route", "code"})

	// HTTPRequestDuration measures dashboard request latency by route pattern.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "blogdash_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// RecordSync records the outcome of one source sync
func RecordSync(source string, started time.Time, duration time.Duration, err error) {
	SyncDuration.WithLabelValues(source).Observe(duration.Seconds())
	if err != nil {
		SyncRunsTotal.WithLabelValues(source, ResultFailure).Inc()
		return
	}
	SyncRunsTotal.WithLabelValues(source, ResultSuccess).Inc()
	SyncLastSuccess.WithLabelValues(source).Set(float64(started.Unix()))
}

// RecordSkipped records a source left alone because its data is fresh
func RecordSkipped(source string) {
	SyncRunsTotal.WithLabelValues(source, ResultSkipped).Inc()
}

// RecordRequest records a served HTTP request
func RecordRequest(route string, code int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}
