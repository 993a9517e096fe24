package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestTotal counts HTTP requests by method and path prefix.
	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthstar_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	// RequestDuration is the latency of HTTP requests.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "healthstar_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	// QueryTotal counts canonical query runs per backend.
	QueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthstar_queries_total",
			Help: "Total number of canonical query runs",
		},
		[]string{"backend", "query", "status"},
	)
	// QueryDuration is the latency of canonical query runs.
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "healthstar_query_duration_seconds",
			Help:    "Canonical query latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"backend", "query"},
	)
	// CompareMismatches counts queries whose results differed between backends.
	CompareMismatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthstar_compare_mismatches_total",
			Help: "Total number of queries that disagreed across backends",
		},
		[]string{"left", "right", "query"},
	)
	// RefreshTotal counts snapshot refreshes by outcome.
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthstar_refreshes_total",
			Help: "Total number of snapshot refreshes",
		},
		[]string{"status"},
	)
	// RefreshDuration is the time to build and publish a snapshot.
	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "healthstar_refresh_duration_seconds",
			Help:    "Snapshot refresh latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
	// AuthFailures counts rejected API key checks by reason.
	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healthstar_auth_failures_total",
			Help: "Total number of rejected API key checks",
		},
		[]string{"reason"},
	)
	// SnapshotRows is the row count of each table in the published snapshot.
	SnapshotRows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "healthstar_snapshot_rows",
			Help: "Rows per table in the current snapshot",
		},
		[]string{"table"},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveQuery records one query run.
func ObserveQuery(backend, query string, start time.Time, err error) {
	QueryTotal.WithLabelValues(backend, query, status(err)).Inc()
	QueryDuration.WithLabelValues(backend, query).Observe(time.Since(start).Seconds())
}

// ObserveRefresh records one refresh attempt.
func ObserveRefresh(start time.Time, err error) {
	RefreshTotal.WithLabelValues(status(err)).Inc()
	RefreshDuration.Observe(time.Since(start).Seconds())
}

// SetSnapshotRows publishes per-table row counts.
func SetSnapshotRows(counts map[string]int) {
	for table, n := range counts {
		SnapshotRows.WithLabelValues(table).Set(float64(n))
	}
}
