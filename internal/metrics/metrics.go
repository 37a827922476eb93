// Package metrics exposes Prometheus collectors for the crawl and warehouse stages.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Page outcomes recorded by ObservePage.
const (
	PageOK    = "ok"
	PageEmpty = "empty"
	PageLoop  = "loop"
	PageError = "error"
)

var (
	crawlerPagesTotal          *prometheus.CounterVec
	crawlerFetchSeconds        *prometheus.HistogramVec
	crawlerRecordsSavedTotal   *prometheus.CounterVec
	crawlerSegmentsTotal       *prometheus.CounterVec
	crawlerSessionsTotal       *prometheus.CounterVec
	rateLimitWaitSeconds       *prometheus.HistogramVec
	fetchRetriesTotal          *prometheus.CounterVec
	warehouseRowsTotal         *prometheus.CounterVec
	warehouseDecodeErrorsTotal *prometheus.CounterVec
	warehouseKeysCreatedTotal  *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_pages_total",
				Help: "Listing pages fetched, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		crawlerFetchSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_fetch_duration_seconds",
				Help:    "Histogram of listing page fetch latencies.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"source"},
		)

		crawlerRecordsSavedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_records_saved_total",
				Help: "Product records written to the raw layer.",
			},
			[]string{"source"},
		)

		crawlerSegmentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_segments_total",
				Help: "Catalog segments processed, labeled by status.",
			},
			[]string{"source", "status"},
		)

		crawlerSessionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_sessions_total",
				Help: "Crawl sessions finished, labeled by status.",
			},
			[]string{"source", "status"},
		)

		rateLimitWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_rate_limit_wait_seconds",
				Help:    "Time spent waiting for a fetch token, labeled by host.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"host"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_fetch_retries_total",
				Help: "Page fetches retried after a page-level failure.",
			},
			[]string{"host"},
		)

		warehouseRowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warehouse_rows_total",
				Help: "Rows written by the transform and build stages.",
			},
			[]string{"source", "stage"},
		)

		warehouseDecodeErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warehouse_decode_failures_total",
				Help: "Raw fields that failed to decode and were replaced by empty values.",
			},
			[]string{"source", "field"},
		)

		warehouseKeysCreatedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warehouse_dimension_keys_created_total",
				Help: "Surrogate keys created, labeled by dimension.",
			},
			[]string{"source", "dimension"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage records one listing page fetch.
func ObservePage(source, outcome string, duration time.Duration) {
	Init()
	crawlerPagesTotal.WithLabelValues(source, outcome).Inc()
	if duration > 0 {
		crawlerFetchSeconds.WithLabelValues(source).Observe(duration.Seconds())
	}
}

// ObserveRecordsSaved adds n raw records for source.
func ObserveRecordsSaved(source string, n int) {
	Init()
	if n > 0 {
		crawlerRecordsSavedTotal.WithLabelValues(source).Add(float64(n))
	}
}

// ObserveSegment increments the segment counter for the given status.
func ObserveSegment(source, status string) {
	Init()
	crawlerSegmentsTotal.WithLabelValues(source, status).Inc()
}

// ObserveSession increments the session counter for the given status.
func ObserveSession(source, status string) {
	Init()
	crawlerSessionsTotal.WithLabelValues(source, status).Inc()
}

// ObserveRateLimitWait records a fetch token wait for host.
func ObserveRateLimitWait(host string, wait time.Duration) {
	Init()
	rateLimitWaitSeconds.WithLabelValues(host).Observe(wait.Seconds())
}

// ObserveFetchRetry increments the retry counter for host.
func ObserveFetchRetry(host string) {
	Init()
	fetchRetriesTotal.WithLabelValues(host).Inc()
}

// ObserveRows adds n rows written by stage.
func ObserveRows(source, stage string, n int) {
	Init()
	if n > 0 {
		warehouseRowsTotal.WithLabelValues(source, stage).Add(float64(n))
	}
}

// ObserveDecodeFailure increments the decode failure counter for field.
func ObserveDecodeFailure(source, field string) {
	Init()
	warehouseDecodeErrorsTotal.WithLabelValues(source, field).Inc()
}

// ObserveKeyCreated increments the surrogate key counter for dimension.
func ObserveKeyCreated(source, dimension string) {
	Init()
	warehouseKeysCreatedTotal.WithLabelValues(source, dimension).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
