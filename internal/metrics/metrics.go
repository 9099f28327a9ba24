// Package metrics provides Prometheus metrics for the Dropbox client.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// API request metrics
	apiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropbox_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	apiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dropbox_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Content transfer metrics
	bytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dropbox_bytes_downloaded_total",
			Help: "Total bytes downloaded from the content host",
		},
	)

	bytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dropbox_bytes_uploaded_total",
			Help: "Total bytes uploaded to the content host",
		},
	)

	// Auth metrics
	authTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropbox_auth_attempts_total",
			Help: "Access token exchanges",
		},
		[]string{"result"},
	)

	// Memoization metrics
	memoLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropbox_memo_lookups_total",
			Help: "Memoized operation lookups",
		},
		[]string{"operation", "result"},
	)

	memoEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dropbox_memo_entries",
			Help: "Entries held by the in-memory memo store",
		},
	)

	// Pingback metrics
	pingbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropbox_pingbacks_total",
			Help: "Pingback deliveries received",
		},
		[]string{"result"},
	)

	pingbackSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dropbox_pingback_subscribers",
			Help: "Active pingback subscribers",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAPIRequest records one API round trip.
func RecordAPIRequest(method, endpoint string, status int, duration time.Duration) {
	apiRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	apiRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordDownload adds to the downloaded byte counter.
func RecordDownload(bytes int64) {
	bytesDownloaded.Add(float64(bytes))
}

// RecordUpload adds to the uploaded byte counter.
func RecordUpload(bytes int64) {
	bytesUploaded.Add(float64(bytes))
}

// RecordAuthorize records an access token exchange.
func RecordAuthorize(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authTransitionsTotal.WithLabelValues(result).Inc()
}

// RecordMemoLookup records a memo cache hit or miss.
func RecordMemoLookup(operation string, hit bool) {
	result := "hit"
	if !hit {
		result = "miss"
	}
	memoLookupsTotal.WithLabelValues(operation, result).Inc()
}

// SetMemoEntries sets the memo store size.
func SetMemoEntries(n int) {
	memoEntries.Set(float64(n))
}

// RecordPingback records a pingback delivery.
func RecordPingback(success bool) {
	result := "accepted"
	if !success {
		result = "rejected"
	}
	pingbacksTotal.WithLabelValues(result).Inc()
}

// SetPingbackSubscribers sets the number of active pingback subscribers.
func SetPingbackSubscribers(n int) {
	pingbackSubscribers.Set(float64(n))
}
