// Package metrics provides Prometheus metrics for the Baselight server.
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
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baselight_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "baselight_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Picker metrics
	pickerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baselight_picker_requests_total",
			Help: "Total directory picker requests by backend and outcome",
		},
		[]string{"backend", "result"},
	)

	// Asset store metrics
	assetBytesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "baselight_asset_bytes_read_total",
			Help: "Total bytes read from the asset sub-store",
		},
	)

	assetBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "baselight_asset_bytes_written_total",
			Help: "Total bytes written to the asset sub-store",
		},
	)

	assetWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baselight_asset_writes_total",
			Help: "Total asset write operations",
		},
		[]string{"status"},
	)

	listingRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "baselight_listing_refresh_duration_seconds",
			Help:    "Time to recompute the asset listing",
			Buckets: prometheus.DefBuckets,
		},
	)

	listingDegradedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baselight_listing_degraded_total",
			Help: "Listings degraded to an empty result, by reason",
		},
		[]string{"reason"},
	)

	// Display reference metrics
	displayRefsLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "baselight_display_refs_live",
			Help: "Number of live display references",
		},
	)

	displayRefsRevokedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "baselight_display_refs_revoked_total",
			Help: "Total display references revoked",
		},
	)

	// Session metrics
	busyRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "baselight_busy_rejections_total",
			Help: "Commands rejected because another operation was in flight",
		},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baselight_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	// Event metrics
	eventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "baselight_events_published_total",
			Help: "Total events published to subscribers",
		},
		[]string{"type"},
	)

	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "baselight_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordPickerRequest records a directory picker outcome.
// Result is one of "ok", "cancelled", "unsupported", "denied", "error".
func RecordPickerRequest(backend, result string) {
	pickerRequestsTotal.WithLabelValues(backend, result).Inc()
}

// RecordAssetRead records bytes read from the asset sub-store.
func RecordAssetRead(bytes int64) {
	assetBytesRead.Add(float64(bytes))
}

// RecordAssetWrite records an asset write operation.
func RecordAssetWrite(bytes int64, success bool) {
	assetBytesWritten.Add(float64(bytes))
	status := "success"
	if !success {
		status = "error"
	}
	assetWritesTotal.WithLabelValues(status).Inc()
}

// RecordListingRefresh records the duration of a full listing recompute.
func RecordListingRefresh(duration time.Duration) {
	listingRefreshDuration.Observe(duration.Seconds())
}

// RecordListingDegraded records a listing that degraded to empty.
// Reason is one of "missing", "read_error".
func RecordListingDegraded(reason string) {
	listingDegradedTotal.WithLabelValues(reason).Inc()
}

// SetDisplayRefsLive sets the number of live display references.
func SetDisplayRefsLive(count int) {
	displayRefsLive.Set(float64(count))
}

// RecordDisplayRefsRevoked records revoked display references.
func RecordDisplayRefsRevoked(count int) {
	displayRefsRevokedTotal.Add(float64(count))
}

// RecordBusyRejection records a command rejected by the busy guard.
func RecordBusyRejection() {
	busyRejectionsTotal.Inc()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordEvent records an event publication.
func RecordEvent(eventType string) {
	eventsPublishedTotal.WithLabelValues(eventType).Inc()
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
