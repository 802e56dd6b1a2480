// Package metrics provides Prometheus metrics for the media server.
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
			Name: "mediafs_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediafs_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Upload metrics
	uploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediafs_upload_bytes_total",
			Help: "Total bytes written to the object store by uploads",
		},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediafs_uploads_total",
			Help: "Total number of uploaded files",
		},
		[]string{"status"},
	)

	// Optimization metrics
	optimizationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediafs_optimizations_total",
			Help: "Image optimizations by preset and outcome",
		},
		[]string{"preset", "outcome"},
	)

	optimizationSavedBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediafs_optimization_saved_bytes_total",
			Help: "Bytes saved by image optimization",
		},
		[]string{"preset"},
	)

	optimizationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediafs_optimization_duration_seconds",
			Help:    "Time spent optimizing a single image",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"preset"},
	)

	// Batch metrics
	batchItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediafs_batch_items_total",
			Help: "Items processed by batch operations",
		},
		[]string{"operation", "status"},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mediafs_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediafs_sse_events_total",
			Help: "Total SSE events published",
		},
		[]string{"type"},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediafs_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	// Object store metrics
	storeOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediafs_store_operation_duration_seconds",
			Help:    "Object store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	storeOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediafs_store_operations_total",
			Help: "Total object store operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// Rate limiting
	rateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mediafs_rate_limit_hits_total",
			Help: "Total rate limit rejections (429s)",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordUpload records a single stored upload.
func RecordUpload(bytes int64, success bool) {
	if success {
		uploadBytesTotal.Add(float64(bytes))
	}
	uploadsTotal.WithLabelValues(statusLabel(success)).Inc()
}

// RecordOptimization records the outcome of optimizing one image.
// outcome is one of "optimized", "unchanged", "fallback".
func RecordOptimization(preset, outcome string, originalSize, optimizedSize int64, duration time.Duration) {
	optimizationsTotal.WithLabelValues(preset, outcome).Inc()
	optimizationDuration.WithLabelValues(preset).Observe(duration.Seconds())
	if saved := originalSize - optimizedSize; saved > 0 {
		optimizationSavedBytes.WithLabelValues(preset).Add(float64(saved))
	}
}

// RecordBatch records per-item outcomes of a batch operation.
func RecordBatch(operation string, succeeded, failed int) {
	batchItemsTotal.WithLabelValues(operation, "success").Add(float64(succeeded))
	batchItemsTotal.WithLabelValues(operation, "error").Add(float64(failed))
}

// RecordStoreOperation records an object store operation.
func RecordStoreOperation(backend, operation string, duration time.Duration, success bool) {
	storeOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	storeOperationsTotal.WithLabelValues(backend, operation, statusLabel(success)).Inc()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordRateLimitHit records a rate limit rejection.
func RecordRateLimitHit() {
	rateLimitHitsTotal.Inc()
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records an SSE event publication.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
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
// The route pattern is used as the path label to keep cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}
