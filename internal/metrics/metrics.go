// Package metrics provides Prometheus metrics for the Atelier server.
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
			Name: "atelier_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atelier_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Tree store metrics
	treeOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_tree_ops_total",
			Help: "Total number of tree store operations",
		},
		[]string{"op", "status"},
	)

	nodesDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "atelier_nodes_deleted_total",
			Help: "Total number of node records removed by cascading deletes",
		},
	)

	// Blob transfer metrics
	blobBytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "atelier_blob_bytes_downloaded_total",
			Help: "Total bytes downloaded from the blob endpoint",
		},
	)

	blobBytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "atelier_blob_bytes_uploaded_total",
			Help: "Total bytes uploaded to the blob endpoint",
		},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"success"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atelier_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "atelier_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "atelier_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_sse_events_total",
			Help: "Total number of SSE events published",
		},
		[]string{"type"},
	)

	// Workspace session metrics
	workspaceSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "atelier_workspace_sessions_active",
			Help: "Number of live editor tab sessions",
		},
	)

	// Storage backend metrics
	storageOperations = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atelier_storage_operation_duration_seconds",
			Help:    "Blob storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "success"},
	)

	// Rate limiting
	rateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "atelier_rate_limit_hits_total",
			Help: "Total number of rate-limited requests",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordTreeOp records the outcome of a tree store operation.
func RecordTreeOp(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	treeOpsTotal.WithLabelValues(op, status).Inc()
}

// RecordNodesDeleted records node records removed by a cascading delete.
func RecordNodesDeleted(count int) {
	nodesDeletedTotal.Add(float64(count))
}

// RecordBlobDownload records bytes served from the blob endpoint.
func RecordBlobDownload(bytes int64) {
	blobBytesDownloaded.Add(float64(bytes))
}

// RecordBlobUpload records bytes accepted by the blob endpoint.
func RecordBlobUpload(bytes int64) {
	blobBytesUploaded.Add(float64(bytes))
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	authAttemptsTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the open database connection count.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

// SetSSEConnectionsActive sets the active SSE connection count.
func SetSSEConnectionsActive(count int64) {
	sseConnectionsActive.Set(float64(count))
}

// RecordSSEEvent records a published SSE event.
func RecordSSEEvent(eventType string) {
	sseEventsTotal.WithLabelValues(eventType).Inc()
}

// SetWorkspaceSessions sets the live tab session count.
func SetWorkspaceSessions(count int) {
	workspaceSessionsActive.Set(float64(count))
}

// RecordStorageOperation records a blob storage backend operation.
func RecordStorageOperation(operation string, duration time.Duration, success bool) {
	storageOperations.WithLabelValues(operation, strconv.FormatBool(success)).Observe(duration.Seconds())
}

// RecordRateLimitHit records a rate-limited request.
func RecordRateLimitHit() {
	rateLimitHitsTotal.Inc()
}

// responseWriter captures the status code for metrics.
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
