package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the panel BFF.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Case API metrics
	CaseAPIRequestsTotal       *prometheus.CounterVec
	CaseAPIRequestDuration     *prometheus.HistogramVec
	CaseAPICircuitBreakerState prometheus.Gauge
	CaseAPIRetriesTotal        *prometheus.CounterVec
	CaseAPISessionExpiredTotal prometheus.Counter

	// Case list metrics
	ListFetchesTotal    *prometheus.CounterVec
	ListFetchDuration   prometheus.Histogram
	ExportsTotal        *prometheus.CounterVec
	ExportRows          *prometheus.HistogramVec
	BulkDeleteItemTotal *prometheus.CounterVec
	UndoTotal           *prometheus.CounterVec

	// Panel sessions
	PanelSessionsActive  prometheus.Gauge
	PanelSessionsEvicted prometheus.Counter

	// Audit journal
	AuditEntriesTotal *prometheus.CounterVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vetdesk_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vetdesk_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vetdesk_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vetdesk_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Case API
		CaseAPIRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vetdesk_case_api_requests_total",
			Help: "Total number of case API requests.",
		}, []string{"operation", "status"}),
		CaseAPIRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vetdesk_case_api_request_duration_seconds",
			Help:    "Case API request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"operation"}),
		CaseAPICircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vetdesk_case_api_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		CaseAPIRetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vetdesk_case_api_retries_total",
			Help: "Total number of case API request retries.",
		}, []string{"operation"}),
		CaseAPISessionExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vetdesk_case_api_session_expired_total",
			Help: "Total number of 401 answers that cleared a session.",
		}),

		// Case list
		ListFetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vetdesk_list_fetches_total",
			Help: "Total number of case list fetches by outcome.",
		}, []string{"outcome"}),
		ListFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vetdesk_list_fetch_duration_seconds",
			Help:    "Case list fetch duration in seconds.",
			Buckets: backendDurationBuckets,
		}),
		ExportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vetdesk_exports_total",
			Help: "Total number of CSV exports.",
		}, []string{"scope", "outcome"}),
		ExportRows: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vetdesk_export_rows",
			Help:    "Number of rows written per CSV export.",
			Buckets: []float64{10, 100, 1000, 10000, 100000},
		}, []string{"scope"}),
		BulkDeleteItemTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vetdesk_bulk_delete_items_total",
			Help: "Total number of cases processed by bulk delete, by outcome.",
		}, []string{"outcome"}),
		UndoTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vetdesk_undo_total",
			Help: "Total number of undo attempts by result.",
		}, []string{"result"}),

		// Panel sessions
		PanelSessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vetdesk_panel_sessions_active",
			Help: "Number of live case list controllers.",
		}),
		PanelSessionsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vetdesk_panel_sessions_evicted_total",
			Help: "Total number of idle panel sessions evicted.",
		}),

		// Audit
		AuditEntriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vetdesk_audit_entries_total",
			Help: "Total number of audit journal entries by action and status.",
		}, []string{"action", "status"}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Case API
		m.CaseAPIRequestsTotal,
		m.CaseAPIRequestDuration,
		m.CaseAPICircuitBreakerState,
		m.CaseAPIRetriesTotal,
		m.CaseAPISessionExpiredTotal,
		// Case list
		m.ListFetchesTotal,
		m.ListFetchDuration,
		m.ExportsTotal,
		m.ExportRows,
		m.BulkDeleteItemTotal,
		m.UndoTotal,
		// Panel
		m.PanelSessionsActive,
		m.PanelSessionsEvicted,
		// Audit
		m.AuditEntriesTotal,
	)

	return m
}

// --- Recording helpers ---
//
// All helpers are safe to call on a nil *Metrics so that packages can be
// used without a registry in tests.

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	if m == nil {
		return
	}
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordCaseAPIRequest records a case API request. Status 0 means the request
// never produced a response.
func (m *Metrics) RecordCaseAPIRequest(operation string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.CaseAPIRequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	m.CaseAPIRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetCaseAPICircuitBreakerState sets the circuit breaker gauge.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetCaseAPICircuitBreakerState(state float64) {
	if m == nil {
		return
	}
	m.CaseAPICircuitBreakerState.Set(state)
}

// RecordCaseAPIRetry records a case API request retry.
func (m *Metrics) RecordCaseAPIRetry(operation string) {
	if m == nil {
		return
	}
	m.CaseAPIRetriesTotal.WithLabelValues(operation).Inc()
}

// RecordSessionExpired records a 401 that cleared a session.
func (m *Metrics) RecordSessionExpired() {
	if m == nil {
		return
	}
	m.CaseAPISessionExpiredTotal.Inc()
}

// RecordListFetch records a list fetch. Outcome is applied, superseded,
// reclamped or failed.
func (m *Metrics) RecordListFetch(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ListFetchesTotal.WithLabelValues(outcome).Inc()
	m.ListFetchDuration.Observe(duration.Seconds())
}

// RecordExport records a CSV export. Scope is page or all.
func (m *Metrics) RecordExport(scope, outcome string, rows int) {
	if m == nil {
		return
	}
	m.ExportsTotal.WithLabelValues(scope, outcome).Inc()
	if outcome == "ok" {
		m.ExportRows.WithLabelValues(scope).Observe(float64(rows))
	}
}

// RecordBulkDelete records bulk delete item outcomes.
func (m *Metrics) RecordBulkDelete(deleted, failed int) {
	if m == nil {
		return
	}
	m.BulkDeleteItemTotal.WithLabelValues("deleted").Add(float64(deleted))
	m.BulkDeleteItemTotal.WithLabelValues("failed").Add(float64(failed))
}

// RecordUndo records an undo attempt.
func (m *Metrics) RecordUndo(result string) {
	if m == nil {
		return
	}
	m.UndoTotal.WithLabelValues(result).Inc()
}

// SetPanelSessionsActive sets the number of live controllers.
func (m *Metrics) SetPanelSessionsActive(n int) {
	if m == nil {
		return
	}
	m.PanelSessionsActive.Set(float64(n))
}

// RecordPanelSessionsEvicted records idle session evictions.
func (m *Metrics) RecordPanelSessionsEvicted(n int) {
	if m == nil {
		return
	}
	m.PanelSessionsEvicted.Add(float64(n))
}

// RecordAuditEntry records an audit journal write.
func (m *Metrics) RecordAuditEntry(action, status string) {
	if m == nil {
		return
	}
	m.AuditEntriesTotal.WithLabelValues(action, status).Inc()
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		r = withRouteContext(r)
		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// withRouteContext installs an empty chi route context unless one is
// present. The router fills in the one it finds, which lets middleware
// mounted outside the router read the matched pattern afterwards.
func withRouteContext(r *http.Request) *http.Request {
	if chi.RouteContext(r.Context()) != nil {
		return r
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, chi.NewRouteContext()))
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
