package observability

import (
	"bufio"
	"errors"
	"net"
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
	httpDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	stageDurationBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}
	bodySizeBuckets      = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Task metrics
	TasksSubmittedTotal  *prometheus.CounterVec
	TasksCompletedTotal  *prometheus.CounterVec
	TaskDuration         *prometheus.HistogramVec
	TasksInProgress      prometheus.Gauge
	TaskDuplicatesTotal  prometheus.Counter
	QueueDepth           prometheus.Gauge

	// Stage metrics
	StageExecutionsTotal *prometheus.CounterVec
	StageDuration        *prometheus.HistogramVec
	StageFallbacksTotal  *prometheus.CounterVec

	// Event publishing metrics
	EventsPublishedTotal *prometheus.CounterVec
	EventsDroppedTotal   prometheus.Counter
	PublishQueueLength   prometheus.Gauge

	// Connection metrics
	WSConnectionsActive    prometheus.Gauge
	WSConnectionsTotal     prometheus.Counter
	WSRejectionsTotal      *prometheus.CounterVec
	BroadcastsTotal        *prometheus.CounterVec
	BroadcastDropsTotal    prometheus.Counter
	PollFallbacksActive    prometheus.Gauge

	// LLM metrics
	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillstream_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "skillstream_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "skillstream_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "skillstream_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Tasks
		TasksSubmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillstream_tasks_submitted_total",
			Help: "Total number of tasks submitted.",
		}, []string{"kind"}),
		TasksCompletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillstream_tasks_completed_total",
			Help: "Total number of tasks reaching a terminal status.",
		}, []string{"kind", "status"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "skillstream_task_duration_seconds",
			Help:    "End-to-end task processing duration in seconds.",
			Buckets: stageDurationBuckets,
		}, []string{"kind"}),
		TasksInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "skillstream_tasks_in_progress",
			Help: "Number of tasks currently being processed.",
		}),
		TaskDuplicatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skillstream_task_duplicates_total",
			Help: "Total number of duplicate enqueue attempts rejected.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "skillstream_queue_depth",
			Help: "Number of tasks waiting in the queue.",
		}),

		// Stages
		StageExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillstream_stage_executions_total",
			Help: "Total number of pipeline stage executions.",
		}, []string{"stage", "status"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "skillstream_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds.",
			Buckets: stageDurationBuckets,
		}, []string{"stage"}),
		StageFallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillstream_stage_fallbacks_total",
			Help: "Total number of stage executions that produced fallback output.",
		}, []string{"stage"}),

		// Event publishing
		EventsPublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillstream_events_published_total",
			Help: "Total number of stream events published to the broker.",
		}, []string{"type"}),
		EventsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skillstream_events_dropped_total",
			Help: "Total number of stream events dropped due to a full publish queue.",
		}),
		PublishQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "skillstream_publish_queue_length",
			Help: "Current length of the outbound publish queue.",
		}),

		// Connections
		WSConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "skillstream_ws_connections_active",
			Help: "Number of active WebSocket connections.",
		}),
		WSConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skillstream_ws_connections_total",
			Help: "Total number of accepted WebSocket connections.",
		}),
		WSRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillstream_ws_rejections_total",
			Help: "Total number of WebSocket connections rejected by capacity limits.",
		}, []string{"reason"}),
		BroadcastsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillstream_broadcasts_total",
			Help: "Total number of messages broadcast to subscribers.",
		}, []string{"kind"}),
		BroadcastDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "skillstream_broadcast_drops_total",
			Help: "Total number of broadcast messages dropped for slow subscribers.",
		}),
		PollFallbacksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "skillstream_poll_fallbacks_active",
			Help: "Number of tasks currently served by the polling fallback.",
		}),

		// LLM
		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "skillstream_llm_requests_total",
			Help: "Total number of LLM completion requests.",
		}, []string{"provider", "status"}),
		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "skillstream_llm_request_duration_seconds",
			Help:    "LLM completion request duration in seconds.",
			Buckets: stageDurationBuckets,
		}, []string{"provider"}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Tasks
		m.TasksSubmittedTotal,
		m.TasksCompletedTotal,
		m.TaskDuration,
		m.TasksInProgress,
		m.TaskDuplicatesTotal,
		m.QueueDepth,
		// Stages
		m.StageExecutionsTotal,
		m.StageDuration,
		m.StageFallbacksTotal,
		// Event publishing
		m.EventsPublishedTotal,
		m.EventsDroppedTotal,
		m.PublishQueueLength,
		// Connections
		m.WSConnectionsActive,
		m.WSConnectionsTotal,
		m.WSRejectionsTotal,
		m.BroadcastsTotal,
		m.BroadcastDropsTotal,
		m.PollFallbacksActive,
		// LLM
		m.LLMRequestsTotal,
		m.LLMRequestDuration,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordTaskSubmitted records a task submission.
func (m *Metrics) RecordTaskSubmitted(kind string) {
	m.TasksSubmittedTotal.WithLabelValues(kind).Inc()
}

// RecordTaskStarted records a task entering processing.
func (m *Metrics) RecordTaskStarted() {
	m.TasksInProgress.Inc()
}

// RecordTaskCompleted records a task reaching a terminal status.
func (m *Metrics) RecordTaskCompleted(kind, status string, duration time.Duration) {
	m.TasksCompletedTotal.WithLabelValues(kind, status).Inc()
	m.TaskDuration.WithLabelValues(kind).Observe(duration.Seconds())
	m.TasksInProgress.Dec()
}

// RecordStageExecution records a pipeline stage execution.
func (m *Metrics) RecordStageExecution(stage, status string, duration time.Duration) {
	m.StageExecutionsTotal.WithLabelValues(stage, status).Inc()
	m.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordStageFallback records a stage producing fallback output.
func (m *Metrics) RecordStageFallback(stage string) {
	m.StageFallbacksTotal.WithLabelValues(stage).Inc()
}

// RecordEventPublished records a stream event published to the broker.
func (m *Metrics) RecordEventPublished(eventType string) {
	m.EventsPublishedTotal.WithLabelValues(eventType).Inc()
}

// RecordEventDropped records a stream event dropped by the publish queue.
func (m *Metrics) RecordEventDropped() {
	m.EventsDroppedTotal.Inc()
}

// RecordWSAccepted records an accepted WebSocket connection.
func (m *Metrics) RecordWSAccepted() {
	m.WSConnectionsTotal.Inc()
	m.WSConnectionsActive.Inc()
}

// RecordWSClosed records a closed WebSocket connection.
func (m *Metrics) RecordWSClosed() {
	m.WSConnectionsActive.Dec()
}

// RecordWSRejected records a WebSocket connection rejected by a capacity cap.
func (m *Metrics) RecordWSRejected(reason string) {
	m.WSRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordBroadcast records a message broadcast to task subscribers.
func (m *Metrics) RecordBroadcast(kind string) {
	m.BroadcastsTotal.WithLabelValues(kind).Inc()
}

// RecordBroadcastDrop records a message dropped for a slow subscriber.
func (m *Metrics) RecordBroadcastDrop() {
	m.BroadcastDropsTotal.Inc()
}

// RecordLLMRequest records an LLM completion request.
func (m *Metrics) RecordLLMRequest(provider, status string, duration time.Duration) {
	m.LLMRequestsTotal.WithLabelValues(provider, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

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

// Hijack passes through to the underlying writer so WebSocket upgrades
// work on instrumented routes.
func (w *metricsResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}
