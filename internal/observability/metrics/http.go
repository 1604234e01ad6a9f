package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "vrmforge"

	subsystemHTTP     = "http"
	subsystemPipeline = "pipeline"
)

// HTTPServerMetrics holds the API server metric families on a private
// registry so tests can instantiate them without collisions.
type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	conversionTotal *prometheus.CounterVec
	stageTotal      *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	uploadBytes     *prometheus.HistogramVec
	downloadTotal   *prometheus.CounterVec
	cleanupRemoved  *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	m := &HTTPServerMetrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemHTTP,
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		}, []string{"service", "method", "path", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemHTTP,
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "method", "path"}),
		requestInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystemHTTP,
			Name:        "requests_in_flight",
			Help:        "HTTP requests currently being served.",
			ConstLabels: prometheus.Labels{"service": service},
		}),
		conversionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemPipeline,
			Name:      "conversions_total",
			Help:      "Conversion jobs by submission mode and final status.",
		}, []string{"service", "mode", "status"}),
		stageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemPipeline,
			Name:      "stages_total",
			Help:      "Pipeline stage executions by outcome.",
		}, []string{"service", "stage", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemPipeline,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage wall time.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"service", "stage", "outcome"}),
		uploadBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemHTTP,
			Name:      "upload_bytes",
			Help:      "Size of uploaded model files.",
			Buckets:   prometheus.ExponentialBuckets(64*1024, 4, 8),
		}, []string{"service"}),
		downloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemHTTP,
			Name:      "downloads_total",
			Help:      "Avatar download attempts by status.",
		}, []string{"service", "status"}),
		cleanupRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemHTTP,
			Name:      "cleanup_removed_total",
			Help:      "Artifacts removed through the cleanup endpoint.",
		}, []string{"service"}),
	}

	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.requestInFlight,
		m.conversionTotal,
		m.stageTotal,
		m.stageDuration,
		m.uploadBytes,
		m.downloadTotal,
		m.cleanupRemoved,
	)

	return m
}

// Handler exposes the registry for the /metrics endpoint.
func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) RecordConversion(service, mode, status string) {
	m.conversionTotal.WithLabelValues(service, mode, status).Inc()
}

func (m *HTTPServerMetrics) RecordStage(service, stage, outcome string, duration time.Duration) {
	m.stageTotal.WithLabelValues(service, stage, outcome).Inc()
	m.stageDuration.WithLabelValues(service, stage, outcome).Observe(duration.Seconds())
}

func (m *HTTPServerMetrics) RecordUpload(service string, bytes int64) {
	if bytes < 0 {
		return
	}
	m.uploadBytes.WithLabelValues(service).Observe(float64(bytes))
}

func (m *HTTPServerMetrics) RecordDownload(service, status string) {
	m.downloadTotal.WithLabelValues(service, status).Inc()
}

func (m *HTTPServerMetrics) RecordCleanup(service string, removed int) {
	if removed <= 0 {
		return
	}
	m.cleanupRemoved.WithLabelValues(service).Add(float64(removed))
}

// Middleware instruments an http.Handler with request count, latency and
// in-flight gauges.
func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)

		path := normalizePath(r.URL.Path)
		m.requestTotal.WithLabelValues(service, r.Method, path, strconv.Itoa(recorder.statusCode)).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath collapses per-resource paths into route templates so the
// label cardinality stays bounded.
func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/download-vrm/"):
		return "/download-vrm/{filename}"
	case strings.HasPrefix(path, "/cleanup/"):
		return "/cleanup/{filename}"
	case strings.HasPrefix(path, "/jobs/"):
		return "/jobs/{job_id}"
	default:
		return path
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not support hijacking")
}

func (r *statusRecorder) Push(target string, opts *http.PushOptions) error {
	if p, ok := r.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}
