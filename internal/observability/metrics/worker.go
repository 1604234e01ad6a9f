package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const subsystemWorker = "worker"

// WorkerMetrics holds the queue worker metric families on a private
// registry, exposed on the worker's own metrics port.
type WorkerMetrics struct {
	registry *prometheus.Registry

	jobTotal      *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobInFlight   prometheus.Gauge
	queueLag      *prometheus.HistogramVec
	stageTotal    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	m := &WorkerMetrics{
		registry: registry,
		jobTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemWorker,
			Name:      "jobs_total",
			Help:      "Conversion jobs processed by final status.",
		}, []string{"service", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemWorker,
			Name:      "job_duration_seconds",
			Help:      "End-to-end conversion time per job.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"service", "status"}),
		jobInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystemWorker,
			Name:        "jobs_in_flight",
			Help:        "Conversion jobs currently being processed.",
			ConstLabels: prometheus.Labels{"service": service},
		}),
		queueLag: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemWorker,
			Name:      "queue_lag_seconds",
			Help:      "Delay between job submission and pickup.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"service"}),
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
	}

	registry.MustRegister(
		m.jobTotal,
		m.jobDuration,
		m.jobInFlight,
		m.queueLag,
		m.stageTotal,
		m.stageDuration,
	)

	return m
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartJob marks a job as in flight. The returned function records the
// final status and duration when the job finishes.
func (m *WorkerMetrics) StartJob(service string) func(status string) {
	start := time.Now()
	m.jobInFlight.Inc()
	return func(status string) {
		m.jobInFlight.Dec()
		m.jobTotal.WithLabelValues(service, status).Inc()
		m.jobDuration.WithLabelValues(service, status).Observe(time.Since(start).Seconds())
	}
}

func (m *WorkerMetrics) ObserveQueueLag(service string, lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) RecordStage(service, stage, outcome string, duration time.Duration) {
	m.stageTotal.WithLabelValues(service, stage, outcome).Inc()
	m.stageDuration.WithLabelValues(service, stage, outcome).Observe(duration.Seconds())
}
