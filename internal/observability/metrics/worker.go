package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
)

// WorkerMetrics covers job handling and the AI pipeline. It satisfies
// ports.PipelineObserver.
type WorkerMetrics struct {
	service  string
	registry *prometheus.Registry

	jobTotal          *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	jobInFlight       prometheus.Gauge
	documentTotal     *prometheus.CounterVec
	documentDuration  *prometheus.HistogramVec
	stepTotal         *prometheus.CounterVec
	stepDuration      *prometheus.HistogramVec
	providerAvailable *prometheus.GaugeVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	jobTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Total handled queue jobs by kind and status.",
		},
		[]string{"service", "kind", "status"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Queue job duration in seconds by kind.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"service", "kind"},
	)
	jobInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "jobs_in_flight",
			Help:      "Number of in-flight queue jobs.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	documentTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "documents_total",
			Help:      "Documents leaving the pipeline by final status.",
		},
		[]string{"service", "status"},
	)
	documentDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "document_duration_seconds",
			Help:      "Wall-clock pipeline time per document.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"service", "status"},
	)
	stepTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "provider_calls_total",
			Help:      "Provider attempts per pipeline step and outcome.",
		},
		[]string{"service", "task", "provider", "outcome"},
	)
	stepDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "provider_call_duration_seconds",
			Help:      "Provider call duration per pipeline step.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "task", "provider"},
	)
	providerAvailable := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "provider_available",
			Help:      "1 when the provider is selectable, 0 while switched off for quota.",
		},
		[]string{"service", "provider"},
	)

	registry.MustRegister(jobTotal, jobDuration, jobInFlight, documentTotal, documentDuration, stepTotal, stepDuration, providerAvailable)

	return &WorkerMetrics{
		service:           service,
		registry:          registry,
		jobTotal:          jobTotal,
		jobDuration:       jobDuration,
		jobInFlight:       jobInFlight,
		documentTotal:     documentTotal,
		documentDuration:  documentDuration,
		stepTotal:         stepTotal,
		stepDuration:      stepDuration,
		providerAvailable: providerAvailable,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartJob() {
	m.jobInFlight.Inc()
}

func (m *WorkerMetrics) FinishJob(kind domain.JobKind, duration time.Duration, err error) {
	m.jobInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.jobTotal.WithLabelValues(m.service, string(kind), status).Inc()
	m.jobDuration.WithLabelValues(m.service, string(kind)).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveStep(task domain.AITask, provider domain.Provider, success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.stepTotal.WithLabelValues(m.service, string(task), string(provider), outcome).Inc()
	m.stepDuration.WithLabelValues(m.service, string(task), string(provider)).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveDocument(status domain.DocumentStatus, duration time.Duration) {
	m.documentTotal.WithLabelValues(m.service, string(status)).Inc()
	m.documentDuration.WithLabelValues(m.service, string(status)).Observe(duration.Seconds())
}

// SetProviderAvailable matches the quota manager observer signature.
func (m *WorkerMetrics) SetProviderAvailable(provider domain.Provider, available bool) {
	value := 0.0
	if available {
		value = 1
	}
	m.providerAvailable.WithLabelValues(m.service, string(provider)).Set(value)
}
